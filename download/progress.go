package download

import (
	"github.com/alanbriolat/playlist-archiver"
)

type progress struct {
	sink       playlist_archiver.Sink
	total      int64
	known      bool
	downloaded int64
	percent    float64
}

// add records another chunk and emits a progress event; percent never decreases and stays below 100.
func (p *progress) add(n int64) {
	p.downloaded += n
	percent := float64(p.downloaded) / float64(p.total) * 100
	if percent > maxStreamingPercent {
		percent = maxStreamingPercent
	}
	if percent > p.percent {
		p.percent = percent
	}
	p.emit()
}

// complete reports 100%, only called once the download is verified.
func (p *progress) complete() {
	p.percent = 100
	if !p.known {
		p.total = p.downloaded
		p.known = true
	}
	p.emit()
}

func (p *progress) emit() {
	p.sink.Emit(playlist_archiver.ProgressEvent{
		DownloadedBytes: p.downloaded,
		TotalBytes:      p.total,
		TotalKnown:      p.known,
		Percent:         p.percent,
	})
}
