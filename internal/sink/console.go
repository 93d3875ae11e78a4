// Package sink holds the Sink implementations used by the command line tools.
package sink

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/schollz/progressbar/v3"
	"go.uber.org/zap"

	"github.com/alanbriolat/playlist-archiver"
)

// Console draws a progress bar for the current item and sends log lines to a zap logger.
type Console struct {
	mu      sync.Mutex
	w       io.Writer
	log     *zap.SugaredLogger
	bar     *progressbar.ProgressBar
	barMax  int64
	current playlist_archiver.ItemStarted
}

func NewConsole(w io.Writer, logger *zap.SugaredLogger) *Console {
	if logger == nil {
		logger = zap.S()
	}
	return &Console{w: w, log: logger}
}

func (c *Console) Emit(e playlist_archiver.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch e := e.(type) {
	case playlist_archiver.ItemStarted:
		c.endBar(false)
		c.current = e
	case playlist_archiver.ProgressEvent:
		c.progress(e)
	case playlist_archiver.ItemFinished:
		c.endBar(e.Outcome.IsSuccess())
	case playlist_archiver.LogLine:
		if c.bar != nil {
			_ = c.bar.Clear()
		}
		c.logLine(e)
	}
}

func (c *Console) progress(e playlist_archiver.ProgressEvent) {
	if c.bar == nil {
		c.bar = progressbar.NewOptions64(e.TotalBytes,
			progressbar.OptionSetWriter(c.w),
			progressbar.OptionSetDescription(c.description()),
			progressbar.OptionShowBytes(true),
			progressbar.OptionSetWidth(40),
			progressbar.OptionThrottle(65*time.Millisecond),
			progressbar.OptionShowCount(),
			progressbar.OptionSpinnerType(14),
		)
		c.barMax = e.TotalBytes
	}
	if c.barMax != e.TotalBytes {
		c.bar.ChangeMax64(e.TotalBytes)
		c.barMax = e.TotalBytes
	}
	_ = c.bar.Set64(e.DownloadedBytes)
}

func (c *Console) description() string {
	if c.current.Total == 0 {
		return "downloading"
	}
	return fmt.Sprintf("[%d/%d] %s", c.current.Index, c.current.Total, c.current.Request.Title)
}

func (c *Console) endBar(success bool) {
	if c.bar == nil {
		return
	}
	if success {
		_ = c.bar.Finish()
		_, _ = fmt.Fprintln(c.w)
	} else {
		_ = c.bar.Clear()
	}
	c.bar = nil
}

func (c *Console) logLine(l playlist_archiver.LogLine) {
	switch l.Severity {
	case playlist_archiver.SeverityWarning:
		c.log.Warn(l.Text)
	case playlist_archiver.SeverityError:
		c.log.Error(l.Text)
	case playlist_archiver.SeveritySuccess:
		c.log.Infow(l.Text, "status", "success")
	default:
		c.log.Info(l.Text)
	}
}
