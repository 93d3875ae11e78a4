package sink

import "github.com/alanbriolat/playlist-archiver"

// Tee sends every event to each of its sinks in order.
type Tee []playlist_archiver.Sink

func (t Tee) Emit(e playlist_archiver.Event) {
	for _, s := range t {
		if s != nil {
			s.Emit(e)
		}
	}
}
