package sink

import (
	"sync"

	"github.com/alanbriolat/playlist-archiver"
)

const DefaultAsyncBufSize = 256

// Async hands events to another Sink on a separate goroutine, so a slow renderer only holds up the emitter once the
// buffer is full. Events are never dropped; after Close they are delivered synchronously.
type Async struct {
	inner  playlist_archiver.Sink
	mu     sync.RWMutex
	ch     chan playlist_archiver.Event
	done   chan struct{}
	closed bool
}

func NewAsync(inner playlist_archiver.Sink, bufSize int) *Async {
	if bufSize < 1 {
		bufSize = DefaultAsyncBufSize
	}
	a := &Async{
		inner: inner,
		ch:    make(chan playlist_archiver.Event, bufSize),
		done:  make(chan struct{}),
	}
	go func() {
		defer close(a.done)
		for e := range a.ch {
			a.inner.Emit(e)
		}
	}()
	return a
}

func (a *Async) Emit(e playlist_archiver.Event) {
	// Hold the read lock across the send so Close can't close the channel underneath us
	a.mu.RLock()
	if a.closed {
		a.mu.RUnlock()
		<-a.done
		a.inner.Emit(e)
		return
	}
	a.ch <- e
	a.mu.RUnlock()
}

// Close idempotently stops the goroutine after delivering everything already emitted.
func (a *Async) Close() {
	a.mu.Lock()
	if !a.closed {
		a.closed = true
		close(a.ch)
	}
	a.mu.Unlock()
	<-a.done
}
