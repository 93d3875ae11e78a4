package sync

import (
	"sync"
	"sync/atomic"
)

// Event is an asynchronous boolean flag that goroutines can poll or wait on. IsSet is a single atomic load, so it is
// cheap enough to check between work items; it is the stop flag a batch is given.
type Event struct {
	mu    sync.Mutex
	ch    chan struct{}
	value atomic.Bool
}

func NewEvent() *Event {
	return &Event{}
}

// IsSet returns the current state of the Event.
func (e *Event) IsSet() bool {
	return e.value.Load()
}

// Set ensures the Event is true (idempotent), notifying any waiters. Returns true if the state was changed.
func (e *Event) Set() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.value.Load() {
		return false
	}
	e.value.Store(true)
	close(e.channel())
	return true
}

// Clear ensures the Event is false (idempotent). Returns true if the state was changed.
func (e *Event) Clear() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.value.Load() {
		return false
	}
	e.value.Store(false)
	e.ch = nil
	return true
}

// Wait returns a channel that will close when the Event is true (which may be immediately).
func (e *Event) Wait() <-chan struct{} {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.channel()
}

// channel must be called with mu held.
func (e *Event) channel() chan struct{} {
	if e.ch == nil {
		e.ch = make(chan struct{})
	}
	return e.ch
}
