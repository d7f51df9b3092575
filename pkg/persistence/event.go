package persistence

import (
	"context"
	"sync"
)

// event is a manual reset event. Waiters block until Set, Reset re-arms it.
type event struct {
	mu  *sync.Mutex
	ch  chan struct{}
	set bool
}

func newEvent() *event {
	return &event{
		mu: &sync.Mutex{},
		ch: make(chan struct{}),
	}
}

func (e *event) Set() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.set {
		e.set = true
		close(e.ch)
	}
}

func (e *event) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.set {
		e.set = false
		e.ch = make(chan struct{})
	}
}

func (e *event) IsSet() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.set
}

// Done returns a channel that is closed once the event is set.
func (e *event) Done() <-chan struct{} {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ch
}

func (e *event) Wait(ctx context.Context) error {
	select {
	case <-e.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
