package engine

import (
	"context"
	"errors"
	"reflect"
	"sync"
)

// MaxWaitHandles bounds the handle set of a single Wait, matching the
// engine's own wait limit.
const MaxWaitHandles = 32

var ErrTooManyHandles = errors.New("engine: too many wait handles")

// Event is a manual-reset wait handle: once Set it stays signaled until
// Reset.
type Event struct {
	mu  sync.Mutex
	ch  chan struct{}
	set bool
}

func NewEvent() *Event {
	return &Event{ch: make(chan struct{})}
}

// Set signals the event. Safe from any goroutine.
func (e *Event) Set() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.set {
		e.set = true
		close(e.ch)
	}
}

func (e *Event) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.set {
		e.set = false
		e.ch = make(chan struct{})
	}
}

func (e *Event) IsSet() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.set
}

// Done returns a channel that is closed while the event is set.
func (e *Event) Done() <-chan struct{} {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ch
}

// Wait blocks until one of events is signaled or ctx is done, and returns
// the index of a signaled event. The context is one more wait source, so
// cancellation interrupts the wait itself.
func Wait(ctx context.Context, events []*Event) (int, error) {
	if len(events) > MaxWaitHandles {
		return -1, ErrTooManyHandles
	}
	cases := make([]reflect.SelectCase, 0, len(events)+1)
	cases = append(cases, reflect.SelectCase{Dir: reflect.SelectRecv, Chan: reflect.ValueOf(ctx.Done())})
	for _, ev := range events {
		cases = append(cases, reflect.SelectCase{Dir: reflect.SelectRecv, Chan: reflect.ValueOf(ev.Done())})
	}

	chosen, _, _ := reflect.Select(cases)
	if chosen == 0 {
		return -1, ctx.Err()
	}
	return chosen - 1, nil
}
