package watchdog

import (
	"context"
	"errors"
	"sync"
)

// ErrStopped is returned when work is submitted to a reactor that has
// finished running.
var ErrStopped = errors.New("reactor stopped")

// Reactor runs closures one at a time, in submission order, on the
// goroutine that calls Run. Registry state is only touched from there.
type Reactor struct {
	mu      sync.Mutex
	queue   []func()
	stopped bool
	wake    chan struct{}
}

// NewReactor returns an idle reactor.
func NewReactor() *Reactor {
	return &Reactor{wake: make(chan struct{}, 1)}
}

// Post queues f without waiting. It reports false once the reactor has
// stopped.
func (r *Reactor) Post(f func()) bool {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return false
	}
	r.queue = append(r.queue, f)
	r.mu.Unlock()

	select {
	case r.wake <- struct{}{}:
	default:
	}
	return true
}

// Dispatch is Post without the result, for use as a timer dispatcher.
func (r *Reactor) Dispatch(f func()) { r.Post(f) }

// Call runs f on the reactor and waits for it to finish.
func (r *Reactor) Call(ctx context.Context, f func()) error {
	done := make(chan struct{})
	if !r.Post(func() {
		defer close(done)
		f()
	}) {
		return ErrStopped
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run drains the queue until ctx is cancelled. Work still queued at that
// point is dropped.
func (r *Reactor) Run(ctx context.Context) {
	defer func() {
		r.mu.Lock()
		r.stopped = true
		r.queue = nil
		r.mu.Unlock()
	}()
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.wake:
		}
		for {
			r.mu.Lock()
			if len(r.queue) == 0 {
				r.mu.Unlock()
				break
			}
			f := r.queue[0]
			r.queue[0] = nil
			r.queue = r.queue[1:]
			r.mu.Unlock()

			f()
			if ctx.Err() != nil {
				return
			}
		}
	}
}
