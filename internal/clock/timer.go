package clock

import "time"

// Timer is a restartable interval timer. It is not safe for concurrent use:
// every method must be called from the goroutine that owns the timer, and
// expiry handlers are delivered to that goroutine through the dispatch
// function passed to NewTimer.
//
// Stop and Restart guarantee that a firing already in flight is discarded,
// so a handler never observes an expiry for a period it cancelled.
type Timer struct {
	clock    Clock
	dispatch func(func())
	handler  func(*Timer)

	interval time.Duration
	repeat   bool
	running  bool
	gen      uint64
	pending  Handle
}

// NewTimer creates a stopped timer. dispatch hands an expiry to the owning
// goroutine; nil runs it directly on the clock's goroutine, which is what
// tests driven by FakeClock want.
func NewTimer(c Clock, dispatch func(func()), handler func(*Timer)) *Timer {
	if dispatch == nil {
		dispatch = func(f func()) { f() }
	}
	return &Timer{clock: c, dispatch: dispatch, handler: handler}
}

// SetInterval changes the period used by the next Start.
func (t *Timer) SetInterval(d time.Duration) { t.interval = d }

// Interval returns the configured period.
func (t *Timer) Interval() time.Duration { return t.interval }

// SetRepeating makes the timer re-arm itself after each expiry.
func (t *Timer) SetRepeating(repeat bool) { t.repeat = repeat }

// IsRunning reports whether the timer is armed.
func (t *Timer) IsRunning() bool { return t.running }

// Start arms the timer. Starting a running timer is a no-op.
func (t *Timer) Start() {
	if t.running {
		return
	}
	t.arm()
}

// Stop disarms the timer. Stopping a stopped timer is a no-op.
func (t *Timer) Stop() {
	if !t.running {
		return
	}
	t.running = false
	t.gen++
	if t.pending != nil {
		t.pending.Stop()
		t.pending = nil
	}
}

// Restart stops the timer and starts a fresh period.
func (t *Timer) Restart() {
	t.Stop()
	t.arm()
}

func (t *Timer) arm() {
	t.running = true
	t.gen++
	gen := t.gen
	t.pending = nil
	h := t.clock.AfterFunc(t.interval, func() {
		t.dispatch(func() { t.fire(gen) })
	})
	// A zero interval on the fake clock fires inside AfterFunc; in that
	// case the handle belongs to a finished call.
	if t.running && t.gen == gen {
		t.pending = h
	}
}

func (t *Timer) fire(gen uint64) {
	if !t.running || t.gen != gen {
		return
	}
	t.pending = nil
	if t.repeat {
		t.arm()
	} else {
		t.running = false
	}
	if t.handler != nil {
		t.handler(t)
	}
}
