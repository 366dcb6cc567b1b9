package clock

import (
	"sort"
	"sync"
	"time"
)

// FakeClock is a deterministic Clock. Time moves only when Advance is
// called; due callbacks then run synchronously in deadline order on the
// calling goroutine. A callback scheduled with d <= 0 runs before
// AfterFunc returns.
type FakeClock struct {
	mu      sync.Mutex
	now     time.Time
	seq     uint64
	pending []*fakeCall
}

type fakeCall struct {
	deadline time.Time
	seq      uint64 // tie-breaker, keeps scheduling order for equal deadlines
	f        func()
	clock    *FakeClock
	done     bool
}

// Fake returns a FakeClock set to initial.
func Fake(initial time.Time) *FakeClock {
	return &FakeClock{now: initial}
}

// Now returns the current fake time.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// AfterFunc schedules f to run once the clock has advanced by d.
func (c *FakeClock) AfterFunc(d time.Duration, f func()) Handle {
	c.mu.Lock()
	c.seq++
	call := &fakeCall{deadline: c.now.Add(d), seq: c.seq, f: f, clock: c}
	if d <= 0 {
		call.done = true
		c.mu.Unlock()
		f()
		return call
	}
	c.pending = append(c.pending, call)
	c.mu.Unlock()
	return call
}

// Stop cancels the call if it has not run yet.
func (fc *fakeCall) Stop() bool {
	c := fc.clock
	c.mu.Lock()
	defer c.mu.Unlock()
	if fc.done {
		return false
	}
	fc.done = true
	for i, p := range c.pending {
		if p == fc {
			c.pending = append(c.pending[:i], c.pending[i+1:]...)
			break
		}
	}
	return true
}

// Advance moves the clock forward by d, running every callback whose
// deadline is reached. Callbacks may schedule new calls; those also run if
// they fall due within the advanced window.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	c.mu.Unlock()

	for {
		c.mu.Lock()
		sort.Slice(c.pending, func(i, j int) bool {
			a, b := c.pending[i], c.pending[j]
			if a.deadline.Equal(b.deadline) {
				return a.seq < b.seq
			}
			return a.deadline.Before(b.deadline)
		})
		if len(c.pending) == 0 || c.pending[0].deadline.After(target) {
			c.now = target
			c.mu.Unlock()
			return
		}
		next := c.pending[0]
		c.pending = c.pending[1:]
		next.done = true
		if next.deadline.After(c.now) {
			c.now = next.deadline
		}
		c.mu.Unlock()

		next.f()
	}
}

// PendingCount returns the number of scheduled calls that have not run.
func (c *FakeClock) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}
