// Package clock abstracts time so that watchdog timers can be driven
// deterministically in tests.
package clock

import "time"

// Clock is the subset of the time package used by wdog. Production code
// uses Real(); tests use Fake().
type Clock interface {
	Now() time.Time

	// AfterFunc calls f after d elapses. With d <= 0 the call happens as
	// soon as possible.
	AfterFunc(d time.Duration, f func()) Handle
}

// Handle cancels a pending AfterFunc call.
type Handle interface {
	// Stop reports whether the call was prevented from running.
	Stop() bool
}

// Real returns a Clock backed by the standard time package.
func Real() Clock { return realClock{} }

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) Handle {
	return time.AfterFunc(d, f)
}
