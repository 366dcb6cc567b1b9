// Package watchdog implements the per-process liveness registry of the wdog
// daemon: kick leases, mandatory watchdogs that survive process restarts,
// the expiry escalation policy and the external watchdog kicker.
//
// Registry is single-threaded. Every method must run on the goroutine of the
// Reactor that owns it; Service wraps both for concurrent callers.
package watchdog

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/kahiteam/wdog/internal/clock"
	"github.com/kahiteam/wdog/internal/events"
	"github.com/kahiteam/wdog/internal/logging"
)

// Timeout sentinels in milliseconds, as sent by clients.
const (
	// TimeoutNever disables the watchdog until the next kick. Compared as an
	// unsigned 32-bit value it is larger than every finite timeout.
	TimeoutNever int32 = -1
	// TimeoutNow expires the watchdog immediately.
	TimeoutNow int32 = 0
	// TimeoutKick selects the configured kick interval.
	TimeoutKick int32 = -3
)

// NoProc is the pid of a mandatory watchdog with no attached process.
const NoProc = -1

// DefaultTimeout applies when no timeout is configured for a process.
const DefaultTimeout = 30000

// never is TimeoutNever in its stored unsigned form.
const never = uint32(0xffffffff)

// ErrNotFound is returned when a timeout query has no answer.
var ErrNotFound = errors.New("not found")

// Platform services the external (hardware) watchdog.
type Platform interface {
	Init() error
	Kick() error
	// Shutdown forces a device reset. It is called at most once.
	Shutdown()
}

// FaultReporter receives ordinary watchdog expiries. The fault policy (restart
// the process, the app or the device) lives on the other side.
type FaultReporter interface {
	WatchdogTimedOut(pid int)
}

// ProcessInspector resolves the identity of a client process.
type ProcessInspector interface {
	// AppName returns the app a process belongs to, or an error when the
	// process is not part of an app.
	AppName(pid int) (string, error)
	// ProcessName returns the base name of the process executable.
	ProcessName(pid int) (string, error)
}

// Policy supplies the configured timeouts. *config.Config satisfies it.
type Policy interface {
	// KickTimeout returns the kick interval configured for a process and
	// where it came from ("proc", "app", or "" when nothing is configured).
	KickTimeout(app, proc string) (ms int, level string)
	// MandatoryWatchdogs returns the max timeout of every process of an app
	// that must always be watched.
	MandatoryWatchdogs(app string) map[string]int
}

// Metrics receives registry counters. A nil Metrics is allowed.
type Metrics interface {
	IncKick()
	IncExpiry(kind string)
	IncDoubleFault()
	IncExternalKick()
	IncExternalKickFailure()
	SetWatchdogs(kind string, n int)
}

// AppProcKey identifies a mandatory watchdog.
type AppProcKey struct {
	App  string
	Proc string
}

func (k AppProcKey) String() string { return "[" + k.App + "][" + k.Proc + "]" }

// Watchdog is a lease held by one process.
type Watchdog struct {
	pid             int
	kickInterval    uint32
	maxKickInterval uint32
	timer           *clock.Timer

	// mandatory is set when this watchdog is embedded in a MandatoryWatchdog.
	mandatory *MandatoryWatchdog
}

// MandatoryWatchdog is a watchdog that exists for the life of an app
// install, whether or not a process is attached.
type MandatoryWatchdog struct {
	Watchdog
	key AppProcKey
}

// Options configure a Registry.
type Options struct {
	Clock     clock.Clock
	Dispatch  func(func())
	Platform  Platform
	Reporter  FaultReporter
	Inspector ProcessInspector
	Policy    Policy
	Metrics   Metrics
	Bus       *events.Bus
	Logger    *slog.Logger

	// ExternalKickInterval is the period of the platform watchdog kicker.
	// Zero selects 30 seconds.
	ExternalKickInterval time.Duration

	// Fatal terminates the daemon after an internal invariant failed. The
	// default logs at critical level and exits with status 1.
	Fatal func(msg string)
}

func (o *Options) setDefaults() {
	if o.Clock == nil {
		o.Clock = clock.Real()
	}
	if o.Logger == nil {
		o.Logger = logging.Discard()
	}
	if o.ExternalKickInterval <= 0 {
		o.ExternalKickInterval = 30 * time.Second
	}
	if o.Fatal == nil {
		logger := o.Logger
		o.Fatal = func(msg string) {
			logging.Critical(logger, msg)
			os.Exit(1)
		}
	}
}

func millis(ms uint32) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

func formatMillis(ms uint32) string {
	if ms == never {
		return "never"
	}
	return fmt.Sprintf("%dms", ms)
}
