// Package platform drives the external watchdog that resets the device when
// the wdog daemon stops servicing it.
package platform

import (
	"bufio"
	"errors"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/kahiteam/wdog/internal/logging"
)

// DefaultWakeLockPath lists the wake locks held through the kernel's
// userspace wake lock interface.
const DefaultWakeLockPath = "/sys/power/wake_lock"

// ErrUnsupported is returned when the hardware watchdog cannot be driven on
// this operating system.
var ErrUnsupported = errors.New("hardware watchdog not supported on this platform")

// Options configure a platform watchdog.
type Options struct {
	// Path of the watchdog character device.
	Path string
	// Timeout programs the device timeout in seconds; zero keeps the
	// driver default.
	Timeout int
	// MagicClose disarms the device on a clean Close by writing 'V'.
	MagicClose bool
	// WakeLockPath overrides DefaultWakeLockPath.
	WakeLockPath string
	Logger       *slog.Logger
	// Exit ends the process after Shutdown. Defaults to os.Exit.
	Exit func(code int)
}

func (o *Options) setDefaults() {
	if o.Logger == nil {
		o.Logger = logging.Discard()
	}
	if o.WakeLockPath == "" {
		o.WakeLockPath = DefaultWakeLockPath
	}
	if o.Exit == nil {
		o.Exit = os.Exit
	}
}

// HeldWakeLocks returns the names of the wake locks currently held. A
// missing file means the kernel has no userspace wake locks and is not an
// error.
func HeldWakeLocks(path string) ([]string, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var locks []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		locks = append(locks, strings.Fields(sc.Text())...)
	}
	return locks, sc.Err()
}

// logWakeLocks reports wake locks that might keep the device from
// suspending or resetting cleanly.
func logWakeLocks(logger *slog.Logger, path string) {
	locks, err := HeldWakeLocks(path)
	if err != nil {
		logger.Warn("cannot read wake locks", "path", path, "error", err)
		return
	}
	if len(locks) > 0 {
		logger.Warn("wake locks held at shutdown", "locks", strings.Join(locks, ","))
	}
}

// Nop is used on hosts without a hardware watchdog. Shutdown still ends the
// process so a service manager can restart the device or the framework.
type Nop struct {
	opts Options
	once sync.Once
}

// NewNop returns a platform watchdog that never touches hardware.
func NewNop(opts Options) *Nop {
	opts.setDefaults()
	return &Nop{opts: opts}
}

// Init implements watchdog.Platform.
func (n *Nop) Init() error {
	n.opts.Logger.Info("no hardware watchdog configured")
	return nil
}

// Kick implements watchdog.Platform.
func (n *Nop) Kick() error { return nil }

// Shutdown implements watchdog.Platform.
func (n *Nop) Shutdown() {
	n.once.Do(func() {
		logWakeLocks(n.opts.Logger, n.opts.WakeLockPath)
		logging.Critical(n.opts.Logger, "watchdog shutdown requested")
		n.opts.Exit(1)
	})
}

// Close implements io.Closer.
func (n *Nop) Close() error { return nil }
