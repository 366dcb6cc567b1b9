//go:build linux

package platform

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/kahiteam/wdog/internal/logging"
)

// Device drives a Linux watchdog character device such as /dev/watchdog.
type Device struct {
	opts Options

	mu        sync.Mutex
	f         *os.File
	abandoned bool
	useWrite  bool
}

// NewDevice returns a device that is opened by Init.
func NewDevice(opts Options) *Device {
	opts.setDefaults()
	if opts.Path == "" {
		opts.Path = "/dev/watchdog"
	}
	return &Device{opts: opts}
}

// Init opens the device and programs its timeout. Opening arms the
// hardware: from here on the daemon must kick it.
func (d *Device) Init() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	f, err := os.OpenFile(d.opts.Path, os.O_WRONLY, 0)
	if err != nil {
		return fmt.Errorf("open watchdog device %s: %w", d.opts.Path, err)
	}
	d.f = f

	if d.opts.Timeout > 0 {
		if err := unix.IoctlSetPointerInt(int(f.Fd()), unix.WDIOC_SETTIMEOUT, d.opts.Timeout); err != nil {
			d.opts.Logger.Warn("cannot set watchdog timeout", "path", d.opts.Path, "timeout", d.opts.Timeout, "error", err)
		}
	}
	timeout, err := unix.IoctlGetInt(int(f.Fd()), unix.WDIOC_GETTIMEOUT)
	if err != nil {
		d.opts.Logger.Info("hardware watchdog armed", "path", d.opts.Path)
	} else {
		d.opts.Logger.Info("hardware watchdog armed", "path", d.opts.Path, "timeout_s", timeout)
	}
	return nil
}

// Kick services the device once. Drivers without the keepalive ioctl are
// kicked with a write.
func (d *Device) Kick() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.f == nil {
		return fmt.Errorf("watchdog device %s not open", d.opts.Path)
	}
	if d.abandoned {
		return nil
	}
	if !d.useWrite {
		err := unix.IoctlWatchdogKeepalive(int(d.f.Fd()))
		if err == nil {
			return nil
		}
		if !errors.Is(err, unix.ENOTTY) {
			return fmt.Errorf("ioctl WDIOC_KEEPALIVE: %w", err)
		}
		d.opts.Logger.Debug("keepalive ioctl unsupported, kicking with writes", "path", d.opts.Path)
		d.useWrite = true
	}
	if _, err := d.f.Write([]byte{0}); err != nil {
		return fmt.Errorf("write watchdog device: %w", err)
	}
	return nil
}

// Shutdown stops servicing the device and exits without disarming it, so
// the hardware resets the device once its timeout runs out.
func (d *Device) Shutdown() {
	d.mu.Lock()
	already := d.abandoned
	d.abandoned = true
	d.mu.Unlock()
	if already {
		return
	}
	logWakeLocks(d.opts.Logger, d.opts.WakeLockPath)
	logging.Critical(d.opts.Logger, "abandoning hardware watchdog", "path", d.opts.Path)
	d.opts.Exit(1)
}

// Close releases the device. With magic close enabled the watchdog is
// disarmed first, which is what a clean daemon stop wants.
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.f == nil {
		return nil
	}
	if d.opts.MagicClose && !d.abandoned {
		if _, err := d.f.Write([]byte("V")); err != nil {
			d.opts.Logger.Warn("magic close failed", "path", d.opts.Path, "error", err)
		}
	}
	err := d.f.Close()
	d.f = nil
	return err
}
