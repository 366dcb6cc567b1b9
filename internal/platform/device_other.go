//go:build !linux

package platform

// Device is unavailable outside Linux; Init always fails.
type Device struct {
	opts Options
}

// NewDevice returns a device whose Init reports ErrUnsupported.
func NewDevice(opts Options) *Device {
	opts.setDefaults()
	return &Device{opts: opts}
}

// Init implements watchdog.Platform.
func (d *Device) Init() error { return ErrUnsupported }

// Kick implements watchdog.Platform.
func (d *Device) Kick() error { return ErrUnsupported }

// Shutdown implements watchdog.Platform.
func (d *Device) Shutdown() {
	logWakeLocks(d.opts.Logger, d.opts.WakeLockPath)
	d.opts.Exit(1)
}

// Close implements io.Closer.
func (d *Device) Close() error { return nil }
