package platform

import "sync"

// Fake records calls for tests.
type Fake struct {
	mu        sync.Mutex
	inits     int
	kicks     int
	shutdowns int
	closed    bool

	// InitErr and KickErr are returned by Init and Kick.
	InitErr error
	KickErr error
	// OnShutdown runs inside Shutdown, before it returns.
	OnShutdown func()
}

// Init implements watchdog.Platform.
func (f *Fake) Init() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inits++
	return f.InitErr
}

// Kick implements watchdog.Platform.
func (f *Fake) Kick() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.kicks++
	return f.KickErr
}

// Shutdown implements watchdog.Platform.
func (f *Fake) Shutdown() {
	f.mu.Lock()
	f.shutdowns++
	hook := f.OnShutdown
	f.mu.Unlock()
	if hook != nil {
		hook()
	}
}

// Close implements io.Closer.
func (f *Fake) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

// Inits returns the number of Init calls.
func (f *Fake) Inits() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.inits
}

// Kicks returns the number of Kick calls.
func (f *Fake) Kicks() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.kicks
}

// Shutdowns returns the number of Shutdown calls.
func (f *Fake) Shutdowns() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.shutdowns
}

// Closed reports whether Close was called.
func (f *Fake) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}
