// Package process identifies client processes through /proc and spawns the
// framework supervisor for the boot program.
package process

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/prometheus/procfs"
)

// ErrNotApp is returned for processes that do not run inside an app's
// cgroup.
var ErrNotApp = errors.New("process is not part of an app")

// ProcInspector reads process identity from a procfs mount. Apps run in a
// cgroup named after the app, so the app of a process is the path of its
// first cgroup without the leading slash.
type ProcInspector struct {
	fs procfs.FS
}

// NewProcInspector opens the procfs mounted at mountPoint ("/proc" when
// empty).
func NewProcInspector(mountPoint string) (*ProcInspector, error) {
	if mountPoint == "" {
		mountPoint = procfs.DefaultMountPoint
	}
	fs, err := procfs.NewFS(mountPoint)
	if err != nil {
		return nil, fmt.Errorf("open procfs %s: %w", mountPoint, err)
	}
	return &ProcInspector{fs: fs}, nil
}

// AppName returns the app a process belongs to.
func (p *ProcInspector) AppName(pid int) (string, error) {
	proc, err := p.fs.Proc(pid)
	if err != nil {
		return "", err
	}
	cgroups, err := proc.Cgroups()
	if err != nil {
		return "", fmt.Errorf("read cgroups of %d: %w", pid, err)
	}
	if len(cgroups) == 0 {
		return "", fmt.Errorf("unexpected cgroup format for %d", pid)
	}
	path := cgroups[0].Path
	if len(path) <= 1 {
		return "", ErrNotApp
	}
	return strings.TrimPrefix(path, "/"), nil
}

// ProcessName returns the base name of the executable a process was
// started from.
func (p *ProcInspector) ProcessName(pid int) (string, error) {
	proc, err := p.fs.Proc(pid)
	if err != nil {
		return "", err
	}
	cmdline, err := proc.CmdLine()
	if err != nil {
		return "", fmt.Errorf("read cmdline of %d: %w", pid, err)
	}
	if len(cmdline) == 0 || cmdline[0] == "" {
		return "", fmt.Errorf("empty cmdline for %d", pid)
	}
	return filepath.Base(cmdline[0]), nil
}

// Identity is what FakeInspector knows about a pid.
type Identity struct {
	App  string // empty means not an app
	Name string
}

// FakeInspector answers from a table. It is safe for concurrent use.
type FakeInspector struct {
	mu    sync.Mutex
	procs map[int]Identity
}

// NewFakeInspector returns an inspector that knows no processes.
func NewFakeInspector() *FakeInspector {
	return &FakeInspector{procs: make(map[int]Identity)}
}

// Set records the identity of pid.
func (f *FakeInspector) Set(pid int, app, name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.procs[pid] = Identity{App: app, Name: name}
}

// Remove forgets pid, as if the process exited.
func (f *FakeInspector) Remove(pid int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.procs, pid)
}

// AppName implements watchdog.ProcessInspector.
func (f *FakeInspector) AppName(pid int) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id, ok := f.procs[pid]
	if !ok {
		return "", fmt.Errorf("no process %d", pid)
	}
	if id.App == "" {
		return "", ErrNotApp
	}
	return id.App, nil
}

// ProcessName implements watchdog.ProcessInspector.
func (f *FakeInspector) ProcessName(pid int) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id, ok := f.procs[pid]
	if !ok {
		return "", fmt.Errorf("no process %d", pid)
	}
	return id.Name, nil
}
