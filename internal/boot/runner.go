package boot

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"syscall"

	"github.com/kahiteam/wdog/internal/logging"
	"github.com/kahiteam/wdog/internal/process"
)

// Supervisor exit codes.
const (
	ExitSuccess       = 0
	ExitFailure       = 1
	ExitRestart       = 2
	ExitManualRestart = 3
)

// Runner runs the supervisor of the system in dir and returns its exit
// code.
type Runner interface {
	Run(ctx context.Context, dir string) (int, error)
}

// SupervisorRunner starts the supervisor binary of a system and waits for
// it to exit.
type SupervisorRunner struct {
	Spawner process.Spawner
	// Path is resolved against the system directory when relative.
	Path   string
	Args   []string
	Output io.Writer
	Logger *slog.Logger
}

// Run spawns the supervisor. Cancelling ctx sends it SIGTERM. A supervisor
// killed by a signal counts as ExitFailure.
func (r *SupervisorRunner) Run(ctx context.Context, dir string) (int, error) {
	path := r.Path
	if !filepath.IsAbs(path) {
		path = filepath.Join(dir, path)
	}
	logger := r.Logger
	if logger == nil {
		logger = logging.Discard()
	}

	p, err := r.Spawner.Spawn(process.SpawnConfig{
		Command: path,
		Args:    r.Args,
		Dir:     dir,
		Stdout:  r.Output,
		Stderr:  r.Output,
	})
	if err != nil {
		return ExitFailure, fmt.Errorf("start supervisor %s: %w", path, err)
	}
	logger.Info("supervisor started", "pid", p.Pid(), "path", path)

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = p.Signal(syscall.SIGTERM)
		case <-done:
		}
	}()

	code, err := p.Wait()
	if err != nil {
		return ExitFailure, fmt.Errorf("wait for supervisor: %w", err)
	}
	if code < 0 {
		logging.Critical(logger, "supervisor was killed by a signal", "pid", p.Pid())
		return ExitFailure, nil
	}
	return code, nil
}

// MockRunner returns scripted exit codes. Once they run out it returns
// ExitSuccess.
type MockRunner struct {
	Codes []int
	// OnRun is called with the system directory before each exit code is
	// returned.
	OnRun func(dir string)
	Dirs  []string
}

// Run implements Runner.
func (m *MockRunner) Run(_ context.Context, dir string) (int, error) {
	m.Dirs = append(m.Dirs, dir)
	if m.OnRun != nil {
		m.OnRun(dir)
	}
	if len(m.Codes) == 0 {
		return ExitSuccess, nil
	}
	code := m.Codes[0]
	m.Codes = m.Codes[1:]
	return code, nil
}

// runShell runs a command line through /bin/sh and returns its exit code.
func runShell(sp process.Spawner, cmdline string, out io.Writer) (int, error) {
	p, err := sp.Spawn(process.SpawnConfig{
		Command: "/bin/sh",
		Args:    []string{"-c", cmdline},
		Stdout:  out,
		Stderr:  out,
	})
	if err != nil {
		return -1, err
	}
	return p.Wait()
}
