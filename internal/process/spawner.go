package process

import (
	"errors"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
)

// SpawnConfig holds the parameters needed to spawn a child process.
type SpawnConfig struct {
	Command string    // absolute path or $PATH-resolved binary
	Args    []string  // command arguments (not including argv[0])
	Dir     string    // working directory
	Env     []string  // KEY=VALUE; nil inherits the environment
	Stdout  io.Writer // nil discards
	Stderr  io.Writer // nil discards
}

// SpawnedProcess represents a running child process.
type SpawnedProcess interface {
	Pid() int
	// Wait blocks until the process exits and returns its exit code. A
	// process killed by a signal reports -1.
	Wait() (int, error)
	Signal(os.Signal) error
}

// Spawner creates child processes. Implementations include ExecSpawner
// (real) and MockSpawner (testing).
type Spawner interface {
	Spawn(cfg SpawnConfig) (SpawnedProcess, error)
}

// ExecSpawner spawns real OS processes via os/exec.
type ExecSpawner struct{}

type execProcess struct {
	cmd *exec.Cmd
}

// Spawn starts a child in its own process group.
func (ExecSpawner) Spawn(cfg SpawnConfig) (SpawnedProcess, error) {
	cmd := exec.Command(cfg.Command, cfg.Args...)
	cmd.Dir = cfg.Dir
	cmd.Env = cfg.Env
	cmd.Stdout = cfg.Stdout
	cmd.Stderr = cfg.Stderr
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		return nil, err
	}
	return &execProcess{cmd: cmd}, nil
}

func (p *execProcess) Pid() int                   { return p.cmd.Process.Pid }
func (p *execProcess) Signal(sig os.Signal) error { return p.cmd.Process.Signal(sig) }

func (p *execProcess) Wait() (int, error) {
	err := p.cmd.Wait()
	var exitErr *exec.ExitError
	if err == nil || errors.As(err, &exitErr) {
		return p.cmd.ProcessState.ExitCode(), nil
	}
	return -1, err
}

// MockSpawner is a test double for Spawner. Each spawned process exits
// with the next code from ExitCodes; once they run out, processes exit 0.
type MockSpawner struct {
	mu         sync.Mutex
	SpawnErr   error
	ExitCodes  []int
	SpawnCalls []SpawnConfig
	// Output is written to the configured Stdout of every spawned process.
	Output string
}

// Spawn records the call and returns a process that exits immediately.
func (m *MockSpawner) Spawn(cfg SpawnConfig) (SpawnedProcess, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SpawnCalls = append(m.SpawnCalls, cfg)
	if m.SpawnErr != nil {
		return nil, m.SpawnErr
	}
	code := 0
	if len(m.ExitCodes) > 0 {
		code = m.ExitCodes[0]
		m.ExitCodes = m.ExitCodes[1:]
	}
	if m.Output != "" && cfg.Stdout != nil {
		io.WriteString(cfg.Stdout, m.Output)
	}
	return &MockProcess{pid: 1000 + len(m.SpawnCalls), code: code}, nil
}

// Calls returns the number of Spawn calls.
func (m *MockSpawner) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.SpawnCalls)
}

// MockProcess is a test double for SpawnedProcess.
type MockProcess struct {
	mu      sync.Mutex
	pid     int
	code    int
	signals []os.Signal
}

// NewMockProcess creates a MockProcess that exits with code.
func NewMockProcess(pid, code int) *MockProcess {
	return &MockProcess{pid: pid, code: code}
}

func (p *MockProcess) Pid() int { return p.pid }

func (p *MockProcess) Wait() (int, error) { return p.code, nil }

func (p *MockProcess) Signal(sig os.Signal) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.signals = append(p.signals, sig)
	return nil
}

// Signals returns the signals delivered so far.
func (p *MockProcess) Signals() []os.Signal {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]os.Signal(nil), p.signals...)
}
