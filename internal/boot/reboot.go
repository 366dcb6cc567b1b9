package boot

import (
	"fmt"
	"log/slog"

	"github.com/kahiteam/wdog/internal/logging"
	"github.com/kahiteam/wdog/internal/process"
)

// Rebooter restarts the device.
type Rebooter interface {
	Reboot() error
}

// SystemRebooter runs a reboot command and falls back to the reboot system
// call when the command fails.
type SystemRebooter struct {
	Spawner process.Spawner
	Command string
	Logger  *slog.Logger

	// reboot replaces the system call in tests.
	reboot func() error
}

// Reboot asks the system to restart. On success the device is going down
// and the caller should exit.
func (r *SystemRebooter) Reboot() error {
	logger := r.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	if r.Command != "" && r.Spawner != nil {
		code, err := runShell(r.Spawner, r.Command, nil)
		if err == nil && code == 0 {
			logging.Critical(logger, "system will reboot now")
			return nil
		}
		logger.Error("reboot command failed", "command", r.Command, "exit_code", code, "error", err)
	}
	sys := r.reboot
	if sys == nil {
		sys = rebootSyscall
	}
	if err := sys(); err != nil {
		logging.Critical(logger, "failed to reboot", "error", err)
		return fmt.Errorf("reboot: %w", err)
	}
	return nil
}
