package daemon

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// WritePIDFile writes the current process PID to the given path.
func WritePIDFile(path string) error {
	if path == "" {
		return nil
	}
	data := []byte(strconv.Itoa(os.Getpid()) + "\n")
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("cannot write PID file: %s: %w", path, err)
	}
	return nil
}

// RemovePIDFile removes the PID file if it exists.
func RemovePIDFile(path string) {
	if path == "" {
		return
	}
	_ = os.Remove(path)
}

// ValidateSocketPermissions checks that the socket directory exists and is
// writable.
func ValidateSocketPermissions(socketPath string) error {
	dir := filepath.Dir(socketPath)

	info, err := os.Stat(dir)
	if err != nil {
		return fmt.Errorf("socket directory does not exist: %s: %w", dir, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("socket path parent is not a directory: %s", dir)
	}

	f, err := os.CreateTemp(dir, ".wdog_perm_check")
	if err != nil {
		return fmt.Errorf("permission denied: cannot create socket in %s: %w", dir, err)
	}
	f.Close()
	os.Remove(f.Name())
	return nil
}

// ParseSocketMode parses an octal file mode such as "0770".
func ParseSocketMode(s string) (os.FileMode, error) {
	v, err := strconv.ParseUint(strings.TrimSpace(s), 8, 32)
	if err != nil || v > 0777 {
		return 0, fmt.Errorf("invalid socket mode %q", s)
	}
	return os.FileMode(v), nil
}

// RootWarning logs a notice when the daemon runs without root privileges,
// which it needs to open the watchdog device and read peer processes.
func RootWarning(logger *slog.Logger, deviceEnabled bool) {
	if os.Getuid() == 0 || !deviceEnabled {
		return
	}
	logger.Warn("running unprivileged with the hardware watchdog enabled; opening the device may fail")
}
