package logging

import (
	"fmt"
	"log/slog"
	"os"
	"sync"
)

// CaptureConfig configures capture of a child process's output.
type CaptureConfig struct {
	Name     string // process name, used in log records
	Logfile  string // optional file, rotated by size
	MaxBytes string // e.g. "1MB"
	Backups  int
	RingSize int // bytes kept in memory for TailLines, default 64KB
	Logger   *slog.Logger
}

// CaptureWriter records child output to an optional rotating file and an
// in-memory ring buffer, so the last lines can be shown after a crash.
type CaptureWriter struct {
	mu     sync.Mutex
	config CaptureConfig
	file   *os.File
	ring   *RingBuffer
}

// NewCaptureWriter opens the log file, if any, in append mode.
func NewCaptureWriter(cfg CaptureConfig) (*CaptureWriter, error) {
	if cfg.RingSize <= 0 {
		cfg.RingSize = 64 * 1024
	}
	cw := &CaptureWriter{config: cfg, ring: NewRingBuffer(cfg.RingSize)}

	if cfg.Logfile != "" {
		f, err := os.OpenFile(cfg.Logfile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("cannot open log file: %s: %w", cfg.Logfile, err)
		}
		cw.file = f
	}
	return cw, nil
}

// Write implements io.Writer. File errors are logged, never returned, so
// a full disk cannot block the child.
func (cw *CaptureWriter) Write(p []byte) (int, error) {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	cw.ring.Write(p)
	if cw.file != nil {
		if _, err := cw.file.Write(p); err != nil && cw.config.Logger != nil {
			cw.config.Logger.Error("log write failed", "file", cw.config.Logfile, "error", err)
		}
		cw.rotateIfNeeded()
	}
	return len(p), nil
}

// TailLines returns up to n of the most recent lines. A line cut by the
// ring buffer wrapping is left out.
func (cw *CaptureWriter) TailLines(n int) []string {
	return cw.ring.Lines(n)
}

// Close closes the log file if open.
func (cw *CaptureWriter) Close() error {
	cw.mu.Lock()
	defer cw.mu.Unlock()
	if cw.file != nil {
		return cw.file.Close()
	}
	return nil
}

// rotateIfNeeded must be called with mu held.
func (cw *CaptureWriter) rotateIfNeeded() {
	maxBytes := ParseSize(cw.config.MaxBytes)
	if maxBytes == 0 {
		return
	}
	info, err := cw.file.Stat()
	if err != nil || info.Size() < maxBytes {
		return
	}
	cw.file.Close()
	_ = rotateFile(cw.config.Logfile, cw.config.Backups)
	f, err := os.OpenFile(cw.config.Logfile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		cw.file = nil
		return
	}
	cw.file = f
}
