// Package logging provides structured logging for wdog using stdlib slog.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// LevelCritical marks conditions that lead to a process restart, a
// reboot or a device reset.
const LevelCritical = slog.Level(12)

// LogConfig controls logger creation.
type LogConfig struct {
	Level  string    // "debug", "info", "warn", "error", "critical"
	Format string    // "json" (default), "text"
	Output io.Writer // defaults to os.Stdout
}

// New creates a configured *slog.Logger.
func New(cfg LogConfig) *slog.Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}

	opts := &slog.HandlerOptions{
		Level:       parseLevel(cfg.Level),
		ReplaceAttr: renameCritical,
	}

	var handler slog.Handler
	if strings.EqualFold(cfg.Format, "text") {
		handler = slog.NewTextHandler(out, opts)
	} else {
		handler = slog.NewJSONHandler(out, opts)
	}
	return slog.New(handler)
}

// DaemonLogger builds the daemon's logger. Output goes to logfile when set,
// else stdout, and is also sent to syslog when toSyslog is true. The
// returned cleanup closes whatever was opened and may be nil.
func DaemonLogger(level, format, logfile string, toSyslog bool) (*slog.Logger, func(), error) {
	var out io.Writer = os.Stdout
	var closers []io.Closer

	if logfile != "" {
		f, err := os.OpenFile(logfile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, nil, fmt.Errorf("cannot open log file: %s: %w", logfile, err)
		}
		out = f
		closers = append(closers, f)
	}
	if toSyslog {
		fwd, err := NewSyslogForwarder("wdog")
		if err != nil {
			for _, c := range closers {
				c.Close()
			}
			return nil, nil, err
		}
		out = io.MultiWriter(out, fwd)
		closers = append(closers, fwd)
	}

	logger := New(LogConfig{Level: level, Format: format, Output: out})
	if len(closers) == 0 {
		return logger, nil, nil
	}
	return logger, func() {
		for _, c := range closers {
			c.Close()
		}
	}, nil
}

// Critical logs msg at LevelCritical.
func Critical(logger *slog.Logger, msg string, args ...any) {
	logger.Log(context.Background(), LevelCritical, msg, args...)
}

// Discard returns a logger that drops everything.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func renameCritical(_ []string, a slog.Attr) slog.Attr {
	if a.Key != slog.LevelKey {
		return a
	}
	if lvl, ok := a.Value.Any().(slog.Level); ok && lvl >= LevelCritical {
		a.Value = slog.StringValue("CRITICAL")
	}
	return a
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	case "critical":
		return LevelCritical
	default:
		return slog.LevelInfo
	}
}
