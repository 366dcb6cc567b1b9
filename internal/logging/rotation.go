package logging

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// RotationConfig configures size-based log rotation.
type RotationConfig struct {
	Maxbytes string // e.g. "1MB"; "" or "0" means unlimited
	Backups  int    // number of backup files to keep
}

// RotateIfNeeded rotates path when it has grown past cfg.Maxbytes.
func RotateIfNeeded(path string, cfg RotationConfig) error {
	maxBytes := ParseSize(cfg.Maxbytes)
	if maxBytes == 0 {
		return nil
	}
	info, err := os.Stat(path)
	if err != nil || info.Size() < maxBytes {
		return nil
	}
	return rotateFile(path, cfg.Backups)
}

// rotateFile shifts path.N-1 to path.N and path to path.1. With no
// backups the file is truncated instead.
func rotateFile(path string, backups int) error {
	if backups == 0 {
		return os.Truncate(path, 0)
	}

	os.Remove(fmt.Sprintf("%s.%d", path, backups))
	for i := backups - 1; i >= 1; i-- {
		_ = os.Rename(fmt.Sprintf("%s.%d", path, i), fmt.Sprintf("%s.%d", path, i+1))
	}
	return os.Rename(path, path+".1")
}

// ParseSize parses a human-readable size string to bytes. Supports B, KB,
// MB and GB suffixes; a bare number is bytes. Invalid input yields 0.
func ParseSize(s string) int64 {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" || s == "0" {
		return 0
	}

	multiplier := int64(1)
	for _, unit := range []struct {
		suffix string
		mult   int64
	}{
		{"GB", 1 << 30},
		{"MB", 1 << 20},
		{"KB", 1 << 10},
		{"B", 1},
	} {
		if strings.HasSuffix(s, unit.suffix) {
			multiplier = unit.mult
			s = strings.TrimSuffix(s, unit.suffix)
			break
		}
	}

	val, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0
	}
	return val * multiplier
}
