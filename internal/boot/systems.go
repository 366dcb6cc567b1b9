package boot

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

// systemIndex returns the index named by a system directory, or -1 when
// the name is not a decimal number. Leading zeros are accepted.
func systemIndex(name string) int {
	if name == "" {
		return -1
	}
	for _, c := range name {
		if c < '0' || c > '9' {
			return -1
		}
	}
	n, err := strconv.Atoi(name)
	if err != nil {
		return -1
	}
	return n
}

// FindNewest returns the highest system index under systemsDir, or -1
// when there is none.
func FindNewest(systemsDir string) (int, error) {
	entries, err := os.ReadDir(systemsDir)
	if errors.Is(err, fs.ErrNotExist) {
		return -1, nil
	}
	if err != nil {
		return -1, fmt.Errorf("read systems: %w", err)
	}
	newest := -1
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if i := systemIndex(e.Name()); i > newest {
			newest = i
		}
	}
	return newest, nil
}

// ReadIndex reads the index file of a system directory.
func ReadIndex(dir string) (int, error) {
	data, err := os.ReadFile(filepath.Join(dir, indexFile))
	if err != nil {
		return -1, err
	}
	s := strings.TrimSpace(string(data))
	i := systemIndex(s)
	if i < 0 {
		return -1, fmt.Errorf("invalid system index %q in %s", s, dir)
	}
	return i, nil
}

func exists(path string) bool {
	_, err := os.Lstat(path)
	return err == nil
}

func readTrimmed(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

// renameDir moves a system directory. A non-empty directory in the way is
// deleted first.
func renameDir(from, to string) error {
	err := os.Rename(from, to)
	if errors.Is(err, unix.ENOTEMPTY) || errors.Is(err, unix.EEXIST) || errors.Is(err, unix.EISDIR) {
		if err := os.RemoveAll(to); err != nil {
			return fmt.Errorf("remove %s: %w", to, err)
		}
		err = os.Rename(from, to)
	}
	if err != nil {
		return fmt.Errorf("rename %s to %s: %w", from, to, err)
	}
	return nil
}
