package boot

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// MaxTries is the try budget of a system image. A system tried this many
// times without being marked good is bad.
const MaxTries = 4

// State classifies the status file of a system.
type State int

const (
	// StateNew means the system has no status file yet.
	StateNew State = iota
	StateTryable
	StateGood
	StateBad
	// StateError means the status file is unreadable or malformed. It is
	// handled like StateBad.
	StateError
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateTryable:
		return "tryable"
	case StateGood:
		return "good"
	case StateBad:
		return "bad"
	default:
		return "error"
	}
}

// Status is the parsed content of a status file.
type Status struct {
	State State
	// Tries is set for StateTryable and for a StateBad that ran out of
	// tries.
	Tries int
}

func (s Status) String() string {
	if s.Tries > 0 {
		return "tried " + strconv.Itoa(s.Tries)
	}
	return s.State.String()
}

// ParseStatus classifies status file content: "good", "bad" or
// "tried <N>". A try count below 1 is an error; one at or above MaxTries
// is bad.
func ParseStatus(data []byte) Status {
	s := strings.TrimSpace(string(data))
	switch {
	case strings.HasPrefix(s, "good"):
		return Status{State: StateGood}
	case strings.HasPrefix(s, "bad"):
		return Status{State: StateBad}
	case strings.HasPrefix(s, "tried "):
		n, err := strconv.Atoi(strings.TrimSpace(s[len("tried "):]))
		if err != nil || n < 1 {
			return Status{State: StateError}
		}
		if n >= MaxTries {
			return Status{State: StateBad, Tries: n}
		}
		return Status{State: StateTryable, Tries: n}
	}
	return Status{State: StateError}
}

// ReadStatus reads the status of the system in dir. A missing status file
// is StateNew; a read failure is StateError and is returned as well.
func ReadStatus(dir string) (Status, error) {
	data, err := os.ReadFile(filepath.Join(dir, statusFile))
	if errors.Is(err, fs.ErrNotExist) {
		return Status{State: StateNew}, nil
	}
	if err != nil {
		return Status{State: StateError}, err
	}
	return ParseStatus(data), nil
}

// MarkGood records that the system in dir passed probation.
func MarkGood(dir string) error { return writeStatus(dir, "good") }

// MarkBad records that the system in dir must not be run again.
func MarkBad(dir string) error { return writeStatus(dir, "bad") }

// MarkTried records that the system in dir has been launched n times. The
// write is durable before MarkTried returns.
func MarkTried(dir string, n int) error {
	return writeStatus(dir, fmt.Sprintf("tried %d", n))
}

func writeStatus(dir, s string) error {
	if err := writeFileAtomic(filepath.Join(dir, statusFile), []byte(s)); err != nil {
		return fmt.Errorf("write status: %w", err)
	}
	return nil
}
