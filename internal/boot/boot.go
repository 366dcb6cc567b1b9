package boot

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/kahiteam/wdog/internal/logging"
	"github.com/kahiteam/wdog/internal/process"
)

var (
	// ErrNoPreviousVersion is returned when a revert finds no other system.
	ErrNoPreviousVersion = errors.New("no previous system to revert to")
	// ErrRevertGood is returned when asked to revert a good system.
	ErrRevertGood = errors.New("cannot revert a good system")
	// ErrGoldenBootLoop stops the boot when the factory system itself keeps
	// rebooting.
	ErrGoldenBootLoop = errors.New("golden system entered boot loop")
	// ErrNoSystem is returned when nothing is installed and the golden
	// image cannot be read.
	ErrNoSystem = errors.New("no installable system found")
	// ErrRebootDisabled is returned instead of rebooting when the no-reboot
	// debug file exists.
	ErrRebootDisabled = errors.New("reboot is disabled")
	// ErrRebooting is returned once a reboot has been requested.
	ErrRebooting = errors.New("system is rebooting")
)

// maxFixUps bounds the fix-up loop of Prepare.
const maxFixUps = 16

// Options configure a Boot.
type Options struct {
	Layout   Layout
	Runner   Runner
	Rebooter Rebooter

	// Spawner runs LdconfigCommand. Nil skips the command.
	Spawner         process.Spawner
	LdconfigCommand string

	// Capture holds the supervisor output; its last ConsoleLines lines are
	// written to Console before a crash reboot.
	Capture      *logging.CaptureWriter
	ConsoleLines int
	Console      io.Writer

	Logger *slog.Logger
	Now    func() time.Time
	Sync   func()
}

// Boot selects, repairs and launches system images.
type Boot struct {
	opts   Options
	layout Layout
	logger *slog.Logger

	// lastExit is the previous supervisor exit code, -1 before the first
	// launch.
	lastExit int
}

// New creates a Boot.
func New(opts Options) *Boot {
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Sync == nil {
		opts.Sync = syncFilesystems
	}
	if opts.Console == nil {
		opts.Console = os.Stderr
	}
	return &Boot{opts: opts, layout: opts.Layout, logger: opts.Logger, lastExit: -1}
}

// Run prepares and launches the current system until the supervisor stops
// cleanly or a fatal condition is reached.
func (b *Boot) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := b.Prepare(ctx); err != nil {
			return err
		}
		done, err := b.Launch(ctx)
		if done || err != nil {
			return err
		}
	}
}

// Prepare removes stale staging directories, runs the fix-up pass until
// the layout is consistent, installs the golden system when needed and
// rebuilds the library cache when requested.
func (b *Boot) Prepare(ctx context.Context) error {
	for i := 0; ; i++ {
		if i == maxFixUps {
			return errors.New("fix-up pass did not converge")
		}
		b.deleteStale()
		changed, err := b.FixUp()
		if err != nil {
			return err
		}
		if !changed {
			break
		}
	}

	newest, err := FindNewest(b.layout.SystemsDir)
	if err != nil {
		return err
	}
	current := b.currentIndex()

	switch {
	case current >= 0 && b.bootLooping():
		if b.currentIsGolden() {
			os.Remove(b.layout.BootCountFile)
			logging.Critical(b.logger, "golden system entered boot loop, not starting")
			return ErrGoldenBootLoop
		}
		b.logger.Warn("a good system has entered a reboot loop, reinstalling golden")
		if _, err := b.InstallGolden(newest, current); err != nil {
			return err
		}
	default:
		install, err := b.shouldInstallGolden(current)
		if err != nil {
			return err
		}
		if install {
			if _, err := b.InstallGolden(newest, current); err != nil {
				return err
			}
		}
	}

	b.updateLibraryCache(ctx)
	return nil
}

func (b *Boot) deleteStale() {
	for _, dir := range []string{b.layout.Unpack(), b.layout.AppsUnpack()} {
		if err := os.RemoveAll(dir); err != nil {
			logging.Critical(b.logger, "failed to delete staging directory", "path", dir, "error", err)
		}
	}
}

func (b *Boot) currentIndex() int {
	i, err := ReadIndex(b.layout.Current())
	if err != nil {
		return -1
	}
	return i
}

func (b *Boot) bootLooping() bool {
	st, _ := ReadStatus(b.layout.Current())
	if st.State != StateGood {
		return false
	}
	return ReadBootCount(b.layout.BootCountFile, b.opts.Now()) >= MaxTries
}

// FixUp completes or undoes an interrupted change of the current binding.
// It reports whether anything changed; the caller repeats it until nothing
// does.
func (b *Boot) FixUp() (bool, error) {
	l := b.layout
	newest, err := FindNewest(l.SystemsDir)
	if err != nil {
		return false, err
	}
	cur := l.Current()

	if !exists(cur) {
		if newest < 0 {
			return false, nil
		}
		b.logger.Warn("previous update interrupted, attempting to recover", "index", newest)
		if err := renameDir(l.System(newest), cur); err != nil {
			return false, err
		}
		return true, nil
	}

	current, err := ReadIndex(cur)
	if err != nil {
		b.logger.Error("current system has no valid index, discarding it", "error", err)
		if err := renameDir(cur, l.Unpack()); err != nil {
			return false, err
		}
		return true, nil
	}

	switch {
	case newest == current:
		b.logger.Error("system failed modification, reverting", "index", current)
		err := b.Revert()
		if errors.Is(err, ErrRevertGood) {
			b.logger.Warn("current system is good, removing stale copy", "index", current)
			if err := os.RemoveAll(l.System(current)); err != nil {
				return false, fmt.Errorf("remove %s: %w", l.System(current), err)
			}
			return true, nil
		}
		if err != nil {
			return false, err
		}
		return true, nil
	case newest > current:
		b.logger.Info("finishing system update", "from", current, "to", newest)
		if err := renameDir(cur, l.System(current)); err != nil {
			return false, err
		}
		if err := renameDir(l.System(newest), cur); err != nil {
			return false, err
		}
		b.requestLibraryCache("need_ldconfig")
		return true, nil
	}
	return false, nil
}

// Revert replaces a current system that is not good with the newest
// indexed system.
func (b *Boot) Revert() error {
	l := b.layout
	cur := l.Current()
	if st, _ := ReadStatus(cur); st.State == StateGood {
		return ErrRevertGood
	}
	prev, err := FindNewest(l.SystemsDir)
	if err != nil {
		return err
	}
	if prev < 0 {
		b.logger.Error("trying to revert but no previous system to revert to")
		return ErrNoPreviousVersion
	}
	b.logger.Warn("reverting to previous system", "index", prev)

	// Parked in unpack, the old system is deleted on the next pass even
	// if the revert is interrupted here.
	if exists(cur) {
		if err := renameDir(cur, l.Unpack()); err != nil {
			return err
		}
	}
	if err := renameDir(l.System(prev), cur); err != nil {
		return err
	}
	if err := os.RemoveAll(l.Unpack()); err != nil {
		b.logger.Error("failed to delete reverted system", "error", err)
	}
	b.requestLibraryCache("revert_ldconfig")
	return nil
}

func (b *Boot) requestLibraryCache(reason string) {
	if err := writeFileAtomic(b.layout.LdconfigMarker(), []byte(reason)); err != nil {
		b.logger.Error("cannot request library cache update", "error", err)
	}
}

// updateLibraryCache runs the ldconfig command while its marker exists.
// The marker is only removed once the command succeeded.
func (b *Boot) updateLibraryCache(ctx context.Context) {
	marker := b.layout.LdconfigMarker()
	if !exists(marker) {
		return
	}
	if b.opts.LdconfigCommand == "" || b.opts.Spawner == nil {
		os.Remove(marker)
		return
	}
	if ctx.Err() != nil {
		return
	}
	b.logger.Info("updating library cache", "command", b.opts.LdconfigCommand)
	code, err := runShell(b.opts.Spawner, b.opts.LdconfigCommand, nil)
	if err != nil || code != 0 {
		b.logger.Error("library cache update failed", "exit_code", code, "error", err)
		return
	}
	os.Remove(marker)
}

// Launch runs the current system once. It returns true when the boot
// program should exit.
func (b *Boot) Launch(ctx context.Context) (bool, error) {
	cur := b.layout.Current()
	st, err := ReadStatus(cur)
	if err != nil {
		b.logger.Error("cannot read system status", "error", err)
	}

	switch st.State {
	case StateGood:
	case StateTryable:
		if b.lastExit != ExitManualRestart {
			if err := MarkTried(cur, st.Tries+1); err != nil {
				return true, err
			}
		}
	case StateNew:
		b.logger.Info("creating status of new system")
		if err := MarkTried(cur, 1); err != nil {
			return true, err
		}
	default:
		if st.State == StateError {
			b.logger.Error("status file corrupted")
		} else {
			b.logger.Warn("current system is bad", "status", st.String())
		}
		if err := b.Revert(); err != nil {
			logging.Critical(b.logger, "revert failed", "error", err)
			return true, fmt.Errorf("revert: %w", err)
		}
		return false, nil
	}

	if b.lastExit != ExitManualRestart {
		now := b.opts.Now()
		count := ReadBootCount(b.layout.BootCountFile, now)
		if err := WriteBootCount(b.layout.BootCountFile, count+1, now); err != nil {
			return true, err
		}
	}
	return b.runCurrent(ctx)
}

func (b *Boot) runCurrent(ctx context.Context) (bool, error) {
	code, err := b.opts.Runner.Run(ctx, b.layout.Current())
	if err != nil {
		b.logger.Error("supervisor failed", "error", err)
		code = ExitFailure
	}
	b.lastExit = code

	switch code {
	case ExitSuccess:
		b.logger.Info("supervisor exited with success, framework stopped")
		return true, nil
	case ExitFailure:
		return true, b.rebootAfterCrash()
	case ExitRestart:
		b.logger.Info("supervisor exited with restart, framework restarting")
	case ExitManualRestart:
		b.logger.Info("supervisor exited with manual restart, framework restarting")
	default:
		logging.Critical(b.logger, "unexpected exit code from the supervisor", "exit_code", code)
	}
	return false, nil
}

func (b *Boot) rebootAfterCrash() error {
	b.opts.Sync()
	b.dumpConsole()
	b.opts.Sync()

	if exists(b.layout.NoRebootFile) {
		logging.Critical(b.logger, "reboot is disabled, exiting with failure")
		return ErrRebootDisabled
	}
	if b.opts.Rebooter == nil {
		return ErrRebootDisabled
	}
	if err := b.opts.Rebooter.Reboot(); err != nil {
		return err
	}
	return ErrRebooting
}

func (b *Boot) dumpConsole() {
	if b.opts.Capture == nil || b.opts.ConsoleLines <= 0 {
		return
	}
	lines := b.opts.Capture.TailLines(b.opts.ConsoleLines)
	if len(lines) == 0 {
		return
	}
	io.WriteString(b.opts.Console, strings.Join(lines, "\n")+"\n")
}
