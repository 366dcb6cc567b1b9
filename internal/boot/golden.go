package boot

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
)

// shouldInstallGolden reports whether the factory image must be installed:
// nothing is installed yet, or its version differs from the one recorded
// at the last golden install.
func (b *Boot) shouldInstallGolden(current int) (bool, error) {
	golden, err := readTrimmed(b.layout.GoldenVersionFile())
	if err != nil || golden == "" {
		if current < 0 {
			return false, ErrNoSystem
		}
		b.logger.Error("golden system is malformed, ignoring it", "path", b.layout.GoldenVersionFile())
		return false, nil
	}
	if current < 0 {
		b.logger.Info("no systems are installed yet")
		return true, nil
	}
	installed, _ := readTrimmed(b.layout.InstalledVersionFile)
	if installed != golden {
		b.logger.Info("golden system is new, installing it", "version", golden, "installed", installed)
		return true, nil
	}
	return false, nil
}

func (b *Boot) currentIsGolden() bool {
	golden, err := readTrimmed(b.layout.GoldenVersionFile())
	if err != nil || golden == "" {
		return false
	}
	current, err := readTrimmed(filepath.Join(b.layout.Current(), versionFile))
	return err == nil && current == golden
}

// InstallGolden builds a new system from the factory image with an index
// above every existing one, marks it good and makes it current. Older
// systems are deleted. The installed version is recorded last, so an
// interrupted install is redone on the next boot.
func (b *Boot) InstallGolden(newest, current int) (int, error) {
	l := b.layout
	if exists(l.Current()) && current >= 0 {
		if err := renameDir(l.Current(), l.System(current)); err != nil {
			return -1, err
		}
		if current > newest {
			newest = current
		}
	}
	index := newest + 1
	b.logger.Info("installing golden system", "index", index)

	if err := os.RemoveAll(l.System(index)); err != nil {
		return -1, fmt.Errorf("clear %s: %w", l.System(index), err)
	}
	if err := b.buildUnpackFromGolden(index); err != nil {
		return -1, fmt.Errorf("build golden system: %w", err)
	}
	if newest >= 0 {
		if err := importConfig(filepath.Join(l.System(newest), "config"), filepath.Join(l.Unpack(), "config")); err != nil {
			b.logger.Error("cannot import previous configuration", "from", newest, "error", err)
		}
	}
	if err := renameDir(l.Unpack(), l.Current()); err != nil {
		return -1, err
	}
	if err := b.Trim(index); err != nil {
		b.logger.Error("cannot delete old systems", "error", err)
	}
	b.requestLibraryCache("need_ldconfig")
	os.Remove(l.BootCountFile)
	b.opts.Sync()

	version, err := os.ReadFile(l.GoldenVersionFile())
	if err != nil {
		return -1, fmt.Errorf("read golden version: %w", err)
	}
	if err := writeFileAtomic(l.InstalledVersionFile, version); err != nil {
		b.logger.Error("failed to mark the golden system installed", "error", err)
	}
	return index, nil
}

func (b *Boot) buildUnpackFromGolden(index int) error {
	l := b.layout
	golden := l.GoldenSystem()
	unpack := l.Unpack()

	for _, dir := range []string{l.SystemsDir, unpack, filepath.Join(unpack, "config"), l.AppsDir} {
		if err := os.MkdirAll(dir, 0775); err != nil {
			return err
		}
	}
	for _, name := range []string{"bin", "lib", "apps"} {
		src := filepath.Join(golden, name)
		if !exists(src) {
			continue
		}
		if err := os.Symlink(src, filepath.Join(unpack, name)); err != nil {
			return err
		}
	}
	entries, err := os.ReadDir(filepath.Join(golden, "config"))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	for _, e := range entries {
		if err := os.Symlink(filepath.Join(golden, "config", e.Name()), filepath.Join(unpack, "config", e.Name())); err != nil {
			return err
		}
	}

	for _, name := range []string{versionFile, infoFile} {
		data, err := os.ReadFile(filepath.Join(golden, name))
		if errors.Is(err, fs.ErrNotExist) && name == infoFile {
			continue
		}
		if err != nil {
			return err
		}
		if err := os.WriteFile(filepath.Join(unpack, name), data, 0644); err != nil {
			return err
		}
	}
	if err := writeFileAtomic(filepath.Join(unpack, indexFile), []byte(strconv.Itoa(index))); err != nil {
		return err
	}
	return MarkGood(unpack)
}

// importConfig copies the files of a previous system's config tree that
// the new system does not provide itself.
func importConfig(src, dst string) error {
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) && path == src {
				return filepath.SkipDir
			}
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0775)
		}
		if !d.Type().IsRegular() || exists(target) {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		return os.WriteFile(target, data, 0664)
	})
}

// Trim deletes every indexed system older than keep.
func (b *Boot) Trim(keep int) error {
	entries, err := os.ReadDir(b.layout.SystemsDir)
	if err != nil {
		return err
	}
	var errs []error
	for _, e := range entries {
		i := systemIndex(e.Name())
		if !e.IsDir() || i < 0 || i >= keep {
			continue
		}
		b.logger.Info("deleting old system", "index", i)
		if err := os.RemoveAll(b.layout.System(i)); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
