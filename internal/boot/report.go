package boot

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// SystemInfo describes one installed system.
type SystemInfo struct {
	Name    string `json:"name" yaml:"name"`
	Index   int    `json:"index" yaml:"index"`
	Status  string `json:"status" yaml:"status"`
	Version string `json:"version,omitempty" yaml:"version,omitempty"`
}

// Report summarizes the systems directory for "wdog boot status".
type Report struct {
	Current          int          `json:"current" yaml:"current"`
	Newest           int          `json:"newest" yaml:"newest"`
	InstalledVersion string       `json:"installed_version,omitempty" yaml:"installed_version,omitempty"`
	GoldenVersion    string       `json:"golden_version,omitempty" yaml:"golden_version,omitempty"`
	BootCount        int          `json:"boot_count" yaml:"boot_count"`
	Systems          []SystemInfo `json:"systems" yaml:"systems"`
}

// Inspect reads the layout without changing it.
func Inspect(l Layout, now time.Time) (Report, error) {
	r := Report{Current: -1, Systems: []SystemInfo{}}
	newest, err := FindNewest(l.SystemsDir)
	if err != nil {
		return r, err
	}
	r.Newest = newest
	r.InstalledVersion, _ = readTrimmed(l.InstalledVersionFile)
	r.GoldenVersion, _ = readTrimmed(l.GoldenVersionFile())
	r.BootCount = ReadBootCount(l.BootCountFile, now)

	if exists(l.Current()) {
		r.Current, _ = ReadIndex(l.Current())
		r.Systems = append(r.Systems, describe(CurrentName, l.Current(), r.Current))
	}

	entries, err := os.ReadDir(l.SystemsDir)
	if err != nil && !os.IsNotExist(err) {
		return r, err
	}
	var indexed []SystemInfo
	for _, e := range entries {
		i := systemIndex(e.Name())
		if !e.IsDir() || i < 0 {
			continue
		}
		indexed = append(indexed, describe(e.Name(), filepath.Join(l.SystemsDir, e.Name()), i))
	}
	sort.Slice(indexed, func(a, b int) bool { return indexed[a].Index > indexed[b].Index })
	r.Systems = append(r.Systems, indexed...)
	return r, nil
}

func describe(name, dir string, index int) SystemInfo {
	st, _ := ReadStatus(dir)
	version, _ := readTrimmed(filepath.Join(dir, versionFile))
	return SystemInfo{Name: name, Index: index, Status: st.String(), Version: version}
}

// MarkCurrent writes the status of the current system. status is "good"
// or "bad".
func MarkCurrent(l Layout, status string) error {
	cur := l.Current()
	if !exists(cur) {
		return fmt.Errorf("no current system in %s", l.SystemsDir)
	}
	switch status {
	case "good":
		return MarkGood(cur)
	case "bad":
		return MarkBad(cur)
	}
	return fmt.Errorf("unknown status %q (want good or bad)", status)
}
