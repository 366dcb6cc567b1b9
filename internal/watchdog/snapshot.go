package watchdog

import "sort"

// Entry describes one watchdog for listings.
type Entry struct {
	PID             int    `json:"pid" yaml:"pid"`
	App             string `json:"app,omitempty" yaml:"app,omitempty"`
	Proc            string `json:"proc,omitempty" yaml:"proc,omitempty"`
	Mandatory       bool   `json:"mandatory" yaml:"mandatory"`
	KickInterval    int64  `json:"kick_interval_ms" yaml:"kick_interval_ms"`
	MaxKickInterval int64  `json:"max_kick_interval_ms" yaml:"max_kick_interval_ms"`
	Running         bool   `json:"running" yaml:"running"`
	State           string `json:"state" yaml:"state"`
}

// Watchdog states reported in Entry.State.
const (
	StateAttached = "attached"
	StateDetached = "detached"
	StateDisabled = "disabled"
)

// Snapshot lists every watchdog: mandatory ones ordered by app and process,
// then plain ones ordered by pid.
func (r *Registry) Snapshot() []Entry {
	out := make([]Entry, 0, len(r.byPid)+len(r.byAppProc))

	keys := make([]AppProcKey, 0, len(r.byAppProc))
	for k := range r.byAppProc {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].App != keys[j].App {
			return keys[i].App < keys[j].App
		}
		return keys[i].Proc < keys[j].Proc
	})
	for _, k := range keys {
		m := r.byAppProc[k]
		e := entryOf(&m.Watchdog)
		e.App, e.Proc = k.App, k.Proc
		out = append(out, e)
	}

	var pids []int
	for pid, w := range r.byPid {
		if w.mandatory == nil {
			pids = append(pids, pid)
		}
	}
	sort.Ints(pids)
	for _, pid := range pids {
		out = append(out, entryOf(r.byPid[pid]))
	}
	return out
}

func entryOf(w *Watchdog) Entry {
	e := Entry{
		PID:             w.pid,
		Mandatory:       w.mandatory != nil,
		KickInterval:    toMillis(w.kickInterval),
		MaxKickInterval: toMillis(w.maxKickInterval),
		Running:         w.timer.IsRunning(),
	}
	switch {
	case w.pid == NoProc:
		e.State = StateDetached
	case !e.Running:
		e.State = StateDisabled
	default:
		e.State = StateAttached
	}
	return e
}
