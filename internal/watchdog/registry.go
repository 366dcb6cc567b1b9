package watchdog

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/kahiteam/wdog/internal/clock"
	"github.com/kahiteam/wdog/internal/events"
)

// FrameworkApp is the app name of the framework daemon watchdogs.
const FrameworkApp = "framework"

// ErrExists is returned when a mandatory watchdog is created twice.
var ErrExists = errors.New("mandatory watchdog already exists")

// FrameworkDaemon names a framework daemon and its watchdog timeout.
type FrameworkDaemon struct {
	Name    string
	Timeout int
}

// Registry tracks every watchdog of the daemon. It is not safe for
// concurrent use; see Service.
type Registry struct {
	opts   Options
	logger *slog.Logger

	// byPid holds every attached watchdog, plain or mandatory.
	byPid map[int]*Watchdog
	// byAppProc holds every mandatory watchdog, attached or not.
	byAppProc map[AppProcKey]*MandatoryWatchdog

	kicker   *clock.Timer
	shutdown bool
}

// NewRegistry creates an empty registry. Call Start to create the
// configured mandatory watchdogs and begin servicing the platform watchdog.
func NewRegistry(opts Options) *Registry {
	opts.setDefaults()
	return &Registry{
		opts:      opts,
		logger:    opts.Logger,
		byPid:     make(map[int]*Watchdog),
		byAppProc: make(map[AppProcKey]*MandatoryWatchdog),
	}
}

// Start creates the framework watchdogs, installs the mandatory watchdogs of
// every listed app, starts the external kicker and initializes the platform
// watchdog.
func (r *Registry) Start(apps []string, framework []FrameworkDaemon) error {
	for _, d := range framework {
		if err := r.CreateMandatoryWatchdog(FrameworkApp, d.Name, d.Timeout); err != nil {
			return fmt.Errorf("framework watchdog %s: %w", d.Name, err)
		}
	}
	if len(apps) == 0 {
		r.logger.Warn("no applications installed")
	}
	for _, app := range apps {
		r.InstallApp(app)
	}
	r.startExternalKicker()
	if r.opts.Platform != nil {
		if err := r.opts.Platform.Init(); err != nil {
			return fmt.Errorf("init platform watchdog: %w", err)
		}
	}
	r.logger.Info("watchdog service is ready", "external_kick_interval", r.opts.ExternalKickInterval)
	return nil
}

// Stop halts the external kicker and every watchdog timer.
func (r *Registry) Stop() {
	if r.kicker != nil {
		r.kicker.Stop()
	}
	for _, w := range r.byPid {
		w.timer.Stop()
	}
	for _, m := range r.byAppProc {
		m.timer.Stop()
	}
}

// SetPolicy replaces the configuration used for new watchdogs. Watchdogs
// that already exist keep their intervals.
func (r *Registry) SetPolicy(p Policy) { r.opts.Policy = p }

// Kick refreshes the lease of pid using its configured kick interval.
func (r *Registry) Kick(pid int) {
	r.reset(pid, TimeoutKick)
}

// Timeout refreshes the lease of pid for this period only. The next Kick
// reverts to the configured interval. TimeoutNow expires the watchdog at
// once; TimeoutNever disables it until the next call. Other negative values
// are rejected.
func (r *Registry) Timeout(pid int, ms int32) {
	if ms < 0 && ms != TimeoutNever {
		r.logger.Error("invalid watchdog timeout", "pid", pid, "milliseconds", ms)
		return
	}
	r.reset(pid, ms)
}

func (r *Registry) reset(pid int, timeout int32) {
	w := r.lookupOrCreate(pid)
	w.timer.Stop()

	var ms uint32
	if timeout == TimeoutKick {
		ms = w.kickInterval
	} else {
		ms = uint32(timeout)
		if ms > w.maxKickInterval {
			r.logger.Warn("capping watchdog timeout",
				"pid", pid,
				"requested", formatMillis(ms),
				"max", formatMillis(w.maxKickInterval),
			)
			ms = w.maxKickInterval
		}
	}
	if r.opts.Metrics != nil {
		r.opts.Metrics.IncKick()
	}

	if ms == never {
		r.logger.Debug("watchdog timeout set to never", "pid", pid)
		return
	}
	w.timer.SetInterval(millis(ms))
	w.timer.Start()
}

// OnClientDisconnect releases the watchdog of a process whose session
// closed. A plain watchdog is deleted; a mandatory one is detached and given
// its max interval for the next instance to attach.
func (r *Registry) OnClientDisconnect(pid int) {
	w, ok := r.byPid[pid]
	if !ok {
		r.logger.Debug("watchdog already freed", "pid", pid)
		return
	}
	r.logger.Debug("cleaning up watchdog", "pid", pid)
	r.release(w)
}

// release removes an attached watchdog from the pid map.
func (r *Registry) release(w *Watchdog) {
	delete(r.byPid, w.pid)
	w.timer.Stop()
	if w.mandatory != nil {
		w.pid = NoProc
		w.timer.SetInterval(millis(w.maxKickInterval))
		w.timer.Start()
	}
	r.updateGauges()
}

func (r *Registry) lookupOrCreate(pid int) *Watchdog {
	if w, ok := r.byPid[pid]; ok {
		return w
	}
	w := r.create(pid)
	r.byPid[pid] = w
	r.updateGauges()
	return w
}

// create builds the watchdog of a process seen for the first time, adopting
// the mandatory watchdog of its app and process name when there is one.
func (r *Registry) create(pid int) *Watchdog {
	app, appErr := r.appName(pid)
	proc, procErr := r.processName(pid)

	if appErr == nil && procErr == nil {
		if m, ok := r.byAppProc[AppProcKey{App: app, Proc: proc}]; ok {
			r.logger.Debug("attaching process to mandatory watchdog", "pid", pid, "key", m.key.String())
			m.timer.Stop()
			if m.pid != NoProc && m.pid != pid {
				r.logger.Warn("mandatory watchdog moved to a new process",
					"key", m.key.String(), "old_pid", m.pid, "pid", pid)
				delete(r.byPid, m.pid)
			}
			m.pid = pid
			return &m.Watchdog
		}
	}
	if procErr != nil {
		proc = ""
	}

	w := &Watchdog{
		pid:             pid,
		kickInterval:    r.configuredKickInterval(pid, app, appErr, proc),
		maxKickInterval: never,
	}
	w.timer = r.newTimer(w)
	r.logger.Debug("new watchdog", "pid", pid, "kick_interval", formatMillis(w.kickInterval))
	return w
}

func (r *Registry) configuredKickInterval(pid int, app string, appErr error, proc string) uint32 {
	if appErr != nil {
		r.logger.Warn("unknown app requested watchdog, using default timeout",
			"pid", pid, "timeout_ms", DefaultTimeout)
		return DefaultTimeout
	}
	ms, level := 0, ""
	if r.opts.Policy != nil {
		ms, level = r.opts.Policy.KickTimeout(app, proc)
	}
	switch level {
	case "proc":
		r.logger.Debug("watchdog timeout configured", "app", app, "proc", proc, "timeout_ms", ms)
	case "app":
		r.logger.Info("no watchdog timeout configured for process, using app timeout",
			"app", app, "proc", proc, "timeout_ms", ms)
	default:
		r.logger.Warn("no watchdog timeout configured, using default",
			"app", app, "timeout_ms", DefaultTimeout)
		ms = DefaultTimeout
	}
	return uint32(int32(ms))
}

func (r *Registry) appName(pid int) (string, error) {
	if r.opts.Inspector == nil {
		return "", ErrNotFound
	}
	return r.opts.Inspector.AppName(pid)
}

func (r *Registry) processName(pid int) (string, error) {
	if r.opts.Inspector == nil {
		return "", ErrNotFound
	}
	return r.opts.Inspector.ProcessName(pid)
}

func (r *Registry) newTimer(w *Watchdog) *clock.Timer {
	return clock.NewTimer(r.opts.Clock, r.opts.Dispatch, func(*clock.Timer) {
		r.handleExpiry(w)
	})
}

// CreateMandatoryWatchdog registers a watchdog for {app, proc} that has no
// process attached yet. Its timer starts at once with maxMs so the process
// has its full grace period to make the first kick. maxMs may be
// TimeoutNever.
func (r *Registry) CreateMandatoryWatchdog(app, proc string, maxMs int) error {
	if maxMs == 0 || (maxMs < 0 && int32(maxMs) != TimeoutNever) {
		return fmt.Errorf("invalid max watchdog timeout %d for [%s][%s]", maxMs, app, proc)
	}
	key := AppProcKey{App: app, Proc: proc}
	if _, ok := r.byAppProc[key]; ok {
		return fmt.Errorf("%s: %w", key, ErrExists)
	}

	m := &MandatoryWatchdog{key: key}
	m.pid = NoProc
	m.kickInterval = uint32(int32(maxMs))
	m.maxKickInterval = m.kickInterval
	m.mandatory = m
	m.timer = r.newTimer(&m.Watchdog)
	r.byAppProc[key] = m

	r.logger.Info("creating mandatory watchdog", "key", key.String(), "timeout", formatMillis(m.maxKickInterval))
	m.timer.SetInterval(millis(m.kickInterval))
	m.timer.Start()
	r.updateGauges()
	return nil
}

// DeleteAllMandatoryWatchdogsForApp stops and removes every mandatory
// watchdog of an app and returns how many were removed.
func (r *Registry) DeleteAllMandatoryWatchdogsForApp(app string) int {
	n := 0
	for key, m := range r.byAppProc {
		if key.App != app {
			continue
		}
		m.timer.Stop()
		delete(r.byAppProc, key)
		if m.pid != NoProc && r.byPid[m.pid] == &m.Watchdog {
			delete(r.byPid, m.pid)
		}
		r.logger.Info("removed mandatory watchdog", "key", key.String())
		n++
	}
	if n > 0 {
		r.updateGauges()
	}
	return n
}

// InstallApp creates the mandatory watchdogs an app is configured with and
// returns how many were created. Existing ones are left alone.
func (r *Registry) InstallApp(app string) int {
	if r.opts.Policy == nil {
		return 0
	}
	procs := r.opts.Policy.MandatoryWatchdogs(app)
	names := make([]string, 0, len(procs))
	for name := range procs {
		names = append(names, name)
	}
	sort.Strings(names)

	n := 0
	for _, proc := range names {
		err := r.CreateMandatoryWatchdog(app, proc, procs[proc])
		if errors.Is(err, ErrExists) {
			continue
		}
		if err != nil {
			r.logger.Error("cannot create mandatory watchdog", "app", app, "proc", proc, "error", err)
			continue
		}
		n++
	}
	r.publish(events.AppInstalled, map[string]string{"app": app, "watchdogs": fmt.Sprint(n)})
	return n
}

// UninstallApp removes the mandatory watchdogs of an app.
func (r *Registry) UninstallApp(app string) int {
	n := r.DeleteAllMandatoryWatchdogsForApp(app)
	r.publish(events.AppUninstalled, map[string]string{"app": app, "watchdogs": fmt.Sprint(n)})
	return n
}

// KickFramework restarts the watchdog of a framework daemon.
func (r *Registry) KickFramework(daemon string) error {
	m, ok := r.byAppProc[AppProcKey{App: FrameworkApp, Proc: daemon}]
	if !ok {
		return fmt.Errorf("framework daemon %q: %w", daemon, ErrNotFound)
	}
	m.timer.Restart()
	if r.opts.Metrics != nil {
		r.opts.Metrics.IncKick()
	}
	return nil
}

// GetWatchdogTimeout returns the kick interval of pid in milliseconds. A
// process with no watchdog yet reports the interval its first kick would
// use. A disabled interval is reported as TimeoutNever.
func (r *Registry) GetWatchdogTimeout(pid int) (int64, error) {
	kick, _ := r.peek(pid)
	return toMillis(kick), nil
}

// GetMaxWatchdogTimeout returns the max kick interval of pid. Watchdogs
// without a bound report ErrNotFound.
func (r *Registry) GetMaxWatchdogTimeout(pid int) (int64, error) {
	_, limit := r.peek(pid)
	if limit == never {
		return 0, ErrNotFound
	}
	return toMillis(limit), nil
}

// peek returns the intervals pid's watchdog has, or would have on its first
// kick, without creating or attaching anything. Attaching a mandatory
// watchdog stops its timer, which only a kick may do.
func (r *Registry) peek(pid int) (kick, limit uint32) {
	if w, ok := r.byPid[pid]; ok {
		return w.kickInterval, w.maxKickInterval
	}
	app, appErr := r.appName(pid)
	proc, procErr := r.processName(pid)
	if appErr == nil && procErr == nil {
		if m, ok := r.byAppProc[AppProcKey{App: app, Proc: proc}]; ok {
			return m.kickInterval, m.maxKickInterval
		}
	}
	if procErr != nil {
		proc = ""
	}
	return r.configuredKickInterval(pid, app, appErr, proc), never
}

func toMillis(ms uint32) int64 {
	if ms == never {
		return int64(TimeoutNever)
	}
	return int64(ms)
}

func (r *Registry) publish(t events.EventType, data map[string]string) {
	if r.opts.Bus != nil {
		r.opts.Bus.Publish(events.Event{Type: t, Timestamp: r.opts.Clock.Now(), Data: data})
	}
}

func (r *Registry) updateGauges() {
	if r.opts.Metrics == nil {
		return
	}
	plain := 0
	for _, w := range r.byPid {
		if w.mandatory == nil {
			plain++
		}
	}
	r.opts.Metrics.SetWatchdogs("plain", plain)
	r.opts.Metrics.SetWatchdogs("mandatory", len(r.byAppProc))
}
