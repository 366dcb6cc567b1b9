package watchdog

import (
	"github.com/kahiteam/wdog/internal/events"
	"github.com/kahiteam/wdog/internal/logging"
)

// handleExpiry runs when the timer of w fires.
//
// A detached mandatory watchdog expiring is a double fault: the process was
// not restarted within its grace period. The external kicker is stopped
// before the platform is shut down so nothing can service the hardware
// watchdog afterwards.
func (r *Registry) handleExpiry(w *Watchdog) {
	if w.pid == NoProc {
		m := w.mandatory
		logging.Critical(r.logger, "mandatory watchdog double fault",
			"app", m.key.App, "proc", m.key.Proc)
		if r.opts.Metrics != nil {
			r.opts.Metrics.IncDoubleFault()
		}
		if r.kicker != nil {
			r.kicker.Stop()
		}
		r.publish(events.WatchdogDoubleFault, map[string]string{"app": m.key.App, "proc": m.key.Proc})
		if !r.shutdown {
			r.shutdown = true
			if r.opts.Platform != nil {
				r.opts.Platform.Shutdown()
			}
		}
		return
	}

	pid := w.pid
	if r.byPid[pid] != w {
		logging.Critical(r.logger, "watchdog timeout for a freed watchdog", "pid", pid)
		return
	}

	name, err := r.processName(pid)
	if err != nil {
		r.logger.Error("cannot read process name", "pid", pid, "error", err)
	}
	logging.Critical(r.logger, "proc timed out", "pid", pid, "name", name)

	kind := "plain"
	if w.mandatory != nil {
		kind = "mandatory"
	}
	if r.opts.Metrics != nil {
		r.opts.Metrics.IncExpiry(kind)
	}

	r.release(w)
	if r.opts.Reporter != nil {
		r.opts.Reporter.WatchdogTimedOut(pid)
	}
}
