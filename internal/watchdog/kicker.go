package watchdog

import (
	"github.com/kahiteam/wdog/internal/clock"
	"github.com/kahiteam/wdog/internal/events"
)

func (r *Registry) startExternalKicker() {
	if r.kicker == nil {
		r.kicker = clock.NewTimer(r.opts.Clock, r.opts.Dispatch, func(*clock.Timer) {
			r.externalKick()
		})
		r.kicker.SetRepeating(true)
	}
	r.kicker.SetInterval(r.opts.ExternalKickInterval)
	r.kicker.Start()
}

// KickerRunning reports whether the external kicker is armed.
func (r *Registry) KickerRunning() bool {
	return r.kicker != nil && r.kicker.IsRunning()
}

// alive reports whether a watchdog is doing its job: it is either disabled
// forever or counting down.
func (w *Watchdog) alive() bool {
	return w.timer != nil && (w.maxKickInterval == never || w.timer.IsRunning())
}

// Healthy checks every watchdog in both maps. Mandatory watchdogs are
// checked on their own as well, so one dropped from the pid map is still
// seen.
func (r *Registry) Healthy() bool {
	for _, w := range r.byPid {
		if !w.alive() {
			return false
		}
	}
	for _, m := range r.byAppProc {
		if !m.alive() {
			return false
		}
	}
	return true
}

// externalKick services the platform watchdog when every watchdog is
// healthy. Otherwise the daemon is terminated without kicking, leaving the
// platform watchdog to reset the device.
func (r *Registry) externalKick() {
	if !r.Healthy() {
		if r.opts.Metrics != nil {
			r.opts.Metrics.IncExternalKickFailure()
		}
		r.publish(events.ExternalKickFailed, nil)
		r.kicker.Stop()
		r.opts.Fatal("one or more watchdogs have failed")
		return
	}
	r.logger.Debug("kick external watchdog")
	if r.opts.Platform != nil {
		if err := r.opts.Platform.Kick(); err != nil {
			r.logger.Error("external watchdog kick failed", "error", err)
			return
		}
	}
	if r.opts.Metrics != nil {
		r.opts.Metrics.IncExternalKick()
	}
}
