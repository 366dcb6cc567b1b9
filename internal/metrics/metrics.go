// Package metrics collects and exposes Prometheus metrics for wdog.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector holds the wdog Prometheus metrics. It satisfies
// watchdog.Metrics.
type Collector struct {
	registry *prometheus.Registry

	Watchdogs               *prometheus.GaugeVec
	KicksTotal              prometheus.Counter
	ExpiriesTotal           *prometheus.CounterVec
	DoubleFaultsTotal       prometheus.Counter
	ExternalKicksTotal      prometheus.Counter
	ExternalKickFailures    prometheus.Counter
	DaemonUptime            prometheus.Gauge
	ConfigReloadTotal       prometheus.Counter
	ConfigReloadErrorsTotal prometheus.Counter
	BuildInfo               *prometheus.GaugeVec
}

// New creates and registers all wdog metrics.
func New() *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	c := &Collector{
		registry: reg,

		Watchdogs: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "wdog_watchdogs",
				Help: "Number of registered watchdogs by kind.",
			},
			[]string{"kind"},
		),
		KicksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wdog_kicks_total",
			Help: "Total number of kicks and timeout changes received.",
		}),
		ExpiriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wdog_expiries_total",
				Help: "Total number of watchdog expiries with a process attached.",
			},
			[]string{"kind"},
		),
		DoubleFaultsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wdog_double_faults_total",
			Help: "Total number of mandatory watchdog double faults.",
		}),
		ExternalKicksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wdog_external_kicks_total",
			Help: "Total number of external watchdog kicks.",
		}),
		ExternalKickFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wdog_external_kick_failures_total",
			Help: "Total number of external kick checks that found a failed watchdog.",
		}),
		DaemonUptime: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "wdog_daemon_uptime_seconds",
			Help: "Uptime of the watchdog daemon in seconds.",
		}),
		ConfigReloadTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wdog_config_reload_total",
			Help: "Total number of config reloads.",
		}),
		ConfigReloadErrorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wdog_config_reload_errors_total",
			Help: "Total number of failed config reloads.",
		}),
		BuildInfo: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "wdog_info",
				Help: "Build information about wdog.",
			},
			[]string{"version", "go_version"},
		),
	}

	reg.MustRegister(
		c.Watchdogs,
		c.KicksTotal,
		c.ExpiriesTotal,
		c.DoubleFaultsTotal,
		c.ExternalKicksTotal,
		c.ExternalKickFailures,
		c.DaemonUptime,
		c.ConfigReloadTotal,
		c.ConfigReloadErrorsTotal,
		c.BuildInfo,
	)
	return c
}

// Handler returns an http.Handler that serves the /metrics endpoint.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// SetBuildInfo sets the constant build info gauge.
func (c *Collector) SetBuildInfo(version, goVersion string) {
	c.BuildInfo.WithLabelValues(version, goVersion).Set(1)
}

// SetWatchdogs sets the number of watchdogs of a kind.
func (c *Collector) SetWatchdogs(kind string, n int) {
	c.Watchdogs.WithLabelValues(kind).Set(float64(n))
}

// IncKick counts a kick.
func (c *Collector) IncKick() { c.KicksTotal.Inc() }

// IncExpiry counts an expiry of a plain or mandatory watchdog.
func (c *Collector) IncExpiry(kind string) { c.ExpiriesTotal.WithLabelValues(kind).Inc() }

// IncDoubleFault counts a double fault.
func (c *Collector) IncDoubleFault() { c.DoubleFaultsTotal.Inc() }

// IncExternalKick counts a platform watchdog kick.
func (c *Collector) IncExternalKick() { c.ExternalKicksTotal.Inc() }

// IncExternalKickFailure counts a failed external kick check.
func (c *Collector) IncExternalKickFailure() { c.ExternalKickFailures.Inc() }

// SetDaemonUptime sets the daemon uptime gauge.
func (c *Collector) SetDaemonUptime(seconds float64) { c.DaemonUptime.Set(seconds) }

// IncConfigReload increments the config reload counter.
func (c *Collector) IncConfigReload() { c.ConfigReloadTotal.Inc() }

// IncConfigReloadError increments the config reload error counter.
func (c *Collector) IncConfigReloadError() { c.ConfigReloadErrorsTotal.Inc() }
