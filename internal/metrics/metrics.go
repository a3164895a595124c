package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	gatewayRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pullpilot",
			Subsystem: "gateway",
			Name:      "requests_total",
			Help:      "Gateway calls by operation and outcome (ok, rejected, unreachable, session_expired).",
		}, []string{"operation", "outcome"},
	)
	gatewayDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "pullpilot",
			Subsystem: "gateway",
			Name:      "request_duration_seconds",
			Help:      "Latency of gateway calls.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"},
	)
	updates = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pullpilot",
			Subsystem: "update",
			Name:      "requests_total",
			Help:      "Update requests issued by target (unit name or GLOBAL) and outcome.",
		}, []string{"target", "outcome"},
	)
	pollTicks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pullpilot",
			Subsystem: "poller",
			Name:      "checks_total",
			Help:      "Progress checks by outcome (running, drained, idle, stale, error, dropped).",
		}, []string{"outcome"},
	)
	pollActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "pullpilot",
			Subsystem: "poller",
			Name:      "active",
			Help:      "1 while the progress timer is running.",
		},
	)
	unitsByStatus = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "pullpilot",
			Subsystem: "fleet",
			Name:      "units",
			Help:      "Units in the last snapshot by status.",
		}, []string{"status"},
	)
	sourceMode = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "pullpilot",
			Subsystem: "fleet",
			Name:      "source_mode",
			Help:      "Active data source (1 = active).",
		}, []string{"mode"},
	)
	sessionExpired = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "pullpilot",
			Subsystem: "session",
			Name:      "expired_total",
			Help:      "Session expiry signals that triggered a login redirect.",
		},
	)
	archived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pullpilot",
			Subsystem: "history",
			Name:      "archived_total",
			Help:      "History records forwarded to the archive sink.",
		}, []string{"outcome"},
	)
	cronRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pullpilot",
			Subsystem: "cron",
			Name:      "runs_total",
			Help:      "Background job runs by job and outcome (ok, error, skipped).",
		}, []string{"job", "outcome"},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{gatewayRequests, gatewayDuration, updates, pollTicks, pollActive, unitsByStatus, sourceMode, sessionExpired, archived, cronRuns}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler returns an http.Handler that serves Prometheus metrics for the DefaultGatherer.
func Handler() http.Handler { return promhttp.Handler() }

// Below are lightweight helpers used by internal packages to record metrics.
// They no-op if Register hasn't been called.

func ObserveRequest(operation, outcome string, seconds float64) {
	if regOK.Load() {
		gatewayRequests.WithLabelValues(operation, outcome).Inc()
		gatewayDuration.WithLabelValues(operation).Observe(seconds)
	}
}

func IncUpdate(target, outcome string) {
	if regOK.Load() {
		updates.WithLabelValues(target, outcome).Inc()
	}
}

func IncPollCheck(outcome string) {
	if regOK.Load() {
		pollTicks.WithLabelValues(outcome).Inc()
	}
}

func SetPollActive(active bool) {
	if regOK.Load() {
		pollActive.Set(boolValue(active))
	}
}

// SetUnits replaces the per-status unit gauge. Statuses absent from counts
// are reset to zero.
func SetUnits(counts map[string]int) {
	if !regOK.Load() {
		return
	}
	unitsByStatus.Reset()
	for status, n := range counts {
		unitsByStatus.WithLabelValues(status).Set(float64(n))
	}
}

func SetMode(mode string) {
	if regOK.Load() {
		sourceMode.Reset()
		sourceMode.WithLabelValues(mode).Set(1)
	}
}

func IncSessionExpired() {
	if regOK.Load() {
		sessionExpired.Inc()
	}
}

func AddArchived(outcome string, n int) {
	if regOK.Load() && n > 0 {
		archived.WithLabelValues(outcome).Add(float64(n))
	}
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// IncCronRun counts a background job tick.
func IncCronRun(job, outcome string) {
	if regOK.Load() {
		cronRuns.WithLabelValues(job, outcome).Inc()
	}
}
