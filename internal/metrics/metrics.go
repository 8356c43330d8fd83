// Package metrics exposes Prometheus instrumentation for agent runs and
// remote command execution.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "operator"

// Metrics holds all Prometheus metrics for the application.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	// Run metrics
	RunsTotal    *prometheus.CounterVec
	RunSteps     prometheus.Histogram
	RunsActive   prometheus.Gauge
	UpstreamErrs prometheus.Counter

	// Command metrics
	CommandsTotal    *prometheus.CounterVec
	CommandDuration  *prometheus.HistogramVec
	AuditWriteErrors prometheus.Counter
	SandboxUp        prometheus.Gauge

	// HTTP metrics
	RateLimitedTotal prometheus.Counter
}

// New creates and registers all metrics on a private registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,

		RunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_total",
				Help:      "Total agent runs by terminal state.",
			},
			[]string{"state"},
		),
		RunSteps: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "run_steps",
				Help:      "Completion steps taken per run.",
				Buckets:   []float64{1, 2, 3, 5, 8, 13, 20, 25, 50},
			},
		),
		RunsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "runs_active",
				Help:      "Runs currently streaming.",
			},
		),
		UpstreamErrs: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "upstream_errors_total",
				Help:      "Completion stream failures.",
			},
		),
		CommandsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "commands_total",
				Help:      "Remote commands executed by outcome class.",
			},
			[]string{"class"},
		),
		CommandDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "command_duration_seconds",
				Help:      "Remote command duration in seconds by outcome class.",
				Buckets:   []float64{0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"class"},
		),
		AuditWriteErrors: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "audit_write_errors_total",
				Help:      "Audit entries that could not be written.",
			},
		),
		SandboxUp: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "sandbox_up",
				Help:      "1 when the sandbox container was running at the last watchdog check.",
			},
		),
		RateLimitedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rate_limited_total",
				Help:      "Requests rejected by the per-client rate limiter.",
			},
		),
	}

	registry.MustRegister(
		m.RunsTotal,
		m.RunSteps,
		m.RunsActive,
		m.UpstreamErrs,
		m.CommandsTotal,
		m.CommandDuration,
		m.AuditWriteErrors,
		m.SandboxUp,
		m.RateLimitedTotal,
	)

	return m
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Registry returns the Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RunStarted increments the active run gauge.
func (m *Metrics) RunStarted() {
	if m == nil {
		return
	}
	m.RunsActive.Inc()
}

// RunFinished records a run's terminal state and step count.
func (m *Metrics) RunFinished(state string, steps int) {
	if m == nil {
		return
	}
	m.RunsActive.Dec()
	m.RunsTotal.WithLabelValues(state).Inc()
	m.RunSteps.Observe(float64(steps))
}

// UpstreamFailed counts a completion stream failure.
func (m *Metrics) UpstreamFailed() {
	if m == nil {
		return
	}
	m.UpstreamErrs.Inc()
}

// CommandExecuted records one remote command.
func (m *Metrics) CommandExecuted(class string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.CommandsTotal.WithLabelValues(class).Inc()
	m.CommandDuration.WithLabelValues(class).Observe(elapsed.Seconds())
}

// AuditWriteFailed counts a failed audit write.
func (m *Metrics) AuditWriteFailed() {
	if m == nil {
		return
	}
	m.AuditWriteErrors.Inc()
}

// RateLimited counts a rejected request.
func (m *Metrics) RateLimited() {
	if m == nil {
		return
	}
	m.RateLimitedTotal.Inc()
}

// SandboxStatus records the last watchdog check.
func (m *Metrics) SandboxStatus(running bool) {
	if m == nil {
		return
	}
	if running {
		m.SandboxUp.Set(1)
		return
	}
	m.SandboxUp.Set(0)
}
