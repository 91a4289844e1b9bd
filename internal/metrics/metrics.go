// Package metrics exposes Prometheus collectors for the optimization loop
// and the evaluation service.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/copyleftdev/seqopt/internal/optimization"
)

const namespace = "seqopt"

// Metrics groups the collectors. A nil *Metrics is valid and records nothing,
// so callers that run without a registry do not need to check.
type Metrics struct {
	registry *prometheus.Registry

	suggestions     *prometheus.CounterVec
	fitOutcomes     *prometheus.CounterVec
	evalLatency     *prometheus.HistogramVec
	evalErrors      *prometheus.CounterVec
	activeSessions  prometheus.Gauge
	bestValue       *prometheus.GaugeVec
	experimentIters *prometheus.CounterVec
}

// New registers the collectors on a fresh registry. The Go runtime and
// process collectors are included when withRuntime is set.
func New(withRuntime bool) *Metrics {
	reg := prometheus.NewRegistry()
	if withRuntime {
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		suggestions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "optimizer",
			Name:      "suggestions_total",
			Help:      "Samples proposed by optimizers",
		}, []string{"optimizer"}),
		fitOutcomes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "optimizer",
			Name:      "fits_total",
			Help:      "Surrogate updates by outcome",
		}, []string{"optimizer", "outcome"}),
		evalLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "benchmark",
			Name:      "evaluation_duration_seconds",
			Help:      "Latency of batch objective evaluations",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 4, 10),
		}, []string{"task"}),
		evalErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "benchmark",
			Name:      "evaluation_errors_total",
			Help:      "Failed batch objective evaluations",
		}, []string{"task"}),
		activeSessions: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "server",
			Name:      "active_sessions",
			Help:      "Open ask/tell sessions",
		}),
		bestValue: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "experiment",
			Name:      "best_value",
			Help:      "Lowest objective value observed so far",
		}, []string{"task"}),
		experimentIters: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "experiment",
			Name:      "iterations_total",
			Help:      "Completed ask/evaluate/tell rounds",
		}, []string{"task"}),
	}
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Suggested counts n proposed samples.
func (m *Metrics) Suggested(optimizer optimization.Name, n int) {
	if m == nil {
		return
	}
	m.suggestions.WithLabelValues(string(optimizer)).Add(float64(n))
}

// Fitted counts one surrogate update.
func (m *Metrics) Fitted(optimizer optimization.Name, outcome optimization.FitOutcome) {
	if m == nil {
		return
	}
	m.fitOutcomes.WithLabelValues(string(optimizer), outcome.String()).Inc()
}

// Evaluated records the latency of one batch evaluation and whether it failed.
func (m *Metrics) Evaluated(task string, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.evalLatency.WithLabelValues(task).Observe(d.Seconds())
	if err != nil {
		m.evalErrors.WithLabelValues(task).Inc()
	}
}

// SessionOpened increments the active session gauge.
func (m *Metrics) SessionOpened() {
	if m == nil {
		return
	}
	m.activeSessions.Inc()
}

// SessionClosed decrements the active session gauge.
func (m *Metrics) SessionClosed() {
	if m == nil {
		return
	}
	m.activeSessions.Dec()
}

// Iteration records a finished round of an experiment and the incumbent.
func (m *Metrics) Iteration(task string, best float64) {
	if m == nil {
		return
	}
	m.experimentIters.WithLabelValues(task).Inc()
	m.bestValue.WithLabelValues(task).Set(best)
}
