// Package metrics provides Prometheus metrics for the credential vault.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the service.
type Metrics struct {
	CredentialOpsTotal *prometheus.CounterVec
	OpDuration         *prometheus.HistogramVec
	CacheHitsTotal     prometheus.Counter
	CacheMissesTotal   prometheus.Counter
	CacheEntries       prometheus.Gauge
	InitAttemptsTotal  prometheus.Counter
	ErrorsTotal        *prometheus.CounterVec

	registry *prometheus.Registry
}

// New creates and registers all metrics on a private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		CredentialOpsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "credvault_credential_ops_total",
				Help: "Total credential operations by operation and status.",
			},
			[]string{"op", "status"},
		),
		OpDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "credvault_op_duration_seconds",
				Help:    "Durable store round-trip duration by operation.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"op"},
		),
		CacheHitsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "credvault_cache_hits_total",
			Help: "Credential cache hits.",
		}),
		CacheMissesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "credvault_cache_misses_total",
			Help: "Credential cache misses.",
		}),
		CacheEntries: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "credvault_cache_entries",
			Help: "Current number of entries in the credential cache.",
		}),
		InitAttemptsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "credvault_init_attempts_total",
			Help: "Durable store initialization attempts.",
		}),
		ErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "credvault_errors_total",
				Help: "Total errors by module and type.",
			},
			[]string{"module", "type"},
		),
		registry: reg,
	}

	reg.MustRegister(m.CredentialOpsTotal)
	reg.MustRegister(m.OpDuration)
	reg.MustRegister(m.CacheHitsTotal)
	reg.MustRegister(m.CacheMissesTotal)
	reg.MustRegister(m.CacheEntries)
	reg.MustRegister(m.InitAttemptsTotal)
	reg.MustRegister(m.ErrorsTotal)

	return m
}

// Handler returns an http.Handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordOp increments the credential operation counter.
func (m *Metrics) RecordOp(op, status string) {
	m.CredentialOpsTotal.WithLabelValues(op, status).Inc()
}

// RecordError increments the error counter.
func (m *Metrics) RecordError(module, errType string) {
	m.ErrorsTotal.WithLabelValues(module, errType).Inc()
}

// ObserveDuration records a durable store round-trip duration.
func (m *Metrics) ObserveDuration(op string, seconds float64) {
	m.OpDuration.WithLabelValues(op).Observe(seconds)
}
