package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for tman. Every recording method is
// safe to call on a nil *Metrics so callers can run with metrics disabled.
type Metrics struct {
	registry *prometheus.Registry

	// Resolver metrics
	ResolverRoundsTotal    prometheus.Counter
	ResolveDurationSeconds prometheus.Histogram

	// Registry metrics
	RegistryQueriesTotal *prometheus.CounterVec

	// Designer metrics
	GraphMutationsTotal *prometheus.CounterVec

	// Package cache metrics
	PkgCacheApps prometheus.Gauge
}

// NewMetrics creates and registers all metrics
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,

		ResolverRoundsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "resolver_rounds_total",
				Help: "Total number of dependency resolver expansion rounds",
			},
		),
		ResolveDurationSeconds: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "resolve_duration_seconds",
				Help:    "Duration of dependency resolutions in seconds",
				Buckets: prometheus.DefBuckets,
			},
		),
		RegistryQueriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "registry_queries_total",
				Help: "Total number of registry package list queries",
			},
			[]string{"status"},
		),
		GraphMutationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "graph_mutations_total",
				Help: "Total number of graph mutation requests",
			},
			[]string{"operation", "status"},
		),
		PkgCacheApps: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "pkg_cache_apps",
				Help: "Number of apps held in the package cache",
			},
		),
	}

	registry.MustRegister(
		m.ResolverRoundsTotal,
		m.ResolveDurationSeconds,
		m.RegistryQueriesTotal,
		m.GraphMutationsTotal,
		m.PkgCacheApps,
	)

	return m
}

// RecordResolverRound counts one resolver round
func (m *Metrics) RecordResolverRound() {
	if m == nil {
		return
	}
	m.ResolverRoundsTotal.Inc()
}

// ObserveResolveDuration records the duration of one resolution
func (m *Metrics) ObserveResolveDuration(d time.Duration) {
	if m == nil {
		return
	}
	m.ResolveDurationSeconds.Observe(d.Seconds())
}

// RecordRegistryQuery counts one registry query by status (ok, cached, error)
func (m *Metrics) RecordRegistryQuery(status string) {
	if m == nil {
		return
	}
	m.RegistryQueriesTotal.WithLabelValues(status).Inc()
}

// RecordGraphMutation counts one graph mutation by operation and status
func (m *Metrics) RecordGraphMutation(operation, status string) {
	if m == nil {
		return
	}
	m.GraphMutationsTotal.WithLabelValues(operation, status).Inc()
}

// SetCacheApps sets the number of cached apps
func (m *Metrics) SetCacheApps(n int) {
	if m == nil {
		return
	}
	m.PkgCacheApps.Set(float64(n))
}

// Handler returns an HTTP handler for the metrics endpoint
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Registry returns the Prometheus registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
