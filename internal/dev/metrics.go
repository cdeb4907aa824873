package dev

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "isosplit"

// Metrics holds the development loop's Prometheus collectors.
type Metrics struct {
	Builds         *prometheus.CounterVec
	BuildDuration  prometheus.Histogram
	RebuildToken   prometheus.Gauge
	Changes        *prometheus.CounterVec
	ServerRestarts prometheus.Counter

	registry *prometheus.Registry
}

// NewMetrics registers the collectors on a fresh registry, so several dev
// servers (or tests) never collide on the default registerer.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		Builds: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "builds_total",
				Help:      "Completed builds by result.",
			},
			[]string{"result"},
		),
		BuildDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "build_duration_seconds",
				Help:      "Build duration in seconds, restart included.",
				Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10},
			},
		),
		RebuildToken: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "rebuild_token",
				Help:      "Latest requested rebuild token.",
			},
		),
		Changes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "changes_total",
				Help:      "File change notifications by kind.",
			},
			[]string{"kind"},
		),
		ServerRestarts: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "server_restarts_total",
				Help:      "Successful restarts of the served process.",
			},
		),
		registry: registry,
	}
}

// Registry returns the registry the collectors live on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// observe records a build completion.
func (m *Metrics) observe(done Completion) {
	result := "success"
	switch {
	case done.Err != nil:
		result = "failure"
	case done.RestartErr != nil:
		result = "restart_failure"
	}
	m.Builds.WithLabelValues(result).Inc()
	m.BuildDuration.Observe(done.Duration.Seconds())
	if done.Restarted && done.RestartErr == nil {
		m.ServerRestarts.Inc()
	}
}
