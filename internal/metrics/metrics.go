// Package metrics exposes Prometheus instrumentation for the sync
// engine on a standalone registry, served at /metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SyncMetrics holds the engine's Prometheus collectors
type SyncMetrics struct {
	registry *prometheus.Registry

	RunDuration       *prometheus.HistogramVec
	RunsTotal         *prometheus.CounterVec
	RecordsSynced     *prometheus.CounterVec
	RecordErrors      prometheus.Counter
	ConflictsResolved *prometheus.CounterVec
	RunsInFlight      prometheus.Gauge
	SchedulerSkips    *prometheus.CounterVec
}

// New creates and registers all sync metrics on a standalone registry
func New() *SyncMetrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	reg.MustRegister(collectors.NewGoCollector())

	m := &SyncMetrics{
		registry: reg,

		RunDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "tablebridge",
				Subsystem: "sync",
				Name:      "run_duration_seconds",
				Help:      "Duration of sync runs in seconds.",
				Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300, 600},
			},
			[]string{"direction"},
		),
		RunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "tablebridge",
				Subsystem: "sync",
				Name:      "runs_total",
				Help:      "Total number of sync runs by outcome.",
			},
			[]string{"direction", "status"},
		),
		RecordsSynced: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "tablebridge",
				Subsystem: "sync",
				Name:      "records_synced_total",
				Help:      "Total records written by sync runs.",
			},
			[]string{"direction"},
		),
		RecordErrors: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "tablebridge",
				Subsystem: "sync",
				Name:      "record_errors_total",
				Help:      "Total record-level failures that did not abort a run.",
			},
		),
		ConflictsResolved: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "tablebridge",
				Subsystem: "sync",
				Name:      "conflicts_resolved_total",
				Help:      "Total conflicts resolved, by decision.",
			},
			[]string{"decision"},
		),
		RunsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "tablebridge",
				Subsystem: "sync",
				Name:      "runs_in_flight",
				Help:      "Number of sync runs currently executing.",
			},
		),
		SchedulerSkips: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "tablebridge",
				Subsystem: "scheduler",
				Name:      "skips_total",
				Help:      "Scheduled runs skipped before execution, by reason.",
			},
			[]string{"reason"},
		),
	}

	reg.MustRegister(
		m.RunDuration,
		m.RunsTotal,
		m.RecordsSynced,
		m.RecordErrors,
		m.ConflictsResolved,
		m.RunsInFlight,
		m.SchedulerSkips,
	)

	return m
}

// Handler returns an http.Handler serving the metrics endpoint
func (m *SyncMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
