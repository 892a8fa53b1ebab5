// Package metrics exposes Prometheus instrumentation for the daemon.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Set bundles the collectors the daemon updates.
type Set struct {
	registry *prometheus.Registry

	JobsProcessed   *prometheus.CounterVec
	JobDuration     *prometheus.HistogramVec
	QueueDepth      *prometheus.GaugeVec
	IntegrityFound  prometheus.Counter
	IntegrityFixed  prometheus.Counter
	RecoveryActions *prometheus.CounterVec
	SweepDuration   *prometheus.HistogramVec
}

// New builds a metric set on a fresh registry.
func New() *Set {
	set := &Set{
		registry: prometheus.NewRegistry(),
		JobsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "loom_jobs_processed_total",
			Help: "Jobs finished by the worker pool, by type and outcome.",
		}, []string{"type", "outcome"}),
		JobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "loom_job_duration_seconds",
			Help:    "Wall time spent executing jobs.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 14),
		}, []string{"type"}),
		QueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "loom_queue_depth",
			Help: "Jobs in the queue by status.",
		}, []string{"status"}),
		IntegrityFound: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "loom_integrity_issues_found_total",
			Help: "Issues detected by integrity scans.",
		}),
		IntegrityFixed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "loom_integrity_issues_fixed_total",
			Help: "Issues repaired by integrity scans.",
		}),
		RecoveryActions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "loom_recovery_actions_total",
			Help: "Actions taken by the recovery sweeper.",
		}, []string{"action"}),
		SweepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "loom_sweep_duration_seconds",
			Help:    "Duration of recovery and integrity sweeps.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		}, []string{"sweep"}),
	}

	set.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		set.JobsProcessed,
		set.JobDuration,
		set.QueueDepth,
		set.IntegrityFound,
		set.IntegrityFixed,
		set.RecoveryActions,
		set.SweepDuration,
	)
	return set
}

// Handler serves the registry in Prometheus text format.
func (s *Set) Handler() http.Handler {
	return promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})
}
