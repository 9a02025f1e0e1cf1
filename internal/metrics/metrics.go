// Package metrics exposes job and artifact counters in Prometheus format.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"doc_syncer/internal/domain"
)

const namespace = "doc_syncer"

type Metrics struct {
	registry    *prometheus.Registry
	jobs        *prometheus.CounterVec
	jobDuration *prometheus.HistogramVec
	artifacts   *prometheus.CounterVec
	running     prometheus.Gauge
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		jobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_total",
			Help:      "Jobs that reached a terminal state.",
		}, []string{"source", "state"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "Wall-clock duration of executed jobs.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		}, []string{"source"}),
		artifacts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "artifacts_total",
			Help:      "Artifacts processed by outcome.",
		}, []string{"source", "outcome"}),
		running: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "jobs_running",
			Help:      "Jobs currently executing.",
		}),
	}

	m.registry.MustRegister(
		m.jobs,
		m.jobDuration,
		m.artifacts,
		m.running,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// RegisterQueueDepth exposes the pending and active counts reported by fn.
func (m *Metrics) RegisterQueueDepth(fn func() (pending, active int)) {
	m.registry.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "jobs_pending",
			Help:      "Jobs waiting for a worker.",
		}, func() float64 {
			p, _ := fn()
			return float64(p)
		}),
	)
}

func (m *Metrics) JobStarted(domain.Job) {
	m.running.Inc()
}

func (m *Metrics) JobFinished(job domain.Job) {
	if job.StartedAt != nil {
		m.running.Dec()
		m.jobDuration.WithLabelValues(job.SourceID).Observe(job.Duration.Seconds())
	}
	m.jobs.WithLabelValues(job.SourceID, string(job.State)).Inc()
	m.artifacts.WithLabelValues(job.SourceID, "fetched").Add(float64(job.Fetched))
	m.artifacts.WithLabelValues(job.SourceID, "unchanged").Add(float64(job.Unchanged))
	m.artifacts.WithLabelValues(job.SourceID, "error").Add(float64(job.Errors))
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
