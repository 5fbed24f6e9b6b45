// Package metrics exposes Prometheus metrics for training jobs and image
// generation.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/museai/lora-api/internal/orchestrator"
	"github.com/museai/lora-api/internal/types"
)

const namespace = "loraapi"

const (
	OutcomeOK       = "ok"
	OutcomeNotFound = "not_found"
	OutcomeFailed   = "failed"
)

var _ orchestrator.Observer = (*Metrics)(nil)

type Metrics struct {
	registry *prometheus.Registry

	jobsSubmitted      prometheus.Counter
	jobsFinished       *prometheus.CounterVec
	jobsRunning        prometheus.Gauge
	trainingDuration   *prometheus.HistogramVec
	generations        *prometheus.CounterVec
	generationDuration prometheus.Histogram
}

// New creates a registry holding the service metrics plus the Go runtime and
// process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		jobsSubmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "training_jobs_submitted_total",
			Help:      "Training jobs accepted by the API.",
		}),
		jobsFinished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "training_jobs_finished_total",
				Help:      "Training jobs that reached a terminal state.",
			},
			[]string{"status"},
		),
		jobsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "training_jobs_running",
			Help:      "Training jobs submitted but not yet finished.",
		}),
		trainingDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "training_duration_seconds",
				Help:      "Wall time from submission to terminal state.",
				Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200, 3600},
			},
			[]string{"status"},
		),
		generations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "generations_total",
				Help:      "Image generation requests by outcome.",
			},
			[]string{"outcome"},
		),
		generationDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "generation_duration_seconds",
			Help:      "Latency of image generation including model loads.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 20, 40, 80},
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.jobsSubmitted,
		m.jobsFinished,
		m.jobsRunning,
		m.trainingDuration,
		m.generations,
		m.generationDuration,
	)

	return m
}

// Registry is exposed for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// TrackResident publishes fn as the number of pipelines held by the inference server.
func (m *Metrics) TrackResident(fn func() int) {
	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "resident_models",
			Help:      "Pipelines currently loaded for generation.",
		},
		func() float64 { return float64(fn()) },
	))
}

func (m *Metrics) JobSubmitted(context.Context, string, types.TrainingConfig) {
	m.jobsSubmitted.Inc()
	m.jobsRunning.Inc()
}

func (m *Metrics) JobFinished(_ context.Context, result orchestrator.Result) {
	status := string(result.Final.State)
	m.jobsRunning.Dec()
	m.jobsFinished.WithLabelValues(status).Inc()
	m.trainingDuration.WithLabelValues(status).Observe(result.Finished.Sub(result.Started).Seconds())
}

func (m *Metrics) ObserveGeneration(outcome string, took time.Duration) {
	m.generations.WithLabelValues(outcome).Inc()
	if outcome == OutcomeOK {
		m.generationDuration.Observe(took.Seconds())
	}
}
