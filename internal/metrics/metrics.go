// Package metrics collects and exposes Prometheus metrics for the pipeline.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder is the recording interface consumed by the service layer.
type Recorder interface {
	GenerationStarted()
	GenerationCompleted(duration time.Duration)
	GenerationFailed(stage string)
	PaymentCompleted(generations int)
}

// Collector is the Prometheus-backed Recorder implementation.
type Collector struct {
	started          prometheus.Counter
	completed        prometheus.Counter
	failed           *prometheus.CounterVec
	pipelineDuration prometheus.Histogram
	paidCredited     prometheus.Counter
}

// NewCollector creates a Collector and registers its metrics on reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		started: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "romanticbot_generations_started_total",
			Help: "Number of generations admitted and created.",
		}),
		completed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "romanticbot_generations_completed_total",
			Help: "Number of generations that reached COMPLETED.",
		}),
		failed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "romanticbot_generations_failed_total",
			Help: "Number of generations that ended in ERROR, by stage.",
		}, []string{"stage"}),
		pipelineDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "romanticbot_pipeline_duration_seconds",
			Help:    "Wall time from orchestration start to COMPLETED.",
			Buckets: prometheus.ExponentialBuckets(5, 2, 10),
		}),
		paidCredited: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "romanticbot_paid_generations_credited_total",
			Help: "Paid generations credited through completed payments.",
		}),
	}

	reg.MustRegister(
		c.started,
		c.completed,
		c.failed,
		c.pipelineDuration,
		c.paidCredited,
	)

	return c
}

func (c *Collector) GenerationStarted() {
	c.started.Inc()
}

func (c *Collector) GenerationCompleted(duration time.Duration) {
	c.completed.Inc()
	c.pipelineDuration.Observe(duration.Seconds())
}

func (c *Collector) GenerationFailed(stage string) {
	c.failed.WithLabelValues(stage).Inc()
}

func (c *Collector) PaymentCompleted(generations int) {
	c.paidCredited.Add(float64(generations))
}

// Handler returns the exposition endpoint for the given registry.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
