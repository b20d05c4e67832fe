// Package metrics exposes processing statistics in the Prometheus text
// format.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MimeLyc/image-captioner/internal/stats"
)

const namespace = "captioner"

// Upload outcomes besides the rejection kinds reported by the service.
const (
	OutcomeAccepted = "accepted"
	OutcomeInvalid  = "invalid_request"
)

// Metrics owns a private registry.
type Metrics struct {
	registry *prometheus.Registry
	uploads  *prometheus.CounterVec
}

// New registers gauges that read snapshot on every scrape. queueDepth may
// be nil.
func New(snapshot func() stats.Snapshot, queueDepth func() int) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &Metrics{
		registry: reg,
		uploads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "uploads_total",
			Help:      "Upload requests by outcome.",
		}, []string{"outcome"}),
	}
	reg.MustRegister(m.uploads)

	reg.MustRegister(
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_succeeded_total",
			Help:      "Jobs that reached the processed state.",
		}, func() float64 { return float64(snapshot().SuccessCount) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_failed_total",
			Help:      "Jobs that reached the failed state.",
		}, func() float64 { return float64(snapshot().FailureCount) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "processing_seconds_average",
			Help:      "Mean processing time of successful jobs.",
		}, func() float64 { return snapshot().AverageDurationSec }),
	)

	if queueDepth != nil {
		reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Tasks waiting for a worker.",
		}, func() float64 { return float64(queueDepth()) }))
	}
	return m
}

// ObserveUpload counts one upload request.
func (m *Metrics) ObserveUpload(outcome string) {
	if m == nil {
		return
	}
	m.uploads.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
