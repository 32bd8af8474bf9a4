// Package metrics exposes Prometheus metrics for the detection pipeline.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "gunshot"

// Metrics contains all Prometheus metrics for the gunshot logger.
type Metrics struct {
	registry *prometheus.Registry

	// Audio producer
	BlocksProcessed prometheus.Counter
	InputLevel      prometheus.Gauge
	StreamAnomalies *prometheus.CounterVec

	// Detection
	Triggers        prometheus.Counter
	CapturesQueued  prometheus.Counter
	CapturesDropped prometheus.Counter
	QueueDepth      prometheus.Gauge

	// Persistence
	CapturesSaved    prometheus.Counter
	CapturesRejected *prometheus.CounterVec
	CaptureFailures  *prometheus.CounterVec
	WriteDuration    prometheus.Histogram
	FileCounter      prometheus.Gauge

	// Mirror
	Uploads *prometheus.CounterVec
}

// New creates all metrics on a private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,

		BlocksProcessed: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_blocks_total",
			Help:      "Total number of audio blocks processed",
		}),
		InputLevel: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "input_level_dbfs",
			Help:      "Level of the most recent audio block in dBFS",
		}),
		StreamAnomalies: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_anomalies_total",
			Help:      "Audio driver status flags reported with delivered blocks",
		}, []string{"status"}),

		Triggers: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "triggers_total",
			Help:      "Total number of threshold crossings",
		}),
		CapturesQueued: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "captures_queued_total",
			Help:      "Total number of captures handed to the persistence worker",
		}),
		CapturesDropped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "captures_dropped_total",
			Help:      "Total number of captures dropped because the queue was full",
		}),
		QueueDepth: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Captures waiting for the persistence worker",
		}),

		CapturesSaved: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "captures_saved_total",
			Help:      "Total number of captures written to storage",
		}),
		CapturesRejected: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "captures_rejected_total",
			Help:      "Total number of captures rejected by validation",
		}, []string{"reason"}),
		CaptureFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "capture_failures_total",
			Help:      "Total number of captures that could not be persisted",
		}, []string{"reason"}),
		WriteDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "capture_write_seconds",
			Help:      "Time spent writing a capture file",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
		}),
		FileCounter: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "file_counter",
			Help:      "Number assigned to the next capture file",
		}),

		Uploads: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "uploads_total",
			Help:      "Capture uploads to object storage by result",
		}, []string{"result"}),
	}
}

// Registry returns the registry holding all metrics.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns an HTTP handler serving the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
