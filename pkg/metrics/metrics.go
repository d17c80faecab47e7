package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for gsraster.
// Using promauto for automatic registration with default registry.
var (
	// --- Conversion Metrics ---

	// ConversionsTotal counts finished conversions by outcome kind.
	ConversionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gsraster",
			Subsystem: "conversions",
			Name:      "total",
			Help:      "Total number of conversions by outcome kind",
		},
		[]string{"kind"},
	)

	// ConversionDuration tracks how long the tool ran.
	ConversionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "gsraster",
			Subsystem: "conversions",
			Name:      "duration_seconds",
			Help:      "Duration of tool invocations in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 14), // 50ms to ~7m
		},
		[]string{"device", "kind"},
	)

	// WorkersRunning tracks workers that have been submitted and not yet
	// finished.
	WorkersRunning = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "gsraster",
			Subsystem: "executor",
			Name:      "workers_running",
			Help:      "Number of conversion workers currently running",
		},
	)

	// ToolProbes counts version probes against candidate executables.
	ToolProbes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gsraster",
			Subsystem: "locator",
			Name:      "probes_total",
			Help:      "Total ghostscript version probes by candidate and result",
		},
		[]string{"candidate", "result"},
	)

	// --- Queue Metrics ---

	// QueueDepth tracks pending requests in the queue.
	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "gsraster",
			Subsystem: "queue",
			Name:      "pending_requests",
			Help:      "Number of conversion requests pending in the queue",
		},
	)

	// RequestsConsumed counts requests taken off the queue by executors.
	RequestsConsumed = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "gsraster",
			Subsystem: "queue",
			Name:      "consumed_total",
			Help:      "Total number of conversion requests consumed",
		},
	)

	// LogUploadsFailed counts captured output that could not be stored.
	LogUploadsFailed = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "gsraster",
			Subsystem: "logs",
			Name:      "upload_failures_total",
			Help:      "Total number of failed log uploads",
		},
	)
)

// RecordConversion records metrics for a finished conversion.
func RecordConversion(device, kind string, durationSeconds float64) {
	ConversionsTotal.WithLabelValues(kind).Inc()
	ConversionDuration.WithLabelValues(device, kind).Observe(durationSeconds)
}
