package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gsraster",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by route and status",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "gsraster",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency in seconds",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"method", "route"},
	)

	HTTPActiveRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "gsraster",
			Subsystem: "http",
			Name:      "requests_in_flight",
			Help:      "HTTP requests currently being served",
		},
	)

	// ConversionRequestsTotal counts API calls that named a conversion, by
	// output device. Conversion IDs go to traces, not labels.
	ConversionRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gsraster",
			Subsystem: "api",
			Name:      "conversion_requests_total",
			Help:      "API requests about a conversion by method, device and status",
		},
		[]string{"method", "device", "status"},
	)

	// ConversionResolutionRequested is the dpi asked for per submission.
	ConversionResolutionRequested = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "gsraster",
			Subsystem: "api",
			Name:      "conversion_resolution_dpi",
			Help:      "Resolution requested by accepted conversions",
			Buckets:   []float64{72, 150, 200, 300, 400, 600, 1200, 2400},
		},
		[]string{"device"},
	)
)

// MetricsMiddleware records per-route HTTP metrics and, for requests whose
// handler called TagConversion, per-device conversion metrics.
func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.URL.Path == "/metrics" {
			c.Next()
			return
		}

		start := time.Now()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		method := c.Request.Method

		HTTPActiveRequests.Inc()
		defer HTTPActiveRequests.Dec()

		c.Next()

		status := strconv.Itoa(c.Writer.Status())
		HTTPRequestsTotal.WithLabelValues(method, route, status).Inc()
		HTTPRequestDuration.WithLabelValues(method, route).Observe(time.Since(start).Seconds())

		if tag, ok := taggedConversion(c); ok {
			device := tag.Device
			if device == "" {
				device = "unknown"
			}
			ConversionRequestsTotal.WithLabelValues(method, device, status).Inc()
			if method == http.MethodPost && tag.Resolution > 0 && c.Writer.Status() < http.StatusMultipleChoices {
				ConversionResolutionRequested.WithLabelValues(device).Observe(float64(tag.Resolution))
			}
		}
	}
}
