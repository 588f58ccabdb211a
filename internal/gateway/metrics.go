package gateway

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	sentinelRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sentinel_requests_total",
		Help: "Total HTTP requests by method, route, and response status.",
	}, []string{"method", "path", "status"})

	sentinelRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sentinel_request_duration_seconds",
		Help:    "Request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	sentinelDetectionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sentinel_detections_total",
		Help: "Total detected attacks by category.",
	}, []string{"category"})

	sentinelDecisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sentinel_decisions_total",
		Help: "Total defense decisions by category and action.",
	}, []string{"category", "action"})

	sentinelAnalysisFallbacksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sentinel_analysis_fallbacks_total",
		Help: "Total decisions made by the fallback rule because analysis was unavailable.",
	})

	sentinelStorageErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sentinel_storage_errors_total",
		Help: "Total failed best-effort storage writes by operation.",
	}, []string{"op"})

	sentinelBackendHealthChecksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sentinel_backend_health_checks_total",
		Help: "Total backend health probes by backend and result.",
	}, []string{"backend", "result"})

	sentinelAlertDeliveriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sentinel_alert_deliveries_total",
		Help: "Total webhook alert delivery attempts by result.",
	}, []string{"result"})
)

// noRoutePath labels requests that matched no local route. Forwarded paths
// are unbounded, so they share one label.
const noRoutePath = "noroute"

// PrometheusMiddleware returns a Gin middleware that records per-request metrics.
func PrometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())
		method := c.Request.Method
		path := c.FullPath()
		if path == "" {
			path = noRoutePath
		}

		sentinelRequestsTotal.WithLabelValues(method, path, status).Inc()
		sentinelRequestDuration.WithLabelValues(method, path).Observe(duration)
	}
}

// MetricsHandler returns a Gin handler that serves Prometheus metrics.
func MetricsHandler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// RecordHealthCheck records a backend health probe result.
func RecordHealthCheck(backend string, success bool) {
	if success {
		sentinelBackendHealthChecksTotal.WithLabelValues(backend, "success").Inc()
	} else {
		sentinelBackendHealthChecksTotal.WithLabelValues(backend, "failure").Inc()
	}
}

// RecordAlertDelivery increments the webhook delivery counter.
func RecordAlertDelivery(success bool) {
	result := "success"
	if !success {
		result = "failure"
	}
	sentinelAlertDeliveriesTotal.WithLabelValues(result).Inc()
}

// MetricsObserver feeds pipeline events into the sentinel_* series. It
// satisfies defense.Observer.
type MetricsObserver struct{}

// Detection implements defense.Observer.
func (MetricsObserver) Detection(category string) {
	sentinelDetectionsTotal.WithLabelValues(category).Inc()
}

// Decision implements defense.Observer.
func (MetricsObserver) Decision(category, action string) {
	sentinelDecisionsTotal.WithLabelValues(category, action).Inc()
}

// Fallback implements defense.Observer.
func (MetricsObserver) Fallback() {
	sentinelAnalysisFallbacksTotal.Inc()
}

// StorageError implements defense.Observer.
func (MetricsObserver) StorageError(op string) {
	sentinelStorageErrorsTotal.WithLabelValues(op).Inc()
}
