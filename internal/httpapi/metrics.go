package httpapi

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	agentsTotal = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "trustvault_agents_total",
		Help: "Total number of registered agents by status.",
	}, []string{"status"})

	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trustvault_requests_total",
		Help: "Total HTTP requests by method, path, and response status.",
	}, []string{"method", "path", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "trustvault_request_duration_seconds",
		Help:    "Request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	ledgerEntriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "trustvault_ledger_entries_total",
		Help: "Total trust ledger entries appended.",
	})

	webhookDeliveriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trustvault_webhook_deliveries_total",
		Help: "Total webhook deliveries by success status.",
	}, []string{"status"})

	driftPingsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trustvault_drift_pings_total",
		Help: "Total drift health pings ingested by resulting status.",
	}, []string{"status"})
)

// prometheusMiddleware records per-request HTTP metrics.
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		requestsTotal.WithLabelValues(c.Request.Method, path, status).Inc()
		requestDuration.WithLabelValues(c.Request.Method, path).Observe(duration)
	}
}

// metricsHandler serves the Prometheus exposition format.
func metricsHandler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// RecordLedgerAppend records a trust ledger entry append.
func RecordLedgerAppend() {
	ledgerEntriesTotal.Inc()
}

// RecordWebhookDelivery records a webhook delivery attempt outcome.
func RecordWebhookDelivery(success bool) {
	if success {
		webhookDeliveriesTotal.WithLabelValues("success").Inc()
	} else {
		webhookDeliveriesTotal.WithLabelValues("failure").Inc()
	}
}

// RecordDriftPing records a drift health-ping ingestion outcome.
func RecordDriftPing(status string) {
	driftPingsTotal.WithLabelValues(status).Inc()
}

// SetAgentsGauge sets the agent-count gauge for a given status.
func SetAgentsGauge(status string, count float64) {
	agentsTotal.WithLabelValues(status).Set(count)
}
