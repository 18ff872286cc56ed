// Package metrics provides Prometheus instrumentation for the decision engine.
package metrics

import (
	"context"
	"database/sql"
	"runtime"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "trustverify",
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method, path pattern, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes request latency by method and path.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "trustverify",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// ChecksTotal counts verification checks by type and terminal status.
	ChecksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "trustverify",
			Name:      "checks_total",
			Help:      "Total verification checks by check type and terminal status.",
		},
		[]string{"check_type", "status"},
	)

	// CheckDuration observes provider execution latency by check type.
	CheckDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "trustverify",
			Name:      "check_duration_seconds",
			Help:      "Verification check provider latency in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"check_type"},
	)

	// DecisionsTotal counts decision policy outcomes.
	DecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "trustverify",
			Name:      "decisions_total",
			Help:      "Total decision policy outcomes.",
		},
		[]string{"decision"},
	)

	// TrustScoresComputed counts trust score aggregations by risk tier.
	TrustScoresComputed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "trustverify",
			Name:      "trust_scores_computed_total",
			Help:      "Total trust score aggregations by resulting risk tier.",
		},
		[]string{"risk_level"},
	)

	// EscrowTransitionsTotal counts escrow state transitions.
	EscrowTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "trustverify",
			Name:      "escrow_transitions_total",
			Help:      "Total escrow account state transitions by target state.",
		},
		[]string{"to_status"},
	)

	// EscrowHeldDuration observes time from funding to terminal state.
	EscrowHeldDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "trustverify",
		Name:      "escrow_held_duration_seconds",
		Help:      "Time from escrow funding to release or refund in seconds.",
		Buckets:   []float64{60, 600, 3600, 21600, 86400, 259200, 604800},
	})

	// DisputesTotal counts dispute lifecycle events by workflow stage reached.
	DisputesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "trustverify",
			Name:      "disputes_total",
			Help:      "Total dispute workflow stage entries.",
		},
		[]string{"stage"},
	)

	// DisputeEscalationsTotal counts disputes escalated to manual review.
	DisputeEscalationsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "trustverify",
		Name:      "dispute_escalations_total",
		Help:      "Total disputes escalated to manual review (low arbiter confidence).",
	})

	// WebhookDeliveriesTotal counts webhook delivery attempts by result.
	WebhookDeliveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "trustverify",
			Name:      "webhook_deliveries_total",
			Help:      "Total webhook deliveries by result.",
		},
		[]string{"result"},
	)

	// ActiveWebSocketClients tracks connected WebSocket clients.
	ActiveWebSocketClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "trustverify",
			Name:      "active_websocket_clients",
			Help:      "Number of currently connected WebSocket clients.",
		},
	)

	// DBOpenConnections tracks open database connections.
	DBOpenConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "trustverify", Name: "db_open_connections",
		Help: "Number of open database connections.",
	})
	// DBIdleConnections tracks idle database connections.
	DBIdleConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "trustverify", Name: "db_idle_connections",
		Help: "Number of idle database connections.",
	})
	// DBInUseConnections tracks in-use database connections.
	DBInUseConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "trustverify", Name: "db_in_use_connections",
		Help: "Number of in-use database connections.",
	})
	// GoroutineCount tracks the current number of goroutines.
	GoroutineCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "trustverify", Name: "goroutines",
		Help: "Current number of goroutines.",
	})
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		ChecksTotal,
		CheckDuration,
		DecisionsTotal,
		TrustScoresComputed,
		EscrowTransitionsTotal,
		EscrowHeldDuration,
		DisputesTotal,
		DisputeEscalationsTotal,
		WebhookDeliveriesTotal,
		ActiveWebSocketClients,
		DBOpenConnections,
		DBIdleConnections,
		DBInUseConnections,
		GoroutineCount,
	)
}

// StartDBStatsCollector periodically samples sql.DBStats and runtime goroutine
// count into Prometheus gauges. Call in a goroutine; exits when ctx is done.
func StartDBStatsCollector(ctx context.Context, db *sql.DB, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := db.Stats()
			DBOpenConnections.Set(float64(stats.OpenConnections))
			DBIdleConnections.Set(float64(stats.Idle))
			DBInUseConnections.Set(float64(stats.InUse))
			GoroutineCount.Set(float64(runtime.NumGoroutine()))
		}
	}
}

// Middleware returns a gin middleware that records request metrics.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		timer := prometheus.NewTimer(HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(), // Uses route pattern, not actual path (avoids cardinality explosion)
		))

		c.Next()

		timer.ObserveDuration()
		HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			statusBucket(c.Writer.Status()),
		).Inc()
	}
}

// Handler returns the /metrics endpoint handler.
func Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// statusBucket groups status codes to keep label cardinality low.
func statusBucket(code int) string {
	switch {
	case code < 200:
		return "1xx"
	case code < 300:
		return "2xx"
	case code < 400:
		return "3xx"
	case code < 500:
		return strconv.Itoa(code) // 4xx codes are informative individually
	default:
		return "5xx"
	}
}
