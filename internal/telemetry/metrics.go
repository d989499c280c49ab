// Package telemetry provides logging setup and Prometheus metrics for xerolink.
//
// All metrics are registered against the default Prometheus registry and are
// served on the side-channel HTTP server started by main.go:
//
//	GET http://<host>:<XL_TELEMETRY_METRICS_PROMETHEUS_PORT>/metrics
//
// HTTP metrics use c.FullPath() (the route template) rather than the raw
// request URL to keep label cardinality bounded.
package telemetry

import (
	"database/sql"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP metrics, labelled by method, route template and status code.
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests processed, by method, route template, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request latencies, by method and route template.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"method", "path"},
	)
)

// Authorization flow metrics.
//
// FlowsStartedTotal counts request-token handshakes by result
// ("ok", "configuration_error", "provider_error", "storage_error").
//
// FlowsCompletedTotal counts callback completions by result
// ("ok", "not_found", "corrupt_state", "verification_error", "provider_error", "storage_error").
//
// Example PromQL:
//   - Completion rate:  sum(rate(xero_flows_completed_total{result="ok"}[1h])) / sum(rate(xero_flows_started_total{result="ok"}[1h]))
var (
	FlowsStartedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "xero_flows_started_total",
			Help: "Total number of OAuth authorization flows started, by result.",
		},
		[]string{"result"},
	)

	FlowsCompletedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "xero_flows_completed_total",
			Help: "Total number of OAuth authorization flows completed, by result.",
		},
		[]string{"result"},
	)

	PendingFlowsSweptTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "xero_pending_flows_swept_total",
			Help: "Total number of abandoned pending flows removed by the sweeper.",
		},
	)
)

// SessionGateDecisionsTotal counts gate outcomes ("linked", "unlinked", "expired", "corrupt_state").
var SessionGateDecisionsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "xero_session_gate_decisions_total",
		Help: "Total number of linked-session checks, by decision.",
	},
	[]string{"decision"},
)

// Provider call metrics, labelled by API ("oauth", "accounting", "projects") and
// outcome ("success", "transport_error", "http_error").
var (
	ProviderRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "xero_provider_requests_total",
			Help: "Total number of outbound Xero requests, by API and outcome.",
		},
		[]string{"api", "outcome"},
	)

	ProviderRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "xero_provider_request_duration_seconds",
			Help:    "Latency of outbound Xero requests, by API.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"api"},
	)
)

// DBOpenConnections tracks open connections in the pool. It is sampled every
// 30 seconds by StartDBStatsCollector rather than per-request.
var DBOpenConnections = promauto.NewGauge(
	prometheus.GaugeOpts{
		Name: "db_open_connections",
		Help: "Current number of open database connections in the pool.",
	},
)

// AccountLinks is the number of users with a stored Xero link, sampled by the
// account link counter job.
var AccountLinks = promauto.NewGauge(
	prometheus.GaugeOpts{
		Name: "xero_account_links",
		Help: "Current number of users with a linked Xero account.",
	},
)

// ObserveProviderRequest records one outbound provider call
func ObserveProviderRequest(api, outcome string, started time.Time) {
	ProviderRequestsTotal.WithLabelValues(api, outcome).Inc()
	ProviderRequestDuration.WithLabelValues(api).Observe(time.Since(started).Seconds())
}

// StartDBStatsCollector samples pool statistics every 30 seconds. The goroutine
// exits once the database becomes unreachable, which happens on shutdown.
func StartDBStatsCollector(db *sql.DB) {
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for range ticker.C {
			if err := db.Ping(); err != nil {
				slog.Warn("db stats collector: database unreachable, stopping collector", "error", err)
				return
			}
			DBOpenConnections.Set(float64(db.Stats().OpenConnections))
		}
	}()
}
