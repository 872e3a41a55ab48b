// Package telemetry provides application-level observability for the audit engine.
//
// # Prometheus Metrics Endpoint
//
// All metrics are registered against the default Prometheus registry and are
// automatically available on the side-channel HTTP server started by main.go:
//
//	GET http(s)://<host>:<AUD_TELEMETRY_METRICS_PROMETHEUS_PORT>/metrics
//
// Default port: 9090.  The endpoint returns data in the Prometheus text exposition
// format and is intended to be scraped by a Prometheus server every 15–60 seconds.
// It is NOT served by the Gin router, which keeps the scrape path off the public
// ingress and away from the operator API's auth middleware.
//
// # Metric Groups
//
//   - HTTP request counters and latency histograms (labelled by route template, not raw URL)
//   - Audit write path: entries recorded, record failures by stage
//   - Detection: suspicious-activity detections by action
//   - Alerting: rules fired, firings suppressed by cooldown, dispatches by channel and outcome
//   - Retention: entries deleted per cleanup run
//   - Database connection pool gauge (polled every 30 s)
//
// # Label Cardinality
//
// Actions and rule names are closed enumerations, and HTTP metrics use the Gin
// route template rather than the raw URL, so no label here can grow without bound.
package telemetry

import (
	"database/sql"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP metrics — labelled by method, route template, and status code.
//
// Example PromQL queries:
//   - Request rate (req/s, 5 m window):  rate(http_requests_total[5m])
//   - Error rate (%):                    sum(rate(http_requests_total{status=~"5.."}[5m])) / sum(rate(http_requests_total[5m])) * 100
//   - p99 latency per route:             histogram_quantile(0.99, sum by (path, le) (rate(http_request_duration_seconds_bucket[5m])))
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

// Write-path metrics.
//
// EntriesRecorded counts successfully persisted audit entries by action.
// RecordFailures counts write-path failures by stage ("validate", "store",
// "detector", "alerting"); these are the failures the business caller never
// sees, so the
// counter is the only place they surface besides the fallback log.
//
// Example PromQL queries:
//   - Recording rate by action:  sum by (action) (rate(audit_entries_recorded_total[5m]))
//   - Silent failure ratio:      rate(audit_record_failures_total[5m]) / rate(audit_entries_recorded_total[5m])
var (
	EntriesRecorded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "audit_entries_recorded_total",
			Help: "Total number of audit entries successfully persisted, by action.",
		},
		[]string{"action"},
	)

	RecordFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "audit_record_failures_total",
			Help: "Total number of write-path failures swallowed by the recorder, by stage.",
		},
		[]string{"stage"},
	)
)

// Detection metrics.
//
// SuspiciousDetections counts detector hits by source action (the action whose
// window crossed its threshold, not the synthetic suspicious_activity entry).
//
// Example PromQL queries:
//   - Detection rate:   sum by (action) (rate(audit_suspicious_detections_total[1h]))
//   - Alert expression: increase(audit_suspicious_detections_total{action="failed_login"}[15m]) > 0
var SuspiciousDetections = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "audit_suspicious_detections_total",
		Help: "Total number of suspicious-activity detections, by source action.",
	},
	[]string{"action"},
)

// Alerting metrics.
//
// AlertsFired counts rule firings that passed the cooldown gate; AlertsSuppressed
// counts true conditions skipped because the cooldown had not elapsed.
// ChannelDispatches counts per-channel delivery outcomes ("ok", "error", "timeout",
// "throttled").
//
// Example PromQL queries:
//   - Noisiest rules:           topk(3, sum by (rule) (increase(audit_alerts_fired_total[24h])))
//   - Channel failure rate:     rate(audit_channel_dispatches_total{outcome!="ok"}[1h])
var (
	AlertsFired = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "audit_alerts_fired_total",
			Help: "Total number of alert rule firings that passed the cooldown gate, by rule and severity.",
		},
		[]string{"rule", "severity"},
	)

	AlertsSuppressed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "audit_alerts_suppressed_total",
			Help: "Total number of true rule conditions suppressed by an unexpired cooldown, by rule.",
		},
		[]string{"rule"},
	)

	ChannelDispatches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "audit_channel_dispatches_total",
			Help: "Total number of notification channel delivery attempts, by channel and outcome.",
		},
		[]string{"channel", "outcome"},
	)
)

// Retention metrics.
//
// RetentionDeleted counts audit entries removed by cleanup runs.
//
// Example PromQL queries:
//   - Deletions per day:  increase(audit_retention_deleted_total[24h])
var RetentionDeleted = promauto.NewCounter(
	prometheus.CounterOpts{
		Name: "audit_retention_deleted_total",
		Help: "Total number of audit entries deleted by retention cleanup.",
	},
)

// DBOpenConnections is a Gauge that tracks the number of open connections currently
// held by the sql.DB connection pool.  It is sampled every 30 seconds by
// StartDBStatsCollector rather than per-request to avoid the overhead of sql.DB.Stats().
var DBOpenConnections = promauto.NewGauge(
	prometheus.GaugeOpts{
		Name: "db_open_connections",
		Help: "Current number of open database connections in the pool.",
	},
)

// StartDBStatsCollector launches a background goroutine that samples sql.DB connection
// pool statistics every 30 seconds and updates the DBOpenConnections gauge.
// The goroutine exits cleanly when the database becomes unreachable (db.Ping fails),
// which happens automatically when the application shuts down and defers db.Close().
//
// Call this once, immediately after db.Connect() succeeds in main.go:
//
//	telemetry.StartDBStatsCollector(database)
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
