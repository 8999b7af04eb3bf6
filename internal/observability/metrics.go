// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Runner metrics
	SessionsStarted    *prometheus.CounterVec
	SessionsFinished   *prometheus.CounterVec
	SessionsRecovered  prometheus.Counter
	BarsProcessed      prometheus.Counter
	EventsEmitted      *prometheus.CounterVec
	SnapshotsPersisted prometheus.Counter
	ActiveSessions     prometheus.Gauge
	BarProcessingTime  prometheus.Histogram

	// Reconciliation metrics
	ReconciliationRuns   prometheus.Counter
	ReconciliationIssues *prometheus.CounterVec

	// Stream metrics
	StreamSubscribers prometheus.Gauge
	StreamDropped     prometheus.Counter

	// Database metrics
	DBQueryDuration *prometheus.HistogramVec
	DBQueryErrors   *prometheus.CounterVec
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "invest_sim_lab"
	}

	return &Metrics{
		// Runner metrics
		SessionsStarted: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "runner",
			Name:      "sessions_started_total",
			Help:      "Total number of sessions started by strategy slug",
		}, []string{"strategy"}),
		SessionsFinished: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "runner",
			Name:      "sessions_finished_total",
			Help:      "Total number of sessions reaching a terminal state by status",
		}, []string{"status"}),
		SessionsRecovered: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "runner",
			Name:      "sessions_recovered_total",
			Help:      "Total number of orphaned RUNNING sessions demoted to PAUSED at boot",
		}),
		BarsProcessed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "runner",
			Name:      "bars_processed_total",
			Help:      "Total number of candle bars processed",
		}),
		EventsEmitted: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "runner",
			Name:      "events_emitted_total",
			Help:      "Total number of session events emitted by type",
		}, []string{"type"}),
		SnapshotsPersisted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "runner",
			Name:      "snapshots_persisted_total",
			Help:      "Total number of strategy state snapshots persisted",
		}),
		ActiveSessions: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "runner",
			Name:      "active_sessions",
			Help:      "Current number of sessions with a live execution",
		}),
		BarProcessingTime: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "runner",
			Name:      "bar_processing_seconds",
			Help:      "Wall-clock time spent processing one bar",
			Buckets:   prometheus.DefBuckets,
		}),

		// Reconciliation metrics
		ReconciliationRuns: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "reconciliation_runs_total",
			Help:      "Total number of reconciliation reports produced",
		}),
		ReconciliationIssues: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "reconciliation_issues_total",
			Help:      "Total number of reconciliation issues found by type",
		}, []string{"type"}),

		// Stream metrics
		StreamSubscribers: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "subscribers",
			Help:      "Current number of live event stream subscribers",
		}),
		StreamDropped: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "dropped_events_total",
			Help:      "Total number of events dropped on slow subscribers",
		}),

		// Database metrics
		DBQueryDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_duration_seconds",
			Help:      "Database query duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"database", "operation"}),
		DBQueryErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_errors_total",
			Help:      "Total number of database query errors",
		}, []string{"database", "operation"}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("")

// RecordSessionStarted increments the sessions started counter.
func RecordSessionStarted(strategy string) {
	DefaultMetrics.SessionsStarted.WithLabelValues(strategy).Inc()
	DefaultMetrics.ActiveSessions.Inc()
}

// RecordSessionEnded records an execution leaving the registry.
func RecordSessionEnded(status string) {
	DefaultMetrics.SessionsFinished.WithLabelValues(status).Inc()
	DefaultMetrics.ActiveSessions.Dec()
}

// RecordSessionRecovered increments the orphan recovery counter.
func RecordSessionRecovered() {
	DefaultMetrics.SessionsRecovered.Inc()
}

// RecordBarProcessed records one processed bar.
func RecordBarProcessed(seconds float64) {
	DefaultMetrics.BarsProcessed.Inc()
	DefaultMetrics.BarProcessingTime.Observe(seconds)
}

// RecordEventEmitted increments the events emitted counter.
func RecordEventEmitted(eventType string) {
	DefaultMetrics.EventsEmitted.WithLabelValues(eventType).Inc()
}

// RecordSnapshotPersisted increments the snapshots persisted counter.
func RecordSnapshotPersisted() {
	DefaultMetrics.SnapshotsPersisted.Inc()
}

// RecordReconciliation records a reconciliation run and its issues.
func RecordReconciliation(issueTypes []string) {
	DefaultMetrics.ReconciliationRuns.Inc()
	for _, t := range issueTypes {
		DefaultMetrics.ReconciliationIssues.WithLabelValues(t).Inc()
	}
}

// UpdateStreamSubscribers updates the subscriber gauge.
func UpdateStreamSubscribers(n int) {
	DefaultMetrics.StreamSubscribers.Set(float64(n))
}

// RecordStreamDropped increments the dropped events counter.
func RecordStreamDropped() {
	DefaultMetrics.StreamDropped.Inc()
}

// RecordDBQuery records database query metrics.
func RecordDBQuery(database, operation string, seconds float64, err error) {
	DefaultMetrics.DBQueryDuration.WithLabelValues(database, operation).Observe(seconds)
	if err != nil {
		DefaultMetrics.DBQueryErrors.WithLabelValues(database, operation).Inc()
	}
}
