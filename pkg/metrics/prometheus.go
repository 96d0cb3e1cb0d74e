// Package metrics provides Prometheus metrics for the ecotally ledger service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Manager manages all Prometheus metrics for the ecotally service.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	registry         prometheus.Registerer

	// Core Business Metrics - What really matters for a ledger
	submissionsCommitted prometheus.Counter
	submissionsDuplicate prometheus.Counter
	submissionsRejected  prometheus.Counter
	submissionsConflict  prometheus.Counter
	submissionsHeld      prometheus.Counter
	verifyLatency        prometheus.Histogram

	// Backfill Metrics
	backfillRuns     prometheus.Counter
	backfillInserted prometheus.Counter
	backfillSkipped  prometheus.Counter

	// Reconciliation Metrics - Consistency is the product
	reconcileRuns      prometheus.Counter
	reconcileDrift     prometheus.Counter
	correctionsWritten prometheus.Counter
	lastDriftAbs       prometheus.Gauge

	// Operational Health Metrics
	trackedUsers prometheus.Gauge
	ledgerEvents prometheus.Gauge

	// Global Lock Metrics - The single serialization point
	globalLockWait     prometheus.Histogram
	globalLockTimeouts prometheus.Counter

	// Store Metrics
	storeCommitLatency prometheus.Histogram
	storeQueryLatency  prometheus.Histogram

	// Rank Snapshot Metrics
	rankSnapshotRebuildDuration prometheus.Histogram
	rankSnapshotLastUnix        prometheus.Gauge
	rankSnapshotCount           prometheus.Counter
	rankIndexSize               prometheus.Gauge

	// Notifier Metrics
	notificationsPublished prometheus.Counter
	notificationsDropped   prometheus.Counter
	notifierSubscribers    prometheus.Gauge
	notifierBacklog        prometheus.Gauge

	// HTTP Performance Metrics
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// Enhanced Error Metrics - Detailed error tracking
	errorRateByComponent *prometheus.CounterVec
	errorRateByType      *prometheus.CounterVec
	errorRateByEndpoint  *prometheus.CounterVec
	errorLatency         *prometheus.HistogramVec

	// System Performance Metrics
	systemMemoryUsage    prometheus.Gauge
	systemGoroutineCount prometheus.Gauge
	systemGCPauseTime    prometheus.Histogram
}

// Global metrics manager instance.
var globalManager *Manager //nolint:gochecknoglobals // intentional global for singleton metrics manager

// Custom registry to avoid default Go metrics.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // intentional global for metrics registry

// Initialize global metrics.
func init() { //nolint:gochecknoinits // intentional init for global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a new metrics manager with default configuration.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "ecotally",
		subsystem:        "ledger",
		histogramBuckets: prometheus.DefBuckets,
		registry:         prometheus.DefaultRegisterer,
	}

	// Apply all options
	for _, opt := range opts {
		opt(m)
	}

	// Initialize metrics
	m.initializeMetrics()

	return m
}

// initializeMetrics creates all the Prometheus metrics.
func (m *Manager) initializeMetrics() { //nolint:funlen // long function required for comprehensive metrics initialization
	// Ensure metrics are registered on the configured registry (custom by default)
	auto := promauto.With(m.registry)

	// Core Business Metrics
	m.submissionsCommitted = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "submissions_committed_total",
		Help:      "Total number of action events committed to the ledger",
	})

	m.submissionsDuplicate = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "submissions_duplicate_total",
		Help:      "Total number of duplicate submissions resolved against the event store",
	})

	m.submissionsRejected = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "submissions_rejected_total",
		Help:      "Total number of submissions rejected by validation before any write",
	})

	m.submissionsConflict = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "submissions_conflict_total",
		Help:      "Total number of submissions that failed on global-aggregate contention",
	})

	m.submissionsHeld = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "submissions_held_total",
		Help:      "Total number of submissions held pending verification",
	})

	m.verifyLatency = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "verification_latency_milliseconds",
		Help:      "Histogram of upstream verification latency in milliseconds",
		Buckets:   m.histogramBuckets,
	})

	// Backfill Metrics
	m.backfillRuns = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "backfill_runs_total",
		Help:      "Total number of backfill batches processed",
	})

	m.backfillInserted = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "backfill_inserted_total",
		Help:      "Total number of events inserted by backfill batches",
	})

	m.backfillSkipped = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "backfill_skipped_total",
		Help:      "Total number of backfill events skipped as already committed",
	})

	// Reconciliation Metrics
	m.reconcileRuns = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "reconcile_runs_total",
		Help:      "Total number of reconciliation passes",
	})

	m.reconcileDrift = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "reconcile_drift_total",
		Help:      "Total number of reconciliation passes that detected drift",
	})

	m.correctionsWritten = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "corrections_written_total",
		Help:      "Total number of correction records appended to the audit trail",
	})

	m.lastDriftAbs = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "reconcile_last_drift_abs",
		Help:      "Absolute discrepancy found by the most recent reconciliation pass",
	})

	// Operational Health Metrics
	m.trackedUsers = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "tracked_users",
		Help:      "Number of users with at least one committed event",
	})

	m.ledgerEvents = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "ledger_events",
		Help:      "Number of committed events in the ledger",
	})

	// Global Lock Metrics
	m.globalLockWait = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "global_lock_wait_milliseconds",
		Help:      "Time spent waiting on the global-aggregate serialization lock",
		Buckets:   m.histogramBuckets,
	})

	m.globalLockTimeouts = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "global_lock_timeouts_total",
		Help:      "Total number of lock-acquisition timeouts on the global aggregate",
	})

	// Store Metrics
	m.storeCommitLatency = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "store_commit_latency_milliseconds",
		Help:      "Store commit operation latency in milliseconds",
		Buckets:   m.histogramBuckets,
	})

	m.storeQueryLatency = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "store_query_latency_milliseconds",
		Help:      "Store query operation latency in milliseconds",
		Buckets:   m.histogramBuckets,
	})

	// Rank Snapshot Metrics
	m.rankSnapshotRebuildDuration = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "rank_snapshot_rebuild_duration_milliseconds",
		Help:      "Leaderboard snapshot rebuild duration in milliseconds",
		Buckets:   m.histogramBuckets,
	})

	m.rankSnapshotLastUnix = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "rank_snapshot_last_unix",
		Help:      "Unix timestamp of the last leaderboard snapshot publish",
	})

	m.rankSnapshotCount = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "rank_snapshot_count_total",
		Help:      "Total number of leaderboard snapshots published",
	})

	m.rankIndexSize = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "rank_index_size",
		Help:      "Number of users tracked by the leaderboard index",
	})

	// Notifier Metrics
	m.notificationsPublished = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "notifications_published_total",
		Help:      "Total number of post-commit notifications published",
	})

	m.notificationsDropped = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "notifications_dropped_total",
		Help:      "Total number of notifications dropped on slow subscribers",
	})

	m.notifierSubscribers = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "notifier_subscribers",
		Help:      "Current number of notification subscribers",
	})

	m.notifierBacklog = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "notifier_backlog",
		Help:      "Current size of the notifier outbox",
	})

	// HTTP Performance Metrics
	m.httpRequests = auto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests by endpoint and method",
		},
		[]string{"endpoint", "method", "status_code"},
	)

	m.httpRequestDuration = auto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "http_request_duration_milliseconds",
			Help:      "HTTP request duration in milliseconds",
			Buckets:   m.histogramBuckets,
		},
		[]string{"endpoint", "method", "status_code"},
	)

	// Enhanced Error Metrics
	m.errorRateByComponent = auto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "errors_by_component_total",
			Help:      "Total number of errors by component",
		},
		[]string{"component", "error_type"},
	)

	m.errorRateByType = auto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "errors_by_type_total",
			Help:      "Total number of errors by type",
		},
		[]string{"error_type", "severity"},
	)

	m.errorRateByEndpoint = auto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "errors_by_endpoint_total",
			Help:      "Total number of errors by endpoint",
		},
		[]string{"endpoint", "method", "error_type"},
	)

	m.errorLatency = auto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "error_latency_milliseconds",
			Help:      "Latency of operations that resulted in errors",
			Buckets:   m.histogramBuckets,
		},
		[]string{"component", "error_type"},
	)

	// System Performance Metrics
	m.systemMemoryUsage = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "system_memory_usage_bytes",
		Help:      "System memory usage in bytes",
	})

	m.systemGoroutineCount = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "system_goroutine_count",
		Help:      "Number of goroutines",
	})

	m.systemGCPauseTime = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "system_gc_pause_time_milliseconds",
		Help:      "GC pause time in milliseconds",
		Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 25, 50, 100, 250, 500, 1000},
	})
}

// RecordSubmissionCommitted increments the committed submissions counter.
func RecordSubmissionCommitted() {
	globalManager.submissionsCommitted.Inc()
}

// RecordSubmissionDuplicate increments the duplicate submissions counter.
func RecordSubmissionDuplicate() {
	globalManager.submissionsDuplicate.Inc()
}

// RecordSubmissionRejected increments the rejected submissions counter.
func RecordSubmissionRejected() {
	globalManager.submissionsRejected.Inc()
}

// RecordSubmissionConflict increments the conflict counter.
func RecordSubmissionConflict() {
	globalManager.submissionsConflict.Inc()
}

// RecordSubmissionHeld increments the held-for-verification counter.
func RecordSubmissionHeld() {
	globalManager.submissionsHeld.Inc()
}

// RecordVerifyLatency records upstream verification latency in milliseconds.
func RecordVerifyLatency(latencyMs float64) {
	globalManager.verifyLatency.Observe(latencyMs)
}

// Backfill Metrics Functions.

// RecordBackfillRun increments the backfill runs counter.
func RecordBackfillRun() {
	globalManager.backfillRuns.Inc()
}

// RecordBackfillInserted adds to the backfill inserted counter.
func RecordBackfillInserted(n int) {
	globalManager.backfillInserted.Add(float64(n))
}

// RecordBackfillSkipped adds to the backfill skipped counter.
func RecordBackfillSkipped(n int) {
	globalManager.backfillSkipped.Add(float64(n))
}

// Reconciliation Metrics Functions.

// RecordReconcileRun increments the reconcile runs counter.
func RecordReconcileRun() {
	globalManager.reconcileRuns.Inc()
}

// RecordReconcileDrift increments the drift-detected counter.
func RecordReconcileDrift() {
	globalManager.reconcileDrift.Inc()
}

// RecordCorrectionWritten increments the corrections counter.
func RecordCorrectionWritten() {
	globalManager.correctionsWritten.Inc()
}

// UpdateLastDriftAbs sets the absolute discrepancy of the last reconcile pass.
func UpdateLastDriftAbs(drift float64) {
	globalManager.lastDriftAbs.Set(drift)
}

// Operational Health Metrics Functions.

// UpdateTrackedUsers sets the tracked-users gauge.
func UpdateTrackedUsers(count int) {
	globalManager.trackedUsers.Set(float64(count))
}

// UpdateLedgerEvents sets the committed-events gauge.
func UpdateLedgerEvents(count int) {
	globalManager.ledgerEvents.Set(float64(count))
}

// Global Lock Metrics Functions.

// RecordGlobalLockWait records time spent waiting on the global lock.
func RecordGlobalLockWait(latencyMs float64) {
	globalManager.globalLockWait.Observe(latencyMs)
}

// RecordGlobalLockTimeout increments the lock-timeout counter.
func RecordGlobalLockTimeout() {
	globalManager.globalLockTimeouts.Inc()
}

// Store Metrics Functions.

// RecordStoreCommitLatency records store commit operation latency.
func RecordStoreCommitLatency(latencyMs float64) {
	globalManager.storeCommitLatency.Observe(latencyMs)
}

// RecordStoreQueryLatency records store query operation latency.
func RecordStoreQueryLatency(latencyMs float64) {
	globalManager.storeQueryLatency.Observe(latencyMs)
}

// Rank Snapshot Metrics Functions.

// RecordRankSnapshotRebuildDuration records a snapshot rebuild duration.
func RecordRankSnapshotRebuildDuration(latencyMs float64) {
	globalManager.rankSnapshotRebuildDuration.Observe(latencyMs)
}

// UpdateRankSnapshotLastUnix sets the last snapshot publish timestamp.
func UpdateRankSnapshotLastUnix(unix float64) {
	globalManager.rankSnapshotLastUnix.Set(unix)
}

// IncrementRankSnapshotCount increments the snapshot publish counter.
func IncrementRankSnapshotCount() {
	globalManager.rankSnapshotCount.Inc()
}

// UpdateRankIndexSize sets the leaderboard index size gauge.
func UpdateRankIndexSize(count int) {
	globalManager.rankIndexSize.Set(float64(count))
}

// Notifier Metrics Functions.

// RecordNotificationPublished increments the published notifications counter.
func RecordNotificationPublished() {
	globalManager.notificationsPublished.Inc()
}

// RecordNotificationDropped increments the dropped notifications counter.
func RecordNotificationDropped() {
	globalManager.notificationsDropped.Inc()
}

// UpdateNotifierSubscribers sets the subscriber count gauge.
func UpdateNotifierSubscribers(count int) {
	globalManager.notifierSubscribers.Set(float64(count))
}

// UpdateNotifierBacklog sets the outbox backlog gauge.
func UpdateNotifierBacklog(size int) {
	globalManager.notifierBacklog.Set(float64(size))
}

// HTTP Metrics Functions.

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration records HTTP request duration.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, duration float64) {
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(duration)
}

// Enhanced Error Metrics Functions.

// RecordErrorByComponent records an error with component and type labels.
func RecordErrorByComponent(component, errorType string) {
	globalManager.errorRateByComponent.WithLabelValues(component, errorType).Inc()
}

// RecordErrorByType records an error with type and severity labels.
func RecordErrorByType(errorType, severity string) {
	globalManager.errorRateByType.WithLabelValues(errorType, severity).Inc()
}

// RecordErrorByEndpoint records an error with endpoint, method, and error type labels.
func RecordErrorByEndpoint(endpoint, method, errorType string) {
	globalManager.errorRateByEndpoint.WithLabelValues(endpoint, method, errorType).Inc()
}

// RecordErrorLatency records the latency of an operation that resulted in an error.
func RecordErrorLatency(component, errorType string, latencyMs float64) {
	globalManager.errorLatency.WithLabelValues(component, errorType).Observe(latencyMs)
}

// System Performance Metrics Functions.

// UpdateSystemMemoryUsage sets the system memory usage in bytes.
func UpdateSystemMemoryUsage(bytes uint64) {
	globalManager.systemMemoryUsage.Set(float64(bytes))
}

// UpdateSystemGoroutineCount sets the number of goroutines.
func UpdateSystemGoroutineCount(count int) {
	globalManager.systemGoroutineCount.Set(float64(count))
}

// RecordSystemGCPauseTime records GC pause time in milliseconds.
func RecordSystemGCPauseTime(pauseMs float64) {
	globalManager.systemGCPauseTime.Observe(pauseMs)
}

// GetRegistry returns the custom Prometheus registry used by our metrics.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
