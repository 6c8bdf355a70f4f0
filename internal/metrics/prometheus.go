package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusMetrics contains all Prometheus metrics of the bounty sync
type PrometheusMetrics struct {
	// Run metrics
	SyncRunsTotal        *prometheus.CounterVec
	SyncRunDuration      prometheus.Histogram
	LastSuccessfulRun    prometheus.Gauge
	HeadBlock            prometheus.Gauge
	VerifiedThroughBlock prometheus.Gauge

	// Fetch metrics
	ChunksFetchedTotal     *prometheus.CounterVec
	LogEntriesFetchedTotal *prometheus.CounterVec

	// Normalization metrics
	EventsNormalizedTotal *prometheus.CounterVec

	// Reconciliation metrics
	BountiesReconciled  *prometheus.GaugeVec
	RecordsWrittenTotal *prometheus.CounterVec

	// Connection metrics
	ConnectionErrorsTotal *prometheus.CounterVec
	RPCRequestsTotal      *prometheus.CounterVec
	RPCRequestDuration    *prometheus.HistogramVec

	// Storage metrics
	DatabaseOperationsTotal   *prometheus.CounterVec
	DatabaseOperationDuration *prometheus.HistogramVec

	// API metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Application health metrics
	ApplicationUptime prometheus.Gauge
	MemoryUsage       prometheus.Gauge
	GoroutineCount    prometheus.Gauge
}

// NewPrometheusMetrics creates all metrics and registers them with reg
func NewPrometheusMetrics(reg prometheus.Registerer) *PrometheusMetrics {
	factory := promauto.With(reg)

	return &PrometheusMetrics{
		SyncRunsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bounty_sync_runs_total",
				Help: "Total number of reconciliation runs by outcome",
			},
			[]string{"status"},
		),

		SyncRunDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "bounty_sync_run_duration_seconds",
				Help:    "Wall time of a reconciliation run",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
			},
		),

		LastSuccessfulRun: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "bounty_sync_last_success_timestamp_seconds",
				Help: "Unix time of the last committed run",
			},
		),

		HeadBlock: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "bounty_sync_head_block",
				Help: "Ledger head block observed by the last run",
			},
		),

		VerifiedThroughBlock: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "bounty_sync_verified_through_block",
				Help: "Last block up to which every chunk was fetched without error",
			},
		),

		ChunksFetchedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bounty_sync_chunks_total",
				Help: "Log query chunks by event kind and outcome",
			},
			[]string{"event_kind", "status"},
		),

		LogEntriesFetchedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bounty_sync_log_entries_total",
				Help: "Raw log entries fetched by event kind",
			},
			[]string{"event_kind"},
		),

		EventsNormalizedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bounty_sync_events_normalized_total",
				Help: "Canonical events produced or dropped by variant",
			},
			[]string{"variant", "status"},
		),

		BountiesReconciled: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "bounty_sync_bounties",
				Help: "Theorems reconstructed by the last run by status",
			},
			[]string{"status"},
		),

		RecordsWrittenTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bounty_sync_records_total",
				Help: "Bounty records inserted, updated or left unchanged",
			},
			[]string{"operation"},
		),

		ConnectionErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bounty_sync_connection_errors_total",
				Help: "Total number of connection errors to ledger nodes",
			},
			[]string{"endpoint", "error_type"},
		),

		RPCRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bounty_sync_rpc_requests_total",
				Help: "Total number of RPC requests made to ledger nodes",
			},
			[]string{"endpoint", "method", "status"},
		),

		RPCRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "bounty_sync_rpc_request_duration_seconds",
				Help:    "Duration of RPC requests to ledger nodes",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"endpoint", "method"},
		),

		DatabaseOperationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bounty_sync_database_operations_total",
				Help: "Total number of database operations",
			},
			[]string{"operation", "table", "status"},
		),

		DatabaseOperationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "bounty_sync_database_operation_duration_seconds",
				Help:    "Duration of database operations",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation", "table"},
		),

		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bounty_sync_http_requests_total",
				Help: "Total number of HTTP requests to the read API",
			},
			[]string{"method", "path", "status"},
		),

		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "bounty_sync_http_request_duration_seconds",
				Help:    "Duration of HTTP requests to the read API",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),

		ApplicationUptime: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "bounty_sync_uptime_seconds",
				Help: "Application uptime in seconds",
			},
		),

		MemoryUsage: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "bounty_sync_memory_usage_bytes",
				Help: "Current memory usage in bytes",
			},
		),

		GoroutineCount: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "bounty_sync_goroutines",
				Help: "Number of running goroutines",
			},
		),
	}
}

// RecordSyncRun records the outcome and duration of a run
func (m *PrometheusMetrics) RecordSyncRun(status string, duration time.Duration) {
	m.SyncRunsTotal.WithLabelValues(status).Inc()
	m.SyncRunDuration.Observe(duration.Seconds())
	if status == "success" {
		m.LastSuccessfulRun.SetToCurrentTime()
	}
}

// RecordChunk records one chunk query
func (m *PrometheusMetrics) RecordChunk(eventKind, status string, entries int) {
	m.ChunksFetchedTotal.WithLabelValues(eventKind, status).Inc()
	if entries > 0 {
		m.LogEntriesFetchedTotal.WithLabelValues(eventKind).Add(float64(entries))
	}
}

// RecordNormalized records a produced or dropped canonical event
func (m *PrometheusMetrics) RecordNormalized(variant, status string) {
	m.EventsNormalizedTotal.WithLabelValues(variant, status).Inc()
}

// UpdateBounties sets the reconstructed open and closed counts
func (m *PrometheusMetrics) UpdateBounties(open, closed int) {
	m.BountiesReconciled.WithLabelValues("open").Set(float64(open))
	m.BountiesReconciled.WithLabelValues("closed").Set(float64(closed))
}

// RecordRecordsWritten records how many records an operation touched
func (m *PrometheusMetrics) RecordRecordsWritten(operation string, count int) {
	m.RecordsWrittenTotal.WithLabelValues(operation).Add(float64(count))
}

// UpdateBlocks sets the head and verified-through gauges
func (m *PrometheusMetrics) UpdateBlocks(head uint64, verifiedThrough uint64, verified bool) {
	m.HeadBlock.Set(float64(head))
	if verified {
		m.VerifiedThroughBlock.Set(float64(verifiedThrough))
	}
}

// RecordConnectionError records a connection error
func (m *PrometheusMetrics) RecordConnectionError(endpoint, errorType string) {
	m.ConnectionErrorsTotal.WithLabelValues(endpoint, errorType).Inc()
}

// RecordRPCRequest records an RPC request
func (m *PrometheusMetrics) RecordRPCRequest(endpoint, method, status string, duration time.Duration) {
	m.RPCRequestsTotal.WithLabelValues(endpoint, method, status).Inc()
	m.RPCRequestDuration.WithLabelValues(endpoint, method).Observe(duration.Seconds())
}

// RecordDatabaseOperation records a database operation
func (m *PrometheusMetrics) RecordDatabaseOperation(operation, table, status string, duration time.Duration) {
	m.DatabaseOperationsTotal.WithLabelValues(operation, table, status).Inc()
	m.DatabaseOperationDuration.WithLabelValues(operation, table).Observe(duration.Seconds())
}

// RecordHTTPRequest records an HTTP request
func (m *PrometheusMetrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// UpdateApplicationUptime updates the application uptime metric
func (m *PrometheusMetrics) UpdateApplicationUptime(startTime time.Time) {
	m.ApplicationUptime.Set(time.Since(startTime).Seconds())
}

// UpdateMemoryUsage updates the memory usage metric
func (m *PrometheusMetrics) UpdateMemoryUsage(bytes uint64) {
	m.MemoryUsage.Set(float64(bytes))
}

// UpdateGoroutineCount updates the goroutine count metric
func (m *PrometheusMetrics) UpdateGoroutineCount(count int) {
	m.GoroutineCount.Set(float64(count))
}
