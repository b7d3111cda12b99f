package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusMetrics contains all Prometheus metrics for the update governor
type PrometheusMetrics struct {
	// Admission metrics
	AdmissionChecksTotal  *prometheus.CounterVec
	AdmissionDenialsTotal *prometheus.CounterVec
	RequestsRecordedTotal prometheus.Counter
	ActiveRequests        prometheus.Gauge

	// Governance lifecycle metrics
	RequestsTotal  *prometheus.CounterVec
	VotesCastTotal prometheus.Counter

	// Execution queue metrics
	QueueEnqueuedTotal     prometheus.Counter
	QueueRejectedTotal     *prometheus.CounterVec
	QueueExecutedTotal     prometheus.Counter
	QueueFailedTotal       prometheus.Counter
	QueueStaleRemovedTotal prometheus.Counter
	QueueDepth             prometheus.Gauge
	QueueProcessing        prometheus.Gauge
	ExecutionDuration      prometheus.Histogram

	// Storage metrics
	DatabaseOperationsTotal   *prometheus.CounterVec
	DatabaseOperationDuration *prometheus.HistogramVec

	// API metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Application health metrics
	ApplicationUptime prometheus.Gauge
	ComponentHealth   *prometheus.GaugeVec
	MemoryUsage       prometheus.Gauge
	GoroutineCount    prometheus.Gauge
}

// NewPrometheusMetrics creates and registers all Prometheus metrics
func NewPrometheusMetrics() *PrometheusMetrics {
	return &PrometheusMetrics{
		AdmissionChecksTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "governor_admission_checks_total",
				Help: "Total number of admission checks by result",
			},
			[]string{"result"},
		),

		AdmissionDenialsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "governor_admission_denials_total",
				Help: "Total number of admission denials by reason",
			},
			[]string{"reason"},
		),

		RequestsRecordedTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "governor_admission_requests_recorded_total",
				Help: "Total number of requests recorded in the admission ledger",
			},
		),

		ActiveRequests: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "governor_admission_active_requests",
				Help: "Number of admins with an active non-expired request",
			},
		),

		RequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "governor_requests_total",
				Help: "Total number of update requests by lifecycle outcome",
			},
			[]string{"status"},
		),

		VotesCastTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "governor_votes_cast_total",
				Help: "Total number of votes cast on update requests",
			},
		),

		QueueEnqueuedTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "governor_queue_enqueued_total",
				Help: "Total number of requests accepted by the execution queue",
			},
		),

		QueueRejectedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "governor_queue_rejected_total",
				Help: "Total number of enqueue attempts rejected by reason",
			},
			[]string{"reason"},
		),

		QueueExecutedTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "governor_queue_executed_total",
				Help: "Total number of update executions that completed successfully",
			},
		),

		QueueFailedTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "governor_queue_failed_total",
				Help: "Total number of update executions that failed",
			},
		),

		QueueStaleRemovedTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "governor_queue_stale_removed_total",
				Help: "Total number of queued requests removed by the stale sweep",
			},
		),

		QueueDepth: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "governor_queue_depth",
				Help: "Current number of queued requests awaiting execution",
			},
		),

		QueueProcessing: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "governor_queue_processing",
				Help: "Whether an update execution is currently in flight (0 or 1)",
			},
		),

		ExecutionDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "governor_execution_duration_seconds",
				Help:    "Duration of daily update executions",
				Buckets: prometheus.DefBuckets,
			},
		),

		DatabaseOperationsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "governor_database_operations_total",
				Help: "Total number of database operations",
			},
			[]string{"operation", "table", "status"},
		),

		DatabaseOperationDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "governor_database_operation_duration_seconds",
				Help:    "Duration of database operations",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation", "table"},
		),

		HTTPRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "governor_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),

		HTTPRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "governor_http_request_duration_seconds",
				Help:    "Duration of HTTP requests",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),

		ApplicationUptime: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "governor_uptime_seconds",
				Help: "Application uptime in seconds",
			},
		),

		ComponentHealth: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "governor_component_health",
				Help: "Health status of application components (1 healthy, 0 unhealthy)",
			},
			[]string{"component"},
		),

		MemoryUsage: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "governor_memory_usage_bytes",
				Help: "Current memory usage in bytes",
			},
		),

		GoroutineCount: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "governor_goroutines",
				Help: "Current number of goroutines",
			},
		),
	}
}

// RecordAdmissionCheck records an admission check result
func (m *PrometheusMetrics) RecordAdmissionCheck(allowed bool, reason string) {
	result := "allowed"
	if !allowed {
		result = "denied"
		m.AdmissionDenialsTotal.WithLabelValues(reason).Inc()
	}
	m.AdmissionChecksTotal.WithLabelValues(result).Inc()
}

// RecordRequestOutcome records a request lifecycle transition
func (m *PrometheusMetrics) RecordRequestOutcome(status string) {
	m.RequestsTotal.WithLabelValues(status).Inc()
}

// RecordQueueRejection records a rejected enqueue attempt
func (m *PrometheusMetrics) RecordQueueRejection(reason string) {
	m.QueueRejectedTotal.WithLabelValues(reason).Inc()
}

// RecordExecution records a completed execution attempt
func (m *PrometheusMetrics) RecordExecution(success bool, duration time.Duration) {
	if success {
		m.QueueExecutedTotal.Inc()
	} else {
		m.QueueFailedTotal.Inc()
	}
	m.ExecutionDuration.Observe(duration.Seconds())
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

// UpdateComponentHealth updates the health status of a component
func (m *PrometheusMetrics) UpdateComponentHealth(component string, healthy bool) {
	value := 0.0
	if healthy {
		value = 1.0
	}
	m.ComponentHealth.WithLabelValues(component).Set(value)
}

// UpdateMemoryUsage updates the memory usage metric
func (m *PrometheusMetrics) UpdateMemoryUsage(bytes uint64) {
	m.MemoryUsage.Set(float64(bytes))
}

// UpdateGoroutineCount updates the goroutine count metric
func (m *PrometheusMetrics) UpdateGoroutineCount(count int) {
	m.GoroutineCount.Set(float64(count))
}
