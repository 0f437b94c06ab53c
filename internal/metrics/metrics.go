package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// API Metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "transcribe_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "transcribe_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	// Submission Metrics
	SubmissionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "transcribe_submissions_total",
			Help: "Total number of media submissions accepted for processing",
		},
		[]string{"kind"},
	)

	MediaSizeBytes = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "transcribe_media_size_bytes",
			Help:    "Size of fetched media in bytes",
			Buckets: prometheus.ExponentialBuckets(64*1024, 2, 12), // 64KB to 128MB
		},
	)

	// Pipeline Metrics
	PipelineOutcomesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "transcribe_pipeline_outcomes_total",
			Help: "Total number of pipeline outcomes by status and code",
		},
		[]string{"status", "code"},
	)

	PipelineDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "transcribe_pipeline_duration_seconds",
			Help:    "End to end pipeline duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 12), // 0.5s to ~17 minutes
		},
	)

	GateDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "transcribe_gate_duration_seconds",
			Help:    "Duration of each pipeline gate in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 16),
		},
		[]string{"gate"},
	)

	JobsInProgress = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "transcribe_jobs_in_progress",
			Help: "Number of jobs currently being processed",
		},
	)

	JobsQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "transcribe_jobs_queue_depth",
			Help: "Number of jobs waiting in queue",
		},
	)

	JobRetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "transcribe_job_retries_total",
			Help: "Total number of jobs sent to the retry or dead letter queue",
		},
		[]string{"destination"},
	)

	// Quota Metrics
	MinutesDebitedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "transcribe_minutes_debited_total",
			Help: "Total audio minutes debited from quotas",
		},
		[]string{"plan"},
	)

	QuotaRejectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "transcribe_quota_rejections_total",
			Help: "Total number of admissions rejected for insufficient quota",
		},
		[]string{"plan"},
	)

	QuotaResetsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "transcribe_quota_resets_total",
			Help: "Total number of daily quota resets applied",
		},
	)

	ReferralCreditsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "transcribe_referral_credits_total",
			Help: "Total number of referral bonuses credited",
		},
	)

	PaymentsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "transcribe_payments_total",
			Help: "Total number of payments by status",
		},
		[]string{"status"},
	)

	// Backend Metrics
	TranscriberRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "transcribe_backend_requests_total",
			Help: "Total number of transcription backend requests",
		},
		[]string{"model", "status"},
	)

	TranscriberDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "transcribe_backend_duration_seconds",
			Help:    "Transcription backend latency in seconds",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
		},
		[]string{"model"},
	)

	// Storage Metrics
	StorageOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "transcribe_storage_operations_total",
			Help: "Total number of storage operations",
		},
		[]string{"operation", "status"},
	)

	StorageOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "transcribe_storage_operation_duration_seconds",
			Help:    "Storage operation duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		},
		[]string{"operation"},
	)

	StorageBytesTransferred = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "transcribe_storage_bytes_transferred_total",
			Help: "Total bytes transferred to/from storage",
		},
		[]string{"operation"},
	)

	// Database Metrics
	DatabaseOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "transcribe_database_operations_total",
			Help: "Total number of database operations",
		},
		[]string{"operation", "status"},
	)

	DatabaseOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "transcribe_database_operation_duration_seconds",
			Help:    "Database operation duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	// Cache Metrics
	CacheHitsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "transcribe_cache_hits_total",
			Help: "Total number of cache hits",
		},
		[]string{"cache_type"},
	)

	CacheMissesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "transcribe_cache_misses_total",
			Help: "Total number of cache misses",
		},
		[]string{"cache_type"},
	)

	// Error Metrics
	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "transcribe_errors_total",
			Help: "Total number of errors by component and type",
		},
		[]string{"component", "error_type"},
	)
)

// RecordHTTPRequest records an HTTP request
func RecordHTTPRequest(method, endpoint, status string, duration float64) {
	HTTPRequestsTotal.WithLabelValues(method, endpoint, status).Inc()
	HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(duration)
}

// RecordSubmission records an accepted media submission
func RecordSubmission(kind string) {
	SubmissionsTotal.WithLabelValues(kind).Inc()
}

// RecordMediaSize records the size of a fetched artifact
func RecordMediaSize(bytes int64) {
	MediaSizeBytes.Observe(float64(bytes))
}

// RecordOutcome records a finished pipeline run
func RecordOutcome(status, code string, duration float64) {
	PipelineOutcomesTotal.WithLabelValues(status, code).Inc()
	PipelineDuration.Observe(duration)
}

// RecordGate records the time spent in one pipeline gate
func RecordGate(gate string, duration float64) {
	GateDuration.WithLabelValues(gate).Observe(duration)
}

// UpdateJobMetrics updates current job metrics
func UpdateJobMetrics(inProgress, queueDepth int) {
	JobsInProgress.Set(float64(inProgress))
	JobsQueueDepth.Set(float64(queueDepth))
}

// RecordJobRetry records a job routed to "retry" or "dlq"
func RecordJobRetry(destination string) {
	JobRetriesTotal.WithLabelValues(destination).Inc()
}

// RecordMinutesDebited records minutes charged against a plan
func RecordMinutesDebited(plan string, minutes float64) {
	MinutesDebitedTotal.WithLabelValues(plan).Add(minutes)
}

// RecordQuotaRejection records a rejected admission
func RecordQuotaRejection(plan string) {
	QuotaRejectionsTotal.WithLabelValues(plan).Inc()
}

// RecordQuotaReset records an applied daily reset
func RecordQuotaReset() {
	QuotaResetsTotal.Inc()
}

// RecordReferralCredit records a credited referral bonus
func RecordReferralCredit() {
	ReferralCreditsTotal.Inc()
}

// RecordPayment records a payment state change
func RecordPayment(status string) {
	PaymentsTotal.WithLabelValues(status).Inc()
}

// RecordTranscriberRequest records a transcription backend call
func RecordTranscriberRequest(model, status string, duration float64) {
	TranscriberRequestsTotal.WithLabelValues(model, status).Inc()
	TranscriberDuration.WithLabelValues(model).Observe(duration)
}

// RecordStorageOperation records a storage operation
func RecordStorageOperation(operation, status string, duration float64, bytesTransferred int64) {
	StorageOperationsTotal.WithLabelValues(operation, status).Inc()
	StorageOperationDuration.WithLabelValues(operation).Observe(duration)
	StorageBytesTransferred.WithLabelValues(operation).Add(float64(bytesTransferred))
}

// RecordDatabaseOperation records a database operation
func RecordDatabaseOperation(operation, status string, duration float64) {
	DatabaseOperationsTotal.WithLabelValues(operation, status).Inc()
	DatabaseOperationDuration.WithLabelValues(operation).Observe(duration)
}

// RecordCacheAccess records cache hit or miss
func RecordCacheAccess(cacheType string, hit bool) {
	if hit {
		CacheHitsTotal.WithLabelValues(cacheType).Inc()
	} else {
		CacheMissesTotal.WithLabelValues(cacheType).Inc()
	}
}

// RecordError records an error
func RecordError(component, errorType string) {
	ErrorsTotal.WithLabelValues(component, errorType).Inc()
}

// Status returns the label used for an operation result
func Status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
