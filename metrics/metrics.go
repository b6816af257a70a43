package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome label values shared by the collectors below.
const (
	OutcomeSuccess  = "success"
	OutcomeFailure  = "failure"
	OutcomeCommit   = "commit"
	OutcomeRollback = "rollback"
)

var (
	// Bootstrap

	AppState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "contentmind_app_state",
			Help: "Lifecycle state of the composition root (0=Uninitialized 1=CapabilitiesActivating 2=Ready 3=Failed 4=Stopped)",
		},
	)

	CapabilityActive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "contentmind_capability_active",
			Help: "Whether a platform capability is currently active (1) or not (0)",
		},
		[]string{"capability"},
	)

	CapabilityActivations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "contentmind_capability_activations_total",
			Help: "Total number of capability activation attempts by outcome",
		},
		[]string{"capability", "outcome"},
	)

	CapabilityActivationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "contentmind_capability_activation_duration_seconds",
			Help:    "Time taken to activate a platform capability",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"capability"},
	)

	// ResponseCaching

	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "contentmind_cache_hits_total",
			Help: "Total number of cache hits",
		},
		[]string{"backend"},
	)

	CacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "contentmind_cache_misses_total",
			Help: "Total number of cache misses",
		},
		[]string{"backend"},
	)

	CacheErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "contentmind_cache_errors_total",
			Help: "Total number of cache operation errors",
		},
		[]string{"backend", "operation"},
	)

	// AsyncExecution

	AsyncTasksSubmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "contentmind_async_tasks_submitted_total",
			Help: "Total number of background tasks accepted by an executor",
		},
		[]string{"executor"},
	)

	AsyncTasksRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "contentmind_async_tasks_rejected_total",
			Help: "Total number of background tasks rejected at submission",
		},
		[]string{"executor", "reason"},
	)

	AsyncTasksCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "contentmind_async_tasks_completed_total",
			Help: "Total number of background tasks completed by outcome",
		},
		[]string{"executor", "outcome"},
	)

	AsyncQueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "contentmind_async_queue_depth",
			Help: "Number of tasks waiting in an executor queue",
		},
		[]string{"executor"},
	)

	AsyncActiveWorkers = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "contentmind_async_active_workers",
			Help: "Number of executor workers currently running a task",
		},
		[]string{"executor"},
	)

	AsyncTaskDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "contentmind_async_task_duration_seconds",
			Help:    "Time taken to run a background task",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"executor"},
	)

	// TransactionManagement

	Transactions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "contentmind_transactions_total",
			Help: "Total number of database transactions by outcome",
		},
		[]string{"outcome"},
	)

	TransactionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "contentmind_transaction_duration_seconds",
			Help:    "Time spent inside a database transaction",
			Buckets: prometheus.DefBuckets,
		},
	)

	// PersistenceAuditing

	AuditRecords = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "contentmind_audit_records_total",
			Help: "Total number of audit trail rows written",
		},
		[]string{"entity", "action"},
	)

	// Serving runtime

	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "contentmind_http_requests_total",
			Help: "Total number of HTTP requests served",
		},
		[]string{"method", "status"},
	)
)
