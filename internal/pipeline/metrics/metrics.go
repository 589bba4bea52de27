package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// JobsTotal tracks jobs reaching each terminal status
	JobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "postia_jobs_total",
			Help: "Total number of jobs by terminal status",
		},
		[]string{"status"},
	)

	// StepsExecuted tracks step attempts by step and outcome
	StepsExecuted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "postia_steps_executed_total",
			Help: "Total number of step executions",
		},
		[]string{"step", "status"},
	)

	// StepDuration tracks capability call latency per step
	StepDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "postia_step_duration_seconds",
			Help:    "Step execution latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"step"},
	)

	// TokensConsumed tracks tokens debited per tenant
	TokensConsumed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "postia_tokens_consumed_total",
			Help: "Total tokens consumed",
		},
		[]string{"tenant"},
	)

	// InsufficientBalance tracks debits rejected for lack of tokens
	InsufficientBalance = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "postia_insufficient_balance_total",
			Help: "Total debits rejected due to insufficient balance",
		},
		[]string{"tenant"},
	)

	// RecoveriesTotal tracks recovery attempts by chosen strategy and outcome
	RecoveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "postia_recoveries_total",
			Help: "Total recovery attempts",
		},
		[]string{"strategy", "outcome"},
	)

	// AuditWriteFailures tracks swallowed audit persistence errors
	AuditWriteFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "postia_audit_write_failures_total",
			Help: "Total audit entries dropped due to persistence errors",
		},
	)

	// AuditSwept tracks entries removed by the retention sweep
	AuditSwept = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "postia_audit_swept_total",
			Help: "Total audit entries removed by retention sweeps",
		},
	)

	// NotificationsSent tracks manual-intervention notifications
	NotificationsSent = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "postia_notifications_sent_total",
			Help: "Total manual-intervention notifications emitted",
		},
	)

	// DBConnectionPoolUsage tracks database pool utilization percentage
	DBConnectionPoolUsage = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "postia_db_pool_usage_percent",
			Help: "Database connection pool usage percentage",
		},
	)
)
