package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Tier health metrics
var (
	DBTierUp = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "taskdb_db_tier_up",
			Help: "Whether the last health probe of a database tier succeeded (1) or failed (0).",
		},
		[]string{"tier"},
	)

	DBActiveTier = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "taskdb_db_active_tier",
			Help: "Set to 1 for the tier sessions are currently opened against, 0 for the others.",
		},
		[]string{"tier"},
	)

	DBProbeDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "taskdb_db_probe_duration_seconds",
			Help:    "Duration of database tier health probes in seconds.",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"tier"},
	)
)

// Failover metrics
var (
	DBOpenFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskdb_db_open_failures_total",
			Help: "Total number of failed session opens per tier.",
		},
		[]string{"tier"},
	)

	DBEscalations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskdb_db_escalations_total",
			Help: "Total number of times a session escalated from one tier to a lower-priority tier.",
		},
		[]string{"from", "to"},
	)
)

// Database transaction metrics
var (
	DBTransactionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskdb_db_transactions_total",
			Help: "Total number of database transactions.",
		},
		[]string{"tier", "status"}, // status: "commit", "rollback", "commit_error"
	)

	DBTransactionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "taskdb_db_transaction_duration_seconds",
			Help:    "Duration of database transactions in seconds.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"tier"},
	)

	DBSchemaInit = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskdb_db_schema_init_total",
			Help: "Total number of schema bootstrap attempts per tier.",
		},
		[]string{"tier", "status"}, // status: "success", "failure"
	)
)

// Database connection pool metrics
var (
	DBPoolTotalConns = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "taskdb_db_pool_total_conns",
			Help: "Total number of connections in the pool.",
		},
		[]string{"tier"},
	)

	DBPoolIdleConns = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "taskdb_db_pool_idle_conns",
			Help: "Number of idle connections in the pool.",
		},
		[]string{"tier"},
	)

	DBPoolInUseConns = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "taskdb_db_pool_in_use_conns",
			Help: "Number of connections currently in use.",
		},
		[]string{"tier"},
	)

	DBPoolMaxConns = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "taskdb_db_pool_max_conns",
			Help: "Maximum number of connections the pool may open.",
		},
		[]string{"tier"},
	)
)

// HTTP probe server metrics
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskdb_http_requests_total",
			Help: "Total number of HTTP requests to the probe server.",
		},
		[]string{"path", "code"},
	)
)

// Readiness metrics
var (
	ReadinessStatus = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "taskdb_readiness_status",
			Help: "Readiness of the database layer (0=unreachable, 1=unhealthy, 2=degraded, 3=healthy).",
		},
	)

	ReadinessChecks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskdb_readiness_checks_total",
			Help: "Total number of readiness evaluations by resulting status.",
		},
		[]string{"status"},
	)
)
