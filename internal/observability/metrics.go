package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the vault service.
type Metrics struct {
	// --- Transfer protocol ---
	OperationsSettled  *prometheus.CounterVec
	OperationsRejected *prometheus.CounterVec
	OperationDuration  *prometheus.HistogramVec
	RollbacksApplied   *prometheus.CounterVec

	// --- Ledger state ---
	TotalLockedValue prometheus.Gauge
	DepositCount     prometheus.Gauge
	WithdrawalCount  prometheus.Gauge

	// --- Oracle ---
	QuoteAge          *prometheus.HistogramVec
	StaleQuoteRejects *prometheus.CounterVec

	// --- Persistence ---
	PersistRowsWritten prometheus.Counter
	PersistBatchSize   prometheus.Histogram
	PersistBatchDur    prometheus.Histogram
	PersistErrors      *prometheus.CounterVec

	// --- HTTP API ---
	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	opBuckets := []float64{
		0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005,
		0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0,
	}

	return &Metrics{
		OperationsSettled: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "vault_operations_settled_total",
			Help: "Operations that reached the settled state",
		}, []string{"kind"}),

		OperationsRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "vault_operations_rejected_total",
			Help: "Operations aborted before or after effects",
		}, []string{"kind", "reason"}),

		OperationDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "vault_operation_duration_seconds",
			Help:    "End-to-end duration of a mutating operation",
			Buckets: opBuckets,
		}, []string{"kind"}),

		RollbacksApplied: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "vault_rollbacks_applied_total",
			Help: "Compensating ledger rollbacks after a failed transfer",
		}, []string{"kind"}),

		TotalLockedValue: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "vault_total_locked_value",
			Help: "Aggregate locked value in common accounting units",
		}),

		DepositCount: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "vault_deposit_count",
			Help: "Settled deposits since start",
		}),

		WithdrawalCount: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "vault_withdrawal_count",
			Help: "Settled withdrawals since start",
		}),

		QuoteAge: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "vault_oracle_quote_age_seconds",
			Help:    "Age of quotes used for normalization",
			Buckets: []float64{1, 5, 15, 60, 300, 900, 1800, 3600},
		}, []string{"asset"}),

		StaleQuoteRejects: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "vault_oracle_stale_rejects_total",
			Help: "Operations aborted on a stale or invalid quote",
		}, []string{"asset"}),

		PersistRowsWritten: promauto.NewCounter(prometheus.CounterOpts{
			Name: "vault_persist_rows_written_total",
			Help: "Operation rows written to Postgres",
		}),

		PersistBatchSize: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "vault_persist_batch_size",
			Help:    "Rows per persisted batch",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250},
		}),

		PersistBatchDur: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "vault_persist_batch_duration_seconds",
			Help:    "Postgres batch write duration",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		}),

		PersistErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "vault_persist_errors_total",
			Help: "Persistence errors by stage",
		}, []string{"error_type"}),

		HTTPRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "vault_http_requests_total",
			Help: "HTTP requests by route and status",
		}, []string{"route", "status"}),

		HTTPDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "vault_http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
		}, []string{"route"}),
	}
}
