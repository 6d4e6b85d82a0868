package service

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/punchamoorthee/savingsledger/internal/domain"
)

var (
	ledgerOperationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_operations_total",
		Help: "Ledger operations processed, labeled by outcome",
	}, []string{"operation", "outcome"})

	ledgerOperationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ledger_operation_duration_seconds",
		Help:    "Latency of ledger operations including retries",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	}, []string{"operation"})

	ledgerConflictRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_conflict_retries_total",
		Help: "Atomic units retried after a storage conflict",
	}, []string{"operation"})

	duplicateDepositsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ledger_duplicate_deposits_total",
		Help: "External deposits suppressed because their reference was already applied",
	})

	hookFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_hook_failures_total",
		Help: "Post-commit hook invocations that returned an error",
	}, []string{"hook"})
)

func observe(operation string, start time.Time, err error) {
	ledgerOperationDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
	ledgerOperationsTotal.WithLabelValues(operation, domain.ClassifyError(err)).Inc()
}
