// Package metrics holds the Prometheus collectors for the coin ledger.
package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/fortunecoin/backend/internal/ledger"
)

const namespace = "fortune"

// EntitlementDecisions counts resolver outcomes by action and source.
var EntitlementDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "entitlement",
	Name:      "decisions_total",
	Help:      "Entitlement decisions by action and outcome (free_quota, coins, denied, replayed).",
}, []string{"action", "outcome"})

var LedgerEntries = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "ledger",
	Name:      "entries_total",
	Help:      "Ledger entries appended, by kind and unit.",
}, []string{"kind", "unit"})

// OperationErrors counts failed operations by error class.
var OperationErrors = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "ledger",
	Name:      "operation_errors_total",
	Help:      "Failed ledger operations by operation and error class.",
}, []string{"op", "class"})

var OperationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: namespace,
	Subsystem: "ledger",
	Name:      "operation_duration_seconds",
	Help:      "Latency of inbound ledger operations.",
	Buckets:   prometheus.DefBuckets,
}, []string{"op"})

var ExtraRightsScheduled = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "extra_rights",
	Name:      "scheduled_total",
	Help:      "Extra rights created by purchases, by action.",
}, []string{"action"})

var EventsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "events",
	Name:      "dropped_total",
	Help:      "BalanceChanged events not delivered, by reason.",
}, []string{"reason"})

var JobRuns = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "jobs",
	Name:      "runs_total",
	Help:      "Background job runs by job and result.",
}, []string{"job", "result"})

// ReconcileMismatches is the number of counters found out of sync on the last reconciliation.
var ReconcileMismatches = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: namespace,
	Subsystem: "reconcile",
	Name:      "mismatches",
	Help:      "Counters whose projection disagreed with the ledger on the last run.",
})

// ErrorClass maps an error to a low-cardinality label.
func ErrorClass(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, ledger.ErrStoreUnavailable):
		return "store_unavailable"
	case errors.Is(err, ledger.ErrInvariantViolation):
		return "invariant_violation"
	case errors.Is(err, ledger.ErrDuplicateRequest):
		return "duplicate_request"
	case errors.Is(err, ledger.ErrInsufficientCoins), errors.Is(err, ledger.ErrInsufficientEntitlement):
		return "insufficient"
	case errors.Is(err, ledger.ErrAccountNotFound), errors.Is(err, ledger.ErrEntryNotFound):
		return "not_found"
	case ledger.IsDomainError(err):
		return "invalid"
	}
	return "other"
}

// ObserveOp records latency and, on failure, the error class of op.
func ObserveOp(op string, start time.Time, err error) {
	OperationDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	if err != nil {
		OperationErrors.WithLabelValues(op, ErrorClass(err)).Inc()
	}
}
