// Package metrics declares the Prometheus collectors of the credit service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Operations counts balance engine calls by operation and outcome. Outcome is
// "ok" or the error kind.
var Operations = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "credits",
	Subsystem: "engine",
	Name:      "operations_total",
	Help:      "Balance engine operations by outcome.",
}, []string{"operation", "outcome"})

var OperationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "credits",
	Subsystem: "engine",
	Name:      "operation_duration_seconds",
	Help:      "Balance engine operation latency, lock wait included.",
	Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 3, 5},
}, []string{"operation"})

// TokensMoved sums token amounts credited or debited per bucket.
var TokensMoved = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "credits",
	Subsystem: "ledger",
	Name:      "tokens_moved_total",
	Help:      "Absolute token amounts written to the ledger per bucket.",
}, []string{"bucket"})

var ReconcileMismatches = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "credits",
	Subsystem: "reconcile",
	Name:      "mismatched_buckets",
	Help:      "Buckets whose stored balance differed from the ledger at the last run.",
})

var ReconcileRuns = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "credits",
	Subsystem: "reconcile",
	Name:      "runs_total",
	Help:      "Reconciliation runs by result.",
}, []string{"result"})

var MigrationUsers = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "credits",
	Subsystem: "migration",
	Name:      "users_total",
	Help:      "Users processed by balance migration by result.",
}, []string{"result"})
