package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	contentionRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "splitsync_engine_contention_retries_total",
		Help: "Optimistic pair-transaction attempts lost to contention and retried.",
	})

	duplicateDeliveries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "splitsync_engine_duplicate_deliveries_total",
		Help: "Ledger applications skipped because the transaction was already recorded.",
	})

	ledgerApplied = promauto.NewCounter(prometheus.CounterOpts{
		Name: "splitsync_engine_ledger_applied_total",
		Help: "Per-payer ledger applications committed.",
	})

	mirrorWrites = promauto.NewCounter(prometheus.CounterOpts{
		Name: "splitsync_engine_mirror_writes_total",
		Help: "Relationship mirror writes committed to a counterpart.",
	})

	unresolvedCounterparts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "splitsync_engine_unresolved_counterparts_total",
		Help: "Friend requests dropped because no party matched the address.",
	})

	splitMismatches = promauto.NewCounter(prometheus.CounterOpts{
		Name: "splitsync_engine_split_mismatches_total",
		Help: "Ledger entries whose declared split disagreed with the computed one.",
	})
)
