// Package metrics declares the Prometheus counters and gauges this
// node's packages report against, the same promauto package-level-var
// idiom the reference node's own cache metrics use: register once at
// package init, then call Inc/Set/Observe from the code path that
// already knows the outcome, rather than threading a registry handle
// through every constructor.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// BlocksProcessed counts blocks admitted to the ledger, labeled by
	// ledger.Result (progress, gap_previous, gap_source, fork, old, ...).
	BlocksProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scendere_blocks_processed_total",
		Help: "Number of blocks admitted to the ledger, labeled by outcome.",
	}, []string{"result"})

	// BlockQueueDepth tracks how many blocks are waiting in the intake
	// queue, sampled after each drained batch.
	BlockQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "scendere_block_queue_depth",
		Help: "Current number of blocks waiting in the intake queue.",
	})

	// ElectionsConfirmed counts elections that reached
	// confirmation-height cementation.
	ElectionsConfirmed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "scendere_elections_confirmed_total",
		Help: "Number of elections that reached confirmation-height cementation.",
	})

	// VotesProcessed counts votes the vote processor has verified and
	// applied against live elections, labeled by the resulting vote
	// code (vote, replay, ignored, indeterminate, invalid).
	VotesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scendere_votes_processed_total",
		Help: "Number of votes processed against live elections, labeled by outcome.",
	}, []string{"code"})
)
