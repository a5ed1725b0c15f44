// Package blockproc implements the block processor: the bounded intake
// queue, ledger admission, unchecked-dependency tracking, and the
// post-batch event fan-out that sits between the network and the ledger.
// Grounded on the shape of the reference node's block processing
// pipeline and gapcache.
package blockproc

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/scendere/scendere-node/blockproc/gapcache"
	"github.com/scendere/scendere-node/core/blocks"
	"github.com/scendere/scendere-node/core/types"
	"github.com/scendere/scendere-node/ledger"
	"github.com/scendere/scendere-node/metrics"
	"github.com/scendere/scendere-node/store"
)

var log = logrus.WithField("prefix", "blockproc")

// DefaultBatchSize is the number of blocks drained per admission batch.
const DefaultBatchSize = 256

// Event reports the outcome of admitting one block, delivered to
// observers once the batch's write transaction has committed.
type Event struct {
	Block  *blocks.Block
	Hash   types.BlockHash
	Result ledger.Result
}

// Observer receives Events fired after each processed batch.
type Observer func(Event)

// Processor admits blocks into the ledger. Signature verification is not
// a separate batched stage here: golang.org/x/crypto/ed25519 has no
// multi-signature batch-verify entry point, so each block is verified
// once, inline, inside ledger.Process. The correctness contract is
// preserved; only the throughput optimization of grouping N verifications
// into one call is not, since nothing in the dependency pack offers that
// primitive for Ed25519.
type Processor struct {
	Queue     *queue
	Gaps      *gapcache.Cache
	BatchSize int

	ledger *ledger.Ledger
	store  store.Store

	obsMu     sync.Mutex
	observers []Observer
}

// New builds a Processor over l and s with a queue capped at maxQueue
// (DefaultMaxQueue if zero or negative).
func New(l *ledger.Ledger, s store.Store, maxQueue int) *Processor {
	return &Processor{
		Queue:     newQueue(maxQueue),
		Gaps:      gapcache.New(gapcache.DefaultSize),
		BatchSize: DefaultBatchSize,
		ledger:    l,
		store:     s,
	}
}

// Observe registers o to receive every future Event.
func (p *Processor) Observe(o Observer) {
	p.obsMu.Lock()
	p.observers = append(p.observers, o)
	p.obsMu.Unlock()
}

func (p *Processor) fire(ev Event) {
	p.obsMu.Lock()
	obs := append([]Observer(nil), p.observers...)
	p.obsMu.Unlock()
	for _, o := range obs {
		o(ev)
	}
}

// Add enqueues a network-sourced block, returning false (and not
// enqueuing) if the queue is already full; callers should drop or defer
// the block in that case rather than blocking producers.
func (p *Processor) Add(b *blocks.Block) bool {
	if p.Queue.Full() {
		return false
	}
	p.Queue.Add(b)
	return true
}

// Force enqueues a locally originated or rollback-driven block onto the
// forced queue, which always drains ahead of incoming and is never
// subject to the full() flow-control check.
func (p *Processor) Force(b *blocks.Block) {
	p.Queue.Force(b)
}

// ProcessBatch drains up to BatchSize queued blocks, admits each inside
// one write transaction, and fires observer Events for the whole batch
// once that transaction has committed. It returns the number of blocks
// drained (zero if the queue was empty).
func (p *Processor) ProcessBatch(ctx context.Context) (int, error) {
	batch := p.Queue.drain(p.BatchSize)
	if len(batch) == 0 {
		return 0, nil
	}

	events := make([]Event, 0, len(batch))
	err := store.Update(ctx, p.store, func(tx store.WriteTransaction) error {
		for _, b := range batch {
			hash, err := b.Hash()
			if err != nil {
				return err
			}
			res, err := p.ledger.Process(tx, b)
			if err != nil {
				return errors.Wrapf(err, "blockproc: admitting %s", hash.String())
			}
			events = append(events, Event{Block: b, Hash: hash, Result: res})

			if dep, ok := dependencyHash(b, res); ok {
				if err := storeUnchecked(tx, dep, b); err != nil {
					return err
				}
				continue
			}
			if res == ledger.Progress {
				dependents, err := takeUnchecked(tx, hash)
				if err != nil {
					return err
				}
				for _, dep := range dependents {
					p.Queue.Force(dep)
				}
				p.Gaps.Erase(hash)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	for _, ev := range events {
		metrics.BlocksProcessed.WithLabelValues(ev.Result.String()).Inc()
		if ev.Result != ledger.Progress {
			log.WithFields(logrus.Fields{
				"hash":   ev.Hash.String(),
				"result": ev.Result.String(),
			}).Debug("block not admitted")
		}
		p.fire(ev)
	}
	metrics.BlockQueueDepth.Set(float64(p.Queue.Len()))
	return len(batch), nil
}

// Run drains the queue in a loop, processing one batch at a time, until
// ctx is cancelled or Close stops the queue.
func (p *Processor) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		if !p.Queue.waitNonEmpty() {
			return
		}
		if _, err := p.ProcessBatch(ctx); err != nil {
			log.WithError(err).Error("batch processing failed")
		}
	}
}

// Close stops Run and unblocks any waiting call to it.
func (p *Processor) Close() {
	p.Queue.Close()
}
