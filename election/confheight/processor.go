package confheight

import (
	"context"
	"errors"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/scendere/scendere-node/core/blocks"
	"github.com/scendere/scendere-node/core/types"
	"github.com/scendere/scendere-node/ledger"
	"github.com/scendere/scendere-node/metrics"
	"github.com/scendere/scendere-node/store"
)

var log = logrus.WithField("prefix", "confheight")

const (
	// DefaultBoundedMaxItems is the bounded walker's in-memory cap:
	// above this many blocks read in one walk, it truncates and the
	// processor re-queues the original block for a follow-up pass.
	DefaultBoundedMaxItems = 131072
	// DefaultBatchWriteSize is the nominal cementation batch size. No
	// Processor code reads it: cementation writes are not split into
	// batches of this size, and there is no adaptive batch sizing.
	DefaultBatchWriteSize = 16384
	// DefaultUnboundedCutoff is the block_count threshold above which
	// bounded mode is preferred automatically (see SelectMode).
	DefaultUnboundedCutoff = 1000000
)

// Mode selects which traversal strategy an automatic Processor uses.
type Mode int

const (
	ModeAutomatic Mode = iota
	ModeBounded
	ModeUnbounded
)

// SelectMode applies the automatic selection rule: unbounded while
// blockCount is below unboundedCutoff, or while the blocks above the
// cutoff do not exceed cementedCount; bounded otherwise.
func SelectMode(blockCount, cementedCount uint64, unboundedCutoff uint64) Mode {
	if blockCount < unboundedCutoff || blockCount-unboundedCutoff <= cementedCount {
		return ModeUnbounded
	}
	return ModeBounded
}

// CementedObserver is invoked once per newly cemented block, in block
// order, after the write that cemented it has committed.
type CementedObserver func(b *blocks.Block, account types.Account, height uint64)

// AlreadyCementedObserver is invoked when a block is requested for
// cementation but was already at or below its account's frontier.
type AlreadyCementedObserver func(hash types.BlockHash)

// Processor drains a queue of newly-confirmed blocks, computes the
// cementation write details for each (recursing into receive sources),
// and persists new confirmation heights.
type Processor struct {
	ledger *ledger.Ledger
	store  store.Store

	Mode            Mode
	UnboundedCutoff uint64
	BoundedMaxItems int

	mu       sync.Mutex
	cond     *sync.Cond
	queue    []*blocks.Block
	stopped  bool
	cemented uint64 // running proxy for the reference node's cache.cemented_count

	obsMu                    sync.Mutex
	cementedObservers        []CementedObserver
	alreadyCementedObservers []AlreadyCementedObserver
}

// New builds a Processor over l and s in automatic mode.
func New(l *ledger.Ledger, s store.Store) *Processor {
	p := &Processor{
		ledger:          l,
		store:           s,
		Mode:            ModeAutomatic,
		UnboundedCutoff: DefaultUnboundedCutoff,
		BoundedMaxItems: DefaultBoundedMaxItems,
	}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// ObserveCemented registers o to run after every cemented block.
func (p *Processor) ObserveCemented(o CementedObserver) {
	p.obsMu.Lock()
	p.cementedObservers = append(p.cementedObservers, o)
	p.obsMu.Unlock()
}

// ObserveAlreadyCemented registers o to run when a requested hash turns
// out to already be cemented.
func (p *Processor) ObserveAlreadyCemented(o AlreadyCementedObserver) {
	p.obsMu.Lock()
	p.alreadyCementedObservers = append(p.alreadyCementedObservers, o)
	p.obsMu.Unlock()
}

// Add enqueues a confirmed block for cementation.
func (p *Processor) Add(b *blocks.Block) {
	p.mu.Lock()
	p.queue = append(p.queue, b)
	p.mu.Unlock()
	p.cond.Signal()
}

// Len returns the number of blocks still awaiting cementation.
func (p *Processor) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}

func (p *Processor) dequeue() *blocks.Block {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.queue) == 0 {
		return nil
	}
	b := p.queue[0]
	p.queue = p.queue[1:]
	return b
}

func (p *Processor) requeueFront(b *blocks.Block) {
	p.mu.Lock()
	p.queue = append([]*blocks.Block{b}, p.queue...)
	p.mu.Unlock()
}

func (p *Processor) chooseWalker(tx store.ReadTransaction) (*Walker, error) {
	mode := p.Mode
	if mode == ModeAutomatic {
		blockCount, err := tx.Count(store.TableBlocks)
		if err != nil {
			return nil, err
		}
		mode = SelectMode(blockCount, p.cemented, p.UnboundedCutoff)
	}
	if mode == ModeBounded {
		return NewWalker(p.ledger, p.BoundedMaxItems), nil
	}
	return NewWalker(p.ledger, 0), nil
}

// ProcessOne dequeues and cements one block's dependency closure,
// returning the number of blocks newly cemented (zero if the queue was
// empty or the block was already fully cemented).
func (p *Processor) ProcessOne(ctx context.Context) (int, error) {
	original := p.dequeue()
	if original == nil {
		return 0, nil
	}

	var details []WriteDetails
	var truncated bool
	var cementedBlocks []cementedEntry

	err := store.Update(ctx, p.store, func(tx store.WriteTransaction) error {
		w, err := p.chooseWalker(tx)
		if err != nil {
			return err
		}
		details, truncated, err = w.Walk(tx, original)
		if err != nil {
			return err
		}
		if len(details) == 0 {
			return nil
		}
		for _, d := range details {
			entries, err := p.cementAccount(tx, d)
			if err != nil {
				return err
			}
			cementedBlocks = append(cementedBlocks, entries...)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	if truncated {
		p.requeueFront(original)
	}

	for _, c := range cementedBlocks {
		p.fireCemented(c.block, c.account, c.height)
	}
	p.mu.Lock()
	p.cemented += uint64(len(cementedBlocks))
	p.mu.Unlock()

	if len(details) == 0 {
		hash, err := original.Hash()
		if err == nil {
			p.fireAlreadyCemented(hash)
		}
	}
	return len(cementedBlocks), nil
}

type cementedEntry struct {
	block   *blocks.Block
	account types.Account
	height  uint64
}

// cementAccount advances account d.Account's confirmation height from
// its current frontier to d.TopHeight, walking forward from d.BottomHash
// to collect the blocks being cemented in order so observers fire
// oldest-first, matching the invariant that cementation never skips
// heights.
func (p *Processor) cementAccount(tx store.WriteTransaction, d WriteDetails) ([]cementedEntry, error) {
	confHeight, err := p.ledger.GetConfirmationHeight(tx, d.Account)
	if err != nil {
		return nil, err
	}
	if confHeight.Height >= d.TopHeight {
		return nil, nil
	}

	var entries []cementedEntry
	var topHash types.BlockHash
	hash := d.BottomHash
	for {
		b, err := p.ledger.GetBlock(tx, hash)
		if err != nil {
			if errors.Is(err, ledger.ErrNotFound) {
				break
			}
			return nil, err
		}
		if b.Sideband == nil {
			break
		}
		entries = append(entries, cementedEntry{block: b, account: d.Account, height: b.Sideband.Height})
		topHash = hash
		if b.Sideband.Height >= d.TopHeight {
			break
		}
		successor := b.Sideband.Successor
		if successor.IsZero() {
			break
		}
		hash = successor
	}
	if len(entries) == 0 {
		return nil, nil
	}
	top := entries[len(entries)-1]
	if err := p.ledger.PutConfirmationHeight(tx, d.Account, ledger.ConfirmationHeightInfo{
		Height:   top.height,
		Frontier: topHash,
	}); err != nil {
		return nil, err
	}
	return entries, nil
}

func (p *Processor) fireCemented(b *blocks.Block, account types.Account, height uint64) {
	metrics.ElectionsConfirmed.Inc()
	p.obsMu.Lock()
	obs := append([]CementedObserver(nil), p.cementedObservers...)
	p.obsMu.Unlock()
	for _, o := range obs {
		o(b, account, height)
	}
}

func (p *Processor) fireAlreadyCemented(hash types.BlockHash) {
	p.obsMu.Lock()
	obs := append([]AlreadyCementedObserver(nil), p.alreadyCementedObservers...)
	p.obsMu.Unlock()
	for _, o := range obs {
		o(hash)
	}
}

// Run drains the queue in a loop, cementing one original block's closure
// at a time, until ctx is cancelled or Stop is called.
func (p *Processor) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		p.mu.Lock()
		for len(p.queue) == 0 && !p.stopped {
			p.cond.Wait()
		}
		stopped := p.stopped
		p.mu.Unlock()
		if stopped {
			return
		}
		if _, err := p.ProcessOne(ctx); err != nil {
			log.WithError(err).Error("cementation failed")
		}
	}
}

// Stop unblocks any waiting call to Run.
func (p *Processor) Stop() {
	p.mu.Lock()
	p.stopped = true
	p.mu.Unlock()
	p.cond.Broadcast()
}
