package election

import (
	"sync"
	"time"

	"github.com/scendere/scendere-node/core/blocks"
	"github.com/scendere/scendere-node/core/types"
)

// Container owns every live election, keyed by qualified root, mirroring
// the reference node's active_transactions. It is the only component
// that may insert, look up, or remove an Election.
type Container struct {
	mu       sync.RWMutex
	byRoot   map[types.QualifiedRoot]*Election
	repIndex *RepIndex
	weights  WeightLookup
	quorum   QuorumProvider

	confirmed []ConfirmationAction
}

// NewContainer builds an empty container over weights and quorum, shared
// by every election it starts.
func NewContainer(weights WeightLookup, quorum QuorumProvider) *Container {
	return &Container{
		byRoot:   make(map[types.QualifiedRoot]*Election),
		repIndex: NewRepIndex(),
		weights:  weights,
		quorum:   quorum,
	}
}

// Len returns the number of live elections.
func (c *Container) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.byRoot)
}

// Find returns the election for b's qualified root, or nil.
func (c *Container) Find(qualifiedRoot types.QualifiedRoot) *Election {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.byRoot[qualifiedRoot]
}

// FindByHash returns the election currently tracking hash as one of its
// competing blocks, or nil if no live election knows about it. Scans
// every live election rather than maintaining a separate hash index,
// since Election may evict a competing block internally
// (replaceByWeightLocked) without the container's involvement.
func (c *Container) FindByHash(hash types.BlockHash) *Election {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, e := range c.byRoot {
		if e.Find(hash) != nil {
			return e
		}
	}
	return nil
}

// ObserveConfirmed registers fn to run, in addition to any
// election-specific confirmationAction, whenever any election started
// through this container confirms. Used to wire node-wide concerns
// (cementation, solicitor cleanup) once instead of threading them
// through every Insert call site.
func (c *Container) ObserveConfirmed(fn ConfirmationAction) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.confirmed = append(c.confirmed, fn)
}

// Insert starts a new election for b unless one already exists for its
// qualified root, in which case the existing election is returned
// instead and inserted is false.
func (c *Container) Insert(height uint64, b *blocks.Block, behavior Behavior, confirmationAction ConfirmationAction, liveVoteAction LiveVoteAction) (*Election, bool, error) {
	qr := b.QualifiedRoot()

	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.byRoot[qr]; ok {
		return existing, false, nil
	}
	observers := c.confirmed
	combined := func(winner *blocks.Block, statusType StatusType) {
		if confirmationAction != nil {
			confirmationAction(winner, statusType)
		}
		for _, obs := range observers {
			obs(winner, statusType)
		}
	}
	e, err := New(height, b, c.weights, c.quorum, c.repIndex, combined, liveVoteAction, behavior)
	if err != nil {
		return nil, false, err
	}
	c.byRoot[qr] = e
	return e, true, nil
}

// Active returns every election still in the passive or active state.
func (c *Container) Active() []*Election {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*Election, 0, len(c.byRoot))
	for _, e := range c.byRoot {
		st := e.State()
		if st == StatePassive || st == StateActive {
			out = append(out, e)
		}
	}
	return out
}

// Erase removes the election for qualifiedRoot, if any.
func (c *Container) Erase(qualifiedRoot types.QualifiedRoot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.byRoot, qualifiedRoot)
}

// Sweep runs TransitionTime over every live election and removes the
// ones that reached a terminal expiry state, returning their qualified
// roots so callers can clean up any per-root bookkeeping elsewhere
// (inactive-vote caches, request aggregator state).
func (c *Container) Sweep() []types.QualifiedRoot {
	c.mu.Lock()
	defer c.mu.Unlock()
	var done []types.QualifiedRoot
	for qr, e := range c.byRoot {
		if e.TransitionTime() {
			done = append(done, qr)
		}
	}
	for _, qr := range done {
		delete(c.byRoot, qr)
	}
	return done
}

// Run periodically sweeps the container until ctx-like stop is closed.
// interval should be well under BaseLatency*PassiveDurationFactor so
// state transitions are timely; callers typically use BaseLatency itself.
func (c *Container) Run(stop <-chan struct{}, interval time.Duration) {
	if interval <= 0 {
		interval = BaseLatency
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			c.Sweep()
		}
	}
}
