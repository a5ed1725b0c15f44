// Package aggregator pools confirm_req-style vote requests per peer to
// minimize bandwidth and redundant vote generation: cached votes answer
// a request immediately, anything uncached is batched into a single
// vote-generation call once a peer's pooling window closes. Grounded on
// the reference node's request_aggregator.
package aggregator

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/scendere/scendere-node/core/blocks"
	"github.com/scendere/scendere-node/core/types"
)

var log = logrus.WithField("prefix", "request_aggregator")

// DefaultMaxDelay bounds how long a multi-hash request pool waits for
// more requests from the same peer before it is flushed.
const DefaultMaxDelay = 300 * time.Millisecond

// DefaultSmallDelay is the flush window used for single-hash requests,
// which are assumed to be latency-sensitive (a peer chasing a single
// block to confirm) and so are not held open as long.
const DefaultSmallDelay = 50 * time.Millisecond

// DefaultMaxChannelRequests caps how many pending (hash, root) pairs a
// single peer may have queued before further requests from it are
// dropped rather than pooled.
const DefaultMaxChannelRequests = 7168

// RootHash is one requested (block hash, root) pair.
type RootHash struct {
	Hash types.BlockHash
	Root types.Root
}

// Channel is the peer a pooled request will be answered on. Key
// identifies the peer for pooling purposes (one pool per key); a new
// Add for an already-pooled key updates which Channel answers it,
// mirroring the reference node's "only the newest channel is held".
type Channel interface {
	Key() string
	SendVote(v *types.Vote) error
}

// History supplies already-cast votes for a (root, hash) pair, so the
// aggregator can answer a request without going through vote
// generation again.
type History interface {
	VotesFor(root types.Root, hash types.BlockHash) []*types.Vote
}

// BlockSource resolves a requested hash to the block the aggregator
// should ask a generator to vote for, or nil if the hash is unknown.
type BlockSource interface {
	Find(hash types.BlockHash) *blocks.Block
}

// Generator casts (or rebroadcasts cached) votes for a batch of blocks
// on behalf of the aggregator, replying on ch.
type Generator interface {
	Generate(candidates []*blocks.Block, ch Channel) int
}

type channelPool struct {
	channel     Channel
	hashesRoots []RootHash
	deadline    time.Time
}

// Aggregator pools per-peer confirm_req-style requests and answers them
// from cache or by delegating to vote generation once each peer's
// pooling window elapses.
type Aggregator struct {
	history        History
	blocks         BlockSource
	generator      Generator
	finalGenerator Generator

	maxDelay           time.Duration
	smallDelay         time.Duration
	maxChannelRequests int

	mu      sync.Mutex
	pools   map[string]*channelPool
	stopped chan struct{}
}

// pollInterval is how often Run checks for pools whose deadline has
// elapsed. It is independent of maxDelay/smallDelay: those govern how
// long a request is held open, this governs how promptly an elapsed
// deadline is noticed.
const pollInterval = 10 * time.Millisecond

// New builds an Aggregator. generator answers ordinary requests;
// finalGenerator is reserved for requests the caller has classified as
// eligible for a final vote (see the Open Question decision on this in
// the grounding ledger for why this port does not yet perform that
// classification itself). Non-positive delays/maxChannelRequests fall
// back to their Default constants.
func New(history History, blockSource BlockSource, generator, finalGenerator Generator, maxDelay, smallDelay time.Duration, maxChannelRequests int) *Aggregator {
	if maxDelay <= 0 {
		maxDelay = DefaultMaxDelay
	}
	if smallDelay <= 0 {
		smallDelay = DefaultSmallDelay
	}
	if maxChannelRequests <= 0 {
		maxChannelRequests = DefaultMaxChannelRequests
	}
	a := &Aggregator{
		history:            history,
		blocks:             blockSource,
		generator:          generator,
		finalGenerator:     finalGenerator,
		maxDelay:           maxDelay,
		smallDelay:         smallDelay,
		maxChannelRequests: maxChannelRequests,
		pools:              make(map[string]*channelPool),
		stopped:            make(chan struct{}),
	}
	return a
}

func eraseDuplicates(hashesRoots []RootHash) []RootHash {
	seen := make(map[types.BlockHash]struct{}, len(hashesRoots))
	out := make([]RootHash, 0, len(hashesRoots))
	for _, hr := range hashesRoots {
		if _, ok := seen[hr.Hash]; ok {
			continue
		}
		seen[hr.Hash] = struct{}{}
		out = append(out, hr)
	}
	return out
}

// Add pools hashesRoots for ch, deduplicating by hash, and returns
// whether the request was accepted. A channel already at
// maxChannelRequests queued entries has its new request dropped
// outright, protecting the aggregator from a single noisy peer.
func (a *Aggregator) Add(ch Channel, hashesRoots []RootHash) bool {
	hashesRoots = eraseDuplicates(hashesRoots)
	if len(hashesRoots) == 0 {
		return false
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	pool, exists := a.pools[ch.Key()]
	if exists {
		pool.channel = ch
		if len(pool.hashesRoots) >= a.maxChannelRequests {
			return false
		}
		pool.hashesRoots = append(pool.hashesRoots, hashesRoots...)
		return true
	}

	delay := a.maxDelay
	if len(hashesRoots) == 1 {
		delay = a.smallDelay
	}
	a.pools[ch.Key()] = &channelPool{
		channel:     ch,
		hashesRoots: hashesRoots,
		deadline:    time.Now().Add(delay),
	}
	return true
}

// Size returns the number of peers with a currently pooled request.
func (a *Aggregator) Size() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.pools)
}

// Empty reports whether no peer currently has a pooled request.
func (a *Aggregator) Empty() bool {
	return a.Size() == 0
}

// Stop terminates Run.
func (a *Aggregator) Stop() {
	select {
	case <-a.stopped:
	default:
		close(a.stopped)
	}
}

// Run flushes pools whose deadline has elapsed until Stop is called,
// polling every pollInterval since a deadline elapses on the wall
// clock rather than in response to any event Run could wait on.
func (a *Aggregator) Run() {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-a.stopped:
			return
		case <-ticker.C:
			a.mu.Lock()
			due := a.dueLocked()
			a.mu.Unlock()
			for _, pool := range due {
				a.aggregate(pool)
			}
		}
	}
}

func (a *Aggregator) dueLocked() []*channelPool {
	now := time.Now()
	var due []*channelPool
	for key, p := range a.pools {
		if !p.deadline.After(now) {
			due = append(due, p)
			delete(a.pools, key)
		}
	}
	return due
}

// aggregate answers pool's request from cached votes where possible and
// delegates anything uncached to vote generation.
func (a *Aggregator) aggregate(pool *channelPool) {
	var toGenerate []*blocks.Block
	for _, hr := range pool.hashesRoots {
		cached := a.history.VotesFor(hr.Root, hr.Hash)
		if len(cached) > 0 {
			for _, v := range cached {
				if err := pool.channel.SendVote(v); err != nil {
					log.WithError(err).Debug("failed to reply with cached vote")
				}
			}
			continue
		}
		if b := a.blocks.Find(hr.Hash); b != nil {
			toGenerate = append(toGenerate, b)
		}
	}
	if len(toGenerate) > 0 {
		a.generator.Generate(toGenerate, pool.channel)
	}
}
