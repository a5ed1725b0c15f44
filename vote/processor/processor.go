// Package processor verifies and applies incoming votes against live
// elections in the background, shedding load from low-weight
// representatives first when the incoming queue is under pressure.
// Grounded on the reference node's vote_processor.
package processor

import (
	"sort"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/scendere/scendere-node/core/types"
	"github.com/scendere/scendere-node/election"
	"github.com/scendere/scendere-node/metrics"
)

var log = logrus.WithField("prefix", "vote_processor")

// DefaultMaxVotes bounds how many unprocessed votes are queued before
// load shedding kicks in.
const DefaultMaxVotes = 144 * 1024

// Code classifies what became of a processed vote, mirroring the
// reference node's vote_code.
type Code int

const (
	// CodeInvalid means the vote's signature did not verify.
	CodeInvalid Code = iota
	// CodeReplay means no hash updated a tally and at least one repeated
	// the representative's recorded vote (same hash, same timestamp).
	CodeReplay
	// CodeVote means at least one hash updated an election's tally.
	CodeVote
	// CodeIndeterminate means no live election tracks any hash the
	// vote covers.
	CodeIndeterminate
	// CodeIgnored means a live election was found but the vote was
	// stale everywhere it applied (a timestamp no newer than the rep's
	// recorded vote, other than an exact repeat or a final upgrade).
	CodeIgnored
)

func (c Code) String() string {
	switch c {
	case CodeInvalid:
		return "invalid"
	case CodeReplay:
		return "replay"
	case CodeVote:
		return "vote"
	case CodeIndeterminate:
		return "indeterminate"
	case CodeIgnored:
		return "ignored"
	default:
		return "unknown"
	}
}

// Channel identifies where a vote arrived from, for logging only.
type Channel interface {
	String() string
}

// Container is the subset of election.Container the processor needs: a
// way to find the election (if any) currently tracking a block hash.
type Container interface {
	FindByHash(hash types.BlockHash) *election.Election
}

// WeightLookup resolves a representative's currently delegated weight,
// used to sort incoming votes into load-shedding tiers.
type WeightLookup interface {
	Weight(account types.Account) types.Amount
}

type queuedVote struct {
	vote    *types.Vote
	channel Channel
}

// Processor batches incoming votes onto a background worker that
// verifies each signature and applies it to the matching election(s).
type Processor struct {
	container Container
	weights   WeightLookup
	maxVotes  int

	totalProcessed uint64

	mu      sync.Mutex
	cond    *sync.Cond
	queue   []queuedVote
	tier1   map[types.Account]struct{}
	tier2   map[types.Account]struct{}
	stopped bool
}

// New builds a Processor over container, using weights to rank
// representatives into load-shedding tiers. A non-positive maxVotes
// falls back to DefaultMaxVotes.
func New(container Container, weights WeightLookup, maxVotes int) *Processor {
	if maxVotes <= 0 {
		maxVotes = DefaultMaxVotes
	}
	p := &Processor{
		container: container,
		weights:   weights,
		maxVotes:  maxVotes,
		tier1:     make(map[types.Account]struct{}),
		tier2:     make(map[types.Account]struct{}),
	}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// CalculateWeights re-ranks reps into tier1 (the top half by weight) and
// tier2 (the rest with nonzero weight); anyone else falls into the
// lowest-priority tier3 implicitly. Called periodically as delegated
// weight shifts, mirroring the reference node's calculate_weights.
func (p *Processor) CalculateWeights(reps []types.Account) {
	type weighted struct {
		account types.Account
		weight  types.Amount
	}
	ranked := make([]weighted, 0, len(reps))
	for _, rep := range reps {
		w := p.weights.Weight(rep)
		if !w.IsZero() {
			ranked = append(ranked, weighted{rep, w})
		}
	}
	sort.Slice(ranked, func(i, j int) bool { return ranked[i].weight.Cmp(ranked[j].weight) > 0 })

	tier1 := make(map[types.Account]struct{})
	tier2 := make(map[types.Account]struct{})
	half := len(ranked) / 2
	for i, r := range ranked {
		if i < half {
			tier1[r.account] = struct{}{}
		} else {
			tier2[r.account] = struct{}{}
		}
	}

	p.mu.Lock()
	p.tier1 = tier1
	p.tier2 = tier2
	p.mu.Unlock()
}

// Vote queues v for background processing, applying weight-tiered load
// shedding when the queue is under pressure, and returns whether it was
// accepted. A representative in the lowest tier (or with no recorded
// weight) is rejected once the queue is at least half full; the queue
// never accepts past maxVotes regardless of tier.
func (p *Processor) Vote(v *types.Vote, ch Channel) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.queue) >= p.maxVotes {
		return false
	}
	if len(p.queue) >= p.maxVotes/2 {
		_, inTier1 := p.tier1[v.Account]
		_, inTier2 := p.tier2[v.Account]
		if !inTier1 && !inTier2 {
			return false
		}
	}
	p.queue = append(p.queue, queuedVote{vote: v, channel: ch})
	p.cond.Signal()
	return true
}

// Size returns the number of votes currently queued.
func (p *Processor) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}

// Empty reports whether the queue currently holds no votes.
func (p *Processor) Empty() bool {
	return p.Size() == 0
}

// HalfFull reports whether the queue has reached half its capacity.
func (p *Processor) HalfFull() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue) >= p.maxVotes/2
}

// TotalProcessed returns the number of votes VoteBlocking has processed
// (accepted into the queue or not) since the processor was created.
func (p *Processor) TotalProcessed() uint64 {
	return atomic.LoadUint64(&p.totalProcessed)
}

// VoteBlocking verifies v's signature and applies it to every election
// tracking one of v.Hashes immediately, bypassing the background queue.
// Used by callers that already hold whatever lock guards election
// state (the reference node requires active_transactions's lock held)
// and need the outcome synchronously, e.g. bootstrapped/replayed votes.
func (p *Processor) VoteBlocking(v *types.Vote) Code {
	code := p.voteBlocking(v)
	metrics.VotesProcessed.WithLabelValues(code.String()).Inc()
	return code
}

func (p *Processor) voteBlocking(v *types.Vote) Code {
	atomic.AddUint64(&p.totalProcessed, 1)
	if !v.Verify() {
		return CodeInvalid
	}

	sawElection := false
	sawProcessed := false
	sawReplay := false
	for _, hash := range v.Hashes {
		e := p.container.FindByHash(hash)
		if e == nil {
			continue
		}
		sawElection = true
		result := e.Vote(v.Account, v.Timestamp, hash)
		if result.Processed {
			sawProcessed = true
		} else if result.Replay {
			sawReplay = true
		}
	}

	switch {
	case !sawElection:
		return CodeIndeterminate
	case sawProcessed:
		return CodeVote
	case sawReplay:
		return CodeReplay
	default:
		return CodeIgnored
	}
}

// Run drains the queue until Stop is called, verifying and applying
// each vote via VoteBlocking.
func (p *Processor) Run() {
	for {
		p.mu.Lock()
		for !p.stopped && len(p.queue) == 0 {
			p.cond.Wait()
		}
		if p.stopped {
			p.mu.Unlock()
			return
		}
		qv := p.queue[0]
		p.queue = p.queue[1:]
		p.mu.Unlock()

		code := p.VoteBlocking(qv.vote)
		if code == CodeInvalid {
			log.WithField("channel", qv.channel).Warn("dropped vote with invalid signature")
		}
	}
}

// Stop terminates Run and wakes any goroutine blocked in it.
func (p *Processor) Stop() {
	p.mu.Lock()
	p.stopped = true
	p.mu.Unlock()
	p.cond.Broadcast()
}
