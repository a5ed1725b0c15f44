// Package solicitor batches outgoing confirm-request and publish traffic
// for elections that still need more votes, grounded on the reference
// node's confirmation_solicitor: rather than sending one confirm_req per
// representative per election immediately, a Solicitor accumulates
// (root, hash) pairs per destination channel across every election in a
// round and dispatches them together on Flush.
package solicitor

import (
	"sync"

	"github.com/scendere/scendere-node/core/blocks"
	"github.com/scendere/scendere-node/core/types"
	"github.com/scendere/scendere-node/election"
)

// RootPair is one (root, hash) request bundled into a confirm_req.
type RootPair struct {
	Root types.Root
	Hash types.BlockHash
}

// Sender is the outbound side of one peer channel. A future p2p.Channel
// implements this directly.
type Sender interface {
	SendConfirmReq(roots []RootPair) error
	SendPublish(b *blocks.Block) error
}

// Representative is one rep a Solicitor round may solicit from or
// broadcast to, alongside the channel reaching it.
type Representative struct {
	Account types.Account
	Weight  types.Amount
	Channel Sender
}

const (
	// DefaultMaxBlockBroadcasts caps how many distinct election winners
	// one Solicitor round will flood-broadcast.
	DefaultMaxBlockBroadcasts = 32
	// DefaultMaxElectionRequests caps how many confirm_req bundles one
	// representative's channel receives in a round, bypassed for a
	// representative whose last recorded vote is for a different hash
	// than the election's current winner (they need the request more,
	// not less).
	DefaultMaxElectionRequests = 30
	// DefaultMaxElectionBroadcasts caps how many representatives one
	// election's winner is directly (non-flood) broadcast to per round.
	DefaultMaxElectionBroadcasts = 10
)

// Solicitor accumulates confirm_req batches and block broadcasts across
// every election considered in one round, then dispatches them together.
type Solicitor struct {
	MaxBlockBroadcasts    int
	MaxElectionRequests   int
	MaxElectionBroadcasts int

	mu              sync.Mutex
	representatives []Representative
	requests        map[Sender][]RootPair
	requestCounts   map[Sender]int
	blockBroadcasts int
	prepared        bool
}

// New builds a Solicitor with the given per-round caps.
func New(maxBlockBroadcasts, maxElectionRequests, maxElectionBroadcasts int) *Solicitor {
	return &Solicitor{
		MaxBlockBroadcasts:    maxBlockBroadcasts,
		MaxElectionRequests:   maxElectionRequests,
		MaxElectionBroadcasts: maxElectionBroadcasts,
	}
}

// Prepare resets the Solicitor for a new round over reps, the channels
// it may solicit and broadcast to.
func (s *Solicitor) Prepare(reps []Representative) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.representatives = reps
	s.requests = make(map[Sender][]RootPair)
	s.requestCounts = make(map[Sender]int)
	s.blockBroadcasts = 0
	s.prepared = true
}

// Add bundles a confirm_req for e's root/winner hash to every prepared
// representative's channel, skipping (without counting against the cap)
// any representative whose last recorded vote already agrees with the
// winner once that channel's MaxElectionRequests budget is spent — a
// representative still voting for a different hash always gets another
// request, since it is the one that still needs convincing.
// Returns false if at least one request was bundled, true if every
// representative's request budget was already spent on this winner.
func (s *Solicitor) Add(e *election.Election) bool {
	winner := e.Winner()
	if winner == nil {
		return true
	}
	winnerHash, err := winner.Hash()
	if err != nil {
		return true
	}
	root := winner.Root()
	votes := e.Votes()

	s.mu.Lock()
	defer s.mu.Unlock()

	added := false
	for _, rep := range s.representatives {
		agrees := false
		if vi, ok := votes[rep.Account]; ok && vi.Hash == winnerHash {
			agrees = true
		}
		if agrees && s.requestCounts[rep.Channel] >= s.MaxElectionRequests {
			continue
		}
		s.requests[rep.Channel] = append(s.requests[rep.Channel], RootPair{Root: root, Hash: winnerHash})
		s.requestCounts[rep.Channel]++
		added = true
	}
	return !added
}

// Broadcast directly re-publishes e's winning block to up to
// MaxElectionBroadcasts representatives whose last recorded vote
// disagrees with the winner, provided the round's global
// MaxBlockBroadcasts budget isn't spent. Returns false if the broadcast
// was performed.
func (s *Solicitor) Broadcast(e *election.Election) bool {
	winner := e.Winner()
	if winner == nil {
		return true
	}
	winnerHash, err := winner.Hash()
	if err != nil {
		return true
	}
	votes := e.Votes()

	s.mu.Lock()
	if s.blockBroadcasts >= s.MaxBlockBroadcasts {
		s.mu.Unlock()
		return true
	}
	s.blockBroadcasts++
	var targets []Representative
	for _, rep := range s.representatives {
		if len(targets) >= s.MaxElectionBroadcasts {
			break
		}
		if vi, ok := votes[rep.Account]; ok && vi.Hash == winnerHash {
			continue
		}
		targets = append(targets, rep)
	}
	s.mu.Unlock()

	for _, rep := range targets {
		_ = rep.Channel.SendPublish(winner)
	}
	return false
}

// Flush dispatches every bundled confirm_req to its destination channel
// and clears the round's state.
func (s *Solicitor) Flush() {
	s.mu.Lock()
	requests := s.requests
	s.requests = nil
	s.prepared = false
	s.mu.Unlock()

	for channel, roots := range requests {
		_ = channel.SendConfirmReq(roots)
	}
}
