// Package history keeps a bounded cache of the votes this node has cast
// and rate-limits how often it will vote again at the same root, mirroring
// the reference node's local_vote_history and vote_spacing.
package history

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/scendere/scendere-node/core/types"
)

// DefaultMaxCachedVotes bounds how many distinct roots the history keeps
// votes for before the least recently touched root is evicted.
const DefaultMaxCachedVotes = 2048

type entry struct {
	hash types.BlockHash
	vote *types.Vote
}

// History records, per root, the votes this node most recently cast. A
// root only ever holds votes for a single hash at a time: casting a vote
// for a different hash at a root already in the history discards every
// vote recorded for that root, since a local change of mind makes the
// previous votes stale. Casting another vote for the SAME hash replaces
// only the prior vote from the same account, so a node voting through
// several local representative accounts accumulates one entry per
// account instead of overwriting the others.
type History struct {
	mu    sync.Mutex
	cache *lru.Cache[types.Root, []entry]
}

// New builds a History holding up to maxCachedVotes roots. A
// non-positive value falls back to DefaultMaxCachedVotes.
func New(maxCachedVotes int) (*History, error) {
	if maxCachedVotes <= 0 {
		maxCachedVotes = DefaultMaxCachedVotes
	}
	c, err := lru.New[types.Root, []entry](maxCachedVotes)
	if err != nil {
		return nil, err
	}
	return &History{cache: c}, nil
}

// Add records vote as having been cast for hash at root.
func (h *History) Add(root types.Root, hash types.BlockHash, vote *types.Vote) {
	h.mu.Lock()
	defer h.mu.Unlock()

	existing, _ := h.cache.Peek(root)
	if len(existing) > 0 && existing[0].hash != hash {
		existing = nil
	}
	out := make([]entry, 0, len(existing)+1)
	for _, e := range existing {
		if e.vote.Account != vote.Account {
			out = append(out, e)
		}
	}
	out = append(out, entry{hash: hash, vote: vote})
	h.cache.Add(root, out)
}

// Erase discards every vote recorded for root.
func (h *History) Erase(root types.Root) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.cache.Remove(root)
}

// Votes returns every vote currently recorded for root.
func (h *History) Votes(root types.Root) []*types.Vote {
	h.mu.Lock()
	defer h.mu.Unlock()
	entries, ok := h.cache.Peek(root)
	if !ok {
		return nil
	}
	out := make([]*types.Vote, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.vote)
	}
	return out
}

// VotesFor returns the votes recorded for root that were cast for hash
// specifically; empty if the root's current votes target a different
// hash or no votes are recorded at all.
func (h *History) VotesFor(root types.Root, hash types.BlockHash) []*types.Vote {
	h.mu.Lock()
	defer h.mu.Unlock()
	entries, ok := h.cache.Peek(root)
	if !ok {
		return nil
	}
	out := make([]*types.Vote, 0, len(entries))
	for _, e := range entries {
		if e.hash == hash {
			out = append(out, e.vote)
		}
	}
	return out
}

// Exists reports whether any vote is currently recorded for root.
func (h *History) Exists(root types.Root) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	entries, ok := h.cache.Peek(root)
	return ok && len(entries) > 0
}

// Size returns the total number of votes recorded across every root.
func (h *History) Size() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	total := 0
	for _, root := range h.cache.Keys() {
		entries, _ := h.cache.Peek(root)
		total += len(entries)
	}
	return total
}

// Spacing rate-limits how often a vote may be cast for a given root,
// mirroring the reference node's vote_spacing: once a hash has been
// flagged at a root, voting for a DIFFERENT hash at that same root is
// blocked until delay has elapsed, while re-voting the same hash remains
// allowed throughout.
type Spacing struct {
	mu      sync.Mutex
	delay   time.Duration
	entries []spacingEntry
}

type spacingEntry struct {
	root types.Root
	hash types.BlockHash
	time time.Time
}

// NewSpacing builds a Spacing that blocks hash changes at a root for delay.
func NewSpacing(delay time.Duration) *Spacing {
	return &Spacing{delay: delay}
}

// Votable reports whether hash may be voted for at root: true if no
// unexpired entry is recorded for root, or the recorded entry agrees
// with hash.
func (s *Spacing) Votable(root types.Root, hash types.BlockHash) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := time.Now().Add(-s.delay)
	for _, e := range s.entries {
		if e.time.Before(cutoff) {
			continue
		}
		if e.root == root {
			return e.hash == hash
		}
	}
	return true
}

// Flag records that hash has just been voted for at root, first
// dropping any entries that have aged out of the delay window.
func (s *Spacing) Flag(root types.Root, hash types.BlockHash) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trimLocked()
	s.entries = append(s.entries, spacingEntry{root: root, hash: hash, time: time.Now()})
}

func (s *Spacing) trimLocked() {
	cutoff := time.Now().Add(-s.delay)
	out := s.entries[:0]
	for _, e := range s.entries {
		if !e.time.Before(cutoff) {
			out = append(out, e)
		}
	}
	s.entries = out
}

// Size returns the number of unexpired entries last recorded by Flag.
func (s *Spacing) Size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
