// Package generator batches (root, hash) candidates into signed votes,
// rebroadcasting cached votes immediately and generating new ones
// otherwise, respecting each root's vote-spacing window. Grounded on
// the reference node's vote_generator and vote_generator_session.
package generator

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/scendere/scendere-node/aggregator"
	"github.com/scendere/scendere-node/core/blocks"
	"github.com/scendere/scendere-node/core/types"
	"github.com/scendere/scendere-node/vote/history"
)

var log = logrus.WithField("prefix", "vote_generator")

// MaxRequests bounds how many queued (root, hash) candidates Add will
// hold before the oldest is dropped to make room.
const MaxRequests = 2048

// DefaultMaxHashesPerVote bounds how many block hashes are bundled into
// a single signed vote.
const DefaultMaxHashesPerVote = 12

// pollInterval governs how often Run drains the background candidate
// queue; see aggregator's identical constant for why a ticker is used
// instead of a condition variable.
const pollInterval = 10 * time.Millisecond

// Signer is the subset of local wallet behavior the generator needs:
// which accounts are eligible to vote, and producing a signed vote
// covering a batch of hashes from one of them.
type Signer interface {
	Accounts() []types.Account
	Sign(account types.Account, timestamp types.Timestamp, hashes []types.BlockHash) (*types.Vote, error)
}

// Broadcaster publishes a vote produced by the background queue (the
// Add path) to the network at large, as opposed to replying to the
// specific peer that asked (the Generate path, answered via
// aggregator.Channel).
type Broadcaster interface {
	Broadcast(v *types.Vote) error
}

type candidate struct {
	root types.Root
	hash types.BlockHash
}

// Generator batches candidate (root, hash) pairs into signed votes.
// One Generator produces either exclusively provisional votes or
// exclusively final votes, matching the reference node's pair of
// ordinary/final vote_generator instances.
type Generator struct {
	history          *history.History
	spacing          *history.Spacing
	signer           Signer
	broadcaster      Broadcaster
	isFinal          bool
	maxHashesPerVote int

	clock uint64

	mu         sync.Mutex
	candidates []candidate
	stopped    chan struct{}
}

// New builds a Generator. A non-positive maxHashesPerVote falls back
// to DefaultMaxHashesPerVote.
func New(h *history.History, spacing *history.Spacing, signer Signer, broadcaster Broadcaster, isFinal bool, maxHashesPerVote int) *Generator {
	if maxHashesPerVote <= 0 {
		maxHashesPerVote = DefaultMaxHashesPerVote
	}
	return &Generator{
		history:          h,
		spacing:          spacing,
		signer:           signer,
		broadcaster:      broadcaster,
		isFinal:          isFinal,
		maxHashesPerVote: maxHashesPerVote,
		stopped:          make(chan struct{}),
	}
}

// Add queues (root, hash) for vote generation, or rebroadcasts an
// already-cast vote for it immediately if the local history already
// holds one, matching the reference node's "broadcast votes already in
// cache" behavior.
func (g *Generator) Add(root types.Root, hash types.BlockHash) {
	if cached := g.history.VotesFor(root, hash); len(cached) > 0 {
		for _, v := range cached {
			if err := g.broadcaster.Broadcast(v); err != nil {
				log.WithError(err).Debug("failed to rebroadcast cached vote")
			}
		}
		return
	}

	g.mu.Lock()
	if len(g.candidates) >= MaxRequests {
		g.candidates = g.candidates[1:]
	}
	g.candidates = append(g.candidates, candidate{root: root, hash: hash})
	g.mu.Unlock()
}

// Generate immediately signs votes for blocks that are still votable
// under vote spacing, replying on ch, and returns how many blocks were
// accepted as candidates. Implements aggregator.Generator.
func (g *Generator) Generate(candidates []*blocks.Block, ch aggregator.Channel) int {
	accepted := g.votable(candidates)
	if len(accepted) == 0 {
		return 0
	}
	g.voteAndReply(accepted, ch.SendVote)
	return len(accepted)
}

func (g *Generator) votable(blks []*blocks.Block) []candidate {
	accepted := make([]candidate, 0, len(blks))
	for _, b := range blks {
		root := b.Root()
		hash, err := b.Hash()
		if err != nil {
			continue
		}
		if !g.spacing.Votable(root, hash) {
			continue
		}
		accepted = append(accepted, candidate{root: root, hash: hash})
	}
	return accepted
}

// voteAndReply signs one vote per local representative account per
// maxHashesPerVote-sized chunk of cands, records each into history and
// spacing, and dispatches the vote via reply.
func (g *Generator) voteAndReply(cands []candidate, reply func(*types.Vote) error) {
	for start := 0; start < len(cands); start += g.maxHashesPerVote {
		end := start + g.maxHashesPerVote
		if end > len(cands) {
			end = len(cands)
		}
		chunk := cands[start:end]
		hashes := make([]types.BlockHash, len(chunk))
		for i, c := range chunk {
			hashes[i] = c.hash
		}

		for _, account := range g.signer.Accounts() {
			ts := types.NewTimestamp(atomic.AddUint64(&g.clock, 1))
			if g.isFinal {
				ts = ts.Final()
			}
			v, err := g.signer.Sign(account, ts, hashes)
			if err != nil {
				log.WithError(err).Warn("failed to sign vote")
				continue
			}
			for _, c := range chunk {
				g.history.Add(c.root, c.hash, v)
				g.spacing.Flag(c.root, c.hash)
			}
			if err := reply(v); err != nil {
				log.WithError(err).Debug("failed to dispatch vote")
			}
		}
	}
}

// Run drains the background candidate queue (populated by Add) until
// Stop is called, broadcasting every vote it signs.
func (g *Generator) Run() {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-g.stopped:
			return
		case <-ticker.C:
			g.mu.Lock()
			pending := g.candidates
			g.candidates = nil
			g.mu.Unlock()
			if len(pending) == 0 {
				continue
			}
			g.voteAndReply(g.spaceFilter(pending), g.broadcaster.Broadcast)
		}
	}
}

// spaceFilter drops any queued candidate vote spacing no longer
// permits (e.g. another vote for a different hash at the same root was
// cast in the meantime).
func (g *Generator) spaceFilter(cands []candidate) []candidate {
	out := make([]candidate, 0, len(cands))
	for _, c := range cands {
		if g.spacing.Votable(c.root, c.hash) {
			out = append(out, c)
		}
	}
	return out
}

// Stop terminates Run.
func (g *Generator) Stop() {
	select {
	case <-g.stopped:
	default:
		close(g.stopped)
	}
}

// Session batches a single goroutine's Add calls and applies them to
// the shared Generator with one Flush, mirroring the reference node's
// vote_generator_session (used by call sites doing many Adds under a
// lock they'd rather not reacquire per item).
type Session struct {
	generator *Generator
	items     []candidate
}

// NewSession builds a Session over g.
func NewSession(g *Generator) *Session {
	return &Session{generator: g}
}

// Add buffers (root, hash) locally; nothing reaches the Generator
// until Flush.
func (s *Session) Add(root types.Root, hash types.BlockHash) {
	s.items = append(s.items, candidate{root: root, hash: hash})
}

// Flush applies every buffered item to the underlying Generator and
// clears the buffer.
func (s *Session) Flush() {
	for _, c := range s.items {
		s.generator.Add(c.root, c.hash)
	}
	s.items = nil
}
