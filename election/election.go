// Package election implements the per-root election state machine:
// passive listening, active confirmation requesting, quorum tallying,
// and the replace-by-weight eviction policy bounding how many competing
// blocks one election tracks at once. Grounded on the reference node's
// election.hpp/election.cpp state machine.
package election

import (
	"sync"
	"time"

	"github.com/scendere/scendere-node/core/blocks"
	"github.com/scendere/scendere-node/core/types"
)

// State is the election's position in its lifecycle.
type State int

const (
	StatePassive State = iota
	StateActive
	StateConfirmed
	StateExpiredConfirmed
	StateExpiredUnconfirmed
)

func (s State) String() string {
	switch s {
	case StatePassive:
		return "passive"
	case StateActive:
		return "active"
	case StateConfirmed:
		return "confirmed"
	case StateExpiredConfirmed:
		return "expired_confirmed"
	case StateExpiredUnconfirmed:
		return "expired_unconfirmed"
	default:
		return "unknown"
	}
}

// Behavior distinguishes a normally scheduled election from one started
// optimistically ahead of its dependencies being confirmed.
type Behavior int

const (
	BehaviorNormal Behavior = iota
	BehaviorOptimistic
)

// StatusType records how (or whether) an election reached its outcome.
type StatusType int

const (
	StatusOngoing StatusType = iota
	StatusActiveConfirmedQuorum
	StatusActiveConfirmedQuorumFinal
	StatusExpiredUnconfirmed
)

const (
	// PassiveDurationFactor * BaseLatency is how long an election waits
	// in the passive state before auto-promoting to active.
	PassiveDurationFactor = 5
	// ActiveRequestCountMinimum is the minimum confirmation request
	// count before active -> expired_unconfirmed becomes eligible.
	ActiveRequestCountMinimum = 2
	// ConfirmedDurationFactor * BaseLatency is the grace window after
	// confirmation during which late votes are still recorded before
	// the election transitions to expired_confirmed.
	ConfirmedDurationFactor = 5
	// MaxBlocks bounds how many competing blocks one election tracks;
	// the (max_blocks+1)-th publish triggers replace-by-weight.
	MaxBlocks = 10
	// LateBlocksDelay is how long after election start a newly
	// published competing block is still accepted without suspicion.
	LateBlocksDelay = 5 * time.Second
	// BaseLatency is the unit the passive/confirmed duration factors
	// scale, matching the reference node's network round-trip estimate.
	BaseLatency = 300 * time.Millisecond
)

// VoteInfo is the latest recorded vote from one representative.
type VoteInfo struct {
	Time      time.Time
	Timestamp types.Timestamp
	Hash      types.BlockHash
}

// VoteResult reports what Vote did with an incoming vote.
type VoteResult struct {
	// Replay is true when the vote repeats the rep's recorded vote (same
	// hash and timestamp): it is not new information, so it is not
	// forwarded, only acknowledged. An older vote is neither.
	Replay bool
	// Processed is true when the vote updated tally-relevant state.
	Processed bool
}

// Status is a snapshot of an election's outcome for observers and RPC.
type Status struct {
	Winner                   types.BlockHash
	Tally                    types.Amount
	FinalTally               types.Amount
	Type                     StatusType
	ConfirmationRequestCount uint
	Duration                 time.Duration
	BlockCount               int
	VoterCount               int
}

// WeightLookup resolves a representative's current voting weight.
// *ledger.Ledger satisfies this.
type WeightLookup interface {
	Weight(account types.Account) types.Amount
}

// QuorumProvider supplies the confirmation threshold, typically derived
// from online and trended representative weight (vote/onlinereps).
type QuorumProvider interface {
	Delta() types.Amount
}

// StaticQuorum is a fixed QuorumProvider, useful for tests and for nodes
// configured with online_weight_minimum only.
type StaticQuorum struct{ D types.Amount }

// Delta implements QuorumProvider.
func (s StaticQuorum) Delta() types.Amount { return s.D }

// ConfirmationAction is invoked exactly once, the moment an election
// confirms, with the winning block and how it was confirmed.
type ConfirmationAction func(winner *blocks.Block, statusType StatusType)

// LiveVoteAction is invoked whenever a new (non-replay) vote is recorded
// while the election is still live, so callers can republish gossip.
type LiveVoteAction func(rep types.Account)

// Election tracks one qualified root's competing blocks and votes from
// first publish through confirmation or expiry.
type Election struct {
	Height        uint64
	Root          types.Root
	QualifiedRoot types.QualifiedRoot
	Behavior      Behavior

	confirmationRequestCount uint

	mu          sync.Mutex
	state       State
	stateStart  time.Time
	lastBlock   time.Time
	lastReq     time.Time
	start       time.Time

	lastBlocks     map[types.BlockHash]*blocks.Block
	lastVotes      map[types.Account]VoteInfo
	lastTally      map[types.BlockHash]types.Amount
	lastFinalTally map[types.BlockHash]types.Amount
	isQuorum       bool
	confirmed      bool
	status         StatusType

	participants *participants
	repIndex     *RepIndex

	weights            WeightLookup
	quorum             QuorumProvider
	confirmationAction ConfirmationAction
	liveVoteAction     LiveVoteAction
}

// New starts an election rooted at genesis, the first block competing
// for this qualified root.
func New(height uint64, genesis *blocks.Block, weights WeightLookup, quorum QuorumProvider, repIndex *RepIndex, confirmationAction ConfirmationAction, liveVoteAction LiveVoteAction, behavior Behavior) (*Election, error) {
	hash, err := genesis.Hash()
	if err != nil {
		return nil, err
	}
	now := time.Now()
	e := &Election{
		Height:             height,
		Root:               genesis.Root(),
		QualifiedRoot:      genesis.QualifiedRoot(),
		Behavior:           behavior,
		state:              StatePassive,
		stateStart:         now,
		lastBlock:          now,
		start:              now,
		lastBlocks:         map[types.BlockHash]*blocks.Block{hash: genesis},
		lastVotes:          make(map[types.Account]VoteInfo),
		lastTally:          make(map[types.BlockHash]types.Amount),
		participants:       newParticipants(),
		repIndex:           repIndex,
		weights:            weights,
		quorum:             quorum,
		confirmationAction: confirmationAction,
		liveVoteAction:     liveVoteAction,
	}
	return e, nil
}

// State returns the election's current lifecycle state.
func (e *Election) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Confirmed reports whether the election reached the confirmed (or
// expired_confirmed) state.
func (e *Election) Confirmed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.confirmed
}

// Failed reports whether the election expired without confirming.
func (e *Election) Failed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state == StateExpiredUnconfirmed
}

func (e *Election) validChange(from, to State) bool {
	switch from {
	case StatePassive:
		return to == StateActive || to == StateConfirmed
	case StateActive:
		return to == StateConfirmed || to == StateExpiredUnconfirmed
	case StateConfirmed:
		return to == StateExpiredConfirmed
	default:
		return false
	}
}

func (e *Election) stateChange(from, to State) bool {
	if !e.validChange(from, to) {
		return false
	}
	e.state = to
	e.stateStart = time.Now()
	return true
}

// TransitionActive forces passive -> active immediately, bypassing the
// passive_duration timer. Used when a locally originated block starts an
// election, which should request confirmations right away.
func (e *Election) TransitionActive() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == StatePassive {
		e.stateChange(StatePassive, StateActive)
	}
}

// TransitionTime advances the state machine according to elapsed time
// and current tally, returning true if the election should now be
// removed from its container (reached a terminal expiry state).
func (e *Election) TransitionTime() bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := time.Now()
	switch e.state {
	case StatePassive:
		if now.Sub(e.stateStart) >= PassiveDurationFactor*BaseLatency {
			e.stateChange(StatePassive, StateActive)
		}
	case StateActive:
		e.confirmIfQuorumLocked()
		if e.state == StateActive && e.confirmationRequestCount > ActiveRequestCountMinimum &&
			now.Sub(e.start) >= time.Duration(e.confirmationRequestCount)*BaseLatency {
			e.stateChange(StateActive, StateExpiredUnconfirmed)
		}
	case StateConfirmed:
		if now.Sub(e.stateStart) >= ConfirmedDurationFactor*BaseLatency {
			e.stateChange(StateConfirmed, StateExpiredConfirmed)
		}
	}
	return e.state == StateExpiredConfirmed || e.state == StateExpiredUnconfirmed
}

// tallyLocked recomputes the per-hash weight sum from the latest vote of
// every representative that has voted in this election.
func (e *Election) tallyLocked() map[types.BlockHash]types.Amount {
	tally := make(map[types.BlockHash]types.Amount, len(e.lastBlocks))
	finalTally := make(map[types.BlockHash]types.Amount, len(e.lastBlocks))
	for hash := range e.lastBlocks {
		tally[hash] = types.NewAmount(0)
		finalTally[hash] = types.NewAmount(0)
	}
	for rep, vi := range e.lastVotes {
		w := e.weights.Weight(rep)
		if w.IsZero() {
			continue
		}
		cur, ok := tally[vi.Hash]
		if !ok {
			cur = types.NewAmount(0)
		}
		if sum, err := types.Add(cur, w); err == nil {
			tally[vi.Hash] = sum
		}
		if vi.Timestamp.IsFinal() {
			fcur, ok := finalTally[vi.Hash]
			if !ok {
				fcur = types.NewAmount(0)
			}
			if fs, err := types.Add(fcur, w); err == nil {
				finalTally[vi.Hash] = fs
			}
		}
	}
	e.lastTally = tally
	e.lastFinalTally = finalTally
	return tally
}

// Tally returns a snapshot of the current per-hash weight tally.
func (e *Election) Tally() map[types.BlockHash]types.Amount {
	e.mu.Lock()
	defer e.mu.Unlock()
	tally := e.tallyLocked()
	out := make(map[types.BlockHash]types.Amount, len(tally))
	for k, v := range tally {
		out[k] = v
	}
	return out
}

// winnerLocked returns the hash with maximum tally, ties broken by the
// lowest hash value (matching the reference node's deterministic
// tie-break so all nodes converge on the same winner).
func (e *Election) winnerLocked() (types.BlockHash, bool) {
	tally := e.tallyLocked()
	var best types.BlockHash
	var bestWeight types.Amount
	found := false
	for hash, w := range tally {
		if !found {
			best, bestWeight, found = hash, w, true
			continue
		}
		c := w.Cmp(bestWeight)
		if c > 0 || (c == 0 && hashLess(hash, best)) {
			best, bestWeight = hash, w
		}
	}
	return best, found
}

func hashLess(a, b types.BlockHash) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}

// Winner returns the election's current winning block, or nil if the
// election has no blocks.
func (e *Election) Winner() *blocks.Block {
	e.mu.Lock()
	defer e.mu.Unlock()
	hash, ok := e.winnerLocked()
	if !ok {
		return nil
	}
	return e.lastBlocks[hash]
}

// haveQuorumLocked reports whether the winner's tally (or, separately,
// the final-vote tally) reaches the configured quorum delta.
func (e *Election) haveQuorumLocked(tally map[types.BlockHash]types.Amount) (winner types.BlockHash, quorum bool, final bool) {
	winner, ok := e.winnerLocked()
	if !ok {
		return winner, false, false
	}
	delta := e.quorum.Delta()
	if e.lastFinalTally[winner].Cmp(delta) >= 0 {
		return winner, true, true
	}
	if tally[winner].Cmp(delta) >= 0 {
		return winner, true, false
	}
	return winner, false, false
}

// confirmIfQuorumLocked confirms the election if the winner's tally has
// reached quorum. Must be called with mu held.
func (e *Election) confirmIfQuorumLocked() {
	if e.confirmed {
		return
	}
	tally := e.tallyLocked()
	winner, quorum, final := e.haveQuorumLocked(tally)
	if !quorum {
		return
	}
	e.confirmOnceLocked(winner, final)
}

func (e *Election) confirmOnceLocked(winner types.BlockHash, final bool) {
	if e.confirmed {
		return
	}
	e.confirmed = true
	e.isQuorum = true
	if final {
		e.status = StatusActiveConfirmedQuorumFinal
	} else {
		e.status = StatusActiveConfirmedQuorum
	}
	e.stateChange(e.state, StateConfirmed)
	block := e.lastBlocks[winner]
	if e.confirmationAction != nil && block != nil {
		e.confirmationAction(block, e.status)
	}
}

// ForceConfirm confirms the current winner immediately, bypassing quorum
// (used by test harnesses and by local, trusted block sources).
func (e *Election) ForceConfirm() {
	e.mu.Lock()
	defer e.mu.Unlock()
	winner, ok := e.winnerLocked()
	if !ok {
		return
	}
	e.confirmOnceLocked(winner, false)
}

// Vote records rep's vote for hash at timestamp. It rejects stale votes:
// a vote with clock <= the representative's prior recorded clock is
// dropped, unless the prior vote was non-final and the new vote is final
// for the very same hash (an upgrade from provisional to irrevocable).
func (e *Election) Vote(rep types.Account, timestamp types.Timestamp, hash types.BlockHash) VoteResult {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state == StateExpiredConfirmed || e.state == StateExpiredUnconfirmed {
		return VoteResult{}
	}

	prior, hadPrior := e.lastVotes[rep]
	if hadPrior {
		sameHashFinalUpgrade := prior.Hash == hash && timestamp.IsFinal() && !prior.Timestamp.IsFinal()
		if !sameHashFinalUpgrade && !prior.Timestamp.Less(timestamp) {
			if prior.Hash == hash && !timestamp.Less(prior.Timestamp) {
				return VoteResult{Replay: true, Processed: false}
			}
			return VoteResult{}
		}
	}

	e.lastVotes[rep] = VoteInfo{Time: time.Now(), Timestamp: timestamp, Hash: hash}
	if e.repIndex != nil {
		e.participants.mark(e.repIndex.IndexOf(rep))
	}
	if e.liveVoteAction != nil {
		e.liveVoteAction(rep)
	}
	e.confirmIfQuorumLocked()
	return VoteResult{Processed: true}
}

// Votes returns a copy of every representative's last recorded vote.
func (e *Election) Votes() map[types.Account]VoteInfo {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[types.Account]VoteInfo, len(e.lastVotes))
	for k, v := range e.lastVotes {
		out[k] = v
	}
	return out
}

// Blocks returns a copy of every block currently competing in this
// election, keyed by hash.
func (e *Election) Blocks() map[types.BlockHash]*blocks.Block {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[types.BlockHash]*blocks.Block, len(e.lastBlocks))
	for k, v := range e.lastBlocks {
		out[k] = v
	}
	return out
}

// Find returns the competing block with the given hash, if tracked.
func (e *Election) Find(hash types.BlockHash) *blocks.Block {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastBlocks[hash]
}

// Publish adds a new competing block to the election. If the election
// already tracks MaxBlocks competing blocks, the lowest-tallying one is
// evicted first (replace-by-weight); if the newcomer's supporting weight
// does not exceed that lowest tally, it is rejected instead. Returns true
// if the block was admitted.
func (e *Election) Publish(b *blocks.Block) (bool, error) {
	hash, err := b.Hash()
	if err != nil {
		return false, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.lastBlocks[hash]; exists {
		return false, nil
	}
	if len(e.lastBlocks) >= MaxBlocks {
		if !e.replaceByWeightLocked(hash) {
			return false, nil
		}
	}
	e.lastBlocks[hash] = b
	e.lastBlock = time.Now()
	return true, nil
}

// replaceByWeightLocked evicts the currently lowest-tallying competing
// block if newHash's supporting weight (tallied fresh, as if newHash were
// already present) would exceed it. Returns whether room was made.
func (e *Election) replaceByWeightLocked(newHash types.BlockHash) bool {
	tally := e.tallyLocked()
	var lowestHash types.BlockHash
	var lowest types.Amount
	found := false
	for hash, w := range tally {
		if !found || w.Cmp(lowest) < 0 {
			lowestHash, lowest, found = hash, w, true
		}
	}
	if !found {
		return false
	}
	newWeight := types.NewAmount(0)
	for rep, vi := range e.lastVotes {
		if vi.Hash != newHash {
			continue
		}
		if s, err := types.Add(newWeight, e.weights.Weight(rep)); err == nil {
			newWeight = s
		}
	}
	if newWeight.Cmp(lowest) <= 0 {
		return false
	}
	e.removeBlockLocked(lowestHash)
	return true
}

// removeBlockLocked drops a competing block and its cached tally from the
// election's bookkeeping. Votes recorded for it are kept.
func (e *Election) removeBlockLocked(hash types.BlockHash) {
	delete(e.lastBlocks, hash)
	delete(e.lastTally, hash)
}

// CurrentStatus returns a snapshot of the election's outcome for observers.
func (e *Election) CurrentStatus() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	winner, _ := e.winnerLocked()
	tally := e.lastTally[winner]
	return Status{
		Winner:                   winner,
		Tally:                    tally,
		Type:                     e.status,
		ConfirmationRequestCount: e.confirmationRequestCount,
		Duration:                 time.Since(e.start),
		BlockCount:               len(e.lastBlocks),
		VoterCount:               len(e.lastVotes),
	}
}

// IncrementRequestCount records that the confirmation solicitor sent one
// more confirm_req batch for this election.
func (e *Election) IncrementRequestCount() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.confirmationRequestCount++
	e.lastReq = time.Now()
}
