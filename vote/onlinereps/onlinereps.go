// Package onlinereps tracks which representatives have been seen voting
// recently and trends total online voting weight over a sliding window,
// feeding the quorum delta elections confirm against. Grounded on the
// reference node's online_reps.
package onlinereps

import (
	"context"
	"encoding/binary"
	"sort"
	"sync"
	"time"

	"github.com/scendere/scendere-node/core/types"
	"github.com/scendere/scendere-node/store"
)

// OnlineWeightQuorumPercent is the percentage of the greatest of current
// online weight, trended weight, and the configured minimum that an
// election's tally must reach to confirm. Carried over verbatim from the
// reference node's online_weight_quorum constant, itself annotated
// "TO-CHANGE" in its own source — not a value this port invented.
const OnlineWeightQuorumPercent = 34

// DefaultWeightPeriod is how long a representative is still counted as
// online after its last observed vote.
const DefaultWeightPeriod = 5 * time.Minute

// DefaultMaxWeightSamples bounds how many historical online-weight
// samples are kept for trending before the oldest is discarded.
const DefaultMaxWeightSamples = 4032

// Ledger is the subset of *ledger.Ledger the tracker needs: a
// representative's current delegated weight, read without a
// transaction (the reference node's ledger.weight is likewise an
// in-memory lookup).
type Ledger interface {
	Weight(account types.Account) types.Amount
}

// Tracker observes representative activity and, on each Sample call,
// persists and trends total online weight, implementing
// election.QuorumProvider via Delta. Nothing in the node calls Sample on
// a schedule; the trended weight changes only when a caller invokes it.
type Tracker struct {
	ledger Ledger
	store  store.Store

	weightPeriod        time.Duration
	maxWeightSamples    int
	onlineWeightMinimum types.Amount

	mu           sync.Mutex
	reps         map[types.Account]time.Time
	onlineWeight types.Amount
	trended      types.Amount
}

// New builds a Tracker over l/s and loads its initial trended weight
// from any online-weight samples already on disk.
func New(ctx context.Context, l Ledger, s store.Store, weightPeriod time.Duration, maxWeightSamples int, onlineWeightMinimum types.Amount) (*Tracker, error) {
	if weightPeriod <= 0 {
		weightPeriod = DefaultWeightPeriod
	}
	if maxWeightSamples <= 0 {
		maxWeightSamples = DefaultMaxWeightSamples
	}
	t := &Tracker{
		ledger:              l,
		store:               s,
		weightPeriod:        weightPeriod,
		maxWeightSamples:    maxWeightSamples,
		onlineWeightMinimum: onlineWeightMinimum,
		reps:                make(map[types.Account]time.Time),
	}
	err := store.View(ctx, s, func(tx store.ReadTransaction) error {
		trend, err := calculateTrend(tx, onlineWeightMinimum)
		if err != nil {
			return err
		}
		t.trended = trend
		return nil
	})
	if err != nil {
		return nil, err
	}
	return t, nil
}

// Observe records rep as having voted just now, provided it currently
// holds nonzero delegated weight, then trims any representative whose
// last observation has aged out of the weight period and recomputes the
// online total if membership changed.
func (t *Tracker) Observe(rep types.Account) {
	if t.ledger.Weight(rep).IsZero() {
		return
	}
	now := time.Now()

	t.mu.Lock()
	defer t.mu.Unlock()
	_, existed := t.reps[rep]
	t.reps[rep] = now

	cutoff := now.Add(-t.weightPeriod)
	trimmed := false
	for acct, seen := range t.reps {
		if seen.Before(cutoff) {
			delete(t.reps, acct)
			trimmed = true
		}
	}
	if !existed || trimmed {
		t.onlineWeight = t.calculateOnlineLocked()
	}
}

func (t *Tracker) calculateOnlineLocked() types.Amount {
	sum := types.ZeroAmount
	for acct := range t.reps {
		if s, err := types.Add(sum, t.ledger.Weight(acct)); err == nil {
			sum = s
		}
	}
	return sum
}

var onlineWeightKeyOrder = binary.BigEndian

func onlineWeightKey(t time.Time) []byte {
	var key [8]byte
	onlineWeightKeyOrder.PutUint64(key[:], uint64(t.UnixNano()))
	return key[:]
}

// Sample persists the current online weight as a new sample, evicting
// the oldest sample once the table holds maxWeightSamples, then
// recomputes the trended weight from the updated sample set.
func (t *Tracker) Sample(ctx context.Context) error {
	t.mu.Lock()
	online := t.onlineWeight
	t.mu.Unlock()

	var trend types.Amount
	err := store.Update(ctx, t.store, func(tx store.WriteTransaction) error {
		for {
			count, err := tx.Count(store.TableOnlineWeight)
			if err != nil {
				return err
			}
			if count < uint64(t.maxWeightSamples) {
				break
			}
			var oldest []byte
			if err := tx.Iterate(store.TableOnlineWeight, nil, func(k, v []byte) bool {
				oldest = append([]byte(nil), k...)
				return false
			}); err != nil {
				return err
			}
			if oldest == nil {
				break
			}
			if err := tx.Delete(store.TableOnlineWeight, oldest); err != nil {
				return err
			}
		}

		val := online.Bytes16()
		if err := tx.Put(store.TableOnlineWeight, onlineWeightKey(time.Now()), val[:]); err != nil {
			return err
		}
		var err error
		trend, err = calculateTrend(tx, t.onlineWeightMinimum)
		return err
	})
	if err != nil {
		return err
	}

	t.mu.Lock()
	t.trended = trend
	t.mu.Unlock()
	return nil
}

// calculateTrend picks the median of every stored sample plus the
// configured minimum, matching the reference node's nth_element-based
// median selection.
func calculateTrend(tx store.ReadTransaction, minimum types.Amount) (types.Amount, error) {
	items := []types.Amount{minimum}
	err := tx.Iterate(store.TableOnlineWeight, nil, func(k, v []byte) bool {
		var b16 [16]byte
		copy(b16[:], v)
		items = append(items, types.AmountFromBig16(b16))
		return true
	})
	if err != nil {
		return types.ZeroAmount, err
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Cmp(items[j]) < 0 })
	return items[len(items)/2], nil
}

// Trended returns the current trended online weight.
func (t *Tracker) Trended() types.Amount {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.trended
}

// Online returns the current sampled online weight.
func (t *Tracker) Online() types.Amount {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.onlineWeight
}

// List returns every representative currently counted as online.
func (t *Tracker) List() []types.Account {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]types.Account, 0, len(t.reps))
	for acct := range t.reps {
		out = append(out, acct)
	}
	return out
}

// Clear drops every observed representative and resets the online total.
func (t *Tracker) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.reps = make(map[types.Account]time.Time)
	t.onlineWeight = types.ZeroAmount
}

// Delta returns the quorum weight an election's winner must reach to
// confirm: OnlineWeightQuorumPercent of whichever is greatest among the
// current online weight, the trended weight, and the configured
// minimum. Implements election.QuorumProvider.
func (t *Tracker) Delta() types.Amount {
	t.mu.Lock()
	weight := t.onlineWeight
	if t.trended.Cmp(weight) > 0 {
		weight = t.trended
	}
	t.mu.Unlock()
	if t.onlineWeightMinimum.Cmp(weight) > 0 {
		weight = t.onlineWeightMinimum
	}
	return types.MulDivUint64(weight, OnlineWeightQuorumPercent, 100)
}
