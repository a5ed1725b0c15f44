package ledger

import (
	"sync"

	"github.com/scendere/scendere-node/core/types"
)

// RepWeights is the in-memory map of representative account to total
// delegated voting weight, covered by a single mutex for both reads and
// writes. Grounded on original_source/scendere/lib/rep_weights.{hpp,cpp}.
type RepWeights struct {
	mu      sync.Mutex
	amounts map[types.Account]types.Amount
}

// NewRepWeights builds an empty weight map.
func NewRepWeights() *RepWeights {
	return &RepWeights{amounts: make(map[types.Account]types.Amount)}
}

// Get returns account's current weight, or zero if untracked.
func (r *RepWeights) Get(account types.Account) types.Amount {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.getLocked(account)
}

func (r *RepWeights) getLocked(account types.Account) types.Amount {
	if v, ok := r.amounts[account]; ok {
		return v
	}
	return types.ZeroAmount
}

func (r *RepWeights) putLocked(account types.Account, v types.Amount) {
	r.amounts[account] = v
}

// Update moves weight on block application: oldRep loses oldBalance,
// newRep gains newBalance, in one critical section so no reader can
// observe only one side of the move. Applying and rolling back a block
// use the same method with the two (rep, balance) pairs swapped, since
// the update is always "subtract the account's balance before this
// block from its pre-block representative, add its balance after this
// block to its post-block representative" regardless of whether the
// block is a send, receive, change or open.
func (r *RepWeights) Update(oldRep types.Account, oldBalance types.Amount, newRep types.Account, newBalance types.Amount) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if oldRep == newRep {
		afterSub, err := types.Sub(r.getLocked(oldRep), oldBalance)
		if err != nil {
			return err
		}
		after, err := types.Add(afterSub, newBalance)
		if err != nil {
			return err
		}
		r.putLocked(oldRep, after)
		return nil
	}
	oldAfter, err := types.Sub(r.getLocked(oldRep), oldBalance)
	if err != nil {
		return err
	}
	newAfter, err := types.Add(r.getLocked(newRep), newBalance)
	if err != nil {
		return err
	}
	r.putLocked(oldRep, oldAfter)
	r.putLocked(newRep, newAfter)
	return nil
}

// Snapshot returns a copy of the full weight map.
func (r *RepWeights) Snapshot() map[types.Account]types.Amount {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[types.Account]types.Amount, len(r.amounts))
	for k, v := range r.amounts {
		out[k] = v
	}
	return out
}
