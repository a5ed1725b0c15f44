// Package confheight implements cementation: once an election confirms
// a block, walking the dependency graph (a receive's source account)
// backward to find every block that must have its account's
// confirmation height advanced, and persisting those new heights.
// Grounded on the reference node's confirmation_height_processor and its
// bounded/unbounded traversal strategies.
package confheight

import (
	"errors"

	"github.com/scendere/scendere-node/core/blocks"
	"github.com/scendere/scendere-node/core/types"
	"github.com/scendere/scendere-node/ledger"
	"github.com/scendere/scendere-node/store"
)

// WriteDetails is one contiguous run of newly-cemented blocks on a
// single account, from the lowest still-uncemented block (Bottom) to
// the new frontier (Top).
type WriteDetails struct {
	Account      types.Account
	BottomHeight uint64
	BottomHash   types.BlockHash
	TopHeight    uint64
	TopHash      types.BlockHash
}

// blockAccount returns the account b belongs to, reading it from the
// block itself for Open/State variants (which carry Account directly)
// and from the sideband otherwise (populated by the ledger at
// admission).
func blockAccount(b *blocks.Block) types.Account {
	if b.Type == blocks.TypeOpen || b.Type == blocks.TypeState {
		return b.Account
	}
	return b.Sideband.Account
}

// receiveSource returns the hash of the send block a receive block
// credits, or the zero hash if b is not a receive.
func receiveSource(b *blocks.Block) types.BlockHash {
	if b.Sideband == nil || !b.Sideband.Details.IsReceive {
		return types.BlockHash{}
	}
	if b.Type == blocks.TypeState {
		return b.Link
	}
	return b.Source
}

// Walker computes the write details a single confirmed block implies,
// without writing anything. MaxBlocksPerWalk bounds how many blocks one
// Walk call will read before returning early with truncated=true
// (set for the Processor's bounded mode; left at zero, meaning
// unlimited, for unbounded mode).
type Walker struct {
	ledger           *ledger.Ledger
	MaxBlocksPerWalk int
}

// NewWalker builds a Walker reading through l.
func NewWalker(l *ledger.Ledger, maxBlocksPerWalk int) *Walker {
	return &Walker{ledger: l, MaxBlocksPerWalk: maxBlocksPerWalk}
}

// Walk returns the ordered write details needed to cement original:
// source accounts of any receives encountered are walked (and appear in
// the result) before the account that depends on them, so applying the
// result in order never cements a receive ahead of its source.
func (w *Walker) Walk(tx store.ReadTransaction, original *blocks.Block) (details []WriteDetails, truncated bool, err error) {
	state := &walkState{
		ledger:  w.ledger,
		tx:      tx,
		visited: make(map[types.Account]bool),
		limit:   w.MaxBlocksPerWalk,
	}
	err = state.walkAccount(blockAccount(original))
	return state.out, state.truncated, err
}

type walkState struct {
	ledger    *ledger.Ledger
	tx        store.ReadTransaction
	visited   map[types.Account]bool
	out       []WriteDetails
	limit     int
	visitedN  int
	truncated bool
}

func (s *walkState) overBudget() bool {
	return s.limit > 0 && s.visitedN >= s.limit
}

func (s *walkState) walkAccount(account types.Account) error {
	if s.visited[account] || s.truncated {
		return nil
	}
	s.visited[account] = true

	info, err := s.ledger.GetAccountInfo(s.tx, account)
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			// Account unknown to this ledger (e.g. a pruned or never-seen
			// chain, or a send's declared destination that never opened
			// its account); nothing to cement.
			return nil
		}
		return err
	}
	confHeight, err := s.ledger.GetConfirmationHeight(s.tx, account)
	if err != nil {
		return err
	}
	if confHeight.Height >= info.BlockCount {
		return nil
	}

	var segment []*blocks.Block
	hash := info.Head
	for {
		if s.overBudget() {
			s.truncated = true
			break
		}
		b, err := s.ledger.GetBlock(s.tx, hash)
		if err != nil {
			if errors.Is(err, ledger.ErrNotFound) {
				break
			}
			return err
		}
		if b.Sideband == nil {
			break
		}
		s.visitedN++
		if b.Sideband.Height <= confHeight.Height {
			break
		}
		segment = append(segment, b)

		if b.Sideband.Details.IsReceive {
			srcHash := receiveSource(b)
			if !srcHash.IsZero() {
				srcBlock, err := s.ledger.GetBlock(s.tx, srcHash)
				if err != nil && !errors.Is(err, ledger.ErrNotFound) {
					return err
				}
				if srcBlock != nil {
					srcAccount := blockAccount(srcBlock)
					if srcAccount != account {
						if err := s.walkAccount(srcAccount); err != nil {
							return err
						}
					}
				}
			}
		}

		if b.Previous.IsZero() {
			break
		}
		hash = b.Previous
	}

	if len(segment) == 0 {
		return nil
	}
	top := segment[0]
	bottom := segment[len(segment)-1]
	topHash, err := top.Hash()
	if err != nil {
		return err
	}
	bottomHash, err := bottom.Hash()
	if err != nil {
		return err
	}
	s.out = append(s.out, WriteDetails{
		Account:      account,
		BottomHeight: bottom.Sideband.Height,
		BottomHash:   bottomHash,
		TopHeight:    top.Sideband.Height,
		TopHash:      topHash,
	})
	return nil
}
