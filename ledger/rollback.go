package ledger

import (
	"github.com/pkg/errors"
	"github.com/scendere/scendere-node/core/blocks"
	"github.com/scendere/scendere-node/core/epoch"
	"github.com/scendere/scendere-node/core/types"
	"github.com/scendere/scendere-node/store"
)

var errCemented = errors.New("ledger: cannot roll back a cemented block")

// Rollback walks an account chain backward from its current head,
// inverting each block's effect, until target itself has been removed.
// It refuses to touch a block at or below the account's confirmation
// height. Returns the removed blocks in the order they were reverted
// (head first).
func (l *Ledger) Rollback(tx store.WriteTransaction, target types.BlockHash) ([]*blocks.Block, error) {
	targetBlock, err := l.GetBlock(tx, target)
	if err != nil {
		return nil, err
	}
	account := accountOf(targetBlock)
	ci, err := l.GetConfirmationHeight(tx, account)
	if err != nil {
		return nil, err
	}
	if targetBlock.Sideband.Height <= ci.Height {
		return nil, errCemented
	}
	info, err := l.GetAccountInfo(tx, account)
	if err != nil {
		return nil, err
	}

	var removed []*blocks.Block
	cur := info.Head
	for {
		b, err := l.GetBlock(tx, cur)
		if err != nil {
			return nil, err
		}
		if err := l.revertOne(tx, account, b, cur); err != nil {
			return nil, err
		}
		removed = append(removed, b)
		if cur == target || b.Previous.IsZero() {
			break
		}
		cur = b.Previous
	}
	return removed, nil
}

// representativeAt returns the representative in effect as of hash,
// walking backward through legacy send/receive blocks (which carry no
// representative field of their own) until an open, change or state
// block — which always carries one — is found.
func (l *Ledger) representativeAt(tx store.ReadTransaction, hash types.BlockHash) (types.Account, error) {
	for {
		if hash.IsZero() {
			return types.Account{}, errors.New("ledger: no representative-setting block in chain")
		}
		b, err := l.GetBlock(tx, hash)
		if err != nil {
			return types.Account{}, err
		}
		switch b.Type {
		case blocks.TypeOpen, blocks.TypeChange, blocks.TypeState:
			return b.Representative, nil
		default:
			hash = b.Previous
		}
	}
}

// revertOne inverts the single block hash (known to be account's
// current head) and removes it from storage.
func (l *Ledger) revertOne(tx store.WriteTransaction, account types.Account, b *blocks.Block, hash types.BlockHash) error {
	isOpenLike := b.Previous.IsZero()

	var priorBalance types.Amount
	var priorRep types.Account
	var priorEpoch epoch.Epoch
	var priorHead, priorOpenBlock types.BlockHash
	var priorCount uint64

	if !isOpenLike {
		prev, err := l.GetBlock(tx, b.Previous)
		if err != nil {
			return err
		}
		priorBalance = prev.Sideband.Balance
		priorEpoch = prev.Sideband.Details.Epoch
		priorCount = prev.Sideband.Height
		priorHead = b.Previous
		rep, err := l.representativeAt(tx, b.Previous)
		if err != nil {
			return err
		}
		priorRep = rep
		info, err := l.GetAccountInfo(tx, account)
		if err != nil {
			return err
		}
		priorOpenBlock = info.OpenBlock
	}

	currentRep := b.Representative
	if b.Type != blocks.TypeOpen && b.Type != blocks.TypeChange && b.Type != blocks.TypeState {
		currentRep = priorRep
	}
	if err := l.Reps.Update(currentRep, b.Sideband.Balance, priorRep, priorBalance); err != nil {
		return err
	}

	switch {
	case b.Sideband.Details.IsSend:
		dest := b.Destination
		if b.Type == blocks.TypeState {
			dest = b.Link
		}
		if err := l.DeletePending(tx, PendingKey{Destination: dest, SendHash: hash}); err != nil {
			return err
		}
	case b.Sideband.Details.IsReceive:
		sourceHash := b.Source
		if b.Type == blocks.TypeState {
			sourceHash = b.Link
		}
		sendBlock, err := l.GetBlock(tx, sourceHash)
		if err != nil {
			return err
		}
		sender := accountOf(sendBlock)
		delta, err := types.Sub(b.Sideband.Balance, priorBalance)
		if err != nil {
			return err
		}
		key := PendingKey{Destination: account, SendHash: sourceHash}
		if err := l.PutPending(tx, key, PendingInfo{Source: sender, Amount: delta, Epoch: b.Sideband.SourceEpoch}); err != nil {
			return err
		}
	}

	if err := l.DeleteBlock(tx, hash); err != nil {
		return err
	}

	if isOpenLike {
		if err := l.DeleteAccountInfo(tx, account); err != nil {
			return err
		}
		if b.Type == blocks.TypeOpen {
			if err := tx.Delete(store.TableFrontiers, hashKey(hash)); err != nil {
				return err
			}
		}
		return nil
	}

	if err := l.setSuccessor(tx, b.Previous, types.Hash32{}); err != nil {
		return err
	}

	newInfo := AccountInfo{
		Head:           priorHead,
		OpenBlock:      priorOpenBlock,
		Representative: priorRep,
		Balance:        priorBalance,
		ModifiedTime:   now(),
		BlockCount:     priorCount,
		Epoch:          priorEpoch,
	}
	return l.PutAccountInfo(tx, account, newInfo)
}
