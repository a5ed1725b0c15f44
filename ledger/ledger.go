// Package ledger implements the block-lattice ledger: block admission,
// representative weight tracking, rollback and fork detection over a
// store.Store. Grounded on original_source/scendere/secure/ledger.hpp and
// the table accessors in original_source/scendere/secure/store/*_partial.hpp.
package ledger

import (
	"github.com/pkg/errors"
	"github.com/scendere/scendere-node/core/blocks"
	"github.com/scendere/scendere-node/core/epoch"
	"github.com/scendere/scendere-node/core/types"
	"github.com/scendere/scendere-node/core/work"
	"github.com/scendere/scendere-node/store"
)

// ErrNotFound is returned by lookups when the requested row is absent.
var ErrNotFound = errors.New("ledger: not found")

// Ledger applies blocks to the store, maintaining the accounts, blocks,
// pending and confirmation-height tables plus the in-memory
// representative weight map.
type Ledger struct {
	Store      store.Store
	Epochs     *epoch.Registry
	Thresholds work.Thresholds
	Reps       *RepWeights

	// BurnAccount is the reserved all-zero account; opening it is
	// always rejected (opened_burn_account).
	BurnAccount types.Account
}

// New builds a Ledger over s.
func New(s store.Store, epochs *epoch.Registry, thresholds work.Thresholds) *Ledger {
	return &Ledger{
		Store:      s,
		Epochs:     epochs,
		Thresholds: thresholds,
		Reps:       NewRepWeights(),
	}
}

func accountKey(a types.Account) []byte { return a[:] }
func hashKey(h types.BlockHash) []byte  { return h[:] }

// GetBlock loads a block and its sideband by hash.
func (l *Ledger) GetBlock(tx store.ReadTransaction, hash types.BlockHash) (*blocks.Block, error) {
	raw, err := tx.Get(store.TableBlocks, hashKey(hash))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	b, rest, err := splitBlockSideband(raw)
	if err != nil {
		return nil, err
	}
	sb, err := blocks.UnmarshalSideband(b.Type, rest)
	if err != nil {
		return nil, err
	}
	b.Sideband = sb
	return b, nil
}

// splitBlockSideband separates a stored blocks-table value into the
// signed block content and the trailing sideband bytes, since
// blocks.Unmarshal does not know where its own encoding ends relative to
// a variable-length buffer that also carries the sideband.
func splitBlockSideband(raw []byte) (*blocks.Block, []byte, error) {
	b, err := blocks.Unmarshal(raw)
	if err != nil {
		return nil, nil, err
	}
	encoded, err := b.Marshal()
	if err != nil {
		return nil, nil, err
	}
	if len(raw) < len(encoded) {
		return nil, nil, errors.New("ledger: truncated block record")
	}
	return b, raw[len(encoded):], nil
}

// PutBlock writes b (with its Sideband already populated) to the blocks
// table.
func (l *Ledger) PutBlock(tx store.WriteTransaction, hash types.BlockHash, b *blocks.Block) error {
	body, err := b.Marshal()
	if err != nil {
		return err
	}
	sb := blocks.MarshalSideband(b.Type, b.Sideband)
	return tx.Put(store.TableBlocks, hashKey(hash), append(body, sb...))
}

// DeleteBlock removes a block from the blocks table.
func (l *Ledger) DeleteBlock(tx store.WriteTransaction, hash types.BlockHash) error {
	return tx.Delete(store.TableBlocks, hashKey(hash))
}

// BlockExists reports whether hash is present in the blocks table.
func (l *Ledger) BlockExists(tx store.ReadTransaction, hash types.BlockHash) (bool, error) {
	return tx.Exists(store.TableBlocks, hashKey(hash))
}

// GetAccountInfo loads the head-pointer row for account.
func (l *Ledger) GetAccountInfo(tx store.ReadTransaction, account types.Account) (AccountInfo, error) {
	raw, err := tx.Get(store.TableAccounts, accountKey(account))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return AccountInfo{}, ErrNotFound
		}
		return AccountInfo{}, err
	}
	return UnmarshalAccountInfo(raw)
}

// PutAccountInfo writes the head-pointer row for account.
func (l *Ledger) PutAccountInfo(tx store.WriteTransaction, account types.Account, info AccountInfo) error {
	return tx.Put(store.TableAccounts, accountKey(account), MarshalAccountInfo(info))
}

// DeleteAccountInfo removes the head-pointer row for account (used when
// rollback removes an account's only block).
func (l *Ledger) DeleteAccountInfo(tx store.WriteTransaction, account types.Account) error {
	return tx.Delete(store.TableAccounts, accountKey(account))
}

// GetPending loads the pending entry at key.
func (l *Ledger) GetPending(tx store.ReadTransaction, key PendingKey) (PendingInfo, error) {
	raw, err := tx.Get(store.TablePending, key.Bytes())
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return PendingInfo{}, ErrNotFound
		}
		return PendingInfo{}, err
	}
	return UnmarshalPendingInfo(raw)
}

// PutPending writes a pending entry.
func (l *Ledger) PutPending(tx store.WriteTransaction, key PendingKey, info PendingInfo) error {
	return tx.Put(store.TablePending, key.Bytes(), MarshalPendingInfo(info))
}

// DeletePending removes a pending entry, consumed by a receive/open.
func (l *Ledger) DeletePending(tx store.WriteTransaction, key PendingKey) error {
	return tx.Delete(store.TablePending, key.Bytes())
}

// PendingExists reports whether a pending entry exists at key.
func (l *Ledger) PendingExists(tx store.ReadTransaction, key PendingKey) (bool, error) {
	return tx.Exists(store.TablePending, key.Bytes())
}

// GetConfirmationHeight loads the cemented tip for account, returning
// the zero value (height 0, zero frontier) if the account has never
// been cemented.
func (l *Ledger) GetConfirmationHeight(tx store.ReadTransaction, account types.Account) (ConfirmationHeightInfo, error) {
	raw, err := tx.Get(store.TableConfirmationHeight, accountKey(account))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ConfirmationHeightInfo{}, nil
		}
		return ConfirmationHeightInfo{}, err
	}
	return UnmarshalConfirmationHeightInfo(raw)
}

// PutConfirmationHeight writes the cemented tip for account.
func (l *Ledger) PutConfirmationHeight(tx store.WriteTransaction, account types.Account, info ConfirmationHeightInfo) error {
	return tx.Put(store.TableConfirmationHeight, accountKey(account), MarshalConfirmationHeightInfo(info))
}

// Successor returns the block hash that follows prev in its account
// chain, or the zero hash if prev is currently the head.
func (l *Ledger) Successor(tx store.ReadTransaction, prev types.BlockHash) (types.BlockHash, error) {
	b, err := l.GetBlock(tx, prev)
	if err != nil {
		return types.Hash32{}, err
	}
	return b.Sideband.Successor, nil
}

// ForkedBlock returns the block currently occupying b's qualified root,
// if any, when it differs from b itself — i.e. the existing winner of a
// fork b would create.
func (l *Ledger) ForkedBlock(tx store.ReadTransaction, b *blocks.Block) (*blocks.Block, error) {
	qr := b.QualifiedRoot()
	var existingHash types.BlockHash
	if b.Type == blocks.TypeOpen {
		info, err := l.GetAccountInfo(tx, qr.Root)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return nil, nil
			}
			return nil, err
		}
		existingHash = info.OpenBlock
	} else {
		succ, err := l.Successor(tx, qr.Previous)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return nil, nil
			}
			return nil, err
		}
		if succ.IsZero() {
			return nil, nil
		}
		existingHash = succ
	}
	hash, err := b.Hash()
	if err != nil {
		return nil, err
	}
	if existingHash == hash || existingHash.IsZero() {
		return nil, nil
	}
	return l.GetBlock(tx, existingHash)
}

// AccountBalance returns account's current balance, or zero if the
// account does not exist.
func (l *Ledger) AccountBalance(tx store.ReadTransaction, account types.Account) (types.Amount, error) {
	info, err := l.GetAccountInfo(tx, account)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return types.ZeroAmount, nil
		}
		return types.ZeroAmount, err
	}
	return info.Balance, nil
}

// Weight returns account's current delegated voting weight.
func (l *Ledger) Weight(account types.Account) types.Amount {
	return l.Reps.Get(account)
}

// IsEpochLink reports whether link names a registered epoch upgrade tag.
func (l *Ledger) IsEpochLink(link types.Link) bool {
	return l.Epochs.IsEpochLink(link)
}

// BlockConfirmed reports whether hash is at or below its account's
// cemented frontier.
func (l *Ledger) BlockConfirmed(tx store.ReadTransaction, hash types.BlockHash) (bool, error) {
	b, err := l.GetBlock(tx, hash)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	account := b.Sideband.Account
	if account.IsZero() {
		account = b.Account
	}
	ci, err := l.GetConfirmationHeight(tx, account)
	if err != nil {
		return false, err
	}
	return b.Sideband.Height <= ci.Height, nil
}

// DependentsConfirmed reports whether every block b depends on (its
// previous, and — for a receive — the source block it redeems) is
// cemented, the precondition for admitting b into an active election.
// A source hash with no block in the ledger (a pending entry written
// directly rather than by a send) imposes no dependency.
func (l *Ledger) DependentsConfirmed(tx store.ReadTransaction, b *blocks.Block) (bool, error) {
	account := b.Sideband.Account
	if account.IsZero() {
		account = b.Account
	}
	ci, err := l.GetConfirmationHeight(tx, account)
	if err != nil {
		return false, err
	}
	if b.Sideband.Height > 1 {
		if ci.Height < b.Sideband.Height-1 {
			return false, nil
		}
	}
	if b.Sideband.Details.IsReceive {
		var source types.BlockHash
		switch b.Type {
		case blocks.TypeState:
			source = b.Link
		case blocks.TypeReceive:
			source = b.Source
		case blocks.TypeOpen:
			source = b.Source
		}
		if !source.IsZero() {
			exists, err := l.BlockExists(tx, source)
			if err != nil {
				return false, err
			}
			if exists {
				confirmed, err := l.BlockConfirmed(tx, source)
				if err != nil {
					return false, err
				}
				if !confirmed {
					return false, nil
				}
			}
		}
	}
	return true, nil
}
