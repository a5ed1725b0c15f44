// Package wallets implements account key storage and vote signing: an
// adhoc or seed-derived Ed25519 keypair per account, persisted as a
// (key, cached work) pair per store.TableWallets. Grounded on the
// reference node's wallet_value (lmdb/wallet_value.{hpp,cpp}) and
// wallets.cpp's insert_adhoc/representatives behavior.
package wallets

import (
	"context"
	"crypto/ed25519"
	"encoding/binary"
	"sync"

	"github.com/scendere/scendere-node/core/types"
	"github.com/scendere/scendere-node/store"
)

// seedSize is the width of a wallet's deterministic seed, matching the
// reference node's raw_key.
const seedSize = 32

// valueSize is a persisted wallet entry: a 64-byte Ed25519 private key
// (seed||public) plus an 8-byte cached PoW nonce, mirroring
// wallet_value's {key, work} pair.
const valueSize = ed25519.PrivateKeySize + 8

// Ledger is the subset of ledger behavior Representatives needs: a
// given account's currently delegated weight, to decide whether it's
// worth tracking as a voting representative.
type Ledger interface {
	Weight(account types.Account) types.Amount
}

// Wallet holds every account key this node can sign with, both adhoc
// (explicitly imported) and deterministic (derived from a seed at a
// sequential index), and tracks which of them are representatives
// worth voting from.
type Wallet struct {
	st store.Store

	mu                 sync.RWMutex
	keys               map[types.Account]ed25519.PrivateKey
	seed               [seedSize]byte
	hasSeed            bool
	deterministicIndex uint32
}

// New builds an empty Wallet backed by st for persistence. Call Load
// to repopulate it from a prior session.
func New(st store.Store) *Wallet {
	return &Wallet{st: st, keys: make(map[types.Account]ed25519.PrivateKey)}
}

// DeterministicKey derives the Ed25519 private key at index from seed,
// matching the reference node's deterministic_key(seed, index): an
// index-salted Blake2b-512 digest of the seed, truncated to an Ed25519
// seed.
func DeterministicKey(seed [seedSize]byte, index uint32) ed25519.PrivateKey {
	var idx [4]byte
	binary.BigEndian.PutUint32(idx[:], index)
	digest := types.Blake2b512(seed[:], idx[:])
	return ed25519.NewKeyFromSeed(digest[:32])
}

// SetSeed installs seed as the wallet's deterministic-derivation seed
// and resets the deterministic index, matching change_seed.
func (w *Wallet) SetSeed(seed [seedSize]byte) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.seed = seed
	w.hasSeed = true
	w.deterministicIndex = 0
}

// InsertAdhoc adds an explicit keypair to the wallet and persists it,
// matching insert_adhoc.
func (w *Wallet) InsertAdhoc(ctx context.Context, priv ed25519.PrivateKey) (types.Account, error) {
	var account types.Account
	copy(account[:], priv.Public().(ed25519.PublicKey))

	w.mu.Lock()
	w.keys[account] = priv
	w.mu.Unlock()

	if w.st == nil {
		return account, nil
	}
	return account, store.Update(ctx, w.st, func(tx store.WriteTransaction) error {
		return tx.Put(store.TableWallets, account[:], encodeValue(priv, 0))
	})
}

// DeterministicInsert derives the next unused seed-indexed keypair,
// adds it, and advances the index, matching deterministic_insert.
func (w *Wallet) DeterministicInsert(ctx context.Context) (types.Account, error) {
	w.mu.Lock()
	if !w.hasSeed {
		w.mu.Unlock()
		return types.Account{}, errNoSeed
	}
	priv := DeterministicKey(w.seed, w.deterministicIndex)
	w.deterministicIndex++
	var account types.Account
	copy(account[:], priv.Public().(ed25519.PublicKey))
	w.keys[account] = priv
	w.mu.Unlock()

	if w.st == nil {
		return account, nil
	}
	return account, store.Update(ctx, w.st, func(tx store.WriteTransaction) error {
		return tx.Put(store.TableWallets, account[:], encodeValue(priv, 0))
	})
}

// Remove drops account from the wallet, matching wallets::remove.
func (w *Wallet) Remove(ctx context.Context, account types.Account) error {
	w.mu.Lock()
	delete(w.keys, account)
	w.mu.Unlock()
	if w.st == nil {
		return nil
	}
	return store.Update(ctx, w.st, func(tx store.WriteTransaction) error {
		return tx.Delete(store.TableWallets, account[:])
	})
}

// Exists reports whether account is held by this wallet, matching
// wallets::exists.
func (w *Wallet) Exists(account types.Account) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	_, ok := w.keys[account]
	return ok
}

// Accounts lists every account held by this wallet, satisfying
// vote/generator.Signer.
func (w *Wallet) Accounts() []types.Account {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]types.Account, 0, len(w.keys))
	for a := range w.keys {
		out = append(out, a)
	}
	return out
}

// Representatives returns every held account whose delegated weight in
// l is at least voteMinimum, matching wallets::compute_reps populating
// wallet::representatives from vote_minimum.
func (w *Wallet) Representatives(l Ledger, voteMinimum types.Amount) []types.Account {
	w.mu.RLock()
	accounts := make([]types.Account, 0, len(w.keys))
	for a := range w.keys {
		accounts = append(accounts, a)
	}
	w.mu.RUnlock()

	out := make([]types.Account, 0, len(accounts))
	for _, a := range accounts {
		if l.Weight(a).Cmp(voteMinimum) >= 0 {
			out = append(out, a)
		}
	}
	return out
}

// Sign produces a vote covering hashes at timestamp from account,
// satisfying vote/generator.Signer.
func (w *Wallet) Sign(account types.Account, timestamp types.Timestamp, hashes []types.BlockHash) (*types.Vote, error) {
	w.mu.RLock()
	priv, ok := w.keys[account]
	w.mu.RUnlock()
	if !ok {
		return nil, errUnknownAccount
	}
	v := &types.Vote{Account: account, Timestamp: timestamp, Hashes: hashes}
	v.Signature = types.Sign(priv, v.SigningData())
	return v, nil
}

// Load repopulates the wallet's in-memory keys from the backing store,
// for use at startup.
func (w *Wallet) Load(ctx context.Context) error {
	if w.st == nil {
		return nil
	}
	return store.View(ctx, w.st, func(tx store.ReadTransaction) error {
		return tx.Iterate(store.TableWallets, nil, func(key, value []byte) bool {
			var account types.Account
			copy(account[:], key)
			priv, ok := decodeValue(value)
			if ok {
				w.mu.Lock()
				w.keys[account] = priv
				w.mu.Unlock()
			}
			return true
		})
	})
}

func encodeValue(priv ed25519.PrivateKey, work uint64) []byte {
	buf := make([]byte, valueSize)
	copy(buf, priv)
	binary.LittleEndian.PutUint64(buf[ed25519.PrivateKeySize:], work)
	return buf
}

func decodeValue(raw []byte) (ed25519.PrivateKey, bool) {
	if len(raw) < valueSize {
		return nil, false
	}
	priv := make(ed25519.PrivateKey, ed25519.PrivateKeySize)
	copy(priv, raw[:ed25519.PrivateKeySize])
	return priv, true
}

var errUnknownAccount = walletErr("wallets: account not held")
var errNoSeed = walletErr("wallets: no deterministic seed set")

type walletErr string

func (e walletErr) Error() string { return string(e) }
