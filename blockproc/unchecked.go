package blockproc

import (
	"bytes"

	"github.com/scendere/scendere-node/core/blocks"
	"github.com/scendere/scendere-node/core/types"
	"github.com/scendere/scendere-node/ledger"
	"github.com/scendere/scendere-node/store"
)

// dependencyHash returns the block hash b is waiting on, for the two gap
// results that name a specific missing block. gap_epoch_open_pending has
// no single block dependency — the account is waiting on an arbitrary
// future pending entry, not a named hash — so it is deliberately excluded
// here and simply dropped rather than tracked in the unchecked table.
func dependencyHash(b *blocks.Block, res ledger.Result) (types.BlockHash, bool) {
	switch res {
	case ledger.GapPrevious:
		return b.Previous, true
	case ledger.GapSource:
		if b.Type == blocks.TypeState {
			return b.Link, true
		}
		return b.Source, true
	default:
		return types.BlockHash{}, false
	}
}

// uncheckedKey lays out the unchecked table's composite key so every
// block gated on one dependency sorts contiguously: dependency hash then
// the gated block's own hash.
func uncheckedKey(dependency, blockHash types.Hash32) []byte {
	out := make([]byte, 0, types.Hash32Size*2)
	out = append(out, dependency[:]...)
	out = append(out, blockHash[:]...)
	return out
}

// storeUnchecked records b as waiting on dependency.
func storeUnchecked(tx store.WriteTransaction, dependency types.BlockHash, b *blocks.Block) error {
	hash, err := b.Hash()
	if err != nil {
		return err
	}
	body, err := b.Marshal()
	if err != nil {
		return err
	}
	return tx.Put(store.TableUnchecked, uncheckedKey(dependency, hash), body)
}

// takeUnchecked removes and returns every block gated on dependency, so
// they can be re-queued for another admission attempt now that the
// dependency itself has been admitted.
func takeUnchecked(tx store.WriteTransaction, dependency types.BlockHash) ([]*blocks.Block, error) {
	prefix := dependency[:]
	var out []*blocks.Block
	var keys [][]byte
	err := tx.Iterate(store.TableUnchecked, prefix, func(key, value []byte) bool {
		if !bytes.HasPrefix(key, prefix) {
			return false
		}
		b, err := blocks.Unmarshal(value)
		if err != nil {
			return true
		}
		out = append(out, b)
		keys = append(keys, append([]byte(nil), key...))
		return true
	})
	if err != nil {
		return nil, err
	}
	for _, k := range keys {
		if err := tx.Delete(store.TableUnchecked, k); err != nil {
			return nil, err
		}
	}
	return out, nil
}
