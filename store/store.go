// Package store defines the transactional key/value contract the core
// consumes: typed tables with read/write transactions, ordered
// iteration and bulk-drop. The core never selects a storage engine;
// package boltstore is one concrete implementation wrapping
// go.etcd.io/bbolt.
package store

import (
	"context"
	"errors"

	"github.com/scendere/scendere-node/core/types"
)

// ErrNotFound is returned by Get when a key is absent.
var ErrNotFound = errors.New("store: not found")

// Table names one of the node's logical tables.
type Table string

const (
	TableAccounts            Table = "accounts"
	TableBlocks              Table = "blocks"
	TablePending             Table = "pending"
	TableFrontiers           Table = "frontiers"
	TablePruned              Table = "pruned"
	TableConfirmationHeight  Table = "confirmation_height"
	TableFinalVote           Table = "final_vote"
	TableUnchecked           Table = "unchecked"
	TableOnlineWeight        Table = "online_weight"
	TablePeers               Table = "peers"
	TableMeta                Table = "meta"
	TableWallets             Table = "wallets"
)

// AllTables lists every table that must exist before first use.
var AllTables = []Table{
	TableAccounts, TableBlocks, TablePending, TableFrontiers, TablePruned,
	TableConfirmationHeight, TableFinalVote, TableUnchecked, TableOnlineWeight,
	TablePeers, TableMeta, TableWallets,
}

// MetaSchemaVersionKey is the fixed key schema version is stored under in
// the meta table.
var MetaSchemaVersionKey = []byte{1}

// ReadTransaction is a snapshot-isolated read-only view. Multiple reads
// may proceed concurrently with each other and with a writer.
type ReadTransaction interface {
	Get(table Table, key []byte) ([]byte, error)
	Exists(table Table, key []byte) (bool, error)
	Count(table Table) (uint64, error)
	// Iterate calls fn for each key/value pair in table in ascending key
	// order, starting at the first key >= start (or the first key if
	// start is nil). Iteration stops early if fn returns false.
	Iterate(table Table, start []byte, fn func(key, value []byte) bool) error
	Discard()
}

// WriteTransaction additionally allows mutation; it commits or rolls
// back atomically across every table written within it.
type WriteTransaction interface {
	ReadTransaction
	Put(table Table, key, value []byte) error
	Delete(table Table, key []byte) error
	// DropTable removes every key in table (bulk-drop), used by pruning
	// compaction and schema migrations.
	DropTable(table Table) error
	Commit() error
	Rollback() error
}

// Store is the transactional key/value contract the ledger, block
// processor and election engine are built against.
type Store interface {
	// Begin opens a read transaction. The caller MUST call Discard when
	// finished, even after a successful read.
	Begin(ctx context.Context) (ReadTransaction, error)
	// BeginWrite opens a write transaction. At most one write transaction
	// is outstanding at a time; callers needing role-priority ordering
	// should go through a WriteDatabaseQueue instead of calling this
	// directly.
	BeginWrite(ctx context.Context) (WriteTransaction, error)
	Close() error
}

// View runs fn against a fresh read transaction, discarding it
// afterwards regardless of outcome.
func View(ctx context.Context, s Store, fn func(ReadTransaction) error) error {
	tx, err := s.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Discard()
	return fn(tx)
}

// Update runs fn against a fresh write transaction, committing on a nil
// return and rolling back otherwise.
func Update(ctx context.Context, s Store, fn func(WriteTransaction) error) error {
	tx, err := s.BeginWrite(ctx)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// HashKey is a convenience for building table keys from a types.Hash32.
func HashKey(h types.Hash32) []byte {
	return h.Bytes()
}
