// Package boltstore implements store.Store on top of go.etcd.io/bbolt, a
// single-writer/many-reader embedded key/value engine, wrapping it the
// same way beacon-chain/db/kv does: one bucket per logical table, opened
// once at construction.
package boltstore

import (
	"context"

	"github.com/pkg/errors"
	"github.com/scendere/scendere-node/store"
	bolt "go.etcd.io/bbolt"
)

// Store is a store.Store backed by a single bbolt database file.
type Store struct {
	db *bolt.DB
}

// Open creates (if necessary) and opens the database file at path,
// ensuring every table in store.AllTables has a backing bucket.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, errors.Wrap(err, "boltstore: open")
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, tbl := range store.AllTables {
			if _, err := tx.CreateBucketIfNotExists([]byte(tbl)); err != nil {
				return errors.Wrapf(err, "boltstore: create bucket %s", tbl)
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database file.
func (s *Store) Close() error {
	return s.db.Close()
}

// Begin opens a read-only snapshot transaction.
func (s *Store) Begin(ctx context.Context) (store.ReadTransaction, error) {
	tx, err := s.db.Begin(false)
	if err != nil {
		return nil, errors.Wrap(err, "boltstore: begin read")
	}
	return &readTx{tx: tx}, nil
}

// BeginWrite opens a read-write transaction. bbolt already serializes
// writers internally; callers that need role-priority ordering across
// components should still go through a store.WriteDatabaseQueue before
// calling this.
func (s *Store) BeginWrite(ctx context.Context) (store.WriteTransaction, error) {
	tx, err := s.db.Begin(true)
	if err != nil {
		return nil, errors.Wrap(err, "boltstore: begin write")
	}
	return &writeTx{readTx: readTx{tx: tx}}, nil
}

type readTx struct {
	tx *bolt.Tx
}

func (r *readTx) bucket(tbl store.Table) *bolt.Bucket {
	return r.tx.Bucket([]byte(tbl))
}

func (r *readTx) Get(tbl store.Table, key []byte) ([]byte, error) {
	b := r.bucket(tbl)
	if b == nil {
		return nil, errors.Errorf("boltstore: unknown table %s", tbl)
	}
	v := b.Get(key)
	if v == nil {
		return nil, store.ErrNotFound
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

func (r *readTx) Exists(tbl store.Table, key []byte) (bool, error) {
	_, err := r.Get(tbl, key)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (r *readTx) Count(tbl store.Table) (uint64, error) {
	b := r.bucket(tbl)
	if b == nil {
		return 0, errors.Errorf("boltstore: unknown table %s", tbl)
	}
	return uint64(b.Stats().KeyN), nil
}

func (r *readTx) Iterate(tbl store.Table, start []byte, fn func(key, value []byte) bool) error {
	b := r.bucket(tbl)
	if b == nil {
		return errors.Errorf("boltstore: unknown table %s", tbl)
	}
	c := b.Cursor()
	var k, v []byte
	if start == nil {
		k, v = c.First()
	} else {
		k, v = c.Seek(start)
	}
	for ; k != nil; k, v = c.Next() {
		if !fn(k, v) {
			break
		}
	}
	return nil
}

func (r *readTx) Discard() {
	if !r.tx.Writable() {
		_ = r.tx.Rollback()
	}
}

type writeTx struct {
	readTx
}

func (w *writeTx) Put(tbl store.Table, key, value []byte) error {
	b := w.bucket(tbl)
	if b == nil {
		return errors.Errorf("boltstore: unknown table %s", tbl)
	}
	return b.Put(key, value)
}

func (w *writeTx) Delete(tbl store.Table, key []byte) error {
	b := w.bucket(tbl)
	if b == nil {
		return errors.Errorf("boltstore: unknown table %s", tbl)
	}
	return b.Delete(key)
}

func (w *writeTx) DropTable(tbl store.Table) error {
	if err := w.tx.DeleteBucket([]byte(tbl)); err != nil {
		return err
	}
	_, err := w.tx.CreateBucket([]byte(tbl))
	return err
}

func (w *writeTx) Commit() error {
	return w.tx.Commit()
}

func (w *writeTx) Rollback() error {
	return w.tx.Rollback()
}

func (w *writeTx) Discard() {
	// A write transaction must be explicitly committed or rolled back;
	// silently rolling back here (as the read path does) would hide a
	// forgotten Commit/Rollback call, so this is a deliberate no-op.
}
