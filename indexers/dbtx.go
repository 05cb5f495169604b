// Copyright (c) 2026 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package indexers

import (
	"errors"

	"github.com/btcsuite/addrindexd/database/engine"
)

type pendingWrite struct {
	value   []byte
	deleted bool
}

// dbTx stages the writes for one block over a read snapshot.  Reads observe
// the staged writes, so an output created and spent within the same block
// resolves.  Nothing reaches the engine until commit writes everything in a
// single engine transaction.
type dbTx struct {
	db      engine.Engine
	snap    engine.Snapshot
	pending map[string]pendingWrite
}

func beginDBTx(db engine.Engine) (*dbTx, error) {
	snap, err := db.Snapshot()
	if err != nil {
		return nil, indexError(ErrStorage, "failed to open snapshot", err)
	}
	return &dbTx{
		db:      db,
		snap:    snap,
		pending: make(map[string]pendingWrite),
	}, nil
}

// get returns the value stored at key or nil when there is none.
func (tx *dbTx) get(key []byte) ([]byte, error) {
	if w, ok := tx.pending[string(key)]; ok {
		if w.deleted {
			return nil, nil
		}
		return w.value, nil
	}
	val, err := tx.snap.Get(key)
	switch {
	case errors.Is(err, engine.ErrNotFound):
		return nil, nil
	case err != nil:
		return nil, indexError(ErrStorage, "failed to read index", err)
	}
	return val, nil
}

func (tx *dbTx) put(key, value []byte) {
	tx.pending[string(key)] = pendingWrite{value: value}
}

func (tx *dbTx) del(key []byte) {
	tx.pending[string(key)] = pendingWrite{deleted: true}
}

// release drops the snapshot.  It is safe to call more than once.
func (tx *dbTx) release() {
	if tx.snap != nil {
		tx.snap.Release()
		tx.snap = nil
	}
}

// commit writes the staged changes atomically.  The snapshot is released
// first since some engines cannot grow the database while a reader from the
// same goroutine is open.
func (tx *dbTx) commit() error {
	tx.release()

	etx, err := tx.db.Transaction()
	if err != nil {
		return indexError(ErrStorage, "failed to open transaction", err)
	}
	defer etx.Discard()

	for k, w := range tx.pending {
		if w.deleted {
			err = etx.Delete([]byte(k))
		} else {
			err = etx.Put([]byte(k), w.value)
		}
		if err != nil {
			return indexError(ErrStorage, "failed to stage write", err)
		}
	}
	if err := etx.Commit(); err != nil {
		return indexError(ErrStorage, "failed to commit block", err)
	}
	tx.pending = nil
	return nil
}
