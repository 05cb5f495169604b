package boltdb

import (
	"github.com/btcsuite/addrindexd/database/engine"
	bolt "go.etcd.io/bbolt"
)

// Snapshot is a read-only bolt transaction.  It must be released so writers
// can remap the file when it grows.
type Snapshot struct {
	tx       *bolt.Tx
	bucket   *bolt.Bucket
	released bool
}

func (s *Snapshot) Has(key []byte) (bool, error) {
	if s.released {
		return false, ErrSnapshotReleased
	}
	return s.bucket.Get(key) != nil, nil
}

func (s *Snapshot) Get(key []byte) ([]byte, error) {
	if s.released {
		return nil, ErrSnapshotReleased
	}
	val := s.bucket.Get(key)
	if val == nil {
		return nil, engine.ErrNotFound
	}
	return append([]byte(nil), val...), nil
}

func (s *Snapshot) Release() {
	if !s.released {
		s.released = true
		s.tx.Rollback()
	}
}

func (s *Snapshot) NewIterator(slice *engine.Range) engine.Iterator {
	iter := &Iterator{
		start: slice.Start,
		limit: slice.Limit,
	}
	if s.released {
		iter.err = ErrSnapshotReleased
		return iter
	}
	iter.cursor = s.bucket.Cursor()
	return iter
}
