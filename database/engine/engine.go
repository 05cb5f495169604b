package engine

import "errors"

var (
	// ErrNotFound is returned by Snapshot.Get when the key does not exist.
	// Every backend normalizes its own not-found error to this value.
	ErrNotFound = errors.New("engine: key not found")
)

// Engine is a key/value store with atomic write batches and point-in-time
// read snapshots.
type Engine interface {
	Transaction() (Transaction, error)
	Snapshot() (Snapshot, error)
	Close() error
}

// Transaction buffers writes until Commit.  Nothing is visible to snapshots
// taken before Commit returns.
type Transaction interface {
	Put(key, value []byte) error
	Delete(key []byte) error
	Commit() error
	Discard()
}

type Snapshot interface {
	Get(key []byte) ([]byte, error)
	Has(key []byte) (bool, error)
	NewIterator(*Range) Iterator
	Releaser
}

type Releaser interface {
	Release()
}
