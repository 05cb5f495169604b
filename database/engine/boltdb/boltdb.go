package boltdb

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/btcsuite/addrindexd/database/engine"
	bolt "go.etcd.io/bbolt"
)

var (
	ErrDbClosed         = errors.New("boltdb: closed")
	ErrDbExists         = errors.New("boltdb: database already exists")
	ErrTxClosed         = errors.New("boltdb: transaction already closed")
	ErrSnapshotReleased = errors.New("boltdb: snapshot released")
)

const (
	dbType = "bbolt"

	// dbFile is the name of the bolt file inside the database directory.
	dbFile = "index.db"
)

// bucketName is the single bucket holding every key.  Keys carry their own
// prefixes so one ordered keyspace is enough.
var bucketName = []byte("kv")

func init() {
	engine.RegisterDriver(engine.Driver{
		DbType: dbType,
		Open:   NewDB,
	})
}

// NewDB opens the bolt database stored in the directory dbPath, creating it
// when missing.
func NewDB(dbPath string, create bool) (engine.Engine, error) {
	path := filepath.Join(dbPath, dbFile)
	if create {
		if _, err := os.Stat(path); err == nil {
			return nil, fmt.Errorf("%w: %s", ErrDbExists, path)
		}
	}
	if err := os.MkdirAll(dbPath, 0o700); err != nil {
		return nil, err
	}

	bdb, err := bolt.Open(path, 0o600, &bolt.Options{
		Timeout: 1 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("open bbolt: %w", err)
	}

	err = bdb.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketName)
		return err
	})
	if err != nil {
		bdb.Close()
		return nil, fmt.Errorf("create bucket %s: %w", bucketName, err)
	}

	return &DB{db: bdb}, nil
}

// DB is a bolt backed engine.  Bolt allows a single writer, so transactions
// buffer their writes in memory and apply them in one Update on Commit.  This
// keeps a write transaction from ever being open while the same goroutine
// holds a snapshot.
type DB struct {
	db *bolt.DB

	closed atomic.Bool
}

func (d *DB) Transaction() (engine.Transaction, error) {
	if d.closed.Load() {
		return nil, ErrDbClosed
	}
	return &Transaction{db: d.db}, nil
}

func (d *DB) Snapshot() (engine.Snapshot, error) {
	if d.closed.Load() {
		return nil, ErrDbClosed
	}
	tx, err := d.db.Begin(false)
	if err != nil {
		return nil, err
	}
	return &Snapshot{tx: tx, bucket: tx.Bucket(bucketName)}, nil
}

func (d *DB) Close() error {
	if d.closed.Swap(true) {
		return ErrDbClosed
	}
	return d.db.Close()
}
