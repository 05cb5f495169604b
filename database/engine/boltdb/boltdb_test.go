package boltdb

import (
	"path/filepath"
	"testing"

	"github.com/btcsuite/addrindexd/database/engine"
	"github.com/stretchr/testify/require"
)

func TestSuiteBoltDB(t *testing.T) {
	engine.TestSuiteEngine(t, func() engine.Engine {
		dbPath := filepath.Join(t.TempDir(), "boltdb-testsuite")

		boltdb, err := NewDB(dbPath, true)
		require.NoErrorf(t, err, "failed to create boltdb")
		return boltdb
	})
}

func TestIteratorReverse(t *testing.T) {
	db, err := NewDB(filepath.Join(t.TempDir(), "reverse"), true)
	require.NoError(t, err)
	defer db.Close()

	tx, err := db.Transaction()
	require.NoError(t, err)
	for _, k := range []string{"a1", "a2", "a3", "b1"} {
		require.NoError(t, tx.Put([]byte(k), []byte(k)))
	}
	require.NoError(t, tx.Commit())

	snap, err := db.Snapshot()
	require.NoError(t, err)
	defer snap.Release()

	iter := snap.NewIterator(engine.BytesPrefix([]byte("a")))
	defer iter.Release()

	var got []string
	for ok := iter.Last(); ok; ok = iter.Prev() {
		got = append(got, string(iter.Key()))
	}
	require.NoError(t, iter.Error())
	require.Equal(t, []string{"a3", "a2", "a1"}, got)

	require.True(t, iter.Seek([]byte("a2")))
	require.Equal(t, []byte("a2"), iter.Key())
	require.True(t, iter.Next())
	require.Equal(t, []byte("a3"), iter.Key())
	require.False(t, iter.Next())
}

func TestCreateExisting(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "exists")

	db, err := engine.Open(dbType, dbPath, true)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	_, err = NewDB(dbPath, true)
	require.ErrorIs(t, err, ErrDbExists)

	db, err = NewDB(dbPath, false)
	require.NoError(t, err)
	require.NoError(t, db.Close())
}
