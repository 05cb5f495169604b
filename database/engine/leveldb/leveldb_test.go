package leveldb

import (
	"path/filepath"
	"testing"

	"github.com/btcsuite/addrindexd/database/engine"
	"github.com/stretchr/testify/require"
)

func TestSuiteLevelDB(t *testing.T) {
	engine.TestSuiteEngine(t, func() engine.Engine {
		dbPath := filepath.Join(t.TempDir(), "leveldb-testsuite")

		leveldb, err := NewDB(dbPath, true)
		require.NoErrorf(t, err, "failed to create leveldb")
		return leveldb
	})
}

func TestRegistered(t *testing.T) {
	require.Contains(t, engine.SupportedDrivers(), dbType)

	dbPath := filepath.Join(t.TempDir(), "leveldb-open")
	db, err := engine.Open(dbType, dbPath, true)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	// Reopening an existing database without create must succeed.
	db, err = engine.Open(dbType, dbPath, false)
	require.NoError(t, err)
	require.NoError(t, db.Close())
}
