// Copyright (c) 2026 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"bytes"
	"encoding/binary"
	"io"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/btcsuite/addrindexd/database/engine/leveldb"
	"github.com/btcsuite/addrindexd/indexers"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/stretchr/testify/require"
)

var importParams = &chaincfg.RegressionNetParams

// newTestManager returns an initialized index manager over a fresh database.
func newTestManager(t *testing.T) *indexers.Manager {
	t.Helper()

	db, err := leveldb.NewDB(filepath.Join(t.TempDir(), "addrindex"), true)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	idx := indexers.New(&indexers.Config{DB: db, ChainParams: importParams})
	mgr := indexers.NewManager(db, idx, importParams)
	require.NoError(t, mgr.Init(nil))
	return mgr
}

// makeChain returns n coinbase-only blocks extending prev.
func makeChain(t *testing.T, prev chainhash.Hash, firstHeight, n int) []*wire.MsgBlock {
	t.Helper()

	addr, err := btcutil.NewAddressPubKeyHash(btcutil.Hash160([]byte("import")),
		importParams)
	require.NoError(t, err)
	script, err := txscript.PayToAddrScript(addr)
	require.NoError(t, err)

	blocks := make([]*wire.MsgBlock, 0, n)
	for i := 0; i < n; i++ {
		height := uint32(firstHeight + i)
		cb := wire.NewMsgTx(wire.TxVersion)
		cb.AddTxIn(wire.NewTxIn(
			wire.NewOutPoint(&chainhash.Hash{}, math.MaxUint32),
			binary.LittleEndian.AppendUint32(nil, height), nil,
		))
		cb.AddTxOut(wire.NewTxOut(50, script))

		block := wire.NewMsgBlock(&wire.BlockHeader{
			PrevBlock: prev,
			Timestamp: time.Unix(int64(1600000000+height), 0),
		})
		block.AddTransaction(cb)
		blocks = append(blocks, block)
		prev = block.BlockHash()
	}
	return blocks
}

// writeBlocks serializes blocks in the import file format.
func writeBlocks(t *testing.T, net wire.BitcoinNet, blocks ...*wire.MsgBlock) []byte {
	t.Helper()

	var buf bytes.Buffer
	for _, block := range blocks {
		var raw bytes.Buffer
		require.NoError(t, block.Serialize(&raw))
		require.NoError(t, binary.Write(&buf, binary.LittleEndian,
			uint32(net)))
		require.NoError(t, binary.Write(&buf, binary.LittleEndian,
			uint32(raw.Len())))
		buf.Write(raw.Bytes())
	}
	return buf.Bytes()
}

func runImport(t *testing.T, mgr *indexers.Manager, r io.Reader) *importResults {
	t.Helper()

	bi, err := newBlockImporter(&importConfig{
		Manager:     mgr,
		ChainParams: importParams,
		Progress:    time.Second,
		Clock:       clock.NewTestClock(time.Unix(0, 0)),
	}, r)
	require.NoError(t, err)
	return <-bi.Import(nil)
}

func TestImport(t *testing.T) {
	mgr := newTestManager(t)
	genesis := importParams.GenesisBlock
	chain := makeChain(t, genesis.BlockHash(), 1, 3)

	file := writeBlocks(t, importParams.Net,
		append([]*wire.MsgBlock{genesis}, chain...)...)
	results := runImport(t, mgr, bytes.NewReader(file))
	require.NoError(t, results.err)
	require.Equal(t, int64(4), results.blocksProcessed)
	require.Equal(t, int64(3), results.blocksImported)

	tipHash, tipHeight, err := mgr.Tip()
	require.NoError(t, err)
	require.Equal(t, int32(3), tipHeight)
	require.Equal(t, chain[2].BlockHash(), *tipHash)

	// Importing the same file again only checks the known blocks.
	results = runImport(t, mgr, bytes.NewReader(file))
	require.NoError(t, results.err)
	require.Equal(t, int64(4), results.blocksProcessed)
	require.Zero(t, results.blocksImported)

	// A file may also start right after the genesis block or extend the
	// current tip.
	results = runImport(t, mgr, bytes.NewReader(writeBlocks(t,
		importParams.Net, chain[:2]...)))
	require.NoError(t, results.err)
	require.Zero(t, results.blocksImported)

	more := makeChain(t, chain[2].BlockHash(), 4, 2)
	results = runImport(t, mgr, bytes.NewReader(writeBlocks(t,
		importParams.Net, more...)))
	require.NoError(t, results.err)
	require.Equal(t, int64(2), results.blocksImported)

	_, tipHeight, err = mgr.Tip()
	require.NoError(t, err)
	require.Equal(t, int32(5), tipHeight)
}

func TestImportErrors(t *testing.T) {
	genesis := importParams.GenesisBlock
	chain := makeChain(t, genesis.BlockHash(), 1, 2)
	unlinked := makeChain(t, chainhash.Hash{1}, 7, 1)

	good := writeBlocks(t, importParams.Net, genesis, chain[0])
	tests := []struct {
		name string
		file []byte
	}{{
		name: "network mismatch",
		file: writeBlocks(t, wire.MainNet, genesis),
	}, {
		name: "wrong genesis",
		file: writeBlocks(t, importParams.Net,
			chaincfg.MainNetParams.GenesisBlock),
	}, {
		name: "unlinked first block",
		file: writeBlocks(t, importParams.Net, unlinked...),
	}, {
		name: "gap",
		file: writeBlocks(t, importParams.Net, genesis, chain[1]),
	}, {
		name: "truncated",
		file: good[:len(good)-10],
	}, {
		name: "malformed block",
		file: append(binary.LittleEndian.AppendUint32(
			binary.LittleEndian.AppendUint32(nil,
				uint32(importParams.Net)), 3), 1, 2, 3),
	}, {
		name: "oversized length",
		file: binary.LittleEndian.AppendUint32(
			binary.LittleEndian.AppendUint32(nil,
				uint32(importParams.Net)), wire.MaxBlockPayload+1),
	}}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			mgr := newTestManager(t)
			results := runImport(t, mgr, bytes.NewReader(test.file))
			require.Error(t, results.err)
		})
	}
}

func TestImportInterrupt(t *testing.T) {
	mgr := newTestManager(t)

	pr, pw := io.Pipe()
	bi, err := newBlockImporter(&importConfig{
		Manager:     mgr,
		ChainParams: importParams,
	}, pr)
	require.NoError(t, err)

	interrupt := make(chan struct{})
	close(interrupt)
	resultsChan := bi.Import(interrupt)

	// The reader is blocked until the pipe is closed, so the import can
	// only stop because of the interrupt.
	<-bi.quit
	require.NoError(t, pw.Close())
	results := <-resultsChan
	require.ErrorIs(t, results.err, errImportInterrupted)
	require.Zero(t, results.blocksImported)
}
