// Copyright (c) 2026 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package indexers

import (
	"encoding/binary"
	"math"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/btcsuite/addrindexd/addrkey"
	"github.com/btcsuite/addrindexd/database/engine"
	"github.com/btcsuite/addrindexd/database/engine/leveldb"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/stretchr/testify/require"
)

var testParams = &chaincfg.RegressionNetParams

// testStartTime is the time reported by the test clock.
var testStartTime = time.Unix(1700000000, 0)

// blockNonce makes every test block hash unique.
var blockNonce uint32

// testHarness wires an address index and manager to a fresh database.
type testHarness struct {
	t     *testing.T
	db    engine.Engine
	idx   *AddrIndex
	mgr   *Manager
	clock *clock.TestClock
}

func newTestHarness(t *testing.T) *testHarness {
	t.Helper()

	db, err := leveldb.NewDB(filepath.Join(t.TempDir(), "addrindex"), true)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	testClock := clock.NewTestClock(testStartTime)
	idx := New(&Config{
		DB:          db,
		ChainParams: testParams,
		Clock:       testClock,
	})
	mgr := NewManager(db, idx, testParams)
	require.NoError(t, mgr.Init(nil))

	return &testHarness{t: t, db: db, idx: idx, mgr: mgr, clock: testClock}
}

// genesisHash is the hash the index tip starts at.
func genesisHash() chainhash.Hash {
	return testParams.GenesisBlock.BlockHash()
}

// testKey returns a pay-to-pubkey-hash script and its key for a seed.
func testKey(t *testing.T, seed byte) ([]byte, addrkey.Key) {
	t.Helper()

	hash := btcutil.Hash160([]byte{seed})
	addr, err := btcutil.NewAddressPubKeyHash(hash, testParams)
	require.NoError(t, err)
	script, err := txscript.PayToAddrScript(addr)
	require.NoError(t, err)
	k, ok := addrkey.FromScript(script, testParams)
	require.True(t, ok)
	return script, k
}

// coinbaseTx returns a coinbase paying outs.  The tag keeps coinbases at
// different heights distinct.
func coinbaseTx(tag uint32, outs ...*wire.TxOut) *wire.MsgTx {
	tx := wire.NewMsgTx(wire.TxVersion)
	sigScript := binary.LittleEndian.AppendUint32(nil, tag)
	tx.AddTxIn(wire.NewTxIn(
		wire.NewOutPoint(&chainhash.Hash{}, math.MaxUint32),
		sigScript, nil,
	))
	for _, out := range outs {
		tx.AddTxOut(out)
	}
	if len(outs) == 0 {
		tx.AddTxOut(wire.NewTxOut(0, []byte{txscript.OP_TRUE}))
	}
	return tx
}

// spendTx returns a transaction spending prevOuts to outs.
func spendTx(prevOuts []wire.OutPoint, outs ...*wire.TxOut) *wire.MsgTx {
	tx := wire.NewMsgTx(wire.TxVersion)
	for i := range prevOuts {
		tx.AddTxIn(wire.NewTxIn(&prevOuts[i], nil, nil))
	}
	for _, out := range outs {
		tx.AddTxOut(out)
	}
	return tx
}

func outPoint(tx *wire.MsgTx, index uint32) wire.OutPoint {
	return wire.OutPoint{Hash: tx.TxHash(), Index: index}
}

// newBlock returns a block on top of prev holding txns.
func newBlock(prev *chainhash.Hash, txns ...*wire.MsgTx) *btcutil.Block {
	nonce := atomic.AddUint32(&blockNonce, 1)
	msgBlock := wire.NewMsgBlock(&wire.BlockHeader{
		Version:   1,
		PrevBlock: *prev,
		Timestamp: testStartTime.Add(time.Duration(nonce) * time.Second),
		Bits:      testParams.PowLimitBits,
		Nonce:     nonce,
	})
	for _, tx := range txns {
		msgBlock.AddTransaction(tx)
	}
	return btcutil.NewBlock(msgBlock)
}

// connect builds a block on the current tip, connects it and returns it.
// A coinbase is prepended when the first transaction is not one.
func (h *testHarness) connect(txns ...*wire.MsgTx) *btcutil.Block {
	h.t.Helper()

	tip, height, err := h.mgr.Tip()
	require.NoError(h.t, err)
	if len(txns) == 0 || !isCoinbase(txns[0]) {
		txns = append([]*wire.MsgTx{coinbaseTx(uint32(height + 1))},
			txns...)
	}
	block := newBlock(tip, txns...)
	require.NoError(h.t, h.mgr.ConnectBlock(block))
	return block
}

func isCoinbase(tx *wire.MsgTx) bool {
	return len(tx.TxIn) == 1 &&
		tx.TxIn[0].PreviousOutPoint.Index == math.MaxUint32 &&
		tx.TxIn[0].PreviousOutPoint.Hash == chainhash.Hash{}
}

// dump returns every key and value held by the database.
func dump(t *testing.T, db engine.Engine) map[string]string {
	t.Helper()

	snap, err := db.Snapshot()
	require.NoError(t, err)
	defer snap.Release()

	kvs := make(map[string]string)
	iter := snap.NewIterator(&engine.Range{})
	defer iter.Release()
	for iter.Next() {
		kvs[string(iter.Key())] = string(iter.Value())
	}
	require.NoError(t, iter.Error())
	return kvs
}

func txHashes(txns ...*wire.MsgTx) []chainhash.Hash {
	hashes := make([]chainhash.Hash, 0, len(txns))
	for _, tx := range txns {
		hashes = append(hashes, tx.TxHash())
	}
	return hashes
}
