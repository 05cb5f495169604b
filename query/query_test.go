// Copyright (c) 2026 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package query

import (
	"encoding/binary"
	"math"
	"path/filepath"
	"testing"

	"github.com/btcsuite/addrindexd/addrkey"
	"github.com/btcsuite/addrindexd/database/engine/leveldb"
	"github.com/btcsuite/addrindexd/indexers"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"
)

var testParams = &chaincfg.RegressionNetParams

type testChain struct {
	t      *testing.T
	mgr    *indexers.Manager
	svc    *Service
	blocks []*btcutil.Block
}

func newTestChain(t *testing.T) *testChain {
	t.Helper()

	db, err := leveldb.NewDB(filepath.Join(t.TempDir(), "addrindex"), true)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	idx := indexers.New(&indexers.Config{DB: db, ChainParams: testParams})
	mgr := indexers.NewManager(db, idx, testParams)
	require.NoError(t, mgr.Init(nil))

	return &testChain{
		t:   t,
		mgr: mgr,
		svc: New(&Config{Index: idx, ChainParams: testParams}),
	}
}

// testAddress returns a pay-to-pubkey-hash address and its script.
func testAddress(t *testing.T, seed byte) (string, []byte) {
	t.Helper()

	addr, err := btcutil.NewAddressPubKeyHash(btcutil.Hash160([]byte{seed}),
		testParams)
	require.NoError(t, err)
	script, err := txscript.PayToAddrScript(addr)
	require.NoError(t, err)
	return addr.EncodeAddress(), script
}

// mine connects a block whose coinbase pays outs and returns the coinbase.
func (c *testChain) mine(outs ...*wire.TxOut) *wire.MsgTx {
	c.t.Helper()

	tip, height, err := c.mgr.Tip()
	require.NoError(c.t, err)

	cb := wire.NewMsgTx(wire.TxVersion)
	cb.AddTxIn(wire.NewTxIn(
		wire.NewOutPoint(&chainhash.Hash{}, math.MaxUint32),
		binary.LittleEndian.AppendUint32(nil, uint32(height+1)), nil,
	))
	for _, out := range outs {
		cb.AddTxOut(out)
	}

	msgBlock := wire.NewMsgBlock(&wire.BlockHeader{
		PrevBlock: *tip,
		Nonce:     uint32(height + 1),
	})
	msgBlock.AddTransaction(cb)
	block := btcutil.NewBlock(msgBlock)
	require.NoError(c.t, c.mgr.ConnectBlock(block))
	c.blocks = append(c.blocks, block)
	return cb
}

func (c *testChain) decode(addrs ...string) []addrkey.Key {
	c.t.Helper()

	keys, err := c.svc.DecodeAddresses(addrs)
	require.NoError(c.t, err)
	return keys
}

// TestDisabled ensures every query fails when no index is configured.
func TestDisabled(t *testing.T) {
	svc := New(&Config{ChainParams: testParams})
	require.False(t, svc.Enabled())

	addr, _ := testAddress(t, 'A')
	for _, addrs := range [][]string{{addr}, {"not-an-address"}, nil} {
		_, err := svc.DecodeAddresses(addrs)
		require.ErrorIs(t, err, ErrIndexDisabled)
	}

	k, err := addrkey.Decode(addr, testParams)
	require.NoError(t, err)
	keys := []addrkey.Key{k}

	_, err = svc.GetAddressTxIDs(keys, 0, 0)
	require.ErrorIs(t, err, ErrIndexDisabled)
	_, err = svc.GetAddressBalance(keys)
	require.ErrorIs(t, err, ErrIndexDisabled)
	_, err = svc.GetAddressDeltas(keys, 0, 0, true)
	require.ErrorIs(t, err, ErrIndexDisabled)
	_, err = svc.GetAddressUtxos(keys, false)
	require.ErrorIs(t, err, ErrIndexDisabled)
	_, err = svc.GetAddressMempool(keys)
	require.ErrorIs(t, err, ErrIndexDisabled)
	_, _, err = svc.BestBlock()
	require.ErrorIs(t, err, ErrIndexDisabled)
	_, err = svc.BlockHash(1)
	require.ErrorIs(t, err, ErrIndexDisabled)
}

// TestDecodeAddresses checks decoding errors and duplicate removal.
func TestDecodeAddresses(t *testing.T) {
	svc := newTestChain(t).svc
	addrA, _ := testAddress(t, 'A')
	addrB, _ := testAddress(t, 'B')

	keys, err := svc.DecodeAddresses([]string{addrB, addrA, addrB})
	require.NoError(t, err)
	require.Len(t, keys, 2)
	require.Equal(t, addrB, keys[0].Encode(testParams))
	require.Equal(t, addrA, keys[1].Encode(testParams))

	_, err = svc.DecodeAddresses(nil)
	require.ErrorIs(t, err, ErrNoAddresses)

	_, err = svc.DecodeAddresses([]string{addrA, "not-an-address"})
	var addrErr *AddressError
	require.ErrorAs(t, err, &addrErr)
	require.Equal(t, "not-an-address", addrErr.Address)
	require.ErrorIs(t, err, addrkey.ErrMalformedAddress)
}

// TestEmptyHistory checks an address without entries yields empty results
// rather than errors.
func TestEmptyHistory(t *testing.T) {
	c := newTestChain(t)
	addr, _ := testAddress(t, 'A')
	keys := c.decode(addr)

	txids, err := c.svc.GetAddressTxIDs(keys, 0, 0)
	require.NoError(t, err)
	require.Empty(t, txids)

	bal, err := c.svc.GetAddressBalance(keys)
	require.NoError(t, err)
	require.Zero(t, bal.Balance)

	deltas, err := c.svc.GetAddressDeltas(keys, 0, 0, true)
	require.NoError(t, err)
	require.Empty(t, deltas.Deltas)
	require.Nil(t, deltas.Start)

	mempool, err := c.svc.GetAddressMempool(keys)
	require.NoError(t, err)
	require.Empty(t, mempool)

	_, err = c.svc.GetAddressTxIDs(nil, 0, 0)
	require.ErrorIs(t, err, ErrNoAddresses)
}

// TestQueries runs every query over a short chain.
func TestQueries(t *testing.T) {
	c := newTestChain(t)
	addrA, scriptA := testAddress(t, 'A')
	addrB, scriptB := testAddress(t, 'B')

	cb1 := c.mine(wire.NewTxOut(10, scriptA))
	cb2 := c.mine(wire.NewTxOut(15, scriptB))
	cb3 := c.mine(wire.NewTxOut(20, scriptA))
	keys := c.decode(addrA, addrB)

	txids, err := c.svc.GetAddressTxIDs(keys, 0, 0)
	require.NoError(t, err)
	require.Equal(t, []chainhash.Hash{cb1.TxHash(), cb2.TxHash(),
		cb3.TxHash()}, txids)

	bal, err := c.svc.GetAddressBalance(keys)
	require.NoError(t, err)
	require.Equal(t, &indexers.Balance{Balance: 45, Received: 45}, bal)

	tests := []struct {
		name               string
		start, end         int32
		wantStart, wantEnd int32
		wantDeltas         int
	}{
		{"unbounded", 0, 0, 1, 3, 3},
		{"single block", 2, 2, 2, 2, 1},
		{"clamped end", 2, 50, 2, 3, 2},
		{"beyond tip", 100, 200, 3, 3, 0},
		{"inverted", 60, 50, 0, 0, 0},
		{"inverted in chain", 3, 2, 0, 0, 0},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			res, err := c.svc.GetAddressDeltas(keys, test.start,
				test.end, true)
			require.NoError(t, err)
			require.Len(t, res.Deltas, test.wantDeltas)
			if test.start > 0 {
				for _, d := range res.Deltas {
					require.GreaterOrEqual(t, d.Height, test.start)
					require.LessOrEqual(t, d.Height, test.end)
				}
			}

			// Chain info never changes which deltas are returned.
			plain, err := c.svc.GetAddressDeltas(keys, test.start,
				test.end, false)
			require.NoError(t, err)
			require.Equal(t, plain.Deltas, res.Deltas)
			require.Nil(t, plain.Start)
			require.Nil(t, plain.End)

			if test.wantStart == 0 {
				require.Nil(t, res.Start)
				require.Nil(t, res.End)
				return
			}
			require.Equal(t, test.wantStart, res.Start.Height)
			require.Equal(t, *c.blocks[test.wantStart-1].Hash(),
				res.Start.Hash)
			require.Equal(t, test.wantEnd, res.End.Height)
			require.Equal(t, *c.blocks[test.wantEnd-1].Hash(),
				res.End.Hash)
		})
	}

	utxos, err := c.svc.GetAddressUtxos(keys, true)
	require.NoError(t, err)
	require.Len(t, utxos.Utxos, 3)
	require.Equal(t, int32(3), utxos.Tip.Height)
	require.Equal(t, *c.blocks[2].Hash(), utxos.Tip.Hash)
	for i, u := range utxos.Utxos {
		require.Equal(t, int32(i+1), u.Height)
	}

	hash, height, err := c.svc.BestBlock()
	require.NoError(t, err)
	require.Equal(t, c.blocks[2].Hash(), hash)
	require.Equal(t, int32(3), height)

	hash, err = c.svc.BlockHash(0)
	require.NoError(t, err)
	require.Equal(t, testParams.GenesisBlock.BlockHash(), *hash)
	hash, err = c.svc.BlockHash(1)
	require.NoError(t, err)
	require.Equal(t, c.blocks[0].Hash(), hash)
	_, err = c.svc.BlockHash(4)
	require.ErrorIs(t, err, ErrHeightOutOfRange)
	_, err = c.svc.BlockHash(-1)
	require.ErrorIs(t, err, ErrHeightOutOfRange)
}

// TestMempoolQuery checks unconfirmed entries are reported in acceptance
// order.
func TestMempoolQuery(t *testing.T) {
	c := newTestChain(t)
	addrA, scriptA := testAddress(t, 'A')
	_, scriptB := testAddress(t, 'B')

	cb := c.mine(wire.NewTxOut(30, scriptA), wire.NewTxOut(40, scriptA))

	var hashes []chainhash.Hash
	for vout := uint32(0); vout < 2; vout++ {
		tx := wire.NewMsgTx(wire.TxVersion)
		tx.AddTxIn(wire.NewTxIn(wire.NewOutPoint(&chainhash.Hash{}, 0),
			nil, nil))
		tx.TxIn[0].PreviousOutPoint = wire.OutPoint{Hash: cb.TxHash(),
			Index: vout}
		tx.AddTxOut(wire.NewTxOut(5, scriptB))
		c.mgr.Index().AddUnconfirmedTx(btcutil.NewTx(tx), nil)
		hashes = append(hashes, tx.TxHash())
	}

	entries, err := c.svc.GetAddressMempool(c.decode(addrA))
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, hashes[0], entries[0].TxHash)
	require.Equal(t, int64(-30), entries[0].Amount)
	require.Equal(t, hashes[1], entries[1].TxHash)
	require.Equal(t, int64(-40), entries[1].Amount)
}
