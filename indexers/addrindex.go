// Copyright (c) 2016-2026 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package indexers

import (
	"fmt"
	"sync"

	"github.com/btcsuite/addrindexd/addrkey"
	"github.com/btcsuite/addrindexd/database/engine"
	"github.com/btcsuite/btcd/blockchain"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/decred/dcrd/lru"
	"github.com/lightningnetwork/lnd/clock"
)

const (
	// addrIndexName is the human-readable name for the index.
	addrIndexName = "address index"

	// addrIndexKey names the index in the tip and drop records.
	addrIndexKey = "addrindex"

	// DefaultConfirmedCacheSize is the number of recently confirmed
	// transaction hashes remembered to reject late mempool notifications.
	DefaultConfirmedCacheSize = 10000
)

// Config holds the dependencies of an AddrIndex.
type Config struct {
	// DB is the storage engine holding the index.
	DB engine.Engine

	// ChainParams identifies the network the index serves.  It is used
	// to classify scripts.
	ChainParams *chaincfg.Params

	// Clock stamps unconfirmed entries.  The default is the wall clock.
	Clock clock.Clock

	// ConfirmedCacheSize overrides DefaultConfirmedCacheSize when
	// non-zero.
	ConfirmedCacheSize uint
}

// AddrIndex implements an address index covering every transaction output
// paid to a standard address and every input spending one.  Confirmed
// history is persisted through the storage engine, while transactions in the
// memory pool are tracked in memory only.
type AddrIndex struct {
	db          engine.Engine
	chainParams *chaincfg.Params
	clock       clock.Clock

	// The following fields are used to quickly link transactions and
	// addresses that have not been included into a block yet when an
	// address index is being maintained.  They are protected by the
	// unconfirmedLock field.
	//
	// txnsByAddr holds the entries of each address in acceptance order.
	// unconfirmedTxs tracks which addresses and outputs each transaction
	// touched so its entries can be removed efficiently.
	// unconfirmedOuts resolves outputs of unconfirmed transactions spent
	// by other unconfirmed transactions.
	unconfirmedLock   sync.RWMutex
	txnsByAddr        map[addrkey.Key][]*UnconfirmedEntry
	unconfirmedTxs    map[chainhash.Hash]*unconfirmedTx
	unconfirmedOuts   map[wire.OutPoint]*unconfirmedOut
	numUnconfirmed    int
	sequence          uint64
	recentlyConfirmed lru.Cache
}

// New returns a new instance of an indexer that is used to create a mapping
// of all addresses in the blockchain to the respective transactions that
// involve them.
func New(cfg *Config) *AddrIndex {
	initPrometheusMetrics()

	clk := cfg.Clock
	if clk == nil {
		clk = clock.NewDefaultClock()
	}
	cacheSize := cfg.ConfirmedCacheSize
	if cacheSize == 0 {
		cacheSize = DefaultConfirmedCacheSize
	}

	return &AddrIndex{
		db:                cfg.DB,
		chainParams:       cfg.ChainParams,
		clock:             clk,
		txnsByAddr:        make(map[addrkey.Key][]*UnconfirmedEntry),
		unconfirmedTxs:    make(map[chainhash.Hash]*unconfirmedTx),
		unconfirmedOuts:   make(map[wire.OutPoint]*unconfirmedOut),
		recentlyConfirmed: lru.NewCache(cacheSize),
	}
}

// Name returns the human-readable name of the index.
func (idx *AddrIndex) Name() string {
	return addrIndexName
}

// fetchOutpoint returns the indexed output at op, or nil if op did not pay
// an indexed address.
func fetchOutpoint(tx *dbTx, op *wire.OutPoint) (*outpointEntry, error) {
	raw, err := tx.get(outpointKey(op))
	if err != nil || raw == nil {
		return nil, err
	}
	return deserializeOutpointEntry(raw)
}

// fetchReceipt returns the receipt delta of the indexed output at op.
func fetchReceipt(tx *dbTx, entry *outpointEntry, op *wire.OutPoint) ([]byte, *deltaValue, error) {
	key := deltaKey(entry.key, entry.height, entry.txPos, op.Index, false)
	raw, err := tx.get(key)
	if err != nil {
		return nil, nil, err
	}
	if raw == nil {
		return nil, nil, corrupt("missing receipt entry for indexed "+
			"output %v", op)
	}
	v, err := deserializeDeltaValue(raw, false)
	if err != nil {
		return nil, nil, err
	}
	return key, v, nil
}

// updateBalance adjusts the running totals of k.  The record is removed when
// no entries remain so connecting and disconnecting a block leaves no trace.
func updateBalance(tx *dbTx, k addrkey.Key, amount, received int64, entries int) error {
	key := balanceKey(k)
	raw, err := tx.get(key)
	if err != nil {
		return err
	}
	bal := &balanceEntry{}
	if raw != nil {
		if bal, err = deserializeBalance(raw); err != nil {
			return err
		}
	}

	count := int64(bal.entries) + int64(entries)
	if count < 0 {
		return corrupt("negative entry count for %v", k)
	}
	bal.balance += amount
	bal.received += received
	bal.entries = uint64(count)

	if bal.entries == 0 {
		if bal.balance != 0 || bal.received != 0 {
			return corrupt("non-zero totals for %v with no entries", k)
		}
		tx.del(key)
		return nil
	}
	tx.put(key, serializeBalance(bal))
	return nil
}

// indexSpend records that the input at spend consumed prevOut.  It returns
// false when prevOut does not pay an indexed address.
func indexSpend(tx *dbTx, spend *SpendRef, txPos uint32, prevOut *wire.OutPoint) (bool, error) {
	entry, err := fetchOutpoint(tx, prevOut)
	if err != nil || entry == nil {
		return false, err
	}

	receiptKey, receipt, err := fetchReceipt(tx, entry, prevOut)
	if err != nil {
		return false, err
	}
	if receipt.spentBy != nil {
		return false, AssertError(fmt.Sprintf("output %v is already "+
			"spent by %v:%d at height %d, cannot spend it again in "+
			"%v:%d", prevOut, receipt.spentBy.TxHash,
			receipt.spentBy.Index, receipt.spentBy.Height,
			spend.TxHash, spend.Index))
	}
	receipt.spentBy = spend
	tx.put(receiptKey, serializeDeltaValue(receipt, false))
	tx.del(utxoKey(entry.key, entry.height, prevOut))

	spendEntry := &deltaValue{
		txHash:  spend.TxHash,
		amount:  -entry.amount,
		prevOut: prevOut,
	}
	tx.put(deltaKey(entry.key, spend.Height, txPos, spend.Index, true),
		serializeDeltaValue(spendEntry, true))

	return true, updateBalance(tx, entry.key, -entry.amount, 0, 1)
}

// unindexSpend reverses indexSpend.
func unindexSpend(tx *dbTx, spend *SpendRef, txPos uint32, prevOut *wire.OutPoint) (bool, error) {
	entry, err := fetchOutpoint(tx, prevOut)
	if err != nil || entry == nil {
		return false, err
	}

	receiptKey, receipt, err := fetchReceipt(tx, entry, prevOut)
	if err != nil {
		return false, err
	}
	if receipt.spentBy == nil || *receipt.spentBy != *spend {
		return false, AssertError(fmt.Sprintf("output %v is not spent "+
			"by %v:%d at height %d", prevOut, spend.TxHash,
			spend.Index, spend.Height))
	}
	receipt.spentBy = nil
	tx.put(receiptKey, serializeDeltaValue(receipt, false))
	tx.put(utxoKey(entry.key, entry.height, prevOut),
		serializeUtxoValue(entry.amount, entry.pkScript))
	tx.del(deltaKey(entry.key, spend.Height, txPos, spend.Index, true))

	return true, updateBalance(tx, entry.key, entry.amount, 0, -1)
}

// connectBlock stages the entries for every indexed output created and
// spent by the block.  The block height must already be set.  It returns the
// number of delta entries added.
func (idx *AddrIndex) connectBlock(tx *dbTx, block *btcutil.Block) (int, error) {
	height := block.Height()
	if height < 1 {
		return 0, AssertError(fmt.Sprintf("connectBlock called with "+
			"block %v at invalid height %d", block.Hash(), height))
	}

	var numDeltas int
	for txPos, btx := range block.Transactions() {
		txHash := btx.Hash()
		msgTx := btx.MsgTx()

		// Coinbases do not reference any inputs.  Since the block is
		// required to have already gone through full validation, it
		// has already been proven that the first transaction in the
		// block is a coinbase.
		if !blockchain.IsCoinBase(btx) {
			for vin, txIn := range msgTx.TxIn {
				spend := &SpendRef{
					TxHash: *txHash,
					Index:  uint32(vin),
					Height: height,
				}
				prevOut := txIn.PreviousOutPoint
				ok, err := indexSpend(tx, spend, uint32(txPos),
					&prevOut)
				if err != nil {
					return 0, err
				}
				if ok {
					numDeltas++
				}
			}
		}

		for vout, txOut := range msgTx.TxOut {
			k, ok := addrkey.FromScript(txOut.PkScript, idx.chainParams)
			if !ok {
				continue
			}
			op := wire.OutPoint{Hash: *txHash, Index: uint32(vout)}

			// Historical duplicate coinbases reuse the outpoints
			// of an earlier transaction.  Keep the original
			// records, disconnectBlock skips the duplicate too.
			existing, err := fetchOutpoint(tx, &op)
			if err != nil {
				return 0, err
			}
			if existing != nil {
				log.Warnf("Output %v already indexed at height "+
					"%d, skipping duplicate at height %d", op,
					existing.height, height)
				continue
			}

			receipt := &deltaValue{txHash: *txHash, amount: txOut.Value}
			tx.put(deltaKey(k, height, uint32(txPos), op.Index, false),
				serializeDeltaValue(receipt, false))
			tx.put(utxoKey(k, height, &op),
				serializeUtxoValue(txOut.Value, txOut.PkScript))
			tx.put(outpointKey(&op), serializeOutpointEntry(&outpointEntry{
				key:      k,
				height:   height,
				txPos:    uint32(txPos),
				amount:   txOut.Value,
				pkScript: txOut.PkScript,
			}))
			err = updateBalance(tx, k, txOut.Value, txOut.Value, 1)
			if err != nil {
				return 0, err
			}
			numDeltas++
		}
	}

	tx.put(heightKey(height), block.Hash()[:])
	return numDeltas, nil
}

// disconnectBlock stages the removal of every entry connectBlock added for
// the block.  Transactions, outputs and inputs are walked in reverse so
// outputs created and spent within the block unwind in order.  It returns
// the number of delta entries removed.
func (idx *AddrIndex) disconnectBlock(tx *dbTx, block *btcutil.Block) (int, error) {
	height := block.Height()
	stored, err := tx.get(heightKey(height))
	if err != nil {
		return 0, err
	}
	storedHash, err := chainhash.NewHash(stored)
	if err != nil || !block.Hash().IsEqual(storedHash) {
		return 0, AssertError(fmt.Sprintf("disconnectBlock called with "+
			"block %v which is not indexed at height %d",
			block.Hash(), height))
	}

	var numDeltas int
	txns := block.Transactions()
	for txPos := len(txns) - 1; txPos >= 0; txPos-- {
		btx := txns[txPos]
		txHash := btx.Hash()
		msgTx := btx.MsgTx()

		for vout := len(msgTx.TxOut) - 1; vout >= 0; vout-- {
			txOut := msgTx.TxOut[vout]
			k, ok := addrkey.FromScript(txOut.PkScript, idx.chainParams)
			if !ok {
				continue
			}
			op := wire.OutPoint{Hash: *txHash, Index: uint32(vout)}

			entry, err := fetchOutpoint(tx, &op)
			if err != nil {
				return 0, err
			}
			if entry == nil {
				return 0, corrupt("missing outpoint entry for %v", op)
			}
			if entry.height != height || entry.txPos != uint32(txPos) {
				// Duplicate of an earlier output.
				continue
			}
			receiptKey, receipt, err := fetchReceipt(tx, entry, &op)
			if err != nil {
				return 0, err
			}
			if receipt.spentBy != nil {
				return 0, AssertError(fmt.Sprintf("output %v is "+
					"still spent by %v:%d at height %d", op,
					receipt.spentBy.TxHash, receipt.spentBy.Index,
					receipt.spentBy.Height))
			}

			tx.del(receiptKey)
			tx.del(utxoKey(k, height, &op))
			tx.del(outpointKey(&op))
			err = updateBalance(tx, k, -txOut.Value, -txOut.Value, -1)
			if err != nil {
				return 0, err
			}
			numDeltas++
		}

		if blockchain.IsCoinBase(btx) {
			continue
		}
		for vin := len(msgTx.TxIn) - 1; vin >= 0; vin-- {
			spend := &SpendRef{
				TxHash: *txHash,
				Index:  uint32(vin),
				Height: height,
			}
			prevOut := msgTx.TxIn[vin].PreviousOutPoint
			ok, err := unindexSpend(tx, spend, uint32(txPos), &prevOut)
			if err != nil {
				return 0, err
			}
			if ok {
				numDeltas++
			}
		}
	}

	tx.del(heightKey(height))
	return numDeltas, nil
}

// commitBlock writes a staged block and updates the unconfirmed index in the
// same critical section.  Readers of unconfirmed entries therefore never
// observe a confirmed transaction in both views or in neither.
func (idx *AddrIndex) commitBlock(tx *dbTx, block *btcutil.Block, connected bool) error {
	idx.unconfirmedLock.Lock()
	defer idx.unconfirmedLock.Unlock()

	if err := tx.commit(); err != nil {
		return err
	}

	for _, btx := range block.Transactions() {
		if connected {
			idx.removeUnconfirmedTx(btx.Hash())
			idx.recentlyConfirmed.Add(*btx.Hash())
		} else {
			idx.recentlyConfirmed.Delete(*btx.Hash())
		}
	}
	prometheusUnconfirmedEntries.Set(float64(idx.numUnconfirmed))
	return nil
}
