// Copyright (c) 2016-2026 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package indexers

import (
	"sort"
	"time"

	"github.com/btcsuite/addrindexd/addrkey"
	"github.com/btcsuite/btcd/blockchain"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// UnconfirmedEntry is a change to the balance of an address made by a
// transaction in the memory pool.
type UnconfirmedEntry struct {
	Key      addrkey.Key
	TxHash   chainhash.Hash
	Index    uint32 // output index for receipts, input index for spends
	Spending bool
	Amount   int64 // satoshis, negative for spends

	// PrevOut is the output consumed by a spend.
	PrevOut *wire.OutPoint

	// Sequence is shared by every entry of one acceptance and increases
	// with each accepted transaction.  Ordinal orders the entries of an
	// acceptance: spends first in input order, then receipts in output
	// order.
	Sequence uint64
	Ordinal  uint32

	// Time is when the transaction was accepted.
	Time time.Time
}

// unconfirmedTx records what an unconfirmed transaction added to the index.
type unconfirmedTx struct {
	addrs map[addrkey.Key]struct{}
	outs  []wire.OutPoint
}

// unconfirmedOut is an indexed output created by an unconfirmed transaction.
type unconfirmedOut struct {
	key    addrkey.Key
	amount int64
}

// resolvePrevOut returns the address and amount of the output spent by an
// unconfirmed input.  The utxo view is consulted first, then outputs of
// other unconfirmed transactions and finally the confirmed index.
//
// This function MUST be called with the unconfirmed lock held.
func (idx *AddrIndex) resolvePrevOut(op *wire.OutPoint, utxoView *blockchain.UtxoViewpoint) (*unconfirmedOut, bool) {
	if utxoView != nil {
		if entry := utxoView.LookupEntry(*op); entry != nil {
			k, ok := addrkey.FromScript(entry.PkScript(), idx.chainParams)
			if !ok {
				return nil, false
			}
			return &unconfirmedOut{key: k, amount: entry.Amount()}, true
		}
	}

	if out, ok := idx.unconfirmedOuts[*op]; ok {
		return out, true
	}

	tx, err := beginDBTx(idx.db)
	if err != nil {
		log.Errorf("Unable to resolve %v: %v", op, err)
		return nil, false
	}
	defer tx.release()

	entry, err := fetchOutpoint(tx, op)
	if err != nil {
		log.Errorf("Unable to resolve %v: %v", op, err)
		return nil, false
	}
	if entry == nil {
		return nil, false
	}
	return &unconfirmedOut{key: entry.key, amount: entry.amount}, true
}

// addUnconfirmedTx adds all addresses related to the transaction to the
// unconfirmed (memory-only) address index.
//
// This function MUST be called with the unconfirmed lock held (for writes).
func (idx *AddrIndex) addUnconfirmedTx(tx *btcutil.Tx, utxoView *blockchain.UtxoViewpoint) {
	txHash := tx.Hash()
	if _, exists := idx.unconfirmedTxs[*txHash]; exists {
		log.Tracef("Ignoring duplicate unconfirmed transaction %v", txHash)
		return
	}
	if idx.recentlyConfirmed.Contains(*txHash) {
		log.Debugf("Ignoring unconfirmed transaction %v which was "+
			"recently confirmed", txHash)
		return
	}

	idx.sequence++
	seq := idx.sequence
	now := idx.clock.Now()
	msgTx := tx.MsgTx()

	var entries []*UnconfirmedEntry
	if !blockchain.IsCoinBase(tx) {
		for vin, txIn := range msgTx.TxIn {
			prevOut := txIn.PreviousOutPoint
			out, ok := idx.resolvePrevOut(&prevOut, utxoView)
			if !ok {
				continue
			}
			entries = append(entries, &UnconfirmedEntry{
				Key:      out.key,
				TxHash:   *txHash,
				Index:    uint32(vin),
				Spending: true,
				Amount:   -out.amount,
				PrevOut:  &prevOut,
			})
		}
	}

	utx := &unconfirmedTx{addrs: make(map[addrkey.Key]struct{})}
	for vout, txOut := range msgTx.TxOut {
		k, ok := addrkey.FromScript(txOut.PkScript, idx.chainParams)
		if !ok {
			continue
		}
		entries = append(entries, &UnconfirmedEntry{
			Key:    k,
			TxHash: *txHash,
			Index:  uint32(vout),
			Amount: txOut.Value,
		})

		op := wire.OutPoint{Hash: *txHash, Index: uint32(vout)}
		idx.unconfirmedOuts[op] = &unconfirmedOut{key: k, amount: txOut.Value}
		utx.outs = append(utx.outs, op)
	}

	for i, entry := range entries {
		entry.Sequence = seq
		entry.Ordinal = uint32(i)
		entry.Time = now
		idx.txnsByAddr[entry.Key] = append(idx.txnsByAddr[entry.Key], entry)
		utx.addrs[entry.Key] = struct{}{}
	}
	idx.unconfirmedTxs[*txHash] = utx
	idx.numUnconfirmed += len(entries)
}

// AddUnconfirmedTx adds all addresses related to the transaction to the
// unconfirmed (memory-only) address index.  Spent outputs are resolved
// through utxoView when it holds them.
//
// This function is safe for concurrent access.
func (idx *AddrIndex) AddUnconfirmedTx(tx *btcutil.Tx, utxoView *blockchain.UtxoViewpoint) {
	idx.unconfirmedLock.Lock()
	defer idx.unconfirmedLock.Unlock()

	idx.addUnconfirmedTx(tx, utxoView)
	prometheusUnconfirmedEntries.Set(float64(idx.numUnconfirmed))
}

// removeUnconfirmedTx removes the passed transaction from the unconfirmed
// (memory-only) address index.
//
// This function MUST be called with the unconfirmed lock held (for writes).
func (idx *AddrIndex) removeUnconfirmedTx(txHash *chainhash.Hash) {
	utx, exists := idx.unconfirmedTxs[*txHash]
	if !exists {
		return
	}

	for k := range utx.addrs {
		entries := idx.txnsByAddr[k]
		kept := entries[:0]
		for _, entry := range entries {
			if entry.TxHash == *txHash {
				idx.numUnconfirmed--
				continue
			}
			kept = append(kept, entry)
		}
		if len(kept) == 0 {
			delete(idx.txnsByAddr, k)
			continue
		}
		idx.txnsByAddr[k] = kept
	}
	for _, op := range utx.outs {
		delete(idx.unconfirmedOuts, op)
	}
	delete(idx.unconfirmedTxs, *txHash)
}

// RemoveUnconfirmedTx removes the passed transaction from the unconfirmed
// (memory-only) address index.  Removing a transaction which is not present
// does nothing.
//
// This function is safe for concurrent access.
func (idx *AddrIndex) RemoveUnconfirmedTx(txHash *chainhash.Hash) {
	idx.unconfirmedLock.Lock()
	defer idx.unconfirmedLock.Unlock()

	idx.removeUnconfirmedTx(txHash)
	prometheusUnconfirmedEntries.Set(float64(idx.numUnconfirmed))
}

// RebuildUnconfirmed replaces the unconfirmed index with the entries for
// txns, which must be ordered so parents precede children.
//
// This function is safe for concurrent access.
func (idx *AddrIndex) RebuildUnconfirmed(txns []*btcutil.Tx, utxoView *blockchain.UtxoViewpoint) {
	idx.unconfirmedLock.Lock()
	defer idx.unconfirmedLock.Unlock()

	idx.txnsByAddr = make(map[addrkey.Key][]*UnconfirmedEntry)
	idx.unconfirmedTxs = make(map[chainhash.Hash]*unconfirmedTx)
	idx.unconfirmedOuts = make(map[wire.OutPoint]*unconfirmedOut)
	idx.numUnconfirmed = 0
	for _, tx := range txns {
		idx.addUnconfirmedTx(tx, utxoView)
	}
	prometheusUnconfirmedEntries.Set(float64(idx.numUnconfirmed))
}

// UnconfirmedEntries returns the unconfirmed entries of keys in acceptance
// order.
//
// This function is safe for concurrent access.
func (idx *AddrIndex) UnconfirmedEntries(keys []addrkey.Key) []UnconfirmedEntry {
	idx.unconfirmedLock.RLock()
	defer idx.unconfirmedLock.RUnlock()

	var entries []UnconfirmedEntry
	seen := make(map[addrkey.Key]struct{}, len(keys))
	for _, k := range keys {
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		for _, entry := range idx.txnsByAddr[k] {
			entries = append(entries, *entry)
		}
	}

	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].Sequence != entries[j].Sequence {
			return entries[i].Sequence < entries[j].Sequence
		}
		return entries[i].Ordinal < entries[j].Ordinal
	})
	return entries
}

// UnconfirmedTxCount returns the number of unconfirmed transactions which
// touch at least one indexed address.
func (idx *AddrIndex) UnconfirmedTxCount() int {
	idx.unconfirmedLock.RLock()
	defer idx.unconfirmedLock.RUnlock()

	n := 0
	for _, utx := range idx.unconfirmedTxs {
		if len(utx.addrs) > 0 {
			n++
		}
	}
	return n
}
