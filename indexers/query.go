// Copyright (c) 2026 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package indexers

import (
	"bytes"
	"errors"

	"github.com/btcsuite/addrindexd/addrkey"
	"github.com/btcsuite/addrindexd/database/engine"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// Delta is a single change to the balance of an address: an output paid to
// it or an input spending one of its outputs.
type Delta struct {
	Key      addrkey.Key
	Height   int32
	TxPos    uint32
	TxHash   chainhash.Hash
	Index    uint32 // output index for receipts, input index for spends
	Spending bool
	Amount   int64 // satoshis, negative for spends

	// SpentBy is set on receipts whose output has been spent.
	SpentBy *SpendRef

	// PrevOut is the output consumed by a spend.
	PrevOut *wire.OutPoint
}

// Utxo is an unspent output paying an indexed address.
type Utxo struct {
	Key      addrkey.Key
	OutPoint wire.OutPoint
	Height   int32
	Amount   int64
	PkScript []byte
}

// Balance holds the confirmed totals of one or more addresses.
type Balance struct {
	Balance  int64
	Received int64
}

// View is a consistent read view of the confirmed index.  Every method
// observes the same set of connected blocks.
type View struct {
	snap engine.Snapshot
}

// View runs fn against a read view of the confirmed index.  The view must
// not be used after fn returns.
func (idx *AddrIndex) View(fn func(v *View) error) error {
	snap, err := idx.db.Snapshot()
	if err != nil {
		return indexError(ErrStorage, "failed to open snapshot", err)
	}
	defer snap.Release()

	return fn(&View{snap: snap})
}

func (v *View) get(key []byte) ([]byte, error) {
	val, err := v.snap.Get(key)
	switch {
	case errors.Is(err, engine.ErrNotFound):
		return nil, nil
	case err != nil:
		return nil, indexError(ErrStorage, "failed to read index", err)
	}
	return val, nil
}

// deltaRange returns the key range of the deltas of k.  The bounds only
// apply when both are positive, and are inclusive.  The second return is
// false when the bounds select nothing.
func deltaRange(k addrkey.Key, start, end int32) (*engine.Range, bool) {
	if start > 0 && end > 0 {
		if start > end {
			return nil, false
		}
		return &engine.Range{
			Start: deltaHeightKey(k, start),
			Limit: byteOrder.AppendUint32(addrPrefix(deltaPrefix, k),
				uint32(end)+1),
		}, true
	}
	return engine.BytesPrefix(addrPrefix(deltaPrefix, k)), true
}

// chronological orders delta keys of different addresses by height and
// transaction position.
var chronological = engine.ComparerFunc(func(a, b []byte) int {
	const lo, hi = deltaOrderOffset, deltaOrderOffset + deltaOrderLen
	return bytes.Compare(a[lo:hi], b[lo:hi])
})

// utxoOrder orders unspent output keys of different addresses by height,
// then transaction hash and output index.
var utxoOrder = engine.ComparerFunc(func(a, b []byte) int {
	return bytes.Compare(a[addrPrefixLen:], b[addrPrefixLen:])
})

func iterError(err error) error {
	return indexError(ErrStorage, "failed to iterate index", err)
}

// TxIDs returns the hashes of the transactions touching any of keys, ordered
// by height and position in block.  A transaction appears once even when it
// touches several outputs or addresses.
func (v *View) TxIDs(keys []addrkey.Key, start, end int32) ([]chainhash.Hash, error) {
	iters := make([]engine.Iterator, 0, len(keys))
	for _, k := range keys {
		r, ok := deltaRange(k, start, end)
		if !ok {
			continue
		}
		iters = append(iters, v.snap.NewIterator(r))
	}
	iter := engine.NewMergedIterator(iters, chronological)
	defer iter.Release()

	var txids []chainhash.Hash
	seen := make(map[chainhash.Hash]struct{})
	for iter.Next() {
		val := iter.Value()
		if len(val) < chainhash.HashSize {
			return nil, corrupt("unexpected end of data for delta entry")
		}
		var hash chainhash.Hash
		copy(hash[:], val)
		if _, ok := seen[hash]; ok {
			continue
		}
		seen[hash] = struct{}{}
		txids = append(txids, hash)
	}
	if err := iter.Error(); err != nil {
		return nil, iterError(err)
	}
	return txids, nil
}

func parseDelta(key, val []byte) (*Delta, error) {
	if len(key) != deltaKeyLen {
		return nil, corrupt("bad delta key length %d", len(key))
	}
	k, err := addrkey.FromBytes(key[1:])
	if err != nil {
		return nil, indexError(ErrCorruption, "bad delta address", err)
	}
	b := key[addrPrefixLen:]
	d := &Delta{
		Key:      k,
		Height:   int32(byteOrder.Uint32(b)),
		TxPos:    byteOrder.Uint32(b[4:]),
		Index:    byteOrder.Uint32(b[8:]),
		Spending: b[12] == 1,
	}
	v, err := deserializeDeltaValue(val, d.Spending)
	if err != nil {
		return nil, err
	}
	d.TxHash = v.txHash
	d.Amount = v.amount
	d.SpentBy = v.spentBy
	d.PrevOut = v.prevOut
	return d, nil
}

// Deltas returns every delta of keys.  Addresses are processed in the order
// given, and the deltas of each are ordered by height, position in block and
// index.
func (v *View) Deltas(keys []addrkey.Key, start, end int32) ([]Delta, error) {
	var deltas []Delta
	for _, k := range keys {
		r, ok := deltaRange(k, start, end)
		if !ok {
			continue
		}
		iter := v.snap.NewIterator(r)
		for iter.Next() {
			d, err := parseDelta(iter.Key(), iter.Value())
			if err != nil {
				iter.Release()
				return nil, err
			}
			deltas = append(deltas, *d)
		}
		err := iter.Error()
		iter.Release()
		if err != nil {
			return nil, iterError(err)
		}
	}
	return deltas, nil
}

// Balance returns the summed confirmed balance and total received of keys.
func (v *View) Balance(keys []addrkey.Key) (*Balance, error) {
	var total Balance
	for _, k := range keys {
		raw, err := v.get(balanceKey(k))
		if err != nil {
			return nil, err
		}
		if raw == nil {
			continue
		}
		bal, err := deserializeBalance(raw)
		if err != nil {
			return nil, err
		}
		total.Balance += bal.balance
		total.Received += bal.received
	}
	return &total, nil
}

// Utxos returns the unspent outputs of keys ordered by height, then by
// transaction hash and output index.
func (v *View) Utxos(keys []addrkey.Key) ([]Utxo, error) {
	iters := make([]engine.Iterator, 0, len(keys))
	for _, k := range keys {
		iters = append(iters, v.snap.NewIterator(
			engine.BytesPrefix(addrPrefix(utxoPrefix, k))))
	}
	iter := engine.NewMergedIterator(iters, utxoOrder)
	defer iter.Release()

	var utxos []Utxo
	for iter.Next() {
		key, val := iter.Key(), iter.Value()
		if len(key) != utxoKeyLen || len(val) < 8 {
			return nil, corrupt("bad unspent output entry")
		}
		k, err := addrkey.FromBytes(key[1:])
		if err != nil {
			return nil, indexError(ErrCorruption, "bad utxo address", err)
		}
		b := key[addrPrefixLen:]
		u := Utxo{
			Key:      k,
			Height:   int32(byteOrder.Uint32(b)),
			Amount:   int64(byteOrder.Uint64(val)),
			PkScript: append([]byte(nil), val[8:]...),
		}
		copy(u.OutPoint.Hash[:], b[4:])
		u.OutPoint.Index = byteOrder.Uint32(b[4+chainhash.HashSize:])
		utxos = append(utxos, u)
	}
	if err := iter.Error(); err != nil {
		return nil, iterError(err)
	}
	return utxos, nil
}

// BlockHash returns the hash of the indexed block at height, or nil when no
// block is indexed there.
func (v *View) BlockHash(height int32) (*chainhash.Hash, error) {
	raw, err := v.get(heightKey(height))
	if err != nil || raw == nil {
		return nil, err
	}
	hash, err := chainhash.NewHash(raw)
	if err != nil {
		return nil, indexError(ErrCorruption, "bad block hash entry", err)
	}
	return hash, nil
}

// Tip returns the hash and height of the last connected block.
func (v *View) Tip() (*chainhash.Hash, int32, error) {
	raw, err := v.get(tipKey(addrIndexKey))
	if err != nil {
		return nil, 0, err
	}
	if raw == nil {
		return nil, 0, indexError(ErrIndexMissing,
			"address index tip has not been created", nil)
	}
	return deserializeTip(raw)
}

// TxIDs is a convenience wrapper running View.TxIDs on a fresh view.
func (idx *AddrIndex) TxIDs(keys []addrkey.Key, start, end int32) ([]chainhash.Hash, error) {
	var txids []chainhash.Hash
	err := idx.View(func(v *View) error {
		var err error
		txids, err = v.TxIDs(keys, start, end)
		return err
	})
	return txids, err
}

// Deltas is a convenience wrapper running View.Deltas on a fresh view.
func (idx *AddrIndex) Deltas(keys []addrkey.Key, start, end int32) ([]Delta, error) {
	var deltas []Delta
	err := idx.View(func(v *View) error {
		var err error
		deltas, err = v.Deltas(keys, start, end)
		return err
	})
	return deltas, err
}

// Balance is a convenience wrapper running View.Balance on a fresh view.
func (idx *AddrIndex) Balance(keys []addrkey.Key) (*Balance, error) {
	var bal *Balance
	err := idx.View(func(v *View) error {
		var err error
		bal, err = v.Balance(keys)
		return err
	})
	return bal, err
}

// Utxos is a convenience wrapper running View.Utxos on a fresh view.
func (idx *AddrIndex) Utxos(keys []addrkey.Key) ([]Utxo, error) {
	var utxos []Utxo
	err := idx.View(func(v *View) error {
		var err error
		utxos, err = v.Utxos(keys)
		return err
	})
	return utxos, err
}
