// Copyright (c) 2026 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package indexers

import (
	"encoding/binary"
	"fmt"

	"github.com/btcsuite/addrindexd/addrkey"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// -----------------------------------------------------------------------------
// The address index lives in a single ordered keyspace.  Every key starts
// with a one byte prefix naming its record type.  Integers in keys are big
// endian so that byte order matches numeric order and a prefix scan over an
// address yields its history chronologically.
//
// Delta entries, one per output paid to or input spending from an address:
//
//   'a' <address key><height><tx position><index><spending>
//
//   Field           Type             Size
//   address key     addrkey.Key      33 bytes
//   height          uint32           4 bytes
//   tx position     uint32           4 bytes
//   index           uint32           4 bytes (output or input index)
//   spending        byte             1 byte (0 receipt, 1 spend)
//
//   The value is <txid><satoshis> followed, for a receipt, by a spend marker
//   flag and when set <spending txid><input index><spending height>.  A
//   spend carries the outpoint it consumed: <prev txid><prev index>.
//
// Unspent outputs:
//
//   'u' <address key><height><txid><output index> -> <satoshis><pkscript>
//
// Outpoint records for every indexed output, spent or not:
//
//   'o' <txid><output index> ->
//       <address key><height><tx position><satoshis><pkscript>
//
// Running balances, removed when the entry count reaches zero:
//
//   'b' <address key> -> <balance><received><entries>
//
// Block hashes by height, and the index tip:
//
//   'h' <height> -> <block hash>
//   't' <index name> -> <block hash><height>
// -----------------------------------------------------------------------------

const (
	deltaPrefix    = 'a'
	utxoPrefix     = 'u'
	outpointPrefix = 'o'
	balancePrefix  = 'b'
	heightPrefix   = 'h'
	tipPrefix      = 't'
	dropPrefix     = 'd'
)

// keyPrefixes lists every record prefix owned by the address index.
var keyPrefixes = []byte{deltaPrefix, utxoPrefix, outpointPrefix,
	balancePrefix, heightPrefix}

// byteOrder is the preferred byte order used for serializing numeric fields
// for storage in the database.
var byteOrder = binary.BigEndian

const (
	addrPrefixLen = 1 + addrkey.SerializeSize

	deltaKeyLen    = addrPrefixLen + 4 + 4 + 4 + 1
	utxoKeyLen     = addrPrefixLen + 4 + chainhash.HashSize + 4
	outpointKeyLen = 1 + chainhash.HashSize + 4

	// deltaOrderOffset and deltaOrderLen delimit the height and tx
	// position inside a delta key, the chronological order of a delta.
	deltaOrderOffset = addrPrefixLen
	deltaOrderLen    = 8
)

func addrPrefix(prefix byte, k addrkey.Key) []byte {
	key := make([]byte, addrPrefixLen, deltaKeyLen)
	key[0] = prefix
	kb := k.Bytes()
	copy(key[1:], kb[:])
	return key
}

func deltaKey(k addrkey.Key, height int32, txPos, index uint32, spending bool) []byte {
	key := addrPrefix(deltaPrefix, k)
	key = byteOrder.AppendUint32(key, uint32(height))
	key = byteOrder.AppendUint32(key, txPos)
	key = byteOrder.AppendUint32(key, index)
	if spending {
		return append(key, 1)
	}
	return append(key, 0)
}

// deltaHeightKey returns the first delta key of k at height.
func deltaHeightKey(k addrkey.Key, height int32) []byte {
	return byteOrder.AppendUint32(addrPrefix(deltaPrefix, k), uint32(height))
}

func utxoKey(k addrkey.Key, height int32, op *wire.OutPoint) []byte {
	key := addrPrefix(utxoPrefix, k)
	key = byteOrder.AppendUint32(key, uint32(height))
	key = append(key, op.Hash[:]...)
	return byteOrder.AppendUint32(key, op.Index)
}

func outpointKey(op *wire.OutPoint) []byte {
	key := make([]byte, 1, outpointKeyLen)
	key[0] = outpointPrefix
	key = append(key, op.Hash[:]...)
	return byteOrder.AppendUint32(key, op.Index)
}

func balanceKey(k addrkey.Key) []byte {
	return addrPrefix(balancePrefix, k)
}

func heightKey(height int32) []byte {
	return byteOrder.AppendUint32([]byte{heightPrefix}, uint32(height))
}

func tipKey(name string) []byte {
	return append([]byte{tipPrefix}, name...)
}

func dropKey(name string) []byte {
	return append([]byte{dropPrefix}, name...)
}

// SpendRef identifies the input which spent an indexed output.
type SpendRef struct {
	TxHash chainhash.Hash
	Index  uint32
	Height int32
}

// deltaValue is the deserialized value of a delta entry.
type deltaValue struct {
	txHash  chainhash.Hash
	amount  int64
	spentBy *SpendRef      // receipts only
	prevOut *wire.OutPoint // spends only
}

func corrupt(format string, args ...interface{}) error {
	return indexError(ErrCorruption, fmt.Sprintf(format, args...), nil)
}

func serializeDeltaValue(v *deltaValue, spending bool) []byte {
	buf := make([]byte, 0, chainhash.HashSize+8+1+chainhash.HashSize+8)
	buf = append(buf, v.txHash[:]...)
	buf = byteOrder.AppendUint64(buf, uint64(v.amount))
	if spending {
		buf = append(buf, v.prevOut.Hash[:]...)
		return byteOrder.AppendUint32(buf, v.prevOut.Index)
	}
	if v.spentBy == nil {
		return append(buf, 0)
	}
	buf = append(buf, 1)
	buf = append(buf, v.spentBy.TxHash[:]...)
	buf = byteOrder.AppendUint32(buf, v.spentBy.Index)
	return byteOrder.AppendUint32(buf, uint32(v.spentBy.Height))
}

func deserializeDeltaValue(b []byte, spending bool) (*deltaValue, error) {
	const head = chainhash.HashSize + 8
	if len(b) < head+1 {
		return nil, corrupt("unexpected end of data for delta entry")
	}

	var v deltaValue
	copy(v.txHash[:], b)
	v.amount = int64(byteOrder.Uint64(b[chainhash.HashSize:]))
	b = b[head:]

	if spending {
		if len(b) != chainhash.HashSize+4 {
			return nil, corrupt("bad spend entry length %d", len(b))
		}
		v.prevOut = &wire.OutPoint{Index: byteOrder.Uint32(b[chainhash.HashSize:])}
		copy(v.prevOut.Hash[:], b)
		return &v, nil
	}

	switch {
	case b[0] == 0 && len(b) == 1:
	case b[0] == 1 && len(b) == 1+chainhash.HashSize+8:
		b = b[1:]
		v.spentBy = &SpendRef{
			Index:  byteOrder.Uint32(b[chainhash.HashSize:]),
			Height: int32(byteOrder.Uint32(b[chainhash.HashSize+4:])),
		}
		copy(v.spentBy.TxHash[:], b)
	default:
		return nil, corrupt("bad spend marker in receipt entry")
	}
	return &v, nil
}

// outpointEntry is the location and content of an indexed output.
type outpointEntry struct {
	key      addrkey.Key
	height   int32
	txPos    uint32
	amount   int64
	pkScript []byte
}

func serializeOutpointEntry(e *outpointEntry) []byte {
	kb := e.key.Bytes()
	buf := make([]byte, 0, len(kb)+16+len(e.pkScript))
	buf = append(buf, kb[:]...)
	buf = byteOrder.AppendUint32(buf, uint32(e.height))
	buf = byteOrder.AppendUint32(buf, e.txPos)
	buf = byteOrder.AppendUint64(buf, uint64(e.amount))
	return append(buf, e.pkScript...)
}

func deserializeOutpointEntry(b []byte) (*outpointEntry, error) {
	if len(b) < addrkey.SerializeSize+16 {
		return nil, corrupt("unexpected end of data for outpoint entry")
	}
	k, err := addrkey.FromBytes(b)
	if err != nil {
		return nil, indexError(ErrCorruption, "bad outpoint address", err)
	}
	b = b[addrkey.SerializeSize:]
	return &outpointEntry{
		key:      k,
		height:   int32(byteOrder.Uint32(b)),
		txPos:    byteOrder.Uint32(b[4:]),
		amount:   int64(byteOrder.Uint64(b[8:])),
		pkScript: append([]byte(nil), b[16:]...),
	}, nil
}

func serializeUtxoValue(amount int64, pkScript []byte) []byte {
	buf := make([]byte, 0, 8+len(pkScript))
	buf = byteOrder.AppendUint64(buf, uint64(amount))
	return append(buf, pkScript...)
}

// balanceEntry is the running total of an address.
type balanceEntry struct {
	balance  int64
	received int64
	entries  uint64
}

func serializeBalance(b *balanceEntry) []byte {
	buf := make([]byte, 0, 24)
	buf = byteOrder.AppendUint64(buf, uint64(b.balance))
	buf = byteOrder.AppendUint64(buf, uint64(b.received))
	return byteOrder.AppendUint64(buf, b.entries)
}

func deserializeBalance(b []byte) (*balanceEntry, error) {
	if len(b) != 24 {
		return nil, corrupt("bad balance entry length %d", len(b))
	}
	return &balanceEntry{
		balance:  int64(byteOrder.Uint64(b)),
		received: int64(byteOrder.Uint64(b[8:])),
		entries:  byteOrder.Uint64(b[16:]),
	}, nil
}

func serializeTip(hash *chainhash.Hash, height int32) []byte {
	buf := make([]byte, 0, chainhash.HashSize+4)
	buf = append(buf, hash[:]...)
	return byteOrder.AppendUint32(buf, uint32(height))
}

func deserializeTip(b []byte) (*chainhash.Hash, int32, error) {
	if len(b) != chainhash.HashSize+4 {
		return nil, 0, corrupt("unexpected end of data for index tip")
	}
	var hash chainhash.Hash
	copy(hash[:], b)
	return &hash, int32(byteOrder.Uint32(b[chainhash.HashSize:])), nil
}
