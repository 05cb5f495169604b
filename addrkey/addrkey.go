// Copyright (c) 2026 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package addrkey

import (
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
)

var (
	// ErrMalformedAddress describes an address string which could not be
	// decoded as any known address form.
	ErrMalformedAddress = errors.New("malformed address")

	// ErrUnsupportedAddress describes an address which decodes correctly
	// but has a type the index does not track, such as pay-to-pubkey.
	ErrUnsupportedAddress = errors.New("address type is not supported " +
		"by the address index")
)

// Type identifies the kind of script an address key commits to.  The numeric
// values are stored in database keys and must never change.
type Type uint8

const (
	TypeUnknown Type = iota
	TypePubKeyHash
	TypeScriptHash
	TypeKeyHash256
	TypeWitnessV0KeyHash
	TypeWitnessV0ScriptHash
	TypeWitnessV1Taproot
	TypeMultisigScriptHash

	numTypes
)

// Map of types back to their constant names for pretty printing.
var typeStrings = map[Type]string{
	TypeUnknown:             "TypeUnknown",
	TypePubKeyHash:          "TypePubKeyHash",
	TypeScriptHash:          "TypeScriptHash",
	TypeKeyHash256:          "TypeKeyHash256",
	TypeWitnessV0KeyHash:    "TypeWitnessV0KeyHash",
	TypeWitnessV0ScriptHash: "TypeWitnessV0ScriptHash",
	TypeWitnessV1Taproot:    "TypeWitnessV1Taproot",
	TypeMultisigScriptHash:  "TypeMultisigScriptHash",
}

// String returns the Type as a human-readable name.
func (t Type) String() string {
	if s := typeStrings[t]; s != "" {
		return s
	}
	return fmt.Sprintf("Unknown Type (%d)", uint8(t))
}

// HashSize returns the length of the payload carried by keys of this type,
// or zero for an unknown type.
func (t Type) HashSize() int {
	switch t {
	case TypePubKeyHash, TypeScriptHash, TypeWitnessV0KeyHash,
		TypeMultisigScriptHash:
		return 20
	case TypeKeyHash256, TypeWitnessV0ScriptHash, TypeWitnessV1Taproot:
		return 32
	}
	return 0
}

// Prefixes of the explicit string forms for types without a native address
// encoding.
const (
	multisigPrefix   = "multisig"
	keyHash256Prefix = "keyhash256"
)

const (
	// MaxHashSize is the size of the payload area of a key.
	MaxHashSize = 32

	// SerializeSize is the number of bytes of a serialized key: one type
	// byte followed by the zero padded payload.
	SerializeSize = 1 + MaxHashSize
)

// Key is the canonical identity of an indexed address.  Keys are comparable
// and may be used as map keys.  The zero Key is invalid.
type Key struct {
	typ  Type
	hash [MaxHashSize]byte
}

// New returns a key of the given type over hash.  The hash length must match
// the type.
func New(typ Type, hash []byte) (Key, error) {
	size := typ.HashSize()
	if size == 0 {
		return Key{}, fmt.Errorf("%w: unknown address type %d",
			ErrUnsupportedAddress, uint8(typ))
	}
	if len(hash) != size {
		return Key{}, fmt.Errorf("%w: %v requires a %d byte hash, got %d",
			ErrMalformedAddress, typ, size, len(hash))
	}
	k := Key{typ: typ}
	copy(k.hash[:], hash)
	return k, nil
}

func mustNew(typ Type, hash []byte) Key {
	k, err := New(typ, hash)
	if err != nil {
		panic(err)
	}
	return k
}

// Type returns the key's address type.
func (k Key) Type() Type {
	return k.typ
}

// Hash returns a copy of the meaningful part of the payload.
func (k Key) Hash() []byte {
	h := make([]byte, k.typ.HashSize())
	copy(h, k.hash[:])
	return h
}

// IsValid reports whether the key names a known address type.
func (k Key) IsValid() bool {
	return k.typ > TypeUnknown && k.typ < numTypes
}

// Bytes returns the fixed size serialization used inside database keys.
func (k Key) Bytes() [SerializeSize]byte {
	var b [SerializeSize]byte
	b[0] = byte(k.typ)
	copy(b[1:], k.hash[:])
	return b
}

// FromBytes parses a key serialized with Bytes.
func FromBytes(b []byte) (Key, error) {
	if len(b) < SerializeSize {
		return Key{}, fmt.Errorf("%w: serialized key is %d bytes, want %d",
			ErrMalformedAddress, len(b), SerializeSize)
	}
	typ := Type(b[0])
	size := typ.HashSize()
	if size == 0 {
		return Key{}, fmt.Errorf("%w: unknown address type %d",
			ErrMalformedAddress, b[0])
	}
	for _, pad := range b[1+size : SerializeSize] {
		if pad != 0 {
			return Key{}, fmt.Errorf("%w: non-zero key padding",
				ErrMalformedAddress)
		}
	}
	return mustNew(typ, b[1:1+size]), nil
}

// String returns a network independent representation for logging.
func (k Key) String() string {
	return fmt.Sprintf("%v:%x", k.typ, k.hash[:k.typ.HashSize()])
}

// Encode returns the canonical address string for the key on the given
// network.  Decode(k.Encode(params), params) returns k.
func (k Key) Encode(params *chaincfg.Params) string {
	hash := k.hash[:k.typ.HashSize()]

	var (
		addr btcutil.Address
		err  error
	)
	switch k.typ {
	case TypePubKeyHash:
		addr, err = btcutil.NewAddressPubKeyHash(hash, params)
	case TypeScriptHash:
		addr, err = btcutil.NewAddressScriptHashFromHash(hash, params)
	case TypeWitnessV0KeyHash:
		addr, err = btcutil.NewAddressWitnessPubKeyHash(hash, params)
	case TypeWitnessV0ScriptHash:
		addr, err = btcutil.NewAddressWitnessScriptHash(hash, params)
	case TypeWitnessV1Taproot:
		addr, err = btcutil.NewAddressTaproot(hash, params)
	case TypeMultisigScriptHash:
		addr, err = btcutil.NewAddressScriptHashFromHash(hash, params)
		if err == nil {
			return multisigPrefix + ":" + addr.EncodeAddress()
		}
	case TypeKeyHash256:
		return keyHash256Prefix + ":" + hex.EncodeToString(hash)
	default:
		return k.String()
	}
	if err != nil {
		return k.String()
	}
	return addr.EncodeAddress()
}
