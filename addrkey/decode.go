// Copyright (c) 2026 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package addrkey

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
)

// Decode parses an address string for the given network.  Plain strings are
// decoded as native addresses; the forms "multisig:<p2sh address or 40 hex>"
// and "keyhash256:<64 hex>" select the types without a native encoding.
func Decode(addr string, params *chaincfg.Params) (Key, error) {
	if i := strings.IndexByte(addr, ':'); i >= 0 {
		var hint Type
		switch addr[:i] {
		case multisigPrefix:
			hint = TypeMultisigScriptHash
		case keyHash256Prefix:
			hint = TypeKeyHash256
		default:
			return Key{}, fmt.Errorf("%w: unknown address form %q",
				ErrMalformedAddress, addr[:i])
		}
		return DecodeWithHint(addr[i+1:], hint, params)
	}

	decoded, err := btcutil.DecodeAddress(addr, params)
	if err != nil {
		return Key{}, fmt.Errorf("%w: %v", ErrMalformedAddress, err)
	}
	if !decoded.IsForNet(params) {
		return Key{}, fmt.Errorf("%w: address %s is not for %s",
			ErrMalformedAddress, addr, params.Name)
	}
	return FromAddress(decoded)
}

// DecodeWithHint parses addr as an address of the given type.  It is used
// when the caller already knows what kind of script it is looking for.
func DecodeWithHint(addr string, hint Type, params *chaincfg.Params) (Key, error) {
	switch hint {
	case TypeKeyHash256:
		return decodeHex(addr, hint)

	case TypeMultisigScriptHash:
		if len(addr) == 2*hint.HashSize() {
			if k, err := decodeHex(addr, hint); err == nil {
				return k, nil
			}
		}
		decoded, err := btcutil.DecodeAddress(addr, params)
		if err != nil {
			return Key{}, fmt.Errorf("%w: %v", ErrMalformedAddress, err)
		}
		sh, ok := decoded.(*btcutil.AddressScriptHash)
		if !ok || !sh.IsForNet(params) {
			return Key{}, fmt.Errorf("%w: %s is not a script hash "+
				"address", ErrMalformedAddress, addr)
		}
		return mustNew(hint, sh.Hash160()[:]), nil
	}

	k, err := Decode(addr, params)
	if err != nil {
		return Key{}, err
	}
	if k.typ != hint {
		return Key{}, fmt.Errorf("%w: %s is %v, want %v",
			ErrMalformedAddress, addr, k.typ, hint)
	}
	return k, nil
}

func decodeHex(s string, typ Type) (Key, error) {
	hash, err := hex.DecodeString(s)
	if err != nil {
		return Key{}, fmt.Errorf("%w: %v", ErrMalformedAddress, err)
	}
	return New(typ, hash)
}
