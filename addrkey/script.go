// Copyright (c) 2026 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package addrkey

import (
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
)

// keyHash256ScriptLen is the length of a 256-bit key hash script:
// OP_DUP OP_SHA256 <32 byte hash> OP_EQUALVERIFY OP_CHECKSIG.
const keyHash256ScriptLen = 37

// extractKeyHash256 extracts the key hash from the passed script if it is a
// standard 256-bit key hash script.  It will return nil otherwise.
func extractKeyHash256(script []byte) []byte {
	if len(script) == keyHash256ScriptLen &&
		script[0] == txscript.OP_DUP &&
		script[1] == txscript.OP_SHA256 &&
		script[2] == txscript.OP_DATA_32 &&
		script[35] == txscript.OP_EQUALVERIFY &&
		script[36] == txscript.OP_CHECKSIG {

		return script[3:35]
	}
	return nil
}

// FromScript returns the address key a public key script pays to.  The
// second return is false for scripts the index does not track: pay-to-pubkey,
// null data, unknown witness versions and non-standard scripts.
//
// Bare multisig scripts are keyed by the hash160 of the script, which is the
// identity of the equivalent pay-to-script-hash address.
func FromScript(pkScript []byte, params *chaincfg.Params) (Key, bool) {
	if hash := extractKeyHash256(pkScript); hash != nil {
		return mustNew(TypeKeyHash256, hash), true
	}

	class, addrs, _, err := txscript.ExtractPkScriptAddrs(pkScript, params)
	if err != nil {
		return Key{}, false
	}

	switch class {
	case txscript.PubKeyHashTy, txscript.ScriptHashTy,
		txscript.WitnessV0PubKeyHashTy, txscript.WitnessV0ScriptHashTy,
		txscript.WitnessV1TaprootTy:

		if len(addrs) != 1 {
			return Key{}, false
		}
		k, err := FromAddress(addrs[0])
		if err != nil {
			return Key{}, false
		}
		return k, true

	case txscript.MultiSigTy:
		return mustNew(TypeMultisigScriptHash, btcutil.Hash160(pkScript)), true
	}

	return Key{}, false
}

// FromAddress returns the key of a decoded address.
func FromAddress(addr btcutil.Address) (Key, error) {
	switch a := addr.(type) {
	case *btcutil.AddressPubKeyHash:
		return mustNew(TypePubKeyHash, a.Hash160()[:]), nil
	case *btcutil.AddressScriptHash:
		return mustNew(TypeScriptHash, a.Hash160()[:]), nil
	case *btcutil.AddressWitnessPubKeyHash:
		return mustNew(TypeWitnessV0KeyHash, a.Hash160()[:]), nil
	case *btcutil.AddressWitnessScriptHash:
		return mustNew(TypeWitnessV0ScriptHash, a.WitnessProgram()), nil
	case *btcutil.AddressTaproot:
		return mustNew(TypeWitnessV1Taproot, a.WitnessProgram()), nil
	}
	return Key{}, ErrUnsupportedAddress
}
