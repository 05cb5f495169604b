// Copyright (c) 2026 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package rpcserver

// AddressBalanceResult models the data from the getaddressbalance command.
type AddressBalanceResult struct {
	Balance  int64 `json:"balance"`
	Received int64 `json:"received"`
}

// AddressDelta models a single entry returned by getaddressdeltas.
type AddressDelta struct {
	Satoshis   int64  `json:"satoshis"`
	TxID       string `json:"txid"`
	Index      uint32 `json:"index"`
	BlockIndex uint32 `json:"blockindex"`
	Height     int32  `json:"height"`
	Address    string `json:"address"`
}

// BlockRef identifies a block in a chain info result.
type BlockRef struct {
	Hash   string `json:"hash"`
	Height int32  `json:"height"`
}

// AddressDeltasResult models the data from the getaddressdeltas command when
// chain info is requested.
type AddressDeltasResult struct {
	Deltas []AddressDelta `json:"deltas"`
	Start  BlockRef       `json:"start"`
	End    BlockRef       `json:"end"`
}

// AddressUtxo models a single entry returned by getaddressutxos.
type AddressUtxo struct {
	Address     string `json:"address"`
	TxID        string `json:"txid"`
	OutputIndex uint32 `json:"outputIndex"`
	Script      string `json:"script"`
	Satoshis    int64  `json:"satoshis"`
	Height      int32  `json:"height"`
}

// AddressUtxosResult models the data from the getaddressutxos command when
// chain info is requested.
type AddressUtxosResult struct {
	Utxos  []AddressUtxo `json:"utxos"`
	Hash   string        `json:"hash"`
	Height int32         `json:"height"`
}

// AddressMempoolEntry models a single entry returned by getaddressmempool.
type AddressMempoolEntry struct {
	Address   string  `json:"address"`
	TxID      string  `json:"txid"`
	Index     uint32  `json:"index"`
	Satoshis  int64   `json:"satoshis"`
	Timestamp int64   `json:"timestamp"`
	PrevTxID  string  `json:"prevtxid,omitempty"`
	PrevOut   *uint32 `json:"prevout,omitempty"`
}
