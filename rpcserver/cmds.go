// Copyright (c) 2026 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package rpcserver

import (
	"encoding/json"

	"github.com/btcsuite/btcd/btcjson"
)

// AddressRequest is the parameter of the address index commands.  On the
// wire it is either a single address string or an object naming several
// addresses along with optional query settings.
type AddressRequest struct {
	Addresses []string `json:"addresses"`
	Start     int32    `json:"start,omitempty"`
	End       int32    `json:"end,omitempty"`
	ChainInfo bool     `json:"chainInfo,omitempty"`
}

// UnmarshalJSON accepts both forms of an AddressRequest.
func (r *AddressRequest) UnmarshalJSON(b []byte) error {
	var single string
	if err := json.Unmarshal(b, &single); err == nil {
		*r = AddressRequest{Addresses: []string{single}}
		return nil
	}

	// The alias drops the UnmarshalJSON method.
	type request AddressRequest
	var req request
	if err := json.Unmarshal(b, &req); err != nil {
		return err
	}
	*r = AddressRequest(req)
	return nil
}

// GetAddressTxIDsCmd defines the getaddresstxids JSON-RPC command.
type GetAddressTxIDsCmd struct {
	Request AddressRequest
}

// NewGetAddressTxIDsCmd returns a new instance which can be used to issue a
// getaddresstxids JSON-RPC command.
func NewGetAddressTxIDsCmd(req AddressRequest) *GetAddressTxIDsCmd {
	return &GetAddressTxIDsCmd{Request: req}
}

// GetAddressBalanceCmd defines the getaddressbalance JSON-RPC command.
type GetAddressBalanceCmd struct {
	Request AddressRequest
}

// NewGetAddressBalanceCmd returns a new instance which can be used to issue a
// getaddressbalance JSON-RPC command.
func NewGetAddressBalanceCmd(req AddressRequest) *GetAddressBalanceCmd {
	return &GetAddressBalanceCmd{Request: req}
}

// GetAddressDeltasCmd defines the getaddressdeltas JSON-RPC command.
type GetAddressDeltasCmd struct {
	Request AddressRequest
}

// NewGetAddressDeltasCmd returns a new instance which can be used to issue a
// getaddressdeltas JSON-RPC command.
func NewGetAddressDeltasCmd(req AddressRequest) *GetAddressDeltasCmd {
	return &GetAddressDeltasCmd{Request: req}
}

// GetAddressUtxosCmd defines the getaddressutxos JSON-RPC command.
type GetAddressUtxosCmd struct {
	Request AddressRequest
}

// NewGetAddressUtxosCmd returns a new instance which can be used to issue a
// getaddressutxos JSON-RPC command.
func NewGetAddressUtxosCmd(req AddressRequest) *GetAddressUtxosCmd {
	return &GetAddressUtxosCmd{Request: req}
}

// GetAddressMempoolCmd defines the getaddressmempool JSON-RPC command.
type GetAddressMempoolCmd struct {
	Request AddressRequest
}

// NewGetAddressMempoolCmd returns a new instance which can be used to issue a
// getaddressmempool JSON-RPC command.
func NewGetAddressMempoolCmd(req AddressRequest) *GetAddressMempoolCmd {
	return &GetAddressMempoolCmd{Request: req}
}

func init() {
	// No special flags for commands in this file.
	flags := btcjson.UsageFlag(0)

	btcjson.MustRegisterCmd("getaddresstxids", (*GetAddressTxIDsCmd)(nil), flags)
	btcjson.MustRegisterCmd("getaddressbalance", (*GetAddressBalanceCmd)(nil), flags)
	btcjson.MustRegisterCmd("getaddressdeltas", (*GetAddressDeltasCmd)(nil), flags)
	btcjson.MustRegisterCmd("getaddressutxos", (*GetAddressUtxosCmd)(nil), flags)
	btcjson.MustRegisterCmd("getaddressmempool", (*GetAddressMempoolCmd)(nil), flags)
}
