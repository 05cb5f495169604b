// Copyright (c) 2026 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package rpcserver

import (
	"encoding/json"
	"testing"

	"github.com/btcsuite/btcd/btcjson"
	"github.com/stretchr/testify/require"
)

func TestAddressRequestUnmarshal(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    AddressRequest
		wantErr bool
	}{{
		name: "single address",
		in:   `"mhfJsQNnrXB3uuYZqvywARTDfuvyjg4RBh"`,
		want: AddressRequest{
			Addresses: []string{"mhfJsQNnrXB3uuYZqvywARTDfuvyjg4RBh"},
		},
	}, {
		name: "object",
		in: `{"addresses":["a","b"],"start":2,"end":9,` +
			`"chainInfo":true}`,
		want: AddressRequest{
			Addresses: []string{"a", "b"},
			Start:     2,
			End:       9,
			ChainInfo: true,
		},
	}, {
		name:    "number",
		in:      `5`,
		wantErr: true,
	}}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			var got AddressRequest
			err := json.Unmarshal([]byte(test.in), &got)
			if test.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, test.want, got)
		})
	}
}

// TestAddressCmds ensures the address commands marshal and unmarshal
// through btcjson.
func TestAddressCmds(t *testing.T) {
	tests := []struct {
		method string
		cmd    interface{}
	}{
		{"getaddresstxids", NewGetAddressTxIDsCmd(AddressRequest{Addresses: []string{"a"}})},
		{"getaddressbalance", NewGetAddressBalanceCmd(AddressRequest{Addresses: []string{"a"}})},
		{"getaddressdeltas", NewGetAddressDeltasCmd(AddressRequest{Addresses: []string{"a"}, Start: 1, End: 2})},
		{"getaddressutxos", NewGetAddressUtxosCmd(AddressRequest{Addresses: []string{"a"}, ChainInfo: true})},
		{"getaddressmempool", NewGetAddressMempoolCmd(AddressRequest{Addresses: []string{"a", "b"}})},
	}

	for _, test := range tests {
		t.Run(test.method, func(t *testing.T) {
			marshalled, err := btcjson.MarshalCmd(btcjson.RpcVersion1, 1,
				test.cmd)
			require.NoError(t, err)

			var request btcjson.Request
			require.NoError(t, json.Unmarshal(marshalled, &request))
			require.Equal(t, test.method, request.Method)

			cmd, err := btcjson.UnmarshalCmd(&request)
			require.NoError(t, err)
			require.Equal(t, test.cmd, cmd)
		})
	}
}
