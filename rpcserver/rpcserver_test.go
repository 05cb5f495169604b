// Copyright (c) 2026 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package rpcserver

import (
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/btcsuite/addrindexd/database/engine/leveldb"
	"github.com/btcsuite/addrindexd/indexers"
	"github.com/btcsuite/addrindexd/query"
	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"
)

var testParams = &chaincfg.RegressionNetParams

const (
	testUser = "user"
	testPass = "pass"
)

// testChain is an address index with a few blocks paying two addresses.
type testChain struct {
	idx    *indexers.AddrIndex
	mgr    *indexers.Manager
	addrA  string
	addrB  string
	cbs    []*wire.MsgTx
	blocks []*btcutil.Block
}

func testAddress(t *testing.T, seed byte) (string, []byte) {
	t.Helper()

	addr, err := btcutil.NewAddressPubKeyHash(btcutil.Hash160([]byte{seed}),
		testParams)
	require.NoError(t, err)
	script, err := txscript.PayToAddrScript(addr)
	require.NoError(t, err)
	return addr.EncodeAddress(), script
}

func newTestChain(t *testing.T) *testChain {
	t.Helper()

	db, err := leveldb.NewDB(filepath.Join(t.TempDir(), "addrindex"), true)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	idx := indexers.New(&indexers.Config{DB: db, ChainParams: testParams})
	mgr := indexers.NewManager(db, idx, testParams)
	require.NoError(t, mgr.Init(nil))

	c := &testChain{idx: idx, mgr: mgr}
	var scriptA, scriptB []byte
	c.addrA, scriptA = testAddress(t, 'A')
	c.addrB, scriptB = testAddress(t, 'B')

	prev := testParams.GenesisBlock.BlockHash()
	for i, script := range [][]byte{scriptA, scriptB, scriptA} {
		cb := wire.NewMsgTx(wire.TxVersion)
		cb.AddTxIn(wire.NewTxIn(
			wire.NewOutPoint(&chainhash.Hash{}, math.MaxUint32),
			binary.LittleEndian.AppendUint32(nil, uint32(i+1)), nil,
		))
		cb.AddTxOut(wire.NewTxOut(int64(10*(i+1)), script))

		msgBlock := wire.NewMsgBlock(&wire.BlockHeader{PrevBlock: prev})
		msgBlock.AddTransaction(cb)
		block := btcutil.NewBlock(msgBlock)
		require.NoError(t, mgr.ConnectBlock(block))

		prev = *block.Hash()
		c.cbs = append(c.cbs, cb)
		c.blocks = append(c.blocks, block)
	}
	return c
}

func newTestServer(t *testing.T, idx *indexers.AddrIndex) (*Server, *httptest.Server) {
	t.Helper()

	s, err := New(&Config{
		Query: query.New(&query.Config{
			Index:       idx,
			ChainParams: testParams,
		}),
		ChainParams: testParams,
		RPCUser:     testUser,
		RPCPass:     testPass,
	})
	require.NoError(t, err)

	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return s, ts
}

// post sends body to the server and returns the status and reply.
func post(t *testing.T, url, body string, auth bool) (int, []byte) {
	t.Helper()

	req, err := http.NewRequest(http.MethodPost, url, strings.NewReader(body))
	require.NoError(t, err)
	if auth {
		req.SetBasicAuth(testUser, testPass)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	reply, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, reply
}

// call issues a single command and decodes its reply.
func call(t *testing.T, url string, cmd interface{}) *btcjson.Response {
	t.Helper()

	body, err := btcjson.MarshalCmd(btcjson.RpcVersion1, 1, cmd)
	require.NoError(t, err)
	status, reply := post(t, url, string(body), true)
	require.Equal(t, http.StatusOK, status)

	var resp btcjson.Response
	require.NoError(t, json.Unmarshal(reply, &resp), string(reply))
	return &resp
}

func TestNewRequiresCredentials(t *testing.T) {
	_, err := New(&Config{RPCUser: testUser})
	require.ErrorIs(t, err, ErrNoCredentials)
}

func TestAuth(t *testing.T) {
	_, ts := newTestServer(t, nil)

	status, _ := post(t, ts.URL, `{"method":"getblockcount","params":[],"id":1}`,
		false)
	require.Equal(t, http.StatusUnauthorized, status)

	req, err := http.NewRequest(http.MethodPost, ts.URL,
		strings.NewReader(`{}`))
	require.NoError(t, err)
	req.SetBasicAuth(testUser, "wrong")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestLimitConnections(t *testing.T) {
	s, _ := newTestServer(t, nil)
	s.cfg.MaxClients = 1
	s.incrementClients()
	defer s.decrementClients()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{}`))
	s.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestAddressCommands(t *testing.T) {
	c := newTestChain(t)
	_, ts := newTestServer(t, c.idx)

	t.Run("txids", func(t *testing.T) {
		resp := call(t, ts.URL, NewGetAddressTxIDsCmd(AddressRequest{
			Addresses: []string{c.addrA, c.addrB},
		}))
		require.Nil(t, resp.Error)

		var txids []string
		require.NoError(t, json.Unmarshal(resp.Result, &txids))
		require.Equal(t, []string{c.cbs[0].TxHash().String(),
			c.cbs[1].TxHash().String(), c.cbs[2].TxHash().String()},
			txids)
	})

	t.Run("balance", func(t *testing.T) {
		resp := call(t, ts.URL, NewGetAddressBalanceCmd(AddressRequest{
			Addresses: []string{c.addrA},
		}))
		require.Nil(t, resp.Error)

		var bal AddressBalanceResult
		require.NoError(t, json.Unmarshal(resp.Result, &bal))
		require.Equal(t, AddressBalanceResult{Balance: 40, Received: 40},
			bal)
	})

	t.Run("deltas with chain info", func(t *testing.T) {
		resp := call(t, ts.URL, NewGetAddressDeltasCmd(AddressRequest{
			Addresses: []string{c.addrA},
			Start:     1,
			End:       3,
			ChainInfo: true,
		}))
		require.Nil(t, resp.Error)

		var res AddressDeltasResult
		require.NoError(t, json.Unmarshal(resp.Result, &res))
		require.Len(t, res.Deltas, 2)
		require.Equal(t, c.addrA, res.Deltas[0].Address)
		require.Equal(t, int64(10), res.Deltas[0].Satoshis)
		require.Equal(t, int32(3), res.Deltas[1].Height)
		require.Equal(t, BlockRef{Hash: c.blocks[0].Hash().String(),
			Height: 1}, res.Start)
		require.Equal(t, BlockRef{Hash: c.blocks[2].Hash().String(),
			Height: 3}, res.End)
	})

	t.Run("utxos", func(t *testing.T) {
		resp := call(t, ts.URL, NewGetAddressUtxosCmd(AddressRequest{
			Addresses: []string{c.addrB},
		}))
		require.Nil(t, resp.Error)

		var utxos []AddressUtxo
		require.NoError(t, json.Unmarshal(resp.Result, &utxos))
		require.Len(t, utxos, 1)
		require.Equal(t, c.cbs[1].TxHash().String(), utxos[0].TxID)
		require.Equal(t, hex.EncodeToString(c.cbs[1].TxOut[0].PkScript),
			utxos[0].Script)
		require.Equal(t, int32(2), utxos[0].Height)
	})

	t.Run("mempool", func(t *testing.T) {
		tx := wire.NewMsgTx(wire.TxVersion)
		tx.AddTxIn(wire.NewTxIn(&wire.OutPoint{Hash: c.cbs[1].TxHash()},
			nil, nil))
		tx.AddTxOut(wire.NewTxOut(5, c.cbs[0].TxOut[0].PkScript))
		txHash := tx.TxHash()
		c.idx.AddUnconfirmedTx(btcutil.NewTx(tx), nil)
		defer c.idx.RemoveUnconfirmedTx(&txHash)

		resp := call(t, ts.URL, NewGetAddressMempoolCmd(AddressRequest{
			Addresses: []string{c.addrB},
		}))
		require.Nil(t, resp.Error)

		var entries []AddressMempoolEntry
		require.NoError(t, json.Unmarshal(resp.Result, &entries))
		require.Len(t, entries, 1)
		require.Equal(t, int64(-20), entries[0].Satoshis)
		require.Equal(t, c.cbs[1].TxHash().String(), entries[0].PrevTxID)
		require.NotNil(t, entries[0].PrevOut)
		require.Zero(t, *entries[0].PrevOut)
	})

	t.Run("single address string", func(t *testing.T) {
		body := `{"jsonrpc":"1.0","method":"getaddressbalance",` +
			`"params":["` + c.addrB + `"],"id":7}`
		status, reply := post(t, ts.URL, body, true)
		require.Equal(t, http.StatusOK, status)
		require.JSONEq(t, `{"jsonrpc":"1.0","result":{"balance":20,`+
			`"received":20},"error":null,"id":7}`, string(reply))
	})

	t.Run("invalid address", func(t *testing.T) {
		resp := call(t, ts.URL, NewGetAddressTxIDsCmd(AddressRequest{
			Addresses: []string{"bogus"},
		}))
		require.NotNil(t, resp.Error)
		require.Equal(t, btcjson.ErrRPCInvalidAddressOrKey, resp.Error.Code)
	})

	t.Run("chain commands", func(t *testing.T) {
		resp := call(t, ts.URL, btcjson.NewGetBlockCountCmd())
		require.Nil(t, resp.Error)
		require.JSONEq(t, `3`, string(resp.Result))

		resp = call(t, ts.URL, btcjson.NewGetBestBlockHashCmd())
		require.Nil(t, resp.Error)
		require.JSONEq(t, `"`+c.blocks[2].Hash().String()+`"`,
			string(resp.Result))

		resp = call(t, ts.URL, btcjson.NewGetBlockHashCmd(1))
		require.Nil(t, resp.Error)
		require.JSONEq(t, `"`+c.blocks[0].Hash().String()+`"`,
			string(resp.Result))

		resp = call(t, ts.URL, btcjson.NewGetBlockHashCmd(10))
		require.NotNil(t, resp.Error)
		require.Equal(t, btcjson.ErrRPCOutOfRange, resp.Error.Code)
	})
}

func TestRequestHandling(t *testing.T) {
	c := newTestChain(t)
	_, ts := newTestServer(t, c.idx)

	tests := []struct {
		name     string
		body     string
		wantCode btcjson.RPCErrorCode
	}{
		{"parse error", `{"method":`, btcjson.ErrRPCParse.Code},
		{"unknown method", `{"method":"getpeerinfo","params":[],"id":1}`,
			btcjson.ErrRPCMethodNotFound.Code},
		{"known but unserved", `{"method":"getblock","params":["00"],"id":1}`,
			btcjson.ErrRPCMethodNotFound.Code},
		{"bad params", `{"method":"getaddresstxids","params":[5],"id":1}`,
			btcjson.ErrRPCInvalidParams.Code},
		{"missing method", `{"params":[],"id":1}`,
			btcjson.ErrRPCInvalidRequest.Code},
		{"empty batch", `[]`, btcjson.ErrRPCInvalidRequest.Code},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			status, reply := post(t, ts.URL, test.body, true)
			require.Equal(t, http.StatusOK, status)

			var resp btcjson.Response
			require.NoError(t, json.Unmarshal(reply, &resp),
				string(reply))
			require.NotNil(t, resp.Error)
			require.Equal(t, test.wantCode, resp.Error.Code)
		})
	}

	t.Run("notification", func(t *testing.T) {
		status, reply := post(t, ts.URL,
			`{"method":"getblockcount","params":[]}`, true)
		require.Equal(t, http.StatusOK, status)
		require.Empty(t, reply)
	})

	t.Run("batch", func(t *testing.T) {
		status, reply := post(t, ts.URL, `[`+
			`{"jsonrpc":"2.0","method":"getblockcount","params":[],"id":1},`+
			`{"jsonrpc":"2.0","method":"getblockcount","params":[]},`+
			`{"jsonrpc":"2.0","method":"getbestblockhash","params":[],"id":2}]`,
			true)
		require.Equal(t, http.StatusOK, status)

		var resps []btcjson.Response
		require.NoError(t, json.Unmarshal(reply, &resps), string(reply))
		require.Len(t, resps, 2)
		require.JSONEq(t, `3`, string(resps[0].Result))
		require.JSONEq(t, `"`+c.blocks[2].Hash().String()+`"`,
			string(resps[1].Result))
	})
}

func TestIndexDisabled(t *testing.T) {
	_, ts := newTestServer(t, nil)
	addr, _ := testAddress(t, 'A')

	resp := call(t, ts.URL, NewGetAddressBalanceCmd(AddressRequest{
		Addresses: []string{addr},
	}))
	require.Equal(t, ErrRPCNoAddrIndex, resp.Error)

	// A disabled index is reported before the addresses are looked at.
	for _, addrs := range [][]string{{"not-an-address"}, {}} {
		resp = call(t, ts.URL, NewGetAddressTxIDsCmd(AddressRequest{
			Addresses: addrs,
		}))
		require.Equal(t, ErrRPCNoAddrIndex, resp.Error)
	}

	resp = call(t, ts.URL, btcjson.NewGetBlockCountCmd())
	require.Equal(t, ErrRPCNoAddrIndex, resp.Error)
}

func TestMetricsEndpoint(t *testing.T) {
	c := newTestChain(t)
	_, ts := newTestServer(t, c.idx)

	resp, err := http.Get(ts.URL + metricsEndpoint)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Contains(t, string(body), "addrindex_blocks_connected")
}
