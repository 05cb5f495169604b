// Copyright (c) 2026 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package rpcserver

import (
	"encoding/hex"
	"errors"
	"math"

	"github.com/btcsuite/addrindexd/addrkey"
	"github.com/btcsuite/addrindexd/query"
	"github.com/btcsuite/btcd/btcjson"
)

type commandHandler func(*Server, interface{}, <-chan struct{}) (interface{}, error)

// rpcHandlers maps RPC command strings to appropriate handler functions.
var rpcHandlers = map[string]commandHandler{
	"getaddressbalance": handleGetAddressBalance,
	"getaddressdeltas":  handleGetAddressDeltas,
	"getaddressmempool": handleGetAddressMempool,
	"getaddresstxids":   handleGetAddressTxIDs,
	"getaddressutxos":   handleGetAddressUtxos,
	"getbestblockhash":  handleGetBestBlockHash,
	"getblockcount":     handleGetBlockCount,
	"getblockhash":      handleGetBlockHash,
}

var (
	// ErrRPCNoAddrIndex is returned to RPC clients when a query needs the
	// address index and it is not enabled.
	ErrRPCNoAddrIndex = &btcjson.RPCError{
		Code:    btcjson.ErrRPCMisc,
		Message: "Address index not enabled",
	}
)

// internalRPCError is a convenience function to convert an internal error to
// an RPC error with the appropriate code set.  It also logs the error to the
// RPC server subsystem since internal errors really should not occur.  The
// context parameter is only used in the log message and may be empty if it's
// not needed.
func internalRPCError(errStr, context string) *btcjson.RPCError {
	logStr := errStr
	if context != "" {
		logStr = context + ": " + errStr
	}
	log.Error(logStr)
	return btcjson.NewRPCError(btcjson.ErrRPCInternal.Code, errStr)
}

// queryError converts an error returned by the query service to the RPC
// error reported to the client.
func queryError(err error, context string) *btcjson.RPCError {
	var addrErr *query.AddressError
	switch {
	case errors.Is(err, query.ErrIndexDisabled):
		return ErrRPCNoAddrIndex

	case errors.Is(err, query.ErrNoAddresses):
		return btcjson.NewRPCError(btcjson.ErrRPCInvalidAddressOrKey,
			"No addresses provided")

	case errors.As(err, &addrErr):
		return btcjson.NewRPCError(btcjson.ErrRPCInvalidAddressOrKey,
			"Invalid address or key: "+addrErr.Address)

	case errors.Is(err, query.ErrHeightOutOfRange):
		return btcjson.NewRPCError(btcjson.ErrRPCOutOfRange,
			"Block number out of range")
	}
	return internalRPCError(err.Error(), context)
}

// decodeAddresses decodes the addresses of a request.
func (s *Server) decodeAddresses(req *AddressRequest) ([]addrkey.Key, error) {
	keys, err := s.cfg.Query.DecodeAddresses(req.Addresses)
	if err != nil {
		return nil, queryError(err, "")
	}
	return keys, nil
}

// handleGetAddressTxIDs implements the getaddresstxids command.
func handleGetAddressTxIDs(s *Server, cmd interface{}, closeChan <-chan struct{}) (interface{}, error) {
	c := cmd.(*GetAddressTxIDsCmd)
	keys, err := s.decodeAddresses(&c.Request)
	if err != nil {
		return nil, err
	}

	txids, err := s.cfg.Query.GetAddressTxIDs(keys, c.Request.Start,
		c.Request.End)
	if err != nil {
		return nil, queryError(err, "Failed to look up transactions")
	}

	result := make([]string, 0, len(txids))
	for i := range txids {
		result = append(result, txids[i].String())
	}
	return result, nil
}

// handleGetAddressBalance implements the getaddressbalance command.
func handleGetAddressBalance(s *Server, cmd interface{}, closeChan <-chan struct{}) (interface{}, error) {
	c := cmd.(*GetAddressBalanceCmd)
	keys, err := s.decodeAddresses(&c.Request)
	if err != nil {
		return nil, err
	}

	bal, err := s.cfg.Query.GetAddressBalance(keys)
	if err != nil {
		return nil, queryError(err, "Failed to look up balance")
	}
	return &AddressBalanceResult{
		Balance:  bal.Balance,
		Received: bal.Received,
	}, nil
}

// handleGetAddressDeltas implements the getaddressdeltas command.  The
// result is a bare list unless chain info is requested.
func handleGetAddressDeltas(s *Server, cmd interface{}, closeChan <-chan struct{}) (interface{}, error) {
	c := cmd.(*GetAddressDeltasCmd)
	keys, err := s.decodeAddresses(&c.Request)
	if err != nil {
		return nil, err
	}

	res, err := s.cfg.Query.GetAddressDeltas(keys, c.Request.Start,
		c.Request.End, c.Request.ChainInfo)
	if err != nil {
		return nil, queryError(err, "Failed to look up deltas")
	}

	deltas := make([]AddressDelta, 0, len(res.Deltas))
	for _, d := range res.Deltas {
		deltas = append(deltas, AddressDelta{
			Satoshis:   d.Amount,
			TxID:       d.TxHash.String(),
			Index:      d.Index,
			BlockIndex: d.TxPos,
			Height:     d.Height,
			Address:    d.Key.Encode(s.cfg.ChainParams),
		})
	}
	if !c.Request.ChainInfo {
		return deltas, nil
	}

	result := &AddressDeltasResult{Deltas: deltas}
	if res.Start != nil {
		result.Start = BlockRef{
			Hash:   res.Start.Hash.String(),
			Height: res.Start.Height,
		}
	}
	if res.End != nil {
		result.End = BlockRef{
			Hash:   res.End.Hash.String(),
			Height: res.End.Height,
		}
	}
	return result, nil
}

// handleGetAddressUtxos implements the getaddressutxos command.  The result
// is a bare list unless chain info is requested.
func handleGetAddressUtxos(s *Server, cmd interface{}, closeChan <-chan struct{}) (interface{}, error) {
	c := cmd.(*GetAddressUtxosCmd)
	keys, err := s.decodeAddresses(&c.Request)
	if err != nil {
		return nil, err
	}

	res, err := s.cfg.Query.GetAddressUtxos(keys, c.Request.ChainInfo)
	if err != nil {
		return nil, queryError(err, "Failed to look up unspent outputs")
	}

	utxos := make([]AddressUtxo, 0, len(res.Utxos))
	for _, u := range res.Utxos {
		utxos = append(utxos, AddressUtxo{
			Address:     u.Key.Encode(s.cfg.ChainParams),
			TxID:        u.OutPoint.Hash.String(),
			OutputIndex: u.OutPoint.Index,
			Script:      hex.EncodeToString(u.PkScript),
			Satoshis:    u.Amount,
			Height:      u.Height,
		})
	}
	if !c.Request.ChainInfo {
		return utxos, nil
	}
	return &AddressUtxosResult{
		Utxos:  utxos,
		Hash:   res.Tip.Hash.String(),
		Height: res.Tip.Height,
	}, nil
}

// handleGetAddressMempool implements the getaddressmempool command.
func handleGetAddressMempool(s *Server, cmd interface{}, closeChan <-chan struct{}) (interface{}, error) {
	c := cmd.(*GetAddressMempoolCmd)
	keys, err := s.decodeAddresses(&c.Request)
	if err != nil {
		return nil, err
	}

	entries, err := s.cfg.Query.GetAddressMempool(keys)
	if err != nil {
		return nil, queryError(err, "Failed to look up mempool entries")
	}

	result := make([]AddressMempoolEntry, 0, len(entries))
	for _, e := range entries {
		entry := AddressMempoolEntry{
			Address:   e.Key.Encode(s.cfg.ChainParams),
			TxID:      e.TxHash.String(),
			Index:     e.Index,
			Satoshis:  e.Amount,
			Timestamp: e.Time.Unix(),
		}
		if e.PrevOut != nil {
			prevOut := e.PrevOut.Index
			entry.PrevTxID = e.PrevOut.Hash.String()
			entry.PrevOut = &prevOut
		}
		result = append(result, entry)
	}
	return result, nil
}

// handleGetBestBlockHash implements the getbestblockhash command.
func handleGetBestBlockHash(s *Server, cmd interface{}, closeChan <-chan struct{}) (interface{}, error) {
	hash, _, err := s.cfg.Query.BestBlock()
	if err != nil {
		return nil, queryError(err, "Failed to look up best block")
	}
	return hash.String(), nil
}

// handleGetBlockCount implements the getblockcount command.
func handleGetBlockCount(s *Server, cmd interface{}, closeChan <-chan struct{}) (interface{}, error) {
	_, height, err := s.cfg.Query.BestBlock()
	if err != nil {
		return nil, queryError(err, "Failed to look up best block")
	}
	return int64(height), nil
}

// handleGetBlockHash implements the getblockhash command.
func handleGetBlockHash(s *Server, cmd interface{}, closeChan <-chan struct{}) (interface{}, error) {
	c := cmd.(*btcjson.GetBlockHashCmd)
	if c.Index < 0 || c.Index > math.MaxInt32 {
		return nil, queryError(query.ErrHeightOutOfRange, "")
	}

	hash, err := s.cfg.Query.BlockHash(int32(c.Index))
	if err != nil {
		return nil, queryError(err, "Failed to look up block hash")
	}
	return hash.String(), nil
}
