// Copyright (c) 2026 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package query

import (
	"errors"
	"fmt"

	"github.com/btcsuite/addrindexd/addrkey"
	"github.com/btcsuite/addrindexd/indexers"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

var (
	// ErrIndexDisabled is returned by every query when the service was
	// created without an address index.
	ErrIndexDisabled = errors.New("address index not enabled")

	// ErrNoAddresses is returned when a query names no address.
	ErrNoAddresses = errors.New("no addresses provided")

	// ErrHeightOutOfRange is returned when a block height beyond the
	// index tip is requested.
	ErrHeightOutOfRange = errors.New("block height out of range")
)

// AddressError describes an address string which could not be decoded.
type AddressError struct {
	Address string
	Err     error
}

// Error satisfies the error interface.
func (e *AddressError) Error() string {
	return fmt.Sprintf("invalid address %q: %v", e.Address, e.Err)
}

// Unwrap returns the decoding error.
func (e *AddressError) Unwrap() error {
	return e.Err
}

// Config holds the collaborators of a Service.
type Config struct {
	// Index is the address index to query.  A nil index disables every
	// query.
	Index *indexers.AddrIndex

	// ChainParams is the network addresses are decoded for.
	ChainParams *chaincfg.Params
}

// ChainInfo identifies a block of the indexed chain.
type ChainInfo struct {
	Hash   chainhash.Hash
	Height int32
}

// DeltasResult holds the deltas of a set of addresses, with the blocks
// bounding the range they were read from when chain info was requested.
type DeltasResult struct {
	Deltas []indexers.Delta
	Start  *ChainInfo
	End    *ChainInfo
}

// UtxosResult holds the unspent outputs of a set of addresses, with the
// block they were read at when chain info was requested.
type UtxosResult struct {
	Utxos []indexers.Utxo
	Tip   *ChainInfo
}

// Service answers read-only queries against the confirmed and unconfirmed
// address index.  Each confirmed query reads a single view of the index, so
// its results never mix entries from before and after a block.
type Service struct {
	idx    *indexers.AddrIndex
	params *chaincfg.Params
}

// New returns a query service for the passed configuration.
func New(cfg *Config) *Service {
	return &Service{
		idx:    cfg.Index,
		params: cfg.ChainParams,
	}
}

// Enabled returns whether the service has an index to query.
func (s *Service) Enabled() bool {
	return s.idx != nil
}

func (s *Service) check(keys []addrkey.Key) error {
	if s.idx == nil {
		return ErrIndexDisabled
	}
	if len(keys) == 0 {
		return ErrNoAddresses
	}
	return nil
}

// DecodeAddresses decodes addrs for the service network.  Duplicates are
// dropped, keeping the first occurrence.  ErrIndexDisabled is returned
// without looking at addrs when no index is configured.
func (s *Service) DecodeAddresses(addrs []string) ([]addrkey.Key, error) {
	if s.idx == nil {
		return nil, ErrIndexDisabled
	}
	if len(addrs) == 0 {
		return nil, ErrNoAddresses
	}

	keys := make([]addrkey.Key, 0, len(addrs))
	seen := make(map[addrkey.Key]struct{}, len(addrs))
	for _, addr := range addrs {
		k, err := addrkey.Decode(addr, s.params)
		if err != nil {
			return nil, &AddressError{Address: addr, Err: err}
		}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		keys = append(keys, k)
	}
	return keys, nil
}

// GetAddressTxIDs returns the transactions touching keys, oldest first.
// The height bounds are inclusive and only apply when both are positive.
func (s *Service) GetAddressTxIDs(keys []addrkey.Key, start, end int32) ([]chainhash.Hash, error) {
	if err := s.check(keys); err != nil {
		return nil, err
	}
	txids, err := s.idx.TxIDs(keys, start, end)
	if err != nil {
		return nil, err
	}
	log.Debugf("Found %d transactions for %d addresses", len(txids),
		len(keys))
	return txids, nil
}

// GetAddressBalance returns the confirmed balance and total received of
// keys.
func (s *Service) GetAddressBalance(keys []addrkey.Key) (*indexers.Balance, error) {
	if err := s.check(keys); err != nil {
		return nil, err
	}
	return s.idx.Balance(keys)
}

func chainInfo(v *indexers.View, height int32) (*ChainInfo, error) {
	hash, err := v.BlockHash(height)
	if err != nil {
		return nil, err
	}
	if hash == nil {
		return nil, fmt.Errorf("no block indexed at height %d", height)
	}
	return &ChainInfo{Hash: *hash, Height: height}, nil
}

// GetAddressDeltas returns the deltas of keys, grouped by address in the
// order given.  The range only applies when both bounds are positive.  With
// withChainInfo the blocks bounding the range, clamped to the indexed chain,
// are reported as well.  Nothing is reported when no block has been indexed
// yet or the range is inverted.
func (s *Service) GetAddressDeltas(keys []addrkey.Key, start, end int32, withChainInfo bool) (*DeltasResult, error) {
	if err := s.check(keys); err != nil {
		return nil, err
	}

	result := &DeltasResult{}
	err := s.idx.View(func(v *indexers.View) error {
		var err error
		result.Deltas, err = v.Deltas(keys, start, end)
		if err != nil || !withChainInfo {
			return err
		}

		_, tip, err := v.Tip()
		if err != nil {
			return err
		}
		lo, hi := int32(1), tip
		if start > 0 && end > 0 {
			if start > end {
				return nil
			}
			lo, hi = clamp(start, 1, tip), clamp(end, 1, tip)
		}
		if tip < 1 {
			return nil
		}

		if result.Start, err = chainInfo(v, lo); err != nil {
			return err
		}
		result.End, err = chainInfo(v, hi)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func clamp(v, lo, hi int32) int32 {
	switch {
	case v < lo:
		return lo
	case v > hi:
		return hi
	}
	return v
}

// GetAddressUtxos returns the unspent outputs of keys ordered by height.
// With withChainInfo the tip the outputs were read at is reported.
func (s *Service) GetAddressUtxos(keys []addrkey.Key, withChainInfo bool) (*UtxosResult, error) {
	if err := s.check(keys); err != nil {
		return nil, err
	}

	result := &UtxosResult{}
	err := s.idx.View(func(v *indexers.View) error {
		if withChainInfo {
			hash, height, err := v.Tip()
			if err != nil {
				return err
			}
			result.Tip = &ChainInfo{Hash: *hash, Height: height}
		}

		var err error
		result.Utxos, err = v.Utxos(keys)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// GetAddressMempool returns the unconfirmed entries of keys in the order
// their transactions were accepted.
func (s *Service) GetAddressMempool(keys []addrkey.Key) ([]indexers.UnconfirmedEntry, error) {
	if err := s.check(keys); err != nil {
		return nil, err
	}
	return s.idx.UnconfirmedEntries(keys), nil
}

// BestBlock returns the hash and height of the index tip.
func (s *Service) BestBlock() (*chainhash.Hash, int32, error) {
	if s.idx == nil {
		return nil, 0, ErrIndexDisabled
	}

	var (
		hash   *chainhash.Hash
		height int32
	)
	err := s.idx.View(func(v *indexers.View) error {
		var err error
		hash, height, err = v.Tip()
		return err
	})
	return hash, height, err
}

// BlockHash returns the hash of the indexed block at height.  Height zero
// is the genesis block of the network.
func (s *Service) BlockHash(height int32) (*chainhash.Hash, error) {
	if s.idx == nil {
		return nil, ErrIndexDisabled
	}
	if height == 0 {
		hash := s.params.GenesisBlock.BlockHash()
		return &hash, nil
	}
	if height < 0 {
		return nil, ErrHeightOutOfRange
	}

	var hash *chainhash.Hash
	err := s.idx.View(func(v *indexers.View) error {
		var err error
		hash, err = v.BlockHash(height)
		return err
	})
	if err != nil {
		return nil, err
	}
	if hash == nil {
		return nil, ErrHeightOutOfRange
	}
	return hash, nil
}
