// Copyright (c) 2016 The btcsuite developers
// Copyright (c) 2016-2017 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package indexers

import (
	"fmt"
	"sync"

	"github.com/btcsuite/addrindexd/database/engine"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// -----------------------------------------------------------------------------
// The index manager tracks the current tip of the address index in a record
// written by the same engine transaction as the entries of each block.
//
// The serialized format for an index tip is:
//
//   <block hash><block height>
//
//   Field           Type             Size
//   block hash      chainhash.Hash   chainhash.HashSize
//   block height    uint32           4 bytes
// -----------------------------------------------------------------------------

// dbPutIndexerTip uses an existing database transaction to update or add the
// current tip for the index to the provided values.
func dbPutIndexerTip(tx *dbTx, hash *chainhash.Hash, height int32) {
	tx.put(tipKey(addrIndexKey), serializeTip(hash, height))
}

// dbFetchIndexerTip uses an existing database transaction to retrieve the
// hash and height of the current tip for the index.
func dbFetchIndexerTip(tx *dbTx) (*chainhash.Hash, int32, error) {
	serialized, err := tx.get(tipKey(addrIndexKey))
	if err != nil {
		return nil, 0, err
	}
	if serialized == nil {
		return nil, 0, indexError(ErrIndexMissing, fmt.Sprintf(
			"%s tip has not been created", addrIndexName), nil)
	}
	return deserializeTip(serialized)
}

// Manager sequences blocks into the address index.  It stores the tip of the
// index, checks each connected block extends it and each disconnected block
// is it, and drives reorganizations.  Calls are serialized.
type Manager struct {
	db     engine.Engine
	params *chaincfg.Params
	index  *AddrIndex

	mtx sync.Mutex
}

// NewManager returns a new index manager for the passed address index.
func NewManager(db engine.Engine, index *AddrIndex, params *chaincfg.Params) *Manager {
	return &Manager{
		db:     db,
		index:  index,
		params: params,
	}
}

// Index returns the managed address index.
func (m *Manager) Index() *AddrIndex {
	return m.index
}

// maybeFinishDrop finishes dropping the index when a previous drop was
// interrupted.  Dropping is done in several atomic steps rather than one big
// atomic step due to the massive number of entries.
func (m *Manager) maybeFinishDrop(interrupt <-chan struct{}) error {
	var needsDrop bool
	err := m.index.View(func(v *View) error {
		raw, err := v.get(dropKey(addrIndexKey))
		needsDrop = raw != nil
		return err
	})
	if err != nil {
		return err
	}
	if !needsDrop {
		return nil
	}

	log.Infof("Resuming %s drop", addrIndexName)
	return DropAddrIndex(m.db, interrupt)
}

// Init initializes the index.  Any interrupted drop is finished and the tip
// is created, pointing at the genesis block at height zero, when the index
// has not been created yet.
func (m *Manager) Init(interrupt <-chan struct{}) error {
	m.mtx.Lock()
	defer m.mtx.Unlock()

	if interruptRequested(interrupt) {
		return errInterruptRequested
	}

	if err := m.maybeFinishDrop(interrupt); err != nil {
		return err
	}

	tx, err := beginDBTx(m.db)
	if err != nil {
		return err
	}
	defer tx.release()

	hash, height, err := dbFetchIndexerTip(tx)
	switch {
	case IsErrorCode(err, ErrIndexMissing):
		// Set the tip for the index to values which represent an
		// uninitialized index (the genesis block hash and height).
		genesisBlockHash := m.params.GenesisBlock.BlockHash()
		dbPutIndexerTip(tx, &genesisBlockHash, 0)
		if err := tx.commit(); err != nil {
			return err
		}
		hash, height = &genesisBlockHash, 0
		log.Infof("Created %s with tip %v", addrIndexName, hash)

	case err != nil:
		return err

	default:
		log.Infof("Current %s tip (height %d, hash %v)", addrIndexName,
			height, hash)
	}

	prometheusTipHeight.Set(float64(height))
	return nil
}

// Tip returns the hash and height of the current index tip.
func (m *Manager) Tip() (*chainhash.Hash, int32, error) {
	var (
		hash   *chainhash.Hash
		height int32
	)
	err := m.index.View(func(v *View) error {
		var err error
		hash, height, err = v.Tip()
		return err
	})
	return hash, height, err
}

// ConnectBlock must be invoked when a block is extending the main chain.
// The block must extend the current index tip and is assigned the next
// height.  Connecting the block which is already the tip, or which is
// already indexed at its height, does nothing, so an interrupted sequence of
// connects can be driven again.
//
// This function is safe for concurrent access.
func (m *Manager) ConnectBlock(block *btcutil.Block) error {
	m.mtx.Lock()
	defer m.mtx.Unlock()

	return m.connectBlock(block)
}

func (m *Manager) connectBlock(block *btcutil.Block) error {
	tx, err := beginDBTx(m.db)
	if err != nil {
		return err
	}
	defer tx.release()

	curTipHash, curTipHeight, err := dbFetchIndexerTip(tx)
	if err != nil {
		return err
	}

	// Nothing to do when the block is already indexed.
	if curTipHash.IsEqual(block.Hash()) {
		log.Debugf("Block %v is already the %s tip", block.Hash(),
			addrIndexName)
		return nil
	}
	if h := block.Height(); h > 0 && h <= curTipHeight {
		stored, err := tx.get(heightKey(h))
		if err != nil {
			return err
		}
		if hash, err := chainhash.NewHash(stored); err == nil &&
			hash.IsEqual(block.Hash()) {

			log.Debugf("Block %v is already indexed at height %d",
				block.Hash(), h)
			return nil
		}
	}

	// Assert that the block being connected properly connects to the
	// current tip of the index.
	if !curTipHash.IsEqual(&block.MsgBlock().Header.PrevBlock) {
		return AssertError(fmt.Sprintf("ConnectBlock must be called "+
			"with a block that extends the current index tip (%s, "+
			"tip %s, block %s)", addrIndexName, curTipHash,
			block.Hash()))
	}
	height := curTipHeight + 1
	if h := block.Height(); h != btcutil.BlockHeightUnknown && h != height {
		return AssertError(fmt.Sprintf("ConnectBlock called with block "+
			"%s at height %d, the next index height is %d",
			block.Hash(), h, height))
	}
	block.SetHeight(height)

	numDeltas, err := m.index.connectBlock(tx, block)
	if err != nil {
		return err
	}

	// Update the current index tip.
	dbPutIndexerTip(tx, block.Hash(), height)
	if err := m.index.commitBlock(tx, block, true); err != nil {
		return err
	}

	prometheusBlocksConnected.Inc()
	prometheusDeltasWritten.Add(float64(numDeltas))
	prometheusTipHeight.Set(float64(height))
	log.Tracef("Connected block %v (height %d, %d address entries)",
		block.Hash(), height, numDeltas)
	return nil
}

// DisconnectBlock must be invoked when a block is being disconnected from
// the end of the main chain.  The block must be the current index tip.
// Disconnecting a block whose parent is already the tip does nothing.
//
// This function is safe for concurrent access.
func (m *Manager) DisconnectBlock(block *btcutil.Block) error {
	m.mtx.Lock()
	defer m.mtx.Unlock()

	return m.disconnectBlock(block)
}

func (m *Manager) disconnectBlock(block *btcutil.Block) error {
	tx, err := beginDBTx(m.db)
	if err != nil {
		return err
	}
	defer tx.release()

	curTipHash, curTipHeight, err := dbFetchIndexerTip(tx)
	if err != nil {
		return err
	}

	prevHash := &block.MsgBlock().Header.PrevBlock
	if curTipHash.IsEqual(prevHash) {
		log.Debugf("Block %v is not indexed, parent %v is the %s tip",
			block.Hash(), prevHash, addrIndexName)
		return nil
	}

	// Assert that the block being disconnected is the current tip of the
	// index.
	if !curTipHash.IsEqual(block.Hash()) {
		return AssertError(fmt.Sprintf("DisconnectBlock must be called "+
			"with the block at the current index tip (%s, tip %s, "+
			"block %s)", addrIndexName, curTipHash, block.Hash()))
	}
	if curTipHeight < 1 {
		return AssertError(fmt.Sprintf("DisconnectBlock cannot remove "+
			"block %s at height %d", block.Hash(), curTipHeight))
	}
	block.SetHeight(curTipHeight)

	numDeltas, err := m.index.disconnectBlock(tx, block)
	if err != nil {
		return err
	}

	// Update the current index tip.
	dbPutIndexerTip(tx, prevHash, curTipHeight-1)
	if err := m.index.commitBlock(tx, block, false); err != nil {
		return err
	}

	prometheusBlocksDisconnected.Inc()
	prometheusDeltasRemoved.Add(float64(numDeltas))
	prometheusTipHeight.Set(float64(curTipHeight - 1))
	log.Tracef("Disconnected block %v (height %d, %d address entries)",
		block.Hash(), curTipHeight, numDeltas)
	return nil
}

func linkError(format string, args ...interface{}) error {
	return indexError(ErrBadBlockLink, fmt.Sprintf(format, args...), nil)
}

// Reorganize disconnects the detach blocks, ordered from the current tip
// back towards the fork point, and then connects the attach blocks, ordered
// from the block after the fork point upwards.  The linkage of both chains
// is checked before the index is touched.  Every step is an independent
// atomic update.  A reorganization stopped part way is resumed by calling
// Reorganize again with the same blocks: the steps before the current index
// tip are skipped.
//
// This function is safe for concurrent access.
func (m *Manager) Reorganize(detach, attach []*btcutil.Block) error {
	for i := 0; i+1 < len(detach); i++ {
		next := detach[i+1].Hash()
		if !detach[i].MsgBlock().Header.PrevBlock.IsEqual(next) {
			return linkError("detached block %v does not build on %v",
				detach[i].Hash(), next)
		}
	}
	for i := 1; i < len(attach); i++ {
		prev := attach[i-1].Hash()
		if !attach[i].MsgBlock().Header.PrevBlock.IsEqual(prev) {
			return linkError("attached block %v does not build on %v",
				attach[i].Hash(), prev)
		}
	}

	m.mtx.Lock()
	defer m.mtx.Unlock()

	if len(detach) > 0 && len(attach) > 0 {
		fork := &detach[len(detach)-1].MsgBlock().Header.PrevBlock
		if !attach[0].MsgBlock().Header.PrevBlock.IsEqual(fork) {
			return linkError("attached block %v does not build on "+
				"fork point %v", attach[0].Hash(), fork)
		}
	}

	var tip *chainhash.Hash
	err := m.index.View(func(v *View) error {
		var err error
		tip, _, err = v.Tip()
		return err
	})
	if err != nil {
		return err
	}
	detach, attach = remainingSteps(tip, detach, attach)

	for _, block := range detach {
		if err := m.disconnectBlock(block); err != nil {
			return err
		}
	}
	for _, block := range attach {
		if err := m.connectBlock(block); err != nil {
			return err
		}
	}

	if len(detach) > 0 || len(attach) > 0 {
		log.Infof("Reorganized %s: %d blocks disconnected, %d "+
			"connected", addrIndexName, len(detach), len(attach))
	}
	return nil
}

// remainingSteps returns the detach and attach blocks still to be applied
// when the index tip is tip.  The full sequences are returned when tip is
// not on either chain, leaving the connect and disconnect checks to reject
// them.
func remainingSteps(tip *chainhash.Hash, detach, attach []*btcutil.Block) ([]*btcutil.Block, []*btcutil.Block) {
	for i := len(attach) - 1; i >= 0; i-- {
		if attach[i].Hash().IsEqual(tip) {
			log.Debugf("Resuming reorganization after attached "+
				"block %v", tip)
			return nil, attach[i+1:]
		}
	}

	var fork *chainhash.Hash
	switch {
	case len(detach) > 0:
		fork = &detach[len(detach)-1].MsgBlock().Header.PrevBlock
	case len(attach) > 0:
		fork = &attach[0].MsgBlock().Header.PrevBlock
	}
	if fork != nil && fork.IsEqual(tip) {
		return nil, attach
	}

	for i, block := range detach {
		if block.Hash().IsEqual(tip) {
			if i > 0 {
				log.Debugf("Resuming reorganization at detached "+
					"block %v", tip)
			}
			return detach[i:], attach
		}
	}
	return detach, attach
}

// DropAddrIndex drops the address index from the provided database if it
// exists.  Since the index can be massive, it is deleted in multiple
// database transactions in order to keep memory usage to reasonable levels.
// The drop is marked in progress so it can be resumed if it is stopped
// before it is done.
func DropAddrIndex(db engine.Engine, interrupt <-chan struct{}) error {
	return dropIndex(db, interrupt, maxDeletions)
}

// maxDeletions is the maximum number of keys deleted per transaction while
// dropping the index.
const maxDeletions = 100000

func dropIndex(db engine.Engine, interrupt <-chan struct{}, batchSize int) error {
	// Nothing to do if the index doesn't already exist.
	tx, err := beginDBTx(db)
	if err != nil {
		return err
	}
	tip, err := tx.get(tipKey(addrIndexKey))
	if err != nil {
		tx.release()
		return err
	}
	marker, err := tx.get(dropKey(addrIndexKey))
	if err != nil {
		tx.release()
		return err
	}
	if tip == nil && marker == nil {
		tx.release()
		log.Infof("Not dropping %s because it does not exist",
			addrIndexName)
		return nil
	}

	// Mark that the index is in the process of being dropped so that it
	// can be resumed on the next start if interrupted before the process
	// is complete.
	log.Infof("Dropping all %s entries.  This might take a while...",
		addrIndexName)
	tx.put(dropKey(addrIndexKey), []byte{1})
	if err := tx.commit(); err != nil {
		return err
	}

	var totalDeleted uint64
	for _, prefix := range keyPrefixes {
		for {
			numDeleted, err := deleteKeys(db, prefix, batchSize)
			if err != nil {
				return err
			}
			if numDeleted > 0 {
				totalDeleted += uint64(numDeleted)
				log.Infof("Deleted %d keys (%d total) from %s",
					numDeleted, totalDeleted, addrIndexName)
			}

			if interruptRequested(interrupt) {
				return errInterruptRequested
			}
			if numDeleted < batchSize {
				break
			}
		}
	}

	// Remove the index tip and in-progress drop flag now that all index
	// entries have been removed.
	tx, err = beginDBTx(db)
	if err != nil {
		return err
	}
	defer tx.release()
	tx.del(tipKey(addrIndexKey))
	tx.del(dropKey(addrIndexKey))
	if err := tx.commit(); err != nil {
		return err
	}

	log.Infof("Dropped %s", addrIndexName)
	return nil
}

// deleteKeys deletes up to limit keys starting with prefix in a single
// transaction and returns how many were deleted.
func deleteKeys(db engine.Engine, prefix byte, limit int) (int, error) {
	snap, err := db.Snapshot()
	if err != nil {
		return 0, indexError(ErrStorage, "failed to open snapshot", err)
	}

	var keys [][]byte
	iter := snap.NewIterator(engine.BytesPrefix([]byte{prefix}))
	for len(keys) < limit && iter.Next() {
		keys = append(keys, append([]byte(nil), iter.Key()...))
	}
	err = iter.Error()
	iter.Release()
	snap.Release()
	if err != nil {
		return 0, iterError(err)
	}
	if len(keys) == 0 {
		return 0, nil
	}

	etx, err := db.Transaction()
	if err != nil {
		return 0, indexError(ErrStorage, "failed to open transaction", err)
	}
	defer etx.Discard()
	for _, key := range keys {
		if err := etx.Delete(key); err != nil {
			return 0, indexError(ErrStorage, "failed to stage delete", err)
		}
	}
	if err := etx.Commit(); err != nil {
		return 0, indexError(ErrStorage, "failed to commit delete", err)
	}
	return len(keys), nil
}
