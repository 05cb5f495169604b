// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/btcsuite/addrindexd/indexers"
	"github.com/btcsuite/addrindexd/internal/log"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/lnd/clock"
)

// unknownHeight marks that the height of the next block read from the import
// file has not been established yet.
const unknownHeight = -1

var (
	zeroHash = chainhash.Hash{}

	// errImportInterrupted is returned by an import stopped by an
	// interrupt.
	errImportInterrupted = errors.New("import interrupted")
)

// importResults houses the stats and result as an import operation.
type importResults struct {
	blocksProcessed int64
	blocksImported  int64
	err             error
}

// importConfig holds the dependencies of a block importer.
type importConfig struct {
	Manager     *indexers.Manager
	ChainParams *chaincfg.Params

	// Progress is the minimum interval between progress messages.  Zero
	// disables them.
	Progress time.Duration

	Clock clock.Clock
}

// blockImporter houses information about an ongoing import from a block data
// file to the address index.
type blockImporter struct {
	cfg               importConfig
	r                 io.Reader
	processQueue      chan []byte
	doneChan          chan struct{}
	errChan           chan error
	quit              chan struct{}
	wg                sync.WaitGroup
	blocksProcessed   int64
	blocksImported    int64
	receivedLogBlocks int64
	receivedLogTx     int64
	tipHash           *chainhash.Hash
	tipHeight         int32
	nextHeight        int32
	lastHeight        int32
	lastBlockTime     time.Time
	lastLogTime       time.Time
}

// readBlock reads the next block from the input file.
func (bi *blockImporter) readBlock() ([]byte, error) {
	// The block file format is:
	//  <network> <block length> <serialized block>
	var net uint32
	err := binary.Read(bi.r, binary.LittleEndian, &net)
	if err != nil {
		if err != io.EOF {
			return nil, err
		}

		// No block and no error means there are no more blocks to read.
		return nil, nil
	}
	if net != uint32(bi.cfg.ChainParams.Net) {
		return nil, fmt.Errorf("network mismatch -- got %x, want %x",
			net, uint32(bi.cfg.ChainParams.Net))
	}

	// Read the block length and ensure it is sane.
	var blockLen uint32
	if err := binary.Read(bi.r, binary.LittleEndian, &blockLen); err != nil {
		return nil, err
	}
	if blockLen > wire.MaxBlockPayload {
		return nil, fmt.Errorf("block payload of %d bytes is larger "+
			"than the max allowed %d bytes", blockLen,
			wire.MaxBlockPayload)
	}

	serializedBlock := make([]byte, blockLen)
	if _, err := io.ReadFull(bi.r, serializedBlock); err != nil {
		return nil, err
	}

	return serializedBlock, nil
}

// firstHeight establishes the height of the first block in the import file.
// The file either starts with the genesis block or with a block extending
// the genesis block or the current index tip.
func (bi *blockImporter) firstHeight(block *btcutil.Block) (int32, error) {
	prevHash := &block.MsgBlock().Header.PrevBlock
	switch {
	case prevHash.IsEqual(&zeroHash):
		return 0, nil
	case prevHash.IsEqual(bi.cfg.ChainParams.GenesisHash):
		return 1, nil
	case prevHash.IsEqual(bi.tipHash):
		return bi.tipHeight + 1, nil
	}
	return 0, fmt.Errorf("import file starts with block %v which does "+
		"not link to the indexed chain", block.Hash())
}

// processBlock feeds the block to the index manager.  Blocks at or below the
// index tip as of the start of the import are already known and only
// checked against the index.  Returns whether the block was imported along
// with any potential errors.
func (bi *blockImporter) processBlock(serializedBlock []byte) (bool, error) {
	// Deserialize the block which includes checks for malformed blocks.
	block, err := btcutil.NewBlockFromBytes(serializedBlock)
	if err != nil {
		return false, err
	}

	// update progress statistics
	bi.lastBlockTime = block.MsgBlock().Header.Timestamp
	bi.receivedLogTx += int64(len(block.MsgBlock().Transactions))

	if bi.nextHeight == unknownHeight {
		bi.nextHeight, err = bi.firstHeight(block)
		if err != nil {
			return false, err
		}
	}
	height := bi.nextHeight
	bi.nextHeight++
	bi.lastHeight = height

	// The genesis block is never indexed.
	if height == 0 {
		if !block.Hash().IsEqual(bi.cfg.ChainParams.GenesisHash) {
			return false, fmt.Errorf("import file genesis block %v "+
				"does not match the %s genesis block %v",
				block.Hash(), bi.cfg.ChainParams.Name,
				bi.cfg.ChainParams.GenesisHash)
		}
		return false, nil
	}

	block.SetHeight(height)
	if err := bi.cfg.Manager.ConnectBlock(block); err != nil {
		return false, err
	}
	return height > bi.tipHeight, nil
}

// fail reports err to the status handler unless the import is already
// stopping.
func (bi *blockImporter) fail(err error) {
	select {
	case bi.errChan <- err:
	case <-bi.quit:
	}
}

// readHandler is the main handler for reading blocks from the import file.
// This allows block processing to take place in parallel with block reads.
// It must be run as a goroutine.
func (bi *blockImporter) readHandler() {
	defer bi.wg.Done()

out:
	for {
		// Read the next block from the file and if anything goes wrong
		// notify the status handler with the error and bail.
		serializedBlock, err := bi.readBlock()
		if err != nil {
			bi.fail(fmt.Errorf("error reading from input file: %w",
				err))
			break out
		}

		// A nil block with no error means we're done.
		if serializedBlock == nil {
			break out
		}

		// Send the block or quit if we've been signalled to exit by
		// the status handler due to an error elsewhere.
		select {
		case bi.processQueue <- serializedBlock:
		case <-bi.quit:
			break out
		}
	}

	// Close the processing channel to signal no more blocks are coming.
	close(bi.processQueue)
}

// logProgress logs block progress as an information message.  In order to
// prevent spam, it limits logging to one message every Progress interval
// with duration and totals included.
func (bi *blockImporter) logProgress() {
	bi.receivedLogBlocks++

	if bi.cfg.Progress <= 0 {
		return
	}
	now := bi.cfg.Clock.Now()
	duration := now.Sub(bi.lastLogTime)
	if duration < bi.cfg.Progress {
		return
	}

	// Truncate the duration to 10s of milliseconds.
	tDuration := duration.Truncate(10 * time.Millisecond)

	aixdLog.Infof("Processed %d %s in the last %s (%d %s, height %d, %s)",
		bi.receivedLogBlocks,
		log.PickNoun(uint64(bi.receivedLogBlocks), "block", "blocks"),
		tDuration, bi.receivedLogTx,
		log.PickNoun(uint64(bi.receivedLogTx), "transaction",
			"transactions"),
		bi.lastHeight, bi.lastBlockTime)

	bi.receivedLogBlocks = 0
	bi.receivedLogTx = 0
	bi.lastLogTime = now
}

// processHandler is the main handler for processing blocks.  This allows block
// processing to take place in parallel with block reads from the import file.
// It must be run as a goroutine.
func (bi *blockImporter) processHandler() {
	defer bi.wg.Done()

out:
	for {
		select {
		case serializedBlock, ok := <-bi.processQueue:
			// We're done when the channel is closed.
			if !ok {
				break out
			}

			bi.blocksProcessed++
			imported, err := bi.processBlock(serializedBlock)
			if err != nil {
				bi.fail(err)
				break out
			}

			if imported {
				bi.blocksImported++
			}

			bi.logProgress()

		case <-bi.quit:
			break out
		}
	}
}

// statusHandler waits for updates from the import operation and notifies
// the passed resultsChan with the results of the import once every goroutine
// has exited.  It also causes all goroutines to exit if an error is reported
// from any of them or an interrupt is received.
func (bi *blockImporter) statusHandler(interrupt <-chan struct{},
	resultsChan chan<- *importResults) {

	var err error
	select {
	// An error from either of the goroutines means we're done so signal
	// all goroutines to quit.
	case err = <-bi.errChan:
		close(bi.quit)

	case <-interrupt:
		err = errImportInterrupted
		close(bi.quit)

	// The import finished normally.
	case <-bi.doneChan:
	}

	bi.wg.Wait()
	resultsChan <- &importResults{
		blocksProcessed: bi.blocksProcessed,
		blocksImported:  bi.blocksImported,
		err:             err,
	}
}

// Import is the core function which handles importing the blocks from the file
// associated with the block importer to the address index.  It returns a
// channel on which the results will be returned when the operation has
// completed.
func (bi *blockImporter) Import(interrupt <-chan struct{}) <-chan *importResults {
	// Start up the read and process handling goroutines.  This setup allows
	// blocks to be read from disk in parallel while being processed.
	bi.wg.Add(2)
	go bi.readHandler()
	go bi.processHandler()

	// Wait for the import to finish in a separate goroutine and signal
	// the status handler when done.
	go func() {
		bi.wg.Wait()
		close(bi.doneChan)
	}()

	// Start the status handler and return the result channel that it will
	// send the results on when the import is done.
	resultChan := make(chan *importResults, 1)
	go bi.statusHandler(interrupt, resultChan)
	return resultChan
}

// newBlockImporter returns a new importer for the provided reader feeding the
// index manager.
func newBlockImporter(cfg *importConfig, r io.Reader) (*blockImporter, error) {
	tipHash, tipHeight, err := cfg.Manager.Tip()
	if err != nil {
		return nil, err
	}

	bi := &blockImporter{
		cfg:          *cfg,
		r:            r,
		processQueue: make(chan []byte, 2),
		doneChan:     make(chan struct{}),
		errChan:      make(chan error),
		quit:         make(chan struct{}),
		tipHash:      tipHash,
		tipHeight:    tipHeight,
		nextHeight:   unknownHeight,
	}
	if bi.cfg.Clock == nil {
		bi.cfg.Clock = clock.NewDefaultClock()
	}
	bi.lastLogTime = bi.cfg.Clock.Now()
	return bi, nil
}
