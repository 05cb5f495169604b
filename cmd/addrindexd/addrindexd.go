// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/btcsuite/addrindexd/database/engine"
	"github.com/btcsuite/addrindexd/indexers"
	"github.com/btcsuite/addrindexd/internal/limits"
	"github.com/btcsuite/addrindexd/internal/log"
	"github.com/btcsuite/addrindexd/internal/version"
	"github.com/btcsuite/addrindexd/query"
	"github.com/btcsuite/addrindexd/rpcserver"
	flags "github.com/jessevdk/go-flags"
	"golang.org/x/sync/errgroup"
)

const (
	// indexDbNamePrefix is the prefix for the address index database.
	indexDbNamePrefix = "addrindex"
)

var aixdLog = log.AixdLog

// loadIndexDB opens the address index database, creating it when it does not
// exist yet.  The database name is based on the database type.
func loadIndexDB(cfg *config) (engine.Engine, error) {
	dbName := indexDbNamePrefix + "_" + cfg.DbType
	dbPath := filepath.Join(cfg.DataDir, dbName)

	aixdLog.Infof("Loading address index database from '%s'", dbPath)
	if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
		return nil, err
	}
	db, err := engine.Open(cfg.DbType, dbPath, false)
	if err != nil {
		return nil, err
	}

	aixdLog.Info("Address index database loaded")
	return db, nil
}

// setupRPCListeners returns a slice of listeners that are configured for use
// with the RPC server depending on the configuration settings for listen
// addresses.
func setupRPCListeners(addrs []string) ([]net.Listener, error) {
	listeners := make([]net.Listener, 0, len(addrs))
	for _, addr := range addrs {
		listener, err := net.Listen("tcp", addr)
		if err != nil {
			for _, l := range listeners {
				l.Close()
			}
			return nil, fmt.Errorf("unable to listen on %s: %w", addr,
				err)
		}
		listeners = append(listeners, listener)
	}

	return listeners, nil
}

// importFile indexes the blocks held in the configured input file.
func importFile(cfg *config, mgr *indexers.Manager, interrupt <-chan struct{}) error {
	fi, err := os.Open(cfg.InFile)
	if err != nil {
		aixdLog.Errorf("Failed to open file %v: %v", cfg.InFile, err)
		return err
	}
	defer fi.Close()

	importer, err := newBlockImporter(&importConfig{
		Manager:     mgr,
		ChainParams: activeNetParams,
		Progress:    time.Duration(cfg.Progress) * time.Second,
	}, fi)
	if err != nil {
		aixdLog.Errorf("Failed create block importer: %v", err)
		return err
	}

	// Perform the import asynchronously.  This allows blocks to be
	// processed and read in parallel.  The results channel returned from
	// Import contains the statistics about the import including an error
	// if something went wrong.
	aixdLog.Infof("Starting import from %s", cfg.InFile)
	results := <-importer.Import(interrupt)
	switch {
	case errors.Is(results.err, errImportInterrupted):
		aixdLog.Infof("Import interrupted after %d blocks",
			results.blocksProcessed)
		return nil

	case results.err != nil:
		aixdLog.Errorf("%v", results.err)
		return results.err
	}

	aixdLog.Infof("Processed a total of %d blocks (%d imported, %d already "+
		"known)", results.blocksProcessed, results.blocksImported,
		results.blocksProcessed-results.blocksImported)
	return nil
}

// addrindexdMain is the real main function for addrindexd.  It is necessary
// to work around the fact that deferred functions do not run when os.Exit()
// is called.
func addrindexdMain() error {
	// Load configuration and parse command line.
	cfg, err := loadConfig(os.Args[1:])
	if err != nil {
		var flagsErr *flags.Error
		if errors.Is(err, errShowSubsystems) ||
			(errors.As(err, &flagsErr) && flagsErr.Type == flags.ErrHelp) {

			return nil
		}
		fmt.Fprintln(os.Stderr, err)
		return err
	}

	// Initialize the log rotator now that the log directory is known.
	logFile := filepath.Join(cfg.LogDir, defaultLogFilename)
	if err := log.InitLogRotator(logFile); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return err
	}
	defer func() {
		if log.LogRotator != nil {
			log.LogRotator.Close()
		}
	}()

	// Get a channel that will be closed when a shutdown signal has been
	// triggered either from an OS signal such as SIGINT (Ctrl+C).
	interrupt := interruptListener()
	defer aixdLog.Info("Shutdown complete")

	aixdLog.Infof("Version %s", version.String())
	if cfg.configFileWarning != nil {
		aixdLog.Warnf("%v", cfg.configFileWarning)
	}

	db, err := loadIndexDB(cfg)
	if err != nil {
		aixdLog.Errorf("Failed to load database: %v", err)
		return err
	}
	defer func() {
		aixdLog.Info("Gracefully shutting down the database...")
		if err := db.Close(); err != nil {
			aixdLog.Errorf("Failed to close database: %v", err)
		}
	}()

	// Return now if an interrupt signal was triggered.
	if interruptRequested(interrupt) {
		return nil
	}

	// Drop the index and exit if requested.
	if cfg.DropAddrIndex {
		err := indexers.DropAddrIndex(db, interrupt)
		if err != nil && !indexers.IsErrorCode(err, indexers.ErrInterrupted) {
			aixdLog.Errorf("%v", err)
			return err
		}
		return nil
	}

	var (
		idx *indexers.AddrIndex
		mgr *indexers.Manager
	)
	if cfg.AddrIndex {
		aixdLog.Info("Address index is enabled")
		idx = indexers.New(&indexers.Config{
			DB:                 db,
			ChainParams:        activeNetParams,
			ConfirmedCacheSize: cfg.CacheSize,
		})
		mgr = indexers.NewManager(db, idx, activeNetParams)
		if err := mgr.Init(interrupt); err != nil {
			if indexers.IsErrorCode(err, indexers.ErrInterrupted) {
				return nil
			}
			aixdLog.Errorf("Failed to initialize the address index: %v",
				err)
			return err
		}
	} else {
		aixdLog.Info("Address index is disabled")
	}

	g, ctx := errgroup.WithContext(context.Background())
	if !cfg.DisableRPC {
		listeners, err := setupRPCListeners(cfg.RPCListeners)
		if err != nil {
			aixdLog.Errorf("Failed to start RPC server: %v", err)
			return err
		}
		server, err := rpcserver.New(&rpcserver.Config{
			Listeners: listeners,
			Query: query.New(&query.Config{
				Index:       idx,
				ChainParams: activeNetParams,
			}),
			ChainParams: activeNetParams,
			RPCUser:     cfg.RPCUser,
			RPCPass:     cfg.RPCPass,
			MaxClients:  cfg.RPCMaxClients,
		})
		if err != nil {
			for _, l := range listeners {
				l.Close()
			}
			aixdLog.Errorf("Failed to start RPC server: %v", err)
			return err
		}
		server.Start()

		g.Go(func() error {
			select {
			case <-interrupt:
			case <-ctx.Done():
			}
			return server.Stop()
		})
	}
	if cfg.InFile != "" {
		g.Go(func() error {
			return importFile(cfg, mgr, interrupt)
		})
	}

	return g.Wait()
}

func main() {
	// Use all processor cores and up some limits.
	runtime.GOMAXPROCS(runtime.NumCPU())
	if err := limits.SetLimits(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to set limits: %v\n", err)
		os.Exit(1)
	}

	// Work around defer not working after os.Exit()
	if err := addrindexdMain(); err != nil {
		os.Exit(1)
	}
}
