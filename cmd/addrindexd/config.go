// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"

	"github.com/btcsuite/addrindexd/database/engine"
	_ "github.com/btcsuite/addrindexd/database/engine/boltdb"
	_ "github.com/btcsuite/addrindexd/database/engine/leveldb"
	_ "github.com/btcsuite/addrindexd/database/engine/pebbledb"
	"github.com/btcsuite/addrindexd/indexers"
	"github.com/btcsuite/addrindexd/internal/log"
	"github.com/btcsuite/addrindexd/internal/version"
	"github.com/btcsuite/addrindexd/rpcserver"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/wire"
	flags "github.com/jessevdk/go-flags"
)

const (
	defaultConfigFilename = "addrindexd.conf"
	defaultDataDirname    = "data"
	defaultLogDirname     = "logs"
	defaultLogFilename    = "addrindexd.log"
	defaultLogLevel       = "info"
	defaultDbType         = "leveldb"
	defaultProgress       = 10
)

var (
	defaultHomeDir    = btcutil.AppDataDir("addrindexd", false)
	defaultConfigFile = filepath.Join(defaultHomeDir, defaultConfigFilename)
	defaultDataDir    = filepath.Join(defaultHomeDir, defaultDataDirname)
	defaultLogDir     = filepath.Join(defaultHomeDir, defaultLogDirname)
	knownDbTypes      = engine.SupportedDrivers()
	activeNetParams   = &chaincfg.MainNetParams
)

// errShowSubsystems is returned from loadConfig when the debug level asked
// for the list of subsystems.
var errShowSubsystems = errors.New("subsystems shown")

// config defines the configuration options for addrindexd.
//
// See loadConfig for details on the configuration load process.
type config struct {
	ShowVersion    bool     `short:"V" long:"version" description:"Display version information and exit"`
	ConfigFile     string   `short:"C" long:"configfile" description:"Path to configuration file"`
	DataDir        string   `short:"b" long:"datadir" description:"Directory to store data"`
	LogDir         string   `long:"logdir" description:"Directory to log output"`
	DebugLevel     string   `short:"d" long:"debuglevel" description:"Logging level for all subsystems {trace, debug, info, warn, error, critical} -- You may also specify <subsystem>=<level>,<subsystem2>=<level>,... to set the log level for individual subsystems -- Use show to list available subsystems"`
	DbType         string   `long:"dbtype" description:"Database backend to use for the address index"`
	AddrIndex      bool     `long:"addrindex" description:"Maintain a full address-based index which makes the getaddress* RPCs available"`
	DropAddrIndex  bool     `long:"dropaddrindex" description:"Deletes the address-based index from the database on start up and then exits"`
	CacheSize      uint     `long:"confirmedcache" description:"Number of recently confirmed transactions remembered so late mempool notifications are ignored"`
	InFile         string   `short:"i" long:"infile" description:"File containing block(s) to index before serving"`
	Progress       int      `short:"p" long:"progress" description:"Show a progress message each time this number of seconds have passed during an import -- Use 0 to disable progress announcements"`
	RPCListeners   []string `long:"rpclisten" description:"Add an interface/port to listen for RPC connections (default port: 8336, testnet: 18336)"`
	RPCUser        string   `short:"u" long:"rpcuser" description:"Username for RPC connections"`
	RPCPass        string   `short:"P" long:"rpcpass" default-mask:"-" description:"Password for RPC connections"`
	RPCMaxClients  int      `long:"rpcmaxclients" description:"Max number of RPC clients for standard connections"`
	DisableRPC     bool     `long:"norpc" description:"Disable built-in RPC server"`
	TestNet3       bool     `long:"testnet" description:"Use the test network"`
	RegressionTest bool     `long:"regtest" description:"Use the regression test network"`
	SimNet         bool     `long:"simnet" description:"Use the simulation test network"`
	SigNet         bool     `long:"signet" description:"Use the signet test network"`

	// configFileWarning is set when the config file could not be read.
	configFileWarning error
}

// cleanAndExpandPath expands environment variables and leading ~ in the
// passed path, cleans the result, and returns it.
func cleanAndExpandPath(path string) string {
	// Expand initial ~ to OS specific home directory.
	if strings.HasPrefix(path, "~") {
		homeDir := filepath.Dir(defaultHomeDir)
		path = strings.Replace(path, "~", homeDir, 1)
	}

	// NOTE: The os.ExpandEnv doesn't work with Windows-style %VARIABLE%,
	// but they variables can still be expanded via POSIX-style $VARIABLE.
	return filepath.Clean(os.ExpandEnv(path))
}

// fileExists reports whether the named file or directory exists.
func fileExists(name string) bool {
	if _, err := os.Stat(name); err != nil {
		if os.IsNotExist(err) {
			return false
		}
	}
	return true
}

// validDbType returns whether or not dbType is a supported database type.
func validDbType(dbType string) bool {
	for _, knownType := range knownDbTypes {
		if dbType == knownType {
			return true
		}
	}

	return false
}

// netName returns the name used when referring to a bitcoin network.  Blocks
// for testnet version 3 are kept in the data and log directory "testnet",
// which does not match the Name field of the chaincfg parameters.
func netName(chainParams *chaincfg.Params) string {
	switch chainParams.Net {
	case wire.TestNet3:
		return "testnet"
	default:
		return chainParams.Name
	}
}

// defaultRPCPort returns the RPC port used when a listener is given without
// one, or when no listener is given at all.
func defaultRPCPort(chainParams *chaincfg.Params) string {
	switch chainParams.Net {
	case wire.TestNet3:
		return "18336"
	case wire.TestNet:
		return "18446"
	case wire.SimNet:
		return "18556"
	case chaincfg.SigNetParams.Net:
		return "38336"
	default:
		return "8336"
	}
}

// normalizeAddresses returns a new slice with all the passed peer addresses
// normalized with the given default port, and all duplicates removed.
func normalizeAddresses(addrs []string, defaultPort string) []string {
	result := make([]string, 0, len(addrs))
	seen := map[string]struct{}{}
	for _, addr := range addrs {
		if _, _, err := net.SplitHostPort(addr); err != nil {
			addr = net.JoinHostPort(addr, defaultPort)
		}
		if _, ok := seen[addr]; !ok {
			result = append(result, addr)
			seen[addr] = struct{}{}
		}
	}
	return result
}

// parseAndSetDebugLevels attempts to parse the specified debug level and set
// the levels accordingly.  An appropriate error is returned if anything is
// invalid.
func parseAndSetDebugLevels(debugLevel string) error {
	// When the specified string doesn't have any delimiters, treat it as
	// the log level for all subsystems.
	if !strings.Contains(debugLevel, ",") && !strings.Contains(debugLevel, "=") {
		if !log.ValidLogLevel(debugLevel) {
			str := "the specified debug level [%v] is invalid"
			return fmt.Errorf(str, debugLevel)
		}

		log.SetLogLevels(debugLevel)
		return nil
	}

	// Split the specified string into subsystem/level pairs while detecting
	// issues and update the log levels accordingly.
	for _, logLevelPair := range strings.Split(debugLevel, ",") {
		if !strings.Contains(logLevelPair, "=") {
			str := "the specified debug level contains an invalid " +
				"subsystem/level pair [%v]"
			return fmt.Errorf(str, logLevelPair)
		}

		fields := strings.Split(logLevelPair, "=")
		subsysID, logLevel := fields[0], fields[1]

		if _, exists := log.SubsystemLoggers[subsysID]; !exists {
			str := "the specified subsystem [%v] is invalid -- " +
				"supported subsystems %v"
			return fmt.Errorf(str, subsysID, log.SupportedSubsystems())
		}
		if !log.ValidLogLevel(logLevel) {
			str := "the specified debug level [%v] is invalid"
			return fmt.Errorf(str, logLevel)
		}

		log.SetLogLevel(subsysID, logLevel)
	}

	return nil
}

// loadConfig initializes and parses the config using a config file and command
// line options.
//
// The configuration proceeds as follows:
//  1. Start with a default config with sane settings
//  2. Pre-parse the command line to check for an alternative config file
//  3. Load configuration file overwriting defaults with any specified options
//  4. Parse CLI options and overwrite/add any specified options
//
// The above results in addrindexd functioning properly without any config
// settings while still allowing the user to override settings with config
// files and command line options.  Command line options always take
// precedence.  A missing config file is not an error, it is kept in
// configFileWarning so it can be logged once logging is set up.
func loadConfig(args []string) (*config, error) {
	// Default config.
	cfg := config{
		ConfigFile:    defaultConfigFile,
		DataDir:       defaultDataDir,
		LogDir:        defaultLogDir,
		DebugLevel:    defaultLogLevel,
		DbType:        defaultDbType,
		CacheSize:     indexers.DefaultConfirmedCacheSize,
		Progress:      defaultProgress,
		RPCMaxClients: rpcserver.DefaultMaxClients,
	}

	// Pre-parse the command line options to see if an alternative config
	// file or the version flag was specified.
	preCfg := cfg
	preParser := flags.NewParser(&preCfg, flags.HelpFlag)
	_, err := preParser.ParseArgs(args)
	if err != nil {
		var e *flags.Error
		if errors.As(err, &e) && e.Type == flags.ErrHelp {
			fmt.Fprintln(os.Stdout, err)
		}
		return nil, err
	}

	// Show the version and exit if the version flag was specified.
	if preCfg.ShowVersion {
		appName := filepath.Base(os.Args[0])
		appName = strings.TrimSuffix(appName, filepath.Ext(appName))
		fmt.Println(appName, "version", version.String())
		os.Exit(0)
	}

	// Load additional config from file.
	parser := flags.NewParser(&cfg, flags.HelpFlag|flags.PassDoubleDash)
	err = flags.NewIniParser(parser).ParseFile(preCfg.ConfigFile)
	if err != nil {
		var pathErr *os.PathError
		if !errors.As(err, &pathErr) {
			fmt.Fprintf(os.Stderr, "Error parsing config file: %v\n",
				err)
			return nil, err
		}
		cfg.configFileWarning = err
	}

	// Parse command line options again to ensure they take precedence.
	_, err = parser.ParseArgs(args)
	if err != nil {
		return nil, err
	}

	// Multiple networks can't be selected simultaneously.  Count the
	// network flags passed and assign the active network params while
	// we're at it.
	funcName := "loadConfig"
	numNets := 0
	activeNetParams = &chaincfg.MainNetParams
	if cfg.TestNet3 {
		numNets++
		activeNetParams = &chaincfg.TestNet3Params
	}
	if cfg.RegressionTest {
		numNets++
		activeNetParams = &chaincfg.RegressionNetParams
	}
	if cfg.SimNet {
		numNets++
		activeNetParams = &chaincfg.SimNetParams
	}
	if cfg.SigNet {
		numNets++
		activeNetParams = &chaincfg.SigNetParams
	}
	if numNets > 1 {
		str := "%s: the testnet, regtest, simnet, and signet params " +
			"can't be used together -- choose one of the four"
		return nil, fmt.Errorf(str, funcName)
	}

	// Special show command to list supported subsystems.
	if cfg.DebugLevel == "show" {
		fmt.Println("Supported subsystems", log.SupportedSubsystems())
		return nil, errShowSubsystems
	}
	if err := parseAndSetDebugLevels(cfg.DebugLevel); err != nil {
		return nil, fmt.Errorf("%s: %w", funcName, err)
	}

	if !validDbType(cfg.DbType) {
		str := "%s: the specified database type [%v] is invalid -- " +
			"supported types %v"
		return nil, fmt.Errorf(str, funcName, cfg.DbType,
			knownDbTypes)
	}

	if cfg.RPCMaxClients <= 0 {
		str := "%s: the rpcmaxclients option must be positive " +
			"-- parsed [%d]"
		return nil, fmt.Errorf(str, funcName, cfg.RPCMaxClients)
	}

	// Append the network type to the data directory so it is "namespaced"
	// per network.  All data is specific to a network, so namespacing the
	// data directory means each individual piece of serialized data does
	// not have to worry about changing names per network and such.
	cfg.DataDir = cleanAndExpandPath(cfg.DataDir)
	cfg.DataDir = filepath.Join(cfg.DataDir, netName(activeNetParams))
	cfg.LogDir = cleanAndExpandPath(cfg.LogDir)
	cfg.LogDir = filepath.Join(cfg.LogDir, netName(activeNetParams))

	if cfg.DropAddrIndex && cfg.InFile != "" {
		str := "%s: the --dropaddrindex and --infile options can not " +
			"be mixed"
		return nil, fmt.Errorf(str, funcName)
	}
	if cfg.InFile != "" {
		if !cfg.AddrIndex {
			str := "%s: the --infile option requires --addrindex"
			return nil, fmt.Errorf(str, funcName)
		}

		cfg.InFile = cleanAndExpandPath(cfg.InFile)
		if !fileExists(cfg.InFile) {
			str := "%s: the specified block file [%v] does not exist"
			return nil, fmt.Errorf(str, funcName, cfg.InFile)
		}
	}

	// The RPC server listens on localhost by default and refuses to start
	// without credentials.
	if !cfg.DisableRPC && !cfg.DropAddrIndex {
		if len(cfg.RPCListeners) == 0 {
			cfg.RPCListeners = []string{"127.0.0.1"}
		}
		cfg.RPCListeners = normalizeAddresses(cfg.RPCListeners,
			defaultRPCPort(activeNetParams))

		if cfg.RPCUser == "" || cfg.RPCPass == "" {
			str := "%s: the RPC server requires --rpcuser and " +
				"--rpcpass -- use --norpc to disable it"
			return nil, fmt.Errorf(str, funcName)
		}
	}

	return &cfg, nil
}
