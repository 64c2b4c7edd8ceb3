package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/urfave/cli/v2"
)

// Flag names shared by all commands.
const (
	FlagNetwork     = "network"
	FlagDataDir     = "datadir"
	FlagConfig      = "config"
	FlagEnvFile     = "env-file"
	FlagChain       = "chain"
	FlagEsplora     = "esplora-url"
	FlagLedgerRPC   = "ledger-rpc"
	FlagContract    = "contract"
	FlagOwner       = "owner"
	FlagDeriveURL   = "derive-url"
	FlagDropSats    = "drop-sats"
	FlagConcurrency = "concurrency"
	FlagBroadcast   = "broadcast"
	FlagRelay       = "relay"
	FlagNoJournal   = "no-journal"
	FlagMetrics     = "metrics"
	FlagMetricsAddr = "metrics-addr"
	FlagLogLevel    = "log-level"
	FlagLogFile     = "log-file"
	FlagLogJSON     = "log-json"
)

// Flags returns the global command-line flags.
func Flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: FlagNetwork, Usage: "Network type (mainnet or testnet)"},
		&cli.BoolFlag{Name: "testnet", Usage: "Use testnet (shorthand for --network=testnet)"},
		&cli.StringFlag{Name: FlagDataDir, Usage: "Data directory path"},
		&cli.StringFlag{Name: FlagConfig, Usage: "Config file path (default: <datadir>/<network>/klingdrop.conf)"},
		&cli.StringFlag{Name: FlagEnvFile, Usage: ".env file path (default: ./.env, then <datadir>/.env)"},
		&cli.StringFlag{Name: FlagChain, Usage: "UTXO chain (bitcoin or dogecoin)"},
		&cli.StringFlag{Name: FlagEsplora, Usage: "Esplora API root"},
		&cli.StringFlag{Name: FlagLedgerRPC, Usage: "NEAR RPC endpoint"},
		&cli.StringFlag{Name: FlagContract, Usage: "Drop contract account"},
		&cli.StringFlag{Name: FlagOwner, Usage: "Drop contract owner account"},
		&cli.StringFlag{Name: FlagDeriveURL, Usage: "Address derivation service URL"},
		&cli.Uint64Flag{Name: FlagDropSats, Usage: "Drop amount in sats"},
		&cli.IntFlag{Name: FlagConcurrency, Usage: "Concurrent claims in a batch"},
		&cli.BoolFlag{Name: FlagBroadcast, Usage: "Broadcast signed claim transactions"},
		&cli.StringFlag{Name: FlagRelay, Usage: "Broadcast relay (esplora or tatum)"},
		&cli.BoolFlag{Name: FlagNoJournal, Usage: "Do not record claims in the journal"},
		&cli.BoolFlag{Name: FlagMetrics, Usage: "Serve Prometheus metrics"},
		&cli.StringFlag{Name: FlagMetricsAddr, Usage: "Prometheus listen address"},
		&cli.StringFlag{Name: FlagLogLevel, Usage: "Log level (debug, info, warn, error)"},
		&cli.StringFlag{Name: FlagLogFile, Usage: "Log file path (relative paths go under <datadir>/logs)"},
		&cli.BoolFlag{Name: FlagLogJSON, Usage: "Log in JSON format"},
	}
}

// ApplyFlags applies explicitly set flags to cfg.
func ApplyFlags(cfg *Config, c *cli.Context) {
	strs := map[string]*string{
		FlagChain:       &cfg.Chain.Name,
		FlagEsplora:     &cfg.Esplora.URL,
		FlagLedgerRPC:   &cfg.Ledger.RPCURL,
		FlagContract:    &cfg.Ledger.ContractID,
		FlagOwner:       &cfg.Ledger.OwnerID,
		FlagDeriveURL:   &cfg.Derive.URL,
		FlagRelay:       &cfg.Claim.Relay,
		FlagMetricsAddr: &cfg.Metrics.Addr,
		FlagLogLevel:    &cfg.Log.Level,
		FlagLogFile:     &cfg.Log.File,
	}
	for name, dst := range strs {
		if c.IsSet(name) {
			*dst = c.String(name)
		}
	}

	if c.IsSet(FlagDropSats) {
		cfg.Claim.DropSats = c.Uint64(FlagDropSats)
	}
	if c.IsSet(FlagConcurrency) {
		cfg.Claim.Concurrency = c.Int(FlagConcurrency)
	}
	if c.IsSet(FlagBroadcast) {
		cfg.Claim.Broadcast = c.Bool(FlagBroadcast)
	}
	if c.IsSet(FlagNoJournal) {
		cfg.Journal.Enabled = !c.Bool(FlagNoJournal)
	}
	if c.IsSet(FlagMetrics) {
		cfg.Metrics.Enabled = c.Bool(FlagMetrics)
	}
	if c.IsSet(FlagLogJSON) {
		cfg.Log.JSON = c.Bool(FlagLogJSON)
	}
}

// Load builds the configuration for a command.
//
// Precedence (highest wins):
// 1. Command-line flags
// 2. KLINGDROP_* environment variables
// 3. Config file
// 4. .env file
// 5. Network defaults
func Load(c *cli.Context) (*Config, error) {
	// .env may choose the network, so it is read first.
	envFiles := []string{".env"}
	if c.IsSet(FlagEnvFile) {
		envFiles = []string{c.String(FlagEnvFile)}
	}
	for _, path := range envFiles {
		if err := LoadDotEnv(path); err != nil {
			return nil, err
		}
	}

	network := Mainnet
	if v, ok := os.LookupEnv(EnvName("network")); ok {
		network = NetworkType(strings.ToLower(v))
	}
	if c.IsSet(FlagNetwork) {
		network = NetworkType(strings.ToLower(c.String(FlagNetwork)))
	}
	if c.Bool("testnet") {
		network = Testnet
	}

	cfg := Default(network)
	if v, ok := os.LookupEnv(EnvName("datadir")); ok && v != "" {
		cfg.DataDir = v
	}
	if c.IsSet(FlagDataDir) {
		cfg.DataDir = c.String(FlagDataDir)
	}

	if !c.IsSet(FlagEnvFile) {
		if err := LoadDotEnv(cfg.EnvFile()); err != nil {
			return nil, err
		}
	}

	if err := EnsureDataDirs(cfg); err != nil {
		return nil, fmt.Errorf("ensuring data dirs: %w", err)
	}

	configPath := cfg.ConfigFile()
	if c.IsSet(FlagConfig) {
		configPath = c.String(FlagConfig)
	}
	fileValues, err := LoadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config file: %w", err)
	}
	if err := ApplyFileConfig(cfg, fileValues); err != nil {
		return nil, fmt.Errorf("applying config file: %w", err)
	}

	if err := ApplyEnv(cfg, os.LookupEnv); err != nil {
		return nil, fmt.Errorf("applying environment: %w", err)
	}

	// The network and data directory chosen above stick.
	cfg.Network = network
	if c.IsSet(FlagDataDir) {
		cfg.DataDir = c.String(FlagDataDir)
	}
	ApplyFlags(cfg, c)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// EnsureDataDirs creates the data directory structure and a default config
// file if they don't already exist. This is idempotent.
func EnsureDataDirs(cfg *Config) error {
	dirs := []string{
		cfg.DataDir,
		cfg.NetworkDataDir(),
		cfg.LogsDir(),
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("creating directory %s: %w", dir, err)
		}
	}

	configPath := cfg.ConfigFile()
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		if err := WriteDefaultConfig(configPath, cfg.Network); err != nil {
			return fmt.Errorf("writing config file: %w", err)
		}
	}
	return nil
}
