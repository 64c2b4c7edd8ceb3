// Package config handles klingdrop configuration.
//
// Settings are layered, lowest precedence first: network defaults, a .env
// file, the klingdrop.conf file, KLINGDROP_* environment variables, and
// command-line flags. Signing keys are never part of the configuration.
package config

import (
	"os"
	"path/filepath"
	"runtime"
	"time"
)

// NetworkType identifies mainnet or testnet.
type NetworkType string

const (
	Mainnet NetworkType = "mainnet"
	Testnet NetworkType = "testnet"
)

// Broadcast relays.
const (
	RelayEsplora = "esplora"
	RelayTatum   = "tatum"
)

// Config holds klingdrop runtime configuration.
type Config struct {
	// Core
	Network NetworkType `conf:"network"`
	DataDir string      `conf:"datadir"`

	// UTXO chain being paid out on
	Chain ChainConfig

	// UTXO index, fee estimator and default relay
	Esplora EsploraConfig

	// Dogecoin relay
	Tatum TatumConfig

	// Remote contract ledger
	Ledger LedgerConfig

	// Address derivation service
	Derive DeriveConfig

	// Claim pipeline
	Claim ClaimConfig

	// Claim journal
	Journal JournalConfig

	// Prometheus endpoint
	Metrics MetricsConfig

	// Logging
	Log LogConfig
}

// ChainConfig selects the UTXO chain.
type ChainConfig struct {
	Name string `conf:"chain"` // bitcoin or dogecoin
}

// EsploraConfig holds Esplora API settings.
type EsploraConfig struct {
	URL       string        `conf:"esplora.url"`
	Timeout   time.Duration `conf:"esplora.timeout"`
	FeeTarget int           `conf:"esplora.fee_target"` // confirmation target in blocks
}

// TatumConfig holds Tatum API settings.
type TatumConfig struct {
	URL    string `conf:"tatum.url"`
	APIKey string `conf:"tatum.api_key"`
}

// LedgerConfig holds NEAR settings.
type LedgerConfig struct {
	NetworkID  string        `conf:"ledger.network"`
	RPCURL     string        `conf:"ledger.rpc"`
	ContractID string        `conf:"ledger.contract"`
	OwnerID    string        `conf:"ledger.owner"`
	Timeout    time.Duration `conf:"ledger.timeout"`
}

// DeriveConfig holds derivation service settings.
type DeriveConfig struct {
	URL           string `conf:"derive.url"`
	RootPublicKey string `conf:"derive.root_key"`
	Path          string `conf:"derive.path"`
}

// ClaimConfig holds claim pipeline settings.
type ClaimConfig struct {
	DropSats    uint64 `conf:"claim.drop_sats"`
	Concurrency int    `conf:"claim.concurrency"`
	Broadcast   bool   `conf:"claim.broadcast"`
	Relay       string `conf:"claim.relay"` // esplora or tatum
}

// JournalConfig holds claim journal settings.
type JournalConfig struct {
	Enabled bool `conf:"journal.enabled"`
}

// MetricsConfig holds Prometheus settings.
type MetricsConfig struct {
	Enabled bool   `conf:"metrics.enabled"`
	Addr    string `conf:"metrics.addr"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `conf:"log.level"`
	File  string `conf:"log.file"`
	JSON  bool   `conf:"log.json"`
}

// DefaultDataDir returns the platform-specific default data directory.
//
//	Linux:   ~/.klingdrop
//	macOS:   ~/Library/Application Support/Klingdrop
//	Windows: %APPDATA%\Klingdrop
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".klingdrop"
	}
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", "Klingdrop")
	case "windows":
		appData := os.Getenv("APPDATA")
		if appData != "" {
			return filepath.Join(appData, "Klingdrop")
		}
		return filepath.Join(home, "AppData", "Roaming", "Klingdrop")
	default:
		return filepath.Join(home, ".klingdrop")
	}
}

// NetworkDataDir returns the network-specific data directory.
func (c *Config) NetworkDataDir() string {
	return filepath.Join(c.DataDir, string(c.Network))
}

// JournalDir returns the claim journal database directory.
func (c *Config) JournalDir() string {
	return filepath.Join(c.NetworkDataDir(), "journal")
}

// LogsDir returns the logs directory.
func (c *Config) LogsDir() string {
	return filepath.Join(c.DataDir, "logs")
}

// ConfigFile returns the config file path. Each network has its own file
// since endpoints differ between networks.
func (c *Config) ConfigFile() string {
	return filepath.Join(c.NetworkDataDir(), "klingdrop.conf")
}

// EnvFile returns the .env file path.
func (c *Config) EnvFile() string {
	return filepath.Join(c.DataDir, ".env")
}
