package config

import (
	"time"

	"github.com/Klingon-tech/klingdrop/pkg/types"
)

// DefaultMainnet returns the default configuration for mainnet.
func DefaultMainnet() *Config {
	return &Config{
		Network: Mainnet,
		DataDir: DefaultDataDir(),
		Chain: ChainConfig{
			Name: "bitcoin",
		},
		Esplora: EsploraConfig{
			URL:       "https://blockstream.info/api",
			Timeout:   10 * time.Second,
			FeeTarget: 6,
		},
		Tatum: TatumConfig{
			URL: "https://api.tatum.io",
		},
		Ledger: LedgerConfig{
			NetworkID: "mainnet",
			RPCURL:    "https://rpc.mainnet.near.org",
			Timeout:   30 * time.Second,
		},
		Derive: DeriveConfig{
			// The contract signs claims under this path.
			Path: "drop_path,1",
		},
		Claim: ClaimConfig{
			DropSats:    types.DefaultDropSats,
			Concurrency: 4,
			Broadcast:   false,
			Relay:       RelayEsplora,
		},
		Journal: JournalConfig{
			Enabled: true,
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Addr:    "127.0.0.1:9464",
		},
		Log: LogConfig{
			Level: "info",
			JSON:  false,
		},
	}
}

// DefaultTestnet returns the default configuration for testnet.
func DefaultTestnet() *Config {
	cfg := DefaultMainnet()
	cfg.Network = Testnet
	cfg.Esplora.URL = "https://blockstream.info/testnet/api"
	cfg.Ledger.NetworkID = "testnet"
	cfg.Ledger.RPCURL = "https://rpc.testnet.near.org"
	return cfg
}

// Default returns the default configuration for the given network.
func Default(network NetworkType) *Config {
	switch network {
	case Testnet:
		return DefaultTestnet()
	default:
		return DefaultMainnet()
	}
}
