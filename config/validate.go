package config

import (
	"fmt"
	"net/url"

	"github.com/Klingon-tech/klingdrop/internal/derive"
)

// Validate checks config for obvious operator mistakes.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	if cfg.Network != Mainnet && cfg.Network != Testnet {
		return fmt.Errorf("network must be %q or %q", Mainnet, Testnet)
	}
	if _, err := derive.ChainParams(cfg.Chain.Name, string(cfg.Network)); err != nil {
		return fmt.Errorf("chain: %w", err)
	}

	if err := validateURL("esplora.url", cfg.Esplora.URL); err != nil {
		return err
	}
	if cfg.Esplora.FeeTarget <= 0 {
		return fmt.Errorf("esplora.fee_target must be positive")
	}
	if cfg.Esplora.Timeout < 0 || cfg.Ledger.Timeout < 0 {
		return fmt.Errorf("timeouts must not be negative")
	}

	if cfg.Ledger.NetworkID == "" {
		return fmt.Errorf("ledger.network is required")
	}
	if err := validateURL("ledger.rpc", cfg.Ledger.RPCURL); err != nil {
		return err
	}
	if cfg.Derive.URL != "" {
		if err := validateURL("derive.url", cfg.Derive.URL); err != nil {
			return err
		}
	}

	if cfg.Claim.DropSats == 0 {
		return fmt.Errorf("claim.drop_sats must be positive")
	}
	if cfg.Claim.Concurrency < 1 {
		return fmt.Errorf("claim.concurrency must be at least 1")
	}
	switch cfg.Claim.Relay {
	case RelayEsplora:
	case RelayTatum:
		if err := validateURL("tatum.url", cfg.Tatum.URL); err != nil {
			return err
		}
		if cfg.Claim.Broadcast && cfg.Tatum.APIKey == "" {
			return fmt.Errorf("claim.relay=tatum requires tatum.api_key")
		}
	default:
		return fmt.Errorf("claim.relay must be %q or %q", RelayEsplora, RelayTatum)
	}

	if cfg.Metrics.Enabled && cfg.Metrics.Addr == "" {
		return fmt.Errorf("metrics.addr is required when metrics are enabled")
	}
	return nil
}

func validateURL(field, raw string) error {
	if raw == "" {
		return fmt.Errorf("%s is required", field)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", field, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%s must be an http or https URL", field)
	}
	if u.Host == "" {
		return fmt.Errorf("%s has no host", field)
	}
	return nil
}
