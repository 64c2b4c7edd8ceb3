package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Keys lists every configuration key, in file order.
var Keys = []string{
	"network",
	"datadir",
	"chain",
	"esplora.url",
	"esplora.timeout",
	"esplora.fee_target",
	"tatum.url",
	"tatum.api_key",
	"ledger.network",
	"ledger.rpc",
	"ledger.contract",
	"ledger.owner",
	"ledger.timeout",
	"derive.url",
	"derive.root_key",
	"derive.path",
	"claim.drop_sats",
	"claim.concurrency",
	"claim.broadcast",
	"claim.relay",
	"journal.enabled",
	"metrics.enabled",
	"metrics.addr",
	"log.level",
	"log.file",
	"log.json",
}

// LoadFile loads configuration from a .conf file.
// Format: key = value (one per line, # for comments)
func LoadFile(path string) (map[string]string, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return make(map[string]string), nil
		}
		return nil, err
	}
	defer file.Close()

	values := make(map[string]string)
	scanner := bufio.NewScanner(file)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		// Skip empty lines and comments
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("line %d: invalid format (expected key = value)", lineNum)
		}

		key := strings.TrimSpace(parts[0])
		values[key] = unquote(strings.TrimSpace(parts[1]))
	}

	return values, scanner.Err()
}

func unquote(value string) string {
	if len(value) >= 2 {
		if (value[0] == '"' && value[len(value)-1] == '"') ||
			(value[0] == '\'' && value[len(value)-1] == '\'') {
			return value[1 : len(value)-1]
		}
	}
	return value
}

// ApplyFileConfig applies file configuration to a Config struct.
func ApplyFileConfig(cfg *Config, values map[string]string) error {
	for key, value := range values {
		if err := setConfigValue(cfg, key, value); err != nil {
			return fmt.Errorf("config key %q: %w", key, err)
		}
	}
	return nil
}

// setConfigValue sets a config value by key.
func setConfigValue(cfg *Config, key, value string) error {
	switch key {
	// Core
	case "network":
		cfg.Network = NetworkType(strings.ToLower(value))
	case "datadir":
		cfg.DataDir = value
	case "chain":
		cfg.Chain.Name = strings.ToLower(value)

	// Esplora
	case "esplora.url":
		cfg.Esplora.URL = value
	case "esplora.timeout":
		d, err := time.ParseDuration(value)
		if err != nil {
			return err
		}
		cfg.Esplora.Timeout = d
	case "esplora.fee_target":
		n, err := strconv.Atoi(value)
		if err != nil {
			return err
		}
		cfg.Esplora.FeeTarget = n

	// Tatum
	case "tatum.url":
		cfg.Tatum.URL = value
	case "tatum.api_key":
		cfg.Tatum.APIKey = value

	// Ledger
	case "ledger.network":
		cfg.Ledger.NetworkID = value
	case "ledger.rpc":
		cfg.Ledger.RPCURL = value
	case "ledger.contract", "contract":
		cfg.Ledger.ContractID = value
	case "ledger.owner":
		cfg.Ledger.OwnerID = value
	case "ledger.timeout":
		d, err := time.ParseDuration(value)
		if err != nil {
			return err
		}
		cfg.Ledger.Timeout = d

	// Derivation
	case "derive.url":
		cfg.Derive.URL = value
	case "derive.root_key":
		cfg.Derive.RootPublicKey = value
	case "derive.path":
		cfg.Derive.Path = value

	// Claim
	case "claim.drop_sats":
		n, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			return err
		}
		cfg.Claim.DropSats = n
	case "claim.concurrency":
		n, err := strconv.Atoi(value)
		if err != nil {
			return err
		}
		cfg.Claim.Concurrency = n
	case "claim.broadcast", "broadcast":
		cfg.Claim.Broadcast = parseBool(value)
	case "claim.relay":
		cfg.Claim.Relay = strings.ToLower(value)

	// Journal
	case "journal.enabled", "journal":
		cfg.Journal.Enabled = parseBool(value)

	// Metrics
	case "metrics.enabled", "metrics":
		cfg.Metrics.Enabled = parseBool(value)
	case "metrics.addr":
		cfg.Metrics.Addr = value

	// Logging
	case "log.level":
		cfg.Log.Level = value
	case "log.file":
		cfg.Log.File = value
	case "log.json":
		cfg.Log.JSON = parseBool(value)

	default:
		// Unknown keys are ignored
	}
	return nil
}

// parseBool parses a boolean value.
func parseBool(s string) bool {
	s = strings.ToLower(s)
	return s == "true" || s == "1" || s == "yes" || s == "on"
}

// WriteDefaultConfig writes a default configuration file.
func WriteDefaultConfig(path string, network NetworkType) error {
	cfg := Default(network)
	content := `# klingdrop configuration
#
# Signing keys do not belong here. Pass them with --secret-key,
# KLINGDROP_SECRET_KEY, or type them at the prompt.

# Settings for ` + string(network) + `. Select the network with --network.

# UTXO chain: bitcoin or dogecoin
chain = ` + cfg.Chain.Name + `

# ============================================================================
# Esplora (UTXO index, fee estimates, broadcast)
# ============================================================================

esplora.url = ` + cfg.Esplora.URL + `
esplora.timeout = ` + cfg.Esplora.Timeout.String() + `
esplora.fee_target = ` + strconv.Itoa(cfg.Esplora.FeeTarget) + `

# ============================================================================
# Tatum (dogecoin broadcast)
# ============================================================================

# tatum.url = ` + cfg.Tatum.URL + `
# tatum.api_key =

# ============================================================================
# Ledger
# ============================================================================

ledger.network = ` + cfg.Ledger.NetworkID + `
ledger.rpc = ` + cfg.Ledger.RPCURL + `
# ledger.contract = drop.` + cfg.Ledger.NetworkID + `
# ledger.owner = owner.` + cfg.Ledger.NetworkID + `
ledger.timeout = ` + cfg.Ledger.Timeout.String() + `

# ============================================================================
# Address derivation
# ============================================================================

# derive.url = http://127.0.0.1:3030
# derive.root_key = secp256k1:...
derive.path = ` + cfg.Derive.Path + `

# ============================================================================
# Claims
# ============================================================================

claim.drop_sats = ` + strconv.FormatUint(cfg.Claim.DropSats, 10) + `
claim.concurrency = ` + strconv.Itoa(cfg.Claim.Concurrency) + `
claim.broadcast = false
# esplora or tatum
claim.relay = ` + cfg.Claim.Relay + `

journal.enabled = true

# ============================================================================
# Metrics
# ============================================================================

metrics.enabled = false
metrics.addr = ` + cfg.Metrics.Addr + `

# ============================================================================
# Logging
# ============================================================================

log.level = info
# log.file =
log.json = false
`
	return os.WriteFile(path, []byte(content), 0644)
}
