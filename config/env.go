package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// EnvPrefix prefixes the environment variable of every config key.
const EnvPrefix = "KLINGDROP_"

// legacyEnv maps variables of older deployments to config keys.
var legacyEnv = map[string]string{
	"REACT_APP_contractId": "ledger.contract",
	"MPC_PUBLIC_KEY":       "derive.root_key",
	"MPC_PATH":             "derive.path",
	"TATUM_API_KEY":        "tatum.api_key",
}

// EnvName returns the environment variable for a config key,
// e.g. "ledger.rpc" -> "KLINGDROP_LEDGER_RPC".
func EnvName(key string) string {
	return EnvPrefix + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

// LoadDotEnv loads variables from a .env file into the process
// environment. Variables already set win. A missing file is not an error.
func LoadDotEnv(path string) error {
	err := godotenv.Load(path)
	if err == nil || errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return fmt.Errorf("load %s: %w", path, err)
}

// ApplyEnv applies environment variables to cfg. lookup is usually
// os.LookupEnv. KLINGDROP_* variables take precedence over legacy names.
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	if lookup == nil {
		lookup = os.LookupEnv
	}

	values := make(map[string]string)
	for name, key := range legacyEnv {
		if v, ok := lookup(name); ok && v != "" {
			values[key] = v
		}
	}
	for _, key := range Keys {
		if v, ok := lookup(EnvName(key)); ok {
			values[key] = v
		}
	}

	for key, value := range values {
		if err := setConfigValue(cfg, key, value); err != nil {
			return fmt.Errorf("env %s: %w", EnvName(key), err)
		}
	}
	return nil
}
