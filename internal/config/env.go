package config

import (
	"fmt"
	"os"
	"strconv"
)

// Environment variable names for overrides.
const (
	EnvConfig       = "EXACT_GO_CONFIG"
	EnvDivision     = "EXACT_GO_DIVISION"
	EnvClientID     = "EXACT_GO_CLIENT_ID"
	EnvClientSecret = "EXACT_GO_CLIENT_SECRET" //nolint:gosec // G101: variable name, not a credential
)

// EnvOverrides holds values derived from environment variables.
type EnvOverrides struct {
	ConfigPath   string // EXACT_GO_CONFIG: override config file path
	Division     string // EXACT_GO_DIVISION: division code
	ClientID     string // EXACT_GO_CLIENT_ID
	ClientSecret string // EXACT_GO_CLIENT_SECRET
}

// ReadEnvOverrides reads environment variables and returns any overrides found.
func ReadEnvOverrides() EnvOverrides {
	return EnvOverrides{
		ConfigPath:   os.Getenv(EnvConfig),
		Division:     os.Getenv(EnvDivision),
		ClientID:     os.Getenv(EnvClientID),
		ClientSecret: os.Getenv(EnvClientSecret),
	}
}

// apply copies the set environment values into cfg.
func (e EnvOverrides) apply(cfg *Config) error {
	if e.Division != "" {
		d, err := strconv.Atoi(e.Division)
		if err != nil {
			return fmt.Errorf("%s: invalid division %q", EnvDivision, e.Division)
		}

		cfg.API.Division = d
	}

	if e.ClientID != "" {
		cfg.API.ClientID = e.ClientID
	}

	if e.ClientSecret != "" {
		cfg.API.ClientSecret = e.ClientSecret
	}

	return nil
}
