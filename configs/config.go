package configs

import (
	"fmt"
	"os"

	"github.com/ChoSanghyuk/gaslessbridge"
	"gopkg.in/yaml.v3"
)

// Config mirrors config.yml. Env-specific secrets (private keys, DSNs) are
// loaded separately via godotenv, never committed to this file.
type Config struct {
	ListenAddr string                   `yaml:"listenAddr"`
	DatabaseDSN string                  `yaml:"-"` // never read from YAML; cmd reads BRIDGE_DB_DSN itself and leaves this unset
	Bridge     gaslessbridge.BridgeConfig `yaml:"bridge"`
}

// LoadConfig reads and parses config.yml into a Config struct.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config YAML: %w", err)
	}
	if config.ListenAddr == "" {
		config.ListenAddr = ":8080"
	}
	return &config, nil
}

// Validate checks the loaded bridge configuration for the invariants the
// settlement engine assumes hold at startup.
func (c *Config) Validate() error {
	b := c.Bridge
	if b.MinQuoteAmountUSD <= 0 || b.MaxQuoteAmountUSD <= b.MinQuoteAmountUSD {
		return gaslessbridge.ConfigError("invalid quote amount bounds: min=%.2f max=%.2f", b.MinQuoteAmountUSD, b.MaxQuoteAmountUSD)
	}
	if b.QuoteValidityMins <= 0 {
		return gaslessbridge.ConfigError("quoteValidityMinutes must be positive")
	}
	if b.MaxSettlementRetries < 0 {
		return gaslessbridge.ConfigError("maxSettlementRetries must be non-negative")
	}
	if len(b.SupportedChains) == 0 {
		return gaslessbridge.ConfigError("at least one supported chain is required")
	}
	for _, c := range b.SupportedChains {
		if len(c.RpcURLs) == 0 {
			return gaslessbridge.ConfigError("chain %d (%s) has no configured rpc endpoints", c.ChainID, c.Name)
		}
	}
	return nil
}
