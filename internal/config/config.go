// Package config provides configuration management for the desk.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	yaml "gopkg.in/yaml.v3"
)

// Defaults applied when optional fields are unset.
const (
	// defaultStartingCash seeds a brand-new simulated account
	defaultStartingCash = 100_000.0
	// defaultMarginMultiple converts starting cash into initial buying power
	defaultMarginMultiple = 2.0
	// defaultRefreshInterval is the monitor poll cadence
	defaultRefreshInterval = "30s"
	// defaultDashboardPort is the HTTP listen port
	defaultDashboardPort = 9847
)

// Config represents the complete application configuration.
type Config struct {
	Environment EnvironmentConfig `yaml:"environment"`
	Broker      BrokerConfig      `yaml:"broker"`
	Ledger      LedgerConfig      `yaml:"ledger"`
	Monitor     MonitorConfig     `yaml:"monitor"`
	Dashboard   DashboardConfig   `yaml:"dashboard"`
}

// EnvironmentConfig defines the environment settings.
type EnvironmentConfig struct {
	Mode     string `yaml:"mode"`      // sim | live
	LogLevel string `yaml:"log_level"` // debug | info | warn | error
}

// BrokerConfig defines brokerage API settings for live mode. Ignored in sim
// mode.
type BrokerConfig struct {
	Provider  string `yaml:"provider"`
	APIKey    string `yaml:"api_key"`
	AccountID string `yaml:"account_id"`
	Sandbox   bool   `yaml:"sandbox"`
	Timeout   string `yaml:"timeout"` // per-request timeout, e.g. "30s"
}

// LedgerConfig defines the simulated portfolio settings.
type LedgerConfig struct {
	Path           string  `yaml:"path"`
	StartingCash   float64 `yaml:"starting_cash"`
	MarginMultiple float64 `yaml:"margin_multiple"`
}

// MonitorConfig defines the background quote poller settings.
type MonitorConfig struct {
	Tickers         []string `yaml:"tickers"`
	RefreshInterval string   `yaml:"refresh_interval"`
}

// DashboardConfig defines the HTTP dashboard settings.
type DashboardConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Port      int    `yaml:"port"`
	AuthToken string `yaml:"auth_token"`
}

// Load reads and parses the configuration file from the specified path.
func Load(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = "config.yaml"
	}

	data, err := os.ReadFile(configPath) // #nosec G304 -- configPath is a user-provided config file path
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	var config Config
	dec := yaml.NewDecoder(strings.NewReader(expanded))
	dec.KnownFields(true)
	if err := dec.Decode(&config); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &config, nil
}

// applyDefaults fills unset optional fields before validation.
func (c *Config) applyDefaults() {
	if c.Environment.Mode == "" {
		c.Environment.Mode = "sim"
	}
	if c.Environment.LogLevel == "" {
		c.Environment.LogLevel = "info"
	}
	if c.Ledger.Path == "" {
		c.Ledger.Path = "portfolio.json"
	}
	if c.Ledger.StartingCash == 0 {
		c.Ledger.StartingCash = defaultStartingCash
	}
	if c.Ledger.MarginMultiple == 0 {
		c.Ledger.MarginMultiple = defaultMarginMultiple
	}
	if c.Monitor.RefreshInterval == "" {
		c.Monitor.RefreshInterval = defaultRefreshInterval
	}
	if c.Dashboard.Port == 0 {
		c.Dashboard.Port = defaultDashboardPort
	}
	if c.Broker.Provider == "" {
		c.Broker.Provider = "tradier"
	}
	if c.Broker.Timeout == "" {
		c.Broker.Timeout = "30s"
	}
}

// Validate checks that all configuration values are valid and consistent.
func (c *Config) Validate() error {
	// Environment validation
	if c.Environment.Mode != "sim" && c.Environment.Mode != "live" {
		return fmt.Errorf("environment.mode must be 'sim' or 'live'")
	}
	switch c.Environment.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("environment.log_level must be one of debug, info, warn, error")
	}

	// Broker validation applies only when the live path can be taken
	if c.Environment.Mode == "live" {
		if c.Broker.Provider != "tradier" {
			return fmt.Errorf("broker.provider %q is not supported", c.Broker.Provider)
		}
		if c.Broker.APIKey == "" {
			return fmt.Errorf("broker.api_key is required in live mode")
		}
		if c.Broker.AccountID == "" {
			return fmt.Errorf("broker.account_id is required in live mode")
		}
	}
	if _, err := time.ParseDuration(c.Broker.Timeout); err != nil {
		return fmt.Errorf("broker.timeout invalid: %w", err)
	}

	// Ledger validation
	if c.Ledger.StartingCash <= 0 {
		return fmt.Errorf("ledger.starting_cash must be > 0")
	}
	if c.Ledger.MarginMultiple < 1 {
		return fmt.Errorf("ledger.margin_multiple must be >= 1")
	}

	// Monitor validation
	if len(c.Monitor.Tickers) == 0 {
		return fmt.Errorf("monitor.tickers must list at least one symbol")
	}
	for _, t := range c.Monitor.Tickers {
		if strings.TrimSpace(t) == "" {
			return fmt.Errorf("monitor.tickers must not contain empty symbols")
		}
	}
	interval, err := time.ParseDuration(c.Monitor.RefreshInterval)
	if err != nil {
		return fmt.Errorf("monitor.refresh_interval invalid: %w", err)
	}
	if interval <= 0 {
		return fmt.Errorf("monitor.refresh_interval must be > 0")
	}

	// Dashboard validation
	if c.Dashboard.Port < 1 || c.Dashboard.Port > 65535 {
		return fmt.Errorf("dashboard.port must be between 1 and 65535")
	}

	return nil
}

// RefreshInterval returns the parsed monitor cadence. Validate must have
// succeeded first.
func (c *Config) RefreshInterval() time.Duration {
	d, err := time.ParseDuration(c.Monitor.RefreshInterval)
	if err != nil {
		return 0
	}
	return d
}

// BrokerTimeout returns the parsed per-request broker timeout.
func (c *Config) BrokerTimeout() time.Duration {
	d, err := time.ParseDuration(c.Broker.Timeout)
	if err != nil {
		return 0
	}
	return d
}

// IsLive reports whether the desk should trade through the real brokerage.
func (c *Config) IsLive() bool {
	return c.Environment.Mode == "live"
}
