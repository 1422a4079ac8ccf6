// Package config provides configuration loading and management for Covault.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete Covault configuration
type Config struct {
	NATS     NATSConfig     `yaml:"nats"`
	Treasury TreasuryConfig `yaml:"treasury"`
	API      APIConfig      `yaml:"api"`
	Oracle   OracleConfig   `yaml:"oracle"`
}

// NATSConfig configures the NATS connection
type NATSConfig struct {
	// URL is the NATS server URL
	URL string `yaml:"url"`
	// Name is the client connection name reported to the server
	Name string `yaml:"name"`
	// MaxReconnects bounds reconnection attempts (-1 = unlimited)
	MaxReconnects int `yaml:"max_reconnects"`
	// ReconnectWait is the delay between reconnection attempts
	ReconnectWait time.Duration `yaml:"reconnect_wait"`
}

// TreasuryConfig configures the shared treasury state seeds
type TreasuryConfig struct {
	// Admin seeds the admin identity when the state record is first created
	Admin string `yaml:"admin"`
	// Oracle seeds the registered oracle identity (empty = disabled)
	Oracle string `yaml:"oracle"`
	// BankSeed seeds the dev token bank accounts on first creation
	BankSeed map[string]int64 `yaml:"bank_seed"`
}

// APIConfig configures the HTTP API component
type APIConfig struct {
	// ListenAddr is the address the HTTP server binds to
	ListenAddr string `yaml:"listen_addr"`
	// ShutdownTimeout bounds graceful HTTP shutdown
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// OracleConfig configures the oracle decision engine component
type OracleConfig struct {
	// Identity is the identity the engine executes as
	Identity string `yaml:"identity"`
	// ConsumerName is the durable consumer name on the event stream
	ConsumerName string `yaml:"consumer_name"`
	// FetchTimeout bounds each event fetch
	FetchTimeout time.Duration `yaml:"fetch_timeout"`
	// RulesPath optionally points at a hot-reloaded YAML thresholds file
	RulesPath string `yaml:"rules_path"`
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		NATS: NATSConfig{
			URL:           "nats://localhost:4222",
			Name:          "covault",
			MaxReconnects: -1,
			ReconnectWait: 2 * time.Second,
		},
		Treasury: TreasuryConfig{
			Admin: "admin",
		},
		API: APIConfig{
			ListenAddr:      ":8080",
			ShutdownTimeout: 10 * time.Second,
		},
		Oracle: OracleConfig{
			Identity:     "oracle",
			ConsumerName: "oracle-engine",
			FetchTimeout: 5 * time.Second,
		},
	}
}

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	if c.NATS.URL == "" {
		return fmt.Errorf("nats.url is required")
	}
	if c.Treasury.Admin == "" {
		return fmt.Errorf("treasury.admin is required")
	}
	if c.API.ListenAddr == "" {
		return fmt.Errorf("api.listen_addr is required")
	}
	for identity, amount := range c.Treasury.BankSeed {
		if amount < 0 {
			return fmt.Errorf("treasury.bank_seed[%s] must not be negative", identity)
		}
	}
	return nil
}

// LoadFromFile loads configuration from a YAML file
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// SaveToFile saves configuration to a YAML file
func (c *Config) SaveToFile(path string) error {
	// Ensure parent directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Merge merges another config into this one (other takes precedence for non-zero values)
func (c *Config) Merge(other *Config) {
	if other == nil {
		return
	}

	// NATS
	if other.NATS.URL != "" {
		c.NATS.URL = other.NATS.URL
	}
	if other.NATS.Name != "" {
		c.NATS.Name = other.NATS.Name
	}
	if other.NATS.MaxReconnects != 0 {
		c.NATS.MaxReconnects = other.NATS.MaxReconnects
	}
	if other.NATS.ReconnectWait != 0 {
		c.NATS.ReconnectWait = other.NATS.ReconnectWait
	}

	// Treasury
	if other.Treasury.Admin != "" {
		c.Treasury.Admin = other.Treasury.Admin
	}
	if other.Treasury.Oracle != "" {
		c.Treasury.Oracle = other.Treasury.Oracle
	}
	if len(other.Treasury.BankSeed) > 0 {
		c.Treasury.BankSeed = other.Treasury.BankSeed
	}

	// API
	if other.API.ListenAddr != "" {
		c.API.ListenAddr = other.API.ListenAddr
	}
	if other.API.ShutdownTimeout != 0 {
		c.API.ShutdownTimeout = other.API.ShutdownTimeout
	}

	// Oracle
	if other.Oracle.Identity != "" {
		c.Oracle.Identity = other.Oracle.Identity
	}
	if other.Oracle.ConsumerName != "" {
		c.Oracle.ConsumerName = other.Oracle.ConsumerName
	}
	if other.Oracle.FetchTimeout != 0 {
		c.Oracle.FetchTimeout = other.Oracle.FetchTimeout
	}
	if other.Oracle.RulesPath != "" {
		c.Oracle.RulesPath = other.Oracle.RulesPath
	}
}
