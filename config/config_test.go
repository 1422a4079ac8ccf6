package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.NATS.URL != "nats://localhost:4222" {
		t.Errorf("expected default NATS URL nats://localhost:4222, got %s", cfg.NATS.URL)
	}
	if cfg.Treasury.Admin != "admin" {
		t.Errorf("expected default admin, got %s", cfg.Treasury.Admin)
	}
	if cfg.API.ListenAddr != ":8080" {
		t.Errorf("expected default listen addr :8080, got %s", cfg.API.ListenAddr)
	}
	if cfg.Oracle.ConsumerName != "oracle-engine" {
		t.Errorf("expected default consumer oracle-engine, got %s", cfg.Oracle.ConsumerName)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{
			name:    "valid default config",
			modify:  func(c *Config) {},
			wantErr: false,
		},
		{
			name:    "missing NATS URL",
			modify:  func(c *Config) { c.NATS.URL = "" },
			wantErr: true,
		},
		{
			name:    "missing admin",
			modify:  func(c *Config) { c.Treasury.Admin = "" },
			wantErr: true,
		},
		{
			name:    "missing listen addr",
			modify:  func(c *Config) { c.API.ListenAddr = "" },
			wantErr: true,
		},
		{
			name:    "negative bank seed",
			modify:  func(c *Config) { c.Treasury.BankSeed = map[string]int64{"alice": -5} },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoadFromFile(t *testing.T) {
	// Create temp file with config
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	content := `
nats:
  url: "nats://test:4222"
  name: "covault-test"
treasury:
  admin: "ops"
  oracle: "oracle-1"
  bank_seed:
    alice: 1000
    bob: 500
api:
  listen_addr: ":9090"
  shutdown_timeout: 30s
oracle:
  identity: "oracle-1"
  fetch_timeout: 2s
  rules_path: "/etc/covault/rules.yaml"
`
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := LoadFromFile(configPath)
	if err != nil {
		t.Fatalf("LoadFromFile() error = %v", err)
	}

	if cfg.NATS.URL != "nats://test:4222" {
		t.Errorf("expected NATS URL nats://test:4222, got %s", cfg.NATS.URL)
	}
	if cfg.Treasury.Admin != "ops" {
		t.Errorf("expected admin ops, got %s", cfg.Treasury.Admin)
	}
	if cfg.Treasury.Oracle != "oracle-1" {
		t.Errorf("expected oracle oracle-1, got %s", cfg.Treasury.Oracle)
	}
	if cfg.Treasury.BankSeed["alice"] != 1000 {
		t.Errorf("expected alice seed 1000, got %d", cfg.Treasury.BankSeed["alice"])
	}
	if cfg.API.ListenAddr != ":9090" {
		t.Errorf("expected listen addr :9090, got %s", cfg.API.ListenAddr)
	}
	if cfg.API.ShutdownTimeout != 30*time.Second {
		t.Errorf("expected shutdown timeout 30s, got %v", cfg.API.ShutdownTimeout)
	}
	if cfg.Oracle.FetchTimeout != 2*time.Second {
		t.Errorf("expected fetch timeout 2s, got %v", cfg.Oracle.FetchTimeout)
	}
	if cfg.Oracle.RulesPath != "/etc/covault/rules.yaml" {
		t.Errorf("expected rules path /etc/covault/rules.yaml, got %s", cfg.Oracle.RulesPath)
	}
	// Unset fields keep their defaults.
	if cfg.NATS.ReconnectWait != 2*time.Second {
		t.Errorf("expected default reconnect wait, got %v", cfg.NATS.ReconnectWait)
	}
}

func TestConfigMerge(t *testing.T) {
	base := DefaultConfig()
	override := &Config{
		NATS: NATSConfig{
			URL: "nats://override:4222",
		},
		Treasury: TreasuryConfig{
			Oracle: "oracle-2",
		},
	}

	base.Merge(override)

	if base.NATS.URL != "nats://override:4222" {
		t.Errorf("expected NATS URL nats://override:4222, got %s", base.NATS.URL)
	}
	// Admin should remain from base since override didn't set it
	if base.Treasury.Admin != "admin" {
		t.Errorf("expected admin to remain default, got %s", base.Treasury.Admin)
	}
	if base.Treasury.Oracle != "oracle-2" {
		t.Errorf("expected oracle oracle-2, got %s", base.Treasury.Oracle)
	}
}

func TestConfigSaveToFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "subdir", "config.yaml")

	cfg := DefaultConfig()
	cfg.Treasury.Admin = "saved-admin"

	if err := cfg.SaveToFile(configPath); err != nil {
		t.Fatalf("SaveToFile() error = %v", err)
	}

	// Verify file was created
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		t.Error("config file was not created")
	}

	// Load and verify
	loaded, err := LoadFromFile(configPath)
	if err != nil {
		t.Fatalf("failed to load saved config: %v", err)
	}
	if loaded.Treasury.Admin != "saved-admin" {
		t.Errorf("expected admin saved-admin, got %s", loaded.Treasury.Admin)
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("NATS_URL", "nats://generic:4222")
	t.Setenv("COVAULT_NATS_URL", "nats://specific:4222")
	t.Setenv("COVAULT_ADMIN", "env-admin")

	cfg := DefaultConfig()
	NewLoader(nil).applyEnv(cfg)

	if cfg.NATS.URL != "nats://specific:4222" {
		t.Errorf("expected COVAULT_NATS_URL to win, got %s", cfg.NATS.URL)
	}
	if cfg.Treasury.Admin != "env-admin" {
		t.Errorf("expected admin env-admin, got %s", cfg.Treasury.Admin)
	}
}
