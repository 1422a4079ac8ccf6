package treasuryapi

import (
	"fmt"
	"reflect"
	"time"

	"github.com/c360studio/semstreams/component"
	"github.com/covault/covault/treasury"
)

// treasuryAPISchema holds the configuration schema generated from Config.
var treasuryAPISchema = component.GenerateConfigSchema(reflect.TypeOf(Config{}))

// Config holds configuration for the treasury-api component.
type Config struct {
	// ListenAddr is the address the HTTP server binds to.
	ListenAddr string `json:"listen_addr"`

	// Admin seeds the treasury admin identity on first startup. Once the
	// state record exists the seed is ignored.
	Admin string `json:"admin"`

	// Oracle optionally seeds the registered oracle identity on first
	// startup. Empty leaves the autonomous execution path disabled until
	// an admin registers one.
	Oracle string `json:"oracle,omitempty"`

	// BankSeed seeds the dev token bank accounts on first creation.
	BankSeed map[string]int64 `json:"bank_seed,omitempty"`

	// ShutdownTimeout bounds graceful HTTP shutdown.
	ShutdownTimeout time.Duration `json:"shutdown_timeout"`

	// Ports contains input/output port definitions.
	Ports *component.PortConfig `json:"ports,omitempty"`
}

// DefaultConfig returns sensible default configuration.
func DefaultConfig() Config {
	return Config{
		ListenAddr:      ":8080",
		Admin:           "admin",
		ShutdownTimeout: 10 * time.Second,
		Ports: &component.PortConfig{
			Outputs: []component.PortDefinition{
				{
					Name:        "treasury-events",
					Type:        "jetstream",
					Subject:     treasury.SubjectsWildcard,
					StreamName:  treasury.StreamName,
					Description: "Audit events for every treasury mutation",
					Required:    false,
				},
			},
		},
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("listen_addr is required")
	}
	if c.Admin == "" {
		return fmt.Errorf("admin is required")
	}
	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("shutdown_timeout must be positive")
	}
	return nil
}
