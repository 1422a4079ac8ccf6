package oracleengine

import (
	"fmt"
	"reflect"
	"time"

	"github.com/c360studio/semstreams/component"
	"github.com/covault/covault/treasury"
)

// oracleSchema defines the configuration schema.
var oracleSchema = component.GenerateConfigSchema(reflect.TypeOf(Config{}))

// Config holds configuration for the oracle-engine component.
type Config struct {
	// Identity is the oracle identity this engine executes as. It must
	// match the ledger's registered oracle or every AutoExecute fails
	// authorization.
	Identity string `json:"identity"`

	// ConsumerName is the durable consumer name on the TREASURY stream.
	ConsumerName string `json:"consumer_name"`

	// FetchTimeout bounds each fetch so the loop can observe shutdown.
	FetchTimeout time.Duration `json:"fetch_timeout"`

	// Thresholds are the rule parameters applied at startup.
	Thresholds Thresholds `json:"thresholds"`

	// RulesPath optionally points at a YAML thresholds file that is
	// watched and hot-reloaded on change.
	RulesPath string `json:"rules_path,omitempty"`

	// BankSeed seeds the dev token bank accounts on first creation.
	BankSeed map[string]int64 `json:"bank_seed,omitempty"`

	// Ports contains input/output port definitions.
	Ports *component.PortConfig `json:"ports,omitempty"`
}

// DefaultConfig returns sensible default configuration.
func DefaultConfig() Config {
	return Config{
		Identity:     "oracle",
		ConsumerName: "oracle-engine",
		FetchTimeout: 5 * time.Second,
		Thresholds:   DefaultThresholds(),
		Ports: &component.PortConfig{
			Inputs: []component.PortDefinition{
				{
					Name:        "proposal-created",
					Type:        "jetstream",
					Subject:     treasury.SubjectProposalCreated,
					StreamName:  treasury.StreamName,
					Description: "Proposal creation events to evaluate",
					Required:    true,
				},
			},
			Outputs: []component.PortDefinition{
				{
					Name:        "proposal-executed",
					Type:        "jetstream",
					Subject:     treasury.SubjectExecuted,
					StreamName:  treasury.StreamName,
					Description: "Execution events for oracle-approved proposals",
					Required:    false,
				},
			},
		},
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Identity == "" {
		return fmt.Errorf("identity is required")
	}
	if c.ConsumerName == "" {
		return fmt.Errorf("consumer_name is required")
	}
	if c.FetchTimeout <= 0 {
		return fmt.Errorf("fetch_timeout must be positive")
	}
	if err := c.Thresholds.Validate(); err != nil {
		return fmt.Errorf("thresholds: %w", err)
	}
	return nil
}
