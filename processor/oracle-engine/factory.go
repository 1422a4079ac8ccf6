package oracleengine

import (
	"fmt"

	"github.com/c360studio/semstreams/component"
)

// RegistryInterface defines the minimal interface needed for registration.
type RegistryInterface interface {
	RegisterWithConfig(component.RegistrationConfig) error
}

// Register registers the oracle-engine component with the given registry.
func Register(registry RegistryInterface) error {
	if registry == nil {
		return fmt.Errorf("registry cannot be nil")
	}
	return registry.RegisterWithConfig(component.RegistrationConfig{
		Name:        "oracle-engine",
		Factory:     NewComponent,
		Schema:      oracleSchema,
		Type:        "processor",
		Protocol:    "treasury",
		Domain:      "treasury",
		Description: "Evaluates new proposals against the autonomous spending policy",
		Version:     "0.1.0",
	})
}
