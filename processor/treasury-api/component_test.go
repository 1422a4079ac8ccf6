package treasuryapi

import (
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"github.com/c360studio/semstreams/component"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewComponent_Unit(t *testing.T) {
	tests := []struct {
		name      string
		rawConfig json.RawMessage
		wantErr   bool
	}{
		{
			name:      "invalid JSON",
			rawConfig: json.RawMessage(`{invalid}`),
			wantErr:   true,
		},
		{
			name:      "negative shutdown timeout",
			rawConfig: json.RawMessage(`{"shutdown_timeout":-1}`),
			wantErr:   true,
		},
		{
			name:      "defaults applied",
			rawConfig: json.RawMessage(`{}`),
			wantErr:   false,
		},
		{
			name:      "explicit config",
			rawConfig: json.RawMessage(`{"listen_addr":":9090","admin":"ops"}`),
			wantErr:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			deps := component.Dependencies{
				Logger: slog.Default(),
			}
			_, err := NewComponent(tt.rawConfig, deps)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewComponent() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestNewComponent_Defaults(t *testing.T) {
	deps := component.Dependencies{Logger: slog.Default()}
	got, err := NewComponent(json.RawMessage(`{}`), deps)
	require.NoError(t, err)

	c, ok := got.(*Component)
	require.True(t, ok)
	assert.Equal(t, ":8080", c.config.ListenAddr)
	assert.Equal(t, "admin", c.config.Admin)
	assert.Equal(t, 10*time.Second, c.config.ShutdownTimeout)
}

func TestComponent_StartWithoutNATSClient(t *testing.T) {
	c := &Component{
		name:    "treasury-api",
		config:  DefaultConfig(),
		logger:  slog.Default(),
		metrics: NewMetrics(),
	}

	err := c.Start(t.Context())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "NATS client required")

	assert.NoError(t, c.Stop(time.Second))
}

func TestComponent_Ports(t *testing.T) {
	c := &Component{config: DefaultConfig()}

	assert.Empty(t, c.InputPorts())

	outputs := c.OutputPorts()
	require.Len(t, outputs, 1)
	assert.Equal(t, component.DirectionOutput, outputs[0].Direction)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{"defaults valid", DefaultConfig(), false},
		{"missing listen addr", Config{Admin: "admin", ShutdownTimeout: time.Second}, true},
		{"missing admin", Config{ListenAddr: ":8080", ShutdownTimeout: time.Second}, true},
		{"zero shutdown timeout", Config{ListenAddr: ":8080", Admin: "admin"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
