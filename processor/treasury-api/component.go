// Package treasuryapi provides the HTTP surface of the treasury: membership
// administration, deposits, proposal creation, voting, execution, and
// read-only views of the aggregate state, plus /health and /metrics.
package treasuryapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/c360studio/semstreams/component"
	"github.com/c360studio/semstreams/natsclient"
	"github.com/covault/covault/treasury"
)

// Component implements the treasury-api processor.
type Component struct {
	name       string
	config     Config
	natsClient *natsclient.Client
	logger     *slog.Logger

	ledger  *treasury.Ledger
	metrics *Metrics
	server  *http.Server

	// Lifecycle
	running   bool
	startTime time.Time
	mu        sync.RWMutex
	cancel    context.CancelFunc
}

var _ component.LifecycleComponent = (*Component)(nil)

// NewComponent creates a new treasury-api processor.
func NewComponent(rawConfig json.RawMessage, deps component.Dependencies) (component.Discoverable, error) {
	var config Config
	if err := json.Unmarshal(rawConfig, &config); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	defaults := DefaultConfig()
	if config.ListenAddr == "" {
		config.ListenAddr = defaults.ListenAddr
	}
	if config.Admin == "" {
		config.Admin = defaults.Admin
	}
	if config.ShutdownTimeout == 0 {
		config.ShutdownTimeout = defaults.ShutdownTimeout
	}
	if config.Ports == nil {
		config.Ports = defaults.Ports
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	c := &Component{
		name:       "treasury-api",
		config:     config,
		natsClient: deps.NATSClient,
		logger:     deps.GetLogger(),
		metrics:    NewMetrics(),
	}

	if deps.NATSClient != nil {
		js, err := deps.NATSClient.JetStream()
		if err != nil {
			return nil, fmt.Errorf("get jetstream: %w", err)
		}

		ctx := context.Background()

		if err := treasury.EnsureStream(ctx, js); err != nil {
			return nil, fmt.Errorf("ensure treasury stream: %w", err)
		}

		store, err := treasury.NewStore(ctx, js)
		if err != nil {
			return nil, fmt.Errorf("create treasury store: %w", err)
		}

		if _, err := store.EnsureState(ctx, treasury.State{
			Admin:  config.Admin,
			Oracle: config.Oracle,
		}); err != nil {
			return nil, fmt.Errorf("seed treasury state: %w", err)
		}

		bank, err := treasury.NewKVTokenBank(ctx, js, config.BankSeed)
		if err != nil {
			return nil, fmt.Errorf("create token bank: %w", err)
		}

		c.ledger = treasury.NewLedger(store, bank, treasury.NewJSPublisher(js), "treasury-api", c.logger)
	}

	return c, nil
}

// Initialize prepares the component.
func (c *Component) Initialize() error {
	c.logger.Debug("Initialized treasury-api",
		"listen_addr", c.config.ListenAddr,
		"admin", c.config.Admin)
	return nil
}

// Start begins serving HTTP requests.
func (c *Component) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return fmt.Errorf("component already running")
	}
	if c.ledger == nil {
		c.mu.Unlock()
		return fmt.Errorf("NATS client required")
	}

	c.running = true
	c.startTime = time.Now()

	srvCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	c.server = &http.Server{
		Addr:              c.config.ListenAddr,
		Handler:           c.newRouter(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	server := c.server
	c.mu.Unlock()

	go func() {
		c.logger.Info("treasury-api listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			c.logger.Error("HTTP server failed", "error", err)
		}
	}()

	go func() {
		<-srvCtx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), c.config.ShutdownTimeout)
		defer shutdownCancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			c.logger.Warn("HTTP shutdown incomplete", "error", err)
		}
	}()

	return nil
}

// Stop gracefully stops the component.
func (c *Component) Stop(_ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running {
		return nil
	}

	if c.cancel != nil {
		c.cancel()
	}

	c.running = false
	c.logger.Info("treasury-api stopped")
	return nil
}

// Meta returns component metadata.
func (c *Component) Meta() component.Metadata {
	return component.Metadata{
		Name:        "treasury-api",
		Type:        "processor",
		Description: "HTTP surface for treasury membership, deposits, proposals and voting",
		Version:     "0.1.0",
	}
}

// InputPorts returns an empty port list — this component has no NATS inputs.
func (c *Component) InputPorts() []component.Port {
	return []component.Port{}
}

// OutputPorts returns configured output port definitions.
func (c *Component) OutputPorts() []component.Port {
	if c.config.Ports == nil {
		return []component.Port{}
	}

	ports := make([]component.Port, len(c.config.Ports.Outputs))
	for i, portDef := range c.config.Ports.Outputs {
		ports[i] = component.Port{
			Name:        portDef.Name,
			Direction:   component.DirectionOutput,
			Required:    portDef.Required,
			Description: portDef.Description,
			Config: component.NATSPort{
				Subject: portDef.Subject,
			},
		}
	}
	return ports
}

// ConfigSchema returns the configuration schema.
func (c *Component) ConfigSchema() component.ConfigSchema {
	return treasuryAPISchema
}

// Health returns the current health status.
func (c *Component) Health() component.HealthStatus {
	c.mu.RLock()
	running := c.running
	startTime := c.startTime
	c.mu.RUnlock()

	status := "stopped"
	if running {
		status = "running"
	}

	return component.HealthStatus{
		Healthy:   running,
		LastCheck: time.Now(),
		Uptime:    time.Since(startTime),
		Status:    status,
	}
}

// DataFlow returns current data flow metrics.
func (c *Component) DataFlow() component.FlowMetrics {
	return component.FlowMetrics{}
}
