// Package main provides the covault binary entry point.
// Covault is a shared-custody treasury service: members pool a fungible
// token, vote on expenditure proposals, and an oracle identity settles
// routine spending autonomously under a deterministic policy.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/c360studio/semstreams/component"
	"github.com/c360studio/semstreams/natsclient"
	"github.com/spf13/cobra"

	"github.com/covault/covault/config"
	oracleengine "github.com/covault/covault/processor/oracle-engine"
	treasuryapi "github.com/covault/covault/processor/treasury-api"
	"github.com/covault/covault/treasury"
)

const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "covault"
)

func main() {
	// Add panic recovery
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var (
		configPath string
		logLevel   string
	)

	cmd := &cobra.Command{
		Use:   "covault",
		Short: "Shared-custody treasury service",
		Long: `Covault is a shared-custody treasury for a group of members.

It provides:
- Pooled token deposits with per-member accounting
- Expenditure proposals approved by strict majority vote
- An oracle identity that settles routine spending under a
  deterministic, hot-reloadable rule policy
- A full audit trail of every mutation on a JetStream event stream

All state lives in NATS JetStream; the HTTP API and the oracle engine
run as semstreams components inside this binary.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configPath, logLevel)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Config file path (YAML)")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")

	// Version command
	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("%s version %s (build: %s)\n", appName, Version, BuildTime)
		},
	})

	return cmd
}

func run(configPath, logLevel string) error {
	// Configure logging
	level := slog.LevelInfo
	switch strings.ToLower(logLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	// Load configuration
	cfg, err := loadConfig(configPath, logger)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// Connect to NATS
	ctx := context.Background()
	natsClient, err := connectToNATS(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer natsClient.Close(ctx)

	// Ensure the treasury event stream exists before any component publishes
	js, err := natsClient.JetStream()
	if err != nil {
		return fmt.Errorf("get jetstream: %w", err)
	}
	if err := treasury.EnsureStream(ctx, js); err != nil {
		return fmt.Errorf("ensure treasury stream: %w", err)
	}
	logger.Debug("Treasury event stream ready", "stream", treasury.StreamName)

	// Build components
	deps := component.Dependencies{
		Logger:     logger,
		NATSClient: natsClient,
	}

	components, err := buildComponents(cfg, deps)
	if err != nil {
		return err
	}

	// Setup signal handling
	signalCtx, signalCancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer signalCancel()

	// Initialize and start components
	for _, c := range components {
		meta := c.Meta()
		if err := c.Initialize(); err != nil {
			return fmt.Errorf("initialize %s: %w", meta.Name, err)
		}
		if err := c.Start(signalCtx); err != nil {
			return fmt.Errorf("start %s: %w", meta.Name, err)
		}
		logger.Info("Component started", "name", meta.Name, "version", meta.Version)
	}

	slog.Info("Covault ready",
		"version", Version,
		"listen_addr", cfg.API.ListenAddr,
		"oracle", cfg.Oracle.Identity)

	// Block until shutdown signal
	<-signalCtx.Done()
	slog.Info("Received shutdown signal")

	// Stop components in reverse start order
	shutdownTimeout := 30 * time.Second
	for i := len(components) - 1; i >= 0; i-- {
		if err := components[i].Stop(shutdownTimeout); err != nil {
			slog.Error("Error stopping component",
				"name", components[i].Meta().Name,
				"error", err)
		}
	}

	slog.Info("Covault shutdown complete")
	return nil
}

// buildComponents constructs the treasury-api and oracle-engine components
// from the loaded configuration. The API component is first so it seeds the
// treasury state before the oracle engine starts evaluating. Factories
// return component.Discoverable; the runner needs the lifecycle methods, so
// each result is asserted to component.LifecycleComponent.
func buildComponents(cfg *config.Config, deps component.Dependencies) ([]component.LifecycleComponent, error) {
	apiConfig, err := json.Marshal(treasuryapi.Config{
		ListenAddr:      cfg.API.ListenAddr,
		Admin:           cfg.Treasury.Admin,
		Oracle:          cfg.Treasury.Oracle,
		BankSeed:        cfg.Treasury.BankSeed,
		ShutdownTimeout: cfg.API.ShutdownTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal treasury-api config: %w", err)
	}

	api, err := treasuryapi.NewComponent(apiConfig, deps)
	if err != nil {
		return nil, fmt.Errorf("create treasury-api: %w", err)
	}
	apiLC, ok := api.(component.LifecycleComponent)
	if !ok {
		return nil, fmt.Errorf("treasury-api does not implement lifecycle")
	}

	oracleConfig, err := json.Marshal(oracleengine.Config{
		Identity:     cfg.Oracle.Identity,
		ConsumerName: cfg.Oracle.ConsumerName,
		FetchTimeout: cfg.Oracle.FetchTimeout,
		RulesPath:    cfg.Oracle.RulesPath,
		BankSeed:     cfg.Treasury.BankSeed,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal oracle-engine config: %w", err)
	}

	oracle, err := oracleengine.NewComponent(oracleConfig, deps)
	if err != nil {
		return nil, fmt.Errorf("create oracle-engine: %w", err)
	}
	oracleLC, ok := oracle.(component.LifecycleComponent)
	if !ok {
		return nil, fmt.Errorf("oracle-engine does not implement lifecycle")
	}

	return []component.LifecycleComponent{apiLC, oracleLC}, nil
}

func loadConfig(configPath string, logger *slog.Logger) (*config.Config, error) {
	if configPath != "" {
		cfg, err := config.LoadFromFile(configPath)
		if err != nil {
			return nil, err
		}
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		return cfg, nil
	}

	// Layered loading: defaults, user config, project config, env overrides
	return config.NewLoader(logger).Load()
}

func connectToNATS(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*natsclient.Client, error) {
	logger.Info("Connecting to NATS", "url", cfg.NATS.URL)

	client, err := natsclient.NewClient(cfg.NATS.URL,
		natsclient.WithName(cfg.NATS.Name),
		natsclient.WithMaxReconnects(cfg.NATS.MaxReconnects),
		natsclient.WithReconnectWait(cfg.NATS.ReconnectWait),
	)
	if err != nil {
		return nil, fmt.Errorf("create NATS client: %w", err)
	}

	if err := client.Connect(ctx); err != nil {
		return nil, wrapNATSError(err, cfg.NATS.URL)
	}

	connCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := client.WaitForConnection(connCtx); err != nil {
		return nil, wrapNATSError(err, cfg.NATS.URL)
	}

	logger.Info("Connected to NATS", "url", cfg.NATS.URL)
	return client, nil
}

// wrapNATSError provides helpful guidance when NATS connection fails.
func wrapNATSError(err error, url string) error {
	errStr := err.Error()

	// Check for common connection errors
	if strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "no servers available") ||
		strings.Contains(errStr, "timeout") {
		return fmt.Errorf(`NATS connection failed: %w

NATS is not running at %s.

To start NATS:
  docker compose up -d nats

Or set COVAULT_NATS_URL to point to your NATS server.`, err, url)
	}

	return fmt.Errorf("NATS connection failed: %w", err)
}
