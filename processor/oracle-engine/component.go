package oracleengine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c360studio/semstreams/component"
	"github.com/c360studio/semstreams/natsclient"
	"github.com/covault/covault/treasury"
	"github.com/nats-io/nats.go/jetstream"
)

// BucketDecisions holds one immutable decision record per proposal id.
// The record doubles as the dedupe guard for redelivered events: a Create
// that fails with key-exists means the proposal was already evaluated.
const BucketDecisions = "COVAULT_DECISIONS"

// Component implements the oracle-engine processor.
type Component struct {
	name       string
	config     Config
	natsClient *natsclient.Client
	logger     *slog.Logger

	ledger    *treasury.Ledger
	decisions treasury.Bucket

	// thresholds is swapped atomically on hot reload.
	thresholds atomic.Pointer[Thresholds]

	// Lifecycle
	running   bool
	startTime time.Time
	mu        sync.RWMutex
	cancel    context.CancelFunc

	// Metrics
	evaluated    atomic.Int64
	approvals    atomic.Int64
	deferrals    atomic.Int64
	execFailures atomic.Int64
	lastEventMu  sync.RWMutex
	lastEvent    time.Time
}

var _ component.LifecycleComponent = (*Component)(nil)

// NewComponent creates a new oracle-engine processor.
func NewComponent(rawConfig json.RawMessage, deps component.Dependencies) (component.Discoverable, error) {
	var config Config
	if err := json.Unmarshal(rawConfig, &config); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	defaults := DefaultConfig()
	if config.ConsumerName == "" {
		config.ConsumerName = defaults.ConsumerName
	}
	if config.FetchTimeout == 0 {
		config.FetchTimeout = defaults.FetchTimeout
	}
	if (config.Thresholds == Thresholds{}) {
		config.Thresholds = defaults.Thresholds
	}
	if config.Ports == nil {
		config.Ports = defaults.Ports
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	c := &Component{
		name:       "oracle-engine",
		config:     config,
		natsClient: deps.NATSClient,
		logger:     deps.GetLogger(),
	}

	th := config.Thresholds
	c.thresholds.Store(&th)

	if deps.NATSClient != nil {
		js, err := deps.NATSClient.JetStream()
		if err != nil {
			return nil, fmt.Errorf("get jetstream: %w", err)
		}

		ctx := context.Background()

		store, err := treasury.NewStore(ctx, js)
		if err != nil {
			return nil, fmt.Errorf("create treasury store: %w", err)
		}

		bank, err := treasury.NewKVTokenBank(ctx, js, config.BankSeed)
		if err != nil {
			return nil, fmt.Errorf("create token bank: %w", err)
		}

		c.ledger = treasury.NewLedger(store, bank, treasury.NewJSPublisher(js), "oracle-engine", c.logger)

		c.decisions, err = js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
			Bucket:      BucketDecisions,
			Description: "Oracle policy decision records",
		})
		if err != nil {
			return nil, fmt.Errorf("create decisions bucket: %w", err)
		}
	}

	return c, nil
}

// Initialize prepares the component.
func (c *Component) Initialize() error {
	c.logger.Debug("Initialized oracle-engine",
		"identity", c.config.Identity,
		"consumer", c.config.ConsumerName,
		"rules_path", c.config.RulesPath)
	return nil
}

// Start begins consuming proposal-created events.
func (c *Component) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return fmt.Errorf("component already running")
	}
	if c.natsClient == nil {
		c.mu.Unlock()
		return fmt.Errorf("NATS client required")
	}

	c.running = true
	c.startTime = time.Now()

	subCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.mu.Unlock()

	go c.consumeLoop(subCtx)

	if c.config.RulesPath != "" {
		if err := c.watchRules(subCtx); err != nil {
			c.logger.Warn("Rules file watch disabled",
				"path", c.config.RulesPath,
				"error", err)
		}
	}

	c.logger.Info("oracle-engine started",
		"identity", c.config.Identity,
		"thresholds", *c.thresholds.Load())
	return nil
}

// consumeLoop reads proposal-created events from a durable consumer.
// Proposals are handled one at a time, which also serialises AutoExecute
// calls per id without extra locking.
func (c *Component) consumeLoop(ctx context.Context) {
	js, err := c.natsClient.JetStream()
	if err != nil {
		c.logger.Error("Failed to get jetstream, oracle evaluation disabled", "error", err)
		return
	}

	stream, err := js.Stream(ctx, treasury.StreamName)
	if err != nil {
		c.logger.Error("Failed to get treasury stream, oracle evaluation disabled",
			"stream", treasury.StreamName,
			"error", err)
		return
	}

	consumer, err := stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Name:          c.config.ConsumerName,
		Durable:       c.config.ConsumerName,
		FilterSubject: treasury.SubjectProposalCreated,
		AckPolicy:     jetstream.AckExplicitPolicy,
		DeliverPolicy: jetstream.DeliverAllPolicy,
	})
	if err != nil {
		c.logger.Error("Failed to create proposal consumer, oracle evaluation disabled",
			"error", err)
		return
	}

	c.logger.Info("Proposal subscriber started", "consumer", c.config.ConsumerName)

	for {
		select {
		case <-ctx.Done():
			c.logger.Debug("Proposal subscriber stopping")
			return
		default:
		}

		msgs, err := consumer.Fetch(1, jetstream.FetchMaxWait(c.config.FetchTimeout))
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			// Fetch timeouts while idle are normal.
			continue
		}

		for msg := range msgs.Messages() {
			c.processMessage(ctx, msg)
		}
	}
}

// processMessage evaluates a single proposal-created event.
func (c *Component) processMessage(ctx context.Context, msg jetstream.Msg) {
	defer func() {
		if err := msg.Ack(); err != nil {
			c.logger.Warn("Failed to ACK proposal event", "error", err)
		}
	}()

	event, err := treasury.ParsePayload[treasury.ProposalCreatedEvent](msg.Data())
	if err != nil {
		c.logger.Warn("Failed to parse proposal event", "error", err)
		return
	}

	c.updateLastEvent()

	if err := c.evaluateProposal(ctx, event); err != nil {
		c.logger.Warn("Proposal evaluation failed",
			"proposal_id", event.ProposalID,
			"error", err)
	}
}

// evaluateProposal runs the policy once per proposal id. The decision
// record is written with a KV Create: if the key already exists the
// proposal was evaluated before (redelivery or a second replica) and
// nothing further happens.
func (c *Component) evaluateProposal(ctx context.Context, event *treasury.ProposalCreatedEvent) error {
	balance, err := c.ledger.Bridge().Balance(ctx)
	if err != nil {
		return fmt.Errorf("read custody balance: %w", err)
	}

	th := *c.thresholds.Load()
	outcome, rule := Evaluate(event.Amount, event.Description, balance, th)

	decision := Decision{
		ProposalID:  event.ProposalID,
		Outcome:     outcome,
		Rule:        rule,
		Amount:      event.Amount,
		Balance:     balance,
		Thresholds:  th,
		EvaluatedAt: time.Now().UTC(),
	}

	recorded, err := c.recordDecision(ctx, &decision)
	if err != nil {
		return err
	}
	if !recorded {
		c.logger.Debug("Proposal already evaluated, skipping",
			"proposal_id", event.ProposalID)
		return nil
	}

	c.evaluated.Add(1)

	c.logger.Info("Proposal evaluated",
		"proposal_id", event.ProposalID,
		"amount", event.Amount,
		"outcome", outcome,
		"rule", rule,
		"balance", balance)

	if outcome != OutcomeApproved {
		c.deferrals.Add(1)
		return nil
	}

	c.approvals.Add(1)

	// Best effort: a rejection here (lost race with a manual execution,
	// balance drained since the check) is final, not retried.
	if err := c.ledger.AutoExecute(ctx, c.config.Identity, event.ProposalID); err != nil {
		c.execFailures.Add(1)
		c.logger.Warn("Auto-execution rejected by ledger",
			"proposal_id", event.ProposalID,
			"rule", rule,
			"error", err)
		return nil
	}

	c.logger.Info("Proposal auto-executed",
		"proposal_id", event.ProposalID,
		"amount", event.Amount,
		"rule", rule)
	return nil
}

// recordDecision persists the decision. Returns false when a record for
// the proposal already exists.
func (c *Component) recordDecision(ctx context.Context, d *Decision) (bool, error) {
	data, err := json.Marshal(d)
	if err != nil {
		return false, fmt.Errorf("marshal decision: %w", err)
	}

	key := fmt.Sprintf("%d", d.ProposalID)
	if _, err := c.decisions.Create(ctx, key, data); err != nil {
		if errors.Is(err, jetstream.ErrKeyExists) {
			return false, nil
		}
		return false, fmt.Errorf("store decision: %w", err)
	}
	return true, nil
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
	c.logger.Info("oracle-engine stopped",
		"evaluated", c.evaluated.Load(),
		"approvals", c.approvals.Load(),
		"deferrals", c.deferrals.Load(),
		"exec_failures", c.execFailures.Load())
	return nil
}

// Meta returns component metadata.
func (c *Component) Meta() component.Metadata {
	return component.Metadata{
		Name:        "oracle-engine",
		Type:        "processor",
		Description: "Autonomous spending policy for treasury proposals",
		Version:     "0.1.0",
	}
}

// InputPorts returns configured input port definitions.
func (c *Component) InputPorts() []component.Port {
	if c.config.Ports == nil {
		return []component.Port{}
	}

	ports := make([]component.Port, len(c.config.Ports.Inputs))
	for i, portDef := range c.config.Ports.Inputs {
		ports[i] = component.Port{
			Name:        portDef.Name,
			Direction:   component.DirectionInput,
			Required:    portDef.Required,
			Description: portDef.Description,
			Config: component.NATSPort{
				Subject: portDef.Subject,
			},
		}
	}
	return ports
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
	return oracleSchema
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
		Healthy:    running,
		LastCheck:  time.Now(),
		ErrorCount: int(c.execFailures.Load()),
		Uptime:     time.Since(startTime),
		Status:     status,
	}
}

// DataFlow returns current data flow metrics.
func (c *Component) DataFlow() component.FlowMetrics {
	return component.FlowMetrics{
		MessagesPerSecond: 0,
		BytesPerSecond:    0,
		ErrorRate:         0,
		LastActivity:      c.getLastEvent(),
	}
}

func (c *Component) updateLastEvent() {
	c.lastEventMu.Lock()
	c.lastEvent = time.Now()
	c.lastEventMu.Unlock()
}

func (c *Component) getLastEvent() time.Time {
	c.lastEventMu.RLock()
	defer c.lastEventMu.RUnlock()
	return c.lastEvent
}
