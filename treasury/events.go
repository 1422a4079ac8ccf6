package treasury

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/c360studio/semstreams/message"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go/jetstream"
)

// StreamName is the JetStream stream carrying all treasury events.
const StreamName = "TREASURY"

// Event subjects under the TREASURY stream. Each committed ledger operation
// publishes exactly one event, after its KV commit, so per-proposal event
// order matches commit order. Consumers must not assume ordering across
// independent proposal ids.
const (
	SubjectMemberAdded     = "treasury.events.member.added"
	SubjectMemberRemoved   = "treasury.events.member.removed"
	SubjectOracleUpdated   = "treasury.events.oracle.updated"
	SubjectDeposited       = "treasury.events.deposit.recorded"
	SubjectProposalCreated = "treasury.events.proposal.created"
	SubjectVoted           = "treasury.events.proposal.voted"
	SubjectExecuted        = "treasury.events.proposal.executed"
)

// SubjectsWildcard matches every treasury event subject.
const SubjectsWildcard = "treasury.events.>"

// Message types for the BaseMessage envelope.
var (
	MemberAddedType     = message.Type{Domain: "treasury", Category: "member_added", Version: "v1"}
	MemberRemovedType   = message.Type{Domain: "treasury", Category: "member_removed", Version: "v1"}
	OracleUpdatedType   = message.Type{Domain: "treasury", Category: "oracle_updated", Version: "v1"}
	DepositedType       = message.Type{Domain: "treasury", Category: "deposited", Version: "v1"}
	ProposalCreatedType = message.Type{Domain: "treasury", Category: "proposal_created", Version: "v1"}
	VotedType           = message.Type{Domain: "treasury", Category: "voted", Version: "v1"}
	ExecutedType        = message.Type{Domain: "treasury", Category: "executed", Version: "v1"}
)

// MemberAddedEvent is published when an identity becomes a member.
type MemberAddedEvent struct {
	EventID     string    `json:"event_id"`
	Identity    string    `json:"identity"`
	MemberCount int       `json:"member_count"`
	Timestamp   time.Time `json:"timestamp"`
}

// MemberRemovedEvent is published when an identity loses membership.
// Past votes and deposit history are not erased.
type MemberRemovedEvent struct {
	EventID     string    `json:"event_id"`
	Identity    string    `json:"identity"`
	MemberCount int       `json:"member_count"`
	Timestamp   time.Time `json:"timestamp"`
}

// OracleUpdatedEvent is published when the oracle registration changes.
type OracleUpdatedEvent struct {
	EventID   string    `json:"event_id"`
	Old       string    `json:"old"`
	New       string    `json:"new"`
	Timestamp time.Time `json:"timestamp"`
}

// DepositedEvent is published after a successful deposit.
type DepositedEvent struct {
	EventID       string    `json:"event_id"`
	Identity      string    `json:"identity"`
	Amount        int64     `json:"amount"`
	TotalDeposits int64     `json:"total_deposits"`
	Timestamp     time.Time `json:"timestamp"`
}

// ProposalCreatedEvent carries the full proposal metadata so consumers
// (the oracle engine in particular) need no read-back.
type ProposalCreatedEvent struct {
	EventID     string    `json:"event_id"`
	ProposalID  int64     `json:"proposal_id"`
	Proposer    string    `json:"proposer"`
	Recipient   string    `json:"recipient"`
	Amount      int64     `json:"amount"`
	Description string    `json:"description"`
	Timestamp   time.Time `json:"timestamp"`
}

// VotedEvent is published after a vote commits.
type VotedEvent struct {
	EventID      string    `json:"event_id"`
	ProposalID   int64     `json:"proposal_id"`
	Voter        string    `json:"voter"`
	Support      bool      `json:"support"`
	VotesFor     int       `json:"votes_for"`
	VotesAgainst int       `json:"votes_against"`
	Timestamp    time.Time `json:"timestamp"`
}

// ExecutedEvent is published after a proposal executes and funds have
// transferred. Oracle reports whether the autonomous path executed it.
type ExecutedEvent struct {
	EventID    string    `json:"event_id"`
	ProposalID int64     `json:"proposal_id"`
	Executor   string    `json:"executor"`
	Recipient  string    `json:"recipient"`
	Amount     int64     `json:"amount"`
	Oracle     bool      `json:"oracle"`
	Timestamp  time.Time `json:"timestamp"`
}

// Schema returns the message type for this payload.
func (e *MemberAddedEvent) Schema() message.Type { return MemberAddedType }

// Validate validates the event.
func (e *MemberAddedEvent) Validate() error {
	if e.Identity == "" {
		return fmt.Errorf("identity is required")
	}
	return nil
}

// MarshalJSON marshals the event to JSON.
func (e *MemberAddedEvent) MarshalJSON() ([]byte, error) {
	type Alias MemberAddedEvent
	return json.Marshal((*Alias)(e))
}

// UnmarshalJSON unmarshals the event from JSON.
func (e *MemberAddedEvent) UnmarshalJSON(data []byte) error {
	type Alias MemberAddedEvent
	return json.Unmarshal(data, (*Alias)(e))
}

// Schema returns the message type for this payload.
func (e *MemberRemovedEvent) Schema() message.Type { return MemberRemovedType }

// Validate validates the event.
func (e *MemberRemovedEvent) Validate() error {
	if e.Identity == "" {
		return fmt.Errorf("identity is required")
	}
	return nil
}

// MarshalJSON marshals the event to JSON.
func (e *MemberRemovedEvent) MarshalJSON() ([]byte, error) {
	type Alias MemberRemovedEvent
	return json.Marshal((*Alias)(e))
}

// UnmarshalJSON unmarshals the event from JSON.
func (e *MemberRemovedEvent) UnmarshalJSON(data []byte) error {
	type Alias MemberRemovedEvent
	return json.Unmarshal(data, (*Alias)(e))
}

// Schema returns the message type for this payload.
func (e *OracleUpdatedEvent) Schema() message.Type { return OracleUpdatedType }

// Validate validates the event. Old and New may both be empty: registering
// the first oracle or disabling the path are legal transitions.
func (e *OracleUpdatedEvent) Validate() error { return nil }

// MarshalJSON marshals the event to JSON.
func (e *OracleUpdatedEvent) MarshalJSON() ([]byte, error) {
	type Alias OracleUpdatedEvent
	return json.Marshal((*Alias)(e))
}

// UnmarshalJSON unmarshals the event from JSON.
func (e *OracleUpdatedEvent) UnmarshalJSON(data []byte) error {
	type Alias OracleUpdatedEvent
	return json.Unmarshal(data, (*Alias)(e))
}

// Schema returns the message type for this payload.
func (e *DepositedEvent) Schema() message.Type { return DepositedType }

// Validate validates the event.
func (e *DepositedEvent) Validate() error {
	if e.Identity == "" {
		return fmt.Errorf("identity is required")
	}
	if e.Amount <= 0 {
		return fmt.Errorf("amount must be positive")
	}
	return nil
}

// MarshalJSON marshals the event to JSON.
func (e *DepositedEvent) MarshalJSON() ([]byte, error) {
	type Alias DepositedEvent
	return json.Marshal((*Alias)(e))
}

// UnmarshalJSON unmarshals the event from JSON.
func (e *DepositedEvent) UnmarshalJSON(data []byte) error {
	type Alias DepositedEvent
	return json.Unmarshal(data, (*Alias)(e))
}

// Schema returns the message type for this payload.
func (e *ProposalCreatedEvent) Schema() message.Type { return ProposalCreatedType }

// Validate validates the event.
func (e *ProposalCreatedEvent) Validate() error {
	if e.ProposalID <= 0 {
		return fmt.Errorf("proposal_id is required")
	}
	if e.Recipient == "" {
		return fmt.Errorf("recipient is required")
	}
	if e.Amount <= 0 {
		return fmt.Errorf("amount must be positive")
	}
	return nil
}

// MarshalJSON marshals the event to JSON.
func (e *ProposalCreatedEvent) MarshalJSON() ([]byte, error) {
	type Alias ProposalCreatedEvent
	return json.Marshal((*Alias)(e))
}

// UnmarshalJSON unmarshals the event from JSON.
func (e *ProposalCreatedEvent) UnmarshalJSON(data []byte) error {
	type Alias ProposalCreatedEvent
	return json.Unmarshal(data, (*Alias)(e))
}

// Schema returns the message type for this payload.
func (e *VotedEvent) Schema() message.Type { return VotedType }

// Validate validates the event.
func (e *VotedEvent) Validate() error {
	if e.ProposalID <= 0 {
		return fmt.Errorf("proposal_id is required")
	}
	if e.Voter == "" {
		return fmt.Errorf("voter is required")
	}
	return nil
}

// MarshalJSON marshals the event to JSON.
func (e *VotedEvent) MarshalJSON() ([]byte, error) {
	type Alias VotedEvent
	return json.Marshal((*Alias)(e))
}

// UnmarshalJSON unmarshals the event from JSON.
func (e *VotedEvent) UnmarshalJSON(data []byte) error {
	type Alias VotedEvent
	return json.Unmarshal(data, (*Alias)(e))
}

// Schema returns the message type for this payload.
func (e *ExecutedEvent) Schema() message.Type { return ExecutedType }

// Validate validates the event.
func (e *ExecutedEvent) Validate() error {
	if e.ProposalID <= 0 {
		return fmt.Errorf("proposal_id is required")
	}
	if e.Amount <= 0 {
		return fmt.Errorf("amount must be positive")
	}
	return nil
}

// MarshalJSON marshals the event to JSON.
func (e *ExecutedEvent) MarshalJSON() ([]byte, error) {
	type Alias ExecutedEvent
	return json.Marshal((*Alias)(e))
}

// UnmarshalJSON unmarshals the event from JSON.
func (e *ExecutedEvent) UnmarshalJSON(data []byte) error {
	type Alias ExecutedEvent
	return json.Unmarshal(data, (*Alias)(e))
}

// Publisher emits treasury events. Narrowed from jetstream.JetStream so the
// ledger can be tested with a capturing fake.
type Publisher interface {
	Publish(ctx context.Context, subject string, data []byte) error
}

// JSPublisher publishes to a JetStream stream.
type JSPublisher struct {
	js jetstream.JetStream
}

// NewJSPublisher wraps a JetStream context as a Publisher.
func NewJSPublisher(js jetstream.JetStream) *JSPublisher {
	return &JSPublisher{js: js}
}

// Publish publishes data to the subject, waiting for the stream ack.
func (p *JSPublisher) Publish(ctx context.Context, subject string, data []byte) error {
	if _, err := p.js.Publish(ctx, subject, data); err != nil {
		return fmt.Errorf("publish to %s: %w", subject, err)
	}
	return nil
}

// EnsureStream creates or updates the TREASURY stream.
func EnsureStream(ctx context.Context, js jetstream.JetStream) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:        StreamName,
		Description: "Covault treasury event log",
		Subjects:    []string{SubjectsWildcard},
		Storage:     jetstream.FileStorage,
		Retention:   jetstream.LimitsPolicy,
	})
	if err != nil {
		return fmt.Errorf("create %s stream: %w", StreamName, err)
	}
	return nil
}

// newEventID returns a fresh event id.
func newEventID() string {
	return uuid.New().String()
}

// marshalEvent wraps payload in the BaseMessage envelope used on the wire.
func marshalEvent(t message.Type, payload message.Payload, source string) ([]byte, error) {
	baseMsg := message.NewBaseMessage(t, payload, source)
	data, err := json.Marshal(baseMsg)
	if err != nil {
		return nil, fmt.Errorf("marshal event: %w", err)
	}
	return data, nil
}

// ParsePayload unwraps a BaseMessage-enveloped event payload of type T.
func ParsePayload[T any](data []byte) (*T, error) {
	var rawMsg struct {
		Payload json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(data, &rawMsg); err != nil {
		return nil, fmt.Errorf("unmarshal envelope: %w", err)
	}
	if len(rawMsg.Payload) == 0 {
		return nil, fmt.Errorf("empty payload in envelope")
	}

	var payload T
	if err := json.Unmarshal(rawMsg.Payload, &payload); err != nil {
		return nil, fmt.Errorf("unmarshal payload into %T: %w", payload, err)
	}
	return &payload, nil
}
