// Package oracleengine implements the autonomous decision policy for
// treasury proposals. It consumes proposal-created events, evaluates a
// fixed, ordered rule list, and — when a rule approves — executes the
// proposal through the ledger's oracle path. Deferred proposals are left
// untouched for the manual voting path.
//
// The policy is advisory: the ledger's own guards (terminal flag, balance
// check, oracle identity) remain the source of truth, and a rejected
// execution is logged, never retried.
package oracleengine

import (
	"fmt"
	"strings"
	"time"
)

// Thresholds are the tunable rule parameters, in treasury token units.
type Thresholds struct {
	// EmergencyMax caps auto-approved "emergency" proposals.
	EmergencyMax int64 `json:"emergency_max" yaml:"emergency_max"`

	// SubscriptionMax caps auto-approved "subscription" proposals.
	SubscriptionMax int64 `json:"subscription_max" yaml:"subscription_max"`

	// GasMax caps auto-approved "gas" proposals.
	GasMax int64 `json:"gas_max" yaml:"gas_max"`

	// UrgentMax caps auto-approved "urgent" proposals.
	UrgentMax int64 `json:"urgent_max" yaml:"urgent_max"`

	// ReserveFloor is the minimum custody balance that must remain after
	// an auto-execution. A proposal projected to breach it is deferred
	// before the urgent rule is considered.
	ReserveFloor int64 `json:"reserve_floor" yaml:"reserve_floor"`
}

// DefaultThresholds returns the reference policy parameters.
func DefaultThresholds() Thresholds {
	return Thresholds{
		EmergencyMax:    10,
		SubscriptionMax: 50,
		GasMax:          5,
		UrgentMax:       20,
		ReserveFloor:    100,
	}
}

// Validate validates the threshold set.
func (t *Thresholds) Validate() error {
	if t.EmergencyMax <= 0 || t.SubscriptionMax <= 0 || t.GasMax <= 0 || t.UrgentMax <= 0 {
		return fmt.Errorf("keyword thresholds must be positive")
	}
	if t.ReserveFloor < 0 {
		return fmt.Errorf("reserve_floor must not be negative")
	}
	return nil
}

// Outcome is the result of a policy evaluation.
type Outcome string

const (
	OutcomeApproved Outcome = "approved"
	OutcomeDeferred Outcome = "deferred"
)

// Rule names, recorded with each decision so the outcome is reproducible
// from the record alone.
const (
	RuleEmergency    = "emergency"
	RuleSubscription = "subscription"
	RuleGas          = "gas"
	RuleReserveFloor = "reserve_floor"
	RuleUrgent       = "urgent"
	RuleDefault      = "default"
)

// Decision is the durable, auditable record of one policy evaluation.
// Decisions are written exactly once per proposal id and never updated.
type Decision struct {
	ProposalID  int64      `json:"proposal_id"`
	Outcome     Outcome    `json:"outcome"`
	Rule        string     `json:"rule"`
	Amount      int64      `json:"amount"`
	Balance     int64      `json:"balance"`
	Thresholds  Thresholds `json:"thresholds"`
	EvaluatedAt time.Time  `json:"evaluated_at"`
}

// Evaluate runs the ordered rule list against a proposal's amount and
// description and the current custody balance. First match wins; the
// reserve-floor check deliberately sits between the gas and urgent rules,
// so urgent spending cannot drain the reserve but the three narrow keyword
// rules can.
func Evaluate(amount int64, description string, balance int64, th Thresholds) (Outcome, string) {
	desc := strings.ToLower(description)

	if strings.Contains(desc, "emergency") && amount < th.EmergencyMax {
		return OutcomeApproved, RuleEmergency
	}
	if strings.Contains(desc, "subscription") && amount < th.SubscriptionMax {
		return OutcomeApproved, RuleSubscription
	}
	if strings.Contains(desc, "gas") && amount < th.GasMax {
		return OutcomeApproved, RuleGas
	}
	if balance-amount < th.ReserveFloor {
		return OutcomeDeferred, RuleReserveFloor
	}
	if strings.Contains(desc, "urgent") && amount < th.UrgentMax {
		return OutcomeApproved, RuleUrgent
	}
	return OutcomeDeferred, RuleDefault
}
