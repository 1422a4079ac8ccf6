package oracleengine

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEvaluate(t *testing.T) {
	th := DefaultThresholds()

	tests := []struct {
		name        string
		amount      int64
		description string
		balance     int64
		wantOutcome Outcome
		wantRule    string
	}{
		{
			name:        "emergency under cap",
			amount:      8,
			description: "emergency repair",
			balance:     500,
			wantOutcome: OutcomeApproved,
			wantRule:    RuleEmergency,
		},
		{
			name:        "emergency case-insensitive",
			amount:      9,
			description: "EMERGENCY generator fuel",
			balance:     500,
			wantOutcome: OutcomeApproved,
			wantRule:    RuleEmergency,
		},
		{
			name:        "emergency at cap is not under it",
			amount:      10,
			description: "emergency repair",
			balance:     500,
			wantOutcome: OutcomeDeferred,
			wantRule:    RuleDefault,
		},
		{
			name:        "subscription under cap",
			amount:      30,
			description: "monthly subscription",
			balance:     500,
			wantOutcome: OutcomeApproved,
			wantRule:    RuleSubscription,
		},
		{
			name:        "subscription at cap defers",
			amount:      100,
			description: "subscription renewal",
			balance:     1000,
			wantOutcome: OutcomeDeferred,
			wantRule:    RuleDefault,
		},
		{
			name:        "gas under cap",
			amount:      3,
			description: "gas top-up",
			balance:     500,
			wantOutcome: OutcomeApproved,
			wantRule:    RuleGas,
		},
		{
			name:        "urgent under cap with healthy reserve",
			amount:      15,
			description: "urgent invoice",
			balance:     500,
			wantOutcome: OutcomeApproved,
			wantRule:    RuleUrgent,
		},
		{
			name:        "urgent blocked by reserve floor",
			amount:      15,
			description: "urgent invoice",
			balance:     110,
			wantOutcome: OutcomeDeferred,
			wantRule:    RuleReserveFloor,
		},
		{
			name:        "emergency matches before reserve floor",
			amount:      8,
			description: "emergency repair",
			balance:     50,
			wantOutcome: OutcomeApproved,
			wantRule:    RuleEmergency,
		},
		{
			name:        "no keyword defers",
			amount:      5,
			description: "team offsite",
			balance:     500,
			wantOutcome: OutcomeDeferred,
			wantRule:    RuleDefault,
		},
		{
			name:        "first matching keyword wins",
			amount:      4,
			description: "emergency gas refill subscription",
			balance:     500,
			wantOutcome: OutcomeApproved,
			wantRule:    RuleEmergency,
		},
		{
			name:        "reserve floor exactly preserved is allowed",
			amount:      15,
			description: "urgent invoice",
			balance:     115,
			wantOutcome: OutcomeApproved,
			wantRule:    RuleUrgent,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			outcome, rule := Evaluate(tt.amount, tt.description, tt.balance, th)
			assert.Equal(t, tt.wantOutcome, outcome)
			assert.Equal(t, tt.wantRule, rule)
		})
	}
}

func TestEvaluate_CustomThresholds(t *testing.T) {
	th := Thresholds{
		EmergencyMax:    1000,
		SubscriptionMax: 1,
		GasMax:          1,
		UrgentMax:       1,
		ReserveFloor:    0,
	}

	outcome, rule := Evaluate(500, "emergency bridge repair", 600, th)
	assert.Equal(t, OutcomeApproved, outcome)
	assert.Equal(t, RuleEmergency, rule)

	outcome, rule = Evaluate(5, "subscription", 600, th)
	assert.Equal(t, OutcomeDeferred, outcome)
	assert.Equal(t, RuleDefault, rule)
}

func TestThresholds_Validate(t *testing.T) {
	th := DefaultThresholds()
	assert.NoError(t, th.Validate())

	bad := th
	bad.GasMax = 0
	assert.Error(t, bad.Validate())

	bad = th
	bad.ReserveFloor = -1
	assert.Error(t, bad.Validate())
}
