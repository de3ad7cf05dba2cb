package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/weftlabs/weft/pkg/schema"
)

func TestIsRetryableError(t *testing.T) {
	cases := []struct {
		name      string
		err       error
		retryable bool
	}{
		{"nil", nil, false},
		{"deadline exceeded", context.DeadlineExceeded, true},
		{"cancelled", context.Canceled, false},
		{"timeout code", schema.NewError(schema.ErrCodeTimeout, "model timed out"), true},
		{"rate limited code", schema.NewError(schema.ErrCodeRateLimited, "slow down"), true},
		{"provider code", schema.NewError(schema.ErrCodeProvider, "upstream hiccup"), true},
		{"validation code", schema.NewError(schema.ErrCodeValidation, "bad spec"), false},
		{"reference code", schema.NewError(schema.ErrCodeReference, "unknown step"), false},
		{"connection refused text", errors.New("dial tcp: connection refused"), true},
		{"overloaded text", errors.New("provider overloaded, retry later"), true},
		{"plain error", errors.New("segment table corrupted"), false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.retryable, IsRetryableError(tc.err))
		})
	}
}

func TestEscalate_GrowsBudgetPerTier(t *testing.T) {
	decision := &schema.RoutingDecision{StepID: "summarize", Tier: schema.TierFast}
	budget := &schema.TokenBudget{StepID: "summarize", Allocated: 1000}

	assert.True(t, Escalate(decision, budget))
	assert.Equal(t, schema.TierBalanced, decision.Tier)
	assert.Equal(t, 1500, budget.Allocated)

	assert.True(t, Escalate(decision, budget))
	assert.Equal(t, schema.TierPowerful, decision.Tier)
	assert.Equal(t, 2250, budget.Allocated)
}

func TestEscalate_TopTierIsTerminal(t *testing.T) {
	decision := &schema.RoutingDecision{StepID: "summarize", Tier: schema.TierPowerful}
	budget := &schema.TokenBudget{StepID: "summarize", Allocated: 2250}

	assert.False(t, Escalate(decision, budget))
	assert.Equal(t, schema.TierPowerful, decision.Tier)
	assert.Equal(t, 2250, budget.Allocated)
}

func TestEscalate_RoundsBudgetUp(t *testing.T) {
	decision := &schema.RoutingDecision{Tier: schema.TierFast}
	budget := &schema.TokenBudget{Allocated: 333}

	assert.True(t, Escalate(decision, budget))
	assert.Equal(t, 500, budget.Allocated)
}
