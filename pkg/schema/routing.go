package schema

import "time"

// Tier identifies a model capability class. Escalation order is
// fast -> balanced -> powerful; powerful is terminal.
type Tier string

const (
	TierFast     Tier = "fast"
	TierBalanced Tier = "balanced"
	TierPowerful Tier = "powerful"
)

// Next returns the tier one escalation above t. Powerful escalates to
// itself.
func (t Tier) Next() Tier {
	switch t {
	case TierFast:
		return TierBalanced
	case TierBalanced:
		return TierPowerful
	default:
		return TierPowerful
	}
}

// RoutingDecision records why a step was sent to a tier. Rationale names
// both complexity scores and the chosen tier so audit consumers never
// have to re-derive the arithmetic.
type RoutingDecision struct {
	StepID              string    `json:"step_id"`
	Tier                Tier      `json:"tier"`
	Model               string    `json:"model"`
	StepComplexity      float64   `json:"step_complexity"`
	AgentComplexity     float64   `json:"agent_complexity"`
	EffectiveComplexity float64   `json:"effective_complexity"`
	Rationale           string    `json:"rationale"`
	DecidedAt           time.Time `json:"decided_at"`
}

// BudgetStrategy selects how a run's token budget is split across the
// model-backed steps of a level.
type BudgetStrategy string

const (
	BudgetEqual        BudgetStrategy = "equal"
	BudgetProportional BudgetStrategy = "proportional"
	BudgetPriority     BudgetStrategy = "priority"
	BudgetPredictive   BudgetStrategy = "predictive"
)

// TokenBudget is the allocation handed to a step before it runs.
type TokenBudget struct {
	StepID    string         `json:"step_id"`
	Allocated int            `json:"allocated"`
	Strategy  BudgetStrategy `json:"strategy"`

	// Fallback is set when the predictive strategy lacked samples or
	// coverage and the allocation came from proportional instead.
	Fallback bool `json:"fallback,omitempty"`
}

// TokenUsage is the actual consumption recorded after a step finishes.
type TokenUsage struct {
	RunID        string    `json:"run_id"`
	StepID       string    `json:"step_id"`
	Intent       string    `json:"intent"`
	Tier         Tier      `json:"tier"`
	Model        string    `json:"model,omitempty"`
	InputTokens  int       `json:"input_tokens"`
	OutputTokens int       `json:"output_tokens"`
	Allocated    int       `json:"allocated"`
	RecordedAt   time.Time `json:"recorded_at"`
}

// Total returns input plus output tokens.
func (u TokenUsage) Total() int { return u.InputTokens + u.OutputTokens }

// UsageStats summarizes historical consumption for one intent at one
// complexity bucket, feeding the predictive budget strategy.
type UsageStats struct {
	Intent           string  `json:"intent"`
	ComplexityBucket int     `json:"complexity_bucket"`
	Samples          int     `json:"samples"`
	Mean             float64 `json:"mean"`
	StdDev           float64 `json:"std_dev"`
}
