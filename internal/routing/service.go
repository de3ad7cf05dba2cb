package routing

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/weftlabs/weft/internal/tokens"
	"github.com/weftlabs/weft/pkg/schema"
)

// StepContext carries the runtime facts the router needs about the step's
// surroundings: how large the resolved input is and how deep the variable
// scope has grown.
type StepContext struct {
	// InputTokens is the estimated token size of the step's resolved input.
	InputTokens int
	// ScopeDepth is the number of step outputs visible to this step.
	ScopeDepth int
}

// Factors are the six measured step-complexity signals, each normalized to
// the 0..10 range before weighting.
type Factors struct {
	PromptLength     float64 `json:"prompt_length"`
	InputSize        float64 `json:"input_size"`
	ConditionCount   float64 `json:"condition_count"`
	ContextDepth     float64 `json:"context_depth"`
	ReasoningDepth   float64 `json:"reasoning_depth"`
	OutputComplexity float64 `json:"output_complexity"`
}

// Service picks a model tier per step by blending the slow-moving agent
// complexity with a fast per-step estimate. Decisions are immutable once
// returned.
type Service struct {
	cfg    *Config
	est    *tokens.Estimator
	logger *slog.Logger
	now    func() time.Time
}

// NewService creates a routing Service. cfg may be nil, in which case the
// built-in defaults apply.
func NewService(cfg *Config, est *tokens.Estimator, logger *slog.Logger) *Service {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if est == nil {
		est = tokens.NewEstimator()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{cfg: cfg, est: est, logger: logger, now: time.Now}
}

// Route computes the routing decision for one step. agentComplexity is the
// externally supplied 0..10 agent score.
func (s *Service) Route(ctx context.Context, agentComplexity float64, step *schema.WorkflowStep, sc StepContext) (*schema.RoutingDecision, error) {
	if step == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "cannot route a nil step")
	}

	agentComplexity = clamp(agentComplexity, 0, 10)
	factors := s.measure(step, sc)
	stepComplexity := weigh(factors, s.cfg.FactorsFor(step.Intent))

	effective := agentComplexity*s.cfg.Blend.Agent + stepComplexity*s.cfg.Blend.Step

	var tier schema.Tier
	switch {
	case effective < s.cfg.Thresholds.FastMax:
		tier = schema.TierFast
	case effective < s.cfg.Thresholds.BalancedMax:
		tier = schema.TierBalanced
	default:
		tier = schema.TierPowerful
	}

	decision := &schema.RoutingDecision{
		StepID:              step.ID,
		Tier:                tier,
		Model:               s.cfg.ModelFor(tier),
		StepComplexity:      stepComplexity,
		AgentComplexity:     agentComplexity,
		EffectiveComplexity: effective,
		Rationale: fmt.Sprintf(
			"agent complexity %.2f and step complexity %.2f blend to %.2f; routed to %s tier (%s)",
			agentComplexity, stepComplexity, effective, tier, s.cfg.ModelFor(tier)),
		DecidedAt: s.now(),
	}

	s.logger.DebugContext(ctx, "routing decision",
		slog.String("step_id", step.ID),
		slog.String("tier", string(tier)),
		slog.Float64("effective_complexity", effective))

	return decision, nil
}

// ModelFor exposes the configured model for a tier. The executor uses
// it when a retry escalates a decision past its original tier.
func (s *Service) ModelFor(tier schema.Tier) string {
	return s.cfg.ModelFor(tier)
}

// measure computes the six raw factors for a step.
func (s *Service) measure(step *schema.WorkflowStep, sc StepContext) Factors {
	var f Factors

	f.PromptLength = clamp(float64(s.est.Count(stepPrompt(step)))/100, 0, 10)
	f.InputSize = clamp(float64(sc.InputTokens)/500, 0, 10)
	f.ConditionCount = clamp(float64(conditionCount(step))*2, 0, 10)
	f.ContextDepth = clamp(float64(sc.ScopeDepth), 0, 10)
	f.ReasoningDepth = reasoningDepth(step)
	f.OutputComplexity = outputComplexity(step)

	return f
}

func weigh(f Factors, w FactorWeights) float64 {
	score := f.PromptLength*w.PromptLength +
		f.InputSize*w.InputSize +
		f.ConditionCount*w.ConditionCount +
		f.ContextDepth*w.ContextDepth +
		f.ReasoningDepth*w.ReasoningDepth +
		f.OutputComplexity*w.OutputComplexity
	return clamp(score, 0, 10)
}

// stepPrompt is the text whose length drives the prompt-length factor.
func stepPrompt(step *schema.WorkflowStep) string {
	switch {
	case step.AI != nil:
		return step.AI.Prompt
	case step.Action != nil:
		b, err := json.Marshal(step.Action.Params)
		if err != nil {
			return ""
		}
		return string(b)
	case step.Transform != nil:
		return string(step.Transform.Config)
	default:
		return ""
	}
}

// conditionCount counts simple predicates reachable from the step.
func conditionCount(step *schema.WorkflowStep) int {
	if step.Conditional == nil {
		return 0
	}
	return countPredicates(&step.Conditional.Condition)
}

func countPredicates(c *schema.Condition) int {
	if c == nil {
		return 0
	}
	if c.IsComposite() {
		n := 0
		for i := range c.Conditions {
			n += countPredicates(&c.Conditions[i])
		}
		return n
	}
	return 1
}

// reasoningDepth is an intent-derived baseline: open-ended generation and
// decision making demand more model work than mechanical extraction.
func reasoningDepth(step *schema.WorkflowStep) float64 {
	base := map[string]float64{
		"generate":    8,
		"decide":      7,
		"summarize":   5,
		"extract":     3,
		"classify":    3,
		"sentiment":   2,
		"conditional": 2,
		"scatter":     2,
	}[step.Intent]
	if base == 0 {
		base = 1
	}
	if step.AI != nil {
		base += float64(len(step.AI.Constraints))
	}
	return clamp(base, 0, 10)
}

// outputComplexity scores how structured the expected output is.
func outputComplexity(step *schema.WorkflowStep) float64 {
	switch {
	case step.AI != nil:
		return clamp(float64(len(step.AI.OutputSchema))*2, 1, 10)
	case step.ScatterGather != nil:
		return 6
	case step.Conditional != nil:
		return 4
	case step.OutputContract == schema.ContractKeyed:
		return 5
	case step.OutputContract == schema.ContractArray, step.OutputContract == schema.ContractItems:
		return 3
	default:
		return 2
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
