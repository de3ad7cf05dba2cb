// Package budget splits a run's token budget across the model-backed
// steps of a DAG level. Four strategies are supported: equal,
// proportional, priority, and predictive. The first three conserve the
// level total exactly; predictive sizes each step from usage history
// and falls back to proportional when history is thin.
package budget

import (
	"context"
	"log/slog"

	"github.com/weftlabs/weft/internal/store"
	"github.com/weftlabs/weft/pkg/schema"
)

const (
	defaultFloorPerStep = 128
	defaultMinSamples   = 10
	defaultMinCoverage  = 0.5
)

// Config tunes allocation behavior. Zero values take the package
// defaults in NewManager.
type Config struct {
	// FloorPerStep is the minimum tokens any step is allocated.
	FloorPerStep int
	// CeilingPerStep caps any single allocation. Zero means uncapped.
	CeilingPerStep int
	// MinSamples is the history size below which the predictive
	// strategy distrusts a step's stats.
	MinSamples int
	// MinCoverage is the fraction of steps that must have sufficient
	// history before predictive runs at all. Below it the whole level
	// falls back to proportional.
	MinCoverage float64
}

// DefaultConfig returns the standard allocation tunables.
func DefaultConfig() Config {
	return Config{
		FloorPerStep: defaultFloorPerStep,
		MinSamples:   defaultMinSamples,
		MinCoverage:  defaultMinCoverage,
	}
}

// Manager allocates per-step token budgets for one DAG level at a time.
type Manager struct {
	store  store.Store
	cfg    Config
	logger *slog.Logger
}

// NewManager builds a Manager. The store is only consulted by the
// predictive strategy and may be nil when predictive is never used.
func NewManager(s store.Store, cfg Config, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.FloorPerStep <= 0 {
		cfg.FloorPerStep = defaultFloorPerStep
	}
	if cfg.MinSamples <= 0 {
		cfg.MinSamples = defaultMinSamples
	}
	if cfg.MinCoverage <= 0 {
		cfg.MinCoverage = defaultMinCoverage
	}
	return &Manager{store: s, cfg: cfg, logger: logger}
}

// Allocate splits total across the model-backed steps in the level.
// Non-model steps are skipped; they consume no tokens. Returned budgets
// are in step order.
func (m *Manager) Allocate(ctx context.Context, strategy schema.BudgetStrategy, total int, steps []*schema.WorkflowStep, decisions map[string]*schema.RoutingDecision) ([]schema.TokenBudget, error) {
	backed := make([]*schema.WorkflowStep, 0, len(steps))
	for _, s := range steps {
		if s.IsModelBacked() {
			backed = append(backed, s)
		}
	}
	if len(backed) == 0 {
		return nil, nil
	}
	if total <= 0 {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "level token budget must be positive, got %d", total)
	}

	var budgets []schema.TokenBudget
	switch strategy {
	case schema.BudgetEqual:
		budgets = m.equal(total, backed)
	case schema.BudgetProportional:
		budgets = m.proportional(total, backed)
	case schema.BudgetPriority:
		budgets = m.priority(total, backed)
	case schema.BudgetPredictive:
		budgets = m.predictive(ctx, total, backed, decisions)
	default:
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "unknown budget strategy %q", strategy)
	}

	for i := range budgets {
		budgets[i].Allocated = m.clamp(budgets[i].Allocated)
	}
	return budgets, nil
}

// equal gives every step total/n, spreading the remainder over the
// first steps so the sum stays exact.
func (m *Manager) equal(total int, steps []*schema.WorkflowStep) []schema.TokenBudget {
	n := len(steps)
	share := total / n
	rem := total % n

	budgets := make([]schema.TokenBudget, n)
	for i, s := range steps {
		alloc := share
		if i < rem {
			alloc++
		}
		budgets[i] = schema.TokenBudget{StepID: s.ID, Allocated: alloc, Strategy: schema.BudgetEqual}
	}
	return budgets
}

// proportional weights steps by intent baseline. Generation-heavy
// intents get larger shares than extraction-style ones.
func (m *Manager) proportional(total int, steps []*schema.WorkflowStep) []schema.TokenBudget {
	weights := make([]float64, len(steps))
	for i, s := range steps {
		weights[i] = intentWeight(s.Intent)
	}
	return m.weighted(total, steps, weights, schema.BudgetProportional)
}

// priority weights steps by their compile-time Priority field. Steps
// without an explicit priority count as 1.
func (m *Manager) priority(total int, steps []*schema.WorkflowStep) []schema.TokenBudget {
	weights := make([]float64, len(steps))
	for i, s := range steps {
		w := s.Priority
		if w <= 0 {
			w = 1
		}
		weights[i] = w
	}
	return m.weighted(total, steps, weights, schema.BudgetPriority)
}

// weighted distributes total by weight with floor division, then hands
// the leftover tokens to the heaviest steps so the sum equals total.
func (m *Manager) weighted(total int, steps []*schema.WorkflowStep, weights []float64, strategy schema.BudgetStrategy) []schema.TokenBudget {
	var sum float64
	for _, w := range weights {
		sum += w
	}

	budgets := make([]schema.TokenBudget, len(steps))
	allocated := 0
	for i, s := range steps {
		alloc := int(float64(total) * weights[i] / sum)
		budgets[i] = schema.TokenBudget{StepID: s.ID, Allocated: alloc, Strategy: strategy}
		allocated += alloc
	}

	for leftover := total - allocated; leftover > 0; leftover-- {
		best := 0
		for i := 1; i < len(weights); i++ {
			if weights[i] > weights[best] {
				best = i
			}
		}
		budgets[best].Allocated++
		weights[best] = 0
	}
	return budgets
}

func (m *Manager) clamp(alloc int) int {
	if alloc < m.cfg.FloorPerStep {
		alloc = m.cfg.FloorPerStep
	}
	if m.cfg.CeilingPerStep > 0 && alloc > m.cfg.CeilingPerStep {
		alloc = m.cfg.CeilingPerStep
	}
	return alloc
}

// intentWeight mirrors the reasoning-depth baselines used by routing:
// intents that produce more text get proportionally more budget.
func intentWeight(intent string) float64 {
	switch intent {
	case "generate":
		return 8
	case "decide":
		return 7
	case "summarize":
		return 5
	case "extract", "classify":
		return 3
	case "sentiment":
		return 2
	default:
		return 1
	}
}
