package budget

import (
	"context"
	"math"

	"github.com/weftlabs/weft/pkg/schema"
)

// maxComplexityBucket is the top history bucket. Effective complexity
// is floored into [0, maxComplexityBucket] when indexing usage stats.
const maxComplexityBucket = 9

// predictive sizes each step at ceil(mean + 2*stddev) of its historical
// consumption, keyed by intent, tier, and complexity bucket. Steps with
// fewer than MinSamples observations fall back to their proportional
// share; when fewer than MinCoverage of the level's steps have usable
// history, the whole level falls back to proportional.
func (m *Manager) predictive(ctx context.Context, total int, steps []*schema.WorkflowStep, decisions map[string]*schema.RoutingDecision) []schema.TokenBudget {
	type prediction struct {
		ok    bool
		alloc int
	}
	predictions := make([]prediction, len(steps))
	covered := 0

	for i, s := range steps {
		decision := decisions[s.ID]
		if decision == nil || m.store == nil {
			continue
		}
		bucket := BucketFor(decision.EffectiveComplexity)
		stats, err := m.store.QueryUsageStats(ctx, s.Intent, decision.Tier, bucket)
		if err != nil {
			m.logger.Warn("usage stats query failed, step falls back to proportional",
				"step", s.ID, "intent", s.Intent, "tier", decision.Tier, "error", err)
			continue
		}
		if stats.Samples < m.cfg.MinSamples {
			continue
		}
		predictions[i] = prediction{ok: true, alloc: int(math.Ceil(stats.Mean + 2*stats.StdDev))}
		covered++
	}

	fallback := m.proportional(total, steps)

	if float64(covered) < m.cfg.MinCoverage*float64(len(steps)) {
		m.logger.Info("predictive coverage below threshold, level falls back to proportional",
			"covered", covered, "steps", len(steps))
		for i := range fallback {
			fallback[i].Strategy = schema.BudgetPredictive
			fallback[i].Fallback = true
		}
		return fallback
	}

	budgets := make([]schema.TokenBudget, len(steps))
	for i, s := range steps {
		if p := predictions[i]; p.ok {
			budgets[i] = schema.TokenBudget{StepID: s.ID, Allocated: p.alloc, Strategy: schema.BudgetPredictive}
			continue
		}
		budgets[i] = schema.TokenBudget{
			StepID:    s.ID,
			Allocated: fallback[i].Allocated,
			Strategy:  schema.BudgetPredictive,
			Fallback:  true,
		}
	}
	return budgets
}

// BucketFor floors an effective complexity score into a stats
// bucket.
func BucketFor(effective float64) int {
	b := int(math.Floor(effective))
	if b < 0 {
		return 0
	}
	if b > maxComplexityBucket {
		return maxComplexityBucket
	}
	return b
}
