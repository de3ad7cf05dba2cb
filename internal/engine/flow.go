package engine

import (
	"context"
	"sort"
	"sync"

	"github.com/weftlabs/weft/internal/routing"
	"github.com/weftlabs/weft/pkg/schema"
)

// runConditional evaluates the condition exactly once, emits the
// branch choice, and runs the selected branch's steps in order. The
// conditional's own output is the last branch step's output; a false
// condition with no else branch yields nil.
func (e *Executor) runConditional(ctx context.Context, step *schema.WorkflowStep, ec *ExecutionContext) (any, error) {
	spec := step.Conditional

	// Simple predicates resolve their field paths against the frozen
	// step outputs, so a field like "stage_filter.count" reads through
	// the producing step's output.
	scope := ec.Scope()
	hold, err := e.conditions.Evaluate(ctx, &spec.Condition, scope.Steps, scope)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeExecution,
			"evaluate condition: %s", err.Error()).WithStep(step.ID).WithCause(err)
	}

	branch := "then"
	steps := spec.Then.Steps
	if !hold {
		branch = "else"
		if spec.Else == nil {
			e.emitter.Emit(ec.RunID, step.ID, schema.EventBranchSelected, map[string]any{
				"branch": "none",
				"result": false,
			})
			return nil, nil
		}
		steps = spec.Else.Steps
	}
	e.emitter.Emit(ec.RunID, step.ID, schema.EventBranchSelected, map[string]any{
		"branch": branch,
		"result": hold,
	})

	return e.runSequence(ctx, steps, ec)
}

// runScatterGather fans the scattered input out over the body steps
// with bounded concurrency and collects the per-item results in input
// order.
func (e *Executor) runScatterGather(ctx context.Context, step *schema.WorkflowStep, ec *ExecutionContext) (any, error) {
	spec := step.ScatterGather

	input, err := e.resolveInput(ec, spec.Scatter.Input)
	if err != nil {
		return nil, err
	}
	items, err := scatterItems(input)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeExecution,
			"scatter input %q: %s", spec.Scatter.Input, err.Error()).WithStep(step.ID).WithCause(err)
	}

	if len(items) > spec.Scatter.MaxIterations {
		return nil, schema.NewErrorf(schema.ErrCodeLoopBoundExceeded,
			"scatter input has %d items, max_iterations is %d", len(items), spec.Scatter.MaxIterations).
			WithStep(step.ID)
	}

	e.emitter.Emit(ec.RunID, step.ID, schema.EventScatterStarted, map[string]any{
		"items":           len(items),
		"max_concurrency": spec.Scatter.MaxConcurrency,
	})

	if len(items) == 0 {
		e.emitter.Emit(ec.RunID, step.ID, schema.EventGatherCompleted, map[string]any{"items": 0})
		return []any{}, nil
	}

	concurrency := spec.Scatter.MaxConcurrency
	if concurrency <= 0 {
		concurrency = 1
	}

	results := make([]any, len(items))
	errs := make([]error, len(items))
	pool := NewWorkerPool(concurrency)
	var wg sync.WaitGroup

	for i, item := range items {
		i, item := i, item
		wg.Add(1)
		err := pool.Submit(ctx, func(ctx context.Context) error {
			defer wg.Done()
			child := ec.forScatterItem(item, i)
			out, itemErr := e.runSequence(ctx, spec.Scatter.Steps, child)
			if itemErr != nil {
				errs[i] = itemErr
				return itemErr
			}
			results[i] = out
			e.emitter.Emit(ec.RunID, step.ID, schema.EventScatterItemCompleted, map[string]any{
				"index": i,
			})
			return nil
		})
		if err != nil {
			wg.Done()
			errs[i] = err
		}
	}
	wg.Wait()
	pool.Shutdown()

	for i, itemErr := range errs {
		if itemErr != nil {
			return nil, schema.NewErrorf(schema.ErrCodeStepFailed,
				"scatter item %d failed: %s", i, itemErr.Error()).WithStep(step.ID).WithCause(itemErr)
		}
	}

	e.emitter.Emit(ec.RunID, step.ID, schema.EventGatherCompleted, map[string]any{
		"items": len(results),
	})
	return results, nil
}

// runSequence executes nested steps in declaration order within the
// given context. Each model-backed step is routed and budgeted on the
// fly. The last step's output is the sequence's output.
func (e *Executor) runSequence(ctx context.Context, steps []schema.WorkflowStep, ec *ExecutionContext) (any, error) {
	var last any
	for i := range steps {
		nested := &steps[i]

		decision, err := e.routeNested(ctx, nested, ec)
		if err != nil {
			return nil, err
		}
		from := schema.StepStatusRouted

		var stepBudget schema.TokenBudget
		if nested.IsModelBacked() {
			budgets, err := e.budgets.Allocate(ctx, e.cfg.Strategy, e.cfg.LevelBudget,
				[]*schema.WorkflowStep{nested}, map[string]*schema.RoutingDecision{nested.ID: decision})
			if err != nil {
				return nil, err
			}
			if len(budgets) == 1 {
				stepBudget = budgets[0]
				from = schema.StepStatusBudgeted
				_ = e.stepFSM.Transition(ec.RunID, nested.ID, schema.StepStatusRouted, schema.StepStatusBudgeted, map[string]any{
					"allocated": stepBudget.Allocated,
					"strategy":  string(stepBudget.Strategy),
				})
			}
		}

		output, err := e.runStep(ctx, nested, ec, decision, stepBudget, from, false)
		if err != nil {
			_ = e.stepFSM.Transition(ec.RunID, nested.ID, schema.StepStatusRunning, schema.StepStatusFailed, map[string]any{
				"error": err.Error(),
			})
			return nil, err
		}

		_ = e.stepFSM.Transition(ec.RunID, nested.ID, schema.StepStatusRunning, schema.StepStatusCompleted, map[string]any{
			"output": output,
		})
		if err := ec.CompleteStep(nested, output); err != nil {
			return nil, err
		}
		last = output
	}
	return last, nil
}

// routeNested routes one nested step and emits its routed event.
func (e *Executor) routeNested(ctx context.Context, step *schema.WorkflowStep, ec *ExecutionContext) (*schema.RoutingDecision, error) {
	scope := ec.Scope()
	decision, err := e.router.Route(ctx, e.cfg.AgentComplexity, step, routing.StepContext{
		InputTokens: e.estimateInput(step, ec),
		ScopeDepth:  len(scope.Steps),
	})
	if err != nil {
		return nil, err
	}
	_ = e.stepFSM.Transition(ec.RunID, step.ID, schema.StepStatusPending, schema.StepStatusRouted, map[string]any{
		"tier":      string(decision.Tier),
		"model":     decision.Model,
		"rationale": decision.Rationale,
	})
	return decision, nil
}

// scatterItems coerces a scatter input into iterable items. Arrays
// iterate as-is; keyed outputs iterate {key, value} pairs in sorted
// key order. The compiler resolves filter references to their items
// path, so envelopes never arrive here.
func scatterItems(input any) ([]any, error) {
	switch v := input.(type) {
	case nil:
		return []any{}, nil
	case []any:
		return v, nil
	case map[string]any:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		items := make([]any, 0, len(v))
		for _, k := range keys {
			items = append(items, map[string]any{"key": k, "value": v[k]})
		}
		return items, nil
	default:
		return nil, schema.NewErrorf(schema.ErrCodeExecution, "value of type %T is not iterable", input)
	}
}
