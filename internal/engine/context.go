package engine

import (
	"sync"

	"github.com/weftlabs/weft/internal/expressions"
	"github.com/weftlabs/weft/pkg/schema"
)

// ExecutionContext carries per-run state through the executor: the
// variable scope visible to expressions and interpolation, and the
// alias registry mapping human output names to producing steps.
type ExecutionContext struct {
	RunID string

	scope  *expressions.ScopeBuilder
	interp *expressions.Interpolator

	mu      sync.Mutex
	aliases map[string]string // output alias -> producing step ID

	emitter EventEmitter
}

// NewExecutionContext initializes the context for one run.
func NewExecutionContext(runID, workflowName string, inputs map[string]any, emitter EventEmitter) *ExecutionContext {
	run := map[string]any{
		"run_id":   runID,
		"workflow": workflowName,
	}
	return &ExecutionContext{
		RunID:   runID,
		scope:   expressions.NewScopeBuilder(inputs, run),
		interp:  expressions.NewInterpolator(),
		aliases: make(map[string]string),
		emitter: emitter,
	}
}

// CompleteStep freezes a step's output into the scope and registers its
// aliases. Double completion is a conflict.
func (ec *ExecutionContext) CompleteStep(step *schema.WorkflowStep, output any) error {
	if err := ec.scope.AddStepOutput(step.ID, output); err != nil {
		return err
	}
	if step.Name != "" {
		ec.RegisterAlias(step.Name, step.ID)
	}
	if step.ScatterGather != nil && step.ScatterGather.Gather.OutputKey != "" {
		ec.RegisterAlias(step.ScatterGather.Gather.OutputKey, step.ID)
	}
	return nil
}

// RegisterAlias binds an output alias to a producing step. The first
// producer wins; later claims are recorded as an alias_resolved event
// and the original binding stands. Returns the winning step ID.
func (ec *ExecutionContext) RegisterAlias(alias, stepID string) string {
	ec.mu.Lock()
	defer ec.mu.Unlock()

	winner, taken := ec.aliases[alias]
	if !taken {
		ec.aliases[alias] = stepID
		return stepID
	}
	if winner != stepID && ec.emitter != nil {
		ec.emitter.Emit(ec.RunID, stepID, schema.EventAliasResolved, map[string]any{
			"alias":    alias,
			"winner":   winner,
			"rejected": stepID,
		})
	}
	return winner
}

// ResolveAlias returns the step ID an alias resolves to, falling back
// to the alias itself when nothing claimed it. Step IDs therefore
// always resolve to themselves.
func (ec *ExecutionContext) ResolveAlias(alias string) string {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	if winner, ok := ec.aliases[alias]; ok {
		return winner
	}
	return alias
}

// Scope snapshots the current interpolation scope.
func (ec *ExecutionContext) Scope() *expressions.InterpolationScope {
	return ec.scope.Build()
}

// StepOutput returns a completed step's frozen output.
func (ec *ExecutionContext) StepOutput(stepID string) (any, bool) {
	return ec.scope.StepOutput(stepID)
}

// Interpolator returns the shared ${{...}} resolver.
func (ec *ExecutionContext) Interpolator() *expressions.Interpolator {
	return ec.interp
}

// forScatterItem derives an item-scoped child context. Step outputs
// registered inside the child do not leak back to the parent.
func (ec *ExecutionContext) forScatterItem(value any, index int) *ExecutionContext {
	return &ExecutionContext{
		RunID:   ec.RunID,
		scope:   ec.scope.ForScatterItem(value, index),
		interp:  ec.interp,
		aliases: make(map[string]string),
		emitter: ec.emitter,
	}
}
