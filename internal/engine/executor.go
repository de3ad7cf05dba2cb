// Package engine executes compiled workflows. The executor walks the
// DAG level by level: every step in a level is routed to a model tier,
// model-backed steps receive a token budget, and the level's steps run
// concurrently on a bounded worker pool. Failures skip the dependent
// subgraph; retryable failures escalate one tier with a grown budget.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/weftlabs/weft/internal/budget"
	"github.com/weftlabs/weft/internal/expressions"
	"github.com/weftlabs/weft/internal/routing"
	"github.com/weftlabs/weft/internal/store"
	"github.com/weftlabs/weft/internal/tokens"
	"github.com/weftlabs/weft/pkg/schema"
)

const (
	defaultMaxConcurrency = 4
	defaultLevelBudget    = 16000
	defaultStepTimeout    = 2 * time.Minute
)

// ActionHandler executes a connector action with interpolated params.
type ActionHandler interface {
	Execute(ctx context.Context, spec *schema.ActionSpec, params map[string]any) (any, error)
}

// TransformHandler applies a deterministic transform to resolved input.
type TransformHandler interface {
	Apply(ctx context.Context, spec *schema.TransformSpec, input any, scope *expressions.InterpolationScope) (any, error)
}

// AIResult is what an AI handler returns: the structured output, the
// tokens actually consumed, and whether the allocation was overrun.
type AIResult struct {
	Output          any
	Usage           schema.TokenUsage
	BudgetExhausted bool
}

// AIHandler runs a model-backed step at the routed tier within its
// token budget.
type AIHandler interface {
	Process(ctx context.Context, step *schema.WorkflowStep, decision *schema.RoutingDecision, budget schema.TokenBudget, scope *expressions.InterpolationScope) (*AIResult, error)
}

// Handlers bundles the per-step-type executors.
type Handlers struct {
	Action    ActionHandler
	Transform TransformHandler
	AI        AIHandler
}

// Config tunes one executor instance.
type Config struct {
	// MaxConcurrency bounds how many steps of one level run at once.
	MaxConcurrency int
	// AgentComplexity is the externally supplied 0..10 agent score
	// blended into every routing decision.
	AgentComplexity float64
	// Strategy picks how each level's token budget is split.
	Strategy schema.BudgetStrategy
	// LevelBudget is the token budget shared by the model-backed steps
	// of one level.
	LevelBudget int
	// StepTimeout bounds a single step attempt. Zero disables it.
	StepTimeout time.Duration
}

// DefaultConfig returns the standard executor tunables.
func DefaultConfig() Config {
	return Config{
		MaxConcurrency: defaultMaxConcurrency,
		Strategy:       schema.BudgetProportional,
		LevelBudget:    defaultLevelBudget,
		StepTimeout:    defaultStepTimeout,
	}
}

// Executor runs compiled workflows against a store, an audit sink, a
// router, a budget manager, and the step handlers.
type Executor struct {
	store      store.Store
	emitter    EventEmitter
	router     *routing.Service
	budgets    *budget.Manager
	handlers   Handlers
	conditions *expressions.ConditionEvaluator
	est        *tokens.Estimator
	runFSM     *RunFSM
	stepFSM    *StepFSM
	logger     *slog.Logger
	cfg        Config
}

// NewExecutor wires an Executor. conditions drives conditional steps;
// when nil, expression-form conditions fail at evaluation time.
func NewExecutor(st store.Store, emitter EventEmitter, router *routing.Service, budgets *budget.Manager, handlers Handlers, conditions *expressions.ConditionEvaluator, logger *slog.Logger, cfg Config) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	if conditions == nil {
		conditions = expressions.NewConditionEvaluator(nil)
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = defaultMaxConcurrency
	}
	if cfg.LevelBudget <= 0 {
		cfg.LevelBudget = defaultLevelBudget
	}
	if cfg.Strategy == "" {
		cfg.Strategy = schema.BudgetProportional
	}
	return &Executor{
		store:      st,
		emitter:    emitter,
		router:     router,
		budgets:    budgets,
		handlers:   handlers,
		conditions: conditions,
		est:        tokens.NewEstimator(),
		runFSM:     NewRunFSM(emitter),
		stepFSM:    NewStepFSM(emitter),
		logger:     logger,
		cfg:        cfg,
	}
}

// runState tracks per-step status for one run.
type runState struct {
	mu       sync.Mutex
	statuses map[string]schema.StepStatus
	failures map[string]string
}

func newRunState(dag *DAG) *runState {
	rs := &runState{
		statuses: make(map[string]schema.StepStatus, len(dag.Steps)),
		failures: make(map[string]string),
	}
	for id := range dag.Steps {
		rs.statuses[id] = schema.StepStatusPending
	}
	return rs
}

func (rs *runState) set(stepID string, status schema.StepStatus) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.statuses[stepID] = status
}

func (rs *runState) get(stepID string) schema.StepStatus {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.statuses[stepID]
}

func (rs *runState) fail(stepID, msg string) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.statuses[stepID] = schema.StepStatusFailed
	rs.failures[stepID] = msg
}

func (rs *runState) failureSummary() string {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if len(rs.failures) == 0 {
		return ""
	}
	parts := make([]string, 0, len(rs.failures))
	for id, msg := range rs.failures {
		parts = append(parts, fmt.Sprintf("%s: %s", id, msg))
	}
	sort.Strings(parts)
	return strings.Join(parts, "; ")
}

// Execute runs a compiled workflow to completion. The run record is
// created, driven through its lifecycle, and finalized in the store.
func (e *Executor) Execute(ctx context.Context, wf *schema.Workflow, runID string, inputs map[string]any) (*schema.Run, error) {
	dag, err := BuildDAG(wf)
	if err != nil {
		return nil, err
	}

	run := &schema.Run{
		ID:           runID,
		WorkflowName: wf.Name,
		Status:       schema.RunStatusPending,
		Inputs:       inputs,
		CreatedAt:    time.Now().UTC(),
	}
	if err := e.store.CreateRun(ctx, run); err != nil {
		return nil, err
	}

	if err := e.runFSM.Transition(runID, schema.RunStatusPending, schema.RunStatusActive,
		map[string]any{"workflow": wf.Name}); err != nil {
		return nil, err
	}
	started := time.Now().UTC()
	active := schema.RunStatusActive
	if err := e.store.UpdateRun(ctx, runID, store.RunUpdate{Status: &active, StartedAt: &started}); err != nil {
		return nil, err
	}
	run.Status = active
	run.StartedAt = &started

	ec := NewExecutionContext(runID, wf.Name, inputs, e.emitter)
	rs := newRunState(dag)

	for _, level := range dag.Levels {
		if ctx.Err() != nil {
			break
		}
		e.executeLevel(ctx, dag, level, ec, rs)
	}

	return e.finalize(ctx, run, wf, dag, ec, rs)
}

// executeLevel routes, budgets, and concurrently dispatches one level.
func (e *Executor) executeLevel(ctx context.Context, dag *DAG, level []string, ec *ExecutionContext, rs *runState) {
	runnable := make([]*schema.WorkflowStep, 0, len(level))
	for _, id := range level {
		step := dag.Steps[id]
		if blockedBy := e.blockingDep(dag, id, rs); blockedBy != "" {
			e.skipStep(ctx, ec.RunID, step, rs, blockedBy)
			continue
		}
		runnable = append(runnable, step)
	}
	if len(runnable) == 0 {
		return
	}

	decisions := make(map[string]*schema.RoutingDecision, len(runnable))
	scope := ec.Scope()
	for _, step := range runnable {
		decision, err := e.router.Route(ctx, e.cfg.AgentComplexity, step, routing.StepContext{
			InputTokens: e.estimateInput(step, ec),
			ScopeDepth:  len(scope.Steps),
		})
		if err != nil {
			e.failStep(ctx, ec.RunID, step, rs, schema.StepStatusPending, err)
			continue
		}
		decisions[step.ID] = decision
		rs.set(step.ID, schema.StepStatusRouted)
		_ = e.stepFSM.Transition(ec.RunID, step.ID, schema.StepStatusPending, schema.StepStatusRouted, map[string]any{
			"tier":                 string(decision.Tier),
			"model":                decision.Model,
			"rationale":            decision.Rationale,
			"step_complexity":      decision.StepComplexity,
			"effective_complexity": decision.EffectiveComplexity,
		})
	}

	budgets, err := e.budgets.Allocate(ctx, e.cfg.Strategy, e.cfg.LevelBudget, runnable, decisions)
	if err != nil {
		for _, step := range runnable {
			if rs.get(step.ID) == schema.StepStatusRouted {
				e.failStep(ctx, ec.RunID, step, rs, schema.StepStatusRouted, err)
			}
		}
		return
	}
	budgetByStep := make(map[string]schema.TokenBudget, len(budgets))
	for _, b := range budgets {
		budgetByStep[b.StepID] = b
		rs.set(b.StepID, schema.StepStatusBudgeted)
		_ = e.stepFSM.Transition(ec.RunID, b.StepID, schema.StepStatusRouted, schema.StepStatusBudgeted, map[string]any{
			"allocated": b.Allocated,
			"strategy":  string(b.Strategy),
			"fallback":  b.Fallback,
		})
	}

	pool := NewWorkerPool(e.cfg.MaxConcurrency)
	for _, step := range runnable {
		if rs.get(step.ID) == schema.StepStatusFailed {
			continue
		}
		step := step
		decision := decisions[step.ID]
		stepBudget := budgetByStep[step.ID]
		if err := pool.Submit(ctx, func(ctx context.Context) error {
			return e.executeStep(ctx, step, ec, rs, decision, stepBudget)
		}); err != nil {
			e.failStep(ctx, ec.RunID, step, rs, rs.get(step.ID), err)
		}
	}
	pool.Wait()
	pool.Shutdown()
}

// executeStep drives one top-level step through running and into a
// terminal state, retrying model-backed steps with tier escalation.
func (e *Executor) executeStep(ctx context.Context, step *schema.WorkflowStep, ec *ExecutionContext, rs *runState, decision *schema.RoutingDecision, stepBudget schema.TokenBudget) error {
	from := rs.get(step.ID)
	output, err := e.runStep(ctx, step, ec, decision, stepBudget, from, true)
	if err != nil {
		e.failStep(ctx, ec.RunID, step, rs, schema.StepStatusRunning, err)
		return err
	}

	rs.set(step.ID, schema.StepStatusCompleted)
	_ = e.stepFSM.Transition(ec.RunID, step.ID, schema.StepStatusRunning, schema.StepStatusCompleted, map[string]any{
		"output": output,
	})
	if err := ec.CompleteStep(step, output); err != nil {
		e.logger.Error("freeze step output", "step", step.ID, "error", err)
	}
	now := time.Now().UTC()
	e.persistStepState(ctx, &schema.StepState{
		RunID:      ec.RunID,
		StepID:     step.ID,
		Status:     schema.StepStatusCompleted,
		Tier:       decisionTier(decision),
		Allocated:  stepBudget.Allocated,
		Attempts:   1,
		Output:     output,
		FinishedAt: &now,
	})
	return nil
}

// runStep performs the running transition, dispatch, and the retry
// loop. Shared by top-level steps and nested branch or scatter steps;
// only top-level steps persist materialized state.
func (e *Executor) runStep(ctx context.Context, step *schema.WorkflowStep, ec *ExecutionContext, decision *schema.RoutingDecision, stepBudget schema.TokenBudget, from schema.StepStatus, persist bool) (any, error) {
	_ = e.stepFSM.Transition(ec.RunID, step.ID, from, schema.StepStatusRunning, map[string]any{
		"attempt": 1,
	})
	if persist {
		now := time.Now().UTC()
		e.persistStepState(ctx, &schema.StepState{
			RunID:     ec.RunID,
			StepID:    step.ID,
			Status:    schema.StepStatusRunning,
			Tier:      decisionTier(decision),
			Allocated: stepBudget.Allocated,
			Attempts:  1,
			StartedAt: &now,
		})
	}

	output, err := e.dispatch(ctx, step, ec, decision, stepBudget)
	attempt := 1
	for err != nil && step.IsModelBacked() && IsRetryableError(err) {
		if decision == nil || !Escalate(decision, &stepBudget) {
			return nil, schema.NewErrorf(schema.ErrCodeRetryExhausted,
				"step failed at top tier: %s", err.Error()).WithStep(step.ID).WithCause(err)
		}
		decision.Model = e.router.ModelFor(decision.Tier)
		attempt++
		_ = e.stepFSM.Transition(ec.RunID, step.ID, schema.StepStatusRunning, schema.StepStatusRetrying, map[string]any{
			"attempt":   attempt,
			"tier":      string(decision.Tier),
			"allocated": stepBudget.Allocated,
			"cause":     err.Error(),
		})
		e.emitter.Emit(ec.RunID, step.ID, schema.EventStepRetryAttempt, map[string]any{
			"attempt": attempt,
			"tier":    string(decision.Tier),
		})
		_ = e.stepFSM.Transition(ec.RunID, step.ID, schema.StepStatusRetrying, schema.StepStatusRunning, map[string]any{
			"attempt": attempt,
		})
		output, err = e.dispatch(ctx, step, ec, decision, stepBudget)
	}
	return output, err
}

// dispatch runs one attempt of a step, bounded by the step timeout.
func (e *Executor) dispatch(ctx context.Context, step *schema.WorkflowStep, ec *ExecutionContext, decision *schema.RoutingDecision, stepBudget schema.TokenBudget) (any, error) {
	if e.cfg.StepTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.StepTimeout)
		defer cancel()
	}

	switch step.Type {
	case schema.StepAction:
		params, err := e.interpolateParams(step.Action.Params, ec)
		if err != nil {
			return nil, err
		}
		return e.handlers.Action.Execute(ctx, step.Action, params)

	case schema.StepTransform:
		input, err := e.resolveInput(ec, step.Transform.Input)
		if err != nil {
			return nil, err
		}
		return e.handlers.Transform.Apply(ctx, step.Transform, input, ec.Scope())

	case schema.StepAIProcessing:
		result, err := e.handlers.AI.Process(ctx, step, decision, stepBudget, ec.Scope())
		if err != nil {
			return nil, err
		}
		e.recordUsage(ctx, ec.RunID, step, decision, stepBudget, result)
		return result.Output, nil

	case schema.StepConditional:
		return e.runConditional(ctx, step, ec)

	case schema.StepScatterGather:
		return e.runScatterGather(ctx, step, ec)

	default:
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "unknown step type %q", step.Type).WithStep(step.ID)
	}
}

// recordUsage persists token consumption and flags overruns. A budget
// overrun is audit-only; it never fails the step.
func (e *Executor) recordUsage(ctx context.Context, runID string, step *schema.WorkflowStep, decision *schema.RoutingDecision, stepBudget schema.TokenBudget, result *AIResult) {
	usage := result.Usage
	usage.RunID = runID
	usage.StepID = step.ID
	usage.Intent = step.Intent
	if decision != nil {
		usage.Tier = decision.Tier
		usage.Model = decision.Model
	}
	usage.Allocated = stepBudget.Allocated

	bucket := 0
	if decision != nil {
		bucket = budget.BucketFor(decision.EffectiveComplexity)
	}
	if err := e.store.RecordTokenUsage(ctx, &usage, bucket); err != nil {
		e.logger.Warn("record token usage", "step", step.ID, "error", err)
	}

	if result.BudgetExhausted || (stepBudget.Allocated > 0 && usage.Total() > stepBudget.Allocated) {
		e.emitter.Emit(runID, step.ID, schema.EventBudgetExhausted, map[string]any{
			"allocated": stepBudget.Allocated,
			"consumed":  usage.Total(),
		})
	}
}

// blockingDep returns the ID of a failed or skipped dependency, or ""
// when the step is clear to run.
func (e *Executor) blockingDep(dag *DAG, stepID string, rs *runState) string {
	for _, dep := range dag.Edges[stepID] {
		switch rs.get(dep) {
		case schema.StepStatusFailed, schema.StepStatusSkipped:
			return dep
		}
	}
	return ""
}

func (e *Executor) skipStep(ctx context.Context, runID string, step *schema.WorkflowStep, rs *runState, blockedBy string) {
	rs.set(step.ID, schema.StepStatusSkipped)
	_ = e.stepFSM.Transition(runID, step.ID, schema.StepStatusPending, schema.StepStatusSkipped, map[string]any{
		"blocked_by": blockedBy,
	})
	e.persistStepState(ctx, &schema.StepState{
		RunID:  runID,
		StepID: step.ID,
		Status: schema.StepStatusSkipped,
	})
}

func (e *Executor) failStep(ctx context.Context, runID string, step *schema.WorkflowStep, rs *runState, from schema.StepStatus, err error) {
	rs.fail(step.ID, err.Error())
	_ = e.stepFSM.Transition(runID, step.ID, from, schema.StepStatusFailed, map[string]any{
		"error": err.Error(),
	})
	now := time.Now().UTC()
	e.persistStepState(ctx, &schema.StepState{
		RunID:      runID,
		StepID:     step.ID,
		Status:     schema.StepStatusFailed,
		Error:      err.Error(),
		FinishedAt: &now,
	})
	e.logger.Error("step failed", "run", runID, "step", step.ID, "error", err)
}

func (e *Executor) persistStepState(ctx context.Context, state *schema.StepState) {
	if err := e.store.UpsertStepState(ctx, state); err != nil {
		e.logger.Warn("persist step state", "step", state.StepID, "error", err)
	}
}

// finalize settles the run record: failed when any step failed,
// completed otherwise, with the primary output attached.
func (e *Executor) finalize(ctx context.Context, run *schema.Run, wf *schema.Workflow, dag *DAG, ec *ExecutionContext, rs *runState) (*schema.Run, error) {
	finished := time.Now().UTC()

	if summary := rs.failureSummary(); summary != "" {
		failed := schema.RunStatusFailed
		_ = e.runFSM.Transition(run.ID, schema.RunStatusActive, failed, map[string]any{"error": summary})
		errMsg := summary
		if err := e.store.UpdateRun(ctx, run.ID, store.RunUpdate{Status: &failed, Error: &errMsg, FinishedAt: &finished}); err != nil {
			return nil, err
		}
		run.Status = failed
		run.Error = summary
		run.FinishedAt = &finished
		return run, nil
	}

	output := e.primaryOutput(wf, dag, ec)
	completed := schema.RunStatusCompleted
	_ = e.runFSM.Transition(run.ID, schema.RunStatusActive, completed, map[string]any{"primary_output": wf.PrimaryOutput})
	if err := e.store.UpdateRun(ctx, run.ID, store.RunUpdate{Status: &completed, Output: output, FinishedAt: &finished}); err != nil {
		return nil, err
	}
	run.Status = completed
	run.Output = output
	run.FinishedAt = &finished
	return run, nil
}

// primaryOutput picks the run's designated result: the compiled
// primary output step when it completed, otherwise the last completed
// step in topological order.
func (e *Executor) primaryOutput(wf *schema.Workflow, dag *DAG, ec *ExecutionContext) any {
	if wf.PrimaryOutput != "" {
		if out, ok := ec.StepOutput(wf.PrimaryOutput); ok {
			return out
		}
	}
	for i := len(dag.Sorted) - 1; i >= 0; i-- {
		if out, ok := ec.StepOutput(dag.Sorted[i]); ok {
			return out
		}
	}
	return nil
}

// estimateInput sizes the step's resolved input for the routing input
// factor. Unresolvable references count as zero; routing never blocks.
func (e *Executor) estimateInput(step *schema.WorkflowStep, ec *ExecutionContext) int {
	var ref string
	switch {
	case step.Transform != nil:
		ref = step.Transform.Input
	case step.AI != nil:
		ref = step.AI.InputSource
	case step.ScatterGather != nil:
		ref = step.ScatterGather.Scatter.Input
	}
	if ref == "" {
		return 0
	}
	input, err := e.resolveInput(ec, ref)
	if err != nil {
		return 0
	}
	return e.est.CountValue(input)
}

// resolveInput resolves a compiled input reference ("stepID" or
// "stepID.field") against frozen step outputs. Aliases resolve to
// their winning producer first.
func (e *Executor) resolveInput(ec *ExecutionContext, ref string) (any, error) {
	if ref == "" {
		return nil, nil
	}
	root, field, _ := strings.Cut(ref, ".")
	stepID := ec.ResolveAlias(root)

	output, ok := ec.StepOutput(stepID)
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeReference, "input reference %q: step %q has no output", ref, stepID)
	}
	if field == "" {
		return output, nil
	}

	current := output
	for _, seg := range strings.Split(field, ".") {
		obj, ok := current.(map[string]any)
		if !ok {
			return nil, schema.NewErrorf(schema.ErrCodeReference,
				"input reference %q: cannot traverse %q in non-object output", ref, seg)
		}
		val, ok := obj[seg]
		if !ok {
			return nil, schema.NewErrorf(schema.ErrCodeReference,
				"input reference %q: field %q not found", ref, seg)
		}
		current = val
	}
	return current, nil
}

// interpolateParams resolves ${{...}} references inside action params.
func (e *Executor) interpolateParams(params map[string]any, ec *ExecutionContext) (map[string]any, error) {
	if len(params) == 0 {
		return nil, nil
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeExecution, "marshal action params: %s", err.Error()).WithCause(err)
	}
	if !expressions.HasInterpolation(raw) {
		return params, nil
	}
	resolved, err := ec.Interpolator().Resolve(raw, ec.Scope())
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(resolved, &out); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeExecution, "interpolated params are not valid JSON: %s", err.Error()).WithCause(err)
	}
	return out, nil
}

func decisionTier(decision *schema.RoutingDecision) schema.Tier {
	if decision == nil {
		return ""
	}
	return decision.Tier
}
