package expressions

import (
	"encoding/json"
	"sync"

	"github.com/weftlabs/weft/pkg/schema"
)

// ScopeBuilder constructs InterpolationScopes with proper variable isolation.
// It enforces:
//   - Step outputs are immutable after completion (frozen on insert).
//   - Append-only: new step outputs are added after each level completes.
//   - Item variables are scoped per scatter iteration.
//   - Scatter branches are isolated from sibling branches.
type ScopeBuilder struct {
	mu     sync.RWMutex
	steps  map[string]any // step ID -> frozen output (deep-copied on insert)
	inputs map[string]any // run input params (immutable after init)
	run    map[string]any // run metadata (immutable after init)

	// item holds the current scatter iteration variables.
	// nil when not inside a scatter body.
	item *ItemScope
}

// NewScopeBuilder creates a ScopeBuilder initialized with run-level data.
// inputs and run are deep-copied to prevent external mutation.
func NewScopeBuilder(inputs, run map[string]any) *ScopeBuilder {
	return &ScopeBuilder{
		steps:  make(map[string]any),
		inputs: deepCopyMap(inputs),
		run:    deepCopyMap(run),
	}
}

// AddStepOutput registers a completed step's output. The output is frozen
// (deep-copied) at insertion. Subsequent calls with the same stepID are
// rejected; step outputs are immutable after completion.
func (sb *ScopeBuilder) AddStepOutput(stepID string, output any) error {
	sb.mu.Lock()
	defer sb.mu.Unlock()

	if _, exists := sb.steps[stepID]; exists {
		return schema.NewErrorf(schema.ErrCodeConflict,
			"step %q output already registered; step outputs are immutable after completion", stepID)
	}

	sb.steps[stepID] = deepCopyAny(output)
	return nil
}

// Build creates an InterpolationScope snapshot. The returned scope is safe
// for concurrent use (step outputs are copied).
func (sb *ScopeBuilder) Build() *InterpolationScope {
	sb.mu.RLock()
	defer sb.mu.RUnlock()

	scope := &InterpolationScope{
		Steps:  deepCopyMap(sb.steps),
		Inputs: sb.inputs, // frozen at init
		Run:    sb.run,    // frozen at init
	}

	if sb.item != nil {
		scope.Item = &ItemScope{
			Value: deepCopyAny(sb.item.Value),
			Index: sb.item.Index,
		}
	}

	return scope
}

// ForScatterItem returns a child ScopeBuilder for one scatter iteration.
// The child gets an isolated snapshot of current step outputs plus its own
// item vars. Iteration-local step completions do NOT leak to siblings.
func (sb *ScopeBuilder) ForScatterItem(value any, index int) *ScopeBuilder {
	sb.mu.RLock()
	defer sb.mu.RUnlock()

	return &ScopeBuilder{
		steps:  deepCopyMap(sb.steps), // isolated copy
		inputs: sb.inputs,             // shared (immutable)
		run:    sb.run,                // shared (immutable)
		item: &ItemScope{
			Value: deepCopyAny(value),
			Index: index,
		},
	}
}

// StepOutputs returns a read-only copy of the current step outputs.
func (sb *ScopeBuilder) StepOutputs() map[string]any {
	sb.mu.RLock()
	defer sb.mu.RUnlock()
	return deepCopyMap(sb.steps)
}

// StepOutput returns one step's output and whether it exists.
func (sb *ScopeBuilder) StepOutput(stepID string) (any, bool) {
	sb.mu.RLock()
	defer sb.mu.RUnlock()
	v, ok := sb.steps[stepID]
	if !ok {
		return nil, false
	}
	return deepCopyAny(v), true
}

// --- Deep copy utilities ---

// deepCopyMap creates a deep copy of a map[string]any.
func deepCopyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	cp := make(map[string]any, len(m))
	for k, v := range m {
		cp[k] = deepCopyAny(v)
	}
	return cp
}

// deepCopyAny recursively deep-copies a value.
// Handles maps, slices, and primitives (which are inherently immutable).
func deepCopyAny(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return deepCopyMap(val)
	case []any:
		cp := make([]any, len(val))
		for i, item := range val {
			cp[i] = deepCopyAny(item)
		}
		return cp
	case json.RawMessage:
		if val == nil {
			return nil
		}
		cp := make(json.RawMessage, len(val))
		copy(cp, val)
		return cp
	default:
		// Primitives (string, float64, bool, nil, int, int64) are value types.
		return v
	}
}
