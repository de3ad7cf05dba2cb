package expressions

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScopeBuilder_AddStepOutput(t *testing.T) {
	sb := NewScopeBuilder(map[string]any{"x": 1}, map[string]any{"run_id": "r-1"})

	require.NoError(t, sb.AddStepOutput("fetch", map[string]any{"status": 200}))

	scope := sb.Build()
	assert.Equal(t, map[string]any{"status": 200}, scope.Steps["fetch"])
	assert.Equal(t, 1, scope.Inputs["x"])
	assert.Equal(t, "r-1", scope.Run["run_id"])
}

func TestScopeBuilder_ImmutableOutputs(t *testing.T) {
	sb := NewScopeBuilder(nil, nil)

	require.NoError(t, sb.AddStepOutput("a", "first"))
	err := sb.AddStepOutput("a", "second")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "immutable")
}

func TestScopeBuilder_FrozenOnInsert(t *testing.T) {
	sb := NewScopeBuilder(nil, nil)

	out := map[string]any{"k": "v"}
	require.NoError(t, sb.AddStepOutput("a", out))

	// Mutating the original after insert must not affect the stored copy.
	out["k"] = "mutated"

	got, ok := sb.StepOutput("a")
	require.True(t, ok)
	assert.Equal(t, map[string]any{"k": "v"}, got)
}

func TestScopeBuilder_BuildIsSnapshot(t *testing.T) {
	sb := NewScopeBuilder(nil, nil)
	require.NoError(t, sb.AddStepOutput("a", 1))

	scope := sb.Build()
	require.NoError(t, sb.AddStepOutput("b", 2))

	_, inSnapshot := scope.Steps["b"]
	assert.False(t, inSnapshot)
}

func TestScopeBuilder_ForScatterItem(t *testing.T) {
	sb := NewScopeBuilder(nil, map[string]any{"run_id": "r-1"})
	require.NoError(t, sb.AddStepOutput("seed", "shared"))

	child := sb.ForScatterItem(map[string]any{"name": "item-0"}, 0)

	scope := child.Build()
	require.NotNil(t, scope.Item)
	assert.Equal(t, 0, scope.Item.Index)
	assert.Equal(t, "shared", scope.Steps["seed"])

	// Child-local outputs must not leak back to the parent.
	require.NoError(t, child.AddStepOutput("local", true))
	_, leaked := sb.StepOutput("local")
	assert.False(t, leaked)
}

func TestScopeBuilder_StepOutputMissing(t *testing.T) {
	sb := NewScopeBuilder(nil, nil)

	_, ok := sb.StepOutput("nope")
	assert.False(t, ok)
}
