package expressions

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/weftlabs/weft/pkg/schema"
)

func TestNewCELEngine(t *testing.T) {
	e, err := NewCELEngine()
	require.NoError(t, err)
	assert.NotNil(t, e)
	assert.Equal(t, "cel", e.Name())
}

// --- Basic evaluation ---

func TestCEL_BooleanLiteral(t *testing.T) {
	e, err := NewCELEngine()
	require.NoError(t, err)

	out, err := e.Evaluate(context.Background(), "true", map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, true, out)
}

func TestCEL_IntegerArithmetic(t *testing.T) {
	e, err := NewCELEngine()
	require.NoError(t, err)

	out, err := e.Evaluate(context.Background(), "1 + 2", map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, int64(3), out)
}

// --- Guard conditions ---

func TestCEL_InputsAccess(t *testing.T) {
	e, err := NewCELEngine()
	require.NoError(t, err)

	data := map[string]any{
		"inputs": map[string]any{
			"enabled": true,
			"count":   int64(5),
		},
	}

	t.Run("boolean field", func(t *testing.T) {
		out, err := e.Evaluate(context.Background(), `inputs.enabled == true`, data)
		require.NoError(t, err)
		assert.Equal(t, true, out)
	})

	t.Run("numeric comparison", func(t *testing.T) {
		out, err := e.Evaluate(context.Background(), `inputs.count > 3`, data)
		require.NoError(t, err)
		assert.Equal(t, true, out)
	})

	t.Run("numeric comparison false", func(t *testing.T) {
		out, err := e.Evaluate(context.Background(), `inputs.count > 10`, data)
		require.NoError(t, err)
		assert.Equal(t, false, out)
	})
}

func TestCEL_StepsAccess(t *testing.T) {
	e, err := NewCELEngine()
	require.NoError(t, err)

	data := map[string]any{
		"steps": map[string]any{
			"fetch": map[string]any{
				"status": int64(200),
				"body":   "ok",
			},
		},
	}

	out, err := e.Evaluate(context.Background(), `steps.fetch.status == 200`, data)
	require.NoError(t, err)
	assert.Equal(t, true, out)
}

func TestCEL_RunAndItemAccess(t *testing.T) {
	e, err := NewCELEngine()
	require.NoError(t, err)

	data := map[string]any{
		"run":  map[string]any{"run_id": "r-1"},
		"item": map[string]any{"index": int64(2)},
	}

	out, err := e.Evaluate(context.Background(), `run.run_id == "r-1" && item.index < 5`, data)
	require.NoError(t, err)
	assert.Equal(t, true, out)
}

// --- Missing keys default to empty maps ---

func TestCEL_MissingKeysDefaultEmpty(t *testing.T) {
	e, err := NewCELEngine()
	require.NoError(t, err)

	out, err := e.Evaluate(context.Background(), `size(steps) == 0 && size(item) == 0`, nil)
	require.NoError(t, err)
	assert.Equal(t, true, out)
}

// --- Errors ---

func TestCEL_EmptyExpression(t *testing.T) {
	e, err := NewCELEngine()
	require.NoError(t, err)

	_, err = e.Evaluate(context.Background(), "", nil)
	require.Error(t, err)

	var werr *schema.WeftError
	require.ErrorAs(t, err, &werr)
	assert.Equal(t, schema.ErrCodeValidation, werr.Code)
}

func TestCEL_CompileError(t *testing.T) {
	e, err := NewCELEngine()
	require.NoError(t, err)

	_, err = e.Evaluate(context.Background(), "1 +", nil)
	require.Error(t, err)

	var werr *schema.WeftError
	require.ErrorAs(t, err, &werr)
	assert.Equal(t, schema.ErrCodeValidation, werr.Code)
}

func TestCEL_UnknownVariable(t *testing.T) {
	e, err := NewCELEngine()
	require.NoError(t, err)

	_, err = e.Evaluate(context.Background(), "nonexistent == 1", nil)
	require.Error(t, err)
}

// --- EvaluateBool ---

func TestCEL_EvaluateBool(t *testing.T) {
	e, err := NewCELEngine()
	require.NoError(t, err)

	ok, err := e.EvaluateBool(context.Background(), "2 > 1", nil)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCEL_EvaluateBool_NonBoolean(t *testing.T) {
	e, err := NewCELEngine()
	require.NoError(t, err)

	_, err = e.EvaluateBool(context.Background(), "1 + 2", nil)
	require.Error(t, err)

	var werr *schema.WeftError
	require.ErrorAs(t, err, &werr)
	assert.Equal(t, schema.ErrCodeValidation, werr.Code)
}

// --- Caching and concurrency ---

func TestCEL_CacheReuse(t *testing.T) {
	e, err := NewCELEngine()
	require.NoError(t, err)

	_, err = e.Evaluate(context.Background(), "1 + 1", nil)
	require.NoError(t, err)

	e.mu.RLock()
	_, cached := e.cache["1 + 1"]
	e.mu.RUnlock()
	assert.True(t, cached)
}

func TestCEL_ConcurrentEvaluation(t *testing.T) {
	e, err := NewCELEngine()
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, err := e.Evaluate(context.Background(), "inputs.n * 2", map[string]any{
				"inputs": map[string]any{"n": int64(21)},
			})
			assert.NoError(t, err)
			assert.Equal(t, int64(42), out)
		}()
	}
	wg.Wait()
}
