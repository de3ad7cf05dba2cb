package expressions

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/weftlabs/weft/pkg/schema"
)

func TestNewExprEngine(t *testing.T) {
	e := NewExprEngine()
	assert.NotNil(t, e)
	assert.Equal(t, "expr", e.Name())
}

func TestExpr_Arithmetic(t *testing.T) {
	e := NewExprEngine()

	out, err := e.Evaluate(context.Background(), "2 * 21", nil)
	require.NoError(t, err)
	assert.Equal(t, 42, out)
}

func TestExpr_ArrayOperations(t *testing.T) {
	e := NewExprEngine()
	data := map[string]any{
		"items": []any{1, 2, 3, 4, 5},
	}

	t.Run("filter", func(t *testing.T) {
		out, err := e.Evaluate(context.Background(), "filter(items, # > 2)", data)
		require.NoError(t, err)
		assert.Equal(t, []any{3, 4, 5}, out)
	})

	t.Run("map", func(t *testing.T) {
		out, err := e.Evaluate(context.Background(), "map(items, # * 10)", data)
		require.NoError(t, err)
		assert.Equal(t, []any{10, 20, 30, 40, 50}, out)
	})

	t.Run("count", func(t *testing.T) {
		out, err := e.Evaluate(context.Background(), "count(items, # > 3)", data)
		require.NoError(t, err)
		assert.Equal(t, 2, out)
	})
}

func TestExpr_ItemBinding(t *testing.T) {
	e := NewExprEngine()

	out, err := e.Evaluate(context.Background(), `item.name + "!"`, map[string]any{
		"item": map[string]any{"name": "deal"},
	})
	require.NoError(t, err)
	assert.Equal(t, "deal!", out)
}

func TestExpr_NilCoalescing(t *testing.T) {
	e := NewExprEngine()

	out, err := e.Evaluate(context.Background(), `missing ?? "fallback"`, map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, "fallback", out)
}

func TestExpr_EmptyExpression(t *testing.T) {
	e := NewExprEngine()

	_, err := e.Evaluate(context.Background(), "", nil)
	require.Error(t, err)

	var werr *schema.WeftError
	require.ErrorAs(t, err, &werr)
	assert.Equal(t, schema.ErrCodeValidation, werr.Code)
}

func TestExpr_CompileError(t *testing.T) {
	e := NewExprEngine()

	_, err := e.Evaluate(context.Background(), "1 +++", nil)
	require.Error(t, err)

	var werr *schema.WeftError
	require.ErrorAs(t, err, &werr)
	assert.Equal(t, schema.ErrCodeValidation, werr.Code)
}

func TestExpr_ConcurrentEvaluation(t *testing.T) {
	e := NewExprEngine()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, err := e.Evaluate(context.Background(), "n + 1", map[string]any{"n": 41})
			assert.NoError(t, err)
			assert.Equal(t, 42, out)
		}()
	}
	wg.Wait()
}
