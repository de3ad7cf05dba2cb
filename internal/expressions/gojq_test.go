package expressions

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/weftlabs/weft/pkg/schema"
)

func TestNewGoJQEngine(t *testing.T) {
	e := NewGoJQEngine()
	assert.NotNil(t, e)
	assert.Equal(t, "jq", e.Name())
}

func TestGoJQ_FieldAccess(t *testing.T) {
	e := NewGoJQEngine()

	out, err := e.Evaluate(context.Background(), ".name", map[string]any{"name": "weft"})
	require.NoError(t, err)
	assert.Equal(t, "weft", out)
}

func TestGoJQ_Reshape(t *testing.T) {
	e := NewGoJQEngine()
	data := map[string]any{
		"rows": []any{
			map[string]any{"id": 1.0, "stage": 4.0},
			map[string]any{"id": 2.0, "stage": 1.0},
		},
	}

	out, err := e.Evaluate(context.Background(), "[.rows[] | select(.stage == 4) | .id]", data)
	require.NoError(t, err)
	assert.Equal(t, []any{1.0}, out)
}

func TestGoJQ_MultipleOutputs(t *testing.T) {
	e := NewGoJQEngine()

	out, err := e.Evaluate(context.Background(), ".items[]", map[string]any{
		"items": []any{"a", "b"},
	})
	require.NoError(t, err)
	assert.Equal(t, []any{"a", "b"}, out)
}

func TestGoJQ_NoOutput(t *testing.T) {
	e := NewGoJQEngine()

	out, err := e.Evaluate(context.Background(), "empty", map[string]any{})
	require.NoError(t, err)
	assert.Nil(t, out)
}

func TestGoJQ_EnvBlocked(t *testing.T) {
	e := NewGoJQEngine()

	out, err := e.Evaluate(context.Background(), "$ENV", map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{}, out)
}

func TestGoJQ_ParseError(t *testing.T) {
	e := NewGoJQEngine()

	_, err := e.Evaluate(context.Background(), ".[broken", map[string]any{})
	require.Error(t, err)

	var werr *schema.WeftError
	require.ErrorAs(t, err, &werr)
	assert.Equal(t, schema.ErrCodeValidation, werr.Code)
}

func TestGoJQ_EvaluateNormalized(t *testing.T) {
	e := NewGoJQEngine()

	out, err := e.EvaluateNormalized(context.Background(), ".n + 1", map[string]any{"n": 41})
	require.NoError(t, err)
	assert.Equal(t, 42.0, out)
}

func TestGoJQ_EvaluateAll(t *testing.T) {
	e := NewGoJQEngine()

	out, err := e.EvaluateAll(context.Background(), ".items[]", map[string]any{
		"items": []any{1.0},
	})
	require.NoError(t, err)
	assert.Equal(t, []any{1.0}, out)
}
