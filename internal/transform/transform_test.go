package transform

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/weftlabs/weft/internal/expressions"
	"github.com/weftlabs/weft/pkg/schema"
)

func newEngine(t *testing.T) *Engine {
	t.Helper()
	cel, err := expressions.NewCELEngine()
	require.NoError(t, err)
	return NewEngine(
		expressions.NewConditionEvaluator(cel),
		expressions.NewExprEngine(),
		expressions.NewGoJQEngine(),
	)
}

func spec(op schema.TransformOp, config string) *schema.TransformSpec {
	return &schema.TransformSpec{Operation: op, Input: "rows", Config: []byte(config)}
}

func apply(t *testing.T, op schema.TransformOp, config string, input any) any {
	t.Helper()
	out, err := newEngine(t).Apply(context.Background(), spec(op, config), input, nil)
	require.NoError(t, err)
	return out
}

func TestFilter_KeepsMatchingRows(t *testing.T) {
	rows := make([]any, 0, 10)
	for i := 0; i < 10; i++ {
		stage := 1 + i%3 // stages 1,2,3 repeating
		if i == 2 || i == 5 || i == 8 {
			stage = 4
		}
		rows = append(rows, map[string]any{"id": fmt.Sprintf("deal-%d", i), "stage": stage})
	}

	out := apply(t, schema.TransformFilter,
		`{"condition":{"field":"stage","operator":"equals","value":4}}`, rows)

	result, ok := out.(map[string]any)
	require.True(t, ok)
	items := result["items"].([]any)
	assert.Len(t, items, 3)
	assert.Equal(t, 3, result["count"])
	for _, item := range items {
		assert.EqualValues(t, 4, item.(map[string]any)["stage"])
	}
}

func TestFilter_NoMatchesYieldsEmptyItems(t *testing.T) {
	rows := []any{map[string]any{"stage": 1}}

	out := apply(t, schema.TransformFilter,
		`{"condition":{"field":"stage","operator":"equals","value":9}}`, rows)

	result := out.(map[string]any)
	assert.Empty(t, result["items"])
	assert.Equal(t, 0, result["count"])
}

func TestFilter_RejectsEnvelopeInput(t *testing.T) {
	// The compiler resolves upstream filter references to their items
	// path, so an unresolved envelope reaching the engine is an error.
	envelope := map[string]any{
		"items": []any{map[string]any{"stage": 4}},
		"count": 1,
	}

	_, err := newEngine(t).Apply(context.Background(),
		spec(schema.TransformFilter, `{"condition":{"field":"stage","operator":"equals","value":4}}`),
		envelope, nil)
	require.Error(t, err)
	var werr *schema.WeftError
	require.ErrorAs(t, err, &werr)
	assert.Equal(t, schema.ErrCodeValidation, werr.Code)
}

func TestMap_FieldProjection(t *testing.T) {
	rows := []any{
		map[string]any{"name": "a", "amount": 10},
		map[string]any{"name": "b", "amount": 20},
	}

	out := apply(t, schema.TransformMap, `{"field":"name"}`, rows)
	assert.Equal(t, []any{"a", "b"}, out)
}

func TestMap_Expression(t *testing.T) {
	rows := []any{
		map[string]any{"amount": 10},
		map[string]any{"amount": 20},
	}

	out := apply(t, schema.TransformMap, `{"expression":"item.amount * 2"}`, rows)
	result := out.([]any)
	require.Len(t, result, 2)
	assert.EqualValues(t, 20, result[0])
	assert.EqualValues(t, 40, result[1])
}

func TestSort_NumericAndOrder(t *testing.T) {
	rows := []any{
		map[string]any{"n": 3},
		map[string]any{"n": 1},
		map[string]any{"n": 10},
	}

	asc := apply(t, schema.TransformSort, `{"field":"n"}`, rows).([]any)
	assert.EqualValues(t, 1, asc[0].(map[string]any)["n"])
	assert.EqualValues(t, 10, asc[2].(map[string]any)["n"])

	desc := apply(t, schema.TransformSort, `{"field":"n","order":"desc"}`, rows).([]any)
	assert.EqualValues(t, 10, desc[0].(map[string]any)["n"])
}

func TestSort_IsStable(t *testing.T) {
	rows := []any{
		map[string]any{"k": "x", "pos": 1},
		map[string]any{"k": "x", "pos": 2},
		map[string]any{"k": "a", "pos": 3},
	}

	out := apply(t, schema.TransformSort, `{"field":"k"}`, rows).([]any)
	assert.EqualValues(t, 3, out[0].(map[string]any)["pos"])
	assert.EqualValues(t, 1, out[1].(map[string]any)["pos"])
	assert.EqualValues(t, 2, out[2].(map[string]any)["pos"])
}

func TestGroup_BucketsByField(t *testing.T) {
	rows := []any{
		map[string]any{"owner": "alice", "id": 1},
		map[string]any{"owner": "bob", "id": 2},
		map[string]any{"owner": "alice", "id": 3},
		map[string]any{"id": 4}, // no owner
	}

	out := apply(t, schema.TransformGroup, `{"by":"owner"}`, rows)
	buckets := out.(map[string]any)
	assert.Len(t, buckets["alice"].([]any), 2)
	assert.Len(t, buckets["bob"].([]any), 1)
	assert.Len(t, buckets[""].([]any), 1)
}

func TestAggregate(t *testing.T) {
	rows := []any{
		map[string]any{"amount": 10.0},
		map[string]any{"amount": 30.0},
		map[string]any{"note": "no amount"},
	}

	out := apply(t, schema.TransformAggregate, `{"aggregations":[
		{"op":"count","as":"total"},
		{"op":"sum","field":"amount","as":"sum"},
		{"op":"avg","field":"amount","as":"avg"},
		{"op":"min","field":"amount","as":"min"},
		{"op":"max","field":"amount","as":"max"}
	]}`, rows)

	result := out.(map[string]any)
	assert.Equal(t, 3, result["total"])
	assert.EqualValues(t, 40.0, result["sum"])
	assert.EqualValues(t, 20.0, result["avg"])
	assert.EqualValues(t, 10.0, result["min"])
	assert.EqualValues(t, 30.0, result["max"])
}

func TestAggregate_UnknownOp(t *testing.T) {
	_, err := newEngine(t).Apply(context.Background(),
		spec(schema.TransformAggregate, `{"aggregations":[{"op":"median","field":"x","as":"m"}]}`),
		[]any{}, nil)
	require.Error(t, err)
}

func TestReduce(t *testing.T) {
	rows := []any{
		map[string]any{"amount": 5},
		map[string]any{"amount": 7},
	}

	out := apply(t, schema.TransformReduce,
		`{"expression":"acc + item.amount","initial":0}`, rows)
	result := out.(map[string]any)
	assert.EqualValues(t, 12, result["result"])
}

func TestDeduplicate_ByField(t *testing.T) {
	rows := []any{
		map[string]any{"email": "a@x", "n": 1},
		map[string]any{"email": "a@x", "n": 2},
		map[string]any{"email": "b@x", "n": 3},
	}

	out := apply(t, schema.TransformDeduplicate, `{"field":"email"}`, rows).([]any)
	require.Len(t, out, 2)
	// First occurrence wins.
	assert.EqualValues(t, 1, out[0].(map[string]any)["n"])
}

func TestDeduplicate_WholeValue(t *testing.T) {
	rows := []any{"a", "b", "a"}

	engine := newEngine(t)
	out, err := engine.Apply(context.Background(),
		&schema.TransformSpec{Operation: schema.TransformDeduplicate}, rows, nil)
	require.NoError(t, err)
	assert.Equal(t, []any{"a", "b"}, out)
}

func TestFlatten_OneLevel(t *testing.T) {
	rows := []any{
		[]any{1, 2},
		[]any{3, []any{4}},
		5,
	}

	engine := newEngine(t)
	out, err := engine.Apply(context.Background(),
		&schema.TransformSpec{Operation: schema.TransformFlatten}, rows, nil)
	require.NoError(t, err)
	assert.Equal(t, []any{1, 2, 3, []any{4}, 5}, out)
}

func TestFormat_TemplatePerRow(t *testing.T) {
	rows := []any{
		map[string]any{"name": "Acme", "stage": 4},
		map[string]any{"name": "Globex", "stage": 4},
	}

	out := apply(t, schema.TransformFormat,
		`{"template":"{name} is at stage {stage}"}`, rows)
	assert.Equal(t, "Acme is at stage 4\nGlobex is at stage 4", out)
}

func TestFormat_MissingFieldRendersEmpty(t *testing.T) {
	out := apply(t, schema.TransformFormat,
		`{"template":"[{missing}]"}`, map[string]any{"other": 1})
	assert.Equal(t, "[]", out)
}

func TestSplit(t *testing.T) {
	out := apply(t, schema.TransformSplit, `{"separator":","}`, "a,b,c")
	assert.Equal(t, []any{"a", "b", "c"}, out)

	rows := []any{
		map[string]any{"tags": "x,y"},
		map[string]any{"tags": "z"},
	}
	out = apply(t, schema.TransformSplit, `{"separator":",","field":"tags"}`, rows)
	assert.Equal(t, []any{"x", "y", "z"}, out)
}

func TestConvert_JQ(t *testing.T) {
	input := map[string]any{"deals": []any{
		map[string]any{"amount": 10},
		map[string]any{"amount": 20},
	}}

	out := apply(t, schema.TransformConvert,
		`{"query":"{total: [.deals[].amount] | add}"}`, input)
	result := out.(map[string]any)
	assert.EqualValues(t, 30, result["total"])
}

func TestConvert_NonObjectWrappedAsValue(t *testing.T) {
	out := apply(t, schema.TransformConvert,
		`{"query":".value | length"}`, []any{1, 2, 3})
	assert.EqualValues(t, 3, out)
}

func TestMerge_Arrays(t *testing.T) {
	scope := &expressions.InterpolationScope{
		Steps: map[string]any{"extra": []any{3, 4}},
	}

	engine := newEngine(t)
	out, err := engine.Apply(context.Background(),
		spec(schema.TransformMerge, `{"with":"extra"}`), []any{1, 2}, scope)
	require.NoError(t, err)
	assert.Equal(t, []any{1, 2, 3, 4}, out)
}

func TestMerge_ObjectsOtherWins(t *testing.T) {
	scope := &expressions.InterpolationScope{
		Steps: map[string]any{"extra": map[string]any{"b": 2, "c": 3}},
	}

	engine := newEngine(t)
	out, err := engine.Apply(context.Background(),
		spec(schema.TransformMerge, `{"with":"extra"}`),
		map[string]any{"a": 1, "b": 0}, scope)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"a": 1, "b": 2, "c": 3}, out)
}

func TestMerge_FieldQualifiedReference(t *testing.T) {
	// The with reference resolves like any compiled step input, so a
	// filter's surviving rows merge in through its items path.
	scope := &expressions.InterpolationScope{
		Steps: map[string]any{
			"matched": map[string]any{"items": []any{3, 4}, "count": 2},
		},
	}

	engine := newEngine(t)
	out, err := engine.Apply(context.Background(),
		spec(schema.TransformMerge, `{"with":"matched.items"}`), []any{1, 2}, scope)
	require.NoError(t, err)
	assert.Equal(t, []any{1, 2, 3, 4}, out)
}

func TestMerge_MissingFieldRejected(t *testing.T) {
	scope := &expressions.InterpolationScope{
		Steps: map[string]any{"matched": map[string]any{"items": []any{}}},
	}

	engine := newEngine(t)
	_, err := engine.Apply(context.Background(),
		spec(schema.TransformMerge, `{"with":"matched.rows"}`), []any{}, scope)
	require.Error(t, err)
	var werr *schema.WeftError
	require.ErrorAs(t, err, &werr)
	assert.Equal(t, schema.ErrCodeReference, werr.Code)
}

func TestMerge_UnknownReference(t *testing.T) {
	engine := newEngine(t)
	_, err := engine.Apply(context.Background(),
		spec(schema.TransformMerge, `{"with":"ghost"}`),
		[]any{}, &expressions.InterpolationScope{Steps: map[string]any{}})
	require.Error(t, err)
	var werr *schema.WeftError
	require.ErrorAs(t, err, &werr)
	assert.Equal(t, schema.ErrCodeReference, werr.Code)
}

func TestApply_NonArrayInputRejected(t *testing.T) {
	engine := newEngine(t)
	_, err := engine.Apply(context.Background(),
		spec(schema.TransformSort, `{"field":"n"}`), "not an array", nil)
	require.Error(t, err)
}

func TestApply_MissingConfigRejected(t *testing.T) {
	engine := newEngine(t)
	_, err := engine.Apply(context.Background(),
		&schema.TransformSpec{Operation: schema.TransformFilter}, []any{}, nil)
	require.Error(t, err)
}

func TestApply_DeterministicRepetition(t *testing.T) {
	rows := []any{
		map[string]any{"n": json.Number("2")},
		map[string]any{"n": json.Number("1")},
	}

	first := apply(t, schema.TransformSort, `{"field":"n"}`, rows)
	second := apply(t, schema.TransformSort, `{"field":"n"}`, rows)
	assert.Equal(t, first, second)
}
