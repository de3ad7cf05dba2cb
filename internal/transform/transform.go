package transform

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/weftlabs/weft/internal/expressions"
	"github.com/weftlabs/weft/pkg/schema"
)

// Engine applies deterministic dataset operations. Every operation here is
// pure: same input and config, same output, no model calls. Anything that
// cannot be executed this way never reaches the engine; the compiler degrades
// it to an ai_processing step instead.
type Engine struct {
	conditions *expressions.ConditionEvaluator
	expr       *expressions.ExprEngine
	jq         *expressions.GoJQEngine
}

// NewEngine creates a transform Engine over the shared expression engines.
func NewEngine(conditions *expressions.ConditionEvaluator, expr *expressions.ExprEngine, jq *expressions.GoJQEngine) *Engine {
	return &Engine{conditions: conditions, expr: expr, jq: jq}
}

// Apply executes one transform against its resolved input. scope provides
// variables for expression-form filter conditions; it may be nil otherwise.
func (e *Engine) Apply(ctx context.Context, spec *schema.TransformSpec, input any, scope *expressions.InterpolationScope) (any, error) {
	if spec == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "transform spec is nil")
	}

	switch spec.Operation {
	case schema.TransformFilter:
		return e.applyFilter(ctx, spec, input, scope)
	case schema.TransformMap:
		return e.applyMap(ctx, spec, input, scope)
	case schema.TransformSort:
		return applySort(spec, input)
	case schema.TransformGroup:
		return applyGroup(spec, input)
	case schema.TransformAggregate:
		return applyAggregate(spec, input)
	case schema.TransformReduce:
		return e.applyReduce(ctx, spec, input)
	case schema.TransformDeduplicate:
		return applyDeduplicate(spec, input)
	case schema.TransformFlatten:
		return applyFlatten(input)
	case schema.TransformFormat:
		return applyFormat(spec, input)
	case schema.TransformSplit:
		return applySplit(spec, input)
	case schema.TransformConvert:
		return e.applyConvert(ctx, spec, input)
	case schema.TransformMerge:
		return applyMerge(spec, input, scope)
	default:
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"operation %q is not a deterministic transform", spec.Operation)
	}
}

func decodeConfig[T any](spec *schema.TransformSpec) (*T, error) {
	var cfg T
	if len(spec.Config) == 0 {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"operation %q requires a config block", spec.Operation)
	}
	if err := json.Unmarshal(spec.Config, &cfg); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"invalid %s config: %s", spec.Operation, err.Error()).WithCause(err)
	}
	return &cfg, nil
}

// asArray checks the resolved input is a row slice. The compiler rewrites
// every reference to the producer's access path, so filter consumers already
// receive the items array, never the {items, count} envelope.
func asArray(op schema.TransformOp, input any) ([]any, error) {
	switch v := input.(type) {
	case []any:
		return v, nil
	case nil:
		return nil, nil
	default:
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"operation %q requires an array input, got %T", op, v)
	}
}

// applyFilter keeps rows matching the condition. The result carries both the
// surviving rows and their count so downstream conditionals can gate on
// emptiness without re-scanning.
func (e *Engine) applyFilter(ctx context.Context, spec *schema.TransformSpec, input any, scope *expressions.InterpolationScope) (any, error) {
	cfg, err := decodeConfig[schema.FilterConfig](spec)
	if err != nil {
		return nil, err
	}
	if cfg.Condition == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "filter config has no condition")
	}

	rows, err := asArray(spec.Operation, input)
	if err != nil {
		return nil, err
	}

	matched := make([]any, 0, len(rows))
	for _, row := range rows {
		ok, err := e.conditions.Evaluate(ctx, cfg.Condition, row, scope)
		if err != nil {
			return nil, err
		}
		if ok {
			matched = append(matched, row)
		}
	}

	return map[string]any{"items": matched, "count": len(matched)}, nil
}

func (e *Engine) applyMap(ctx context.Context, spec *schema.TransformSpec, input any, scope *expressions.InterpolationScope) (any, error) {
	cfg, err := decodeConfig[schema.MapConfig](spec)
	if err != nil {
		return nil, err
	}
	if cfg.Expression == "" && cfg.Field == "" {
		return nil, schema.NewError(schema.ErrCodeValidation,
			"map config needs an expression or a field")
	}

	rows, err := asArray(spec.Operation, input)
	if err != nil {
		return nil, err
	}

	out := make([]any, 0, len(rows))
	for i, row := range rows {
		if cfg.Field != "" {
			val, _ := fieldValue(row, cfg.Field)
			out = append(out, val)
			continue
		}

		val, err := e.expr.EvaluateRow(ctx, cfg.Expression, map[string]any{"item": row, "index": i}, scope)
		if err != nil {
			return nil, err
		}
		out = append(out, val)
	}
	return out, nil
}

func applySort(spec *schema.TransformSpec, input any) (any, error) {
	cfg, err := decodeConfig[schema.SortConfig](spec)
	if err != nil {
		return nil, err
	}
	if cfg.Field == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "sort config needs a field")
	}
	desc := strings.EqualFold(cfg.Order, "desc")

	rows, err := asArray(spec.Operation, input)
	if err != nil {
		return nil, err
	}

	out := make([]any, len(rows))
	copy(out, rows)

	sort.SliceStable(out, func(i, j int) bool {
		a, _ := fieldValue(out[i], cfg.Field)
		b, _ := fieldValue(out[j], cfg.Field)
		less := lessValue(a, b)
		if desc {
			return lessValue(b, a)
		}
		return less
	})
	return out, nil
}

// applyGroup buckets rows by the string form of a field. Rows missing the
// field land in the "" bucket rather than being dropped.
func applyGroup(spec *schema.TransformSpec, input any) (any, error) {
	cfg, err := decodeConfig[schema.GroupConfig](spec)
	if err != nil {
		return nil, err
	}
	if cfg.By == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "group config needs a by field")
	}

	rows, err := asArray(spec.Operation, input)
	if err != nil {
		return nil, err
	}

	buckets := make(map[string]any, len(rows))
	for _, row := range rows {
		val, _ := fieldValue(row, cfg.By)
		key := stringify(val)
		existing, _ := buckets[key].([]any)
		buckets[key] = append(existing, row)
	}
	return buckets, nil
}

func applyAggregate(spec *schema.TransformSpec, input any) (any, error) {
	cfg, err := decodeConfig[schema.AggregateConfig](spec)
	if err != nil {
		return nil, err
	}
	if len(cfg.Aggregations) == 0 {
		return nil, schema.NewError(schema.ErrCodeValidation, "aggregate config has no aggregations")
	}

	rows, err := asArray(spec.Operation, input)
	if err != nil {
		return nil, err
	}

	out := make(map[string]any, len(cfg.Aggregations))
	for _, agg := range cfg.Aggregations {
		if agg.As == "" {
			return nil, schema.NewError(schema.ErrCodeValidation, "aggregation needs an output name")
		}

		if agg.Op == "count" {
			out[agg.As] = len(rows)
			continue
		}

		var nums []float64
		for _, row := range rows {
			val, ok := fieldValue(row, agg.Field)
			if !ok {
				continue
			}
			if f, ok := toNumber(val); ok {
				nums = append(nums, f)
			}
		}

		if len(nums) == 0 {
			out[agg.As] = nil
			continue
		}

		switch agg.Op {
		case "sum", "avg":
			var sum float64
			for _, n := range nums {
				sum += n
			}
			if agg.Op == "avg" {
				sum /= float64(len(nums))
			}
			out[agg.As] = sum
		case "min":
			m := nums[0]
			for _, n := range nums[1:] {
				if n < m {
					m = n
				}
			}
			out[agg.As] = m
		case "max":
			m := nums[0]
			for _, n := range nums[1:] {
				if n > m {
					m = n
				}
			}
			out[agg.As] = m
		default:
			return nil, schema.NewErrorf(schema.ErrCodeValidation,
				"unknown aggregation op %q", agg.Op)
		}
	}
	return out, nil
}

func (e *Engine) applyReduce(ctx context.Context, spec *schema.TransformSpec, input any) (any, error) {
	cfg, err := decodeConfig[schema.ReduceConfig](spec)
	if err != nil {
		return nil, err
	}
	if cfg.Expression == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "reduce config needs an expression")
	}

	rows, err := asArray(spec.Operation, input)
	if err != nil {
		return nil, err
	}

	acc := cfg.Initial
	for i, row := range rows {
		acc, err = e.expr.EvaluateRow(ctx, cfg.Expression, map[string]any{
			"acc": acc, "item": row, "index": i,
		}, nil)
		if err != nil {
			return nil, err
		}
	}
	return map[string]any{"result": acc}, nil
}

// applyDeduplicate keeps the first occurrence per identity key. Identity is
// the JSON form of the keyed field, or of the whole row when no field is set.
func applyDeduplicate(spec *schema.TransformSpec, input any) (any, error) {
	var field string
	if len(spec.Config) > 0 {
		cfg, err := decodeConfig[schema.DeduplicateConfig](spec)
		if err != nil {
			return nil, err
		}
		field = cfg.Field
	}

	rows, err := asArray(spec.Operation, input)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(rows))
	out := make([]any, 0, len(rows))
	for _, row := range rows {
		subject := row
		if field != "" {
			subject, _ = fieldValue(row, field)
		}
		key, err := identityKey(subject)
		if err != nil {
			return nil, err
		}
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, row)
	}
	return out, nil
}

// applyFlatten removes one level of nesting.
func applyFlatten(input any) (any, error) {
	rows, err := asArray(schema.TransformFlatten, input)
	if err != nil {
		return nil, err
	}

	out := make([]any, 0, len(rows))
	for _, row := range rows {
		if inner, ok := row.([]any); ok {
			out = append(out, inner...)
			continue
		}
		out = append(out, row)
	}
	return out, nil
}

var placeholderPattern = regexp.MustCompile(`\{([a-zA-Z0-9_.]+)\}`)

// applyFormat renders the template per row and joins the lines. The result
// is always a single string, matching the scalar output contract.
func applyFormat(spec *schema.TransformSpec, input any) (any, error) {
	cfg, err := decodeConfig[schema.FormatConfig](spec)
	if err != nil {
		return nil, err
	}
	if cfg.Template == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "format config needs a template")
	}

	render := func(subject any) string {
		return placeholderPattern.ReplaceAllStringFunc(cfg.Template, func(match string) string {
			path := match[1 : len(match)-1]
			val, ok := fieldValue(subject, path)
			if !ok {
				return ""
			}
			return stringify(val)
		})
	}

	if rows, ok := input.([]any); ok {
		lines := make([]string, 0, len(rows))
		for _, row := range rows {
			lines = append(lines, render(row))
		}
		return strings.Join(lines, "\n"), nil
	}
	return render(input), nil
}

func applySplit(spec *schema.TransformSpec, input any) (any, error) {
	cfg, err := decodeConfig[schema.SplitConfig](spec)
	if err != nil {
		return nil, err
	}
	if cfg.Separator == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "split config needs a separator")
	}

	splitOne := func(subject any) ([]any, error) {
		target := subject
		if cfg.Field != "" {
			target, _ = fieldValue(subject, cfg.Field)
		}
		s, ok := target.(string)
		if !ok {
			return nil, schema.NewErrorf(schema.ErrCodeValidation,
				"split requires a string value, got %T", target)
		}
		parts := strings.Split(s, cfg.Separator)
		out := make([]any, len(parts))
		for i, p := range parts {
			out[i] = p
		}
		return out, nil
	}

	if rows, ok := input.([]any); ok {
		var out []any
		for _, row := range rows {
			parts, err := splitOne(row)
			if err != nil {
				return nil, err
			}
			out = append(out, parts...)
		}
		return out, nil
	}
	return splitOne(input)
}

// applyConvert runs a jq program against the input. The engine wraps
// non-object inputs under "value" so the program root is always an object.
func (e *Engine) applyConvert(ctx context.Context, spec *schema.TransformSpec, input any) (any, error) {
	cfg, err := decodeConfig[schema.ConvertConfig](spec)
	if err != nil {
		return nil, err
	}
	if cfg.Query == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "convert config needs a query")
	}
	return e.jq.EvaluateNormalized(ctx, cfg.Query, input)
}

// applyMerge combines the input with another step's output from scope:
// arrays concatenate, objects overlay with the other side winning. The with
// reference takes the same "stepId.fieldName" form as compiled step inputs.
func applyMerge(spec *schema.TransformSpec, input any, scope *expressions.InterpolationScope) (any, error) {
	cfg, err := decodeConfig[schema.MergeConfig](spec)
	if err != nil {
		return nil, err
	}
	if cfg.With == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "merge config needs a with reference")
	}
	if scope == nil {
		return nil, schema.NewError(schema.ErrCodeExecution, "merge has no step scope")
	}

	root, field, _ := strings.Cut(cfg.With, ".")
	other, ok := scope.Steps[root]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeReference,
			"merge references %q, which produced no output", cfg.With)
	}
	if field != "" {
		if other, ok = fieldValue(other, field); !ok {
			return nil, schema.NewErrorf(schema.ErrCodeReference,
				"merge references %q, but %q has no field %q", cfg.With, root, field)
		}
	}

	switch left := input.(type) {
	case []any:
		right, err := asArray(spec.Operation, other)
		if err != nil {
			return nil, err
		}
		out := make([]any, 0, len(left)+len(right))
		out = append(out, left...)
		out = append(out, right...)
		return out, nil

	case map[string]any:
		right, ok := other.(map[string]any)
		if !ok {
			return nil, schema.NewErrorf(schema.ErrCodeValidation,
				"merge of an object requires an object from %q, got %T", cfg.With, other)
		}
		out := make(map[string]any, len(left)+len(right))
		for k, v := range left {
			out[k] = v
		}
		for k, v := range right {
			out[k] = v
		}
		return out, nil

	default:
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"merge requires an array or object input, got %T", input)
	}
}

// --- value helpers ---

// fieldValue navigates a dot-delimited path into a row.
func fieldValue(subject any, path string) (any, bool) {
	if path == "" {
		return subject, subject != nil
	}
	current := subject
	for _, seg := range strings.Split(path, ".") {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = m[seg]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

func toNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

// lessValue orders numerics numerically and everything else lexically.
func lessValue(a, b any) bool {
	if af, aOK := toNumber(a); aOK {
		if bf, bOK := toNumber(b); bOK {
			return af < bf
		}
	}
	return stringify(a) < stringify(b)
}

func stringify(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	default:
		if f, ok := toNumber(v); ok && f == float64(int64(f)) {
			return fmt.Sprintf("%d", int64(f))
		}
		return fmt.Sprintf("%v", v)
	}
}

// identityKey is a stable identity for deduplication.
func identityKey(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", schema.NewError(schema.ErrCodeValidation,
			"value is not identity-comparable").WithCause(err)
	}
	return string(b), nil
}
