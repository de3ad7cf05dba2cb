package expressions

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/weftlabs/weft/pkg/schema"
)

// ConditionEvaluator evaluates structured conditions against a data value.
// Simple predicates compare a field against a literal with a closed operator
// vocabulary; composites combine sub-conditions; string expressions are
// delegated to the CEL engine.
type ConditionEvaluator struct {
	cel *CELEngine
}

// NewConditionEvaluator creates a ConditionEvaluator. The CEL engine is
// optional; expression-form conditions fail if it is nil.
func NewConditionEvaluator(cel *CELEngine) *ConditionEvaluator {
	return &ConditionEvaluator{cel: cel}
}

// Evaluate returns whether the condition holds for the given subject.
// scope provides the engine variables for expression-form conditions and the
// field resolution root for simple predicates when subject is nil.
func (ce *ConditionEvaluator) Evaluate(ctx context.Context, cond *schema.Condition, subject any, scope *InterpolationScope) (bool, error) {
	if cond == nil {
		return true, nil
	}

	switch {
	case cond.IsExpression():
		if ce.cel == nil {
			return false, schema.NewError(schema.ErrCodeValidation,
				"expression condition requires a CEL engine")
		}
		var data map[string]any
		if scope != nil {
			data = scope.ToEvalData()
		}
		return ce.cel.EvaluateBool(ctx, cond.Expression, data)

	case cond.IsComposite():
		return ce.evaluateComposite(ctx, cond, subject, scope)

	default:
		return evaluateSimple(cond, subject)
	}
}

func (ce *ConditionEvaluator) evaluateComposite(ctx context.Context, cond *schema.Condition, subject any, scope *InterpolationScope) (bool, error) {
	switch cond.ConditionType {
	case schema.ConditionAnd:
		for i := range cond.Conditions {
			ok, err := ce.Evaluate(ctx, &cond.Conditions[i], subject, scope)
			if err != nil {
				return false, err
			}
			if !ok {
				return false, nil
			}
		}
		return true, nil

	case schema.ConditionOr:
		for i := range cond.Conditions {
			ok, err := ce.Evaluate(ctx, &cond.Conditions[i], subject, scope)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil

	case schema.ConditionNot:
		if len(cond.Conditions) != 1 {
			return false, schema.NewErrorf(schema.ErrCodeValidation,
				"complex_not requires exactly one sub-condition, got %d", len(cond.Conditions))
		}
		ok, err := ce.Evaluate(ctx, &cond.Conditions[0], subject, scope)
		if err != nil {
			return false, err
		}
		return !ok, nil

	default:
		return false, schema.NewErrorf(schema.ErrCodeValidation,
			"unknown condition type %q", cond.ConditionType)
	}
}

// evaluateSimple applies a single field predicate to the subject.
// Unknown operators are a hard error, never a silent pass.
func evaluateSimple(cond *schema.Condition, subject any) (bool, error) {
	val, present := resolveField(subject, cond.Field)

	switch cond.Operator {
	case schema.OpExists:
		return present, nil
	case schema.OpNotExists:
		return !present, nil
	case schema.OpIsEmpty:
		return !present || isEmptyValue(val), nil
	case schema.OpIsNotEmpty:
		return present && !isEmptyValue(val), nil
	}

	// Remaining operators compare against cond.Value; a missing field never
	// matches.
	if !present {
		return false, nil
	}

	switch cond.Operator {
	case schema.OpEquals:
		return looseEqual(val, cond.Value), nil
	case schema.OpNotEquals:
		return !looseEqual(val, cond.Value), nil

	case schema.OpGreaterThan, schema.OpGreaterThanOrEqual, schema.OpLessThan, schema.OpLessThanOrEqual:
		a, aOK := toFloat(val)
		b, bOK := toFloat(cond.Value)
		if !aOK || !bOK {
			return false, schema.NewErrorf(schema.ErrCodeValidation,
				"operator %q requires numeric operands (field %q: %T vs %T)",
				cond.Operator, cond.Field, val, cond.Value)
		}
		switch cond.Operator {
		case schema.OpGreaterThan:
			return a > b, nil
		case schema.OpGreaterThanOrEqual:
			return a >= b, nil
		case schema.OpLessThan:
			return a < b, nil
		default:
			return a <= b, nil
		}

	case schema.OpContains:
		return containsValue(val, cond.Value)
	case schema.OpNotContains:
		ok, err := containsValue(val, cond.Value)
		return !ok, err

	case schema.OpIn:
		return inList(val, cond.Value)
	case schema.OpNotIn:
		ok, err := inList(val, cond.Value)
		return !ok, err

	case schema.OpStartsWith:
		return strings.HasPrefix(toString(val), toString(cond.Value)), nil
	case schema.OpEndsWith:
		return strings.HasSuffix(toString(val), toString(cond.Value)), nil

	case schema.OpMatches:
		re, err := regexp.Compile(toString(cond.Value))
		if err != nil {
			return false, schema.NewErrorf(schema.ErrCodeValidation,
				"invalid pattern %q for matches on field %q: %s", cond.Value, cond.Field, err.Error()).
				WithCause(err)
		}
		return re.MatchString(toString(val)), nil

	default:
		return false, schema.NewErrorf(schema.ErrCodeValidation,
			"unknown operator %q on field %q", cond.Operator, cond.Field)
	}
}

// resolveField navigates a dot-delimited field path into the subject.
// An empty field resolves to the subject itself.
func resolveField(subject any, field string) (any, bool) {
	if field == "" {
		return subject, subject != nil
	}

	current := subject
	for _, seg := range strings.Split(field, ".") {
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

func isEmptyValue(v any) bool {
	switch val := v.(type) {
	case nil:
		return true
	case string:
		return val == ""
	case []any:
		return len(val) == 0
	case map[string]any:
		return len(val) == 0
	default:
		return false
	}
}

// looseEqual compares values with numeric coercion so that a JSON 4 and a
// native int 4 are equal regardless of decode path.
func looseEqual(a, b any) bool {
	if af, aOK := toFloat(a); aOK {
		if bf, bOK := toFloat(b); bOK {
			return af == bf
		}
	}
	return fmt.Sprintf("%v", a) == fmt.Sprintf("%v", b)
}

func toFloat(v any) (float64, bool) {
	switch val := v.(type) {
	case float64:
		return val, true
	case float32:
		return float64(val), true
	case int:
		return float64(val), true
	case int32:
		return float64(val), true
	case int64:
		return float64(val), true
	default:
		return 0, false
	}
}

func toString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

// containsValue handles both string containment and slice membership.
func containsValue(haystack, needle any) (bool, error) {
	switch h := haystack.(type) {
	case string:
		return strings.Contains(h, toString(needle)), nil
	case []any:
		for _, item := range h {
			if looseEqual(item, needle) {
				return true, nil
			}
		}
		return false, nil
	default:
		return false, schema.NewErrorf(schema.ErrCodeValidation,
			"contains requires a string or array operand, got %T", haystack)
	}
}

// inList checks membership of val in the list-valued operand.
func inList(val, list any) (bool, error) {
	items, ok := list.([]any)
	if !ok {
		return false, schema.NewErrorf(schema.ErrCodeValidation,
			"in requires an array operand, got %T", list)
	}
	for _, item := range items {
		if looseEqual(val, item) {
			return true, nil
		}
	}
	return false, nil
}
