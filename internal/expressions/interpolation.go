package expressions

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/weftlabs/weft/pkg/schema"
)

// InterpolationScope holds all data available for variable resolution.
type InterpolationScope struct {
	Steps  map[string]any // step ID -> output (unmarshalled)
	Inputs map[string]any // run input params
	Run    map[string]any // run metadata (run_id, workflow name)
	Item   *ItemScope     // scatter item variables (nil outside a loop body)
}

// ItemScope holds scoped variables for a single scatter iteration.
type ItemScope struct {
	Value any // current item value
	Index int // current iteration index (0-based)
}

// ToEvalData converts the scope into the flat data map the expression
// engines expect, keyed by the engine variable names.
func (s *InterpolationScope) ToEvalData() map[string]any {
	data := map[string]any{
		"steps":  s.Steps,
		"inputs": s.Inputs,
		"run":    s.Run,
	}
	if s.Item != nil {
		data["item"] = map[string]any{
			"value": s.Item.Value,
			"index": s.Item.Index,
		}
	}
	return data
}

// Interpolator resolves ${{...}} references in action params and delivery
// configs before the step executes.
type Interpolator struct{}

// NewInterpolator creates a new Interpolator.
func NewInterpolator() *Interpolator {
	return &Interpolator{}
}

// Resolve scans raw JSON for ${{...}} tokens and replaces each with the
// referenced value. Supported namespaces: steps, inputs, run, item.
func (interp *Interpolator) Resolve(raw json.RawMessage, scope *InterpolationScope) (json.RawMessage, error) {
	if len(raw) == 0 {
		return raw, nil
	}

	input := string(raw)
	var result strings.Builder
	result.Grow(len(input))

	i := 0
	for i < len(input) {
		idx := strings.Index(input[i:], "${{")
		if idx == -1 {
			result.WriteString(input[i:])
			break
		}

		// Write everything before the marker.
		result.WriteString(input[i : i+idx])
		start := i + idx + 3 // skip "${{".

		end := strings.Index(input[start:], "}}")
		if end == -1 {
			return nil, schema.NewError(schema.ErrCodeReference, "unclosed ${{ expression")
		}
		end += start

		expr := strings.TrimSpace(input[start:end])

		// Reject recursive interpolation: no nested ${{ inside the expression.
		if strings.Contains(expr, "${{") {
			return nil, schema.NewError(schema.ErrCodeReference,
				"nested interpolation not allowed: ${{...}} cannot contain ${{")
		}

		if expr == "" {
			return nil, schema.NewError(schema.ErrCodeReference, "empty variable reference: ${{  }}")
		}

		val, err := interp.resolveExpr(expr, scope)
		if err != nil {
			return nil, err
		}

		result.WriteString(marshalInline(val))
		i = end + 2 // skip "}}".
	}

	return json.RawMessage(result.String()), nil
}

// resolveExpr resolves a single expression path like "steps.fetch.output.url".
func (interp *Interpolator) resolveExpr(expr string, scope *InterpolationScope) (any, error) {
	parts := strings.SplitN(expr, ".", 2)
	namespace := parts[0]

	switch namespace {
	case "steps":
		return interp.resolveSteps(expr, scope)
	case "inputs":
		return interp.resolveFromNamespace(scope.Inputs, expr, "inputs")
	case "run":
		return interp.resolveFromNamespace(scope.Run, expr, "run")
	case "item":
		return interp.resolveItem(expr, scope)
	default:
		available := []string{"steps", "inputs", "run", "item"}
		return nil, schema.NewErrorf(schema.ErrCodeReference,
			"unknown namespace %q in ${{%s}}; available: %s", namespace, expr, strings.Join(available, ", ")).
			WithDetails(map[string]any{"expression": expr, "available_namespaces": available})
	}
}

// resolveSteps resolves steps.<id>.output[.<field>...] references.
func (interp *Interpolator) resolveSteps(expr string, scope *InterpolationScope) (any, error) {
	parts := strings.SplitN(expr, ".", 4) // [steps, id, output, rest...]
	if len(parts) < 3 {
		return nil, schema.NewErrorf(schema.ErrCodeReference,
			"invalid step reference %q: expected steps.<id>.output[.<field>]", expr).
			WithDetails(map[string]any{"expression": expr})
	}

	stepID := parts[1]
	if parts[2] != "output" {
		return nil, schema.NewErrorf(schema.ErrCodeReference,
			"invalid step reference %q: only 'output' property is supported (got %q)", expr, parts[2]).
			WithDetails(map[string]any{"expression": expr})
	}

	output, ok := scope.Steps[stepID]
	if !ok {
		available := mapKeys(scope.Steps)
		return nil, schema.NewErrorf(schema.ErrCodeReference,
			"step %q not found in ${{%s}}; available steps: [%s]", stepID, expr, strings.Join(available, ", ")).
			WithDetails(map[string]any{"expression": expr, "available_steps": available})
	}

	// steps.<id>.output returns the whole output.
	if len(parts) == 3 {
		return output, nil
	}

	return interp.traversePath(output, parts[3], expr)
}

// resolveItem resolves item.value, item.index, and item.value.<field> references.
func (interp *Interpolator) resolveItem(expr string, scope *InterpolationScope) (any, error) {
	parts := strings.SplitN(expr, ".", 2)
	if len(parts) < 2 || parts[1] == "" {
		return nil, schema.NewErrorf(schema.ErrCodeReference,
			"invalid item reference %q: expected item.value or item.index", expr).
			WithDetails(map[string]any{"expression": expr})
	}

	if scope.Item == nil {
		return nil, schema.NewErrorf(schema.ErrCodeReference,
			"item variable %q referenced outside of a scatter body", expr).
			WithDetails(map[string]any{"expression": expr})
	}

	field := parts[1]
	switch {
	case field == "value":
		return scope.Item.Value, nil
	case field == "index":
		return scope.Item.Index, nil
	case strings.HasPrefix(field, "value."):
		subpath := strings.TrimPrefix(field, "value.")
		return interp.traversePath(scope.Item.Value, subpath, expr)
	default:
		return nil, schema.NewErrorf(schema.ErrCodeReference,
			"unknown item field %q in ${{%s}}; available: value, index", field, expr).
			WithDetails(map[string]any{"expression": expr, "available_fields": []string{"value", "index"}})
	}
}

// resolveFromNamespace resolves a dot-delimited field path under a namespace.
func (interp *Interpolator) resolveFromNamespace(data map[string]any, expr, namespace string) (any, error) {
	parts := strings.SplitN(expr, ".", 2)
	if len(parts) < 2 || parts[1] == "" {
		return nil, schema.NewErrorf(schema.ErrCodeReference,
			"invalid %s reference %q: expected %s.<name>", namespace, expr, namespace).
			WithDetails(map[string]any{"expression": expr})
	}

	fieldPath := parts[1]
	if data == nil {
		return nil, schema.NewErrorf(schema.ErrCodeReference,
			"cannot resolve %q: %s scope is empty", expr, namespace).
			WithDetails(map[string]any{"expression": expr})
	}

	// Direct key lookup first (supports keys with dots).
	if val, ok := data[fieldPath]; ok {
		return val, nil
	}

	return interp.traversePath(data, fieldPath, expr)
}

// traversePath navigates into nested maps using a dot-delimited path.
func (interp *Interpolator) traversePath(root any, path, expr string) (any, error) {
	segments := strings.Split(path, ".")
	current := root

	for i, seg := range segments {
		if seg == "" {
			return nil, schema.NewErrorf(schema.ErrCodeReference,
				"empty segment in path %q at position %d", expr, i).
				WithDetails(map[string]any{"expression": expr})
		}

		switch v := current.(type) {
		case map[string]any:
			val, ok := v[seg]
			if !ok {
				availableKeys := mapKeys(v)
				return nil, schema.NewErrorf(schema.ErrCodeReference,
					"field %q not found in %q; available: [%s]", seg, expr, strings.Join(availableKeys, ", ")).
					WithDetails(map[string]any{"expression": expr, "available_fields": availableKeys})
			}
			current = val
		default:
			return nil, schema.NewErrorf(schema.ErrCodeReference,
				"cannot traverse into non-object at %q in %q (type: %T)", seg, expr, current).
				WithDetails(map[string]any{"expression": expr})
		}
	}

	return current, nil
}

// marshalInline converts a resolved value into its inline JSON representation.
// Strings are embedded as-is so references inside larger strings concatenate
// naturally; complex types are JSON-encoded.
func marshalInline(val any) string {
	switch v := val.(type) {
	case string:
		return v
	case nil:
		return "null"
	case bool:
		if v {
			return "true"
		}
		return "false"
	case float64:
		return fmt.Sprintf("%v", v)
	case int:
		return fmt.Sprintf("%d", v)
	case int64:
		return fmt.Sprintf("%d", v)
	case json.RawMessage:
		return string(v)
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(b)
	}
}

// mapKeys returns sorted keys from a map[string]any.
func mapKeys(m map[string]any) []string {
	if m == nil {
		return nil
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// HasInterpolation checks if a JSON blob contains any ${{...}} references.
func HasInterpolation(raw json.RawMessage) bool {
	return strings.Contains(string(raw), "${{")
}

// DetectCircularRefs checks for circular references between step params.
// A cycle occurs when step A's params reference step B's output and B's
// params reference A's. Called before execution with the serialized params
// of the steps at one scheduling level.
func DetectCircularRefs(params map[string]json.RawMessage) error {
	refs := make(map[string]map[string]bool) // stepID -> set of referenced stepIDs

	for id, raw := range params {
		if len(raw) == 0 {
			continue
		}
		extracted := extractStepRefs(string(raw))
		if len(extracted) > 0 {
			refs[id] = extracted
		}
	}

	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(refs))

	var visit func(id string) error
	visit = func(id string) error {
		color[id] = gray
		for dep := range refs[id] {
			switch color[dep] {
			case gray:
				return schema.NewErrorf(schema.ErrCodeReference,
					"circular variable reference detected: %s -> %s", id, dep)
			case white:
				if err := visit(dep); err != nil {
					return err
				}
			}
		}
		color[id] = black
		return nil
	}

	for id := range refs {
		if color[id] == white {
			if err := visit(id); err != nil {
				return err
			}
		}
	}

	return nil
}

// extractStepRefs finds all step IDs referenced via ${{steps.<id>.output...}}.
func extractStepRefs(s string) map[string]bool {
	refs := make(map[string]bool)
	for {
		idx := strings.Index(s, "${{steps.")
		if idx == -1 {
			break
		}
		rest := s[idx+len("${{steps."):]
		dotIdx := strings.IndexByte(rest, '.')
		closeIdx := strings.Index(rest, "}}")
		if closeIdx == -1 {
			break
		}
		var stepID string
		if dotIdx != -1 && dotIdx < closeIdx {
			stepID = rest[:dotIdx]
		} else {
			stepID = rest[:closeIdx]
		}
		stepID = strings.TrimSpace(stepID)
		if stepID != "" {
			refs[stepID] = true
		}
		s = rest[closeIdx+2:]
	}
	return refs
}
