package expressions

import (
	"context"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/weftlabs/weft/pkg/schema"
)

// ExprEngine evaluates expr-lang programs for the deterministic transform
// operations that take a custom expression. Map expressions see item and
// index, reduce expressions additionally see acc, and every row expression
// can read earlier results through the steps, inputs, and run overlays.
// Thread-safe: compiled programs are cached per source string.
type ExprEngine struct {
	mu    sync.RWMutex
	cache map[string]*vm.Program
}

// NewExprEngine creates an ExprEngine with an empty program cache.
func NewExprEngine() *ExprEngine {
	return &ExprEngine{cache: make(map[string]*vm.Program)}
}

// Name returns the engine identifier.
func (e *ExprEngine) Name() string {
	return "expr"
}

// Evaluate runs one expression with every key of data visible as a
// top-level identifier. Unknown identifiers evaluate to nil instead of
// failing, since row fields are not known until runtime.
func (e *ExprEngine) Evaluate(ctx context.Context, expression string, data map[string]any) (any, error) {
	if expression == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "empty expr expression")
	}

	prg, err := e.compiled(expression)
	if err != nil {
		return nil, err
	}

	env := data
	if env == nil {
		env = map[string]any{}
	}

	out, err := vm.Run(prg, env)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeExecution,
			"expr evaluation failed for %q: %s", expression, err.Error()).
			WithCause(err).
			WithDetails(map[string]any{"expression": expression})
	}
	return out, nil
}

// EvaluateRow runs a per-row transform expression. vars carries the row
// bindings (item, index, acc) and shadows the scope overlay on collision.
// A nil scope leaves only the row bindings visible.
func (e *ExprEngine) EvaluateRow(ctx context.Context, expression string, vars map[string]any, scope *InterpolationScope) (any, error) {
	data := make(map[string]any, len(vars)+4)
	if scope != nil {
		for k, v := range scope.ToEvalData() {
			data[k] = v
		}
	}
	for k, v := range vars {
		data[k] = v
	}
	return e.Evaluate(ctx, expression, data)
}

// compiled returns the cached program for the source, compiling on first
// use. Programs compile against an open environment, so one cached program
// serves every row shape.
func (e *ExprEngine) compiled(expression string) (*vm.Program, error) {
	e.mu.RLock()
	prg, ok := e.cache[expression]
	e.mu.RUnlock()
	if ok {
		return prg, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if prg, ok := e.cache[expression]; ok {
		return prg, nil
	}

	prg, err := expr.Compile(expression,
		expr.Env(map[string]any{}),
		expr.AllowUndefinedVariables(),
	)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"expr compile error in %q: %s", expression, err.Error()).
			WithCause(err).
			WithDetails(map[string]any{"expression": expression})
	}

	e.cache[expression] = prg
	return prg, nil
}

var _ Engine = (*ExprEngine)(nil)
