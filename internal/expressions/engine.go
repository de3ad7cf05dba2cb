package expressions

import "context"

// Engine evaluates a source-form expression against step data.
// Three implementations: CEL for string guards, Expr for custom
// transform expressions, GoJQ for jq conversion programs.
type Engine interface {
	Name() string
	Evaluate(ctx context.Context, expression string, data map[string]any) (any, error)
}
