package expressions

import "context"

// Engine evaluates expressions within node payloads.
// Two implementations: GoJQ (JSON transforms) and Expr (logic).
type Engine interface {
	Name() string
	Evaluate(ctx context.Context, expression string, data map[string]any) (any, error)
}
