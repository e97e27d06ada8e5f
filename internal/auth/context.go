package auth

import "context"

type resultContextKey struct{}

// ContextWithResult attaches the gate result to the context.
func ContextWithResult(ctx context.Context, res AuthResult) context.Context {
	return context.WithValue(ctx, resultContextKey{}, res)
}

// ResultFromContext returns the gate result stored in ctx, or Anonymous.
func ResultFromContext(ctx context.Context) AuthResult {
	if ctx == nil {
		return Anonymous
	}
	v, ok := ctx.Value(resultContextKey{}).(AuthResult)
	if !ok {
		return Anonymous
	}
	return v
}
