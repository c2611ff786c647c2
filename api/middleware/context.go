package middleware

import (
	"context"

	"github.com/angelmondragon/armory-ledger/internal/authz"
)

type contextKey string

const ctxCaller contextKey = "caller"

// CallerFromContext returns the identity seeded by Identity. ok is false when the
// request never passed through it.
func CallerFromContext(ctx context.Context) (authz.Caller, bool) {
	if ctx == nil {
		return authz.Caller{}, false
	}
	caller, ok := ctx.Value(ctxCaller).(authz.Caller)
	return caller, ok
}

// WithCaller injects the caller identity into the context.
func WithCaller(ctx context.Context, caller authz.Caller) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, ctxCaller, caller)
}
