// Package sessionctx carries the relay session identity through contexts so
// packages below the engine can tag their logs without importing it.
package sessionctx

import "context"

type sessionIDCtxKey struct{}

// WithSessionID returns a new context carrying the given session id.
func WithSessionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, sessionIDCtxKey{}, id)
}

// SessionIDFromContext extracts the session id from the context.
// Returns "" if none is present.
func SessionIDFromContext(ctx context.Context) string {
	v, _ := ctx.Value(sessionIDCtxKey{}).(string)
	return v
}
