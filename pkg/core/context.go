package core

import (
	"context"

	"github.com/google/uuid"
)

type sessionIDKey struct{}
type turnIDKey struct{}

// WithSessionID attaches an agent session id to the context.
func WithSessionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, sessionIDKey{}, id)
}

// SessionID returns the session id if present.
func SessionID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(sessionIDKey{}).(string)
	return id, ok
}

// EnsureTurnID returns ctx carrying a turn id, generating one if absent.
// A turn is a single chat call including all of its tool iterations.
func EnsureTurnID(ctx context.Context) (context.Context, string) {
	if id, ok := ctx.Value(turnIDKey{}).(string); ok {
		return ctx, id
	}
	id := "turn-" + uuid.NewString()
	return context.WithValue(ctx, turnIDKey{}, id), id
}
