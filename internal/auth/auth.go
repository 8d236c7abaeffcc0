// Package auth plumbs already-authenticated actor identities through request
// contexts. Authentication itself happens upstream; this package never
// verifies credentials.
package auth

import (
	"context"

	"github.com/example/stitchflow/internal/domain"
)

type contextKey struct{}

// WithActor returns a context carrying the actor identity.
func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, contextKey{}, actor)
}

// CurrentActor extracts the actor from the context.
func CurrentActor(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(contextKey{}).(domain.Actor)
	return actor, ok
}
