// Package actor carries the identity performing a mutation through a context.Context.
package actor

import (
	"context"
	"errors"
)

// ErrMissingContext is returned when a mutation runs without a bound actor.
var ErrMissingContext = errors.New("missing actor context")

// Actor is the system or human identity attributed to a write.
type Actor struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
}

type actorKey struct{}

// With binds a to ctx. The binding lives exactly as long as the returned context.
func With(ctx context.Context, a Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, a)
}

// From returns the actor bound to ctx.
func From(ctx context.Context) (Actor, error) {
	if ctx == nil {
		return Actor{}, ErrMissingContext
	}
	a, ok := ctx.Value(actorKey{}).(Actor)
	if !ok || a.ID <= 0 {
		return Actor{}, ErrMissingContext
	}
	return a, nil
}

// Without returns a context that no longer resolves an actor, even if a parent bound one.
func Without(ctx context.Context) context.Context {
	return context.WithValue(ctx, actorKey{}, nil)
}
