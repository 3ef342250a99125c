package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"ifcvalidation/internal/actor"
	"ifcvalidation/internal/domain"
	"ifcvalidation/internal/obfuscate"
	"ifcvalidation/internal/repo"
)

var ErrInactiveActor = errors.New("actor is inactive")

// SystemContext binds the configured system actor to ctx, so background work
// runs as SYSTEM. The actor must exist and be active.
func SystemContext(ctx context.Context, r repo.Repo, username string) (context.Context, error) {
	u, err := r.GetUserByUsername(ctx, nil, username)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, fmt.Errorf("system actor %q not found; create it with ifcv actor bootstrap", username)
		}
		return nil, err
	}
	if !u.IsActive {
		return nil, fmt.Errorf("%w: %s", ErrInactiveActor, u.Username)
	}
	return actor.With(ctx, actor.Actor{ID: u.ID, Username: u.Username}), nil
}

// ActorContext binds the actor with the given internal id.
func ActorContext(ctx context.Context, r repo.Repo, id int64) (context.Context, error) {
	u, err := r.GetUser(ctx, id)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, fmt.Errorf("actor not found: %w", err)
		}
		return nil, err
	}
	if !u.IsActive {
		return nil, fmt.Errorf("%w: %s", ErrInactiveActor, u.Username)
	}
	return actor.With(ctx, actor.Actor{ID: u.ID, Username: u.Username}), nil
}

// UsernameContext binds the actor with the given username.
func UsernameContext(ctx context.Context, r repo.Repo, username string) (context.Context, error) {
	u, err := r.GetUserByUsername(ctx, nil, username)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, fmt.Errorf("actor %q not found: %w", username, err)
		}
		return nil, err
	}
	if !u.IsActive {
		return nil, fmt.Errorf("%w: %s", ErrInactiveActor, u.Username)
	}
	return actor.With(ctx, actor.Actor{ID: u.ID, Username: u.Username}), nil
}

// ResolveUser looks ref up as a public actor id first, then as a username.
func ResolveUser(ctx context.Context, r repo.Repo, ids obfuscate.Obfuscator, ref string) (domain.User, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return domain.User{}, errors.New("actor reference required")
	}
	if id, err := ids.DecodeAs(obfuscate.ActorKind, ref); err == nil {
		u, err := r.GetUser(ctx, id)
		if err == nil || !errors.Is(err, repo.ErrNotFound) {
			return u, err
		}
	}
	u, err := r.GetUserByUsername(ctx, nil, ref)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return domain.User{}, fmt.Errorf("actor %q not found: %w", ref, err)
		}
		return domain.User{}, err
	}
	return u, nil
}

// RefContext binds the active actor named by ref.
func RefContext(ctx context.Context, r repo.Repo, ids obfuscate.Obfuscator, ref string) (context.Context, error) {
	u, err := ResolveUser(ctx, r, ids, ref)
	if err != nil {
		return nil, err
	}
	if !u.IsActive {
		return nil, fmt.Errorf("%w: %s", ErrInactiveActor, u.Username)
	}
	return actor.With(ctx, actor.Actor{ID: u.ID, Username: u.Username}), nil
}
