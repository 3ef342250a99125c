package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"ifcvalidation/internal/actor"
	"ifcvalidation/internal/domain"
	"ifcvalidation/internal/events"
	"ifcvalidation/internal/obfuscate"
	"ifcvalidation/internal/repo"
)

// CreateUser registers an actor. Without a bound actor the new user is
// recorded as its own creator, which is how the first (system) actor is bootstrapped.
func (e Engine) CreateUser(ctx context.Context, username string) (domain.User, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return domain.User{}, fmt.Errorf("%w: username is required", domain.ErrInvalidArgument)
	}
	u := domain.User{Username: username, IsActive: true, Created: e.now()}
	err := e.inTx(ctx, func(tx *sql.Tx) error {
		if err := e.Repo.InsertUser(ctx, tx, &u); err != nil {
			return err
		}
		by := u.ID
		if a, err := actor.From(ctx); err == nil {
			by = a.ID
		}
		return e.events().Append(ctx, tx, "actor.created", "actor", e.publicID(obfuscate.ActorKind, u.ID), by, events.EventPayload{"username": u.Username})
	})
	if err != nil {
		return domain.User{}, err
	}
	e.log().Info("actor created", "actor_id", e.publicID(obfuscate.ActorKind, u.ID), "username", u.Username)
	return u, nil
}

// EnsureUser returns the user with the given name, creating it when missing.
func (e Engine) EnsureUser(ctx context.Context, username string) (domain.User, error) {
	u, err := e.Repo.GetUserByUsername(ctx, nil, strings.TrimSpace(username))
	if err == nil {
		return u, nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return u, err
	}
	return e.CreateUser(ctx, username)
}

func (e Engine) SetUserActive(ctx context.Context, id int64, active bool) error {
	a, err := requireActor(ctx)
	if err != nil {
		return err
	}
	return e.inTx(ctx, func(tx *sql.Tx) error {
		if err := e.Repo.SetUserActive(ctx, tx, id, active); err != nil {
			return wrapNotFound("actor", err)
		}
		evt := "actor.deactivated"
		if active {
			evt = "actor.activated"
		}
		return e.events().Append(ctx, tx, evt, "actor", e.publicID(obfuscate.ActorKind, id), a.ID, nil)
	})
}

// CreateAPIKey issues a key for a worker actor. The plain key is returned once; only its hash is stored.
func (e Engine) CreateAPIKey(ctx context.Context, actorID int64, name string) (string, domain.APIKey, error) {
	a, err := requireActor(ctx)
	if err != nil {
		return "", domain.APIKey{}, err
	}
	plain := "ifcv_" + strings.ReplaceAll(uuid.NewString(), "-", "") + strings.ReplaceAll(uuid.NewString(), "-", "")
	key := domain.APIKey{
		ID:        uuid.NewString(),
		ActorID:   actorID,
		Name:      strings.TrimSpace(name),
		KeyHash:   repo.HashAPIKey(plain),
		CreatedAt: e.now().Format("2006-01-02T15:04:05.000000Z07:00"),
	}
	if _, err := e.Repo.GetUser(ctx, actorID); err != nil {
		return "", domain.APIKey{}, wrapNotFound("actor", err)
	}
	err = e.inTx(ctx, func(tx *sql.Tx) error {
		if err := e.Repo.InsertAPIKey(ctx, tx, key); err != nil {
			return err
		}
		return e.events().Append(ctx, tx, "api_key.created", "api_key", key.ID, a.ID, events.EventPayload{
			"actor_id": e.publicID(obfuscate.ActorKind, actorID),
			"name":     key.Name,
		})
	})
	if err != nil {
		return "", domain.APIKey{}, err
	}
	return plain, key, nil
}

func (e Engine) RevokeAPIKey(ctx context.Context, id string) error {
	a, err := requireActor(ctx)
	if err != nil {
		return err
	}
	return e.inTx(ctx, func(tx *sql.Tx) error {
		if err := e.Repo.DeleteAPIKey(ctx, tx, id); err != nil {
			return wrapNotFound("api key", err)
		}
		return e.events().Append(ctx, tx, "api_key.revoked", "api_key", id, a.ID, nil)
	})
}
