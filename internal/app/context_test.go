package app

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ifcvalidation/internal/actor"
	"ifcvalidation/internal/db"
	"ifcvalidation/internal/domain"
	"ifcvalidation/internal/migrate"
	"ifcvalidation/internal/obfuscate"
	"ifcvalidation/internal/repo"
)

func newRepo(t *testing.T) repo.Repo {
	t.Helper()
	h, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { h.Close() })
	require.NoError(t, migrate.Migrate(h))
	return repo.New(h)
}

func TestSystemContext(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()

	_, err := SystemContext(ctx, r, "SYSTEM")
	require.Error(t, err)

	u := domain.User{Username: "SYSTEM", IsActive: true}
	require.NoError(t, r.InsertUser(ctx, nil, &u))

	sctx, err := SystemContext(ctx, r, "SYSTEM")
	require.NoError(t, err)
	a, err := actor.From(sctx)
	require.NoError(t, err)
	assert.Equal(t, u.ID, a.ID)
	assert.Equal(t, "SYSTEM", a.Username)

	_, err = actor.From(ctx)
	assert.ErrorIs(t, err, actor.ErrMissingContext)

	require.NoError(t, r.SetUserActive(ctx, nil, u.ID, false))
	_, err = SystemContext(ctx, r, "SYSTEM")
	assert.True(t, errors.Is(err, ErrInactiveActor))
}

func TestActorContext(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()
	u := domain.User{Username: "alice", IsActive: true}
	require.NoError(t, r.InsertUser(ctx, nil, &u))

	actx, err := ActorContext(ctx, r, u.ID)
	require.NoError(t, err)
	a, err := actor.From(actx)
	require.NoError(t, err)
	assert.Equal(t, "alice", a.Username)

	_, err = ActorContext(ctx, r, u.ID+100)
	assert.ErrorIs(t, err, repo.ErrNotFound)

	nctx, err := UsernameContext(ctx, r, "alice")
	require.NoError(t, err)
	a, err = actor.From(nctx)
	require.NoError(t, err)
	assert.Equal(t, u.ID, a.ID)
}

func TestRefContext(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()
	ids := obfuscate.Default()
	u := domain.User{Username: "bob", IsActive: true}
	require.NoError(t, r.InsertUser(ctx, nil, &u))
	public, err := ids.Encode(obfuscate.ActorKind, u.ID)
	require.NoError(t, err)

	for _, ref := range []string{public, "bob", " bob "} {
		bctx, err := RefContext(ctx, r, ids, ref)
		require.NoError(t, err, ref)
		a, err := actor.From(bctx)
		require.NoError(t, err)
		assert.Equal(t, u.ID, a.ID)
	}

	_, err = RefContext(ctx, r, ids, "nobody")
	assert.ErrorIs(t, err, repo.ErrNotFound)
	_, err = RefContext(ctx, r, ids, "")
	assert.Error(t, err)

	require.NoError(t, r.SetUserActive(ctx, nil, u.ID, false))
	_, err = RefContext(ctx, r, ids, "bob")
	assert.ErrorIs(t, err, ErrInactiveActor)
	found, err := ResolveUser(ctx, r, ids, public)
	require.NoError(t, err)
	assert.False(t, found.IsActive)
}
