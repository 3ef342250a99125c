package repo

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"ifcvalidation/internal/actor"
	"ifcvalidation/internal/audit"
	"ifcvalidation/internal/db"
	"ifcvalidation/internal/domain"
	"ifcvalidation/internal/migrate"
)

// newPostgresEnv starts PostgreSQL in a container. Skipped unless TEST_INTEGRATION is set.
func newPostgresEnv(t *testing.T) testEnv {
	t.Helper()
	if os.Getenv("TEST_INTEGRATION") == "" {
		t.Skip("skipping integration test: TEST_INTEGRATION not set")
	}
	ctx := context.Background()
	container, err := postgres.Run(ctx,
		"docker.io/postgres:17-alpine",
		postgres.WithDatabase("ifcv_test"),
		postgres.WithUsername("ifcv"),
		postgres.WithPassword("test-password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("terminate container: %v", err)
		}
	})
	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	h, err := db.Open(db.Config{Driver: db.Postgres, DSN: dsn})
	require.NoError(t, err)
	t.Cleanup(func() { h.Close() })
	require.NoError(t, migrate.Migrate(h))

	r := New(h)
	u := domain.User{Username: "tester", IsActive: true, Created: fixedNow}
	require.NoError(t, r.InsertUser(ctx, nil, &u))
	actx := actor.With(ctx, actor.Actor{ID: u.ID, Username: u.Username})
	return testEnv{Repo: r, Ctx: actx, Stamp: audit.Stamper{Now: func() time.Time { return fixedNow }}, User: u}
}

func TestPostgresRoundTripAndConstraints(t *testing.T) {
	env := newPostgresEnv(t)
	assert.Equal(t, db.Postgres, env.Repo.Dialect)

	req := env.request(t)
	task := env.task(t, req.ID, domain.TaskSyntax)
	env.outcome(t, task.ID, nil, domain.SeverityPassed, "P00010")

	tx, err := env.Repo.DB.BeginTx(env.Ctx, nil)
	require.NoError(t, err)
	locked, err := env.Repo.GetRequestTx(env.Ctx, tx, req.ID, true)
	require.NoError(t, err)
	locked.MarkAsInitiated(fixedNow, "")
	_, err = env.Stamp.OnUpdate(env.Ctx, &locked)
	require.NoError(t, err)
	require.NoError(t, env.Repo.UpdateRequest(env.Ctx, tx, &locked))
	require.NoError(t, tx.Commit())

	got, err := env.Repo.GetRequest(env.Ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RequestInitiated, got.Status)
	require.NotNil(t, got.UpdatedBy)

	sev, err := env.Repo.TaskSeverities(env.Ctx, nil, task.ID)
	require.NoError(t, err)
	assert.Equal(t, []domain.Severity{domain.SeverityPassed}, sev)

	v := "1.0"
	insertTool := func() error {
		tool := domain.AuthoringTool{Name: "X", Version: &v}
		_, err := env.Stamp.OnCreate(env.Ctx, &tool)
		require.NoError(t, err)
		return env.Repo.InsertTool(env.Ctx, nil, &tool)
	}
	require.NoError(t, insertTool())
	assert.ErrorIs(t, insertTool(), ErrConstraintViolation)

	require.NoError(t, env.Repo.DeleteRequest(env.Ctx, nil, req.ID))
	_, err = env.Repo.GetTask(env.Ctx, task.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	list, err := env.Repo.ListRequests(env.Ctx, RequestFilter{Limit: 10})
	require.NoError(t, err)
	assert.Empty(t, list)
}
