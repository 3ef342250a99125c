package migrate

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ifcvalidation/internal/db"
)

func TestMigrationsLoadForEveryDialect(t *testing.T) {
	lite, err := loadMigrations(db.SQLite)
	require.NoError(t, err)
	pg, err := loadMigrations(db.Postgres)
	require.NoError(t, err)
	require.Equal(t, len(lite), len(pg))
	for i := range lite {
		assert.Equal(t, lite[i].Version, pg[i].Version)
	}
}

func TestMigrateIsIdempotent(t *testing.T) {
	h, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	defer h.Close()

	require.NoError(t, Migrate(h))
	require.NoError(t, Migrate(h))

	v, err := Version(context.Background(), h)
	require.NoError(t, err)
	assert.Equal(t, 1, v)

	var n int
	require.NoError(t, h.QueryRow(`SELECT COUNT(*) FROM validation_requests`).Scan(&n))
	assert.Equal(t, 0, n)
}

func TestVersionOnFreshDatabase(t *testing.T) {
	h, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	defer h.Close()

	v, err := Version(context.Background(), h)
	require.NoError(t, err)
	assert.Zero(t, v)

	require.NoError(t, MigrateContext(context.Background(), h))
	var name string
	require.NoError(t, h.QueryRow(`SELECT name FROM schema_migrations WHERE version=1`).Scan(&name))
	assert.Equal(t, "001_init.sql", name)
}
