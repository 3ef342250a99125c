package db

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRebind(t *testing.T) {
	q := `UPDATE t SET a=?, b=? WHERE id=?`
	assert.Equal(t, q, SQLite.Rebind(q))
	assert.Equal(t, `UPDATE t SET a=$1, b=$2 WHERE id=$3`, Postgres.Rebind(q))
}

func TestForUpdate(t *testing.T) {
	assert.Equal(t, "", SQLite.ForUpdate())
	assert.Equal(t, " FOR UPDATE", Postgres.ForUpdate())
}

func TestOpenSQLiteWorkspace(t *testing.T) {
	dir := t.TempDir()
	h, err := Open(Config{Workspace: dir})
	require.NoError(t, err)
	defer h.Close()
	assert.Equal(t, SQLite, h.Dialect)
	require.NoError(t, h.Ping())

	var fk int
	require.NoError(t, h.QueryRow(`PRAGMA foreign_keys`).Scan(&fk))
	assert.Equal(t, 1, fk)
	assert.FileExists(t, filepath.Join(dir, ".ifcv", "ifcv.db"))
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open(Config{Driver: "oracle"})
	assert.Error(t, err)
	_, err = Open(Config{Driver: Postgres})
	assert.Error(t, err)
}
