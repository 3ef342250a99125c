package db

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

const defaultDBName = "ifcv.db"

type Dialect string

const (
	SQLite   Dialect = "sqlite"
	Postgres Dialect = "postgres"
)

type Config struct {
	Workspace string
	Driver    Dialect
	// DSN overrides the workspace file for sqlite and is required for postgres.
	DSN string
}

// Handle is an open pool together with the SQL dialect it speaks.
type Handle struct {
	*sql.DB
	Dialect Dialect
}

func dbPath(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, ".ifcv", defaultDBName)
}

// EnsureWorkspace creates workspace directory if missing.
func EnsureWorkspace(workspace string) (string, error) {
	if workspace == "" {
		workspace = "."
	}
	path := filepath.Join(workspace, ".ifcv")
	if err := os.MkdirAll(path, 0o755); err != nil {
		return "", err
	}
	return path, nil
}

// Open opens the configured database. SQLite runs with foreign keys on,
// WAL journaling, a busy timeout and immediate write transactions.
func Open(cfg Config) (Handle, error) {
	switch cfg.Driver {
	case "", SQLite:
		dsn := cfg.DSN
		if dsn == "" {
			if _, err := EnsureWorkspace(cfg.Workspace); err != nil {
				return Handle{}, err
			}
			dsn = "file:" + dbPath(cfg.Workspace)
		}
		dsn = withSQLitePragmas(dsn)
		conn, err := sql.Open("sqlite", dsn)
		if err != nil {
			return Handle{}, err
		}
		return Handle{DB: conn, Dialect: SQLite}, nil
	case Postgres:
		if cfg.DSN == "" {
			return Handle{}, fmt.Errorf("postgres dsn is required")
		}
		conn, err := sql.Open("pgx", cfg.DSN)
		if err != nil {
			return Handle{}, err
		}
		if err := conn.PingContext(context.Background()); err != nil {
			conn.Close()
			return Handle{}, fmt.Errorf("ping postgres: %w", err)
		}
		return Handle{DB: conn, Dialect: Postgres}, nil
	default:
		return Handle{}, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}

func withSQLitePragmas(dsn string) string {
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_txlock=immediate"
}

// Path returns the db path for the workspace.
func Path(workspace string) string {
	return dbPath(workspace)
}

// Rebind rewrites ? placeholders into the dialect's form.
func (d Dialect) Rebind(query string) string {
	if d != Postgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

// ForUpdate is the row-lock suffix for a SELECT inside a write transaction.
func (d Dialect) ForUpdate() string {
	if d == Postgres {
		return " FOR UPDATE"
	}
	return ""
}
