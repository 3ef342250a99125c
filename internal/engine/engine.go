package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"ifcvalidation/internal/actor"
	"ifcvalidation/internal/audit"
	"ifcvalidation/internal/config"
	"ifcvalidation/internal/db"
	"ifcvalidation/internal/events"
	"ifcvalidation/internal/logging"
	"ifcvalidation/internal/metrics"
	"ifcvalidation/internal/obfuscate"
	"ifcvalidation/internal/repo"
)

// Engine runs every mutation as one unit of work: a transaction, audit stamps
// from the actor bound to ctx, one event row, a log line and metrics.
type Engine struct {
	DB      *sql.DB
	Repo    repo.Repo
	Events  events.Writer
	Config  *config.Config
	IDs     obfuscate.Obfuscator
	Metrics *metrics.Metrics
	Logger  *slog.Logger
	Now     func() time.Time

	locks *keyedMutex
}

func New(h db.Handle, cfg *config.Config) (Engine, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	ids, err := cfg.Obfuscator()
	if err != nil {
		return Engine{}, err
	}
	return Engine{
		DB:      h.DB,
		Repo:    repo.New(h),
		Events:  events.Writer{DB: h.DB, Dialect: h.Dialect},
		Config:  cfg,
		IDs:     ids,
		Metrics: metrics.New(),
		Logger:  logging.Discard(),
		Now:     time.Now,
		locks:   newKeyedMutex(),
	}, nil
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now().UTC()
	}
	return time.Now().UTC()
}

func (e Engine) stamper() audit.Stamper {
	return audit.Stamper{Now: e.now}
}

func (e Engine) log() *slog.Logger {
	if e.Logger == nil {
		return logging.Discard()
	}
	return e.Logger
}

func (e Engine) events() events.Writer {
	w := e.Events
	w.Now = e.now
	return w
}

// publicID never fails for ids handed out by the database; an out of range id
// is rendered as an empty string rather than leaking the integer.
func (e Engine) publicID(kind obfuscate.Kind, id int64) string {
	s, err := e.IDs.Encode(kind, id)
	if err != nil {
		return ""
	}
	return s
}

// inTx runs fn inside a transaction and commits when it returns nil.
func (e Engine) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// requireActor fails fast before any work is done for an unbound context.
func requireActor(ctx context.Context) (actor.Actor, error) {
	return actor.From(ctx)
}

var ErrNoModel = errors.New("request has no model")

// keyedMutex serializes work per key inside one process.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[int64]*keyedEntry
}

type keyedEntry struct {
	mu   sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: map[int64]*keyedEntry{}}
}

func (k *keyedMutex) lock(key int64) func() {
	if k == nil {
		return func() {}
	}
	k.mu.Lock()
	ent, ok := k.locks[key]
	if !ok {
		ent = &keyedEntry{}
		k.locks[key] = ent
	}
	ent.refs++
	k.mu.Unlock()

	ent.mu.Lock()
	return func() {
		ent.mu.Unlock()
		k.mu.Lock()
		ent.refs--
		if ent.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

// lockAll takes the locks of several keys in ascending order.
func (k *keyedMutex) lockAll(keys []int64) func() {
	sorted := append([]int64(nil), keys...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	var unlocks []func()
	var prev int64
	for i, key := range sorted {
		if i > 0 && key == prev {
			continue
		}
		prev = key
		unlocks = append(unlocks, k.lock(key))
	}
	return func() {
		for i := len(unlocks) - 1; i >= 0; i-- {
			unlocks[i]()
		}
	}
}

func wrapNotFound(kind string, err error) error {
	if errors.Is(err, repo.ErrNotFound) {
		return fmt.Errorf("%s: %w", kind, err)
	}
	return err
}
