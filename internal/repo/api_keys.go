package repo

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"ifcvalidation/internal/domain"
)

const apiKeyColumns = `id, actor_id, COALESCE(name,''), key_hash, created_at`

// HashAPIKey is the digest stored in place of a plaintext key. Surrounding
// whitespace is not part of the key.
func HashAPIKey(key string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(key)))
	return hex.EncodeToString(sum[:])
}

func scanAPIKey(s scanner) (domain.APIKey, error) {
	var k domain.APIKey
	err := s.Scan(&k.ID, &k.ActorID, &k.Name, &k.KeyHash, &k.CreatedAt)
	return k, err
}

// InsertAPIKey stores key as given; KeyHash must already be hashed.
func (r Repo) InsertAPIKey(ctx context.Context, tx *sql.Tx, key domain.APIKey) error {
	switch {
	case key.ID == "":
		return fmt.Errorf("api key id: %w", domain.ErrInvalidArgument)
	case key.ActorID <= 0:
		return fmt.Errorf("api key actor: %w", domain.ErrInvalidArgument)
	case key.KeyHash == "":
		return fmt.Errorf("api key hash: %w", domain.ErrInvalidArgument)
	}
	if key.CreatedAt == "" {
		key.CreatedAt = formatTime(time.Now())
	}
	_, err := r.exec(ctx, r.q(tx),
		`INSERT INTO api_keys(id, actor_id, name, key_hash, created_at) VALUES (?,?,?,?,?)`,
		key.ID, key.ActorID, nullable(key.Name), key.KeyHash, key.CreatedAt)
	return err
}

func (r Repo) GetAPIKeyByHash(ctx context.Context, hash string) (domain.APIKey, error) {
	k, err := scanAPIKey(r.queryRow(ctx, r.DB, `SELECT `+apiKeyColumns+` FROM api_keys WHERE key_hash=?`, hash))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.APIKey{}, ErrNotFound
	}
	return k, err
}

// ListAPIKeys returns the newest keys first. actorID 0 lists every actor's keys.
func (r Repo) ListAPIKeys(ctx context.Context, actorID int64) ([]domain.APIKey, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if actorID > 0 {
		rows, err = r.query(ctx, r.DB, `SELECT `+apiKeyColumns+` FROM api_keys WHERE actor_id=? ORDER BY created_at DESC`, actorID)
	} else {
		rows, err = r.query(ctx, r.DB, `SELECT `+apiKeyColumns+` FROM api_keys ORDER BY created_at DESC`)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var keys []domain.APIKey
	for rows.Next() {
		k, err := scanAPIKey(rows)
		if err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// DeleteAPIKey revokes a key. Unknown ids are ErrNotFound.
func (r Repo) DeleteAPIKey(ctx context.Context, tx *sql.Tx, id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("api key id: %w", domain.ErrInvalidArgument)
	}
	res, err := r.exec(ctx, r.q(tx), `DELETE FROM api_keys WHERE id=?`, id)
	if err != nil {
		return err
	}
	return expectOne(res)
}
