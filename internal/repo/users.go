package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"ifcvalidation/internal/domain"
)

func (r Repo) InsertUser(ctx context.Context, tx *sql.Tx, u *domain.User) error {
	u.Username = strings.TrimSpace(u.Username)
	if u.Username == "" {
		return errors.New("username required")
	}
	if u.Created.IsZero() {
		u.Created = time.Now().UTC()
	}
	id, err := r.insert(ctx, r.q(tx), `INSERT INTO users(username,is_active,created) VALUES (?,?,?)`,
		u.Username, u.IsActive, formatTime(u.Created))
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	u.ID = id
	return nil
}

func scanUser(s scanner) (domain.User, error) {
	var u domain.User
	var created string
	if err := s.Scan(&u.ID, &u.Username, &u.IsActive, &created); err != nil {
		if err == sql.ErrNoRows {
			return u, ErrNotFound
		}
		return u, err
	}
	var err error
	u.Created, err = parseTime(created)
	return u, err
}

func (r Repo) GetUser(ctx context.Context, id int64) (domain.User, error) {
	return scanUser(r.queryRow(ctx, r.DB, `SELECT id,username,is_active,created FROM users WHERE id=?`, id))
}

func (r Repo) GetUserByUsername(ctx context.Context, tx *sql.Tx, username string) (domain.User, error) {
	return scanUser(r.queryRow(ctx, r.q(tx), `SELECT id,username,is_active,created FROM users WHERE username=?`, username))
}

func (r Repo) ListUsers(ctx context.Context) ([]domain.User, error) {
	rows, err := r.query(ctx, r.DB, `SELECT id,username,is_active,created FROM users ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, u)
	}
	return res, rows.Err()
}

func (r Repo) SetUserActive(ctx context.Context, tx *sql.Tx, id int64, active bool) error {
	res, err := r.exec(ctx, r.q(tx), `UPDATE users SET is_active=? WHERE id=?`, active, id)
	if err != nil {
		return err
	}
	return expectOne(res)
}
