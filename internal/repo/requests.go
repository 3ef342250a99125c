package repo

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"ifcvalidation/internal/audit"
	"ifcvalidation/internal/domain"
)

const requestColumns = `id,file_name,file,size,status,status_reason,started,completed,progress,model_id,deletion,created_by,updated_by,created,updated`

func (r Repo) InsertRequest(ctx context.Context, tx *sql.Tx, req *domain.Request) error {
	if err := audit.Require(req, audit.OpCreate); err != nil {
		return err
	}
	if req.CreatedBy <= 0 {
		return fmt.Errorf("%w: created_by missing", audit.ErrUnstamped)
	}
	id, err := r.insert(ctx, r.q(tx), `INSERT INTO validation_requests(file_name,file,size,status,status_reason,started,completed,progress,model_id,deletion,created_by,updated_by,created,updated)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		req.FileName, req.File, req.Size, string(req.Status), nullableStr(req.StatusReason), nullableTime(req.Started), nullableTime(req.Completed),
		req.Progress, nullableInt(req.ModelID), string(req.Deletion), req.CreatedBy, nullableInt(req.UpdatedBy), formatTime(req.Created), nullableTime(req.Updated))
	if err != nil {
		return fmt.Errorf("insert request: %w", err)
	}
	req.ID = id
	return nil
}

// UpdateRequest writes every mutable column of one request row.
func (r Repo) UpdateRequest(ctx context.Context, tx *sql.Tx, req *domain.Request) error {
	if err := audit.Require(req, audit.OpUpdate); err != nil {
		return err
	}
	if req.UpdatedBy == nil {
		return fmt.Errorf("%w: updated_by missing", audit.ErrUnstamped)
	}
	res, err := r.exec(ctx, r.q(tx), `UPDATE validation_requests SET file_name=?, file=?, size=?, status=?, status_reason=?, started=?, completed=?, progress=?, model_id=?, deletion=?, updated_by=?, updated=? WHERE id=?`,
		req.FileName, req.File, req.Size, string(req.Status), nullableStr(req.StatusReason), nullableTime(req.Started), nullableTime(req.Completed),
		req.Progress, nullableInt(req.ModelID), string(req.Deletion), nullableInt(req.UpdatedBy), nullableTime(req.Updated), req.ID)
	if err != nil {
		return fmt.Errorf("update request: %w", err)
	}
	return expectOne(res)
}

func scanRequest(s scanner) (domain.Request, error) {
	var req domain.Request
	var reason, started, completed, updated sql.NullString
	var modelID, updatedBy sql.NullInt64
	var status, deletion, created string
	if err := s.Scan(&req.ID, &req.FileName, &req.File, &req.Size, &status, &reason, &started, &completed, &req.Progress,
		&modelID, &deletion, &req.CreatedBy, &updatedBy, &created, &updated); err != nil {
		if err == sql.ErrNoRows {
			return req, ErrNotFound
		}
		return req, err
	}
	req.Status = domain.RequestStatus(status)
	req.Deletion = domain.DeletionState(deletion)
	req.StatusReason = strFromNull(reason)
	req.ModelID = intFromNull(modelID)
	req.UpdatedBy = intFromNull(updatedBy)
	var err error
	if req.Started, err = timeFromNull(started); err != nil {
		return req, err
	}
	if req.Completed, err = timeFromNull(completed); err != nil {
		return req, err
	}
	req.Created, req.Updated, err = auditTimes(created, updated)
	return req, err
}

func (r Repo) GetRequest(ctx context.Context, id int64) (domain.Request, error) {
	return r.GetRequestTx(ctx, nil, id, false)
}

// GetRequestTx reads a request inside tx, locking the row when lock is set and the dialect supports it.
func (r Repo) GetRequestTx(ctx context.Context, tx *sql.Tx, id int64, lock bool) (domain.Request, error) {
	query := `SELECT ` + requestColumns + ` FROM validation_requests WHERE id=?`
	if lock {
		query += r.Dialect.ForUpdate()
	}
	return scanRequest(r.queryRow(ctx, r.q(tx), query, id))
}

func (r Repo) GetRequestByModel(ctx context.Context, modelID int64) (domain.Request, error) {
	return scanRequest(r.queryRow(ctx, r.DB, `SELECT `+requestColumns+` FROM validation_requests WHERE model_id=?`, modelID))
}

type RequestFilter struct {
	Status         domain.RequestStatus
	CreatedBy      int64
	IncludeDeleted bool
	OnlyDeleted    bool
	Limit          int
	BeforeID       int64
}

// ListRequests returns newest first. Soft-deleted rows are skipped unless asked for.
func (r Repo) ListRequests(ctx context.Context, f RequestFilter) ([]domain.Request, error) {
	clauses := []string{"1=1"}
	var args []any
	switch {
	case f.OnlyDeleted:
		clauses = append(clauses, "deletion=?")
		args = append(args, string(domain.Deleted))
	case !f.IncludeDeleted:
		clauses = append(clauses, "deletion=?")
		args = append(args, string(domain.Active))
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, string(f.Status))
	}
	if f.CreatedBy > 0 {
		clauses = append(clauses, "created_by=?")
		args = append(args, f.CreatedBy)
	}
	if f.BeforeID > 0 {
		clauses = append(clauses, "id<?")
		args = append(args, f.BeforeID)
	}
	query := `SELECT ` + requestColumns + ` FROM validation_requests WHERE ` + strings.Join(clauses, " AND ") + ` ORDER BY id DESC`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}
	rows, err := r.query(ctx, r.DB, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Request
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, req)
	}
	return res, rows.Err()
}

// DeleteRequest physically removes the request, its tasks and their outcomes.
func (r Repo) DeleteRequest(ctx context.Context, tx *sql.Tx, id int64) error {
	res, err := r.exec(ctx, r.q(tx), `DELETE FROM validation_requests WHERE id=?`, id)
	if err != nil {
		return err
	}
	return expectOne(res)
}
