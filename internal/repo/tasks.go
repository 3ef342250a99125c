package repo

import (
	"context"
	"database/sql"
	"fmt"

	"ifcvalidation/internal/audit"
	"ifcvalidation/internal/domain"
)

const taskColumns = `id,request_id,type,status,status_reason,started,ended,progress,process_id,process_cmd,created,updated`

func (r Repo) InsertTask(ctx context.Context, tx *sql.Tx, t *domain.Task) error {
	if err := audit.Require(t, audit.OpCreate); err != nil {
		return err
	}
	id, err := r.insert(ctx, r.q(tx), `INSERT INTO validation_tasks(request_id,type,status,status_reason,started,ended,progress,process_id,process_cmd,created,updated)
VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		t.RequestID, string(t.Type), string(t.Status), nullableStr(t.StatusReason), nullableTime(t.Started), nullableTime(t.Ended),
		t.Progress, nullableInt(t.ProcessID), nullableStr(t.ProcessCmd), formatTime(t.Created), nullableTime(t.Updated))
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	t.ID = id
	return nil
}

func (r Repo) UpdateTask(ctx context.Context, tx *sql.Tx, t *domain.Task) error {
	if err := audit.Require(t, audit.OpUpdate); err != nil {
		return err
	}
	res, err := r.exec(ctx, r.q(tx), `UPDATE validation_tasks SET status=?, status_reason=?, started=?, ended=?, progress=?, process_id=?, process_cmd=?, updated=? WHERE id=?`,
		string(t.Status), nullableStr(t.StatusReason), nullableTime(t.Started), nullableTime(t.Ended),
		t.Progress, nullableInt(t.ProcessID), nullableStr(t.ProcessCmd), nullableTime(t.Updated), t.ID)
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	return expectOne(res)
}

func scanTask(s scanner) (domain.Task, error) {
	var t domain.Task
	var reason, started, ended, cmd, updated sql.NullString
	var pid sql.NullInt64
	var typ, status, created string
	if err := s.Scan(&t.ID, &t.RequestID, &typ, &status, &reason, &started, &ended, &t.Progress, &pid, &cmd, &created, &updated); err != nil {
		if err == sql.ErrNoRows {
			return t, ErrNotFound
		}
		return t, err
	}
	t.Type = domain.TaskType(typ)
	t.Status = domain.TaskStatus(status)
	t.StatusReason = strFromNull(reason)
	t.ProcessID = intFromNull(pid)
	t.ProcessCmd = strFromNull(cmd)
	var err error
	if t.Started, err = timeFromNull(started); err != nil {
		return t, err
	}
	if t.Ended, err = timeFromNull(ended); err != nil {
		return t, err
	}
	t.Created, t.Updated, err = auditTimes(created, updated)
	return t, err
}

func (r Repo) GetTask(ctx context.Context, id int64) (domain.Task, error) {
	return r.GetTaskTx(ctx, nil, id, false)
}

func (r Repo) GetTaskTx(ctx context.Context, tx *sql.Tx, id int64, lock bool) (domain.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM validation_tasks WHERE id=?`
	if lock {
		query += r.Dialect.ForUpdate()
	}
	return scanTask(r.queryRow(ctx, r.q(tx), query, id))
}

func (r Repo) ListTasks(ctx context.Context, requestID int64) ([]domain.Task, error) {
	rows, err := r.query(ctx, r.DB, `SELECT `+taskColumns+` FROM validation_tasks WHERE request_id=? ORDER BY id`, requestID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

// CountTasksByStatus groups the tasks of one request by status.
func (r Repo) CountTasksByStatus(ctx context.Context, requestID int64) (map[domain.TaskStatus]int, error) {
	rows, err := r.query(ctx, r.DB, `SELECT status, COUNT(*) FROM validation_tasks WHERE request_id=? GROUP BY status`, requestID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := map[domain.TaskStatus]int{}
	for rows.Next() {
		var s string
		var n int
		if err := rows.Scan(&s, &n); err != nil {
			return nil, err
		}
		res[domain.TaskStatus(s)] = n
	}
	return res, rows.Err()
}

func (r Repo) DeleteTask(ctx context.Context, tx *sql.Tx, id int64) error {
	res, err := r.exec(ctx, r.q(tx), `DELETE FROM validation_tasks WHERE id=?`, id)
	if err != nil {
		return err
	}
	return expectOne(res)
}
