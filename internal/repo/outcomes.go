package repo

import (
	"context"
	"database/sql"
	"fmt"

	"ifcvalidation/internal/audit"
	"ifcvalidation/internal/domain"
)

const outcomeColumns = `id,task_id,instance_id,feature,feature_version,severity,outcome_code,expected,observed,created,updated`

func (r Repo) InsertOutcome(ctx context.Context, tx *sql.Tx, o *domain.Outcome) error {
	if err := audit.Require(o, audit.OpCreate); err != nil {
		return err
	}
	if err := domain.ValidateOutcomeCode(o.Severity, o.Code); err != nil {
		return err
	}
	var version any
	if o.FeatureVersion != nil {
		version = *o.FeatureVersion
	}
	id, err := r.insert(ctx, r.q(tx), `INSERT INTO validation_outcomes(task_id,instance_id,feature,feature_version,severity,outcome_code,expected,observed,created,updated)
VALUES (?,?,?,?,?,?,?,?,?,?)`,
		o.TaskID, nullableInt(o.InstanceID), nullableStr(o.Feature), version, int(o.Severity), o.Code,
		nullableJSON(o.Expected), nullableJSON(o.Observed), formatTime(o.Created), nullableTime(o.Updated))
	if err != nil {
		return fmt.Errorf("insert outcome: %w", err)
	}
	o.ID = id
	return nil
}

func scanOutcome(s scanner) (domain.Outcome, error) {
	var o domain.Outcome
	var instanceID, version sql.NullInt64
	var feature, expected, observed, updated sql.NullString
	var severity int
	var created string
	if err := s.Scan(&o.ID, &o.TaskID, &instanceID, &feature, &version, &severity, &o.Code, &expected, &observed, &created, &updated); err != nil {
		if err == sql.ErrNoRows {
			return o, ErrNotFound
		}
		return o, err
	}
	o.InstanceID = intFromNull(instanceID)
	o.Feature = strFromNull(feature)
	if version.Valid {
		v := int(version.Int64)
		o.FeatureVersion = &v
	}
	o.Severity = domain.Severity(severity)
	o.Expected = jsonFromNull(expected)
	o.Observed = jsonFromNull(observed)
	var err error
	o.Created, o.Updated, err = auditTimes(created, updated)
	return o, err
}

func (r Repo) GetOutcome(ctx context.Context, id int64) (domain.Outcome, error) {
	return scanOutcome(r.queryRow(ctx, r.DB, `SELECT `+outcomeColumns+` FROM validation_outcomes WHERE id=?`, id))
}

// ListOutcomes returns the outcomes recorded by one task in insertion order.
func (r Repo) ListOutcomes(ctx context.Context, tx *sql.Tx, taskID int64) ([]domain.Outcome, error) {
	rows, err := r.query(ctx, r.q(tx), `SELECT `+outcomeColumns+` FROM validation_outcomes WHERE task_id=? ORDER BY id`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Outcome
	for rows.Next() {
		o, err := scanOutcome(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, o)
	}
	return res, rows.Err()
}

// TaskSeverities returns only the severity column of a task's outcomes.
func (r Repo) TaskSeverities(ctx context.Context, tx *sql.Tx, taskID int64) ([]domain.Severity, error) {
	rows, err := r.query(ctx, r.q(tx), `SELECT severity FROM validation_outcomes WHERE task_id=? ORDER BY id`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Severity
	for rows.Next() {
		var s int
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		res = append(res, domain.Severity(s))
	}
	return res, rows.Err()
}

func (r Repo) DeleteOutcome(ctx context.Context, tx *sql.Tx, id int64) error {
	res, err := r.exec(ctx, r.q(tx), `DELETE FROM validation_outcomes WHERE id=?`, id)
	if err != nil {
		return err
	}
	return expectOne(res)
}
