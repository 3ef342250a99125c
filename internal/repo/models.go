package repo

import (
	"context"
	"database/sql"
	"fmt"

	"ifcvalidation/internal/audit"
	"ifcvalidation/internal/domain"
)

const modelColumns = `id,produced_by,uploaded_by,file_name,file,size,license,date,details,ifc_schema,mvd,
number_of_elements,number_of_geometries,number_of_properties,properties,
status_bsdd,status_ia,status_ip,status_ids,status_mvd,status_schema,status_syntax,status_industry_practices,status_prereq,
created,updated`

func (r Repo) InsertModel(ctx context.Context, tx *sql.Tx, m *domain.Model) error {
	if err := audit.Require(m, audit.OpCreate); err != nil {
		return err
	}
	if !m.License.Valid() {
		return fmt.Errorf("%w: license %q", domain.ErrInvalidArgument, m.License)
	}
	id, err := r.insert(ctx, r.q(tx), `INSERT INTO models(produced_by,uploaded_by,file_name,file,size,license,date,details,ifc_schema,mvd,
number_of_elements,number_of_geometries,number_of_properties,properties,
status_bsdd,status_ia,status_ip,status_ids,status_mvd,status_schema,status_syntax,status_industry_practices,status_prereq,
created,updated) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`, modelValues(m)...)
	if err != nil {
		return fmt.Errorf("insert model: %w", err)
	}
	m.ID = id
	return nil
}

func (r Repo) UpdateModel(ctx context.Context, tx *sql.Tx, m *domain.Model) error {
	if err := audit.Require(m, audit.OpUpdate); err != nil {
		return err
	}
	if !m.License.Valid() {
		return fmt.Errorf("%w: license %q", domain.ErrInvalidArgument, m.License)
	}
	args := append(modelValues(m), m.ID)
	res, err := r.exec(ctx, r.q(tx), `UPDATE models SET produced_by=?,uploaded_by=?,file_name=?,file=?,size=?,license=?,date=?,details=?,ifc_schema=?,mvd=?,
number_of_elements=?,number_of_geometries=?,number_of_properties=?,properties=?,
status_bsdd=?,status_ia=?,status_ip=?,status_ids=?,status_mvd=?,status_schema=?,status_syntax=?,status_industry_practices=?,status_prereq=?,
created=?,updated=? WHERE id=?`, args...)
	if err != nil {
		return fmt.Errorf("update model: %w", err)
	}
	return expectOne(res)
}

func modelValues(m *domain.Model) []any {
	s := m.ModelStatuses
	return []any{
		nullableInt(m.ProducedByID), m.UploadedBy, m.FileName, m.File, m.Size, string(m.License),
		nullableTime(m.Date), nullableStr(m.Details), nullableStr(m.IFCSchema), nullableStr(m.MVDName),
		nullableInt(m.NumberOfElements), nullableInt(m.NumberOfGeometries), nullableInt(m.NumberOfProperties),
		nullableJSON(m.Properties),
		string(s.BSDD), string(s.IA), string(s.IP), string(s.IDS), string(s.MVD),
		string(s.Schema), string(s.Syntax), string(s.IndustryPractices), string(s.Prereq),
		formatTime(m.Created), nullableTime(m.Updated),
	}
}

func scanModel(sc scanner) (domain.Model, error) {
	var m domain.Model
	var producedBy, elements, geometries, properties sql.NullInt64
	var date, details, schema, mvd, props, updated sql.NullString
	var license, created string
	var st [9]string
	err := sc.Scan(&m.ID, &producedBy, &m.UploadedBy, &m.FileName, &m.File, &m.Size, &license, &date, &details, &schema, &mvd,
		&elements, &geometries, &properties, &props,
		&st[0], &st[1], &st[2], &st[3], &st[4], &st[5], &st[6], &st[7], &st[8],
		&created, &updated)
	if err == sql.ErrNoRows {
		return m, ErrNotFound
	}
	if err != nil {
		return m, err
	}
	m.ProducedByID = intFromNull(producedBy)
	m.License = domain.License(license)
	if m.Date, err = timeFromNull(date); err != nil {
		return m, err
	}
	m.Details = strFromNull(details)
	m.IFCSchema = strFromNull(schema)
	m.MVDName = strFromNull(mvd)
	m.NumberOfElements = intFromNull(elements)
	m.NumberOfGeometries = intFromNull(geometries)
	m.NumberOfProperties = intFromNull(properties)
	m.Properties = jsonFromNull(props)
	m.ModelStatuses = domain.ModelStatuses{
		BSDD: domain.ModelStatus(st[0]), IA: domain.ModelStatus(st[1]), IP: domain.ModelStatus(st[2]),
		IDS: domain.ModelStatus(st[3]), MVD: domain.ModelStatus(st[4]), Schema: domain.ModelStatus(st[5]),
		Syntax: domain.ModelStatus(st[6]), IndustryPractices: domain.ModelStatus(st[7]), Prereq: domain.ModelStatus(st[8]),
	}
	m.Created, m.Updated, err = auditTimes(created, updated)
	return m, err
}

// GetModel reads a model; with lock set the row is locked for the rest of tx where the dialect supports it.
func (r Repo) GetModel(ctx context.Context, tx *sql.Tx, id int64, lock bool) (domain.Model, error) {
	query := `SELECT ` + modelColumns + ` FROM models WHERE id=?`
	if lock {
		query += r.Dialect.ForUpdate()
	}
	return scanModel(r.queryRow(ctx, r.q(tx), query, id))
}

func (r Repo) ListModels(ctx context.Context, limit int) ([]domain.Model, error) {
	query := `SELECT ` + modelColumns + ` FROM models ORDER BY id DESC`
	var args []any
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := r.query(ctx, r.DB, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Model
	for rows.Next() {
		m, err := scanModel(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, m)
	}
	return res, rows.Err()
}

// DeleteModel removes the model with its instances and their outcomes.
func (r Repo) DeleteModel(ctx context.Context, tx *sql.Tx, id int64) error {
	res, err := r.exec(ctx, r.q(tx), `DELETE FROM models WHERE id=?`, id)
	if err != nil {
		return err
	}
	return expectOne(res)
}

func (r Repo) InsertInstance(ctx context.Context, tx *sql.Tx, mi *domain.ModelInstance) error {
	if err := audit.Require(mi, audit.OpCreate); err != nil {
		return err
	}
	id, err := r.insert(ctx, r.q(tx), `INSERT INTO model_instances(model_id,stepfile_id,ifc_type,fields,created,updated) VALUES (?,?,?,?,?,?)`,
		mi.ModelID, mi.StepfileID, mi.IFCType, nullableJSON(mi.Fields), formatTime(mi.Created), nullableTime(mi.Updated))
	if err != nil {
		return fmt.Errorf("insert model instance: %w", err)
	}
	mi.ID = id
	return nil
}

func (r Repo) UpdateInstance(ctx context.Context, tx *sql.Tx, mi *domain.ModelInstance) error {
	if err := audit.Require(mi, audit.OpUpdate); err != nil {
		return err
	}
	res, err := r.exec(ctx, r.q(tx), `UPDATE model_instances SET stepfile_id=?, ifc_type=?, fields=?, updated=? WHERE id=?`,
		mi.StepfileID, mi.IFCType, nullableJSON(mi.Fields), nullableTime(mi.Updated), mi.ID)
	if err != nil {
		return fmt.Errorf("update model instance: %w", err)
	}
	return expectOne(res)
}

const instanceColumns = `id,model_id,stepfile_id,ifc_type,fields,created,updated`

func scanInstance(s scanner) (domain.ModelInstance, error) {
	var mi domain.ModelInstance
	var fields, updated sql.NullString
	var created string
	if err := s.Scan(&mi.ID, &mi.ModelID, &mi.StepfileID, &mi.IFCType, &fields, &created, &updated); err != nil {
		if err == sql.ErrNoRows {
			return mi, ErrNotFound
		}
		return mi, err
	}
	mi.Fields = jsonFromNull(fields)
	var err error
	mi.Created, mi.Updated, err = auditTimes(created, updated)
	return mi, err
}

func (r Repo) GetInstance(ctx context.Context, tx *sql.Tx, id int64) (domain.ModelInstance, error) {
	return scanInstance(r.queryRow(ctx, r.q(tx), `SELECT `+instanceColumns+` FROM model_instances WHERE id=?`, id))
}

func (r Repo) ListInstances(ctx context.Context, modelID int64) ([]domain.ModelInstance, error) {
	rows, err := r.query(ctx, r.DB, `SELECT `+instanceColumns+` FROM model_instances WHERE model_id=? ORDER BY stepfile_id`, modelID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ModelInstance
	for rows.Next() {
		mi, err := scanInstance(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, mi)
	}
	return res, rows.Err()
}

// DeleteInstance removes the instance and every outcome that points at it.
func (r Repo) DeleteInstance(ctx context.Context, tx *sql.Tx, id int64) error {
	res, err := r.exec(ctx, r.q(tx), `DELETE FROM model_instances WHERE id=?`, id)
	if err != nil {
		return err
	}
	return expectOne(res)
}
