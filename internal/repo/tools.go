package repo

import (
	"context"
	"database/sql"
	"fmt"

	"ifcvalidation/internal/audit"
	"ifcvalidation/internal/domain"
)

func (r Repo) InsertCompany(ctx context.Context, tx *sql.Tx, c *domain.Company) error {
	if err := audit.Require(c, audit.OpCreate); err != nil {
		return err
	}
	id, err := r.insert(ctx, r.q(tx), `INSERT INTO companies(name,created,updated) VALUES (?,?,?)`,
		c.Name, formatTime(c.Created), nullableTime(c.Updated))
	if err != nil {
		return fmt.Errorf("insert company: %w", err)
	}
	c.ID = id
	return nil
}

func (r Repo) UpdateCompany(ctx context.Context, tx *sql.Tx, c *domain.Company) error {
	if err := audit.Require(c, audit.OpUpdate); err != nil {
		return err
	}
	res, err := r.exec(ctx, r.q(tx), `UPDATE companies SET name=?, updated=? WHERE id=?`, c.Name, nullableTime(c.Updated), c.ID)
	if err != nil {
		return fmt.Errorf("update company: %w", err)
	}
	return expectOne(res)
}

func scanCompany(s scanner) (domain.Company, error) {
	var c domain.Company
	var created string
	var updated sql.NullString
	if err := s.Scan(&c.ID, &c.Name, &created, &updated); err != nil {
		if err == sql.ErrNoRows {
			return c, ErrNotFound
		}
		return c, err
	}
	var err error
	c.Created, c.Updated, err = auditTimes(created, updated)
	return c, err
}

const companyColumns = `id,name,created,updated`

func (r Repo) GetCompany(ctx context.Context, id int64) (domain.Company, error) {
	return scanCompany(r.queryRow(ctx, r.DB, `SELECT `+companyColumns+` FROM companies WHERE id=?`, id))
}

func (r Repo) GetCompanyByName(ctx context.Context, tx *sql.Tx, name string) (domain.Company, error) {
	return scanCompany(r.queryRow(ctx, r.q(tx), `SELECT `+companyColumns+` FROM companies WHERE name=?`, name))
}

func (r Repo) ListCompanies(ctx context.Context) ([]domain.Company, error) {
	rows, err := r.query(ctx, r.DB, `SELECT `+companyColumns+` FROM companies ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Company
	for rows.Next() {
		c, err := scanCompany(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

// DeleteCompany removes the company; its tools keep existing without a company.
func (r Repo) DeleteCompany(ctx context.Context, tx *sql.Tx, id int64) error {
	res, err := r.exec(ctx, r.q(tx), `DELETE FROM companies WHERE id=?`, id)
	if err != nil {
		return err
	}
	return expectOne(res)
}

func (r Repo) InsertTool(ctx context.Context, tx *sql.Tx, t *domain.AuthoringTool) error {
	if err := audit.Require(t, audit.OpCreate); err != nil {
		return err
	}
	t.Version = domain.NormalizeVersion(t.Version)
	id, err := r.insert(ctx, r.q(tx), `INSERT INTO authoring_tools(company_id,name,version,created,updated) VALUES (?,?,?,?,?)`,
		nullableInt(t.CompanyID), t.Name, nullableStr(t.Version), formatTime(t.Created), nullableTime(t.Updated))
	if err != nil {
		return fmt.Errorf("insert authoring tool: %w", err)
	}
	t.ID = id
	return nil
}

func (r Repo) UpdateTool(ctx context.Context, tx *sql.Tx, t *domain.AuthoringTool) error {
	if err := audit.Require(t, audit.OpUpdate); err != nil {
		return err
	}
	t.Version = domain.NormalizeVersion(t.Version)
	res, err := r.exec(ctx, r.q(tx), `UPDATE authoring_tools SET company_id=?, name=?, version=?, updated=? WHERE id=?`,
		nullableInt(t.CompanyID), t.Name, nullableStr(t.Version), nullableTime(t.Updated), t.ID)
	if err != nil {
		return fmt.Errorf("update authoring tool: %w", err)
	}
	return expectOne(res)
}

const toolSelect = `SELECT t.id,t.company_id,COALESCE(c.name,''),t.name,t.version,t.created,t.updated
FROM authoring_tools t LEFT JOIN companies c ON c.id=t.company_id`

func scanTool(s scanner) (domain.AuthoringTool, error) {
	var t domain.AuthoringTool
	var companyID sql.NullInt64
	var version, updated sql.NullString
	var created string
	if err := s.Scan(&t.ID, &companyID, &t.CompanyName, &t.Name, &version, &created, &updated); err != nil {
		if err == sql.ErrNoRows {
			return t, ErrNotFound
		}
		return t, err
	}
	t.CompanyID = intFromNull(companyID)
	t.Version = strFromNull(version)
	var err error
	t.Created, t.Updated, err = auditTimes(created, updated)
	return t, err
}

func (r Repo) GetTool(ctx context.Context, tx *sql.Tx, id int64) (domain.AuthoringTool, error) {
	return scanTool(r.queryRow(ctx, r.q(tx), toolSelect+` WHERE t.id=?`, id))
}

func (r Repo) ListTools(ctx context.Context) ([]domain.AuthoringTool, error) {
	rows, err := r.query(ctx, r.DB, toolSelect+` ORDER BY t.id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.AuthoringTool
	for rows.Next() {
		t, err := scanTool(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

// FindToolByFullName loads every tool and matches name against each full name.
func (r Repo) FindToolByFullName(ctx context.Context, name string) (domain.ToolMatch, error) {
	tools, err := r.ListTools(ctx)
	if err != nil {
		return domain.ToolMatch{}, err
	}
	return domain.FindByFullName(tools, name), nil
}

func (r Repo) DeleteTool(ctx context.Context, tx *sql.Tx, id int64) error {
	res, err := r.exec(ctx, r.q(tx), `DELETE FROM authoring_tools WHERE id=?`, id)
	if err != nil {
		return err
	}
	return expectOne(res)
}
