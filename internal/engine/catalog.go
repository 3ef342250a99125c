package engine

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"ifcvalidation/internal/domain"
	"ifcvalidation/internal/events"
	"ifcvalidation/internal/obfuscate"
	"ifcvalidation/internal/repo"
)

func (e Engine) CreateCompany(ctx context.Context, name string) (domain.Company, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return domain.Company{}, fmt.Errorf("%w: company name is required", domain.ErrInvalidArgument)
	}
	var c domain.Company
	err := e.inTx(ctx, func(tx *sql.Tx) error {
		var err error
		c, err = e.insertCompany(ctx, tx, name)
		return err
	})
	return c, err
}

func (e Engine) insertCompany(ctx context.Context, tx *sql.Tx, name string) (domain.Company, error) {
	c := domain.Company{Name: name}
	a, err := e.stamper().OnCreate(ctx, &c)
	if err != nil {
		return c, err
	}
	if err := e.Repo.InsertCompany(ctx, tx, &c); err != nil {
		return c, err
	}
	return c, e.events().Append(ctx, tx, "company.created", "company", e.publicID(obfuscate.Company, c.ID), a.ID, events.EventPayload{"name": c.Name})
}

func (e Engine) RenameCompany(ctx context.Context, id int64, name string) (domain.Company, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return domain.Company{}, fmt.Errorf("%w: company name is required", domain.ErrInvalidArgument)
	}
	c, err := e.Repo.GetCompany(ctx, id)
	if err != nil {
		return c, wrapNotFound("company", err)
	}
	old := c.Name
	c.Name = name
	a, err := e.stamper().OnUpdate(ctx, &c)
	if err != nil {
		return domain.Company{}, err
	}
	err = e.inTx(ctx, func(tx *sql.Tx) error {
		if err := e.Repo.UpdateCompany(ctx, tx, &c); err != nil {
			return err
		}
		return e.events().Append(ctx, tx, "company.renamed", "company", e.publicID(obfuscate.Company, c.ID), a.ID, events.EventPayload{"from": old, "to": name})
	})
	return c, err
}

// DeleteCompany keeps the company's tools, which lose their company.
func (e Engine) DeleteCompany(ctx context.Context, id int64) error {
	a, err := requireActor(ctx)
	if err != nil {
		return err
	}
	return e.inTx(ctx, func(tx *sql.Tx) error {
		if err := e.Repo.DeleteCompany(ctx, tx, id); err != nil {
			return wrapNotFound("company", err)
		}
		return e.events().Append(ctx, tx, "company.deleted", "company", e.publicID(obfuscate.Company, id), a.ID, nil)
	})
}

type ToolCreateOptions struct {
	Name    string
	Version string
	// Company is resolved by name and created when missing.
	Company string
}

// CreateTool registers an authoring tool. A second tool with the same name and
// version fails with repo.ErrConstraintViolation.
func (e Engine) CreateTool(ctx context.Context, opts ToolCreateOptions) (domain.AuthoringTool, error) {
	name := strings.TrimSpace(opts.Name)
	if name == "" {
		return domain.AuthoringTool{}, fmt.Errorf("%w: tool name is required", domain.ErrInvalidArgument)
	}
	version := strings.TrimSpace(opts.Version)
	t := domain.AuthoringTool{Name: name, Version: domain.NormalizeVersion(&version)}
	err := e.inTx(ctx, func(tx *sql.Tx) error {
		if company := strings.TrimSpace(opts.Company); company != "" {
			c, err := e.Repo.GetCompanyByName(ctx, tx, company)
			if errors.Is(err, repo.ErrNotFound) {
				c, err = e.insertCompany(ctx, tx, company)
			}
			if err != nil {
				return err
			}
			t.CompanyID = &c.ID
			t.CompanyName = c.Name
		}
		a, err := e.stamper().OnCreate(ctx, &t)
		if err != nil {
			return err
		}
		if err := e.Repo.InsertTool(ctx, tx, &t); err != nil {
			return err
		}
		return e.events().Append(ctx, tx, "tool.created", "authoring_tool", e.publicID(obfuscate.Tool, t.ID), a.ID, events.EventPayload{
			"full_name": t.FullName(),
		})
	})
	if err != nil {
		return domain.AuthoringTool{}, err
	}
	e.log().Info("authoring tool created", "full_name", t.FullName())
	return t, nil
}

// ToolUpdateOptions changes only the fields that are set. An empty Company
// detaches the tool from its vendor.
type ToolUpdateOptions struct {
	Name    *string
	Version *string
	Company *string
}

func (e Engine) UpdateTool(ctx context.Context, id int64, opts ToolUpdateOptions) (domain.AuthoringTool, error) {
	var t domain.AuthoringTool
	err := e.inTx(ctx, func(tx *sql.Tx) error {
		var err error
		if t, err = e.Repo.GetTool(ctx, tx, id); err != nil {
			return wrapNotFound("authoring tool", err)
		}
		before := t.FullName()
		if opts.Name != nil {
			name := strings.TrimSpace(*opts.Name)
			if name == "" {
				return fmt.Errorf("%w: tool name is required", domain.ErrInvalidArgument)
			}
			t.Name = name
		}
		if opts.Version != nil {
			t.Version = domain.NormalizeVersion(opts.Version)
		}
		if opts.Company != nil {
			t.CompanyID, t.CompanyName = nil, ""
			if company := strings.TrimSpace(*opts.Company); company != "" {
				c, err := e.Repo.GetCompanyByName(ctx, tx, company)
				if errors.Is(err, repo.ErrNotFound) {
					c, err = e.insertCompany(ctx, tx, company)
				}
				if err != nil {
					return err
				}
				t.CompanyID, t.CompanyName = &c.ID, c.Name
			}
		}
		a, err := e.stamper().OnUpdate(ctx, &t)
		if err != nil {
			return err
		}
		if err := e.Repo.UpdateTool(ctx, tx, &t); err != nil {
			return err
		}
		return e.events().Append(ctx, tx, "tool.updated", "authoring_tool", e.publicID(obfuscate.Tool, t.ID), a.ID, events.EventPayload{
			"from": before,
			"to":   t.FullName(),
		})
	})
	if err != nil {
		return domain.AuthoringTool{}, err
	}
	return t, nil
}

func (e Engine) ResolveTool(ctx context.Context, fullName string) (domain.ToolMatch, error) {
	return e.Repo.FindToolByFullName(ctx, fullName)
}

// DeleteTool keeps models produced by the tool; their producer is cleared.
func (e Engine) DeleteTool(ctx context.Context, id int64) error {
	a, err := requireActor(ctx)
	if err != nil {
		return err
	}
	return e.inTx(ctx, func(tx *sql.Tx) error {
		if err := e.Repo.DeleteTool(ctx, tx, id); err != nil {
			return wrapNotFound("authoring tool", err)
		}
		return e.events().Append(ctx, tx, "tool.deleted", "authoring_tool", e.publicID(obfuscate.Tool, id), a.ID, nil)
	})
}

type ModelCreateOptions struct {
	FileName   string
	File       string
	Size       int64
	ProducedBy *int64
	License    domain.License
	Date       *time.Time
	Details    string
}

// CreateModel registers a parsed model; the bound actor becomes its uploader.
func (e Engine) CreateModel(ctx context.Context, opts ModelCreateOptions) (domain.Model, error) {
	a, err := requireActor(ctx)
	if err != nil {
		return domain.Model{}, err
	}
	file := opts.File
	if file == "" {
		file = StoredFileName(opts.FileName)
	}
	m, err := domain.NewModel(opts.FileName, file, opts.Size, a.ID)
	if err != nil {
		return domain.Model{}, err
	}
	if opts.License != "" {
		m.License = opts.License
	}
	m.ProducedByID = opts.ProducedBy
	m.Date = opts.Date
	if opts.Details != "" {
		d := opts.Details
		m.Details = &d
	}
	if _, err := e.stamper().OnCreate(ctx, &m); err != nil {
		return domain.Model{}, err
	}
	err = e.inTx(ctx, func(tx *sql.Tx) error {
		if err := e.Repo.InsertModel(ctx, tx, &m); err != nil {
			return err
		}
		return e.events().Append(ctx, tx, "model.created", "model", e.publicID(obfuscate.Model, m.ID), a.ID, events.EventPayload{
			"file_name": m.FileName,
			"license":   m.License,
		})
	})
	if err != nil {
		return domain.Model{}, err
	}
	return m, nil
}

// ModelInfo is the header and count data extracted when a model is parsed.
type ModelInfo struct {
	Schema             *string
	MVD                *string
	NumberOfElements   *int64
	NumberOfGeometries *int64
	NumberOfProperties *int64
	Properties         any
	ProducedBy         *int64
}

func (e Engine) SetModelInfo(ctx context.Context, id int64, info ModelInfo) (domain.Model, error) {
	var props json.RawMessage
	if info.Properties != nil {
		b, err := json.Marshal(info.Properties)
		if err != nil {
			return domain.Model{}, fmt.Errorf("%w: %v", domain.ErrInvalidArgument, err)
		}
		props = b
	}
	return e.mutateModel(ctx, id, "model.info", func(m *domain.Model) error {
		if info.Schema != nil {
			m.IFCSchema = info.Schema
		}
		if info.MVD != nil {
			m.MVDName = info.MVD
		}
		if info.NumberOfElements != nil {
			m.NumberOfElements = info.NumberOfElements
		}
		if info.NumberOfGeometries != nil {
			m.NumberOfGeometries = info.NumberOfGeometries
		}
		if info.NumberOfProperties != nil {
			m.NumberOfProperties = info.NumberOfProperties
		}
		if props != nil {
			m.Properties = props
		}
		if info.ProducedBy != nil {
			m.ProducedByID = info.ProducedBy
		}
		return nil
	})
}

// ResetModelStatus puts every check of the model back to not validated.
func (e Engine) ResetModelStatus(ctx context.Context, id int64) (domain.Model, error) {
	return e.mutateModel(ctx, id, "model.status.reset", func(m *domain.Model) error {
		m.ResetStatus()
		return nil
	})
}

func (e Engine) mutateModel(ctx context.Context, id int64, evtType string, fn func(*domain.Model) error) (domain.Model, error) {
	var m domain.Model
	err := e.inTx(ctx, func(tx *sql.Tx) error {
		var err error
		m, err = e.Repo.GetModel(ctx, tx, id, true)
		if err != nil {
			return wrapNotFound("model", err)
		}
		if err := fn(&m); err != nil {
			return err
		}
		a, err := e.stamper().OnUpdate(ctx, &m)
		if err != nil {
			return err
		}
		if err := e.Repo.UpdateModel(ctx, tx, &m); err != nil {
			return err
		}
		return e.events().Append(ctx, tx, evtType, "model", e.publicID(obfuscate.Model, m.ID), a.ID, nil)
	})
	if err != nil {
		return domain.Model{}, err
	}
	return m, nil
}

// DeleteModel removes the model with its instances and their outcomes.
// A request that produced the model keeps existing without it.
func (e Engine) DeleteModel(ctx context.Context, id int64) error {
	a, err := requireActor(ctx)
	if err != nil {
		return err
	}
	return e.inTx(ctx, func(tx *sql.Tx) error {
		if err := e.Repo.DeleteModel(ctx, tx, id); err != nil {
			return wrapNotFound("model", err)
		}
		return e.events().Append(ctx, tx, "model.deleted", "model", e.publicID(obfuscate.Model, id), a.ID, nil)
	})
}

func (e Engine) CreateInstance(ctx context.Context, modelID, stepfileID int64, ifcType string, fields any) (domain.ModelInstance, error) {
	mi, err := domain.NewModelInstance(modelID, stepfileID, ifcType)
	if err != nil {
		return domain.ModelInstance{}, err
	}
	if fields != nil {
		b, err := json.Marshal(fields)
		if err != nil {
			return domain.ModelInstance{}, fmt.Errorf("%w: %v", domain.ErrInvalidArgument, err)
		}
		mi.Fields = b
	}
	a, err := e.stamper().OnCreate(ctx, &mi)
	if err != nil {
		return domain.ModelInstance{}, err
	}
	err = e.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := e.Repo.GetModel(ctx, tx, modelID, false); err != nil {
			return wrapNotFound("model", err)
		}
		if err := e.Repo.InsertInstance(ctx, tx, &mi); err != nil {
			return err
		}
		return e.events().Append(ctx, tx, "instance.created", "model_instance", e.publicID(obfuscate.Instance, mi.ID), a.ID, events.EventPayload{
			"model_id":    e.publicID(obfuscate.Model, modelID),
			"stepfile_id": mi.StepfileID,
			"ifc_type":    mi.IFCType,
		})
	})
	if err != nil {
		return domain.ModelInstance{}, err
	}
	return mi, nil
}

// DeleteInstance removes the instance and every outcome that references it.
func (e Engine) DeleteInstance(ctx context.Context, id int64) error {
	a, err := requireActor(ctx)
	if err != nil {
		return err
	}
	return e.inTx(ctx, func(tx *sql.Tx) error {
		if err := e.Repo.DeleteInstance(ctx, tx, id); err != nil {
			return wrapNotFound("model instance", err)
		}
		return e.events().Append(ctx, tx, "instance.deleted", "model_instance", e.publicID(obfuscate.Instance, id), a.ID, nil)
	})
}
