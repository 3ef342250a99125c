package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"ifcvalidation/internal/audit"
)

var (
	ErrInvalidArgument    = errors.New("invalid argument")
	ErrInvalidOutcomeCode = errors.New("invalid outcome code")
)

type Company struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
	audit.Timestamps
}

type AuthoringTool struct {
	ID          int64   `json:"id"`
	Name        string  `json:"name"`
	Version     *string `json:"version,omitempty"`
	CompanyID   *int64  `json:"company_id,omitempty"`
	CompanyName string  `json:"company_name,omitempty"`
	audit.Timestamps
}

// CheckField names one of the per-check status columns of a Model.
type CheckField string

const (
	CheckBSDD              CheckField = "bsdd"
	CheckIA                CheckField = "ia"
	CheckIP                CheckField = "ip"
	CheckIDS               CheckField = "ids"
	CheckMVD               CheckField = "mvd"
	CheckSchema            CheckField = "schema"
	CheckSyntax            CheckField = "syntax"
	CheckIndustryPractices CheckField = "industry_practices"
	CheckPrereq            CheckField = "prereq"
)

var CheckFields = []CheckField{
	CheckBSDD, CheckIA, CheckIP, CheckIDS, CheckMVD, CheckSchema, CheckSyntax, CheckIndustryPractices, CheckPrereq,
}

type ModelStatuses struct {
	BSDD              ModelStatus `json:"status_bsdd"`
	IA                ModelStatus `json:"status_ia"`
	IP                ModelStatus `json:"status_ip"`
	IDS               ModelStatus `json:"status_ids"`
	MVD               ModelStatus `json:"status_mvd"`
	Schema            ModelStatus `json:"status_schema"`
	Syntax            ModelStatus `json:"status_syntax"`
	IndustryPractices ModelStatus `json:"status_industry_practices"`
	Prereq            ModelStatus `json:"status_prereq"`
}

func (s *ModelStatuses) field(f CheckField) *ModelStatus {
	switch f {
	case CheckBSDD:
		return &s.BSDD
	case CheckIA:
		return &s.IA
	case CheckIP:
		return &s.IP
	case CheckIDS:
		return &s.IDS
	case CheckMVD:
		return &s.MVD
	case CheckSchema:
		return &s.Schema
	case CheckSyntax:
		return &s.Syntax
	case CheckIndustryPractices:
		return &s.IndustryPractices
	case CheckPrereq:
		return &s.Prereq
	}
	return nil
}

func (s ModelStatuses) Get(f CheckField) (ModelStatus, bool) {
	p := s.field(f)
	if p == nil {
		return "", false
	}
	return *p, true
}

func (s *ModelStatuses) Set(f CheckField, v ModelStatus) error {
	if !v.Valid() {
		return fmt.Errorf("%w: model status %q", ErrInvalidArgument, v)
	}
	p := s.field(f)
	if p == nil {
		return fmt.Errorf("%w: unknown check %q", ErrInvalidArgument, f)
	}
	*p = v
	return nil
}

// Reset marks every check as not validated.
func (s *ModelStatuses) Reset() {
	for _, f := range CheckFields {
		*s.field(f) = StatusNotValidated
	}
}

func NewModelStatuses() ModelStatuses {
	var s ModelStatuses
	s.Reset()
	return s
}

type Model struct {
	ID                 int64           `json:"id"`
	FileName           string          `json:"file_name"`
	File               string          `json:"file"`
	Size               int64           `json:"size"`
	ProducedByID       *int64          `json:"produced_by,omitempty"`
	UploadedBy         int64           `json:"uploaded_by"`
	License            License         `json:"license"`
	Date               *time.Time      `json:"date,omitempty" format:"date-time"`
	Details            *string         `json:"details,omitempty"`
	IFCSchema          *string         `json:"schema,omitempty"`
	MVDName            *string         `json:"mvd,omitempty"`
	NumberOfElements   *int64          `json:"number_of_elements,omitempty"`
	NumberOfGeometries *int64          `json:"number_of_geometries,omitempty"`
	NumberOfProperties *int64          `json:"number_of_properties,omitempty"`
	Properties         json.RawMessage `json:"properties,omitempty"`
	ModelStatuses
	audit.Timestamps
}

// ResetStatus puts every check back to not validated.
func (m *Model) ResetStatus() { m.ModelStatuses.Reset() }

type ModelInstance struct {
	ID         int64           `json:"id"`
	ModelID    int64           `json:"model_id"`
	StepfileID int64           `json:"stepfile_id"`
	IFCType    string          `json:"ifc_type"`
	Fields     json.RawMessage `json:"fields,omitempty"`
	audit.Timestamps
}

type Request struct {
	ID           int64         `json:"id"`
	FileName     string        `json:"file_name"`
	File         string        `json:"file"`
	Size         int64         `json:"size"`
	Status       RequestStatus `json:"status"`
	StatusReason *string       `json:"status_reason,omitempty"`
	Started      *time.Time    `json:"started,omitempty" format:"date-time"`
	Completed    *time.Time    `json:"completed,omitempty" format:"date-time"`
	Progress     int           `json:"progress"`
	ModelID      *int64        `json:"model_id,omitempty"`
	Deletion     DeletionState `json:"deletion"`
	audit.Timestamps
	audit.Attribution
}

type Task struct {
	ID           int64      `json:"id"`
	RequestID    int64      `json:"request_id"`
	Type         TaskType   `json:"type"`
	Status       TaskStatus `json:"status"`
	StatusReason *string    `json:"status_reason,omitempty"`
	Started      *time.Time `json:"started,omitempty" format:"date-time"`
	Ended        *time.Time `json:"ended,omitempty" format:"date-time"`
	Progress     int        `json:"progress"`
	ProcessID    *int64     `json:"process_id,omitempty"`
	ProcessCmd   *string    `json:"process_cmd,omitempty"`
	audit.Timestamps
}

type Outcome struct {
	ID             int64           `json:"id"`
	TaskID         int64           `json:"validation_task_id"`
	InstanceID     *int64          `json:"instance_id,omitempty"`
	Feature        *string         `json:"feature,omitempty"`
	FeatureVersion *int            `json:"feature_version,omitempty"`
	Severity       Severity        `json:"severity"`
	Code           string          `json:"outcome_code"`
	Expected       json.RawMessage `json:"expected,omitempty"`
	Observed       json.RawMessage `json:"observed,omitempty"`
	audit.Timestamps
}

// User is a registered actor that may be bound to a unit of work.
type User struct {
	ID       int64     `json:"id"`
	Username string    `json:"username"`
	IsActive bool      `json:"is_active"`
	Created  time.Time `json:"created" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    int64  `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type APIKey struct {
	ID        string `json:"id"`
	ActorID   int64  `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
