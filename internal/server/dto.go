package server

import (
	"context"
	"encoding/json"
	"time"

	"ifcvalidation/internal/domain"
	"ifcvalidation/internal/engine"
	"ifcvalidation/internal/obfuscate"
)

// Request payloads

type CreateRequestRequest struct {
	FileName string `json:"file_name" minLength:"1"`
	Size     int64  `json:"size" minimum:"0"`
	File     string `json:"file,omitempty"`
}

type StatusChangeRequest struct {
	Status string `json:"status" enum:"PENDING,INITIATED,COMPLETED,FAILED"`
	Reason string `json:"reason,omitempty"`
}

type ProgressRequest struct {
	Progress int `json:"progress" minimum:"0" maximum:"100"`
}

type AttachModelRequest struct {
	ModelID string `json:"model_id" example:"m383446691"`
}

type RequeueRequest struct {
	IDs    []string `json:"ids" minItems:"1"`
	Reason string   `json:"reason,omitempty"`
}

type CreateTaskRequest struct {
	Type string `json:"type" enum:"SYNTAX,SCHEMA,MVD,BSDD,INFO,PREREQ,NORMATIVE_IA,NORMATIVE_IP,INDUSTRY,INST_COMPLETION"`
}

type TaskStatusRequest struct {
	Status string `json:"status" enum:"INITIATED,COMPLETED,FAILED,SKIPPED,N/A"`
	Reason string `json:"reason,omitempty"`
}

type ProcessDetailsRequest struct {
	ProcessID int64  `json:"process_id" minimum:"1"`
	Command   string `json:"command"`
}

type OutcomeRequest struct {
	InstanceID     *string         `json:"instance_id,omitempty"`
	Feature        *string         `json:"feature,omitempty"`
	FeatureVersion *int            `json:"feature_version,omitempty"`
	Severity       int             `json:"severity" minimum:"0" maximum:"4"`
	Code           string          `json:"outcome_code" maxLength:"10"`
	Expected       json.RawMessage `json:"expected,omitempty"`
	Observed       json.RawMessage `json:"observed,omitempty"`
}

type RecordOutcomesRequest struct {
	Outcomes []OutcomeRequest `json:"outcomes" minItems:"1"`
}

// Responses

type RequestResponse struct {
	ID           string     `json:"id" example:"r383446691"`
	FileName     string     `json:"file_name"`
	File         string     `json:"file"`
	Size         int64      `json:"size"`
	Status       string     `json:"status"`
	StatusReason *string    `json:"status_reason,omitempty"`
	Started      *time.Time `json:"started,omitempty"`
	Completed    *time.Time `json:"completed,omitempty"`
	Duration     *float64   `json:"duration_seconds,omitempty"`
	Progress     int        `json:"progress"`
	ModelID      string     `json:"model_id,omitempty"`
	Deleted      bool       `json:"deleted"`
	Created      time.Time  `json:"created"`
	CreatedBy    string     `json:"created_by"`
	Updated      *time.Time `json:"updated,omitempty"`
	UpdatedBy    string     `json:"updated_by,omitempty"`
}

type RequestList struct {
	Items      []RequestResponse `json:"items"`
	NextCursor string            `json:"next_cursor,omitempty"`
}

type TaskResponse struct {
	ID           string     `json:"id" example:"t383446691"`
	RequestID    string     `json:"request_id"`
	Type         string     `json:"type"`
	TypeLabel    string     `json:"type_label"`
	Status       string     `json:"status"`
	StatusReason *string    `json:"status_reason,omitempty"`
	Started      *time.Time `json:"started,omitempty"`
	Ended        *time.Time `json:"ended,omitempty"`
	Duration     *float64   `json:"duration_seconds,omitempty"`
	Progress     int        `json:"progress"`
	ProcessID    *int64     `json:"process_id,omitempty"`
	ProcessCmd   *string    `json:"process_cmd,omitempty"`
	Created      time.Time  `json:"created"`
	Updated      *time.Time `json:"updated,omitempty"`
}

type TaskList struct {
	Items []TaskResponse `json:"items"`
}

type OutcomeResponse struct {
	ID             string          `json:"id" example:"o383446691"`
	TaskID         string          `json:"validation_task_id"`
	InstanceID     string          `json:"instance_id,omitempty"`
	Feature        *string         `json:"feature,omitempty"`
	FeatureVersion *int            `json:"feature_version,omitempty"`
	Severity       int             `json:"severity"`
	SeverityLabel  string          `json:"severity_label"`
	Code           string          `json:"outcome_code"`
	CodeLabel      string          `json:"outcome_label,omitempty"`
	Expected       json.RawMessage `json:"expected,omitempty"`
	Observed       json.RawMessage `json:"observed,omitempty"`
	Created        time.Time       `json:"created"`
}

type OutcomeList struct {
	Items []OutcomeResponse `json:"items"`
}

type AggregateResponse struct {
	TaskID string `json:"task_id"`
	Status string `json:"status" enum:"v,i,n,w,-"`
	Label  string `json:"label"`
}

type ModelResponse struct {
	ID                 string            `json:"id" example:"m383446691"`
	FileName           string            `json:"file_name"`
	File               string            `json:"file"`
	Size               int64             `json:"size"`
	ProducedBy         string            `json:"produced_by,omitempty"`
	ProducedByID       string            `json:"produced_by_id,omitempty"`
	RequestID          string            `json:"request_id,omitempty"`
	UploadedBy         string            `json:"uploaded_by"`
	License            string            `json:"license"`
	Date               *time.Time        `json:"date,omitempty"`
	Details            *string           `json:"details,omitempty"`
	Schema             *string           `json:"schema,omitempty"`
	MVD                *string           `json:"mvd,omitempty"`
	NumberOfElements   *int64            `json:"number_of_elements,omitempty"`
	NumberOfGeometries *int64            `json:"number_of_geometries,omitempty"`
	NumberOfProperties *int64            `json:"number_of_properties,omitempty"`
	Properties         json.RawMessage   `json:"properties,omitempty"`
	Statuses           map[string]string `json:"statuses"`
	Created            time.Time         `json:"created"`
	Updated            *time.Time        `json:"updated,omitempty"`
}

type ToolResponse struct {
	ID        string  `json:"id" example:"a383446691"`
	Name      string  `json:"name"`
	Version   *string `json:"version,omitempty"`
	CompanyID string  `json:"company_id,omitempty"`
	Company   string  `json:"company,omitempty"`
	FullName  string  `json:"full_name"`
}

type ToolList struct {
	Items []ToolResponse `json:"items"`
}

type CompanyResponse struct {
	ID      string     `json:"id" example:"c383446691"`
	Name    string     `json:"name"`
	Created time.Time  `json:"created"`
	Updated *time.Time `json:"updated,omitempty"`
}

type CompanyList struct {
	Items []CompanyResponse `json:"items"`
}

type ToolMatchResponse struct {
	Found     bool           `json:"found"`
	Ambiguous bool           `json:"ambiguous"`
	Tools     []ToolResponse `json:"tools"`
}

type IDResponse struct {
	PublicID string `json:"public_id"`
	Kind     string `json:"kind"`
}

type EventResponse struct {
	TS         string          `json:"ts"`
	Type       string          `json:"type"`
	EntityKind string          `json:"entity_kind"`
	EntityID   string          `json:"entity_id,omitempty"`
	ActorID    string          `json:"actor_id"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

type EventList struct {
	Items []EventResponse `json:"items"`
}

// mapper renders entities with public ids only.
type mapper struct {
	ids obfuscate.Obfuscator
	now time.Time
}

func newMapper(e engine.Engine) mapper {
	now := time.Now().UTC()
	if e.Now != nil {
		now = e.Now().UTC()
	}
	return mapper{ids: e.IDs, now: now}
}

func (m mapper) id(kind obfuscate.Kind, id int64) string {
	s, _ := m.ids.Encode(kind, id)
	return s
}

func (m mapper) optID(kind obfuscate.Kind, id *int64) string {
	if id == nil {
		return ""
	}
	return m.id(kind, *id)
}

func seconds(d *time.Duration) *float64 {
	if d == nil {
		return nil
	}
	s := d.Seconds()
	return &s
}

func (m mapper) request(r domain.Request) RequestResponse {
	return RequestResponse{
		ID:           m.id(obfuscate.Request, r.ID),
		FileName:     r.FileName,
		File:         r.File,
		Size:         r.Size,
		Status:       string(r.Status),
		StatusReason: r.StatusReason,
		Started:      r.Started,
		Completed:    r.Completed,
		Duration:     seconds(r.Duration(m.now)),
		Progress:     r.Progress,
		ModelID:      m.optID(obfuscate.Model, r.ModelID),
		Deleted:      r.IsDeleted(),
		Created:      r.Created,
		CreatedBy:    m.id(obfuscate.ActorKind, r.CreatedBy),
		Updated:      r.Updated,
		UpdatedBy:    m.optID(obfuscate.ActorKind, r.UpdatedBy),
	}
}

func (m mapper) requests(items []domain.Request) []RequestResponse {
	out := make([]RequestResponse, 0, len(items))
	for _, r := range items {
		out = append(out, m.request(r))
	}
	return out
}

func (m mapper) task(t domain.Task) TaskResponse {
	return TaskResponse{
		ID:           m.id(obfuscate.Task, t.ID),
		RequestID:    m.id(obfuscate.Request, t.RequestID),
		Type:         string(t.Type),
		TypeLabel:    t.Type.Label(),
		Status:       string(t.Status),
		StatusReason: t.StatusReason,
		Started:      t.Started,
		Ended:        t.Ended,
		Duration:     seconds(t.Duration(m.now)),
		Progress:     t.Progress,
		ProcessID:    t.ProcessID,
		ProcessCmd:   t.ProcessCmd,
		Created:      t.Created,
		Updated:      t.Updated,
	}
}

func (m mapper) tasks(items []domain.Task) []TaskResponse {
	out := make([]TaskResponse, 0, len(items))
	for _, t := range items {
		out = append(out, m.task(t))
	}
	return out
}

func (m mapper) outcome(o domain.Outcome) OutcomeResponse {
	label, _ := domain.OutcomeCodeLabel(o.Code)
	return OutcomeResponse{
		ID:             m.id(obfuscate.Outcome, o.ID),
		TaskID:         m.id(obfuscate.Task, o.TaskID),
		InstanceID:     m.optID(obfuscate.Instance, o.InstanceID),
		Feature:        o.Feature,
		FeatureVersion: o.FeatureVersion,
		Severity:       int(o.Severity),
		SeverityLabel:  o.Severity.String(),
		Code:           o.Code,
		CodeLabel:      label,
		Expected:       o.Expected,
		Observed:       o.Observed,
		Created:        o.Created,
	}
}

func (m mapper) outcomes(items []domain.Outcome) []OutcomeResponse {
	out := make([]OutcomeResponse, 0, len(items))
	for _, o := range items {
		out = append(out, m.outcome(o))
	}
	return out
}

func (m mapper) model(ctx context.Context, e engine.Engine, mo domain.Model) ModelResponse {
	resp := ModelResponse{
		ID:                 m.id(obfuscate.Model, mo.ID),
		FileName:           mo.FileName,
		File:               mo.File,
		Size:               mo.Size,
		UploadedBy:         m.id(obfuscate.ActorKind, mo.UploadedBy),
		License:            string(mo.License),
		Date:               mo.Date,
		Details:            mo.Details,
		Schema:             mo.IFCSchema,
		MVD:                mo.MVDName,
		NumberOfElements:   mo.NumberOfElements,
		NumberOfGeometries: mo.NumberOfGeometries,
		NumberOfProperties: mo.NumberOfProperties,
		Properties:         mo.Properties,
		Statuses:           map[string]string{},
		Created:            mo.Created,
		Updated:            mo.Updated,
	}
	for _, f := range domain.CheckFields {
		if s, ok := mo.Get(f); ok {
			resp.Statuses[string(f)] = string(s)
		}
	}
	if mo.ProducedByID != nil {
		resp.ProducedByID = m.id(obfuscate.Tool, *mo.ProducedByID)
		if t, err := e.Repo.GetTool(ctx, nil, *mo.ProducedByID); err == nil {
			resp.ProducedBy = t.FullName()
		}
	}
	if req, err := e.Repo.GetRequestByModel(ctx, mo.ID); err == nil {
		resp.RequestID = m.id(obfuscate.Request, req.ID)
	}
	return resp
}

func (m mapper) tool(t domain.AuthoringTool) ToolResponse {
	return ToolResponse{
		ID:        m.id(obfuscate.Tool, t.ID),
		Name:      t.Name,
		Version:   t.Version,
		CompanyID: m.optID(obfuscate.Company, t.CompanyID),
		Company:   t.CompanyName,
		FullName:  t.FullName(),
	}
}

func (m mapper) tools(items []domain.AuthoringTool) []ToolResponse {
	out := make([]ToolResponse, 0, len(items))
	for _, t := range items {
		out = append(out, m.tool(t))
	}
	return out
}

func (m mapper) toolMatch(match domain.ToolMatch) ToolMatchResponse {
	resp := ToolMatchResponse{Found: match.Found(), Ambiguous: len(match.Ambiguous) > 0, Tools: []ToolResponse{}}
	if match.Tool != nil {
		resp.Tools = append(resp.Tools, m.tool(*match.Tool))
	}
	resp.Tools = append(resp.Tools, m.tools(match.Ambiguous)...)
	return resp
}

func (m mapper) company(c domain.Company) CompanyResponse {
	return CompanyResponse{ID: m.id(obfuscate.Company, c.ID), Name: c.Name, Created: c.Created, Updated: c.Updated}
}

func (m mapper) companies(items []domain.Company) []CompanyResponse {
	out := make([]CompanyResponse, 0, len(items))
	for _, c := range items {
		out = append(out, m.company(c))
	}
	return out
}

func (m mapper) event(evt domain.Event) EventResponse {
	var payload json.RawMessage
	if evt.Payload != "" && json.Valid([]byte(evt.Payload)) {
		payload = json.RawMessage(evt.Payload)
	}
	return EventResponse{
		TS:         evt.TS,
		Type:       evt.Type,
		EntityKind: evt.EntityKind,
		EntityID:   evt.EntityID,
		ActorID:    m.id(obfuscate.ActorKind, evt.ActorID),
		Payload:    payload,
	}
}

// Presenter renders entities the way the API does, for callers outside the
// HTTP handlers such as the CLI.
type Presenter struct {
	e engine.Engine
	m mapper
}

func NewPresenter(e engine.Engine) Presenter {
	return Presenter{e: e, m: newMapper(e)}
}

func (p Presenter) Request(r domain.Request) RequestResponse { return p.m.request(r) }

func (p Presenter) Requests(items []domain.Request) []RequestResponse { return p.m.requests(items) }

func (p Presenter) Task(t domain.Task) TaskResponse { return p.m.task(t) }

func (p Presenter) Tasks(items []domain.Task) []TaskResponse { return p.m.tasks(items) }

func (p Presenter) Outcomes(items []domain.Outcome) []OutcomeResponse { return p.m.outcomes(items) }

func (p Presenter) Event(evt domain.Event) EventResponse { return p.m.event(evt) }

func (p Presenter) Tool(t domain.AuthoringTool) ToolResponse { return p.m.tool(t) }

func (p Presenter) Tools(items []domain.AuthoringTool) []ToolResponse { return p.m.tools(items) }

func (p Presenter) ToolMatch(match domain.ToolMatch) ToolMatchResponse { return p.m.toolMatch(match) }

func (p Presenter) Company(c domain.Company) CompanyResponse { return p.m.company(c) }

func (p Presenter) Companies(items []domain.Company) []CompanyResponse { return p.m.companies(items) }

func (p Presenter) Model(ctx context.Context, mo domain.Model) ModelResponse {
	return p.m.model(ctx, p.e, mo)
}
