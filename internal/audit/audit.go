// Package audit stamps created/updated timestamps and actor attribution on entities.
//
// Entities embed Timestamps (and Attribution when they record who wrote them).
// The repository refuses to write a row unless the matching stamp was applied
// since the row was last persisted, so no write can bypass this package.
package audit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ifcvalidation/internal/actor"
)

var ErrUnstamped = errors.New("entity was not stamped by the audit layer")

type Op uint8

const (
	opNone Op = iota
	OpCreate
	OpUpdate
)

func (o Op) String() string {
	switch o {
	case OpCreate:
		return "create"
	case OpUpdate:
		return "update"
	default:
		return "none"
	}
}

type Timestamps struct {
	Created time.Time  `json:"created" format:"date-time"`
	Updated *time.Time `json:"updated,omitempty" format:"date-time"`

	pending Op
}

func (t *Timestamps) AuditTimestamps() *Timestamps { return t }

type Attribution struct {
	CreatedBy int64  `json:"created_by"`
	UpdatedBy *int64 `json:"updated_by,omitempty"`
}

func (a *Attribution) AuditAttribution() *Attribution { return a }

type Timestamped interface {
	AuditTimestamps() *Timestamps
}

type Attributed interface {
	AuditAttribution() *Attribution
}

type Stamper struct {
	Now func() time.Time
}

func (s Stamper) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

// OnCreate sets created (and created_by) from the actor bound to ctx.
func (s Stamper) OnCreate(ctx context.Context, e Timestamped) (actor.Actor, error) {
	a, err := actor.From(ctx)
	if err != nil {
		return actor.Actor{}, err
	}
	ts := e.AuditTimestamps()
	ts.Created = s.now()
	ts.Updated = nil
	ts.pending = OpCreate
	if at, ok := e.(Attributed); ok {
		attr := at.AuditAttribution()
		attr.CreatedBy = a.ID
		attr.UpdatedBy = nil
	}
	return a, nil
}

// OnUpdate sets updated (and updated_by). created and created_by are left untouched.
func (s Stamper) OnUpdate(ctx context.Context, e Timestamped) (actor.Actor, error) {
	a, err := actor.From(ctx)
	if err != nil {
		return actor.Actor{}, err
	}
	ts := e.AuditTimestamps()
	now := s.now()
	ts.Updated = &now
	ts.pending = OpUpdate
	if at, ok := e.(Attributed); ok {
		id := a.ID
		at.AuditAttribution().UpdatedBy = &id
	}
	return a, nil
}

// Require consumes the pending stamp and fails unless it matches op.
func Require(e Timestamped, op Op) error {
	ts := e.AuditTimestamps()
	got := ts.pending
	ts.pending = opNone
	if got != op {
		return fmt.Errorf("%w: want %s stamp, have %s", ErrUnstamped, op, got)
	}
	if ts.Created.IsZero() {
		return fmt.Errorf("%w: created not set", ErrUnstamped)
	}
	return nil
}
