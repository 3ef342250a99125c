package engine

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"ifcvalidation/internal/domain"
	"ifcvalidation/internal/events"
	"ifcvalidation/internal/obfuscate"
)

type RequestCreateOptions struct {
	FileName string
	Size     int64
	// File is the stored-file reference; a uuid based name is generated when empty.
	File string
}

// StoredFileName derives a unique stored-file reference that keeps the upload's extension.
func StoredFileName(fileName string) string {
	return uuid.NewString() + strings.ToLower(filepath.Ext(fileName))
}

func (e Engine) CreateRequest(ctx context.Context, opts RequestCreateOptions) (domain.Request, error) {
	file := opts.File
	if file == "" {
		file = StoredFileName(opts.FileName)
	}
	req, err := domain.NewRequest(opts.FileName, file, opts.Size)
	if err != nil {
		return domain.Request{}, err
	}
	a, err := e.stamper().OnCreate(ctx, &req)
	if err != nil {
		return domain.Request{}, err
	}
	err = e.inTx(ctx, func(tx *sql.Tx) error {
		if err := e.Repo.InsertRequest(ctx, tx, &req); err != nil {
			return err
		}
		return e.events().Append(ctx, tx, "request.created", "validation_request", e.publicID(obfuscate.Request, req.ID), a.ID, events.EventPayload{
			"file_name": req.FileName,
			"size":      req.Size,
			"status":    req.Status,
		})
	})
	if err != nil {
		return domain.Request{}, err
	}
	e.Metrics.Transition("request", string(req.Status))
	e.log().Info("request created", "request_id", e.publicID(obfuscate.Request, req.ID), "file_name", req.FileName, "actor", a.Username)
	return req, nil
}

// mutateRequest serializes work on one request: the row is re-read inside the
// transaction (locked where the dialect supports it), mutated and written back.
func (e Engine) mutateRequest(ctx context.Context, id int64, evtType string, fn func(*domain.Request) error) (domain.Request, error) {
	if _, err := requireActor(ctx); err != nil {
		return domain.Request{}, err
	}
	unlock := e.locks.lock(id)
	defer unlock()

	var req domain.Request
	var from domain.RequestStatus
	err := e.inTx(ctx, func(tx *sql.Tx) error {
		var err error
		req, err = e.applyRequest(ctx, tx, id, evtType, fn, &from)
		return err
	})
	if err != nil {
		return domain.Request{}, err
	}
	e.afterRequestChange(from, req)
	return req, nil
}

func (e Engine) applyRequest(ctx context.Context, tx *sql.Tx, id int64, evtType string, fn func(*domain.Request) error, from *domain.RequestStatus) (domain.Request, error) {
	req, err := e.Repo.GetRequestTx(ctx, tx, id, true)
	if err != nil {
		return req, wrapNotFound("validation request", err)
	}
	*from = req.Status
	if err := fn(&req); err != nil {
		return req, err
	}
	a, err := e.stamper().OnUpdate(ctx, &req)
	if err != nil {
		return req, err
	}
	if err := e.Repo.UpdateRequest(ctx, tx, &req); err != nil {
		return req, err
	}
	return req, e.events().Append(ctx, tx, evtType, "validation_request", e.publicID(obfuscate.Request, req.ID), a.ID, events.EventPayload{
		"from_status": *from,
		"to_status":   req.Status,
		"progress":    req.Progress,
		"deletion":    req.Deletion,
	})
}

func (e Engine) afterRequestChange(from domain.RequestStatus, req domain.Request) {
	if from == req.Status {
		return
	}
	e.Metrics.Transition("request", string(req.Status))
	if req.HasFinalStatus() {
		if d := req.Duration(e.now()); d != nil {
			e.Metrics.ObserveRequest(string(req.Status), d.Seconds())
		}
	}
	e.log().Info("request status changed",
		"request_id", e.publicID(obfuscate.Request, req.ID),
		"from", from,
		"status", req.Status,
	)
}

func (e Engine) transitionRequest(ctx context.Context, id int64, to domain.RequestStatus, apply func(*domain.Request)) (domain.Request, error) {
	return e.mutateRequest(ctx, id, "request.status", func(r *domain.Request) error {
		if err := domain.CheckRequestTransition(r.Status, to); err != nil {
			return err
		}
		apply(r)
		return nil
	})
}

func (e Engine) InitiateRequest(ctx context.Context, id int64, reason string) (domain.Request, error) {
	return e.transitionRequest(ctx, id, domain.RequestInitiated, func(r *domain.Request) { r.MarkAsInitiated(e.now(), reason) })
}

func (e Engine) CompleteRequest(ctx context.Context, id int64, reason string) (domain.Request, error) {
	return e.transitionRequest(ctx, id, domain.RequestCompleted, func(r *domain.Request) { r.MarkAsCompleted(e.now(), reason) })
}

func (e Engine) FailRequest(ctx context.Context, id int64, reason string) (domain.Request, error) {
	return e.transitionRequest(ctx, id, domain.RequestFailed, func(r *domain.Request) { r.MarkAsFailed(e.now(), reason) })
}

func (e Engine) RequeueRequest(ctx context.Context, id int64, reason string) (domain.Request, error) {
	return e.transitionRequest(ctx, id, domain.RequestPending, func(r *domain.Request) { r.MarkAsPending(reason) })
}

func (e Engine) SetRequestProgress(ctx context.Context, id int64, progress int) (domain.Request, error) {
	return e.mutateRequest(ctx, id, "request.progress", func(r *domain.Request) error {
		return r.SetProgress(progress)
	})
}

// AttachModel links the model produced by parsing the request's file.
func (e Engine) AttachModel(ctx context.Context, requestID, modelID int64) (domain.Request, error) {
	return e.mutateRequest(ctx, requestID, "request.model", func(r *domain.Request) error {
		if modelID <= 0 {
			return fmt.Errorf("%w: model id is required", domain.ErrInvalidArgument)
		}
		r.ModelID = &modelID
		return nil
	})
}

// DeleteRequest marks the request deleted; the row stays in storage.
func (e Engine) DeleteRequest(ctx context.Context, id int64) (domain.Request, error) {
	return e.mutateRequest(ctx, id, "request.deleted", func(r *domain.Request) error {
		r.Delete()
		return nil
	})
}

func (e Engine) RestoreRequest(ctx context.Context, id int64) (domain.Request, error) {
	return e.mutateRequest(ctx, id, "request.restored", func(r *domain.Request) error {
		r.UndoDelete()
		return nil
	})
}

// HardDeleteRequest physically removes the request with its tasks and outcomes.
func (e Engine) HardDeleteRequest(ctx context.Context, id int64) error {
	a, err := requireActor(ctx)
	if err != nil {
		return err
	}
	unlock := e.locks.lock(id)
	defer unlock()
	err = e.inTx(ctx, func(tx *sql.Tx) error {
		req, err := e.Repo.GetRequestTx(ctx, tx, id, true)
		if err != nil {
			return wrapNotFound("validation request", err)
		}
		if err := e.Repo.DeleteRequest(ctx, tx, id); err != nil {
			return err
		}
		return e.events().Append(ctx, tx, "request.purged", "validation_request", e.publicID(obfuscate.Request, id), a.ID, events.EventPayload{
			"file_name": req.FileName,
			"status":    req.Status,
		})
	})
	if err != nil {
		return err
	}
	e.log().Info("request purged", "request_id", e.publicID(obfuscate.Request, id), "actor", a.Username)
	return nil
}

// RequeueRequests moves several requests back to pending in one transaction.
// Each row is read, stamped and written on its own so its audit fields are correct.
func (e Engine) RequeueRequests(ctx context.Context, ids []int64, reason string) ([]domain.Request, error) {
	if _, err := requireActor(ctx); err != nil {
		return nil, err
	}
	unlock := e.locks.lockAll(ids)
	defer unlock()

	var out []domain.Request
	var froms []domain.RequestStatus
	seen := map[int64]bool{}
	err := e.inTx(ctx, func(tx *sql.Tx) error {
		for _, id := range ids {
			if seen[id] {
				continue
			}
			seen[id] = true
			var from domain.RequestStatus
			req, err := e.applyRequest(ctx, tx, id, "request.status", func(r *domain.Request) error {
				if err := domain.CheckRequestTransition(r.Status, domain.RequestPending); err != nil {
					return err
				}
				r.MarkAsPending(reason)
				return nil
			}, &from)
			if err != nil {
				return err
			}
			out = append(out, req)
			froms = append(froms, from)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	for i, req := range out {
		e.afterRequestChange(froms[i], req)
	}
	return out, nil
}
