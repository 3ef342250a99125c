package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"ifcvalidation/internal/domain"
	"ifcvalidation/internal/engine"
	"ifcvalidation/internal/obfuscate"
	"ifcvalidation/internal/repo"
)

type requestPath struct {
	RequestID string `path:"request_id" example:"r383446691"`
}

type requestOutput struct {
	Body RequestResponse
}

func (h handlers) requestOut(r domain.Request) *requestOutput {
	return &requestOutput{Body: newMapper(h.e).request(r)}
}

func (h handlers) registerRequests(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-request",
		Method:        http.MethodPost,
		Path:          "/requests",
		Summary:       "Submit a file for validation",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Body CreateRequestRequest
	}) (*requestOutput, error) {
		req, err := h.e.CreateRequest(ctx, engine.RequestCreateOptions{
			FileName: input.Body.FileName,
			Size:     input.Body.Size,
			File:     input.Body.File,
		})
		if err != nil {
			return nil, h.fail(err)
		}
		return h.requestOut(req), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-requests",
		Method:      http.MethodGet,
		Path:        "/requests",
		Summary:     "List validation requests, newest first",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Status         string `query:"status" enum:"PENDING,INITIATED,COMPLETED,FAILED"`
		CreatedBy      string `query:"created_by"`
		IncludeDeleted bool   `query:"include_deleted"`
		OnlyDeleted    bool   `query:"only_deleted"`
		Limit          int    `query:"limit" default:"50"`
		Cursor         string `query:"cursor"`
	}) (*struct {
		Body RequestList
	}, error) {
		f := repo.RequestFilter{
			Status:         domain.RequestStatus(input.Status),
			IncludeDeleted: input.IncludeDeleted,
			OnlyDeleted:    input.OnlyDeleted,
			Limit:          normalizeLimit(input.Limit) + 1,
		}
		if input.CreatedBy != "" {
			id, err := h.decodeID(obfuscate.ActorKind, input.CreatedBy)
			if err != nil {
				return nil, err
			}
			f.CreatedBy = id
		}
		if input.Cursor != "" {
			id, err := h.decodeID(obfuscate.Request, input.Cursor)
			if err != nil {
				return nil, err
			}
			f.BeforeID = id
		}
		items, err := h.e.Repo.ListRequests(ctx, f)
		if err != nil {
			return nil, h.fail(err)
		}
		m := newMapper(h.e)
		limit := normalizeLimit(input.Limit)
		resp := RequestList{}
		if len(items) > limit {
			items = items[:limit]
			resp.NextCursor = m.id(obfuscate.Request, items[limit-1].ID)
		}
		resp.Items = m.requests(items)
		return &struct {
			Body RequestList
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-request",
		Method:      http.MethodGet,
		Path:        "/requests/{request_id}",
		Summary:     "Get a validation request",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *requestPath) (*requestOutput, error) {
		id, serr := h.decodeID(obfuscate.Request, input.RequestID)
		if serr != nil {
			return nil, serr
		}
		req, err := h.e.Repo.GetRequest(ctx, id)
		if err != nil {
			return nil, h.fail(err)
		}
		return h.requestOut(req), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "change-request-status",
		Method:      http.MethodPost,
		Path:        "/requests/{request_id}/status",
		Summary:     "Move a request through its lifecycle",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		requestPath
		Body StatusChangeRequest
	}) (*requestOutput, error) {
		id, serr := h.decodeID(obfuscate.Request, input.RequestID)
		if serr != nil {
			return nil, serr
		}
		var transition func(context.Context, int64, string) (domain.Request, error)
		switch domain.RequestStatus(input.Body.Status) {
		case domain.RequestInitiated:
			transition = h.e.InitiateRequest
		case domain.RequestCompleted:
			transition = h.e.CompleteRequest
		case domain.RequestFailed:
			transition = h.e.FailRequest
		case domain.RequestPending:
			transition = h.e.RequeueRequest
		default:
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "unknown status", map[string]any{"status": input.Body.Status})
		}
		req, err := transition(ctx, id, input.Body.Reason)
		if err != nil {
			return nil, h.fail(err)
		}
		return h.requestOut(req), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-request-progress",
		Method:      http.MethodPut,
		Path:        "/requests/{request_id}/progress",
		Summary:     "Set request progress",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		requestPath
		Body ProgressRequest
	}) (*requestOutput, error) {
		id, serr := h.decodeID(obfuscate.Request, input.RequestID)
		if serr != nil {
			return nil, serr
		}
		req, err := h.e.SetRequestProgress(ctx, id, input.Body.Progress)
		if err != nil {
			return nil, h.fail(err)
		}
		return h.requestOut(req), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "attach-request-model",
		Method:      http.MethodPut,
		Path:        "/requests/{request_id}/model",
		Summary:     "Link the model parsed from the request's file",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		requestPath
		Body AttachModelRequest
	}) (*requestOutput, error) {
		id, serr := h.decodeID(obfuscate.Request, input.RequestID)
		if serr != nil {
			return nil, serr
		}
		modelID, serr := h.decodeID(obfuscate.Model, input.Body.ModelID)
		if serr != nil {
			return nil, serr
		}
		if _, err := h.e.Repo.GetModel(ctx, nil, modelID, false); err != nil {
			return nil, h.fail(err)
		}
		req, err := h.e.AttachModel(ctx, id, modelID)
		if err != nil {
			return nil, h.fail(err)
		}
		return h.requestOut(req), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-request",
		Method:      http.MethodDelete,
		Path:        "/requests/{request_id}",
		Summary:     "Soft-delete a request, or remove it with its tasks and outcomes when hard=true",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		requestPath
		Hard bool `query:"hard"`
	}) (*struct{}, error) {
		id, serr := h.decodeID(obfuscate.Request, input.RequestID)
		if serr != nil {
			return nil, serr
		}
		var err error
		if input.Hard {
			err = h.e.HardDeleteRequest(ctx, id)
		} else {
			_, err = h.e.DeleteRequest(ctx, id)
		}
		if err != nil {
			return nil, h.fail(err)
		}
		return nil, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "restore-request",
		Method:      http.MethodPost,
		Path:        "/requests/{request_id}/restore",
		Summary:     "Undo a soft delete",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusNotFound},
	}, func(ctx context.Context, input *requestPath) (*requestOutput, error) {
		id, serr := h.decodeID(obfuscate.Request, input.RequestID)
		if serr != nil {
			return nil, serr
		}
		req, err := h.e.RestoreRequest(ctx, id)
		if err != nil {
			return nil, h.fail(err)
		}
		return h.requestOut(req), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "requeue-requests",
		Method:      http.MethodPost,
		Path:        "/requests/requeue",
		Summary:     "Move several requests back to pending",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Body RequeueRequest
	}) (*struct {
		Body RequestList
	}, error) {
		ids := make([]int64, 0, len(input.Body.IDs))
		for _, public := range input.Body.IDs {
			id, serr := h.decodeID(obfuscate.Request, public)
			if serr != nil {
				return nil, serr
			}
			ids = append(ids, id)
		}
		items, err := h.e.RequeueRequests(ctx, ids, input.Body.Reason)
		if err != nil {
			return nil, h.fail(err)
		}
		return &struct {
			Body RequestList
		}{Body: RequestList{Items: newMapper(h.e).requests(items)}}, nil
	})
}
