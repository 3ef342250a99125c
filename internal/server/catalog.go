package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"ifcvalidation/internal/obfuscate"
	"ifcvalidation/internal/repo"
)

type modelOutput struct {
	Body ModelResponse
}

func (h handlers) registerCatalog(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "get-model",
		Method:      http.MethodGet,
		Path:        "/models/{model_id}",
		Summary:     "Get a parsed model with its check statuses",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ModelID string `path:"model_id" example:"m383446691"`
	}) (*modelOutput, error) {
		id, serr := h.decodeID(obfuscate.Model, input.ModelID)
		if serr != nil {
			return nil, serr
		}
		m, err := h.e.Repo.GetModel(ctx, nil, id, false)
		if err != nil {
			return nil, h.fail(err)
		}
		return &modelOutput{Body: newMapper(h.e).model(ctx, h.e, m)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "resolve-tool",
		Method:      http.MethodGet,
		Path:        "/tools/resolve",
		Summary:     "Find authoring tools by full name",
		Description: "Matches \"<company> <name> - <version>\" and the same name without the dash.",
	}, func(ctx context.Context, input *struct {
		Name string `query:"name" required:"true" minLength:"1"`
	}) (*struct {
		Body ToolMatchResponse
	}, error) {
		match, err := h.e.ResolveTool(ctx, input.Name)
		if err != nil {
			return nil, h.fail(err)
		}
		return &struct {
			Body ToolMatchResponse
		}{Body: newMapper(h.e).toolMatch(match)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-tools",
		Method:      http.MethodGet,
		Path:        "/tools",
		Summary:     "List registered authoring tools",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body ToolList
	}, error) {
		items, err := h.e.Repo.ListTools(ctx)
		if err != nil {
			return nil, h.fail(err)
		}
		out := &struct{ Body ToolList }{}
		out.Body.Items = newMapper(h.e).tools(items)
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-companies",
		Method:      http.MethodGet,
		Path:        "/companies",
		Summary:     "List authoring tool vendors",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body CompanyList
	}, error) {
		items, err := h.e.Repo.ListCompanies(ctx)
		if err != nil {
			return nil, h.fail(err)
		}
		out := &struct{ Body CompanyList }{}
		out.Body.Items = newMapper(h.e).companies(items)
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "decode-id",
		Method:      http.MethodGet,
		Path:        "/ids/{public_id}",
		Summary:     "Report which kind of entity a public id refers to",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		PublicID string `path:"public_id"`
	}) (*struct {
		Body IDResponse
	}, error) {
		kind, _, err := h.e.IDs.Decode(input.PublicID)
		if err != nil {
			return nil, h.fail(err)
		}
		return &struct {
			Body IDResponse
		}{Body: IDResponse{PublicID: input.PublicID, Kind: kind.String()}}, nil
	})
}

func (h handlers) registerEvents(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "List recent audit events",
	}, func(ctx context.Context, input *struct {
		Type       string `query:"type"`
		EntityKind string `query:"entity_kind"`
		EntityID   string `query:"entity_id"`
		Limit      int    `query:"limit" default:"50"`
	}) (*struct {
		Body EventList
	}, error) {
		items, err := h.e.Repo.LatestEvents(ctx, repo.EventFilter{
			Type:       input.Type,
			EntityKind: input.EntityKind,
			EntityID:   input.EntityID,
			Limit:      normalizeLimit(input.Limit),
		})
		if err != nil {
			return nil, h.fail(err)
		}
		m := newMapper(h.e)
		resp := EventList{Items: make([]EventResponse, 0, len(items))}
		for _, evt := range items {
			resp.Items = append(resp.Items, m.event(evt))
		}
		return &struct {
			Body EventList
		}{Body: resp}, nil
	})
}
