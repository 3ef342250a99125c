package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"ifcvalidation/internal/actor"
	"ifcvalidation/internal/app"
	"ifcvalidation/internal/audit"
	"ifcvalidation/internal/domain"
	"ifcvalidation/internal/engine"
	"ifcvalidation/internal/logging"
	"ifcvalidation/internal/obfuscate"
	"ifcvalidation/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
	Logger   *slog.Logger
}

func (c Config) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return logging.Discard()
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"invalid_transition"`
	Message string         `json:"message" example:"invalid transition: COMPLETED -> INITIATED"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError is the error envelope every failing operation answers with.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the validation API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v1"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	if cfg.Auth.Logger == nil {
		cfg.Auth.Logger = cfg.logger()
	}
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Engine))
	router.Handle("/metrics", promhttp.HandlerFor(cfg.Engine.Metrics.Registry, promhttp.HandlerOpts{}))

	api := humachi.New(router, apiConfig())
	group := huma.NewGroup(api, basePath)

	h := handlers{e: cfg.Engine, log: cfg.logger()}
	registerHealth(group)
	h.registerRequests(group)
	h.registerTasks(group)
	h.registerOutcomes(group)
	h.registerCatalog(group)
	h.registerEvents(group)
	registerMe(group, cfg.Engine)
	registerDevAuth(group, cfg.Engine, cfg.Auth)

	return router, nil
}

// apiConfig serves /openapi.json and /docs at the root and declares both
// credential schemes; unauthenticated calls still reach read operations.
func apiConfig() huma.Config {
	hcfg := huma.DefaultConfig("IFC Validation API", "1.0.0")
	hcfg.Info.Description = "Validation requests, tasks and outcomes for IFC models."
	if hcfg.Components.SecuritySchemes == nil {
		hcfg.Components.SecuritySchemes = map[string]*huma.SecurityScheme{}
	}
	hcfg.Components.SecuritySchemes["bearer"] = &huma.SecurityScheme{Type: "http", Scheme: "bearer", BearerFormat: "JWT"}
	hcfg.Components.SecuritySchemes["apiKey"] = &huma.SecurityScheme{Type: "apiKey", In: "header", Name: "X-Api-Key"}
	hcfg.Security = []map[string][]string{{"bearer": {}}, {"apiKey": {}}, {}}
	return hcfg
}

// handlers carries what every operation needs.
type handlers struct {
	e   engine.Engine
	log *slog.Logger
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

func (h handlers) fail(err error) huma.StatusError {
	se := handleError(err)
	if se != nil && se.GetStatus() >= http.StatusInternalServerError {
		h.log.Error("request failed", "error", err)
	}
	return se
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var se huma.StatusError
	if errors.As(err, &se) {
		return se
	}
	msg := err.Error()
	switch {
	case errors.Is(err, actor.ErrMissingContext):
		return newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil)
	case errors.Is(err, app.ErrInactiveActor):
		return newAPIError(http.StatusForbidden, "inactive_actor", msg, nil)
	case errors.Is(err, domain.ErrInvalidOutcomeCode):
		return newAPIError(http.StatusBadRequest, "invalid_outcome_code", msg, nil)
	case errors.Is(err, domain.ErrInvalidTransition):
		return newAPIError(http.StatusBadRequest, "invalid_transition", msg, nil)
	case errors.Is(err, obfuscate.ErrDecode), errors.Is(err, obfuscate.ErrInvalidArgument):
		return newAPIError(http.StatusBadRequest, "invalid_id", msg, nil)
	case errors.Is(err, domain.ErrInvalidArgument):
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	case errors.Is(err, repo.ErrNotFound):
		return newAPIError(http.StatusNotFound, "not_found", msg, nil)
	case errors.Is(err, repo.ErrConstraintViolation):
		return newAPIError(http.StatusConflict, "conflict", msg, nil)
	case errors.Is(err, engine.ErrNoModel):
		return newAPIError(http.StatusConflict, "no_model", msg, nil)
	case errors.Is(err, audit.ErrUnstamped):
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", nil)
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

// decodeID turns a public id from a path or body into the internal key.
func (h handlers) decodeID(kind obfuscate.Kind, public string) (int64, huma.StatusError) {
	id, err := h.e.IDs.DecodeAs(kind, strings.TrimSpace(public))
	if err != nil {
		return 0, newAPIError(http.StatusBadRequest, "invalid_id", fmt.Sprintf("invalid %s id", kind), map[string]any{"id": public})
	}
	return id, nil
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Liveness check",
		Security:    []map[string][]string{},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		out := &struct {
			Body map[string]string `json:"body"`
		}{}
		out.Body = map[string]string{"status": "ok"}
		return out, nil
	})
}

func normalizeLimit(in int) int {
	if in <= 0 {
		return 50
	}
	if in > 200 {
		return 200
	}
	return in
}
