package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/golang-jwt/jwt/v5"

	"ifcvalidation/internal/actor"
	"ifcvalidation/internal/app"
	"ifcvalidation/internal/engine"
	"ifcvalidation/internal/obfuscate"
	"ifcvalidation/internal/repo"
)

type AuthConfig struct {
	JWTSecret string
	// AllowActorHeader trusts X-Actor-Id without credentials. Local use only.
	AllowActorHeader bool
	Logger           *slog.Logger
}

type principalKey struct{}

// Principal records how the actor bound to a request was authenticated.
type Principal struct {
	Actor  actor.Actor
	Source string
}

func withPrincipal(ctx context.Context, p Principal) context.Context {
	ctx = actor.With(ctx, p.Actor)
	return context.WithValue(ctx, principalKey{}, p)
}

func principalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

// authenticateJWT returns the token subject: a public actor id or a username.
func authenticateJWT(token string, secret string) (string, error) {
	if strings.TrimSpace(secret) == "" {
		return "", errors.New("jwt secret not configured")
	}
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	claims := &jwt.RegisteredClaims{}
	parsed, err := parser.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return []byte(secret), nil
	})
	if err != nil {
		return "", err
	}
	if !parsed.Valid {
		return "", errors.New("invalid token")
	}
	if claims.Subject == "" {
		return "", errors.New("subject claim required")
	}
	return claims.Subject, nil
}

func signDevToken(secret, subject string, ttl time.Duration) (string, error) {
	if strings.TrimSpace(secret) == "" {
		return "", errors.New("jwt secret not configured")
	}
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// bindActor resolves ref as a public actor id first, then as a username.
func bindActor(ctx context.Context, e engine.Engine, ref string) (context.Context, error) {
	return app.RefContext(ctx, e.Repo, e.IDs, ref)
}

func bindAPIKey(ctx context.Context, e engine.Engine, key string) (context.Context, error) {
	if strings.TrimSpace(key) == "" {
		return nil, errors.New("api key required")
	}
	k, err := e.Repo.GetAPIKeyByHash(ctx, repo.HashAPIKey(key))
	if err != nil {
		return nil, err
	}
	return app.ActorContext(ctx, e.Repo, k.ActorID)
}

func bearerToken(authz string) (string, bool) {
	parts := strings.Fields(authz)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", false
	}
	return parts[1], true
}

// newAuthMiddleware binds the calling actor to the request context. Requests
// without credentials pass through unbound: reads work, mutations fail with
// actor.ErrMissingContext.
func newAuthMiddleware(basePath string, cfg AuthConfig, e engine.Engine) func(http.Handler) http.Handler {
	healthPath := path.Join(basePath, "health")
	deny := func(w http.ResponseWriter, req *http.Request, source string, err error) {
		cfg.Logger.Warn("authentication failed", "source", source, "path", req.URL.Path, "error", err)
		if errors.Is(err, app.ErrInactiveActor) {
			respondStatusError(w, newAPIError(http.StatusForbidden, "inactive_actor", "actor is inactive", nil))
			return
		}
		respondStatusError(w, newAPIError(http.StatusUnauthorized, "invalid_credentials", "invalid credentials", nil))
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if basePath != "" && !strings.HasPrefix(req.URL.Path, basePath) {
				next.ServeHTTP(w, req)
				return
			}
			if req.URL.Path == healthPath {
				next.ServeHTTP(w, req)
				return
			}

			authz := strings.TrimSpace(req.Header.Get("Authorization"))
			apiKeyHeader := strings.TrimSpace(req.Header.Get("X-Api-Key"))
			actorHeader := strings.TrimSpace(req.Header.Get("X-Actor-Id"))

			var (
				ctx    context.Context
				err    error
				source string
			)
			switch {
			case authz != "":
				source = "jwt"
				token, ok := bearerToken(authz)
				if !ok {
					deny(w, req, source, errors.New("malformed authorization header"))
					return
				}
				var sub string
				if sub, err = authenticateJWT(token, cfg.JWTSecret); err == nil {
					ctx, err = bindActor(req.Context(), e, sub)
				}
			case apiKeyHeader != "":
				source = "api_key"
				ctx, err = bindAPIKey(req.Context(), e, apiKeyHeader)
			case actorHeader != "" && cfg.AllowActorHeader:
				source = "actor_header"
				cfg.Logger.Warn("binding actor from X-Actor-Id header without credentials", "actor", actorHeader)
				ctx, err = bindActor(req.Context(), e, actorHeader)
			default:
				next.ServeHTTP(w, req)
				return
			}
			if err != nil {
				deny(w, req, source, err)
				return
			}
			a, _ := actor.From(ctx)
			next.ServeHTTP(w, req.WithContext(withPrincipal(ctx, Principal{Actor: a, Source: source})))
		})
	}
}

func respondStatusError(w http.ResponseWriter, err huma.StatusError) {
	status := http.StatusInternalServerError
	if e, ok := err.(interface{ GetStatus() int }); ok {
		status = e.GetStatus()
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(err)
}

type WhoAmIResponse struct {
	ActorID  string `json:"actor_id"`
	Username string `json:"username"`
	Source   string `json:"source"`
}

func registerMe(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "me",
		Method:      http.MethodGet,
		Path:        "/me",
		Summary:     "Actor bound to this request",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body WhoAmIResponse `json:"body"`
	}, error) {
		p, ok := principalFromContext(ctx)
		if !ok {
			return nil, handleError(actor.ErrMissingContext)
		}
		public, _ := e.IDs.Encode(obfuscate.ActorKind, p.Actor.ID)
		return &struct {
			Body WhoAmIResponse `json:"body"`
		}{Body: WhoAmIResponse{ActorID: public, Username: p.Actor.Username, Source: p.Source}}, nil
	})
}

type DevLoginRequest struct {
	Username string `json:"username" minLength:"1"`
}

type DevLoginResponse struct {
	Token string `json:"token"`
}

// registerDevAuth mints short-lived tokens for local testing. It is only
// mounted when actor headers are allowed.
func registerDevAuth(api huma.API, e engine.Engine, cfg AuthConfig) {
	if !cfg.AllowActorHeader {
		return
	}
	huma.Register(api, huma.Operation{
		OperationID: "dev-login",
		Method:      http.MethodPost,
		Path:        "/auth/dev/login",
		Summary:     "DEV ONLY: mint a JWT for an existing actor",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Body DevLoginRequest `json:"body"`
	}) (*struct {
		Body DevLoginResponse `json:"body"`
	}, error) {
		bound, err := app.UsernameContext(ctx, e.Repo, input.Body.Username)
		if err != nil {
			return nil, handleError(err)
		}
		a, _ := actor.From(bound)
		sub, err := e.IDs.Encode(obfuscate.ActorKind, a.ID)
		if err != nil {
			return nil, handleError(err)
		}
		token, err := signDevToken(cfg.JWTSecret, sub, time.Hour)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", err.Error(), nil)
		}
		return &struct {
			Body DevLoginResponse `json:"body"`
		}{Body: DevLoginResponse{Token: token}}, nil
	})
}
