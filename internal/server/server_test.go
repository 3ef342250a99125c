package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ifcvalidation/internal/app"
	"ifcvalidation/internal/config"
	"ifcvalidation/internal/db"
	"ifcvalidation/internal/domain"
	"ifcvalidation/internal/engine"
	"ifcvalidation/internal/logging"
	"ifcvalidation/internal/migrate"
)

const testJWTSecret = "test-secret"

type testServer struct {
	URL    string
	Engine engine.Engine
	APIKey string
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	cfg := config.Default()
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e, err := engine.New(conn, cfg)
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	ctx := context.Background()
	if _, err := e.CreateUser(ctx, cfg.Actor.System); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	sysCtx, err := app.SystemContext(ctx, e.Repo, cfg.Actor.System)
	if err != nil {
		t.Fatalf("system context: %v", err)
	}
	worker, err := e.CreateUser(sysCtx, "worker")
	if err != nil {
		t.Fatalf("create worker: %v", err)
	}
	key, _, err := e.CreateAPIKey(sysCtx, worker.ID, "test")
	if err != nil {
		t.Fatalf("api key: %v", err)
	}
	handler, err := New(Config{
		Engine:   e,
		BasePath: "/v1",
		Auth:     AuthConfig{JWTSecret: testJWTSecret, AllowActorHeader: true},
		Logger:   logging.Discard(),
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		Engine: e,
		APIKey: key,
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func (s *testServer) auth() map[string]string {
	return map[string]string{"X-Api-Key": s.APIKey}
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func errorCode(t *testing.T, data []byte) string {
	t.Helper()
	var env struct {
		Error apiErrorBody `json:"error"`
	}
	require.NoError(t, json.Unmarshal(data, &env), string(data))
	return env.Error.Code
}

func TestHealthNeedsNoCredentials(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/health", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.JSONEq(t, `{"status":"ok"}`, string(data))
}

func TestMutationWithoutActorIsUnauthorized(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/requests", map[string]any{
		"file_name": "wall.ifc",
		"size":      10,
	}, nil)
	require.Equal(t, http.StatusUnauthorized, res.StatusCode, string(data))
	assert.Equal(t, "unauthorized", errorCode(t, data))

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/requests", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/requests", nil, map[string]string{"X-Api-Key": "ifcv_wrong"})
	require.Equal(t, http.StatusUnauthorized, res.StatusCode, string(data))
	assert.Equal(t, "invalid_credentials", errorCode(t, data))
}

func TestRequestLifecycleOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/requests", map[string]any{
		"file_name": "house.ifc",
		"size":      2048,
	}, srv.auth())
	require.Equal(t, http.StatusCreated, res.StatusCode, string(data))
	var created RequestResponse
	require.NoError(t, json.Unmarshal(data, &created))
	assert.True(t, strings.HasPrefix(created.ID, "r"), created.ID)
	assert.True(t, strings.HasPrefix(created.CreatedBy, "u"), created.CreatedBy)
	assert.Equal(t, "PENDING", created.Status)
	assert.NotContains(t, string(data), `"id":1`)

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/requests/"+created.ID+"/status", map[string]any{"status": "COMPLETED"}, srv.auth())
	require.Equal(t, http.StatusBadRequest, res.StatusCode, string(data))
	assert.Equal(t, "invalid_transition", errorCode(t, data))

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/requests/"+created.ID+"/tasks", map[string]any{"type": "SYNTAX"}, srv.auth())
	require.Equal(t, http.StatusCreated, res.StatusCode, string(data))
	var task TaskResponse
	require.NoError(t, json.Unmarshal(data, &task))
	assert.Equal(t, created.ID, task.RequestID)
	assert.Equal(t, "PENDING", task.Status)

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/requests/"+created.ID+"/status", map[string]any{"status": "INITIATED"}, srv.auth())
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/tasks/"+task.ID+"/status", map[string]any{"status": "INITIATED"}, srv.auth())
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/tasks/"+task.ID+"/outcomes", map[string]any{
		"outcomes": []map[string]any{{"severity": 2, "outcome_code": "E00001"}},
	}, srv.auth())
	require.Equal(t, http.StatusBadRequest, res.StatusCode, string(data))
	assert.Equal(t, "invalid_outcome_code", errorCode(t, data))

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/tasks/"+task.ID+"/outcomes", map[string]any{
		"outcomes": []map[string]any{{"severity": 2, "outcome_code": "P00010"}},
	}, srv.auth())
	require.Equal(t, http.StatusCreated, res.StatusCode, string(data))
	var outcomes OutcomeList
	require.NoError(t, json.Unmarshal(data, &outcomes))
	require.Len(t, outcomes.Items, 1)
	assert.Equal(t, "Passed", outcomes.Items[0].SeverityLabel)
	assert.Equal(t, task.ID, outcomes.Items[0].TaskID)

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/tasks/"+task.ID+"/aggregate", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var agg AggregateResponse
	require.NoError(t, json.Unmarshal(data, &agg))
	assert.Equal(t, "v", agg.Status)
	assert.Equal(t, "Valid", agg.Label)

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/tasks/"+task.ID+"/status", map[string]any{"status": "COMPLETED"}, srv.auth())
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/requests/"+created.ID+"/status", map[string]any{"status": "COMPLETED"}, srv.auth())
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var done RequestResponse
	require.NoError(t, json.Unmarshal(data, &done))
	assert.Equal(t, "COMPLETED", done.Status)
	assert.Equal(t, 100, done.Progress)
	require.NotNil(t, done.Duration)
	assert.GreaterOrEqual(t, *done.Duration, 0.0)
	assert.NotEmpty(t, done.UpdatedBy)

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/events?entity_id="+created.ID, nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var events EventList
	require.NoError(t, json.Unmarshal(data, &events))
	require.NotEmpty(t, events.Items)
	assert.Equal(t, "request.status", events.Items[0].Type)
	assert.Equal(t, done.UpdatedBy, events.Items[0].ActorID)

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/metrics", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Contains(t, string(data), "ifcv_transitions_total")
	assert.Contains(t, string(data), "ifcv_outcomes_total")
}

func TestIdentifierErrors(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v1/requests/t383446691", nil, nil)
	require.Equal(t, http.StatusBadRequest, res.StatusCode, string(data))
	assert.Equal(t, "invalid_id", errorCode(t, data))

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/requests/r1", nil, nil)
	require.Equal(t, http.StatusNotFound, res.StatusCode, string(data))
	assert.Equal(t, "not_found", errorCode(t, data))

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/ids/r383446691", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var id IDResponse
	require.NoError(t, json.Unmarshal(data, &id))
	assert.Equal(t, "validation_request", id.Kind)

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/ids/zzz", nil, nil)
	require.Equal(t, http.StatusBadRequest, res.StatusCode, string(data))
}

func TestSoftDeleteRestoreAndPurge(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	_, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/requests", map[string]any{"file_name": "a.ifc", "size": 1}, srv.auth())
	var created RequestResponse
	require.NoError(t, json.Unmarshal(data, &created))

	res, data := doJSON(t, client, http.MethodDelete, srv.URL+"/v1/requests/"+created.ID, nil, srv.auth())
	require.Equal(t, http.StatusNoContent, res.StatusCode, string(data))

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/requests", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	var list RequestList
	require.NoError(t, json.Unmarshal(data, &list))
	assert.Empty(t, list.Items)

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/requests?only_deleted=true", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	require.NoError(t, json.Unmarshal(data, &list))
	require.Len(t, list.Items, 1)
	assert.True(t, list.Items[0].Deleted)

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/requests/"+created.ID+"/restore", nil, srv.auth())
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))

	res, data = doJSON(t, client, http.MethodDelete, srv.URL+"/v1/requests/"+created.ID+"?hard=true", nil, srv.auth())
	require.Equal(t, http.StatusNoContent, res.StatusCode, string(data))
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/requests/"+created.ID, nil, nil)
	require.Equal(t, http.StatusNotFound, res.StatusCode, string(data))
}

func TestRequestListPagination(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	for i := 0; i < 3; i++ {
		res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/requests", map[string]any{"file_name": "a.ifc", "size": 1}, srv.auth())
		require.Equal(t, http.StatusCreated, res.StatusCode, string(data))
	}
	_, data := doJSON(t, client, http.MethodGet, srv.URL+"/v1/requests?limit=2", nil, nil)
	var page RequestList
	require.NoError(t, json.Unmarshal(data, &page))
	require.Len(t, page.Items, 2)
	require.NotEmpty(t, page.NextCursor)

	_, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/requests?limit=2&cursor="+page.NextCursor, nil, nil)
	var rest RequestList
	require.NoError(t, json.Unmarshal(data, &rest))
	require.Len(t, rest.Items, 1)
	assert.Empty(t, rest.NextCursor)
}

func TestJWTAndActorHeader(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/auth/dev/login", map[string]any{"username": "worker"}, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var login DevLoginResponse
	require.NoError(t, json.Unmarshal(data, &login))

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/me", nil, map[string]string{"Authorization": "Bearer " + login.Token})
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var me WhoAmIResponse
	require.NoError(t, json.Unmarshal(data, &me))
	assert.Equal(t, "worker", me.Username)
	assert.Equal(t, "jwt", me.Source)

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/me", nil, map[string]string{"Authorization": "Bearer nope"})
	require.Equal(t, http.StatusUnauthorized, res.StatusCode, string(data))

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/me", nil, map[string]string{"X-Actor-Id": "worker"})
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	require.NoError(t, json.Unmarshal(data, &me))
	assert.Equal(t, "actor_header", me.Source)

	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/v1/me", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)
}

func TestWebhookDispatcherDeliversFilteredEvents(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	var (
		mu       sync.Mutex
		received []webhookEvent
		secrets  []string
	)
	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var evt webhookEvent
		if err := json.NewDecoder(r.Body).Decode(&evt); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		mu.Lock()
		received = append(received, evt)
		secrets = append(secrets, r.Header.Get("X-Ifcv-Secret"))
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer hook.Close()

	d := newWebhookDispatcher(srv.Engine, []config.WebhookConfig{{
		URL:    hook.URL,
		Events: []string{"request.status"},
		Secret: "s3cret",
	}}, logging.Discard())
	ctx := context.Background()
	// history before the first pass is skipped
	d.dispatchAll(ctx)

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/requests", map[string]any{"file_name": "a.ifc", "size": 1}, srv.auth())
	require.Equal(t, http.StatusCreated, res.StatusCode, string(data))
	var created RequestResponse
	require.NoError(t, json.Unmarshal(data, &created))
	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/requests/"+created.ID+"/status", map[string]any{"status": "INITIATED"}, srv.auth())
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))

	d.dispatchAll(ctx)
	d.dispatchAll(ctx)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, received, 1)
	assert.Equal(t, "request.status", received[0].Type)
	assert.Equal(t, created.ID, received[0].EntityID)
	assert.Equal(t, created.CreatedBy, received[0].ActorID)
	assert.Equal(t, "s3cret", secrets[0])
	assert.Contains(t, string(received[0].Payload), `"to_status":"INITIATED"`)
}

func TestSubscriberPatterns(t *testing.T) {
	d := newWebhookDispatcher(engine.Engine{}, []config.WebhookConfig{
		{URL: "http://hooks.local/a", Events: []string{"request.*", " task.status "}},
		{URL: "http://hooks.local/b"},
		{URL: ""},
	}, logging.Discard())
	require.Len(t, d.subs, 2)

	s := d.subs[0]
	assert.True(t, s.wants("request.status"))
	assert.True(t, s.wants("request.purged"))
	assert.True(t, s.wants("task.status"))
	assert.False(t, s.wants("task.progress"))
	assert.False(t, s.wants("outcome.recorded"))
	assert.Equal(t, int64(-1), s.position)

	assert.True(t, d.subs[1].wants("company.created"))
}

func TestCatalogRendersPublicIDs(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	e := srv.Engine
	sysCtx, err := app.SystemContext(context.Background(), e.Repo, config.DefaultSystemActor)
	require.NoError(t, err)

	tool, err := e.CreateTool(sysCtx, engine.ToolCreateOptions{Name: "Tool ABC", Version: "1.0", Company: "Acme"})
	require.NoError(t, err)
	toolID, err := e.IDs.Encode('a', tool.ID)
	require.NoError(t, err)
	companyID, err := e.IDs.Encode('c', *tool.CompanyID)
	require.NoError(t, err)

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v1/tools", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var tools ToolList
	require.NoError(t, json.Unmarshal(data, &tools))
	require.Len(t, tools.Items, 1)
	assert.Equal(t, toolID, tools.Items[0].ID)
	assert.Equal(t, companyID, tools.Items[0].CompanyID)

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/companies", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var companies CompanyList
	require.NoError(t, json.Unmarshal(data, &companies))
	require.Len(t, companies.Items, 1)
	assert.Equal(t, CompanyResponse{ID: companyID, Name: "Acme", Created: companies.Items[0].Created}, companies.Items[0])

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/tools/resolve?name=Acme+Tool+ABC+1.0", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var match ToolMatchResponse
	require.NoError(t, json.Unmarshal(data, &match))
	require.Len(t, match.Tools, 1)
	assert.Equal(t, toolID, match.Tools[0].ID)

	for _, typ := range []string{"company.created", "tool.created"} {
		res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/events?type="+typ, nil, nil)
		require.Equal(t, http.StatusOK, res.StatusCode, string(data))
		var evts EventList
		require.NoError(t, json.Unmarshal(data, &evts))
		require.Len(t, evts.Items, 1)
		assert.Contains(t, []string{companyID, toolID}, evts.Items[0].EntityID)
	}

	model, err := e.CreateModel(sysCtx, engine.ModelCreateOptions{FileName: "a.ifc", ProducedBy: &tool.ID})
	require.NoError(t, err)
	req, err := e.CreateRequest(sysCtx, engine.RequestCreateOptions{FileName: "a.ifc"})
	require.NoError(t, err)
	_, err = e.AttachModel(sysCtx, req.ID, model.ID)
	require.NoError(t, err)
	modelID, err := e.IDs.Encode('m', model.ID)
	require.NoError(t, err)
	reqID, err := e.IDs.Encode('r', req.ID)
	require.NoError(t, err)

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/models/"+modelID, nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var got ModelResponse
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, reqID, got.RequestID)
	assert.Equal(t, toolID, got.ProducedByID)
	assert.Equal(t, "Acme Tool ABC - 1.0", got.ProducedBy)
}

func TestDeleteTaskOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	e := srv.Engine
	sysCtx, err := app.SystemContext(context.Background(), e.Repo, config.DefaultSystemActor)
	require.NoError(t, err)

	req, err := e.CreateRequest(sysCtx, engine.RequestCreateOptions{FileName: "a.ifc"})
	require.NoError(t, err)
	task, err := e.CreateTask(sysCtx, req.ID, domain.TaskSyntax)
	require.NoError(t, err)
	_, err = e.RecordOutcome(sysCtx, domain.OutcomeInput{TaskID: task.ID, Severity: domain.SeverityPassed, Code: "P00010"})
	require.NoError(t, err)
	taskID, err := e.IDs.Encode('t', task.ID)
	require.NoError(t, err)

	res, data := doJSON(t, client, http.MethodDelete, srv.URL+"/v1/tasks/"+taskID, nil, nil)
	require.Equal(t, http.StatusUnauthorized, res.StatusCode, string(data))

	res, data = doJSON(t, client, http.MethodDelete, srv.URL+"/v1/tasks/"+taskID, nil, srv.auth())
	require.Equal(t, http.StatusNoContent, res.StatusCode, string(data))
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/tasks/"+taskID, nil, nil)
	require.Equal(t, http.StatusNotFound, res.StatusCode, string(data))

	outcomes, err := e.Repo.ListOutcomes(context.Background(), nil, task.ID)
	require.NoError(t, err)
	assert.Empty(t, outcomes)
}
