package engine_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ifcvalidation/internal/actor"
	"ifcvalidation/internal/app"
	"ifcvalidation/internal/config"
	"ifcvalidation/internal/db"
	"ifcvalidation/internal/domain"
	"ifcvalidation/internal/engine"
	"ifcvalidation/internal/migrate"
	"ifcvalidation/internal/repo"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
	clock  *time.Time
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default()
	eng, err := engine.New(conn, cfg)
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	clock := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	eng.Now = func() time.Time { return clock }
	ctx := context.Background()
	if _, err := eng.CreateUser(ctx, cfg.Actor.System); err != nil {
		t.Fatalf("bootstrap system actor: %v", err)
	}
	sysCtx, err := app.SystemContext(ctx, eng.Repo, cfg.Actor.System)
	if err != nil {
		t.Fatalf("system context: %v", err)
	}
	return testEnv{Engine: eng, Ctx: sysCtx, clock: &clock}
}

func (env testEnv) advance(d time.Duration) { *env.clock = env.clock.Add(d) }

func (env testEnv) actorCtx(t *testing.T, username string) (context.Context, domain.User) {
	t.Helper()
	u, err := env.Engine.CreateUser(env.Ctx, username)
	require.NoError(t, err)
	return actor.With(context.Background(), actor.Actor{ID: u.ID, Username: u.Username}), u
}

func TestMutationsRequireActor(t *testing.T) {
	env := newTestEnv(t)
	bare := context.Background()

	_, err := env.Engine.CreateRequest(bare, engine.RequestCreateOptions{FileName: "a.ifc", Size: 1})
	assert.ErrorIs(t, err, actor.ErrMissingContext)

	req, err := env.Engine.CreateRequest(env.Ctx, engine.RequestCreateOptions{FileName: "a.ifc", Size: 1})
	require.NoError(t, err)
	_, err = env.Engine.InitiateRequest(bare, req.ID, "")
	assert.ErrorIs(t, err, actor.ErrMissingContext)
	_, err = env.Engine.CreateTask(bare, req.ID, domain.TaskSyntax)
	assert.ErrorIs(t, err, actor.ErrMissingContext)
	_, err = env.Engine.CreateTool(bare, engine.ToolCreateOptions{Name: "X"})
	assert.ErrorIs(t, err, actor.ErrMissingContext)
	assert.ErrorIs(t, env.Engine.HardDeleteRequest(bare, req.ID), actor.ErrMissingContext)

	got, err := env.Engine.Repo.GetRequest(env.Ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RequestPending, got.Status)
}

func TestAuditStamping(t *testing.T) {
	env := newTestEnv(t)
	ctxA, a := env.actorCtx(t, "alice")
	ctxB, b := env.actorCtx(t, "bob")

	req, err := env.Engine.CreateRequest(ctxA, engine.RequestCreateOptions{FileName: "wall.ifc", Size: 10})
	require.NoError(t, err)
	assert.Equal(t, a.ID, req.CreatedBy)
	assert.Nil(t, req.Updated)
	assert.Nil(t, req.UpdatedBy)
	assert.NotEmpty(t, req.File)
	assert.Contains(t, req.File, ".ifc")

	env.advance(time.Minute)
	updated, err := env.Engine.SetRequestProgress(ctxB, req.ID, 30)
	require.NoError(t, err)
	assert.Equal(t, a.ID, updated.CreatedBy)
	require.NotNil(t, updated.UpdatedBy)
	assert.Equal(t, b.ID, *updated.UpdatedBy)
	require.NotNil(t, updated.Updated)
	assert.True(t, updated.Updated.Equal(*env.clock))

	stored, err := env.Engine.Repo.GetRequest(env.Ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, a.ID, stored.CreatedBy)
	assert.Equal(t, b.ID, *stored.UpdatedBy)
	assert.Equal(t, 30, stored.Progress)
	assert.True(t, stored.Created.Equal(req.Created))
}

func TestRequestStatusTransitions(t *testing.T) {
	env := newTestEnv(t)
	req, err := env.Engine.CreateRequest(env.Ctx, engine.RequestCreateOptions{FileName: "a.ifc", Size: 1})
	require.NoError(t, err)

	_, err = env.Engine.CompleteRequest(env.Ctx, req.ID, "")
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	req, err = env.Engine.InitiateRequest(env.Ctx, req.ID, "")
	require.NoError(t, err)
	assert.Equal(t, domain.RequestInitiated, req.Status)
	req, err = env.Engine.FailRequest(env.Ctx, req.ID, "parser crashed")
	require.NoError(t, err)
	assert.True(t, req.HasFinalStatus())
	require.NotNil(t, req.StatusReason)
	assert.Equal(t, "parser crashed", *req.StatusReason)

	_, err = env.Engine.InitiateRequest(env.Ctx, req.ID, "")
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	req, err = env.Engine.RequeueRequest(env.Ctx, req.ID, "retry")
	require.NoError(t, err)
	assert.Equal(t, domain.RequestPending, req.Status)
	assert.Nil(t, req.Started)
	assert.Nil(t, req.Completed)
	assert.Equal(t, 0, req.Progress)

	_, err = env.Engine.SetRequestProgress(env.Ctx, req.ID, 101)
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
	_, err = env.Engine.InitiateRequest(env.Ctx, req.ID+100, "")
	assert.ErrorIs(t, err, repo.ErrNotFound)
}

func TestEndToEndScenario(t *testing.T) {
	env := newTestEnv(t)
	e := env.Engine
	req, err := e.CreateRequest(env.Ctx, engine.RequestCreateOptions{FileName: "house.ifc", Size: 2048})
	require.NoError(t, err)
	assert.Equal(t, domain.RequestPending, req.Status)

	syntax, err := e.CreateTask(env.Ctx, req.ID, domain.TaskSyntax)
	require.NoError(t, err)
	schema, err := e.CreateTask(env.Ctx, req.ID, domain.TaskSchema)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskPending, syntax.Status)

	req, err = e.InitiateRequest(env.Ctx, req.ID, "")
	require.NoError(t, err)

	_, err = e.InitiateTask(env.Ctx, syntax.ID)
	require.NoError(t, err)
	env.advance(2 * time.Second)
	_, err = e.RecordOutcome(env.Ctx, domain.OutcomeInput{TaskID: syntax.ID, Severity: domain.SeverityPassed, Code: "P00010"})
	require.NoError(t, err)
	syntax, err = e.CompleteTask(env.Ctx, syntax.ID, "")
	require.NoError(t, err)
	assert.Equal(t, 100, syntax.Progress)
	require.NotNil(t, syntax.Duration(*env.clock))
	assert.Equal(t, 2*time.Second, *syntax.Duration(*env.clock))

	_, err = e.InitiateTask(env.Ctx, schema.ID)
	require.NoError(t, err)
	_, err = e.RecordOutcome(env.Ctx, domain.OutcomeInput{
		TaskID:   schema.ID,
		Severity: domain.SeverityError,
		Code:     "E00001",
		Expected: map[string]any{"type": "IfcLabel"},
		Observed: map[string]any{"type": "IfcInteger"},
	})
	require.NoError(t, err)
	_, err = e.CompleteTask(env.Ctx, schema.ID, "")
	require.NoError(t, err)

	agg, err := e.TaskAggregate(env.Ctx, syntax.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusValid, agg)
	agg, err = e.TaskAggregate(env.Ctx, schema.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusInvalid, agg)

	env.advance(time.Minute)
	req, err = e.CompleteRequest(env.Ctx, req.ID, "")
	require.NoError(t, err)
	assert.Equal(t, domain.RequestCompleted, req.Status)
	d := req.Duration(*env.clock)
	require.NotNil(t, d)
	assert.GreaterOrEqual(t, *d, time.Duration(0))

	assert.Equal(t, 1.0, testutil.ToFloat64(e.Metrics.Transitions.WithLabelValues("request", "COMPLETED")))
	assert.Equal(t, 1.0, testutil.ToFloat64(e.Metrics.Outcomes.WithLabelValues("SCHEMA", "Error")))
}

func TestEmptyTaskAggregatesValid(t *testing.T) {
	env := newTestEnv(t)
	req, err := env.Engine.CreateRequest(env.Ctx, engine.RequestCreateOptions{FileName: "a.ifc"})
	require.NoError(t, err)
	task, err := env.Engine.CreateTask(env.Ctx, req.ID, domain.TaskBSDD)
	require.NoError(t, err)
	agg, err := env.Engine.TaskAggregate(env.Ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusValid, agg)
}

func TestSkipIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	req, err := env.Engine.CreateRequest(env.Ctx, engine.RequestCreateOptions{FileName: "a.ifc"})
	require.NoError(t, err)
	task, err := env.Engine.CreateTask(env.Ctx, req.ID, domain.TaskMVD)
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		task, err = env.Engine.SkipTask(env.Ctx, task.ID, "no ids attached")
		require.NoError(t, err)
		assert.Equal(t, domain.TaskSkipped, task.Status)
		assert.Nil(t, task.Started)
		assert.Nil(t, task.Ended)
	}
	_, err = env.Engine.InitiateTask(env.Ctx, task.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestTaskProcessDetailsKeepStatus(t *testing.T) {
	env := newTestEnv(t)
	req, err := env.Engine.CreateRequest(env.Ctx, engine.RequestCreateOptions{FileName: "a.ifc"})
	require.NoError(t, err)
	task, err := env.Engine.CreateTask(env.Ctx, req.ID, domain.TaskNormativeIA)
	require.NoError(t, err)
	task, err = env.Engine.InitiateTask(env.Ctx, task.ID)
	require.NoError(t, err)

	task, err = env.Engine.SetTaskProcessDetails(env.Ctx, task.ID, 777, "gherkin run rules/ia")
	require.NoError(t, err)
	assert.Equal(t, domain.TaskInitiated, task.Status)
	require.NotNil(t, task.ProcessID)
	assert.Equal(t, int64(777), *task.ProcessID)

	_, err = env.Engine.SetTaskProcessDetails(env.Ctx, task.ID, 0, "x")
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)

	task, err = env.Engine.MarkTaskNotApplicable(env.Ctx, task.ID, "no applicable rules")
	require.NoError(t, err)
	assert.True(t, task.HasFinalStatus())
}

func TestRecordOutcomeRejectsMismatchedCode(t *testing.T) {
	env := newTestEnv(t)
	req, err := env.Engine.CreateRequest(env.Ctx, engine.RequestCreateOptions{FileName: "a.ifc"})
	require.NoError(t, err)
	task, err := env.Engine.CreateTask(env.Ctx, req.ID, domain.TaskSyntax)
	require.NoError(t, err)

	_, err = env.Engine.RecordOutcomes(env.Ctx, []domain.OutcomeInput{
		{TaskID: task.ID, Severity: domain.SeverityPassed, Code: "P00010"},
		{TaskID: task.ID, Severity: domain.SeverityPassed, Code: "E00001"},
	})
	assert.ErrorIs(t, err, domain.ErrInvalidOutcomeCode)

	list, err := env.Engine.Repo.ListOutcomes(env.Ctx, nil, task.ID)
	require.NoError(t, err)
	assert.Empty(t, list)

	_, err = env.Engine.RecordOutcome(env.Ctx, domain.OutcomeInput{TaskID: task.ID + 50, Severity: domain.SeverityPassed, Code: "P00010"})
	assert.ErrorIs(t, err, repo.ErrNotFound)
}

func TestToolsAndCompanies(t *testing.T) {
	env := newTestEnv(t)
	tool, err := env.Engine.CreateTool(env.Ctx, engine.ToolCreateOptions{Name: "Tool ABC", Version: "1.0", Company: "Acme"})
	require.NoError(t, err)
	require.NotNil(t, tool.CompanyID)
	assert.Equal(t, "Acme Tool ABC - 1.0", tool.FullName())

	_, err = env.Engine.CreateTool(env.Ctx, engine.ToolCreateOptions{Name: "Tool ABC", Version: "1.0", Company: "Acme"})
	assert.ErrorIs(t, err, repo.ErrConstraintViolation)

	other, err := env.Engine.CreateTool(env.Ctx, engine.ToolCreateOptions{Name: "Tool XYZ", Company: "Acme"})
	require.NoError(t, err)
	assert.Equal(t, *tool.CompanyID, *other.CompanyID)

	for _, name := range []string{"Acme Tool ABC - 1.0", "Acme Tool ABC 1.0"} {
		m, err := env.Engine.ResolveTool(env.Ctx, name)
		require.NoError(t, err)
		require.NotNil(t, m.Tool, name)
		assert.Equal(t, tool.ID, m.Tool.ID)
	}
	m, err := env.Engine.ResolveTool(env.Ctx, "Acme")
	require.NoError(t, err)
	assert.False(t, m.Found())

	c, err := env.Engine.RenameCompany(env.Ctx, *tool.CompanyID, "Acme Corp")
	require.NoError(t, err)
	assert.NotNil(t, c.Updated)
	m, err = env.Engine.ResolveTool(env.Ctx, "Acme Corp Tool ABC 1.0")
	require.NoError(t, err)
	assert.NotNil(t, m.Tool)
}

func TestApplyTaskStatusUpdatesModel(t *testing.T) {
	env := newTestEnv(t)
	e := env.Engine
	req, err := e.CreateRequest(env.Ctx, engine.RequestCreateOptions{FileName: "a.ifc", Size: 5})
	require.NoError(t, err)
	task, err := e.CreateTask(env.Ctx, req.ID, domain.TaskIndustryPractices)
	require.NoError(t, err)

	_, err = e.ApplyTaskStatus(env.Ctx, task.ID)
	assert.ErrorIs(t, err, engine.ErrNoModel)

	model, err := e.CreateModel(env.Ctx, engine.ModelCreateOptions{FileName: "a.ifc", Size: 5})
	require.NoError(t, err)
	_, err = e.AttachModel(env.Ctx, req.ID, model.ID)
	require.NoError(t, err)
	wall, err := e.CreateInstance(env.Ctx, model.ID, 42, "IfcWall", map[string]any{"Name": "W1"})
	require.NoError(t, err)

	_, err = e.RecordOutcome(env.Ctx, domain.OutcomeInput{TaskID: task.ID, InstanceID: &wall.ID, Severity: domain.SeverityWarning, Code: "W00030"})
	require.NoError(t, err)
	model, err = e.ApplyTaskStatus(env.Ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusWarning, model.IndustryPractices)
	assert.Equal(t, domain.StatusNotValidated, model.Syntax)

	model, err = e.ResetModelStatus(env.Ctx, model.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.NewModelStatuses(), model.ModelStatuses)

	parse, err := e.CreateTask(env.Ctx, req.ID, domain.TaskParseInfo)
	require.NoError(t, err)
	_, err = e.ApplyTaskStatus(env.Ctx, parse.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)

	require.NoError(t, e.DeleteInstance(env.Ctx, wall.ID))
	list, err := e.Repo.ListOutcomes(env.Ctx, nil, task.ID)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestSetModelInfo(t *testing.T) {
	env := newTestEnv(t)
	model, err := env.Engine.CreateModel(env.Ctx, engine.ModelCreateOptions{FileName: "a.ifc", License: domain.LicenseCC})
	require.NoError(t, err)
	schema := "IFC4X3_ADD2"
	elements := int64(120)
	model, err = env.Engine.SetModelInfo(env.Ctx, model.ID, engine.ModelInfo{
		Schema:           &schema,
		NumberOfElements: &elements,
		Properties:       map[string]int{"Pset_WallCommon": 12},
	})
	require.NoError(t, err)
	got, err := env.Engine.Repo.GetModel(env.Ctx, nil, model.ID, false)
	require.NoError(t, err)
	assert.Equal(t, "IFC4X3_ADD2", *got.IFCSchema)
	assert.Equal(t, int64(120), *got.NumberOfElements)
	assert.Equal(t, domain.LicenseCC, got.License)
	assert.JSONEq(t, `{"Pset_WallCommon":12}`, string(got.Properties))
}

func TestSoftAndHardDelete(t *testing.T) {
	env := newTestEnv(t)
	req, err := env.Engine.CreateRequest(env.Ctx, engine.RequestCreateOptions{FileName: "a.ifc"})
	require.NoError(t, err)
	task, err := env.Engine.CreateTask(env.Ctx, req.ID, domain.TaskSyntax)
	require.NoError(t, err)

	req, err = env.Engine.DeleteRequest(env.Ctx, req.ID)
	require.NoError(t, err)
	assert.True(t, req.IsDeleted())
	list, err := env.Engine.Repo.ListRequests(env.Ctx, repo.RequestFilter{})
	require.NoError(t, err)
	assert.Empty(t, list)

	req, err = env.Engine.RestoreRequest(env.Ctx, req.ID)
	require.NoError(t, err)
	assert.False(t, req.IsDeleted())

	require.NoError(t, env.Engine.HardDeleteRequest(env.Ctx, req.ID))
	_, err = env.Engine.Repo.GetRequest(env.Ctx, req.ID)
	assert.ErrorIs(t, err, repo.ErrNotFound)
	_, err = env.Engine.Repo.GetTask(env.Ctx, task.ID)
	assert.ErrorIs(t, err, repo.ErrNotFound)
}

func TestRequeueRequestsStampsEachRow(t *testing.T) {
	env := newTestEnv(t)
	ctxB, b := env.actorCtx(t, "operator")
	var ids []int64
	for i := 0; i < 3; i++ {
		req, err := env.Engine.CreateRequest(env.Ctx, engine.RequestCreateOptions{FileName: "a.ifc"})
		require.NoError(t, err)
		_, err = env.Engine.InitiateRequest(env.Ctx, req.ID, "")
		require.NoError(t, err)
		ids = append(ids, req.ID)
	}
	env.advance(time.Hour)
	out, err := env.Engine.RequeueRequests(ctxB, append(ids, ids[0]), "worker restarted")
	require.NoError(t, err)
	require.Len(t, out, 3)
	for _, id := range ids {
		got, err := env.Engine.Repo.GetRequest(env.Ctx, id)
		require.NoError(t, err)
		assert.Equal(t, domain.RequestPending, got.Status)
		require.NotNil(t, got.UpdatedBy)
		assert.Equal(t, b.ID, *got.UpdatedBy)
		assert.True(t, got.Updated.Equal(*env.clock))
	}
	evts, err := env.Engine.Repo.LatestEvents(env.Ctx, repo.EventFilter{Type: "request.status", Limit: 100})
	require.NoError(t, err)
	// three initiations plus three requeues
	assert.Len(t, evts, 6)
}

func TestConcurrentWorkersKeepTheirActor(t *testing.T) {
	env := newTestEnv(t)
	req, err := env.Engine.CreateRequest(env.Ctx, engine.RequestCreateOptions{FileName: "a.ifc"})
	require.NoError(t, err)

	const workers = 8
	ctxs := make([]context.Context, workers)
	users := make(map[int64]bool, workers)
	for i := range ctxs {
		ctx, u := env.actorCtx(t, "worker-"+string(rune('a'+i)))
		ctxs[i] = ctx
		users[u.ID] = true
	}
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			got, err := env.Engine.SetRequestProgress(ctxs[i], req.ID, (i+1)*10)
			if err != nil {
				errs <- err
				return
			}
			a, _ := actor.From(ctxs[i])
			if got.UpdatedBy == nil || *got.UpdatedBy != a.ID {
				errs <- assert.AnError
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}
	stored, err := env.Engine.Repo.GetRequest(env.Ctx, req.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.UpdatedBy)
	assert.True(t, users[*stored.UpdatedBy])

	evts, err := env.Engine.Repo.LatestEvents(env.Ctx, repo.EventFilter{Type: "request.progress", Limit: 100})
	require.NoError(t, err)
	assert.Len(t, evts, workers)
}

func TestEventsUsePublicIDs(t *testing.T) {
	env := newTestEnv(t)
	req, err := env.Engine.CreateRequest(env.Ctx, engine.RequestCreateOptions{FileName: "a.ifc"})
	require.NoError(t, err)
	public, err := env.Engine.IDs.Encode('r', req.ID)
	require.NoError(t, err)
	evts, err := env.Engine.Repo.LatestEvents(env.Ctx, repo.EventFilter{EntityKind: "validation_request", EntityID: public})
	require.NoError(t, err)
	require.Len(t, evts, 1)
	assert.Equal(t, "request.created", evts[0].Type)
	assert.Contains(t, evts[0].Payload, `"file_name":"a.ifc"`)
}

func TestUsersAndAPIKeys(t *testing.T) {
	env := newTestEnv(t)
	_, worker := env.actorCtx(t, "worker")
	plain, key, err := env.Engine.CreateAPIKey(env.Ctx, worker.ID, "ci")
	require.NoError(t, err)
	assert.NotEmpty(t, plain)
	got, err := env.Engine.Repo.GetAPIKeyByHash(env.Ctx, repo.HashAPIKey(plain))
	require.NoError(t, err)
	assert.Equal(t, key.ID, got.ID)
	require.NoError(t, env.Engine.RevokeAPIKey(env.Ctx, key.ID))
	assert.ErrorIs(t, env.Engine.RevokeAPIKey(env.Ctx, key.ID), repo.ErrNotFound)

	again, err := env.Engine.EnsureUser(env.Ctx, "worker")
	require.NoError(t, err)
	assert.Equal(t, worker.ID, again.ID)

	require.NoError(t, env.Engine.SetUserActive(env.Ctx, worker.ID, false))
	_, err = app.UsernameContext(env.Ctx, env.Engine.Repo, "worker")
	assert.ErrorIs(t, err, app.ErrInactiveActor)
}

func TestDeleteTaskRemovesItsOutcomes(t *testing.T) {
	env := newTestEnv(t)
	e := env.Engine
	req, err := e.CreateRequest(env.Ctx, engine.RequestCreateOptions{FileName: "a.ifc"})
	require.NoError(t, err)
	syntax, err := e.CreateTask(env.Ctx, req.ID, domain.TaskSyntax)
	require.NoError(t, err)
	schema, err := e.CreateTask(env.Ctx, req.ID, domain.TaskSchema)
	require.NoError(t, err)
	_, err = e.RecordOutcomes(env.Ctx, []domain.OutcomeInput{
		{TaskID: syntax.ID, Severity: domain.SeverityPassed, Code: "P00010"},
		{TaskID: schema.ID, Severity: domain.SeverityPassed, Code: "P00010"},
	})
	require.NoError(t, err)

	assert.ErrorIs(t, e.DeleteTask(context.Background(), syntax.ID), actor.ErrMissingContext)
	require.NoError(t, e.DeleteTask(env.Ctx, syntax.ID))

	_, err = e.Repo.GetTask(env.Ctx, syntax.ID)
	assert.ErrorIs(t, err, repo.ErrNotFound)
	gone, err := e.Repo.ListOutcomes(env.Ctx, nil, syntax.ID)
	require.NoError(t, err)
	assert.Empty(t, gone)
	kept, err := e.Repo.ListOutcomes(env.Ctx, nil, schema.ID)
	require.NoError(t, err)
	assert.Len(t, kept, 1)

	public, err := e.IDs.Encode('t', syntax.ID)
	require.NoError(t, err)
	evts, err := e.Repo.LatestEvents(env.Ctx, repo.EventFilter{Type: "task.deleted", EntityID: public})
	require.NoError(t, err)
	require.Len(t, evts, 1)
	assert.ErrorIs(t, e.DeleteTask(env.Ctx, syntax.ID), repo.ErrNotFound)
}

func TestOutcomeInstanceMustBelongToRequestModel(t *testing.T) {
	env := newTestEnv(t)
	e := env.Engine
	req, err := e.CreateRequest(env.Ctx, engine.RequestCreateOptions{FileName: "a.ifc"})
	require.NoError(t, err)
	task, err := e.CreateTask(env.Ctx, req.ID, domain.TaskSchema)
	require.NoError(t, err)
	own, err := e.CreateModel(env.Ctx, engine.ModelCreateOptions{FileName: "a.ifc"})
	require.NoError(t, err)
	foreign, err := e.CreateModel(env.Ctx, engine.ModelCreateOptions{FileName: "b.ifc"})
	require.NoError(t, err)
	ownWall, err := e.CreateInstance(env.Ctx, own.ID, 1, "IfcWall", nil)
	require.NoError(t, err)
	foreignWall, err := e.CreateInstance(env.Ctx, foreign.ID, 1, "IfcWall", nil)
	require.NoError(t, err)

	// no model attached yet: any instance is accepted
	_, err = e.RecordOutcome(env.Ctx, domain.OutcomeInput{TaskID: task.ID, InstanceID: &foreignWall.ID, Severity: domain.SeverityPassed, Code: "P00010"})
	require.NoError(t, err)

	_, err = e.AttachModel(env.Ctx, req.ID, own.ID)
	require.NoError(t, err)
	_, err = e.RecordOutcomes(env.Ctx, []domain.OutcomeInput{
		{TaskID: task.ID, InstanceID: &ownWall.ID, Severity: domain.SeverityPassed, Code: "P00010"},
		{TaskID: task.ID, InstanceID: &foreignWall.ID, Severity: domain.SeverityError, Code: "E00020"},
	})
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
	list, err := e.Repo.ListOutcomes(env.Ctx, nil, task.ID)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	_, err = e.RecordOutcome(env.Ctx, domain.OutcomeInput{TaskID: task.ID, InstanceID: &ownWall.ID, Severity: domain.SeverityPassed, Code: "P00010"})
	require.NoError(t, err)

	missing := ownWall.ID + 100
	_, err = e.RecordOutcome(env.Ctx, domain.OutcomeInput{TaskID: task.ID, InstanceID: &missing, Severity: domain.SeverityPassed, Code: "P00010"})
	assert.ErrorIs(t, err, repo.ErrNotFound)
}

func TestCatalogEventsUsePublicIDs(t *testing.T) {
	env := newTestEnv(t)
	e := env.Engine
	tool, err := e.CreateTool(env.Ctx, engine.ToolCreateOptions{Name: "Tool ABC", Version: "1.0", Company: "Acme"})
	require.NoError(t, err)

	evts, err := e.Repo.LatestEvents(env.Ctx, repo.EventFilter{Type: "company.created"})
	require.NoError(t, err)
	require.Len(t, evts, 1)
	companyID, err := e.IDs.DecodeAs('c', evts[0].EntityID)
	require.NoError(t, err)
	assert.Equal(t, *tool.CompanyID, companyID)

	evts, err = e.Repo.LatestEvents(env.Ctx, repo.EventFilter{Type: "tool.created"})
	require.NoError(t, err)
	require.Len(t, evts, 1)
	toolID, err := e.IDs.DecodeAs('a', evts[0].EntityID)
	require.NoError(t, err)
	assert.Equal(t, tool.ID, toolID)

	require.NoError(t, e.DeleteTool(env.Ctx, tool.ID))
	evts, err = e.Repo.LatestEvents(env.Ctx, repo.EventFilter{Type: "tool.deleted"})
	require.NoError(t, err)
	require.Len(t, evts, 1)
	assert.Equal(t, byte('a'), evts[0].EntityID[0])
}

func TestUpdateTool(t *testing.T) {
	env := newTestEnv(t)
	e := env.Engine
	tool, err := e.CreateTool(env.Ctx, engine.ToolCreateOptions{Name: "Tool ABC", Version: "1.0", Company: "Acme"})
	require.NoError(t, err)
	_, err = e.CreateTool(env.Ctx, engine.ToolCreateOptions{Name: "Tool ABC", Version: "2.0", Company: "Acme"})
	require.NoError(t, err)

	version, company := "1.1", "Globex"
	tool, err = e.UpdateTool(env.Ctx, tool.ID, engine.ToolUpdateOptions{Version: &version, Company: &company})
	require.NoError(t, err)
	assert.Equal(t, "Globex Tool ABC - 1.1", tool.FullName())
	assert.NotNil(t, tool.Updated)

	m, err := e.ResolveTool(env.Ctx, "Globex Tool ABC 1.1")
	require.NoError(t, err)
	require.NotNil(t, m.Tool)
	assert.Equal(t, tool.ID, m.Tool.ID)

	none := ""
	tool, err = e.UpdateTool(env.Ctx, tool.ID, engine.ToolUpdateOptions{Company: &none})
	require.NoError(t, err)
	assert.Nil(t, tool.CompanyID)
	assert.Equal(t, "Tool ABC - 1.1", tool.FullName())

	taken := "2.0"
	_, err = e.UpdateTool(env.Ctx, tool.ID, engine.ToolUpdateOptions{Version: &taken, Company: strPtr("Acme")})
	assert.ErrorIs(t, err, repo.ErrConstraintViolation)

	blank := " "
	_, err = e.UpdateTool(env.Ctx, tool.ID, engine.ToolUpdateOptions{Name: &blank})
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
}

func strPtr(s string) *string { return &s }
