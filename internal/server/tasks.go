package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"ifcvalidation/internal/domain"
	"ifcvalidation/internal/obfuscate"
)

type taskPath struct {
	TaskID string `path:"task_id" example:"t383446691"`
}

type taskOutput struct {
	Body TaskResponse
}

func (h handlers) taskOut(t domain.Task) *taskOutput {
	return &taskOutput{Body: newMapper(h.e).task(t)}
}

func (h handlers) registerTasks(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-task",
		Method:        http.MethodPost,
		Path:          "/requests/{request_id}/tasks",
		Summary:       "Add a validation task to a request",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		requestPath
		Body CreateTaskRequest
	}) (*taskOutput, error) {
		id, serr := h.decodeID(obfuscate.Request, input.RequestID)
		if serr != nil {
			return nil, serr
		}
		t, err := h.e.CreateTask(ctx, id, domain.TaskType(input.Body.Type))
		if err != nil {
			return nil, h.fail(err)
		}
		return h.taskOut(t), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-tasks",
		Method:      http.MethodGet,
		Path:        "/requests/{request_id}/tasks",
		Summary:     "List the tasks of a request",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *requestPath) (*struct {
		Body TaskList
	}, error) {
		id, serr := h.decodeID(obfuscate.Request, input.RequestID)
		if serr != nil {
			return nil, serr
		}
		if _, err := h.e.Repo.GetRequest(ctx, id); err != nil {
			return nil, h.fail(err)
		}
		items, err := h.e.Repo.ListTasks(ctx, id)
		if err != nil {
			return nil, h.fail(err)
		}
		return &struct {
			Body TaskList
		}{Body: TaskList{Items: newMapper(h.e).tasks(items)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-task",
		Method:      http.MethodGet,
		Path:        "/tasks/{task_id}",
		Summary:     "Get a validation task",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *taskPath) (*taskOutput, error) {
		id, serr := h.decodeID(obfuscate.Task, input.TaskID)
		if serr != nil {
			return nil, serr
		}
		t, err := h.e.Repo.GetTask(ctx, id)
		if err != nil {
			return nil, h.fail(err)
		}
		return h.taskOut(t), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-task",
		Method:      http.MethodDelete,
		Path:        "/tasks/{task_id}",
		Summary:     "Remove a task with its outcomes",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusNotFound},
	}, func(ctx context.Context, input *taskPath) (*struct{}, error) {
		id, serr := h.decodeID(obfuscate.Task, input.TaskID)
		if serr != nil {
			return nil, serr
		}
		if err := h.e.DeleteTask(ctx, id); err != nil {
			return nil, h.fail(err)
		}
		return nil, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "change-task-status",
		Method:      http.MethodPost,
		Path:        "/tasks/{task_id}/status",
		Summary:     "Move a task through its lifecycle",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		taskPath
		Body TaskStatusRequest
	}) (*taskOutput, error) {
		id, serr := h.decodeID(obfuscate.Task, input.TaskID)
		if serr != nil {
			return nil, serr
		}
		var (
			t   domain.Task
			err error
		)
		reason := input.Body.Reason
		switch domain.TaskStatus(input.Body.Status) {
		case domain.TaskInitiated:
			t, err = h.e.InitiateTask(ctx, id)
		case domain.TaskCompleted:
			t, err = h.e.CompleteTask(ctx, id, reason)
		case domain.TaskFailed:
			t, err = h.e.FailTask(ctx, id, reason)
		case domain.TaskSkipped:
			t, err = h.e.SkipTask(ctx, id, reason)
		case domain.TaskNotApplicable:
			t, err = h.e.MarkTaskNotApplicable(ctx, id, reason)
		default:
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "unknown status", map[string]any{"status": input.Body.Status})
		}
		if err != nil {
			return nil, h.fail(err)
		}
		return h.taskOut(t), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-task-progress",
		Method:      http.MethodPut,
		Path:        "/tasks/{task_id}/progress",
		Summary:     "Set task progress",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		taskPath
		Body ProgressRequest
	}) (*taskOutput, error) {
		id, serr := h.decodeID(obfuscate.Task, input.TaskID)
		if serr != nil {
			return nil, serr
		}
		t, err := h.e.SetTaskProgress(ctx, id, input.Body.Progress)
		if err != nil {
			return nil, h.fail(err)
		}
		return h.taskOut(t), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-task-process",
		Method:      http.MethodPut,
		Path:        "/tasks/{task_id}/process",
		Summary:     "Record the process running a task",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		taskPath
		Body ProcessDetailsRequest
	}) (*taskOutput, error) {
		id, serr := h.decodeID(obfuscate.Task, input.TaskID)
		if serr != nil {
			return nil, serr
		}
		t, err := h.e.SetTaskProcessDetails(ctx, id, input.Body.ProcessID, input.Body.Command)
		if err != nil {
			return nil, h.fail(err)
		}
		return h.taskOut(t), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "task-aggregate",
		Method:      http.MethodGet,
		Path:        "/tasks/{task_id}/aggregate",
		Summary:     "Aggregate status of a task's outcomes",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *taskPath) (*struct {
		Body AggregateResponse
	}, error) {
		id, serr := h.decodeID(obfuscate.Task, input.TaskID)
		if serr != nil {
			return nil, serr
		}
		status, err := h.e.TaskAggregate(ctx, id)
		if err != nil {
			return nil, h.fail(err)
		}
		return &struct {
			Body AggregateResponse
		}{Body: AggregateResponse{TaskID: input.TaskID, Status: string(status), Label: status.Label()}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "apply-task-status",
		Method:      http.MethodPost,
		Path:        "/tasks/{task_id}/apply",
		Summary:     "Write the task's aggregate status onto the request's model",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *taskPath) (*modelOutput, error) {
		id, serr := h.decodeID(obfuscate.Task, input.TaskID)
		if serr != nil {
			return nil, serr
		}
		m, err := h.e.ApplyTaskStatus(ctx, id)
		if err != nil {
			return nil, h.fail(err)
		}
		return &modelOutput{Body: newMapper(h.e).model(ctx, h.e, m)}, nil
	})
}

func (h handlers) registerOutcomes(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID:   "record-outcomes",
		Method:        http.MethodPost,
		Path:          "/tasks/{task_id}/outcomes",
		Summary:       "Record outcomes of a task; all or none are stored",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		taskPath
		Body RecordOutcomesRequest
	}) (*struct {
		Body OutcomeList
	}, error) {
		taskID, serr := h.decodeID(obfuscate.Task, input.TaskID)
		if serr != nil {
			return nil, serr
		}
		batch := make([]domain.OutcomeInput, 0, len(input.Body.Outcomes))
		for _, o := range input.Body.Outcomes {
			in := domain.OutcomeInput{
				TaskID:         taskID,
				Feature:        o.Feature,
				FeatureVersion: o.FeatureVersion,
				Severity:       domain.Severity(o.Severity),
				Code:           o.Code,
				Expected:       o.Expected,
				Observed:       o.Observed,
			}
			if o.InstanceID != nil && *o.InstanceID != "" {
				id, serr := h.decodeID(obfuscate.Instance, *o.InstanceID)
				if serr != nil {
					return nil, serr
				}
				in.InstanceID = &id
			}
			batch = append(batch, in)
		}
		out, err := h.e.RecordOutcomes(ctx, batch)
		if err != nil {
			return nil, h.fail(err)
		}
		return &struct {
			Body OutcomeList
		}{Body: OutcomeList{Items: newMapper(h.e).outcomes(out)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-outcomes",
		Method:      http.MethodGet,
		Path:        "/tasks/{task_id}/outcomes",
		Summary:     "List the outcomes of a task",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *taskPath) (*struct {
		Body OutcomeList
	}, error) {
		id, serr := h.decodeID(obfuscate.Task, input.TaskID)
		if serr != nil {
			return nil, serr
		}
		if _, err := h.e.Repo.GetTask(ctx, id); err != nil {
			return nil, h.fail(err)
		}
		items, err := h.e.Repo.ListOutcomes(ctx, nil, id)
		if err != nil {
			return nil, h.fail(err)
		}
		return &struct {
			Body OutcomeList
		}{Body: OutcomeList{Items: newMapper(h.e).outcomes(items)}}, nil
	})
}
