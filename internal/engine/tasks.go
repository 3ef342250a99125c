package engine

import (
	"context"
	"database/sql"
	"fmt"

	"ifcvalidation/internal/domain"
	"ifcvalidation/internal/events"
	"ifcvalidation/internal/obfuscate"
)

func (e Engine) CreateTask(ctx context.Context, requestID int64, typ domain.TaskType) (domain.Task, error) {
	t, err := domain.NewTask(requestID, typ)
	if err != nil {
		return domain.Task{}, err
	}
	a, err := e.stamper().OnCreate(ctx, &t)
	if err != nil {
		return domain.Task{}, err
	}
	err = e.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := e.Repo.GetRequestTx(ctx, tx, requestID, false); err != nil {
			return wrapNotFound("validation request", err)
		}
		if err := e.Repo.InsertTask(ctx, tx, &t); err != nil {
			return err
		}
		return e.events().Append(ctx, tx, "task.created", "validation_task", e.publicID(obfuscate.Task, t.ID), a.ID, events.EventPayload{
			"request_id": e.publicID(obfuscate.Request, requestID),
			"type":       t.Type,
		})
	})
	if err != nil {
		return domain.Task{}, err
	}
	e.Metrics.Transition("task", string(t.Status))
	e.log().Info("task created",
		"task_id", e.publicID(obfuscate.Task, t.ID),
		"request_id", e.publicID(obfuscate.Request, requestID),
		"type", t.Type,
		"actor", a.Username,
	)
	return t, nil
}

func (e Engine) mutateTask(ctx context.Context, id int64, evtType string, fn func(*domain.Task) error) (domain.Task, error) {
	var t domain.Task
	var from domain.TaskStatus
	err := e.inTx(ctx, func(tx *sql.Tx) error {
		var err error
		t, err = e.Repo.GetTaskTx(ctx, tx, id, true)
		if err != nil {
			return wrapNotFound("validation task", err)
		}
		from = t.Status
		if err := fn(&t); err != nil {
			return err
		}
		a, err := e.stamper().OnUpdate(ctx, &t)
		if err != nil {
			return err
		}
		if err := e.Repo.UpdateTask(ctx, tx, &t); err != nil {
			return err
		}
		return e.events().Append(ctx, tx, evtType, "validation_task", e.publicID(obfuscate.Task, t.ID), a.ID, events.EventPayload{
			"from_status": from,
			"to_status":   t.Status,
			"progress":    t.Progress,
		})
	})
	if err != nil {
		return domain.Task{}, err
	}
	if from != t.Status {
		e.Metrics.Transition("task", string(t.Status))
		e.log().Info("task status changed",
			"task_id", e.publicID(obfuscate.Task, t.ID),
			"type", t.Type,
			"from", from,
			"status", t.Status,
		)
	}
	return t, nil
}

func (e Engine) transitionTask(ctx context.Context, id int64, to domain.TaskStatus, apply func(*domain.Task)) (domain.Task, error) {
	return e.mutateTask(ctx, id, "task.status", func(t *domain.Task) error {
		if err := domain.CheckTaskTransition(t.Status, to); err != nil {
			return err
		}
		apply(t)
		return nil
	})
}

func (e Engine) InitiateTask(ctx context.Context, id int64) (domain.Task, error) {
	return e.transitionTask(ctx, id, domain.TaskInitiated, func(t *domain.Task) { t.MarkAsInitiated(e.now()) })
}

func (e Engine) CompleteTask(ctx context.Context, id int64, reason string) (domain.Task, error) {
	return e.transitionTask(ctx, id, domain.TaskCompleted, func(t *domain.Task) { t.MarkAsCompleted(e.now(), reason) })
}

func (e Engine) FailTask(ctx context.Context, id int64, reason string) (domain.Task, error) {
	return e.transitionTask(ctx, id, domain.TaskFailed, func(t *domain.Task) { t.MarkAsFailed(e.now(), reason) })
}

func (e Engine) SkipTask(ctx context.Context, id int64, reason string) (domain.Task, error) {
	return e.transitionTask(ctx, id, domain.TaskSkipped, func(t *domain.Task) { t.MarkAsSkipped(reason) })
}

func (e Engine) MarkTaskNotApplicable(ctx context.Context, id int64, reason string) (domain.Task, error) {
	return e.transitionTask(ctx, id, domain.TaskNotApplicable, func(t *domain.Task) { t.MarkAsNotApplicable(reason) })
}

func (e Engine) SetTaskProgress(ctx context.Context, id int64, progress int) (domain.Task, error) {
	return e.mutateTask(ctx, id, "task.progress", func(t *domain.Task) error {
		return t.SetProgress(progress)
	})
}

// SetTaskProcessDetails records the external process running the task. Status is unchanged.
func (e Engine) SetTaskProcessDetails(ctx context.Context, id, pid int64, cmd string) (domain.Task, error) {
	return e.mutateTask(ctx, id, "task.process", func(t *domain.Task) error {
		if pid <= 0 {
			return fmt.Errorf("%w: process id must be positive", domain.ErrInvalidArgument)
		}
		t.SetProcessDetails(pid, cmd)
		return nil
	})
}

// DeleteTask removes the task together with its outcomes.
func (e Engine) DeleteTask(ctx context.Context, id int64) error {
	a, err := requireActor(ctx)
	if err != nil {
		return err
	}
	var t domain.Task
	err = e.inTx(ctx, func(tx *sql.Tx) error {
		var err error
		if t, err = e.Repo.GetTaskTx(ctx, tx, id, true); err != nil {
			return wrapNotFound("validation task", err)
		}
		if err := e.Repo.DeleteTask(ctx, tx, id); err != nil {
			return wrapNotFound("validation task", err)
		}
		return e.events().Append(ctx, tx, "task.deleted", "validation_task", e.publicID(obfuscate.Task, id), a.ID, events.EventPayload{
			"request_id": e.publicID(obfuscate.Request, t.RequestID),
			"type":       t.Type,
		})
	})
	if err != nil {
		return err
	}
	e.log().Info("task deleted",
		"task_id", e.publicID(obfuscate.Task, id),
		"request_id", e.publicID(obfuscate.Request, t.RequestID),
		"actor", a.Username,
	)
	return nil
}

// TaskAggregate reduces the severities of a task's outcomes to one status.
func (e Engine) TaskAggregate(ctx context.Context, id int64) (domain.ModelStatus, error) {
	t, err := e.Repo.GetTask(ctx, id)
	if err != nil {
		return "", wrapNotFound("validation task", err)
	}
	sev, err := e.Repo.TaskSeverities(ctx, nil, id)
	if err != nil {
		return "", err
	}
	status := domain.AggregateSeverities(sev)
	e.Metrics.Aggregate(string(t.Type), string(status))
	return status, nil
}

// ApplyTaskStatus writes the task's aggregate status into the matching status
// field of the model attached to its request.
func (e Engine) ApplyTaskStatus(ctx context.Context, taskID int64) (domain.Model, error) {
	var m domain.Model
	var status domain.ModelStatus
	var field domain.CheckField
	err := e.inTx(ctx, func(tx *sql.Tx) error {
		t, err := e.Repo.GetTaskTx(ctx, tx, taskID, false)
		if err != nil {
			return wrapNotFound("validation task", err)
		}
		var ok bool
		field, ok = t.Type.ModelCheck()
		if !ok {
			return fmt.Errorf("%w: task type %s has no model status", domain.ErrInvalidArgument, t.Type)
		}
		req, err := e.Repo.GetRequestTx(ctx, tx, t.RequestID, false)
		if err != nil {
			return wrapNotFound("validation request", err)
		}
		if req.ModelID == nil {
			return ErrNoModel
		}
		sev, err := e.Repo.TaskSeverities(ctx, tx, taskID)
		if err != nil {
			return err
		}
		status = domain.AggregateSeverities(sev)
		m, err = e.Repo.GetModel(ctx, tx, *req.ModelID, true)
		if err != nil {
			return wrapNotFound("model", err)
		}
		if err := m.Set(field, status); err != nil {
			return err
		}
		a, err := e.stamper().OnUpdate(ctx, &m)
		if err != nil {
			return err
		}
		if err := e.Repo.UpdateModel(ctx, tx, &m); err != nil {
			return err
		}
		return e.events().Append(ctx, tx, "model.status", "model", e.publicID(obfuscate.Model, m.ID), a.ID, events.EventPayload{
			"task_id": e.publicID(obfuscate.Task, taskID),
			"check":   field,
			"status":  status,
		})
	})
	if err != nil {
		return domain.Model{}, err
	}
	e.log().Info("model status applied",
		"model_id", e.publicID(obfuscate.Model, m.ID),
		"task_id", e.publicID(obfuscate.Task, taskID),
		"check", field,
		"status", status,
	)
	return m, nil
}
