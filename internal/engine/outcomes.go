package engine

import (
	"context"
	"database/sql"
	"fmt"

	"ifcvalidation/internal/domain"
	"ifcvalidation/internal/events"
	"ifcvalidation/internal/obfuscate"
)

func (e Engine) RecordOutcome(ctx context.Context, in domain.OutcomeInput) (domain.Outcome, error) {
	out, err := e.RecordOutcomes(ctx, []domain.OutcomeInput{in})
	if err != nil {
		return domain.Outcome{}, err
	}
	return out[0], nil
}

// RecordOutcomes stores a batch of outcomes in one transaction; one bad
// outcome rejects the whole batch.
func (e Engine) RecordOutcomes(ctx context.Context, inputs []domain.OutcomeInput) ([]domain.Outcome, error) {
	if _, err := requireActor(ctx); err != nil {
		return nil, err
	}
	outcomes := make([]domain.Outcome, 0, len(inputs))
	for _, in := range inputs {
		o, err := domain.NewOutcome(in)
		if err != nil {
			return nil, err
		}
		outcomes = append(outcomes, o)
	}
	taskTypes := map[int64]domain.TaskType{}
	taskModels := map[int64]*int64{}
	err := e.inTx(ctx, func(tx *sql.Tx) error {
		for i := range outcomes {
			o := &outcomes[i]
			if _, ok := taskTypes[o.TaskID]; !ok {
				t, err := e.Repo.GetTaskTx(ctx, tx, o.TaskID, false)
				if err != nil {
					return wrapNotFound("validation task", err)
				}
				req, err := e.Repo.GetRequestTx(ctx, tx, t.RequestID, false)
				if err != nil {
					return wrapNotFound("validation request", err)
				}
				taskTypes[o.TaskID] = t.Type
				taskModels[o.TaskID] = req.ModelID
			}
			if err := e.checkOutcomeInstance(ctx, tx, o, taskModels[o.TaskID]); err != nil {
				return err
			}
			a, err := e.stamper().OnCreate(ctx, o)
			if err != nil {
				return err
			}
			if err := e.Repo.InsertOutcome(ctx, tx, o); err != nil {
				return err
			}
			payload := events.EventPayload{
				"task_id":      e.publicID(obfuscate.Task, o.TaskID),
				"severity":     o.Severity.String(),
				"outcome_code": o.Code,
			}
			if o.InstanceID != nil {
				payload["instance_id"] = e.publicID(obfuscate.Instance, *o.InstanceID)
			}
			if err := e.events().Append(ctx, tx, "outcome.recorded", "validation_outcome", e.publicID(obfuscate.Outcome, o.ID), a.ID, payload); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	for _, o := range outcomes {
		e.Metrics.Outcome(string(taskTypes[o.TaskID]), o.Severity.String())
	}
	e.log().Debug("outcomes recorded", "count", len(outcomes))
	return outcomes, nil
}

// checkOutcomeInstance rejects an instance of another model than the one
// attached to the task's request. Without an attached model any instance is
// accepted.
func (e Engine) checkOutcomeInstance(ctx context.Context, tx *sql.Tx, o *domain.Outcome, modelID *int64) error {
	if o.InstanceID == nil {
		return nil
	}
	mi, err := e.Repo.GetInstance(ctx, tx, *o.InstanceID)
	if err != nil {
		return wrapNotFound("model instance", err)
	}
	if modelID != nil && mi.ModelID != *modelID {
		return fmt.Errorf("%w: instance %s does not belong to model %s",
			domain.ErrInvalidArgument,
			e.publicID(obfuscate.Instance, mi.ID),
			e.publicID(obfuscate.Model, *modelID))
	}
	return nil
}
