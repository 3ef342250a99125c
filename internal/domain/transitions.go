package domain

import (
	"errors"
	"fmt"
)

var ErrInvalidTransition = errors.New("invalid status transition")

var requestTransitions = map[RequestStatus][]RequestStatus{
	RequestPending:   {RequestPending, RequestInitiated, RequestFailed},
	RequestInitiated: {RequestPending, RequestInitiated, RequestCompleted, RequestFailed},
	RequestCompleted: {RequestPending},
	RequestFailed:    {RequestPending},
}

// Skipped and N/A may be set without the task ever running; both may be repeated.
var taskTransitions = map[TaskStatus][]TaskStatus{
	TaskPending:       {TaskInitiated, TaskSkipped, TaskNotApplicable, TaskFailed},
	TaskInitiated:     {TaskInitiated, TaskCompleted, TaskFailed, TaskSkipped, TaskNotApplicable},
	TaskSkipped:       {TaskSkipped},
	TaskNotApplicable: {TaskNotApplicable},
	TaskCompleted:     {},
	TaskFailed:        {},
}

// CheckRequestTransition reports whether a request may move from one status to the next.
// Final requests can only be requeued.
func CheckRequestTransition(from, to RequestStatus) error {
	for _, s := range requestTransitions[from] {
		if s == to {
			return nil
		}
	}
	return fmt.Errorf("%w: request %s -> %s", ErrInvalidTransition, from, to)
}

func CheckTaskTransition(from, to TaskStatus) error {
	for _, s := range taskTransitions[from] {
		if s == to {
			return nil
		}
	}
	return fmt.Errorf("%w: task %s -> %s", ErrInvalidTransition, from, to)
}
