package domain

import (
	"fmt"
	"time"
)

func reasonPtr(reason string) *string {
	if reason == "" {
		return nil
	}
	return &reason
}

func timePtr(t time.Time) *time.Time {
	t = t.UTC()
	return &t
}

func duration(started, ended *time.Time, now time.Time) *time.Duration {
	if started == nil {
		return nil
	}
	end := now
	if ended != nil {
		end = *ended
	}
	d := end.Sub(*started)
	return &d
}

// NewRequest returns a pending, active request. Audit fields are left for the audit layer.
func NewRequest(fileName, file string, size int64) (Request, error) {
	if fileName == "" {
		return Request{}, fmt.Errorf("%w: file name is required", ErrInvalidArgument)
	}
	if size < 0 {
		return Request{}, fmt.Errorf("%w: size must be >= 0", ErrInvalidArgument)
	}
	return Request{
		FileName: fileName,
		File:     file,
		Size:     size,
		Status:   RequestPending,
		Deletion: Active,
	}, nil
}

func (r Request) HasFinalStatus() bool { return r.Status.Final() }

func (r Request) IsDeleted() bool { return r.Deletion == Deleted }

// Duration is completed-started, now-started while in flight, or nil if never started.
func (r Request) Duration(now time.Time) *time.Duration {
	return duration(r.Started, r.Completed, now)
}

func (r *Request) MarkAsInitiated(now time.Time, reason string) {
	r.Status = RequestInitiated
	r.StatusReason = reasonPtr(reason)
	r.Started = timePtr(now)
	r.Completed = nil
	r.Progress = 0
}

func (r *Request) MarkAsCompleted(now time.Time, reason string) {
	r.Status = RequestCompleted
	r.StatusReason = reasonPtr(reason)
	r.Completed = timePtr(now)
	r.Progress = 100
}

func (r *Request) MarkAsFailed(now time.Time, reason string) {
	r.Status = RequestFailed
	r.StatusReason = reasonPtr(reason)
	r.Completed = timePtr(now)
}

// MarkAsPending requeues the request.
func (r *Request) MarkAsPending(reason string) {
	r.Status = RequestPending
	r.StatusReason = reasonPtr(reason)
	r.Progress = 0
	r.Started = nil
	r.Completed = nil
}

func (r *Request) SetProgress(p int) error {
	if p < 0 || p > 100 {
		return fmt.Errorf("%w: progress %d outside 0..100", ErrInvalidArgument, p)
	}
	r.Progress = p
	return nil
}

func (r *Request) Delete()     { r.Deletion = Deleted }
func (r *Request) UndoDelete() { r.Deletion = Active }

func NewTask(requestID int64, typ TaskType) (Task, error) {
	if requestID <= 0 {
		return Task{}, fmt.Errorf("%w: request id is required", ErrInvalidArgument)
	}
	if !typ.Valid() {
		return Task{}, fmt.Errorf("%w: unknown task type %q", ErrInvalidArgument, typ)
	}
	return Task{RequestID: requestID, Type: typ, Status: TaskPending}, nil
}

func (t Task) HasFinalStatus() bool { return t.Status.Final() }

func (t Task) Duration(now time.Time) *time.Duration {
	return duration(t.Started, t.Ended, now)
}

func (t *Task) MarkAsInitiated(now time.Time) {
	t.Status = TaskInitiated
	t.Started = timePtr(now)
	t.Ended = nil
	t.Progress = 0
}

func (t *Task) MarkAsCompleted(now time.Time, reason string) {
	t.Status = TaskCompleted
	t.StatusReason = reasonPtr(reason)
	t.Ended = timePtr(now)
	t.Progress = 100
}

func (t *Task) MarkAsFailed(now time.Time, reason string) {
	t.Status = TaskFailed
	t.StatusReason = reasonPtr(reason)
	t.Ended = timePtr(now)
}

// MarkAsSkipped leaves timestamps alone and may be repeated.
func (t *Task) MarkAsSkipped(reason string) {
	t.Status = TaskSkipped
	t.StatusReason = reasonPtr(reason)
}

func (t *Task) MarkAsNotApplicable(reason string) {
	t.Status = TaskNotApplicable
	t.StatusReason = reasonPtr(reason)
}

func (t *Task) SetProgress(p int) error {
	if p < 0 || p > 100 {
		return fmt.Errorf("%w: progress %d outside 0..100", ErrInvalidArgument, p)
	}
	t.Progress = p
	return nil
}

func (t *Task) SetProcessDetails(pid int64, cmd string) {
	t.ProcessID = &pid
	t.ProcessCmd = reasonPtr(cmd)
}

func NewModelInstance(modelID, stepfileID int64, ifcType string) (ModelInstance, error) {
	if modelID <= 0 {
		return ModelInstance{}, fmt.Errorf("%w: model id is required", ErrInvalidArgument)
	}
	if stepfileID <= 0 {
		return ModelInstance{}, fmt.Errorf("%w: stepfile id must be positive", ErrInvalidArgument)
	}
	if ifcType == "" {
		return ModelInstance{}, fmt.Errorf("%w: ifc type is required", ErrInvalidArgument)
	}
	return ModelInstance{ModelID: modelID, StepfileID: stepfileID, IFCType: ifcType}, nil
}

func NewModel(fileName, file string, size int64, uploadedBy int64) (Model, error) {
	if fileName == "" {
		return Model{}, fmt.Errorf("%w: file name is required", ErrInvalidArgument)
	}
	if size < 0 {
		return Model{}, fmt.Errorf("%w: size must be >= 0", ErrInvalidArgument)
	}
	return Model{
		FileName:      fileName,
		File:          file,
		Size:          size,
		UploadedBy:    uploadedBy,
		License:       LicenseUnknown,
		ModelStatuses: NewModelStatuses(),
	}, nil
}
