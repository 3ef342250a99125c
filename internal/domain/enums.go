package domain

import "fmt"

type RequestStatus string

const (
	RequestPending   RequestStatus = "PENDING"
	RequestInitiated RequestStatus = "INITIATED"
	RequestFailed    RequestStatus = "FAILED"
	RequestCompleted RequestStatus = "COMPLETED"
)

func (s RequestStatus) Valid() bool {
	switch s {
	case RequestPending, RequestInitiated, RequestFailed, RequestCompleted:
		return true
	}
	return false
}

func (s RequestStatus) Final() bool {
	return s == RequestFailed || s == RequestCompleted
}

type TaskType string

const (
	TaskSyntax             TaskType = "SYNTAX"
	TaskSchema             TaskType = "SCHEMA"
	TaskMVD                TaskType = "MVD"
	TaskBSDD               TaskType = "BSDD"
	TaskParseInfo          TaskType = "INFO"
	TaskPrerequisites      TaskType = "PREREQ"
	TaskNormativeIA        TaskType = "NORMATIVE_IA"
	TaskNormativeIP        TaskType = "NORMATIVE_IP"
	TaskIndustryPractices  TaskType = "INDUSTRY"
	TaskInstanceCompletion TaskType = "INST_COMPLETION"
)

var taskTypeLabels = map[TaskType]string{
	TaskSyntax:             "STEP Physical File Syntax",
	TaskSchema:             "Schema (EXPRESS language)",
	TaskMVD:                "Model View Definitions",
	TaskBSDD:               "bSDD Compliance",
	TaskParseInfo:          "Parse Info",
	TaskPrerequisites:      "Prerequisites",
	TaskNormativeIA:        "Implementer Agreements (IA)",
	TaskNormativeIP:        "Informal Propositions (IP)",
	TaskIndustryPractices:  "Industry Practices",
	TaskInstanceCompletion: "Instance Completion",
}

// TaskTypes lists every task type in pipeline order.
var TaskTypes = []TaskType{
	TaskSyntax, TaskSchema, TaskMVD, TaskBSDD, TaskParseInfo, TaskPrerequisites,
	TaskNormativeIA, TaskNormativeIP, TaskIndustryPractices, TaskInstanceCompletion,
}

func (t TaskType) Valid() bool {
	_, ok := taskTypeLabels[t]
	return ok
}

func (t TaskType) Label() string { return taskTypeLabels[t] }

func ParseTaskType(s string) (TaskType, error) {
	t := TaskType(s)
	if !t.Valid() {
		return "", fmt.Errorf("%w: unknown task type %q", ErrInvalidArgument, s)
	}
	return t, nil
}

type TaskStatus string

const (
	TaskPending       TaskStatus = "PENDING"
	TaskSkipped       TaskStatus = "SKIPPED"
	TaskNotApplicable TaskStatus = "N/A"
	TaskInitiated     TaskStatus = "INITIATED"
	TaskFailed        TaskStatus = "FAILED"
	TaskCompleted     TaskStatus = "COMPLETED"
)

func (s TaskStatus) Valid() bool {
	switch s {
	case TaskPending, TaskSkipped, TaskNotApplicable, TaskInitiated, TaskFailed, TaskCompleted:
		return true
	}
	return false
}

func (s TaskStatus) Final() bool {
	switch s {
	case TaskSkipped, TaskFailed, TaskNotApplicable, TaskCompleted:
		return true
	}
	return false
}

// ModelStatus is the per-check status stored on a Model and produced by aggregation.
type ModelStatus string

const (
	StatusValid         ModelStatus = "v"
	StatusInvalid       ModelStatus = "i"
	StatusNotValidated  ModelStatus = "n"
	StatusWarning       ModelStatus = "w"
	StatusNotApplicable ModelStatus = "-"
)

func (s ModelStatus) Valid() bool {
	switch s {
	case StatusValid, StatusInvalid, StatusNotValidated, StatusWarning, StatusNotApplicable:
		return true
	}
	return false
}

func (s ModelStatus) Label() string {
	switch s {
	case StatusValid:
		return "Valid"
	case StatusInvalid:
		return "Invalid"
	case StatusNotValidated:
		return "Not Validated"
	case StatusWarning:
		return "Warning"
	case StatusNotApplicable:
		return "Not Applicable"
	}
	return string(s)
}

type Severity int

const (
	SeverityNotApplicable Severity = 0
	SeverityExecuted      Severity = 1
	SeverityPassed        Severity = 2
	SeverityWarning       Severity = 3
	SeverityError         Severity = 4
)

func (s Severity) Valid() bool {
	return s >= SeverityNotApplicable && s <= SeverityError
}

func (s Severity) String() string {
	switch s {
	case SeverityNotApplicable:
		return "N/A"
	case SeverityExecuted:
		return "Executed"
	case SeverityPassed:
		return "Passed"
	case SeverityWarning:
		return "Warning"
	case SeverityError:
		return "Error"
	}
	return fmt.Sprintf("Severity(%d)", int(s))
}

// ClassLetter is the first character every outcome code of this severity carries.
func (s Severity) ClassLetter() byte {
	switch s {
	case SeverityNotApplicable:
		return 'N'
	case SeverityExecuted:
		return 'X'
	case SeverityPassed:
		return 'P'
	case SeverityWarning:
		return 'W'
	case SeverityError:
		return 'E'
	}
	return 0
}

// ParseSeverity accepts the numeric value or the label, case-insensitively for labels.
func ParseSeverity(s string) (Severity, error) {
	switch s {
	case "0", "N/A", "n/a", "NOT_APPLICABLE", "not_applicable":
		return SeverityNotApplicable, nil
	case "1", "Executed", "EXECUTED", "executed":
		return SeverityExecuted, nil
	case "2", "Passed", "PASSED", "passed":
		return SeverityPassed, nil
	case "3", "Warning", "WARNING", "warning":
		return SeverityWarning, nil
	case "4", "Error", "ERROR", "error":
		return SeverityError, nil
	}
	return 0, fmt.Errorf("%w: unknown severity %q", ErrInvalidArgument, s)
}

type License string

const (
	LicenseUnknown License = "UNKNOWN"
	LicensePrivate License = "PRIVATE"
	LicenseCC      License = "CC"
	LicenseMIT     License = "MIT"
	LicenseGPL     License = "GPL"
	LicenseLGPL    License = "LGPL"
)

func (l License) Valid() bool {
	switch l {
	case LicenseUnknown, LicensePrivate, LicenseCC, LicenseMIT, LicenseGPL, LicenseLGPL:
		return true
	}
	return false
}

// DeletionState is the soft-delete marker of a ValidationRequest.
type DeletionState string

const (
	Active  DeletionState = "active"
	Deleted DeletionState = "deleted"
)
