package domain

import (
	"encoding/json"
	"fmt"
	"sort"
)

type OutcomeCode struct {
	Code  string `json:"code"`
	Label string `json:"label"`
}

var outcomeCodes = map[string]string{
	"P00010": "Passed",
	"N00010": "Not Applicable",

	"E00001": "Syntax Error",
	"E00002": "Schema Error",
	"E00010": "Type Error",
	"E00020": "Value Error",
	"E00030": "Geometry Error",
	"E00040": "Cardinality Error",
	"E00050": "Duplicate Error",
	"E00060": "Placement Error",
	"E00070": "Units Error",
	"E00080": "Quantity Error",
	"E00090": "Enumerated Value Error",
	"E00100": "Relationship Error",
	"E00110": "Naming Error",
	"E00120": "Reference Error",
	"E00130": "Resource Error",
	"E00140": "Deprecation Error",
	"E00150": "Shape Representation Error",
	"E00160": "Instance Structure Error",

	"W00010": "Alignment Contains Business Logic Only",
	"W00020": "Alignment Contains Geometry Only",
	"W00030": "Warning",

	"X00040": "Executed",
}

const maxOutcomeCodeLen = 10

// OutcomeCodes returns the known catalogue sorted by code.
func OutcomeCodes() []OutcomeCode {
	res := make([]OutcomeCode, 0, len(outcomeCodes))
	for c, l := range outcomeCodes {
		res = append(res, OutcomeCode{Code: c, Label: l})
	}
	sort.Slice(res, func(i, j int) bool { return res[i].Code < res[j].Code })
	return res
}

func OutcomeCodeLabel(code string) (string, bool) {
	l, ok := outcomeCodes[code]
	return l, ok
}

// SeverityForCode derives the severity class from the code's first character.
func SeverityForCode(code string) (Severity, error) {
	if code == "" {
		return 0, fmt.Errorf("%w: empty code", ErrInvalidOutcomeCode)
	}
	switch code[0] {
	case 'X':
		return SeverityExecuted, nil
	case 'P':
		return SeverityPassed, nil
	case 'N':
		return SeverityNotApplicable, nil
	case 'W':
		return SeverityWarning, nil
	case 'E':
		return SeverityError, nil
	}
	return 0, fmt.Errorf("%w: %q has no severity class", ErrInvalidOutcomeCode, code)
}

// ValidateOutcomeCode checks that code belongs to the class of severity.
// Codes outside the catalogue are accepted when their class letter matches.
func ValidateOutcomeCode(severity Severity, code string) error {
	if !severity.Valid() {
		return fmt.Errorf("%w: severity %d", ErrInvalidArgument, int(severity))
	}
	if len(code) > maxOutcomeCodeLen {
		return fmt.Errorf("%w: %q longer than %d characters", ErrInvalidOutcomeCode, code, maxOutcomeCodeLen)
	}
	got, err := SeverityForCode(code)
	if err != nil {
		return err
	}
	if got != severity {
		return fmt.Errorf("%w: %q is a %s code, severity is %s", ErrInvalidOutcomeCode, code, got, severity)
	}
	return nil
}

type OutcomeInput struct {
	TaskID         int64
	InstanceID     *int64
	Feature        *string
	FeatureVersion *int
	Severity       Severity
	Code           string
	Expected       any
	Observed       any
}

func marshalOptional(v any) (json.RawMessage, error) {
	switch x := v.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		if len(x) == 0 {
			return nil, nil
		}
		if !json.Valid(x) {
			return nil, fmt.Errorf("%w: invalid json payload", ErrInvalidArgument)
		}
		return x, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}
	return b, nil
}

func NewOutcome(in OutcomeInput) (Outcome, error) {
	if in.TaskID <= 0 {
		return Outcome{}, fmt.Errorf("%w: validation task is required", ErrInvalidArgument)
	}
	if err := ValidateOutcomeCode(in.Severity, in.Code); err != nil {
		return Outcome{}, err
	}
	if in.FeatureVersion != nil && *in.FeatureVersion < 0 {
		return Outcome{}, fmt.Errorf("%w: feature version must be >= 0", ErrInvalidArgument)
	}
	expected, err := marshalOptional(in.Expected)
	if err != nil {
		return Outcome{}, err
	}
	observed, err := marshalOptional(in.Observed)
	if err != nil {
		return Outcome{}, err
	}
	return Outcome{
		TaskID:         in.TaskID,
		InstanceID:     in.InstanceID,
		Feature:        in.Feature,
		FeatureVersion: in.FeatureVersion,
		Severity:       in.Severity,
		Code:           in.Code,
		Expected:       expected,
		Observed:       observed,
	}, nil
}
