package domain

// AggregateSeverities reduces outcome severities to one status.
//
// NotApplicable, Executed and Passed only apply while nothing stronger has been
// seen; Warning always applies; the first Error yields Invalid and stops. No
// outcomes at all aggregates to Valid.
func AggregateSeverities(severities []Severity) ModelStatus {
	var agg ModelStatus
	for _, s := range severities {
		switch s {
		case SeverityNotApplicable:
			if agg == "" || agg == StatusNotApplicable {
				agg = StatusNotApplicable
			}
		case SeverityExecuted, SeverityPassed:
			if agg == "" || agg == StatusNotApplicable {
				agg = StatusValid
			}
		case SeverityWarning:
			agg = StatusWarning
		case SeverityError:
			return StatusInvalid
		}
	}
	if agg == "" {
		return StatusValid
	}
	return agg
}

// AggregateOutcomes is AggregateSeverities over the outcomes of one task.
func AggregateOutcomes(outcomes []Outcome) ModelStatus {
	sev := make([]Severity, len(outcomes))
	for i, o := range outcomes {
		sev[i] = o.Severity
	}
	return AggregateSeverities(sev)
}

// ModelCheck returns the Model status column a task of this type reports into.
func (t TaskType) ModelCheck() (CheckField, bool) {
	switch t {
	case TaskSyntax:
		return CheckSyntax, true
	case TaskSchema:
		return CheckSchema, true
	case TaskMVD:
		return CheckMVD, true
	case TaskBSDD:
		return CheckBSDD, true
	case TaskNormativeIA:
		return CheckIA, true
	case TaskNormativeIP:
		return CheckIP, true
	case TaskIndustryPractices:
		return CheckIndustryPractices, true
	case TaskPrerequisites:
		return CheckPrereq, true
	}
	return "", false
}
