package payroll

import "fmt"

type Status string

const (
	StatusDraft      Status = "draft"
	StatusCalculated Status = "calculated"
	StatusReview     Status = "review"
	StatusApproved   Status = "approved"
	StatusLocked     Status = "locked"
	StatusPosted     Status = "posted"
)

func Statuses() []Status {
	return []Status{StatusDraft, StatusCalculated, StatusReview, StatusApproved, StatusLocked, StatusPosted}
}

func ParseStatus(raw string) (Status, error) {
	for _, s := range Statuses() {
		if string(s) == raw {
			return s, nil
		}
	}
	return "", NewValidationError("status", fmt.Sprintf("unknown status %q", raw))
}

// Editable reports whether results and inputs of a run in this status may
// still change.
func (s Status) Editable() bool {
	return s == StatusDraft || s == StatusCalculated || s == StatusReview
}

// Finalized reports whether the run's results are frozen.
func (s Status) Finalized() bool {
	return s == StatusLocked || s == StatusPosted
}

type Frequency string

const (
	FrequencyWeekly      Frequency = "weekly"
	FrequencyFortnightly Frequency = "fortnightly"
	FrequencyMonthly     Frequency = "monthly"
)

// PeriodsPerYear is the annualization factor used for bracket tax.
func (f Frequency) PeriodsPerYear() (int64, bool) {
	switch f {
	case FrequencyWeekly:
		return 52, true
	case FrequencyFortnightly:
		return 26, true
	case FrequencyMonthly:
		return 12, true
	}
	return 0, false
}

func (f Frequency) Valid() bool {
	_, ok := f.PeriodsPerYear()
	return ok
}

func (f Frequency) initial() string {
	switch f {
	case FrequencyWeekly:
		return "W"
	case FrequencyFortnightly:
		return "F"
	}
	return "M"
}

// TerminationPolicy decides what a recalculation does with an employee who
// was terminated after an earlier calculation of the same run.
type TerminationPolicy string

const (
	TerminationDrop   TerminationPolicy = "drop"
	TerminationRetain TerminationPolicy = "retain"
)

const (
	AuditEntityRun = "pay_run"

	ActionRunCreate        = "payrun.create"
	ActionRunInput         = "payrun.input.add"
	ActionRunExclude       = "payrun.employee.exclude"
	ActionRunRecalculate   = "payrun.recalculate"
	ActionEmployeeDropped  = "payrun.employee.dropped"
	ActionEmployeeRetained = "payrun.employee.retained"
	ActionRunTransition    = "payrun.transition"
	ActionRunPost          = "payrun.post"
	ActionPayslips         = "payrun.payslips"
)
