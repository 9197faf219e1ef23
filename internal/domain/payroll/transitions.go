package payroll

// predecessors lists, for each target status, the statuses it may be reached
// from. Draft is only ever an initial state and posted is terminal.
var predecessors = map[Status][]Status{
	StatusCalculated: {StatusDraft, StatusCalculated, StatusReview},
	StatusReview:     {StatusCalculated},
	StatusApproved:   {StatusReview},
	StatusLocked:     {StatusApproved},
	StatusPosted:     {StatusLocked},
}

func CanTransition(from, to Status) bool {
	for _, allowed := range predecessors[to] {
		if allowed == from {
			return true
		}
	}
	return false
}

func checkTransition(from, to Status) error {
	if !CanTransition(from, to) {
		return &InvalidTransitionError{Current: from, Requested: to}
	}
	return nil
}
