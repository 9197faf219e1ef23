package payroll

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrRunNotFound      = errors.New("pay run not found")
	ErrEmployeeNotFound = errors.New("employee not found")

	// ErrStaleRun is returned by a status write whose expected status or
	// version no longer matches the stored row.
	ErrStaleRun = errors.New("pay run changed concurrently")

	// ErrRunNotEditable rejects input and exclusion changes once a run has
	// been approved.
	ErrRunNotEditable = errors.New("pay run is no longer editable")

	// ErrRunNumberTaken means another run claimed the generated run number
	// between sequencing and insert.
	ErrRunNumberTaken = errors.New("run number already taken")
)

// ConfigurationError means statutory tables or pay items are missing or
// unusable. It is never defaulted away.
type ConfigurationError struct {
	Reason string
	Err    error
}

func (e *ConfigurationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("configuration error: %s: %v", e.Reason, e.Err)
	}
	return "configuration error: " + e.Reason
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

type FieldIssue struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

type ValidationError struct {
	Issues []FieldIssue
}

func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Issues: []FieldIssue{{Field: field, Reason: reason}}}
}

func (e *ValidationError) Add(field, reason string) {
	e.Issues = append(e.Issues, FieldIssue{Field: field, Reason: reason})
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Issues))
	for _, issue := range e.Issues {
		parts = append(parts, issue.Field+": "+issue.Reason)
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func (e *ValidationError) orNil() error {
	if e == nil || len(e.Issues) == 0 {
		return nil
	}
	return e
}

type InvalidTransitionError struct {
	Current   Status
	Requested Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition from %s to %s", e.Current, e.Requested)
}

// PostingError wraps a failure of the posting collaborator. The run stays
// locked and the post can be retried.
type PostingError struct {
	RunID string
	Err   error
}

func (e *PostingError) Error() string {
	return fmt.Sprintf("posting run %s failed: %v", e.RunID, e.Err)
}

func (e *PostingError) Unwrap() error { return e.Err }

type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence error during %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// persistence wraps store failures that are not already part of the domain
// taxonomy.
func persistence(op string, err error) error {
	if err == nil {
		return nil
	}
	var (
		cfg   *ConfigurationError
		val   *ValidationError
		trans *InvalidTransitionError
		post  *PostingError
		pers  *PersistenceError
	)
	switch {
	case errors.As(err, &cfg), errors.As(err, &val), errors.As(err, &trans),
		errors.As(err, &post), errors.As(err, &pers),
		errors.Is(err, ErrRunNotFound), errors.Is(err, ErrEmployeeNotFound),
		errors.Is(err, ErrStaleRun), errors.Is(err, ErrRunNotEditable), errors.Is(err, ErrRunNumberTaken):
		return err
	}
	return &PersistenceError{Op: op, Err: err}
}
