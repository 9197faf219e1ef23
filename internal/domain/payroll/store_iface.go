package payroll

import (
	"context"
	"time"

	"payrun/internal/domain/audit"
	"payrun/internal/domain/payitem"
	"payrun/internal/domain/taxtable"
)

// StoreAPI is the persistence contract of the lifecycle. Every method joins
// the transaction carried by ctx when there is one.
type StoreAPI interface {
	CompanySettings(ctx context.Context, companyID string) (CompanySettings, error)
	NextRunSequence(ctx context.Context, companyID string, frequency Frequency, periodStart time.Time) (int, error)
	InsertRun(ctx context.Context, run Run) error
	GetRun(ctx context.Context, companyID, runID string) (Run, error)
	// LockRun serializes lifecycle operations on one run until the
	// surrounding transaction ends.
	LockRun(ctx context.Context, companyID, runID string) (Run, error)
	ListRuns(ctx context.Context, companyID string, filter RunFilter) ([]Run, error)
	UpdateRunStatus(ctx context.Context, companyID, runID string, change StatusChange) (Run, error)

	ListEmployees(ctx context.Context, companyID string, frequency Frequency) ([]Employee, error)
	GetEmployee(ctx context.Context, companyID, employeeID string) (Employee, error)

	ListInputs(ctx context.Context, runID string) ([]Input, error)
	InsertInput(ctx context.Context, runID string, input Input) error
	ListExclusions(ctx context.Context, runID string) ([]Exclusion, error)
	UpsertExclusion(ctx context.Context, runID string, exclusion Exclusion) error

	InsertResults(ctx context.Context, runID string, calcVersion int, results []Breakdown) error
	ListResults(ctx context.Context, runID string, calcVersion int) ([]EmployeeResult, error)
	ListFinalizedResults(ctx context.Context, companyID string, from, to time.Time) ([]RunResult, error)
}

type RunFilter struct {
	Status    Status
	Frequency Frequency
	Limit     int
	Offset    int
}

// StatusChange is a check-then-set status write: it applies only while the
// stored run still has status From and row version ExpectedVersion.
type StatusChange struct {
	From            Status
	To              Status
	ExpectedVersion int

	// CalcVersion, when non-zero, repoints the run at a new result version.
	CalcVersion int
	Actor       string
	At          time.Time
	JournalRef  string
}

type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type TaxTableProvider interface {
	LoadTaxTables(ctx context.Context, effectiveDate time.Time) (taxtable.Table, error)
}

type PayItemProvider interface {
	LoadPayItems(ctx context.Context, companyID string) ([]payitem.PayItem, error)
}

// Poster turns a locked run into one balanced journal and returns its
// reference. It runs inside the lifecycle's transaction.
type Poster interface {
	PostPayrollRun(ctx context.Context, ec ExecContext, runID string) (string, error)
}

type PayslipGenerator interface {
	GeneratePayslips(ctx context.Context, companyID, runID string) (int, error)
}

type AuditSink interface {
	Record(ctx context.Context, entry audit.Entry) error
	List(ctx context.Context, companyID string, filter audit.Filter, limit, offset int) ([]audit.Event, error)
}

// TransitionObserver receives one call per finished lifecycle operation.
type TransitionObserver interface {
	ObserveTransition(to string, ok bool)
}
