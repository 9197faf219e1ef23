package posting

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"payrun/internal/domain/payroll"
)

// RunReader is the slice of the payroll store posting reads from. Calls
// join the lifecycle transaction carried by ctx.
type RunReader interface {
	GetRun(ctx context.Context, companyID, runID string) (payroll.Run, error)
	ListResults(ctx context.Context, runID string, calcVersion int) ([]payroll.EmployeeResult, error)
}

type StoreAPI interface {
	PostingAccounts(ctx context.Context, companyID string) (Accounts, error)
	ActiveAccounts(ctx context.Context, companyID string) (map[string]bool, error)
	InsertJournal(ctx context.Context, j Journal, postedBy string) error
}

type Service struct {
	runs  RunReader
	store StoreAPI
	log   zerolog.Logger
}

func NewService(runs RunReader, store StoreAPI, log zerolog.Logger) *Service {
	return &Service{runs: runs, store: store, log: log}
}

// PostPayrollRun writes the journal for a locked run and returns its
// reference. Every account the journal touches must exist and be active.
func (s *Service) PostPayrollRun(ctx context.Context, ec payroll.ExecContext, runID string) (string, error) {
	run, err := s.runs.GetRun(ctx, ec.CompanyID, runID)
	if err != nil {
		return "", err
	}
	if run.Status != payroll.StatusLocked {
		return "", fmt.Errorf("%w: %s is %s", ErrRunNotLocked, run.RunNumber, run.Status)
	}
	results, err := s.runs.ListResults(ctx, run.ID, run.CalcVersion)
	if err != nil {
		return "", err
	}
	accounts, err := s.store.PostingAccounts(ctx, ec.CompanyID)
	if err != nil {
		return "", err
	}
	journal, err := BuildJournal(run, results, accounts)
	if err != nil {
		return "", err
	}

	active, err := s.store.ActiveAccounts(ctx, ec.CompanyID)
	if err != nil {
		return "", err
	}
	for _, line := range journal.Lines {
		if !active[line.Account] {
			return "", fmt.Errorf("%w: %s", ErrUnresolvableAccount, line.Account)
		}
	}

	journal.ID = uuid.NewString()
	if err := s.store.InsertJournal(ctx, journal, ec.ActorID); err != nil {
		return "", err
	}

	dr, _ := journal.Totals()
	s.log.Info().
		Str("runId", run.ID).
		Str("reference", journal.Reference).
		Int("lines", len(journal.Lines)).
		Int64("amount", dr).
		Msg("payroll journal posted")
	return journal.Reference, nil
}
