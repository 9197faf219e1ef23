package posting

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"payrun/internal/platform/db"
)

type Store struct {
	DB *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{DB: pool}
}

func (s *Store) PostingAccounts(ctx context.Context, companyID string) (Accounts, error) {
	var a Accounts
	err := db.GetQuerier(ctx, s.DB).QueryRow(ctx, `
    SELECT tax_payable, insurance_payable, levy_payable, net_pay_payable, employer_insurance_expense, levy_expense
    FROM payroll_posting_accounts
    WHERE company_id = $1
  `, companyID).Scan(&a.TaxPayable, &a.InsurancePayable, &a.LevyPayable, &a.NetPayPayable,
		&a.EmployerInsuranceExpense, &a.LevyExpense)
	if db.IsNoRows(err) {
		return Accounts{}, ErrAccountsNotConfigured
	}
	return a, err
}

// ActiveAccounts returns the company's active ledger account codes.
func (s *Store) ActiveAccounts(ctx context.Context, companyID string) (map[string]bool, error) {
	rows, err := db.GetQuerier(ctx, s.DB).Query(ctx, `
    SELECT code FROM ledger_accounts WHERE company_id = $1 AND active
  `, companyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	active := map[string]bool{}
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return nil, err
		}
		active[code] = true
	}
	return active, rows.Err()
}

func (s *Store) InsertJournal(ctx context.Context, j Journal, postedBy string) error {
	q := db.GetQuerier(ctx, s.DB)
	_, err := q.Exec(ctx, `
    INSERT INTO journals (id, company_id, reference, run_id, journal_date, description, posted_by)
    VALUES ($1,$2,$3,$4,$5,$6,$7)
  `, j.ID, j.CompanyID, j.Reference, j.RunID, j.Date, j.Description, postedBy)
	if db.IsUniqueViolation(err) {
		return fmt.Errorf("%w: %s", ErrAlreadyPosted, j.RunID)
	}
	if err != nil {
		return err
	}
	for _, line := range j.Lines {
		var targetType, targetRef string
		if line.CostTarget != nil {
			targetType, targetRef = line.CostTarget.Type, line.CostTarget.Ref
		}
		if _, err := q.Exec(ctx, `
      INSERT INTO journal_lines (journal_id, seq, account_code, debit_cents, credit_cents, cost_target_type, cost_target_ref, memo)
      VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
    `, j.ID, line.Seq, line.Account, line.Debit, line.Credit, targetType, targetRef, line.Memo); err != nil {
			return fmt.Errorf("insert journal line %d: %w", line.Seq, err)
		}
	}
	return nil
}
