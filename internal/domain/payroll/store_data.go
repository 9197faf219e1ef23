package payroll

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"payrun/internal/platform/db"
)

type Store struct {
	DB *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{DB: pool}
}

const runColumns = `
    id, company_id, run_number, frequency, period_start, period_end, pay_date, status, version, calc_version,
    calculated_at, calculated_by, reviewed_at, reviewed_by, approved_at, approved_by,
    locked_at, locked_by, posted_at, posted_by, journal_ref, created_by, created_at`

func scanRun(row pgx.Row) (Run, error) {
	var run Run
	err := row.Scan(&run.ID, &run.CompanyID, &run.RunNumber, &run.Frequency, &run.PeriodStart, &run.PeriodEnd,
		&run.PayDate, &run.Status, &run.Version, &run.CalcVersion,
		&run.CalculatedAt, &run.CalculatedBy, &run.ReviewedAt, &run.ReviewedBy, &run.ApprovedAt, &run.ApprovedBy,
		&run.LockedAt, &run.LockedBy, &run.PostedAt, &run.PostedBy, &run.JournalRef, &run.CreatedBy, &run.CreatedAt)
	if db.IsNoRows(err) {
		return Run{}, ErrRunNotFound
	}
	return run, err
}

func (s *Store) CompanySettings(ctx context.Context, companyID string) (CompanySettings, error) {
	settings := CompanySettings{CompanyID: companyID}
	err := db.GetQuerier(ctx, s.DB).QueryRow(ctx, `
    SELECT currency, auto_post, termination_policy
    FROM companies
    WHERE id = $1
  `, companyID).Scan(&settings.Currency, &settings.AutoPost, &settings.TerminationPolicy)
	if db.IsNoRows(err) {
		return CompanySettings{}, &ConfigurationError{Reason: "unknown company " + companyID}
	}
	return settings, err
}

func (s *Store) NextRunSequence(ctx context.Context, companyID string, frequency Frequency, periodStart time.Time) (int, error) {
	var count int
	err := db.GetQuerier(ctx, s.DB).QueryRow(ctx, `
    SELECT COUNT(1)
    FROM pay_runs
    WHERE company_id = $1 AND frequency = $2
      AND date_trunc('month', period_start) = date_trunc('month', $3::date)
  `, companyID, frequency, periodStart).Scan(&count)
	if err != nil {
		return 0, err
	}
	return count + 1, nil
}

func (s *Store) InsertRun(ctx context.Context, run Run) error {
	_, err := db.GetQuerier(ctx, s.DB).Exec(ctx, `
    INSERT INTO pay_runs (id, company_id, run_number, frequency, period_start, period_end, pay_date,
                          status, version, calc_version, created_by, created_at)
    VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
  `, run.ID, run.CompanyID, run.RunNumber, run.Frequency, run.PeriodStart, run.PeriodEnd, run.PayDate,
		run.Status, run.Version, run.CalcVersion, run.CreatedBy, run.CreatedAt)
	if db.IsUniqueViolation(err) {
		switch db.ConstraintName(err) {
		case "pay_runs_period_key":
			return NewValidationError("periodStart", fmt.Sprintf("a %s run already exists for period starting %s",
				run.Frequency, run.PeriodStart.Format("2006-01-02")))
		case "pay_runs_number_key":
			return fmt.Errorf("%w: %s", ErrRunNumberTaken, run.RunNumber)
		}
	}
	return err
}

func (s *Store) GetRun(ctx context.Context, companyID, runID string) (Run, error) {
	return scanRun(db.GetQuerier(ctx, s.DB).QueryRow(ctx,
		"SELECT"+runColumns+" FROM pay_runs WHERE company_id = $1 AND id = $2", companyID, runID))
}

// LockRun takes a transaction-scoped advisory lock keyed by the run id and
// then the row lock. Callers must be inside a transaction.
func (s *Store) LockRun(ctx context.Context, companyID, runID string) (Run, error) {
	q := db.GetQuerier(ctx, s.DB)
	if _, err := q.Exec(ctx, "SELECT pg_advisory_xact_lock(hashtextextended($1, 0))", runID); err != nil {
		return Run{}, fmt.Errorf("advisory lock: %w", err)
	}
	return scanRun(q.QueryRow(ctx,
		"SELECT"+runColumns+" FROM pay_runs WHERE company_id = $1 AND id = $2 FOR UPDATE", companyID, runID))
}

func (s *Store) ListRuns(ctx context.Context, companyID string, filter RunFilter) ([]Run, error) {
	query := "SELECT" + runColumns + " FROM pay_runs WHERE company_id = $1"
	args := []any{companyID}
	if filter.Status != "" {
		args = append(args, filter.Status)
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	if filter.Frequency != "" {
		args = append(args, filter.Frequency)
		query += fmt.Sprintf(" AND frequency = $%d", len(args))
	}
	query += " ORDER BY period_start DESC, created_at DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit, filter.Offset)
		query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", len(args)-1, len(args))
	}

	rows, err := db.GetQuerier(ctx, s.DB).Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// stampColumns names the identity/time columns written on entering a status.
var stampColumns = map[Status][2]string{
	StatusCalculated: {"calculated_at", "calculated_by"},
	StatusReview:     {"reviewed_at", "reviewed_by"},
	StatusApproved:   {"approved_at", "approved_by"},
	StatusLocked:     {"locked_at", "locked_by"},
	StatusPosted:     {"posted_at", "posted_by"},
}

func (s *Store) UpdateRunStatus(ctx context.Context, companyID, runID string, change StatusChange) (Run, error) {
	stamp, ok := stampColumns[change.To]
	if !ok {
		return Run{}, NewValidationError("status", fmt.Sprintf("cannot write status %q", change.To))
	}

	query := fmt.Sprintf(`
    UPDATE pay_runs
    SET status = $1, version = version + 1, %s = $2, %s = $3,
        calc_version = CASE WHEN $4::int > 0 THEN $4::int ELSE calc_version END,
        journal_ref = CASE WHEN $5::text <> '' THEN $5::text ELSE journal_ref END
    WHERE company_id = $6 AND id = $7 AND status = $8 AND version = $9
    RETURNING`+runColumns, stamp[0], stamp[1])

	run, err := scanRun(db.GetQuerier(ctx, s.DB).QueryRow(ctx, query,
		change.To, change.At, change.Actor, change.CalcVersion, change.JournalRef,
		companyID, runID, change.From, change.ExpectedVersion))
	if errors.Is(err, ErrRunNotFound) {
		return Run{}, ErrStaleRun
	}
	return run, err
}

const employeeColumns = `
    id, company_id, employee_number, full_name, email, employment_type, pay_frequency, base_salary_cents,
    insurance_included, levy_included, bank_vendor_id, bank_routing, bank_account, hired_on, terminated_on`

func scanEmployee(row pgx.Row) (Employee, error) {
	var emp Employee
	err := row.Scan(&emp.ID, &emp.CompanyID, &emp.Number, &emp.FullName, &emp.Email, &emp.EmploymentType,
		&emp.Frequency, &emp.BaseSalary, &emp.InsuranceIncluded, &emp.LevyIncluded,
		&emp.Bank.VendorID, &emp.Bank.Routing, &emp.Bank.AccountNumber, &emp.HiredOn, &emp.TerminatedOn)
	if db.IsNoRows(err) {
		return Employee{}, ErrEmployeeNotFound
	}
	return emp, err
}

// ListEmployees returns every employee on the frequency, terminated or not;
// eligibility is decided at calculation time.
func (s *Store) ListEmployees(ctx context.Context, companyID string, frequency Frequency) ([]Employee, error) {
	rows, err := db.GetQuerier(ctx, s.DB).Query(ctx, "SELECT"+employeeColumns+`
    FROM employees
    WHERE company_id = $1 AND pay_frequency = $2
    ORDER BY employee_number, id
  `, companyID, frequency)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var employees []Employee
	for rows.Next() {
		emp, err := scanEmployee(rows)
		if err != nil {
			return nil, err
		}
		employees = append(employees, emp)
	}
	return employees, rows.Err()
}

func (s *Store) GetEmployee(ctx context.Context, companyID, employeeID string) (Employee, error) {
	return scanEmployee(db.GetQuerier(ctx, s.DB).QueryRow(ctx,
		"SELECT"+employeeColumns+" FROM employees WHERE company_id = $1 AND id = $2", companyID, employeeID))
}

func (s *Store) ListInputs(ctx context.Context, runID string) ([]Input, error) {
	rows, err := db.GetQuerier(ctx, s.DB).Query(ctx, `
    SELECT id, employee_id, pay_item_code, amount_cents, cost_target_type, cost_target_ref,
           description, created_by, created_at
    FROM pay_run_inputs
    WHERE run_id = $1
    ORDER BY created_at, id
  `, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var inputs []Input
	for rows.Next() {
		var input Input
		var target CostTarget
		if err := rows.Scan(&input.ID, &input.EmployeeID, &input.PayItemCode, &input.Amount, &target.Type, &target.Ref,
			&input.Description, &input.CreatedBy, &input.CreatedAt); err != nil {
			return nil, err
		}
		if !target.Empty() {
			input.CostTarget = &target
		}
		inputs = append(inputs, input)
	}
	return inputs, rows.Err()
}

func (s *Store) InsertInput(ctx context.Context, runID string, input Input) error {
	var target CostTarget
	if input.CostTarget != nil {
		target = *input.CostTarget
	}
	_, err := db.GetQuerier(ctx, s.DB).Exec(ctx, `
    INSERT INTO pay_run_inputs (id, run_id, employee_id, pay_item_code, amount_cents, cost_target_type,
                                cost_target_ref, description, created_by, created_at)
    VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
  `, input.ID, runID, input.EmployeeID, input.PayItemCode, input.Amount, target.Type, target.Ref,
		input.Description, input.CreatedBy, input.CreatedAt)
	if db.IsForeignKeyViolation(err) {
		return ErrEmployeeNotFound
	}
	return err
}

func (s *Store) ListExclusions(ctx context.Context, runID string) ([]Exclusion, error) {
	rows, err := db.GetQuerier(ctx, s.DB).Query(ctx, `
    SELECT employee_id, reason, excluded_by, excluded_at
    FROM pay_run_exclusions
    WHERE run_id = $1
    ORDER BY excluded_at, employee_id
  `, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var exclusions []Exclusion
	for rows.Next() {
		var ex Exclusion
		if err := rows.Scan(&ex.EmployeeID, &ex.Reason, &ex.ExcludedBy, &ex.ExcludedAt); err != nil {
			return nil, err
		}
		exclusions = append(exclusions, ex)
	}
	return exclusions, rows.Err()
}

func (s *Store) UpsertExclusion(ctx context.Context, runID string, ex Exclusion) error {
	_, err := db.GetQuerier(ctx, s.DB).Exec(ctx, `
    INSERT INTO pay_run_exclusions (run_id, employee_id, reason, excluded_by, excluded_at)
    VALUES ($1,$2,$3,$4,$5)
    ON CONFLICT (run_id, employee_id)
    DO UPDATE SET reason = EXCLUDED.reason, excluded_by = EXCLUDED.excluded_by, excluded_at = EXCLUDED.excluded_at
  `, runID, ex.EmployeeID, ex.Reason, ex.ExcludedBy, ex.ExcludedAt)
	if db.IsForeignKeyViolation(err) {
		return ErrEmployeeNotFound
	}
	return err
}

// InsertResults writes one complete result version. Earlier versions are
// left untouched.
func (s *Store) InsertResults(ctx context.Context, runID string, calcVersion int, results []Breakdown) error {
	q := db.GetQuerier(ctx, s.DB)
	for _, b := range results {
		traceJSON, err := json.Marshal(b.Trace)
		if err != nil {
			return fmt.Errorf("marshal trace for %s: %w", b.EmployeeID, err)
		}
		if _, err := q.Exec(ctx, `
      INSERT INTO pay_run_employees (run_id, calc_version, employee_id, gross_cents, taxable_cents, tax_cents,
        employee_insurance_cents, employer_insurance_cents, levy_cents, other_deductions_cents,
        reimbursements_cents, net_cents, employer_cost_cents, bank_transfer_cents, retained, trace_json)
      VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
    `, runID, calcVersion, b.EmployeeID, b.Gross, b.Taxable, b.Tax, b.EmployeeInsurance, b.EmployerInsurance,
			b.Levy, b.OtherDeductions, b.Reimbursements, b.Net, b.EmployerCost, b.BankTransfer, b.Retained, traceJSON); err != nil {
			return fmt.Errorf("insert result for %s: %w", b.EmployeeID, err)
		}
		for _, line := range b.Lines {
			var target CostTarget
			if line.CostTarget != nil {
				target = *line.CostTarget
			}
			if _, err := q.Exec(ctx, `
        INSERT INTO pay_run_lines (run_id, calc_version, employee_id, seq, kind, pay_item_code, name,
                                   amount_cents, ledger_account, cost_target_type, cost_target_ref)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
      `, runID, calcVersion, b.EmployeeID, line.Seq, line.Kind, line.PayItemCode, line.Name, line.Amount,
				line.LedgerAccount, target.Type, target.Ref); err != nil {
				return fmt.Errorf("insert line %d for %s: %w", line.Seq, b.EmployeeID, err)
			}
		}
	}
	return nil
}

func (s *Store) ListResults(ctx context.Context, runID string, calcVersion int) ([]EmployeeResult, error) {
	q := db.GetQuerier(ctx, s.DB)
	rows, err := q.Query(ctx, `
    SELECT r.employee_id, r.gross_cents, r.taxable_cents, r.tax_cents, r.employee_insurance_cents,
           r.employer_insurance_cents, r.levy_cents, r.other_deductions_cents, r.reimbursements_cents,
           r.net_cents, r.employer_cost_cents, r.bank_transfer_cents, r.retained, r.trace_json,
           e.employee_number, e.full_name, e.bank_vendor_id, e.bank_routing, e.bank_account
    FROM pay_run_employees r
    JOIN employees e ON e.id = r.employee_id
    WHERE r.run_id = $1 AND r.calc_version = $2
    ORDER BY e.employee_number, r.employee_id
  `, runID, calcVersion)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []EmployeeResult
	index := map[string]int{}
	for rows.Next() {
		res := EmployeeResult{RunID: runID, CalcVersion: calcVersion}
		var traceJSON []byte
		if err := rows.Scan(&res.EmployeeID, &res.Gross, &res.Taxable, &res.Tax, &res.EmployeeInsurance,
			&res.EmployerInsurance, &res.Levy, &res.OtherDeductions, &res.Reimbursements, &res.Net,
			&res.EmployerCost, &res.BankTransfer, &res.Retained, &traceJSON,
			&res.EmployeeNumber, &res.FullName, &res.Bank.VendorID, &res.Bank.Routing, &res.Bank.AccountNumber); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(traceJSON, &res.Trace); err != nil {
			return nil, fmt.Errorf("decode trace for %s: %w", res.EmployeeID, err)
		}
		index[res.EmployeeID] = len(results)
		results = append(results, res)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	rows.Close()

	lineRows, err := q.Query(ctx, `
    SELECT employee_id, seq, kind, pay_item_code, name, amount_cents, ledger_account, cost_target_type, cost_target_ref
    FROM pay_run_lines
    WHERE run_id = $1 AND calc_version = $2
    ORDER BY employee_id, seq
  `, runID, calcVersion)
	if err != nil {
		return nil, err
	}
	defer lineRows.Close()

	for lineRows.Next() {
		var employeeID string
		var line Line
		var target CostTarget
		if err := lineRows.Scan(&employeeID, &line.Seq, &line.Kind, &line.PayItemCode, &line.Name, &line.Amount,
			&line.LedgerAccount, &target.Type, &target.Ref); err != nil {
			return nil, err
		}
		if !target.Empty() {
			line.CostTarget = &target
		}
		if i, ok := index[employeeID]; ok {
			results[i].Lines = append(results[i].Lines, line)
		}
	}
	return results, lineRows.Err()
}

// ListFinalizedResults returns the current results of every locked or
// posted run paid within [from, to]. Lines are not loaded.
func (s *Store) ListFinalizedResults(ctx context.Context, companyID string, from, to time.Time) ([]RunResult, error) {
	rows, err := db.GetQuerier(ctx, s.DB).Query(ctx, `
    SELECT p.id, p.calc_version, p.pay_date, r.employee_id, r.gross_cents, r.taxable_cents, r.tax_cents,
           r.employee_insurance_cents, r.employer_insurance_cents, r.levy_cents, r.other_deductions_cents,
           r.reimbursements_cents, r.net_cents, r.employer_cost_cents, r.bank_transfer_cents, r.retained,
           e.employee_number, e.full_name
    FROM pay_runs p
    JOIN pay_run_employees r ON r.run_id = p.id AND r.calc_version = p.calc_version
    JOIN employees e ON e.id = r.employee_id
    WHERE p.company_id = $1 AND p.status IN ('locked', 'posted') AND p.pay_date BETWEEN $2 AND $3
    ORDER BY p.pay_date, p.id, e.employee_number
  `, companyID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []RunResult
	for rows.Next() {
		var res RunResult
		if err := rows.Scan(&res.RunID, &res.CalcVersion, &res.PayDate, &res.EmployeeID, &res.Gross, &res.Taxable,
			&res.Tax, &res.EmployeeInsurance, &res.EmployerInsurance, &res.Levy, &res.OtherDeductions,
			&res.Reimbursements, &res.Net, &res.EmployerCost, &res.BankTransfer, &res.Retained,
			&res.EmployeeNumber, &res.FullName); err != nil {
			return nil, err
		}
		results = append(results, res)
	}
	return results, rows.Err()
}
