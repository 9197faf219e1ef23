package payslip

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"payrun/internal/platform/db"
)

type Store struct {
	DB *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{DB: pool}
}

func (s *Store) UpsertPayslip(ctx context.Context, p Payslip) error {
	_, err := db.GetQuerier(ctx, s.DB).Exec(ctx, `
    INSERT INTO payslips (id, run_id, employee_id, file_path)
    VALUES ($1,$2,$3,$4)
    ON CONFLICT (run_id, employee_id)
    DO UPDATE SET file_path = EXCLUDED.file_path, created_at = now()
  `, p.ID, p.RunID, p.EmployeeID, p.FilePath)
	return err
}

func (s *Store) GetPayslip(ctx context.Context, companyID, runID, employeeID string) (Payslip, error) {
	var p Payslip
	err := db.GetQuerier(ctx, s.DB).QueryRow(ctx, `
    SELECT ps.id, ps.run_id, ps.employee_id, ps.file_path, ps.created_at
    FROM payslips ps
    JOIN pay_runs r ON r.id = ps.run_id
    WHERE r.company_id = $1 AND ps.run_id = $2 AND ps.employee_id = $3
  `, companyID, runID, employeeID).Scan(&p.ID, &p.RunID, &p.EmployeeID, &p.FilePath, &p.CreatedAt)
	if db.IsNoRows(err) {
		return Payslip{}, ErrNotFound
	}
	return p, err
}

func (s *Store) RunsMissingPayslips(ctx context.Context, limit int) ([]RunRef, error) {
	rows, err := db.GetQuerier(ctx, s.DB).Query(ctx, `
    SELECT r.company_id, r.id
    FROM pay_runs r
    WHERE r.status IN ('locked', 'posted')
      AND EXISTS (
        SELECT 1
        FROM pay_run_employees e
        WHERE e.run_id = r.id AND e.calc_version = r.calc_version
          AND NOT EXISTS (SELECT 1 FROM payslips p WHERE p.run_id = r.id AND p.employee_id = e.employee_id)
      )
    ORDER BY r.locked_at
    LIMIT $1
  `, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []RunRef
	for rows.Next() {
		var ref RunRef
		if err := rows.Scan(&ref.CompanyID, &ref.RunID); err != nil {
			return nil, err
		}
		out = append(out, ref)
	}
	return out, rows.Err()
}
