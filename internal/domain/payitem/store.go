package payitem

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

// LoadPayItems returns every pay item of the company, active or not, so the
// engine can tell a missing item from an inactive one.
func (s *Store) LoadPayItems(ctx context.Context, companyID string) ([]PayItem, error) {
	rows, err := db.GetQuerier(ctx, s.DB).Query(ctx, `
    SELECT id, company_id, code, name, category, taxable, reduces_taxable,
           insurance_subject, levy_subject, ledger_account, active
    FROM pay_items
    WHERE company_id = $1
    ORDER BY code
  `, companyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []PayItem
	for rows.Next() {
		var item PayItem
		if err := rows.Scan(&item.ID, &item.CompanyID, &item.Code, &item.Name, &item.Category, &item.Taxable,
			&item.ReducesTaxable, &item.InsuranceSubject, &item.LevySubject, &item.LedgerAccount, &item.Active); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}
