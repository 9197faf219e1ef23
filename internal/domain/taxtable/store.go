package taxtable

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"payrun/internal/platform/db"
)

// Store is the read side used by recalculation plus the import path used by
// operators. Tables are never mutated by the payroll engine.
type Store struct {
	DB *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{DB: pool}
}

// LoadTaxTables returns the latest table effective on or before date.
func (s *Store) LoadTaxTables(ctx context.Context, date time.Time) (Table, error) {
	q := db.GetQuerier(ctx, s.DB)

	var table Table
	var insuranceRate, levyRate string
	err := q.QueryRow(ctx, `
    SELECT id, effective_from, insurance_rate::text, insurance_cap_cents, levy_rate::text
    FROM tax_tables
    WHERE effective_from <= $1
    ORDER BY effective_from DESC
    LIMIT 1
  `, date).Scan(&table.ID, &table.EffectiveFrom, &insuranceRate, &table.InsuranceCap, &levyRate)
	if db.IsNoRows(err) {
		return Table{}, fmt.Errorf("%w: %s", ErrNoTable, date.Format("2006-01-02"))
	}
	if err != nil {
		return Table{}, err
	}
	if table.InsuranceRate, err = decimal.NewFromString(insuranceRate); err != nil {
		return Table{}, err
	}
	if table.LevyRate, err = decimal.NewFromString(levyRate); err != nil {
		return Table{}, err
	}

	rows, err := q.Query(ctx, `
    SELECT lower_cents, upper_cents, rate::text
    FROM tax_brackets
    WHERE table_id = $1
    ORDER BY position
  `, table.ID)
	if err != nil {
		return Table{}, err
	}
	defer rows.Close()

	for rows.Next() {
		var b Bracket
		var rate string
		if err := rows.Scan(&b.Lower, &b.Upper, &rate); err != nil {
			return Table{}, err
		}
		if b.Rate, err = decimal.NewFromString(rate); err != nil {
			return Table{}, err
		}
		table.Brackets = append(table.Brackets, b)
	}
	if err := rows.Err(); err != nil {
		return Table{}, err
	}

	if err := table.Validate(); err != nil {
		return Table{}, err
	}
	return table, nil
}

// Save inserts or replaces the table for its effective date.
func (s *Store) Save(ctx context.Context, table Table) (string, error) {
	if err := table.Validate(); err != nil {
		return "", err
	}

	var id string
	err := db.WithTransaction(ctx, s.DB, func(ctx context.Context) error {
		q := db.GetQuerier(ctx, s.DB)
		if err := q.QueryRow(ctx, `
      INSERT INTO tax_tables (id, effective_from, insurance_rate, insurance_cap_cents, levy_rate)
      VALUES ($1, $2, $3::numeric, $4, $5::numeric)
      ON CONFLICT (effective_from)
      DO UPDATE SET insurance_rate = EXCLUDED.insurance_rate,
                    insurance_cap_cents = EXCLUDED.insurance_cap_cents,
                    levy_rate = EXCLUDED.levy_rate
      RETURNING id
    `, uuid.NewString(), table.EffectiveFrom, table.InsuranceRate.String(), table.InsuranceCap, table.LevyRate.String()).Scan(&id); err != nil {
			return err
		}
		if _, err := q.Exec(ctx, "DELETE FROM tax_brackets WHERE table_id = $1", id); err != nil {
			return err
		}
		for i, b := range table.Brackets {
			if _, err := q.Exec(ctx, `
        INSERT INTO tax_brackets (table_id, position, lower_cents, upper_cents, rate)
        VALUES ($1, $2, $3, $4, $5::numeric)
      `, id, i, b.Lower, b.Upper, b.Rate.String()); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("save tax table %s: %w", table.EffectiveFrom.Format("2006-01-02"), err)
	}
	return id, nil
}
