package taxtable

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"payrun/internal/domain/money"
)

// Bracket is one marginal band on annual income. Upper is nil for the
// open-ended top band.
type Bracket struct {
	Lower int64           `json:"lower"`
	Upper *int64          `json:"upper,omitempty"`
	Rate  decimal.Decimal `json:"rate"`
}

// Table is the statutory data effective from a date: income tax brackets,
// social insurance and levy.
type Table struct {
	ID            string          `json:"id"`
	EffectiveFrom time.Time       `json:"effectiveFrom"`
	Brackets      []Bracket       `json:"brackets"`
	InsuranceRate decimal.Decimal `json:"insuranceRate"`

	// InsuranceCap is the monthly ceiling on each side's contribution.
	InsuranceCap int64           `json:"insuranceCap"`
	LevyRate     decimal.Decimal `json:"levyRate"`
}

// BracketTax records the tax computed inside one bracket.
type BracketTax struct {
	Lower   int64           `json:"lower"`
	Upper   *int64          `json:"upper,omitempty"`
	Rate    decimal.Decimal `json:"rate"`
	Portion int64           `json:"portion"`
	Tax     int64           `json:"tax"`
}

func (t Table) Validate() error {
	if t.EffectiveFrom.IsZero() {
		return fmt.Errorf("%w: effective date is required", ErrInvalidTable)
	}
	if len(t.Brackets) == 0 {
		return fmt.Errorf("%w: at least one bracket is required", ErrInvalidTable)
	}
	if t.Brackets[0].Lower != 0 {
		return fmt.Errorf("%w: first bracket must start at 0", ErrInvalidTable)
	}
	for i, b := range t.Brackets {
		if !validRate(b.Rate) {
			return fmt.Errorf("%w: bracket %d rate %s outside [0,1]", ErrInvalidTable, i, b.Rate)
		}
		last := i == len(t.Brackets)-1
		if b.Upper == nil {
			if !last {
				return fmt.Errorf("%w: only the last bracket may be open-ended", ErrInvalidTable)
			}
			continue
		}
		if last {
			return fmt.Errorf("%w: last bracket must be open-ended", ErrInvalidTable)
		}
		if *b.Upper <= b.Lower {
			return fmt.Errorf("%w: bracket %d upper bound must exceed lower bound", ErrInvalidTable, i)
		}
		if t.Brackets[i+1].Lower != *b.Upper {
			return fmt.Errorf("%w: bracket %d must start where bracket %d ends", ErrInvalidTable, i+1, i)
		}
	}
	if !validRate(t.InsuranceRate) {
		return fmt.Errorf("%w: insurance rate outside [0,1]", ErrInvalidTable)
	}
	if t.InsuranceCap < 0 {
		return fmt.Errorf("%w: insurance cap must not be negative", ErrInvalidTable)
	}
	if !validRate(t.LevyRate) {
		return fmt.Errorf("%w: levy rate outside [0,1]", ErrInvalidTable)
	}
	return nil
}

// AnnualTax applies the brackets marginally to an annual taxable amount.
// Each bracket's tax is rounded on its own before summing.
func (t Table) AnnualTax(annualTaxable int64) (int64, []BracketTax) {
	income := money.Max0(annualTaxable)
	var total int64
	var detail []BracketTax
	for _, b := range t.Brackets {
		if income <= b.Lower {
			break
		}
		top := income
		if b.Upper != nil {
			top = money.Min(income, *b.Upper)
		}
		portion := top - b.Lower
		tax := money.MulRate(portion, b.Rate)
		total += tax
		detail = append(detail, BracketTax{Lower: b.Lower, Upper: b.Upper, Rate: b.Rate, Portion: portion, Tax: tax})
	}
	return total, detail
}

func validRate(rate decimal.Decimal) bool {
	return !rate.IsNegative() && rate.LessThanOrEqual(decimal.NewFromInt(1))
}

// Upper is a helper for building bracket tables in code.
func Upper(v int64) *int64 {
	return &v
}
