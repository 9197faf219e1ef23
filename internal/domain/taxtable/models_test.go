package taxtable

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func progressive() Table {
	return Table{
		EffectiveFrom: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		Brackets: []Bracket{
			{Lower: 0, Upper: Upper(2_000_000), Rate: decimal.Zero},
			{Lower: 2_000_000, Upper: Upper(5_000_000), Rate: decimal.RequireFromString("0.10")},
			{Lower: 5_000_000, Rate: decimal.RequireFromString("0.25")},
		},
		InsuranceRate: decimal.RequireFromString("0.01"),
		InsuranceCap:  17_712,
		LevyRate:      decimal.RequireFromString("0.0075"),
	}
}

func TestAnnualTaxIsMarginal(t *testing.T) {
	table := progressive()

	tax, detail := table.AnnualTax(6_000_000)
	// 0 on the first 2m, 10% of 3m, 25% of the last 1m
	assert.Equal(t, int64(300_000+250_000), tax)
	require.Len(t, detail, 3)
	assert.Equal(t, int64(3_000_000), detail[1].Portion)
	assert.Equal(t, int64(1_000_000), detail[2].Portion)

	tax, detail = table.AnnualTax(1_500_000)
	assert.Zero(t, tax)
	assert.Len(t, detail, 1)

	tax, _ = table.AnnualTax(-10)
	assert.Zero(t, tax)
}

func TestAnnualTaxMonotonic(t *testing.T) {
	table := progressive()
	var previous int64
	for income := int64(0); income <= 8_000_000; income += 7_919 {
		tax, _ := table.AnnualTax(income)
		require.GreaterOrEqualf(t, tax, previous, "tax decreased at income %d", income)
		previous = tax
	}
}

func TestValidate(t *testing.T) {
	require.NoError(t, progressive().Validate())

	cases := map[string]func(*Table){
		"no brackets":      func(tb *Table) { tb.Brackets = nil },
		"not from zero":    func(tb *Table) { tb.Brackets[0].Lower = 1 },
		"gap":              func(tb *Table) { tb.Brackets[1].Lower = 2_000_001 },
		"closed top":       func(tb *Table) { tb.Brackets[2].Upper = Upper(9_000_000) },
		"open middle":      func(tb *Table) { tb.Brackets[1].Upper = nil },
		"rate above one":   func(tb *Table) { tb.Brackets[0].Rate = decimal.NewFromInt(2) },
		"negative levy":    func(tb *Table) { tb.LevyRate = decimal.NewFromInt(-1) },
		"negative cap":     func(tb *Table) { tb.InsuranceCap = -1 },
		"missing date":     func(tb *Table) { tb.EffectiveFrom = time.Time{} },
		"inverted bracket": func(tb *Table) { tb.Brackets[0].Upper = Upper(0) },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			table := progressive()
			mutate(&table)
			require.ErrorIs(t, table.Validate(), ErrInvalidTable)
		})
	}
}
