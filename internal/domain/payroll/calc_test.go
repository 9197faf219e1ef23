package payroll

import (
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"payrun/internal/domain/payitem"
	"payrun/internal/domain/taxtable"
)

// testTable models the single 0..2,000,000 band at 18%. Tables must end
// open-ended, so the band is followed by an unbounded one at the same rate.
func testTable() *taxtable.Table {
	return &taxtable.Table{
		ID:            "tt-2026",
		EffectiveFrom: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		Brackets: []taxtable.Bracket{
			{Lower: 0, Upper: taxtable.Upper(2_000_000), Rate: decimal.RequireFromString("0.18")},
			{Lower: 2_000_000, Rate: decimal.RequireFromString("0.18")},
		},
		InsuranceRate: decimal.RequireFromString("0.01"),
		InsuranceCap:  17_712,
		LevyRate:      decimal.RequireFromString("0.0075"),
	}
}

func testCatalog() payitem.Catalog {
	return payitem.NewCatalog([]payitem.PayItem{
		{Code: payitem.BaseSalaryCode, Name: "Base salary", Category: payitem.CategoryEarning, Taxable: true, InsuranceSubject: true, LevySubject: true, LedgerAccount: "6000", Active: true},
		{Code: "BONUS", Name: "Bonus", Category: payitem.CategoryEarning, Taxable: true, InsuranceSubject: true, LevySubject: true, LedgerAccount: "6010", Active: true},
		{Code: "MEAL", Name: "Meal allowance", Category: payitem.CategoryEarning, Taxable: false, LedgerAccount: "6020", Active: true},
		{Code: "HOUSING", Name: "Housing allowance", Category: payitem.CategoryEarning, Taxable: false, InsuranceSubject: true, LevySubject: true, LedgerAccount: "6030", Active: true},
		{Code: "PENSION", Name: "Pension", Category: payitem.CategoryContribution, ReducesTaxable: true, LedgerAccount: "2300", Active: true},
		{Code: "LOAN", Name: "Loan repayment", Category: payitem.CategoryDeduction, LedgerAccount: "1400", Active: true},
		{Code: "TRAVEL", Name: "Travel expenses", Category: payitem.CategoryReimbursement, Taxable: false, LedgerAccount: "6500", Active: true},
		{Code: "CAR", Name: "Company car", Category: payitem.CategoryBenefit, Taxable: true, Active: true},
		{Code: "RETIRED", Name: "Old allowance", Category: payitem.CategoryEarning, LedgerAccount: "6090", Active: false},
	})
}

func monthlyPeriod() Period {
	return Period{
		Frequency: FrequencyMonthly,
		Start:     time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		End:       time.Date(2026, 3, 31, 0, 0, 0, 0, time.UTC),
		PayDate:   time.Date(2026, 3, 31, 0, 0, 0, 0, time.UTC),
	}
}

func monthlyEmployee(id string, salary int64) Employee {
	return Employee{
		ID:                id,
		CompanyID:         "co-1",
		FullName:          "Employee " + id,
		Frequency:         FrequencyMonthly,
		BaseSalary:        salary,
		InsuranceIncluded: true,
		LevyIncluded:      true,
		Bank:              BankDetails{VendorID: "V-" + id, Routing: "021000021", AccountNumber: "000123" + id},
		HiredOn:           time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestCalculateEmployeeSimpleMonthly(t *testing.T) {
	b, err := CalculateEmployee(CalcInput{
		Employee: monthlyEmployee("e1", 2_000_000),
		Period:   monthlyPeriod(),
		Table:    testTable(),
		Catalog:  testCatalog(),
	})
	if err != nil {
		t.Fatalf("calculate: %v", err)
	}

	if b.Gross != 2_000_000 {
		t.Fatalf("expected gross 2000000, got %d", b.Gross)
	}
	if b.Trace.AnnualTaxable != 24_000_000 {
		t.Fatalf("expected annualized taxable 24000000, got %d", b.Trace.AnnualTaxable)
	}
	// 18% of 24,000,000 across the band and its open-ended continuation,
	// de-annualized over 12 periods.
	if b.Tax != 360_000 {
		t.Fatalf("expected tax 360000, got %d", b.Tax)
	}
	if b.EmployeeInsurance != 17_712 || b.EmployerInsurance != 17_712 {
		t.Fatalf("expected capped insurance 17712 each side, got %d/%d", b.EmployeeInsurance, b.EmployerInsurance)
	}
	if !b.Trace.InsuranceCapped {
		t.Fatal("expected trace to record the insurance cap")
	}
	if b.Levy != 15_000 {
		t.Fatalf("expected levy 15000, got %d", b.Levy)
	}
	if b.Net != b.Gross-b.Tax-b.EmployeeInsurance {
		t.Fatalf("expected net %d, got %d", b.Gross-b.Tax-b.EmployeeInsurance, b.Net)
	}
	if b.EmployerCost != b.Gross+b.EmployerInsurance+b.Levy {
		t.Fatalf("unexpected employer cost %d", b.EmployerCost)
	}
	if b.BankTransfer != b.Net {
		t.Fatalf("expected bank transfer to equal net, got %d", b.BankTransfer)
	}
}

func TestInsuranceBaseCountsTaxableEarningsOnly(t *testing.T) {
	emp := monthlyEmployee("e3", 1_000_000)
	inputs := []Input{{ID: "i1", EmployeeID: "e3", PayItemCode: "HOUSING", Amount: 200_000}}

	b, err := CalculateEmployee(CalcInput{Employee: emp, Period: monthlyPeriod(), Table: testTable(), Catalog: testCatalog(), Inputs: inputs})
	require.NoError(t, err)

	assert.Equal(t, int64(1_200_000), b.Gross)
	assert.Equal(t, int64(1_000_000), b.Taxable)
	assert.Equal(t, int64(1_000_000), b.Trace.InsuranceBase)
	assert.Equal(t, int64(10_000), b.EmployeeInsurance)
	assert.Equal(t, int64(10_000), b.EmployerInsurance)
	// levy follows the levy-subject flag regardless of taxability
	assert.Equal(t, int64(9_000), b.Levy)
}

func TestCalculateEmployeeMixedLines(t *testing.T) {
	emp := monthlyEmployee("e2", 1_000_000)
	inputs := []Input{
		{ID: "i1", EmployeeID: "e2", PayItemCode: "BONUS", Amount: 250_000, CostTarget: &CostTarget{Type: "project", Ref: "P-17"}},
		{ID: "i2", EmployeeID: "e2", PayItemCode: "MEAL", Amount: 40_000},
		{ID: "i3", EmployeeID: "e2", PayItemCode: "PENSION", Amount: 50_000},
		{ID: "i4", EmployeeID: "e2", PayItemCode: "LOAN", Amount: 30_000, Description: "Car loan"},
		{ID: "i5", EmployeeID: "e2", PayItemCode: "TRAVEL", Amount: 12_345},
		{ID: "i6", EmployeeID: "e2", PayItemCode: "CAR", Amount: 60_000},
	}

	b, err := CalculateEmployee(CalcInput{Employee: emp, Period: monthlyPeriod(), Table: testTable(), Catalog: testCatalog(), Inputs: inputs})
	require.NoError(t, err)

	assert.Equal(t, int64(1_290_000), b.Gross)
	// gross - non-taxable meal - pre-tax pension + taxable car benefit
	assert.Equal(t, int64(1_290_000-40_000-50_000+60_000), b.Taxable)
	assert.Equal(t, int64(80_000), b.OtherDeductions)
	assert.Equal(t, int64(12_345), b.Reimbursements)
	assert.Equal(t, int64(12_500), b.EmployeeInsurance) // 1% of 1,250,000, under the cap
	assert.Equal(t, int64(9_375), b.Levy)

	var earnings, employeeSide int64
	var bonus Line
	for _, line := range b.Lines {
		if line.Kind == LineEarning {
			earnings += line.Amount
		}
		if line.Kind.EmployeeDeduction() {
			employeeSide += line.Amount
		}
		if line.PayItemCode == "BONUS" {
			bonus = line
		}
	}
	assert.Equal(t, b.Gross, earnings)
	assert.Equal(t, b.Gross-b.Net+b.Reimbursements, employeeSide)
	require.NotNil(t, bonus.CostTarget)
	assert.Equal(t, "P-17", bonus.CostTarget.Ref)
	assert.Equal(t, "6010", bonus.LedgerAccount)

	for i, line := range b.Lines {
		assert.Equal(t, i+1, line.Seq)
	}
	assert.Equal(t, "Car loan", b.Lines[4].Name)
	require.NoError(t, b.Reconciles())
}

func TestCalculateEmployeeIsDeterministic(t *testing.T) {
	in := CalcInput{
		Employee: monthlyEmployee("e3", 1_234_567),
		Period:   monthlyPeriod(),
		Table:    testTable(),
		Catalog:  testCatalog(),
		Inputs:   []Input{{ID: "i1", EmployeeID: "e3", PayItemCode: "BONUS", Amount: 33_333}},
	}
	first, err := CalculateEmployee(in)
	require.NoError(t, err)
	second, err := CalculateEmployee(in)
	require.NoError(t, err)
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("expected identical breakdowns\nfirst:  %+v\nsecond: %+v", first, second)
	}
}

func TestCalculateEmployeeTaxMonotonic(t *testing.T) {
	table := testTable()
	table.Brackets = []taxtable.Bracket{
		{Lower: 0, Upper: taxtable.Upper(6_000_000), Rate: decimal.Zero},
		{Lower: 6_000_000, Upper: taxtable.Upper(24_000_000), Rate: decimal.RequireFromString("0.125")},
		{Lower: 24_000_000, Rate: decimal.RequireFromString("0.3")},
	}

	for _, freq := range []Frequency{FrequencyWeekly, FrequencyFortnightly, FrequencyMonthly} {
		var previous int64
		for salary := int64(0); salary <= 4_000_000; salary += 12_347 {
			emp := monthlyEmployee("m", salary)
			emp.Frequency = freq
			period := monthlyPeriod()
			period.Frequency = freq
			b, err := CalculateEmployee(CalcInput{Employee: emp, Period: period, Table: table, Catalog: testCatalog()})
			require.NoError(t, err)
			require.GreaterOrEqualf(t, b.Tax, previous, "%s: tax decreased at salary %d", freq, salary)
			previous = b.Tax
		}
	}
}

func TestCalculateEmployeeWeeklyAnnualization(t *testing.T) {
	emp := monthlyEmployee("w1", 46_154)
	emp.Frequency = FrequencyWeekly
	period := monthlyPeriod()
	period.Frequency = FrequencyWeekly

	b, err := CalculateEmployee(CalcInput{Employee: emp, Period: period, Table: testTable(), Catalog: testCatalog()})
	require.NoError(t, err)

	assert.Equal(t, int64(52), b.Trace.PeriodsPerYear)
	assert.Equal(t, int64(46_154*52), b.Trace.AnnualTaxable)
	// 18% of 2,400,008 = 432,001.44 -> 432,001; / 52 = 8,307.7 -> 8,308
	assert.Equal(t, int64(432_001), b.Trace.AnnualTax)
	assert.Equal(t, int64(8_308), b.Tax)
	// cap prorated: 17,712 * 12 / 52 = 4,087.4 -> 4,087; 1% of 46,154 = 461.54 -> 462
	assert.Equal(t, int64(4_087), b.Trace.InsuranceCap)
	assert.Equal(t, int64(462), b.EmployeeInsurance)
	assert.False(t, b.Trace.InsuranceCapped)
}

func TestCalculateEmployeeStatutoryExclusions(t *testing.T) {
	emp := monthlyEmployee("e4", 500_000)
	emp.InsuranceIncluded = false
	emp.LevyIncluded = false

	b, err := CalculateEmployee(CalcInput{Employee: emp, Period: monthlyPeriod(), Table: testTable(), Catalog: testCatalog()})
	require.NoError(t, err)
	assert.Zero(t, b.EmployeeInsurance)
	assert.Zero(t, b.EmployerInsurance)
	assert.Zero(t, b.Levy)
	assert.Equal(t, b.Gross, b.EmployerCost)
	assert.Len(t, b.Trace.Notes, 2)
}

func TestCalculateEmployeeNegativeNet(t *testing.T) {
	emp := monthlyEmployee("e5", 100_000)
	b, err := CalculateEmployee(CalcInput{
		Employee: emp,
		Period:   monthlyPeriod(),
		Table:    testTable(),
		Catalog:  testCatalog(),
		Inputs:   []Input{{ID: "i1", EmployeeID: "e5", PayItemCode: "LOAN", Amount: 200_000}},
	})
	require.NoError(t, err)
	assert.Negative(t, b.Net)
	assert.Zero(t, b.BankTransfer)
}

func TestCalculateEmployeeConfigurationErrors(t *testing.T) {
	base := CalcInput{Employee: monthlyEmployee("e6", 100_000), Period: monthlyPeriod(), Table: testTable(), Catalog: testCatalog()}

	cases := map[string]func(in *CalcInput){
		"no tax table":   func(in *CalcInput) { in.Table = nil },
		"invalid table":  func(in *CalcInput) { in.Table.Brackets = nil },
		"inactive item":  func(in *CalcInput) { in.Inputs = []Input{{ID: "x", EmployeeID: "e6", PayItemCode: "RETIRED", Amount: 1}} },
		"missing item":   func(in *CalcInput) { in.Inputs = []Input{{ID: "x", EmployeeID: "e6", PayItemCode: "NOPE", Amount: 1}} },
		"no base salary": func(in *CalcInput) { in.Catalog = payitem.NewCatalog(nil) },
		"base not earning": func(in *CalcInput) {
			in.Catalog = payitem.NewCatalog([]payitem.PayItem{{Code: payitem.BaseSalaryCode, Category: payitem.CategoryDeduction, Active: true}})
		},
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			in := base
			in.Table = testTable()
			mutate(&in)
			_, err := CalculateEmployee(in)
			var cfgErr *ConfigurationError
			if !errors.As(err, &cfgErr) {
				t.Fatalf("expected ConfigurationError, got %v", err)
			}
		})
	}
}

func TestCalculateEmployeeValidationErrors(t *testing.T) {
	in := CalcInput{Employee: monthlyEmployee("e7", 100_000), Period: monthlyPeriod(), Table: testTable(), Catalog: testCatalog()}
	in.Inputs = []Input{{ID: "x", EmployeeID: "someone-else", PayItemCode: "BONUS", Amount: 1}}
	_, err := CalculateEmployee(in)
	var valErr *ValidationError
	require.ErrorAs(t, err, &valErr)

	in.Inputs = nil
	in.Employee.Frequency = FrequencyWeekly
	_, err = CalculateEmployee(in)
	require.ErrorAs(t, err, &valErr)
}
