package posting

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"payrun/internal/domain/payroll"
)

var testAccounts = Accounts{
	TaxPayable:               "2100",
	InsurancePayable:         "2110",
	LevyPayable:              "2120",
	NetPayPayable:            "2200",
	EmployerInsuranceExpense: "6100",
	LevyExpense:              "6110",
}

func testRun() payroll.Run {
	return payroll.Run{
		ID:          "run-1",
		CompanyID:   "co-1",
		RunNumber:   "PR-202603-M-1",
		Frequency:   payroll.FrequencyMonthly,
		PeriodStart: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		PeriodEnd:   time.Date(2026, 3, 31, 0, 0, 0, 0, time.UTC),
		PayDate:     time.Date(2026, 3, 31, 0, 0, 0, 0, time.UTC),
		Status:      payroll.StatusLocked,
		CalcVersion: 1,
	}
}

func result(id string, net int64, lines ...payroll.Line) payroll.EmployeeResult {
	return payroll.EmployeeResult{RunID: "run-1", CalcVersion: 1, Breakdown: payroll.Breakdown{EmployeeID: id, Net: net, Lines: lines}}
}

func twoEmployees() []payroll.EmployeeResult {
	return []payroll.EmployeeResult{
		result("e1", 894_000,
			payroll.Line{Kind: payroll.LineEarning, PayItemCode: "BASIC", Amount: 1_000_000, LedgerAccount: "6000"},
			payroll.Line{Kind: payroll.LineEarning, PayItemCode: "BONUS", Amount: 100_000, LedgerAccount: "6010", CostTarget: &payroll.CostTarget{Type: "project", Ref: "P-1"}},
			payroll.Line{Kind: payroll.LineDeduction, PayItemCode: "LOAN", Amount: 50_000, LedgerAccount: "1400"},
			payroll.Line{Kind: payroll.LineReimbursement, PayItemCode: "TRAVEL", Amount: 5_000, LedgerAccount: "6500"},
			payroll.Line{Kind: payroll.LineBenefit, PayItemCode: "CAR", Amount: 20_000},
			payroll.Line{Kind: payroll.LineTax, Amount: 150_000},
			payroll.Line{Kind: payroll.LineEmployeeInsurance, Amount: 11_000},
			payroll.Line{Kind: payroll.LineEmployerInsurance, Amount: 11_000},
			payroll.Line{Kind: payroll.LineLevy, Amount: 8_250},
		),
		result("e2", 445_000,
			payroll.Line{Kind: payroll.LineEarning, PayItemCode: "BASIC", Amount: 500_000, LedgerAccount: "6000"},
			payroll.Line{Kind: payroll.LineTax, Amount: 50_000},
			payroll.Line{Kind: payroll.LineEmployeeInsurance, Amount: 5_000},
			payroll.Line{Kind: payroll.LineEmployerInsurance, Amount: 5_000},
			payroll.Line{Kind: payroll.LineLevy, Amount: 3_750},
		),
	}
}

func TestBuildJournalBalancesAndGroups(t *testing.T) {
	journal, err := BuildJournal(testRun(), twoEmployees(), testAccounts)
	require.NoError(t, err)

	assert.Equal(t, "JV-PR-202603-M-1", journal.Reference)
	assert.Equal(t, "run-1", journal.RunID)

	dr, cr := journal.Totals()
	assert.Equal(t, int64(1_633_000), dr)
	assert.Equal(t, dr, cr)

	type row struct {
		account       string
		debit, credit int64
	}
	var got []row
	for i, line := range journal.Lines {
		assert.Equal(t, i+1, line.Seq)
		got = append(got, row{line.Account, line.Debit, line.Credit})
	}
	assert.Equal(t, []row{
		{"6000", 1_500_000, 0},
		{"6010", 100_000, 0},
		{"6100", 16_000, 0},
		{"6110", 12_000, 0},
		{"6500", 5_000, 0},
		{"1400", 0, 50_000},
		{"2100", 0, 200_000},
		{"2110", 0, 32_000},
		{"2120", 0, 12_000},
		{"2200", 0, 1_339_000},
	}, got)

	require.NotNil(t, journal.Lines[1].CostTarget)
	assert.Equal(t, "P-1", journal.Lines[1].CostTarget.Ref)
	assert.Nil(t, journal.Lines[0].CostTarget)
}

func TestBuildJournalNegativeNetIsDebited(t *testing.T) {
	results := []payroll.EmployeeResult{
		result("e1", -119_000,
			payroll.Line{Kind: payroll.LineEarning, PayItemCode: "BASIC", Amount: 100_000, LedgerAccount: "6000"},
			payroll.Line{Kind: payroll.LineDeduction, PayItemCode: "LOAN", Amount: 200_000, LedgerAccount: "1400"},
			payroll.Line{Kind: payroll.LineTax, Amount: 18_000},
			payroll.Line{Kind: payroll.LineEmployeeInsurance, Amount: 1_000},
			payroll.Line{Kind: payroll.LineEmployerInsurance, Amount: 1_000},
		),
	}
	journal, err := BuildJournal(testRun(), results, testAccounts)
	require.NoError(t, err)

	dr, cr := journal.Totals()
	assert.Equal(t, int64(220_000), dr)
	assert.Equal(t, dr, cr)

	var net JournalLine
	for _, line := range journal.Lines {
		if line.Account == testAccounts.NetPayPayable {
			net = line
		}
		if line.Debit < 0 || line.Credit < 0 {
			t.Fatalf("negative amount on line %+v", line)
		}
	}
	assert.Equal(t, int64(119_000), net.Debit)
	assert.Zero(t, net.Credit)
}

func TestBuildJournalRejectsMissingAccounts(t *testing.T) {
	results := []payroll.EmployeeResult{
		result("e1", 100_000, payroll.Line{Kind: payroll.LineEarning, PayItemCode: "BASIC", Amount: 100_000}),
	}
	_, err := BuildJournal(testRun(), results, testAccounts)
	if !errors.Is(err, ErrUnresolvableAccount) {
		t.Fatalf("expected ErrUnresolvableAccount, got %v", err)
	}

	incomplete := testAccounts
	incomplete.LevyExpense = ""
	_, err = BuildJournal(testRun(), twoEmployees(), incomplete)
	if !errors.Is(err, ErrAccountsNotConfigured) {
		t.Fatalf("expected ErrAccountsNotConfigured, got %v", err)
	}
}

func TestBuildJournalEmptyRun(t *testing.T) {
	journal, err := BuildJournal(testRun(), nil, testAccounts)
	require.NoError(t, err)
	assert.Empty(t, journal.Lines)
}
