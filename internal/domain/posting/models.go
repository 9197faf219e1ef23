package posting

import (
	"errors"
	"time"

	"payrun/internal/domain/payroll"
)

var (
	ErrAccountsNotConfigured = errors.New("payroll posting accounts are not configured")
	ErrUnresolvableAccount   = errors.New("ledger account cannot be resolved")
	ErrAlreadyPosted         = errors.New("pay run already has a journal")
	ErrUnbalanced            = errors.New("journal does not balance")
	ErrRunNotLocked          = errors.New("pay run is not locked")
)

// Accounts are the company's control accounts for payroll postings.
type Accounts struct {
	TaxPayable               string `json:"taxPayable"`
	InsurancePayable         string `json:"insurancePayable"`
	LevyPayable              string `json:"levyPayable"`
	NetPayPayable            string `json:"netPayPayable"`
	EmployerInsuranceExpense string `json:"employerInsuranceExpense"`
	LevyExpense              string `json:"levyExpense"`
}

func (a Accounts) codes() []string {
	return []string{a.TaxPayable, a.InsurancePayable, a.LevyPayable, a.NetPayPayable, a.EmployerInsuranceExpense, a.LevyExpense}
}

type Journal struct {
	ID          string        `json:"id"`
	CompanyID   string        `json:"companyId"`
	RunID       string        `json:"runId"`
	Reference   string        `json:"reference"`
	Date        time.Time     `json:"date"`
	Description string        `json:"description"`
	Lines       []JournalLine `json:"lines"`
}

type JournalLine struct {
	Seq        int                 `json:"seq"`
	Account    string              `json:"account"`
	Debit      int64               `json:"debit"`
	Credit     int64               `json:"credit"`
	CostTarget *payroll.CostTarget `json:"costTarget,omitempty"`
	Memo       string              `json:"memo"`
}

func (j Journal) Totals() (debit, credit int64) {
	for _, line := range j.Lines {
		debit += line.Debit
		credit += line.Credit
	}
	return debit, credit
}
