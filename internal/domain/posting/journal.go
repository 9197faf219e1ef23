package posting

import (
	"fmt"
	"sort"

	"payrun/internal/domain/payroll"
)

type side int

const (
	debit side = iota
	credit
)

type entryKey struct {
	side    side
	account string
	memo    string
	target  payroll.CostTarget
}

type builder struct {
	amounts map[entryKey]int64
}

// add books amount on the given side; a negative amount moves to the
// opposite side so every journal line stays non-negative.
func (b *builder) add(s side, account, memo string, target *payroll.CostTarget, amount int64) {
	if amount == 0 {
		return
	}
	if amount < 0 {
		s = 1 - s
		amount = -amount
	}
	key := entryKey{side: s, account: account, memo: memo}
	if !target.Empty() {
		key.target = *target
	}
	b.amounts[key] += amount
}

// BuildJournal turns the current results of a run into one balanced journal.
// Earnings and reimbursements are debited to their pay item accounts and
// employer charges to the expense accounts; statutory liabilities, other
// deductions and net pay are credited. Benefit lines are non-cash and are
// not posted.
func BuildJournal(run payroll.Run, results []payroll.EmployeeResult, accounts Accounts) (Journal, error) {
	for _, code := range accounts.codes() {
		if code == "" {
			return Journal{}, ErrAccountsNotConfigured
		}
	}

	b := &builder{amounts: map[entryKey]int64{}}
	for _, r := range results {
		for _, line := range r.Lines {
			switch line.Kind {
			case payroll.LineEarning, payroll.LineReimbursement, payroll.LineDeduction, payroll.LineContribution:
				if line.LedgerAccount == "" {
					return Journal{}, fmt.Errorf("%w: pay item %s has no ledger account", ErrUnresolvableAccount, line.PayItemCode)
				}
			}
			switch line.Kind {
			case payroll.LineEarning:
				b.add(debit, line.LedgerAccount, "Earnings", line.CostTarget, line.Amount)
			case payroll.LineReimbursement:
				b.add(debit, line.LedgerAccount, "Reimbursements", line.CostTarget, line.Amount)
			case payroll.LineDeduction, payroll.LineContribution:
				b.add(credit, line.LedgerAccount, "Deductions", line.CostTarget, line.Amount)
			case payroll.LineEmployerInsurance:
				b.add(debit, accounts.EmployerInsuranceExpense, "Employer social insurance", nil, line.Amount)
				b.add(credit, accounts.InsurancePayable, "Social insurance", nil, line.Amount)
			case payroll.LineEmployeeInsurance:
				b.add(credit, accounts.InsurancePayable, "Social insurance", nil, line.Amount)
			case payroll.LineLevy:
				b.add(debit, accounts.LevyExpense, "Levy", nil, line.Amount)
				b.add(credit, accounts.LevyPayable, "Levy", nil, line.Amount)
			case payroll.LineTax:
				b.add(credit, accounts.TaxPayable, "Income tax", nil, line.Amount)
			}
		}
		b.add(credit, accounts.NetPayPayable, "Net pay", nil, r.Net)
	}

	keys := make([]entryKey, 0, len(b.amounts))
	for key := range b.amounts {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, c := keys[i], keys[j]
		if a.side != c.side {
			return a.side < c.side
		}
		if a.account != c.account {
			return a.account < c.account
		}
		if a.memo != c.memo {
			return a.memo < c.memo
		}
		if a.target.Type != c.target.Type {
			return a.target.Type < c.target.Type
		}
		return a.target.Ref < c.target.Ref
	})

	journal := Journal{
		CompanyID:   run.CompanyID,
		RunID:       run.ID,
		Reference:   "JV-" + run.RunNumber,
		Date:        run.PayDate,
		Description: fmt.Sprintf("Payroll %s (%s to %s)", run.RunNumber, run.PeriodStart.Format("2006-01-02"), run.PeriodEnd.Format("2006-01-02")),
	}
	for i, key := range keys {
		line := JournalLine{Seq: i + 1, Account: key.account, Memo: key.memo}
		if key.target != (payroll.CostTarget{}) {
			target := key.target
			line.CostTarget = &target
		}
		if key.side == debit {
			line.Debit = b.amounts[key]
		} else {
			line.Credit = b.amounts[key]
		}
		journal.Lines = append(journal.Lines, line)
	}

	if dr, cr := journal.Totals(); dr != cr {
		return Journal{}, fmt.Errorf("%w: debits %d, credits %d", ErrUnbalanced, dr, cr)
	}
	return journal, nil
}
