package payroll

import (
	"errors"
	"fmt"

	"payrun/internal/domain/money"
	"payrun/internal/domain/payitem"
	"payrun/internal/domain/taxtable"
)

// CalcInput is everything one employee's calculation depends on. The tax
// table and catalog are loaded once per run by the caller.
type CalcInput struct {
	Employee Employee
	Period   Period
	Table    *taxtable.Table
	Catalog  payitem.Catalog
	Inputs   []Input
}

type calcItem struct {
	item    payitem.PayItem
	amount  int64
	cost    *CostTarget
	inputID string
	name    string
}

// CalculateEmployee is a pure function of its input: the same input always
// yields the same breakdown, lines and trace.
func CalculateEmployee(in CalcInput) (Breakdown, error) {
	emp := in.Employee
	periods, ok := in.Period.Frequency.PeriodsPerYear()
	if !ok {
		return Breakdown{}, NewValidationError("frequency", fmt.Sprintf("unsupported pay frequency %q", in.Period.Frequency))
	}
	if emp.Frequency != in.Period.Frequency {
		return Breakdown{}, NewValidationError("employee", fmt.Sprintf("employee %s is paid %s, run is %s", emp.ID, emp.Frequency, in.Period.Frequency))
	}
	if in.Table == nil {
		return Breakdown{}, &ConfigurationError{Reason: "no tax table loaded for " + in.Period.Start.Format("2006-01-02")}
	}
	if err := in.Table.Validate(); err != nil {
		return Breakdown{}, &ConfigurationError{Reason: "tax table " + in.Table.ID, Err: err}
	}
	table := in.Table

	items, err := collectItems(in)
	if err != nil {
		return Breakdown{}, err
	}

	trace := Trace{
		Frequency:         in.Period.Frequency,
		PeriodsPerYear:    periods,
		PeriodStart:       in.Period.Start.Format("2006-01-02"),
		TaxTableID:        table.ID,
		TaxTableEffective: table.EffectiveFrom.Format("2006-01-02"),
		BaseSalary:        emp.BaseSalary,
		InsuranceRate:     table.InsuranceRate.String(),
		LevyRate:          table.LevyRate.String(),
	}

	b := Breakdown{EmployeeID: emp.ID}
	var insuranceBase, levyBase int64
	for _, it := range items {
		kind := LineEarning
		switch it.item.Category {
		case payitem.CategoryEarning:
			b.Gross += it.amount
			if !it.item.Taxable {
				trace.NonTaxable += it.amount
			}
			if it.item.InsuranceSubject && it.item.Taxable {
				insuranceBase += it.amount
			}
			if it.item.LevySubject {
				levyBase += it.amount
			}
		case payitem.CategoryDeduction:
			kind = LineDeduction
			b.OtherDeductions += it.amount
		case payitem.CategoryContribution:
			kind = LineContribution
			b.OtherDeductions += it.amount
			if it.item.ReducesTaxable {
				trace.PreTax += it.amount
			}
		case payitem.CategoryBenefit:
			kind = LineBenefit
			if it.item.Taxable {
				trace.TaxableBenefits += it.amount
			}
		case payitem.CategoryReimbursement:
			kind = LineReimbursement
			b.Reimbursements += it.amount
		default:
			return Breakdown{}, &ConfigurationError{Reason: fmt.Sprintf("pay item %s has unknown category %q", it.item.Code, it.item.Category)}
		}
		b.Lines = append(b.Lines, Line{
			Kind:          kind,
			PayItemCode:   it.item.Code,
			Name:          it.name,
			Amount:        it.amount,
			LedgerAccount: it.item.LedgerAccount,
			CostTarget:    it.cost,
		})
		trace.Inputs = append(trace.Inputs, TraceInput{InputID: it.inputID, PayItemCode: it.item.Code, Amount: it.amount})
	}

	b.Taxable = money.Max0(b.Gross - trace.NonTaxable - trace.PreTax + trace.TaxableBenefits)

	trace.AnnualTaxable = b.Taxable * periods
	annualTax, brackets := table.AnnualTax(trace.AnnualTaxable)
	trace.AnnualTax = annualTax
	for _, bt := range brackets {
		trace.Brackets = append(trace.Brackets, TraceBracket{
			Lower: bt.Lower, Upper: bt.Upper, Rate: bt.Rate.String(), Portion: bt.Portion, Tax: bt.Tax,
		})
	}
	b.Tax = money.DivRound(annualTax, periods)

	trace.InsuranceCap = money.DivRound(table.InsuranceCap*12, periods)
	if emp.InsuranceIncluded {
		trace.InsuranceBase = insuranceBase
		contribution := money.MulRate(insuranceBase, table.InsuranceRate)
		if contribution > trace.InsuranceCap {
			contribution = trace.InsuranceCap
			trace.InsuranceCapped = true
		}
		b.EmployeeInsurance = contribution
		b.EmployerInsurance = contribution
	} else {
		trace.Notes = append(trace.Notes, "employee not subject to social insurance")
	}

	if emp.LevyIncluded {
		trace.LevyBase = levyBase
		b.Levy = money.MulRate(levyBase, table.LevyRate)
	} else {
		trace.Notes = append(trace.Notes, "employee not subject to levy")
	}

	b.Net = b.Gross - (b.Tax + b.EmployeeInsurance + b.OtherDeductions) + b.Reimbursements
	b.EmployerCost = b.Gross + b.EmployerInsurance + b.Levy
	b.BankTransfer = money.Max0(b.Net)
	if b.Net < 0 {
		trace.Notes = append(trace.Notes, "net pay is negative; no bank transfer")
	}

	statutory := []Line{
		{Kind: LineTax, Name: "Income tax", Amount: b.Tax},
		{Kind: LineEmployeeInsurance, Name: "Social insurance (employee)", Amount: b.EmployeeInsurance},
		{Kind: LineEmployerInsurance, Name: "Social insurance (employer)", Amount: b.EmployerInsurance},
		{Kind: LineLevy, Name: "Levy", Amount: b.Levy},
	}
	for _, line := range statutory {
		if line.Amount != 0 {
			b.Lines = append(b.Lines, line)
		}
	}
	for i := range b.Lines {
		b.Lines[i].Seq = i + 1
	}

	b.Trace = trace
	return b, b.Reconciles()
}

func collectItems(in CalcInput) ([]calcItem, error) {
	base, err := in.Catalog.Resolve(payitem.BaseSalaryCode)
	if err != nil {
		return nil, catalogError(err)
	}
	if base.Category != payitem.CategoryEarning {
		return nil, &ConfigurationError{Reason: fmt.Sprintf("pay item %s must be an earning, is %s", base.Code, base.Category)}
	}
	if in.Employee.BaseSalary < 0 {
		return nil, NewValidationError("baseSalary", "must not be negative")
	}

	items := []calcItem{{item: base, amount: in.Employee.BaseSalary, name: base.Name}}
	for _, input := range in.Inputs {
		if input.EmployeeID != in.Employee.ID {
			return nil, NewValidationError("inputs", fmt.Sprintf("input %s belongs to employee %s", input.ID, input.EmployeeID))
		}
		if input.Amount < 0 {
			return nil, NewValidationError("amount", fmt.Sprintf("input %s has a negative amount", input.ID))
		}
		item, err := in.Catalog.Resolve(input.PayItemCode)
		if err != nil {
			return nil, catalogError(err)
		}
		name := item.Name
		if input.Description != "" {
			name = input.Description
		}
		var cost *CostTarget
		if !input.CostTarget.Empty() {
			c := *input.CostTarget
			cost = &c
		}
		items = append(items, calcItem{item: item, amount: input.Amount, cost: cost, inputID: input.ID, name: name})
	}
	return items, nil
}

func catalogError(err error) error {
	if errors.Is(err, payitem.ErrNotFound) || errors.Is(err, payitem.ErrInactive) {
		return &ConfigurationError{Reason: "pay item unusable", Err: err}
	}
	return err
}

// Reconciles checks the aggregate invariants and the line sums.
func (b Breakdown) Reconciles() error {
	if b.Net != b.Gross-(b.Tax+b.EmployeeInsurance+b.OtherDeductions)+b.Reimbursements {
		return fmt.Errorf("employee %s: net does not reconcile", b.EmployeeID)
	}
	if b.EmployerCost != b.Gross+b.EmployerInsurance+b.Levy {
		return fmt.Errorf("employee %s: employer cost does not reconcile", b.EmployeeID)
	}
	var earnings, deductions, reimbursements, employer int64
	for _, line := range b.Lines {
		switch {
		case line.Kind == LineEarning:
			earnings += line.Amount
		case line.Kind == LineReimbursement:
			reimbursements += line.Amount
		case line.Kind.EmployeeDeduction():
			deductions += line.Amount
		case line.Kind.EmployerCharge():
			employer += line.Amount
		}
	}
	if earnings != b.Gross {
		return fmt.Errorf("employee %s: earning lines sum to %d, gross is %d", b.EmployeeID, earnings, b.Gross)
	}
	if deductions != b.Gross-b.Net+b.Reimbursements {
		return fmt.Errorf("employee %s: deduction lines sum to %d", b.EmployeeID, deductions)
	}
	if reimbursements != b.Reimbursements {
		return fmt.Errorf("employee %s: reimbursement lines sum to %d", b.EmployeeID, reimbursements)
	}
	if employer != b.EmployerCost-b.Gross {
		return fmt.Errorf("employee %s: employer lines sum to %d", b.EmployeeID, employer)
	}
	return nil
}
