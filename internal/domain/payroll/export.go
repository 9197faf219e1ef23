package payroll

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"sort"
	"strconv"
	"time"

	"payrun/internal/domain/money"
)

// BankInstruction is one transfer in a bank export.
type BankInstruction struct {
	EmployeeID     string `json:"employeeId"`
	EmployeeNumber string `json:"employeeNumber"`
	FullName       string `json:"fullName"`
	VendorID       string `json:"vendorId"`
	Routing        string `json:"routing"`
	AccountNumber  string `json:"accountNumber"`
	Amount         int64  `json:"amount"`
}

type MissingBankDetails struct {
	EmployeeID     string `json:"employeeId"`
	EmployeeNumber string `json:"employeeNumber"`
	FullName       string `json:"fullName"`
	Amount         int64  `json:"amount"`
}

type BankExport struct {
	RunID        string               `json:"runId"`
	RunNumber    string               `json:"runNumber"`
	PayDate      time.Time            `json:"payDate"`
	Instructions []BankInstruction    `json:"instructions"`
	Missing      []MissingBankDetails `json:"missing"`
	Total        int64                `json:"total"`
}

// BankExport lists the transfers of a locked or posted run. Employees with a
// zero transfer are left out; employees without complete bank details are
// reported in Missing instead of Instructions.
func (s *Service) BankExport(ctx context.Context, ec ExecContext, runID string) (BankExport, error) {
	run, err := s.GetRun(ctx, ec, runID)
	if err != nil {
		return BankExport{}, err
	}
	if !run.Status.Finalized() {
		return BankExport{}, NewValidationError("status", fmt.Sprintf("bank export needs a locked or posted run, run is %s", run.Status))
	}
	results, err := s.store.ListResults(ctx, run.ID, run.CalcVersion)
	if err != nil {
		return BankExport{}, persistence("bank export", err)
	}

	export := BankExport{
		RunID:        run.ID,
		RunNumber:    run.RunNumber,
		PayDate:      run.PayDate,
		Instructions: []BankInstruction{},
		Missing:      []MissingBankDetails{},
	}
	for _, r := range results {
		if r.BankTransfer <= 0 {
			continue
		}
		if !r.Bank.Complete() {
			export.Missing = append(export.Missing, MissingBankDetails{
				EmployeeID:     r.EmployeeID,
				EmployeeNumber: r.EmployeeNumber,
				FullName:       r.FullName,
				Amount:         r.BankTransfer,
			})
			continue
		}
		export.Instructions = append(export.Instructions, BankInstruction{
			EmployeeID:     r.EmployeeID,
			EmployeeNumber: r.EmployeeNumber,
			FullName:       r.FullName,
			VendorID:       r.Bank.VendorID,
			Routing:        r.Bank.Routing,
			AccountNumber:  r.Bank.AccountNumber,
			Amount:         r.BankTransfer,
		})
		export.Total += r.BankTransfer
	}
	return export, nil
}

// WriteCSV writes the instructions with amounts in major units.
func (e BankExport) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"vendor_id", "routing", "account_number", "amount", "employee_number", "reference"}); err != nil {
		return err
	}
	for _, in := range e.Instructions {
		record := []string{in.VendorID, in.Routing, in.AccountNumber, money.Format(in.Amount), in.EmployeeNumber, e.RunNumber}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

type ReturnKind string

const (
	ReturnMonthly ReturnKind = "monthly"
	ReturnAnnual  ReturnKind = "annual"
)

type StatutoryTotals struct {
	Gross             int64 `json:"gross"`
	Taxable           int64 `json:"taxable"`
	Tax               int64 `json:"tax"`
	EmployeeInsurance int64 `json:"employeeInsurance"`
	EmployerInsurance int64 `json:"employerInsurance"`
	Levy              int64 `json:"levy"`
}

func (t *StatutoryTotals) add(b Breakdown) {
	t.Gross += b.Gross
	t.Taxable += b.Taxable
	t.Tax += b.Tax
	t.EmployeeInsurance += b.EmployeeInsurance
	t.EmployerInsurance += b.EmployerInsurance
	t.Levy += b.Levy
}

type StatutoryEmployee struct {
	EmployeeID     string `json:"employeeId"`
	EmployeeNumber string `json:"employeeNumber"`
	FullName       string `json:"fullName"`
	Runs           int    `json:"runs"`
	StatutoryTotals
}

type StatutoryReturn struct {
	Kind      ReturnKind          `json:"kind"`
	Period    string              `json:"period"`
	From      time.Time           `json:"from"`
	To        time.Time           `json:"to"`
	Runs      int                 `json:"runs"`
	Employees []StatutoryEmployee `json:"employees"`
	Totals    StatutoryTotals     `json:"totals"`
}

// ReturnPeriod resolves the date range and key of a statutory return.
func ReturnPeriod(kind ReturnKind, year, month int) (from, to time.Time, key string, err error) {
	if year < 1900 || year > 9999 {
		return time.Time{}, time.Time{}, "", NewValidationError("year", "out of range")
	}
	switch kind {
	case ReturnMonthly:
		if month < 1 || month > 12 {
			return time.Time{}, time.Time{}, "", NewValidationError("month", "must be 1-12 for a monthly return")
		}
		from = time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC)
		return from, from.AddDate(0, 1, -1), from.Format("2006-01"), nil
	case ReturnAnnual:
		from = time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC)
		return from, from.AddDate(1, 0, -1), strconv.Itoa(year), nil
	}
	return time.Time{}, time.Time{}, "", NewValidationError("kind", fmt.Sprintf("unknown return kind %q", kind))
}

// StatutoryReturn aggregates locked and posted runs whose pay date falls in
// the period.
func (s *Service) StatutoryReturn(ctx context.Context, ec ExecContext, kind ReturnKind, year, month int) (StatutoryReturn, error) {
	if err := ec.validate(); err != nil {
		return StatutoryReturn{}, err
	}
	from, to, key, err := ReturnPeriod(kind, year, month)
	if err != nil {
		return StatutoryReturn{}, err
	}
	results, err := s.store.ListFinalizedResults(ctx, ec.CompanyID, from, to)
	if err != nil {
		return StatutoryReturn{}, persistence("statutory return", err)
	}

	ret := StatutoryReturn{Kind: kind, Period: key, From: from, To: to, Employees: []StatutoryEmployee{}}
	runs := map[string]bool{}
	byEmployee := map[string]*StatutoryEmployee{}
	for _, r := range results {
		runs[r.RunID] = true
		line, ok := byEmployee[r.EmployeeID]
		if !ok {
			line = &StatutoryEmployee{EmployeeID: r.EmployeeID, EmployeeNumber: r.EmployeeNumber, FullName: r.FullName}
			byEmployee[r.EmployeeID] = line
		}
		line.Runs++
		line.add(r.Breakdown)
		ret.Totals.add(r.Breakdown)
	}
	ret.Runs = len(runs)
	for _, line := range byEmployee {
		ret.Employees = append(ret.Employees, *line)
	}
	sort.Slice(ret.Employees, func(i, j int) bool {
		a, b := ret.Employees[i], ret.Employees[j]
		if a.EmployeeNumber != b.EmployeeNumber {
			return a.EmployeeNumber < b.EmployeeNumber
		}
		return a.EmployeeID < b.EmployeeID
	})
	return ret, nil
}
