package payroll

import "time"

// ExecContext carries the caller identity into every engine and lifecycle call.
type ExecContext struct {
	CompanyID string
	ActorID   string
	RequestID string
	IP        string
}

type CompanySettings struct {
	CompanyID         string            `json:"companyId"`
	Currency          string            `json:"currency"`
	AutoPost          bool              `json:"autoPost"`
	TerminationPolicy TerminationPolicy `json:"terminationPolicy"`
}

type BankDetails struct {
	VendorID      string `json:"vendorId"`
	Routing       string `json:"routing"`
	AccountNumber string `json:"accountNumber"`
}

func (b BankDetails) Complete() bool {
	return b.VendorID != "" && b.Routing != "" && b.AccountNumber != ""
}

// Employee is the read-only snapshot the engine calculates from.
type Employee struct {
	ID                string      `json:"id"`
	CompanyID         string      `json:"companyId"`
	Number            string      `json:"number"`
	FullName          string      `json:"fullName"`
	Email             string      `json:"email"`
	EmploymentType    string      `json:"employmentType"`
	Frequency         Frequency   `json:"frequency"`
	BaseSalary        int64       `json:"baseSalary"`
	InsuranceIncluded bool        `json:"insuranceIncluded"`
	LevyIncluded      bool        `json:"levyIncluded"`
	Bank              BankDetails `json:"bank"`
	HiredOn           time.Time   `json:"hiredOn"`
	TerminatedOn      *time.Time  `json:"terminatedOn,omitempty"`
}

// TerminatedAsOf reports whether the termination date is on or before at.
func (e Employee) TerminatedAsOf(at time.Time) bool {
	return e.TerminatedOn != nil && !dateOnly(at).Before(dateOnly(*e.TerminatedOn))
}

type Run struct {
	ID           string     `json:"id"`
	CompanyID    string     `json:"companyId"`
	RunNumber    string     `json:"runNumber"`
	Frequency    Frequency  `json:"frequency"`
	PeriodStart  time.Time  `json:"periodStart"`
	PeriodEnd    time.Time  `json:"periodEnd"`
	PayDate      time.Time  `json:"payDate"`
	Status       Status     `json:"status"`
	Version      int        `json:"version"`
	CalcVersion  int        `json:"calcVersion"`
	CalculatedAt *time.Time `json:"calculatedAt,omitempty"`
	CalculatedBy string     `json:"calculatedBy,omitempty"`
	ReviewedAt   *time.Time `json:"reviewedAt,omitempty"`
	ReviewedBy   string     `json:"reviewedBy,omitempty"`
	ApprovedAt   *time.Time `json:"approvedAt,omitempty"`
	ApprovedBy   string     `json:"approvedBy,omitempty"`
	LockedAt     *time.Time `json:"lockedAt,omitempty"`
	LockedBy     string     `json:"lockedBy,omitempty"`
	PostedAt     *time.Time `json:"postedAt,omitempty"`
	PostedBy     string     `json:"postedBy,omitempty"`
	JournalRef   string     `json:"journalRef,omitempty"`
	CreatedBy    string     `json:"createdBy"`
	CreatedAt    time.Time  `json:"createdAt"`
}

func (r Run) Period() Period {
	return Period{Frequency: r.Frequency, Start: r.PeriodStart, End: r.PeriodEnd, PayDate: r.PayDate}
}

type Period struct {
	Frequency Frequency `json:"frequency"`
	Start     time.Time `json:"start"`
	End       time.Time `json:"end"`
	PayDate   time.Time `json:"payDate"`
}

type CreateRunInput struct {
	Frequency   Frequency `json:"frequency"`
	PeriodStart time.Time `json:"periodStart"`
	PeriodEnd   time.Time `json:"periodEnd"`
	PayDate     time.Time `json:"payDate"`
}

// CostTarget tags a line with an external cost-tracking entity.
type CostTarget struct {
	Type string `json:"type"`
	Ref  string `json:"ref"`
}

func (c *CostTarget) Empty() bool {
	return c == nil || (c.Type == "" && c.Ref == "")
}

// Input is an ad-hoc line supplied for one employee in one run.
type Input struct {
	ID          string      `json:"id"`
	EmployeeID  string      `json:"employeeId"`
	PayItemCode string      `json:"payItemCode"`
	Amount      int64       `json:"amount"`
	CostTarget  *CostTarget `json:"costTarget,omitempty"`
	Description string      `json:"description,omitempty"`
	CreatedBy   string      `json:"createdBy,omitempty"`
	CreatedAt   time.Time   `json:"createdAt"`
}

type Exclusion struct {
	EmployeeID string    `json:"employeeId"`
	Reason     string    `json:"reason"`
	ExcludedBy string    `json:"excludedBy"`
	ExcludedAt time.Time `json:"excludedAt"`
}

// LineKind classifies a calculated line. Pay item lines carry their item's
// category; the rest are statutory amounts computed by the engine.
type LineKind string

const (
	LineEarning           LineKind = "earning"
	LineDeduction         LineKind = "deduction"
	LineContribution      LineKind = "contribution"
	LineBenefit           LineKind = "benefit"
	LineReimbursement     LineKind = "reimbursement"
	LineTax               LineKind = "tax"
	LineEmployeeInsurance LineKind = "employee_insurance"
	LineEmployerInsurance LineKind = "employer_insurance"
	LineLevy              LineKind = "levy"
)

// EmployeeDeduction reports whether the line reduces the employee's net pay.
func (k LineKind) EmployeeDeduction() bool {
	switch k {
	case LineDeduction, LineContribution, LineTax, LineEmployeeInsurance:
		return true
	}
	return false
}

// EmployerCharge reports whether the line is an employer-side statutory cost.
func (k LineKind) EmployerCharge() bool {
	return k == LineEmployerInsurance || k == LineLevy
}

type Line struct {
	Seq           int         `json:"seq"`
	Kind          LineKind    `json:"kind"`
	PayItemCode   string      `json:"payItemCode,omitempty"`
	Name          string      `json:"name"`
	Amount        int64       `json:"amount"`
	LedgerAccount string      `json:"ledgerAccount,omitempty"`
	CostTarget    *CostTarget `json:"costTarget,omitempty"`
}

// Breakdown is the per-employee result of one calculation.
type Breakdown struct {
	EmployeeID        string `json:"employeeId"`
	Gross             int64  `json:"gross"`
	Taxable           int64  `json:"taxable"`
	Tax               int64  `json:"tax"`
	EmployeeInsurance int64  `json:"employeeInsurance"`
	EmployerInsurance int64  `json:"employerInsurance"`
	Levy              int64  `json:"levy"`
	OtherDeductions   int64  `json:"otherDeductions"`
	Reimbursements    int64  `json:"reimbursements"`
	Net               int64  `json:"net"`
	EmployerCost      int64  `json:"employerCost"`
	BankTransfer      int64  `json:"bankTransfer"`
	Lines             []Line `json:"lines"`
	Trace             Trace  `json:"trace"`

	// Retained marks a snapshot carried forward for a terminated employee.
	Retained bool `json:"retained,omitempty"`
}

// Trace records the inputs and intermediate values of one calculation.
type Trace struct {
	Frequency         Frequency      `json:"frequency"`
	PeriodsPerYear    int64          `json:"periodsPerYear"`
	PeriodStart       string         `json:"periodStart"`
	TaxTableID        string         `json:"taxTableId"`
	TaxTableEffective string         `json:"taxTableEffective"`
	BaseSalary        int64          `json:"baseSalary"`
	NonTaxable        int64          `json:"nonTaxable"`
	PreTax            int64          `json:"preTax"`
	TaxableBenefits   int64          `json:"taxableBenefits"`
	AnnualTaxable     int64          `json:"annualTaxable"`
	AnnualTax         int64          `json:"annualTax"`
	Brackets          []TraceBracket `json:"brackets,omitempty"`
	InsuranceBase     int64          `json:"insuranceBase"`
	InsuranceRate     string         `json:"insuranceRate"`
	InsuranceCap      int64          `json:"insuranceCap"`
	InsuranceCapped   bool           `json:"insuranceCapped"`
	LevyBase          int64          `json:"levyBase"`
	LevyRate          string         `json:"levyRate"`
	Inputs            []TraceInput   `json:"inputs,omitempty"`
	Notes             []string       `json:"notes,omitempty"`
}

type TraceBracket struct {
	Lower   int64  `json:"lower"`
	Upper   *int64 `json:"upper,omitempty"`
	Rate    string `json:"rate"`
	Portion int64  `json:"portion"`
	Tax     int64  `json:"tax"`
}

type TraceInput struct {
	InputID     string `json:"inputId,omitempty"`
	PayItemCode string `json:"payItemCode"`
	Amount      int64  `json:"amount"`
}

// EmployeeResult is a persisted breakdown with the employee's display data.
type EmployeeResult struct {
	RunID       string `json:"runId"`
	CalcVersion int    `json:"calcVersion"`
	Breakdown
	EmployeeNumber string      `json:"employeeNumber,omitempty"`
	FullName       string      `json:"fullName,omitempty"`
	Bank           BankDetails `json:"-"`
}

// RunResult pairs a finalized result with its run's pay date, for
// statutory aggregation.
type RunResult struct {
	PayDate time.Time `json:"payDate"`
	EmployeeResult
}

func dateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
