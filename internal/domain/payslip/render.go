package payslip

import (
	"bytes"
	"fmt"

	"github.com/jung-kurt/gofpdf"

	"payrun/internal/domain/money"
	"payrun/internal/domain/payroll"
)

// Document is everything printed on one payslip.
type Document struct {
	Run      payroll.Run
	Result   payroll.EmployeeResult
	Currency string
}

func Render(doc Document) ([]byte, error) {
	run, r := doc.Run, doc.Result
	amount := func(cents int64) string {
		return fmt.Sprintf("%s %s", money.Format(cents), doc.Currency)
	}

	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetTitle("Payslip "+run.RunNumber+" "+r.EmployeeNumber, false)
	pdf.AddPage()
	pdf.SetFont("Helvetica", "B", 16)
	pdf.Cell(40, 10, "Payslip")
	pdf.Ln(12)

	pdf.SetFont("Helvetica", "", 11)
	pdf.Cell(0, 7, fmt.Sprintf("Employee: %s (%s)", r.FullName, r.EmployeeNumber))
	pdf.Ln(6)
	pdf.Cell(0, 7, fmt.Sprintf("Run: %s", run.RunNumber))
	pdf.Ln(6)
	pdf.Cell(0, 7, fmt.Sprintf("Period: %s to %s", run.PeriodStart.Format("2006-01-02"), run.PeriodEnd.Format("2006-01-02")))
	pdf.Ln(6)
	pdf.Cell(0, 7, fmt.Sprintf("Pay date: %s", run.PayDate.Format("2006-01-02")))
	pdf.Ln(10)

	pdf.SetFont("Helvetica", "B", 11)
	pdf.CellFormat(110, 7, "Item", "B", 0, "L", false, 0, "")
	pdf.CellFormat(70, 7, "Amount", "B", 1, "R", false, 0, "")
	pdf.SetFont("Helvetica", "", 11)
	for _, line := range r.Lines {
		if line.Kind == payroll.LineEmployerInsurance || line.Kind == payroll.LineLevy {
			continue
		}
		label := line.Name
		if line.Kind.EmployeeDeduction() {
			label = "less " + label
		}
		pdf.CellFormat(110, 6, label, "", 0, "L", false, 0, "")
		pdf.CellFormat(70, 6, amount(line.Amount), "", 1, "R", false, 0, "")
	}
	pdf.Ln(4)

	pdf.SetFont("Helvetica", "B", 11)
	for _, row := range []struct {
		label string
		value int64
	}{
		{"Gross pay", r.Gross},
		{"Taxable income", r.Taxable},
		{"Net pay", r.Net},
		{"Bank transfer", r.BankTransfer},
	} {
		pdf.CellFormat(110, 7, row.label, "T", 0, "L", false, 0, "")
		pdf.CellFormat(70, 7, amount(row.value), "T", 1, "R", false, 0, "")
	}
	if run.JournalRef != "" {
		pdf.Ln(4)
		pdf.SetFont("Helvetica", "", 9)
		pdf.Cell(0, 6, "Journal: "+run.JournalRef)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("render payslip for %s: %w", r.EmployeeID, err)
	}
	return buf.Bytes(), nil
}
