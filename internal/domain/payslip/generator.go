package payslip

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"payrun/internal/domain/payroll"
	"payrun/internal/platform/crypto"
)

var ErrNotFound = errors.New("payslip not found")

type Payslip struct {
	ID         string    `json:"id"`
	RunID      string    `json:"runId"`
	EmployeeID string    `json:"employeeId"`
	FilePath   string    `json:"-"`
	CreatedAt  time.Time `json:"createdAt"`
}

// RunReader is the read side of the payroll store.
type RunReader interface {
	CompanySettings(ctx context.Context, companyID string) (payroll.CompanySettings, error)
	GetRun(ctx context.Context, companyID, runID string) (payroll.Run, error)
	ListResults(ctx context.Context, runID string, calcVersion int) ([]payroll.EmployeeResult, error)
}

type StoreAPI interface {
	UpsertPayslip(ctx context.Context, p Payslip) error
	GetPayslip(ctx context.Context, companyID, runID, employeeID string) (Payslip, error)
	RunsMissingPayslips(ctx context.Context, limit int) ([]RunRef, error)
}

// RunRef names a finalized run that still lacks payslips.
type RunRef struct {
	CompanyID string
	RunID     string
}

// SweepResult summarizes one pass over runs missing payslips.
type SweepResult struct {
	Runs      int      `json:"runs"`
	Generated int      `json:"generated"`
	Failed    []string `json:"failed,omitempty"`
}

// Generator renders one PDF per employee of a finalized run. Files are
// sealed when the sealer has a key.
type Generator struct {
	runs   RunReader
	store  StoreAPI
	sealer *crypto.Sealer
	dir    string
	log    zerolog.Logger
}

func NewGenerator(runs RunReader, store StoreAPI, sealer *crypto.Sealer, dir string, log zerolog.Logger) *Generator {
	return &Generator{runs: runs, store: store, sealer: sealer, dir: dir, log: log}
}

func (g *Generator) GeneratePayslips(ctx context.Context, companyID, runID string) (int, error) {
	run, err := g.runs.GetRun(ctx, companyID, runID)
	if err != nil {
		return 0, err
	}
	if !run.Status.Finalized() {
		return 0, fmt.Errorf("payslips need a locked or posted run, %s is %s", run.RunNumber, run.Status)
	}
	settings, err := g.runs.CompanySettings(ctx, companyID)
	if err != nil {
		return 0, err
	}
	results, err := g.runs.ListResults(ctx, run.ID, run.CalcVersion)
	if err != nil {
		return 0, err
	}

	runDir := filepath.Join(g.dir, companyID, run.ID)
	if err := os.MkdirAll(runDir, 0o750); err != nil {
		return 0, err
	}

	count := 0
	for _, r := range results {
		if err := ctx.Err(); err != nil {
			return count, err
		}
		data, err := Render(Document{Run: run, Result: r, Currency: settings.Currency})
		if err != nil {
			return count, err
		}
		name := r.EmployeeID + ".pdf"
		if g.sealer.Configured() {
			if data, err = g.sealer.Seal(data); err != nil {
				return count, fmt.Errorf("seal payslip for %s: %w", r.EmployeeID, err)
			}
			name += ".enc"
		}
		path := filepath.Join(runDir, name)
		if err := os.WriteFile(path, data, 0o600); err != nil {
			return count, err
		}
		if err := g.store.UpsertPayslip(ctx, Payslip{ID: uuid.NewString(), RunID: run.ID, EmployeeID: r.EmployeeID, FilePath: path}); err != nil {
			return count, err
		}
		count++
	}

	g.log.Info().Str("runId", run.ID).Int("count", count).Bool("sealed", g.sealer.Configured()).Msg("payslips generated")
	return count, nil
}

// Load returns the PDF bytes of one payslip, opening sealed files.
func (g *Generator) Load(ctx context.Context, companyID, runID, employeeID string) ([]byte, error) {
	p, err := g.store.GetPayslip(ctx, companyID, runID, employeeID)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p.FilePath)
	if err != nil {
		return nil, err
	}
	if strings.HasSuffix(p.FilePath, ".enc") {
		return g.sealer.Open(data)
	}
	return data, nil
}

// Sweep regenerates payslips for finalized runs whose generation failed or
// never ran. A failing run is reported and does not stop the others.
func (g *Generator) Sweep(ctx context.Context, limit int) (SweepResult, error) {
	refs, err := g.store.RunsMissingPayslips(ctx, limit)
	if err != nil {
		return SweepResult{}, err
	}
	res := SweepResult{Runs: len(refs)}
	for _, ref := range refs {
		count, err := g.GeneratePayslips(ctx, ref.CompanyID, ref.RunID)
		res.Generated += count
		if err != nil {
			g.log.Warn().Err(err).Str("runId", ref.RunID).Msg("payslip sweep failed for run")
			res.Failed = append(res.Failed, ref.RunID)
		}
	}
	if len(res.Failed) > 0 {
		return res, fmt.Errorf("payslip sweep failed for %d of %d runs", len(res.Failed), len(refs))
	}
	return res, nil
}
