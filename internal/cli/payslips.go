package cli

import (
	"context"

	"github.com/spf13/cobra"

	"payrun/internal/app/server"
	"payrun/internal/platform/config"
	"payrun/internal/platform/jobs"
)

func newPayslipsCommand(cfg config.Config) *cobra.Command {
	payslips := &cobra.Command{
		Use:   "payslips",
		Short: "Manage generated payslips",
	}

	sweep := &cobra.Command{
		Use:   "sweep",
		Short: "Generate payslips for finalized runs that are missing them",
		Long: `sweep regenerates payslips for locked or posted runs whose generation
failed after commit. The run is recorded in job_runs like the scheduled sweep.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, _ := cmd.Flags().GetInt("limit")
			app, err := server.New(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer app.Close()
			out, err := app.Jobs.RunNow(cmd.Context(), jobs.JobPayslipSweep, func(ctx context.Context) (any, error) {
				return app.Payslips.Sweep(ctx, limit)
			})
			if perr := printJSON(cmd.OutOrStdout(), out); perr != nil {
				return perr
			}
			return err
		},
	}
	sweep.Flags().Int("limit", 100, "Maximum runs to process")

	payslips.AddCommand(sweep)
	return payslips
}
