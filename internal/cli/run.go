package cli

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"payrun/internal/app/server"
	"payrun/internal/domain/payroll"
	"payrun/internal/platform/config"
)

func newRunCommand(cfg config.Config) *cobra.Command {
	run := &cobra.Command{
		Use:   "run",
		Short: "Operate on pay runs directly against the database",
	}
	run.PersistentFlags().String("company", "", "Company id")
	run.PersistentFlags().String("actor", "", "Actor id recorded on every change")

	create := &cobra.Command{
		Use:     "create",
		Short:   "Create a draft pay run",
		Example: `  payrun run create --company co-1 --actor alice --frequency monthly --start 2026-03-01 --end 2026-03-31 --pay-date 2026-03-31`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ec, err := execContext(cmd)
			if err != nil {
				return err
			}
			in, err := createInput(cmd)
			if err != nil {
				return err
			}
			return withService(cmd, cfg, func(svc *payroll.Service) (any, error) {
				return svc.CreateRun(cmd.Context(), ec, in)
			})
		},
	}
	create.Flags().String("frequency", string(payroll.FrequencyMonthly), "weekly, fortnightly or monthly")
	create.Flags().String("start", "", "Period start (YYYY-MM-DD)")
	create.Flags().String("end", "", "Period end (YYYY-MM-DD)")
	create.Flags().String("pay-date", "", "Pay date (YYYY-MM-DD)")

	recalculate := &cobra.Command{
		Use:   "recalculate RUN_ID",
		Short: "Recalculate every eligible employee of a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ec, err := execContext(cmd)
			if err != nil {
				return err
			}
			return withService(cmd, cfg, func(svc *payroll.Service) (any, error) {
				return svc.Recalculate(cmd.Context(), ec, args[0])
			})
		},
	}

	advance := &cobra.Command{
		Use:   "advance RUN_ID STATUS",
		Short: "Move a run to calculated, review, approved, locked or posted",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ec, err := execContext(cmd)
			if err != nil {
				return err
			}
			target, err := payroll.ParseStatus(args[1])
			if err != nil {
				return err
			}
			return withService(cmd, cfg, func(svc *payroll.Service) (any, error) {
				return svc.Advance(cmd.Context(), ec, args[0], target)
			})
		},
	}

	show := &cobra.Command{
		Use:   "show RUN_ID",
		Short: "Print a run and its current results",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ec, err := execContext(cmd)
			if err != nil {
				return err
			}
			return withService(cmd, cfg, func(svc *payroll.Service) (any, error) {
				run, err := svc.GetRun(cmd.Context(), ec, args[0])
				if err != nil {
					return nil, err
				}
				results, err := svc.Breakdown(cmd.Context(), ec, args[0])
				if err != nil {
					return nil, err
				}
				return map[string]any{"run": run, "employees": results}, nil
			})
		},
	}

	run.AddCommand(create, recalculate, advance, show)
	return run
}

func execContext(cmd *cobra.Command) (payroll.ExecContext, error) {
	company, _ := cmd.Flags().GetString("company")
	actor, _ := cmd.Flags().GetString("actor")
	if company == "" || actor == "" {
		return payroll.ExecContext{}, fmt.Errorf("--company and --actor are required")
	}
	return payroll.ExecContext{CompanyID: company, ActorID: actor, RequestID: "cli-" + uuid.NewString(), IP: "cli"}, nil
}

func createInput(cmd *cobra.Command) (payroll.CreateRunInput, error) {
	frequency, _ := cmd.Flags().GetString("frequency")
	in := payroll.CreateRunInput{Frequency: payroll.Frequency(frequency)}
	for _, f := range []struct {
		flag string
		dst  *time.Time
	}{
		{"start", &in.PeriodStart},
		{"end", &in.PeriodEnd},
		{"pay-date", &in.PayDate},
	} {
		raw, _ := cmd.Flags().GetString(f.flag)
		parsed, err := time.Parse("2006-01-02", raw)
		if err != nil {
			return payroll.CreateRunInput{}, fmt.Errorf("--%s must be YYYY-MM-DD: %w", f.flag, err)
		}
		*f.dst = parsed
	}
	return in, nil
}

func withService(cmd *cobra.Command, cfg config.Config, fn func(*payroll.Service) (any, error)) error {
	app, err := server.New(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer app.Close()
	out, err := fn(app.Payroll)
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), out)
}
