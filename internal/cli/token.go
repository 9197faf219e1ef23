package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"payrun/internal/auth"
	"payrun/internal/platform/config"
)

func newTokenCommand(cfg config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "token",
		Short:   "Issue a bearer token for the API",
		Example: `  payrun token --company co-1 --actor alice --role payroll_manager --ttl 8h`,
		RunE: func(cmd *cobra.Command, args []string) error {
			company, _ := cmd.Flags().GetString("company")
			actor, _ := cmd.Flags().GetString("actor")
			role, _ := cmd.Flags().GetString("role")
			ttl, _ := cmd.Flags().GetDuration("ttl")
			if company == "" || actor == "" {
				return fmt.Errorf("--company and --actor are required")
			}
			if ttl <= 0 {
				return fmt.Errorf("--ttl must be positive")
			}
			token, err := auth.GenerateToken(cfg.JWTSecret, auth.Claims{ActorID: actor, CompanyID: company, Role: role}, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().String("company", "", "Company the token acts for")
	cmd.Flags().String("actor", "", "Actor id recorded on every change")
	cmd.Flags().String("role", auth.RoleViewer, "Role: viewer, payroll_officer, payroll_manager or finance")
	cmd.Flags().Duration("ttl", 8*time.Hour, "Token lifetime")
	return cmd
}
