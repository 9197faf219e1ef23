package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"payrun/internal/app/server"
	"payrun/internal/domain/taxtable"
	"payrun/internal/platform/config"
	"payrun/internal/platform/db"
)

func newServeCommand(cfg config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and background jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := server.New(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer app.Close()
			return app.Run(cmd.Context())
		},
	}
}

func newMigrateCommand(cfg config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the bundled database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.Validate(); err != nil {
				return err
			}
			pool, err := db.Connect(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer pool.Close()
			if err := db.Migrate(cmd.Context(), pool, db.Migrations()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
			return nil
		},
	}
}

func newTaxTablesCommand(cfg config.Config) *cobra.Command {
	tables := &cobra.Command{
		Use:   "taxtables",
		Short: "Manage statutory tax and contribution tables",
	}

	importCmd := &cobra.Command{
		Use:     "import",
		Short:   "Import tax tables from a YAML file",
		Example: `  payrun taxtables import --file config/tax_tables.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, _ := cmd.Flags().GetString("file")
			if path == "" {
				return fmt.Errorf("--file is required")
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			pool, err := db.Connect(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer pool.Close()
			n, err := taxtable.ImportFile(cmd.Context(), taxtable.NewStore(pool), path)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "imported %d tax tables\n", n)
			return nil
		},
	}
	importCmd.Flags().String("file", cfg.TaxTableFile, "YAML file with tax tables")
	tables.AddCommand(importCmd)
	return tables
}
