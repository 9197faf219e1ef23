package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"payrun/internal/platform/config"
	"payrun/internal/platform/logger"
)

var version = "0.1.0"

// NewRootCommand builds the payrun command tree around cfg.
func NewRootCommand(cfg config.Config) *cobra.Command {
	root := &cobra.Command{
		Use:   "payrun",
		Short: "Payroll run calculation and lifecycle service",
		Long: `payrun calculates pay runs from versioned statutory tables and company pay
items, and moves them through review, approval, locking and posting.

Configuration comes from the environment, optionally pre-loaded from .env.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(
		newServeCommand(cfg),
		newMigrateCommand(cfg),
		newTaxTablesCommand(cfg),
		newTokenCommand(cfg),
		newRunCommand(cfg),
		newPayslipsCommand(cfg),
	)
	return root
}

func Execute(ctx context.Context, cfg config.Config) int {
	log := logger.WithComponent("cmd")
	if err := NewRootCommand(cfg).ExecuteContext(ctx); err != nil {
		log.Error().Err(err).Msg("command failed")
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
