package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/yairfalse/snaptag/internal/reconciler"
)

var (
	reconcileDryRun bool
	reconcileFull   bool
)

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Run one reconciliation pass",
	Long: `Run one reconciliation pass over the snapshots AWS Config reports as
NON_COMPLIANT for the configured rule.

For each missing required tag the value is copied from the parent DB
instance when it exists, otherwise the configured placeholder is applied.
The completion signal is printed as JSON when the pass finishes.`,
	Example: `  snaptag reconcile                       # Fix non-compliant snapshots
  snaptag reconcile --dry-run             # Show what would be written
  snaptag reconcile --full                # Print the full report`,
	RunE: runReconcile,
}

func init() {
	rootCmd.AddCommand(reconcileCmd)

	reconcileCmd.Flags().BoolVar(&reconcileDryRun, "dry-run", false, "Compute and log tag writes without applying them")
	reconcileCmd.Flags().BoolVar(&reconcileFull, "full", false, "Print the full report instead of the completion signal")
}

func runReconcile(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	a, err := newApp(ctx, cfg, appOptions{dryRun: reconcileDryRun})
	if err != nil {
		return err
	}
	defer func() { _ = a.Close(ctx) }()

	report, err := a.reconciler.Run(ctx)
	if err != nil {
		return fmt.Errorf("reconcile: %w", err)
	}

	return printReport(cmd.OutOrStdout(), report, reconcileFull)
}

func printReport(w io.Writer, report *reconciler.Report, full bool) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if full {
		return enc.Encode(report)
	}
	return enc.Encode(report.Completion())
}
