package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/yairfalse/snaptag/internal/history"
	"github.com/yairfalse/snaptag/internal/reconciler"
)

var (
	reportDir       string
	reportRuns      int
	reportAttention bool
	reportDiff      bool
	reportFormat    string
)

// reportCmd represents the report command
var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Show recent runs and per-snapshot outcomes",
	Long: `Show reconciliation history from the local run store:
- Recent runs with their status and per-state counts
- The latest outcome of every snapshot seen by a non-dry run
- With --diff, what changed between the two most recent non-dry runs

The run store is a single-writer database. A running daemon holds its lock,
so report fails against the daemon's history directory until it stops.`,
	Example: `  snaptag report                      # Recent runs and snapshot outcomes
  snaptag report --attention          # Only snapshots that still need work
  snaptag report --diff               # Changes since the previous run
  snaptag report --runs 20 -f json    # Last 20 runs as JSON`,
	RunE: runReport,
}

func init() {
	rootCmd.AddCommand(reportCmd)

	reportCmd.Flags().StringVar(&reportDir, "history-dir", "", "History directory (defaults to storage.history_dir)")
	reportCmd.Flags().IntVar(&reportRuns, "runs", 10, "Number of recent runs to show")
	reportCmd.Flags().BoolVar(&reportAttention, "attention", false, "Only show snapshots that are failed, deferred or partially unresolved")
	reportCmd.Flags().BoolVar(&reportDiff, "diff", false, "Show outcome changes between the two most recent runs")
	reportCmd.Flags().StringVarP(&reportFormat, "format", "f", "table", "Output format: table, json")
}

func runReport(cmd *cobra.Command, args []string) error {
	dir, err := storageDir(reportDir, func(s storagePaths) string { return s.history })
	if err != nil {
		return err
	}

	store, err := history.Open(dir)
	if err != nil {
		return fmt.Errorf("open history: %w", err)
	}
	defer func() { _ = store.Close() }()

	if reportDiff {
		return runReportDiff(cmd.OutOrStdout(), store)
	}

	runs, err := store.Runs(reportRuns)
	if err != nil {
		return err
	}

	filter := func(history.SnapshotRecord) bool { return true }
	if reportAttention {
		filter = history.SnapshotRecord.NeedsAttention
	}
	snapshots := store.Snapshots(filter)

	out := cmd.OutOrStdout()
	switch reportFormat {
	case "json":
		return printHistoryJSON(out, runs, snapshots)
	case "table":
		return printHistoryTable(out, runs, snapshots)
	default:
		return fmt.Errorf("unknown format %q", reportFormat)
	}
}

type storagePaths struct {
	history string
	audit   string
}

// storageDir returns flagValue, or the configured directory when the flag
// is empty.
func storageDir(flagValue string, pick func(storagePaths) string) (string, error) {
	if flagValue != "" {
		return flagValue, nil
	}
	cfg, err := loadConfig()
	if err != nil {
		return "", err
	}
	dir := pick(storagePaths{history: cfg.Storage.HistoryDir, audit: cfg.Storage.AuditDir})
	if dir == "" {
		return "", errors.New("no storage directory configured")
	}
	return dir, nil
}

func printHistoryJSON(w io.Writer, runs []*reconciler.Report, snapshots []history.SnapshotRecord) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(struct {
		Runs      []*reconciler.Report     `json:"runs"`
		Snapshots []history.SnapshotRecord `json:"snapshots"`
	}{runs, snapshots})
}

func printHistoryTable(out io.Writer, runs []*reconciler.Report, snapshots []history.SnapshotRecord) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)

	fmt.Fprintln(w, "RUN\tSTARTED\tDURATION\tSTATUS\tDRY RUN\tSUMMARY")
	for _, r := range runs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%t\t%s\n",
			r.RunID,
			r.StartedAt.Format(time.RFC3339),
			r.Duration().Round(time.Millisecond),
			r.Status(),
			r.DryRun,
			r.Summary(),
		)
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "SNAPSHOT\tSTATE\tAT\tUNRESOLVED\tERROR")
	for _, s := range snapshots {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			s.SnapshotID,
			s.State,
			s.At.Format(time.RFC3339),
			strings.Join(s.Unresolved, ","),
			s.Error,
		)
	}

	return w.Flush()
}

func runReportDiff(out io.Writer, store *history.Store) error {
	prev, curr, err := store.LatestPair()
	if err != nil {
		return err
	}
	if prev == nil {
		_, err := fmt.Fprintln(out, "Need two completed runs to compare")
		return err
	}

	changes := history.Diff(prev, curr)
	if reportFormat == "json" {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(changes)
	}
	return printDiffTable(out, prev.RunID, curr.RunID, changes)
}

func printDiffTable(out io.Writer, prevID, currID string, changes []history.OutcomeChange) error {
	fmt.Fprintf(out, "Changes from %s to %s\n\n", prevID, currID)
	if len(changes) == 0 {
		_, err := fmt.Fprintln(out, "No changes")
		return err
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SNAPSHOT\tCHANGE\tBEFORE\tAFTER")
	for _, c := range changes {
		before, after := "-", "-"
		if c.Previous != nil {
			before = string(c.Previous.State)
		}
		if c.Current != nil {
			after = string(c.Current.State)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", c.SnapshotID, c.Type, before, after)
	}
	return w.Flush()
}
