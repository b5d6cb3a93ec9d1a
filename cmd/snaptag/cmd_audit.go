package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/yairfalse/snaptag/internal/audit"
)

var (
	auditDir   string
	auditSince time.Duration
	auditTypes []string
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Replay the audit journal",
	Long: `Replay the append-only audit journal: every tag applied, failed or left
unresolved, and every snapshot that was skipped, deferred or failed.`,
	Example: `  snaptag audit                          # Everything in the journal
  snaptag audit --since 24h              # Last day only
  snaptag audit --type tag_unresolved    # Keys no source could fill`,
	RunE: runAudit,
}

func init() {
	rootCmd.AddCommand(auditCmd)

	auditCmd.Flags().StringVar(&auditDir, "audit-dir", "", "Audit directory (defaults to storage.audit_dir)")
	auditCmd.Flags().DurationVar(&auditSince, "since", 0, "Only show entries newer than this (e.g. 24h)")
	auditCmd.Flags().StringSliceVar(&auditTypes, "type", nil, "Only show these entry types")
}

func runAudit(cmd *cobra.Command, args []string) error {
	dir, err := storageDir(auditDir, func(s storagePaths) string { return s.audit })
	if err != nil {
		return err
	}

	var since time.Time
	if auditSince > 0 {
		since = time.Now().Add(-auditSince)
	}

	return printAudit(cmd.OutOrStdout(), dir, since, auditTypes)
}

func printAudit(out io.Writer, dir string, since time.Time, types []string) error {
	wanted := make(map[audit.EntryType]bool, len(types))
	for _, t := range types {
		wanted[audit.EntryType(t)] = true
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tTYPE\tRESOURCE\tDATA\tERROR")

	err := audit.Replay(dir, since, func(e *audit.Entry) error {
		if len(wanted) > 0 && !wanted[e.Type] {
			return nil
		}
		_, err := fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			e.Timestamp.Format(time.RFC3339),
			e.Type,
			e.ResourceID,
			string(e.Data),
			e.Error,
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("replay audit journal: %w", err)
	}

	return w.Flush()
}
