package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/yairfalse/snaptag/internal/tagging"
)

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Show the required tags and their placeholders",
	Long: `Resolve the required tag keys from the AWS Config rule and show the
placeholder each key would receive when no parent instance exists.`,
	RunE: runRules,
}

func init() {
	rootCmd.AddCommand(rulesCmd)
}

func runRules(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	a, err := newApp(ctx, cfg, appOptions{noStorage: true})
	if err != nil {
		return err
	}
	defer func() { _ = a.Close(ctx) }()

	required, err := tagging.ResolveRequired(ctx, a.client, cfg.RuleName)
	if err != nil {
		return err
	}

	return printRules(cmd.OutOrStdout(), cfg.RuleName, required, a.placeholders)
}

func printRules(out io.Writer, ruleName string, required tagging.RequiredTags, placeholders *tagging.Placeholders) error {
	fmt.Fprintf(out, "Rule: %s\n", ruleName)
	fmt.Fprintf(out, "Catch-all: %q\n\n", placeholders.CatchAll())

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "KEY\tPLACEHOLDER\tSOURCE")
	for _, key := range required.Keys() {
		source := "catch-all"
		if placeholders.HasDefault(key) {
			source = "default"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", key, placeholders.Resolve(key), source)
	}
	return w.Flush()
}
