package cmd

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	syncer "github.com/lithodex/lithodex/internal/sync"
)

var syncCmd = &cobra.Command{
	Use:   "sync [full|incremental]",
	Short: "Synchronize the catalog against the upstream API",
}

var syncFullCmd = &cobra.Command{
	Use:   "full",
	Short: "Fetch every mineral record and upsert it locally",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), deps.cfg.Sync.Timeout)
		defer cancel()

		summary, err := deps.orch.FullSync(ctx)
		return printSummary(summary, err)
	},
}

var syncIncrementalCmd = &cobra.Command{
	Use:   "incremental",
	Short: "Fetch only records changed since the last known update",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), deps.cfg.Sync.Timeout)
		defer cancel()

		summary, err := deps.orch.IncrementalSync(ctx)
		return printSummary(summary, err)
	},
}

var resyncCmd = &cobra.Command{
	Use:   "resync <mineral-id>",
	Short: "Refresh a single mineral from the upstream API",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("mineral id must be an integer: %q", args[0])
		}

		result, err := deps.orch.ResyncMineral(cmd.Context(), id)
		if err != nil {
			return err
		}
		fmt.Printf("mineral %d: %s\n", id, result)
		return nil
	},
}

// printSummary reports a finished run even when it aborted partway, since
// the summary still carries the run ID and partial counts.
func printSummary(summary *syncer.Summary, err error) error {
	if summary != nil {
		fmt.Printf("run %s\n", summary.RunID)
		fmt.Printf("  processed: %d\n", summary.Processed)
		fmt.Printf("  added:     %d\n", summary.Added)
		fmt.Printf("  updated:   %d\n", summary.Updated)
		fmt.Printf("  skipped:   %d\n", summary.Skipped)
		fmt.Printf("  errors:    %d\n", summary.ErrorCount)
		for _, e := range summary.Errors {
			fmt.Printf("    - %s\n", e)
		}
	}
	var abort *syncer.RunAbortError
	if errors.As(err, &abort) {
		return fmt.Errorf("run aborted: %s", abort.Reason)
	}
	return err
}

func init() {
	syncCmd.AddCommand(syncFullCmd)
	syncCmd.AddCommand(syncIncrementalCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(resyncCmd)
}
