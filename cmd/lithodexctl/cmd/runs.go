package cmd

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var runsLimit int

var runsCmd = &cobra.Command{
	Use:   "runs [run-id]",
	Short: "Inspect sync and import run history",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 1 {
			return showRun(cmd, args[0])
		}

		runs, err := deps.store.ListRuns(cmd.Context(), runsLimit)
		if err != nil {
			return err
		}
		for _, run := range runs {
			completed := "-"
			if run.CompletedAt != nil {
				completed = run.CompletedAt.Format("2006-01-02 15:04:05")
			}
			fmt.Printf("%s  %-16s  %-9s  started %s  completed %s  processed %d  errors %d\n",
				run.ID, run.RunType, run.Status,
				run.StartedAt.Format("2006-01-02 15:04:05"), completed,
				run.Processed, run.ErrorCount,
			)
		}
		return nil
	},
}

func showRun(cmd *cobra.Command, arg string) error {
	runID, err := uuid.Parse(arg)
	if err != nil {
		return fmt.Errorf("invalid run id %q: %w", arg, err)
	}
	run, found, err := deps.store.GetRun(cmd.Context(), runID)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("run %s not found", runID)
	}

	fmt.Printf("run %s\n", run.ID)
	fmt.Printf("  type:      %s\n", run.RunType)
	fmt.Printf("  status:    %s\n", run.Status)
	fmt.Printf("  started:   %s\n", run.StartedAt.Format("2006-01-02 15:04:05"))
	if run.CompletedAt != nil {
		fmt.Printf("  completed: %s\n", run.CompletedAt.Format("2006-01-02 15:04:05"))
	}
	fmt.Printf("  processed: %d  added: %d  updated: %d  errors: %d\n",
		run.Processed, run.Added, run.Updated, run.ErrorCount)
	if run.Details != "" {
		fmt.Printf("  details:   %s\n", run.Details)
	}
	for _, e := range run.Errors {
		fmt.Printf("    - %s\n", e)
	}
	return nil
}

func init() {
	runsCmd.Flags().IntVar(&runsLimit, "limit", 20, "maximum runs to list")
	rootCmd.AddCommand(runsCmd)
}
