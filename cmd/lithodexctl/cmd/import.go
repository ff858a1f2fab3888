package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lithodex/lithodex/internal/importer"
)

var importResume bool

var importCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Bulk-load a mineral dataset export",
	Long: `Import clears the local catalog and loads the given dataset file in
batches, checkpointing after every batch. An interrupted load can be
continued with --resume, which picks up from the checkpoint as long as
the file is byte-identical to the original.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), deps.cfg.Import.Timeout)
		defer cancel()

		// Resume is a per-invocation choice, so the command builds its own
		// importer rather than using the shared one.
		imp := importer.New(deps.store, importer.Config{
			BatchSize: deps.cfg.Import.BatchSize,
			Resume:    importResume,
		})

		res, err := imp.ImportFile(ctx, args[0], printingSink{})
		if err != nil {
			return err
		}

		fmt.Printf("run %s\n", res.RunID)
		fmt.Printf("  rows:     %d\n", res.TotalRows)
		fmt.Printf("  imported: %d\n", res.Imported)
		fmt.Printf("  skipped:  %d\n", res.Skipped)
		fmt.Printf("  errors:   %d\n", res.ErrorCount)
		for _, e := range res.Errors {
			fmt.Printf("    - %s\n", e)
		}
		return nil
	},
}

// printingSink writes batch progress to stdout.
type printingSink struct{}

func (printingSink) Update(processed, total int, running bool) {
	if running {
		fmt.Printf("\r%d/%d rows", processed, total)
	} else {
		fmt.Printf("\r%d/%d rows\n", processed, total)
	}
}

func init() {
	importCmd.Flags().BoolVar(&importResume, "resume", false, "continue an interrupted import from its checkpoint")
	rootCmd.AddCommand(importCmd)
}
