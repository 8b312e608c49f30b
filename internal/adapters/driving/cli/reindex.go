package cli

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/policyqa/internal/core/ports/driving"
	"github.com/custodia-labs/policyqa/internal/core/services"
)

// errNoDocsDir is returned by commands that read the documents directory.
var errNoDocsDir = errors.New("no documents directory: pass --docs or set ingest.docs_dir")

var reindexCmd = &cobra.Command{
	Use:   "reindex",
	Short: "Index the policy documents directory",
	Long: `Read every supported file in the documents directory and bring the
index up to date. Unchanged documents are skipped, so running reindex
twice does no embedding work the second time.

Use --prune to also drop documents whose files have been deleted.`,
	Args: cobra.NoArgs,
	RunE: runReindex,
}

func init() {
	reindexCmd.Flags().Bool("prune", false, "remove indexed documents that no longer exist")
	reindexCmd.Flags().Bool("json", false, "print the report as JSON")
	rootCmd.AddCommand(reindexCmd)
}

func runReindex(cmd *cobra.Command, _ []string) error {
	prune, _ := cmd.Flags().GetBool("prune")
	asJSON, _ := cmd.Flags().GetBool("json")

	var progress services.ProgressFunc
	if p := newIngestProgress(cmd.ErrOrStderr()); p != nil && !asJSON {
		progress = p.Update
	}

	ctx := cmd.Context()
	app, err := openApp(ctx, progress)
	if err != nil {
		return err
	}
	defer app.Close()

	if app.Sync == nil {
		return errNoDocsDir
	}

	report, err := app.Sync.Sync(ctx, driving.SyncOptions{Prune: prune})
	if report != nil {
		if asJSON {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if encErr := enc.Encode(report); encErr != nil {
				return encErr
			}
		} else {
			newRenderer(cmd.OutOrStdout()).Report(report)
		}
	}
	if err != nil {
		return fmt.Errorf("reindex failed: %w", err)
	}
	return nil
}
