package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/policyqa/internal/core/ports/driving"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Keep the index in step with the documents directory",
	Long: `Index the documents directory, then watch it for changes. New and
modified files are re-ingested and deleted files are removed from the
index. Cached answers for affected policies are invalidated.

Stop with Ctrl+C.`,
	Args: cobra.NoArgs,
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	app, err := openApp(ctx, nil)
	if err != nil {
		return err
	}
	defer app.Close()

	if app.Sync == nil {
		return errNoDocsDir
	}

	out := newRenderer(cmd.OutOrStdout())

	report, err := app.Sync.Sync(ctx, driving.SyncOptions{Prune: true})
	if err != nil {
		return fmt.Errorf("initial sync failed: %w", err)
	}
	out.Report(report)
	out.printf("\n%s\n", out.styles.Muted.Render("Watching for changes, press Ctrl+C to stop"))

	return app.Sync.Watch(ctx, func(e driving.WatchEvent) {
		if e.Err != nil {
			out.printf("%s %s %s: %v\n", out.styles.Error.Render("error"), e.Change, e.URI, e.Err)
			return
		}
		out.printf("%s %s\n", out.styles.Success.Render(e.Change.String()), e.URI)
	})
}
