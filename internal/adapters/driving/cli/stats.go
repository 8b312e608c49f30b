package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/policyqa/internal/core/domain"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show indexed policies with cache and cost statistics",
	Args:  cobra.NoArgs,
	RunE:  runStats,
}

func init() {
	statsCmd.Flags().Bool("json", false, "print the stats as JSON")
	rootCmd.AddCommand(statsCmd)
}

// statsOutput is the JSON shape of the stats command.
type statsOutput struct {
	Policies []domain.PolicySummary `json:"policies"`
	*domain.QueryStats
}

func runStats(cmd *cobra.Command, _ []string) error {
	asJSON, _ := cmd.Flags().GetBool("json")

	ctx := cmd.Context()
	app, err := openApp(ctx, nil)
	if err != nil {
		return err
	}
	defer app.Close()

	policies, err := app.Catalog.Policies(ctx)
	if err != nil {
		return fmt.Errorf("failed to list policies: %w", err)
	}
	stats, err := app.Query.Stats(ctx)
	if err != nil {
		return fmt.Errorf("failed to get stats: %w", err)
	}

	if asJSON {
		if policies == nil {
			policies = []domain.PolicySummary{}
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(statsOutput{Policies: policies, QueryStats: stats})
	}

	out := newRenderer(cmd.OutOrStdout())
	out.Policies(policies)
	out.printf("\n")
	out.Stats(stats)
	return nil
}
