package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect and manage the answer cache",
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show cache hit rate and size",
	Args:  cobra.NoArgs,
	RunE:  runCacheStats,
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Drop every cached answer",
	Args:  cobra.NoArgs,
	RunE:  runCacheClear,
}

var cacheInvalidateCmd = &cobra.Command{
	Use:   "invalidate [policy-id]",
	Short: "Drop cached answers for a policy",
	Long: `Drop cached answers scoped to the policy, together with answers that
were produced across all policies.`,
	Args: cobra.ExactArgs(1),
	RunE: runCacheInvalidate,
}

func init() {
	cacheStatsCmd.Flags().Bool("json", false, "print the stats as JSON")
	cacheCmd.AddCommand(cacheStatsCmd)
	cacheCmd.AddCommand(cacheClearCmd)
	cacheCmd.AddCommand(cacheInvalidateCmd)
	rootCmd.AddCommand(cacheCmd)
}

func runCacheStats(cmd *cobra.Command, _ []string) error {
	asJSON, _ := cmd.Flags().GetBool("json")

	ctx := cmd.Context()
	app, err := openApp(ctx, nil)
	if err != nil {
		return err
	}
	defer app.Close()

	stats, err := app.Cache.Stats(ctx)
	if err != nil {
		return fmt.Errorf("failed to get cache stats: %w", err)
	}

	if asJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(stats)
	}

	cmd.Printf("Cached answers: %d\n", stats.Items)
	cmd.Printf("Hits: %d, misses: %d, hit rate: %.1f%%\n", stats.Hits, stats.Misses, stats.HitRate*100)
	return nil
}

func runCacheClear(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	app, err := openApp(ctx, nil)
	if err != nil {
		return err
	}
	defer app.Close()

	n, err := app.Cache.Clear(ctx)
	if err != nil {
		return fmt.Errorf("failed to clear cache: %w", err)
	}
	cmd.Printf("Removed %d cached answers\n", n)
	return nil
}

func runCacheInvalidate(cmd *cobra.Command, args []string) error {
	policyID := strings.TrimSpace(args[0])
	if policyID == "" {
		return fmt.Errorf("policy id cannot be empty")
	}

	ctx := cmd.Context()
	app, err := openApp(ctx, nil)
	if err != nil {
		return err
	}
	defer app.Close()

	n, err := app.Cache.InvalidatePolicy(ctx, policyID)
	if err != nil {
		return fmt.Errorf("failed to invalidate %s: %w", policyID, err)
	}
	cmd.Printf("Removed %d cached answers for %s\n", n, policyID)
	return nil
}
