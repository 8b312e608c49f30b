// Package cli provides the policyqa command line. Each command builds the
// services it needs through appFactory and closes them before returning.
package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/policyqa/internal/logger"
)

// version is set by Execute from the build.
var version = "dev"

// Global flag values.
var (
	verbose   bool
	configDir string
	dataDir   string
	docsDir   string
	envFiles  []string
)

var rootCmd = &cobra.Command{
	Use:   "policyqa",
	Short: "Ask grounded questions about insurance policy documents",
	Long: `policyqa indexes a directory of insurance policy documents and answers
questions about them with citations to the policy text.

Answers are cached, so repeated questions are served without calling the
language model. Configuration lives in ~/.policyqa/config.toml and can be
overridden with POLICYQA_* environment variables or a .env file.`,
	SilenceUsage: true,
	PersistentPreRun: func(_ *cobra.Command, _ []string) {
		logger.SetVerbose(verbose)
	},
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.BoolVarP(&verbose, "verbose", "v", false, "log each pipeline step")
	flags.StringVar(&configDir, "config-dir", "", "directory holding config.toml (default ~/.policyqa)")
	flags.StringVar(&dataDir, "data-dir", "", "directory holding the local index (default ~/.policyqa/data)")
	flags.StringVarP(&docsDir, "docs", "d", "", "policy documents directory (overrides ingest.docs_dir)")
	flags.StringSliceVar(&envFiles, "env-file", nil, "dotenv files to load (default .env)")
}

// globalOptions collects the persistent flags.
func globalOptions() AppOptions {
	return AppOptions{
		ConfigDir: configDir,
		DataDir:   dataDir,
		DocsDir:   docsDir,
		EnvFiles:  envFiles,
	}
}

// Execute runs the root command until it completes or the process is
// interrupted.
func Execute(v string) error {
	if v != "" {
		version = v
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return rootCmd.ExecuteContext(ctx)
}
