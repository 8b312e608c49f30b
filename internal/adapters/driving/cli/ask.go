package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/policyqa/internal/core/domain"
	"github.com/custodia-labs/policyqa/internal/core/ports/driving"
	"github.com/custodia-labs/policyqa/internal/logger"
)

var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Ask a question about the indexed policies",
	Long: `Answer a question from the indexed policy documents.

The answer cites the policy sections it relies on. When nothing relevant
is indexed the answer says so instead of guessing.

Examples:
  policyqa ask "What is my collision deductible?"
  policyqa ask --policy POL-HOME-001 "Is flood damage covered?"
  policyqa ask --json "Does my policy cover rental cars?"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAsk,
}

func init() {
	askCmd.Flags().StringP("policy", "p", "", "restrict the answer to one policy id")
	askCmd.Flags().Bool("json", false, "print the result as JSON")
	askCmd.Flags().Bool("stats", false, "print cache and cost statistics after the answer")
	rootCmd.AddCommand(askCmd)
}

// askOutput is the JSON shape of an answer.
type askOutput struct {
	*domain.AnswerResult
	ResponseTimeMS int64 `json:"response_time_ms"`
}

func runAsk(cmd *cobra.Command, args []string) error {
	question := strings.TrimSpace(strings.Join(args, " "))
	if question == "" {
		return errors.New("question cannot be empty")
	}
	policyID, _ := cmd.Flags().GetString("policy")
	asJSON, _ := cmd.Flags().GetBool("json")
	showStats, _ := cmd.Flags().GetBool("stats")

	ctx := cmd.Context()
	app, err := openApp(ctx, nil)
	if err != nil {
		return err
	}
	defer app.Close()

	if app.Sync != nil {
		report, err := app.Sync.EnsureIndexed(ctx)
		if err != nil {
			return fmt.Errorf("initial indexing failed: %w", err)
		}
		if report != nil {
			logger.Info("Indexed %d documents before answering", report.Added)
		}
	}

	result, err := app.Query.Ask(ctx, driving.AskRequest{Question: question, PolicyID: policyID})
	if err != nil {
		return err
	}

	if asJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(askOutput{AnswerResult: result, ResponseTimeMS: result.ResponseTimeMS()})
	}

	out := newRenderer(cmd.OutOrStdout())
	out.Answer(result)

	if showStats {
		stats, err := app.Query.Stats(ctx)
		if err != nil {
			return fmt.Errorf("failed to get stats: %w", err)
		}
		out.printf("\n")
		out.Stats(stats)
	}
	return nil
}
