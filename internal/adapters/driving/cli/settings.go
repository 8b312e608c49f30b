package cli

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/custodia-labs/policyqa/internal/core/domain"
	"github.com/custodia-labs/policyqa/internal/core/ports/driving"
)

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Manage application settings",
	Long: `View and configure AI providers, the vector index and the answer cache.

Values set here are saved to config.toml. POLICYQA_* environment variables
and .env files still override them at runtime.`,
	RunE: runSettingsShow,
}

var settingsShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current settings",
	Args:  cobra.NoArgs,
	RunE:  runSettingsShow,
}

var settingsEmbeddingCmd = &cobra.Command{
	Use:   "embedding",
	Short: "Configure embedding provider",
	Long:  `Configure the provider used to embed policy chunks and questions.`,
	Args:  cobra.NoArgs,
	RunE:  runSettingsEmbedding,
}

var settingsLLMCmd = &cobra.Command{
	Use:   "llm",
	Short: "Configure LLM provider",
	Long:  `Configure the provider used to write answers from retrieved excerpts.`,
	Args:  cobra.NoArgs,
	RunE:  runSettingsLLM,
}

var settingsDocsCmd = &cobra.Command{
	Use:   "docs [dir]",
	Short: "Set the policy documents directory",
	Long: `Save the documents directory so --docs can be omitted. The directory
is indexed automatically the first time a question is asked.`,
	Args: cobra.ExactArgs(1),
	RunE: runSettingsDocs,
}

func init() {
	settingsCmd.AddCommand(settingsShowCmd)
	settingsCmd.AddCommand(settingsEmbeddingCmd)
	settingsCmd.AddCommand(settingsLLMCmd)
	settingsCmd.AddCommand(settingsDocsCmd)
	rootCmd.AddCommand(settingsCmd)
}

// openSettings opens the settings service. When fileOnly is set the
// environment overlay is skipped so Save never persists overrides.
func openSettings(fileOnly bool) (driving.SettingsService, error) {
	opts := globalOptions()
	opts.FileOnly = fileOnly
	return settingsFactory(opts)
}

func runSettingsShow(cmd *cobra.Command, _ []string) error {
	settingsService, err := openSettings(false)
	if err != nil {
		return err
	}

	settings, err := settingsService.Get()
	if err != nil {
		return fmt.Errorf("failed to get settings: %w", err)
	}

	cmd.Println("Current Settings")
	cmd.Println("================")
	cmd.Println()

	cmd.Println("[Embedding]")
	printProvider(cmd, settings.Embedding.Provider, settings.Embedding.Model,
		settings.Embedding.BaseURL, settings.Embedding.APIKey, settings.Embedding.IsConfigured())

	cmd.Println("[LLM]")
	printProvider(cmd, settings.LLM.Provider, settings.LLM.Model,
		settings.LLM.BaseURL, settings.LLM.APIKey, settings.LLM.IsConfigured())

	cmd.Println("[Vector Index]")
	cmd.Printf("  Backend: %s\n", settings.VectorIndex.Backend)
	cmd.Printf("  Collection: %s\n", settings.VectorIndex.Collection)
	if settings.VectorIndex.Backend == domain.VectorBackendQdrant {
		cmd.Printf("  Qdrant URL: %s\n", settings.VectorIndex.QdrantURL)
		if settings.VectorIndex.QdrantAPIKey != "" {
			cmd.Printf("  Qdrant API Key: %s\n", maskAPIKey(settings.VectorIndex.QdrantAPIKey))
		}
	}
	cmd.Println()

	cmd.Println("[Cache]")
	cmd.Printf("  Backend: %s\n", settings.Cache.Backend)
	cmd.Printf("  TTL: %s\n", settings.Cache.TTL)
	if settings.Cache.Backend == domain.CacheBackendRedis {
		cmd.Printf("  Redis: %s (db %d)\n", settings.Cache.RedisURL, settings.Cache.RedisDB)
	}
	cmd.Println()

	cmd.Println("[Retrieval]")
	cmd.Printf("  Top K: %d\n", settings.Retrieval.TopK)
	cmd.Printf("  Min relevance: %.2f\n", settings.Retrieval.MinRelevance)
	cmd.Printf("  Chunk size: %d tokens, overlap %d\n", settings.Chunking.MaxTokens, settings.Chunking.OverlapTokens)
	cmd.Println()

	cmd.Println("[Documents]")
	if settings.Ingest.DocsDir != "" {
		cmd.Printf("  Directory: %s\n", settings.Ingest.DocsDir)
	} else {
		cmd.Printf("  Directory: (not set)\n")
	}
	cmd.Printf("  Include: %s\n", strings.Join(settings.Ingest.Include, ", "))
	cmd.Println()

	if err := settingsService.Validate(); err != nil {
		cmd.Printf("Warning: %v\n", err)
		cmd.Println("Run 'policyqa settings embedding' and 'policyqa settings llm' to configure providers.")
	} else {
		cmd.Println("Configuration is valid.")
	}

	return nil
}

func printProvider(cmd *cobra.Command, provider domain.AIProvider, model, baseURL, apiKey string, configured bool) {
	cmd.Printf("  Provider: %s\n", provider.Description())
	cmd.Printf("  Model: %s\n", model)
	if provider == domain.AIProviderOllama && baseURL != "" {
		cmd.Printf("  Base URL: %s\n", baseURL)
	}
	if provider.RequiresAPIKey() {
		if apiKey != "" {
			cmd.Printf("  API Key: %s\n", maskAPIKey(apiKey))
		} else {
			cmd.Printf("  API Key: (not set)\n")
		}
	}
	status := "configured"
	if !configured {
		status = "not configured"
	}
	cmd.Printf("  Status: %s\n", status)
	cmd.Println()
}

func runSettingsEmbedding(cmd *cobra.Command, _ []string) error {
	return editSettings(cmd, func(settings *domain.AppSettings, reader *bufio.Reader) error {
		provider, model, apiKey, err := promptProvider(cmd, reader, "Embedding",
			domain.AllEmbeddingProviders(), domain.DefaultEmbeddingModels())
		if err != nil {
			return err
		}
		settings.Embedding.Provider = provider
		settings.Embedding.Model = model
		settings.Embedding.APIKey = apiKey
		cmd.Printf("Embedding provider configured: %s (%s)\n", provider.Description(), model)
		return nil
	})
}

func runSettingsLLM(cmd *cobra.Command, _ []string) error {
	return editSettings(cmd, func(settings *domain.AppSettings, reader *bufio.Reader) error {
		provider, model, apiKey, err := promptProvider(cmd, reader, "LLM",
			domain.AllLLMProviders(), domain.DefaultLLMModels())
		if err != nil {
			return err
		}
		settings.LLM.Provider = provider
		settings.LLM.Model = model
		settings.LLM.APIKey = apiKey
		cmd.Printf("LLM provider configured: %s (%s)\n", provider.Description(), model)
		return nil
	})
}

func runSettingsDocs(cmd *cobra.Command, args []string) error {
	dir := resolveDir(args[0])
	info, err := os.Stat(dir)
	if err != nil {
		return fmt.Errorf("documents directory: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", dir)
	}

	return editSettings(cmd, func(settings *domain.AppSettings, _ *bufio.Reader) error {
		settings.Ingest.DocsDir = dir
		cmd.Printf("Documents directory set to: %s\n", dir)
		return nil
	})
}

// editSettings loads file settings, applies edit and saves the result.
func editSettings(cmd *cobra.Command, edit func(*domain.AppSettings, *bufio.Reader) error) error {
	settingsService, err := openSettings(true)
	if err != nil {
		return err
	}

	settings, err := settingsService.Get()
	if err != nil {
		return fmt.Errorf("failed to get settings: %w", err)
	}

	if err := edit(settings, bufio.NewReader(cmd.InOrStdin())); err != nil {
		return err
	}

	if err := settingsService.Save(settings); err != nil {
		return fmt.Errorf("failed to save settings: %w", err)
	}
	return nil
}

func promptProvider(
	cmd *cobra.Command,
	reader *bufio.Reader,
	label string,
	providers []domain.AIProvider,
	defaults map[domain.AIProvider]string,
) (domain.AIProvider, string, string, error) {
	cmd.Printf("Select %s Provider\n", label)
	for i, p := range providers {
		cmd.Printf("  %d. %s\n", i+1, p.Description())
	}
	cmd.Print("\nEnter choice [1]: ")
	idx := parseChoice(readLine(reader), len(providers), 1)
	selected := providers[idx-1]

	defaultModel := defaults[selected]
	cmd.Printf("Enter model name [%s]: ", defaultModel)
	model := readLine(reader)
	if model == "" {
		model = defaultModel
	}

	var apiKey string
	if selected.RequiresAPIKey() {
		cmd.Print("Enter API key: ")
		apiKey = readPassword(cmd.InOrStdin(), reader)
		cmd.Println()
		if apiKey == "" {
			return "", "", "", errors.New("API key is required for this provider")
		}
	}

	return selected, model, apiKey, nil
}

// Helper functions.

//nolint:errcheck // CLI helper, error ignored for UX
func readLine(reader *bufio.Reader) string {
	input, _ := reader.ReadString('\n')
	return strings.TrimSpace(input)
}

func parseChoice(input string, maxVal, defaultVal int) int {
	if input == "" {
		return defaultVal
	}
	val, err := strconv.Atoi(input)
	if err != nil || val < 1 || val > maxVal {
		return defaultVal
	}
	return val
}

// readPassword reads without echo when in is a terminal.
func readPassword(in io.Reader, reader *bufio.Reader) string {
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		password, err := term.ReadPassword(int(f.Fd()))
		if err == nil {
			return strings.TrimSpace(string(password))
		}
	}
	return readLine(reader)
}

func maskAPIKey(key string) string {
	if len(key) <= 8 {
		return "****"
	}
	return key[:4] + "..." + key[len(key)-4:]
}
