package driven

import "context"

// LLMService generates text from a prompt.
//
// Generate may fail transiently. Retry, backoff and circuit breaking are
// applied by a wrapping adapter, never inside the core.
//
// Implementations include:
//   - Anthropic (Claude)
//   - OpenAI (GPT-4o)
//   - Ollama (local models)
//   - Gemini
type LLMService interface {
	// Generate produces a completion for the prompt.
	Generate(ctx context.Context, prompt string, opts GenerateOptions) (*Generation, error)

	// ModelName returns the name of the LLM model being used.
	ModelName() string

	// Ping validates the service is reachable by making a lightweight test request.
	Ping(ctx context.Context) error

	// Close releases resources.
	Close() error
}

// GenerateOptions configures text generation behaviour.
type GenerateOptions struct {
	// MaxTokens is the maximum number of tokens to generate.
	MaxTokens int

	// Temperature controls randomness (0.0 = deterministic, 1.0 = creative).
	Temperature float64

	// System is an optional system instruction.
	System string
}

// Generation is the result of one Generate call.
type Generation struct {
	// Text is the concatenated text output.
	Text string

	// InputTokens and OutputTokens are provider-reported usage.
	// Providers that do not report usage return estimates.
	InputTokens  int
	OutputTokens int
}
