// Package env overlays environment variables on another ConfigStore.
//
// Every dotted key can be overridden by POLICYQA_<KEY>, with dots replaced by
// underscores: cache.ttl becomes POLICYQA_CACHE_TTL. A few keys also honour
// the conventional variable of the service they configure, such as REDIS_URL
// or the provider's API key variable.
package env

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"github.com/custodia-labs/policyqa/internal/core/domain"
	"github.com/custodia-labs/policyqa/internal/core/ports/driven"
)

// Ensure Overlay implements the interface.
var _ driven.ConfigStore = (*Overlay)(nil)

// Prefix starts every policyqa environment variable.
const Prefix = "POLICYQA_"

// aliases are conventional variable names checked after the prefixed one.
var aliases = map[string][]string{
	"cache.redis_url":             {"REDIS_URL"},
	"cache.redis_password":        {"REDIS_PASSWORD"},
	"vector_index.qdrant_url":     {"QDRANT_URL"},
	"vector_index.qdrant_api_key": {"QDRANT_API_KEY"},
	"telemetry.otlp_endpoint":     {"OTEL_EXPORTER_OTLP_ENDPOINT"},
}

// providerKeyVars maps a provider to its API key variable.
var providerKeyVars = map[domain.AIProvider]string{
	domain.AIProviderAnthropic: "ANTHROPIC_API_KEY",
	domain.AIProviderOpenAI:    "OPENAI_API_KEY",
	domain.AIProviderGemini:    "GEMINI_API_KEY",
}

// Overlay reads environment variables first and falls back to the base store.
// Writes always go to the base store.
type Overlay struct {
	base   driven.ConfigStore
	lookup func(string) (string, bool)
}

// Option configures an Overlay.
type Option func(*Overlay)

// WithLookup replaces os.LookupEnv.
func WithLookup(fn func(string) (string, bool)) Option {
	return func(o *Overlay) {
		if fn != nil {
			o.lookup = fn
		}
	}
}

// New wraps base with environment overrides.
func New(base driven.ConfigStore, opts ...Option) *Overlay {
	o := &Overlay{
		base:   base,
		lookup: os.LookupEnv,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// LoadDotEnv loads variables from the given .env files into the process
// environment. Missing files are skipped; existing variables are kept.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, path := range paths {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if err := godotenv.Load(path); err != nil {
			return fmt.Errorf("loading %s: %w", path, err)
		}
	}
	return nil
}

// VarName returns the prefixed variable for a dotted key.
func VarName(key string) string {
	return Prefix + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

// env returns the override for key, if any.
func (o *Overlay) env(key string) (string, bool) {
	if v, ok := o.lookup(VarName(key)); ok && v != "" {
		return v, true
	}
	for _, name := range aliases[key] {
		if v, ok := o.lookup(name); ok && v != "" {
			return v, true
		}
	}

	var providerKey string
	switch key {
	case "llm.api_key":
		providerKey = "llm.provider"
	case "embedding.api_key":
		providerKey = "embedding.provider"
	default:
		return "", false
	}
	name, ok := providerKeyVars[domain.AIProvider(o.GetString(providerKey))]
	if !ok {
		return "", false
	}
	if v, ok := o.lookup(name); ok && v != "" {
		return v, true
	}
	return "", false
}

// Get retrieves a configuration value by key. Overrides are strings.
func (o *Overlay) Get(key string) (any, bool) {
	if v, ok := o.env(key); ok {
		return v, true
	}
	return o.base.Get(key)
}

// GetString retrieves a string configuration value.
func (o *Overlay) GetString(key string) string {
	if v, ok := o.env(key); ok {
		return v
	}
	return o.base.GetString(key)
}

// GetInt retrieves an integer configuration value.
func (o *Overlay) GetInt(key string) int {
	if v, ok := o.env(key); ok {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return 0
		}
		return n
	}
	return o.base.GetInt(key)
}

// GetFloat retrieves a float configuration value.
func (o *Overlay) GetFloat(key string) float64 {
	if v, ok := o.env(key); ok {
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0
		}
		return f
	}
	return o.base.GetFloat(key)
}

// GetBool retrieves a boolean configuration value.
func (o *Overlay) GetBool(key string) bool {
	if v, ok := o.env(key); ok {
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		return err == nil && b
	}
	return o.base.GetBool(key)
}

// GetStringSlice splits comma-separated overrides.
func (o *Overlay) GetStringSlice(key string) []string {
	if v, ok := o.env(key); ok {
		parts := strings.Split(v, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				result = append(result, p)
			}
		}
		return result
	}
	return o.base.GetStringSlice(key)
}

// Set writes to the base store. An active override still wins on read.
func (o *Overlay) Set(key string, value any) error {
	return o.base.Set(key, value)
}

// Save persists the base store.
func (o *Overlay) Save() error {
	return o.base.Save()
}

// Load reloads the base store.
func (o *Overlay) Load() error {
	return o.base.Load()
}

// Path returns the base store's path.
func (o *Overlay) Path() string {
	return o.base.Path()
}
