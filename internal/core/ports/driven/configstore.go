package driven

// ConfigStore provides access to application configuration by dotted key
// (e.g. "cache.ttl", "embedding.provider").
// Implementations handle persistence (TOML file, environment) and type conversion.
type ConfigStore interface {
	// Get retrieves a configuration value by key.
	// Returns the value and a boolean indicating if the key exists.
	Get(key string) (any, bool)

	// GetString retrieves a string value, or "" when absent or not a string.
	GetString(key string) string

	// GetInt retrieves an integer value, or 0 when absent or not an integer.
	GetInt(key string) int

	// GetFloat retrieves a float value, or 0 when absent or not numeric.
	GetFloat(key string) float64

	// GetBool retrieves a boolean value, or false when absent.
	GetBool(key string) bool

	// GetStringSlice retrieves a string slice value, or nil when absent.
	GetStringSlice(key string) []string

	// Set stores a configuration value and persists it.
	Set(key string, value any) error

	// Save persists the current configuration to storage.
	Save() error

	// Load reads configuration from storage.
	Load() error

	// Path returns the configuration file path.
	Path() string
}
