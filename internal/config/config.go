package config

import (
	"os"
	"path/filepath"
)

// Config represents the main Loom configuration
type Config struct {
	// Data directory for the durable store and logs
	DataDir string `json:"data_dir" mapstructure:"data_dir"`

	// DatabasePath overrides the default <data_dir>/loom.db location
	DatabasePath string `json:"database_path" mapstructure:"database_path"`

	// DefinitionsDir holds agent definition files (frontmatter + template)
	DefinitionsDir string `json:"definitions_dir" mapstructure:"definitions_dir"`

	// WatchDefinitions enables hot reload of the definitions directory
	WatchDefinitions bool `json:"watch_definitions" mapstructure:"watch_definitions"`

	// Runtime limits
	Runtime RuntimeConfig `json:"runtime" mapstructure:"runtime"`

	// Providers are LLM auth profiles in failover priority order
	Providers []ProviderProfile `json:"providers" mapstructure:"providers"`

	// Logging configuration
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`

	// Tracing configuration
	Tracing TracingConfig `json:"tracing" mapstructure:"tracing"`
}

// RuntimeConfig bounds the execution loop
type RuntimeConfig struct {
	// MaxTurns bounds the tool-calling loop per agent run
	MaxTurns int `json:"max_turns" mapstructure:"max_turns"`

	// BatchConcurrency bounds concurrent tool calls within one turn
	BatchConcurrency int `json:"batch_concurrency" mapstructure:"batch_concurrency"`

	// ConcurrentBatches enables the bounded-concurrency coordinator;
	// when false tool calls in a turn run sequentially
	ConcurrentBatches bool `json:"concurrent_batches" mapstructure:"concurrent_batches"`

	// Interactive marks the host as suspension-capable; non-interactive
	// hosts answer escalations through a synchronous prompter
	Interactive bool `json:"interactive" mapstructure:"interactive"`
}

// ProviderProfile represents authentication credentials for an LLM provider
type ProviderProfile struct {
	ID       string `json:"id" mapstructure:"id"`
	Provider string `json:"provider" mapstructure:"provider"` // "anthropic", "openai"
	APIKey   string `json:"api_key" mapstructure:"api_key"`
	Model    string `json:"model" mapstructure:"model"`
	Priority int    `json:"priority" mapstructure:"priority"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level   string `json:"level" mapstructure:"level"`
	File    string `json:"file" mapstructure:"file"`
	Console bool   `json:"console" mapstructure:"console"`
	Pretty  bool   `json:"pretty" mapstructure:"pretty"`
}

// TracingConfig controls the OpenTelemetry provider
type TracingConfig struct {
	// SampleRatio is the head sampling ratio in (0, 1]; out-of-range
	// values fall back to sampling everything
	SampleRatio float64 `json:"sample_ratio" mapstructure:"sample_ratio"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	dataDir := ".loom"
	if home, err := os.UserHomeDir(); err == nil {
		dataDir = filepath.Join(home, ".loom")
	}

	return &Config{
		DataDir:          dataDir,
		DefinitionsDir:   filepath.Join(dataDir, "agents"),
		WatchDefinitions: true,
		Runtime: RuntimeConfig{
			MaxTurns:          10,
			BatchConcurrency:  5,
			ConcurrentBatches: true,
			Interactive:       true,
		},
		Logging: LoggingConfig{
			Level:   "info",
			Console: true,
		},
		Tracing: TracingConfig{
			SampleRatio: 1,
		},
	}
}

// ResolveDatabasePath returns the effective database path
func (c *Config) ResolveDatabasePath() string {
	if c.DatabasePath != "" {
		return c.DatabasePath
	}
	return filepath.Join(c.DataDir, "loom.db")
}
