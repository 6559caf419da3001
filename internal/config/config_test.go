package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.NotEmpty(t, cfg.DataDir)
	assert.Equal(t, 10, cfg.Runtime.MaxTurns)
	assert.Equal(t, 5, cfg.Runtime.BatchConcurrency)
	assert.True(t, cfg.Runtime.ConcurrentBatches)
	assert.Equal(t, 1.0, cfg.Tracing.SampleRatio)
}

func TestResolveDatabasePath(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, filepath.Join(cfg.DataDir, "loom.db"), cfg.ResolveDatabasePath())

	cfg.DatabasePath = "/tmp/custom.db"
	assert.Equal(t, "/tmp/custom.db", cfg.ResolveDatabasePath())
}

func TestLoader_MissingFileReturnsDefaults(t *testing.T) {
	loader := NewLoader(filepath.Join(t.TempDir(), "missing.json"))
	cfg, err := loader.Load()
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Runtime.MaxTurns, cfg.Runtime.MaxTurns)
}

func TestLoader_ReadsFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "loom.json")
	data := `{"data_dir": "` + dir + `", "runtime": {"max_turns": 4, "batch_concurrency": 2, "concurrent_batches": false, "interactive": true}}`
	require.NoError(t, os.WriteFile(path, []byte(data), 0600))

	cfg, err := NewLoader(path).Load()
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.Runtime.MaxTurns)
	assert.Equal(t, 2, cfg.Runtime.BatchConcurrency)
	assert.False(t, cfg.Runtime.ConcurrentBatches)
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty data dir", func(c *Config) { c.DataDir = "" }},
		{"zero max turns", func(c *Config) { c.Runtime.MaxTurns = 0 }},
		{"zero concurrency", func(c *Config) { c.Runtime.BatchConcurrency = 0 }},
		{"unknown provider", func(c *Config) {
			c.Providers = []ProviderProfile{{ID: "p1", Provider: "gemini"}}
		}},
		{"duplicate profile id", func(c *Config) {
			c.Providers = []ProviderProfile{
				{ID: "p1", Provider: "anthropic"},
				{ID: "p1", Provider: "openai"},
			}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			assert.Error(t, Validate(cfg))
		})
	}
}
