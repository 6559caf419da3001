package config

import "fmt"

// Validate checks configuration consistency
func Validate(cfg *Config) error {
	if cfg.DataDir == "" {
		return fmt.Errorf("data_dir cannot be empty")
	}
	if cfg.Runtime.MaxTurns <= 0 {
		return fmt.Errorf("runtime.max_turns must be positive")
	}
	if cfg.Runtime.BatchConcurrency <= 0 {
		return fmt.Errorf("runtime.batch_concurrency must be positive")
	}

	seen := make(map[string]bool)
	for _, p := range cfg.Providers {
		if p.ID == "" {
			return fmt.Errorf("provider profile missing id")
		}
		if seen[p.ID] {
			return fmt.Errorf("duplicate provider profile id: %s", p.ID)
		}
		seen[p.ID] = true

		switch p.Provider {
		case "anthropic", "openai":
		default:
			return fmt.Errorf("unsupported provider: %s", p.Provider)
		}
	}

	return nil
}
