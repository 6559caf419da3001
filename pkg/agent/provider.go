package agent

import (
	"context"
	"fmt"
	"sort"

	"github.com/rs/zerolog"

	"github.com/loomlab/loom/internal/config"
)

// NewClient creates a provider client for one auth profile
func NewClient(profile config.ProviderProfile) (Client, error) {
	switch profile.Provider {
	case "anthropic":
		return NewAnthropicClient(profile.APIKey, profile.Model), nil
	case "openai":
		return NewOpenAIClient(profile.APIKey, profile.Model), nil
	default:
		return nil, fmt.Errorf("unsupported provider: %s", profile.Provider)
	}
}

// failoverClient tries each configured profile in priority order until one
// answers. Profiles with lower Priority values are tried first.
type failoverClient struct {
	clients []Client
	logger  zerolog.Logger
}

// NewFailoverClient builds a Client over all profiles, in priority order
func NewFailoverClient(profiles []config.ProviderProfile, logger zerolog.Logger) (Client, error) {
	if len(profiles) == 0 {
		return nil, fmt.Errorf("at least one provider profile is required")
	}

	sorted := make([]config.ProviderProfile, len(profiles))
	copy(sorted, profiles)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Priority < sorted[j].Priority
	})

	clients := make([]Client, 0, len(sorted))
	for _, profile := range sorted {
		client, err := NewClient(profile)
		if err != nil {
			return nil, fmt.Errorf("profile %s: %w", profile.ID, err)
		}
		clients = append(clients, client)
	}

	if len(clients) == 1 {
		return clients[0], nil
	}

	return &failoverClient{clients: clients, logger: logger}, nil
}

func (f *failoverClient) Provider() string {
	return "failover"
}

func (f *failoverClient) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	var lastErr error

	for _, client := range f.clients {
		response, err := client.Chat(ctx, req)
		if err == nil {
			return response, nil
		}

		lastErr = err
		f.logger.Warn().
			Str("provider", client.Provider()).
			Err(err).
			Msg("Provider failed, trying next profile")

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}

	return nil, fmt.Errorf("all provider profiles failed: %w", lastErr)
}
