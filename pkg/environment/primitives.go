package environment

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/loomlab/loom/pkg/capability"
)

// universalNames lists the primitives every agent can call without
// declaring them.
func universalNames() []string {
	return []string{
		"ask_human",
		"store_env_data",
		"get_env_data",
		"list_env_data",
		"update_env_data",
		"delete_env_data",
	}
}

// registerUniversal installs the built-in primitives: human escalation and
// the thread-scoped environment data operations.
func registerUniversal(registry *capability.Registry, logger zerolog.Logger) {
	register := func(p *capability.Primitive) {
		if err := registry.Register(p); err != nil {
			logger.Error().Str("capability", p.Name).Err(err).Msg("Failed to register built-in primitive")
		}
	}

	register(&capability.Primitive{
		Name:        "ask_human",
		Description: "Ask the human operator a question and wait for their answer. Use when you need information or a decision only a human can provide.",
		Parameters: []capability.Parameter{
			{Name: "question", Type: "string", Description: "The question to ask", Required: true},
			{Name: "options", Type: "array", Description: "Optional fixed answer choices"},
		},
		Handler: func(ctx context.Context, execCtx *capability.ExecutionContext, params map[string]interface{}) (interface{}, error) {
			if execCtx.Escalations == nil {
				return nil, fmt.Errorf("no escalation queue available")
			}

			question, _ := params["question"].(string)
			var options []string
			if raw, ok := params["options"].([]interface{}); ok {
				for _, opt := range raw {
					if s, ok := opt.(string); ok {
						options = append(options, s)
					}
				}
			}

			// Only the asking branch suspends; sibling calls keep running
			setStatus(registry, execCtx.Caller, capability.StatusWaitingForHuman)
			defer setStatus(registry, execCtx.Caller, capability.StatusWorking)

			if execCtx.Interactive {
				return execCtx.Escalations.Ask(ctx, execCtx.Caller, question, options)
			}
			return execCtx.Escalations.AskSync(ctx, execCtx.Caller, question, options)
		},
	})

	register(&capability.Primitive{
		Name:        "store_env_data",
		Description: "Store a value in the shared environment data for this conversation. Creates or replaces the key. Visible to every agent working under the same root thread.",
		Parameters: []capability.Parameter{
			{Name: "key", Type: "string", Description: "Key to store under", Required: true},
			{Name: "value", Type: "object", Description: "Value to store", Required: true},
			{Name: "description", Type: "string", Description: "Short description shown when listing keys"},
		},
		Handler: func(ctx context.Context, execCtx *capability.ExecutionContext, params map[string]interface{}) (interface{}, error) {
			key, _ := params["key"].(string)
			description, _ := params["description"].(string)

			err := execCtx.Store.StoreEnvData(ctx, execCtx.ThreadID, key, description, params["value"], execCtx.Caller)
			if err != nil {
				return nil, err
			}
			return fmt.Sprintf("stored %q", key), nil
		},
	})

	register(&capability.Primitive{
		Name:        "get_env_data",
		Description: "Read a value from the shared environment data for this conversation.",
		Parameters: []capability.Parameter{
			{Name: "key", Type: "string", Description: "Key to read", Required: true},
		},
		Handler: func(ctx context.Context, execCtx *capability.ExecutionContext, params map[string]interface{}) (interface{}, error) {
			key, _ := params["key"].(string)

			entry, err := execCtx.Store.GetEnvData(ctx, execCtx.ThreadID, key)
			if err != nil {
				return nil, err
			}
			return entry.Value, nil
		},
	})

	register(&capability.Primitive{
		Name:        "list_env_data",
		Description: "List the keys in the shared environment data for this conversation, with their descriptions. Values are not included.",
		Handler: func(ctx context.Context, execCtx *capability.ExecutionContext, params map[string]interface{}) (interface{}, error) {
			summaries, err := execCtx.Store.ListEnvData(ctx, execCtx.ThreadID)
			if err != nil {
				return nil, err
			}
			return summaries, nil
		},
	})

	register(&capability.Primitive{
		Name:        "update_env_data",
		Description: "Update an existing key in the shared environment data. Fails if the key does not exist; use store_env_data to create it.",
		Parameters: []capability.Parameter{
			{Name: "key", Type: "string", Description: "Key to update", Required: true},
			{Name: "value", Type: "object", Description: "New value", Required: true},
		},
		Handler: func(ctx context.Context, execCtx *capability.ExecutionContext, params map[string]interface{}) (interface{}, error) {
			key, _ := params["key"].(string)

			err := execCtx.Store.UpdateEnvData(ctx, execCtx.ThreadID, key, params["value"], execCtx.Caller)
			if err != nil {
				return nil, err
			}
			return fmt.Sprintf("updated %q", key), nil
		},
	})

	register(&capability.Primitive{
		Name:        "delete_env_data",
		Description: "Delete a key from the shared environment data for this conversation.",
		Parameters: []capability.Parameter{
			{Name: "key", Type: "string", Description: "Key to delete", Required: true},
		},
		Handler: func(ctx context.Context, execCtx *capability.ExecutionContext, params map[string]interface{}) (interface{}, error) {
			key, _ := params["key"].(string)

			if err := execCtx.Store.DeleteEnvData(ctx, execCtx.ThreadID, key); err != nil {
				return nil, err
			}
			return fmt.Sprintf("deleted %q", key), nil
		},
	})
}

// setStatus updates an agent's runtime state if the caller is an agent
func setStatus(registry *capability.Registry, name string, status capability.AgentStatus) {
	if cap, ok := registry.Get(name); ok {
		if agent, ok := cap.(*capability.Agent); ok {
			agent.SetStatus(status)
		}
	}
}
