// Package agent provides the multi-turn tool-calling runtime: it drives an
// LLM client against a thread, executes the tool calls each turn produces,
// and opens child threads for delegations.
package agent

import (
	"context"

	"github.com/loomlab/loom/pkg/capability"
	"github.com/loomlab/loom/pkg/store"
)

// ChatMessage is one conversation turn in provider-neutral form
type ChatMessage struct {
	Role       string
	Content    string
	ToolCallID string
	ToolCalls  []store.ToolCall
}

// ChatRequest is one LLM call
type ChatRequest struct {
	Model       string
	System      string
	Messages    []ChatMessage
	Tools       []capability.Descriptor
	MaxTokens   int
	Temperature float64
}

// ChatResponse is the provider-neutral response shape the runtime depends on
type ChatResponse struct {
	Content   string
	ToolCalls []store.ToolCall
	Usage     store.Usage
}

// Client is the LLM provider contract. The runtime treats it as opaque and
// depends only on the response shape.
type Client interface {
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)
	Provider() string
}
