// Package capability provides the capability registry: uniform lookup and
// adapter building for deterministic primitives and LLM-backed agents.
package capability

import (
	"context"
	"sync"
)

// Kind distinguishes the two capability variants
type Kind string

const (
	KindPrimitive Kind = "primitive"
	KindAgent     Kind = "agent"
)

// AgentStatus is the runtime state of an agent
type AgentStatus string

const (
	StatusIdle            AgentStatus = "idle"
	StatusWorking         AgentStatus = "working"
	StatusWaitingForHuman AgentStatus = "waiting_for_human"
	StatusActive          AgentStatus = "active"
)

// Capability is the polymorphic unit of the graph: a Primitive or an Agent
type Capability interface {
	CapabilityName() string
	CapabilityDescription() string
	CapabilityKind() Kind
}

// Parameter describes one named primitive parameter
type Parameter struct {
	Name        string      `json:"name"`
	Type        string      `json:"type"`
	Description string      `json:"description"`
	Required    bool        `json:"required"`
	Default     interface{} `json:"default,omitempty"`
}

// Handler is the invocation contract for primitives
type Handler func(ctx context.Context, execCtx *ExecutionContext, params map[string]interface{}) (interface{}, error)

// Primitive is a deterministic, code-defined capability
type Primitive struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Parameters  []Parameter `json:"parameters"`
	Handler     Handler     `json:"-"`
}

func (p *Primitive) CapabilityName() string        { return p.Name }
func (p *Primitive) CapabilityDescription() string { return p.Description }
func (p *Primitive) CapabilityKind() Kind          { return KindPrimitive }

// Agent is an LLM-backed capability. Its behavior template becomes the LLM
// system prompt; Capabilities names what it may call. Conversation state is
// never stored here: delegation passes thread ids and history explicitly,
// so concurrent runs against the same Agent record cannot cross-talk.
type Agent struct {
	Name         string   `json:"name"`
	Description  string   `json:"description"`
	Capabilities []string `json:"capabilities"`
	Template     string   `json:"template"`

	status AgentStatus
	mu     sync.RWMutex
}

func (a *Agent) CapabilityName() string        { return a.Name }
func (a *Agent) CapabilityDescription() string { return a.Description }
func (a *Agent) CapabilityKind() Kind          { return KindAgent }

// Status returns the agent's current runtime state
func (a *Agent) Status() AgentStatus {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.status == "" {
		return StatusIdle
	}
	return a.status
}

// SetStatus updates the agent's runtime state. Only the runtime calls this.
func (a *Agent) SetStatus(status AgentStatus) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.status = status
}
