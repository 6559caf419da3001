package capability

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"github.com/xeipuuv/gojsonschema"
)

var (
	// ErrNotFound is returned for unknown capability names
	ErrNotFound = errors.New("capability not found")
	// ErrInvalid is returned for malformed capabilities or parameters
	ErrInvalid = errors.New("invalid capability")
)

// AgentInvoker runs an agent on behalf of an adapter. The agent runtime
// implements it and binds itself to the registry at environment startup,
// keeping the registry free of a dependency on the runtime.
type AgentInvoker interface {
	Invoke(ctx context.Context, execCtx *ExecutionContext, agent *Agent, message string) (string, error)
}

// Registry owns every registered capability and the cached adapters built
// over them. One explicit instance is constructed per environment and
// passed by reference to every component that needs lookup.
type Registry struct {
	caps     map[string]Capability
	adapters map[string]*Adapter
	schemas  map[string]*gojsonschema.Schema
	invoker  AgentInvoker
	logger   zerolog.Logger
	mu       sync.RWMutex
}

// NewRegistry creates an empty registry
func NewRegistry(logger zerolog.Logger) *Registry {
	return &Registry{
		caps:     make(map[string]Capability),
		adapters: make(map[string]*Adapter),
		schemas:  make(map[string]*gojsonschema.Schema),
		logger:   logger,
	}
}

// BindRuntime attaches the agent runtime used by agent adapters
func (r *Registry) BindRuntime(invoker AgentInvoker) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.invoker = invoker
}

// Register adds a capability. Names are unique; re-registering a name
// replaces the previous capability and invalidates its cached adapter.
func (r *Registry) Register(cap Capability) error {
	name := cap.CapabilityName()
	if name == "" {
		return fmt.Errorf("%w: empty name", ErrInvalid)
	}
	if strings.ContainsAny(name, " \t\n") {
		return fmt.Errorf("%w: name %q contains whitespace", ErrInvalid, name)
	}

	var schema *gojsonschema.Schema
	if prim, ok := cap.(*Primitive); ok {
		if prim.Handler == nil {
			return fmt.Errorf("%w: primitive %q has no handler", ErrInvalid, name)
		}

		var err error
		schema, err = compileSchema(prim)
		if err != nil {
			// Malformed schemas degrade: the primitive stays callable and
			// its descriptor exposes an empty property set.
			r.logger.Warn().Str("capability", name).Err(err).
				Msg("Parameter schema failed to compile, skipping validation")
			schema = nil
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.caps[name]; exists {
		r.logger.Info().Str("capability", name).Msg("Capability replaced")
		delete(r.adapters, name)
		delete(r.schemas, name)
	}

	r.caps[name] = cap
	if schema != nil {
		r.schemas[name] = schema
	}

	r.logger.Info().
		Str("capability", name).
		Str("kind", string(cap.CapabilityKind())).
		Msg("Capability registered")

	return nil
}

// Unregister removes a capability and drops its cached adapter
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.caps, name)
	delete(r.adapters, name)
	delete(r.schemas, name)

	r.logger.Info().Str("capability", name).Msg("Capability unregistered")
}

// Get returns the named capability. Callers must check ok, never assume
// presence.
func (r *Registry) Get(name string) (Capability, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	cap, ok := r.caps[name]
	return cap, ok
}

// Exists reports whether a name is registered
func (r *Registry) Exists(name string) bool {
	_, ok := r.Get(name)
	return ok
}

// All returns every registered capability in name order
func (r *Registry) All() []Capability {
	r.mu.RLock()
	defer r.mu.RUnlock()

	caps := make([]Capability, 0, len(r.caps))
	for _, cap := range r.caps {
		caps = append(caps, cap)
	}
	sort.Slice(caps, func(i, j int) bool {
		return caps[i].CapabilityName() < caps[j].CapabilityName()
	})
	return caps
}

// Names returns every registered name in sorted order
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.caps))
	for name := range r.caps {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Agents returns all registered agents in name order
func (r *Registry) Agents() []*Agent {
	var agents []*Agent
	for _, cap := range r.All() {
		if agent, ok := cap.(*Agent); ok {
			agents = append(agents, agent)
		}
	}
	return agents
}

// Primitives returns all registered primitives in name order
func (r *Registry) Primitives() []*Primitive {
	var primitives []*Primitive
	for _, cap := range r.All() {
		if prim, ok := cap.(*Primitive); ok {
			primitives = append(primitives, prim)
		}
	}
	return primitives
}

// compileSchema builds the validation schema for a primitive's parameters
func compileSchema(prim *Primitive) (*gojsonschema.Schema, error) {
	schemaMap, err := schemaMapFor(prim.Parameters)
	if err != nil {
		return nil, err
	}

	return gojsonschema.NewSchema(gojsonschema.NewGoLoader(schemaMap))
}

// schemaMapFor converts a parameter list into a JSON Schema object
func schemaMapFor(params []Parameter) (map[string]interface{}, error) {
	properties := make(map[string]interface{})
	required := []string{}

	for _, param := range params {
		if param.Name == "" {
			return nil, fmt.Errorf("%w: parameter with empty name", ErrInvalid)
		}
		switch param.Type {
		case "string", "number", "integer", "boolean", "array", "object":
		default:
			return nil, fmt.Errorf("%w: parameter %q has unknown type %q", ErrInvalid, param.Name, param.Type)
		}

		paramSchema := map[string]interface{}{
			"type":        param.Type,
			"description": param.Description,
		}
		if param.Default != nil {
			paramSchema["default"] = param.Default
		}

		properties[param.Name] = paramSchema
		if param.Required {
			required = append(required, param.Name)
		}
	}

	schemaMap := map[string]interface{}{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		sort.Strings(required)
		schemaMap["required"] = required
	}

	return schemaMap, nil
}
