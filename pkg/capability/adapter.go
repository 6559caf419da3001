package capability

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/loomlab/loom/internal/observability"
	"github.com/xeipuuv/gojsonschema"
)

// Adapter is the uniform callable built over one capability. Primitives
// expose their schema-derived named parameters; agents accept a single
// natural-language "message" parameter. Adapters are built once per name
// and cached until the capability is unregistered.
type Adapter struct {
	name     string
	registry *Registry
}

// Name returns the adapted capability's name
func (a *Adapter) Name() string {
	return a.name
}

// Invoke runs the capability with the given parameters. The execution
// context is supplied per call; the adapter itself holds no call state.
func (a *Adapter) Invoke(ctx context.Context, execCtx *ExecutionContext, params map[string]interface{}) (interface{}, error) {
	cap, ok := a.registry.Get(a.name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, a.name)
	}

	start := time.Now()

	var result interface{}
	var err error

	switch c := cap.(type) {
	case *Primitive:
		result, err = a.invokePrimitive(ctx, execCtx, c, params)
	case *Agent:
		result, err = a.invokeAgent(ctx, execCtx, c, params)
	default:
		err = fmt.Errorf("%w: %s has unknown kind", ErrInvalid, a.name)
	}

	observability.RecordToolExecution(a.name, time.Since(start), err == nil)
	return result, err
}

func (a *Adapter) invokePrimitive(ctx context.Context, execCtx *ExecutionContext, prim *Primitive, params map[string]interface{}) (interface{}, error) {
	if schema := a.registry.schemaFor(a.name); schema != nil {
		if err := validateParams(schema, params); err != nil {
			return nil, err
		}
	}

	applyDefaults(prim.Parameters, params)

	return prim.Handler(ctx, execCtx, params)
}

func (a *Adapter) invokeAgent(ctx context.Context, execCtx *ExecutionContext, agent *Agent, params map[string]interface{}) (interface{}, error) {
	invoker := a.registry.invokerRef()
	if invoker == nil {
		return nil, fmt.Errorf("no agent runtime bound to registry")
	}

	message, _ := params["message"].(string)
	if message == "" {
		return nil, fmt.Errorf("%w: agent %q requires a message parameter", ErrInvalid, agent.Name)
	}

	return invoker.Invoke(ctx, execCtx, agent, message)
}

// Adapters returns cached adapters for the named capabilities, in the
// order requested. Unknown names yield ErrNotFound.
func (r *Registry) Adapters(names []string) ([]*Adapter, error) {
	adapters := make([]*Adapter, 0, len(names))

	for _, name := range names {
		adapter, err := r.adapterFor(name)
		if err != nil {
			return nil, err
		}
		adapters = append(adapters, adapter)
	}

	return adapters, nil
}

// AdapterFor returns the cached adapter for one capability
func (r *Registry) AdapterFor(name string) (*Adapter, error) {
	return r.adapterFor(name)
}

func (r *Registry) adapterFor(name string) (*Adapter, error) {
	r.mu.RLock()
	adapter, cached := r.adapters[name]
	_, exists := r.caps[name]
	r.mu.RUnlock()

	if cached {
		return adapter, nil
	}
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Re-check under the write lock
	if adapter, cached := r.adapters[name]; cached {
		return adapter, nil
	}
	if _, exists := r.caps[name]; !exists {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}

	adapter = &Adapter{name: name, registry: r}
	r.adapters[name] = adapter

	r.logger.Debug().Str("capability", name).Msg("Adapter built")

	return adapter, nil
}

func (r *Registry) schemaFor(name string) *gojsonschema.Schema {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.schemas[name]
}

func (r *Registry) invokerRef() AgentInvoker {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.invoker
}

func validateParams(schema *gojsonschema.Schema, params map[string]interface{}) error {
	if params == nil {
		params = map[string]interface{}{}
	}

	result, err := schema.Validate(gojsonschema.NewGoLoader(params))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	if !result.Valid() {
		var problems []string
		for _, e := range result.Errors() {
			problems = append(problems, e.String())
		}
		return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(problems, "; "))
	}

	return nil
}

func applyDefaults(params []Parameter, values map[string]interface{}) {
	for _, param := range params {
		if param.Default == nil {
			continue
		}
		if _, present := values[param.Name]; !present {
			values[param.Name] = param.Default
		}
	}
}
