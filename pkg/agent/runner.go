package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/loomlab/loom/internal/observability"
	"github.com/loomlab/loom/internal/tracing"
	"github.com/loomlab/loom/pkg/batch"
	"github.com/loomlab/loom/pkg/bus"
	"github.com/loomlab/loom/pkg/capability"
	"github.com/loomlab/loom/pkg/escalation"
	"github.com/loomlab/loom/pkg/store"
)

// ErrMaxTurns marks a run that stopped because the turn bound was hit. It
// surfaces as an error-shaped result to the caller, never as a crash.
var ErrMaxTurns = errors.New("maximum turns exceeded")

// DefaultMaxTurns bounds the tool-calling loop per run
const DefaultMaxTurns = 10

// Config holds runner configuration
type Config struct {
	Registry    *capability.Registry
	Store       *store.Store
	Bus         *bus.Bus
	Escalations *escalation.Queue
	Client      Client
	Logger      zerolog.Logger

	// Model passed on every chat request; providers may carry their own default
	Model string

	// MaxTurns bounds the loop; 0 means DefaultMaxTurns
	MaxTurns int

	// BatchConcurrency bounds concurrent tool calls per turn
	BatchConcurrency int

	// ConcurrentBatches runs each turn's tool calls through the coordinator;
	// when false they run sequentially in call order
	ConcurrentBatches bool

	// Interactive marks the host as suspension-capable
	Interactive bool

	// Universal names capabilities available to every agent in addition to
	// its declared list
	Universal []string
}

// Runner drives the multi-turn tool-calling loop for agents
type Runner struct {
	registry    *capability.Registry
	store       *store.Store
	bus         *bus.Bus
	escalations *escalation.Queue
	client      Client
	coordinator *batch.Coordinator
	logger      zerolog.Logger

	model       string
	maxTurns    int
	concurrent  bool
	interactive bool
	universal   []string
}

// NewRunner creates a runner and binds it to the registry so agent adapters
// can delegate through it.
func NewRunner(cfg Config) (*Runner, error) {
	observability.EnsureRegistered()

	if cfg.Registry == nil {
		return nil, fmt.Errorf("registry is required")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if cfg.Client == nil {
		return nil, fmt.Errorf("client is required")
	}

	maxTurns := cfg.MaxTurns
	if maxTurns <= 0 {
		maxTurns = DefaultMaxTurns
	}

	r := &Runner{
		registry:    cfg.Registry,
		store:       cfg.Store,
		bus:         cfg.Bus,
		escalations: cfg.Escalations,
		client:      cfg.Client,
		coordinator: batch.New(batch.Config{
			Concurrency: cfg.BatchConcurrency,
			Bus:         cfg.Bus,
			Logger:      cfg.Logger,
		}),
		logger:      cfg.Logger,
		model:       cfg.Model,
		maxTurns:    maxTurns,
		concurrent:  cfg.ConcurrentBatches,
		interactive: cfg.Interactive,
		universal:   cfg.Universal,
	}

	cfg.Registry.BindRuntime(r)

	return r, nil
}

// RunParams describes one top-level agent run
type RunParams struct {
	Agent    string
	ThreadID string // empty creates a new root thread
	Message  string
	Source   string
}

// RunResult is the outcome of a completed run
type RunResult struct {
	ThreadID string
	Response string
	Usage    store.Usage
}

// Run executes an agent against a thread, creating a root thread when none
// is given.
func (r *Runner) Run(ctx context.Context, params RunParams) (*RunResult, error) {
	if tracing.GetTraceID(ctx) == "" {
		ctx = tracing.NewRequestContext(ctx)
	}
	ctx = tracing.WithAgent(ctx, params.Agent)

	cap, ok := r.registry.Get(params.Agent)
	if !ok {
		return nil, fmt.Errorf("%w: %s", capability.ErrNotFound, params.Agent)
	}
	agent, ok := cap.(*capability.Agent)
	if !ok {
		return nil, fmt.Errorf("%w: %s is not an agent", capability.ErrInvalid, params.Agent)
	}

	threadID := params.ThreadID
	if threadID == "" {
		thread, err := r.store.CreateThread(ctx, store.CreateThreadParams{
			OwningAgent: agent.Name,
			Type:        store.ThreadRoot,
			Source:      params.Source,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create thread: %w", err)
		}
		threadID = thread.ID
	} else if _, err := r.store.GetThread(ctx, threadID); err != nil {
		return nil, err
	}

	execCtx := &capability.ExecutionContext{
		Store:       r.store,
		Bus:         r.bus,
		Escalations: r.escalations,
		Caller:      agent.Name,
		ThreadID:    threadID,
		Interactive: r.interactive,
	}
	if err := execCtx.Push(agent.Name); err != nil {
		return nil, err
	}

	content, usage, err := r.run(ctx, agent, threadID, params.Message, "", "", execCtx)
	if err != nil {
		return nil, err
	}

	return &RunResult{ThreadID: threadID, Response: content, Usage: usage}, nil
}

// Invoke implements capability.AgentInvoker: delegation entry used by agent
// adapters. The delegation thread id is recorded on the child thread's
// lineage; callers that need it read it from the tool result.
func (r *Runner) Invoke(ctx context.Context, execCtx *capability.ExecutionContext, agent *capability.Agent, message string) (string, error) {
	content, _, err := r.delegate(ctx, execCtx, agent, message)
	return content, err
}

// delegate opens a delegation thread for the target agent and runs it with
// isolated state: thread id and history travel by parameter, never through
// fields on the shared Agent record.
func (r *Runner) delegate(ctx context.Context, execCtx *capability.ExecutionContext, target *capability.Agent, message string) (string, string, error) {
	ctx = tracing.PropagateToDelegate(ctx, target.Name)
	ctx, span := tracing.StartSpan(
		ctx,
		"agent.delegate",
		attribute.String("caller", execCtx.Caller),
		attribute.String("target", target.Name),
	)
	defer span.End()

	thread, err := r.store.CreateThread(ctx, store.CreateThreadParams{
		OwningAgent:     target.Name,
		ParentThreadID:  execCtx.ThreadID,
		ParentMessageID: execCtx.ParentMessageID,
		ParentAgent:     execCtx.Caller,
		Type:            store.ThreadDelegation,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", "", fmt.Errorf("failed to create delegation thread: %w", err)
	}

	childCtx := execCtx.Child(target.Name, thread.ID)
	if err := childCtx.Push(target.Name); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", thread.ID, err
	}

	if r.bus != nil {
		r.bus.PublishWithSummary(execCtx.Caller, target.Name, message,
			fmt.Sprintf("delegation started, thread %s", thread.ID))
	}

	preamble := r.delegationPreamble(execCtx.Caller, childCtx.Stack())
	content, _, err := r.run(ctx, target, thread.ID, message, preamble, execCtx.Caller, childCtx)

	if r.bus != nil {
		status := "completed"
		if err != nil {
			status = "failed"
		}
		r.bus.PublishWithSummary(target.Name, execCtx.Caller, content,
			fmt.Sprintf("delegation %s, thread %s", status, thread.ID))
	}

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}

	return content, thread.ID, err
}

// delegationPreamble tells a delegated agent who called it and how the task
// arrived, so it can frame its answer for the caller.
func (r *Runner) delegationPreamble(caller string, stack []string) string {
	callerDesc := ""
	if cap, ok := r.registry.Get(caller); ok {
		callerDesc = cap.CapabilityDescription()
	}

	preamble := fmt.Sprintf("\n\nYou were invoked by the agent %q", caller)
	if callerDesc != "" {
		preamble += fmt.Sprintf(" (%s)", callerDesc)
	}
	preamble += ". Task lineage: "
	for i, name := range stack {
		if i > 0 {
			preamble += " -> "
		}
		preamble += name
	}
	preamble += ". Complete the task and reply to the caller; your reply becomes its tool result."

	return preamble
}

// run is the per-thread turn loop. All session state arrives by parameter.
func (r *Runner) run(ctx context.Context, agent *capability.Agent, threadID, message, preamble, fromAgent string, execCtx *capability.ExecutionContext) (string, store.Usage, error) {
	ctx = tracing.WithThreadID(ctx, threadID)
	ctx, span := tracing.StartSpan(
		ctx,
		"agent.run",
		attribute.String("agent", agent.Name),
		attribute.String("thread_id", threadID),
	)
	defer span.End()
	logger := tracing.LoggerFromContext(ctx, r.logger).With().
		Str("agent", agent.Name).
		Str("thread_id", threadID).
		Logger()

	start := time.Now()
	var total store.Usage
	success := false
	defer func() {
		observability.RecordAgentRun(agent.Name, time.Since(start), success)
	}()

	agent.SetStatus(capability.StatusWorking)
	defer agent.SetStatus(capability.StatusIdle)

	history, err := r.store.Messages(ctx, threadID)
	if err != nil {
		return "", total, fmt.Errorf("failed to load history: %w", err)
	}
	conversation := toChatMessages(history)

	if _, err := r.store.AppendMessage(ctx, threadID, store.Message{
		Role:      store.RoleUser,
		Content:   message,
		FromAgent: fromAgent,
	}); err != nil {
		return "", total, fmt.Errorf("failed to persist incoming message: %w", err)
	}
	conversation = append(conversation, ChatMessage{Role: store.RoleUser, Content: message})

	system := agent.Template + preamble
	descriptors := r.registry.Descriptors(r.toolNames(agent))

	for turn := 0; turn < r.maxTurns; turn++ {
		response, err := r.client.Chat(ctx, ChatRequest{
			Model:    r.model,
			System:   system,
			Messages: conversation,
			Tools:    descriptors,
		})
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return "", total, fmt.Errorf("llm call failed: %w", err)
		}

		observability.RecordAgentTurn(agent.Name)
		usage := EstimateCost(r.model, response.Usage)
		total.Add(usage)

		if len(response.ToolCalls) == 0 {
			if _, err := r.store.AppendMessage(ctx, threadID, store.Message{
				Role:    store.RoleAssistant,
				Content: response.Content,
				Usage:   &usage,
			}); err != nil {
				return "", total, fmt.Errorf("failed to persist response: %w", err)
			}

			logger.Info().Int("turns", turn+1).Msg("Agent run completed")
			success = true
			return response.Content, total, nil
		}

		seq, err := r.store.AppendMessage(ctx, threadID, store.Message{
			Role:      store.RoleAssistant,
			Content:   response.Content,
			ToolCalls: response.ToolCalls,
			Usage:     &usage,
		})
		if err != nil {
			return "", total, fmt.Errorf("failed to persist tool calls: %w", err)
		}
		conversation = append(conversation, ChatMessage{
			Role:      store.RoleAssistant,
			Content:   response.Content,
			ToolCalls: response.ToolCalls,
		})

		agent.SetStatus(capability.StatusActive)
		results := r.executeCalls(ctx, agent, threadID, seq, execCtx, response.ToolCalls)
		agent.SetStatus(capability.StatusWorking)

		for i, result := range results {
			toolResult := store.ToolResult{ToolCallID: response.ToolCalls[i].ID}
			content := ""

			if outcome, ok := result.Value.(callOutcome); ok {
				content = outcome.output
				toolResult.DelegationThreadID = outcome.delegationThread
			}
			if result.Err != nil {
				content = result.Err.Error()
				toolResult.Error = content
			} else {
				toolResult.Output = content
			}

			if _, err := r.store.AppendMessage(ctx, threadID, store.Message{
				Role:        store.RoleTool,
				Content:     content,
				ToolResults: []store.ToolResult{toolResult},
			}); err != nil {
				return "", total, fmt.Errorf("failed to persist tool result: %w", err)
			}
			conversation = append(conversation, ChatMessage{
				Role:       store.RoleTool,
				Content:    content,
				ToolCallID: toolResult.ToolCallID,
			})
		}
	}

	err = fmt.Errorf("%w: agent %s stopped after %d turns", ErrMaxTurns, agent.Name, r.maxTurns)
	logger.Warn().Err(err).Msg("Agent run hit turn bound")
	span.RecordError(err)
	return "", total, err
}

// callOutcome carries a tool call's output plus, for delegations, the child
// thread id for lineage attribution.
type callOutcome struct {
	output           string
	delegationThread string
}

// executeCalls runs one turn's tool calls, concurrently through the
// coordinator or sequentially, always returning results in call order.
func (r *Runner) executeCalls(ctx context.Context, agent *capability.Agent, threadID string, seq int64, execCtx *capability.ExecutionContext, toolCalls []store.ToolCall) []batch.Result {
	calls := make([]batch.Call, len(toolCalls))

	for i, tc := range toolCalls {
		tc := tc
		calls[i] = batch.Call{
			Name: tc.Name,
			Fn: func(callCtx context.Context) (interface{}, error) {
				branch := execCtx.Child(agent.Name, threadID)
				branch.ParentMessageID = seq
				return r.runCall(callCtx, branch, tc)
			},
		}
	}

	if r.concurrent {
		return r.coordinator.Run(ctx, calls)
	}

	results := make([]batch.Result, len(calls))
	for i, call := range calls {
		start := time.Now()
		value, err := call.Fn(ctx)
		results[i] = batch.Result{Name: call.Name, Value: value, Err: err, Duration: time.Since(start)}
	}
	return results
}

// runCall dispatches one tool call: delegation for agents, direct invocation
// for primitives.
func (r *Runner) runCall(ctx context.Context, branch *capability.ExecutionContext, tc store.ToolCall) (interface{}, error) {
	cap, ok := r.registry.Get(tc.Name)
	if !ok {
		return callOutcome{}, fmt.Errorf("%w: %s", capability.ErrNotFound, tc.Name)
	}

	if target, isAgent := cap.(*capability.Agent); isAgent {
		message, _ := tc.Parameters["message"].(string)
		if message == "" {
			return callOutcome{}, fmt.Errorf("%w: delegation to %q requires a message parameter", capability.ErrInvalid, tc.Name)
		}

		content, childThread, err := r.delegate(ctx, branch, target, message)
		outcome := callOutcome{output: content, delegationThread: childThread}
		return outcome, err
	}

	adapter, err := r.registry.AdapterFor(tc.Name)
	if err != nil {
		return callOutcome{}, err
	}

	value, err := adapter.Invoke(ctx, branch, tc.Parameters)
	if err != nil {
		return callOutcome{}, err
	}

	return callOutcome{output: stringify(value)}, nil
}

// toolNames merges the agent's declared capabilities with the universal set
func (r *Runner) toolNames(agent *capability.Agent) []string {
	seen := make(map[string]bool, len(agent.Capabilities)+len(r.universal))
	names := make([]string, 0, len(agent.Capabilities)+len(r.universal))

	for _, name := range agent.Capabilities {
		if !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}
	for _, name := range r.universal {
		if !seen[name] && name != agent.Name {
			seen[name] = true
			names = append(names, name)
		}
	}

	return names
}

// toChatMessages converts persisted history into provider-neutral form.
// Tool messages expand to one chat message per recorded result.
func toChatMessages(history []store.Message) []ChatMessage {
	messages := make([]ChatMessage, 0, len(history))

	for _, msg := range history {
		if msg.Role == store.RoleTool {
			for _, result := range msg.ToolResults {
				content := result.Output
				if result.Error != "" {
					content = result.Error
				}
				messages = append(messages, ChatMessage{
					Role:       store.RoleTool,
					Content:    content,
					ToolCallID: result.ToolCallID,
				})
			}
			continue
		}

		messages = append(messages, ChatMessage{
			Role:      msg.Role,
			Content:   msg.Content,
			ToolCalls: msg.ToolCalls,
		})
	}

	return messages
}

func stringify(value interface{}) string {
	if value == nil {
		return ""
	}
	if s, ok := value.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", value)
}
