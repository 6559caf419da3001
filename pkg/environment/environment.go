// Package environment wires one capability graph: config, logging, durable
// store, message bus, registry, escalation queue, and the agent runtime,
// with definition loading and hot reload.
package environment

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog"

	"github.com/loomlab/loom/internal/config"
	"github.com/loomlab/loom/internal/logger"
	"github.com/loomlab/loom/internal/observability"
	"github.com/loomlab/loom/internal/tracing"
	"github.com/loomlab/loom/pkg/agent"
	"github.com/loomlab/loom/pkg/bus"
	"github.com/loomlab/loom/pkg/capability"
	"github.com/loomlab/loom/pkg/escalation"
	"github.com/loomlab/loom/pkg/store"
)

// Environment is one fully wired capability graph instance. Each instance
// owns its own registry, store, bus, and queue; nothing is process-global.
type Environment struct {
	config      *config.Config
	logger      *logger.Logger
	store       *store.Store
	bus         *bus.Bus
	registry    *capability.Registry
	escalations *escalation.Queue
	runner      *agent.Runner
	watcher     *capability.DefinitionWatcher

	tracingEnabled bool
}

// Params holds environment construction parameters. Client overrides the
// provider built from the configured profiles; tests inject fakes here.
type Params struct {
	Config   *config.Config
	Client   agent.Client
	Prompter escalation.Prompter
}

// New builds an environment in dependency order
func New(params Params) (*Environment, error) {
	cfg := params.Config
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}

	log, err := logger.New(logger.Config{
		Level:   cfg.Logging.Level,
		File:    cfg.Logging.File,
		Console: cfg.Logging.Console,
		Pretty:  cfg.Logging.Pretty,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}
	zl := log.Zerolog()

	observability.EnsureRegistered()

	env := &Environment{config: cfg, logger: log}

	if err := tracing.InitOpenTelemetry(tracing.ProviderConfig{
		ServiceName: "loom",
		SampleRatio: cfg.Tracing.SampleRatio,
	}); err != nil {
		zl.Warn().Err(err).Msg("Failed to initialize tracing, continuing without it")
	} else {
		env.tracingEnabled = true
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		env.shutdownTracing()
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	st, err := store.New(store.Config{Path: cfg.ResolveDatabasePath(), Logger: zl})
	if err != nil {
		env.shutdownTracing()
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	env.store = st
	zl.Info().Str("path", cfg.ResolveDatabasePath()).Msg("Store opened")

	env.bus = bus.New(zl)
	env.bus.Subscribe(env.persistEntry)

	env.escalations = escalation.New(escalation.Config{
		Bus:      env.bus,
		Prompter: params.Prompter,
		Logger:   zl,
	})

	env.registry = capability.NewRegistry(zl)
	registerUniversal(env.registry, zl)

	if cfg.DefinitionsDir != "" {
		if _, err := os.Stat(cfg.DefinitionsDir); err == nil {
			if _, err := env.registry.LoadDirectory(cfg.DefinitionsDir); err != nil {
				zl.Warn().Err(err).Msg("Failed to load definitions")
			}
			if cfg.WatchDefinitions {
				watcher, err := capability.NewDefinitionWatcher(env.registry, cfg.DefinitionsDir, zl)
				if err != nil {
					zl.Warn().Err(err).Msg("Failed to start definition watcher")
				} else {
					env.watcher = watcher
					zl.Info().Str("dir", cfg.DefinitionsDir).Msg("Definition watcher started")
				}
			}
		}
	}

	client := params.Client
	if client == nil {
		client, err = agent.NewFailoverClient(cfg.Providers, zl)
		if err != nil {
			env.closePartial()
			return nil, fmt.Errorf("failed to build provider client: %w", err)
		}
	}

	runner, err := agent.NewRunner(agent.Config{
		Registry:          env.registry,
		Store:             st,
		Bus:               env.bus,
		Escalations:       env.escalations,
		Client:            client,
		Logger:            zl,
		MaxTurns:          cfg.Runtime.MaxTurns,
		BatchConcurrency:  cfg.Runtime.BatchConcurrency,
		ConcurrentBatches: cfg.Runtime.ConcurrentBatches,
		Interactive:       cfg.Runtime.Interactive,
		Universal:         universalNames(),
	})
	if err != nil {
		env.closePartial()
		return nil, fmt.Errorf("failed to create runner: %w", err)
	}
	env.runner = runner

	zl.Info().Msg("Environment ready")
	return env, nil
}

// persistEntry mirrors bus entries into the durable events table
func (e *Environment) persistEntry(entry bus.Entry) {
	if err := e.store.AppendEvent(context.Background(), store.Event{
		Timestamp: entry.Timestamp,
		From:      entry.From,
		To:        entry.To,
		Message:   entry.Message,
		Summary:   entry.Summary,
	}); err != nil {
		zl := e.logger.Zerolog()
		zl.Warn().Err(err).Msg("Failed to persist bus entry")
	}
}

// Run executes an agent in this environment
func (e *Environment) Run(ctx context.Context, params agent.RunParams) (*agent.RunResult, error) {
	return e.runner.Run(ctx, params)
}

// Respond resolves a pending human escalation
func (e *Environment) Respond(requestID, value string) error {
	return e.escalations.Respond(requestID, value)
}

// Registry returns the environment's capability registry
func (e *Environment) Registry() *capability.Registry { return e.registry }

// Store returns the environment's thread store
func (e *Environment) Store() *store.Store { return e.store }

// Bus returns the environment's message bus
func (e *Environment) Bus() *bus.Bus { return e.bus }

// Escalations returns the environment's escalation queue
func (e *Environment) Escalations() *escalation.Queue { return e.escalations }

// Logger returns the environment's logger
func (e *Environment) Logger() zerolog.Logger { return e.logger.Zerolog() }

// Close shuts the environment down in reverse dependency order
func (e *Environment) Close() error {
	var firstErr error

	if e.watcher != nil {
		if err := e.watcher.Stop(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if e.store != nil {
		if err := e.store.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	e.shutdownTracing()

	if e.logger != nil {
		if err := e.logger.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	return firstErr
}

func (e *Environment) closePartial() {
	if e.watcher != nil {
		_ = e.watcher.Stop()
	}
	if e.store != nil {
		_ = e.store.Close()
	}
	e.shutdownTracing()
}

func (e *Environment) shutdownTracing() {
	if e.tracingEnabled {
		_ = tracing.ShutdownOpenTelemetry(context.Background())
		e.tracingEnabled = false
	}
}
