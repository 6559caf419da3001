// Package batch runs a set of tool calls concurrently under a worker
// bound and joins them into an ordered result slice.
package batch

import (
	"context"
	"fmt"
	"sync"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"

	"github.com/loomlab/loom/internal/observability"
	"github.com/loomlab/loom/pkg/bus"
)

// DefaultConcurrency bounds how many calls of one batch run at once
const DefaultConcurrency = 5

// Call is one unit of work in a batch. Fn carries everything the call
// needs; the coordinator never looks inside it.
type Call struct {
	Name string
	Fn   func(ctx context.Context) (interface{}, error)
}

// Result is the outcome of one call. Err is set for failures and panics;
// the batch itself never fails because a member did.
type Result struct {
	Name     string
	Value    interface{}
	Err      error
	Duration time.Duration
}

// Config configures a Coordinator
type Config struct {
	Concurrency int
	Bus         *bus.Bus
	Logger      zerolog.Logger
}

// Coordinator executes batches of calls with bounded concurrency
type Coordinator struct {
	concurrency int
	bus         *bus.Bus
	logger      zerolog.Logger
}

// New creates a Coordinator
func New(cfg Config) *Coordinator {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}

	return &Coordinator{
		concurrency: cfg.Concurrency,
		bus:         cfg.Bus,
		logger:      cfg.Logger,
	}
}

// Run executes all calls and blocks until every one has finished. Results
// are index-addressed: results[i] always belongs to calls[i] regardless of
// completion order. A failing or panicking call produces an error-shaped
// Result; sibling calls keep running.
func (c *Coordinator) Run(ctx context.Context, calls []Call) []Result {
	if len(calls) == 0 {
		return nil
	}

	batchID, err := gonanoid.New()
	if err != nil {
		batchID = fmt.Sprintf("batch-%d", time.Now().UnixNano())
	}

	c.logger.Debug().
		Str("batch_id", batchID).
		Int("calls", len(calls)).
		Int("concurrency", c.concurrency).
		Msg("Batch started")

	c.notify(batchID, fmt.Sprintf("batch of %d calls started", len(calls)))

	start := time.Now()
	results := make([]Result, len(calls))
	sem := make(chan struct{}, c.concurrency)
	var wg sync.WaitGroup

	for i, call := range calls {
		wg.Add(1)
		go func(index int, call Call) {
			defer wg.Done()

			sem <- struct{}{}
			defer func() { <-sem }()

			results[index] = c.runOne(ctx, batchID, call)
		}(i, call)
	}

	wg.Wait()

	duration := time.Since(start)
	observability.RecordBatch(len(calls), duration)

	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
		}
	}

	c.logger.Debug().
		Str("batch_id", batchID).
		Dur("duration", duration).
		Int("failed", failed).
		Msg("Batch completed")

	c.notify(batchID, fmt.Sprintf("batch completed: %d ok, %d failed", len(calls)-failed, failed))

	return results
}

// runOne executes a single call, converting panics into errors so one
// misbehaving capability cannot take the whole batch down.
func (c *Coordinator) runOne(ctx context.Context, batchID string, call Call) (result Result) {
	result.Name = call.Name
	start := time.Now()

	defer func() {
		result.Duration = time.Since(start)
		if r := recover(); r != nil {
			result.Err = fmt.Errorf("call %q panicked: %v", call.Name, r)
			c.logger.Error().
				Str("batch_id", batchID).
				Str("call", call.Name).
				Interface("panic", r).
				Msg("Batch call panicked")
		}
	}()

	if err := ctx.Err(); err != nil {
		result.Err = fmt.Errorf("call %q cancelled: %w", call.Name, err)
		return result
	}

	c.notify(batchID, fmt.Sprintf("call %s started", call.Name))

	result.Value, result.Err = call.Fn(ctx)

	if result.Err != nil {
		c.logger.Warn().
			Str("batch_id", batchID).
			Str("call", call.Name).
			Err(result.Err).
			Msg("Batch call failed")
		c.notify(batchID, fmt.Sprintf("call %s failed: %v", call.Name, result.Err))
	} else {
		c.notify(batchID, fmt.Sprintf("call %s completed", call.Name))
	}

	return result
}

func (c *Coordinator) notify(batchID, message string) {
	if c.bus == nil {
		return
	}
	c.bus.Publish("batch:"+batchID, "system", message)
}
