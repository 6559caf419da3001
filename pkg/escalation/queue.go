// Package escalation provides the non-blocking human escalation queue:
// capabilities suspend on a question and are resumed individually when a
// human responds, without stalling unrelated work.
package escalation

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/loomlab/loom/internal/observability"
	"github.com/loomlab/loom/pkg/bus"
	"github.com/rs/zerolog"
)

// ErrUnknownRequest is returned when responding to an unknown or already
// resolved request id. Callers treat it as a reported no-op, not a failure.
var ErrUnknownRequest = errors.New("unknown or already resolved request")

// Request is one pending human escalation
type Request struct {
	ID         string    `json:"id"`
	Capability string    `json:"capability"`
	Question   string    `json:"question"`
	Options    []string  `json:"options,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// pendingRequest pairs a request with the channel its suspended goroutine
// blocks on. Each request resumes exactly its own suspension point.
type pendingRequest struct {
	request Request
	resume  chan string
}

// Prompter answers an escalation synchronously. Non-interactive hosts use
// it instead of suspending.
type Prompter interface {
	Prompt(ctx context.Context, req Request) (string, error)
}

// Queue manages pending escalations
type Queue struct {
	pending  map[string]*pendingRequest
	bus      *bus.Bus
	prompter Prompter
	logger   zerolog.Logger
	mu       sync.RWMutex
}

// Config holds queue configuration
type Config struct {
	Bus      *bus.Bus // optional, lifecycle notifications
	Prompter Prompter // optional, synchronous fallback for AskSync
	Logger   zerolog.Logger
}

// New creates a new escalation queue
func New(cfg Config) *Queue {
	observability.EnsureRegistered()

	return &Queue{
		pending:  make(map[string]*pendingRequest),
		bus:      cfg.Bus,
		prompter: cfg.Prompter,
		logger:   cfg.Logger,
	}
}

// Ask registers a pending request and suspends the calling goroutine until
// Respond is called with its id. Other goroutines keep running; many
// requests may be pending at once. The context cancels the wait.
func (q *Queue) Ask(ctx context.Context, capability, question string, options []string) (string, error) {
	req, resume, err := q.enqueue(capability, question, options)
	if err != nil {
		return "", err
	}

	start := time.Now()

	select {
	case value := <-resume:
		observability.RecordEscalationWait(time.Since(start))
		q.logger.Info().
			Str("request_id", req.ID).
			Str("capability", capability).
			Msg("Escalation resumed")
		return value, nil

	case <-ctx.Done():
		q.remove(req.ID)
		q.logger.Warn().
			Str("request_id", req.ID).
			Str("capability", capability).
			Msg("Escalation abandoned")
		return "", fmt.Errorf("escalation %s abandoned: %w", req.ID, ctx.Err())
	}
}

// AskSync answers through the configured prompter without suspending. Used
// when the host is not suspension-capable.
func (q *Queue) AskSync(ctx context.Context, capability, question string, options []string) (string, error) {
	if q.prompter == nil {
		return "", fmt.Errorf("no prompter configured for synchronous escalation")
	}

	req := Request{
		ID:         newRequestID(),
		Capability: capability,
		Question:   question,
		Options:    options,
		CreatedAt:  time.Now(),
	}

	return q.prompter.Prompt(ctx, req)
}

// enqueue registers the request and returns its resume channel
func (q *Queue) enqueue(capability, question string, options []string) (Request, <-chan string, error) {
	if capability == "" {
		return Request{}, nil, fmt.Errorf("capability is required")
	}

	req := Request{
		ID:         newRequestID(),
		Capability: capability,
		Question:   question,
		Options:    options,
		CreatedAt:  time.Now(),
	}

	pr := &pendingRequest{
		request: req,
		resume:  make(chan string, 1),
	}

	q.mu.Lock()
	q.pending[req.ID] = pr
	count := len(q.pending)
	q.mu.Unlock()

	observability.SetPendingEscalations(count)

	if q.bus != nil {
		q.bus.PublishWithSummary(capability, "human", question,
			fmt.Sprintf("escalation %s pending", req.ID))
	}

	q.logger.Info().
		Str("request_id", req.ID).
		Str("capability", capability).
		Int("pending", count).
		Msg("Escalation enqueued")

	return req, pr.resume, nil
}

// Respond resolves the named request and resumes exactly the goroutine that
// created it. Unknown or already resolved ids are a reported no-op.
func (q *Queue) Respond(id, value string) error {
	q.mu.Lock()
	pr, exists := q.pending[id]
	if exists {
		delete(q.pending, id)
	}
	count := len(q.pending)
	q.mu.Unlock()

	if !exists {
		q.logger.Warn().Str("request_id", id).Msg("Response for unknown escalation ignored")
		return fmt.Errorf("%w: %s", ErrUnknownRequest, id)
	}

	observability.SetPendingEscalations(count)

	pr.resume <- value

	if q.bus != nil {
		q.bus.PublishWithSummary("human", pr.request.Capability, value,
			fmt.Sprintf("escalation %s resolved", id))
	}

	return nil
}

// remove drops an abandoned request without resuming it
func (q *Queue) remove(id string) {
	q.mu.Lock()
	delete(q.pending, id)
	count := len(q.pending)
	q.mu.Unlock()

	observability.SetPendingEscalations(count)
}

// PendingFor returns pending requests raised by one capability, oldest first
func (q *Queue) PendingFor(capability string) []Request {
	q.mu.RLock()
	defer q.mu.RUnlock()

	var requests []Request
	for _, pr := range q.pending {
		if pr.request.Capability == capability {
			requests = append(requests, pr.request)
		}
	}

	sortByCreation(requests)
	return requests
}

// AllPending returns every pending request, oldest first
func (q *Queue) AllPending() []Request {
	q.mu.RLock()
	defer q.mu.RUnlock()

	requests := make([]Request, 0, len(q.pending))
	for _, pr := range q.pending {
		requests = append(requests, pr.request)
	}

	sortByCreation(requests)
	return requests
}

// Count returns the number of pending requests
func (q *Queue) Count() int {
	q.mu.RLock()
	defer q.mu.RUnlock()

	return len(q.pending)
}

func sortByCreation(requests []Request) {
	sort.Slice(requests, func(i, j int) bool {
		if requests[i].CreatedAt.Equal(requests[j].CreatedAt) {
			return requests[i].ID < requests[j].ID
		}
		return requests[i].CreatedAt.Before(requests[j].CreatedAt)
	})
}

func newRequestID() string {
	id, err := gonanoid.New()
	if err != nil {
		// gonanoid only fails when the OS entropy source does
		panic(fmt.Sprintf("failed to generate request id: %v", err))
	}
	return id
}
