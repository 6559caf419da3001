// Package bus provides the append-only inter-capability message log with
// synchronous fan-out to observers.
package bus

import (
	"sync"
	"time"

	"github.com/loomlab/loom/internal/observability"
	"github.com/rs/zerolog"
)

// Entry is a single immutable bus entry
type Entry struct {
	Timestamp time.Time `json:"timestamp"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	Message   string    `json:"message"`
	Summary   string    `json:"summary,omitempty"`
}

// Observer receives entries synchronously at publish time
type Observer func(Entry)

// Bus is an append-only message log. Observers are notified in registration
// order, and concurrent publishers reach observers in log order; a panicking
// observer never prevents delivery to the others. Observers must not publish
// back into the bus.
type Bus struct {
	entries   []Entry
	observers []Observer
	logger    zerolog.Logger
	mu        sync.RWMutex

	// deliverMu is acquired before mu is released on publish, so fan-out
	// happens in exactly the order entries entered the log
	deliverMu sync.Mutex
}

// New creates a new Bus
func New(logger zerolog.Logger) *Bus {
	observability.EnsureRegistered()

	return &Bus{
		entries:   make([]Entry, 0),
		observers: make([]Observer, 0),
		logger:    logger,
	}
}

// Publish appends an entry and notifies all observers in registration order.
// The entry timestamp is assigned here.
func (b *Bus) Publish(from, to, message string) Entry {
	return b.PublishWithSummary(from, to, message, "")
}

// PublishWithSummary publishes an entry carrying an optional short summary.
func (b *Bus) PublishWithSummary(from, to, message, summary string) Entry {
	entry := Entry{
		Timestamp: time.Now(),
		From:      from,
		To:        to,
		Message:   message,
		Summary:   summary,
	}

	b.mu.Lock()
	b.entries = append(b.entries, entry)
	observers := make([]Observer, len(b.observers))
	copy(observers, b.observers)
	b.deliverMu.Lock()
	b.mu.Unlock()

	observability.RecordBusEntry()

	for _, observer := range observers {
		b.notify(observer, entry)
	}
	b.deliverMu.Unlock()

	b.logger.Debug().
		Str("from", from).
		Str("to", to).
		Msg("Bus entry published")

	return entry
}

// notify delivers one entry to one observer, isolating panics so the rest
// of the fan-out proceeds.
func (b *Bus) notify(observer Observer, entry Entry) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error().
				Interface("panic", r).
				Str("from", entry.From).
				Str("to", entry.To).
				Msg("Bus observer panicked, continuing delivery")
		}
	}()

	observer(entry)
}

// Subscribe registers an observer. Delivery order follows registration order.
func (b *Bus) Subscribe(observer Observer) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.observers = append(b.observers, observer)
}

// Recent returns the last n entries in publish order. n <= 0 returns nil.
func (b *Bus) Recent(n int) []Entry {
	if n <= 0 {
		return nil
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if n > len(b.entries) {
		n = len(b.entries)
	}

	out := make([]Entry, n)
	copy(out, b.entries[len(b.entries)-n:])
	return out
}

// Len returns the total number of entries published so far.
func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return len(b.entries)
}
