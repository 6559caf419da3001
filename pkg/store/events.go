package store

import (
	"context"
	"fmt"
	"time"

	"github.com/loomlab/loom/internal/observability"
)

// Event is a persisted mirror of a bus entry, kept for audit and replay
// independent of the live bus.
type Event struct {
	Timestamp time.Time `json:"timestamp"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	Message   string    `json:"message"`
	Summary   string    `json:"summary,omitempty"`
}

// AppendEvent persists one event
func (s *Store) AppendEvent(ctx context.Context, event Event) error {
	start := time.Now()
	defer func() {
		observability.RecordStoreOp("append_event", time.Since(start))
	}()

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO events (timestamp, from_id, to_id, message, summary)
		 VALUES (?, ?, ?, ?, ?)`,
		event.Timestamp.UnixMilli(), event.From, event.To, event.Message, event.Summary)
	if err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}

	return nil
}

// RecentEvents returns the last n persisted events in append order
func (s *Store) RecentEvents(ctx context.Context, n int) ([]Event, error) {
	if n <= 0 {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT timestamp, from_id, to_id, message, summary FROM events
		 ORDER BY id DESC LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("failed to load events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var (
			event Event
			ts    int64
		)
		if err := rows.Scan(&ts, &event.From, &event.To, &event.Message, &event.Summary); err != nil {
			return nil, err
		}
		event.Timestamp = time.UnixMilli(ts)
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Reverse into append order
	for i, j := 0, len(events)-1; i < j; i, j = i+1, j-1 {
		events[i], events[j] = events[j], events[i]
	}

	return events, nil
}
