package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/loomlab/loom/internal/observability"
)

// Message roles
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// ToolCall is a persisted tool invocation request
type ToolCall struct {
	ID         string                 `json:"id"`
	Name       string                 `json:"name"`
	Parameters map[string]interface{} `json:"parameters,omitempty"`
}

// ToolResult is a persisted tool invocation outcome. DelegationThreadID is
// set when the call delegated to another agent.
type ToolResult struct {
	ToolCallID         string `json:"tool_call_id"`
	Output             string `json:"output,omitempty"`
	Error              string `json:"error,omitempty"`
	DelegationThreadID string `json:"delegation_thread_id,omitempty"`
}

// Usage tracks token consumption and estimated cost for one message
type Usage struct {
	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
	CostUSD      float64 `json:"cost_usd,omitempty"`
}

// Add merges another usage into this one
func (u *Usage) Add(other Usage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
	u.CostUSD += other.CostUSD
}

// Message is one conversation turn within a thread, ordered by a per-thread
// monotonic sequence id.
type Message struct {
	ThreadID    string       `json:"thread_id"`
	Seq         int64        `json:"sequence_id"`
	Role        string       `json:"role"`
	Content     string       `json:"content"`
	FromAgent   string       `json:"from_agent,omitempty"`
	ToolCalls   []ToolCall   `json:"tool_calls,omitempty"`
	ToolResults []ToolResult `json:"tool_results,omitempty"`
	Usage       *Usage       `json:"usage,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
}

// AppendMessage appends a message to a thread and returns its sequence id.
// Sequence ids are allocated transactionally so they stay monotonic per
// thread under concurrent writers.
func (s *Store) AppendMessage(ctx context.Context, threadID string, msg Message) (int64, error) {
	start := time.Now()
	defer func() {
		observability.RecordStoreOp("append_message", time.Since(start))
	}()

	if msg.Role == "" {
		return 0, fmt.Errorf("%w: message role is required", ErrInvalid)
	}
	switch msg.Role {
	case RoleUser, RoleAssistant, RoleTool:
	default:
		return 0, fmt.Errorf("%w: unknown role %q", ErrInvalid, msg.Role)
	}

	toolCalls, err := marshalOrNil(msg.ToolCalls)
	if err != nil {
		return 0, fmt.Errorf("%w: unserializable tool calls: %v", ErrInvalid, err)
	}
	toolResults, err := marshalOrNil(msg.ToolResults)
	if err != nil {
		return 0, fmt.Errorf("%w: unserializable tool results: %v", ErrInvalid, err)
	}
	usage, err := marshalOrNil(msg.Usage)
	if err != nil {
		return 0, fmt.Errorf("%w: unserializable usage: %v", ErrInvalid, err)
	}

	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var exists int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sessions WHERE id = ?`, threadID).Scan(&exists); err != nil {
		return 0, err
	}
	if exists == 0 {
		return 0, fmt.Errorf("%w: thread %s", ErrNotFound, threadID)
	}

	var seq int64
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(sequence_id), 0) + 1 FROM messages WHERE thread_id = ?`,
		threadID).Scan(&seq); err != nil {
		return 0, err
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO messages
			(thread_id, sequence_id, role, content, from_agent, tool_calls, tool_results, usage, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		threadID, seq, msg.Role, msg.Content, msg.FromAgent,
		toolCalls, toolResults, usage, msg.CreatedAt.UnixMilli(),
	); err != nil {
		return 0, fmt.Errorf("failed to insert message: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE sessions SET updated_at = ? WHERE id = ?`,
		time.Now().UnixMilli(), threadID,
	); err != nil {
		return 0, fmt.Errorf("failed to touch thread: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit message: %w", err)
	}

	s.logger.Debug().
		Str("thread_id", threadID).
		Int64("seq", seq).
		Str("role", msg.Role).
		Msg("Message appended")

	return seq, nil
}

// Messages loads all messages of a thread in sequence order
func (s *Store) Messages(ctx context.Context, threadID string) ([]Message, error) {
	start := time.Now()
	defer func() {
		observability.RecordStoreOp("load_messages", time.Since(start))
	}()

	if _, err := s.GetThread(ctx, threadID); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT thread_id, sequence_id, role, content, from_agent,
		        tool_calls, tool_results, usage, created_at
		 FROM messages WHERE thread_id = ? ORDER BY sequence_id`, threadID)
	if err != nil {
		return nil, fmt.Errorf("failed to load messages: %w", err)
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}

	return messages, rows.Err()
}

// MessageCount returns the number of messages in a thread
func (s *Store) MessageCount(ctx context.Context, threadID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM messages WHERE thread_id = ?`, threadID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count messages: %w", err)
	}
	return count, nil
}

func scanMessage(rows *sql.Rows) (Message, error) {
	var (
		msg         Message
		toolCalls   sql.NullString
		toolResults sql.NullString
		usage       sql.NullString
		createdAt   int64
	)

	err := rows.Scan(
		&msg.ThreadID,
		&msg.Seq,
		&msg.Role,
		&msg.Content,
		&msg.FromAgent,
		&toolCalls,
		&toolResults,
		&usage,
		&createdAt,
	)
	if err != nil {
		return Message{}, err
	}

	msg.CreatedAt = time.UnixMilli(createdAt)

	if toolCalls.Valid && toolCalls.String != "" {
		if err := json.Unmarshal([]byte(toolCalls.String), &msg.ToolCalls); err != nil {
			return Message{}, fmt.Errorf("corrupt tool calls: %w", err)
		}
	}
	if toolResults.Valid && toolResults.String != "" {
		if err := json.Unmarshal([]byte(toolResults.String), &msg.ToolResults); err != nil {
			return Message{}, fmt.Errorf("corrupt tool results: %w", err)
		}
	}
	if usage.Valid && usage.String != "" {
		msg.Usage = &Usage{}
		if err := json.Unmarshal([]byte(usage.String), msg.Usage); err != nil {
			return Message{}, fmt.Errorf("corrupt usage: %w", err)
		}
	}

	return msg, nil
}

func marshalOrNil(v interface{}) (interface{}, error) {
	switch val := v.(type) {
	case []ToolCall:
		if len(val) == 0 {
			return nil, nil
		}
	case []ToolResult:
		if len(val) == 0 {
			return nil, nil
		}
	case *Usage:
		if val == nil {
			return nil, nil
		}
	}

	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}
