package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/loomlab/loom/internal/observability"
	"github.com/loomlab/loom/internal/tracing"
	"go.opentelemetry.io/otel/attribute"
)

// ThreadType classifies how a thread was created
type ThreadType string

const (
	ThreadRoot         ThreadType = "root"
	ThreadContinuation ThreadType = "continuation"
	ThreadDelegation   ThreadType = "delegation"
	ThreadFork         ThreadType = "fork"
)

// valid reports whether t is a known thread type
func (t ThreadType) valid() bool {
	switch t {
	case ThreadRoot, ThreadContinuation, ThreadDelegation, ThreadFork:
		return true
	}
	return false
}

// Thread is one linear conversation scope. Threads form a tree through
// parent pointers; every non-root thread's chain terminates at one root.
type Thread struct {
	ID              string                 `json:"id"`
	OwningAgent     string                 `json:"owning_agent"`
	ParentThreadID  string                 `json:"parent_thread_id,omitempty"`
	ParentMessageID int64                  `json:"parent_message_id,omitempty"`
	ParentAgent     string                 `json:"parent_agent,omitempty"`
	Type            ThreadType             `json:"thread_type"`
	Name            string                 `json:"name,omitempty"`
	Source          string                 `json:"source,omitempty"`
	CreatedAt       time.Time              `json:"created_at"`
	UpdatedAt       time.Time              `json:"updated_at"`
	Metadata        map[string]interface{} `json:"metadata,omitempty"`
}

// CreateThreadParams holds thread creation parameters
type CreateThreadParams struct {
	OwningAgent     string
	ParentThreadID  string
	ParentMessageID int64
	ParentAgent     string
	Type            ThreadType
	Name            string
	Source          string
	Metadata        map[string]interface{}
}

// CreateThread allocates a new thread id and records lineage
func (s *Store) CreateThread(ctx context.Context, params CreateThreadParams) (*Thread, error) {
	ctx, span := tracing.StartSpan(
		ctx,
		"store.create_thread",
		attribute.String("owning_agent", params.OwningAgent),
		attribute.String("thread_type", string(params.Type)),
	)
	defer span.End()
	start := time.Now()
	defer func() {
		observability.RecordStoreOp("create_thread", time.Since(start))
	}()

	if params.OwningAgent == "" {
		return nil, fmt.Errorf("%w: owning agent is required", ErrInvalid)
	}
	if !params.Type.valid() {
		return nil, fmt.Errorf("%w: unknown thread type %q", ErrInvalid, params.Type)
	}
	if params.Type != ThreadRoot && params.ParentThreadID == "" {
		return nil, fmt.Errorf("%w: %s thread requires a parent", ErrInvalid, params.Type)
	}
	if params.ParentThreadID != "" {
		if _, err := s.GetThread(ctx, params.ParentThreadID); err != nil {
			return nil, fmt.Errorf("parent thread: %w", err)
		}
	}

	now := time.Now()
	thread := &Thread{
		ID:              uuid.New().String(),
		OwningAgent:     params.OwningAgent,
		ParentThreadID:  params.ParentThreadID,
		ParentMessageID: params.ParentMessageID,
		ParentAgent:     params.ParentAgent,
		Type:            params.Type,
		Name:            params.Name,
		Source:          params.Source,
		CreatedAt:       now,
		UpdatedAt:       now,
		Metadata:        params.Metadata,
	}

	var metadata interface{}
	if thread.Metadata != nil {
		data, err := json.Marshal(thread.Metadata)
		if err != nil {
			return nil, fmt.Errorf("%w: unserializable metadata: %v", ErrInvalid, err)
		}
		metadata = string(data)
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions
			(id, owning_agent, parent_thread_id, parent_message_id, parent_agent,
			 thread_type, name, source, created_at, updated_at, metadata)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		thread.ID,
		thread.OwningAgent,
		nullString(thread.ParentThreadID),
		nullInt(thread.ParentMessageID),
		nullString(thread.ParentAgent),
		string(thread.Type),
		thread.Name,
		thread.Source,
		now.UnixMilli(),
		now.UnixMilli(),
		metadata,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert thread: %w", err)
	}

	s.updateThreadCountMetric(ctx)

	s.logger.Info().
		Str("thread_id", thread.ID).
		Str("owning_agent", thread.OwningAgent).
		Str("thread_type", string(thread.Type)).
		Msg("Thread created")

	return thread, nil
}

// GetThread loads a thread by id
func (s *Store) GetThread(ctx context.Context, id string) (*Thread, error) {
	start := time.Now()
	defer func() {
		observability.RecordStoreOp("get_thread", time.Since(start))
	}()

	row := s.db.QueryRowContext(ctx,
		`SELECT id, owning_agent, parent_thread_id, parent_message_id, parent_agent,
		        thread_type, name, source, created_at, updated_at, metadata
		 FROM sessions WHERE id = ?`, id)

	thread, err := scanThread(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: thread %s", ErrNotFound, id)
	}
	return thread, err
}

// ListThreads returns all threads owned by an agent, newest first. An empty
// agent name lists every thread.
func (s *Store) ListThreads(ctx context.Context, owningAgent string) ([]*Thread, error) {
	query := `SELECT id, owning_agent, parent_thread_id, parent_message_id, parent_agent,
	                 thread_type, name, source, created_at, updated_at, metadata
	          FROM sessions`
	args := []interface{}{}
	if owningAgent != "" {
		query += ` WHERE owning_agent = ?`
		args = append(args, owningAgent)
	}
	query += ` ORDER BY created_at DESC, id DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list threads: %w", err)
	}
	defer rows.Close()

	var threads []*Thread
	for rows.Next() {
		thread, err := scanThread(rows)
		if err != nil {
			return nil, err
		}
		threads = append(threads, thread)
	}

	return threads, rows.Err()
}

// ThreadLineage walks parent pointers to the root and returns the ordered
// ancestor path, root first, ending at the thread itself.
func (s *Store) ThreadLineage(ctx context.Context, id string) ([]*Thread, error) {
	start := time.Now()
	defer func() {
		observability.RecordStoreOp("thread_lineage", time.Since(start))
	}()

	var lineage []*Thread
	seen := make(map[string]bool)

	current := id
	for current != "" {
		if seen[current] {
			return nil, fmt.Errorf("%w: thread parent chain cycles at %s", ErrInvalid, current)
		}
		seen[current] = true

		thread, err := s.GetThread(ctx, current)
		if err != nil {
			return nil, err
		}

		lineage = append([]*Thread{thread}, lineage...)
		current = thread.ParentThreadID
	}

	return lineage, nil
}

// ResolveRootThread returns the top-most ancestor of a thread. Root threads
// resolve to themselves. This is the scoping key for environment data.
func (s *Store) ResolveRootThread(ctx context.Context, id string) (string, error) {
	lineage, err := s.ThreadLineage(ctx, id)
	if err != nil {
		return "", err
	}
	return lineage[0].ID, nil
}

// TreeNode is one node of an assembled thread tree
type TreeNode struct {
	Thread       *Thread     `json:"thread"`
	MessageCount int         `json:"message_count"`
	Depth        int         `json:"depth"`
	Truncated    bool        `json:"truncated,omitempty"`
	Children     []*TreeNode `json:"children,omitempty"`
}

// ThreadTree recursively assembles a thread and all descendants, each node
// annotated with its message count. Recursion always stops at maxDepth; a
// node whose children were cut off is marked Truncated.
func (s *Store) ThreadTree(ctx context.Context, id string, maxDepth int) (*TreeNode, error) {
	start := time.Now()
	defer func() {
		observability.RecordStoreOp("thread_tree", time.Since(start))
	}()

	if maxDepth <= 0 {
		return nil, fmt.Errorf("%w: max depth must be positive", ErrInvalid)
	}

	return s.buildTree(ctx, id, 0, maxDepth)
}

func (s *Store) buildTree(ctx context.Context, id string, depth, maxDepth int) (*TreeNode, error) {
	thread, err := s.GetThread(ctx, id)
	if err != nil {
		return nil, err
	}

	count, err := s.MessageCount(ctx, id)
	if err != nil {
		return nil, err
	}

	node := &TreeNode{
		Thread:       thread,
		MessageCount: count,
		Depth:        depth,
	}

	childIDs, err := s.childThreadIDs(ctx, id)
	if err != nil {
		return nil, err
	}

	if depth+1 >= maxDepth {
		node.Truncated = len(childIDs) > 0
		return node, nil
	}

	for _, childID := range childIDs {
		child, err := s.buildTree(ctx, childID, depth+1, maxDepth)
		if err != nil {
			return nil, err
		}
		node.Children = append(node.Children, child)
	}

	return node, nil
}

// childThreadIDs returns direct children ordered by creation time, then by
// the parent message that spawned them, so tree assembly is deterministic.
func (s *Store) childThreadIDs(ctx context.Context, id string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM sessions WHERE parent_thread_id = ?
		 ORDER BY COALESCE(parent_message_id, 0), created_at, id`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query children: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var childID string
		if err := rows.Scan(&childID); err != nil {
			return nil, err
		}
		ids = append(ids, childID)
	}

	return ids, rows.Err()
}

// RenameThread sets a thread's display name
func (s *Store) RenameThread(ctx context.Context, id, name string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET name = ?, updated_at = ? WHERE id = ?`,
		name, time.Now().UnixMilli(), id)
	if err != nil {
		return fmt.Errorf("failed to rename thread: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("%w: thread %s", ErrNotFound, id)
	}

	return nil
}

func (s *Store) updateThreadCountMetric(ctx context.Context) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sessions`).Scan(&count); err != nil {
		return
	}
	observability.SetActiveThreads(count)
}

// rowScanner covers *sql.Row and *sql.Rows
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanThread(row rowScanner) (*Thread, error) {
	var (
		thread       Thread
		parentThread sql.NullString
		parentMsg    sql.NullInt64
		parentAgent  sql.NullString
		threadType   string
		createdAt    int64
		updatedAt    int64
		metadata     sql.NullString
	)

	err := row.Scan(
		&thread.ID,
		&thread.OwningAgent,
		&parentThread,
		&parentMsg,
		&parentAgent,
		&threadType,
		&thread.Name,
		&thread.Source,
		&createdAt,
		&updatedAt,
		&metadata,
	)
	if err != nil {
		return nil, err
	}

	thread.ParentThreadID = parentThread.String
	thread.ParentMessageID = parentMsg.Int64
	thread.ParentAgent = parentAgent.String
	thread.Type = ThreadType(threadType)
	thread.CreatedAt = time.UnixMilli(createdAt)
	thread.UpdatedAt = time.UnixMilli(updatedAt)

	if metadata.Valid && metadata.String != "" {
		if err := json.Unmarshal([]byte(metadata.String), &thread.Metadata); err != nil {
			return nil, fmt.Errorf("corrupt thread metadata: %w", err)
		}
	}

	return &thread, nil
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func nullInt(i int64) interface{} {
	if i == 0 {
		return nil
	}
	return i
}
