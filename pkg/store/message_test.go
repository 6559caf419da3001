package store

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppendMessage_MonotonicSequence(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	root := createRoot(t, s, "coordinator")

	for i := 1; i <= 5; i++ {
		seq, err := s.AppendMessage(ctx, root.ID, Message{
			Role:    RoleUser,
			Content: fmt.Sprintf("message %d", i),
		})
		require.NoError(t, err)
		assert.Equal(t, int64(i), seq)
	}

	messages, err := s.Messages(ctx, root.ID)
	require.NoError(t, err)
	require.Len(t, messages, 5)
	for i, msg := range messages {
		assert.Equal(t, int64(i+1), msg.Seq)
	}
}

func TestAppendMessage_Validation(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	root := createRoot(t, s, "coordinator")

	_, err := s.AppendMessage(ctx, root.ID, Message{Content: "no role"})
	assert.ErrorIs(t, err, ErrInvalid)

	_, err = s.AppendMessage(ctx, root.ID, Message{Role: "narrator", Content: "x"})
	assert.ErrorIs(t, err, ErrInvalid)

	_, err = s.AppendMessage(ctx, "missing", Message{Role: RoleUser, Content: "x"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAppendMessage_ToolCallsRoundTrip(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	root := createRoot(t, s, "coordinator")

	_, err := s.AppendMessage(ctx, root.ID, Message{
		Role:      RoleAssistant,
		Content:   "let me check",
		FromAgent: "coordinator",
		ToolCalls: []ToolCall{
			{ID: "call-1", Name: "calculator", Parameters: map[string]interface{}{"expr": "1+1"}},
		},
		ToolResults: []ToolResult{
			{ToolCallID: "call-1", Output: "2"},
		},
		Usage: &Usage{InputTokens: 12, OutputTokens: 7},
	})
	require.NoError(t, err)

	messages, err := s.Messages(ctx, root.ID)
	require.NoError(t, err)
	require.Len(t, messages, 1)

	msg := messages[0]
	require.Len(t, msg.ToolCalls, 1)
	assert.Equal(t, "calculator", msg.ToolCalls[0].Name)
	assert.Equal(t, "1+1", msg.ToolCalls[0].Parameters["expr"])
	require.Len(t, msg.ToolResults, 1)
	assert.Equal(t, "2", msg.ToolResults[0].Output)
	require.NotNil(t, msg.Usage)
	assert.Equal(t, 12, msg.Usage.InputTokens)
}

func TestAppendMessage_ConcurrentWritersDistinctThreads(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	const threads = 4
	const perThread = 10

	var roots []*Thread
	for i := 0; i < threads; i++ {
		roots = append(roots, createRoot(t, s, fmt.Sprintf("agent-%d", i)))
	}

	var wg sync.WaitGroup
	errs := make(chan error, threads*perThread)
	for _, root := range roots {
		wg.Add(1)
		go func(threadID string) {
			defer wg.Done()
			for i := 0; i < perThread; i++ {
				if _, err := s.AppendMessage(ctx, threadID, Message{
					Role:    RoleUser,
					Content: fmt.Sprintf("msg %d", i),
				}); err != nil {
					errs <- err
				}
			}
		}(root.ID)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Fatalf("concurrent append failed: %v", err)
	}

	for _, root := range roots {
		messages, err := s.Messages(ctx, root.ID)
		require.NoError(t, err)
		require.Len(t, messages, perThread)
		for i, msg := range messages {
			assert.Equal(t, int64(i+1), msg.Seq)
		}
	}
}

func TestThreadUsage_Rollup(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	root := createRoot(t, s, "coordinator")
	child := createDelegation(t, s, root, "solver", 0)

	_, err := s.AppendMessage(ctx, root.ID, Message{
		Role: RoleAssistant, Content: "a", Usage: &Usage{InputTokens: 10, OutputTokens: 5, CostUSD: 0.01},
	})
	require.NoError(t, err)
	_, err = s.AppendMessage(ctx, child.ID, Message{
		Role: RoleAssistant, Content: "b", Usage: &Usage{InputTokens: 20, OutputTokens: 15, CostUSD: 0.02},
	})
	require.NoError(t, err)

	own, err := s.ThreadUsage(ctx, root.ID)
	require.NoError(t, err)
	assert.Equal(t, 10, own.InputTokens)
	assert.Equal(t, 5, own.OutputTokens)

	tree, err := s.TreeUsage(ctx, root.ID, 0)
	require.NoError(t, err)
	assert.Equal(t, 30, tree.InputTokens)
	assert.Equal(t, 20, tree.OutputTokens)
	assert.InDelta(t, 0.03, tree.CostUSD, 1e-9)
}
