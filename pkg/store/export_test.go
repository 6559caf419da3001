package store

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExportTree(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	root := createRoot(t, s, "coordinator")
	seq, err := s.AppendMessage(ctx, root.ID, Message{
		Role:      RoleAssistant,
		Content:   "delegating",
		FromAgent: "coordinator",
		ToolCalls: []ToolCall{{ID: "call-1", Name: "solver", Parameters: map[string]interface{}{"message": "solve it"}}},
	})
	require.NoError(t, err)

	child := createDelegation(t, s, root, "solver", seq)
	_, err = s.AppendMessage(ctx, child.ID, Message{Role: RoleUser, Content: "solve it"})
	require.NoError(t, err)
	_, err = s.AppendMessage(ctx, child.ID, Message{
		Role: RoleAssistant, Content: "solved", FromAgent: "solver",
		Usage: &Usage{InputTokens: 3, OutputTokens: 2},
	})
	require.NoError(t, err)

	tree, err := s.ExportTree(ctx, root.ID)
	require.NoError(t, err)
	require.Len(t, tree.Children, 1)
	assert.Len(t, tree.Children[0].Messages, 2)
	assert.Equal(t, 3, tree.Children[0].Usage.InputTokens)
}

func TestExportMarkdown_InlinesDelegationAtTriggerPoint(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	root := createRoot(t, s, "coordinator")
	root.Name = "mission"
	require.NoError(t, s.RenameThread(ctx, root.ID, "mission"))

	seq, err := s.AppendMessage(ctx, root.ID, Message{
		Role:      RoleAssistant,
		Content:   "asking the solver",
		FromAgent: "coordinator",
		ToolCalls: []ToolCall{{ID: "call-1", Name: "solver"}},
	})
	require.NoError(t, err)

	child := createDelegation(t, s, root, "solver", seq)
	_, err = s.AppendMessage(ctx, child.ID, Message{Role: RoleAssistant, Content: "child transcript", FromAgent: "solver"})
	require.NoError(t, err)

	_, err = s.AppendMessage(ctx, root.ID, Message{Role: RoleAssistant, Content: "wrapping up", FromAgent: "coordinator"})
	require.NoError(t, err)

	doc, err := s.ExportMarkdown(ctx, root.ID)
	require.NoError(t, err)

	// The delegation transcript appears after its trigger message and
	// before the parent's next message.
	trigger := strings.Index(doc, "asking the solver")
	childAt := strings.Index(doc, "child transcript")
	wrapUp := strings.Index(doc, "wrapping up")
	require.True(t, trigger >= 0 && childAt >= 0 && wrapUp >= 0)
	assert.Less(t, trigger, childAt)
	assert.Less(t, childAt, wrapUp)

	// Deterministic rendering
	doc2, err := s.ExportMarkdown(ctx, root.ID)
	require.NoError(t, err)
	assert.Equal(t, doc, doc2)
}

func TestAppendEvent_RecentEvents(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.AppendEvent(ctx, Event{From: "a", To: "b", Message: "one"}))
	require.NoError(t, s.AppendEvent(ctx, Event{From: "a", To: "b", Message: "two", Summary: "short"}))
	require.NoError(t, s.AppendEvent(ctx, Event{From: "b", To: "a", Message: "three"}))

	events, err := s.RecentEvents(ctx, 2)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "two", events[0].Message)
	assert.Equal(t, "three", events[1].Message)

	none, err := s.RecentEvents(ctx, 0)
	require.NoError(t, err)
	assert.Nil(t, none)
}
