package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()

	s, err := New(Config{
		Path:   filepath.Join(t.TempDir(), "loom.db"),
		Logger: zerolog.New(os.Stdout).Level(zerolog.ErrorLevel),
	})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	return s
}

func createRoot(t *testing.T, s *Store, agent string) *Thread {
	t.Helper()

	thread, err := s.CreateThread(context.Background(), CreateThreadParams{
		OwningAgent: agent,
		Type:        ThreadRoot,
	})
	require.NoError(t, err)
	return thread
}

func createDelegation(t *testing.T, s *Store, parent *Thread, agent string, parentMsg int64) *Thread {
	t.Helper()

	thread, err := s.CreateThread(context.Background(), CreateThreadParams{
		OwningAgent:     agent,
		ParentThreadID:  parent.ID,
		ParentMessageID: parentMsg,
		ParentAgent:     parent.OwningAgent,
		Type:            ThreadDelegation,
	})
	require.NoError(t, err)
	return thread
}

func TestNew_AppliesMigrations(t *testing.T) {
	s := setupTestStore(t)

	version, err := s.SchemaVersion()
	require.NoError(t, err)
	assert.Equal(t, 2, version)
}

func TestNew_MigrationIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "loom.db")
	logger := zerolog.New(os.Stdout).Level(zerolog.ErrorLevel)

	s1, err := New(Config{Path: path, Logger: logger})
	require.NoError(t, err)
	require.NoError(t, s1.Close())

	// Reopening must not re-apply migrations
	s2, err := New(Config{Path: path, Logger: logger})
	require.NoError(t, err)
	defer s2.Close()

	version, err := s2.SchemaVersion()
	require.NoError(t, err)
	assert.Equal(t, 2, version)
}

func TestCreateThread_Validation(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	_, err := s.CreateThread(ctx, CreateThreadParams{Type: ThreadRoot})
	assert.ErrorIs(t, err, ErrInvalid)

	_, err = s.CreateThread(ctx, CreateThreadParams{OwningAgent: "a", Type: "bogus"})
	assert.ErrorIs(t, err, ErrInvalid)

	// Non-root threads require a parent
	_, err = s.CreateThread(ctx, CreateThreadParams{OwningAgent: "a", Type: ThreadDelegation})
	assert.ErrorIs(t, err, ErrInvalid)

	// Parent must exist
	_, err = s.CreateThread(ctx, CreateThreadParams{
		OwningAgent:    "a",
		ParentThreadID: "missing",
		Type:           ThreadDelegation,
	})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetThread_RoundTrip(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	created, err := s.CreateThread(ctx, CreateThreadParams{
		OwningAgent: "coordinator",
		Type:        ThreadRoot,
		Name:        "planning",
		Source:      "cli",
		Metadata:    map[string]interface{}{"priority": "high"},
	})
	require.NoError(t, err)

	loaded, err := s.GetThread(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.ID, loaded.ID)
	assert.Equal(t, "coordinator", loaded.OwningAgent)
	assert.Equal(t, ThreadRoot, loaded.Type)
	assert.Equal(t, "planning", loaded.Name)
	assert.Equal(t, "cli", loaded.Source)
	assert.Equal(t, "high", loaded.Metadata["priority"])
}

func TestGetThread_NotFound(t *testing.T) {
	s := setupTestStore(t)

	_, err := s.GetThread(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestThreadLineage_RootFirst(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	root := createRoot(t, s, "coordinator")
	mid := createDelegation(t, s, root, "solver", 0)
	leaf := createDelegation(t, s, mid, "verifier", 0)

	lineage, err := s.ThreadLineage(ctx, leaf.ID)
	require.NoError(t, err)
	require.Len(t, lineage, 3)
	assert.Equal(t, root.ID, lineage[0].ID)
	assert.Equal(t, mid.ID, lineage[1].ID)
	assert.Equal(t, leaf.ID, lineage[2].ID)
}

func TestResolveRootThread(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	root := createRoot(t, s, "coordinator")
	child := createDelegation(t, s, root, "solver", 0)
	grandchild := createDelegation(t, s, child, "verifier", 0)

	for _, id := range []string{root.ID, child.ID, grandchild.ID} {
		resolved, err := s.ResolveRootThread(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, root.ID, resolved)
	}
}

func TestThreadTree_AnnotatesAndBounds(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	root := createRoot(t, s, "coordinator")
	child := createDelegation(t, s, root, "solver", 0)
	createDelegation(t, s, child, "verifier", 0)

	_, err := s.AppendMessage(ctx, root.ID, Message{Role: RoleUser, Content: "go"})
	require.NoError(t, err)

	tree, err := s.ThreadTree(ctx, root.ID, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, tree.MessageCount)
	require.Len(t, tree.Children, 1)
	require.Len(t, tree.Children[0].Children, 1)
	assert.False(t, tree.Truncated)

	// maxDepth cuts recursion and marks the boundary node
	shallow, err := s.ThreadTree(ctx, root.ID, 2)
	require.NoError(t, err)
	require.Len(t, shallow.Children, 1)
	assert.Empty(t, shallow.Children[0].Children)
	assert.True(t, shallow.Children[0].Truncated)

	_, err = s.ThreadTree(ctx, root.ID, 0)
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestRenameThread(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	root := createRoot(t, s, "coordinator")
	require.NoError(t, s.RenameThread(ctx, root.ID, "triage"))

	loaded, err := s.GetThread(ctx, root.ID)
	require.NoError(t, err)
	assert.Equal(t, "triage", loaded.Name)

	assert.ErrorIs(t, s.RenameThread(ctx, "missing", "x"), ErrNotFound)
}

func TestListThreads(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	createRoot(t, s, "coordinator")
	createRoot(t, s, "coordinator")
	createRoot(t, s, "solver")

	mine, err := s.ListThreads(ctx, "coordinator")
	require.NoError(t, err)
	assert.Len(t, mine, 2)

	all, err := s.ListThreads(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 3)
}
