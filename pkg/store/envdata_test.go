package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvData_ScopedToRootThread(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	rootA := createRoot(t, s, "coordinator")
	rootB := createRoot(t, s, "other")

	require.NoError(t, s.StoreEnvData(ctx, rootA.ID, "task", "current task", map[string]interface{}{"goal": "solve"}, "coordinator"))

	// Visible from root A
	entry, err := s.GetEnvData(ctx, rootA.ID, "task")
	require.NoError(t, err)
	value := entry.Value.(map[string]interface{})
	assert.Equal(t, "solve", value["goal"])

	// Invisible from the unrelated root B
	_, err = s.GetEnvData(ctx, rootB.ID, "task")
	assert.ErrorIs(t, err, ErrNotFound)

	listB, err := s.ListEnvData(ctx, rootB.ID)
	require.NoError(t, err)
	assert.Empty(t, listB)
}

func TestEnvData_SharedAcrossDelegationTree(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	// End to end: coordinator root T1, delegation T2, and a second
	// delegation T3 also rooted at T1 all see the same value.
	t1 := createRoot(t, s, "coordinator")
	t2 := createDelegation(t, s, t1, "solver", 0)
	t3 := createDelegation(t, s, t1, "verifier", 0)

	rootOfT2, err := s.ResolveRootThread(ctx, t2.ID)
	require.NoError(t, err)
	require.Equal(t, t1.ID, rootOfT2)

	require.NoError(t, s.StoreEnvData(ctx, t2.ID, "task", "shared task", map[string]interface{}{"id": float64(42)}, "solver"))

	for _, id := range []string{t1.ID, t2.ID, t3.ID} {
		entry, err := s.GetEnvData(ctx, id, "task")
		require.NoError(t, err)
		value := entry.Value.(map[string]interface{})
		assert.Equal(t, float64(42), value["id"])
	}
}

func TestEnvData_StoreUpserts(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	root := createRoot(t, s, "coordinator")

	require.NoError(t, s.StoreEnvData(ctx, root.ID, "plan", "the plan", "v1", "coordinator"))
	require.NoError(t, s.StoreEnvData(ctx, root.ID, "plan", "the plan, revised", "v2", "solver"))

	entry, err := s.GetEnvData(ctx, root.ID, "plan")
	require.NoError(t, err)
	assert.Equal(t, "v2", entry.Value)
	assert.Equal(t, "the plan, revised", entry.Description)
	assert.Equal(t, "solver", entry.StoredBy)

	list, err := s.ListEnvData(ctx, root.ID)
	require.NoError(t, err)
	require.Len(t, list, 1, "upsert keeps one live entry per key")
}

func TestEnvData_UpdateRequiresExistingKey(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	root := createRoot(t, s, "coordinator")

	err := s.UpdateEnvData(ctx, root.ID, "missing", "x", "coordinator")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.StoreEnvData(ctx, root.ID, "key", "desc", "v1", "coordinator"))
	require.NoError(t, s.UpdateEnvData(ctx, root.ID, "key", "v2", "solver"))

	entry, err := s.GetEnvData(ctx, root.ID, "key")
	require.NoError(t, err)
	assert.Equal(t, "v2", entry.Value)
}

func TestEnvData_Delete(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	root := createRoot(t, s, "coordinator")

	require.NoError(t, s.StoreEnvData(ctx, root.ID, "key", "desc", "v", "coordinator"))
	require.NoError(t, s.DeleteEnvData(ctx, root.ID, "key"))

	_, err := s.GetEnvData(ctx, root.ID, "key")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.ErrorIs(t, s.DeleteEnvData(ctx, root.ID, "key"), ErrNotFound)
}

func TestEnvData_ListOmitsValues(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	root := createRoot(t, s, "coordinator")
	require.NoError(t, s.StoreEnvData(ctx, root.ID, "b", "second", "vb", "coordinator"))
	require.NoError(t, s.StoreEnvData(ctx, root.ID, "a", "first", "va", "coordinator"))

	list, err := s.ListEnvData(ctx, root.ID)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "a", list[0].Key)
	assert.Equal(t, "first", list[0].Description)
	assert.Equal(t, "b", list[1].Key)
}
