package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemory_StoreRetrieveDelete(t *testing.T) {
	ctx := context.Background()
	m := NewInMemory()

	ok, err := m.Store(ctx, "swarm-1", "state", "key1", map[string]interface{}{"a": 1.0}, true)
	require.NoError(t, err)
	assert.True(t, ok)

	value, found, err := m.Retrieve(ctx, "swarm-1", "state", "key1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, map[string]interface{}{"a": 1.0}, value)

	require.NoError(t, m.Delete(ctx, "swarm-1", "state", "key1"))
	_, found, err = m.Retrieve(ctx, "swarm-1", "state", "key1")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestInMemory_ListKeysAndClearNamespace(t *testing.T) {
	ctx := context.Background()
	m := NewInMemory()

	_, _ = m.Store(ctx, "swarm-1", "ns", "alpha", 1, false)
	_, _ = m.Store(ctx, "swarm-1", "ns", "beta", 2, false)
	_, _ = m.Store(ctx, "swarm-1", "other", "gamma", 3, false)

	keys, err := m.ListKeys(ctx, "swarm-1", "ns", "")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"alpha", "beta"}, keys)

	require.NoError(t, m.ClearNamespace(ctx, "swarm-1", "ns"))
	keys, err = m.ListKeys(ctx, "swarm-1", "ns", "")
	require.NoError(t, err)
	assert.Empty(t, keys)

	keys, err = m.ListKeys(ctx, "swarm-1", "other", "")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"gamma"}, keys)
}

func TestInMemory_GetMemoryStats(t *testing.T) {
	ctx := context.Background()
	m := NewInMemory()
	_, _ = m.Store(ctx, "swarm-1", "ns", "a", 1, false)
	_, _ = m.Store(ctx, "swarm-1", "ns", "b", 2, false)
	_, _ = m.Store(ctx, "swarm-2", "ns2", "c", 3, false)

	stats, err := m.GetMemoryStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.TotalKeys)
	assert.Equal(t, 2, stats.NamespaceCounts["ns"])
	assert.Equal(t, 1, stats.NamespaceCounts["ns2"])
}

func TestRouter_FallsBackToInMemoryWithoutBackends(t *testing.T) {
	ctx := context.Background()
	r := NewRouter(nil, nil)

	ok, err := r.Store(ctx, "s1", "ns", "k", "v", true)
	require.NoError(t, err)
	assert.True(t, ok)

	value, found, err := r.Retrieve(ctx, "s1", "ns", "k")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "v", value)
}
