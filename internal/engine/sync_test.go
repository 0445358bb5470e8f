package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/recalld/internal/kv"
	"github.com/fyrsmithlabs/recalld/internal/memory"
)

func TestRefreshHotReloadsFromBackend(t *testing.T) {
	env := newTestEnv(t, Config{})
	ctx := context.Background()

	env.seed(t, "m1", "alice", "fresh backend content")
	stale := &memory.Memory{ID: "m1", UserID: "alice", Content: "stale cached content", CreatedAt: time.Now().UTC(), Metadata: memory.Metadata{}}
	require.NoError(t, env.engine.tier.Put(ctx, stale, time.Hour))
	// Reads create the access counter that makes the record hot.
	_, found := env.engine.tier.Get(ctx, "alice", "m1")
	require.True(t, found)

	refreshed := env.engine.refreshHot(ctx)
	assert.Equal(t, 1, refreshed)

	m, found := env.engine.tier.Peek(ctx, "alice", "m1")
	require.True(t, found)
	assert.Equal(t, "fresh backend content", m.Content)
}

func TestRefreshHotHealsDeletedRecord(t *testing.T) {
	env := newTestEnv(t, Config{})
	ctx := context.Background()

	// Cached and counted, but the backend no longer has it.
	ghost := &memory.Memory{ID: "ghost", UserID: "alice", Content: "removed upstream", CreatedAt: time.Now().UTC(), Metadata: memory.Metadata{}}
	require.NoError(t, env.engine.tier.Put(ctx, ghost, time.Hour))
	_, found := env.engine.tier.Get(ctx, "alice", "ghost")
	require.True(t, found)

	refreshed := env.engine.refreshHot(ctx)
	assert.Zero(t, refreshed)

	_, found = env.engine.tier.Peek(ctx, "alice", "ghost")
	assert.False(t, found, "records the backend dropped leave the cache")
}

func TestRefreshHotStopsWhenBackendDown(t *testing.T) {
	env := newTestEnv(t, Config{})
	ctx := context.Background()

	m := &memory.Memory{ID: "m1", UserID: "alice", Content: "cached while backend is down", CreatedAt: time.Now().UTC(), Metadata: memory.Metadata{}}
	require.NoError(t, env.engine.tier.Put(ctx, m, time.Hour))
	_, found := env.engine.tier.Get(ctx, "alice", "m1")
	require.True(t, found)

	env.engine.backend = &stubStore{
		get: func(ctx context.Context, userID, id string) (*memory.Memory, error) {
			return nil, memory.ErrBackendUnavailable
		},
	}

	refreshed := env.engine.refreshHot(ctx)
	assert.Zero(t, refreshed)
	assert.True(t, env.engine.Health().RemoteDegraded)
	_, found = env.engine.tier.Peek(ctx, "alice", "m1")
	assert.True(t, found, "an unreachable backend must not evict anything")
}

func TestRequeueStalePending(t *testing.T) {
	env := newTestEnv(t, Config{})

	env.engine.pending.put("m1", "alice", memory.PriorityHigh)
	env.engine.pending.mu.Lock()
	entry := env.engine.pending.entries["m1"]
	entry.added = time.Now().Add(-2 * DefaultPendingMaxAge)
	env.engine.pending.entries["m1"] = entry
	env.engine.pending.mu.Unlock()

	assert.Equal(t, 1, env.engine.requeueStalePending())
	assert.Equal(t, 1, len(env.engine.queue))

	task := <-env.engine.queue
	assert.Equal(t, "m1", task.id)
	assert.Equal(t, "alice", task.userID)
	assert.Equal(t, memory.PriorityHigh, task.priority)

	// The restamp means the same entry is not requeued twice in a row.
	assert.Zero(t, env.engine.requeueStalePending())
}

func TestCollectExpiredSearches(t *testing.T) {
	env := newTestEnv(t, Config{})
	ctx := context.Background()

	// One list written properly, one that lost its expiry.
	require.NoError(t, env.store.SetEx(ctx, SearchKey("kept", 5), "[]", time.Minute))
	require.NoError(t, env.srv.Set(SearchKey("orphaned", 5), "[]"))

	collected := env.engine.collectExpiredSearches(ctx)
	assert.Equal(t, 1, collected)

	keys, err := kv.ScanAll(ctx, env.store, "search:*", 100)
	require.NoError(t, err)
	assert.Equal(t, []string{SearchKey("kept", 5)}, keys)
}

func TestSyncPassDoesNotOverlap(t *testing.T) {
	env := newTestEnv(t, Config{})
	ctx := context.Background()

	env.seed(t, "m1", "alice", "fresh backend content")
	stale := &memory.Memory{ID: "m1", UserID: "alice", Content: "stale cached content", CreatedAt: time.Now().UTC(), Metadata: memory.Metadata{}}
	require.NoError(t, env.engine.tier.Put(ctx, stale, time.Hour))
	_, found := env.engine.tier.Get(ctx, "alice", "m1")
	require.True(t, found)

	env.engine.syncActive.Store(true)
	env.engine.syncPass(ctx)
	m, _ := env.engine.tier.Peek(ctx, "alice", "m1")
	assert.Equal(t, "stale cached content", m.Content, "a pass in flight blocks the next one")

	env.engine.syncActive.Store(false)
	env.engine.syncPass(ctx)
	m, _ = env.engine.tier.Peek(ctx, "alice", "m1")
	assert.Equal(t, "fresh backend content", m.Content)
}
