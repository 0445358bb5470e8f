package mcp

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/recalld/internal/engine"
	"github.com/fyrsmithlabs/recalld/internal/memory"
)

func seedBackend(t *testing.T, env *toolEnv, id, userID, content string, age time.Duration) {
	t.Helper()
	require.NoError(t, env.backend.Seed(context.Background(), []*memory.Memory{{
		ID:        id,
		UserID:    userID,
		Content:   content,
		CreatedAt: time.Now().UTC().Add(-age),
		Metadata:  memory.Metadata{},
	}}))
}

func TestDeduplicateMemoriesDryRun(t *testing.T) {
	env := newToolEnv(t, engine.Config{})

	seedBackend(t, env, "m-old", "alice", "Dashboard uses Next.js 14", 2*time.Hour)
	seedBackend(t, env, "m-new", "alice", "Dashboard uses Next.js 14", time.Hour)
	seedBackend(t, env, "m-other", "alice", "Database is Postgres 16", time.Hour)

	res, out, err := env.srv.handleDeduplicateMemories(context.Background(), nil, deduplicateMemoriesInput{
		UserID: "alice",
	})
	require.NoError(t, err)
	assert.Equal(t, "Found 1 duplicate groups (1 duplicates across 3 memories)", textOf(t, res))
	assert.True(t, out.DryRun)
	require.Len(t, out.Groups, 1)
	assert.Equal(t, "m-new", out.Groups[0].PrimaryID)
	assert.Equal(t, []string{"m-old"}, out.Groups[0].DuplicateIDs)
	assert.Equal(t, 0, out.Removed)
	assert.Equal(t, 3, env.backend.Len(), "dry run deletes nothing")
}

func TestDeduplicateMemoriesRemoves(t *testing.T) {
	env := newToolEnv(t, engine.Config{})

	seedBackend(t, env, "m-old", "alice", "Dashboard uses Next.js 14", 2*time.Hour)
	seedBackend(t, env, "m-new", "alice", "Dashboard uses Next.js 14", time.Hour)
	seedBackend(t, env, "m-other", "alice", "Database is Postgres 16", time.Hour)

	res, out, err := env.srv.handleDeduplicateMemories(context.Background(), nil, deduplicateMemoriesInput{
		UserID: "alice",
		DryRun: boolPtr(false),
	})
	require.NoError(t, err)
	assert.Equal(t, "Removed 1 duplicates in 1 groups", textOf(t, res))
	assert.Equal(t, 1, out.Removed)
	assert.Equal(t, 2, env.backend.Len())

	_, err = env.backend.Get(context.Background(), "alice", "m-new")
	assert.NoError(t, err, "primary survives")
}

func TestDeduplicateMemoriesNoneFound(t *testing.T) {
	env := newToolEnv(t, engine.Config{})

	seedBackend(t, env, "m1", "alice", "Dashboard uses Next.js 14", time.Hour)
	seedBackend(t, env, "m2", "alice", "Database is Postgres 16", time.Hour)

	res, out, err := env.srv.handleDeduplicateMemories(context.Background(), nil, deduplicateMemoriesInput{
		UserID: "alice",
	})
	require.NoError(t, err)
	assert.Equal(t, "No duplicates found", textOf(t, res))
	assert.Empty(t, out.Groups)
	assert.Equal(t, 2, out.Scanned)
}

func TestOptimizeCacheWarmsWorkingSet(t *testing.T) {
	env := newToolEnv(t, engine.Config{})

	// optimize_cache carries no user field; it warms the default user.
	seedBackend(t, env, "m1", "default", "first fact", 3*time.Hour)
	seedBackend(t, env, "m2", "default", "second fact", 2*time.Hour)
	seedBackend(t, env, "m3", "default", "third fact", time.Hour)

	res, out, err := env.srv.handleOptimizeCache(context.Background(), nil, optimizeCacheInput{})
	require.NoError(t, err)
	assert.Equal(t, "Cache optimized: 3 memories ready", textOf(t, res))
	assert.Equal(t, 3, out.Cached)
	assert.False(t, out.Rebuilt, "no force refresh, no index rebuild")

	stats, err := env.engine.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Cached)
}

func TestCacheStats(t *testing.T) {
	env := newToolEnv(t, engine.Config{})
	ctx := context.Background()

	_, _, err := env.srv.handleAddMemory(ctx, nil, addMemoryInput{
		Content: "one cached fact", UserID: "alice", Async: boolPtr(false),
	})
	require.NoError(t, err)

	res, out, err := env.srv.handleCacheStats(ctx, nil, cacheStatsInput{})
	require.NoError(t, err)
	assert.Equal(t, "1 memories cached", textOf(t, res))
	assert.Equal(t, 1, out.Cached)
}

func TestSyncStatusIdle(t *testing.T) {
	env := newToolEnv(t, engine.Config{})

	res, out, err := env.srv.handleSyncStatus(context.Background(), nil, syncStatusInput{})
	require.NoError(t, err)
	assert.Equal(t, "All operations complete", textOf(t, res))
	assert.Equal(t, 0, out.Pending)
}

func TestSyncStatusReportsPending(t *testing.T) {
	env := newToolEnv(t, engine.Config{})
	ctx := context.Background()

	// A sync add leaves its enrichment pending until a worker picks it
	// up; the engine is not started here, so the entry stays.
	_, _, err := env.srv.handleAddMemory(ctx, nil, addMemoryInput{
		Content: "pending enrichment", UserID: "alice", Async: boolPtr(false),
	})
	require.NoError(t, err)

	res, out, err := env.srv.handleSyncStatus(ctx, nil, syncStatusInput{})
	require.NoError(t, err)
	assert.Equal(t, "1 operations pending", textOf(t, res))
	assert.Equal(t, 1, out.Pending)
}
