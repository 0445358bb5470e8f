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

func TestAddMemorySavesSync(t *testing.T) {
	env := newToolEnv(t, engine.Config{})
	ctx := context.Background()

	res, out, err := env.srv.handleAddMemory(ctx, nil, addMemoryInput{
		Content: "Dashboard uses Next.js 14",
		UserID:  "alice",
		Async:   boolPtr(false),
	})
	require.NoError(t, err)
	assert.Equal(t, "Saved", textOf(t, res))
	assert.False(t, res.IsError)
	assert.Equal(t, engine.StatusSaved, out.Status)
	assert.NotEmpty(t, out.ID)
	assert.Equal(t, 1, env.backend.Len())
}

func TestAddMemoryAsyncByDefault(t *testing.T) {
	env := newToolEnv(t, engine.Config{})
	ctx := context.Background()

	res, out, err := env.srv.handleAddMemory(ctx, nil, addMemoryInput{
		Content: "async writes settle in the background",
		UserID:  "alice",
	})
	require.NoError(t, err)
	assert.Equal(t, "Saved", textOf(t, res))
	assert.Equal(t, engine.StatusQueued, out.Status)
	assert.NotEmpty(t, out.JobID)

	require.Eventually(t, func() bool {
		return env.backend.Len() == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestAddMemoryDuplicate(t *testing.T) {
	env := newToolEnv(t, engine.Config{})
	ctx := context.Background()

	first, out1, err := env.srv.handleAddMemory(ctx, nil, addMemoryInput{
		Content: "Dashboard uses Next.js 14",
		UserID:  "alice",
		Async:   boolPtr(false),
	})
	require.NoError(t, err)
	require.Equal(t, "Saved", textOf(t, first))

	second, out2, err := env.srv.handleAddMemory(ctx, nil, addMemoryInput{
		Content: "Dashboard uses Next.js 14",
		UserID:  "alice",
		Async:   boolPtr(false),
	})
	require.NoError(t, err)
	assert.Equal(t, "Already saved", textOf(t, second))
	assert.Equal(t, engine.StatusDuplicate, out2.Status)
	assert.Equal(t, out1.ID, out2.ID)
	assert.Equal(t, 1, env.backend.Len())
}

func TestAddMemoryInvalidInput(t *testing.T) {
	env := newToolEnv(t, engine.Config{})

	res, out, err := env.srv.handleAddMemory(context.Background(), nil, addMemoryInput{
		UserID: "alice",
	})
	require.NoError(t, err, "failures surface as text, not protocol errors")
	assert.True(t, res.IsError)
	assert.Equal(t, "Error: invalid input", textOf(t, res))
	assert.Empty(t, out.ID)
}

func TestAddMemoryRejectsUnknownPriority(t *testing.T) {
	env := newToolEnv(t, engine.Config{})

	res, _, err := env.srv.handleAddMemory(context.Background(), nil, addMemoryInput{
		Content:  "anything",
		Priority: "urgent",
	})
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Equal(t, "Error: invalid input", textOf(t, res))
	assert.Equal(t, 0, env.backend.Len())
}

func TestAddMemoryMediumPriorityMapsToNormal(t *testing.T) {
	env := newToolEnv(t, engine.Config{})
	ctx := context.Background()

	_, out, err := env.srv.handleAddMemory(ctx, nil, addMemoryInput{
		Content:  "medium is the tool-facing name for normal",
		UserID:   "alice",
		Priority: "medium",
		Async:    boolPtr(false),
	})
	require.NoError(t, err)

	got, err := env.engine.Get(ctx, "alice", out.ID)
	require.NoError(t, err)
	assert.Equal(t, memory.PriorityNormal, got.Metadata.Priority())
}

func TestAddMemoryMessages(t *testing.T) {
	env := newToolEnv(t, engine.Config{})
	ctx := context.Background()

	res, out, err := env.srv.handleAddMemory(ctx, nil, addMemoryInput{
		Messages: []messageInput{
			{Role: "user", Content: "remember that I use vim"},
			{Role: "assistant", Content: "noted"},
		},
		UserID: "alice",
		Async:  boolPtr(false),
	})
	require.NoError(t, err)
	assert.Equal(t, "Saved", textOf(t, res))

	got, err := env.engine.Get(ctx, "alice", out.ID)
	require.NoError(t, err)
	assert.Equal(t, "remember that I use vim\nnoted", got.Content)
}

func TestSearchMemoryJoinsResults(t *testing.T) {
	env := newToolEnv(t, engine.Config{})
	ctx := context.Background()

	for _, content := range []string{
		"Alice prefers dark roast coffee",
		"Coffee orders go through the kiosk",
	} {
		_, _, err := env.srv.handleAddMemory(ctx, nil, addMemoryInput{
			Content: content, UserID: "alice", Async: boolPtr(false),
		})
		require.NoError(t, err)
	}

	res, out, err := env.srv.handleSearchMemory(ctx, nil, searchMemoryInput{
		Query:  "dark roast coffee",
		UserID: "alice",
	})
	require.NoError(t, err)
	require.Len(t, out.Memories, 2)
	require.Len(t, out.Scores, 2)

	text := textOf(t, res)
	assert.Contains(t, text, "\n---\n")
	assert.Contains(t, text, "Alice prefers dark roast coffee")
	assert.Contains(t, text, "Coffee orders go through the kiosk")
}

func TestSearchMemoryNoResults(t *testing.T) {
	env := newToolEnv(t, engine.Config{})

	res, out, err := env.srv.handleSearchMemory(context.Background(), nil, searchMemoryInput{
		Query:  "nothing matches this",
		UserID: "alice",
	})
	require.NoError(t, err)
	assert.Equal(t, "No memories found", textOf(t, res))
	assert.False(t, res.IsError)
	assert.Empty(t, out.Memories)
}

func TestSearchMemoryEmptyQuery(t *testing.T) {
	env := newToolEnv(t, engine.Config{})

	res, _, err := env.srv.handleSearchMemory(context.Background(), nil, searchMemoryInput{})
	require.NoError(t, err)
	assert.Equal(t, "No memories found", textOf(t, res))
}

func TestSearchMemoryExplicitZeroLimit(t *testing.T) {
	env := newToolEnv(t, engine.Config{})
	ctx := context.Background()

	_, _, err := env.srv.handleAddMemory(ctx, nil, addMemoryInput{
		Content: "limit zero returns nothing", UserID: "alice", Async: boolPtr(false),
	})
	require.NoError(t, err)

	res, out, err := env.srv.handleSearchMemory(ctx, nil, searchMemoryInput{
		Query:  "limit zero",
		UserID: "alice",
		Limit:  intPtr(0),
	})
	require.NoError(t, err)
	assert.Equal(t, "No memories found", textOf(t, res))
	assert.Empty(t, out.Memories)
}

func TestGetAllMemoriesText(t *testing.T) {
	env := newToolEnv(t, engine.Config{})
	ctx := context.Background()

	for _, content := range []string{"first note", "second note", "third note"} {
		_, _, err := env.srv.handleAddMemory(ctx, nil, addMemoryInput{
			Content: content, UserID: "alice", Async: boolPtr(false),
		})
		require.NoError(t, err)
	}

	res, out, err := env.srv.handleGetAllMemories(ctx, nil, getAllMemoriesInput{UserID: "alice"})
	require.NoError(t, err)
	assert.Equal(t, "3 memories retrieved", textOf(t, res))
	assert.Equal(t, 3, out.Total)
	assert.Equal(t, 3, out.Returned)
	assert.False(t, out.HasMore)
	assert.Equal(t, memory.SourceCache, out.Source, "fresh adds leave the working set warm")
	require.NotNil(t, out.CacheStats, "cache stats attach by default")
	assert.Equal(t, 3, out.CacheStats.Cached)
}

func TestGetAllMemoriesPagination(t *testing.T) {
	env := newToolEnv(t, engine.Config{})
	ctx := context.Background()

	for _, content := range []string{"first note", "second note", "third note"} {
		_, _, err := env.srv.handleAddMemory(ctx, nil, addMemoryInput{
			Content: content, UserID: "alice", Async: boolPtr(false),
		})
		require.NoError(t, err)
	}

	_, page1, err := env.srv.handleGetAllMemories(ctx, nil, getAllMemoriesInput{
		UserID: "alice", Limit: 2,
	})
	require.NoError(t, err)
	assert.Equal(t, 2, page1.Returned)
	assert.True(t, page1.HasMore)

	_, page2, err := env.srv.handleGetAllMemories(ctx, nil, getAllMemoriesInput{
		UserID: "alice", Limit: 2, Offset: 2,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, page2.Returned)
	assert.False(t, page2.HasMore)
}

func TestGetAllMemoriesWithoutCacheStats(t *testing.T) {
	env := newToolEnv(t, engine.Config{})
	ctx := context.Background()

	_, _, err := env.srv.handleAddMemory(ctx, nil, addMemoryInput{
		Content: "lone note", UserID: "alice", Async: boolPtr(false),
	})
	require.NoError(t, err)

	_, out, err := env.srv.handleGetAllMemories(ctx, nil, getAllMemoriesInput{
		UserID:            "alice",
		IncludeCacheStats: boolPtr(false),
	})
	require.NoError(t, err)
	assert.Nil(t, out.CacheStats)
}

func TestGetAllMemoriesClampsLimit(t *testing.T) {
	env := newToolEnv(t, engine.Config{})
	ctx := context.Background()

	_, _, err := env.srv.handleAddMemory(ctx, nil, addMemoryInput{
		Content: "clamp check", UserID: "alice", Async: boolPtr(false),
	})
	require.NoError(t, err)

	res, out, err := env.srv.handleGetAllMemories(ctx, nil, getAllMemoriesInput{
		UserID: "alice",
		Limit:  10000,
	})
	require.NoError(t, err)
	assert.Equal(t, "1 memories retrieved", textOf(t, res))
	assert.Equal(t, 1, out.Returned)
}

func TestDeleteMemoryResolvesOwner(t *testing.T) {
	env := newToolEnv(t, engine.Config{})
	ctx := context.Background()

	_, out, err := env.srv.handleAddMemory(ctx, nil, addMemoryInput{
		Content: "delete me", UserID: "alice", Async: boolPtr(false),
	})
	require.NoError(t, err)

	res, dout, err := env.srv.handleDeleteMemory(ctx, nil, deleteMemoryInput{MemoryID: out.ID})
	require.NoError(t, err)
	assert.Equal(t, "Deleted", textOf(t, res))
	assert.Equal(t, out.ID, dout.ID)
	assert.Equal(t, 0, env.backend.Len())

	_, err = env.engine.Get(ctx, "alice", out.ID)
	assert.ErrorIs(t, err, memory.ErrNotFound)
}

func TestDeleteMemoryNotFound(t *testing.T) {
	env := newToolEnv(t, engine.Config{})

	res, _, err := env.srv.handleDeleteMemory(context.Background(), nil, deleteMemoryInput{
		MemoryID: "no-such-memory",
	})
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Equal(t, "Error: not found", textOf(t, res))
}
