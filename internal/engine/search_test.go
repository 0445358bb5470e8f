package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/recalld/internal/cache"
	"github.com/fyrsmithlabs/recalld/internal/memory"
)

func TestSearchEmptyQueryAndLimit(t *testing.T) {
	env := newTestEnv(t, Config{})
	ctx := context.Background()

	res, err := env.engine.Search(ctx, SearchRequest{UserID: "alice", Query: "   ", Limit: 5})
	require.NoError(t, err)
	assert.Empty(t, res.Memories)

	res, err = env.engine.Search(ctx, SearchRequest{UserID: "alice", Query: "anything"})
	require.NoError(t, err)
	assert.Empty(t, res.Memories, "non-positive limit returns nothing")
}

func TestSearchFindsBackendCandidates(t *testing.T) {
	env := newTestEnv(t, Config{})
	ctx := context.Background()
	env.seed(t, "m1", "alice", "prefers dark roast coffee brewed strong")
	env.seed(t, "m2", "alice", "deploys services with terraform and argo")
	env.seed(t, "m3", "alice", "keeps notes in markdown files")

	res, err := env.engine.Search(ctx, SearchRequest{UserID: "alice", Query: "dark roast coffee", Limit: 5})
	require.NoError(t, err)
	require.NotEmpty(t, res.Memories)
	assert.Equal(t, "m1", res.Memories[0].ID)
	assert.Len(t, res.Scores, len(res.Memories))
	assert.Positive(t, res.Scores[0])
	assert.False(t, res.Degraded)
	assert.False(t, res.FromCache)
}

func TestSearchServesCachedResultList(t *testing.T) {
	env := newTestEnv(t, Config{})
	ctx := context.Background()

	added, err := env.engine.Add(ctx, AddRequest{UserID: "alice", Content: "migrating the billing service to postgres"})
	require.NoError(t, err)

	req := SearchRequest{UserID: "alice", Query: "billing postgres migration", Limit: 5, PreferCache: true}
	first, err := env.engine.Search(ctx, req)
	require.NoError(t, err)
	require.NotEmpty(t, first.Memories)
	assert.False(t, first.FromCache)

	second, err := env.engine.Search(ctx, req)
	require.NoError(t, err)
	require.NotEmpty(t, second.Memories)
	assert.True(t, second.FromCache)
	assert.Equal(t, added.ID, second.Memories[0].ID)
	assert.Equal(t, memory.SourceCache, second.Memories[0].Metadata.Source())
	assert.Equal(t, first.Scores, second.Scores, "cached list preserves the ranked scores")
}

func TestSearchCachePurgedByWrite(t *testing.T) {
	env := newTestEnv(t, Config{})
	ctx := context.Background()

	_, err := env.engine.Add(ctx, AddRequest{UserID: "alice", Content: "first note about incident response"})
	require.NoError(t, err)

	req := SearchRequest{UserID: "alice", Query: "incident response", Limit: 5, PreferCache: true}
	_, err = env.engine.Search(ctx, req)
	require.NoError(t, err)

	// A new write purges every cached result list.
	_, err = env.engine.Add(ctx, AddRequest{UserID: "alice", Content: "second note about postmortem templates"})
	require.NoError(t, err)

	res, err := env.engine.Search(ctx, req)
	require.NoError(t, err)
	assert.False(t, res.FromCache, "stale list was purged, search recomputed")
}

func TestSearchCacheScopedToUser(t *testing.T) {
	env := newTestEnv(t, Config{})
	ctx := context.Background()

	_, err := env.engine.Add(ctx, AddRequest{UserID: "alice", Content: "alice keeps her runbooks in the wiki"})
	require.NoError(t, err)
	_, err = env.engine.Search(ctx, SearchRequest{UserID: "alice", Query: "runbooks wiki", Limit: 5, PreferCache: true})
	require.NoError(t, err)

	// The same query for another user must never serve alice's list.
	res, err := env.engine.Search(ctx, SearchRequest{UserID: "bob", Query: "runbooks wiki", Limit: 5, PreferCache: true})
	require.NoError(t, err)
	assert.False(t, res.FromCache)
	assert.Empty(t, res.Memories)
}

func TestSearchVectorAndKeywordCandidates(t *testing.T) {
	env := newTestEnv(t, Config{})
	ctx := context.Background()

	m := &memory.Memory{
		ID:        "m1",
		UserID:    "alice",
		Content:   "kafka consumer lag alerts fire during rebalance storms",
		CreatedAt: time.Now().UTC(),
		Metadata:  memory.Metadata{},
	}
	// Backend that can only serve Get; Search returns nothing, so any
	// candidates must come from the local indices.
	env.engine.backend = &stubStore{
		get: func(ctx context.Context, userID, id string) (*memory.Memory, error) {
			return m.Clone(), nil
		},
	}
	env.engine.enrich(ctx, enrichTask{id: "m1", userID: "alice"})
	require.Equal(t, 1, env.engine.vectors.Len())

	res, err := env.engine.Search(ctx, SearchRequest{UserID: "alice", Query: "kafka consumer lag", Limit: 3})
	require.NoError(t, err)
	require.Len(t, res.Memories, 1)
	assert.Equal(t, "m1", res.Memories[0].ID)
	assert.Equal(t, memory.SourceCache, res.Memories[0].Metadata.Source())
	assert.False(t, res.Degraded)
}

func TestSearchDegradesWhenBackendDown(t *testing.T) {
	env := newTestEnv(t, Config{})
	ctx := context.Background()

	m := &memory.Memory{
		ID:        "m1",
		UserID:    "alice",
		Content:   "grafana dashboards live in the observability repo",
		CreatedAt: time.Now().UTC(),
		Metadata:  memory.Metadata{},
	}
	require.NoError(t, env.engine.tier.Put(ctx, m, time.Hour))
	require.NoError(t, env.engine.keywords.Add(ctx, "m1", m.Content))
	env.engine.backend = &stubStore{
		search: func(ctx context.Context, userID, query string, limit int) ([]*memory.Memory, error) {
			return nil, memory.ErrBackendUnavailable
		},
	}

	res, err := env.engine.Search(ctx, SearchRequest{UserID: "alice", Query: "grafana dashboards", Limit: 4})
	require.NoError(t, err)
	assert.True(t, res.Degraded)
	require.Len(t, res.Memories, 1)
	assert.Equal(t, "m1", res.Memories[0].ID)
	assert.True(t, env.engine.Health().RemoteDegraded)
}

func TestSearchCountsSearches(t *testing.T) {
	env := newTestEnv(t, Config{})
	ctx := context.Background()

	_, err := env.engine.Search(ctx, SearchRequest{UserID: "alice", Query: "anything at all", Limit: 3})
	require.NoError(t, err)

	counters, err := env.engine.tier.Counters(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counters[cache.CounterSearches])
}

func TestSearchKey(t *testing.T) {
	k1 := SearchKey("dark roast", 5)
	k2 := SearchKey("dark roast", 5)
	k3 := SearchKey("dark roast", 10)
	k4 := SearchKey("light roast", 5)

	assert.Equal(t, k1, k2)
	assert.NotEqual(t, k1, k3)
	assert.NotEqual(t, k1, k4)
	assert.Regexp(t, `^search:[0-9a-f]{40}:5$`, k1)
}
