package keyword

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/recalld/internal/kv"
)

func newTestIndex(t *testing.T) (*Index, *miniredis.Miniredis) {
	t.Helper()
	srv := miniredis.RunT(t)
	store, err := kv.New(context.Background(), kv.Config{URL: srv.Addr()}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return New(store, 24*time.Hour, zap.NewNop()), srv
}

func TestTokenize(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []string
	}{
		{name: "lowercases and splits", input: "Dashboard uses Next.js", want: []string{"dashboard", "uses", "next"}},
		{name: "drops short tokens", input: "Go is a fun minimal lang", want: []string{"minimal", "lang"}},
		{name: "empty input", input: "", want: nil},
		{name: "all short", input: "a b cd", want: nil},
		{name: "distinct preserving order", input: "cache cache CACHE tier tier", want: []string{"cache", "tier"}},
		{name: "digits kept", input: "listens on port 8080 always", want: []string{"listens", "port", "8080", "always"}},
		{name: "unicode boundaries", input: "café serves crêpes daily", want: []string{"café", "serves", "crêpes", "daily"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Tokenize(tt.input)
			if tt.want == nil {
				assert.Empty(t, got)
				return
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTokenizeCapsAtTwenty(t *testing.T) {
	parts := make([]string, 30)
	for i := range parts {
		parts[i] = strings.Repeat(string(rune('a'+i%26)), 4) + string(rune('a'+i/26))
	}
	got := Tokenize(strings.Join(parts, " "))
	assert.Len(t, got, MaxTokensPerMemory)
}

func TestAddAndLookup(t *testing.T) {
	ix, _ := newTestIndex(t)
	ctx := context.Background()

	require.NoError(t, ix.Add(ctx, "m1", "dashboard uses dark mode theme"))
	require.NoError(t, ix.Add(ctx, "m2", "user prefers dark mode"))
	require.NoError(t, ix.Add(ctx, "m3", "deployment pipeline notes"))

	matches, err := ix.Lookup(ctx, "dark mode settings")
	require.NoError(t, err)

	assert.Equal(t, 2, matches["m1"])
	assert.Equal(t, 2, matches["m2"])
	assert.NotContains(t, matches, "m3")
}

func TestLookupEmptyQuery(t *testing.T) {
	ix, _ := newTestIndex(t)

	matches, err := ix.Lookup(context.Background(), "")
	require.NoError(t, err)
	assert.Empty(t, matches)

	matches, err = ix.Lookup(context.Background(), "a an it")
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestRemove(t *testing.T) {
	ix, srv := newTestIndex(t)
	ctx := context.Background()

	require.NoError(t, ix.Add(ctx, "m1", "redis cache expiry policy"))
	require.NoError(t, ix.Add(ctx, "m2", "redis cluster topology"))

	require.NoError(t, ix.Remove(ctx, "m1"))

	matches, err := ix.Lookup(ctx, "redis cache")
	require.NoError(t, err)
	assert.NotContains(t, matches, "m1")
	assert.Equal(t, 1, matches["m2"])

	// The reverse mirror is gone too.
	assert.False(t, srv.Exists(ReverseKey("m1")))

	// Removing an unindexed id is a no-op.
	require.NoError(t, ix.Remove(ctx, "ghost"))
}

func TestPostingsExpire(t *testing.T) {
	ix, srv := newTestIndex(t)
	ctx := context.Background()

	require.NoError(t, ix.Add(ctx, "m1", "ephemeral posting entry"))

	srv.FastForward(25 * time.Hour)

	matches, err := ix.Lookup(ctx, "ephemeral posting")
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestReindexIsIdempotent(t *testing.T) {
	ix, _ := newTestIndex(t)
	ctx := context.Background()

	require.NoError(t, ix.Add(ctx, "m1", "stable content here"))
	require.NoError(t, ix.Add(ctx, "m1", "stable content here"))

	matches, err := ix.Lookup(ctx, "stable content")
	require.NoError(t, err)
	assert.Equal(t, 2, matches["m1"])
}

func TestCount(t *testing.T) {
	ix, _ := newTestIndex(t)
	ctx := context.Background()

	n, err := ix.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	require.NoError(t, ix.Add(ctx, "m1", "alpha bravo charlie"))

	n, err = ix.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestQueryTokenCount(t *testing.T) {
	assert.Equal(t, 2, QueryTokenCount("dark mode on"))
	assert.Zero(t, QueryTokenCount(""))
}
