package embed

import (
	"context"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultCacheSize is the memo capacity of a Cached embedder.
const DefaultCacheSize = 2048

// Cached memoizes an Embedder with an LRU keyed by exact text. Repeat
// queries and re-enrichment of unchanged content skip the model.
type Cached struct {
	inner Embedder
	memo  *lru.Cache[string, []float32]
}

// NewCached wraps inner with a memo of the given capacity. size <= 0
// selects the default.
func NewCached(inner Embedder, size int) (*Cached, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	memo, err := lru.New[string, []float32](size)
	if err != nil {
		return nil, err
	}
	return &Cached{inner: inner, memo: memo}, nil
}

// EmbedQuery returns the memoized vector when present.
func (c *Cached) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if vec, ok := c.memo.Get(text); ok {
		return vec, nil
	}
	vec, err := c.inner.EmbedQuery(ctx, text)
	if err != nil {
		return nil, err
	}
	c.memo.Add(text, vec)
	return vec, nil
}

// EmbedDocuments serves memoized entries and batches only the misses.
func (c *Cached) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, ErrEmptyInput
	}

	out := make([][]float32, len(texts))
	var (
		missing    []string
		missingIdx []int
	)
	for i, text := range texts {
		if vec, ok := c.memo.Get(text); ok {
			out[i] = vec
			continue
		}
		missing = append(missing, text)
		missingIdx = append(missingIdx, i)
	}
	if len(missing) == 0 {
		return out, nil
	}

	vectors, err := c.inner.EmbedDocuments(ctx, missing)
	if err != nil {
		return nil, err
	}
	for j, vec := range vectors {
		out[missingIdx[j]] = vec
		c.memo.Add(missing[j], vec)
	}
	return out, nil
}

// Dimension delegates to the wrapped embedder.
func (c *Cached) Dimension() int { return c.inner.Dimension() }

// Version delegates to the wrapped embedder.
func (c *Cached) Version() string { return c.inner.Version() }

var _ Embedder = (*Cached)(nil)
