// Package embed generates content embeddings. The TEI client talks to a
// text-embeddings-inference server; the local embedder hashes tokens
// into a fixed-dimension vector so local and demo modes work with no
// network at all. Cached wraps either with an LRU memo.
package embed

import (
	"context"
	"errors"
)

var (
	// ErrEmptyInput indicates empty or nil input texts.
	ErrEmptyInput = errors.New("empty or nil input texts")

	// ErrInvalidConfig indicates invalid configuration.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrEmbedFailed indicates embedding generation failure. Callers
	// treat it as degradable: the record is kept without a vector.
	ErrEmbedFailed = errors.New("embedding generation failed")
)

// Embedder turns text into vectors of a fixed dimension.
type Embedder interface {
	// EmbedQuery embeds a single text.
	EmbedQuery(ctx context.Context, text string) ([]float32, error)

	// EmbedDocuments embeds a batch, preserving order.
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)

	// Dimension is the length of every produced vector.
	Dimension() int

	// Version identifies the model, recorded per memory so stale
	// vectors can be detected after a model change.
	Version() string
}
