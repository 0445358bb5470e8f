package embed

import (
	"context"
	"hash/fnv"
	"strings"
	"unicode"

	"github.com/fyrsmithlabs/recalld/internal/similarity"
)

// DefaultLocalDimension is the hashed vector length for the local
// embedder.
const DefaultLocalDimension = 256

// Local is a deterministic, network-free embedder. Tokens hash into
// fixed buckets, so texts sharing vocabulary land near each other under
// cosine. Good enough for local and demo modes; not a semantic model.
type Local struct {
	dimension int
}

// NewLocal creates a local embedder. dimension <= 0 selects the
// default.
func NewLocal(dimension int) *Local {
	if dimension <= 0 {
		dimension = DefaultLocalDimension
	}
	return &Local{dimension: dimension}
}

// EmbedQuery hashes text into a unit vector.
func (l *Local) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if text == "" {
		return nil, ErrEmptyInput
	}

	vec := make([]float32, l.dimension)
	tokens := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	if len(tokens) == 0 {
		// Degenerate input still embeds deterministically.
		tokens = []string{text}
	}
	for _, tok := range tokens {
		h := fnv.New32a()
		_, _ = h.Write([]byte(tok))
		bucket := int(h.Sum32()) % l.dimension
		if bucket < 0 {
			bucket += l.dimension
		}
		vec[bucket]++
	}
	similarity.Normalize(vec)
	return vec, nil
}

// EmbedDocuments embeds each text independently.
func (l *Local) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, ErrEmptyInput
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := l.EmbedQuery(ctx, text)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

// Dimension returns the vector length.
func (l *Local) Dimension() int { return l.dimension }

// Version identifies the hashing scheme.
func (l *Local) Version() string { return "local:fnv32a-v1" }

var _ Embedder = (*Local)(nil)
