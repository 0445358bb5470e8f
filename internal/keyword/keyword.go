// Package keyword maintains the inverted index of content tokens stored
// in the local KV: kw:{token} sets map a token to the memory ids that
// contain it, and mkw:{id} mirrors each memory's tokens for reverse
// cleanup on delete. Both namespaces expire at the hot-cache TTL, so the
// index self-heals after KV loss and never outlives the cache tier.
package keyword

import (
	"context"
	"strings"
	"time"
	"unicode"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/recalld/internal/kv"
)

const (
	// MinTokenLength drops short function words before indexing.
	MinTokenLength = 4

	// MaxTokensPerMemory caps the distinct tokens indexed per memory.
	MaxTokensPerMemory = 20
)

// KeywordKey returns the posting-set key for a token.
func KeywordKey(token string) string { return "kw:" + token }

// ReverseKey returns the token-mirror key for a memory id.
func ReverseKey(id string) string { return "mkw:" + id }

// Tokenize lowercases s, splits on non-letter/digit runs, drops tokens
// shorter than MinTokenLength, and returns the first
// MaxTokensPerMemory distinct tokens in order of appearance.
func Tokenize(s string) []string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	seen := make(map[string]struct{}, len(fields))
	tokens := make([]string, 0, MaxTokensPerMemory)
	for _, f := range fields {
		if len(f) < MinTokenLength {
			continue
		}
		if _, dup := seen[f]; dup {
			continue
		}
		seen[f] = struct{}{}
		tokens = append(tokens, f)
		if len(tokens) == MaxTokensPerMemory {
			break
		}
	}
	return tokens
}

// Index is the inverted keyword index. KV failures surface to callers,
// which treat them as non-fatal (the cache tier repopulates postings on
// the next enrichment pass).
type Index struct {
	store  kv.KV
	ttl    time.Duration
	logger *zap.Logger
}

// New creates an index whose postings expire after ttl.
func New(store kv.KV, ttl time.Duration, logger *zap.Logger) *Index {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Index{store: store, ttl: ttl, logger: logger}
}

// Add indexes a memory's content, writing each kw:{token} posting and
// the mkw:{id} mirror. Re-indexing the same id is idempotent.
func (ix *Index) Add(ctx context.Context, id, content string) error {
	tokens := Tokenize(content)
	if len(tokens) == 0 {
		return nil
	}

	for _, tok := range tokens {
		key := KeywordKey(tok)
		if err := ix.store.SAdd(ctx, key, id); err != nil {
			return err
		}
		if err := ix.store.Expire(ctx, key, ix.ttl); err != nil {
			return err
		}
	}

	rev := ReverseKey(id)
	if err := ix.store.SAdd(ctx, rev, tokens...); err != nil {
		return err
	}
	return ix.store.Expire(ctx, rev, ix.ttl)
}

// Lookup tokenizes query and returns, for each candidate memory id, how
// many query tokens it is posted under. An empty or all-short query
// returns no candidates.
func (ix *Index) Lookup(ctx context.Context, query string) (map[string]int, error) {
	tokens := Tokenize(query)
	if len(tokens) == 0 {
		return nil, nil
	}

	matches := make(map[string]int)
	for _, tok := range tokens {
		ids, err := ix.store.SMembers(ctx, KeywordKey(tok))
		if err != nil {
			return matches, err
		}
		for _, id := range ids {
			matches[id]++
		}
	}
	return matches, nil
}

// QueryTokenCount reports how many index-eligible tokens query carries.
// The keyword sub-score divides match counts by this.
func QueryTokenCount(query string) int {
	return len(Tokenize(query))
}

// Remove erases every posting for id using the mkw mirror, then drops
// the mirror itself. Removing an unindexed id is a no-op.
func (ix *Index) Remove(ctx context.Context, id string) error {
	rev := ReverseKey(id)
	tokens, err := ix.store.SMembers(ctx, rev)
	if err != nil {
		return err
	}
	for _, tok := range tokens {
		if err := ix.store.SRem(ctx, KeywordKey(tok), id); err != nil {
			return err
		}
	}
	return ix.store.Del(ctx, rev)
}

// Count reports how many distinct tokens currently have postings.
func (ix *Index) Count(ctx context.Context) (int, error) {
	keys, err := kv.ScanAll(ctx, ix.store, "kw:*", 100)
	if err != nil {
		return 0, err
	}
	return len(keys), nil
}
