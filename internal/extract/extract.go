// Package extract pulls entities, relationships, and salient keywords
// out of memory content. The heuristic implementation is pattern-based
// and runs in-process; the Extractor contract leaves room for an
// NLP-backed implementation behind the same interface.
package extract

import (
	"context"
	"strings"
	"unicode"

	"github.com/fyrsmithlabs/recalld/internal/memory"
)

// Result is the enrichment payload attached to memory metadata.
type Result struct {
	Entities  []string          `json:"entities,omitempty"`
	Relations []memory.Relation `json:"relationships,omitempty"`
	Keywords  []string          `json:"keywords,omitempty"`
}

// Empty reports whether extraction found nothing.
func (r Result) Empty() bool {
	return len(r.Entities) == 0 && len(r.Relations) == 0 && len(r.Keywords) == 0
}

// Extractor finds structure in free text.
type Extractor interface {
	Extract(ctx context.Context, content string) (Result, error)
}

// splitSentences breaks content on terminal punctuation and newlines.
// A period splits only before whitespace or end of input, so dotted
// names like "Next.js" stay intact.
func splitSentences(content string) []string {
	var (
		out []string
		cur strings.Builder
	)
	runes := []rune(content)
	for i, r := range runes {
		switch r {
		case '\n', ';':
			out = appendSentence(out, cur.String())
			cur.Reset()
		case '.', '!', '?':
			if i+1 == len(runes) || unicode.IsSpace(runes[i+1]) {
				out = appendSentence(out, cur.String())
				cur.Reset()
			} else {
				cur.WriteRune(r)
			}
		default:
			cur.WriteRune(r)
		}
	}
	return appendSentence(out, cur.String())
}

func appendSentence(out []string, s string) []string {
	if s = strings.TrimSpace(s); s != "" {
		return append(out, s)
	}
	return out
}

// isStopword filters common function words from entities and keywords.
func isStopword(lower string) bool {
	_, ok := stopwords[lower]
	return ok
}

var stopwords = map[string]struct{}{
	"the": {}, "this": {}, "that": {}, "these": {}, "those": {},
	"with": {}, "from": {}, "into": {}, "over": {}, "under": {},
	"about": {}, "after": {}, "before": {}, "between": {}, "through": {},
	"have": {}, "hasn": {}, "been": {}, "being": {}, "were": {}, "was": {},
	"will": {}, "would": {}, "should": {}, "could": {}, "must": {},
	"they": {}, "them": {}, "their": {}, "there": {}, "here": {},
	"when": {}, "where": {}, "which": {}, "while": {}, "what": {},
	"because": {}, "but": {}, "and": {}, "for": {}, "not": {},
	"user": {}, "users": {}, "also": {}, "very": {}, "just": {},
	"then": {}, "than": {}, "some": {}, "such": {}, "each": {},
	"uses": {}, "used": {}, "using": {}, "like": {}, "likes": {},
	"prefer": {}, "prefers": {}, "wants": {}, "needs": {},
}

// titleCase reports whether a token starts with an uppercase letter and
// contains at least one lowercase one. Covers plain names ("Redis"),
// CamelCase ("PostgreSQL"), and dotted names ("Next.js").
func titleCase(tok string) bool {
	runes := []rune(tok)
	if len(runes) < 2 || !unicode.IsUpper(runes[0]) {
		return false
	}
	hasLower := false
	for _, r := range runes[1:] {
		switch {
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsUpper(r), unicode.IsDigit(r), r == '.':
		default:
			return false
		}
	}
	return hasLower
}

// allCaps reports whether a token is an acronym like "API" or "K8S".
// Pure numbers do not count.
func allCaps(tok string) bool {
	runes := []rune(tok)
	if len(runes) < 2 || len(runes) > 6 {
		return false
	}
	letters := 0
	for _, r := range runes {
		switch {
		case unicode.IsUpper(r):
			letters++
		case unicode.IsDigit(r):
		default:
			return false
		}
	}
	return letters > 0
}
