package extract

import (
	"context"
	"regexp"
	"strings"
	"unicode"

	"github.com/fyrsmithlabs/recalld/internal/memory"
)

// RelationRule is a pattern that reads a (subject, predicate, object)
// triple out of one sentence. When Predicate is set the regex needs two
// capture groups (subject, object); otherwise three, with the predicate
// in the middle group.
type RelationRule struct {
	Name      string `json:"name"`
	Regex     string `json:"regex"`
	Predicate string `json:"predicate,omitempty"`
}

// compiledRule holds a pre-compiled relation pattern.
type compiledRule struct {
	RelationRule
	regex *regexp.Regexp
}

// Config tunes the heuristic extractor.
type Config struct {
	Rules        []RelationRule `json:"rules,omitempty"`
	MaxEntities  int            `json:"max_entities"`
	MaxRelations int            `json:"max_relations"`
	MaxKeywords  int            `json:"max_keywords"`
}

// DefaultConfig returns the heuristic defaults.
func DefaultConfig() Config {
	return Config{
		Rules:        DefaultRelationRules(),
		MaxEntities:  16,
		MaxRelations: 8,
		MaxKeywords:  10,
	}
}

// DefaultRelationRules returns the built-in triple patterns.
func DefaultRelationRules() []RelationRule {
	return []RelationRule{
		// Usage and preference statements
		{Name: "uses", Regex: `(?i)^(.{1,80}?)\s+(?:is using|uses|used)\s+(.{1,80})$`, Predicate: "uses"},
		{Name: "prefers", Regex: `(?i)^(.{1,80}?)\s+(?:prefers|would prefer|likes|loves)\s+(.{1,80})$`, Predicate: "prefers"},
		{Name: "dislikes", Regex: `(?i)^(.{1,80}?)\s+(?:dislikes|hates|avoids)\s+(.{1,80})$`, Predicate: "dislikes"},
		{Name: "needs", Regex: `(?i)^(.{1,80}?)\s+(?:needs|requires|depends on)\s+(.{1,80})$`, Predicate: "needs"},

		// Biographical statements
		{Name: "works_at", Regex: `(?i)^(.{1,80}?)\s+works\s+(?:at|for)\s+(.{1,80})$`, Predicate: "works_at"},
		{Name: "lives_in", Regex: `(?i)^(.{1,80}?)\s+(?:lives|is based)\s+in\s+(.{1,80})$`, Predicate: "lives_in"},

		// Generic copula, lowest priority so specific verbs win
		{Name: "is_a", Regex: `(?i)^(.{1,80}?)\s+(?:is|are)\s+(?:a|an|the)\s+(.{1,80})$`, Predicate: "is_a"},
	}
}

// Heuristic implements Extractor with pattern matching. Entities come
// from capitalization cues, relations from RelationRules applied per
// sentence, keywords from stopword-filtered content tokens.
type Heuristic struct {
	rules        []*compiledRule
	maxEntities  int
	maxRelations int
	maxKeywords  int
}

// NewHeuristic compiles cfg's rules, skipping any that fail to compile.
func NewHeuristic(cfg Config) *Heuristic {
	rules := cfg.Rules
	if len(rules) == 0 {
		rules = DefaultRelationRules()
	}

	compiled := make([]*compiledRule, 0, len(rules))
	for _, r := range rules {
		re, err := regexp.Compile(r.Regex)
		if err != nil {
			continue
		}
		compiled = append(compiled, &compiledRule{RelationRule: r, regex: re})
	}

	maxEntities := cfg.MaxEntities
	if maxEntities == 0 {
		maxEntities = 16
	}
	maxRelations := cfg.MaxRelations
	if maxRelations == 0 {
		maxRelations = 8
	}
	maxKeywords := cfg.MaxKeywords
	if maxKeywords == 0 {
		maxKeywords = 10
	}

	return &Heuristic{
		rules:        compiled,
		maxEntities:  maxEntities,
		maxRelations: maxRelations,
		maxKeywords:  maxKeywords,
	}
}

// Extract finds entities, relations, and keywords in content.
func (h *Heuristic) Extract(ctx context.Context, content string) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	res := Result{
		Entities: h.entities(content),
		Keywords: h.keywords(content),
	}
	for _, sentence := range splitSentences(content) {
		if len(res.Relations) >= h.maxRelations {
			break
		}
		if rel, ok := h.relation(sentence); ok {
			res.Relations = append(res.Relations, rel)
		}
	}
	return res, nil
}

// relation applies rules in order and returns the first triple found.
func (h *Heuristic) relation(sentence string) (memory.Relation, bool) {
	for _, rule := range h.rules {
		groups := rule.regex.FindStringSubmatch(sentence)
		if groups == nil {
			continue
		}

		var rel memory.Relation
		if rule.Predicate != "" && len(groups) >= 3 {
			rel = memory.Relation{
				Subject:   cleanPhrase(groups[1]),
				Predicate: rule.Predicate,
				Object:    cleanPhrase(groups[2]),
			}
		} else if len(groups) >= 4 {
			rel = memory.Relation{
				Subject:   cleanPhrase(groups[1]),
				Predicate: normalizePredicate(groups[2]),
				Object:    cleanPhrase(groups[3]),
			}
		} else {
			continue
		}
		if rel.Subject == "" || rel.Object == "" {
			continue
		}
		return rel, true
	}
	return memory.Relation{}, false
}

// entities scans for capitalized tokens and acronyms, keeping the first
// spelling seen and folding case for dedup.
func (h *Heuristic) entities(content string) []string {
	var (
		out  []string
		seen = make(map[string]struct{})
	)
	for _, tok := range strings.Fields(content) {
		tok = strings.Trim(tok, `.,:;!?"'()[]{}`)
		if tok == "" || !(titleCase(tok) || allCaps(tok)) {
			continue
		}
		lower := strings.ToLower(tok)
		if isStopword(lower) {
			continue
		}
		if _, dup := seen[lower]; dup {
			continue
		}
		seen[lower] = struct{}{}
		out = append(out, tok)
		if len(out) >= h.maxEntities {
			break
		}
	}
	return out
}

// keywords returns distinct lowercased alphanumeric tokens of length 4+
// with stopwords removed, in order of first appearance.
func (h *Heuristic) keywords(content string) []string {
	var (
		out  []string
		seen = make(map[string]struct{})
	)
	fields := strings.FieldsFunc(strings.ToLower(content), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, tok := range fields {
		if len(tok) < 4 || isStopword(tok) {
			continue
		}
		if _, dup := seen[tok]; dup {
			continue
		}
		seen[tok] = struct{}{}
		out = append(out, tok)
		if len(out) >= h.maxKeywords {
			break
		}
	}
	return out
}

// cleanPhrase trims noise characters and leading articles from a
// captured subject or object.
func cleanPhrase(s string) string {
	s = strings.Trim(strings.TrimSpace(s), `.,:;!?"'()`)
	for _, article := range []string{"the ", "a ", "an ", "The ", "A ", "An "} {
		if strings.HasPrefix(s, article) {
			s = s[len(article):]
			break
		}
	}
	return strings.TrimSpace(s)
}

func normalizePredicate(verb string) string {
	return strings.Join(strings.Fields(strings.ToLower(verb)), "_")
}

var _ Extractor = (*Heuristic)(nil)
