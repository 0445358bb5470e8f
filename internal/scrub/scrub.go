// Package scrub detects and redacts secrets in memory content before it
// leaves the process for the remote store. Detection is regex-based
// with optional keyword pre-filters; operators can allowlist known-safe
// patterns via a TOML file.
package scrub

import (
	"sort"
	"strings"
	"time"
)

// Scrubber detects and redacts secrets from content.
type Scrubber interface {
	// Scrub redacts secrets from the content.
	Scrub(content string) *Result

	// Check detects secrets without redacting.
	Check(content string) *Result

	// IsEnabled returns whether scrubbing is active.
	IsEnabled() bool
}

// Finding locates one detected secret.
type Finding struct {
	RuleID      string `json:"rule_id"`
	Description string `json:"description"`
	Severity    string `json:"severity"`
	StartIndex  int    `json:"start_index"`
	EndIndex    int    `json:"end_index"`
}

// Result reports what was detected and the redacted content.
type Result struct {
	Original      string
	Scrubbed      string
	Findings      []Finding
	ByRule        map[string]int
	TotalFindings int
	Duration      time.Duration
}

// Clean reports whether nothing was detected.
func (r *Result) Clean() bool { return r.TotalFindings == 0 }

type scrubber struct {
	config *Config
}

// redaction tracks one span to replace.
type redaction struct {
	start, end int
}

// New creates a Scrubber. A nil config selects DefaultConfig.
func New(cfg *Config) (Scrubber, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &scrubber{config: cfg}, nil
}

// Scrub redacts secrets from the content.
func (s *scrubber) Scrub(content string) *Result {
	start := time.Now()
	result := &Result{
		Original: content,
		Scrubbed: content,
		Findings: make([]Finding, 0),
		ByRule:   make(map[string]int),
	}
	if !s.config.Enabled {
		result.Duration = time.Since(start)
		return result
	}

	var spans []redaction
	for _, rule := range s.config.compiledRules {
		if !rule.keywordsPresent(content) {
			continue
		}
		for _, match := range rule.pattern.FindAllStringIndex(content, -1) {
			if s.isAllowed(content[match[0]:match[1]]) {
				continue
			}
			result.Findings = append(result.Findings, Finding{
				RuleID:      rule.ID,
				Description: rule.Description,
				Severity:    rule.Severity,
				StartIndex:  match[0],
				EndIndex:    match[1],
			})
			result.ByRule[rule.ID]++
			spans = append(spans, redaction{start: match[0], end: match[1]})
		}
	}
	result.TotalFindings = len(result.Findings)

	if len(spans) > 0 {
		result.Scrubbed = applyRedactions(content, spans, s.config.RedactionString)
	}
	result.Duration = time.Since(start)
	return result
}

// Check detects without redacting.
func (s *scrubber) Check(content string) *Result {
	result := s.Scrub(content)
	result.Scrubbed = result.Original
	return result
}

// IsEnabled returns whether scrubbing is active.
func (s *scrubber) IsEnabled() bool { return s.config.Enabled }

func (s *scrubber) isAllowed(match string) bool {
	for _, pattern := range s.config.compiledAllowList {
		if pattern.MatchString(match) {
			return true
		}
	}
	return false
}

// applyRedactions merges overlapping spans and replaces them back to
// front so earlier indexes stay valid.
func applyRedactions(content string, spans []redaction, replacement string) string {
	sort.Slice(spans, func(i, j int) bool { return spans[i].start < spans[j].start })

	merged := spans[:1]
	for _, cur := range spans[1:] {
		last := &merged[len(merged)-1]
		if cur.start <= last.end {
			if cur.end > last.end {
				last.end = cur.end
			}
			continue
		}
		merged = append(merged, cur)
	}

	var b strings.Builder
	prev := 0
	for _, span := range merged {
		b.WriteString(content[prev:span.start])
		b.WriteString(replacement)
		prev = span.end
	}
	b.WriteString(content[prev:])
	return b.String()
}

// Noop is a scrubber that passes content through untouched.
type Noop struct{}

// Scrub returns content unchanged.
func (Noop) Scrub(content string) *Result {
	return &Result{
		Original: content,
		Scrubbed: content,
		Findings: make([]Finding, 0),
		ByRule:   make(map[string]int),
	}
}

// Check returns content unchanged.
func (n Noop) Check(content string) *Result { return n.Scrub(content) }

// IsEnabled returns false.
func (Noop) IsEnabled() bool { return false }

var (
	_ Scrubber = (*scrubber)(nil)
	_ Scrubber = Noop{}
)
