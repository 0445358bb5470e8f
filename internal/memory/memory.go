// Package memory defines the domain types shared by every layer of the
// engine: the Memory record, its metadata bag, priorities, validation
// rules, and the engine-wide error taxonomy.
package memory

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

// DefaultMaxContentBytes bounds memory content length (64 KiB).
const DefaultMaxContentBytes = 64 * 1024

// Priority classifies how aggressively a memory is cached.
type Priority string

const (
	// PriorityLow marks memories cached at the warm tier only.
	PriorityLow Priority = "low"

	// PriorityNormal is the default priority.
	PriorityNormal Priority = "normal"

	// PriorityHigh keeps memories at the hot tier regardless of access.
	PriorityHigh Priority = "high"

	// PriorityCritical behaves like high and is never dropped by cache
	// optimization.
	PriorityCritical Priority = "critical"
)

// ParsePriority normalizes a caller-supplied priority string. The tool
// surface speaks {high, medium, low}; "medium" and the empty string map
// to PriorityNormal. Unknown values are rejected with ErrInvalid.
func ParsePriority(s string) (Priority, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "medium", "normal":
		return PriorityNormal, nil
	case "low":
		return PriorityLow, nil
	case "high":
		return PriorityHigh, nil
	case "critical":
		return PriorityCritical, nil
	default:
		return "", fmt.Errorf("%w: unknown priority %q", ErrInvalid, s)
	}
}

// Hot reports whether the priority pins a memory to the hot (L1) tier.
func (p Priority) Hot() bool {
	return p == PriorityHigh || p == PriorityCritical
}

// Memory is the primary entity. RemoteStore owns the authoritative copy;
// caches and indices hold derived, possibly stale copies keyed by
// (UserID, ID).
type Memory struct {
	// ID is the opaque identifier assigned by the authoritative store.
	ID string `json:"id"`

	// UserID attributes the memory to a user. Identity is (UserID, ID).
	UserID string `json:"user_id"`

	// Content is the natural-language memory text.
	Content string `json:"content"`

	// CreatedAt is assigned by the authoritative store on insert.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt is set when enrichment or an update mutates the record.
	UpdatedAt *time.Time `json:"updated_at,omitempty"`

	// Metadata carries priority, source, tags, access counters and the
	// enrichment outputs (entities, relationships, keywords).
	Metadata Metadata `json:"metadata,omitempty"`
}

// Validate checks the record invariants. Content bounds use
// DefaultMaxContentBytes; callers that admit caller-supplied content
// should validate with ValidateContent before a Memory exists.
func (m *Memory) Validate() error {
	if err := ValidateID(m.ID, "memory ID"); err != nil {
		return err
	}
	if err := ValidateID(m.UserID, "user ID"); err != nil {
		return err
	}
	if err := ValidateContent(m.Content, DefaultMaxContentBytes); err != nil {
		return err
	}
	if m.UpdatedAt != nil && m.UpdatedAt.Before(m.CreatedAt) {
		return fmt.Errorf("%w: updated_at precedes created_at", ErrInvalid)
	}
	return nil
}

// Clone returns a deep copy. Cache and enrichment paths mutate metadata
// on copies so concurrent readers never observe partial writes.
func (m *Memory) Clone() *Memory {
	if m == nil {
		return nil
	}
	out := *m
	if m.UpdatedAt != nil {
		t := *m.UpdatedAt
		out.UpdatedAt = &t
	}
	out.Metadata = m.Metadata.Clone()
	return &out
}

// Age returns how long ago the memory was created, never negative.
func (m *Memory) Age(now time.Time) time.Duration {
	d := now.Sub(m.CreatedAt)
	if d < 0 {
		return 0
	}
	return d
}

// ValidateContent rejects empty, over-size, or non-UTF-8 content.
func ValidateContent(content string, maxBytes int) error {
	if content == "" {
		return fmt.Errorf("%w: content cannot be empty", ErrInvalid)
	}
	if maxBytes > 0 && len(content) > maxBytes {
		return fmt.Errorf("%w: content exceeds %d bytes", ErrInvalid, maxBytes)
	}
	if !utf8.ValidString(content) {
		return fmt.Errorf("%w: content is not valid UTF-8", ErrInvalid)
	}
	return nil
}

// ValidateID rejects identifiers that would corrupt the colon-delimited
// KV key layout or pub/sub payloads: empty strings, whitespace, colons,
// wildcards, and anything over 128 bytes.
func ValidateID(id, field string) error {
	if id == "" {
		return fmt.Errorf("%w: %s cannot be empty", ErrInvalid, field)
	}
	if len(id) > 128 {
		return fmt.Errorf("%w: %s exceeds 128 bytes", ErrInvalid, field)
	}
	if strings.ContainsAny(id, ": \t\n\r*") {
		return fmt.Errorf("%w: %s contains reserved characters", ErrInvalid, field)
	}
	if !utf8.ValidString(id) {
		return fmt.Errorf("%w: %s is not valid UTF-8", ErrInvalid, field)
	}
	return nil
}

// Truncate returns s cut to at most n bytes without splitting a rune.
// Dedup probes search on the first 100 bytes of new content.
func Truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
