// Package remote is the authoritative memory store boundary. The HTTP
// client talks to a hosted backend behind a circuit breaker; the local
// store keeps everything in-process with best-effort KV persistence so
// the daemon runs with no credentials at all.
package remote

import (
	"context"
	"strings"

	"github.com/fyrsmithlabs/recalld/internal/memory"
)

// Message is one chat turn. The backend receives messages verbatim;
// only duplicate checking flattens them.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// AddRequest carries one add. Exactly one of Content and Messages is
// set; Validate rejects anything else.
type AddRequest struct {
	UserID   string          `json:"user_id"`
	Content  string          `json:"content,omitempty"`
	Messages []Message       `json:"messages,omitempty"`
	Metadata memory.Metadata `json:"metadata,omitempty"`
}

// Validate checks request shape.
func (r AddRequest) Validate() error {
	if r.UserID == "" {
		return memory.ErrInvalid
	}
	hasContent := r.Content != ""
	hasMessages := len(r.Messages) > 0
	if hasContent == hasMessages {
		return memory.ErrInvalid
	}
	return nil
}

// Flatten returns the text a duplicate check should see: the content
// itself, or message contents joined by newlines.
func (r AddRequest) Flatten() string {
	if r.Content != "" {
		return r.Content
	}
	parts := make([]string, 0, len(r.Messages))
	for _, m := range r.Messages {
		if m.Content != "" {
			parts = append(parts, m.Content)
		}
	}
	return strings.Join(parts, "\n")
}

// Store is the authoritative backend contract. Add may return zero,
// one, or several records; the backend is free to split an input.
type Store interface {
	Add(ctx context.Context, req AddRequest) ([]*memory.Memory, error)
	Search(ctx context.Context, userID, query string, limit int) ([]*memory.Memory, error)
	List(ctx context.Context, userID string, limit, offset int) ([]*memory.Memory, int, error)
	Get(ctx context.Context, userID, id string) (*memory.Memory, error)
	Delete(ctx context.Context, userID, id string) error
}
