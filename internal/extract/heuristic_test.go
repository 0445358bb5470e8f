package extract

import (
	"context"
	"testing"

	"github.com/fyrsmithlabs/recalld/internal/memory"
)

func TestHeuristicRelations(t *testing.T) {
	h := NewHeuristic(DefaultConfig())

	tests := []struct {
		name    string
		content string
		want    memory.Relation
		none    bool
	}{
		{
			name:    "uses statement",
			content: "Dashboard uses Next.js 14",
			want:    memory.Relation{Subject: "Dashboard", Predicate: "uses", Object: "Next.js 14"},
		},
		{
			name:    "preference",
			content: "Alice prefers dark roast coffee.",
			want:    memory.Relation{Subject: "Alice", Predicate: "prefers", Object: "dark roast coffee"},
		},
		{
			name:    "works at",
			content: "Bob works at Initech",
			want:    memory.Relation{Subject: "Bob", Predicate: "works_at", Object: "Initech"},
		},
		{
			name:    "lives in",
			content: "Carol lives in Lisbon now",
			want:    memory.Relation{Subject: "Carol", Predicate: "lives_in", Object: "Lisbon now"},
		},
		{
			name:    "dependency",
			content: "The importer depends on the legacy schema",
			want:    memory.Relation{Subject: "importer", Predicate: "needs", Object: "legacy schema"},
		},
		{
			name:    "copula",
			content: "PostgreSQL is the primary database",
			want:    memory.Relation{Subject: "PostgreSQL", Predicate: "is_a", Object: "primary database"},
		},
		{
			name:    "no triple",
			content: "remember to check back later",
			none:    true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := h.Extract(context.Background(), tt.content)
			if err != nil {
				t.Fatalf("Extract() error = %v", err)
			}
			if tt.none {
				if len(res.Relations) != 0 {
					t.Errorf("Extract() relations = %+v, want none", res.Relations)
				}
				return
			}
			if len(res.Relations) == 0 {
				t.Fatalf("Extract() found no relations in %q", tt.content)
			}
			if got := res.Relations[0]; got != tt.want {
				t.Errorf("Extract() relation = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestHeuristicEntities(t *testing.T) {
	h := NewHeuristic(DefaultConfig())

	res, err := h.Extract(context.Background(), "Dashboard uses Next.js 14 with PostgreSQL and the REST API")
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}

	want := map[string]bool{"Dashboard": true, "Next.js": true, "PostgreSQL": true, "REST": true, "API": true}
	if len(res.Entities) != len(want) {
		t.Errorf("Extract() entities = %v, want %d of them", res.Entities, len(want))
	}
	for _, e := range res.Entities {
		if !want[e] {
			t.Errorf("unexpected entity %q in %v", e, res.Entities)
		}
	}
}

func TestHeuristicEntitiesDedupAcrossCase(t *testing.T) {
	h := NewHeuristic(DefaultConfig())

	res, err := h.Extract(context.Background(), "Redis is fast. REDIS is also simple. Redis again.")
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if len(res.Entities) != 1 || res.Entities[0] != "Redis" {
		t.Errorf("Extract() entities = %v, want [Redis] keeping first spelling", res.Entities)
	}
}

func TestHeuristicKeywords(t *testing.T) {
	h := NewHeuristic(DefaultConfig())

	res, err := h.Extract(context.Background(), "The dashboard theme prefers dark mode with high contrast")
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}

	got := map[string]bool{}
	for _, k := range res.Keywords {
		got[k] = true
	}
	for _, want := range []string{"dashboard", "theme", "dark", "mode", "high", "contrast"} {
		if !got[want] {
			t.Errorf("Extract() keywords %v missing %q", res.Keywords, want)
		}
	}
	for _, drop := range []string{"the", "with", "prefers"} {
		if got[drop] {
			t.Errorf("Extract() keywords %v should drop %q", res.Keywords, drop)
		}
	}
}

func TestHeuristicLimits(t *testing.T) {
	h := NewHeuristic(Config{MaxEntities: 2, MaxRelations: 1, MaxKeywords: 3})

	content := "Alpha uses Beta. Gamma uses Delta. Epsilon uses Zeta. " +
		"Planning deployment requires database migration tooling upgrades."
	res, err := h.Extract(context.Background(), content)
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if len(res.Entities) > 2 {
		t.Errorf("entities = %v, want at most 2", res.Entities)
	}
	if len(res.Relations) > 1 {
		t.Errorf("relations = %+v, want at most 1", res.Relations)
	}
	if len(res.Keywords) > 3 {
		t.Errorf("keywords = %v, want at most 3", res.Keywords)
	}
}

func TestHeuristicInvalidRuleSkipped(t *testing.T) {
	h := NewHeuristic(Config{Rules: []RelationRule{
		{Name: "broken", Regex: `([`},
		{Name: "ok", Regex: `(?i)^(.{1,80}?)\s+uses\s+(.{1,80})$`, Predicate: "uses"},
	}})

	res, err := h.Extract(context.Background(), "Dashboard uses Vite")
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if len(res.Relations) != 1 || res.Relations[0].Predicate != "uses" {
		t.Errorf("Extract() relations = %+v, want the valid rule to apply", res.Relations)
	}
}

func TestHeuristicCancelled(t *testing.T) {
	h := NewHeuristic(DefaultConfig())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := h.Extract(ctx, "anything"); err == nil {
		t.Error("Extract() with cancelled context should fail")
	}
}

func TestResultEmpty(t *testing.T) {
	if !(Result{}).Empty() {
		t.Error("zero Result should be Empty")
	}
	if (Result{Keywords: []string{"x"}}).Empty() {
		t.Error("Result with keywords should not be Empty")
	}
}
