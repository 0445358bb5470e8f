package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/recalld/internal/memory"
)

func rel(s, p, o string) memory.Relation {
	return memory.Relation{Subject: s, Predicate: p, Object: o}
}

func TestGraphObserveAndRelated(t *testing.T) {
	g := New()
	g.Observe("m1", []string{"Alice", "Initech"}, []memory.Relation{rel("Alice", "works_at", "Initech")})
	g.Observe("m2", []string{"Initech", "PostgreSQL"}, []memory.Relation{rel("Initech", "uses", "PostgreSQL")})
	g.Observe("m3", []string{"PostgreSQL", "pgbouncer"}, []memory.Relation{rel("PostgreSQL", "needs", "pgbouncer")})

	t.Run("one hop", func(t *testing.T) {
		assert.Equal(t, []string{"Initech"}, g.Related("alice", 1))
	})

	t.Run("two hops nearest first", func(t *testing.T) {
		assert.Equal(t, []string{"Initech", "PostgreSQL"}, g.Related("Alice", 2))
	})

	t.Run("three hops", func(t *testing.T) {
		assert.Equal(t, []string{"Initech", "PostgreSQL", "pgbouncer"}, g.Related("Alice", 3))
	})

	t.Run("unknown entity", func(t *testing.T) {
		assert.Nil(t, g.Related("nobody", 2))
	})

	t.Run("default depth", func(t *testing.T) {
		assert.Equal(t, g.Related("Alice", DefaultDepth), g.Related("Alice", 0))
	})
}

func TestGraphCycleSafe(t *testing.T) {
	g := New()
	// a -> b -> c -> a forms a cycle.
	g.Observe("m1", nil, []memory.Relation{rel("a", "x", "b")})
	g.Observe("m2", nil, []memory.Relation{rel("b", "x", "c")})
	g.Observe("m3", nil, []memory.Relation{rel("c", "x", "a")})

	// Deep traversal terminates and never revisits the start.
	related := g.Related("a", 10)
	assert.ElementsMatch(t, []string{"b", "c"}, related)
}

func TestGraphMemories(t *testing.T) {
	g := New()
	g.Observe("m2", []string{"Redis"}, nil)
	g.Observe("m1", []string{"Redis", "Dashboard"}, nil)

	assert.Equal(t, []string{"m1", "m2"}, g.Memories("redis"))
	assert.Equal(t, []string{"m1"}, g.Memories("Dashboard"))
	assert.Nil(t, g.Memories("absent"))
}

func TestGraphLookupKeepsFirstSpelling(t *testing.T) {
	g := New()
	g.Observe("m1", []string{"PostgreSQL"}, nil)
	g.Observe("m2", []string{"postgresql"}, nil)

	display, ok := g.Lookup("POSTGRESQL")
	require.True(t, ok)
	assert.Equal(t, "PostgreSQL", display)

	_, ok = g.Lookup("mysql")
	assert.False(t, ok)
}

func TestGraphForget(t *testing.T) {
	g := New()
	g.Observe("m1", []string{"Alice"}, []memory.Relation{rel("Alice", "works_at", "Initech")})
	g.Observe("m2", []string{"Initech"}, nil)

	g.Forget("m1")

	// Alice was only backed by m1 and disappears with it.
	_, ok := g.Lookup("Alice")
	assert.False(t, ok)

	// Initech survives via m2 but loses the edge.
	_, ok = g.Lookup("Initech")
	require.True(t, ok)
	assert.Empty(t, g.Related("Initech", 2))

	entities, edges := g.Size()
	assert.Equal(t, 1, entities)
	assert.Equal(t, 0, edges)
}

func TestGraphReobserveReplaces(t *testing.T) {
	g := New()
	g.Observe("m1", []string{"Alpha", "Beta"}, []memory.Relation{rel("Alpha", "uses", "Beta")})
	g.Observe("m1", []string{"Alpha"}, nil)

	_, ok := g.Lookup("Beta")
	assert.False(t, ok, "replaced observation should drop stale entities")
	assert.Empty(t, g.Related("Alpha", 1))
	assert.Equal(t, []string{"m1"}, g.Memories("Alpha"))
}

func TestGraphSize(t *testing.T) {
	g := New()
	entities, edges := g.Size()
	assert.Zero(t, entities)
	assert.Zero(t, edges)

	g.Observe("m1", []string{"A", "B", "C"}, []memory.Relation{rel("A", "x", "B"), rel("B", "x", "C")})
	entities, edges = g.Size()
	assert.Equal(t, 3, entities)
	assert.Equal(t, 2, edges)
}
