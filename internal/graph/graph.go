// Package graph maintains a lightweight knowledge graph over enriched
// memories. Entities and relations live in a string-keyed arena, never
// as object-to-object pointers, so the conceptual cycles between
// entities stay harmless. Traversal is breadth-first with an explicit
// visited set and a depth bound.
package graph

import (
	"sort"
	"strings"
	"sync"

	"github.com/fyrsmithlabs/recalld/internal/memory"
)

// DefaultDepth bounds Related traversals.
const DefaultDepth = 2

type entity struct {
	// display is the first-seen spelling; keys are lowercased.
	display   string
	memories  map[string]struct{}
	neighbors map[string]struct{}
}

// Graph is the entity arena. Safe for concurrent use.
type Graph struct {
	mu       sync.RWMutex
	entities map[string]*entity

	// byMemory tracks which entity keys each memory contributed, for
	// cleanup on delete.
	byMemory map[string][]string
}

// New creates an empty graph.
func New() *Graph {
	return &Graph{
		entities: make(map[string]*entity),
		byMemory: make(map[string][]string),
	}
}

// Observe records one memory's extraction output. Observing the same
// memory again replaces its previous contribution.
func (g *Graph) Observe(memoryID string, entities []string, relations []memory.Relation) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.forgetLocked(memoryID)

	var touched []string
	add := func(name string) string {
		key := strings.ToLower(strings.TrimSpace(name))
		if key == "" {
			return ""
		}
		e, ok := g.entities[key]
		if !ok {
			e = &entity{
				display:   strings.TrimSpace(name),
				memories:  make(map[string]struct{}),
				neighbors: make(map[string]struct{}),
			}
			g.entities[key] = e
		}
		if _, linked := e.memories[memoryID]; !linked {
			e.memories[memoryID] = struct{}{}
			touched = append(touched, key)
		}
		return key
	}

	for _, name := range entities {
		add(name)
	}
	for _, rel := range relations {
		subj := add(rel.Subject)
		obj := add(rel.Object)
		if subj == "" || obj == "" || subj == obj {
			continue
		}
		g.entities[subj].neighbors[obj] = struct{}{}
		g.entities[obj].neighbors[subj] = struct{}{}
	}
	g.byMemory[memoryID] = touched
}

// Forget removes a memory's contribution, dropping entities that no
// longer back any memory.
func (g *Graph) Forget(memoryID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.forgetLocked(memoryID)
}

func (g *Graph) forgetLocked(memoryID string) {
	keys, ok := g.byMemory[memoryID]
	if !ok {
		return
	}
	delete(g.byMemory, memoryID)

	for _, key := range keys {
		e, ok := g.entities[key]
		if !ok {
			continue
		}
		delete(e.memories, memoryID)
		if len(e.memories) > 0 {
			continue
		}
		// Orphaned entity: unlink from every neighbor and drop it.
		for nb := range e.neighbors {
			if other, ok := g.entities[nb]; ok {
				delete(other.neighbors, key)
			}
		}
		delete(g.entities, key)
	}
}

// Related returns entity display names reachable from name within depth
// hops, nearest first, alphabetical within a hop. The start entity is
// excluded. depth <= 0 selects DefaultDepth.
func (g *Graph) Related(name string, depth int) []string {
	if depth <= 0 {
		depth = DefaultDepth
	}
	start := strings.ToLower(strings.TrimSpace(name))

	g.mu.RLock()
	defer g.mu.RUnlock()

	if _, ok := g.entities[start]; !ok {
		return nil
	}

	visited := map[string]struct{}{start: {}}
	frontier := []string{start}
	var out []string

	for hop := 0; hop < depth && len(frontier) > 0; hop++ {
		var next []string
		for _, key := range frontier {
			for nb := range g.entities[key].neighbors {
				if _, seen := visited[nb]; seen {
					continue
				}
				visited[nb] = struct{}{}
				next = append(next, nb)
			}
		}
		sort.Strings(next)
		for _, key := range next {
			out = append(out, g.entities[key].display)
		}
		frontier = next
	}
	return out
}

// Memories returns the ids of memories mentioning name, sorted.
func (g *Graph) Memories(name string) []string {
	key := strings.ToLower(strings.TrimSpace(name))

	g.mu.RLock()
	defer g.mu.RUnlock()

	e, ok := g.entities[key]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(e.memories))
	for id := range e.memories {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Lookup returns the display name for an entity and whether it exists.
func (g *Graph) Lookup(name string) (string, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	e, ok := g.entities[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return "", false
	}
	return e.display, true
}

// Size returns the number of entities and undirected edges.
func (g *Graph) Size() (entities, edges int) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	for _, e := range g.entities {
		edges += len(e.neighbors)
	}
	return len(g.entities), edges / 2
}
