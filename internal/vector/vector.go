// Package vector holds the in-process vector index: L2-normalized
// float32 vectors with top-k cosine search, rebuilt from the cache tier
// on startup and maintained incrementally by enrichment.
package vector

import (
	"sort"
	"sync"
	"time"

	"github.com/fyrsmithlabs/recalld/internal/similarity"
)

// Record is one indexed memory. Vector may be nil when embedding failed
// or has not run yet; such records are skipped by Search but still
// visible to All, so graph traversal sees unembedded memories.
type Record struct {
	ID        string
	UserID    string
	Vector    []float32
	CreatedAt time.Time
	Meta      map[string]string
}

// Hit is one search result.
type Hit struct {
	ID        string
	Score     float64
	CreatedAt time.Time
	Meta      map[string]string
}

// Index is safe for concurrent use: reads share an RLock, writes take
// the exclusive lock.
type Index struct {
	mu      sync.RWMutex
	records map[string]Record
}

// New creates an empty index.
func New() *Index {
	return &Index{records: make(map[string]Record)}
}

// Add inserts or replaces a record, L2-normalizing its vector in place.
func (ix *Index) Add(rec Record) {
	if rec.Vector != nil {
		similarity.Normalize(rec.Vector)
	}
	ix.mu.Lock()
	ix.records[rec.ID] = rec
	ix.mu.Unlock()
}

// Delete removes a record. Unknown ids are a no-op.
func (ix *Index) Delete(id string) {
	ix.mu.Lock()
	delete(ix.records, id)
	ix.mu.Unlock()
}

// Get returns the record for id.
func (ix *Index) Get(id string) (Record, bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	rec, ok := ix.records[id]
	return rec, ok
}

// Len reports how many records the index holds, including vector-less
// ones.
func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.records)
}

// Search returns the top-k records for userID by cosine against the
// (already normalized) query vector. Records without vectors and records
// belonging to other users are skipped. Ties break toward newer records,
// then lexical id, so repeated searches rank identically.
func (ix *Index) Search(userID string, query []float32, k int) []Hit {
	if k <= 0 || len(query) == 0 {
		return nil
	}

	ix.mu.RLock()
	hits := make([]Hit, 0, k)
	for _, rec := range ix.records {
		if rec.UserID != userID || rec.Vector == nil {
			continue
		}
		if len(rec.Vector) != len(query) {
			continue
		}
		hits = append(hits, Hit{
			ID:        rec.ID,
			Score:     similarity.Cosine(query, rec.Vector),
			CreatedAt: rec.CreatedAt,
			Meta:      rec.Meta,
		})
	}
	ix.mu.RUnlock()

	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		if !hits[i].CreatedAt.Equal(hits[j].CreatedAt) {
			return hits[i].CreatedAt.After(hits[j].CreatedAt)
		}
		return hits[i].ID < hits[j].ID
	})
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits
}

// All calls fn for every record until fn returns false. The snapshot is
// taken under the read lock; fn runs without it, so fn may call back
// into the index.
func (ix *Index) All(fn func(Record) bool) {
	ix.mu.RLock()
	snapshot := make([]Record, 0, len(ix.records))
	for _, rec := range ix.records {
		snapshot = append(snapshot, rec)
	}
	ix.mu.RUnlock()

	for _, rec := range snapshot {
		if !fn(rec) {
			return
		}
	}
}
