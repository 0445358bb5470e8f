package engine

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fyrsmithlabs/recalld/internal/cache"
	"github.com/fyrsmithlabs/recalld/internal/graph"
	"github.com/fyrsmithlabs/recalld/internal/keyword"
	"github.com/fyrsmithlabs/recalld/internal/memory"
	"github.com/fyrsmithlabs/recalld/internal/similarity"
)

// DefaultSearchLimit applies when a caller passes no limit.
const DefaultSearchLimit = 10

// SearchRequest is one search operation.
type SearchRequest struct {
	UserID string
	Query  string
	Limit  int

	// PreferCache serves a previously cached result list for the same
	// (query, limit) when one exists.
	PreferCache bool
}

// SearchResult is a ranked result list. Scores aligns with Memories.
type SearchResult struct {
	Memories  []*memory.Memory
	Scores    []float64
	Degraded  bool
	FromCache bool
}

// SearchKey builds the result cache key for a query. The query is
// hashed, not embedded in the key, so arbitrary text cannot mangle the
// keyspace.
func SearchKey(query string, limit int) string {
	sum := sha1.Sum([]byte(query))
	return "search:" + hex.EncodeToString(sum[:]) + ":" + strconv.Itoa(limit)
}

// cachedHit is one entry of a cached result list. Only identity and
// score are stored; records resolve through the cache at read time, so
// an entry never outlives the record it points to.
type cachedHit struct {
	ID    string  `json:"id"`
	Score float64 `json:"score"`
}

// Search runs hybrid retrieval: vector, keyword, and backend
// candidates merged and ranked by the weighted score. An empty query
// or non-positive limit returns an empty result. Backend failure
// degrades to local candidates and flags the result.
func (e *Engine) Search(ctx context.Context, req SearchRequest) (*SearchResult, error) {
	userID := e.userOrDefault(req.UserID)
	if err := memory.ValidateID(userID, "user id"); err != nil {
		return nil, err
	}
	query := strings.TrimSpace(req.Query)
	limit := req.Limit
	if query == "" || limit <= 0 {
		return &SearchResult{}, nil
	}

	timer := time.Now()
	defer func() {
		searchDuration.Observe(time.Since(timer).Seconds())
	}()
	e.tier.Count(ctx, cache.CounterSearches)

	key := SearchKey(query, limit)
	if req.PreferCache {
		if res, ok := e.readSearchCache(ctx, userID, key); ok {
			searchesTotal.WithLabelValues("cache").Inc()
			return res, nil
		}
	}

	res, err := e.rank(ctx, userID, query, limit)
	if err != nil {
		return nil, err
	}
	e.writeSearchCache(ctx, key, res)
	if res.Degraded {
		searchesTotal.WithLabelValues("degraded").Inc()
	} else {
		searchesTotal.WithLabelValues("ranked").Inc()
	}
	return res, nil
}

// rank gathers candidates and scores them. Quotas: up to 2*limit ids
// from the vector index, up to limit/2 more from keyword postings when
// vectors came up short, and the backend fills whatever quota remains.
// Candidates that cannot be materialized from cache or backend payload
// are dropped.
func (e *Engine) rank(ctx context.Context, userID, query string, limit int) (*SearchResult, error) {
	now := time.Now().UTC()

	type candidate struct {
		m      *memory.Memory
		scores similarity.Scores
		source string
	}
	cands := make(map[string]*candidate)
	ensure := func(id string) *candidate {
		c, ok := cands[id]
		if !ok {
			c = &candidate{}
			cands[id] = c
		}
		return c
	}

	// Query embedding and entity extraction are independent; run them
	// together. Both degrade to absence on failure.
	var (
		qvec  []float32
		qEnts []string
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		ectx, cancel := context.WithTimeout(gctx, e.cfg.EmbedTimeout)
		defer cancel()
		v, err := e.embedder.EmbedQuery(ectx, query)
		if err != nil {
			e.logger.Debug("query embedding unavailable", zap.Error(err))
			return nil
		}
		qvec = v
		return nil
	})
	g.Go(func() error {
		xctx, cancel := context.WithTimeout(gctx, e.cfg.ExtractTimeout)
		defer cancel()
		res, err := e.extractor.Extract(xctx, query)
		if err != nil {
			e.logger.Debug("query extraction unavailable", zap.Error(err))
			return nil
		}
		qEnts = res.Entities
		return nil
	})
	_ = g.Wait()

	if qvec != nil {
		for _, hit := range e.vectors.Search(userID, qvec, 2*limit) {
			ensure(hit.ID).scores.Semantic = similarity.Unit(hit.Score)
		}
	}

	// Keyword postings score every candidate; they also nominate new
	// ones when the vector pass came up short.
	matches, err := e.keywords.Lookup(ctx, query)
	if err != nil {
		e.noteKV(err)
		e.logger.Debug("keyword lookup unavailable", zap.Error(err))
		matches = nil
	}
	qTokens := keyword.QueryTokenCount(query)
	if len(cands) < limit && len(matches) > 0 {
		quota := limit / 2
		for _, id := range idsByMatches(matches) {
			if quota <= 0 {
				break
			}
			if _, ok := cands[id]; ok {
				continue
			}
			ensure(id)
			quota--
		}
	}

	degraded := false
	if remaining := limit - len(cands); remaining > 0 {
		backendHits, rerr := e.backend.Search(ctx, userID, query, remaining)
		e.noteRemote(rerr)
		if rerr != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			degraded = true
			e.logger.Warn("backend search unavailable, serving local candidates", zap.Error(rerr))
		}
		for _, m := range backendHits {
			c := ensure(m.ID)
			if c.m == nil {
				c.m = m
				c.source = memory.SourceRemote
			}
		}
	}

	queryEnts := e.expandQueryEntities(qEnts)
	ranked := make([]similarity.Ranked, 0, len(cands))
	for id, c := range cands {
		if c.m == nil {
			m, ok := e.tier.Peek(ctx, userID, id)
			if !ok {
				continue
			}
			c.m = m
			c.source = memory.SourceCache
		}
		if c.m.Metadata == nil {
			c.m.Metadata = memory.Metadata{}
		}
		c.scores.Keyword = keywordScore(matches[id], qTokens)
		c.scores.Entity = similarity.EntityOverlap(entityOverlap(c.m.Metadata.Entities(), queryEnts))
		c.scores.Recency = similarity.Recency(c.m.Age(now))
		c.scores.Frequency = similarity.Frequency(e.tier.AccessCount(ctx, id))
		ranked = append(ranked, similarity.Ranked{
			ID:        id,
			Score:     similarity.Combine(c.scores),
			CreatedAt: c.m.CreatedAt,
		})
	}
	similarity.SortRanked(ranked)
	if len(ranked) > limit {
		ranked = ranked[:limit]
	}

	out := &SearchResult{Degraded: degraded}
	for _, r := range ranked {
		c := cands[r.ID]
		c.m.Metadata.SetSource(c.source)
		out.Memories = append(out.Memories, c.m)
		out.Scores = append(out.Scores, r.Score)
	}
	return out, nil
}

// readSearchCache resolves a cached result list. Entries whose records
// expired are skipped; a list that resolves to nothing is treated as a
// miss so the search recomputes.
func (e *Engine) readSearchCache(ctx context.Context, userID, key string) (*SearchResult, bool) {
	raw, found, err := e.store.Get(ctx, key)
	if err != nil {
		e.noteKV(err)
		return nil, false
	}
	if !found {
		return nil, false
	}
	var hits []cachedHit
	if err := json.Unmarshal([]byte(raw), &hits); err != nil {
		_ = e.store.Del(ctx, key)
		return nil, false
	}

	out := &SearchResult{FromCache: true}
	for _, h := range hits {
		m, ok := e.tier.Peek(ctx, userID, h.ID)
		if !ok {
			continue
		}
		if m.Metadata == nil {
			m.Metadata = memory.Metadata{}
		}
		m.Metadata.SetSource(memory.SourceCache)
		out.Memories = append(out.Memories, m)
		out.Scores = append(out.Scores, h.Score)
	}
	if len(out.Memories) == 0 && len(hits) > 0 {
		return nil, false
	}
	return out, true
}

// writeSearchCache stores the result list at the search TTL. Best
// effort.
func (e *Engine) writeSearchCache(ctx context.Context, key string, res *SearchResult) {
	hits := make([]cachedHit, len(res.Memories))
	for i, m := range res.Memories {
		hits[i] = cachedHit{ID: m.ID, Score: res.Scores[i]}
	}
	raw, err := json.Marshal(hits)
	if err != nil {
		return
	}
	if err := e.store.SetEx(ctx, key, string(raw), e.cfg.SearchTTL); err != nil {
		e.noteKV(err)
		e.logger.Debug("search cache write failed", zap.Error(err))
	}
}

// expandQueryEntities widens the query's entities with their graph
// neighborhood, lowercased for overlap matching.
func (e *Engine) expandQueryEntities(ents []string) map[string]struct{} {
	if len(ents) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(ents)*3)
	for _, ent := range ents {
		set[strings.ToLower(ent)] = struct{}{}
		for _, rel := range e.graph.Related(ent, graph.DefaultDepth) {
			set[strings.ToLower(rel)] = struct{}{}
		}
	}
	return set
}

func entityOverlap(entities []string, queryEnts map[string]struct{}) int {
	if len(queryEnts) == 0 {
		return 0
	}
	overlap := 0
	for _, ent := range entities {
		if _, ok := queryEnts[strings.ToLower(ent)]; ok {
			overlap++
		}
	}
	return overlap
}

// keywordScore is the fraction of query tokens matching the record.
func keywordScore(matched, queryTokens int) float64 {
	if queryTokens <= 0 || matched <= 0 {
		return 0
	}
	score := float64(matched) / float64(queryTokens)
	if score > 1 {
		score = 1
	}
	return score
}

// idsByMatches orders posting hits by match count descending, id
// ascending for determinism.
func idsByMatches(matches map[string]int) []string {
	ids := make([]string, 0, len(matches))
	for id := range matches {
		ids = append(ids, id)
	}
	ranked := make([]similarity.Ranked, len(ids))
	for i, id := range ids {
		ranked[i] = similarity.Ranked{ID: id, Score: float64(matches[id])}
	}
	similarity.SortRanked(ranked)
	for i, r := range ranked {
		ids[i] = r.ID
	}
	return ids
}
