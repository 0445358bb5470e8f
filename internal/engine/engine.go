// Package engine is the orchestrator: it owns the cache tier, the
// keyword and vector indices, the entity graph, the event bus, the job
// queue, and the enrichment workers, and composes them into the public
// memory operations (add, search, get, list, delete, deduplicate,
// optimize).
//
// Degradation contract: the KV layer and the backend are both optional
// at runtime. KV failures bypass caches and indices, backend failures
// serve cache-only results flagged as degraded. Neither is fatal.
package engine

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/recalld/internal/cache"
	"github.com/fyrsmithlabs/recalld/internal/embed"
	"github.com/fyrsmithlabs/recalld/internal/events"
	"github.com/fyrsmithlabs/recalld/internal/extract"
	"github.com/fyrsmithlabs/recalld/internal/graph"
	"github.com/fyrsmithlabs/recalld/internal/jobs"
	"github.com/fyrsmithlabs/recalld/internal/keyword"
	"github.com/fyrsmithlabs/recalld/internal/kv"
	"github.com/fyrsmithlabs/recalld/internal/memory"
	"github.com/fyrsmithlabs/recalld/internal/remote"
	"github.com/fyrsmithlabs/recalld/internal/scrub"
	"github.com/fyrsmithlabs/recalld/internal/vector"
)

// Defaults applied by Config.withDefaults.
const (
	DefaultUserID            = "default"
	DefaultSearchTTL         = 5 * time.Minute
	DefaultEmbedTimeout      = 5 * time.Second
	DefaultExtractTimeout    = 3 * time.Second
	DefaultDedupThreshold    = 0.85
	DefaultEnrichConcurrency = 8
	DefaultEnrichQueueSize   = 256
	DefaultSyncInterval      = 5 * time.Minute
	DefaultSyncBatchSize     = 50
	DefaultPendingMaxAge     = time.Minute
	DefaultListLimit         = 50
)

// drainTimeout bounds how long Stop waits for in-flight enrichment.
const drainTimeout = 5 * time.Second

// Config tunes the engine. Zero values take the defaults above.
type Config struct {
	DefaultUserID   string
	MaxContentBytes int
	DedupThreshold  float64
	SearchTTL       time.Duration

	EmbedTimeout   time.Duration
	ExtractTimeout time.Duration
	JobTimeout     time.Duration

	EnrichConcurrency int
	EnrichQueueSize   int

	SyncInterval  time.Duration
	SyncBatchSize int
	PendingMaxAge time.Duration

	Cache cache.Config
}

func (c Config) withDefaults() Config {
	if c.DefaultUserID == "" {
		c.DefaultUserID = DefaultUserID
	}
	if c.MaxContentBytes <= 0 {
		c.MaxContentBytes = memory.DefaultMaxContentBytes
	}
	if c.DedupThreshold <= 0 {
		c.DedupThreshold = DefaultDedupThreshold
	}
	if c.SearchTTL <= 0 {
		c.SearchTTL = DefaultSearchTTL
	}
	if c.EmbedTimeout <= 0 {
		c.EmbedTimeout = DefaultEmbedTimeout
	}
	if c.ExtractTimeout <= 0 {
		c.ExtractTimeout = DefaultExtractTimeout
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = jobs.DefaultTimeout
	}
	if c.EnrichConcurrency <= 0 {
		c.EnrichConcurrency = DefaultEnrichConcurrency
	}
	if c.EnrichQueueSize <= 0 {
		c.EnrichQueueSize = DefaultEnrichQueueSize
	}
	if c.SyncInterval <= 0 {
		c.SyncInterval = DefaultSyncInterval
	}
	if c.SyncBatchSize <= 0 {
		c.SyncBatchSize = DefaultSyncBatchSize
	}
	if c.PendingMaxAge <= 0 {
		c.PendingMaxAge = DefaultPendingMaxAge
	}
	return c
}

// Engine wires the memory components together. Construct with New,
// start background work with Start, and always pair with Stop.
type Engine struct {
	cfg       Config
	store     kv.KV
	backend   remote.Store
	tier      *cache.Tier
	keywords  *keyword.Index
	vectors   *vector.Index
	graph     *graph.Graph
	bus       *events.Bus
	jobs      *jobs.Queue
	embedder  embed.Embedder
	extractor extract.Extractor
	scrubber  scrub.Scrubber
	logger    *zap.Logger

	pending *pendingSet
	queue   chan enrichTask
	invalCh chan events.Invalidation

	// draining tells workers to exit once no task is in hand; runCtx
	// cancellation is the hard stop after the drain window.
	draining chan struct{}
	workers  sync.WaitGroup
	aux      sync.WaitGroup

	runCtx context.Context
	cancel context.CancelFunc

	started atomic.Bool
	stopp   atomic.Bool

	syncActive     atomic.Bool
	kvDegraded     atomic.Bool
	remoteDegraded atomic.Bool
}

// New builds an engine over its four injected dependencies. The cache
// tier, indices, graph, bus, and job queue are constructed internally
// so their keyspaces and TTLs stay consistent. A nil scrubber disables
// scrubbing; a nil logger discards logs.
func New(cfg Config, store kv.KV, backend remote.Store, embedder embed.Embedder, extractor extract.Extractor, scrubber scrub.Scrubber, logger *zap.Logger) (*Engine, error) {
	if store == nil {
		return nil, errors.New("engine: kv store is required")
	}
	if backend == nil {
		return nil, errors.New("engine: backend store is required")
	}
	if embedder == nil {
		return nil, errors.New("engine: embedder is required")
	}
	if extractor == nil {
		return nil, errors.New("engine: extractor is required")
	}
	if scrubber == nil {
		scrubber = scrub.Noop{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg = cfg.withDefaults()

	tier := cache.New(store, cfg.Cache, logger.Named("cache"))
	runCtx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		cfg:       cfg,
		store:     store,
		backend:   backend,
		tier:      tier,
		keywords:  keyword.New(store, tier.L1TTL(), logger.Named("keyword")),
		vectors:   vector.New(),
		graph:     graph.New(),
		bus:       events.NewBus(store, logger.Named("events")),
		jobs:      jobs.NewQueue(cfg.JobTimeout, logger.Named("jobs")),
		embedder:  embedder,
		extractor: extractor,
		scrubber:  scrubber,
		logger:    logger,
		pending:   newPendingSet(),
		queue:     make(chan enrichTask, cfg.EnrichQueueSize),
		invalCh:   make(chan events.Invalidation, 64),
		draining:  make(chan struct{}),
		runCtx:    runCtx,
		cancel:    cancel,
	}
	return e, nil
}

// Start subscribes to the event channels and launches the enrichment
// workers, the invalidation consumer, the background sync loop, and an
// index rebuild from whatever the cache still holds. Subscription
// failures degrade (in-process paths still work); they do not fail
// Start.
func (e *Engine) Start(ctx context.Context) error {
	if !e.started.CompareAndSwap(false, true) {
		return nil
	}

	if err := e.bus.OnProcess(ctx, e.onProcess); err != nil {
		e.noteKV(err)
		e.logger.Warn("process subscription failed", zap.Error(err))
	}
	if err := e.bus.OnInvalidation(ctx, e.onInvalidation); err != nil {
		e.noteKV(err)
		e.logger.Warn("invalidation subscription failed", zap.Error(err))
	}
	if err := e.bus.OnJobDone(ctx, e.onJobDone); err != nil {
		e.noteKV(err)
		e.logger.Warn("job completion subscription failed", zap.Error(err))
	}

	for i := 0; i < e.cfg.EnrichConcurrency; i++ {
		e.workers.Add(1)
		go e.runWorker(e.runCtx)
	}
	e.aux.Add(1)
	go e.runInvalidations(e.runCtx)
	e.aux.Add(1)
	go e.runSync(e.runCtx)
	e.aux.Add(1)
	go func() {
		defer e.aux.Done()
		e.rebuildIndices(e.runCtx)
	}()

	e.logger.Info("engine started",
		zap.Int("enrich_concurrency", e.cfg.EnrichConcurrency),
		zap.Duration("sync_interval", e.cfg.SyncInterval))
	return nil
}

// Stop drains the enrichment workers (bounded by drainTimeout), then
// tears down subscriptions, background loops, and the job queue. Safe
// to call once whether or not Start ran.
func (e *Engine) Stop(ctx context.Context) error {
	if !e.stopp.CompareAndSwap(false, true) {
		return nil
	}
	_ = e.bus.Close(ctx)

	close(e.draining)
	if !waitTimeout(&e.workers, drainTimeout) {
		e.logger.Warn("enrichment drain timed out", zap.Duration("after", drainTimeout))
	}

	e.cancel()
	e.aux.Wait()
	e.jobs.Close()
	e.logger.Info("engine stopped")
	return nil
}

func waitTimeout(wg *sync.WaitGroup, d time.Duration) bool {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(d):
		return false
	}
}

// Health reports the engine's degradation flags.
type Health struct {
	KVDegraded     bool `json:"kv_degraded"`
	RemoteDegraded bool `json:"remote_degraded"`
}

// Health returns the current degradation flags. Flags flip back as soon
// as the corresponding dependency answers again.
func (e *Engine) Health() Health {
	return Health{
		KVDegraded:     e.kvDegraded.Load(),
		RemoteDegraded: e.remoteDegraded.Load(),
	}
}

// Get returns one memory, cache first. A miss reads the backend,
// counts the access, and repopulates the cache at the tier the access
// history warrants.
func (e *Engine) Get(ctx context.Context, userID, id string) (*memory.Memory, error) {
	userID = e.userOrDefault(userID)
	if err := memory.ValidateID(userID, "user id"); err != nil {
		return nil, err
	}
	if err := memory.ValidateID(id, "memory id"); err != nil {
		return nil, err
	}

	if m, ok := e.tier.Get(ctx, userID, id); ok {
		m.Metadata.SetSource(memory.SourceCache)
		return m, nil
	}

	m, err := e.backend.Get(ctx, userID, id)
	e.noteRemote(err)
	if err != nil {
		return nil, err
	}
	if m.Metadata == nil {
		m.Metadata = memory.Metadata{}
	}
	access := e.tier.Touch(ctx, m)
	if err := e.tier.Put(ctx, m, e.tier.TTLFor(m.Metadata.Priority(), access)); err != nil {
		e.logger.Warn("cache repopulate failed", zap.String("memory_id", id), zap.Error(err))
	}
	m.Metadata.SetSource(memory.SourceRemote)
	return m, nil
}

// ListResult is a page of memories plus where it came from.
type ListResult struct {
	Memories []*memory.Memory
	Total    int
	Source   string
	Degraded bool
}

// GetAll lists memories for a user, newest first. With preferCache the
// cached working set answers directly whenever it holds anything.
// Otherwise the backend is authoritative; when it is unreachable the
// cached working set is served instead and the result is flagged
// degraded.
func (e *Engine) GetAll(ctx context.Context, userID string, limit, offset int, preferCache bool) (*ListResult, error) {
	userID = e.userOrDefault(userID)
	if err := memory.ValidateID(userID, "user id"); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if offset < 0 {
		offset = 0
	}

	if preferCache {
		cms, ctotal, cerr := e.tier.ListCached(ctx, userID, limit, offset)
		if cerr != nil {
			e.noteKV(cerr)
		} else if len(cms) > 0 {
			stampSource(cms, memory.SourceCache)
			return &ListResult{Memories: cms, Total: ctotal, Source: memory.SourceCache}, nil
		}
	}

	ms, total, err := e.backend.List(ctx, userID, limit, offset)
	e.noteRemote(err)
	if err != nil {
		cms, ctotal, cerr := e.tier.ListCached(ctx, userID, limit, offset)
		if cerr != nil {
			e.noteKV(cerr)
			return nil, err
		}
		e.logger.Warn("backend list unavailable, serving cache", zap.Error(err))
		stampSource(cms, memory.SourceCache)
		return &ListResult{Memories: cms, Total: ctotal, Source: memory.SourceCache, Degraded: true}, nil
	}
	stampSource(ms, memory.SourceRemote)
	return &ListResult{Memories: ms, Total: total, Source: memory.SourceRemote}, nil
}

// Delete removes a memory from the backend, then synchronously drops
// every local trace (cached record, counters, index postings, vector,
// graph contribution, cached search results) before returning, and
// finally publishes the invalidation for other consumers.
func (e *Engine) Delete(ctx context.Context, userID, id string) error {
	userID = e.userOrDefault(userID)
	if err := memory.ValidateID(userID, "user id"); err != nil {
		return err
	}
	if err := memory.ValidateID(id, "memory id"); err != nil {
		return err
	}

	err := e.backend.Delete(ctx, userID, id)
	e.noteRemote(err)
	if err != nil {
		return err
	}

	e.dropLocal(ctx, userID, id)
	e.purgeSearchCache(ctx)
	e.bus.PublishInvalidation(ctx, events.Invalidation{
		MemoryID: id,
		UserID:   userID,
		Op:       events.OpDelete,
		TS:       time.Now().UTC(),
	})
	e.tier.Count(ctx, cache.CounterDeletes)
	deletesTotal.Inc()
	e.logger.Info("memory deleted", zap.String("memory_id", id), zap.String("user_id", userID))
	return nil
}

// ResolveOwner finds which user a cached memory belongs to. Used by
// callers that know only the memory id.
func (e *Engine) ResolveOwner(ctx context.Context, id string) (string, bool) {
	keys, err := kv.ScanAll(ctx, e.store, "memory:*:"+id, 100)
	if err != nil {
		e.noteKV(err)
		return "", false
	}
	for _, key := range keys {
		if userID, got, ok := cache.SplitMemoryKey(key); ok && got == id {
			return userID, true
		}
	}
	return "", false
}

// optimizeHotQuota is how many head records of an optimization pass are
// pinned at L1 regardless of access history.
const optimizeHotQuota = 100

// OptimizeResult reports what an optimization pass did.
type OptimizeResult struct {
	Cached  int  `json:"cached"`
	Evicted int  `json:"evicted"`
	Rebuilt bool `json:"rebuilt"`
}

// OptimizeCache pre-warms the cache from the backend: the newest
// records land at L1 up to optimizeHotQuota (frequently accessed or
// hot-priority records qualify regardless of position), the rest at
// L2. forceRefresh drops the cached working set and keyword postings
// first. When the cache ends up over its configured size, cold entries
// are evicted until it fits.
func (e *Engine) OptimizeCache(ctx context.Context, userID string, forceRefresh bool, maxMemories int) (*OptimizeResult, error) {
	userID = e.userOrDefault(userID)
	if err := memory.ValidateID(userID, "user id"); err != nil {
		return nil, err
	}
	if maxMemories <= 0 {
		maxMemories = e.tier.MaxSize()
	}

	if forceRefresh {
		e.dropWorkingSet(ctx)
	}

	records, _, err := e.backend.List(ctx, userID, maxMemories, 0)
	e.noteRemote(err)
	if err != nil {
		return nil, err
	}

	cached := 0
	for i, m := range records {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if m.Metadata == nil {
			m.Metadata = memory.Metadata{}
		}
		access := e.tier.AccessCount(ctx, m.ID)
		ttl := e.tier.L2TTL()
		if i < optimizeHotQuota || access >= e.tier.Threshold() || m.Metadata.Priority().Hot() {
			ttl = e.tier.L1TTL()
		}
		if err := e.tier.Put(ctx, m, ttl); err != nil {
			e.logger.Warn("optimize cache write failed", zap.String("memory_id", m.ID), zap.Error(err))
			continue
		}
		if err := e.keywords.Add(ctx, m.ID, m.Content); err != nil {
			e.logger.Debug("optimize keyword index failed", zap.String("memory_id", m.ID), zap.Error(err))
		}
		cached++
	}

	evicted := e.evictCold(ctx)
	e.purgeSearchCache(ctx)
	e.logger.Info("cache optimized",
		zap.String("user_id", userID),
		zap.Int("cached", cached),
		zap.Int("evicted", evicted),
		zap.Bool("force_refresh", forceRefresh))
	return &OptimizeResult{Cached: cached, Evicted: evicted, Rebuilt: forceRefresh}, nil
}

// dropWorkingSet deletes cached records and keyword postings, keeping
// access counters so promotion history survives a refresh.
func (e *Engine) dropWorkingSet(ctx context.Context) {
	for _, pattern := range []string{"memory:*", keyword.KeywordKey("*"), keyword.ReverseKey("*")} {
		keys, err := kv.ScanAll(ctx, e.store, pattern, 100)
		if err != nil {
			e.noteKV(err)
			return
		}
		if len(keys) == 0 {
			continue
		}
		if err := e.store.Del(ctx, keys...); err != nil {
			e.noteKV(err)
			return
		}
	}
}

// evictCold removes sub-threshold entries while the cache exceeds its
// configured size. Returns how many entries went.
func (e *Engine) evictCold(ctx context.Context) int {
	keys, err := kv.ScanAll(ctx, e.store, "memory:*", 100)
	if err != nil || len(keys) <= e.tier.MaxSize() {
		return 0
	}
	over := len(keys) - e.tier.MaxSize()
	evicted := 0
	for _, key := range keys {
		if evicted >= over || ctx.Err() != nil {
			break
		}
		userID, id, ok := cache.SplitMemoryKey(key)
		if !ok {
			continue
		}
		if e.tier.AccessCount(ctx, id) >= e.tier.Threshold() {
			continue
		}
		if err := e.tier.Remove(ctx, userID, id); err == nil {
			evicted++
		}
	}
	return evicted
}

// Stats is the operational snapshot served by cache_stats and /stats.
type Stats struct {
	Cached             int                `json:"cached"`
	Keywords           int                `json:"keywords"`
	AccessTotal        int64              `json:"access_total"`
	MemoryBytes        int64              `json:"memory_bytes"`
	TopAccessed        []cache.AccessStat `json:"top_accessed,omitempty"`
	VectorRecords      int                `json:"vector_records"`
	GraphEntities      int                `json:"graph_entities"`
	GraphEdges         int                `json:"graph_edges"`
	PendingJobs        int                `json:"pending_jobs"`
	PendingEnrichments int                `json:"pending_enrichments"`
	QueuedEnrichments  int                `json:"queued_enrichments"`
	Counters           map[string]int64   `json:"counters,omitempty"`
	KVDegraded         bool               `json:"kv_degraded"`
	RemoteDegraded     bool               `json:"remote_degraded"`
}

// Stats assembles the snapshot. The cache walk is the only call that
// can fail; index and queue numbers are process-local.
func (e *Engine) Stats(ctx context.Context) (*Stats, error) {
	cached, accessTotal, bytes, err := e.tier.Usage(ctx)
	if err != nil {
		e.noteKV(err)
		return nil, err
	}
	kwCount, err := e.keywords.Count(ctx)
	if err != nil {
		e.logger.Debug("keyword count failed", zap.Error(err))
	}
	top, err := e.tier.TopAccessed(ctx, 10)
	if err != nil {
		e.logger.Debug("top accessed scan failed", zap.Error(err))
	}
	counters, err := e.tier.Counters(ctx)
	if err != nil {
		e.logger.Debug("counter read failed", zap.Error(err))
	}
	ents, edges := e.graph.Size()

	return &Stats{
		Cached:             cached,
		Keywords:           kwCount,
		AccessTotal:        accessTotal,
		MemoryBytes:        bytes,
		TopAccessed:        top,
		VectorRecords:      e.vectors.Len(),
		GraphEntities:      ents,
		GraphEdges:         edges,
		PendingJobs:        e.jobs.Pending(),
		PendingEnrichments: e.pending.len(),
		QueuedEnrichments:  len(e.queue),
		Counters:           counters,
		KVDegraded:         e.kvDegraded.Load(),
		RemoteDegraded:     e.remoteDegraded.Load(),
	}, nil
}

// PendingOperations counts work not yet settled: open jobs plus
// memories awaiting or queued for enrichment.
func (e *Engine) PendingOperations() int {
	return e.jobs.Pending() + e.pending.len() + len(e.queue)
}

// dropLocal removes every local trace of one record.
func (e *Engine) dropLocal(ctx context.Context, userID, id string) {
	if err := e.tier.Remove(ctx, userID, id); err != nil {
		e.noteKV(err)
		e.logger.Warn("cache removal failed", zap.String("memory_id", id), zap.Error(err))
	}
	if err := e.keywords.Remove(ctx, id); err != nil {
		e.logger.Debug("keyword removal failed", zap.String("memory_id", id), zap.Error(err))
	}
	e.vectors.Delete(id)
	e.graph.Forget(id)
	e.pending.remove(id)
}

// purgeSearchCache drops all cached search results. Called on every
// mutation that could change what a search returns.
func (e *Engine) purgeSearchCache(ctx context.Context) {
	keys, err := kv.ScanAll(ctx, e.store, "search:*", 100)
	if err != nil {
		e.noteKV(err)
		e.logger.Warn("search purge scan failed", zap.Error(err))
		return
	}
	if len(keys) == 0 {
		return
	}
	if err := e.store.Del(ctx, keys...); err != nil {
		e.noteKV(err)
		e.logger.Warn("search purge failed", zap.Error(err))
	}
}

// rebuildIndices restores the process-local vector index, graph, and
// keyword postings from the cached working set after a restart. Runs
// in the background; search simply improves as records come back.
func (e *Engine) rebuildIndices(ctx context.Context) {
	keys, err := kv.ScanAll(ctx, e.store, "memory:*", 100)
	if err != nil {
		e.noteKV(err)
		e.logger.Warn("index rebuild scan failed", zap.Error(err))
		return
	}
	rebuilt := 0
	for _, key := range keys {
		if ctx.Err() != nil {
			return
		}
		userID, id, ok := cache.SplitMemoryKey(key)
		if !ok {
			continue
		}
		m, ok := e.tier.Peek(ctx, userID, id)
		if !ok {
			continue
		}
		if m.Metadata != nil {
			e.graph.Observe(id, m.Metadata.Entities(), m.Metadata.Relations())
		}
		ectx, cancel := context.WithTimeout(ctx, e.cfg.EmbedTimeout)
		vec, err := e.embedder.EmbedQuery(ectx, m.Content)
		cancel()
		if err == nil {
			e.vectors.Add(vector.Record{ID: id, UserID: userID, Vector: vec, CreatedAt: m.CreatedAt})
		}
		if err := e.keywords.Add(ctx, id, m.Content); err != nil {
			e.logger.Debug("keyword rebuild failed", zap.String("memory_id", id), zap.Error(err))
		}
		rebuilt++
	}
	if rebuilt > 0 {
		e.logger.Info("indices rebuilt from cache", zap.Int("records", rebuilt))
	}
}

// onProcess routes memory:process messages into the worker queue.
func (e *Engine) onProcess(req events.ProcessRequest) {
	e.enqueue(enrichTask{id: req.MemoryID, userID: req.UserID, priority: req.Priority})
}

// onInvalidation hands the message to the consumer goroutine; pub/sub
// handlers must not block on KV round trips.
func (e *Engine) onInvalidation(inv events.Invalidation) {
	select {
	case e.invalCh <- inv:
	default:
		e.logger.Warn("invalidation backlog full, dropping", zap.String("memory_id", inv.MemoryID))
	}
}

// onJobDone replays job:complete messages into the queue. The producer
// already settled in-process jobs directly, so this is a no-op for
// them; it matters for completions published by another process.
func (e *Engine) onJobDone(done events.JobDone) {
	if done.Failed() {
		e.jobs.Reject(done.JobID, errors.New(done.Error))
		return
	}
	e.jobs.Resolve(done.JobID, done.Result)
}

func (e *Engine) runInvalidations(ctx context.Context) {
	defer e.aux.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case inv := <-e.invalCh:
			e.applyInvalidation(ctx, inv)
		}
	}
}

// applyInvalidation reconciles local state with one invalidation
// event. Deletes always purge. Updates keep cached copies at least as
// new as the event, so an enrichment pass cannot wipe its own write.
// Either way, cached search results are stale and go.
func (e *Engine) applyInvalidation(ctx context.Context, inv events.Invalidation) {
	switch inv.Op {
	case events.OpDelete:
		e.dropLocal(ctx, inv.UserID, inv.MemoryID)
	case events.OpUpdate:
		if m, ok := e.tier.Peek(ctx, inv.UserID, inv.MemoryID); ok {
			ts := m.CreatedAt
			if m.UpdatedAt != nil {
				ts = *m.UpdatedAt
			}
			if ts.Before(inv.TS) {
				if err := e.store.Del(ctx, cache.MemoryKey(inv.UserID, inv.MemoryID)); err != nil {
					e.noteKV(err)
				}
			}
		}
	}
	e.purgeSearchCache(ctx)
}

func (e *Engine) userOrDefault(userID string) string {
	if strings.TrimSpace(userID) == "" {
		return e.cfg.DefaultUserID
	}
	return userID
}

// noteKV tracks cache-layer availability for Health.
func (e *Engine) noteKV(err error) {
	switch {
	case err == nil:
		e.kvDegraded.Store(false)
	case errors.Is(err, kv.ErrUnavailable), errors.Is(err, memory.ErrCacheUnavailable):
		e.kvDegraded.Store(true)
	}
}

// noteRemote tracks backend availability for Health. A NotFound or
// Invalid answer proves the backend is reachable.
func (e *Engine) noteRemote(err error) {
	switch {
	case err == nil, errors.Is(err, memory.ErrNotFound), errors.Is(err, memory.ErrInvalid):
		e.remoteDegraded.Store(false)
	case errors.Is(err, memory.ErrBackendUnavailable), errors.Is(err, memory.ErrTimeout):
		e.remoteDegraded.Store(true)
	}
}

func stampSource(ms []*memory.Memory, source string) {
	for _, m := range ms {
		if m.Metadata == nil {
			m.Metadata = memory.Metadata{}
		}
		m.Metadata.SetSource(source)
	}
}
