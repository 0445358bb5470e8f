package engine

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/recalld/internal/events"
	"github.com/fyrsmithlabs/recalld/internal/memory"
	"github.com/fyrsmithlabs/recalld/internal/vector"
)

// enrichEmbeddingVersion is stamped on records whose vector was
// produced by the current enrichment pipeline. Bump when the embedding
// treatment changes incompatibly.
const enrichEmbeddingVersion = 1

// Backend fetch retry schedule: 4 attempts with waits of 50 ms,
// 200 ms, 800 ms between them. The backend may not see the record the
// instant the add settles.
const (
	enrichRetryInitial    = 50 * time.Millisecond
	enrichRetryMultiplier = 4
	enrichRetryMax        = 3200 * time.Millisecond
	enrichRetries         = 3
)

// enqueue hands a task to the workers without ever blocking the
// caller; pub/sub handlers and sync passes both land here. A full
// queue drops the task, which the pending set will surface again.
func (e *Engine) enqueue(task enrichTask) {
	select {
	case e.queue <- task:
		enrichQueueDepth.Inc()
	default:
		enrichOutcomes.WithLabelValues("overflow").Inc()
		e.logger.Warn("enrichment queue full, dropping",
			zap.String("memory_id", task.id))
	}
}

func (e *Engine) runWorker(ctx context.Context) {
	defer e.workers.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-e.draining:
			return
		case task := <-e.queue:
			enrichQueueDepth.Dec()
			e.enrich(ctx, task)
		}
	}
}

// enrich runs the full post-write pipeline for one memory: fetch the
// authoritative record, decide its cache tier, extract entities and
// relations, embed, re-cache, index keywords, and announce the update.
// Each step past the fetch degrades independently; a record without a
// vector is still a record.
func (e *Engine) enrich(ctx context.Context, task enrichTask) {
	e.pending.remove(task.id)

	m, err := e.fetchForEnrich(ctx, task)
	if err != nil {
		if errors.Is(err, memory.ErrNotFound) {
			// Deleted while queued; clear whatever the add cached.
			e.dropLocal(ctx, task.userID, task.id)
			e.logger.Debug("enrichment target gone", zap.String("memory_id", task.id))
		} else {
			e.logger.Warn("enrichment fetch failed, dropping",
				zap.String("memory_id", task.id),
				zap.Error(err))
		}
		enrichOutcomes.WithLabelValues("dropped").Inc()
		return
	}
	if m.Metadata == nil {
		m.Metadata = memory.Metadata{}
	}

	priority := task.priority
	if priority == "" {
		priority = m.Metadata.Priority()
	}
	access := e.tier.AccessCount(ctx, task.id)
	ttl := e.tier.TTLFor(priority, access)

	xctx, cancelExtract := context.WithTimeout(ctx, e.cfg.ExtractTimeout)
	extracted, err := e.extractor.Extract(xctx, m.Content)
	cancelExtract()
	if err != nil {
		e.logger.Warn("extraction failed", zap.String("memory_id", task.id), zap.Error(err))
	} else if !extracted.Empty() {
		if len(extracted.Entities) > 0 {
			m.Metadata.SetEntities(extracted.Entities)
		}
		if len(extracted.Relations) > 0 {
			m.Metadata.SetRelations(extracted.Relations)
		}
		if len(extracted.Keywords) > 0 {
			m.Metadata.SetKeywords(extracted.Keywords)
		}
		e.graph.Observe(task.id, extracted.Entities, extracted.Relations)
	}

	bctx, cancelEmbed := context.WithTimeout(ctx, e.cfg.EmbedTimeout)
	vec, err := e.embedder.EmbedQuery(bctx, m.Content)
	cancelEmbed()
	if err != nil {
		e.logger.Warn("embedding failed, record kept without vector",
			zap.String("memory_id", task.id),
			zap.String("model", e.embedder.Version()),
			zap.Error(err))
	} else {
		e.vectors.Add(vector.Record{
			ID:        task.id,
			UserID:    task.userID,
			Vector:    vec,
			CreatedAt: m.CreatedAt,
		})
		m.Metadata.SetEmbeddingVersion(enrichEmbeddingVersion)
	}

	now := time.Now().UTC()
	m.UpdatedAt = &now
	if priority != "" {
		m.Metadata.SetPriority(priority)
	}
	if err := e.tier.Put(ctx, m, ttl); err != nil {
		e.logger.Warn("enriched cache write failed", zap.String("memory_id", task.id), zap.Error(err))
	}
	if err := e.keywords.Add(ctx, task.id, m.Content); err != nil {
		e.logger.Warn("keyword indexing failed", zap.String("memory_id", task.id), zap.Error(err))
	}

	e.bus.PublishInvalidation(ctx, events.Invalidation{
		MemoryID: task.id,
		UserID:   task.userID,
		Op:       events.OpUpdate,
		TS:       now,
	})
	// The local search cache is stale regardless of event delivery.
	e.purgeSearchCache(ctx)

	enrichOutcomes.WithLabelValues("enriched").Inc()
	e.logger.Debug("memory enriched",
		zap.String("memory_id", task.id),
		zap.Duration("ttl", ttl),
		zap.Int("entities", len(extracted.Entities)))
}

// fetchForEnrich reads the authoritative record with exponential
// backoff. NotFound is permanent; everything else retries on the fixed
// schedule.
func (e *Engine) fetchForEnrich(ctx context.Context, task enrichTask) (*memory.Memory, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = enrichRetryInitial
	bo.RandomizationFactor = 0
	bo.Multiplier = enrichRetryMultiplier
	bo.MaxInterval = enrichRetryMax

	var m *memory.Memory
	op := func() error {
		var err error
		m, err = e.backend.Get(ctx, task.userID, task.id)
		e.noteRemote(err)
		if err != nil && errors.Is(err, memory.ErrNotFound) {
			return backoff.Permanent(err)
		}
		return err
	}
	err := backoff.Retry(op, backoff.WithMaxRetries(backoff.WithContext(bo, ctx), enrichRetries))
	if err != nil {
		return nil, err
	}
	return m, nil
}
