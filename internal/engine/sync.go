package engine

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/recalld/internal/cache"
	"github.com/fyrsmithlabs/recalld/internal/kv"
	"github.com/fyrsmithlabs/recalld/internal/memory"
)

func (e *Engine) runSync(ctx context.Context) {
	defer e.aux.Done()
	ticker := time.NewTicker(e.cfg.SyncInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.syncPass(ctx)
		}
	}
}

// syncPass reconciles cache and backend: refresh the hottest records,
// requeue enrichments that never ran, and collect cached search lists
// whose TTL is gone. Passes never overlap; a slow pass skips ticks
// instead of stacking.
func (e *Engine) syncPass(ctx context.Context) {
	if !e.syncActive.CompareAndSwap(false, true) {
		return
	}
	defer e.syncActive.Store(false)

	started := time.Now()
	refreshed := e.refreshHot(ctx)
	requeued := e.requeueStalePending()
	collected := e.collectExpiredSearches(ctx)

	if refreshed+requeued+collected > 0 {
		e.logger.Debug("sync pass complete",
			zap.Int("refreshed", refreshed),
			zap.Int("requeued", requeued),
			zap.Int("collected", collected),
			zap.Duration("took", time.Since(started)))
	}
}

// refreshHot re-reads the most-accessed cached records from the
// backend so hot data never drifts a full TTL from authority. A
// record the backend no longer has is purged locally.
func (e *Engine) refreshHot(ctx context.Context) int {
	top, err := e.tier.TopAccessed(ctx, e.cfg.SyncBatchSize)
	if err != nil {
		e.noteKV(err)
		return 0
	}
	if len(top) == 0 {
		return 0
	}
	owners := e.cachedOwners(ctx)

	refreshed := 0
	for _, stat := range top {
		if ctx.Err() != nil {
			return refreshed
		}
		userID, ok := owners[stat.ID]
		if !ok {
			continue
		}
		m, err := e.backend.Get(ctx, userID, stat.ID)
		e.noteRemote(err)
		switch {
		case errors.Is(err, memory.ErrNotFound):
			e.dropLocal(ctx, userID, stat.ID)
			e.purgeSearchCache(ctx)
		case errors.Is(err, memory.ErrBackendUnavailable), errors.Is(err, memory.ErrTimeout):
			// Backend is down; the rest of the batch would fail too.
			return refreshed
		case err != nil:
			e.logger.Debug("hot refresh skipped", zap.String("memory_id", stat.ID), zap.Error(err))
		default:
			if m.Metadata == nil {
				m.Metadata = memory.Metadata{}
			}
			if err := e.tier.Put(ctx, m, e.tier.L1TTL()); err == nil {
				refreshed++
			}
		}
	}
	return refreshed
}

// requeueStalePending resubmits enrichments whose kickoff was lost.
func (e *Engine) requeueStalePending() int {
	tasks := e.pending.stale(e.cfg.PendingMaxAge)
	for _, task := range tasks {
		enrichOutcomes.WithLabelValues("requeued").Inc()
		e.enqueue(task)
	}
	return len(tasks)
}

// collectExpiredSearches removes cached search lists that lost their
// TTL (for example, written through a replica that dropped the expiry).
func (e *Engine) collectExpiredSearches(ctx context.Context) int {
	keys, err := kv.ScanAll(ctx, e.store, "search:*", 100)
	if err != nil {
		e.noteKV(err)
		return 0
	}
	collected := 0
	for _, key := range keys {
		if ctx.Err() != nil {
			return collected
		}
		ttl, err := e.store.TTL(ctx, key)
		if err != nil {
			continue
		}
		if ttl < 0 {
			if err := e.store.Del(ctx, key); err == nil {
				collected++
			}
		}
	}
	return collected
}

// cachedOwners maps cached memory ids to their owning user.
func (e *Engine) cachedOwners(ctx context.Context) map[string]string {
	keys, err := kv.ScanAll(ctx, e.store, "memory:*", 100)
	if err != nil {
		e.noteKV(err)
		return nil
	}
	owners := make(map[string]string, len(keys))
	for _, key := range keys {
		if userID, id, ok := cache.SplitMemoryKey(key); ok {
			owners[id] = userID
		}
	}
	return owners
}
