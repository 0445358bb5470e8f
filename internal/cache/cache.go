// Package cache implements the two-tier memory record cache in KV: hot
// entries live at the L1 TTL and are continually re-upped by access,
// warm entries park at the longer L2 TTL. Access counters drive
// promotion; a per-user sorted set orders records by creation time for
// listing.
package cache

import (
	"context"
	"encoding/json"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/recalld/internal/kv"
	"github.com/fyrsmithlabs/recalld/internal/memory"
)

// Tier TTL and promotion defaults.
const (
	DefaultL1TTL                   = 24 * time.Hour
	DefaultL2TTL                   = 7 * 24 * time.Hour
	DefaultFrequentAccessThreshold = 3
	DefaultMaxSize                 = 1000
)

// StatsKey is the hash of engine-wide operation counters.
const StatsKey = "stats:counters"

// Counter fields in StatsKey.
const (
	CounterHits     = "cache_hits"
	CounterMisses   = "cache_misses"
	CounterSearches = "searches"
	CounterAdds     = "adds"
	CounterDeletes  = "deletes"
)

// MemoryKey builds the record key memory:{userId}:{id}.
func MemoryKey(userID, id string) string { return "memory:" + userID + ":" + id }

// AccessKey builds the counter key access:{id}.
func AccessKey(id string) string { return "access:" + id }

// UserIndexKey builds the per-user creation-ordered set memories:{userId}.
func UserIndexKey(userID string) string { return "memories:" + userID }

// SplitMemoryKey recovers (userID, id) from a memory:* key.
func SplitMemoryKey(key string) (userID, id string, ok bool) {
	rest, found := strings.CutPrefix(key, "memory:")
	if !found {
		return "", "", false
	}
	userID, id, found = strings.Cut(rest, ":")
	if !found || userID == "" || id == "" {
		return "", "", false
	}
	return userID, id, true
}

// Config tunes the tier.
type Config struct {
	L1TTL                   time.Duration
	L2TTL                   time.Duration
	FrequentAccessThreshold int
	MaxSize                 int
}

func (c Config) withDefaults() Config {
	if c.L1TTL <= 0 {
		c.L1TTL = DefaultL1TTL
	}
	if c.L2TTL <= 0 {
		c.L2TTL = DefaultL2TTL
	}
	if c.FrequentAccessThreshold <= 0 {
		c.FrequentAccessThreshold = DefaultFrequentAccessThreshold
	}
	if c.MaxSize <= 0 {
		c.MaxSize = DefaultMaxSize
	}
	return c
}

// Tier is the record cache. All failures below the primary read/write
// are recovered locally: counters, promotion, and index upkeep log at
// Warn and never fail the caller's operation.
type Tier struct {
	store  kv.KV
	cfg    Config
	logger *zap.Logger
}

// New creates a tier over store.
func New(store kv.KV, cfg Config, logger *zap.Logger) *Tier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tier{store: store, cfg: cfg.withDefaults(), logger: logger}
}

// L1TTL exposes the configured hot TTL.
func (t *Tier) L1TTL() time.Duration { return t.cfg.L1TTL }

// L2TTL exposes the configured warm TTL.
func (t *Tier) L2TTL() time.Duration { return t.cfg.L2TTL }

// Threshold exposes the configured promotion threshold.
func (t *Tier) Threshold() int { return t.cfg.FrequentAccessThreshold }

// MaxSize exposes the configured optimization bound.
func (t *Tier) MaxSize() int { return t.cfg.MaxSize }

// TTLFor picks the tier for a record: L1 when the priority is hot or the
// record is frequently accessed, L2 otherwise.
func (t *Tier) TTLFor(priority memory.Priority, access int) time.Duration {
	if priority.Hot() || access >= t.cfg.FrequentAccessThreshold {
		return t.cfg.L1TTL
	}
	return t.cfg.L2TTL
}

// Put caches m at ttl and records it in the per-user index. The index
// write is best-effort.
func (t *Tier) Put(ctx context.Context, m *memory.Memory, ttl time.Duration) error {
	raw, err := json.Marshal(m)
	if err != nil {
		return err
	}
	if err := t.store.SetEx(ctx, MemoryKey(m.UserID, m.ID), string(raw), ttl); err != nil {
		return err
	}
	score := float64(m.CreatedAt.UnixMilli())
	if err := t.store.ZAdd(ctx, UserIndexKey(m.UserID), score, m.ID); err != nil {
		t.logger.Warn("user index update failed",
			zap.String("memory_id", m.ID),
			zap.Error(err))
	}
	return nil
}

// Get reads a cached record. Hits increment access:{id}, refresh the
// returned metadata's access count, and may promote the entry to L1.
// Misses and KV failures both read as (nil, false); failures are logged.
func (t *Tier) Get(ctx context.Context, userID, id string) (*memory.Memory, bool) {
	raw, found, err := t.store.Get(ctx, MemoryKey(userID, id))
	if err != nil {
		t.logger.Warn("cache read failed", zap.String("memory_id", id), zap.Error(err))
		return nil, false
	}
	if !found {
		t.count(ctx, CounterMisses)
		missesTotal.Inc()
		return nil, false
	}

	var m memory.Memory
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		t.logger.Warn("cache entry corrupt, dropping", zap.String("memory_id", id), zap.Error(err))
		_ = t.store.Del(ctx, MemoryKey(userID, id))
		return nil, false
	}
	t.count(ctx, CounterHits)
	hitsTotal.Inc()

	access := t.touch(ctx, &m)
	t.maybePromote(ctx, &m, access)
	return &m, true
}

// Peek reads a cached record without counting the access or promoting
// the entry. Result-list rendering uses it so that showing a record
// does not inflate its access counter.
func (t *Tier) Peek(ctx context.Context, userID, id string) (*memory.Memory, bool) {
	raw, found, err := t.store.Get(ctx, MemoryKey(userID, id))
	if err != nil || !found {
		return nil, false
	}
	var m memory.Memory
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil, false
	}
	return &m, true
}

// Touch increments the access counter for m exactly as a cache read
// would, mirroring the fresh count into its metadata. Callers use it
// when a record arrives from outside the cache but the read should
// still count.
func (t *Tier) Touch(ctx context.Context, m *memory.Memory) int {
	return t.touch(ctx, m)
}

// touch increments the access counter and mirrors the fresh count into
// the record's metadata. Returns the counter value (0 on failure).
func (t *Tier) touch(ctx context.Context, m *memory.Memory) int {
	n, err := t.store.Incr(ctx, AccessKey(m.ID))
	if err != nil {
		t.logger.Warn("access counter failed", zap.String("memory_id", m.ID), zap.Error(err))
		return 0
	}
	if m.Metadata == nil {
		m.Metadata = memory.Metadata{}
	}
	m.Metadata.SetAccessCount(int(n))
	return int(n)
}

// maybePromote rewrites a frequently-accessed warm entry at the L1 TTL.
// A TTL above L1 can only have been written at the warm tier.
func (t *Tier) maybePromote(ctx context.Context, m *memory.Memory, access int) {
	if access < t.cfg.FrequentAccessThreshold {
		return
	}
	ttl, err := t.store.TTL(ctx, MemoryKey(m.UserID, m.ID))
	if err != nil || ttl <= t.cfg.L1TTL {
		return
	}
	if err := t.Put(ctx, m, t.cfg.L1TTL); err != nil {
		t.logger.Warn("promotion failed", zap.String("memory_id", m.ID), zap.Error(err))
		return
	}
	promotionsTotal.Inc()
	t.logger.Debug("promoted to hot tier",
		zap.String("memory_id", m.ID),
		zap.Int("access", access))
}

// Remove drops the record, its access counter, and its index entry.
func (t *Tier) Remove(ctx context.Context, userID, id string) error {
	if err := t.store.Del(ctx, MemoryKey(userID, id), AccessKey(id)); err != nil {
		return err
	}
	if err := t.store.ZRem(ctx, UserIndexKey(userID), id); err != nil {
		t.logger.Warn("user index removal failed", zap.String("memory_id", id), zap.Error(err))
	}
	return nil
}

// AccessCount reads access:{id} without incrementing it.
func (t *Tier) AccessCount(ctx context.Context, id string) int {
	raw, found, err := t.store.Get(ctx, AccessKey(id))
	if err != nil || !found {
		return 0
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0
	}
	return n
}

// ListCached returns up to limit cached records for userID ordered
// newest-first, skipping offset entries. Index members whose records
// have expired are pruned as they are encountered. The returned total
// counts live index members before pagination.
func (t *Tier) ListCached(ctx context.Context, userID string, limit, offset int) (memories []*memory.Memory, total int, err error) {
	ids, err := t.store.ZRangeRev(ctx, UserIndexKey(userID), 0, -1)
	if err != nil {
		return nil, 0, err
	}

	live := make([]*memory.Memory, 0, len(ids))
	for _, id := range ids {
		raw, found, err := t.store.Get(ctx, MemoryKey(userID, id))
		if err != nil {
			return nil, 0, err
		}
		if !found {
			// Expired under the index; heal lazily.
			_ = t.store.ZRem(ctx, UserIndexKey(userID), id)
			continue
		}
		var m memory.Memory
		if err := json.Unmarshal([]byte(raw), &m); err != nil {
			_ = t.store.Del(ctx, MemoryKey(userID, id))
			continue
		}
		live = append(live, &m)
	}

	total = len(live)
	if offset >= total {
		return nil, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return live[offset:end], total, nil
}

// AccessStat pairs a memory id with its access counter value.
type AccessStat struct {
	ID    string `json:"id"`
	Count int    `json:"count"`
}

// TopAccessed scans access counters and returns the n highest, ordered
// by count descending across all users.
func (t *Tier) TopAccessed(ctx context.Context, n int) ([]AccessStat, error) {
	keys, err := kv.ScanAll(ctx, t.store, "access:*", 100)
	if err != nil {
		return nil, err
	}

	stats := make([]AccessStat, 0, len(keys))
	for _, key := range keys {
		raw, found, err := t.store.Get(ctx, key)
		if err != nil {
			return stats, err
		}
		if !found {
			continue
		}
		count, err := strconv.Atoi(raw)
		if err != nil {
			continue
		}
		stats = append(stats, AccessStat{ID: strings.TrimPrefix(key, "access:"), Count: count})
	}

	sort.Slice(stats, func(i, j int) bool {
		if stats[i].Count != stats[j].Count {
			return stats[i].Count > stats[j].Count
		}
		return stats[i].ID < stats[j].ID
	})
	if len(stats) > n {
		stats = stats[:n]
	}
	return stats, nil
}

// Usage walks every cached record and reports cached count, summed
// access total, and approximate bytes held.
func (t *Tier) Usage(ctx context.Context) (cached int, accessTotal int64, bytes int64, err error) {
	keys, err := kv.ScanAll(ctx, t.store, "memory:*", 100)
	if err != nil {
		return 0, 0, 0, err
	}
	for _, key := range keys {
		raw, found, err := t.store.Get(ctx, key)
		if err != nil {
			return cached, accessTotal, bytes, err
		}
		if !found {
			continue
		}
		cached++
		bytes += int64(len(raw))
	}

	accessKeys, err := kv.ScanAll(ctx, t.store, "access:*", 100)
	if err != nil {
		return cached, accessTotal, bytes, err
	}
	for _, key := range accessKeys {
		raw, found, err := t.store.Get(ctx, key)
		if err != nil {
			return cached, accessTotal, bytes, err
		}
		if !found {
			continue
		}
		if n, convErr := strconv.ParseInt(raw, 10, 64); convErr == nil {
			accessTotal += n
		}
	}
	return cached, accessTotal, bytes, nil
}

// Count records an operation counter in the stats hash. Best-effort.
func (t *Tier) Count(ctx context.Context, field string) {
	t.count(ctx, field)
}

// Counters returns the stats hash as integers.
func (t *Tier) Counters(ctx context.Context) (map[string]int64, error) {
	fields, err := t.store.HGetAll(ctx, StatsKey)
	if err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(fields))
	for k, v := range fields {
		if n, convErr := strconv.ParseInt(v, 10, 64); convErr == nil {
			out[k] = n
		}
	}
	return out, nil
}

func (t *Tier) count(ctx context.Context, field string) {
	if _, err := t.store.HIncrBy(ctx, StatsKey, field, 1); err != nil {
		t.logger.Debug("stats counter failed", zap.String("field", field), zap.Error(err))
	}
}
