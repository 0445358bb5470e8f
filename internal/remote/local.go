package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/recalld/internal/kv"
	"github.com/fyrsmithlabs/recalld/internal/memory"
	"github.com/fyrsmithlabs/recalld/internal/similarity"
)

// storeKey builds the persistence hash key store:{userId}.
func storeKey(userID string) string { return "store:" + userID }

// Local is the authoritative store for local and demo modes. Records
// live in process and mirror into a KV hash per user, so a restart
// with the same KV picks up where it left off. KV failures only cost
// persistence, never correctness.
type Local struct {
	store  kv.KV
	logger *zap.Logger

	mu    sync.RWMutex
	users map[string]map[string]*memory.Memory
}

// NewLocal creates a local store. store may be nil for a purely
// in-memory instance.
func NewLocal(store kv.KV, logger *zap.Logger) *Local {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Local{
		store:  store,
		logger: logger,
		users:  make(map[string]map[string]*memory.Memory),
	}
}

// Load restores persisted records from KV. Corrupt entries are skipped.
func (l *Local) Load(ctx context.Context) error {
	if l.store == nil {
		return nil
	}
	keys, err := kv.ScanAll(ctx, l.store, "store:*", 100)
	if err != nil {
		return fmt.Errorf("scanning persisted memories: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	loaded := 0
	for _, key := range keys {
		fields, err := l.store.HGetAll(ctx, key)
		if err != nil {
			return fmt.Errorf("loading %s: %w", key, err)
		}
		userID := strings.TrimPrefix(key, "store:")
		for id, raw := range fields {
			var m memory.Memory
			if err := json.Unmarshal([]byte(raw), &m); err != nil {
				l.logger.Warn("skipping corrupt persisted memory",
					zap.String("user_id", userID),
					zap.String("memory_id", id),
					zap.Error(err))
				continue
			}
			l.putLocked(&m)
			loaded++
		}
	}
	if loaded > 0 {
		l.logger.Info("restored persisted memories", zap.Int("count", loaded))
	}
	return nil
}

// Add creates one record from the request. Message arrays become a
// single record with their contents joined.
func (l *Local) Add(ctx context.Context, req AddRequest) ([]*memory.Memory, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	content := req.Flatten()
	if err := memory.ValidateContent(content, 0); err != nil {
		return nil, err
	}

	m := &memory.Memory{
		ID:        uuid.NewString(),
		UserID:    req.UserID,
		Content:   content,
		CreatedAt: time.Now().UTC(),
		Metadata:  req.Metadata.Clone(),
	}

	l.mu.Lock()
	l.putLocked(m)
	l.mu.Unlock()

	l.persist(ctx, m)
	return []*memory.Memory{m.Clone()}, nil
}

// Search ranks the user's records by token overlap with the query.
func (l *Local) Search(ctx context.Context, userID, query string, limit int) ([]*memory.Memory, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(query) == "" || limit <= 0 {
		return nil, nil
	}

	l.mu.RLock()
	records := l.users[userID]
	ranked := make([]similarity.Ranked, 0, len(records))
	byID := make(map[string]*memory.Memory, len(records))
	for id, m := range records {
		score := similarity.Jaccard(m.Content, query)
		if score == 0 {
			continue
		}
		ranked = append(ranked, similarity.Ranked{ID: id, Score: score, CreatedAt: m.CreatedAt})
		byID[id] = m
	}
	l.mu.RUnlock()

	similarity.SortRanked(ranked)
	if len(ranked) > limit {
		ranked = ranked[:limit]
	}
	out := make([]*memory.Memory, 0, len(ranked))
	for _, r := range ranked {
		out = append(out, byID[r.ID].Clone())
	}
	return out, nil
}

// List returns the user's records newest first with the total count.
func (l *Local) List(ctx context.Context, userID string, limit, offset int) ([]*memory.Memory, int, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}

	l.mu.RLock()
	records := l.users[userID]
	all := make([]*memory.Memory, 0, len(records))
	for _, m := range records {
		all = append(all, m)
	}
	l.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool {
		if !all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].CreatedAt.After(all[j].CreatedAt)
		}
		return all[i].ID < all[j].ID
	})

	total := len(all)
	if offset >= total || limit <= 0 {
		return nil, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	out := make([]*memory.Memory, 0, end-offset)
	for _, m := range all[offset:end] {
		out = append(out, m.Clone())
	}
	return out, total, nil
}

// Get fetches one record.
func (l *Local) Get(ctx context.Context, userID, id string) (*memory.Memory, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l.mu.RLock()
	m, ok := l.users[userID][id]
	l.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", memory.ErrNotFound, id)
	}
	return m.Clone(), nil
}

// Delete removes one record.
func (l *Local) Delete(ctx context.Context, userID, id string) error {
	l.mu.Lock()
	records, ok := l.users[userID]
	if ok {
		_, ok = records[id]
		delete(records, id)
	}
	l.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", memory.ErrNotFound, id)
	}

	if l.store != nil {
		if err := l.store.HDel(ctx, storeKey(userID), id); err != nil {
			l.logger.Warn("unpersisting memory failed", zap.String("memory_id", id), zap.Error(err))
		}
	}
	return nil
}

// Seed loads records directly, assigning ids and timestamps where
// missing. Used to preload demo data.
func (l *Local) Seed(ctx context.Context, records []*memory.Memory) error {
	for _, m := range records {
		if m.UserID == "" || m.Content == "" {
			return fmt.Errorf("%w: seed records need user_id and content", memory.ErrInvalid)
		}
		seeded := m.Clone()
		if seeded.ID == "" {
			seeded.ID = uuid.NewString()
		}
		if seeded.CreatedAt.IsZero() {
			seeded.CreatedAt = time.Now().UTC()
		}

		l.mu.Lock()
		l.putLocked(seeded)
		l.mu.Unlock()

		l.persist(ctx, seeded)
	}
	return nil
}

// Len reports the total record count across users.
func (l *Local) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	n := 0
	for _, records := range l.users {
		n += len(records)
	}
	return n
}

func (l *Local) putLocked(m *memory.Memory) {
	records, ok := l.users[m.UserID]
	if !ok {
		records = make(map[string]*memory.Memory)
		l.users[m.UserID] = records
	}
	records[m.ID] = m
}

func (l *Local) persist(ctx context.Context, m *memory.Memory) {
	if l.store == nil {
		return
	}
	raw, err := json.Marshal(m)
	if err != nil {
		l.logger.Warn("persisting memory failed", zap.String("memory_id", m.ID), zap.Error(err))
		return
	}
	if err := l.store.HSet(ctx, storeKey(m.UserID), m.ID, string(raw)); err != nil {
		l.logger.Warn("persisting memory failed", zap.String("memory_id", m.ID), zap.Error(err))
	}
}

var _ Store = (*Local)(nil)
