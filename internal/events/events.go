// Package events carries the engine's pub/sub traffic over the KV
// store: cache invalidation, job completion, and enrichment requests.
// Publishes are fire-and-forget; a mutation never blocks on publish
// success. Consumers must be idempotent because messages can be
// replayed and can race the state they describe.
package events

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/recalld/internal/kv"
	"github.com/fyrsmithlabs/recalld/internal/memory"
)

// Pub/sub channel names.
const (
	// ChannelInvalidate carries Invalidation messages. Consumers drop
	// cached records staler than the event and purge search results.
	ChannelInvalidate = "cache:invalidate"

	// ChannelJobDone carries JobDone messages routed to the job queue.
	ChannelJobDone = "job:complete"

	// ChannelProcess carries ProcessRequest messages routed to the
	// enrichment workers.
	ChannelProcess = "memory:process"
)

// Op distinguishes why a record was invalidated.
type Op string

const (
	// OpUpdate marks a record whose content or metadata changed.
	OpUpdate Op = "update"

	// OpDelete marks a record removed from the authoritative store.
	OpDelete Op = "delete"
)

// Invalidation tells consumers a cached record is suspect. TS is the
// mutation time; consumers keep cached copies that are at least as new,
// so an enrichment pass does not wipe out its own cache write.
type Invalidation struct {
	MemoryID string    `json:"memoryId"`
	UserID   string    `json:"userId"`
	Op       Op        `json:"op"`
	TS       time.Time `json:"ts"`
}

// JobDone resolves or rejects a pending job by id. Exactly one of
// Result and Error is meaningful.
type JobDone struct {
	JobID  string          `json:"jobId"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// Failed reports whether the job ended in rejection.
func (d JobDone) Failed() bool { return d.Error != "" }

// ProcessRequest asks the enrichment workers to process one memory.
type ProcessRequest struct {
	MemoryID string          `json:"memoryId"`
	UserID   string          `json:"userId"`
	Priority memory.Priority `json:"priority,omitempty"`
}

// Bus is the typed veneer over the KV pub/sub channels.
type Bus struct {
	store  kv.KV
	logger *zap.Logger
}

// NewBus creates a bus over store.
func NewBus(store kv.KV, logger *zap.Logger) *Bus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bus{store: store, logger: logger}
}

// PublishInvalidation emits inv on ChannelInvalidate. Errors are logged
// and swallowed.
func (b *Bus) PublishInvalidation(ctx context.Context, inv Invalidation) {
	if inv.TS.IsZero() {
		inv.TS = time.Now().UTC()
	}
	b.publish(ctx, ChannelInvalidate, inv)
}

// PublishJobDone emits done on ChannelJobDone. Errors are logged and
// swallowed.
func (b *Bus) PublishJobDone(ctx context.Context, done JobDone) {
	b.publish(ctx, ChannelJobDone, done)
}

// PublishProcess emits req on ChannelProcess. Errors are logged and
// swallowed.
func (b *Bus) PublishProcess(ctx context.Context, req ProcessRequest) {
	b.publish(ctx, ChannelProcess, req)
}

func (b *Bus) publish(ctx context.Context, channel string, msg any) {
	raw, err := json.Marshal(msg)
	if err != nil {
		b.logger.Warn("event marshal failed", zap.String("channel", channel), zap.Error(err))
		return
	}
	if err := b.store.Publish(ctx, channel, string(raw)); err != nil {
		b.logger.Warn("event publish failed", zap.String("channel", channel), zap.Error(err))
	}
}

// OnInvalidation subscribes fn to ChannelInvalidate. fn runs on the
// subscription goroutine and must hand off slow work.
func (b *Bus) OnInvalidation(ctx context.Context, fn func(Invalidation)) error {
	return subscribe(ctx, b, ChannelInvalidate, fn)
}

// OnJobDone subscribes fn to ChannelJobDone.
func (b *Bus) OnJobDone(ctx context.Context, fn func(JobDone)) error {
	return subscribe(ctx, b, ChannelJobDone, fn)
}

// OnProcess subscribes fn to ChannelProcess.
func (b *Bus) OnProcess(ctx context.Context, fn func(ProcessRequest)) error {
	return subscribe(ctx, b, ChannelProcess, fn)
}

// subscribe decodes payloads into T and drops malformed messages.
func subscribe[T any](ctx context.Context, b *Bus, channel string, fn func(T)) error {
	return b.store.Subscribe(ctx, channel, func(payload string) {
		var msg T
		if err := json.Unmarshal([]byte(payload), &msg); err != nil {
			b.logger.Warn("dropping malformed event",
				zap.String("channel", channel),
				zap.Error(err))
			return
		}
		fn(msg)
	})
}

// Close tears down all three subscriptions.
func (b *Bus) Close(ctx context.Context) error {
	var firstErr error
	for _, ch := range []string{ChannelInvalidate, ChannelJobDone, ChannelProcess} {
		if err := b.store.Unsubscribe(ctx, ch); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
