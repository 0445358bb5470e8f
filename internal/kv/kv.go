// Package kv defines the narrow contract the engine holds over the local
// key-value store, plus a go-redis implementation and an embedded
// miniredis mode for running without external infrastructure.
//
// The engine uses nothing from the local store beyond this interface:
// string values with TTL, counters, sets, hashes, sorted sets, SCAN
// iteration, and pub/sub. Failures are classified into ErrUnavailable
// (connection-level, retryable, triggers cache degradation) and
// ErrOperation (protocol-level).
package kv

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrUnavailable indicates the store cannot be reached. Callers
	// degrade: reads miss, cache writes become best-effort no-ops.
	ErrUnavailable = errors.New("kv unavailable")

	// ErrOperation indicates the store rejected a well-formed request
	// (wrong type, protocol error). Not retryable.
	ErrOperation = errors.New("kv operation failed")
)

// Handler consumes one pub/sub payload. Handlers run on the subscription
// goroutine and must not block; hand off to a channel for slow work.
type Handler func(payload string)

// KV is the complete local-store contract.
//
// TTL reporting follows the Redis convention surfaced by go-redis: a
// negative duration means the key is missing (-2ns) or has no expiry
// (-1ns); positive durations are remaining lifetime.
type KV interface {
	Get(ctx context.Context, key string) (value string, found bool, err error)
	SetEx(ctx context.Context, key, value string, ttl time.Duration) error
	Incr(ctx context.Context, key string) (int64, error)
	Expire(ctx context.Context, key string, ttl time.Duration) error
	TTL(ctx context.Context, key string) (time.Duration, error)
	Del(ctx context.Context, keys ...string) error

	SAdd(ctx context.Context, key string, members ...string) error
	SMembers(ctx context.Context, key string) ([]string, error)
	SRem(ctx context.Context, key string, members ...string) error

	HSet(ctx context.Context, key, field, value string) error
	HGet(ctx context.Context, key, field string) (value string, found bool, err error)
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	HIncrBy(ctx context.Context, key, field string, delta int64) (int64, error)
	HDel(ctx context.Context, key string, fields ...string) error

	ZAdd(ctx context.Context, key string, score float64, member string) error
	ZRangeRev(ctx context.Context, key string, start, stop int64) ([]string, error)
	ZRem(ctx context.Context, key string, members ...string) error

	Scan(ctx context.Context, cursor uint64, match string, count int64) (next uint64, keys []string, err error)

	Publish(ctx context.Context, channel, payload string) error
	Subscribe(ctx context.Context, channel string, handler Handler) error
	Unsubscribe(ctx context.Context, channel string) error

	Close() error
}

// ScanAll drains a SCAN match to completion. Convenience for callers
// that walk whole namespaces (search-cache GC, cache optimization).
func ScanAll(ctx context.Context, store KV, match string, batch int64) ([]string, error) {
	var (
		cursor uint64
		keys   []string
	)
	for {
		if err := ctx.Err(); err != nil {
			return keys, err
		}
		next, page, err := store.Scan(ctx, cursor, match, batch)
		if err != nil {
			return keys, err
		}
		keys = append(keys, page...)
		if next == 0 {
			return keys, nil
		}
		cursor = next
	}
}
