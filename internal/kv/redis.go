package kv

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// DefaultOpTimeout bounds every non-subscription store operation.
const DefaultOpTimeout = 2 * time.Second

// Config controls the Redis-backed KV.
type Config struct {
	// URL is the connection string (redis://host:port/db or host:port).
	// Empty selects embedded mode via NewEmbedded.
	URL string

	// OpTimeout bounds each operation. Defaults to DefaultOpTimeout.
	OpTimeout time.Duration
}

// Redis implements KV over a go-redis client. Safe for concurrent use.
type Redis struct {
	client    *redis.Client
	opTimeout time.Duration
	logger    *zap.Logger

	mu   sync.Mutex
	subs map[string]*redis.PubSub

	// embedded is set when this instance owns an in-process miniredis
	// and must tear it down on Close.
	embedded *miniredis.Miniredis
}

// New connects to the store at cfg.URL and verifies it with a ping.
func New(ctx context.Context, cfg Config, logger *zap.Logger) (*Redis, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("%w: connection URL required", ErrOperation)
	}
	opts, err := parseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrOperation, err)
	}
	return connect(ctx, opts, cfg.OpTimeout, logger, nil)
}

// NewEmbedded boots an in-process miniredis and connects to it. Selected
// when no KV URL is configured; also the test harness backend. The
// returned instance owns the server and stops it on Close.
func NewEmbedded(ctx context.Context, logger *zap.Logger) (*Redis, error) {
	srv, err := miniredis.Run()
	if err != nil {
		return nil, fmt.Errorf("%w: starting embedded store: %v", ErrUnavailable, err)
	}
	r, err := connect(ctx, &redis.Options{Addr: srv.Addr()}, 0, logger, srv)
	if err != nil {
		srv.Close()
		return nil, err
	}
	logger.Info("embedded KV started", zap.String("addr", srv.Addr()))
	return r, nil
}

func connect(ctx context.Context, opts *redis.Options, opTimeout time.Duration, logger *zap.Logger, embedded *miniredis.Miniredis) (*Redis, error) {
	if opTimeout <= 0 {
		opTimeout = DefaultOpTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, classify(err)
	}

	return &Redis{
		client:    client,
		opTimeout: opTimeout,
		logger:    logger,
		subs:      make(map[string]*redis.PubSub),
		embedded:  embedded,
	}, nil
}

// parseURL accepts redis:// URLs and bare host:port addresses.
func parseURL(raw string) (*redis.Options, error) {
	if strings.Contains(raw, "://") {
		return redis.ParseURL(raw)
	}
	return &redis.Options{Addr: raw}, nil
}

func (r *Redis) op(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, r.opTimeout)
}

// classify maps go-redis errors onto the KV taxonomy. redis.Nil is never
// an error at this layer; callers see it as found=false.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	case errors.Is(err, redis.ErrClosed), errors.Is(err, io.EOF):
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	case errors.As(err, &netErr):
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	default:
		return fmt.Errorf("%w: %v", ErrOperation, err)
	}
}

func (r *Redis) Get(ctx context.Context, key string) (string, bool, error) {
	ctx, cancel := r.op(ctx)
	defer cancel()
	val, err := r.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, classify(err)
	}
	return val, true, nil
}

func (r *Redis) SetEx(ctx context.Context, key, value string, ttl time.Duration) error {
	ctx, cancel := r.op(ctx)
	defer cancel()
	return classify(r.client.Set(ctx, key, value, ttl).Err())
}

func (r *Redis) Incr(ctx context.Context, key string) (int64, error) {
	ctx, cancel := r.op(ctx)
	defer cancel()
	n, err := r.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, classify(err)
	}
	return n, nil
}

func (r *Redis) Expire(ctx context.Context, key string, ttl time.Duration) error {
	ctx, cancel := r.op(ctx)
	defer cancel()
	return classify(r.client.Expire(ctx, key, ttl).Err())
}

func (r *Redis) TTL(ctx context.Context, key string) (time.Duration, error) {
	ctx, cancel := r.op(ctx)
	defer cancel()
	d, err := r.client.TTL(ctx, key).Result()
	if err != nil {
		return 0, classify(err)
	}
	return d, nil
}

func (r *Redis) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	ctx, cancel := r.op(ctx)
	defer cancel()
	return classify(r.client.Del(ctx, keys...).Err())
}

func (r *Redis) SAdd(ctx context.Context, key string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	ctx, cancel := r.op(ctx)
	defer cancel()
	return classify(r.client.SAdd(ctx, key, toAny(members)...).Err())
}

func (r *Redis) SMembers(ctx context.Context, key string) ([]string, error) {
	ctx, cancel := r.op(ctx)
	defer cancel()
	members, err := r.client.SMembers(ctx, key).Result()
	if err != nil {
		return nil, classify(err)
	}
	return members, nil
}

func (r *Redis) SRem(ctx context.Context, key string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	ctx, cancel := r.op(ctx)
	defer cancel()
	return classify(r.client.SRem(ctx, key, toAny(members)...).Err())
}

func (r *Redis) HSet(ctx context.Context, key, field, value string) error {
	ctx, cancel := r.op(ctx)
	defer cancel()
	return classify(r.client.HSet(ctx, key, field, value).Err())
}

func (r *Redis) HGet(ctx context.Context, key, field string) (string, bool, error) {
	ctx, cancel := r.op(ctx)
	defer cancel()
	val, err := r.client.HGet(ctx, key, field).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, classify(err)
	}
	return val, true, nil
}

func (r *Redis) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	ctx, cancel := r.op(ctx)
	defer cancel()
	fields, err := r.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, classify(err)
	}
	return fields, nil
}

func (r *Redis) HIncrBy(ctx context.Context, key, field string, delta int64) (int64, error) {
	ctx, cancel := r.op(ctx)
	defer cancel()
	n, err := r.client.HIncrBy(ctx, key, field, delta).Result()
	if err != nil {
		return 0, classify(err)
	}
	return n, nil
}

func (r *Redis) HDel(ctx context.Context, key string, fields ...string) error {
	if len(fields) == 0 {
		return nil
	}
	ctx, cancel := r.op(ctx)
	defer cancel()
	return classify(r.client.HDel(ctx, key, fields...).Err())
}

func (r *Redis) ZAdd(ctx context.Context, key string, score float64, member string) error {
	ctx, cancel := r.op(ctx)
	defer cancel()
	return classify(r.client.ZAdd(ctx, key, redis.Z{Score: score, Member: member}).Err())
}

func (r *Redis) ZRangeRev(ctx context.Context, key string, start, stop int64) ([]string, error) {
	ctx, cancel := r.op(ctx)
	defer cancel()
	members, err := r.client.ZRevRange(ctx, key, start, stop).Result()
	if err != nil {
		return nil, classify(err)
	}
	return members, nil
}

func (r *Redis) ZRem(ctx context.Context, key string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	ctx, cancel := r.op(ctx)
	defer cancel()
	return classify(r.client.ZRem(ctx, key, toAny(members)...).Err())
}

func (r *Redis) Scan(ctx context.Context, cursor uint64, match string, count int64) (uint64, []string, error) {
	ctx, cancel := r.op(ctx)
	defer cancel()
	keys, next, err := r.client.Scan(ctx, cursor, match, count).Result()
	if err != nil {
		return 0, nil, classify(err)
	}
	return next, keys, nil
}

func (r *Redis) Publish(ctx context.Context, channel, payload string) error {
	ctx, cancel := r.op(ctx)
	defer cancel()
	return classify(r.client.Publish(ctx, channel, payload).Err())
}

// Subscribe attaches handler to channel and pumps messages on a
// dedicated goroutine until Unsubscribe or Close. A second Subscribe on
// the same channel replaces the previous handler.
func (r *Redis) Subscribe(ctx context.Context, channel string, handler Handler) error {
	ps := r.client.Subscribe(ctx, channel)

	// Confirm the subscription before handing out messages so callers
	// can rely on delivery after Subscribe returns.
	confirmCtx, cancel := context.WithTimeout(ctx, r.opTimeout)
	defer cancel()
	if _, err := ps.Receive(confirmCtx); err != nil {
		_ = ps.Close()
		return classify(err)
	}

	r.mu.Lock()
	if prev, ok := r.subs[channel]; ok {
		_ = prev.Close()
	}
	r.subs[channel] = ps
	r.mu.Unlock()

	go func() {
		for msg := range ps.Channel() {
			handler(msg.Payload)
		}
	}()
	return nil
}

func (r *Redis) Unsubscribe(_ context.Context, channel string) error {
	r.mu.Lock()
	ps, ok := r.subs[channel]
	delete(r.subs, channel)
	r.mu.Unlock()
	if !ok {
		return nil
	}
	return classify(ps.Close())
}

// Close tears down subscriptions, the client, and the embedded server
// when this instance owns one.
func (r *Redis) Close() error {
	r.mu.Lock()
	subs := r.subs
	r.subs = make(map[string]*redis.PubSub)
	r.mu.Unlock()

	var errs []error
	for _, ps := range subs {
		if err := ps.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := r.client.Close(); err != nil {
		errs = append(errs, err)
	}
	if r.embedded != nil {
		r.embedded.Close()
	}
	return errors.Join(errs...)
}

func toAny(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}
