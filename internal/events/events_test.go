package events

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/recalld/internal/kv"
	"github.com/fyrsmithlabs/recalld/internal/memory"
)

func newTestBus(t *testing.T) (*Bus, kv.KV) {
	t.Helper()
	srv := miniredis.RunT(t)
	store, err := kv.New(context.Background(), kv.Config{URL: srv.Addr()}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return NewBus(store, zap.NewNop()), store
}

func waitFor[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		panic("unreachable")
	}
}

func TestBusInvalidationRoundTrip(t *testing.T) {
	bus, _ := newTestBus(t)
	ctx := context.Background()

	got := make(chan Invalidation, 1)
	require.NoError(t, bus.OnInvalidation(ctx, func(inv Invalidation) { got <- inv }))

	sent := Invalidation{
		MemoryID: "m1",
		UserID:   "alice",
		Op:       OpDelete,
		TS:       time.Now().UTC().Truncate(time.Millisecond),
	}
	bus.PublishInvalidation(ctx, sent)

	inv := waitFor(t, got)
	assert.Equal(t, sent.MemoryID, inv.MemoryID)
	assert.Equal(t, sent.UserID, inv.UserID)
	assert.Equal(t, OpDelete, inv.Op)
	assert.True(t, sent.TS.Equal(inv.TS))
}

func TestBusInvalidationStampsTimestamp(t *testing.T) {
	bus, _ := newTestBus(t)
	ctx := context.Background()

	got := make(chan Invalidation, 1)
	require.NoError(t, bus.OnInvalidation(ctx, func(inv Invalidation) { got <- inv }))

	before := time.Now().UTC()
	bus.PublishInvalidation(ctx, Invalidation{MemoryID: "m1", UserID: "alice", Op: OpUpdate})

	inv := waitFor(t, got)
	assert.False(t, inv.TS.IsZero())
	assert.False(t, inv.TS.Before(before.Truncate(time.Second)))
}

func TestBusJobDoneRoundTrip(t *testing.T) {
	bus, _ := newTestBus(t)
	ctx := context.Background()

	got := make(chan JobDone, 1)
	require.NoError(t, bus.OnJobDone(ctx, func(d JobDone) { got <- d }))

	bus.PublishJobDone(ctx, JobDone{JobID: "abc123", Result: []byte(`{"id":"m1"}`)})
	done := waitFor(t, got)
	assert.Equal(t, "abc123", done.JobID)
	assert.JSONEq(t, `{"id":"m1"}`, string(done.Result))
	assert.False(t, done.Failed())

	bus.PublishJobDone(ctx, JobDone{JobID: "def456", Error: "backend unavailable"})
	failed := waitFor(t, got)
	assert.True(t, failed.Failed())
}

func TestBusProcessRoundTrip(t *testing.T) {
	bus, _ := newTestBus(t)
	ctx := context.Background()

	got := make(chan ProcessRequest, 1)
	require.NoError(t, bus.OnProcess(ctx, func(r ProcessRequest) { got <- r }))

	bus.PublishProcess(ctx, ProcessRequest{MemoryID: "m1", UserID: "alice", Priority: memory.PriorityHigh})
	req := waitFor(t, got)
	assert.Equal(t, "m1", req.MemoryID)
	assert.Equal(t, "alice", req.UserID)
	assert.Equal(t, memory.PriorityHigh, req.Priority)
}

func TestBusDropsMalformedPayloads(t *testing.T) {
	bus, store := newTestBus(t)
	ctx := context.Background()

	got := make(chan Invalidation, 1)
	require.NoError(t, bus.OnInvalidation(ctx, func(inv Invalidation) { got <- inv }))

	require.NoError(t, store.Publish(ctx, ChannelInvalidate, "{not json"))
	bus.PublishInvalidation(ctx, Invalidation{MemoryID: "good", UserID: "alice", Op: OpUpdate})

	// Only the well-formed message arrives.
	inv := waitFor(t, got)
	assert.Equal(t, "good", inv.MemoryID)
	select {
	case extra := <-got:
		t.Fatalf("unexpected extra event: %+v", extra)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestBusCloseStopsDelivery(t *testing.T) {
	bus, _ := newTestBus(t)
	ctx := context.Background()

	got := make(chan Invalidation, 1)
	require.NoError(t, bus.OnInvalidation(ctx, func(inv Invalidation) { got <- inv }))
	require.NoError(t, bus.Close(ctx))

	bus.PublishInvalidation(ctx, Invalidation{MemoryID: "m1", UserID: "alice", Op: OpUpdate})
	select {
	case inv := <-got:
		t.Fatalf("event delivered after close: %+v", inv)
	case <-time.After(200 * time.Millisecond):
	}
}
