package mcp

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/recalld/internal/memory"
)

func TestNewMetrics(t *testing.T) {
	m := NewMetrics(zap.NewNop())
	require.NotNil(t, m)
	assert.NotNil(t, m.meter)
	assert.NotNil(t, m.invocations)
	assert.NotNil(t, m.duration)
	assert.NotNil(t, m.errors)
	assert.NotNil(t, m.activeRequests)
}

func TestRecordInvocationDoesNotPanic(t *testing.T) {
	m := NewMetrics(zap.NewNop())
	ctx := context.Background()

	m.IncrementActive(ctx, "add_memory")
	m.RecordInvocation(ctx, "add_memory", 5*time.Millisecond, nil)
	m.RecordInvocation(ctx, "add_memory", 5*time.Millisecond, memory.ErrInvalid)
	m.DecrementActive(ctx, "add_memory")
}

func TestCategorizeError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"invalid", memory.ErrInvalid, "invalid_input"},
		{"wrapped_invalid", fmt.Errorf("add: %w", memory.ErrInvalid), "invalid_input"},
		{"not_found", memory.ErrNotFound, "not_found"},
		{"backend", memory.ErrBackendUnavailable, "backend_unavailable"},
		{"cache", memory.ErrCacheUnavailable, "cache_unavailable"},
		{"timeout", memory.ErrTimeout, "timeout"},
		{"unknown", errors.New("boom"), "internal"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, categorizeError(tt.err))
		})
	}
}
