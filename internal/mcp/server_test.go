package mcp

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/recalld/internal/embed"
	"github.com/fyrsmithlabs/recalld/internal/engine"
	"github.com/fyrsmithlabs/recalld/internal/extract"
	"github.com/fyrsmithlabs/recalld/internal/kv"
	"github.com/fyrsmithlabs/recalld/internal/remote"
)

// toolEnv runs a server against a real engine over miniredis and the
// in-process backend, so handler tests cover the full stack below the
// transport.
type toolEnv struct {
	srv     *Server
	engine  *engine.Engine
	backend *remote.Local
}

func newToolEnv(t *testing.T, cfg engine.Config) *toolEnv {
	t.Helper()

	mr := miniredis.RunT(t)
	store, err := kv.New(context.Background(), kv.Config{URL: mr.Addr()}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	backend := remote.NewLocal(nil, zap.NewNop())
	eng, err := engine.New(cfg, store, backend,
		embed.NewLocal(32),
		extract.NewHeuristic(extract.DefaultConfig()),
		nil, zap.NewNop())
	require.NoError(t, err)

	srv, err := NewServer(DefaultConfig(), eng)
	require.NoError(t, err)

	return &toolEnv{srv: srv, engine: eng, backend: backend}
}

// textOf unwraps the human-readable outcome line of a tool result.
func textOf(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	require.NotNil(t, res)
	require.NotEmpty(t, res.Content)
	tc, ok := res.Content[0].(*mcp.TextContent)
	require.True(t, ok, "first content item should be text")
	return tc.Text
}

func boolPtr(b bool) *bool { return &b }

func intPtr(n int) *int { return &n }

func TestNewServerRequiresEngine(t *testing.T) {
	_, err := NewServer(DefaultConfig(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "engine is required")
}

func TestNewServerDefaults(t *testing.T) {
	env := newToolEnv(t, engine.Config{})

	assert.NotNil(t, env.srv.mcp)
	assert.NotNil(t, env.srv.metrics)
	assert.NotNil(t, env.srv.logger)
}

func TestNewServerNilConfig(t *testing.T) {
	env := newToolEnv(t, engine.Config{})

	srv, err := NewServer(nil, env.engine)
	require.NoError(t, err)
	assert.NotNil(t, srv.logger)
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "recalld", cfg.Name)
	assert.Equal(t, "dev", cfg.Version)
	assert.NotNil(t, cfg.Logger)
}
