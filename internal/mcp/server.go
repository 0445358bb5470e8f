package mcp

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/recalld/internal/engine"
)

// Server is the MCP tool server. It owns no state of its own; every
// tool call goes straight to the engine.
type Server struct {
	mcp     *mcp.Server
	engine  *engine.Engine
	metrics *Metrics
	logger  *zap.Logger
}

// Config configures the MCP server.
type Config struct {
	// Name is the server implementation name (default: "recalld").
	Name string

	// Version is the server version (default: "dev").
	Version string

	// Logger for structured logging
	Logger *zap.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Name:    "recalld",
		Version: "dev",
		Logger:  zap.NewNop(),
	}
}

// NewServer creates a new MCP server backed by the given engine.
func NewServer(cfg *Config, eng *engine.Engine) (*Server, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if eng == nil {
		return nil, fmt.Errorf("engine is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	name := cfg.Name
	if name == "" {
		name = "recalld"
	}
	version := cfg.Version
	if version == "" {
		version = "dev"
	}

	mcpServer := mcp.NewServer(
		&mcp.Implementation{
			Name:    name,
			Version: version,
		},
		nil,
	)

	s := &Server{
		mcp:     mcpServer,
		engine:  eng,
		metrics: NewMetrics(logger),
		logger:  logger,
	}

	if err := s.registerTools(); err != nil {
		return nil, fmt.Errorf("failed to register tools: %w", err)
	}

	return s, nil
}

// Run starts the MCP server on the stdio transport.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("starting MCP server on stdio transport")
	transport := &mcp.StdioTransport{}
	if err := s.mcp.Run(ctx, transport); err != nil {
		return fmt.Errorf("server run failed: %w", err)
	}
	return nil
}
