package mcp

import (
	"context"
	"fmt"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/fyrsmithlabs/recalld/internal/engine"
)

type deduplicateMemoriesInput struct {
	UserID              string  `json:"user_id,omitempty" jsonschema:"User to scan (server default when omitted)"`
	SimilarityThreshold float64 `json:"similarity_threshold,omitempty" jsonschema:"Token overlap above which two memories count as duplicates (default: 0.85)"`
	DryRun              *bool   `json:"dry_run,omitempty" jsonschema:"Report duplicate groups without deleting anything (default: true)"`
}

type deduplicateMemoriesOutput struct {
	Scanned    int                     `json:"scanned" jsonschema:"Memories scanned"`
	Groups     []engine.DuplicateGroup `json:"groups,omitempty" jsonschema:"Duplicate groups, each naming a surviving primary"`
	Duplicates int                     `json:"duplicates" jsonschema:"Duplicate records across all groups"`
	Removed    int                     `json:"removed" jsonschema:"Duplicates deleted (always 0 on a dry run)"`
	DryRun     bool                    `json:"dry_run" jsonschema:"True when nothing was deleted"`
}

type optimizeCacheInput struct {
	ForceRefresh bool `json:"force_refresh,omitempty" jsonschema:"Drop the cached working set before rewarming (default: false)"`
	MaxMemories  int  `json:"max_memories,omitempty" jsonschema:"Memories to warm (default: the configured cache size)"`
}

type optimizeCacheOutput struct {
	Cached  int  `json:"cached" jsonschema:"Memories now cached"`
	Evicted int  `json:"evicted" jsonschema:"Cold entries evicted to fit the cache size"`
	Rebuilt bool `json:"rebuilt" jsonschema:"True when the keyword index was rebuilt"`
}

type cacheStatsInput struct{}

type syncStatusInput struct{}

type syncStatusOutput struct {
	Pending        int  `json:"pending" jsonschema:"Jobs and enrichments still in flight"`
	KVDegraded     bool `json:"kv_degraded,omitempty" jsonschema:"True when the local store is unreachable"`
	RemoteDegraded bool `json:"remote_degraded,omitempty" jsonschema:"True when the backend is unreachable"`
}

func (s *Server) registerMaintenanceTools() {
	// deduplicate_memories
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "deduplicate_memories",
		Description: "Find near-identical memories and optionally remove the copies",
	}, s.handleDeduplicateMemories)

	// optimize_cache
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "optimize_cache",
		Description: "Pre-warm the cache with the most useful memories and rebuild the keyword index",
	}, s.handleOptimizeCache)

	// cache_stats
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "cache_stats",
		Description: "Report cache, index, and counter statistics",
	}, s.handleCacheStats)

	// sync_status
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "sync_status",
		Description: "Report how many background operations are still in flight",
	}, s.handleSyncStatus)
}

func (s *Server) handleDeduplicateMemories(ctx context.Context, req *mcp.CallToolRequest, args deduplicateMemoriesInput) (*mcp.CallToolResult, deduplicateMemoriesOutput, error) {
	start := time.Now()
	s.metrics.IncrementActive(ctx, "deduplicate_memories")
	var toolErr error
	defer func() {
		s.metrics.DecrementActive(ctx, "deduplicate_memories")
		s.metrics.RecordInvocation(ctx, "deduplicate_memories", time.Since(start), toolErr)
	}()

	res, err := s.engine.Deduplicate(ctx, args.UserID, args.SimilarityThreshold, orTrue(args.DryRun))
	if err != nil {
		toolErr = err
		return errResult(err), deduplicateMemoriesOutput{}, nil
	}

	out := deduplicateMemoriesOutput{
		Scanned:    res.Scanned,
		Groups:     res.Groups,
		Duplicates: res.Duplicates,
		Removed:    res.Removed,
		DryRun:     res.DryRun,
	}

	var text string
	switch {
	case len(res.Groups) == 0:
		text = "No duplicates found"
	case res.DryRun:
		text = fmt.Sprintf("Found %d duplicate groups (%d duplicates across %d memories)", len(res.Groups), res.Duplicates, res.Scanned)
	default:
		text = fmt.Sprintf("Removed %d duplicates in %d groups", res.Removed, len(res.Groups))
	}
	return textResult(text), out, nil
}

func (s *Server) handleOptimizeCache(ctx context.Context, req *mcp.CallToolRequest, args optimizeCacheInput) (*mcp.CallToolResult, optimizeCacheOutput, error) {
	start := time.Now()
	s.metrics.IncrementActive(ctx, "optimize_cache")
	var toolErr error
	defer func() {
		s.metrics.DecrementActive(ctx, "optimize_cache")
		s.metrics.RecordInvocation(ctx, "optimize_cache", time.Since(start), toolErr)
	}()

	res, err := s.engine.OptimizeCache(ctx, "", args.ForceRefresh, args.MaxMemories)
	if err != nil {
		toolErr = err
		return errResult(err), optimizeCacheOutput{}, nil
	}

	out := optimizeCacheOutput{
		Cached:  res.Cached,
		Evicted: res.Evicted,
		Rebuilt: res.Rebuilt,
	}
	return textResult(fmt.Sprintf("Cache optimized: %d memories ready", res.Cached)), out, nil
}

func (s *Server) handleCacheStats(ctx context.Context, req *mcp.CallToolRequest, args cacheStatsInput) (*mcp.CallToolResult, engine.Stats, error) {
	start := time.Now()
	s.metrics.IncrementActive(ctx, "cache_stats")
	var toolErr error
	defer func() {
		s.metrics.DecrementActive(ctx, "cache_stats")
		s.metrics.RecordInvocation(ctx, "cache_stats", time.Since(start), toolErr)
	}()

	stats, err := s.engine.Stats(ctx)
	if err != nil {
		toolErr = err
		return errResult(err), engine.Stats{}, nil
	}

	return textResult(fmt.Sprintf("%d memories cached", stats.Cached)), *stats, nil
}

func (s *Server) handleSyncStatus(ctx context.Context, req *mcp.CallToolRequest, args syncStatusInput) (*mcp.CallToolResult, syncStatusOutput, error) {
	start := time.Now()
	s.metrics.IncrementActive(ctx, "sync_status")
	var toolErr error
	defer func() {
		s.metrics.DecrementActive(ctx, "sync_status")
		s.metrics.RecordInvocation(ctx, "sync_status", time.Since(start), toolErr)
	}()

	health := s.engine.Health()
	out := syncStatusOutput{
		Pending:        s.engine.PendingOperations(),
		KVDegraded:     health.KVDegraded,
		RemoteDegraded: health.RemoteDegraded,
	}

	text := "All operations complete"
	if out.Pending > 0 {
		text = fmt.Sprintf("%d operations pending", out.Pending)
	}
	return textResult(text), out, nil
}
