package mcp

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/fyrsmithlabs/recalld/internal/engine"
	"github.com/fyrsmithlabs/recalld/internal/memory"
	"github.com/fyrsmithlabs/recalld/internal/remote"
)

// getAllMaxLimit caps one get_all_memories page.
const getAllMaxLimit = 500

// registerTools registers all MCP tools with the server.
func (s *Server) registerTools() error {
	// Memory tools
	s.registerMemoryTools()

	// Maintenance tools (dedup, cache warming, status)
	s.registerMaintenanceTools()

	return nil
}

// textResult wraps a short human-readable outcome line.
func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: text},
		},
	}
}

// errResult renders a failure the way agent callers see it: an
// "Error: <kind>" line with the error flag set. Detail stays in logs;
// the tool call itself still completes at the protocol level.
func errResult(err error) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		IsError: true,
		Content: []mcp.Content{
			&mcp.TextContent{Text: "Error: " + memory.Kind(err)},
		},
	}
}

// orTrue decodes optional boolean flags whose absence means true.
func orTrue(b *bool) bool {
	return b == nil || *b
}

// memoryRecord is the wire shape of one memory in tool outputs.
type memoryRecord struct {
	ID        string         `json:"id" jsonschema:"Memory ID"`
	UserID    string         `json:"user_id,omitempty" jsonschema:"Owning user"`
	Content   string         `json:"content" jsonschema:"Memory text"`
	CreatedAt time.Time      `json:"created_at" jsonschema:"Creation time"`
	Metadata  map[string]any `json:"metadata,omitempty" jsonschema:"Metadata including enrichment outputs"`
}

func toRecord(m *memory.Memory) memoryRecord {
	return memoryRecord{
		ID:        m.ID,
		UserID:    m.UserID,
		Content:   m.Content,
		CreatedAt: m.CreatedAt,
		Metadata:  m.Metadata,
	}
}

func toRecords(ms []*memory.Memory) []memoryRecord {
	out := make([]memoryRecord, len(ms))
	for i, m := range ms {
		out[i] = toRecord(m)
	}
	return out
}

type messageInput struct {
	Role    string `json:"role" jsonschema:"Speaker role"`
	Content string `json:"content" jsonschema:"Message text"`
}

type addMemoryInput struct {
	Content            string         `json:"content,omitempty" jsonschema:"Memory text to save (exactly one of content and messages)"`
	Messages           []messageInput `json:"messages,omitempty" jsonschema:"Conversation turns to save (exactly one of content and messages)"`
	UserID             string         `json:"user_id,omitempty" jsonschema:"Owning user (server default when omitted)"`
	Metadata           map[string]any `json:"metadata,omitempty" jsonschema:"Extra metadata stored with the memory"`
	Priority           string         `json:"priority,omitempty" jsonschema:"Cache priority: high medium or low (default: medium)"`
	Async              *bool          `json:"async,omitempty" jsonschema:"Return immediately and finish the write in the background (default: true)"`
	SkipDuplicateCheck bool           `json:"skip_duplicate_check,omitempty" jsonschema:"Skip the duplicate probe (default: false)"`
}

type addMemoryOutput struct {
	Status string   `json:"status,omitempty" jsonschema:"Outcome: saved duplicate or queued"`
	ID     string   `json:"id,omitempty" jsonschema:"Primary memory ID (the existing record on a duplicate)"`
	IDs    []string `json:"ids,omitempty" jsonschema:"Every record the backend created"`
	JobID  string   `json:"job_id,omitempty" jsonschema:"Job ID for queued writes"`
}

type searchMemoryInput struct {
	Query       string `json:"query" jsonschema:"required,Search query"`
	UserID      string `json:"user_id,omitempty" jsonschema:"User to search (server default when omitted)"`
	Limit       *int   `json:"limit,omitempty" jsonschema:"Maximum results to return (default: 10)"`
	PreferCache *bool  `json:"prefer_cache,omitempty" jsonschema:"Serve a cached result list when one exists (default: true)"`
}

type searchMemoryOutput struct {
	Memories  []memoryRecord `json:"memories,omitempty" jsonschema:"Ranked results, best first"`
	Scores    []float64      `json:"scores,omitempty" jsonschema:"Combined scores aligned with memories"`
	FromCache bool           `json:"from_cache,omitempty" jsonschema:"True when served from the search cache"`
	Degraded  bool           `json:"degraded,omitempty" jsonschema:"True when the backend was unreachable and only local results are returned"`
}

type getAllMemoriesInput struct {
	UserID            string `json:"user_id,omitempty" jsonschema:"User to list (server default when omitted)"`
	Limit             int    `json:"limit,omitempty" jsonschema:"Maximum memories to return, capped at 500 (default: 100)"`
	Offset            int    `json:"offset,omitempty" jsonschema:"Memories to skip (default: 0)"`
	IncludeCacheStats *bool  `json:"include_cache_stats,omitempty" jsonschema:"Attach cache statistics to the result (default: true)"`
	PreferCache       *bool  `json:"prefer_cache,omitempty" jsonschema:"Serve the cached working set when it is warm (default: true)"`
}

type getAllMemoriesOutput struct {
	Total      int            `json:"total" jsonschema:"Total memories for the user"`
	Returned   int            `json:"returned" jsonschema:"Memories in this page"`
	HasMore    bool           `json:"has_more" jsonschema:"True when more pages remain"`
	Memories   []memoryRecord `json:"memories,omitempty" jsonschema:"The page, newest first"`
	Source     string         `json:"source,omitempty" jsonschema:"Where the page came from: cache or remote"`
	Degraded   bool           `json:"degraded,omitempty" jsonschema:"True when the backend was unreachable"`
	CacheStats *engine.Stats  `json:"cache_stats,omitempty" jsonschema:"Cache statistics snapshot"`
}

type deleteMemoryInput struct {
	MemoryID string `json:"memory_id" jsonschema:"required,ID of the memory to delete"`
}

type deleteMemoryOutput struct {
	ID string `json:"id,omitempty" jsonschema:"ID of the deleted memory"`
}

func (s *Server) registerMemoryTools() {
	// add_memory
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "add_memory",
		Description: "Save a memory (plain content or conversation messages) for later recall",
	}, s.handleAddMemory)

	// search_memory
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "search_memory",
		Description: "Search memories by meaning and keywords, best matches first",
	}, s.handleSearchMemory)

	// get_all_memories
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "get_all_memories",
		Description: "List a user's memories, newest first, with pagination",
	}, s.handleGetAllMemories)

	// delete_memory
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "delete_memory",
		Description: "Delete a memory by ID everywhere: backend, cache, and indices",
	}, s.handleDeleteMemory)
}

func (s *Server) handleAddMemory(ctx context.Context, req *mcp.CallToolRequest, args addMemoryInput) (*mcp.CallToolResult, addMemoryOutput, error) {
	start := time.Now()
	s.metrics.IncrementActive(ctx, "add_memory")
	var toolErr error
	defer func() {
		s.metrics.DecrementActive(ctx, "add_memory")
		s.metrics.RecordInvocation(ctx, "add_memory", time.Since(start), toolErr)
	}()

	priority, err := memory.ParsePriority(args.Priority)
	if err != nil {
		toolErr = err
		return errResult(err), addMemoryOutput{}, nil
	}

	res, err := s.engine.Add(ctx, engine.AddRequest{
		UserID:    args.UserID,
		Content:   args.Content,
		Messages:  toMessages(args.Messages),
		Metadata:  memory.Metadata(args.Metadata),
		Priority:  priority,
		Async:     orTrue(args.Async),
		SkipDedup: args.SkipDuplicateCheck,
	})
	if err != nil {
		toolErr = err
		return errResult(err), addMemoryOutput{}, nil
	}

	out := addMemoryOutput{
		Status: res.Status,
		ID:     res.ID,
		IDs:    res.IDs,
		JobID:  res.JobID,
	}

	text := "Saved"
	if res.Status == engine.StatusDuplicate {
		text = "Already saved"
	}
	return textResult(text), out, nil
}

func (s *Server) handleSearchMemory(ctx context.Context, req *mcp.CallToolRequest, args searchMemoryInput) (*mcp.CallToolResult, searchMemoryOutput, error) {
	start := time.Now()
	s.metrics.IncrementActive(ctx, "search_memory")
	var toolErr error
	defer func() {
		s.metrics.DecrementActive(ctx, "search_memory")
		s.metrics.RecordInvocation(ctx, "search_memory", time.Since(start), toolErr)
	}()

	limit := engine.DefaultSearchLimit
	if args.Limit != nil {
		limit = *args.Limit
	}

	res, err := s.engine.Search(ctx, engine.SearchRequest{
		UserID:      args.UserID,
		Query:       args.Query,
		Limit:       limit,
		PreferCache: orTrue(args.PreferCache),
	})
	if err != nil {
		toolErr = err
		return errResult(err), searchMemoryOutput{}, nil
	}

	out := searchMemoryOutput{
		Memories:  toRecords(res.Memories),
		Scores:    res.Scores,
		FromCache: res.FromCache,
		Degraded:  res.Degraded,
	}

	if len(res.Memories) == 0 {
		return textResult("No memories found"), out, nil
	}
	parts := make([]string, len(res.Memories))
	for i, m := range res.Memories {
		parts[i] = m.Content
	}
	return textResult(strings.Join(parts, "\n---\n")), out, nil
}

func (s *Server) handleGetAllMemories(ctx context.Context, req *mcp.CallToolRequest, args getAllMemoriesInput) (*mcp.CallToolResult, getAllMemoriesOutput, error) {
	start := time.Now()
	s.metrics.IncrementActive(ctx, "get_all_memories")
	var toolErr error
	defer func() {
		s.metrics.DecrementActive(ctx, "get_all_memories")
		s.metrics.RecordInvocation(ctx, "get_all_memories", time.Since(start), toolErr)
	}()

	limit := args.Limit
	if limit <= 0 {
		limit = 100
	}
	if limit > getAllMaxLimit {
		limit = getAllMaxLimit
	}
	offset := args.Offset
	if offset < 0 {
		offset = 0
	}

	res, err := s.engine.GetAll(ctx, args.UserID, limit, offset, orTrue(args.PreferCache))
	if err != nil {
		toolErr = err
		return errResult(err), getAllMemoriesOutput{}, nil
	}

	out := getAllMemoriesOutput{
		Total:    res.Total,
		Returned: len(res.Memories),
		HasMore:  offset+len(res.Memories) < res.Total,
		Memories: toRecords(res.Memories),
		Source:   res.Source,
		Degraded: res.Degraded,
	}

	if orTrue(args.IncludeCacheStats) {
		if stats, serr := s.engine.Stats(ctx); serr == nil {
			out.CacheStats = stats
		}
	}

	return textResult(fmt.Sprintf("%d memories retrieved", out.Returned)), out, nil
}

func (s *Server) handleDeleteMemory(ctx context.Context, req *mcp.CallToolRequest, args deleteMemoryInput) (*mcp.CallToolResult, deleteMemoryOutput, error) {
	start := time.Now()
	s.metrics.IncrementActive(ctx, "delete_memory")
	var toolErr error
	defer func() {
		s.metrics.DecrementActive(ctx, "delete_memory")
		s.metrics.RecordInvocation(ctx, "delete_memory", time.Since(start), toolErr)
	}()

	// The tool takes only a memory id; the cache knows the owner for
	// anything it holds, and the default user covers the rest.
	userID, _ := s.engine.ResolveOwner(ctx, args.MemoryID)

	if err := s.engine.Delete(ctx, userID, args.MemoryID); err != nil {
		toolErr = err
		return errResult(err), deleteMemoryOutput{}, nil
	}

	return textResult("Deleted"), deleteMemoryOutput{ID: args.MemoryID}, nil
}

func toMessages(msgs []messageInput) []remote.Message {
	if len(msgs) == 0 {
		return nil
	}
	out := make([]remote.Message, len(msgs))
	for i, m := range msgs {
		out[i] = remote.Message{Role: m.Role, Content: m.Content}
	}
	return out
}
