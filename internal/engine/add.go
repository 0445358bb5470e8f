package engine

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/recalld/internal/cache"
	"github.com/fyrsmithlabs/recalld/internal/events"
	"github.com/fyrsmithlabs/recalld/internal/memory"
	"github.com/fyrsmithlabs/recalld/internal/remote"
	"github.com/fyrsmithlabs/recalld/internal/similarity"
)

// Add outcomes.
const (
	StatusSaved     = "saved"
	StatusDuplicate = "duplicate"
	StatusQueued    = "queued"
)

// Duplicate probing: the first dedupProbeBytes of the new content are
// searched and up to dedupCandidates results compared by Jaccard.
const (
	dedupProbeBytes = 100
	dedupCandidates = 5
)

// AddRequest is one add operation. Exactly one of Content and Messages
// must be set.
type AddRequest struct {
	UserID   string
	Content  string
	Messages []remote.Message
	Metadata memory.Metadata
	Priority memory.Priority

	// Async returns immediately with a job id instead of waiting for
	// the backend write.
	Async bool

	// SkipDedup bypasses the duplicate probe.
	SkipDedup bool
}

// AddResult reports what happened to an add.
type AddResult struct {
	Status string
	// ID is the primary new record, or the existing record on a
	// duplicate outcome.
	ID string
	// IDs lists every record the backend created; backends may split
	// one input into several memories.
	IDs []string
	// JobID is set on queued (async) outcomes.
	JobID string
}

// addOutcome is the job queue payload for a finished add.
type addOutcome struct {
	IDs     []string `json:"ids"`
	Primary string   `json:"primary,omitempty"`
}

// Add stores a memory. Content is validated and scrubbed, probed for
// duplicates, then written through a job: async callers get the job id
// back immediately, sync callers wait for settlement (bounded by the
// job timeout). The backend write, cache fill, and enrichment kickoff
// happen on the engine's own context either way, so an impatient
// caller does not abort a write already in flight.
func (e *Engine) Add(ctx context.Context, req AddRequest) (*AddResult, error) {
	userID := e.userOrDefault(req.UserID)
	if err := memory.ValidateID(userID, "user id"); err != nil {
		return nil, err
	}

	addReq := remote.AddRequest{
		UserID:   userID,
		Content:  req.Content,
		Messages: req.Messages,
		Metadata: req.Metadata,
	}
	if err := addReq.Validate(); err != nil {
		return nil, err
	}
	content := addReq.Flatten()
	if err := memory.ValidateContent(content, e.cfg.MaxContentBytes); err != nil {
		return nil, err
	}

	if e.scrubber.IsEnabled() {
		addReq = e.scrubAdd(addReq)
		content = addReq.Flatten()
	}

	if !req.SkipDedup {
		if dupID, ok := e.findDuplicate(ctx, userID, content); ok {
			addsTotal.WithLabelValues(StatusDuplicate).Inc()
			e.logger.Info("duplicate memory skipped",
				zap.String("user_id", userID),
				zap.String("existing_id", dupID))
			return &AddResult{Status: StatusDuplicate, ID: dupID}, nil
		}
	}

	jobID, done := e.jobs.Create()

	if req.Async {
		go e.performAdd(e.runCtx, jobID, userID, addReq, req.Priority)
		addsTotal.WithLabelValues(StatusQueued).Inc()
		return &AddResult{Status: StatusQueued, JobID: jobID}, nil
	}

	go e.performAdd(e.runCtx, jobID, userID, addReq, req.Priority)

	select {
	case <-ctx.Done():
		// Abandons the wait, not the write; performAdd keeps running on
		// the engine context and skips settlement when it finishes.
		e.jobs.Cancel(jobID)
		return nil, ctx.Err()
	case out := <-done:
		if out.Err != nil {
			addsTotal.WithLabelValues("failed").Inc()
			return nil, out.Err
		}
		res := &AddResult{Status: StatusSaved}
		switch v := out.Value.(type) {
		case *addOutcome:
			res.ID, res.IDs = v.Primary, v.IDs
		case json.RawMessage:
			var decoded addOutcome
			if err := json.Unmarshal(v, &decoded); err == nil {
				res.ID, res.IDs = decoded.Primary, decoded.IDs
			}
		}
		addsTotal.WithLabelValues(StatusSaved).Inc()
		return res, nil
	}
}

// performAdd is the write worker behind Add: backend write, immediate
// L1 cache fill, enrichment kickoff, and job settlement. Invalidation
// and completion events go out for other consumers; the search cache
// purge also runs directly so the next search on this process never
// races the event.
func (e *Engine) performAdd(ctx context.Context, jobID, userID string, req remote.AddRequest, priority memory.Priority) {
	if ctx.Err() != nil {
		e.jobs.Reject(jobID, ctx.Err())
		return
	}

	records, err := e.backend.Add(ctx, req)
	e.noteRemote(err)
	if err != nil {
		e.logger.Warn("backend add failed", zap.String("user_id", userID), zap.Error(err))
		if e.jobs.StillWanted(jobID) {
			e.jobs.Reject(jobID, err)
			e.bus.PublishJobDone(ctx, events.JobDone{JobID: jobID, Error: memory.Kind(err)})
		}
		return
	}

	now := time.Now().UTC()
	out := &addOutcome{}
	for _, m := range records {
		if m.Metadata == nil {
			m.Metadata = memory.Metadata{}
		}
		if priority != "" {
			m.Metadata.SetPriority(priority)
		}
		if err := e.tier.Put(ctx, m, e.tier.L1TTL()); err != nil {
			e.logger.Warn("cache write failed after add", zap.String("memory_id", m.ID), zap.Error(err))
		}
		e.pending.put(m.ID, userID, priority)
		e.bus.PublishProcess(ctx, events.ProcessRequest{MemoryID: m.ID, UserID: userID, Priority: priority})
		e.bus.PublishInvalidation(ctx, events.Invalidation{
			MemoryID: m.ID,
			UserID:   userID,
			Op:       events.OpUpdate,
			TS:       now,
		})
		out.IDs = append(out.IDs, m.ID)
	}
	if len(out.IDs) > 0 {
		out.Primary = out.IDs[0]
	}

	e.purgeSearchCache(ctx)
	e.tier.Count(ctx, cache.CounterAdds)

	// Settle only while a waiter is registered; an abandoned or expired
	// job gets no completion traffic. The write above stands either way.
	if e.jobs.StillWanted(jobID) {
		e.jobs.Resolve(jobID, out)
		payload, err := json.Marshal(out)
		if err != nil {
			payload = nil
		}
		e.bus.PublishJobDone(ctx, events.JobDone{JobID: jobID, Result: payload})
	}
	e.logger.Info("memory saved",
		zap.String("user_id", userID),
		zap.Strings("ids", out.IDs))
}

// findDuplicate probes for an existing memory covering the same
// content. Best effort: a degraded search simply means the add
// proceeds.
func (e *Engine) findDuplicate(ctx context.Context, userID, content string) (string, bool) {
	probe := memory.Truncate(content, dedupProbeBytes)
	res, err := e.rank(ctx, userID, probe, dedupCandidates)
	if err != nil || res == nil {
		return "", false
	}
	for _, m := range res.Memories {
		if similarity.Jaccard(m.Content, content) >= e.cfg.DedupThreshold {
			return m.ID, true
		}
	}
	return "", false
}

// scrubAdd redacts secrets from the request content in place and marks
// the metadata when anything was found.
func (e *Engine) scrubAdd(req remote.AddRequest) remote.AddRequest {
	dirty := false
	if req.Content != "" {
		res := e.scrubber.Scrub(req.Content)
		if !res.Clean() {
			req.Content = res.Scrubbed
			dirty = true
			e.logScrub(res.ByRule)
		}
	}
	for i, msg := range req.Messages {
		res := e.scrubber.Scrub(msg.Content)
		if !res.Clean() {
			req.Messages[i].Content = res.Scrubbed
			dirty = true
			e.logScrub(res.ByRule)
		}
	}
	if dirty {
		if req.Metadata == nil {
			req.Metadata = memory.Metadata{}
		}
		req.Metadata.SetScrubbed()
	}
	return req
}

// logScrub records which rules fired, never the matched content.
func (e *Engine) logScrub(byRule map[string]int) {
	rules := make([]string, 0, len(byRule))
	for rule := range byRule {
		rules = append(rules, rule)
	}
	e.logger.Info("secrets scrubbed from memory content", zap.Strings("rules", rules))
}

// enrichTask is one unit of enrichment work.
type enrichTask struct {
	id       string
	userID   string
	priority memory.Priority
}

// pendingSet tracks memories written but not yet enriched. The sync
// pass requeues entries that sat longer than the configured age, which
// covers enrichment requests lost to pub/sub delivery or queue
// overflow.
type pendingSet struct {
	mu      sync.Mutex
	entries map[string]pendingEntry
}

type pendingEntry struct {
	userID   string
	priority memory.Priority
	added    time.Time
}

func newPendingSet() *pendingSet {
	return &pendingSet{entries: make(map[string]pendingEntry)}
}

func (p *pendingSet) put(id, userID string, priority memory.Priority) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.entries[id] = pendingEntry{userID: userID, priority: priority, added: time.Now()}
}

func (p *pendingSet) remove(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.entries, id)
}

func (p *pendingSet) len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}

// stale returns tasks for entries older than maxAge and restamps them,
// so one sync pass requeues each lost entry at most once.
func (p *pendingSet) stale(maxAge time.Duration) []enrichTask {
	p.mu.Lock()
	defer p.mu.Unlock()
	cutoff := time.Now().Add(-maxAge)
	var tasks []enrichTask
	for id, entry := range p.entries {
		if entry.added.After(cutoff) {
			continue
		}
		tasks = append(tasks, enrichTask{id: id, userID: entry.userID, priority: entry.priority})
		entry.added = time.Now()
		p.entries[id] = entry
	}
	return tasks
}
