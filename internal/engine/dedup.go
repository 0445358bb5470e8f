package engine

import (
	"context"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/recalld/internal/memory"
	"github.com/fyrsmithlabs/recalld/internal/similarity"
)

// dedupScanLimit bounds how many records a single Deduplicate pass
// compares. The pass is O(n²) over content.
const dedupScanLimit = 1000

// DuplicateGroup is a primary record and the near-copies found for it.
type DuplicateGroup struct {
	PrimaryID    string   `json:"primary_id"`
	DuplicateIDs []string `json:"duplicate_ids"`
}

// DeduplicateResult reports what a dedup pass found and, unless it ran
// dry, what it removed.
type DeduplicateResult struct {
	Scanned    int              `json:"scanned"`
	Groups     []DuplicateGroup `json:"groups"`
	Duplicates int              `json:"duplicates"`
	Removed    int              `json:"removed"`
	DryRun     bool             `json:"dry_run"`
}

// Deduplicate scans a user's stored memories for near-identical
// content and optionally removes the copies. Records list newest
// first, so within each group the newest record survives as primary.
// With dryRun set the pass only reports; nothing is deleted.
func (e *Engine) Deduplicate(ctx context.Context, userID string, threshold float64, dryRun bool) (*DeduplicateResult, error) {
	userID = e.userOrDefault(userID)
	if err := memory.ValidateID(userID, "user id"); err != nil {
		return nil, err
	}
	if threshold <= 0 || threshold > 1 {
		threshold = e.cfg.DedupThreshold
	}

	ms, _, err := e.backend.List(ctx, userID, dedupScanLimit, 0)
	e.noteRemote(err)
	if err != nil {
		return nil, err
	}

	out := &DeduplicateResult{Scanned: len(ms), DryRun: dryRun}
	visited := make([]bool, len(ms))
	for i := range ms {
		if visited[i] {
			continue
		}
		group := DuplicateGroup{PrimaryID: ms[i].ID}
		for j := i + 1; j < len(ms); j++ {
			if visited[j] {
				continue
			}
			if similarity.Jaccard(ms[i].Content, ms[j].Content) >= threshold {
				visited[j] = true
				group.DuplicateIDs = append(group.DuplicateIDs, ms[j].ID)
			}
		}
		if len(group.DuplicateIDs) > 0 {
			out.Groups = append(out.Groups, group)
			out.Duplicates += len(group.DuplicateIDs)
		}
	}

	if dryRun || out.Duplicates == 0 {
		return out, nil
	}

	for _, group := range out.Groups {
		for _, id := range group.DuplicateIDs {
			if ctx.Err() != nil {
				return out, ctx.Err()
			}
			if err := e.Delete(ctx, userID, id); err != nil {
				e.logger.Warn("dedup delete failed",
					zap.String("memory_id", id),
					zap.Error(err))
				continue
			}
			out.Removed++
		}
	}
	e.logger.Info("dedup pass complete",
		zap.String("user_id", userID),
		zap.Int("scanned", out.Scanned),
		zap.Int("groups", len(out.Groups)),
		zap.Int("removed", out.Removed))
	return out, nil
}
