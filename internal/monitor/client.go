// Package monitor implements the live terminal view over a running
// recalld instance, fed by the localhost ops endpoint.
package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Stats mirrors the /stats payload served by pkg/server.
type Stats struct {
	Cached             int              `json:"cached"`
	Keywords           int              `json:"keywords"`
	AccessTotal        int64            `json:"access_total"`
	MemoryBytes        int64            `json:"memory_bytes"`
	VectorRecords      int              `json:"vector_records"`
	GraphEntities      int              `json:"graph_entities"`
	GraphEdges         int              `json:"graph_edges"`
	PendingJobs        int              `json:"pending_jobs"`
	PendingEnrichments int              `json:"pending_enrichments"`
	QueuedEnrichments  int              `json:"queued_enrichments"`
	Counters           map[string]int64 `json:"counters"`
	KVDegraded         bool             `json:"kv_degraded"`
	RemoteDegraded     bool             `json:"remote_degraded"`
}

// Health mirrors the /health payload served by pkg/server.
type Health struct {
	Status         string `json:"status"`
	Service        string `json:"service"`
	Version        string `json:"version"`
	Mode           string `json:"mode"`
	KVDegraded     bool   `json:"kv_degraded"`
	RemoteDegraded bool   `json:"remote_degraded"`
}

// Snapshot is one poll of the ops endpoint.
type Snapshot struct {
	Stats  Stats
	Health Health
	Taken  time.Time
}

// Backlog is the enrichment work not yet reflected in the indices.
func (s Stats) Backlog() int {
	return s.PendingEnrichments + s.QueuedEnrichments
}

// HitRate returns the cache hit ratio in [0, 1], or -1 when no lookups
// have been counted yet.
func (s Stats) HitRate() float64 {
	hits := s.Counters["cache_hits"]
	misses := s.Counters["cache_misses"]
	total := hits + misses
	if total == 0 {
		return -1
	}
	return float64(hits) / float64(total)
}

// Client polls the recalld ops endpoint.
type Client struct {
	baseURL string
	client  *http.Client
}

// NewClient creates a client for the ops endpoint at baseURL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		client: &http.Client{
			Timeout: 2 * time.Second,
		},
	}
}

// Health fetches /health.
func (c *Client) Health(ctx context.Context) (Health, error) {
	var h Health
	if err := c.get(ctx, "/health", &h); err != nil {
		return Health{}, err
	}
	return h, nil
}

// Stats fetches /stats.
func (c *Client) Stats(ctx context.Context) (Stats, error) {
	var s Stats
	if err := c.get(ctx, "/stats", &s); err != nil {
		return Stats{}, err
	}
	return s, nil
}

// Snapshot fetches /health and /stats in one pass.
func (c *Client) Snapshot(ctx context.Context) (Snapshot, error) {
	var snap Snapshot
	var err error
	if snap.Health, err = c.Health(ctx); err != nil {
		return Snapshot{}, err
	}
	if snap.Stats, err = c.Stats(ctx); err != nil {
		return Snapshot{}, err
	}
	snap.Taken = time.Now()
	return snap, nil
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GET %s: unexpected status code %d", path, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
