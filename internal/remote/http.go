package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/recalld/internal/memory"
)

// DefaultTimeout bounds each backend request.
const DefaultTimeout = 10 * time.Second

// ClientConfig configures the HTTP backend client.
type ClientConfig struct {
	// BaseURL is the backend root, e.g. https://api.example.com.
	BaseURL string

	// APIKey is sent as a bearer token.
	APIKey string

	// Timeout bounds each request. Defaults to DefaultTimeout.
	Timeout time.Duration
}

// Validate checks the configuration.
func (c ClientConfig) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("%w: base URL required", memory.ErrInvalid)
	}
	if c.APIKey == "" {
		return fmt.Errorf("%w: API key required", memory.ErrInvalid)
	}
	return nil
}

// Client talks to the hosted memory backend. Calls run through a
// circuit breaker: once the backend fails repeatedly, further calls
// fail fast with ErrBackendUnavailable until a probe succeeds. Not
// found and invalid input do not count as breaker failures.
type Client struct {
	config  ClientConfig
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
	logger  *zap.Logger
}

// NewClient creates a backend client.
func NewClient(config ClientConfig, logger *zap.Logger) (*Client, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	c := &Client{
		config: config,
		client: &http.Client{Timeout: timeout},
		logger: logger,
	}
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "remote-store",
		MaxRequests: 1,
		Interval:    30 * time.Second,
		Timeout:     15 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool {
			// The backend answering 404 or 400 is a working backend.
			return err == nil || errors.Is(err, memory.ErrNotFound) || errors.Is(err, memory.ErrInvalid)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})
	return c, nil
}

// wireRecord is the backend's memory representation.
type wireRecord struct {
	ID        string          `json:"id"`
	Memory    string          `json:"memory"`
	UserID    string          `json:"user_id"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt *time.Time      `json:"updated_at,omitempty"`
	Metadata  memory.Metadata `json:"metadata,omitempty"`
}

func (w wireRecord) toMemory() *memory.Memory {
	return &memory.Memory{
		ID:        w.ID,
		UserID:    w.UserID,
		Content:   w.Memory,
		CreatedAt: w.CreatedAt,
		UpdatedAt: w.UpdatedAt,
		Metadata:  w.Metadata,
	}
}

// Add stores new memories. The backend may split the input; every
// returned record is surfaced.
func (c *Client) Add(ctx context.Context, req AddRequest) ([]*memory.Memory, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	var records []wireRecord
	err := c.do(ctx, http.MethodPost, "/v1/memories", nil, req, &records)
	if err != nil {
		return nil, fmt.Errorf("remote add: %w", err)
	}
	out := make([]*memory.Memory, 0, len(records))
	for _, w := range records {
		out = append(out, w.toMemory())
	}
	return out, nil
}

type searchRequest struct {
	UserID string `json:"user_id"`
	Query  string `json:"query"`
	Limit  int    `json:"limit"`
}

type searchResponse struct {
	Results []wireRecord `json:"results"`
}

// Search asks the backend for relevant memories. Quality is
// backend-defined; callers re-rank locally.
func (c *Client) Search(ctx context.Context, userID, query string, limit int) ([]*memory.Memory, error) {
	var resp searchResponse
	err := c.do(ctx, http.MethodPost, "/v1/memories/search", nil, searchRequest{
		UserID: userID,
		Query:  query,
		Limit:  limit,
	}, &resp)
	if err != nil {
		return nil, fmt.Errorf("remote search: %w", err)
	}
	out := make([]*memory.Memory, 0, len(resp.Results))
	for _, w := range resp.Results {
		out = append(out, w.toMemory())
	}
	return out, nil
}

type listResponse struct {
	Results []wireRecord `json:"results"`
	Total   int          `json:"total"`
}

// List pages through a user's memories, newest first.
func (c *Client) List(ctx context.Context, userID string, limit, offset int) ([]*memory.Memory, int, error) {
	q := url.Values{}
	q.Set("user_id", userID)
	q.Set("limit", strconv.Itoa(limit))
	q.Set("offset", strconv.Itoa(offset))

	var resp listResponse
	err := c.do(ctx, http.MethodGet, "/v1/memories", q, nil, &resp)
	if err != nil {
		return nil, 0, fmt.Errorf("remote list: %w", err)
	}
	out := make([]*memory.Memory, 0, len(resp.Results))
	for _, w := range resp.Results {
		out = append(out, w.toMemory())
	}
	return out, resp.Total, nil
}

// Get fetches one memory.
func (c *Client) Get(ctx context.Context, userID, id string) (*memory.Memory, error) {
	q := url.Values{}
	q.Set("user_id", userID)

	var record wireRecord
	err := c.do(ctx, http.MethodGet, "/v1/memories/"+url.PathEscape(id), q, nil, &record)
	if err != nil {
		return nil, fmt.Errorf("remote get: %w", err)
	}
	return record.toMemory(), nil
}

// Delete removes one memory permanently.
func (c *Client) Delete(ctx context.Context, userID, id string) error {
	q := url.Values{}
	q.Set("user_id", userID)

	if err := c.do(ctx, http.MethodDelete, "/v1/memories/"+url.PathEscape(id), q, nil, nil); err != nil {
		return fmt.Errorf("remote delete: %w", err)
	}
	return nil
}

// do runs one request through the breaker and decodes the response
// into out when out is non-nil.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	_, err := c.breaker.Execute(func() (any, error) {
		return nil, c.roundTrip(ctx, method, path, query, body, out)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: circuit open", memory.ErrBackendUnavailable)
	}
	return err
}

func (c *Client) roundTrip(ctx context.Context, method, path string, query url.Values, body, out any) error {
	u := c.config.BaseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%w: encoding request: %v", memory.ErrInternal, err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return fmt.Errorf("%w: building request: %v", memory.ErrInternal, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("%w: %v", memory.ErrTimeout, err)
		}
		return fmt.Errorf("%w: %v", memory.ErrBackendUnavailable, err)
	}
	defer resp.Body.Close()

	if err := classifyStatus(resp); err != nil {
		return err
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decoding response: %v", memory.ErrInternal, err)
	}
	return nil
}

func classifyStatus(resp *http.Response) error {
	switch {
	case resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusNotFound:
		return memory.ErrNotFound
	case resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnprocessableEntity:
		return fmt.Errorf("%w: %s", memory.ErrInvalid, readError(resp))
	case resp.StatusCode == http.StatusRequestTimeout || resp.StatusCode == http.StatusGatewayTimeout:
		return fmt.Errorf("%w: status %d", memory.ErrTimeout, resp.StatusCode)
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%w: status %d", memory.ErrBackendUnavailable, resp.StatusCode)
	default:
		return fmt.Errorf("%w: status %d: %s", memory.ErrInternal, resp.StatusCode, readError(resp))
	}
}

func readError(resp *http.Response) string {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return string(bytes.TrimSpace(raw))
}

var _ Store = (*Client)(nil)
