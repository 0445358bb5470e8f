package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// DefaultTEITimeout bounds a single embedding request.
const DefaultTEITimeout = 5 * time.Second

// TEIConfig configures the TEI client.
type TEIConfig struct {
	// BaseURL is the base URL for the embedding API.
	BaseURL string

	// Model is the embedding model name, informational only for TEI.
	Model string

	// APIKey is sent as a bearer token when set.
	APIKey string

	// Dimension is the vector length the model produces.
	Dimension int

	// Timeout bounds each request. Defaults to DefaultTEITimeout.
	Timeout time.Duration
}

// Validate validates the configuration.
func (c TEIConfig) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("%w: base URL required", ErrInvalidConfig)
	}
	if c.Dimension <= 0 {
		return fmt.Errorf("%w: dimension required", ErrInvalidConfig)
	}
	return nil
}

// TEI embeds text via a text-embeddings-inference server.
type TEI struct {
	config TEIConfig
	client *http.Client
}

// NewTEI creates a TEI client with the given configuration.
func NewTEI(config TEIConfig) (*TEI, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = DefaultTEITimeout
	}
	return &TEI{
		config: config,
		client: &http.Client{Timeout: timeout},
	}, nil
}

// teiRequest is the request body for the TEI embed endpoint.
type teiRequest struct {
	Inputs   any  `json:"inputs"`
	Truncate bool `json:"truncate"`
}

// EmbedQuery generates an embedding for a single text.
func (t *TEI) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, fmt.Errorf("%w: text cannot be empty", ErrEmptyInput)
	}
	vectors, err := t.post(ctx, teiRequest{Inputs: text, Truncate: true})
	if err != nil {
		return nil, err
	}
	if len(vectors) == 0 {
		return nil, fmt.Errorf("%w: empty response", ErrEmbedFailed)
	}
	return vectors[0], nil
}

// EmbedDocuments generates embeddings for multiple texts.
func (t *TEI) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("%w: texts cannot be empty", ErrEmptyInput)
	}
	vectors, err := t.post(ctx, teiRequest{Inputs: texts, Truncate: true})
	if err != nil {
		return nil, err
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("%w: got %d vectors for %d texts", ErrEmbedFailed, len(vectors), len(texts))
	}
	return vectors, nil
}

// Dimension returns the configured vector length.
func (t *TEI) Dimension() int { return t.config.Dimension }

// Version identifies the backing model.
func (t *TEI) Version() string { return "tei:" + t.config.Model }

func (t *TEI) post(ctx context.Context, req teiRequest) ([][]float32, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.config.BaseURL+"/embed", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if t.config.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+t.config.APIKey)
	}

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbedFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("%w: status %d: %s", ErrEmbedFailed, resp.StatusCode, string(respBody))
	}

	var vectors [][]float32
	if err := json.NewDecoder(resp.Body).Decode(&vectors); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	return vectors, nil
}

var _ Embedder = (*TEI)(nil)
