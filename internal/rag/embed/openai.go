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

// Compile-time interface check.
var _ Provider = (*OpenAI)(nil)

const (
	defaultOpenAIModel = "text-embedding-3-small"
	defaultDimensions  = 1536
	defaultMaxChars    = 8000
	openAIEmbedURL     = "https://api.openai.com/v1/embeddings"

	singleTimeout = 30 * time.Second
	batchTimeout  = 60 * time.Second
)

// OpenAIConfig configures the OpenAI embedding provider.
type OpenAIConfig struct {
	APIKey     string
	Model      string        // defaults to "text-embedding-3-small"
	Dimensions int           // defaults to 1536
	MaxChars   int           // input truncation budget, defaults to 8000
	Timeout    time.Duration // per-request timeout for single embeds
	BaseURL    string        // overridable for tests
}

// OpenAI implements Provider using the OpenAI embeddings API. Failed
// requests are not retried here; a timeout surfaces as an *EmbedError
// and retry policy belongs to the caller.
type OpenAI struct {
	apiKey     string
	model      string
	dimensions int
	maxChars   int
	timeout    time.Duration
	client     *http.Client
	baseURL    string
}

// NewOpenAI creates a new OpenAI embedding provider.
func NewOpenAI(cfg OpenAIConfig) *OpenAI {
	if cfg.Model == "" {
		cfg.Model = defaultOpenAIModel
	}
	if cfg.Dimensions <= 0 {
		cfg.Dimensions = defaultDimensions
	}
	if cfg.MaxChars <= 0 {
		cfg.MaxChars = defaultMaxChars
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = singleTimeout
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = openAIEmbedURL
	}
	// Timeouts are context deadlines set per request, not a client-wide
	// cap, so the longer batch budget is not clipped by the single one.
	return &OpenAI{
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
		dimensions: cfg.Dimensions,
		maxChars:   cfg.MaxChars,
		timeout:    cfg.Timeout,
		client:     &http.Client{},
		baseURL:    cfg.BaseURL,
	}
}

func (o *OpenAI) Name() string    { return "openai:" + o.model }
func (o *OpenAI) Dimensions() int { return o.dimensions }
func (o *OpenAI) Available() bool { return o.apiKey != "" }

// Embed converts a single text to a vector.
func (o *OpenAI) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := o.request(ctx, []string{Truncate(text, o.maxChars)}, o.timeout)
	if err != nil {
		return nil, err
	}
	if len(vectors) != 1 {
		return nil, &EmbedError{Reason: fmt.Sprintf("API returned %d vectors for 1 input", len(vectors))}
	}
	return vectors[0], nil
}

// EmbedBatch converts texts to vectors in one API request. The endpoint
// is all-or-nothing: a failure fails every item in the batch.
func (o *OpenAI) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	truncated := make([]string, len(texts))
	for i, t := range texts {
		truncated[i] = Truncate(t, o.maxChars)
	}
	vectors, err := o.request(ctx, truncated, batchTimeout)
	if err != nil {
		return nil, err
	}
	if len(vectors) != len(texts) {
		return nil, &EmbedError{Reason: fmt.Sprintf("API returned %d vectors for %d inputs", len(vectors), len(texts))}
	}
	return vectors, nil
}

func (o *OpenAI) request(ctx context.Context, inputs []string, timeout time.Duration) ([][]float32, error) {
	if !o.Available() {
		return nil, ErrProviderUnavailable
	}

	body, err := json.Marshal(openAIEmbedRequest{
		Model:      o.model,
		Input:      inputs,
		Dimensions: o.dimensions,
	})
	if err != nil {
		return nil, &EmbedError{Reason: "marshal request", Err: err}
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL, bytes.NewReader(body))
	if err != nil {
		return nil, &EmbedError{Reason: "create request", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+o.apiKey)

	httpResp, err := o.client.Do(req)
	if err != nil {
		return nil, &EmbedError{Reason: "request failed", Err: err}
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, &EmbedError{Reason: "read response", Err: err}
	}

	if httpResp.StatusCode != http.StatusOK {
		return nil, &EmbedError{
			Reason: string(respBody),
			Status: httpResp.StatusCode,
		}
	}

	var resp openAIEmbedResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, &EmbedError{Reason: "unmarshal response", Err: err}
	}

	// Place by the API's index field rather than array position.
	vectors := make([][]float32, len(resp.Data))
	for i, d := range resp.Data {
		if d.Index >= 0 && d.Index < len(vectors) {
			vectors[d.Index] = d.Embedding
		} else {
			vectors[i] = d.Embedding
		}
	}
	return vectors, nil
}

// OpenAI API types

type openAIEmbedRequest struct {
	Model      string   `json:"model"`
	Input      []string `json:"input"`
	Dimensions int      `json:"dimensions,omitempty"`
}

type openAIEmbedResponse struct {
	Data []openAIEmbedData `json:"data"`
}

type openAIEmbedData struct {
	Embedding []float32 `json:"embedding"`
	Index     int       `json:"index"`
}
