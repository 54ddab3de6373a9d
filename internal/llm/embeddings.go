package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"
)

// EmbeddingsClient calls an OpenAI-compatible /v1/embeddings endpoint.
// Returned vectors are L2-normalized so inner product equals cosine similarity.
type EmbeddingsClient struct {
	BaseURL      string
	APIKey       string
	Model        string
	ExpectedSize int // 0 accepts any size, as long as the batch is consistent
	client       *http.Client
}

// NewEmbeddingsClient creates a new embeddings client.
func NewEmbeddingsClient(baseURL, apiKey, model string, expectedSize int, timeout time.Duration) *EmbeddingsClient {
	return &EmbeddingsClient{
		BaseURL:      baseURL,
		APIKey:       apiKey,
		Model:        model,
		ExpectedSize: expectedSize,
		client:       newHTTPClient(timeout),
	}
}

// EmbeddingsRequest represents the request payload for embeddings API.
type EmbeddingsRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

// EmbeddingData represents a single embedding in the response.
type EmbeddingData struct {
	Index     int       `json:"index"`
	Embedding []float64 `json:"embedding"`
}

// EmbeddingsResponse represents the response from the embeddings API.
type EmbeddingsResponse struct {
	Data []EmbeddingData `json:"data"`
}

// ModelName returns the embedding model identifier recorded with each vector.
func (c *EmbeddingsClient) ModelName() string {
	return c.Model
}

// EmbedTexts returns one normalized vector per input text, in input order.
func (c *EmbeddingsClient) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("%w: empty input array", ErrEmbeddingFailure)
	}

	url := fmt.Sprintf("%s/v1/embeddings", c.BaseURL)

	body, err := json.Marshal(EmbeddingsRequest{
		Model: c.Model,
		Input: texts,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if c.APIKey != "" {
		req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.APIKey))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to send request: %w", ErrEmbeddingFailure, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("%w: bad status %d: %s", ErrEmbeddingFailure, resp.StatusCode, string(raw))
	}

	var embeddingsResp EmbeddingsResponse
	if err := json.NewDecoder(resp.Body).Decode(&embeddingsResp); err != nil {
		return nil, fmt.Errorf("%w: failed to decode response: %w", ErrEmbeddingFailure, err)
	}

	if len(embeddingsResp.Data) != len(texts) {
		return nil, fmt.Errorf("%w: expected %d embeddings, got %d", ErrEmbeddingFailure, len(texts), len(embeddingsResp.Data))
	}

	// Rows may arrive in any order; each one names its input position.
	size := c.ExpectedSize
	result := make([][]float32, len(embeddingsResp.Data))
	for _, data := range embeddingsResp.Data {
		i := data.Index
		if i < 0 || i >= len(result) {
			return nil, fmt.Errorf("%w: embedding index %d out of range", ErrEmbeddingFailure, i)
		}
		if result[i] != nil {
			return nil, fmt.Errorf("%w: duplicate embedding index %d", ErrEmbeddingFailure, i)
		}
		if size == 0 {
			size = len(data.Embedding)
		}
		if len(data.Embedding) == 0 || len(data.Embedding) != size {
			return nil, fmt.Errorf("%w: embedding %d has size %d, expected %d", ErrEmbeddingFailure, i, len(data.Embedding), size)
		}
		result[i] = normalize(data.Embedding)
	}

	return result, nil
}

// EmbedQuery embeds a single text.
func (c *EmbeddingsClient) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vectors, err := c.EmbedTexts(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// normalize converts to float32 and scales to unit length. A zero vector is returned as is.
func normalize(v []float64) []float32 {
	var sum float64
	for _, x := range v {
		sum += x * x
	}
	norm := math.Sqrt(sum)

	out := make([]float32, len(v))
	for i, x := range v {
		if norm > 0 {
			x /= norm
		}
		out[i] = float32(x)
	}
	return out
}
