package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	ollamaBatchNumPredict  = 220
	ollamaStreamNumPredict = 260
)

// OllamaClient generates text through Ollama's /api/generate endpoint.
type OllamaClient struct {
	BaseURL      string
	Model        string
	client       *http.Client
	streamClient *http.Client
}

// NewOllamaClient creates a new Ollama client. timeout bounds batch requests only.
func NewOllamaClient(baseURL, model string, timeout time.Duration) *OllamaClient {
	return &OllamaClient{
		BaseURL:      baseURL,
		Model:        model,
		client:       newHTTPClient(timeout),
		streamClient: newHTTPClient(0),
	}
}

// Provider returns the backend name.
func (c *OllamaClient) Provider() string {
	return ProviderOllama
}

// ModelName returns the generation model.
func (c *OllamaClient) ModelName() string {
	return c.Model
}

// Generate returns the full completion for prompt.
func (c *OllamaClient) Generate(ctx context.Context, prompt string) (string, error) {
	resp, err := c.post(ctx, c.client, GenerateRequest{
		Model:  c.Model,
		Prompt: prompt,
		Stream: false,
		Options: GenerateOptions{
			Temperature: DefaultTemperature,
			NumPredict:  ollamaBatchNumPredict,
		},
	})
	if err != nil {
		return "", err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	var genResp GenerateResponse
	if err := json.NewDecoder(resp.Body).Decode(&genResp); err != nil {
		return "", fmt.Errorf("%w: failed to decode response: %w", ErrGenerationFailure, err)
	}
	if genResp.Error != "" {
		return "", fmt.Errorf("%w: %s", ErrGenerationFailure, genResp.Error)
	}

	return genResp.Response, nil
}

// GenerateStream reads the NDJSON stream and calls onToken for each non-empty fragment.
// It returns when the backend reports done, the body ends, ctx is cancelled or onToken fails.
func (c *OllamaClient) GenerateStream(ctx context.Context, prompt string, onToken func(token string) error) error {
	resp, err := c.post(ctx, c.streamClient, GenerateRequest{
		Model:  c.Model,
		Prompt: prompt,
		Stream: true,
		Options: GenerateOptions{
			Temperature: DefaultTemperature,
			NumPredict:  ollamaStreamNumPredict,
		},
	})
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var chunk GenerateResponse
		if err := json.Unmarshal(line, &chunk); err != nil {
			// Skip malformed lines
			continue
		}
		if chunk.Error != "" {
			return fmt.Errorf("%w: %s", ErrGenerationFailure, chunk.Error)
		}

		if chunk.Response != "" {
			if err := onToken(chunk.Response); err != nil {
				return fmt.Errorf("callback error: %w", err)
			}
		}
		if chunk.Done {
			return nil
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("%w: failed to read stream: %w", ErrGenerationFailure, err)
	}
	return fmt.Errorf("%w: stream ended before done", ErrGenerationFailure)
}

func (c *OllamaClient) post(ctx context.Context, client *http.Client, payload GenerateRequest) (*http.Response, error) {
	url := fmt.Sprintf("%s/api/generate", c.BaseURL)

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to send request: %w", ErrGenerationFailure, err)
	}

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		return nil, fmt.Errorf("%w: bad status %d: %s", ErrGenerationFailure, resp.StatusCode, string(raw))
	}
	return resp, nil
}
