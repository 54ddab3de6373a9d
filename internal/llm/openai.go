package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const openAISystemPrompt = "You are a helpful assistant that answers ONLY using the provided context."

// OpenAIClient generates text through an OpenAI-compatible /v1/chat/completions endpoint.
type OpenAIClient struct {
	BaseURL      string
	APIKey       string
	Model        string
	client       *http.Client
	streamClient *http.Client
}

// NewOpenAIClient creates a new chat completions client. timeout bounds batch requests only.
func NewOpenAIClient(baseURL, apiKey, model string, timeout time.Duration) *OpenAIClient {
	return &OpenAIClient{
		BaseURL:      strings.TrimSuffix(baseURL, "/"),
		APIKey:       apiKey,
		Model:        model,
		client:       newHTTPClient(timeout),
		streamClient: newHTTPClient(0),
	}
}

// Provider returns the backend name.
func (c *OpenAIClient) Provider() string {
	return ProviderOpenAI
}

// ModelName returns the generation model.
func (c *OpenAIClient) ModelName() string {
	return c.Model
}

// Generate sends a chat completion request and returns the first choice.
func (c *OpenAIClient) Generate(ctx context.Context, prompt string) (string, error) {
	resp, err := c.post(ctx, c.client, false, prompt)
	if err != nil {
		return "", err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	var chatResp ChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return "", fmt.Errorf("%w: failed to decode response: %w", ErrGenerationFailure, err)
	}
	if len(chatResp.Choices) == 0 {
		return "", fmt.Errorf("%w: no choices returned", ErrGenerationFailure)
	}

	return chatResp.Choices[0].Message.Content, nil
}

// GenerateStream reads Server-Sent Events from a streamed completion and calls onToken for each delta.
func (c *OpenAIClient) GenerateStream(ctx context.Context, prompt string, onToken func(token string) error) error {
	resp, err := c.post(ctx, c.streamClient, true, prompt)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	const dataPrefix = "data: "
	const doneMarker = "[DONE]"

	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, dataPrefix) {
			continue
		}

		data := strings.TrimPrefix(line, dataPrefix)
		if data == doneMarker {
			return nil
		}

		var chunk chatStreamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			// Skip malformed JSON chunks
			continue
		}
		if len(chunk.Choices) == 0 {
			continue
		}

		if token := chunk.Choices[0].Delta.Content; token != "" {
			if err := onToken(token); err != nil {
				return fmt.Errorf("callback error: %w", err)
			}
		}
		if chunk.Choices[0].FinishReason != "" {
			return nil
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("%w: failed to read stream: %w", ErrGenerationFailure, err)
	}
	return fmt.Errorf("%w: stream ended before [DONE] or a finish reason", ErrGenerationFailure)
}

func (c *OpenAIClient) post(ctx context.Context, client *http.Client, stream bool, prompt string) (*http.Response, error) {
	if c.APIKey == "" {
		return nil, fmt.Errorf("%w: OPENAI_API_KEY is not set", ErrGenerationFailure)
	}

	url := fmt.Sprintf("%s/v1/chat/completions", c.BaseURL)

	body, err := json.Marshal(ChatRequest{
		Model: c.Model,
		Messages: []ChatMessage{
			{Role: "system", Content: openAISystemPrompt},
			{Role: "user", Content: prompt},
		},
		Temperature: DefaultTemperature,
		Stream:      stream,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.APIKey))
	req.Header.Set("Content-Type", "application/json")
	if stream {
		req.Header.Set("Accept", "text/event-stream")
	}

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
