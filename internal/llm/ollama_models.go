package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// TagsResponse represents the response from Ollama's /api/tags endpoint.
type TagsResponse struct {
	Models []struct {
		Name  string `json:"name"`
		Model string `json:"model"`
	} `json:"models"`
}

// ModelAvailable reports whether the configured model is pulled on the Ollama server.
// A model configured without a tag matches the server's ":latest" entry.
func (c *OllamaClient) ModelAvailable(ctx context.Context) (bool, error) {
	url := fmt.Sprintf("%s/api/tags", c.BaseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false, fmt.Errorf("failed to create tags request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("failed to list models: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		return false, fmt.Errorf("bad status %d: %s", resp.StatusCode, string(raw))
	}

	var tags TagsResponse
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return false, fmt.Errorf("failed to decode tags response: %w", err)
	}

	want := c.Model
	if !strings.Contains(want, ":") {
		want += ":latest"
	}
	for _, m := range tags.Models {
		if m.Name == want || m.Model == want {
			return true, nil
		}
	}
	return false, nil
}
