package llm

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestNewEmbeddingsClient(t *testing.T) {
	client := NewEmbeddingsClient("http://localhost:8080", "test-key", "test-model", 384, time.Second)
	if client == nil {
		t.Fatal("NewEmbeddingsClient() returned nil")
	}
	if client.BaseURL != "http://localhost:8080" {
		t.Errorf("NewEmbeddingsClient() BaseURL = %v, want http://localhost:8080", client.BaseURL)
	}
	if client.ExpectedSize != 384 {
		t.Errorf("NewEmbeddingsClient() ExpectedSize = %v, want 384", client.ExpectedSize)
	}
	if client.ModelName() != "test-model" {
		t.Errorf("ModelName() = %v, want test-model", client.ModelName())
	}
}

func embeddingsServer(t *testing.T, vectors [][]float64) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if r.URL.Path != "/v1/embeddings" {
			t.Errorf("expected /v1/embeddings, got %s", r.URL.Path)
		}
		resp := EmbeddingsResponse{}
		for i, v := range vectors {
			resp.Data = append(resp.Data, EmbeddingData{Index: i, Embedding: v})
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
}

func TestEmbeddingsClient_EmbedTexts(t *testing.T) {
	tests := []struct {
		name         string
		texts        []string
		expectedSize int
		vectors      [][]float64
		status       int
		wantErr      bool
		wantCount    int
	}{
		{
			name:         "successful embedding",
			texts:        []string{"Hello", "World"},
			expectedSize: 3,
			vectors:      [][]float64{{3, 4, 0}, {0, 0, 2}},
			wantCount:    2,
		},
		{
			name:         "size inferred when not configured",
			texts:        []string{"Hello"},
			expectedSize: 0,
			vectors:      [][]float64{{1, 1}},
			wantCount:    1,
		},
		{
			name:         "empty input",
			texts:        []string{},
			expectedSize: 3,
			wantErr:      true,
		},
		{
			name:         "count mismatch",
			texts:        []string{"a", "b"},
			expectedSize: 2,
			vectors:      [][]float64{{1, 0}},
			wantErr:      true,
		},
		{
			name:         "size mismatch",
			texts:        []string{"a"},
			expectedSize: 3,
			vectors:      [][]float64{{1, 0}},
			wantErr:      true,
		},
		{
			name:         "inconsistent sizes in batch",
			texts:        []string{"a", "b"},
			expectedSize: 0,
			vectors:      [][]float64{{1, 0}, {1, 0, 0}},
			wantErr:      true,
		},
		{
			name:         "server error",
			texts:        []string{"a"},
			expectedSize: 2,
			status:       http.StatusInternalServerError,
			wantErr:      true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var server *httptest.Server
			if tt.status != 0 {
				server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
					http.Error(w, "boom", tt.status)
				}))
			} else {
				server = embeddingsServer(t, tt.vectors)
			}
			defer server.Close()

			client := NewEmbeddingsClient(server.URL, "test-key", "test-model", tt.expectedSize, time.Second)
			got, err := client.EmbedTexts(context.Background(), tt.texts)

			if tt.wantErr {
				if !errors.Is(err, ErrEmbeddingFailure) {
					t.Errorf("EmbedTexts() error = %v, want ErrEmbeddingFailure", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("EmbedTexts() unexpected error: %v", err)
			}
			if len(got) != tt.wantCount {
				t.Fatalf("EmbedTexts() returned %d vectors, want %d", len(got), tt.wantCount)
			}
			for i, v := range got {
				var sum float64
				for _, x := range v {
					sum += float64(x) * float64(x)
				}
				if math.Abs(math.Sqrt(sum)-1) > 1e-6 {
					t.Errorf("vector %d norm = %v, want 1", i, math.Sqrt(sum))
				}
			}
		})
	}
}

func TestEmbeddingsClient_EmbedQueryNormalizes(t *testing.T) {
	server := embeddingsServer(t, [][]float64{{3, 4}})
	defer server.Close()

	client := NewEmbeddingsClient(server.URL, "", "m", 2, time.Second)
	got, err := client.EmbedQuery(context.Background(), "q")
	if err != nil {
		t.Fatalf("EmbedQuery() unexpected error: %v", err)
	}
	if math.Abs(float64(got[0])-0.6) > 1e-6 || math.Abs(float64(got[1])-0.8) > 1e-6 {
		t.Errorf("EmbedQuery() = %v, want [0.6 0.8]", got)
	}
}

func TestEmbeddingsClient_RowsPlacedByIndex(t *testing.T) {
	tests := []struct {
		name    string
		rows    []EmbeddingData
		want    [][]float32
		wantErr bool
	}{
		{
			name: "reversed rows",
			rows: []EmbeddingData{
				{Index: 1, Embedding: []float64{0, 1}},
				{Index: 0, Embedding: []float64{1, 0}},
			},
			want: [][]float32{{1, 0}, {0, 1}},
		},
		{
			name: "duplicate index",
			rows: []EmbeddingData{
				{Index: 0, Embedding: []float64{1, 0}},
				{Index: 0, Embedding: []float64{0, 1}},
			},
			wantErr: true,
		},
		{
			name: "index out of range",
			rows: []EmbeddingData{
				{Index: 0, Embedding: []float64{1, 0}},
				{Index: 2, Embedding: []float64{0, 1}},
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				_ = json.NewEncoder(w).Encode(EmbeddingsResponse{Data: tt.rows})
			}))
			defer server.Close()

			client := NewEmbeddingsClient(server.URL, "", "m", 2, time.Second)
			got, err := client.EmbedTexts(context.Background(), []string{"first", "second"})
			if tt.wantErr {
				if !errors.Is(err, ErrEmbeddingFailure) {
					t.Errorf("EmbedTexts() error = %v, want ErrEmbeddingFailure", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("EmbedTexts() unexpected error: %v", err)
			}
			for i := range tt.want {
				if got[i][0] != tt.want[i][0] || got[i][1] != tt.want[i][1] {
					t.Errorf("vector %d = %v, want %v", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestNormalize_ZeroVector(t *testing.T) {
	got := normalize([]float64{0, 0, 0})
	for _, x := range got {
		if x != 0 {
			t.Fatalf("normalize(zero) = %v", got)
		}
	}
}
