package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"ragassist/internal/vectorstore"
)

type fakeIndex struct {
	ready bool
	info  vectorstore.Info
	err   error
}

func (f *fakeIndex) Ready(context.Context) (bool, error) { return f.ready, f.err }

func (f *fakeIndex) Info(context.Context) (vectorstore.Info, error) { return f.info, f.err }

type fakeModels struct {
	ok  bool
	err error
}

func (f *fakeModels) ModelAvailable(context.Context) (bool, error) { return f.ok, f.err }

func TestHealthHandler_ServeHTTP(t *testing.T) {
	tests := []struct {
		name       string
		index      *fakeIndex
		models     ModelChecker
		wantStatus int
		wantState  string
		wantChecks map[string]string
	}{
		{
			name:       "ready index, model available",
			index:      &fakeIndex{ready: true, info: vectorstore.Info{Backend: "file", Dimension: 384, Count: 10}},
			models:     &fakeModels{ok: true},
			wantStatus: http.StatusOK,
			wantState:  "healthy",
			wantChecks: map[string]string{"vector_index": "ready", "llm_model": "ok"},
		},
		{
			name:       "empty index is still healthy",
			index:      &fakeIndex{info: vectorstore.Info{Backend: "file"}},
			wantStatus: http.StatusOK,
			wantState:  "healthy",
			wantChecks: map[string]string{"vector_index": "empty"},
		},
		{
			name:       "model missing",
			index:      &fakeIndex{ready: true},
			models:     &fakeModels{ok: false},
			wantStatus: http.StatusServiceUnavailable,
			wantState:  "degraded",
			wantChecks: map[string]string{"vector_index": "ready", "llm_model": "missing"},
		},
		{
			name:       "index error",
			index:      &fakeIndex{err: errors.New("connection refused")},
			models:     &fakeModels{err: errors.New("connection refused")},
			wantStatus: http.StatusServiceUnavailable,
			wantState:  "unhealthy",
			wantChecks: map[string]string{"vector_index": "error", "llm_model": "error"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := NewHealthHandler(tt.index, tt.models)
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/health", nil))

			if w.Code != tt.wantStatus {
				t.Errorf("ServeHTTP() status = %v, want %v", w.Code, tt.wantStatus)
			}
			var resp HealthResponse
			if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
				t.Fatal(err)
			}
			if resp.Status != tt.wantState {
				t.Errorf("Status = %q, want %q", resp.Status, tt.wantState)
			}
			for k, v := range tt.wantChecks {
				if resp.Checks[k] != v {
					t.Errorf("Checks[%s] = %q, want %q", k, resp.Checks[k], v)
				}
			}
			if len(resp.Checks) != len(tt.wantChecks) {
				t.Errorf("Checks = %v, want %v", resp.Checks, tt.wantChecks)
			}
		})
	}
}

func TestHealthHandler_MethodNotAllowed(t *testing.T) {
	w := httptest.NewRecorder()
	NewHealthHandler(&fakeIndex{}, nil).ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/health", nil))
	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("ServeHTTP() status = %v, want 405", w.Code)
	}
}

func TestLiveness(t *testing.T) {
	w := httptest.NewRecorder()
	Liveness(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Code != http.StatusOK || w.Body.String() != "{\"status\":\"ok\"}\n" {
		t.Errorf("Liveness() = %v %q", w.Code, w.Body.String())
	}
}
