package handlers

import (
	"encoding/json"
	"net/http"

	"ragassist/internal/contextutil"
	"ragassist/internal/rag"
	"ragassist/internal/service"
)

// SearchHandler handles HTTP requests for similarity search.
type SearchHandler struct {
	engine rag.Engine
}

// NewSearchHandler creates a new SearchHandler.
func NewSearchHandler(engine rag.Engine) *SearchHandler {
	return &SearchHandler{engine: engine}
}

// SearchRequest represents the HTTP request payload for search.
type SearchRequest struct {
	Query string `json:"query"`
	// TopK defaults to 5 when omitted.
	TopK *int `json:"top_k,omitempty"`
}

// ServeHTTP handles POST /api/search.
func (h *SearchHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := contextutil.LoggerFromContext(ctx)

	if r.Method != http.MethodPost {
		logger.WarnContext(ctx, "method not allowed", "method", r.Method)
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	var req SearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.WarnContext(ctx, "invalid request body", "error", err)
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	topK := rag.DefaultTopK
	if req.TopK != nil {
		topK = *req.TopK
	}
	if err := service.ValidateQuery("query", req.Query); err != nil {
		handleServiceError(ctx, w, err, "Invalid request")
		return
	}
	if err := service.ValidateTopK(topK, service.MaxSearchTopK); err != nil {
		handleServiceError(ctx, w, err, "Invalid request")
		return
	}

	result, err := h.engine.Search(ctx, req.Query, topK)
	if err != nil {
		handleServiceError(ctx, w, err, "Failed to search")
		return
	}
	if result.Hits == nil {
		result.Hits = []rag.SearchHit{}
	}
	writeJSON(ctx, w, http.StatusOK, result)
}
