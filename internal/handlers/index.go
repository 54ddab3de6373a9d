package handlers

import (
	"context"
	"net/http"

	"ragassist/internal/contextutil"
	"ragassist/internal/service"
)

// IndexHandler handles HTTP requests for bulk indexing and index coverage.
type IndexHandler struct {
	documents service.DocumentService
}

// NewIndexHandler creates a new IndexHandler.
func NewIndexHandler(documents service.DocumentService) *IndexHandler {
	return &IndexHandler{documents: documents}
}

// IndexResponse represents the response from the index endpoint.
type IndexResponse struct {
	Message string `json:"message"`
	Status  string `json:"status"`
}

// ServeHTTP handles POST /api/index.
// Indexing runs in the background and the request returns immediately.
func (h *IndexHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := contextutil.LoggerFromContext(ctx)

	if r.Method != http.MethodPost {
		logger.WarnContext(ctx, "method not allowed", "method", r.Method)
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	logger.InfoContext(ctx, "indexing triggered via API")

	// Detach from the request so indexing outlives it; the logger stays in the context.
	indexCtx := context.WithoutCancel(ctx)
	go func() {
		summary, err := h.documents.IndexAll(indexCtx)
		if err != nil {
			logger.ErrorContext(indexCtx, "indexing failed", "error", err)
			return
		}
		logger.InfoContext(indexCtx, "indexing completed",
			"documents", summary.Documents,
			"indexed", summary.Indexed,
			"failed", summary.Failed,
		)
	}()

	writeJSON(ctx, w, http.StatusAccepted, IndexResponse{
		Message: "Indexing started. Check server logs for progress.",
		Status:  "accepted",
	})
}

// Stats handles GET /api/index/stats.
func (h *IndexHandler) Stats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	stats, err := h.documents.Coverage(ctx)
	if err != nil {
		handleServiceError(ctx, w, err, "Failed to compute index coverage")
		return
	}
	writeJSON(ctx, w, http.StatusOK, stats)
}
