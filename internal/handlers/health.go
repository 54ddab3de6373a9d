package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"ragassist/internal/contextutil"
	"ragassist/internal/vectorstore"
)

// IndexProbe reports the state of the vector index.
type IndexProbe interface {
	Ready(ctx context.Context) (bool, error)
	Info(ctx context.Context) (vectorstore.Info, error)
}

// ModelChecker reports whether the generation model can be served.
type ModelChecker interface {
	ModelAvailable(ctx context.Context) (bool, error)
}

// HealthHandler handles HTTP requests for health checks.
type HealthHandler struct {
	index              IndexProbe
	models             ModelChecker
	healthCheckTimeout time.Duration
}

// NewHealthHandler creates a new HealthHandler. models may be nil.
func NewHealthHandler(index IndexProbe, models ModelChecker) *HealthHandler {
	return &HealthHandler{
		index:              index,
		models:             models,
		healthCheckTimeout: 5 * time.Second,
	}
}

// HealthResponse represents the health check response.
type HealthResponse struct {
	// Overall health status: "healthy", "degraded", or "unhealthy"
	Status string `json:"status"`

	// Timestamp of the health check
	Timestamp string `json:"timestamp"`

	// Individual check results
	Checks map[string]string `json:"checks"`

	// Index describes the vector index when it could be read.
	Index *vectorstore.Info `json:"index,omitempty"`

	// List of issues (only present if status is degraded or unhealthy)
	Issues []string `json:"issues,omitempty"`
}

// Liveness handles GET /health.
func Liveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(r.Context(), w, http.StatusOK, map[string]string{"status": "ok"})
}

// ServeHTTP handles GET /api/health.
// Returns 200 OK if healthy, 503 Service Unavailable if degraded or unhealthy.
// An index that has not been written yet is reported but is not an issue.
func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := contextutil.LoggerFromContext(ctx)

	if r.Method != http.MethodGet {
		logger.WarnContext(ctx, "method not allowed", "method", r.Method)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	checkCtx, cancel := context.WithTimeout(ctx, h.healthCheckTimeout)
	defer cancel()

	checks := make(map[string]string)
	var issues []string
	status := "healthy"

	info, indexState := h.checkIndex(checkCtx, logger)
	checks["vector_index"] = indexState
	if indexState == "error" {
		issues = append(issues, "vector_index_unavailable")
		status = "unhealthy"
	}

	if h.models != nil {
		modelState := h.checkModel(checkCtx, logger)
		checks["llm_model"] = modelState
		if modelState != "ok" {
			issues = append(issues, "llm_model_unavailable")
			if status == "healthy" {
				status = "degraded"
			}
		}
	}

	httpStatus := http.StatusOK
	if status != "healthy" {
		httpStatus = http.StatusServiceUnavailable
	}

	writeJSON(ctx, w, httpStatus, HealthResponse{
		Status:    status,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Checks:    checks,
		Index:     info,
		Issues:    issues,
	})
}

// checkIndex returns the index info and one of "ready", "empty" or "error".
func (h *HealthHandler) checkIndex(ctx context.Context, logger *slog.Logger) (*vectorstore.Info, string) {
	ready, err := h.index.Ready(ctx)
	if err != nil {
		logger.WarnContext(ctx, "vector index health check failed", "error", err)
		return nil, "error"
	}
	info, err := h.index.Info(ctx)
	if err != nil {
		logger.WarnContext(ctx, "vector index info failed", "error", err)
		return nil, "error"
	}
	if !ready {
		return &info, "empty"
	}
	return &info, "ready"
}

func (h *HealthHandler) checkModel(ctx context.Context, logger *slog.Logger) string {
	ok, err := h.models.ModelAvailable(ctx)
	if err != nil {
		logger.WarnContext(ctx, "llm health check failed", "error", err)
		return "error"
	}
	if !ok {
		logger.WarnContext(ctx, "llm model is not available")
		return "missing"
	}
	return "ok"
}
