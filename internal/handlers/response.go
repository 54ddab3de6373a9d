package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"ragassist/internal/contextutil"
	"ragassist/internal/service"
)

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error string `json:"error"`
	// Kind is the error category, e.g. "not_found" or "index_not_ready".
	Kind string `json:"kind,omitempty"`
}

// writeJSON writes v with the given status code.
func writeJSON(ctx context.Context, w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		contextutil.LoggerFromContext(ctx).ErrorContext(ctx, "failed to encode response", "error", err)
	}
}

// writeError writes an error response.
func writeError(w http.ResponseWriter, statusCode int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Error: message,
	})
}

// handleServiceError maps errors from the service and engine layers to HTTP status codes.
func handleServiceError(ctx context.Context, w http.ResponseWriter, err error, defaultMsg string) {
	logger := contextutil.LoggerFromContext(ctx)
	kind := service.Classify(err)
	status := kind.HTTPStatus()

	if status >= http.StatusInternalServerError {
		logger.ErrorContext(ctx, "service error", "error", err, "kind", kind.String())
	} else {
		logger.WarnContext(ctx, "request rejected", "error", err, "kind", kind.String())
	}

	message := defaultMsg
	var validationErr *service.ValidationError
	switch {
	case errors.As(err, &validationErr):
		message = validationErr.Error()
	case kind == service.KindNotFound:
		message = "Resource not found"
	case kind == service.KindIndexNotReady:
		message = "Index not found. Index at least one document first."
	case kind == service.KindInvalidParameter:
		message = "Invalid parameter"
	case kind == service.KindGenerationFailure:
		message = "Generation backend error"
	case kind == service.KindEmbeddingFailure:
		message = "Embedding service error"
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Error: message,
		Kind:  kind.String(),
	})
}
