package service

import (
	"errors"
	"fmt"
	"net/http"

	"ragassist/internal/indexer"
	"ragassist/internal/llm"
	"ragassist/internal/storage"
	"ragassist/internal/vectorstore"
)

// ErrInvalidInput matches every ValidationError.
var ErrInvalidInput = errors.New("invalid input")

// ValidationError represents a validation error with a field name.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error on field %s: %s", e.Field, e.Message)
}

// Is lets errors.Is(err, ErrInvalidInput) match validation errors.
func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidInput
}

// WrapError wraps an error with additional context.
func WrapError(err error, msg string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", msg, err)
}

// Kind groups errors by how callers should react to them.
type Kind int

const (
	KindInternal Kind = iota
	KindInvalidParameter
	KindNotFound
	KindIndexNotReady
	KindDimensionMismatch
	KindGenerationFailure
	KindEmbeddingFailure
)

func (k Kind) String() string {
	switch k {
	case KindInvalidParameter:
		return "invalid_parameter"
	case KindNotFound:
		return "not_found"
	case KindIndexNotReady:
		return "index_not_ready"
	case KindDimensionMismatch:
		return "dimension_mismatch"
	case KindGenerationFailure:
		return "generation_failure"
	case KindEmbeddingFailure:
		return "embedding_failure"
	default:
		return "internal"
	}
}

// Classify maps an error from any layer to its Kind.
func Classify(err error) Kind {
	switch {
	case err == nil:
		return KindInternal
	case errors.Is(err, ErrInvalidInput), errors.Is(err, indexer.ErrInvalidParameter):
		return KindInvalidParameter
	case errors.Is(err, storage.ErrNotFound), errors.Is(err, indexer.ErrNoChunks):
		return KindNotFound
	case errors.Is(err, vectorstore.ErrIndexNotReady):
		return KindIndexNotReady
	case errors.Is(err, vectorstore.ErrDimensionMismatch):
		return KindDimensionMismatch
	case errors.Is(err, llm.ErrGenerationFailure):
		return KindGenerationFailure
	case errors.Is(err, llm.ErrEmbeddingFailure):
		return KindEmbeddingFailure
	default:
		return KindInternal
	}
}

// HTTPStatus returns the response status for errors of this kind.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindInvalidParameter, KindIndexNotReady:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindGenerationFailure, KindEmbeddingFailure:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
