package llm

import "errors"

var (
	// ErrGenerationFailure is returned when a generation backend call fails.
	ErrGenerationFailure = errors.New("generation failure")
	// ErrEmbeddingFailure is returned when the embeddings endpoint fails or returns unusable vectors.
	ErrEmbeddingFailure = errors.New("embedding failure")
)
