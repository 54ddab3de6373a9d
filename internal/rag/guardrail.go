package rag

const (
	// DefaultMinScore is the top-hit score below which no backend is called.
	DefaultMinScore float32 = 0.15

	// InsufficientContextAnswer is returned instead of a generated answer when
	// retrieval found nothing relevant enough.
	InsufficientContextAnswer = "I don't have enough information in the provided documents to answer."

	noBackendModel = "n/a"
)

// HasSufficientContext reports whether the best hit scores at least minScore.
// Hits must already be sorted by descending score.
func HasSufficientContext(hits []SearchHit, minScore float32) bool {
	if len(hits) == 0 {
		return false
	}
	return hits[0].Score >= minScore
}
