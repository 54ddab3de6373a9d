package vectorstore

import (
	"cmp"
	"context"
	"errors"
	"slices"
)

const (
	// BackendFile names the single-file flat index backend.
	BackendFile = "file"
	// BackendQdrant names the Qdrant collection backend.
	BackendQdrant = "qdrant"
)

// NoResult is the id reported for a result slot with no vector behind it.
const NoResult int64 = -1

var (
	// ErrDimensionMismatch is returned when a vector length differs from the index dimension.
	ErrDimensionMismatch = errors.New("vector dimension mismatch")
	// ErrIndexNotReady is returned when searching before anything was indexed.
	ErrIndexNotReady = errors.New("vector index not ready")
	// ErrCorruptIndex is returned when a persisted index file cannot be decoded.
	ErrCorruptIndex = errors.New("corrupt vector index file")
	// ErrIDConflict is returned when the ids allocated for new vectors are already taken.
	ErrIDConflict = errors.New("vector id already taken")
)

// Match is one search result: an internal vector id and its inner-product score.
type Match struct {
	ID    int64
	Score float32
}

// Info describes the current state of an index.
type Info struct {
	Backend   string `json:"backend"`
	Dimension int    `json:"dimension"`
	Count     int    `json:"count"`
}

// VectorIndex is an append-only similarity index.
// Ids are assigned as a 0-based insertion sequence and never reused.
type VectorIndex interface {
	// Add appends vectors and returns their ids, Len()..Len()+n-1.
	Add(ctx context.Context, vectors [][]float32) ([]int64, error)
	// Search returns at most k matches sorted by score descending.
	Search(ctx context.Context, query []float32, k int) ([]Match, error)
	// Ready reports whether the index has been persisted at least once.
	Ready(ctx context.Context) (bool, error)
	// Info returns backend, dimension and vector count.
	Info(ctx context.Context) (Info, error)
}

// sortMatches orders matches by score descending, ties by ascending id.
func sortMatches(matches []Match) {
	slices.SortStableFunc(matches, func(a, b Match) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
}
