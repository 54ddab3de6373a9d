package indexer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"slices"
)

// CharsPerToken approximates token counts from rune counts.
const CharsPerToken = 4.0

// CoverageStats describes how much of the stored text is searchable.
type CoverageStats struct {
	// Documents is the number of stored documents.
	Documents int `json:"documents"`
	// Chunks is the number of stored chunks.
	Chunks int `json:"chunks"`
	// ChunksRegistered is the number of chunks with a vector in the index.
	ChunksRegistered int `json:"chunks_registered"`
	// IndexVectors is the number of vectors in the index, orphans and stale ones included.
	IndexVectors int `json:"index_vectors"`
	// IndexDimension is the vector dimension, 0 while the index is empty.
	IndexDimension int `json:"index_dimension"`
	// ChunkTokenStats summarizes estimated tokens per chunk.
	ChunkTokenStats ChunkTokenStats `json:"chunk_token_stats"`
	// ChunkerVersion identifies the windowing algorithm.
	ChunkerVersion string `json:"chunker_version"`
	// IndexVersion hashes the chunker version, embedding model and chunk parameters.
	IndexVersion string `json:"index_version"`
}

// ChunkTokenStats contains statistics about token counts in chunks.
type ChunkTokenStats struct {
	Min  int     `json:"min"`
	Max  int     `json:"max"`
	Mean float64 `json:"mean"`
	P95  int     `json:"p95"`
}

// Coverage computes coverage statistics from the stores and the index.
func (p *Pipeline) Coverage(ctx context.Context) (*CoverageStats, error) {
	docs, err := p.documents.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count documents: %w", err)
	}

	lengths, err := p.chunks.TextLengths(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read chunk lengths: %w", err)
	}

	info, err := p.index.Info(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read index info: %w", err)
	}

	tokens := make([]int, len(lengths))
	for i, runes := range lengths {
		tokens[i] = max(1, int(math.Round(float64(runes)/CharsPerToken)))
	}

	return &CoverageStats{
		Documents:        docs,
		Chunks:           len(lengths),
		ChunksRegistered: p.registry.Len(),
		IndexVectors:     info.Count,
		IndexDimension:   info.Dimension,
		ChunkTokenStats:  computeTokenStats(tokens),
		ChunkerVersion:   ChunkerVersion,
		IndexVersion:     IndexVersion(p.embedder.ModelName(), p.opts.ChunkSize, p.opts.ChunkOverlap),
	}, nil
}

// IndexVersion returns a short hash identifying an index build.
func IndexVersion(embeddingModel string, chunkSize, overlap int) string {
	input := fmt.Sprintf("%s|%s|size=%d|overlap=%d", ChunkerVersion, embeddingModel, chunkSize, overlap)
	sum := sha256.Sum256([]byte(input))
	return hex.EncodeToString(sum[:])[:16]
}

// computeTokenStats computes min, max, mean, and p95 from token counts.
func computeTokenStats(tokenCounts []int) ChunkTokenStats {
	if len(tokenCounts) == 0 {
		return ChunkTokenStats{}
	}

	sorted := slices.Clone(tokenCounts)
	slices.Sort(sorted)

	sum := 0
	for _, c := range sorted {
		sum += c
	}
	mean := float64(sum) / float64(len(sorted))

	p95Index := min(int(math.Ceil(float64(len(sorted))*0.95)), len(sorted)-1)

	return ChunkTokenStats{
		Min:  sorted[0],
		Max:  sorted[len(sorted)-1],
		Mean: math.Round(mean*100) / 100,
		P95:  sorted[p95Index],
	}
}
