package indexer

import (
	"errors"
	"fmt"
	"strings"
)

const (
	// DefaultChunkSize is the window length in runes.
	DefaultChunkSize = 800
	// DefaultChunkOverlap is the number of runes shared by consecutive windows.
	DefaultChunkOverlap = 120
	// ChunkerVersion identifies the windowing algorithm in coverage reports.
	ChunkerVersion = "window-v1"
)

// ErrInvalidParameter is returned when chunk size or overlap are out of range.
var ErrInvalidParameter = errors.New("invalid chunking parameter")

// Split cuts text into overlapping windows of at most chunkSize runes.
// Line endings are normalized and the whole input is trimmed first; windows that
// are blank after trimming are dropped and the remaining ones numbered without gaps.
func Split(text string, chunkSize, overlap int) ([]Chunk, error) {
	if chunkSize <= 0 {
		return nil, fmt.Errorf("%w: chunk size must be positive, got %d", ErrInvalidParameter, chunkSize)
	}
	if overlap < 0 || overlap >= chunkSize {
		return nil, fmt.Errorf("%w: overlap must be in [0, %d), got %d", ErrInvalidParameter, chunkSize, overlap)
	}

	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.TrimSpace(text)
	if text == "" {
		return []Chunk{}, nil
	}

	runes := []rune(text)
	n := len(runes)

	chunks := []Chunk{}
	start := 0
	for start < n {
		end := min(start+chunkSize, n)

		window := strings.TrimSpace(string(runes[start:end]))
		if window != "" {
			chunks = append(chunks, Chunk{
				Index:     len(chunks),
				Text:      window,
				StartChar: start,
				EndChar:   end,
			})
		}

		if end == n {
			break
		}
		start = max(end-overlap, start+1)
	}

	return chunks, nil
}
