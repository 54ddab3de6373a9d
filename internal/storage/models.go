package storage

import "time"

// DocumentRecord is an uploaded document.
type DocumentRecord struct {
	ID          string    // UUID
	Filename    string    // Sanitized display name
	ContentType string    // MIME type reported at upload
	StoragePath string    // Path of the raw file, relative to the file store root
	CreatedAt   time.Time // UTC
}

// ChunkRecord is a window of a document's extracted text.
type ChunkRecord struct {
	ID         string // UUID
	DocumentID string // Foreign key to documents.id
	ChunkIndex int    // Index within document (starts at 0, contiguous)
	Text       string
	StartChar  *int // Rune offset into the extracted text, nil when unknown
	EndChar    *int // Exclusive rune offset, nil when unknown
}

// VectorEntry links a chunk to the internal id of its vector in the index.
type VectorEntry struct {
	ChunkID        string
	InternalID     int64
	EmbeddingModel string
	CreatedAt      time.Time
}
