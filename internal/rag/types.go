package rag

import "time"

// AskRequest represents a question to answer from the indexed documents.
type AskRequest struct {
	// Question is the user's question to answer.
	Question string `json:"question"`
	// TopK is the number of chunks to retrieve before deduplication. Zero selects the default.
	TopK int `json:"top_k"`
}

// SearchHit is a retrieved chunk hydrated with its document metadata.
type SearchHit struct {
	// Score is the inner product between the query and chunk vectors.
	Score float32 `json:"score"`
	// ChunkID is the chunk identifier.
	ChunkID string `json:"chunk_id"`
	// DocumentID is the owning document identifier.
	DocumentID string `json:"document_id"`
	// Filename is the display name of the owning document.
	Filename string `json:"filename"`
	// ChunkIndex is the position of the chunk within its document.
	ChunkIndex int `json:"chunk_index"`
	// Text is the chunk text.
	Text string `json:"text"`
	// StartChar is the rune offset where the chunk starts, if known.
	StartChar *int `json:"start_char"`
	// EndChar is the rune offset where the chunk ends (exclusive), if known.
	EndChar *int `json:"end_char"`
	// CreatedAt is the document creation time.
	CreatedAt time.Time `json:"created_at"`
}

// SearchResult is the outcome of a similarity search.
type SearchResult struct {
	Query          string      `json:"query"`
	TopK           int         `json:"top_k"`
	EmbeddingModel string      `json:"embedding_model"`
	Hits           []SearchHit `json:"hits"`
}

// Citation points an answer back to the chunk it was grounded on.
type Citation struct {
	ChunkID    string `json:"chunk_id"`
	DocumentID string `json:"document_id"`
	Filename   string `json:"filename"`
	ChunkIndex int    `json:"chunk_index"`
	StartChar  *int   `json:"start_char"`
	EndChar    *int   `json:"end_char"`
	// Snippet is the beginning of the chunk text, suffixed with an ellipsis when cut.
	Snippet string `json:"snippet"`
}

// AskResponse represents the answer to a question.
type AskResponse struct {
	// Answer is the generated answer, or the insufficient-context message.
	Answer string `json:"answer"`
	// Provider is the generation backend that produced the answer.
	Provider string `json:"provider"`
	// Model is the backend model, "n/a" when no backend was called.
	Model string `json:"model"`
	// LatencyMS is the wall time spent answering, in milliseconds.
	LatencyMS int64 `json:"latency_ms"`
	// Citations lists the chunks the prompt was built from.
	Citations []Citation `json:"citations"`
}

// StreamEventType names the kind of a streaming event.
type StreamEventType string

const (
	EventToken StreamEventType = "token"
	EventMeta  StreamEventType = "meta"
	EventDone  StreamEventType = "done"
	EventError StreamEventType = "error"
)

// StreamMeta is sent once after the last token of a streamed answer.
type StreamMeta struct {
	Provider  string     `json:"provider"`
	Model     string     `json:"model"`
	LatencyMS int64      `json:"latency_ms"`
	Citations []Citation `json:"citations"`
}

// StreamEvent is one element of a streamed answer.
// Token is set for token events, Meta for meta events and Err for error events.
type StreamEvent struct {
	Type  StreamEventType
	Token string
	Meta  *StreamMeta
	Err   error
}
