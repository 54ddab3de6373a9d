package indexer

// Chunk is one window of a document's extracted text.
type Chunk struct {
	Index     int    // Position among kept windows (starts at 0, no gaps)
	Text      string // Window text with surrounding whitespace trimmed
	StartChar int    // Rune offset of the untrimmed window start
	EndChar   int    // Rune offset of the untrimmed window end (exclusive)
}
