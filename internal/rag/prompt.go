package rag

import (
	"fmt"
	"strings"
)

// DefaultMaxChunkChars caps the runes of each chunk copied into the prompt.
const DefaultMaxChunkChars = 900

// BuildPrompt assembles the grounding prompt sent to the generation backend.
// Hits are numbered from 1 in the given order so the answer can cite them as [i].
func BuildPrompt(question string, hits []SearchHit, maxChunkChars int) string {
	if len(hits) == 0 {
		return "You are a knowledge assistant.\n" +
			"The user asked a question, but there is no relevant context.\n" +
			"Answer: You do not have enough information in the provided documents.\n\n" +
			"Question: " + question + "\n"
	}
	if maxChunkChars <= 0 {
		maxChunkChars = DefaultMaxChunkChars
	}

	blocks := make([]string, 0, len(hits))
	for i, h := range hits {
		blocks = append(blocks, fmt.Sprintf("[%d] Source: %s (doc_id=%s, chunk=%d)\n%s\n",
			i+1, h.Filename, h.DocumentID, h.ChunkIndex, truncateRunes(h.Text, maxChunkChars)))
	}

	var b strings.Builder
	b.WriteString("You are a RAG assistant. Answer the question using ONLY the context.\n")
	b.WriteString("If the answer is not in the context, say you don't know based on the documents.\n")
	b.WriteString("Cite sources by referencing [1], [2], ... in your answer.\n\n")
	b.WriteString("Question: " + question + "\n\n")
	b.WriteString("Context:\n")
	b.WriteString(strings.Join(blocks, "\n"))
	b.WriteString("\nAnswer:\n")
	return b.String()
}
