package rag

import "unicode/utf8"

// DefaultSnippetChars is the rune length of citation snippets.
const DefaultSnippetChars = 240

// BuildCitations converts hits into citations in the same order.
func BuildCitations(hits []SearchHit, snippetChars int) []Citation {
	if snippetChars <= 0 {
		snippetChars = DefaultSnippetChars
	}

	citations := make([]Citation, 0, len(hits))
	for _, h := range hits {
		citations = append(citations, Citation{
			ChunkID:    h.ChunkID,
			DocumentID: h.DocumentID,
			Filename:   h.Filename,
			ChunkIndex: h.ChunkIndex,
			StartChar:  h.StartChar,
			EndChar:    h.EndChar,
			Snippet:    snippet(h.Text, snippetChars),
		})
	}
	return citations
}

func snippet(text string, n int) string {
	if utf8.RuneCountInString(text) <= n {
		return text
	}
	return truncateRunes(text, n) + "…"
}
