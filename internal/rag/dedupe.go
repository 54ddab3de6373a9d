package rag

const (
	// DefaultMaxUniqueHits caps the hits kept after deduplication.
	DefaultMaxUniqueHits = 5
	dedupeKeyRunes       = 200
)

type dedupeKey struct {
	filename string
	prefix   string
}

// Dedupe drops hits whose filename and first 200 runes of text were already
// seen, keeping the first occurrence, and stops after maxUnique hits.
// A non-positive maxUnique selects DefaultMaxUniqueHits.
func Dedupe(hits []SearchHit, maxUnique int) []SearchHit {
	if maxUnique <= 0 {
		maxUnique = DefaultMaxUniqueHits
	}

	seen := make(map[dedupeKey]struct{}, len(hits))
	unique := make([]SearchHit, 0, min(len(hits), maxUnique))
	for _, h := range hits {
		key := dedupeKey{filename: h.Filename, prefix: truncateRunes(h.Text, dedupeKeyRunes)}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		unique = append(unique, h)
		if len(unique) >= maxUnique {
			break
		}
	}
	return unique
}

// truncateRunes returns the first n runes of s.
func truncateRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}
