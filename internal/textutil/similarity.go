package textutil

import "strings"

// CosineSimilarity computes the cosine similarity between two fingerprints.
// Returns 0 if either fingerprint is nil or has zero norm.
func CosineSimilarity(a, b *Fingerprint) float64 {
	if a == nil || b == nil || a.norm == 0 || b.norm == 0 {
		return 0
	}
	var dot float64
	for token, count := range a.tokens {
		if other, ok := b.tokens[token]; ok {
			dot += count * other
		}
	}
	if dot == 0 {
		return 0
	}
	sim := dot / (a.norm * b.norm)
	if sim > 1 {
		return 1
	}
	return sim
}

// Similarity is CosineSimilarity over freshly built fingerprints.
func Similarity(a, b string) float64 {
	return CosineSimilarity(NewFingerprint(a), NewFingerprint(b))
}

// Normalize lowercases text and collapses punctuation and whitespace runs so
// that two renderings of the same utterance compare equal.
func Normalize(text string) string {
	return strings.Join(tokenSplitPattern.Split(strings.ToLower(strings.TrimSpace(text)), -1), " ")
}

// SameOrContained reports whether two texts are equal after normalization or
// one contains the other.
func SameOrContained(a, b string) bool {
	na, nb := strings.TrimSpace(Normalize(a)), strings.TrimSpace(Normalize(b))
	if na == "" || nb == "" {
		return na == nb
	}
	return na == nb || strings.Contains(na, nb) || strings.Contains(nb, na)
}
