package fuzzy

import "github.com/agnivade/levenshtein"

// normalizedLevenshteinSimilarity returns 1 - (edit distance / longer
// string's length), in [0, 1]. Two empty strings are defined as an exact
// match.
func normalizedLevenshteinSimilarity(a, b string) float64 {
	if a == "" && b == "" {
		return 1.0
	}
	maxLen := len([]rune(a))
	if bLen := len([]rune(b)); bLen > maxLen {
		maxLen = bLen
	}
	if maxLen == 0 {
		return 1.0
	}
	dist := levenshtein.ComputeDistance(a, b)
	return 1.0 - float64(dist)/float64(maxLen)
}
