package fuzzy

import (
	"strings"
)

// maxCompareRunes bounds the quadratic distance computation for long bodies.
const maxCompareRunes = 4000

// LevenshteinDistance calculates the edit distance between two strings.
// It counts single-rune insertions, deletions and substitutions.
func LevenshteinDistance(s1, s2 string) int {
	r1 := []rune(s1)
	r2 := []rune(s2)
	if len(r1) == 0 {
		return len(r2)
	}
	if len(r2) == 0 {
		return len(r1)
	}

	prev := make([]int, len(r2)+1)
	curr := make([]int, len(r2)+1)
	for j := range prev {
		prev[j] = j
	}

	for i := 1; i <= len(r1); i++ {
		curr[0] = i
		for j := 1; j <= len(r2); j++ {
			cost := 0
			if r1[i-1] != r2[j-1] {
				cost = 1
			}
			curr[j] = min3(
				prev[j]+1,      // deletion
				curr[j-1]+1,    // insertion
				prev[j-1]+cost, // substitution
			)
		}
		prev, curr = curr, prev
	}

	return prev[len(r2)]
}

// Similarity returns a score in [0, 1] where 1.0 means the two texts are
// identical after line-ending and whitespace normalization.
func Similarity(a, b string) float64 {
	a = NormalizeText(a)
	b = NormalizeText(b)
	if a == b {
		return 1.0
	}

	ra := []rune(a)
	rb := []rune(b)
	if len(ra) > maxCompareRunes {
		ra = ra[:maxCompareRunes]
	}
	if len(rb) > maxCompareRunes {
		rb = rb[:maxCompareRunes]
	}

	longest := len(ra)
	if len(rb) > longest {
		longest = len(rb)
	}
	if longest == 0 {
		return 1.0
	}

	score := 1.0 - float64(LevenshteinDistance(string(ra), string(rb)))/float64(longest)
	// Truncated inputs can compare equal even though the full texts differ.
	if score >= 1.0 {
		return 0.999
	}
	return score
}

// NormalizeText collapses whitespace runs and unifies line endings so that
// provider round trips (CRLF, trailing newlines) do not count as edits.
func NormalizeText(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.Join(strings.Fields(s), " ")
}

func min3(a, b, c int) int {
	if a < b {
		if a < c {
			return a
		}
		return c
	}
	if b < c {
		return b
	}
	return c
}
