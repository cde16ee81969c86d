package host

import (
	"strings"

	"github.com/agnivade/levenshtein"
)

// closestWord returns the wordlist entry nearest to w, or "" when nothing is
// within a plausible typo distance.
func closestWord(w string, words []string) string {
	w = strings.ToLower(strings.TrimSpace(w))
	if w == "" {
		return ""
	}
	best := ""
	bestDist := -1
	for _, cand := range words {
		d := levenshtein.ComputeDistance(w, cand)
		if bestDist < 0 || d < bestDist {
			best, bestDist = cand, d
		}
	}
	limit := len([]rune(w)) / 2
	if limit < 1 {
		limit = 1
	}
	if bestDist > limit {
		return ""
	}
	return best
}

// unknownWord returns the first word of phrase missing from words.
func unknownWord(phrase string, words []string) (string, bool) {
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		set[w] = struct{}{}
	}
	for _, w := range strings.Fields(phrase) {
		if _, ok := set[w]; !ok {
			return w, true
		}
	}
	return "", false
}
