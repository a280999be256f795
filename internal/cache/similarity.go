package cache

import "strings"

// DefaultSimilarityThreshold is the minimum score a near-duplicate candidate
// must reach to be reused.
const DefaultSimilarityThreshold = 0.95

// SimilarityFunc scores how alike two normalized request texts are, in
// [0, 1]. The algorithm is a pluggable strategy: the engine ships token-set
// overlap, but nothing in the lookup path depends on that choice.
type SimilarityFunc func(a, b string) float64

// JaccardSimilarity scores two texts by token-set overlap:
// |intersection| / |union| over their whitespace-separated tokens.
func JaccardSimilarity(a, b string) float64 {
	setA := tokenSet(a)
	setB := tokenSet(b)
	if len(setA) == 0 && len(setB) == 0 {
		return 1.0
	}
	if len(setA) == 0 || len(setB) == 0 {
		return 0.0
	}

	intersection := 0
	for tok := range setA {
		if setB[tok] {
			intersection++
		}
	}
	union := len(setA) + len(setB) - intersection
	return float64(intersection) / float64(union)
}

func tokenSet(text string) map[string]bool {
	fields := strings.Fields(strings.ToLower(text))
	set := make(map[string]bool, len(fields))
	for _, f := range fields {
		set[f] = true
	}
	return set
}
