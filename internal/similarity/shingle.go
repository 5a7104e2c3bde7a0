package similarity

// DefaultShingleSize is the default character n-gram width.
const DefaultShingleSize = 3

// ShingleSet is the set of character n-grams of a normalized title.
type ShingleSet map[string]struct{}

// Shingles returns the n-grams of normalized, counted in runes. Text shorter
// than n yields the single-element set {text}; empty text yields the empty
// set.
func Shingles(normalized string, n int) ShingleSet {
	if n < 1 {
		n = DefaultShingleSize
	}
	if normalized == "" {
		return ShingleSet{}
	}
	runes := []rune(normalized)
	if len(runes) < n {
		return ShingleSet{normalized: {}}
	}
	set := make(ShingleSet, len(runes)-n+1)
	for i := 0; i+n <= len(runes); i++ {
		set[string(runes[i:i+n])] = struct{}{}
	}
	return set
}

// Jaccard returns |a ∩ b| / |a ∪ b|. Two empty sets score 0.
func Jaccard(a, b ShingleSet) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	small, large := a, b
	if len(small) > len(large) {
		small, large = large, small
	}
	intersection := 0
	for s := range small {
		if _, ok := large[s]; ok {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	return float64(intersection) / float64(union)
}
