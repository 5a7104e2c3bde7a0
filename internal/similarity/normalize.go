// Package similarity detects duplicate and near-duplicate article titles.
//
// Two mechanisms run over the corpus and are reported independently:
// exact-match clustering on a normalized key, which always runs and
// partitions the corpus, and pairwise Jaccard scoring over character
// shingles, which only runs while the corpus is at or below a configured
// ceiling.
package similarity

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

var urlPattern = regexp.MustCompile(`https?://\S+`)

// Normalize maps a title to its comparison key: compatibility-normalized,
// case folded, URLs removed, every run of non-letter/non-digit characters
// collapsed to a single space, and trimmed.
func Normalize(text string) string {
	return normalizeWith(cases.Fold(), text)
}

// normalizeWith lets callers reuse a Caser; Casers are not safe for
// concurrent use.
func normalizeWith(fold cases.Caser, text string) string {
	if text == "" {
		return ""
	}
	folded := fold.String(norm.NFKC.String(text))
	folded = urlPattern.ReplaceAllString(folded, " ")

	var b strings.Builder
	b.Grow(len(folded))
	pendingSpace := false
	for _, r := range folded {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.Is(unicode.Mn, r) {
			if pendingSpace && b.Len() > 0 {
				b.WriteByte(' ')
			}
			pendingSpace = false
			b.WriteRune(r)
			continue
		}
		pendingSpace = true
	}
	return b.String()
}
