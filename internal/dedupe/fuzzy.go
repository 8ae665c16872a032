package dedupe

import (
	"sort"
	"strings"

	"github.com/agext/levenshtein"
)

// Similarity scores two normalized company names on a 0-1 scale. It
// takes the better of token-set Jaccard overlap and edit-distance
// similarity over token-sorted forms, so both word reordering
// ("Solutions Acme" vs "Acme Solutions") and small spelling variations
// score high.
func Similarity(a, b string) float64 {
	if a == "" || b == "" {
		return 0
	}
	if a == b {
		return 1
	}

	j := jaccard(tokenSet(a), tokenSet(b))
	l := levenshtein.Similarity(tokenSort(a), tokenSort(b), nil)
	if j > l {
		return j
	}
	return l
}

func tokenSet(s string) map[string]bool {
	fields := strings.Fields(s)
	set := make(map[string]bool, len(fields))
	for _, f := range fields {
		set[f] = true
	}
	return set
}

func jaccard(a, b map[string]bool) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}

	intersection := 0
	for w := range a {
		if b[w] {
			intersection++
		}
	}

	union := len(a)
	for w := range b {
		if !a[w] {
			union++
		}
	}
	return float64(intersection) / float64(union)
}

func tokenSort(s string) string {
	fields := strings.Fields(s)
	sort.Strings(fields)
	return strings.Join(fields, " ")
}
