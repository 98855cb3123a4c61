package lexicon

import (
	"slices"
	"strconv"
	"strings"
)

// Disambiguate appends " #n" markers to pronunciations that are a prefix of
// another pronunciation in entries, so that determinization can tell the
// words apart. Counters are kept per pronunciation, start at 1 and are handed
// out in sorted word order. It returns the marked map and the largest counter
// used (0 when nothing collided).
func Disambiguate(entries map[string]Pronunciation) (map[string]Pronunciation, int) {
	prons := make([]string, 0, len(entries))
	for _, p := range entries {
		prons = append(prons, p.String())
	}
	slices.Sort(prons)

	duplicated := make(map[string]bool)
	for i := 0; i+1 < len(prons); i++ {
		if strings.HasPrefix(prons[i+1], prons[i]) {
			duplicated[prons[i]] = true
		}
	}

	words := make([]string, 0, len(entries))
	for w := range entries {
		words = append(words, w)
	}
	slices.Sort(words)

	out := make(map[string]Pronunciation, len(entries))
	counts := make(map[string]int)
	maxCount := 0
	for _, w := range words {
		p := entries[w]
		key := p.String()
		if !duplicated[key] {
			out[w] = slices.Clone(p)
			continue
		}
		counts[key]++
		n := counts[key]
		out[w] = append(slices.Clone(p), "#"+strconv.Itoa(n))
		maxCount = max(maxCount, n)
	}
	return out, maxCount
}
