package hints

import (
	"slices"
	"strings"
)

// keySeparator joins words in a cache key. Words never contain it because
// they are whitespace-free tokens.
const keySeparator = "\x1f"

// Vocabulary reports whether a word is already part of the base graph.
type Vocabulary interface {
	Contains(word string) bool
}

// Set is a canonical hint set: deduplicated, sorted, and free of words the
// base vocabulary already covers. The zero value is the empty set.
type Set struct {
	words []string
}

// Canonicalize builds a [Set] from words in any order. Empty strings are
// dropped and, when vocab is non-nil, so are words it contains.
func Canonicalize(words []string, vocab Vocabulary) Set {
	out := make([]string, 0, len(words))
	for _, w := range words {
		w = strings.TrimSpace(w)
		if w == "" || strings.ContainsAny(w, " \t\n"+keySeparator) {
			continue
		}
		if vocab != nil && vocab.Contains(w) {
			continue
		}
		out = append(out, w)
	}
	slices.Sort(out)
	return Set{words: slices.Compact(out)}
}

// Words returns the words in canonical order. The slice must not be modified.
func (s Set) Words() []string { return s.words }

// Len returns the number of words.
func (s Set) Len() int { return len(s.words) }

// IsEmpty reports whether the set has no words.
func (s Set) IsEmpty() bool { return len(s.words) == 0 }

// Key returns the cache key of the set.
func (s Set) Key() string { return strings.Join(s.words, keySeparator) }
