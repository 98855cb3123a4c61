package g2p

import (
	"fmt"
	"strings"

	"github.com/antzucaro/matchr"
)

const defaultSoundAlikeThreshold = 0.90

// Vocabulary is the read-only lexicon view [SoundAlike] borrows from.
type Vocabulary interface {
	Words() []string
	Phones(word string) ([]string, bool)
}

// SoundAlikeOption configures a [SoundAlike] converter.
type SoundAlikeOption func(*SoundAlike)

// WithSoundAlikeThreshold sets the minimum Jaro-Winkler similarity a lexicon
// word must reach to lend its pronunciation. Default: 0.90.
func WithSoundAlikeThreshold(threshold float64) SoundAlikeOption {
	return func(s *SoundAlike) {
		s.threshold = threshold
	}
}

// SoundAlike borrows the pronunciation of a phonetically similar lexicon
// word. Lexicon words are indexed by their Double Metaphone codes at
// construction; a query only ranks the words sharing a code with it, by
// Jaro-Winkler similarity of the lowercased spellings.
//
// A SoundAlike is read-only after construction and safe for concurrent use.
type SoundAlike struct {
	vocab     Vocabulary
	index     map[string][]string
	threshold float64
}

var _ Converter = (*SoundAlike)(nil)

// NewSoundAlike indexes vocab.
func NewSoundAlike(vocab Vocabulary, opts ...SoundAlikeOption) *SoundAlike {
	s := &SoundAlike{
		vocab:     vocab,
		index:     make(map[string][]string),
		threshold: defaultSoundAlikeThreshold,
	}
	for _, o := range opts {
		o(s)
	}
	for _, w := range vocab.Words() {
		for code := range phoneticCodes(strings.ToLower(w)) {
			s.index[code] = append(s.index[code], w)
		}
	}
	return s
}

// Convert implements [Converter].
func (s *SoundAlike) Convert(word string) ([]string, error) {
	lower := strings.ToLower(strings.TrimSpace(word))
	if lower == "" {
		return nil, fmt.Errorf("%w for %q", ErrNoPronunciation, word)
	}

	best, bestScore := "", 0.0
	for code := range phoneticCodes(lower) {
		for _, cand := range s.index[code] {
			score := matchr.JaroWinkler(lower, strings.ToLower(cand), false)
			// Ties resolve to the lexicographically smaller word so results
			// do not depend on map iteration order.
			if score > bestScore || (score == bestScore && cand < best) {
				best, bestScore = cand, score
			}
		}
	}
	if best == "" || bestScore < s.threshold {
		return nil, fmt.Errorf("%w for %q", ErrNoPronunciation, word)
	}
	phones, ok := s.vocab.Phones(best)
	if !ok {
		return nil, fmt.Errorf("%w for %q", ErrNoPronunciation, word)
	}
	return phones, nil
}

// phoneticCodes returns the non-empty Double Metaphone codes of w.
func phoneticCodes(w string) map[string]struct{} {
	codes := make(map[string]struct{}, 2)
	p, s := matchr.DoubleMetaphone(w)
	if p != "" {
		codes[p] = struct{}{}
	}
	if s != "" {
		codes[s] = struct{}{}
	}
	return codes
}
