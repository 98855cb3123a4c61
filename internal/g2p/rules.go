package g2p

import (
	"fmt"
	"strings"
)

// grapheme is one letter-to-sound rule. Rules are matched longest first.
type grapheme struct {
	letters string
	phones  []string
	// initial restricts the rule to the start of the word.
	initial bool
	// final restricts the rule to the end of the word.
	final bool
}

var rules = []grapheme{
	{letters: "tch", phones: []string{"CH"}},
	{letters: "sch", phones: []string{"S", "K"}},
	{letters: "igh", phones: []string{"AY"}},
	{letters: "ght", phones: []string{"T"}},
	{letters: "kn", phones: []string{"N"}, initial: true},
	{letters: "wr", phones: []string{"R"}, initial: true},
	{letters: "ey", phones: []string{"IY"}, final: true},
	{letters: "ph", phones: []string{"F"}},
	{letters: "sh", phones: []string{"SH"}},
	{letters: "ch", phones: []string{"CH"}},
	{letters: "th", phones: []string{"TH"}},
	{letters: "ng", phones: []string{"NG"}},
	{letters: "ck", phones: []string{"K"}},
	{letters: "qu", phones: []string{"K", "W"}},
	{letters: "wh", phones: []string{"W"}},
	{letters: "ee", phones: []string{"IY"}},
	{letters: "ea", phones: []string{"IY"}},
	{letters: "ie", phones: []string{"IY"}},
	{letters: "oo", phones: []string{"UW"}},
	{letters: "ue", phones: []string{"UW"}},
	{letters: "ou", phones: []string{"AW"}},
	{letters: "ow", phones: []string{"OW"}},
	{letters: "oi", phones: []string{"OY"}},
	{letters: "oy", phones: []string{"OY"}},
	{letters: "ai", phones: []string{"EY"}},
	{letters: "ay", phones: []string{"EY"}},
	{letters: "au", phones: []string{"AO"}},
	{letters: "aw", phones: []string{"AO"}},
	{letters: "er", phones: []string{"ER"}},
	{letters: "ir", phones: []string{"ER"}},
	{letters: "ur", phones: []string{"ER"}},
	{letters: "ar", phones: []string{"AA", "R"}},
	{letters: "or", phones: []string{"AO", "R"}},
}

var letters = map[rune][]string{
	'a': {"AE"}, 'b': {"B"}, 'd': {"D"}, 'e': {"EH"}, 'f': {"F"},
	'g': {"G"}, 'h': {"HH"}, 'i': {"IH"}, 'j': {"JH"}, 'k': {"K"},
	'l': {"L"}, 'm': {"M"}, 'n': {"N"}, 'o': {"AA"}, 'p': {"P"},
	'q': {"K"}, 'r': {"R"}, 's': {"S"}, 't': {"T"}, 'u': {"UW"},
	'v': {"V"}, 'w': {"W"}, 'x': {"K", "S"}, 'z': {"Z"},
}

// Rules converts English spellings to ARPAbet with a small letter-to-sound
// rule set. It only handles ASCII letters; apostrophes and hyphens are
// ignored and any other character makes the word unconvertible.
type Rules struct{}

var _ Converter = Rules{}

// Convert implements [Converter].
func (Rules) Convert(word string) ([]string, error) {
	w, ok := normalize(word)
	if !ok || w == "" {
		return nil, fmt.Errorf("%w for %q", ErrNoPronunciation, word)
	}

	var out []string
	emit := func(p ...string) {
		for _, ph := range p {
			// Doubled consonants ("ll", "tt") sound once.
			if n := len(out); n > 0 && out[n-1] == ph && !isVowelPhone(ph) {
				continue
			}
			out = append(out, ph)
		}
	}

	for i := 0; i < len(w); {
		if r, n := matchRule(w, i); n > 0 {
			emit(r.phones...)
			i += n
			continue
		}
		c := rune(w[i])
		switch {
		case c == 'e' && i == len(w)-1 && i >= 2 && !isVowel(rune(w[i-1])):
			// Silent final e.
		case c == 'c':
			if i+1 < len(w) && strings.ContainsRune("eiy", rune(w[i+1])) {
				emit("S")
			} else {
				emit("K")
			}
		case c == 'y':
			switch {
			case i == 0:
				emit("Y")
			case i == len(w)-1:
				emit("IY")
			default:
				emit("IH")
			}
		case c == 's' && i == len(w)-1 && i > 0 && isVowel(rune(w[i-1])):
			emit("Z")
		default:
			emit(letters[c]...)
		}
		i++
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w for %q", ErrNoPronunciation, word)
	}
	return out, nil
}

func matchRule(w string, i int) (grapheme, int) {
	for _, r := range rules {
		if !strings.HasPrefix(w[i:], r.letters) {
			continue
		}
		if r.initial && i != 0 {
			continue
		}
		if r.final && i+len(r.letters) != len(w) {
			continue
		}
		return r, len(r.letters)
	}
	return grapheme{}, 0
}

// normalize lowercases word and drops apostrophes and hyphens. ok is false if
// a character outside a-z remains.
func normalize(word string) (string, bool) {
	var b strings.Builder
	for _, r := range strings.ToLower(word) {
		switch {
		case r == '\'' || r == '-':
		case r >= 'a' && r <= 'z':
			b.WriteRune(r)
		default:
			return "", false
		}
	}
	return b.String(), true
}

func isVowel(r rune) bool { return strings.ContainsRune("aeiou", r) }

func isVowelPhone(p string) bool {
	switch p[0] {
	case 'A', 'E', 'I', 'O', 'U':
		return true
	}
	return false
}
