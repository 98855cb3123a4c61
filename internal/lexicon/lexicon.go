// Package lexicon loads the static pronunciation lexicon and the phone-level
// symbol files that the hint compiler needs.
//
// Pronunciations are stored as plain phone sequences and returned with word
// position markers attached (see [AddPositionMarkers]).
package lexicon

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"
)

// ErrMalformed is returned for lexicon or list files that cannot be parsed.
var ErrMalformed = errors.New("lexicon: malformed input")

// Pronunciation is a phone sequence.
type Pronunciation []string

// String joins the phones with single spaces.
func (p Pronunciation) String() string { return strings.Join(p, " ") }

// Lexicon maps words to plain (unmarked) pronunciations. It is immutable after
// [Read] returns and safe for concurrent use.
type Lexicon struct {
	entries map[string]Pronunciation
	words   []string
}

// New builds a lexicon from a word to phones map. The map is copied.
func New(entries map[string][]string) *Lexicon {
	l := &Lexicon{entries: make(map[string]Pronunciation, len(entries))}
	for w, p := range entries {
		l.entries[w] = slices.Clone(Pronunciation(p))
		l.words = append(l.words, w)
	}
	slices.Sort(l.words)
	return l
}

// Read parses "word phone phone ..." lines. Later duplicates of a word replace
// earlier ones. Blank lines are ignored; a word without phones is malformed.
func Read(r io.Reader) (*Lexicon, error) {
	entries := make(map[string][]string)
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	line := 0
	for sc.Scan() {
		line++
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 {
			continue
		}
		if len(fields) < 2 {
			return nil, fmt.Errorf("%w: line %d: word %q has no phones", ErrMalformed, line, fields[0])
		}
		entries[fields[0]] = fields[1:]
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("lexicon: read: %w", err)
	}
	return New(entries), nil
}

// Lookup returns the position-marked pronunciation of word.
func (l *Lexicon) Lookup(word string) (Pronunciation, bool) {
	p, ok := l.entries[word]
	if !ok {
		return nil, false
	}
	return AddPositionMarkers(p), true
}

// Phones returns the unmarked pronunciation of word.
func (l *Lexicon) Phones(word string) ([]string, bool) {
	p, ok := l.entries[word]
	if !ok {
		return nil, false
	}
	return slices.Clone([]string(p)), true
}

// Words returns all words in sorted order. The slice is owned by l.
func (l *Lexicon) Words() []string { return l.words }

// Len returns the number of entries.
func (l *Lexicon) Len() int { return len(l.entries) }

// AddPositionMarkers tags phones with their position in the word: _S for a
// single phone, otherwise _B for the first, _E for the last and _I between.
func AddPositionMarkers(phones []string) Pronunciation {
	out := make(Pronunciation, len(phones))
	for i, p := range phones {
		switch {
		case len(phones) == 1:
			out[i] = p + "_S"
		case i == 0:
			out[i] = p + "_B"
		case i == len(phones)-1:
			out[i] = p + "_E"
		default:
			out[i] = p + "_I"
		}
	}
	return out
}
