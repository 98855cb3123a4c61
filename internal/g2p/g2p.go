// Package g2p derives pronunciations for words that are missing from the
// static lexicon.
//
// Three [Converter] implementations are provided:
//
//   - [Rules]: a letter-to-sound rule set producing ARPAbet phones.
//   - [SoundAlike]: borrows the pronunciation of the lexicon word that sounds
//     most like the input (Double Metaphone candidates ranked by
//     Jaro-Winkler similarity).
//   - [Chain]: tries converters in order and returns the first success.
//
// Converters return plain phones; position markers are added by the caller.
package g2p

import (
	"errors"
	"fmt"
)

// ErrNoPronunciation means no pronunciation could be derived for a word.
var ErrNoPronunciation = errors.New("g2p: no pronunciation")

// Converter maps a written word to a phone sequence. Implementations must be
// safe for concurrent use.
type Converter interface {
	Convert(word string) ([]string, error)
}

// ConverterFunc adapts a function to [Converter].
type ConverterFunc func(word string) ([]string, error)

// Convert calls f.
func (f ConverterFunc) Convert(word string) ([]string, error) { return f(word) }

// Chain tries each converter in turn.
type Chain []Converter

var _ Converter = Chain(nil)

// Convert returns the first successful conversion. When all converters fail
// the error wraps [ErrNoPronunciation].
func (c Chain) Convert(word string) ([]string, error) {
	var errs []error
	for _, conv := range c {
		phones, err := conv.Convert(word)
		if err == nil && len(phones) > 0 {
			return phones, nil
		}
		if err != nil && !errors.Is(err, ErrNoPronunciation) {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("%w for %q: %w", ErrNoPronunciation, word, errors.Join(errs...))
	}
	return nil, fmt.Errorf("%w for %q", ErrNoPronunciation, word)
}
