// Package transcript turns decoded word labels into display text.
package transcript

import (
	"strings"
	"unicode/utf8"

	"github.com/MrWong99/hintstream/pkg/fst"
)

// SpellSuffix marks a token as one fragment of a spelled-out word.
const SpellSuffix = "(spell)"

// Symbols resolves base vocabulary labels. [*fst.SymbolTable] implements it.
type Symbols interface {
	Symbol(l fst.Label) (string, bool)
}

// HintWords resolves hint labels. [*hints.Graph] implements it.
type HintWords interface {
	Word(l fst.Label) (string, bool)
}

// Builder joins word labels into text. It is read-only and safe for
// concurrent use.
type Builder struct {
	words     Symbols
	hintStart fst.Label
}

// NewBuilder returns a builder resolving labels below hintStart through
// words.
func NewBuilder(words Symbols, hintStart fst.Label) *Builder {
	return &Builder{words: words, hintStart: hintStart}
}

// Tokens resolves labels to words. Epsilons and unknown labels are skipped;
// hints may be nil.
func (b *Builder) Tokens(labels []fst.Label, hints HintWords) []string {
	out := make([]string, 0, len(labels))
	for _, l := range labels {
		if l == fst.Epsilon {
			continue
		}
		var (
			w  string
			ok bool
		)
		if l >= b.hintStart {
			if hints != nil {
				w, ok = hints.Word(l)
			}
		} else {
			w, ok = b.words.Symbol(l)
		}
		if ok && w != "" {
			out = append(out, w)
		}
	}
	return out
}

// Build resolves labels and joins the words with single spaces, except that
// runs of spelling fragments are written together with their markers
// stripped.
func (b *Builder) Build(labels []fst.Label, hints HintWords) string {
	return Join(b.Tokens(labels, hints))
}

// Join applies the spelling rule of [Builder.Build] to resolved tokens.
func Join(tokens []string) string {
	var sb strings.Builder
	prevLetters := false
	for i, tok := range tokens {
		letters := IsSpelling(tok)
		if i > 0 && !(prevLetters && letters) {
			sb.WriteByte(' ')
		}
		if letters {
			tok = strings.TrimSuffix(tok, SpellSuffix)
		}
		sb.WriteString(tok)
		prevLetters = letters
	}
	return sb.String()
}

// IsSpelling reports whether tok is a spelling fragment: a single character
// or a token carrying [SpellSuffix].
func IsSpelling(tok string) bool {
	return strings.HasSuffix(tok, SpellSuffix) || utf8.RuneCountInString(tok) == 1
}
