package hints

import (
	"slices"

	"github.com/MrWong99/hintstream/pkg/fst"
)

// Graph is a compiled hint sub-graph. It is immutable and shared read-only
// between sessions.
type Graph struct {
	fst       *fst.Fst
	hintStart fst.Label
	// words[i] is the word emitted as hintStart+i; skipped words are "".
	words []string
}

var emptyGraph = &Graph{fst: fst.New()}

// Empty returns the canonical empty graph. Splicing it adds no paths.
func Empty() *Graph { return emptyGraph }

// Fst returns the graph. It must not be modified.
func (g *Graph) Fst() *fst.Fst { return g.fst }

// IsEmpty reports whether the graph accepts nothing.
func (g *Graph) IsEmpty() bool { return g.fst.IsEmpty() || g.fst.TotalArcs() == 0 }

// HintStart returns the label of the first hint word.
func (g *Graph) HintStart() fst.Label { return g.hintStart }

// Word resolves a hint output label.
func (g *Graph) Word(l fst.Label) (string, bool) {
	i := int(l - g.hintStart)
	if l < g.hintStart || i >= len(g.words) || g.words[i] == "" {
		return "", false
	}
	return g.words[i], true
}

// Words returns the hint words the graph can emit, in label order.
func (g *Graph) Words() []string {
	out := make([]string, 0, len(g.words))
	for _, w := range g.words {
		if w != "" {
			out = append(out, w)
		}
	}
	return out
}

// Skipped returns the words that were dropped for lack of a pronunciation.
func (g *Graph) Skipped(s Set) []string {
	var out []string
	for _, w := range s.Words() {
		if !slices.Contains(g.words, w) {
			out = append(out, w)
		}
	}
	return out
}
