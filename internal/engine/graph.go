package engine

import (
	"slices"

	"github.com/MrWong99/hintstream/pkg/fst"
)

// Nonterminal symbol offsets relative to the nonterminal phone offset.
const (
	NontermBos         = 0
	NontermBegin       = 1
	NontermEnd         = 2
	NontermReenter     = 3
	NontermUserDefined = 4
)

// SearchGraph is the immutable context-dependent transition model together
// with the base decoding graph.
type SearchGraph interface {
	// BaseGraph returns the top-level decoding graph.
	BaseGraph() *fst.Fst
	// NontermPhonesOffset is the first phone id reserved for nonterminals.
	NontermPhonesOffset() fst.Label
	// Expand composes a lexicon-grammar graph with context dependency and
	// the transition model, yielding a graph with transition-id input
	// labels. disambig lists phone-level disambiguation symbols to remove.
	Expand(lg *fst.Fst, disambig []fst.Label) (*fst.Fst, error)
}

// GrammarGraph is a base graph with sub-graphs spliced in at nonterminals.
// It is read-only once built.
type GrammarGraph struct {
	Base                *fst.Fst
	NontermPhonesOffset fst.Label
	// Fragments maps a nonterminal phone to the graph replacing it.
	Fragments map[fst.Label]*fst.Fst
}

// NewGrammarGraph splices hint at the first user-defined nonterminal of g.
// A nil or empty hint yields a grammar graph with no fragments.
func NewGrammarGraph(g SearchGraph, hint *fst.Fst) *GrammarGraph {
	gg := &GrammarGraph{
		Base:                g.BaseGraph(),
		NontermPhonesOffset: g.NontermPhonesOffset(),
		Fragments:           make(map[fst.Label]*fst.Fst, 1),
	}
	if hint != nil && !hint.IsEmpty() && hint.TotalArcs() > 0 {
		gg.Fragments[gg.HintNonterminal()] = hint
	}
	return gg
}

// HintNonterminal returns the nonterminal phone hint graphs are bound to.
func (g *GrammarGraph) HintNonterminal() fst.Label {
	return g.NontermPhonesOffset + NontermUserDefined
}

// StaticGraph is a [SearchGraph] for context-independent models: expansion
// only strips disambiguation symbols, so phones serve as transition ids.
type StaticGraph struct {
	base   *fst.Fst
	offset fst.Label
}

var _ SearchGraph = (*StaticGraph)(nil)

// NewStaticGraph wraps base. A nil base is replaced with a single-state
// accepting graph.
func NewStaticGraph(base *fst.Fst, nontermPhonesOffset fst.Label) *StaticGraph {
	if base == nil {
		base = fst.New()
		s := base.AddState()
		base.SetStart(s)
		base.SetFinal(s, fst.One)
	}
	return &StaticGraph{base: base, offset: nontermPhonesOffset}
}

// BaseGraph implements [SearchGraph].
func (g *StaticGraph) BaseGraph() *fst.Fst { return g.base }

// NontermPhonesOffset implements [SearchGraph].
func (g *StaticGraph) NontermPhonesOffset() fst.Label { return g.offset }

// Expand implements [SearchGraph].
func (g *StaticGraph) Expand(lg *fst.Fst, disambig []fst.Label) (*fst.Fst, error) {
	out := lg.Copy()
	out.Relabel(func(l fst.Label) fst.Label {
		if slices.Contains(disambig, l) {
			return fst.Epsilon
		}
		return l
	}, nil)
	out = fst.RmEpsilon(out)
	out.ArcSortInput()
	return out, nil
}
