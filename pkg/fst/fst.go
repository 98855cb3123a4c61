// Package fst implements the weighted finite-state transducers used by the
// hint compiler and the lattice pipeline.
//
// Every transducer carries lattice weights: a pair of costs (graph and
// acoustic) whose sum orders paths. Graphs built from lexicons and grammars
// only ever populate the graph component, so the same [Fst] type serves both
// search-graph fragments and decoder lattices.
//
// An [Fst] is a mutable value while it is being built. Once handed to another
// component (a cache, a decoder, a session) it must be treated as read-only;
// all operations in this package that change structure either return a new
// [Fst] or document that they mutate their argument.
package fst

import "slices"

// Label is an input or output symbol id. [Epsilon] (0) consumes nothing.
type Label int32

// StateID indexes a state within one [Fst].
type StateID int32

const (
	// Epsilon is the empty label.
	Epsilon Label = 0

	// NoState marks an unset start state.
	NoState StateID = -1
)

// Arc is a weighted transition.
type Arc struct {
	ILabel Label
	OLabel Label
	Weight Weight
	Next   StateID
}

type state struct {
	arcs  []Arc
	final Weight
}

// Fst is a vector-backed weighted transducer.
type Fst struct {
	states []state
	start  StateID
}

// New returns an empty transducer without states.
func New() *Fst {
	return &Fst{start: NoState}
}

// AddState appends a non-final state and returns its id.
func (f *Fst) AddState() StateID {
	f.states = append(f.states, state{final: Zero})
	return StateID(len(f.states) - 1)
}

// AddArc appends an arc leaving s.
func (f *Fst) AddArc(s StateID, a Arc) {
	f.states[s].arcs = append(f.states[s].arcs, a)
}

// SetStart sets the initial state.
func (f *Fst) SetStart(s StateID) { f.start = s }

// Start returns the initial state or [NoState].
func (f *Fst) Start() StateID { return f.start }

// SetFinal sets the final weight of s. Passing [Zero] makes s non-final.
func (f *Fst) SetFinal(s StateID, w Weight) { f.states[s].final = w }

// Final returns the final weight of s, [Zero] for non-final states.
func (f *Fst) Final(s StateID) Weight { return f.states[s].final }

// IsFinal reports whether s has a non-zero final weight.
func (f *Fst) IsFinal(s StateID) bool { return !f.states[s].final.IsZero() }

// NumStates returns the number of states.
func (f *Fst) NumStates() int { return len(f.states) }

// NumArcs returns the number of arcs leaving s.
func (f *Fst) NumArcs(s StateID) int { return len(f.states[s].arcs) }

// Arcs returns the arcs leaving s. The slice is owned by f.
func (f *Fst) Arcs(s StateID) []Arc { return f.states[s].arcs }

// TotalArcs returns the number of arcs in the transducer.
func (f *Fst) TotalArcs() int {
	n := 0
	for i := range f.states {
		n += len(f.states[i].arcs)
	}
	return n
}

// IsEmpty reports whether f accepts nothing because it has no start state.
func (f *Fst) IsEmpty() bool {
	return f.start == NoState || len(f.states) == 0
}

// Copy returns a deep copy of f.
func (f *Fst) Copy() *Fst {
	out := &Fst{start: f.start, states: make([]state, len(f.states))}
	for i, s := range f.states {
		out.states[i] = state{arcs: slices.Clone(s.arcs), final: s.final}
	}
	return out
}

// ArcSortInput sorts the arcs of every state by input label, then output label.
func (f *Fst) ArcSortInput() {
	for i := range f.states {
		slices.SortStableFunc(f.states[i].arcs, func(a, b Arc) int {
			if a.ILabel != b.ILabel {
				return int(a.ILabel) - int(b.ILabel)
			}
			return int(a.OLabel) - int(b.OLabel)
		})
	}
}

// ArcSortOutput sorts the arcs of every state by output label, then input label.
func (f *Fst) ArcSortOutput() {
	for i := range f.states {
		slices.SortStableFunc(f.states[i].arcs, func(a, b Arc) int {
			if a.OLabel != b.OLabel {
				return int(a.OLabel) - int(b.OLabel)
			}
			return int(a.ILabel) - int(b.ILabel)
		})
	}
}

// Invert swaps input and output labels in place.
func (f *Fst) Invert() {
	for i := range f.states {
		arcs := f.states[i].arcs
		for j := range arcs {
			arcs[j].ILabel, arcs[j].OLabel = arcs[j].OLabel, arcs[j].ILabel
		}
	}
}

// Scale multiplies the graph and acoustic components of every arc and final
// weight in place.
func (f *Fst) Scale(graph, acoustic float64) {
	for i := range f.states {
		s := &f.states[i]
		s.final = s.final.Scale(graph, acoustic)
		for j := range s.arcs {
			s.arcs[j].Weight = s.arcs[j].Weight.Scale(graph, acoustic)
		}
	}
}

// Relabel rewrites labels in place. Either function may be nil to keep that
// side unchanged.
func (f *Fst) Relabel(ilabel, olabel func(Label) Label) {
	for i := range f.states {
		arcs := f.states[i].arcs
		for j := range arcs {
			if ilabel != nil {
				arcs[j].ILabel = ilabel(arcs[j].ILabel)
			}
			if olabel != nil {
				arcs[j].OLabel = olabel(arcs[j].OLabel)
			}
		}
	}
}
