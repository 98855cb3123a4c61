// Package rescore rescales the language-model contribution of decoder
// lattices.
//
// A decoded lattice already carries first-pass language-model costs in its
// graph component. Rescoring with scale -1 against the first-pass model
// removes them; rescoring with scale +1 against a final model applies the
// final costs. Keeping the two passes separate is what lets a hypothesis
// report its acoustic and language-model costs independently.
package rescore

import (
	"github.com/MrWong99/hintstream/internal/lattice"
	"github.com/MrWong99/hintstream/internal/lm"
	"github.com/MrWong99/hintstream/pkg/fst"
)

// Option configures a [Rescorer].
type Option func(*Rescorer)

// WithHints makes the rescorer hint-aware: labels at or above hintStart are
// scored as placeholder plus bias.
func WithHints(hintStart, placeholder fst.Label, bias float64) Option {
	return func(r *Rescorer) {
		r.hintAware = true
		r.hintStart = hintStart
		r.placeholder = placeholder
		r.bias = bias
	}
}

// WithLatticeOptions sets the determinization ceilings.
func WithLatticeOptions(opts lattice.Options) Option {
	return func(r *Rescorer) { r.latOpts = opts }
}

// Rescorer composes lattices with a language model. It is immutable and safe
// for concurrent use; each call draws a fresh model from the factory.
type Rescorer struct {
	factory     lm.Factory
	latOpts     lattice.Options
	hintAware   bool
	hintStart   fst.Label
	placeholder fst.Label
	bias        float64
}

// New returns a rescorer over models from factory.
func New(factory lm.Factory, opts ...Option) *Rescorer {
	r := &Rescorer{factory: factory, latOpts: lattice.DefaultOptions()}
	for _, o := range opts {
		o(r)
	}
	return r
}

func (r *Rescorer) model() lm.Model {
	m := r.factory.NewModel()
	if r.hintAware {
		m = lm.WithHints(m, r.hintStart, r.placeholder, r.bias)
	}
	return m
}

// ScaleLanguageModelScore adds scale times the model's cost to the graph
// component of every path of lat. Determinization runs on the 1/scale-scaled
// lattice, before the final rescale. A zero scale returns lat unchanged.
// ok is false when no path survives composition or determinization hits a
// ceiling.
func (r *Rescorer) ScaleLanguageModelScore(lat *fst.Fst, scale float64) (*fst.Fst, bool) {
	if scale == 0 {
		return lat, true
	}
	if lat == nil || lat.IsEmpty() {
		return nil, false
	}
	scaled := lat.Copy()
	scaled.Scale(1/scale, 1)
	composed := composeModel(scaled, r.model())
	if composed.IsEmpty() {
		return nil, false
	}
	det, ok := lattice.Determinize(composed, r.latOpts)
	if !ok {
		return nil, false
	}
	det.Scale(scale, 1)
	return det, true
}

type pairState struct {
	lat fst.StateID
	lm  lm.State
}

// composeModel intersects the output side of lat with m, expanding m only
// along the lattice's paths. Words m cannot score drop their arcs.
func composeModel(lat *fst.Fst, m lm.Model) *fst.Fst {
	out := fst.New()
	ids := make(map[pairState]fst.StateID)
	var queue []pairState
	lookup := func(p pairState) fst.StateID {
		if id, ok := ids[p]; ok {
			return id
		}
		id := out.AddState()
		ids[p] = id
		queue = append(queue, p)
		return id
	}

	out.SetStart(lookup(pairState{lat: lat.Start(), lm: m.Start()}))
	for len(queue) > 0 {
		p := queue[0]
		queue = queue[1:]
		src := ids[p]
		if fw := lat.Final(p.lat); !fw.IsZero() {
			if c := m.Final(p.lm); !fst.Cost(c).IsZero() {
				out.SetFinal(src, fst.Times(fw, fst.Cost(c)))
			}
		}
		for _, a := range lat.Arcs(p.lat) {
			if a.OLabel == fst.Epsilon {
				dst := lookup(pairState{lat: a.Next, lm: p.lm})
				out.AddArc(src, fst.Arc{ILabel: a.ILabel, Weight: a.Weight, Next: dst})
				continue
			}
			next, c, ok := m.GetArc(p.lm, a.OLabel)
			if !ok {
				continue
			}
			dst := lookup(pairState{lat: a.Next, lm: next})
			out.AddArc(src, fst.Arc{ILabel: a.ILabel, OLabel: a.OLabel, Weight: fst.Times(a.Weight, fst.Cost(c)), Next: dst})
		}
	}
	fst.Connect(out)
	return out
}
