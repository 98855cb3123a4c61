// Package lm provides on-demand deterministic language models for lattice
// rescoring.
//
// A [Model] behaves like a deterministic weighted acceptor that is expanded
// lazily: states are created as [Model.GetArc] is called. Because that
// expansion mutates the model, rescoring asks a [Factory] for a fresh model
// per lattice; the factory itself is immutable and shared process-wide.
package lm

import (
	"errors"

	"github.com/MrWong99/hintstream/pkg/fst"
)

// ErrMalformedARPA is returned when an ARPA file cannot be parsed.
var ErrMalformedARPA = errors.New("lm: malformed ARPA file")

// State identifies a language model state (an n-gram history).
type State int32

// Model is an on-demand deterministic language model. Costs are negated
// natural log probabilities. A Model is not safe for concurrent use.
type Model interface {
	// Start returns the initial state.
	Start() State
	// Final returns the cost of ending in s, +Inf if that is impossible.
	Final(s State) float64
	// GetArc follows label from s. ok is false when the model cannot
	// score the label.
	GetArc(s State, label fst.Label) (next State, cost float64, ok bool)
}

// Factory creates independent [Model] instances. Implementations must be safe
// for concurrent use.
type Factory interface {
	NewModel() Model
}

// FactoryFunc adapts a function to [Factory].
type FactoryFunc func() Model

// NewModel calls f.
func (f FactoryFunc) NewModel() Model { return f() }
