package fst

import "math"

// Weight is a lattice weight. Graph holds the search-graph and
// language-model cost, Acoustic the acoustic cost. Costs are negated natural
// log probabilities; lower is better.
type Weight struct {
	Graph    float64
	Acoustic float64
}

var (
	// One is the multiplicative identity: no cost.
	One = Weight{}

	// Zero is the additive identity: an impossible path.
	Zero = Weight{Graph: math.Inf(1), Acoustic: math.Inf(1)}
)

// Cost returns a weight with only a graph component.
func Cost(c float64) Weight { return Weight{Graph: c} }

// Value returns the total cost used to order paths.
func (w Weight) Value() float64 { return w.Graph + w.Acoustic }

// IsZero reports whether w is the impossible weight.
func (w Weight) IsZero() bool {
	return math.IsInf(w.Graph, 1) || math.IsInf(w.Acoustic, 1)
}

// Scale multiplies the components independently.
func (w Weight) Scale(graph, acoustic float64) Weight {
	if w.IsZero() {
		return Zero
	}
	return Weight{Graph: w.Graph * graph, Acoustic: w.Acoustic * acoustic}
}

// Times extends a path: costs add component-wise.
func Times(a, b Weight) Weight {
	if a.IsZero() || b.IsZero() {
		return Zero
	}
	return Weight{Graph: a.Graph + b.Graph, Acoustic: a.Acoustic + b.Acoustic}
}

// Divide removes b from a component-wise. It is the left inverse of [Times]
// for non-zero b.
func Divide(a, b Weight) Weight {
	if a.IsZero() {
		return Zero
	}
	return Weight{Graph: a.Graph - b.Graph, Acoustic: a.Acoustic - b.Acoustic}
}

// Less orders weights by total cost, breaking ties on the graph component.
func Less(a, b Weight) bool {
	av, bv := a.Value(), b.Value()
	if av != bv {
		return av < bv
	}
	return a.Graph < b.Graph
}

// Plus keeps the better of two alternatives.
func Plus(a, b Weight) Weight {
	if Less(b, a) {
		return b
	}
	return a
}

// ApproxEqual compares both components within delta.
func ApproxEqual(a, b Weight, delta float64) bool {
	if a.IsZero() || b.IsZero() {
		return a.IsZero() == b.IsZero()
	}
	return math.Abs(a.Graph-b.Graph) <= delta && math.Abs(a.Acoustic-b.Acoustic) <= delta
}

// DefaultDelta is the quantization step used when weights are hashed.
const DefaultDelta = 1.0 / 1024

func quantize(v, delta float64) int64 {
	if math.IsInf(v, 1) {
		return math.MaxInt64
	}
	return int64(math.Round(v / delta))
}
