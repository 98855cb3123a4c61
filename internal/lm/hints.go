package lm

import "github.com/MrWong99/hintstream/pkg/fst"

// hintModel redirects hint labels to a placeholder word of the wrapped model.
type hintModel struct {
	inner       Model
	hintStart   fst.Label
	placeholder fst.Label
	bias        float64
}

// WithHints wraps m so that every label at or above hintStart is scored as
// placeholder plus a fixed bias cost. Hint words are out of the model's
// vocabulary; this gives them a proxy cost. All other labels pass through.
func WithHints(m Model, hintStart, placeholder fst.Label, bias float64) Model {
	return &hintModel{inner: m, hintStart: hintStart, placeholder: placeholder, bias: bias}
}

func (h *hintModel) Start() State { return h.inner.Start() }

func (h *hintModel) Final(s State) float64 { return h.inner.Final(s) }

func (h *hintModel) GetArc(s State, label fst.Label) (State, float64, bool) {
	if label < h.hintStart {
		return h.inner.GetArc(s, label)
	}
	next, cost, ok := h.inner.GetArc(s, h.placeholder)
	if !ok {
		return 0, 0, false
	}
	return next, cost + h.bias, true
}
