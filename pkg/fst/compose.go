package fst

// composeState is a pair of component states plus the epsilon filter state.
//
// The filter admits exactly one interleaving of epsilon moves:
//
//	0: any move
//	1: the left side just moved alone on an output epsilon
//	2: the right side just moved alone on an input epsilon
type composeState struct {
	left, right StateID
	filter      uint8
}

// inputIndex groups arcs of a transducer by input label, built lazily per state.
type inputIndex struct {
	f     *Fst
	cache map[StateID]map[Label][]Arc
}

func (x *inputIndex) arcs(s StateID, l Label) []Arc {
	m, ok := x.cache[s]
	if !ok {
		m = make(map[Label][]Arc)
		for _, a := range x.f.Arcs(s) {
			m[a.ILabel] = append(m[a.ILabel], a)
		}
		x.cache[s] = m
	}
	return m[l]
}

// Compose returns the composition of a and b, matching the output labels of a
// against the input labels of b. The result is trimmed with [Connect].
func Compose(a, b *Fst) *Fst {
	out := New()
	if a.IsEmpty() || b.IsEmpty() {
		return out
	}

	ids := make(map[composeState]StateID)
	var queue []composeState
	lookup := func(t composeState) StateID {
		if id, ok := ids[t]; ok {
			return id
		}
		id := out.AddState()
		ids[t] = id
		queue = append(queue, t)
		return id
	}
	index := &inputIndex{f: b, cache: make(map[StateID]map[Label][]Arc)}

	out.SetStart(lookup(composeState{a.Start(), b.Start(), 0}))
	for len(queue) > 0 {
		t := queue[0]
		queue = queue[1:]
		src := ids[t]

		if fa, fb := a.Final(t.left), b.Final(t.right); !fa.IsZero() && !fb.IsZero() {
			out.SetFinal(src, Times(fa, fb))
		}

		for _, e1 := range a.Arcs(t.left) {
			if e1.OLabel != Epsilon {
				for _, e2 := range index.arcs(t.right, e1.OLabel) {
					next := lookup(composeState{e1.Next, e2.Next, 0})
					out.AddArc(src, Arc{ILabel: e1.ILabel, OLabel: e2.OLabel, Weight: Times(e1.Weight, e2.Weight), Next: next})
				}
				continue
			}
			if t.filter != 2 {
				next := lookup(composeState{e1.Next, t.right, 1})
				out.AddArc(src, Arc{ILabel: e1.ILabel, OLabel: Epsilon, Weight: e1.Weight, Next: next})
			}
			if t.filter == 0 {
				for _, e2 := range index.arcs(t.right, Epsilon) {
					next := lookup(composeState{e1.Next, e2.Next, 0})
					out.AddArc(src, Arc{ILabel: e1.ILabel, OLabel: e2.OLabel, Weight: Times(e1.Weight, e2.Weight), Next: next})
				}
			}
		}
		if t.filter != 1 {
			for _, e2 := range index.arcs(t.right, Epsilon) {
				next := lookup(composeState{t.left, e2.Next, 2})
				out.AddArc(src, Arc{ILabel: Epsilon, OLabel: e2.OLabel, Weight: e2.Weight, Next: next})
			}
		}
	}

	Connect(out)
	return out
}
