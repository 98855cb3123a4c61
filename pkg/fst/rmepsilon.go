package fst

// RmEpsilon returns an equivalent transducer without arcs that are epsilon on
// both sides. Closure distances keep the best path through epsilon arcs, so
// the result may drop alternatives that only differed by a worse epsilon
// route. Epsilon cycles with negative total cost are not supported.
func RmEpsilon(f *Fst) *Fst {
	out := New()
	if f.IsEmpty() {
		return out
	}
	n := f.NumStates()
	for range n {
		out.AddState()
	}
	out.SetStart(f.Start())

	for s := range n {
		src := StateID(s)
		closure := epsilonClosure(f, src)
		final := Zero
		for q, d := range closure {
			if fw := f.Final(q); !fw.IsZero() {
				final = Plus(final, Times(d, fw))
			}
		}
		out.SetFinal(src, final)
		// Deterministic arc order: walk closure states by id.
		for q := range n {
			d, ok := closure[StateID(q)]
			if !ok {
				continue
			}
			for _, a := range f.Arcs(StateID(q)) {
				if a.ILabel == Epsilon && a.OLabel == Epsilon {
					continue
				}
				out.AddArc(src, Arc{ILabel: a.ILabel, OLabel: a.OLabel, Weight: Times(d, a.Weight), Next: a.Next})
			}
		}
	}

	Connect(out)
	return out
}

// epsilonClosure returns the best epsilon-path weight from s to every state
// reachable from s via eps:eps arcs, including s itself with weight [One].
func epsilonClosure(f *Fst, s StateID) map[StateID]Weight {
	dist := map[StateID]Weight{s: One}
	queue := []StateID{s}
	// Bound relaxations so malformed negative cycles terminate.
	budget := (f.NumStates() + 1) * (f.NumStates() + 1)
	for len(queue) > 0 && budget > 0 {
		budget--
		q := queue[0]
		queue = queue[1:]
		dq := dist[q]
		for _, a := range f.Arcs(q) {
			if a.ILabel != Epsilon || a.OLabel != Epsilon {
				continue
			}
			cand := Times(dq, a.Weight)
			if old, ok := dist[a.Next]; ok && !Less(cand, old) {
				continue
			}
			dist[a.Next] = cand
			queue = append(queue, a.Next)
		}
	}
	return dist
}
