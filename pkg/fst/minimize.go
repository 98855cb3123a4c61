package fst

import (
	"slices"
	"strconv"
)

// Minimize merges states with identical futures in a deterministic
// transducer and returns the result. Arcs are compared by label pair, weight
// (quantized) and destination class; no weight pushing is performed.
func Minimize(f *Fst) *Fst {
	g := f.Copy()
	Connect(g)
	n := g.NumStates()
	if n == 0 {
		return g
	}
	g.ArcSortInput()

	class := make([]int, n)
	numClasses := 0
	{
		seen := make(map[string]int)
		for s := range n {
			key := string(finalKey(nil, g.Final(StateID(s))))
			id, ok := seen[key]
			if !ok {
				id = len(seen)
				seen[key] = id
			}
			class[s] = id
		}
		numClasses = len(seen)
	}

	var buf []byte
	for {
		seen := make(map[string]int, numClasses)
		next := make([]int, n)
		for s := range n {
			buf = strconv.AppendInt(buf[:0], int64(class[s]), 36)
			buf = append(buf, '|')
			for _, a := range g.Arcs(StateID(s)) {
				buf = strconv.AppendInt(buf, int64(a.ILabel), 36)
				buf = append(buf, ':')
				buf = strconv.AppendInt(buf, int64(a.OLabel), 36)
				buf = append(buf, ':')
				buf = finalKey(buf, a.Weight)
				buf = append(buf, '>')
				buf = strconv.AppendInt(buf, int64(class[a.Next]), 36)
				buf = append(buf, ';')
			}
			id, ok := seen[string(buf)]
			if !ok {
				id = len(seen)
				seen[string(buf)] = id
			}
			next[s] = id
		}
		class = next
		if len(seen) == numClasses {
			break
		}
		numClasses = len(seen)
	}

	out := New()
	for range numClasses {
		out.AddState()
	}
	done := make([]bool, numClasses)
	for s := range n {
		c := class[s]
		if done[c] {
			continue
		}
		done[c] = true
		out.SetFinal(StateID(c), g.Final(StateID(s)))
		for _, a := range g.Arcs(StateID(s)) {
			a.Next = StateID(class[a.Next])
			out.AddArc(StateID(c), a)
		}
	}
	out.SetStart(StateID(class[g.Start()]))
	return out
}

func finalKey(buf []byte, w Weight) []byte {
	if w.IsZero() {
		return append(buf, 'z')
	}
	buf = strconv.AppendInt(buf, quantize(w.Graph, DefaultDelta), 36)
	buf = append(buf, ',')
	return strconv.AppendInt(buf, quantize(w.Acoustic, DefaultDelta), 36)
}

// AddSelfLoops adds a loop labelled ilabels[i]:olabels[i] to every state that
// is final or has at least one arc with a non-epsilon output label. It lets
// disambiguation symbols pass through a transducer during composition.
func AddSelfLoops(f *Fst, ilabels, olabels []Label) {
	if len(ilabels) != len(olabels) {
		panic("fst: AddSelfLoops label lists differ in length")
	}
	var targets []StateID
	for s := range f.NumStates() {
		id := StateID(s)
		if f.IsFinal(id) || slices.ContainsFunc(f.Arcs(id), func(a Arc) bool { return a.OLabel != Epsilon }) {
			targets = append(targets, id)
		}
	}
	for _, s := range targets {
		for i := range ilabels {
			f.AddArc(s, Arc{ILabel: ilabels[i], OLabel: olabels[i], Weight: One, Next: s})
		}
	}
}
