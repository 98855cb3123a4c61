package fst

import (
	"errors"
	"slices"
	"strconv"
)

// ErrTooLarge is returned when an operation exceeds its state ceiling.
var ErrTooLarge = errors.New("fst: state limit exceeded")

// residual is one element of a determinized subset: a source state and the
// weight still owed on paths leaving it.
type residual struct {
	state  StateID
	weight Weight
}

type pairLabel struct {
	in, out Label
}

// Determinize returns a deterministic equivalent of f, treating each
// (input, output) label pair as one symbol. Input must be free of eps:eps arcs
// (see [RmEpsilon]). When maxStates is positive and the result would exceed it,
// ErrTooLarge is returned.
func Determinize(f *Fst, maxStates int) (*Fst, error) {
	out := New()
	if f.IsEmpty() {
		return out, nil
	}

	ids := make(map[string]StateID)
	var subsets [][]residual
	var keyBuf []byte
	intern := func(sub []residual) (StateID, error) {
		keyBuf = subsetKey(keyBuf[:0], sub)
		if id, ok := ids[string(keyBuf)]; ok {
			return id, nil
		}
		if maxStates > 0 && len(subsets) >= maxStates {
			return NoState, ErrTooLarge
		}
		id := out.AddState()
		ids[string(keyBuf)] = id
		subsets = append(subsets, sub)
		return id, nil
	}

	start, err := intern([]residual{{state: f.Start(), weight: One}})
	if err != nil {
		return nil, err
	}
	out.SetStart(start)

	for i := 0; i < len(subsets); i++ {
		src := StateID(i)
		sub := subsets[i]

		final := Zero
		groups := make(map[pairLabel][]residual)
		var order []pairLabel
		for _, e := range sub {
			if fw := f.Final(e.state); !fw.IsZero() {
				final = Plus(final, Times(e.weight, fw))
			}
			for _, a := range f.Arcs(e.state) {
				k := pairLabel{a.ILabel, a.OLabel}
				if _, seen := groups[k]; !seen {
					order = append(order, k)
				}
				groups[k] = append(groups[k], residual{state: a.Next, weight: Times(e.weight, a.Weight)})
			}
		}
		out.SetFinal(src, final)

		slices.SortFunc(order, func(a, b pairLabel) int {
			if a.in != b.in {
				return int(a.in) - int(b.in)
			}
			return int(a.out) - int(b.out)
		})
		for _, k := range order {
			next := mergeResiduals(groups[k])
			w := Zero
			for _, e := range next {
				w = Plus(w, e.weight)
			}
			for j := range next {
				next[j].weight = Divide(next[j].weight, w)
			}
			dst, err := intern(next)
			if err != nil {
				return nil, err
			}
			out.AddArc(src, Arc{ILabel: k.in, OLabel: k.out, Weight: w, Next: dst})
		}
	}
	return out, nil
}

// mergeResiduals sorts by state and keeps the best weight per state.
func mergeResiduals(in []residual) []residual {
	slices.SortFunc(in, func(a, b residual) int { return int(a.state) - int(b.state) })
	out := in[:0]
	for _, e := range in {
		if n := len(out); n > 0 && out[n-1].state == e.state {
			out[n-1].weight = Plus(out[n-1].weight, e.weight)
			continue
		}
		out = append(out, e)
	}
	return out
}

func subsetKey(buf []byte, sub []residual) []byte {
	for _, e := range sub {
		buf = strconv.AppendInt(buf, int64(e.state), 36)
		buf = append(buf, ':')
		buf = strconv.AppendInt(buf, quantize(e.weight.Graph, DefaultDelta), 36)
		buf = append(buf, ',')
		buf = strconv.AppendInt(buf, quantize(e.weight.Acoustic, DefaultDelta), 36)
		buf = append(buf, ';')
	}
	return buf
}
