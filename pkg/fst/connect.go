package fst

// Connect removes states that are not both reachable from the start state and
// able to reach a final state. It mutates f and renumbers the survivors in
// their original order. An FST with no successful path ends up with no states.
func Connect(f *Fst) {
	n := len(f.states)
	if f.start == NoState || n == 0 {
		f.states = nil
		f.start = NoState
		return
	}

	access := make([]bool, n)
	stack := []StateID{f.start}
	access[f.start] = true
	for len(stack) > 0 {
		s := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, a := range f.states[s].arcs {
			if !access[a.Next] {
				access[a.Next] = true
				stack = append(stack, a.Next)
			}
		}
	}

	reverse := make([][]StateID, n)
	for s := range f.states {
		for _, a := range f.states[s].arcs {
			reverse[a.Next] = append(reverse[a.Next], StateID(s))
		}
	}
	coaccess := make([]bool, n)
	for s := range f.states {
		if f.states[s].final.IsZero() {
			continue
		}
		coaccess[s] = true
		stack = append(stack, StateID(s))
	}
	for len(stack) > 0 {
		s := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, p := range reverse[s] {
			if !coaccess[p] {
				coaccess[p] = true
				stack = append(stack, p)
			}
		}
	}

	remap := make([]StateID, n)
	kept := 0
	for s := range n {
		if access[s] && coaccess[s] {
			remap[s] = StateID(kept)
			kept++
		} else {
			remap[s] = NoState
		}
	}
	if remap[f.start] == NoState {
		f.states = nil
		f.start = NoState
		return
	}
	if kept == n {
		return
	}

	states := make([]state, 0, kept)
	for s := range n {
		if remap[s] == NoState {
			continue
		}
		old := f.states[s]
		arcs := old.arcs[:0]
		for _, a := range old.arcs {
			if next := remap[a.Next]; next != NoState {
				a.Next = next
				arcs = append(arcs, a)
			}
		}
		states = append(states, state{arcs: arcs, final: old.final})
	}
	f.states = states
	f.start = remap[f.start]
}
