package fst

import (
	"container/heap"
	"math"
	"slices"
)

// Path is one complete path through an [Fst], with epsilons removed from both
// label sequences.
type Path struct {
	ILabels []Label
	OLabels []Label
	Weight  Weight
}

// TopSort returns the states in topological order. ok is false when f is
// cyclic.
func TopSort(f *Fst) (order []StateID, ok bool) {
	n := f.NumStates()
	indeg := make([]int, n)
	for s := range n {
		for _, a := range f.Arcs(StateID(s)) {
			indeg[a.Next]++
		}
	}
	queue := make([]StateID, 0, n)
	for s := range n {
		if indeg[s] == 0 {
			queue = append(queue, StateID(s))
		}
	}
	for len(queue) > 0 {
		s := queue[0]
		queue = queue[1:]
		order = append(order, s)
		for _, a := range f.Arcs(s) {
			indeg[a.Next]--
			if indeg[a.Next] == 0 {
				queue = append(queue, a.Next)
			}
		}
	}
	return order, len(order) == n
}

// DistanceToFinal returns, per state, the best total cost of reaching a final
// state. Unreachable states get +Inf. Acyclic inputs are solved in one
// reverse topological sweep; cyclic ones fall back to Bellman-Ford.
func DistanceToFinal(f *Fst) []float64 {
	n := f.NumStates()
	dist := make([]float64, n)
	for s := range n {
		dist[s] = f.Final(StateID(s)).Value()
	}
	relax := func(s StateID) bool {
		changed := false
		for _, a := range f.Arcs(s) {
			if d := a.Weight.Value() + dist[a.Next]; d < dist[s] {
				dist[s] = d
				changed = true
			}
		}
		return changed
	}
	if order, ok := TopSort(f); ok {
		for i := len(order) - 1; i >= 0; i-- {
			relax(order[i])
		}
		return dist
	}
	for range n {
		changed := false
		for s := range n {
			if relax(StateID(s)) {
				changed = true
			}
		}
		if !changed {
			break
		}
	}
	return dist
}

// searchNode is one partial path in the k-shortest-path search.
type searchNode struct {
	state  StateID
	weight Weight
	parent int
	ilabel Label
	olabel Label
	done   bool
}

type queueEntry struct {
	node     int
	priority float64
	seq      uint64
}

// pathQueue is a min-heap on estimated total cost, FIFO on ties.
type pathQueue []queueEntry

func (q pathQueue) Len() int { return len(q) }

func (q pathQueue) Less(i, j int) bool {
	if q[i].priority != q[j].priority {
		return q[i].priority < q[j].priority
	}
	return q[i].seq < q[j].seq
}

func (q pathQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

func (q *pathQueue) Push(x any) { *q = append(*q, x.(queueEntry)) }

func (q *pathQueue) Pop() any {
	old := *q
	n := len(old)
	e := old[n-1]
	*q = old[:n-1]
	return e
}

// ShortestPaths returns up to n lowest-cost paths in non-decreasing cost
// order. Paths are not deduplicated by label sequence; determinize first when
// distinct output strings are required.
func ShortestPaths(f *Fst, n int) []Path {
	if f.IsEmpty() || n <= 0 {
		return nil
	}
	h := DistanceToFinal(f)
	if math.IsInf(h[f.Start()], 1) {
		return nil
	}

	nodes := []searchNode{{state: f.Start(), weight: One, parent: -1}}
	visits := make([]int, f.NumStates())
	q := &pathQueue{}
	var seq uint64
	push := func(node int, priority float64) {
		seq++
		heap.Push(q, queueEntry{node: node, priority: priority, seq: seq})
	}
	push(0, h[f.Start()])

	var paths []Path
	for q.Len() > 0 && len(paths) < n {
		e := heap.Pop(q).(queueEntry)
		cur := nodes[e.node]
		if cur.done {
			paths = append(paths, tracePath(nodes, e.node))
			continue
		}
		if visits[cur.state] >= n {
			continue
		}
		visits[cur.state]++

		if fw := f.Final(cur.state); !fw.IsZero() {
			nodes = append(nodes, searchNode{state: cur.state, weight: Times(cur.weight, fw), parent: e.node, done: true})
			push(len(nodes)-1, nodes[len(nodes)-1].weight.Value())
		}
		for _, a := range f.Arcs(cur.state) {
			if math.IsInf(h[a.Next], 1) {
				continue
			}
			w := Times(cur.weight, a.Weight)
			nodes = append(nodes, searchNode{state: a.Next, weight: w, parent: e.node, ilabel: a.ILabel, olabel: a.OLabel})
			push(len(nodes)-1, w.Value()+h[a.Next])
		}
	}
	return paths
}

func tracePath(nodes []searchNode, i int) Path {
	p := Path{Weight: nodes[i].weight}
	for i = nodes[i].parent; i > 0; i = nodes[i].parent {
		if l := nodes[i].ilabel; l != Epsilon {
			p.ILabels = append(p.ILabels, l)
		}
		if l := nodes[i].olabel; l != Epsilon {
			p.OLabels = append(p.OLabels, l)
		}
	}
	slices.Reverse(p.ILabels)
	slices.Reverse(p.OLabels)
	return p
}
