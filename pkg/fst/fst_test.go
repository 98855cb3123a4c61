package fst_test

import (
	"errors"
	"slices"
	"strings"
	"testing"

	"github.com/MrWong99/hintstream/pkg/fst"
)

// arcSpec is a compact arc description for building test transducers.
type arcSpec struct {
	from, to int
	in, out  fst.Label
	cost     float64
}

// build creates a transducer with n states, start state 0 and the given
// final states (all with weight One).
func build(t *testing.T, n int, finals []int, arcs []arcSpec) *fst.Fst {
	t.Helper()
	f := fst.New()
	for range n {
		f.AddState()
	}
	f.SetStart(0)
	for _, s := range finals {
		f.SetFinal(fst.StateID(s), fst.One)
	}
	for _, a := range arcs {
		f.AddArc(fst.StateID(a.from), fst.Arc{ILabel: a.in, OLabel: a.out, Weight: fst.Cost(a.cost), Next: fst.StateID(a.to)})
	}
	return f
}

func TestCompose_MatchesLabels(t *testing.T) {
	t.Parallel()

	a := build(t, 2, []int{1}, []arcSpec{{0, 1, 1, 2, 1}})
	b := build(t, 2, []int{1}, []arcSpec{{0, 1, 2, 3, 2}})

	paths := fst.ShortestPaths(fst.Compose(a, b), 10)
	if len(paths) != 1 {
		t.Fatalf("paths = %d, want 1", len(paths))
	}
	p := paths[0]
	if !slices.Equal(p.ILabels, []fst.Label{1}) || !slices.Equal(p.OLabels, []fst.Label{3}) {
		t.Errorf("labels = %v:%v, want [1]:[3]", p.ILabels, p.OLabels)
	}
	if got := p.Weight.Value(); got != 3 {
		t.Errorf("cost = %v, want 3", got)
	}
}

func TestCompose_EpsilonFilterAvoidsDuplicatePaths(t *testing.T) {
	t.Parallel()

	// a emits an output epsilon before its real symbol; b consumes an input
	// epsilon before matching. Without a filter three interleavings exist.
	a := build(t, 3, []int{2}, []arcSpec{
		{0, 1, 1, fst.Epsilon, 0},
		{1, 2, 2, 5, 0},
	})
	b := build(t, 3, []int{2}, []arcSpec{
		{0, 1, fst.Epsilon, 9, 0},
		{1, 2, 5, 7, 0},
	})

	paths := fst.ShortestPaths(fst.Compose(a, b), 10)
	if len(paths) != 1 {
		t.Fatalf("paths = %d, want 1", len(paths))
	}
	if !slices.Equal(paths[0].OLabels, []fst.Label{9, 7}) {
		t.Errorf("olabels = %v, want [9 7]", paths[0].OLabels)
	}
}

func TestCompose_NoMatchIsEmpty(t *testing.T) {
	t.Parallel()

	a := build(t, 2, []int{1}, []arcSpec{{0, 1, 1, 2, 0}})
	b := build(t, 2, []int{1}, []arcSpec{{0, 1, 3, 3, 0}})
	if c := fst.Compose(a, b); !c.IsEmpty() {
		t.Errorf("compose has %d states, want empty", c.NumStates())
	}
}

func TestDeterminize_KeepsBestPerString(t *testing.T) {
	t.Parallel()

	f := build(t, 4, []int{3}, []arcSpec{
		{0, 1, 1, 1, 1},
		{1, 3, 2, 2, 1},
		{0, 2, 1, 1, 2},
		{2, 3, 3, 3, 1},
	})
	d, err := fst.Determinize(f, 0)
	if err != nil {
		t.Fatalf("Determinize: %v", err)
	}
	if got := d.NumArcs(d.Start()); got != 1 {
		t.Fatalf("start arcs = %d, want 1", got)
	}
	paths := fst.ShortestPaths(d, 5)
	if len(paths) != 2 {
		t.Fatalf("paths = %d, want 2", len(paths))
	}
	want := []struct {
		labels []fst.Label
		cost   float64
	}{
		{[]fst.Label{1, 2}, 2},
		{[]fst.Label{1, 3}, 3},
	}
	for i, w := range want {
		if !slices.Equal(paths[i].ILabels, w.labels) {
			t.Errorf("path %d labels = %v, want %v", i, paths[i].ILabels, w.labels)
		}
		if got := paths[i].Weight.Value(); got != w.cost {
			t.Errorf("path %d cost = %v, want %v", i, got, w.cost)
		}
	}
}

func TestDeterminize_StateLimit(t *testing.T) {
	t.Parallel()

	f := build(t, 3, []int{2}, []arcSpec{{0, 1, 1, 1, 0}, {1, 2, 2, 2, 0}})
	if _, err := fst.Determinize(f, 1); !errors.Is(err, fst.ErrTooLarge) {
		t.Errorf("err = %v, want ErrTooLarge", err)
	}
}

func TestMinimize_MergesEquivalentStates(t *testing.T) {
	t.Parallel()

	f := build(t, 4, []int{3}, []arcSpec{
		{0, 1, 1, 1, 0},
		{0, 2, 2, 2, 0},
		{1, 3, 5, 5, 0},
		{2, 3, 5, 5, 0},
	})
	m := fst.Minimize(f)
	if got := m.NumStates(); got != 3 {
		t.Errorf("states = %d, want 3", got)
	}
	if got := len(fst.ShortestPaths(m, 10)); got != 2 {
		t.Errorf("paths = %d, want 2", got)
	}
}

func TestConnect_DropsDeadStates(t *testing.T) {
	t.Parallel()

	f := build(t, 4, []int{1}, []arcSpec{
		{0, 1, 1, 1, 0},
		{0, 2, 2, 2, 0}, // 2 cannot reach a final state
	})
	fst.Connect(f)
	if got := f.NumStates(); got != 2 {
		t.Errorf("states = %d, want 2", got)
	}
	if got := f.NumArcs(f.Start()); got != 1 {
		t.Errorf("start arcs = %d, want 1", got)
	}
}

func TestRmEpsilon_FoldsWeights(t *testing.T) {
	t.Parallel()

	f := build(t, 3, []int{2}, []arcSpec{
		{0, 1, fst.Epsilon, fst.Epsilon, 1},
		{1, 2, 4, 4, 2},
	})
	r := fst.RmEpsilon(f)
	arcs := r.Arcs(r.Start())
	if len(arcs) != 1 {
		t.Fatalf("start arcs = %d, want 1", len(arcs))
	}
	if arcs[0].ILabel != 4 || arcs[0].Weight.Value() != 3 {
		t.Errorf("arc = %+v, want label 4 cost 3", arcs[0])
	}
}

func TestAddSelfLoops(t *testing.T) {
	t.Parallel()

	f := build(t, 3, []int{2}, []arcSpec{
		{0, 1, 1, fst.Epsilon, 0},
		{1, 2, 2, 7, 0},
	})
	fst.AddSelfLoops(f, []fst.Label{40}, []fst.Label{41})

	loops := func(s fst.StateID) int {
		n := 0
		for _, a := range f.Arcs(s) {
			if a.Next == s && a.ILabel == 40 && a.OLabel == 41 {
				n++
			}
		}
		return n
	}
	if got := loops(0); got != 0 {
		t.Errorf("state 0 loops = %d, want 0", got)
	}
	if got := loops(1); got != 1 {
		t.Errorf("state 1 loops = %d, want 1", got)
	}
	if got := loops(2); got != 1 {
		t.Errorf("state 2 (final) loops = %d, want 1", got)
	}
}

func TestTopSort_DetectsCycle(t *testing.T) {
	t.Parallel()

	acyclic := build(t, 3, []int{2}, []arcSpec{{0, 1, 1, 1, 0}, {1, 2, 1, 1, 0}})
	if _, ok := fst.TopSort(acyclic); !ok {
		t.Error("acyclic reported as cyclic")
	}
	cyclic := build(t, 2, []int{1}, []arcSpec{{0, 1, 1, 1, 0}, {1, 0, 1, 1, 0}})
	if _, ok := fst.TopSort(cyclic); ok {
		t.Error("cyclic reported as acyclic")
	}
}

func TestShortestPaths_Order(t *testing.T) {
	t.Parallel()

	f := build(t, 2, []int{1}, []arcSpec{
		{0, 1, 3, 3, 5},
		{0, 1, 1, 1, 1},
		{0, 1, 2, 2, 3},
	})
	paths := fst.ShortestPaths(f, 2)
	if len(paths) != 2 {
		t.Fatalf("paths = %d, want 2", len(paths))
	}
	if paths[0].OLabels[0] != 1 || paths[1].OLabels[0] != 2 {
		t.Errorf("order = %v, %v; want 1 then 2", paths[0].OLabels, paths[1].OLabels)
	}
}

func TestShortestPaths_AcousticSplit(t *testing.T) {
	t.Parallel()

	f := fst.New()
	s0, s1 := f.AddState(), f.AddState()
	f.SetStart(s0)
	f.SetFinal(s1, fst.Weight{Graph: 0.5, Acoustic: 0.25})
	f.AddArc(s0, fst.Arc{ILabel: 9, OLabel: 4, Weight: fst.Weight{Graph: 1, Acoustic: 2}, Next: s1})

	paths := fst.ShortestPaths(f, 1)
	if len(paths) != 1 {
		t.Fatalf("paths = %d, want 1", len(paths))
	}
	want := fst.Weight{Graph: 1.5, Acoustic: 2.25}
	if !fst.ApproxEqual(paths[0].Weight, want, 1e-9) {
		t.Errorf("weight = %+v, want %+v", paths[0].Weight, want)
	}
}

func TestWeight_Arithmetic(t *testing.T) {
	t.Parallel()

	a := fst.Weight{Graph: 1, Acoustic: 2}
	b := fst.Weight{Graph: 2, Acoustic: 1}
	if !fst.Less(a, b) || fst.Less(b, a) {
		t.Error("equal totals should tie-break on the graph component")
	}
	if got := fst.Plus(a, b); got != a {
		t.Errorf("Plus = %+v, want %+v", got, a)
	}
	if got := fst.Times(a, fst.Zero); !got.IsZero() {
		t.Errorf("Times with Zero = %+v, want Zero", got)
	}
	if got := fst.Divide(fst.Times(a, b), b); got != a {
		t.Errorf("Divide = %+v, want %+v", got, a)
	}
	if got := a.Scale(-1, 1); got != (fst.Weight{Graph: -1, Acoustic: 2}) {
		t.Errorf("Scale = %+v", got)
	}
}

func TestReadSymbolTable(t *testing.T) {
	t.Parallel()

	tbl, err := fst.ReadSymbolTable(strings.NewReader("<eps> 0\nhello 1\nworld 2\n\n"))
	if err != nil {
		t.Fatalf("ReadSymbolTable: %v", err)
	}
	if l, ok := tbl.Find("world"); !ok || l != 2 {
		t.Errorf("Find(world) = %d, %v", l, ok)
	}
	if s, ok := tbl.Symbol(1); !ok || s != "hello" {
		t.Errorf("Symbol(1) = %q, %v", s, ok)
	}
	if got := tbl.NextAvailable(); got != 3 {
		t.Errorf("NextAvailable = %d, want 3", got)
	}

	if _, err := fst.ReadSymbolTable(strings.NewReader("bad line here\n")); err == nil {
		t.Error("expected error for malformed line")
	}
}
