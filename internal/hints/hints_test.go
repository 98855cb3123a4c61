package hints_test

import (
	"context"
	"errors"
	"math"
	"slices"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/MrWong99/hintstream/internal/engine"
	"github.com/MrWong99/hintstream/internal/g2p"
	"github.com/MrWong99/hintstream/internal/hints"
	"github.com/MrWong99/hintstream/internal/lexicon"
	"github.com/MrWong99/hintstream/internal/observe"
	"github.com/MrWong99/hintstream/pkg/fst"
)

const testHintStart fst.Label = 100

var basePhones = []string{"K", "UW", "B", "ER", "N", "EH", "T", "Z", "HH", "AH", "L", "OW", "W", "D", "AE", "S"}

// testPhones returns a phone table with every base phone in all four
// positions, silence, six disambiguation symbols and the nonterminals.
// Names listed in omit are left out.
func testPhones(omit ...string) (*fst.SymbolTable, []fst.Label) {
	t := fst.NewSymbolTable()
	next := fst.Label(0)
	add := func(name string) fst.Label {
		if slices.Contains(omit, name) {
			return -1
		}
		t.Add(name, next)
		next++
		return next - 1
	}
	add("<eps>")
	add("SIL")
	for _, p := range basePhones {
		for _, m := range []string{"_B", "_I", "_E", "_S"} {
			add(p + m)
		}
	}
	var disambig []fst.Label
	for i := range 6 {
		if l := add("#" + strconv.Itoa(i)); l >= 0 {
			disambig = append(disambig, l)
		}
	}
	add("#nonterm_begin")
	add("#nonterm:hint")
	add("#nonterm_end")
	return t, disambig
}

func newTestCompiler(t *testing.T, omit ...string) *hints.Compiler {
	t.Helper()
	phones, disambig := testPhones(omit...)
	sil, _ := phones.Find("SIL")
	c, err := hints.NewCompiler(hints.CompilerConfig{
		Lexicon: lexicon.New(map[string][]string{
			"cat":   {"K", "AE", "T"},
			"hello": {"HH", "AH", "L", "OW"},
		}),
		Converter:         g2p.Rules{},
		Phones:            phones,
		LeftContextPhones: []fst.Label{sil, 2, 3, 4},
		Disambig:          disambig,
		Expander:          engine.NewStaticGraph(nil, 200),
		HintStart:         testHintStart,
	})
	if err != nil {
		t.Fatalf("NewCompiler: %v", err)
	}
	return c
}

type vocab map[string]bool

func (v vocab) Contains(w string) bool { return v[w] }

func TestCanonicalize(t *testing.T) {
	t.Parallel()

	v := vocab{"hello": true}
	a := hints.Canonicalize([]string{"zeta", "alpha", "hello", "alpha", " ", ""}, v)
	b := hints.Canonicalize([]string{"alpha", "zeta"}, v)

	if want := []string{"alpha", "zeta"}; !slices.Equal(a.Words(), want) {
		t.Errorf("Words = %v, want %v", a.Words(), want)
	}
	if a.Key() != b.Key() {
		t.Errorf("keys differ for permutations: %q vs %q", a.Key(), b.Key())
	}
	if c := hints.Canonicalize([]string{"alphazeta"}, v); c.Key() == a.Key() {
		t.Error("different sets share a key")
	}
	if !hints.Canonicalize(nil, v).IsEmpty() {
		t.Error("nil words not empty")
	}
}

func TestCompile_EmptyAndUnresolvable(t *testing.T) {
	t.Parallel()

	c := newTestCompiler(t)
	tests := map[string][]string{
		"empty":        nil,
		"unresolvable": {"k8s", "!!!"},
	}
	for name, words := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			g, err := c.Compile(context.Background(), hints.Canonicalize(words, nil))
			if err != nil {
				t.Fatalf("Compile: %v", err)
			}
			if g != hints.Empty() || !g.IsEmpty() {
				t.Error("expected the canonical empty graph")
			}
		})
	}
}

func TestCompile_OutOfVocabularyWord(t *testing.T) {
	t.Parallel()

	c := newTestCompiler(t)
	phones, disambig := testPhones()
	g, err := c.Compile(context.Background(), hints.Canonicalize([]string{"Kubernetes", "k8s"}, nil))
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if g.IsEmpty() {
		t.Fatal("graph is empty")
	}
	if w, ok := g.Word(testHintStart); !ok || w != "Kubernetes" {
		t.Errorf("Word(hintStart) = %q, %v; want Kubernetes", w, ok)
	}
	if _, ok := g.Word(testHintStart + 1); ok {
		t.Error("skipped word resolved")
	}
	if got := g.Skipped(hints.Canonicalize([]string{"Kubernetes", "k8s"}, nil)); !slices.Equal(got, []string{"k8s"}) {
		t.Errorf("Skipped = %v, want [k8s]", got)
	}

	paths := fst.ShortestPaths(g.Fst(), 1)
	if len(paths) != 1 {
		t.Fatalf("got %d paths, want 1", len(paths))
	}
	p := paths[0]
	if !slices.Equal(p.OLabels, []fst.Label{testHintStart}) {
		t.Errorf("OLabels = %v, want [%d]", p.OLabels, testHintStart)
	}
	begin, _ := phones.Find("#nonterm_begin")
	end, _ := phones.Find("#nonterm_end")
	kb, _ := phones.Find("K_B")
	ze, _ := phones.Find("Z_E")
	if p.ILabels[0] != begin || p.ILabels[len(p.ILabels)-1] != end {
		t.Errorf("path not flanked by nonterminals: %v", p.ILabels)
	}
	if !slices.Contains(p.ILabels, kb) || !slices.Contains(p.ILabels, ze) {
		t.Errorf("path %v lacks word phones", p.ILabels)
	}
	for _, l := range p.ILabels {
		if slices.Contains(disambig, l) {
			t.Errorf("disambiguation symbol %d survived expansion", l)
		}
	}
	want := -math.Log(1.0/4) - math.Log(0.983053)
	if math.Abs(p.Weight.Value()-want) > 1e-3 {
		t.Errorf("path cost = %v, want %v", p.Weight.Value(), want)
	}
}

func TestCompile_HomophonesStayDistinct(t *testing.T) {
	t.Parallel()

	// "cat" comes from the lexicon, "kat" from the rules; both are K AE T.
	c := newTestCompiler(t)
	g, err := c.Compile(context.Background(), hints.Canonicalize([]string{"kat", "cat"}, nil))
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	var got []fst.Label
	for _, p := range fst.ShortestPaths(g.Fst(), 8) {
		got = append(got, p.OLabels...)
	}
	slices.Sort(got)
	got = slices.Compact(got)
	if want := []fst.Label{testHintStart, testHintStart + 1}; !slices.Equal(got, want) {
		t.Errorf("emitted labels = %v, want %v", got, want)
	}
}

func TestCompile_WeightAddsToEveryWord(t *testing.T) {
	t.Parallel()

	phones, disambig := testPhones()
	sil, _ := phones.Find("SIL")
	cfg := hints.CompilerConfig{
		Lexicon:           lexicon.New(nil),
		Converter:         g2p.Rules{},
		Phones:            phones,
		LeftContextPhones: []fst.Label{sil},
		Disambig:          disambig,
		Expander:          engine.NewStaticGraph(nil, 200),
		HintStart:         testHintStart,
	}
	cost := func(opts ...hints.CompilerOption) float64 {
		c, err := hints.NewCompiler(cfg, opts...)
		if err != nil {
			t.Fatalf("NewCompiler: %v", err)
		}
		g, err := c.Compile(context.Background(), hints.Canonicalize([]string{"cat"}, nil))
		if err != nil {
			t.Fatalf("Compile: %v", err)
		}
		return fst.ShortestPaths(g.Fst(), 1)[0].Weight.Value()
	}
	if d := cost(hints.WithWeight(1.5)) - cost(); math.Abs(d-1.5) > 1e-3 {
		t.Errorf("weight delta = %v, want 1.5", d)
	}
}

func TestCompile_MissingModelSymbol(t *testing.T) {
	t.Parallel()

	c := newTestCompiler(t, "SIL")
	s := hints.Canonicalize([]string{"cat"}, nil)
	if _, err := c.Compile(context.Background(), s); err == nil {
		t.Fatal("Compile succeeded without a silence phone")
	}
	if g := c.CompileOrEmpty(context.Background(), s); g != hints.Empty() {
		t.Error("CompileOrEmpty did not fall back to the empty graph")
	}
}

func TestNewCompiler_Validation(t *testing.T) {
	t.Parallel()

	if _, err := hints.NewCompiler(hints.CompilerConfig{HintStart: 2}); err == nil {
		t.Fatal("NewCompiler accepted an empty config")
	}
}

// countingCompiler returns a fresh graph per call and counts calls.
type countingCompiler struct {
	calls atomic.Int32
	gate  chan struct{}
	err   error
}

func (c *countingCompiler) Compile(_ context.Context, s hints.Set) (*hints.Graph, error) {
	c.calls.Add(1)
	if c.gate != nil {
		<-c.gate
	}
	if c.err != nil {
		return nil, c.err
	}
	return hints.Empty(), nil
}

func newTestMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewManualReader()))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m
}

func TestCache_GetAdd(t *testing.T) {
	t.Parallel()

	c, err := hints.NewCache(&countingCompiler{}, hints.WithCacheSize(2), hints.WithMetrics(newTestMetrics(t)))
	if err != nil {
		t.Fatalf("NewCache: %v", err)
	}
	a := hints.Canonicalize([]string{"a"}, nil)
	b := hints.Canonicalize([]string{"b"}, nil)
	ab := hints.Canonicalize([]string{"b", "a"}, nil)
	g := hints.Empty()

	if _, ok := c.Get(a); ok {
		t.Fatal("hit on empty cache")
	}
	c.Add(a, g)
	c.Add(b, g)
	if _, ok := c.Get(a); !ok {
		t.Fatal("miss after Add")
	}
	// a is most recent; adding ab evicts b.
	c.Add(ab, g)
	if _, ok := c.Get(b); ok {
		t.Error("least recently used entry survived")
	}
	if _, ok := c.Get(hints.Canonicalize([]string{"a", "b"}, nil)); !ok {
		t.Error("permuted set missed")
	}
	if c.Len() != 2 {
		t.Errorf("Len = %d, want 2", c.Len())
	}
}

func TestCache_GetOrCompileCoalesces(t *testing.T) {
	t.Parallel()

	comp := &countingCompiler{gate: make(chan struct{})}
	c, err := hints.NewCache(comp, hints.WithMetrics(newTestMetrics(t)))
	if err != nil {
		t.Fatalf("NewCache: %v", err)
	}
	s := hints.Canonicalize([]string{"kubernetes"}, nil)

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := c.GetOrCompile(context.Background(), s); err != nil {
				t.Errorf("GetOrCompile: %v", err)
			}
		}()
	}
	close(comp.gate)
	wg.Wait()

	if _, err := c.GetOrCompile(context.Background(), s); err != nil {
		t.Fatalf("GetOrCompile: %v", err)
	}
	// Callers arriving after the first compile finished may compile once
	// more; the cached result must stop any further compiles.
	if n := comp.calls.Load(); n < 1 || n > 8 {
		t.Errorf("compiles = %d", n)
	}
	before := comp.calls.Load()
	_, _ = c.GetOrCompile(context.Background(), s)
	if comp.calls.Load() != before {
		t.Error("cached set recompiled")
	}
}

func TestCache_GetOrCompileEmptyAndErrors(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	comp := &countingCompiler{err: boom}
	c, err := hints.NewCache(comp, hints.WithMetrics(newTestMetrics(t)))
	if err != nil {
		t.Fatalf("NewCache: %v", err)
	}
	g, err := c.GetOrCompile(context.Background(), hints.Set{})
	if err != nil || g != hints.Empty() {
		t.Errorf("empty set = %v, %v; want empty graph", g, err)
	}
	if comp.calls.Load() != 0 {
		t.Error("empty set reached the compiler")
	}
	if _, err := c.GetOrCompile(context.Background(), hints.Canonicalize([]string{"x"}, nil)); !errors.Is(err, boom) {
		t.Errorf("err = %v, want boom", err)
	}
	if c.Len() != 0 {
		t.Error("failed compile was cached")
	}
}
