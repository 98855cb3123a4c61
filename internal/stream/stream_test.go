package stream_test

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/MrWong99/hintstream/internal/engine"
	"github.com/MrWong99/hintstream/internal/engine/mock"
	"github.com/MrWong99/hintstream/internal/hints"
	"github.com/MrWong99/hintstream/internal/lm"
	"github.com/MrWong99/hintstream/internal/observe"
	"github.com/MrWong99/hintstream/internal/recognizer"
	"github.com/MrWong99/hintstream/internal/stream"
	"github.com/MrWong99/hintstream/pkg/fst"
)

const second = mock.DefaultSampleRate

// ─── Fixtures ────────────────────────────────────────────────────────────────

type unit struct{}

func (unit) Start() lm.State { return 0 }

func (unit) Final(lm.State) float64 { return 0 }

func (unit) GetArc(s lm.State, _ fst.Label) (lm.State, float64, bool) {
	return s, 1, true
}

// recordingHints returns the empty graph and remembers every requested key.
type recordingHints struct {
	mu   sync.Mutex
	keys []string
	err  error
}

func (h *recordingHints) GetOrCompile(_ context.Context, s hints.Set) (*hints.Graph, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.keys = append(h.keys, s.Key())
	if h.err != nil {
		return nil, h.err
	}
	return hints.Empty(), nil
}

// faultyEngine hands out decoders that panic when advanced.
type faultyEngine struct{ *mock.Engine }

func (e faultyEngine) NewDecoder(g *engine.GrammarGraph, p engine.FeaturePipeline) engine.Decoder {
	return faultyDecoder{e.Engine.NewDecoder(g, p)}
}

type faultyDecoder struct{ engine.Decoder }

func (faultyDecoder) AdvanceDecoding() { panic("search state corrupted") }

func testWords() *fst.SymbolTable {
	t := fst.NewSymbolTable()
	for i, w := range []string{"<eps>", "one", "two", "three", "four"} {
		t.Add(w, fst.Label(i))
	}
	return t
}

func newMetrics(t *testing.T) (*observe.Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

// sum adds up every data point of the named int64 sum instrument,
// optionally restricted to points carrying key=value.
func sum(t *testing.T, reader *sdkmetric.ManualReader, name, key, value string) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			data, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				t.Fatalf("%s: data type %T, want Sum[int64]", name, m.Data)
			}
			for _, dp := range data.DataPoints {
				if key != "" {
					if v, ok := dp.Attributes.Value(attribute.Key(key)); !ok || v.AsString() != value {
						continue
					}
				}
				total += dp.Value
			}
		}
	}
	return total
}

type harness struct {
	eng     *mock.Engine
	hints   *recordingHints
	metrics *observe.Metrics
	reader  *sdkmetric.ManualReader
	cfg     stream.Config
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	fin, err := recognizer.NewFinalizer(recognizer.FinalizerConfig{
		ChunkModel:  lm.FactoryFunc(func() lm.Model { return unit{} }),
		FinalModel:  lm.FactoryFunc(func() lm.Model { return unit{} }),
		Words:       testWords(),
		HintStart:   100,
		Placeholder: 1,
	})
	if err != nil {
		t.Fatalf("NewFinalizer: %v", err)
	}
	h := &harness{eng: mock.New(), hints: &recordingHints{}}
	h.metrics, h.reader = newMetrics(t)
	h.cfg = stream.Config{
		Engine:     h.eng,
		Finalizer:  fin,
		Hints:      h.hints,
		Vocabulary: testWords(),
	}
	return h
}

func (h *harness) open(t *testing.T, opts ...stream.Option) *stream.Stream {
	t.Helper()
	s := stream.New(h.cfg, append([]stream.Option{stream.WithMetrics(h.metrics)}, opts...)...)
	t.Cleanup(s.Close)
	return s
}

// ─── Tests ───────────────────────────────────────────────────────────────────

func TestStream_RevertKeepsOneLevel(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	s := h.open(t)
	ctx := context.Background()

	if s.Revert() {
		t.Fatal("Revert succeeded before Init")
	}
	for _, words := range [][]string{{"alpha"}, {"beta"}, {"gamma"}} {
		if err := s.Init(ctx, words); err != nil {
			t.Fatalf("Init(%v): %v", words, err)
		}
	}
	if !s.Revert() {
		t.Fatal("first Revert failed")
	}
	if s.Revert() {
		t.Fatal("second consecutive Revert succeeded")
	}

	// The "beta" session is current again: audio reaches its pipeline.
	if err := s.ProcessAudio(make([]float32, second)); err != nil {
		t.Fatalf("ProcessAudio: %v", err)
	}
	pipes := h.eng.Pipelines()
	got := []int{pipes[0].Samples(), pipes[1].Samples(), pipes[2].Samples()}
	if want := []int{0, second, 0}; !slices.Equal(got, want) {
		t.Errorf("samples per session = %v, want %v", got, want)
	}

	if err := s.Init(ctx, []string{"delta"}); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if !s.Revert() {
		t.Error("Revert after a fresh Init failed")
	}
}

func TestStream_InitFiltersHints(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	s := h.open(t)
	if err := s.Init(context.Background(), []string{"zeta", "one", "Zeta", " ", "zeta"}); err != nil {
		t.Fatalf("Init: %v", err)
	}
	want := hints.Canonicalize([]string{"Zeta", "zeta"}, nil).Key()
	if len(h.hints.keys) != 1 || h.hints.keys[0] != want {
		t.Errorf("requested keys = %q, want [%q]", h.hints.keys, want)
	}
}

func TestStream_InitFallsBackWithoutHints(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.hints.err = errors.New("phone symbol missing")
	s := h.open(t)
	if err := s.Init(context.Background(), []string{"zeta"}); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if err := s.ProcessAudio(make([]float32, second)); err != nil {
		t.Fatalf("ProcessAudio: %v", err)
	}
	if _, ok, err := s.Finalize(context.Background()); !ok || err != nil {
		t.Errorf("Finalize = %v, %v; want ok", ok, err)
	}
}

func TestStream_Finalize(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	s := h.open(t)
	ctx := context.Background()

	if hyps, ok, err := s.Finalize(ctx); hyps != nil || ok || err != nil {
		t.Errorf("Finalize before Init = %v, %v, %v", hyps, ok, err)
	}
	if err := s.ProcessAudio(make([]float32, second)); err != nil {
		t.Fatalf("ProcessAudio before Init: %v", err)
	}

	if err := s.Init(ctx, nil); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if _, ok, err := s.Finalize(ctx); ok || err != nil {
		t.Errorf("Finalize without audio = %v, %v; want false, nil", ok, err)
	}

	if err := s.ProcessAudio(make([]float32, second)); err != nil {
		t.Fatalf("ProcessAudio: %v", err)
	}
	hyps, ok, err := s.Finalize(ctx)
	if !ok || err != nil {
		t.Fatalf("Finalize = %v, %v", ok, err)
	}
	if hyps[0].Transcript != "one two" {
		t.Errorf("Transcript = %q, want %q", hyps[0].Transcript, "one two")
	}
	if hyps[0].ID == "" {
		t.Error("hypothesis has no id")
	}

	if got := sum(t, h.reader, "hintstream.finalize.results", "status", "ok"); got != 1 {
		t.Errorf("ok finalizes = %d, want 1", got)
	}
	if got := sum(t, h.reader, "hintstream.finalize.results", "status", "empty"); got != 1 {
		t.Errorf("empty finalizes = %d, want 1", got)
	}
	if got := sum(t, h.reader, "hintstream.audio.samples", "", ""); got != second {
		t.Errorf("audio samples = %d, want %d", got, second)
	}
}

func TestStream_AdaptationSurvivesHintUpdate(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	s := h.open(t)
	ctx := context.Background()

	if err := s.Init(ctx, []string{"alpha"}); err != nil {
		t.Fatalf("Init: %v", err)
	}
	_ = s.ProcessAudio(make([]float32, second))
	if _, ok, _ := s.Finalize(ctx); !ok {
		t.Fatal("Finalize produced nothing")
	}
	if err := s.Init(ctx, []string{"beta"}); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if seed := h.eng.Pipelines()[1].Seed(); seed.Frames != 100 {
		t.Errorf("successor seeded with %d frames, want 100", seed.Frames)
	}
}

func TestStream_FaultIsolation(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	bad := h.cfg
	bad.Engine = faultyEngine{mock.New()}
	broken := stream.New(bad, stream.WithMetrics(h.metrics), stream.WithID("broken"))
	t.Cleanup(broken.Close)
	healthy := h.open(t)
	ctx := context.Background()

	for _, s := range []*stream.Stream{broken, healthy} {
		if err := s.Init(ctx, nil); err != nil {
			t.Fatalf("Init(%s): %v", s.ID(), err)
		}
	}

	if err := broken.ProcessAudio(make([]float32, second)); !errors.Is(err, stream.ErrFailed) {
		t.Fatalf("ProcessAudio on faulty engine = %v, want ErrFailed", err)
	}
	if err := broken.ProcessAudio(make([]float32, 10)); !errors.Is(err, stream.ErrFailed) {
		t.Errorf("ProcessAudio after fault = %v, want ErrFailed", err)
	}
	if err := broken.Init(ctx, nil); !errors.Is(err, stream.ErrFailed) {
		t.Errorf("Init after fault = %v, want ErrFailed", err)
	}
	if _, _, err := broken.Finalize(ctx); !errors.Is(err, stream.ErrFailed) {
		t.Errorf("Finalize after fault = %v, want ErrFailed", err)
	}
	if broken.Revert() {
		t.Error("Revert succeeded after fault")
	}

	if err := healthy.ProcessAudio(make([]float32, second)); err != nil {
		t.Fatalf("healthy ProcessAudio: %v", err)
	}
	if _, ok, err := healthy.Finalize(ctx); !ok || err != nil {
		t.Errorf("healthy Finalize = %v, %v", ok, err)
	}

	if got := sum(t, h.reader, "hintstream.session.faults", "op", "process_audio"); got != 1 {
		t.Errorf("session faults = %d, want 1", got)
	}
}

func TestStream_Close(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	s := stream.New(h.cfg, stream.WithMetrics(h.metrics), stream.WithID("s1"))
	if s.ID() != "s1" {
		t.Errorf("ID() = %q, want s1", s.ID())
	}
	if got := sum(t, h.reader, "hintstream.active_streams", "", ""); got != 1 {
		t.Errorf("active streams = %d, want 1", got)
	}

	s.Close()
	s.Close()
	if got := sum(t, h.reader, "hintstream.active_streams", "", ""); got != 0 {
		t.Errorf("active streams after close = %d, want 0", got)
	}
	if err := s.Init(context.Background(), nil); !errors.Is(err, stream.ErrClosed) {
		t.Errorf("Init after Close = %v, want ErrClosed", err)
	}
	if err := s.ProcessAudio([]float32{0}); !errors.Is(err, stream.ErrClosed) {
		t.Errorf("ProcessAudio after Close = %v, want ErrClosed", err)
	}
}
