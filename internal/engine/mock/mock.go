// Package mock provides a scripted, in-memory [engine.Engine] for tests and
// for running the service without an acoustic model.
//
// The pipeline counts samples into frames, the decoder tracks how many frames
// it has decoded (with checkpoint/rollback), and lattices are produced from a
// script of word hypotheses. Every collaborator call is appended to a shared
// event log so tests can assert call order.
//
// Example:
//
//	e := mock.New()
//	e.Script = func(g *engine.GrammarGraph, frames int) []mock.Hypothesis {
//	    return []mock.Hypothesis{{Words: []fst.Label{4, 7}, Graph: 2, Acoustic: 10}}
//	}
package mock

import (
	"fmt"
	"slices"
	"sync"

	"github.com/MrWong99/hintstream/internal/engine"
	"github.com/MrWong99/hintstream/pkg/fst"
)

// Event names recorded in the log.
const (
	EventAccept              = "accept"
	EventInputFinished       = "input_finished"
	EventRevertInputFinished = "revert_input_finished"
	EventWeights             = "weights"
	EventAdvance             = "advance"
	EventFinalize            = "finalize"
	EventCheckpoint          = "checkpoint"
	EventRollback            = "rollback"
	EventLattice             = "lattice"
)

// Defaults for [New].
const (
	DefaultSampleRate          = 16000
	DefaultFrameShift          = 160
	DefaultNontermPhonesOffset = 200
	framesPerWord              = 50
)

// Compile-time interface assertions.
var (
	_ engine.Engine           = (*Engine)(nil)
	_ engine.FeaturePipeline  = (*Pipeline)(nil)
	_ engine.Decoder          = (*Decoder)(nil)
	_ engine.SilenceWeighting = (*SilenceWeighting)(nil)
)

// Hypothesis is one scripted path of a lattice.
type Hypothesis struct {
	Words    []fst.Label
	Graph    float64
	Acoustic float64
}

// Engine is a scripted [engine.Engine]. Exported fields configure behaviour
// and must be set before the engine is used.
type Engine struct {
	// Rate is the expected sample rate.
	Rate int
	// FrameShift is the number of samples per frame.
	FrameShift int
	// SearchGraph is returned by Graph.
	SearchGraph engine.SearchGraph
	// Script returns the lattice paths for frames decoded frames. When
	// nil, one word per 50 frames is emitted with labels 1, 2, 3, ...
	Script func(g *engine.GrammarGraph, frames int) []Hypothesis
	// SilenceActive enables silence weighting.
	SilenceActive bool
	// CloseError is returned by Close.
	CloseError error

	mu        sync.Mutex
	events    []string
	pipelines []*Pipeline
	decoders  []*Decoder
	closed    int
}

// New returns an engine with default rate, frame shift and a static search
// graph.
func New() *Engine {
	return &Engine{
		Rate:        DefaultSampleRate,
		FrameShift:  DefaultFrameShift,
		SearchGraph: engine.NewStaticGraph(nil, DefaultNontermPhonesOffset),
	}
}

// Factory builds an engine from free-form options. Recognised keys:
// "sample_rate", "frame_shift" and "nonterm_phones_offset" (integers).
func Factory(options map[string]any) (engine.Engine, error) {
	e := New()
	for key, dst := range map[string]*int{
		"sample_rate": &e.Rate,
		"frame_shift": &e.FrameShift,
	} {
		if v, ok := options[key]; ok {
			n, err := toInt(v)
			if err != nil || n <= 0 {
				return nil, fmt.Errorf("mock engine: option %q: want positive integer, got %v", key, v)
			}
			*dst = n
		}
	}
	if v, ok := options["nonterm_phones_offset"]; ok {
		n, err := toInt(v)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("mock engine: option %q: want non-negative integer, got %v", "nonterm_phones_offset", v)
		}
		e.SearchGraph = engine.NewStaticGraph(nil, fst.Label(n))
	}
	return e, nil
}

func toInt(v any) (int, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		if n != float64(int(n)) {
			return 0, fmt.Errorf("not an integer: %v", n)
		}
		return int(n), nil
	}
	return 0, fmt.Errorf("unsupported type %T", v)
}

// SampleRate implements [engine.Engine].
func (e *Engine) SampleRate() int { return e.Rate }

// Graph implements [engine.Engine].
func (e *Engine) Graph() engine.SearchGraph { return e.SearchGraph }

// NewPipeline implements [engine.Engine].
func (e *Engine) NewPipeline() engine.FeaturePipeline {
	p := &Pipeline{eng: e}
	e.mu.Lock()
	e.pipelines = append(e.pipelines, p)
	e.mu.Unlock()
	return p
}

// NewSilenceWeighting implements [engine.Engine].
func (e *Engine) NewSilenceWeighting() engine.SilenceWeighting {
	return &SilenceWeighting{eng: e}
}

// NewDecoder implements [engine.Engine].
func (e *Engine) NewDecoder(g *engine.GrammarGraph, p engine.FeaturePipeline) engine.Decoder {
	d := &Decoder{eng: e, graph: g, pipeline: p}
	e.mu.Lock()
	e.decoders = append(e.decoders, d)
	e.mu.Unlock()
	return d
}

// Close implements [engine.Engine].
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed++
	return e.CloseError
}

// Closed returns how often Close was called.
func (e *Engine) Closed() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

// Events returns a copy of the event log.
func (e *Engine) Events() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return slices.Clone(e.events)
}

// ResetEvents clears the event log.
func (e *Engine) ResetEvents() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = nil
}

// Pipelines returns all pipelines created so far.
func (e *Engine) Pipelines() []*Pipeline {
	e.mu.Lock()
	defer e.mu.Unlock()
	return slices.Clone(e.pipelines)
}

// Decoders returns all decoders created so far.
func (e *Engine) Decoders() []*Decoder {
	e.mu.Lock()
	defer e.mu.Unlock()
	return slices.Clone(e.decoders)
}

func (e *Engine) record(event string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, event)
}

func (e *Engine) script(g *engine.GrammarGraph, frames int) []Hypothesis {
	if e.Script != nil {
		return e.Script(g, frames)
	}
	n := max(1, frames/framesPerWord)
	h := Hypothesis{Acoustic: float64(frames) * 0.1, Graph: float64(n)}
	for i := range n {
		h.Words = append(h.Words, fst.Label(i+1))
	}
	return []Hypothesis{h}
}

// Pipeline counts samples into frames.
type Pipeline struct {
	eng      *Engine
	samples  int
	finished bool
	seed     engine.AdaptationState
	weights  []engine.FrameWeight
}

// AcceptWaveform implements [engine.FeaturePipeline].
func (p *Pipeline) AcceptWaveform(_ int, samples []float32) {
	p.eng.record(EventAccept)
	p.samples += len(samples)
}

// InputFinished implements [engine.FeaturePipeline].
func (p *Pipeline) InputFinished() {
	p.eng.record(EventInputFinished)
	p.finished = true
}

// RevertInputFinished implements [engine.FeaturePipeline].
func (p *Pipeline) RevertInputFinished() {
	p.eng.record(EventRevertInputFinished)
	p.finished = false
}

// NumFramesReady implements [engine.FeaturePipeline]. A trailing partial
// frame only counts once input is finished.
func (p *Pipeline) NumFramesReady() int {
	n := p.samples / p.eng.FrameShift
	if p.finished && p.samples%p.eng.FrameShift != 0 {
		n++
	}
	return n
}

// AdaptationState implements [engine.FeaturePipeline].
func (p *Pipeline) AdaptationState() engine.AdaptationState {
	a := p.seed.Clone()
	a.Frames += p.NumFramesReady()
	a.Stats = append(a.Stats, float64(len(p.weights)))
	return a
}

// SetAdaptationState implements [engine.FeaturePipeline].
func (p *Pipeline) SetAdaptationState(a engine.AdaptationState) { p.seed = a.Clone() }

// Seed returns the adaptation state the pipeline was seeded with.
func (p *Pipeline) Seed() engine.AdaptationState { return p.seed.Clone() }

// UpdateFrameWeights implements [engine.FeaturePipeline].
func (p *Pipeline) UpdateFrameWeights(deltas []engine.FrameWeight) {
	p.weights = append(p.weights, deltas...)
}

// Samples returns the number of samples accepted.
func (p *Pipeline) Samples() int { return p.samples }

// Decoder tracks decoded frames and produces scripted lattices.
type Decoder struct {
	eng      *Engine
	graph    *engine.GrammarGraph
	pipeline engine.FeaturePipeline

	decoded   int
	finalized bool
	saved     struct {
		decoded   int
		finalized bool
	}
}

// Graph returns the grammar graph the decoder was built with.
func (d *Decoder) Graph() *engine.GrammarGraph { return d.graph }

// AdvanceDecoding implements [engine.Decoder].
func (d *Decoder) AdvanceDecoding() {
	d.eng.record(EventAdvance)
	d.decoded = d.pipeline.NumFramesReady()
}

// FinalizeDecoding implements [engine.Decoder].
func (d *Decoder) FinalizeDecoding() {
	d.eng.record(EventFinalize)
	d.finalized = true
}

// NumFramesDecoded implements [engine.Decoder].
func (d *Decoder) NumFramesDecoded() int { return d.decoded }

// Checkpoint implements [engine.Decoder].
func (d *Decoder) Checkpoint() {
	d.eng.record(EventCheckpoint)
	d.saved.decoded, d.saved.finalized = d.decoded, d.finalized
}

// Rollback implements [engine.Decoder].
func (d *Decoder) Rollback() {
	d.eng.record(EventRollback)
	d.decoded, d.finalized = d.saved.decoded, d.saved.finalized
}

// Lattice implements [engine.Decoder]. Each scripted hypothesis becomes one
// path; word arcs carry increasing transition ids and the whole path weight
// sits on the first arc.
func (d *Decoder) Lattice(bool) *fst.Fst {
	d.eng.record(EventLattice)
	if d.decoded == 0 {
		return nil
	}
	lat := fst.New()
	hyps := d.eng.script(d.graph, d.decoded)
	if len(hyps) == 0 {
		return lat
	}
	start := lat.AddState()
	lat.SetStart(start)
	for _, h := range hyps {
		w := fst.Weight{Graph: h.Graph, Acoustic: h.Acoustic}
		cur := start
		if len(h.Words) == 0 {
			next := lat.AddState()
			lat.AddArc(cur, fst.Arc{ILabel: 1, Weight: w, Next: next})
			lat.SetFinal(next, fst.One)
			continue
		}
		for i, word := range h.Words {
			next := lat.AddState()
			arcW := fst.One
			if i == 0 {
				arcW = w
			}
			lat.AddArc(cur, fst.Arc{ILabel: fst.Label(i + 1), OLabel: word, Weight: arcW, Next: next})
			cur = next
		}
		lat.SetFinal(cur, fst.One)
	}
	return lat
}

// SilenceWeighting down-weights the most recent frame on every call.
type SilenceWeighting struct {
	eng *Engine
}

// Active implements [engine.SilenceWeighting].
func (s *SilenceWeighting) Active() bool { return s.eng.SilenceActive }

// DeltaWeights implements [engine.SilenceWeighting].
func (s *SilenceWeighting) DeltaWeights(_ engine.Decoder, framesReady int) []engine.FrameWeight {
	s.eng.record(EventWeights)
	if framesReady == 0 {
		return nil
	}
	return []engine.FrameWeight{{Frame: framesReady - 1, Delta: -0.5}}
}
