// Package recognizer drives one streaming decode: it buffers audio into
// fixed-size chunks, advances the acoustic search chunk by chunk with a
// checkpoint after each, and on finalize extracts, rescores and ranks the
// hypotheses before rolling back to the last checkpoint so decoding can
// continue.
package recognizer

import (
	"context"
	"fmt"

	"github.com/MrWong99/hintstream/internal/engine"
	"github.com/MrWong99/hintstream/internal/hints"
	"github.com/MrWong99/hintstream/pkg/fst"
)

// DefaultChunkSeconds is the default commit window.
const DefaultChunkSeconds = 0.5

// State is the lifecycle state of a [Session].
type State int

// Session states.
const (
	StateUninitialized State = iota
	StateActive
	StateFinalizing
)

// String implements [fmt.Stringer].
func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateActive:
		return "active"
	case StateFinalizing:
		return "finalizing"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Option configures a [Session].
type Option func(*Session)

// WithAdaptation seeds the session with adaptation statistics, typically from
// the session it replaces.
func WithAdaptation(a engine.AdaptationState) Option {
	return func(s *Session) { s.adaptation = a.Clone() }
}

// WithChunkSize sets the number of samples committed per search step.
// Default: half a second at the engine's sample rate.
func WithChunkSize(n int) Option {
	return func(s *Session) { s.chunkSize = n }
}

// Session owns the decode state of one utterance stream. It is not safe for
// concurrent use.
type Session struct {
	eng       engine.Engine
	finalizer *Finalizer
	chunkSize int

	state      State
	graph      *hints.Graph
	pipeline   engine.FeaturePipeline
	decoder    engine.Decoder
	silence    engine.SilenceWeighting
	adaptation engine.AdaptationState
	buffer     []float32
	// accepted counts samples handed to the pipeline since Init.
	accepted int
}

// NewSession returns an uninitialized session.
func NewSession(eng engine.Engine, finalizer *Finalizer, opts ...Option) *Session {
	s := &Session{
		eng:       eng,
		finalizer: finalizer,
		chunkSize: int(DefaultChunkSeconds * float64(eng.SampleRate())),
		graph:     hints.Empty(),
	}
	for _, o := range opts {
		o(s)
	}
	if s.chunkSize <= 0 {
		s.chunkSize = 1
	}
	return s
}

// State returns the lifecycle state.
func (s *Session) State() State { return s.state }

// Graph returns the hint graph the session was initialized with.
func (s *Session) Graph() *hints.Graph { return s.graph }

// Adaptation returns the adaptation statistics stored by the last successful
// finalize, or the seed.
func (s *Session) Adaptation() engine.AdaptationState { return s.adaptation.Clone() }

// Buffered returns the number of samples waiting for the next commit.
func (s *Session) Buffered() int { return len(s.buffer) }

// Init binds the base graph with g spliced in, resets the decode state and
// checkpoints. Uncommitted audio is discarded. A nil g means no hints.
func (s *Session) Init(g *hints.Graph) {
	if g == nil {
		g = hints.Empty()
	}
	s.graph = g
	s.pipeline = s.eng.NewPipeline()
	s.silence = s.eng.NewSilenceWeighting()
	s.decoder = s.eng.NewDecoder(engine.NewGrammarGraph(s.eng.Graph(), g.Fst()), s.pipeline)
	if !s.adaptation.IsZero() {
		s.pipeline.SetAdaptationState(s.adaptation)
	}
	s.decoder.Checkpoint()
	s.buffer = s.buffer[:0]
	s.accepted = 0
	s.state = StateActive
}

// ProcessAudio buffers samples and commits a chunk once enough have arrived.
// Calls before Init are ignored.
func (s *Session) ProcessAudio(samples []float32) {
	if s.state != StateActive {
		return
	}
	s.buffer = append(s.buffer, samples...)
	if len(s.buffer) < s.chunkSize {
		return
	}
	s.accept()
	s.advance()
	s.decoder.Checkpoint()
	s.buffer = s.buffer[:0]
}

func (s *Session) accept() {
	if len(s.buffer) == 0 {
		return
	}
	s.accepted += len(s.buffer)
	s.pipeline.AcceptWaveform(s.eng.SampleRate(), s.buffer)
}

// advance refreshes silence weighting, then runs the search step.
func (s *Session) advance() {
	if s.silence.Active() {
		if deltas := s.silence.DeltaWeights(s.decoder, s.pipeline.NumFramesReady()); len(deltas) > 0 {
			s.pipeline.UpdateFrameWeights(deltas)
		}
	}
	s.decoder.AdvanceDecoding()
}

// Lattice flushes buffered audio, finishes the decode and returns the raw
// lattice, then restores the last checkpoint so more audio can follow. ok is
// false when no audio was accepted since Init or no lattice was produced.
func (s *Session) Lattice() (lat *fst.Fst, ok bool) {
	if s.state != StateActive {
		return nil, false
	}
	s.accept()
	s.buffer = s.buffer[:0]
	if s.accepted == 0 {
		return nil, false
	}

	s.state = StateFinalizing
	defer func() {
		s.pipeline.RevertInputFinished()
		s.decoder.Rollback()
		s.decoder.AdvanceDecoding()
		s.state = StateActive
	}()

	s.pipeline.InputFinished()
	s.advance()
	s.decoder.FinalizeDecoding()

	if s.decoder.NumFramesDecoded() == 0 {
		return nil, false
	}
	lat = s.decoder.Lattice(true)
	s.adaptation = s.pipeline.AdaptationState()
	if lat == nil || lat.IsEmpty() {
		return nil, false
	}
	return lat, true
}

// Finalize extracts the lattice and turns it into ranked hypotheses. The
// session stays usable afterwards.
func (s *Session) Finalize(ctx context.Context) ([]Hypothesis, Outcome) {
	lat, ok := s.Lattice()
	if !ok {
		return nil, OutcomeEmpty
	}
	return s.finalizer.Hypotheses(ctx, lat, s.graph)
}
