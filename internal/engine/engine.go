// Package engine defines the acoustic search collaborators a decoding
// session drives: the feature pipeline, the decoder, silence weighting and
// the search graph model.
//
// The interfaces mirror an online lattice decoder. Implementations are
// registered by name in the config registry; the scripted implementation in
// the mock subpackage is registered as "mock".
package engine

import (
	"slices"

	"github.com/MrWong99/hintstream/pkg/fst"
)

// AdaptationState holds running per-speaker acoustic statistics (for
// example i-vector estimates). It is carried from one session to its
// successor so adaptation survives hint updates.
type AdaptationState struct {
	// Frames is the number of frames the statistics cover.
	Frames int
	// Stats holds the pipeline-specific accumulators.
	Stats []float64
}

// Clone returns a deep copy.
func (a AdaptationState) Clone() AdaptationState {
	return AdaptationState{Frames: a.Frames, Stats: slices.Clone(a.Stats)}
}

// IsZero reports whether no statistics have been accumulated.
func (a AdaptationState) IsZero() bool { return a.Frames == 0 && len(a.Stats) == 0 }

// FrameWeight is a change to the weight of one feature frame in adaptation
// statistics. Silence frames are down-weighted.
type FrameWeight struct {
	Frame int
	Delta float64
}

// FeaturePipeline turns audio into acoustic features.
type FeaturePipeline interface {
	// AcceptWaveform appends samples at the given rate.
	AcceptWaveform(sampleRate int, samples []float32)
	// InputFinished flushes trailing frames; no more audio follows.
	InputFinished()
	// RevertInputFinished undoes InputFinished so more audio can follow.
	RevertInputFinished()
	// NumFramesReady returns the number of frames available to the decoder.
	NumFramesReady() int
	// AdaptationState returns a snapshot of the adaptation statistics.
	AdaptationState() AdaptationState
	// SetAdaptationState seeds the adaptation statistics.
	SetAdaptationState(AdaptationState)
	// UpdateFrameWeights applies silence weighting deltas.
	UpdateFrameWeights(deltas []FrameWeight)
}

// Decoder runs the lattice search over a pipeline's frames.
type Decoder interface {
	// AdvanceDecoding decodes all frames the pipeline has ready.
	AdvanceDecoding()
	// FinalizeDecoding applies final-probabilities and prunes the lattice.
	FinalizeDecoding()
	// NumFramesDecoded returns the number of frames decoded so far.
	NumFramesDecoded() int
	// Checkpoint snapshots the search state.
	Checkpoint()
	// Rollback restores the last checkpoint.
	Rollback()
	// Lattice returns the word lattice decoded so far, ilabels being
	// transition ids and olabels words. It returns nil before any frame is
	// decoded. When useFinalProbs is true final weights are applied.
	Lattice(useFinalProbs bool) *fst.Fst
}

// SilenceWeighting computes adaptation frame weights from a traceback of the
// partial decode.
type SilenceWeighting interface {
	// Active reports whether weighting is enabled.
	Active() bool
	// DeltaWeights returns weight changes for frames up to framesReady.
	DeltaWeights(d Decoder, framesReady int) []FrameWeight
}

// Engine creates the per-session collaborators. Implementations must be safe
// for concurrent use; the returned objects are owned by a single session.
type Engine interface {
	// SampleRate is the rate audio must be supplied at.
	SampleRate() int
	// Graph returns the shared search graph model.
	Graph() SearchGraph
	NewPipeline() FeaturePipeline
	NewSilenceWeighting() SilenceWeighting
	NewDecoder(g *GrammarGraph, p FeaturePipeline) Decoder
	// Close releases engine resources.
	Close() error
}
