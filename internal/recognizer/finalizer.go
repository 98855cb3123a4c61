package recognizer

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/MrWong99/hintstream/internal/hints"
	"github.com/MrWong99/hintstream/internal/lattice"
	"github.com/MrWong99/hintstream/internal/lm"
	"github.com/MrWong99/hintstream/internal/observe"
	"github.com/MrWong99/hintstream/internal/rescore"
	"github.com/MrWong99/hintstream/internal/transcript"
	"github.com/MrWong99/hintstream/pkg/fst"
)

// Outcome classifies a finalize call.
type Outcome int

// Finalize outcomes.
const (
	// OutcomeOK means at least one hypothesis was produced.
	OutcomeOK Outcome = iota
	// OutcomeEmpty means there was no audio or the lattice was empty.
	OutcomeEmpty
	// OutcomeRescoreFailed means a rescoring pass lost every path or hit a
	// determinization ceiling.
	OutcomeRescoreFailed
)

// String returns the metric label for o.
func (o Outcome) String() string {
	switch o {
	case OutcomeOK:
		return observe.FinalizeOK
	case OutcomeEmpty:
		return observe.FinalizeEmpty
	case OutcomeRescoreFailed:
		return observe.FinalizeRescoreFailed
	default:
		return "unknown"
	}
}

// Hypothesis is one ranked decode result.
type Hypothesis struct {
	// ID uniquely identifies the transcript.
	ID string
	// Transcript is the display text.
	Transcript string
	// Words is the word label sequence, hint labels included.
	Words []fst.Label
	// Alignment is the transition id sequence of the path.
	Alignment []fst.Label
	// Cost is the total path cost after rescoring.
	Cost float64
	// AcousticCost is Cost without the final language model contribution.
	AcousticCost float64
	// LanguageModelCost is Cost minus AcousticCost.
	LanguageModelCost float64
}

// FinalizerConfig holds the process-wide rescoring inputs.
type FinalizerConfig struct {
	// ChunkModel is the language model embedded in the decoding graph. Its
	// costs are removed in the first pass.
	ChunkModel lm.Factory
	// FinalModel is applied in the second pass.
	FinalModel lm.Factory
	// Words resolves base vocabulary labels for transcripts.
	Words transcript.Symbols
	// HintStart is the first hint word label.
	HintStart fst.Label
	// Placeholder is the model word hint labels are scored as.
	Placeholder fst.Label
	// Bias is the extra cost of a hint word in the final pass.
	Bias float64
	// Lattice sets the determinization ceilings.
	Lattice lattice.Options
	// Nbest caps the number of hypotheses. Zero means [lattice.DefaultNbest].
	Nbest int
}

// FinalizerOption configures a [Finalizer].
type FinalizerOption func(*Finalizer)

// WithIDGenerator replaces the transcript id source.
func WithIDGenerator(fn func() string) FinalizerOption {
	return func(f *Finalizer) { f.newID = fn }
}

// Finalizer turns raw lattices into ranked hypotheses. It is immutable and
// shared by all sessions.
type Finalizer struct {
	chunk   *rescore.Rescorer
	final   *rescore.Rescorer
	builder *transcript.Builder
	nbest   int
	newID   func() string
}

// NewFinalizer validates cfg and returns a finalizer.
func NewFinalizer(cfg FinalizerConfig, opts ...FinalizerOption) (*Finalizer, error) {
	var errs []error
	if cfg.ChunkModel == nil {
		errs = append(errs, errors.New("chunk model is required"))
	}
	if cfg.FinalModel == nil {
		errs = append(errs, errors.New("final model is required"))
	}
	if cfg.Words == nil {
		errs = append(errs, errors.New("word symbols are required"))
	}
	if cfg.Nbest < 0 {
		errs = append(errs, errors.New("nbest must not be negative"))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, errors.Join(errors.New("recognizer: invalid finalizer config"), err)
	}
	if cfg.Nbest == 0 {
		cfg.Nbest = lattice.DefaultNbest
	}

	f := &Finalizer{
		chunk: rescore.New(cfg.ChunkModel,
			rescore.WithHints(cfg.HintStart, cfg.Placeholder, 0),
			rescore.WithLatticeOptions(cfg.Lattice)),
		final: rescore.New(cfg.FinalModel,
			rescore.WithHints(cfg.HintStart, cfg.Placeholder, cfg.Bias),
			rescore.WithLatticeOptions(cfg.Lattice)),
		builder: transcript.NewBuilder(cfg.Words, cfg.HintStart),
		nbest:   cfg.Nbest,
		newID:   uuid.NewString,
	}
	for _, o := range opts {
		o(f)
	}
	return f, nil
}

// Hypotheses rescores lat in two passes and extracts the best paths. Hint
// labels are resolved through g, the graph lat was decoded with.
func (f *Finalizer) Hypotheses(ctx context.Context, lat *fst.Fst, g *hints.Graph) ([]Hypothesis, Outcome) {
	ctx, span := observe.StartSpan(ctx, "recognizer.rescore")
	defer span.End()
	log := observe.Logger(ctx)

	unbiased, ok := f.chunk.ScaleLanguageModelScore(lat, -1)
	if !ok {
		log.Debug("first rescoring pass failed", "states", lat.NumStates())
		return nil, OutcomeRescoreFailed
	}
	rescored, ok := f.final.ScaleLanguageModelScore(unbiased, 1)
	if !ok {
		log.Debug("second rescoring pass failed", "states", unbiased.NumStates())
		return nil, OutcomeRescoreFailed
	}

	paths := lattice.Nbest(rescored, f.nbest)
	out := make([]Hypothesis, 0, len(paths))
	for _, p := range paths {
		acoustic, ok := f.acousticCost(p)
		if !ok {
			// Later paths are worse; keep what is ranked so far.
			log.Debug("cost split failed, truncating hypotheses", "kept", len(out), "paths", len(paths))
			break
		}
		cost := p.Weight.Value()
		out = append(out, Hypothesis{
			ID:                f.newID(),
			Transcript:        f.builder.Build(p.OLabels, g),
			Words:             p.OLabels,
			Alignment:         p.ILabels,
			Cost:              cost,
			AcousticCost:      acoustic,
			LanguageModelCost: cost - acoustic,
		})
	}
	span.SetAttributes(attribute.Int("hypotheses", len(out)))
	if len(out) == 0 {
		return nil, OutcomeRescoreFailed
	}
	return out, OutcomeOK
}

// acousticCost removes the final model's contribution from a single path.
func (f *Finalizer) acousticCost(p fst.Path) (float64, bool) {
	single := fst.New()
	cur := single.AddState()
	single.SetStart(cur)
	for _, w := range p.OLabels {
		next := single.AddState()
		single.AddArc(cur, fst.Arc{OLabel: w, Weight: fst.One, Next: next})
		cur = next
	}
	single.SetFinal(cur, p.Weight)

	stripped, ok := f.final.ScaleLanguageModelScore(single, -1)
	if !ok {
		return 0, false
	}
	best := lattice.Nbest(stripped, 1)
	if len(best) == 0 {
		return 0, false
	}
	return best[0].Weight.Value(), true
}
