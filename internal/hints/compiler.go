// Package hints compiles session-supplied hint words into small biasing
// graphs that the decoder splices into its base graph at a nonterminal, and
// caches the compiled graphs by hint set.
//
// A hint graph is a lexicon transducer over the hint words (with optional
// leading silence and a left-context fan-in for cross-word coarticulation)
// composed with a one-word grammar, optimized, and expanded by the engine's
// context and transition model.
package hints

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/hintstream/internal/g2p"
	"github.com/MrWong99/hintstream/internal/lexicon"
	"github.com/MrWong99/hintstream/internal/observe"
	"github.com/MrWong99/hintstream/pkg/fst"
)

// Phone symbols the lexicon graph is built from.
const (
	silencePhone = "SIL"
	nontermBegin = "#nonterm_begin"
	nontermHint  = "#nonterm:hint"
	nontermEnd   = "#nonterm_end"
)

const (
	// wordProb is the probability mass given to entering a hint word.
	wordProb = 0.983053
	// silProb is the probability of optional leading silence.
	silProb = 0.5

	defaultMaxStates = 1 << 20
)

// Lexicon looks up static pronunciations, already position-marked.
type Lexicon interface {
	Lookup(word string) (lexicon.Pronunciation, bool)
}

// Expander turns a lexicon-grammar graph into a decodable graph. It is
// satisfied by [engine.SearchGraph].
type Expander interface {
	Expand(lg *fst.Fst, disambig []fst.Label) (*fst.Fst, error)
}

// CompilerConfig holds the static model data a [Compiler] needs.
type CompilerConfig struct {
	Lexicon   Lexicon
	Converter g2p.Converter
	Phones    *fst.SymbolTable
	// LeftContextPhones are the phones a hint word may follow.
	LeftContextPhones []fst.Label
	// Disambig are the phone-level disambiguation symbols.
	Disambig []fst.Label
	Expander Expander
	// HintStart is the output label of the first hint word. The three labels
	// below it are reserved for the nonterminal markers.
	HintStart fst.Label
}

// CompilerOption configures a [Compiler].
type CompilerOption func(*Compiler)

// WithWeight sets the grammar cost of every hint word. Default: 0.
func WithWeight(w float64) CompilerOption {
	return func(c *Compiler) { c.weight = w }
}

// WithMaxStates caps the optimized lexicon-grammar graph. Default: 1<<20.
func WithMaxStates(n int) CompilerOption {
	return func(c *Compiler) { c.maxStates = n }
}

// Compiler builds hint graphs. It is read-only after construction and safe for
// concurrent use.
type Compiler struct {
	cfg       CompilerConfig
	weight    float64
	maxStates int
}

// NewCompiler validates cfg and returns a compiler.
func NewCompiler(cfg CompilerConfig, opts ...CompilerOption) (*Compiler, error) {
	var errs []error
	if cfg.Lexicon == nil {
		errs = append(errs, errors.New("lexicon is required"))
	}
	if cfg.Converter == nil {
		errs = append(errs, errors.New("converter is required"))
	}
	if cfg.Phones == nil {
		errs = append(errs, errors.New("phone table is required"))
	}
	if len(cfg.LeftContextPhones) == 0 {
		errs = append(errs, errors.New("left context phones are required"))
	}
	if len(cfg.Disambig) == 0 {
		errs = append(errs, errors.New("disambiguation symbols are required"))
	}
	if cfg.Expander == nil {
		errs = append(errs, errors.New("expander is required"))
	}
	if cfg.HintStart < 4 {
		errs = append(errs, fmt.Errorf("hint start %d leaves no room for nonterminal labels", cfg.HintStart))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("hints: new compiler: %w", err)
	}
	c := &Compiler{cfg: cfg, maxStates: defaultMaxStates}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// HintStart returns the label of the first hint word.
func (c *Compiler) HintStart() fst.Label { return c.cfg.HintStart }

func (c *Compiler) nontermBeginLabel() fst.Label { return c.cfg.HintStart - 3 }
func (c *Compiler) nontermEndLabel() fst.Label   { return c.cfg.HintStart - 2 }
func (c *Compiler) nontermHintLabel() fst.Label  { return c.cfg.HintStart - 1 }

// Compile builds the graph for s. Words without a usable pronunciation are
// skipped; when none remain the canonical empty graph is returned. Errors
// signal gaps in the static model data.
func (c *Compiler) Compile(ctx context.Context, s Set) (*Graph, error) {
	ctx, span := observe.StartSpan(ctx, "hints.compile",
		trace.WithAttributes(attribute.Int("hints.count", s.Len())),
	)
	defer span.End()

	if s.IsEmpty() {
		return Empty(), nil
	}

	words := make([]string, s.Len())
	prons := make(map[string]lexicon.Pronunciation, s.Len())
	for i, w := range s.Words() {
		p, ok := c.pronounce(ctx, w)
		if !ok {
			continue
		}
		words[i] = w
		prons[w] = p
	}
	if len(prons) == 0 {
		return Empty(), nil
	}

	marked, maxDisambig := lexicon.Disambiguate(prons)
	lex, err := c.lexiconFst(words, marked, maxDisambig+1)
	if err != nil {
		return nil, err
	}
	lg := fst.Compose(lex, c.grammarFst(words))
	lg = fst.RmEpsilon(lg)
	lg, err = fst.Determinize(lg, c.maxStates)
	if err != nil {
		return nil, fmt.Errorf("hints: determinize: %w", err)
	}
	lg = fst.Minimize(lg)

	out, err := c.cfg.Expander.Expand(lg, c.cfg.Disambig)
	if err != nil {
		return nil, fmt.Errorf("hints: expand: %w", err)
	}
	span.SetAttributes(attribute.Int("hints.states", out.NumStates()))
	return &Graph{fst: out, hintStart: c.cfg.HintStart, words: words}, nil
}

// pronounce returns the position-marked pronunciation of w, preferring the
// static lexicon. ok is false if no pronunciation with known phones exists.
func (c *Compiler) pronounce(ctx context.Context, w string) (lexicon.Pronunciation, bool) {
	p, ok := c.cfg.Lexicon.Lookup(w)
	if !ok {
		phones, err := c.cfg.Converter.Convert(w)
		if err != nil || len(phones) == 0 {
			observe.Logger(ctx).Debug("skipping hint without pronunciation", "word", w, "err", err)
			return nil, false
		}
		p = lexicon.AddPositionMarkers(phones)
	}
	if _, ok := lexicon.PhoneLabels(c.cfg.Phones, p); !ok {
		observe.Logger(ctx).Debug("skipping hint with unknown phones", "word", w, "pronunciation", p.String())
		return nil, false
	}
	return p, true
}

func (c *Compiler) phone(name string) (fst.Label, error) {
	l, ok := c.cfg.Phones.Find(name)
	if !ok {
		return 0, fmt.Errorf("hints: phone table has no %q", name)
	}
	return l, nil
}

// lexiconFst builds the hint lexicon transducer. words[i] is emitted as
// HintStart+i; empty entries are skipped words.
func (c *Compiler) lexiconFst(words []string, marked map[string]lexicon.Pronunciation, numDisambig int) (*fst.Fst, error) {
	sil, err := c.phone(silencePhone)
	if err != nil {
		return nil, err
	}
	silDisambig, err := c.phone("#" + strconv.Itoa(numDisambig))
	if err != nil {
		return nil, err
	}
	begin, err := c.phone(nontermBegin)
	if err != nil {
		return nil, err
	}
	hint, err := c.phone(nontermHint)
	if err != nil {
		return nil, err
	}
	end, err := c.phone(nontermEnd)
	if err != nil {
		return nil, err
	}

	f := fst.New()
	start := f.AddState()
	loop := f.AddState()
	silState := f.AddState()
	silDisambigState := f.AddState()

	f.AddArc(start, fst.Arc{Weight: fst.Cost(-math.Log(1 - silProb)), Next: loop})
	f.AddArc(start, fst.Arc{Weight: fst.Cost(-math.Log(silProb)), Next: silState})
	f.AddArc(silState, fst.Arc{ILabel: sil, Weight: fst.One, Next: silDisambigState})
	f.AddArc(silDisambigState, fst.Arc{ILabel: silDisambig, Weight: fst.One, Next: loop})

	wordCost := fst.Cost(-math.Log(wordProb))
	for i, w := range words {
		if w == "" {
			continue
		}
		phones, ok := lexicon.PhoneLabels(c.cfg.Phones, marked[w])
		if !ok {
			return nil, fmt.Errorf("hints: phone table lacks a disambiguation symbol of %q", marked[w].String())
		}
		label := c.cfg.HintStart + fst.Label(i)
		arc := func(j int) fst.Arc {
			if j == 0 {
				return fst.Arc{ILabel: phones[j], OLabel: label, Weight: wordCost}
			}
			return fst.Arc{ILabel: phones[j], Weight: fst.One}
		}
		cur := loop
		for j := range len(phones) - 1 {
			next := f.AddState()
			a := arc(j)
			a.Next = next
			f.AddArc(cur, a)
			cur = next
		}
		last := arc(len(phones) - 1)
		for _, dst := range []fst.StateID{loop, silState} {
			last.Next = dst
			f.AddArc(cur, last)
		}
	}
	f.SetStart(start)
	f.SetFinal(loop, fst.One)

	shared := f.AddState()
	final := f.AddState()
	f.AddArc(start, fst.Arc{ILabel: begin, OLabel: c.nontermBeginLabel(), Weight: fst.One, Next: shared})
	f.AddArc(loop, fst.Arc{ILabel: hint, OLabel: c.nontermHintLabel(), Weight: fst.One, Next: shared})
	fanIn := fst.Cost(-math.Log(1 / float64(len(c.cfg.LeftContextPhones))))
	for _, p := range c.cfg.LeftContextPhones {
		f.AddArc(shared, fst.Arc{ILabel: p, Weight: fanIn, Next: loop})
	}
	f.AddArc(loop, fst.Arc{ILabel: end, OLabel: c.nontermEndLabel(), Weight: fst.One, Next: final})
	f.SetFinal(final, fst.One)

	// Only the first disambiguation symbol passes through.
	d := c.cfg.Disambig[:1]
	fst.AddSelfLoops(f, d, d)
	f.ArcSortOutput()
	return f, nil
}

// grammarFst accepts begin, exactly one hint word, end.
func (c *Compiler) grammarFst(words []string) *fst.Fst {
	g := fst.New()
	for range 4 {
		g.AddState()
	}
	g.AddArc(0, fst.Arc{ILabel: c.nontermBeginLabel(), Weight: fst.One, Next: 1})
	g.AddArc(2, fst.Arc{ILabel: c.nontermEndLabel(), Weight: fst.One, Next: 3})
	for i, w := range words {
		if w == "" {
			continue
		}
		l := c.cfg.HintStart + fst.Label(i)
		g.AddArc(1, fst.Arc{ILabel: l, OLabel: l, Weight: fst.Cost(c.weight), Next: 2})
	}
	g.ArcSortInput()
	g.SetStart(0)
	g.SetFinal(3, fst.One)
	return g
}

// CompileOrEmpty compiles s and falls back to the empty graph when the model
// data cannot support it. The error is logged, not returned.
func (c *Compiler) CompileOrEmpty(ctx context.Context, s Set) *Graph {
	g, err := c.Compile(ctx, s)
	if err != nil {
		slog.Warn("hint compilation failed, decoding without hints", "hints", s.Len(), "err", err)
		return Empty()
	}
	return g
}
