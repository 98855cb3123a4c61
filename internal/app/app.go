// Package app wires the hintstream subsystems into a running service.
//
// The App owns the process-wide, read-only state every stream shares: the
// loaded models, the acoustic engine, the hint graph compiler and its cache,
// and the lattice finalizer. Streams are opened, looked up and closed through
// the App, which keeps a registry of the live ones for an embedding
// transport.
//
// For testing, inject doubles via functional options (WithMetrics,
// WithIDGenerator).
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/hintstream/internal/config"
	"github.com/MrWong99/hintstream/internal/engine"
	"github.com/MrWong99/hintstream/internal/g2p"
	"github.com/MrWong99/hintstream/internal/hints"
	"github.com/MrWong99/hintstream/internal/lattice"
	"github.com/MrWong99/hintstream/internal/model"
	"github.com/MrWong99/hintstream/internal/observe"
	"github.com/MrWong99/hintstream/internal/recognizer"
)

// App owns all subsystem lifetimes.
type App struct {
	cfg     *config.Config
	models  *model.Models
	eng     engine.Engine
	metrics *observe.Metrics
	newID   func() string

	compiler  *hints.Compiler
	cache     *hints.Cache
	finalizer *recognizer.Finalizer

	mu       sync.Mutex
	streams  map[string]*entry
	shutdown bool

	// closers are called in order during Shutdown.
	closers []func() error

	stopOnce sync.Once
}

// Option is a functional option for New.
type Option func(*App)

// WithMetrics sets the metrics sink shared by the cache and all streams.
// Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithIDGenerator replaces the transcript id source of the finalizer.
func WithIDGenerator(fn func() string) Option {
	return func(a *App) { a.newID = fn }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New builds the shared recognizer state from loaded models and a
// constructed engine. The engine is owned by the App from here on and closed
// by [App.Shutdown].
func New(ctx context.Context, cfg *config.Config, models *model.Models, eng engine.Engine, opts ...Option) (*App, error) {
	a := &App{
		cfg:     cfg,
		models:  models,
		eng:     eng,
		streams: make(map[string]*entry),
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// ── 1. Engine and models must agree ──────────────────────────────────
	if err := a.checkEngine(); err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}

	// ── 2. Hint graph compiler and cache ─────────────────────────────────
	if err := a.initHints(); err != nil {
		return nil, fmt.Errorf("app: init hints: %w", err)
	}

	// ── 3. Lattice finalizer ─────────────────────────────────────────────
	if err := a.initFinalizer(); err != nil {
		return nil, fmt.Errorf("app: init finalizer: %w", err)
	}

	a.closers = append(a.closers, eng.Close)

	slog.InfoContext(ctx, "recognizer ready",
		"sample_rate", eng.SampleRate(),
		"chunk_size", cfg.Decoder.ChunkSize(),
		"hint_start", models.HintStart(),
		"hint_cache_size", cfg.Hints.CacheSize,
		"nbest", cfg.Lattice.Nbest,
	)
	return a, nil
}

func (a *App) checkEngine() error {
	var errs []error
	if got, want := a.eng.SampleRate(), a.cfg.Decoder.SampleRate; got != want {
		errs = append(errs, fmt.Errorf("engine sample rate %d does not match decoder.sample_rate %d", got, want))
	}
	if got, want := a.eng.Graph().NontermPhonesOffset(), a.models.NontermPhonesOffset; got != want {
		errs = append(errs, fmt.Errorf("engine nonterminal phone offset %d does not match model offset %d", got, want))
	}
	return errors.Join(errs...)
}

func (a *App) initHints() error {
	converter := g2p.Chain{g2p.Rules{}}
	if t := a.cfg.Hints.SoundAlikeThreshold; t < 1 {
		soundAlike := g2p.NewSoundAlike(a.models.Lexicon, g2p.WithSoundAlikeThreshold(t))
		converter = g2p.Chain{soundAlike, g2p.Rules{}}
	}

	compiler, err := hints.NewCompiler(hints.CompilerConfig{
		Lexicon:           a.models.Lexicon,
		Converter:         converter,
		Phones:            a.models.Phones,
		LeftContextPhones: a.models.LeftContextPhones,
		Disambig:          a.models.Disambig,
		Expander:          a.eng.Graph(),
		HintStart:         a.models.HintStart(),
	}, hints.WithWeight(a.cfg.Hints.Weight))
	if err != nil {
		return err
	}
	cache, err := hints.NewCache(compiler,
		hints.WithCacheSize(a.cfg.Hints.CacheSize),
		hints.WithMetrics(a.metrics),
	)
	if err != nil {
		return err
	}
	a.compiler = compiler
	a.cache = cache
	return nil
}

func (a *App) initFinalizer() error {
	placeholder, ok := a.models.Words.Find(a.cfg.Hints.Placeholder)
	if !ok {
		return fmt.Errorf("hints.placeholder %q is not in the word table", a.cfg.Hints.Placeholder)
	}
	var opts []recognizer.FinalizerOption
	if a.newID != nil {
		opts = append(opts, recognizer.WithIDGenerator(a.newID))
	}
	f, err := recognizer.NewFinalizer(recognizer.FinalizerConfig{
		ChunkModel:  a.models.ChunkLM,
		FinalModel:  a.models.FinalLM,
		Words:       a.models.Words,
		HintStart:   a.models.HintStart(),
		Placeholder: placeholder,
		Bias:        a.cfg.Hints.Bias,
		Lattice: lattice.Options{
			MaxMem:  a.cfg.Lattice.MaxMem,
			MaxLoop: a.cfg.Lattice.MaxLoop,
			Delta:   a.cfg.Lattice.Delta,
		},
		Nbest: a.cfg.Lattice.Nbest,
	}, opts...)
	if err != nil {
		return err
	}
	a.finalizer = f
	return nil
}

// Hints returns the shared hint graph cache.
func (a *App) Hints() *hints.Cache { return a.cache }

// Warm compiles and caches the graph for words ahead of the first stream
// that asks for it.
func (a *App) Warm(ctx context.Context, words []string) error {
	start := time.Now()
	set := hints.Canonicalize(words, a.models.Words)
	if _, err := a.cache.GetOrCompile(ctx, set); err != nil {
		return fmt.Errorf("app: warm hints: %w", err)
	}
	slog.DebugContext(ctx, "hint graph warmed", "hints", set.Len(), "duration", time.Since(start))
	return nil
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown closes every open stream, then tears down the shared subsystems.
// It respects the context deadline: if ctx expires before all closers
// finish, remaining closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		a.mu.Lock()
		a.shutdown = true
		open := make([]*entry, 0, len(a.streams))
		for id, e := range a.streams {
			open = append(open, e)
			delete(a.streams, id)
		}
		a.mu.Unlock()

		slog.Info("shutting down", "streams", len(open), "closers", len(a.closers))
		for _, e := range open {
			e.stream.Close()
		}

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}
