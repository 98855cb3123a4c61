// Package stream is the caller-facing face of one audio stream. A Stream owns
// a two-slot ring of decoding sessions: the current one and the one it
// replaced on the last hint update, so a caller can undo that update once.
//
// All exported methods are safe for concurrent use, but audio for one stream
// is expected to arrive from a single goroutine.
package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/MrWong99/hintstream/internal/engine"
	"github.com/MrWong99/hintstream/internal/hints"
	"github.com/MrWong99/hintstream/internal/observe"
	"github.com/MrWong99/hintstream/internal/recognizer"
)

var (
	// ErrFailed is returned by every call on a stream that was terminated
	// by an internal fault.
	ErrFailed = errors.New("stream: failed")

	// ErrClosed is returned by calls after [Stream.Close].
	ErrClosed = errors.New("stream: closed")
)

// HintSource resolves a hint set to a compiled graph. [*hints.Cache]
// implements it.
type HintSource interface {
	GetOrCompile(ctx context.Context, s hints.Set) (*hints.Graph, error)
}

// Config holds the shared collaborators of a stream.
type Config struct {
	Engine    engine.Engine
	Finalizer *recognizer.Finalizer
	Hints     HintSource
	// Vocabulary filters hints the base graph already knows. May be nil.
	Vocabulary hints.Vocabulary
	// ChunkSize is the commit window in samples. Zero uses the session
	// default.
	ChunkSize int
}

// Option configures a [Stream].
type Option func(*Stream)

// WithID sets the stream id. Default: a random UUID.
func WithID(id string) Option {
	return func(s *Stream) { s.id = id }
}

// WithMetrics sets the metrics sink. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Stream) { s.metrics = m }
}

// Stream is one audio stream with revertible hint updates.
type Stream struct {
	cfg     Config
	id      string
	metrics *observe.Metrics
	log     *slog.Logger

	mu     sync.Mutex
	ring   [2]*recognizer.Session
	head   int
	failed bool
	closed bool
}

// New returns a stream with no session. Call [Stream.Init] before sending
// audio.
func New(cfg Config, opts ...Option) *Stream {
	s := &Stream{cfg: cfg}
	for _, o := range opts {
		o(s)
	}
	if s.id == "" {
		s.id = uuid.NewString()
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	s.log = slog.Default().With("stream_id", s.id)
	s.metrics.ActiveStreams.Add(context.Background(), 1)
	return s
}

// ID returns the stream id.
func (s *Stream) ID() string { return s.id }

func (s *Stream) current() *recognizer.Session { return s.ring[s.head] }
func (s *Stream) previous() *recognizer.Session { return s.ring[s.head^1] }

func (s *Stream) usable() error {
	switch {
	case s.failed:
		return ErrFailed
	case s.closed:
		return ErrClosed
	}
	return nil
}

// guard runs fn and turns a panic into a terminal failure of this stream.
func (s *Stream) guard(ctx context.Context, op string, fn func()) (err error) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		s.failed = true
		s.ring = [2]*recognizer.Session{}
		s.metrics.RecordSessionFault(ctx, op)
		s.log.Error("stream failed", "op", op, "panic", r)
		err = fmt.Errorf("%w: %s: %v", ErrFailed, op, r)
	}()
	fn()
	return nil
}

// Init starts a new session biased toward words. The session it replaces
// becomes the revert target; the one before that is released. Adaptation
// state carries over. Hint compilation problems fall back to no hints.
func (s *Stream) Init(ctx context.Context, words []string) error {
	ctx, span := observe.StartSpan(ctx, "stream.init")
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.usable(); err != nil {
		return err
	}

	set := hints.Canonicalize(words, s.cfg.Vocabulary)
	span.SetAttributes(attribute.Int("hints", set.Len()))
	g, err := s.cfg.Hints.GetOrCompile(ctx, set)
	if err != nil {
		s.log.Warn("hint graph unavailable, continuing without hints", "hints", set.Len(), "err", err)
		g = hints.Empty()
	}
	if skipped := g.Skipped(set); len(skipped) > 0 {
		s.log.Debug("hints without pronunciation", "words", skipped)
	}

	return s.guard(ctx, "init", func() {
		opts := []recognizer.Option{}
		if s.cfg.ChunkSize > 0 {
			opts = append(opts, recognizer.WithChunkSize(s.cfg.ChunkSize))
		}
		if cur := s.current(); cur != nil {
			opts = append(opts, recognizer.WithAdaptation(cur.Adaptation()))
		}
		next := recognizer.NewSession(s.cfg.Engine, s.cfg.Finalizer, opts...)
		next.Init(g)
		s.head ^= 1
		s.ring[s.head] = next
		s.log.Info("stream initialized", "hints", set.Len(), "revertible", s.previous() != nil)
	})
}

// ProcessAudio feeds samples to the current session. Audio before the first
// Init is dropped.
func (s *Stream) ProcessAudio(samples []float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.usable(); err != nil {
		return err
	}
	cur := s.current()
	if cur == nil || len(samples) == 0 {
		return nil
	}
	ctx := context.Background()
	if err := s.guard(ctx, "process_audio", func() { cur.ProcessAudio(samples) }); err != nil {
		return err
	}
	s.metrics.AudioSamples.Add(ctx, int64(len(samples)))
	return nil
}

// Finalize returns the ranked hypotheses for all audio so far. ok is false
// when there is nothing to report. The stream keeps accepting audio
// afterwards.
func (s *Stream) Finalize(ctx context.Context) (hyps []recognizer.Hypothesis, ok bool, err error) {
	ctx, span := observe.StartSpan(ctx, "stream.finalize")
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.usable(); err != nil {
		return nil, false, err
	}
	cur := s.current()
	if cur == nil {
		return nil, false, nil
	}

	start := time.Now()
	outcome := recognizer.OutcomeEmpty
	if err := s.guard(ctx, "finalize", func() { hyps, outcome = cur.Finalize(ctx) }); err != nil {
		return nil, false, err
	}
	s.metrics.RecordFinalize(ctx, time.Since(start), outcome.String())
	span.SetAttributes(attribute.String("status", outcome.String()), attribute.Int("hypotheses", len(hyps)))
	observe.Logger(ctx).Debug("stream finalized", "stream_id", s.id, "status", outcome.String(), "hypotheses", len(hyps))
	return hyps, outcome == recognizer.OutcomeOK, nil
}

// Revert discards the current session and makes the previous one current.
// It reports false when there is no previous session; only one level of
// undo is kept.
func (s *Stream) Revert() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.usable() != nil || s.previous() == nil {
		return false
	}
	s.ring[s.head] = nil
	s.head ^= 1
	s.log.Info("stream reverted to previous hints")
	return true
}

// Close releases both sessions. It is idempotent.
func (s *Stream) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.ring = [2]*recognizer.Session{}
	s.metrics.ActiveStreams.Add(context.Background(), -1)
}
