package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/MrWong99/hintstream/internal/stream"
	"github.com/MrWong99/hintstream/pkg/audio"
)

var (
	// ErrShutdown is returned by Open after [App.Shutdown].
	ErrShutdown = errors.New("app: shut down")

	// ErrDuplicateStream is returned by Open when the requested id is taken.
	ErrDuplicateStream = errors.New("app: stream id already open")
)

// StreamInfo holds metadata about an open stream.
type StreamInfo struct {
	// ID is the unique identifier of the stream.
	ID string

	// OpenedAt is when the stream was opened.
	OpenedAt time.Time

	// Hints is the number of hint words of the latest Init call.
	Hints int
}

type entry struct {
	stream *stream.Stream
	conv   *audio.Converter
	info   StreamInfo
}

// Open creates a stream over the shared recognizer state and registers it.
// The stream still needs [stream.Stream.Init] before it accepts audio.
func (a *App) Open(ctx context.Context, opts ...stream.Option) (*stream.Stream, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.shutdown {
		return nil, ErrShutdown
	}

	all := append([]stream.Option{stream.WithMetrics(a.metrics)}, opts...)
	s := stream.New(stream.Config{
		Engine:     a.eng,
		Finalizer:  a.finalizer,
		Hints:      a.cache,
		Vocabulary: a.models.Words,
		ChunkSize:  a.cfg.Decoder.ChunkSize(),
	}, all...)
	if _, taken := a.streams[s.ID()]; taken {
		s.Close()
		return nil, fmt.Errorf("%w: %s", ErrDuplicateStream, s.ID())
	}

	a.streams[s.ID()] = &entry{
		stream: s,
		conv:   &audio.Converter{TargetRate: a.eng.SampleRate()},
		info:   StreamInfo{ID: s.ID(), OpenedAt: time.Now().UTC()},
	}
	slog.InfoContext(ctx, "stream opened", "stream_id", s.ID(), "open_streams", len(a.streams))
	return s, nil
}

// Init binds hint words to the stream with the given id, recording the hint
// count in its [StreamInfo].
func (a *App) Init(ctx context.Context, id string, words []string) error {
	a.mu.Lock()
	e, ok := a.streams[id]
	a.mu.Unlock()
	if !ok {
		return fmt.Errorf("app: init stream %q: %w", id, stream.ErrClosed)
	}
	if err := e.stream.Init(ctx, words); err != nil {
		return err
	}
	a.mu.Lock()
	e.info.Hints = len(words)
	a.mu.Unlock()
	return nil
}

// ProcessPCM converts little-endian int16 PCM in format from to the engine
// rate and feeds it to the stream with the given id. Buffers that cannot be
// converted are dropped with a warning.
func (a *App) ProcessPCM(id string, pcm []byte, from audio.Format) error {
	a.mu.Lock()
	e, ok := a.streams[id]
	a.mu.Unlock()
	if !ok {
		return fmt.Errorf("app: process audio for stream %q: %w", id, stream.ErrClosed)
	}
	return e.stream.ProcessAudio(e.conv.Convert(pcm, from))
}

// Lookup returns the open stream with the given id.
func (a *App) Lookup(id string) (*stream.Stream, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	e, ok := a.streams[id]
	if !ok {
		return nil, false
	}
	return e.stream, true
}

// Close closes and unregisters the stream with the given id. It reports
// whether the stream was open.
func (a *App) Close(id string) bool {
	a.mu.Lock()
	e, ok := a.streams[id]
	delete(a.streams, id)
	remaining := len(a.streams)
	a.mu.Unlock()

	if !ok {
		return false
	}
	e.stream.Close()
	slog.Info("stream closed",
		"stream_id", id,
		"open_for", time.Since(e.info.OpenedAt),
		"open_streams", remaining,
	)
	return true
}

// Streams returns metadata about all open streams, oldest first.
func (a *App) Streams() []StreamInfo {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]StreamInfo, 0, len(a.streams))
	for _, e := range a.streams {
		out = append(out, e.info)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].OpenedAt.Equal(out[j].OpenedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].OpenedAt.Before(out[j].OpenedAt)
	})
	return out
}
