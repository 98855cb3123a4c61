// Package model loads the static, process-wide model data: symbol tables,
// the pronunciation lexicon, the phone-level label lists and the two ARPA
// language models used in rescoring.
//
// Everything returned by [Load] is immutable and shared read-only by all
// streams.
package model

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/hintstream/internal/config"
	"github.com/MrWong99/hintstream/internal/lexicon"
	"github.com/MrWong99/hintstream/internal/lm"
	"github.com/MrWong99/hintstream/pkg/fst"
)

// Models is the loaded static model data.
type Models struct {
	Words             *fst.SymbolTable
	Phones            *fst.SymbolTable
	Lexicon           *lexicon.Lexicon
	LeftContextPhones []fst.Label
	Disambig          []fst.Label
	// NontermPhonesOffset is the first phone id reserved for nonterminals.
	NontermPhonesOffset fst.Label
	// ChunkLM is the model already applied while decoding.
	ChunkLM *lm.ARPA
	// FinalLM replaces ChunkLM when a lattice is rescored.
	FinalLM *lm.ARPA
}

// HintStart is the output label of the first hint word: the first id the
// word table leaves free.
func (m *Models) HintStart() fst.Label { return m.Words.NextAvailable() }

// Load reads every file named in cfg. Independent files are read
// concurrently; the language models are read once the word table is known.
// The first failure cancels the remaining reads.
func Load(ctx context.Context, cfg config.ModelsConfig) (*Models, error) {
	start := time.Now()
	m := &Models{}

	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		return read(egCtx, cfg.Path(cfg.Words), func(r io.Reader) (err error) {
			m.Words, err = fst.ReadSymbolTable(r)
			return err
		})
	})
	eg.Go(func() error {
		return read(egCtx, cfg.Path(cfg.Phones), func(r io.Reader) (err error) {
			m.Phones, err = fst.ReadSymbolTable(r)
			return err
		})
	})
	eg.Go(func() error {
		return read(egCtx, cfg.Path(cfg.Lexicon), func(r io.Reader) (err error) {
			m.Lexicon, err = lexicon.Read(r)
			return err
		})
	})
	eg.Go(func() error {
		return read(egCtx, cfg.Path(cfg.LeftContextPhones), func(r io.Reader) (err error) {
			m.LeftContextPhones, err = lexicon.ReadLabels(r)
			return err
		})
	})
	eg.Go(func() error {
		return read(egCtx, cfg.Path(cfg.Disambig), func(r io.Reader) (err error) {
			m.Disambig, err = lexicon.ReadLabels(r)
			return err
		})
	})
	eg.Go(func() error {
		return read(egCtx, cfg.Path(cfg.NontermPhonesOffset), func(r io.Reader) error {
			n, err := lexicon.ReadInt(r)
			if err != nil {
				return err
			}
			if n < 0 {
				return fmt.Errorf("%w: negative offset %d", lexicon.ErrMalformed, n)
			}
			m.NontermPhonesOffset = fst.Label(n)
			return nil
		})
	})
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	eg, egCtx = errgroup.WithContext(ctx)
	eg.Go(func() error {
		return read(egCtx, cfg.Path(cfg.ChunkLM), func(r io.Reader) (err error) {
			m.ChunkLM, err = lm.ReadARPA(r, m.Words)
			return err
		})
	})
	eg.Go(func() error {
		return read(egCtx, cfg.Path(cfg.FinalLM), func(r io.Reader) (err error) {
			m.FinalLM, err = lm.ReadARPA(r, m.Words)
			return err
		})
	})
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	slog.Info("models loaded",
		"dir", cfg.Dir,
		"words", m.Words.Len(),
		"phones", m.Phones.Len(),
		"lexicon", m.Lexicon.Len(),
		"hint_start", m.HintStart(),
		"duration", time.Since(start),
	)
	return m, nil
}

// read opens path and hands it to parse, naming the file in any error.
func read(ctx context.Context, path string, parse func(io.Reader) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("model: %w", err)
	}
	defer f.Close()
	if err := parse(f); err != nil {
		return fmt.Errorf("model: load %s: %w", path, err)
	}
	return nil
}
