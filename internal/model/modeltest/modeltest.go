// Package modeltest writes a small, self-consistent model directory for
// tests that need [model.Load] to succeed.
//
// The word table holds "hello" and "world" (hint labels start at 4), the
// phone table covers a handful of phones in all four word positions, and the
// nonterminal offset matches the default of the mock engine.
package modeltest

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/MrWong99/hintstream/internal/config"
	"github.com/MrWong99/hintstream/internal/engine/mock"
)

// HintStart is the first hint label of the written word table.
const HintStart = 4

// Phones lists the base phones of the written phone table.
var Phones = []string{"K", "UW", "B", "ER", "N", "EH", "T", "Z", "HH", "AH", "L", "OW", "W", "D", "AE", "S"}

// ARPA is the language model written for both rescoring passes.
const ARPA = `\data\
ngram 1=5
ngram 2=2

\1-grams:
-1.0	</s>
-99	<s>	-0.5
-0.5	hello	-0.3
-0.7	world	-0.2
-1.5	<unk>

\2-grams:
-0.2	<s> hello
-0.1	hello world

\end\
`

// Write fills dir with the model files and returns the matching config.
func Write(t testing.TB, dir string) config.ModelsConfig {
	t.Helper()
	cfg := config.ModelsConfig{
		Dir:                 dir,
		Words:               "words.txt",
		Lexicon:             "lexicon.txt",
		Phones:              "phones.txt",
		LeftContextPhones:   "left_context_phones.int",
		Disambig:            "disambig.int",
		NontermPhonesOffset: "nonterm_phones_offset.int",
		ChunkLM:             "chunk.arpa",
		FinalLM:             "final.arpa",
	}

	var phones strings.Builder
	next := 0
	add := func(name string) int {
		fmt.Fprintf(&phones, "%s %d\n", name, next)
		next++
		return next - 1
	}
	add("<eps>")
	sil := add("SIL")
	left := []string{strconv.Itoa(sil)}
	for _, p := range Phones {
		for _, m := range []string{"_B", "_I", "_E", "_S"} {
			l := add(p + m)
			if m == "_E" || m == "_S" {
				left = append(left, strconv.Itoa(l))
			}
		}
	}
	var disambig []string
	for i := range 6 {
		disambig = append(disambig, strconv.Itoa(add("#"+strconv.Itoa(i))))
	}
	add("#nonterm_begin")
	add("#nonterm:hint")
	add("#nonterm_end")

	files := map[string]string{
		cfg.Words:               "<eps> 0\nhello 1\nworld 2\n<unk> 3\n",
		cfg.Lexicon:             "hello HH AH L OW\nworld W ER L D\n",
		cfg.Phones:              phones.String(),
		cfg.LeftContextPhones:   strings.Join(left, "\n") + "\n",
		cfg.Disambig:            strings.Join(disambig, "\n") + "\n",
		cfg.NontermPhonesOffset: strconv.Itoa(mock.DefaultNontermPhonesOffset) + "\n",
		cfg.ChunkLM:             ARPA,
		cfg.FinalLM:             ARPA,
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			t.Fatalf("modeltest: write %s: %v", name, err)
		}
	}
	return cfg
}
