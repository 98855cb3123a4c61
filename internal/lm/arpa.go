package lm

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"math"
	"strconv"
	"strings"

	"github.com/MrWong99/hintstream/pkg/fst"
)

// Sentence boundary markers live outside the word label space.
const (
	bosLabel fst.Label = -1
	eosLabel fst.Label = -2
)

type ngram struct {
	logprob float64
	backoff float64
}

// ARPA is a back-off n-gram model read from the ARPA text format. It is
// immutable after [ReadARPA] returns.
type ARPA struct {
	order  int
	ngrams []map[string]ngram
}

var _ Factory = (*ARPA)(nil)

// ReadARPA parses an ARPA model, mapping words through words. N-grams that
// mention words missing from the table are dropped.
func ReadARPA(r io.Reader, words *fst.SymbolTable) (*ARPA, error) {
	a := &ARPA{}
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	section := -1 // -1 before \data\, 0 inside \data\, n inside \n-grams:
	dropped := 0
	line := 0
	ended := false
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		switch {
		case text == "":
			continue
		case text == `\data\`:
			section = 0
			continue
		case text == `\end\`:
			ended = true
		case strings.HasPrefix(text, `\`) && strings.HasSuffix(text, "-grams:"):
			n, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(text, `\`), "-grams:"))
			if err != nil || n < 1 || n > a.order {
				return nil, fmt.Errorf("%w: line %d: bad section %q", ErrMalformedARPA, line, text)
			}
			section = n
			continue
		}
		if ended {
			break
		}

		switch {
		case section < 0:
			// Header comments before \data\.
		case section == 0:
			if !strings.HasPrefix(text, "ngram ") {
				return nil, fmt.Errorf("%w: line %d: want ngram count", ErrMalformedARPA, line)
			}
			n, _, ok := strings.Cut(strings.TrimPrefix(text, "ngram "), "=")
			order, err := strconv.Atoi(strings.TrimSpace(n))
			if !ok || err != nil || order != a.order+1 {
				return nil, fmt.Errorf("%w: line %d: bad count %q", ErrMalformedARPA, line, text)
			}
			a.order = order
			a.ngrams = append(a.ngrams, make(map[string]ngram))
		default:
			fields := strings.Fields(text)
			if len(fields) != section+1 && len(fields) != section+2 {
				return nil, fmt.Errorf("%w: line %d: want %d or %d fields", ErrMalformedARPA, line, section+1, section+2)
			}
			lp, err := strconv.ParseFloat(fields[0], 64)
			if err != nil {
				return nil, fmt.Errorf("%w: line %d: %v", ErrMalformedARPA, line, err)
			}
			var bo float64
			if len(fields) == section+2 {
				if bo, err = strconv.ParseFloat(fields[section+1], 64); err != nil {
					return nil, fmt.Errorf("%w: line %d: %v", ErrMalformedARPA, line, err)
				}
			}
			labels, ok := wordLabels(words, fields[1:section+1])
			if !ok {
				dropped++
				continue
			}
			a.ngrams[section-1][encode(nil, labels)] = ngram{logprob: lp, backoff: bo}
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("lm: read ARPA: %w", err)
	}
	if a.order == 0 || !ended {
		return nil, fmt.Errorf("%w: missing \\data\\ or \\end\\", ErrMalformedARPA)
	}
	if dropped > 0 {
		slog.Warn("lm: dropped n-grams with out-of-vocabulary words", "count", dropped)
	}
	return a, nil
}

func wordLabels(words *fst.SymbolTable, ws []string) ([]fst.Label, bool) {
	out := make([]fst.Label, len(ws))
	for i, w := range ws {
		switch w {
		case "<s>":
			out[i] = bosLabel
		case "</s>":
			out[i] = eosLabel
		default:
			l, ok := words.Find(w)
			if !ok {
				return nil, false
			}
			out[i] = l
		}
	}
	return out, true
}

func encode(buf []byte, labels []fst.Label) string {
	for _, l := range labels {
		buf = binary.LittleEndian.AppendUint32(buf, uint32(l))
	}
	return string(buf)
}

func decode(key string) []fst.Label {
	out := make([]fst.Label, len(key)/4)
	for i := range out {
		out[i] = fst.Label(binary.LittleEndian.Uint32([]byte(key[i*4 : i*4+4])))
	}
	return out
}

// Order returns the n-gram order.
func (a *ARPA) Order() int { return a.order }

func (a *ARPA) lookup(labels []fst.Label) (ngram, bool) {
	if len(labels) == 0 || len(labels) > a.order {
		return ngram{}, false
	}
	g, ok := a.ngrams[len(labels)-1][encode(nil, labels)]
	return g, ok
}

// logProb returns log10 P(w | hist) with standard back-off.
func (a *ARPA) logProb(hist []fst.Label, w fst.Label) (float64, bool) {
	var backoff float64
	for {
		key := append(hist[:len(hist):len(hist)], w)
		if g, ok := a.lookup(key); ok {
			return backoff + g.logprob, true
		}
		if len(hist) == 0 {
			return 0, false
		}
		if g, ok := a.lookup(hist); ok {
			backoff += g.backoff
		}
		hist = hist[1:]
	}
}

// nextHistory keeps the longest suffix of hist+w that the model knows as a
// context, capped at order-1 words.
func (a *ARPA) nextHistory(hist []fst.Label, w fst.Label) []fst.Label {
	h := append(hist[:len(hist):len(hist)], w)
	if n := a.order - 1; len(h) > n {
		h = h[len(h)-n:]
	}
	for len(h) > 0 {
		if _, ok := a.lookup(h); ok {
			break
		}
		h = h[1:]
	}
	return h
}

// NewModel implements [Factory].
func (a *ARPA) NewModel() Model {
	m := &arpaModel{lm: a, ids: make(map[string]State)}
	var start []fst.Label
	if _, ok := a.lookup([]fst.Label{bosLabel}); ok && a.order > 1 {
		start = []fst.Label{bosLabel}
	}
	m.intern(start)
	return m
}

// arpaModel expands an [ARPA] model on demand.
type arpaModel struct {
	lm        *ARPA
	histories []string
	ids       map[string]State
}

func (m *arpaModel) intern(hist []fst.Label) State {
	key := encode(nil, hist)
	if s, ok := m.ids[key]; ok {
		return s
	}
	s := State(len(m.histories))
	m.histories = append(m.histories, key)
	m.ids[key] = s
	return s
}

func (m *arpaModel) Start() State { return 0 }

func (m *arpaModel) Final(s State) float64 {
	lp, ok := m.lm.logProb(decode(m.histories[s]), eosLabel)
	if !ok {
		return math.Inf(1)
	}
	return -lp * math.Ln10
}

func (m *arpaModel) GetArc(s State, label fst.Label) (State, float64, bool) {
	if label <= 0 {
		return 0, 0, false
	}
	hist := decode(m.histories[s])
	lp, ok := m.lm.logProb(hist, label)
	if !ok {
		return 0, 0, false
	}
	return m.intern(m.lm.nextHistory(hist, label)), -lp * math.Ln10, true
}
