// Package lattice determinizes decoder lattices on their word sequences and
// extracts N-best hypotheses from them.
//
// A decoder lattice carries transition ids on its input side and words on its
// output side, with most arcs having an epsilon word. Determinization keeps,
// for each distinct word sequence, only the best-scoring path together with
// its transition-id alignment.
package lattice

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"strconv"

	"github.com/MrWong99/hintstream/pkg/fst"
)

// ErrLimitExceeded is returned when determinization hits a resource ceiling.
var ErrLimitExceeded = errors.New("lattice: determinization limit exceeded")

// Defaults for [Options].
const (
	DefaultMaxMem  = 15_000_000
	DefaultMaxLoop = 500_000
	DefaultDelta   = fst.DefaultDelta
)

// Options bounds determinization.
type Options struct {
	// MaxMem is the approximate memory ceiling in bytes. Zero means default.
	MaxMem int
	// MaxLoop caps the number of closure expansions. Zero means default.
	MaxLoop int
	// Delta is the weight quantization used to identify subsets.
	Delta float64
}

// DefaultOptions returns the default ceilings.
func DefaultOptions() Options {
	return Options{MaxMem: DefaultMaxMem, MaxLoop: DefaultMaxLoop, Delta: DefaultDelta}
}

func (o Options) withDefaults() Options {
	if o.MaxMem <= 0 {
		o.MaxMem = DefaultMaxMem
	}
	if o.MaxLoop <= 0 {
		o.MaxLoop = DefaultMaxLoop
	}
	if o.Delta <= 0 {
		o.Delta = DefaultDelta
	}
	return o
}

// Approximate per-item footprints used against MaxMem.
const (
	elementBytes = 32
	arcBytes     = 40
	labelBytes   = 4
)

// element is a member of a determinized subset: a source state, the weight
// still owed on paths through it and the alignment not yet emitted.
type element struct {
	state  fst.StateID
	weight fst.Weight
	str    []fst.Label
}

// better orders (weight, alignment) pairs: lower cost first, then
// lexicographically smaller alignment.
func better(aw fst.Weight, as []fst.Label, bw fst.Weight, bs []fst.Label) bool {
	if fst.Less(aw, bw) {
		return true
	}
	if fst.Less(bw, aw) {
		return false
	}
	return slices.Compare(as, bs) < 0
}

type detArc struct {
	word   fst.Label
	weight fst.Weight
	str    []fst.Label
	next   int
}

type detState struct {
	subset   []element
	arcs     []detArc
	final    fst.Weight
	finalStr []fst.Label
}

type determinizer struct {
	in    *fst.Fst
	opts  Options
	ids   map[string]int
	out   []detState
	mem   int
	loops int
	buf   []byte
}

// Determinize returns a lattice with exactly one path per distinct word
// sequence of lat, carrying the best weight and its alignment. ok is false if
// a resource ceiling was hit; the failure is logged at debug level.
func Determinize(lat *fst.Fst, opts Options) (*fst.Fst, bool) {
	out, err := DeterminizeErr(lat, opts)
	if err != nil {
		slog.Debug("lattice determinization failed", "states", lat.NumStates(), "err", err)
		return nil, false
	}
	return out, true
}

// DeterminizeErr is [Determinize] reporting the failure reason. Ceiling
// violations wrap [ErrLimitExceeded].
func DeterminizeErr(lat *fst.Fst, opts Options) (*fst.Fst, error) {
	if lat == nil || lat.IsEmpty() {
		return fst.New(), nil
	}
	inv := lat.Copy()
	inv.Invert()

	d := &determinizer{in: inv, opts: opts.withDefaults(), ids: make(map[string]int)}
	start, err := d.closure([]element{{state: inv.Start(), weight: fst.One}})
	if err != nil {
		return nil, err
	}
	if _, err := d.intern(start); err != nil {
		return nil, err
	}
	for i := 0; i < len(d.out); i++ {
		if err := d.expand(i); err != nil {
			return nil, err
		}
	}
	return d.convert(), nil
}

// closure follows epsilon-word arcs, keeping the best entry per state.
func (d *determinizer) closure(sub []element) ([]element, error) {
	best := make(map[fst.StateID]element, len(sub))
	queue := make([]fst.StateID, 0, len(sub))
	for _, e := range sub {
		if old, ok := best[e.state]; ok && !better(e.weight, e.str, old.weight, old.str) {
			continue
		}
		best[e.state] = e
		queue = append(queue, e.state)
	}
	for len(queue) > 0 {
		d.loops++
		if d.loops > d.opts.MaxLoop {
			return nil, fmt.Errorf("%w: more than %d iterations", ErrLimitExceeded, d.opts.MaxLoop)
		}
		s := queue[0]
		queue = queue[1:]
		e := best[s]
		for _, a := range d.in.Arcs(s) {
			if a.ILabel != fst.Epsilon {
				continue
			}
			w := fst.Times(e.weight, a.Weight)
			str := e.str
			if a.OLabel != fst.Epsilon {
				str = append(slices.Clip(e.str), a.OLabel)
			}
			if old, ok := best[a.Next]; ok && !better(w, str, old.weight, old.str) {
				continue
			}
			best[a.Next] = element{state: a.Next, weight: w, str: str}
			queue = append(queue, a.Next)
		}
	}
	out := make([]element, 0, len(best))
	for _, e := range best {
		out = append(out, e)
	}
	slices.SortFunc(out, func(a, b element) int { return int(a.state) - int(b.state) })
	return out, nil
}

func (d *determinizer) charge(n int) error {
	d.mem += n
	if d.mem > d.opts.MaxMem {
		return fmt.Errorf("%w: more than %d bytes", ErrLimitExceeded, d.opts.MaxMem)
	}
	return nil
}

func (d *determinizer) intern(sub []element) (int, error) {
	d.buf = d.key(d.buf[:0], sub)
	if id, ok := d.ids[string(d.buf)]; ok {
		return id, nil
	}
	cost := 0
	for _, e := range sub {
		cost += elementBytes + labelBytes*len(e.str)
	}
	if err := d.charge(cost + len(d.buf)); err != nil {
		return 0, err
	}
	id := len(d.out)
	d.ids[string(d.buf)] = id
	d.out = append(d.out, detState{subset: sub, final: fst.Zero})
	return id, nil
}

func (d *determinizer) key(buf []byte, sub []element) []byte {
	for _, e := range sub {
		buf = strconv.AppendInt(buf, int64(e.state), 36)
		buf = append(buf, ':')
		buf = strconv.AppendInt(buf, quantize(e.weight.Graph, d.opts.Delta), 36)
		buf = append(buf, ',')
		buf = strconv.AppendInt(buf, quantize(e.weight.Acoustic, d.opts.Delta), 36)
		for _, l := range e.str {
			buf = append(buf, '.')
			buf = strconv.AppendInt(buf, int64(l), 36)
		}
		buf = append(buf, ';')
	}
	return buf
}

func quantize(v, delta float64) int64 {
	switch {
	case math.IsInf(v, 1):
		return math.MaxInt64
	case math.IsInf(v, -1):
		return math.MinInt64
	}
	return int64(math.Round(v / delta))
}

func (d *determinizer) expand(i int) error {
	sub := d.out[i].subset

	final, finalStr := fst.Zero, []fst.Label(nil)
	groups := make(map[fst.Label][]element)
	var words []fst.Label
	for _, e := range sub {
		if fw := d.in.Final(e.state); !fw.IsZero() {
			if w := fst.Times(e.weight, fw); better(w, e.str, final, finalStr) {
				final, finalStr = w, e.str
			}
		}
		for _, a := range d.in.Arcs(e.state) {
			if a.ILabel == fst.Epsilon {
				continue
			}
			if _, seen := groups[a.ILabel]; !seen {
				words = append(words, a.ILabel)
			}
			str := e.str
			if a.OLabel != fst.Epsilon {
				str = append(slices.Clip(e.str), a.OLabel)
			}
			groups[a.ILabel] = append(groups[a.ILabel], element{state: a.Next, weight: fst.Times(e.weight, a.Weight), str: str})
		}
	}
	d.out[i].final, d.out[i].finalStr = final, finalStr
	slices.Sort(words)

	for _, word := range words {
		next, err := d.closure(groups[word])
		if err != nil {
			return err
		}
		w, prefix := normalize(next)
		id, err := d.intern(next)
		if err != nil {
			return err
		}
		if err := d.charge(arcBytes + labelBytes*len(prefix)); err != nil {
			return err
		}
		d.out[i].arcs = append(d.out[i].arcs, detArc{word: word, weight: w, str: prefix, next: id})
	}
	return nil
}

// normalize factors the best weight and the common alignment prefix out of
// sub, leaving residuals in place.
func normalize(sub []element) (fst.Weight, []fst.Label) {
	best := sub[0].weight
	prefix := sub[0].str
	for _, e := range sub[1:] {
		if fst.Less(e.weight, best) {
			best = e.weight
		}
		n := 0
		for n < len(prefix) && n < len(e.str) && prefix[n] == e.str[n] {
			n++
		}
		prefix = prefix[:n]
	}
	prefix = slices.Clone(prefix)
	for j := range sub {
		sub[j].weight = fst.Divide(sub[j].weight, best)
		sub[j].str = sub[j].str[len(prefix):]
	}
	return best, prefix
}

// convert expands alignment strings back into transition-id arcs: the word
// and the weight sit on the first arc of each chain.
func (d *determinizer) convert() *fst.Fst {
	out := fst.New()
	for range d.out {
		out.AddState()
	}
	out.SetStart(0)
	chain := func(from fst.StateID, word fst.Label, w fst.Weight, str []fst.Label, to fst.StateID) {
		if len(str) == 0 {
			out.AddArc(from, fst.Arc{OLabel: word, Weight: w, Next: to})
			return
		}
		cur := from
		for j, l := range str {
			next := to
			if j < len(str)-1 {
				next = out.AddState()
			}
			a := fst.Arc{ILabel: l, Weight: fst.One, Next: next}
			if j == 0 {
				a.OLabel, a.Weight = word, w
			}
			out.AddArc(cur, a)
			cur = next
		}
	}
	for i, s := range d.out {
		src := fst.StateID(i)
		for _, a := range s.arcs {
			chain(src, a.word, a.weight, a.str, fst.StateID(a.next))
		}
		if s.final.IsZero() {
			continue
		}
		if len(s.finalStr) == 0 {
			out.SetFinal(src, s.final)
			continue
		}
		end := out.AddState()
		out.SetFinal(end, fst.One)
		chain(src, fst.Epsilon, s.final, s.finalStr, end)
	}
	fst.Connect(out)
	return out
}
