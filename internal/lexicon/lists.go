package lexicon

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/MrWong99/hintstream/pkg/fst"
)

// ReadLabels parses whitespace-separated integer labels, as found in
// left_context_phones.int and disambig.int.
func ReadLabels(r io.Reader) ([]fst.Label, error) {
	var out []fst.Label
	sc := bufio.NewScanner(r)
	sc.Split(bufio.ScanWords)
	for sc.Scan() {
		v, err := strconv.ParseInt(sc.Text(), 10, 32)
		if err != nil {
			return nil, fmt.Errorf("%w: label %q", ErrMalformed, sc.Text())
		}
		out = append(out, fst.Label(v))
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("lexicon: read labels: %w", err)
	}
	return out, nil
}

// ReadInt parses a file holding a single integer.
func ReadInt(r io.Reader) (int, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return 0, fmt.Errorf("lexicon: read int: %w", err)
	}
	v, err := strconv.Atoi(strings.TrimSpace(string(b)))
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return v, nil
}

// PhoneLabels resolves every phone of p through the phone table. ok is false
// if any phone is unknown.
func PhoneLabels(phones *fst.SymbolTable, p Pronunciation) (labels []fst.Label, ok bool) {
	labels = make([]fst.Label, len(p))
	for i, name := range p {
		l, found := phones.Find(name)
		if !found {
			return nil, false
		}
		labels[i] = l
	}
	return labels, true
}
