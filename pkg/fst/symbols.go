package fst

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// SymbolTable maps between symbol strings and labels.
type SymbolTable struct {
	byName  map[string]Label
	byLabel map[Label]string
	next    Label
}

// NewSymbolTable returns an empty table.
func NewSymbolTable() *SymbolTable {
	return &SymbolTable{
		byName:  make(map[string]Label),
		byLabel: make(map[Label]string),
	}
}

// ReadSymbolTable parses the "symbol id" text format, one entry per line.
func ReadSymbolTable(r io.Reader) (*SymbolTable, error) {
	t := NewSymbolTable()
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	line := 0
	for sc.Scan() {
		line++
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 {
			continue
		}
		if len(fields) != 2 {
			return nil, fmt.Errorf("fst: symbol table line %d: want 2 fields, got %d", line, len(fields))
		}
		id, err := strconv.ParseInt(fields[1], 10, 32)
		if err != nil || id < 0 {
			return nil, fmt.Errorf("fst: symbol table line %d: bad id %q", line, fields[1])
		}
		t.Add(fields[0], Label(id))
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("fst: read symbol table: %w", err)
	}
	return t, nil
}

// Add binds sym to l, replacing any previous binding of sym.
func (t *SymbolTable) Add(sym string, l Label) {
	t.byName[sym] = l
	t.byLabel[l] = sym
	if l >= t.next {
		t.next = l + 1
	}
}

// Find returns the label of sym.
func (t *SymbolTable) Find(sym string) (Label, bool) {
	l, ok := t.byName[sym]
	return l, ok
}

// Symbol returns the string bound to l.
func (t *SymbolTable) Symbol(l Label) (string, bool) {
	s, ok := t.byLabel[l]
	return s, ok
}

// Contains reports whether sym has a label.
func (t *SymbolTable) Contains(sym string) bool {
	_, ok := t.byName[sym]
	return ok
}

// NextAvailable returns one past the largest label in the table.
func (t *SymbolTable) NextAvailable() Label { return t.next }

// Len returns the number of symbols.
func (t *SymbolTable) Len() int { return len(t.byName) }
