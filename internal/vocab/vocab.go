// Package vocab holds the run-scoped category vocabularies used by the
// categorical encoder, and a bbolt-backed snapshot store for them.
//
// A Vocabulary assigns dense int64 codes in first-seen order: the first new
// value gets 0, the next new value 1, and so on. A value never changes code
// for the lifetime of the Vocabulary. Vocabularies are not safe for concurrent
// use; a pipeline run is their single owner.
package vocab

import "sort"

// Unknown is the token substituted for missing categorical values before
// encoding.
const Unknown = "Unknown"

// Vocabulary maps category strings to dense codes.
type Vocabulary struct {
	codes  map[string]int64
	values []string
}

// New returns an empty Vocabulary.
func New() *Vocabulary {
	return &Vocabulary{codes: make(map[string]int64)}
}

// Code returns the code for value, assigning the next free code when value
// has not been seen before.
func (v *Vocabulary) Code(value string) int64 {
	if c, ok := v.codes[value]; ok {
		return c
	}
	c := int64(len(v.values))
	v.codes[value] = c
	v.values = append(v.values, value)
	return c
}

// Lookup returns the code for value without assigning one.
func (v *Vocabulary) Lookup(value string) (int64, bool) {
	c, ok := v.codes[value]
	return c, ok
}

// Value returns the category for code.
func (v *Vocabulary) Value(code int64) (string, bool) {
	if code < 0 || code >= int64(len(v.values)) {
		return "", false
	}
	return v.values[code], true
}

// Len is the number of distinct values seen.
func (v *Vocabulary) Len() int { return len(v.values) }

// Values returns a copy of all categories indexed by code.
func (v *Vocabulary) Values() []string {
	return append([]string(nil), v.values...)
}

// Set groups vocabularies by column name.
type Set struct {
	cols map[string]*Vocabulary
}

// NewSet returns a Set with an empty Vocabulary for each named column.
func NewSet(columns ...string) *Set {
	s := &Set{cols: make(map[string]*Vocabulary, len(columns))}
	for _, c := range columns {
		s.Column(c)
	}
	return s
}

// Column returns the vocabulary for name, creating it on first use.
func (s *Set) Column(name string) *Vocabulary {
	v, ok := s.cols[name]
	if !ok {
		v = New()
		s.cols[name] = v
	}
	return v
}

// Has reports whether a vocabulary exists for name.
func (s *Set) Has(name string) bool {
	_, ok := s.cols[name]
	return ok
}

// Columns returns the column names in sorted order.
func (s *Set) Columns() []string {
	out := make([]string, 0, len(s.cols))
	for c := range s.cols {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// Size is the total number of distinct values across all columns.
func (s *Set) Size() int {
	n := 0
	for _, v := range s.cols {
		n += v.Len()
	}
	return n
}
