package transformer

import (
	"fmt"
	"strconv"
	"time"
)

// DateError reports the first cell of a date column that matched no layout.
type DateError struct {
	Column string
	Line   int
	Value  string
}

func (e *DateError) Error() string {
	return fmt.Sprintf("column %q line %d: unparseable date %q", e.Column, e.Line, e.Value)
}

// DateNormalizer replaces date columns with Unix epoch seconds.
//
// For every configured column present in the batch, each cell is parsed with
// the first matching layout (times without a zone are UTC) and replaced with
// int64 seconds, floored. The column keeps its position and takes the
// destination name. Missing cells stay missing.
//
// If any cell fails to parse, every cell of that column in the batch becomes
// missing and OnFailure is called; the batch itself succeeds unless Strict is
// set. Configured columns absent from the batch are skipped.
type DateNormalizer struct {
	// Columns maps source column -> destination column.
	Columns map[string]string
	Layouts []string
	Strict  bool

	// OnFailure observes tolerated column failures. May be nil.
	OnFailure func(err *DateError)

	// last remembers the layout that matched most recently per column.
	last map[string]int
}

// NewDateNormalizer returns a normalizer for the given mapping and layouts.
func NewDateNormalizer(columns map[string]string, layouts []string) *DateNormalizer {
	return &DateNormalizer{Columns: columns, Layouts: layouts}
}

func (d *DateNormalizer) Name() string { return "dates" }

// Apply normalizes b in place.
func (d *DateNormalizer) Apply(b *Batch) error {
	if d.last == nil {
		d.last = make(map[string]int, len(d.Columns))
	}
	for ci, col := range b.Columns {
		dst, ok := d.Columns[col]
		if !ok {
			continue
		}
		secs, derr := d.parseColumn(b, ci, col)
		if derr != nil {
			if d.Strict {
				return derr
			}
			if d.OnFailure != nil {
				d.OnFailure(derr)
			}
			for _, row := range b.Rows {
				row[ci] = nil
			}
		} else {
			for r, row := range b.Rows {
				if secs[r] != nil {
					row[ci] = *secs[r]
				}
			}
		}
		b.Columns = renameAt(b.Columns, ci, dst)
	}
	return nil
}

// parseColumn parses every cell of column ci. Rows are left untouched so a
// failure can null the column wholesale.
func (d *DateNormalizer) parseColumn(b *Batch, ci int, col string) ([]*int64, *DateError) {
	out := make([]*int64, len(b.Rows))
	for r, row := range b.Rows {
		s, ok := dateText(row[ci])
		if !ok {
			continue
		}
		t, err := d.parse(col, s)
		if err != nil {
			return nil, &DateError{Column: col, Line: b.FirstLine + r, Value: s}
		}
		sec := t.Unix()
		out[r] = &sec
	}
	return out, nil
}

func (d *DateNormalizer) parse(col, s string) (time.Time, error) {
	if len(d.Layouts) == 0 {
		return time.Time{}, fmt.Errorf("no date layouts configured")
	}
	first := d.last[col]
	if t, err := time.Parse(d.Layouts[first], s); err == nil {
		return t, nil
	}
	var lastErr error
	for i, layout := range d.Layouts {
		if i == first {
			continue
		}
		t, err := time.Parse(layout, s)
		if err == nil {
			d.last[col] = i
			return t, nil
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no layout matched %q", s)
	}
	return time.Time{}, lastErr
}

// dateText returns the text form of a date cell; ok is false for missing
// cells.
func dateText(v any) (string, bool) {
	switch x := v.(type) {
	case nil:
		return "", false
	case string:
		if x == "" {
			return "", false
		}
		return x, true
	case int64:
		return strconv.FormatInt(x, 10), true
	default:
		return fmt.Sprint(x), true
	}
}

// renameAt returns cols with position i renamed. The slice is copied because
// batches from one source share their header slice.
func renameAt(cols []string, i int, name string) []string {
	if cols[i] == name {
		return cols
	}
	out := append([]string(nil), cols...)
	out[i] = name
	return out
}
