// Package transformer holds the per-batch transformation steps of the
// reducer: column projection, date normalization, numeric coercion and
// categorical encoding. Steps mutate a Batch in place and run strictly in
// sequence on the goroutine that owns the batch.
package transformer

// Batch is a fixed-size slice of input rows processed as one unit.
//
// Columns names the positions of every row. Cells are nil (missing), string,
// int64 or float64. A Batch is owned by exactly one stage at a time; do not
// retain Rows after handing the batch on.
type Batch struct {
	Columns []string
	Rows    [][]any

	// FirstLine is the 1-based source line of Rows[0], for diagnostics.
	FirstLine int
}

// Len returns the number of rows.
func (b *Batch) Len() int { return len(b.Rows) }

// ColumnIndex returns the position of name, or -1 when absent.
func (b *Batch) ColumnIndex(name string) int {
	for i, c := range b.Columns {
		if c == name {
			return i
		}
	}
	return -1
}

// LastLine returns the source line of the final row.
func (b *Batch) LastLine() int {
	if len(b.Rows) == 0 {
		return b.FirstLine
	}
	return b.FirstLine + len(b.Rows) - 1
}
