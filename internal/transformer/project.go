package transformer

// SchemaProjector keeps the configured columns that are present in a batch,
// in configuration order. Requested columns the source lacks are dropped;
// nothing is fabricated.
type SchemaProjector struct {
	Keep []string

	// plan cached for the last header seen
	header []string
	cols   []string
	idx    []int
}

// NewSchemaProjector returns a projector for the ordered keep list.
func NewSchemaProjector(keep []string) *SchemaProjector {
	return &SchemaProjector{Keep: keep}
}

func (p *SchemaProjector) Name() string { return "project" }

// Apply replaces b's columns and rows with the projection. The column plan
// is computed once per distinct header.
func (p *SchemaProjector) Apply(b *Batch) error {
	if p.idx == nil || !sameColumns(p.header, b.Columns) {
		p.header = append(p.header[:0], b.Columns...)
		p.cols, p.idx = Plan(b.Columns, p.Keep)
		if p.idx == nil {
			p.idx = []int{}
		}
	}
	*b = Batch{Columns: p.cols, Rows: projectRows(b.Rows, p.idx), FirstLine: b.FirstLine}
	return nil
}

func sameColumns(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Plan maps each kept column present in header to its source index. The
// first occurrence wins when header repeats a name.
func Plan(header, keep []string) (cols []string, idx []int) {
	pos := make(map[string]int, len(header))
	for i, h := range header {
		if _, dup := pos[h]; !dup {
			pos[h] = i
		}
	}
	for _, k := range keep {
		if i, ok := pos[k]; ok {
			cols = append(cols, k)
			idx = append(idx, i)
		}
	}
	return cols, idx
}

// Project returns a new batch holding only the kept columns present in b.
// b is not modified.
func Project(b *Batch, keep []string) Batch {
	cols, idx := Plan(b.Columns, keep)
	return Batch{Columns: cols, Rows: projectRows(b.Rows, idx), FirstLine: b.FirstLine}
}

func projectRows(in [][]any, idx []int) [][]any {
	rows := make([][]any, len(in))
	for r, src := range in {
		dst := make([]any, len(idx))
		for j, si := range idx {
			if si < len(src) {
				dst[j] = src[si]
			}
		}
		rows[r] = dst
	}
	return rows
}
