// Package csv reads a delimited file with a header row in bounded batches.
// It never buffers more than one batch of records and tolerates non-UTF-8
// input by decoding through the configured charset.
package csv

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"supplyetl/internal/charset"
	"supplyetl/internal/config"
	"supplyetl/internal/transformer"
)

// Byte order marks stripped from the first header cell: a UTF-8 BOM as
// decoded by UTF-8 and as decoded by Latin-1.
const (
	utf8BOM   = "\uFEFF"
	latin1BOM = "\u00EF\u00BB\u00BF"
)

// BatchError reports a batch that could not be read cleanly. The reader has
// consumed all Rows records of the batch, so the caller can skip it and keep
// reading.
type BatchError struct {
	FirstLine int
	Rows      int
	Err       error
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("batch at line %d (%d rows): %v", e.FirstLine, e.Rows, e.Err)
}

func (e *BatchError) Unwrap() error { return e.Err }

// Reader yields batches of records keyed by the header row.
//
// Recognized options:
//   - encoding (string; "latin1" default, or "utf-8")
//   - comma (string; first rune used; default ',')
//   - lazy_quotes (bool; default false)
//   - trim_space (bool; default true)
type Reader struct {
	src    io.Closer
	cr     *csv.Reader
	header []string
	trim   bool
	line   int // source line of the last record read
}

// NewReader wraps src and consumes the header row. src is closed by Close.
func NewReader(src io.ReadCloser, opt config.Options) (*Reader, error) {
	enc, err := charset.Lookup(opt.String("encoding", charset.Default))
	if err != nil {
		src.Close()
		return nil, err
	}

	cr := csv.NewReader(charset.NewReader(src, enc))
	cr.Comma = opt.Rune("comma", ',')
	cr.LazyQuotes = opt.Bool("lazy_quotes", false)
	cr.FieldsPerRecord = -1 // short rows read as missing cells
	cr.ReuseRecord = true

	r := &Reader{src: src, cr: cr, trim: opt.Bool("trim_space", true)}

	hdr, err := cr.Read()
	if err != nil {
		src.Close()
		if err == io.EOF {
			return nil, fmt.Errorf("read header: empty input")
		}
		return nil, fmt.Errorf("read header: %w", err)
	}
	r.header = make([]string, len(hdr))
	for i, h := range hdr {
		if i == 0 {
			h = strings.TrimPrefix(strings.TrimPrefix(h, utf8BOM), latin1BOM)
		}
		r.header[i] = strings.TrimSpace(h)
	}
	r.line = 1
	return r, nil
}

// Header returns the cleaned header names. Callers must not modify it.
func (r *Reader) Header() []string { return r.header }

// Next reads up to n records. It returns io.EOF when no records remain.
//
// A malformed record marks the whole batch bad: Next keeps consuming until
// n records are accounted for and returns a *BatchError. Any other read
// failure is returned as is and ends the stream.
func (r *Reader) Next(ctx context.Context, n int) (*transformer.Batch, error) {
	if n <= 0 {
		return nil, fmt.Errorf("batch size must be > 0, got %d", n)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b := &transformer.Batch{
		Columns:   r.header,
		Rows:      make([][]any, 0, n),
		FirstLine: r.line + 1,
	}
	var (
		bad      error
		consumed int
	)
	for consumed < n {
		rec, err := r.cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			var pe *csv.ParseError
			if !errors.As(err, &pe) {
				return nil, fmt.Errorf("csv read: %w", err)
			}
			if consumed == 0 {
				b.FirstLine = pe.StartLine
			}
			r.line = pe.Line
			consumed++
			if bad == nil {
				bad = err
			}
			continue
		}
		line, _ := r.cr.FieldPos(0)
		if consumed == 0 {
			b.FirstLine = line
		}
		r.line = line
		consumed++
		if bad != nil {
			continue
		}
		b.Rows = append(b.Rows, r.cells(rec))
	}

	if consumed == 0 {
		return nil, io.EOF
	}
	if bad != nil {
		return nil, &BatchError{FirstLine: b.FirstLine, Rows: consumed, Err: bad}
	}
	return b, nil
}

func (r *Reader) cells(rec []string) []any {
	row := make([]any, len(r.header))
	for i := range row {
		if i >= len(rec) {
			break
		}
		v := rec[i]
		if r.trim {
			v = strings.TrimSpace(v)
		}
		if v != "" {
			row[i] = v
		}
	}
	return row
}

// Close closes the underlying source.
func (r *Reader) Close() error { return r.src.Close() }
