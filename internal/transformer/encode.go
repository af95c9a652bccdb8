package transformer

import (
	"fmt"
	"strconv"

	"supplyetl/internal/vocab"
)

// CategoricalEncoder replaces category strings with their run-wide codes.
//
// Vocabs is shared by every batch of a run and is never reset between
// batches, so a value keeps one code for the whole output. Missing cells are
// encoded as vocab.Unknown.
type CategoricalEncoder struct {
	Columns []string
	Vocabs  *vocab.Set
}

// NewCategoricalEncoder returns an encoder writing into vocabs.
func NewCategoricalEncoder(vocabs *vocab.Set, columns []string) *CategoricalEncoder {
	for _, c := range columns {
		vocabs.Column(c)
	}
	return &CategoricalEncoder{Columns: columns, Vocabs: vocabs}
}

func (e *CategoricalEncoder) Name() string { return "encode" }

// Apply encodes b in place. It cannot fail once it starts assigning codes,
// so a rejected batch never leaves half an encoding in Vocabs.
func (e *CategoricalEncoder) Apply(b *Batch) error {
	if e.Vocabs == nil {
		return fmt.Errorf("encoder has no vocabulary set")
	}
	for _, col := range e.Columns {
		ci := b.ColumnIndex(col)
		if ci < 0 {
			continue
		}
		v := e.Vocabs.Column(col)
		for _, row := range b.Rows {
			row[ci] = v.Code(categoryText(row[ci]))
		}
	}
	return nil
}

func categoryText(v any) string {
	switch x := v.(type) {
	case nil:
		return vocab.Unknown
	case string:
		if x == "" {
			return vocab.Unknown
		}
		return x
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	default:
		return fmt.Sprint(x)
	}
}
