package transformer

import (
	"strconv"
	"strings"
)

// NumericCoercer converts text cells of numeric columns to int64 or float64.
// Cells that do not parse are left as they are.
type NumericCoercer struct {
	// Types maps column name -> "int" | "float".
	Types map[string]string
}

func (c *NumericCoercer) Name() string { return "coerce" }

// Apply coerces b in place.
func (c *NumericCoercer) Apply(b *Batch) error {
	for ci, col := range b.Columns {
		typ, ok := c.Types[col]
		if !ok {
			continue
		}
		for _, row := range b.Rows {
			s, ok := row[ci].(string)
			if !ok {
				continue
			}
			if v, ok := coerceNumber(strings.TrimSpace(s), typ); ok {
				row[ci] = v
			}
		}
	}
	return nil
}

func coerceNumber(s, typ string) (any, bool) {
	switch typ {
	case "int":
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return n, true
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f, true
		}
	case "float":
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f, true
		}
	}
	return nil, false
}
