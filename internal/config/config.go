// Package config defines the JSON-serializable configuration model for the
// supply-chain reducer. A pipeline file describes where the raw CSV lives, how
// it is parsed, which columns survive, and where the encoded table is written.
//
// Example (trimmed):
//
//	{
//	  "job":     "dataco",
//	  "source":  { "kind": "file", "file": { "path": "DataCoSupplyChainDataset.csv" } },
//	  "parser":  { "kind": "csv", "options": { "encoding": "latin1" } },
//	  "storage": { "kind": "csv", "csv": { "path": "out/Processed.csv" } },
//	  "runtime": { "batch_size": 1000, "max_rows": 150000 }
//	}
//
// Omitted sections fall back to Default(), which carries the DataCo column
// sets.
package config

import (
	"encoding/json"
	"fmt"
	"os"
)

// Pipeline is the top-level object decoded from a pipeline file.
type Pipeline struct {
	// Job names the run for logs and metrics grouping.
	Job string `json:"job"`

	Source  Source  `json:"source"`
	Parser  Parser  `json:"parser"`
	Columns Columns `json:"columns"`
	Storage Storage `json:"storage"`
	Runtime Runtime `json:"runtime"`

	// Vocabulary optionally persists the run's encoding vocabularies.
	Vocabulary Vocabulary `json:"vocabulary"`
}

// Source identifies the data source. Kinds: "file", "http".
type Source struct {
	Kind string     `json:"kind"`
	File SourceFile `json:"file"`
	HTTP SourceHTTP `json:"http"`
}

// SourceFile holds configuration for the "file" source kind.
type SourceFile struct {
	// Path is the local filesystem path to the input CSV (input_path).
	Path string `json:"path"`
}

// SourceHTTP holds configuration for the "http" source kind, which streams
// the CSV straight from a download URL.
type SourceHTTP struct {
	URL string `json:"url"`

	// Headers are sent with the request, e.g. an Authorization token.
	Headers map[string]string `json:"headers"`

	// MaxRetries is the number of retries after the first attempt on network
	// errors, 429 and 5xx.
	MaxRetries int `json:"max_retries"`

	// TimeoutSeconds bounds the wait for response headers. The body itself is
	// not time-limited.
	TimeoutSeconds int `json:"timeout_seconds"`
}

// Parser selects how raw bytes become rows. Current kind: "csv".
//
// Recognized CSV options:
//
//	encoding (string; "latin1" or "utf-8"), comma (string), lazy_quotes (bool),
//	trim_space (bool)
type Parser struct {
	Kind    string  `json:"kind"`
	Options Options `json:"options"`
}

// Columns is the fixed column specification applied to every batch.
type Columns struct {
	// Keep lists the source columns retained in output, in output order.
	Keep []string `json:"keep"`

	// Encode lists the kept columns replaced by integer category codes.
	Encode []string `json:"encode"`

	// Dates maps a source date column to its epoch-seconds destination name.
	Dates map[string]string `json:"dates"`

	// DateLayouts are Go time layouts tried in order when parsing date cells.
	DateLayouts []string `json:"date_layouts"`

	// Types maps kept numeric columns to "int" or "float".
	Types map[string]string `json:"types"`
}

// Storage selects the sink receiving the encoded table.
type Storage struct {
	// Kind is one of "csv", "sqlite", "mysql", "mssql", "postgres".
	Kind string `json:"kind"`

	CSV CSVConfig `json:"csv"`
	DB  DBConfig  `json:"db"`
}

// CSVConfig configures the "csv" sink.
type CSVConfig struct {
	// Path is the destination file (output_path). Its parent directory is
	// created when absent.
	Path string `json:"path"`
}

// DBConfig configures the database sinks.
type DBConfig struct {
	// DSN is passed to the driver unchanged.
	DSN string `json:"dsn"`

	// Table is the destination table name (optionally schema-qualified).
	Table string `json:"table"`

	// AutoCreateTable issues CREATE TABLE IF NOT EXISTS before loading.
	AutoCreateTable bool `json:"auto_create_table"`
}

// Runtime controls batching and failure policy.
type Runtime struct {
	// BatchSize is the number of rows per transformation unit.
	BatchSize int `json:"batch_size"`

	// MaxRows caps the total number of data rows consumed from the source.
	MaxRows int `json:"max_rows"`

	// Prefetch overlaps reading the next batch with transforming the current one.
	Prefetch bool `json:"prefetch"`

	// Strict turns tolerated failures (bad date column, bad batch) into run
	// failures.
	Strict bool `json:"strict"`
}

// Vocabulary configures the optional vocabulary snapshot.
type Vocabulary struct {
	// Path of the bbolt file written at the end of a successful run. Empty
	// disables persistence.
	Path string `json:"path"`
}

// Load decodes the pipeline file at path and fills unset fields from
// Default(). An empty path yields Default().
func Load(path string) (Pipeline, error) {
	if path == "" {
		return Default(), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return Pipeline{}, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	var p Pipeline
	if err := json.NewDecoder(f).Decode(&p); err != nil {
		return Pipeline{}, fmt.Errorf("decode config %s: %w", path, err)
	}
	ApplyDefaults(&p)
	return p, nil
}

// Options is a small helper to fetch typed values from free-form JSON maps.
// It performs minimal coercion and returns the provided default when a key is
// absent or of an unexpected type.
type Options map[string]any

// String returns the string value for key or def.
func (o Options) String(key, def string) string {
	if v, ok := o[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return def
}

// Bool returns the bool value for key or def.
func (o Options) Bool(key string, def bool) bool {
	if v, ok := o[key]; ok {
		if b, ok := v.(bool); ok {
			return b
		}
	}
	return def
}

// Int returns the int value for key or def. encoding/json decodes numbers as
// float64, so both float64 and int are accepted.
func (o Options) Int(key string, def int) int {
	if v, ok := o[key]; ok {
		switch n := v.(type) {
		case float64:
			return int(n)
		case int:
			return n
		}
	}
	return def
}

// Rune returns the first rune of a string value for key, or def.
func (o Options) Rune(key string, def rune) rune {
	if v, ok := o[key]; ok {
		if s, ok := v.(string); ok && len(s) > 0 {
			return []rune(s)[0]
		}
	}
	return def
}

// UnmarshalJSON makes a missing or null "options" object decode to an empty,
// non-nil map.
func (o *Options) UnmarshalJSON(b []byte) error {
	var tmp map[string]any
	if len(b) == 0 || string(b) == "null" {
		*o = Options{}
		return nil
	}
	if err := json.Unmarshal(b, &tmp); err != nil {
		return err
	}
	*o = Options(tmp)
	return nil
}
