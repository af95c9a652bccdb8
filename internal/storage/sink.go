// Package storage defines where transformed batches go.
//
// A Sink receives the output header once, then batches in order, then either
// Commit or Abort. Nothing written before Commit is visible to readers of the
// destination, so a failed run leaves no partial output. Concrete sinks
// register a Factory under their kind in init; import storage/all to enable
// them all.
package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"supplyetl/internal/config"
)

// ErrUnknownKind is returned by New for a kind no sink registered.
var ErrUnknownKind = errors.New("storage: unknown kind")

// Sink is the destination of a run.
type Sink interface {
	// Begin prepares the destination for rows with the given columns.
	Begin(ctx context.Context, columns []string) error
	// Write appends rows aligned to the Begin columns.
	Write(ctx context.Context, rows [][]any) error
	// Commit publishes everything written. The sink is unusable afterwards.
	Commit(ctx context.Context) error
	// Abort discards everything written. Safe to call after a failed Begin
	// and more than once.
	Abort(ctx context.Context) error
}

// Digester is implemented by sinks that fingerprint their output.
type Digester interface {
	Digest() string
}

// Config is the backend-neutral sink configuration.
type Config struct {
	Kind string

	// File sinks.
	Path     string
	Encoding string

	// Database sinks.
	DSN             string
	Table           string
	AutoCreateTable bool

	// Types maps output column -> logical type ("int", "float", "text").
	// Columns not listed are text. Used for CREATE TABLE.
	Types map[string]string
}

// Factory constructs a Sink. It must not touch the destination; that
// happens in Begin.
type Factory func(cfg Config) (Sink, error)

var (
	regMu     sync.RWMutex
	factories = map[string]Factory{}
)

// Register makes a factory available under kind. It panics on duplicates.
func Register(kind string, f Factory) {
	regMu.Lock()
	defer regMu.Unlock()
	if _, dup := factories[kind]; dup {
		panic(fmt.Sprintf("storage: Register called twice for %q", kind))
	}
	factories[kind] = f
}

// Kinds lists the registered kinds in sorted order.
func Kinds() []string {
	regMu.RLock()
	defer regMu.RUnlock()
	out := make([]string, 0, len(factories))
	for k := range factories {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// New builds the sink registered for cfg.Kind.
func New(cfg Config) (Sink, error) {
	regMu.RLock()
	f, ok := factories[cfg.Kind]
	regMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w %q (registered: %v)", ErrUnknownKind, cfg.Kind, Kinds())
	}
	return f(cfg)
}

// FromPipeline derives the sink configuration for p, including the logical
// type of every output column: configured numeric types, int64 seconds for
// normalized dates and int64 codes for encoded columns.
func FromPipeline(p config.Pipeline) Config {
	types := make(map[string]string, len(p.Columns.Keep))
	for col, typ := range p.Columns.Types {
		types[col] = typ
	}
	for _, col := range p.Columns.Encode {
		types[col] = "int"
	}
	for src, dst := range p.Columns.Dates {
		delete(types, src)
		types[dst] = "int"
	}

	cfg := Config{
		Kind:            p.Storage.Kind,
		Encoding:        p.Parser.Options.String("encoding", ""),
		DSN:             p.Storage.DB.DSN,
		Table:           p.Storage.DB.Table,
		AutoCreateTable: p.Storage.DB.AutoCreateTable,
		Types:           types,
	}
	if p.Storage.Kind == "csv" {
		cfg.Path = p.Storage.CSV.Path
	}
	return cfg
}
