// Package postgres loads the output table into Postgres with COPY. Each
// batch is one CopyFrom call inside a single run transaction, so readers see
// either no rows from the run or all of them.
package postgres

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"supplyetl/internal/storage"
)

func init() {
	storage.Register("postgres", func(cfg storage.Config) (storage.Sink, error) {
		return New(cfg)
	})
}

// txn is the subset of pgx.Tx the sink uses.
type txn interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	CopyFrom(ctx context.Context, table pgx.Identifier, columns []string, src pgx.CopyFromSource) (int64, error)
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// begin connects and opens the run transaction. The returned func closes the
// connection. Replaced in tests.
var begin = func(ctx context.Context, dsn string) (txn, func(context.Context) error, error) {
	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("connect: %w", err)
	}
	tx, err := conn.Begin(ctx)
	if err != nil {
		_ = conn.Close(ctx)
		return nil, nil, fmt.Errorf("begin tx: %w", err)
	}
	return tx, conn.Close, nil
}

// Sink is a storage.Sink using COPY FROM STDIN.
type Sink struct {
	cfg   storage.Config
	ident pgx.Identifier

	tx      txn
	closeFn func(context.Context) error
	columns []string
	rows    int64
}

// New validates cfg and returns an unconnected sink.
func New(cfg storage.Config) (*Sink, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, fmt.Errorf("postgres: DSN must not be empty")
	}
	if strings.TrimSpace(cfg.Table) == "" {
		return nil, fmt.Errorf("postgres: table must not be empty")
	}
	return &Sink{cfg: cfg, ident: identifier(cfg.Table)}, nil
}

// Begin connects, opens the transaction and creates the table when asked.
func (s *Sink) Begin(ctx context.Context, columns []string) error {
	if s.tx != nil {
		return fmt.Errorf("postgres: Begin called twice")
	}
	tx, closeFn, err := begin(ctx, s.cfg.DSN)
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	s.tx, s.closeFn = tx, closeFn
	s.columns = append([]string(nil), columns...)

	if s.cfg.AutoCreateTable {
		ddl, err := storage.Postgres.CreateTable(s.cfg.Table, columns, s.cfg.Types)
		if err != nil {
			_ = s.Abort(ctx)
			return err
		}
		if _, err := tx.Exec(ctx, ddl); err != nil {
			_ = s.Abort(ctx)
			return fmt.Errorf("postgres: create table: %w", err)
		}
	}
	return nil
}

// Write copies one batch.
func (s *Sink) Write(ctx context.Context, rows [][]any) error {
	if s.tx == nil {
		return fmt.Errorf("postgres: Write before Begin")
	}
	if len(rows) == 0 {
		return nil
	}
	n, err := s.tx.CopyFrom(ctx, s.ident, s.columns, pgx.CopyFromRows(rows))
	s.rows += n
	if err != nil {
		return fmt.Errorf("postgres: copy into %s: %w", s.cfg.Table, err)
	}
	return nil
}

// Commit commits and closes the connection.
func (s *Sink) Commit(ctx context.Context) error {
	if s.tx == nil {
		return fmt.Errorf("postgres: Commit before Begin")
	}
	err := s.tx.Commit(ctx)
	s.tx = nil
	s.closeConn(ctx)
	if err != nil {
		return fmt.Errorf("postgres: commit: %w", err)
	}
	log.Printf("sink: postgres table=%s rows=%d", s.cfg.Table, s.rows)
	return nil
}

// Abort rolls back and closes. It is a no-op when nothing is open.
func (s *Sink) Abort(ctx context.Context) error {
	if s.tx != nil {
		_ = s.tx.Rollback(ctx)
		s.tx = nil
	}
	s.closeConn(ctx)
	return nil
}

// Rows returns the number of rows copied so far.
func (s *Sink) Rows() int64 { return s.rows }

func (s *Sink) closeConn(ctx context.Context) {
	if s.closeFn != nil {
		_ = s.closeFn(ctx)
		s.closeFn = nil
	}
}

// identifier splits "schema.table" for pgx quoting.
func identifier(table string) pgx.Identifier {
	parts := strings.Split(table, ".")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return pgx.Identifier(parts)
}
