// Package sqlsink loads the output table through database/sql. SQLite,
// MySQL and SQL Server share one implementation that differs only in driver
// name and storage.Dialect. The whole run is one transaction, prepared once
// and executed per row; rollback on Abort leaves the table as it was.
package sqlsink

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/microsoft/go-mssqldb"
	_ "modernc.org/sqlite"

	"supplyetl/internal/storage"
)

// driverFor maps a storage kind to its database/sql driver and dialect.
var driverFor = map[string]struct {
	driver  string
	dialect storage.Dialect
}{
	"sqlite": {"sqlite", storage.SQLite},
	"mysql":  {"mysql", storage.MySQL},
	"mssql":  {"sqlserver", storage.MSSQL},
}

func init() {
	for kind := range driverFor {
		storage.Register(kind, func(cfg storage.Config) (storage.Sink, error) {
			return New(cfg)
		})
	}
}

// sqlOpen is a test seam.
var sqlOpen = sql.Open

// Sink is a storage.Sink backed by a database/sql transaction.
type Sink struct {
	cfg     storage.Config
	driver  string
	dialect storage.Dialect

	db      *sql.DB
	tx      *sql.Tx
	stmt    *sql.Stmt
	columns int
	rows    int64
}

// New validates cfg and returns an unopened sink.
func New(cfg storage.Config) (*Sink, error) {
	d, ok := driverFor[cfg.Kind]
	if !ok {
		return nil, fmt.Errorf("sqlsink: %w %q", storage.ErrUnknownKind, cfg.Kind)
	}
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, fmt.Errorf("sqlsink: %s: DSN must not be empty", cfg.Kind)
	}
	if strings.TrimSpace(cfg.Table) == "" {
		return nil, fmt.Errorf("sqlsink: %s: table must not be empty", cfg.Kind)
	}
	return &Sink{cfg: cfg, driver: d.driver, dialect: d.dialect}, nil
}

// Begin connects, opens the transaction, creates the table when asked and
// prepares the insert.
func (s *Sink) Begin(ctx context.Context, columns []string) error {
	if s.db != nil {
		return fmt.Errorf("sqlsink: Begin called twice")
	}
	db, err := sqlOpen(s.driver, s.cfg.DSN)
	if err != nil {
		return fmt.Errorf("sqlsink: %s: open: %w", s.cfg.Kind, err)
	}
	s.db = db

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		s.close()
		return fmt.Errorf("sqlsink: %s: ping: %w", s.cfg.Kind, err)
	}

	if s.cfg.AutoCreateTable && !s.dialect.TransactionalDDL {
		if err := s.createTable(ctx, db, columns); err != nil {
			s.close()
			return err
		}
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		s.close()
		return fmt.Errorf("sqlsink: %s: begin tx: %w", s.cfg.Kind, err)
	}
	s.tx = tx

	if s.cfg.AutoCreateTable && s.dialect.TransactionalDDL {
		if err := s.createTable(ctx, tx, columns); err != nil {
			s.rollback()
			return err
		}
	}

	stmt, err := tx.PrepareContext(ctx, s.dialect.Insert(s.cfg.Table, columns))
	if err != nil {
		s.rollback()
		return fmt.Errorf("sqlsink: %s: prepare insert: %w", s.cfg.Kind, err)
	}
	s.stmt = stmt
	s.columns = len(columns)
	return nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// createTable runs the CREATE TABLE on e, which is the run transaction when
// the dialect allows DDL there, so an aborted run leaves no table behind.
func (s *Sink) createTable(ctx context.Context, e execer, columns []string) error {
	ddl, err := s.dialect.CreateTable(s.cfg.Table, columns, s.cfg.Types)
	if err != nil {
		return err
	}
	if _, err := e.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("sqlsink: %s: create table: %w", s.cfg.Kind, err)
	}
	return nil
}

// Write inserts rows inside the run transaction.
func (s *Sink) Write(ctx context.Context, rows [][]any) error {
	if s.stmt == nil {
		return fmt.Errorf("sqlsink: Write before Begin")
	}
	for _, row := range rows {
		if len(row) != s.columns {
			return fmt.Errorf("sqlsink: row length %d != columns length %d", len(row), s.columns)
		}
		if _, err := s.stmt.ExecContext(ctx, row...); err != nil {
			return fmt.Errorf("sqlsink: %s: insert: %w", s.cfg.Kind, err)
		}
	}
	s.rows += int64(len(rows))
	return nil
}

// Commit commits the transaction and closes the connection pool.
func (s *Sink) Commit(context.Context) error {
	if s.tx == nil {
		return fmt.Errorf("sqlsink: Commit before Begin")
	}
	_ = s.stmt.Close()
	err := s.tx.Commit()
	s.tx, s.stmt = nil, nil
	s.close()
	if err != nil {
		return fmt.Errorf("sqlsink: %s: commit: %w", s.cfg.Kind, err)
	}
	log.Printf("sink: %s table=%s rows=%d", s.cfg.Kind, s.cfg.Table, s.rows)
	return nil
}

// Abort rolls back and closes. It is a no-op when nothing is open.
func (s *Sink) Abort(context.Context) error {
	s.rollback()
	return nil
}

// Rows returns the number of rows inserted so far.
func (s *Sink) Rows() int64 { return s.rows }

func (s *Sink) rollback() {
	if s.stmt != nil {
		_ = s.stmt.Close()
		s.stmt = nil
	}
	if s.tx != nil {
		_ = s.tx.Rollback()
		s.tx = nil
	}
	s.close()
}

func (s *Sink) close() {
	if s.db != nil {
		_ = s.db.Close()
		s.db = nil
	}
}
