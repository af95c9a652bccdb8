// Package csvsink writes the output table as a delimited file.
//
// Rows go to a temp file next to the destination, which is renamed over it on
// Commit, so readers see either the previous file or the complete new one.
// The bytes written are hashed with XXH3 so two runs can be compared without
// diffing the files.
package csvsink

import (
	"bufio"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strconv"

	"github.com/zeebo/xxh3"

	"supplyetl/internal/charset"
	"supplyetl/internal/storage"
)

func init() {
	storage.Register("csv", func(cfg storage.Config) (storage.Sink, error) {
		return New(cfg.Path, cfg.Encoding)
	})
}

// Sink is a storage.Sink writing one CSV file.
type Sink struct {
	path     string
	encoding string

	f    *os.File
	bw   *bufio.Writer
	enc  io.WriteCloser
	cw   *csv.Writer
	h    *xxh3.Hasher
	rec  []string
	rows int64

	digest string
	done   bool
}

// New returns a sink for path. encoding defaults to latin1.
func New(path, encoding string) (*Sink, error) {
	if path == "" {
		return nil, fmt.Errorf("csvsink: path must not be empty")
	}
	if encoding == "" {
		encoding = charset.Default
	}
	if _, err := charset.Lookup(encoding); err != nil {
		return nil, fmt.Errorf("csvsink: %w", err)
	}
	return &Sink{path: path, encoding: encoding}, nil
}

// Begin creates the parent directory and the temp file and writes the header.
func (s *Sink) Begin(ctx context.Context, columns []string) error {
	if s.f != nil || s.done {
		return fmt.Errorf("csvsink: Begin called twice")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("csvsink: mkdir %s: %w", dir, err)
	}
	f, err := os.CreateTemp(dir, "."+filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("csvsink: create temp: %w", err)
	}
	enc, _ := charset.Lookup(s.encoding)

	s.f = f
	s.h = xxh3.New()
	s.bw = bufio.NewWriterSize(io.MultiWriter(f, s.h), 64<<10)
	s.enc = charset.NewWriter(s.bw, enc)
	s.cw = csv.NewWriter(s.enc)
	s.rec = make([]string, len(columns))

	if err := s.cw.Write(columns); err != nil {
		s.discard()
		return fmt.Errorf("csvsink: write header: %w", err)
	}
	return nil
}

// Write appends rows. Missing cells are written empty.
func (s *Sink) Write(ctx context.Context, rows [][]any) error {
	if s.f == nil {
		return fmt.Errorf("csvsink: Write before Begin")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	for _, row := range rows {
		for i := range s.rec {
			s.rec[i] = ""
			if i < len(row) {
				s.rec[i] = formatCell(row[i])
			}
		}
		if err := s.cw.Write(s.rec); err != nil {
			return fmt.Errorf("csvsink: write row: %w", err)
		}
	}
	s.rows += int64(len(rows))
	return nil
}

// Commit flushes, syncs and renames the temp file over the destination.
func (s *Sink) Commit(ctx context.Context) error {
	if s.f == nil {
		return fmt.Errorf("csvsink: Commit before Begin")
	}
	s.cw.Flush()
	if err := s.cw.Error(); err != nil {
		s.discard()
		return fmt.Errorf("csvsink: flush: %w", err)
	}
	if err := s.enc.Close(); err != nil {
		s.discard()
		return fmt.Errorf("csvsink: encode: %w", err)
	}
	if err := s.bw.Flush(); err != nil {
		s.discard()
		return fmt.Errorf("csvsink: flush: %w", err)
	}
	if err := s.f.Sync(); err != nil {
		s.discard()
		return fmt.Errorf("csvsink: sync: %w", err)
	}
	tmp := s.f.Name()
	if err := s.f.Close(); err != nil {
		s.discard()
		return fmt.Errorf("csvsink: close: %w", err)
	}
	s.f = nil
	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("csvsink: rename to %s: %w", s.path, err)
	}
	s.digest = fmt.Sprintf("%016x", s.h.Sum64())
	s.done = true
	log.Printf("sink: csv path=%s rows=%d xxh3=%s", s.path, s.rows, s.digest)
	return nil
}

// Abort removes the temp file. The destination is untouched.
func (s *Sink) Abort(context.Context) error {
	s.discard()
	return nil
}

// Digest returns the XXH3-64 of the committed file, or "" before Commit.
func (s *Sink) Digest() string { return s.digest }

// Rows returns the number of data rows written.
func (s *Sink) Rows() int64 { return s.rows }

func (s *Sink) discard() {
	if s.f == nil {
		return
	}
	name := s.f.Name()
	_ = s.f.Close()
	_ = os.Remove(name)
	s.f = nil
}

func formatCell(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	default:
		return fmt.Sprint(x)
	}
}
