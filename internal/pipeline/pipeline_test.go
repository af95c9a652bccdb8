package pipeline

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"supplyetl/internal/config"
	"supplyetl/internal/parser/csv"
	"supplyetl/internal/storage"
	"supplyetl/internal/storage/csvsink"
	"supplyetl/internal/storage/sqlsink"
	"supplyetl/internal/transformer"
	"supplyetl/internal/vocab"
)

// memSink keeps everything in memory and records lifecycle calls.
type memSink struct {
	p *Pipeline

	columns   []string
	rows      [][]any
	begun     int
	committed bool
	aborted   bool
	writeErr  error

	stateAtBegin  State
	stateAtCommit State
}

func (m *memSink) Begin(_ context.Context, cols []string) error {
	m.begun++
	m.columns = cols
	if m.p != nil {
		m.stateAtBegin = m.p.State()
	}
	return nil
}

func (m *memSink) Write(_ context.Context, rows [][]any) error {
	if m.writeErr != nil {
		return m.writeErr
	}
	m.rows = append(m.rows, rows...)
	return nil
}

func (m *memSink) Commit(context.Context) error {
	m.committed = true
	if m.p != nil {
		m.stateAtCommit = m.p.State()
	}
	return nil
}

func (m *memSink) Abort(context.Context) error { m.aborted = true; return nil }

func testConfig(batch, max int) config.Pipeline {
	p := config.Default()
	p.Columns = config.Columns{
		Keep:        []string{"When", "City"},
		Encode:      []string{"City"},
		Dates:       map[string]string{"When": "when_ts"},
		DateLayouts: config.DefaultDateLayouts,
		Types:       map[string]string{},
	}
	p.Runtime = config.Runtime{BatchSize: batch, MaxRows: max}
	return p
}

func newSource(t *testing.T, in string) *csv.Reader {
	t.Helper()
	r, err := csv.NewReader(io.NopCloser(strings.NewReader(in)), config.Options{"encoding": "utf-8"})
	if err != nil {
		t.Fatalf("csv.NewReader: %v", err)
	}
	return r
}

func column(rows [][]any, i int) []any {
	out := make([]any, len(rows))
	for r, row := range rows {
		out[r] = row[i]
	}
	return out
}

const cities = "City\nNY\nLA\nLA\nSF\nNY\nSF\n"

func TestRun_CodesAreGlobalAcrossBatches(t *testing.T) {
	t.Parallel()

	for _, prefetch := range []bool{false, true} {
		prefetch := prefetch
		t.Run(map[bool]string{false: "sequential", true: "prefetch"}[prefetch], func(t *testing.T) {
			t.Parallel()

			cfg := testConfig(2, 100)
			cfg.Runtime.Prefetch = prefetch
			sink := &memSink{}
			vocabs := vocab.NewSet()
			p := New(cfg, newSource(t, cities), sink, vocabs)

			stats, err := p.Run(context.Background())
			if err != nil {
				t.Fatalf("Run: %v", err)
			}
			if diff := cmp.Diff([]string{"City"}, sink.columns); diff != "" {
				t.Fatalf("columns (-want +got):\n%s", diff)
			}
			want := []any{int64(0), int64(1), int64(1), int64(2), int64(0), int64(2)}
			if diff := cmp.Diff(want, column(sink.rows, 0)); diff != "" {
				t.Fatalf("codes (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff([]string{"NY", "LA", "SF"}, vocabs.Column("City").Values()); diff != "" {
				t.Fatalf("vocabulary (-want +got):\n%s", diff)
			}
			if stats.RowsRead != 6 || stats.RowsWritten != 6 || stats.BatchesWritten != 3 {
				t.Fatalf("stats = %+v", stats)
			}
			if !sink.committed || sink.aborted || sink.begun != 1 {
				t.Fatalf("sink committed=%v aborted=%v begun=%d", sink.committed, sink.aborted, sink.begun)
			}
			if p.State() != Done {
				t.Fatalf("state = %s, want done", p.State())
			}
		})
	}
}

func TestRun_TransactionalSinkCommits(t *testing.T) {
	t.Parallel()

	for _, prefetch := range []bool{false, true} {
		prefetch := prefetch
		t.Run(map[bool]string{false: "sequential", true: "prefetch"}[prefetch], func(t *testing.T) {
			t.Parallel()

			dsn := filepath.Join(t.TempDir(), "out.db")
			sink, err := sqlsink.New(storage.Config{
				Kind:            "sqlite",
				DSN:             dsn,
				Table:           "cities",
				AutoCreateTable: true,
				Types:           map[string]string{"City": "int"},
			})
			if err != nil {
				t.Fatalf("sqlsink.New: %v", err)
			}
			cfg := testConfig(2, 100)
			cfg.Runtime.Prefetch = prefetch

			stats, err := New(cfg, newSource(t, cities), sink, vocab.NewSet()).Run(context.Background())
			if err != nil {
				t.Fatalf("Run: %v", err)
			}
			if stats.RowsWritten != 6 {
				t.Fatalf("RowsWritten = %d, want 6", stats.RowsWritten)
			}

			db, err := sql.Open("sqlite", dsn)
			if err != nil {
				t.Fatalf("open: %v", err)
			}
			defer db.Close()
			rows, err := db.Query(`SELECT "City" FROM "cities" ORDER BY rowid`)
			if err != nil {
				t.Fatalf("query: %v", err)
			}
			defer rows.Close()
			var got []int64
			for rows.Next() {
				var c int64
				if err := rows.Scan(&c); err != nil {
					t.Fatalf("scan: %v", err)
				}
				got = append(got, c)
			}
			if err := rows.Err(); err != nil {
				t.Fatalf("rows: %v", err)
			}
			if diff := cmp.Diff([]int64{0, 1, 1, 2, 0, 2}, got); diff != "" {
				t.Fatalf("table contents (-want +got):\n%s", diff)
			}
		})
	}
}

func TestRun_BadDateNullsOnlyItsBatch(t *testing.T) {
	t.Parallel()

	in := "When,City\n" +
		"1/31/2018 22:56,NY\n" +
		"1/1/2018 00:00,LA\n" +
		"13/45/2020,SF\n" +
		"1/2/2018 00:00,NY\n" +
		",LA\n"
	sink := &memSink{}
	p := New(testConfig(2, 100), newSource(t, in), sink, vocab.NewSet())

	stats, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if diff := cmp.Diff([]string{"when_ts", "City"}, sink.columns); diff != "" {
		t.Fatalf("columns (-want +got):\n%s", diff)
	}
	want := []any{int64(1517439360), int64(1514764800), nil, nil, nil}
	if diff := cmp.Diff(want, column(sink.rows, 0)); diff != "" {
		t.Fatalf("when_ts (-want +got):\n%s", diff)
	}
	if stats.ColumnFailures != 1 || stats.BatchesSkipped != 0 || stats.RowsWritten != 5 {
		t.Fatalf("stats = %+v", stats)
	}
}

func TestRun_ColumnFailuresCountPerColumnPerBatch(t *testing.T) {
	t.Parallel()

	in := "When,City\n" +
		"nope,NY\n" +
		"also nope,LA\n" +
		"1/1/2018 00:00,SF\n" +
		"bad,NY\n"
	sink := &memSink{}
	stats, err := New(testConfig(2, 100), newSource(t, in), sink, vocab.NewSet()).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if stats.ColumnFailures != 2 {
		t.Fatalf("ColumnFailures = %d, want 2 (one per failing batch)", stats.ColumnFailures)
	}
	if diff := cmp.Diff([]any{nil, nil, nil, nil}, column(sink.rows, 0)); diff != "" {
		t.Fatalf("when_ts (-want +got):\n%s", diff)
	}
}

func TestRun_StrictDateFailureIsFatal(t *testing.T) {
	t.Parallel()

	cfg := testConfig(2, 100)
	cfg.Runtime.Strict = true
	sink := &memSink{}
	p := New(cfg, newSource(t, "When,City\n1/1/2018 00:00,NY\nnope,LA\n"), sink, vocab.NewSet())

	_, err := p.Run(context.Background())
	var de *transformer.DateError
	if !errors.As(err, &de) {
		t.Fatalf("Run error = %v, want *DateError", err)
	}
	if sink.committed || !sink.aborted || p.State() != Failed {
		t.Fatalf("committed=%v aborted=%v state=%s", sink.committed, sink.aborted, p.State())
	}
}

func TestRun_RespectsMaxRows(t *testing.T) {
	t.Parallel()

	sink := &memSink{}
	p := New(testConfig(2, 3), newSource(t, cities), sink, vocab.NewSet())

	stats, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(sink.rows) != 3 || stats.RowsRead != 3 || stats.BatchesWritten != 2 {
		t.Fatalf("rows=%d stats=%+v; want 3 rows in 2 batches", len(sink.rows), stats)
	}
}

func TestRun_NoBatches(t *testing.T) {
	t.Parallel()

	sink := &memSink{}
	p := New(testConfig(2, 10), newSource(t, "City\n"), sink, vocab.NewSet())

	_, err := p.Run(context.Background())
	if !errors.Is(err, ErrNoBatches) {
		t.Fatalf("Run error = %v, want ErrNoBatches", err)
	}
	if sink.begun != 0 || sink.committed || !sink.aborted {
		t.Fatalf("sink begun=%d committed=%v aborted=%v", sink.begun, sink.committed, sink.aborted)
	}
	if p.State() != Failed {
		t.Fatalf("state = %s, want failed", p.State())
	}
}

const malformed = "City\nNY\nLA\n\"S\"F\nBOS\nNY\n"

func TestRun_MalformedBatchSkipped(t *testing.T) {
	t.Parallel()

	sink := &memSink{}
	vocabs := vocab.NewSet()
	p := New(testConfig(2, 100), newSource(t, malformed), sink, vocabs)

	stats, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	want := []any{int64(0), int64(1), int64(0)}
	if diff := cmp.Diff(want, column(sink.rows, 0)); diff != "" {
		t.Fatalf("codes (-want +got):\n%s", diff)
	}
	if vocabs.Column("City").Len() != 2 {
		t.Fatalf("vocabulary = %v, want NY LA only", vocabs.Column("City").Values())
	}
	if stats.BatchesSkipped != 1 || stats.RowsSkipped != 2 || stats.RowsRead != 5 {
		t.Fatalf("stats = %+v", stats)
	}
}

func TestRun_MalformedBatchStrict(t *testing.T) {
	t.Parallel()

	cfg := testConfig(2, 100)
	cfg.Runtime.Strict = true
	sink := &memSink{}
	p := New(cfg, newSource(t, malformed), sink, vocab.NewSet())

	_, err := p.Run(context.Background())
	var be *csv.BatchError
	if !errors.As(err, &be) {
		t.Fatalf("Run error = %v, want *csv.BatchError", err)
	}
	if !sink.aborted || sink.committed {
		t.Fatalf("aborted=%v committed=%v", sink.aborted, sink.committed)
	}
}

func TestRun_FailingStepSkipsBatchWithoutTouchingVocabulary(t *testing.T) {
	t.Parallel()

	sink := &memSink{}
	vocabs := vocab.NewSet()
	p := New(testConfig(2, 100), newSource(t, cities), sink, vocabs)
	boom := errors.New("boom")
	p.steps = transformer.Chain{
		transformer.NewSchemaProjector([]string{"City"}),
		transformer.Func("reject", func(b *transformer.Batch) error {
			if b.FirstLine == 4 {
				return boom
			}
			return nil
		}),
		transformer.NewCategoricalEncoder(vocabs, []string{"City"}),
	}

	stats, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	// Lines 4-5 (LA, SF) are dropped, so SF first appears in the last batch.
	want := []any{int64(0), int64(1), int64(0), int64(2)}
	if diff := cmp.Diff(want, column(sink.rows, 0)); diff != "" {
		t.Fatalf("codes (-want +got):\n%s", diff)
	}
	if stats.BatchesSkipped != 1 || stats.BatchesWritten != 2 {
		t.Fatalf("stats = %+v", stats)
	}
}

func TestRun_WriteFailureIsFatal(t *testing.T) {
	t.Parallel()

	boom := errors.New("disk full")
	sink := &memSink{writeErr: boom}
	p := New(testConfig(2, 100), newSource(t, cities), sink, vocab.NewSet())

	if _, err := p.Run(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("Run error = %v, want %v", err, boom)
	}
	if !sink.aborted || sink.committed || p.State() != Failed {
		t.Fatalf("aborted=%v committed=%v state=%s", sink.aborted, sink.committed, p.State())
	}
}

// errSource fails after its first batch with a non-recoverable error.
type errSource struct {
	calls int
	err   error
}

func (s *errSource) Next(context.Context, int) (*transformer.Batch, error) {
	s.calls++
	if s.calls == 1 {
		return &transformer.Batch{Columns: []string{"City"}, Rows: [][]any{{"NY"}}, FirstLine: 2}, nil
	}
	return nil, s.err
}

func TestRun_SourceFailureIsFatal(t *testing.T) {
	t.Parallel()

	for _, prefetch := range []bool{false, true} {
		boom := errors.New("connection reset")
		cfg := testConfig(1, 100)
		cfg.Runtime.Prefetch = prefetch
		sink := &memSink{}
		p := New(cfg, &errSource{err: boom}, sink, vocab.NewSet())

		if _, err := p.Run(context.Background()); !errors.Is(err, boom) {
			t.Fatalf("prefetch=%v: Run error = %v, want %v", prefetch, err, boom)
		}
		if !sink.aborted || sink.committed {
			t.Fatalf("prefetch=%v: aborted=%v committed=%v", prefetch, sink.aborted, sink.committed)
		}
	}
}

func TestRun_Canceled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	sink := &memSink{}
	p := New(testConfig(2, 100), newSource(t, cities), sink, vocab.NewSet())

	if _, err := p.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Run error = %v, want context.Canceled", err)
	}
	if p.State() != Failed {
		t.Fatalf("state = %s, want failed", p.State())
	}
}

func TestRun_StateTransitions(t *testing.T) {
	t.Parallel()

	sink := &memSink{}
	p := New(testConfig(2, 100), newSource(t, cities), sink, vocab.NewSet())
	sink.p = p
	if p.State() != Idle {
		t.Fatalf("initial state = %s, want idle", p.State())
	}

	if _, err := p.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sink.stateAtBegin != Transforming || sink.stateAtCommit != Finalizing {
		t.Fatalf("states at begin/commit = %s/%s, want transforming/finalizing", sink.stateAtBegin, sink.stateAtCommit)
	}
	if _, err := p.Run(context.Background()); err == nil {
		t.Fatalf("second Run error = nil, want non-nil")
	}
	if p.State() != Done {
		t.Fatalf("state after second Run = %s, want done", p.State())
	}
}

func TestRun_IdempotentOutput(t *testing.T) {
	t.Parallel()

	in := "When,City,Extra\n" +
		"1/31/2018 22:56,NY,x\n" +
		"1/1/2018 00:00,LA,y\n" +
		"13/45/2020,SF,z\n"
	dir := t.TempDir()

	run := func(name string, prefetch bool) Stats {
		cfg := testConfig(2, 100)
		cfg.Runtime.Prefetch = prefetch
		sink, err := csvsink.New(filepath.Join(dir, name), "utf-8")
		if err != nil {
			t.Fatalf("csvsink.New: %v", err)
		}
		stats, err := New(cfg, newSource(t, in), sink, vocab.NewSet()).Run(context.Background())
		if err != nil {
			t.Fatalf("Run(%s): %v", name, err)
		}
		return stats
	}

	a := run("a.csv", false)
	b := run("b.csv", false)
	c := run("c.csv", true)
	if a.Digest == "" || a.Digest != b.Digest || a.Digest != c.Digest {
		t.Fatalf("digests differ: %q %q %q", a.Digest, b.Digest, c.Digest)
	}
}

func TestStateBox_NoBackwardTransitions(t *testing.T) {
	t.Parallel()

	var s stateBox
	s.advance(Transforming)
	s.advance(Reading)
	if s.load() != Transforming {
		t.Fatalf("state = %s, want transforming", s.load())
	}
	s.advance(Done)
	s.fail()
	if s.load() != Done {
		t.Fatalf("terminal state changed to %s", s.load())
	}
}
