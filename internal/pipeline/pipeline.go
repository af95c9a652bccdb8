// Package pipeline drives a reducer run: it pulls bounded batches from a
// source, runs the transformation steps on each and streams the results to a
// sink, finishing with a single commit.
//
// Batches that cannot be read or transformed are skipped and the run goes on;
// the run fails only when the source or sink fails, when no batch survives,
// or, in strict mode, on the first skipped batch.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	"golang.org/x/sync/errgroup"

	"supplyetl/internal/config"
	"supplyetl/internal/metrics"
	"supplyetl/internal/parser/csv"
	"supplyetl/internal/storage"
	"supplyetl/internal/transformer"
	"supplyetl/internal/vocab"
)

// ErrNoBatches is returned when the run ends without a single usable batch.
var ErrNoBatches = errors.New("pipeline: no batches produced")

// maxLoggedErrors bounds the examples kept per error kind for the summary.
const maxLoggedErrors = 20

// BatchSource yields batches of at most n rows and io.EOF at the end.
// *csv.Reader implements it.
type BatchSource interface {
	Next(ctx context.Context, n int) (*transformer.Batch, error)
}

// Stats are the run counters. Rows are data rows; the header is not counted.
type Stats struct {
	RowsRead       int64
	RowsWritten    int64
	RowsSkipped    int64
	BatchesWritten int64
	BatchesSkipped int64
	ColumnFailures int64
	// Digest is the sink's output fingerprint, when it has one.
	Digest string
}

// Pipeline is a single run. It is not reusable.
type Pipeline struct {
	job       string
	batchSize int
	maxRows   int
	prefetch  bool
	strict    bool

	src    BatchSource
	sink   storage.Sink
	steps  transformer.Chain
	vocabs *vocab.Set

	state   stateBox
	stats   Stats
	columns []string

	readAgg   *errAgg
	stepAgg   *errAgg
	columnAgg *errAgg
}

// New builds the run for cfg. vocabs receives the categorical codes and must
// be empty at the start of a run; it is the only state shared between
// batches.
func New(cfg config.Pipeline, src BatchSource, sink storage.Sink, vocabs *vocab.Set) *Pipeline {
	p := &Pipeline{
		job:       cfg.Job,
		batchSize: cfg.Runtime.BatchSize,
		maxRows:   cfg.Runtime.MaxRows,
		prefetch:  cfg.Runtime.Prefetch,
		strict:    cfg.Runtime.Strict,
		src:       src,
		sink:      sink,
		vocabs:    vocabs,
		readAgg:   newErrAgg(maxLoggedErrors),
		stepAgg:   newErrAgg(maxLoggedErrors),
		columnAgg: newErrAgg(maxLoggedErrors),
	}

	dates := transformer.NewDateNormalizer(cfg.Columns.Dates, cfg.Columns.DateLayouts)
	dates.Strict = cfg.Runtime.Strict
	dates.OnFailure = p.columnFailed

	p.steps = p.timed(transformer.Chain{
		transformer.NewSchemaProjector(cfg.Columns.Keep),
		dates,
		&transformer.NumericCoercer{Types: cfg.Columns.Types},
		transformer.NewCategoricalEncoder(vocabs, cfg.Columns.Encode),
	})
	return p
}

// State reports the current lifecycle phase. Safe for concurrent use.
func (p *Pipeline) State() State { return p.state.load() }

// Steps lists the step names in execution order.
func (p *Pipeline) Steps() []string { return p.steps.Names() }

// Run executes the pipeline once.
func (p *Pipeline) Run(ctx context.Context) (Stats, error) {
	if p.State() != Idle {
		return p.stats, fmt.Errorf("pipeline: Run called twice")
	}
	if p.batchSize <= 0 || p.maxRows <= 0 {
		p.state.fail()
		return p.stats, fmt.Errorf("pipeline: batch_size and max_rows must be > 0, got %d and %d", p.batchSize, p.maxRows)
	}

	start := time.Now()
	p.state.advance(Reading)
	log.Printf("pipeline: start job=%s batch_size=%d max_rows=%d prefetch=%v strict=%v steps=%v",
		p.job, p.batchSize, p.maxRows, p.prefetch, p.strict, p.steps.Names())

	var err error
	if p.prefetch {
		err = p.runPrefetch(ctx)
	} else {
		err = p.runSequential(ctx)
	}
	if err == nil {
		err = p.finalize(ctx)
	}
	if err != nil {
		p.state.fail()
		_ = p.sink.Abort(context.Background())
	} else {
		p.state.advance(Done)
	}

	p.logSummary(time.Since(start), err)
	return p.stats, err
}

// fetched is one read attempt. rows counts consumed source rows, including
// those of a batch that failed to read.
type fetched struct {
	batch *transformer.Batch
	rows  int
	err   error
}

// reader tracks the row cap on the goroutine that calls Next.
type reader struct {
	p    *Pipeline
	read int
}

// next returns the next attempt, or ok=false at the end of input or cap.
// A returned err is fatal.
func (r *reader) next(ctx context.Context) (f fetched, ok bool, err error) {
	remaining := r.p.maxRows - r.read
	if remaining <= 0 {
		return fetched{}, false, nil
	}
	n := r.p.batchSize
	if n > remaining {
		n = remaining
	}

	start := time.Now()
	b, err := r.p.src.Next(ctx, n)
	metrics.RecordStep(r.p.job, "read", ignoreEOF(err), time.Since(start))

	var be *csv.BatchError
	switch {
	case err == nil:
		r.read += b.Len()
		return fetched{batch: b, rows: b.Len()}, true, nil
	case errors.Is(err, io.EOF):
		return fetched{}, false, nil
	case errors.As(err, &be):
		r.read += be.Rows
		return fetched{rows: be.Rows, err: err}, true, nil
	default:
		return fetched{}, false, fmt.Errorf("pipeline: read: %w", err)
	}
}

func (p *Pipeline) runSequential(ctx context.Context) error {
	r := &reader{p: p}
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		f, ok, err := r.next(ctx)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		if err := p.handle(ctx, f); err != nil {
			return err
		}
	}
}

// runPrefetch reads batch N+1 on a second goroutine while batch N is
// transformed. The one-slot channel keeps order and bounds memory to two
// batches in flight. Only this goroutine touches vocabularies and the sink.
//
// The sink gets ctx, not the reader's context: a transactional sink ties its
// transaction to the Begin context, and the reader's context is cancelled
// on return, before Commit.
func (p *Pipeline) runPrefetch(ctx context.Context) error {
	readCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(readCtx)
	ch := make(chan fetched, 1)

	g.Go(func() error {
		defer close(ch)
		r := &reader{p: p}
		for {
			f, ok, err := r.next(gctx)
			if err != nil || !ok {
				return err
			}
			select {
			case ch <- f:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
	})

	var handleErr error
	for f := range ch {
		if handleErr != nil {
			continue
		}
		if err := readCtx.Err(); err != nil {
			handleErr = err
			cancel()
			continue
		}
		if err := p.handle(ctx, f); err != nil {
			handleErr = err
			cancel()
		}
	}
	readErr := g.Wait()
	if handleErr != nil {
		return handleErr
	}
	return readErr
}

// handle transforms and writes one fetched batch. A non-nil return is fatal.
func (p *Pipeline) handle(ctx context.Context, f fetched) error {
	p.stats.RowsRead += int64(f.rows)
	metrics.RecordRow(p.job, "read", int64(f.rows))

	if f.err != nil {
		p.readAgg.add(f.err.Error())
		return p.skip(f.rows, f.err)
	}

	p.state.advance(Transforming)
	b := f.batch
	if err := p.steps.Apply(b); err != nil {
		p.stepAgg.add(fmt.Sprintf("lines %d-%d: %v", b.FirstLine, b.LastLine(), err))
		return p.skip(f.rows, fmt.Errorf("lines %d-%d: %w", b.FirstLine, b.LastLine(), err))
	}

	if p.columns == nil {
		start := time.Now()
		err := p.sink.Begin(ctx, b.Columns)
		metrics.RecordStep(p.job, "begin", err, time.Since(start))
		if err != nil {
			return fmt.Errorf("pipeline: open destination: %w", err)
		}
		p.columns = append([]string{}, b.Columns...)
	} else if !sameColumns(p.columns, b.Columns) {
		return fmt.Errorf("pipeline: lines %d-%d: columns %v differ from output header %v",
			b.FirstLine, b.LastLine(), b.Columns, p.columns)
	}

	start := time.Now()
	err := p.sink.Write(ctx, b.Rows)
	metrics.RecordStep(p.job, "write", err, time.Since(start))
	if err != nil {
		return fmt.Errorf("pipeline: write lines %d-%d: %w", b.FirstLine, b.LastLine(), err)
	}
	p.stats.RowsWritten += int64(b.Len())
	p.stats.BatchesWritten++
	metrics.RecordRow(p.job, "written", int64(b.Len()))
	metrics.RecordBatches(p.job, "written", 1)
	return nil
}

func (p *Pipeline) skip(rows int, cause error) error {
	if p.strict {
		return fmt.Errorf("pipeline: strict mode: %w", cause)
	}
	log.Printf("pipeline: skip batch rows=%d: %v", rows, cause)
	p.stats.RowsSkipped += int64(rows)
	p.stats.BatchesSkipped++
	metrics.RecordRow(p.job, "skipped", int64(rows))
	metrics.RecordBatches(p.job, "skipped", 1)
	return nil
}

func (p *Pipeline) finalize(ctx context.Context) error {
	p.state.advance(Finalizing)
	if p.stats.BatchesWritten == 0 {
		return ErrNoBatches
	}
	start := time.Now()
	err := p.sink.Commit(ctx)
	metrics.RecordStep(p.job, "commit", err, time.Since(start))
	if err != nil {
		return fmt.Errorf("pipeline: commit: %w", err)
	}
	if d, ok := p.sink.(storage.Digester); ok {
		p.stats.Digest = d.Digest()
	}
	return nil
}

// columnFailed observes date columns nulled for one batch.
func (p *Pipeline) columnFailed(err *transformer.DateError) {
	p.stats.ColumnFailures++
	p.columnAgg.add(err.Error())
	metrics.RecordColumnFailure(p.job, err.Column)
	log.Printf("dates: column %q nulled for batch at line %d: unparseable %q", err.Column, err.Line, err.Value)
}

func (p *Pipeline) logSummary(elapsed time.Duration, runErr error) {
	p.readAgg.log("read errors")
	p.stepAgg.log("step errors")
	p.columnAgg.log("column failures")

	s := p.stats
	log.Printf(
		"summary: state=%s rows_read=%d rows_written=%d rows_skipped=%d batches_written=%d batches_skipped=%d column_failures=%d elapsed=%s",
		p.State(), s.RowsRead, s.RowsWritten, s.RowsSkipped, s.BatchesWritten, s.BatchesSkipped, s.ColumnFailures,
		elapsed.Round(time.Millisecond),
	)
	if p.vocabs != nil {
		for _, col := range p.vocabs.Columns() {
			log.Printf("summary: vocabulary column=%q codes=%d", col, p.vocabs.Column(col).Len())
		}
	}
	if runErr != nil {
		log.Printf("summary: run failed: %v", runErr)
	}
	if s.RowsRead != s.RowsWritten+s.RowsSkipped && runErr == nil {
		log.Printf("WARNING: row accounting mismatch: read=%d written=%d skipped=%d", s.RowsRead, s.RowsWritten, s.RowsSkipped)
	}
}

// timed wraps every step so its latency and outcome are recorded.
func (p *Pipeline) timed(c transformer.Chain) transformer.Chain {
	out := make(transformer.Chain, len(c))
	for i, s := range c {
		s := s
		out[i] = transformer.Func(s.Name(), func(b *transformer.Batch) error {
			start := time.Now()
			err := s.Apply(b)
			metrics.RecordStep(p.job, s.Name(), err, time.Since(start))
			return err
		})
	}
	return out
}

func ignoreEOF(err error) error {
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
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
