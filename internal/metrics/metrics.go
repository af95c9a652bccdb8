// Package metrics records operational counters for reducer runs.
//
// Callers depend only on Backend. The installed backend defaults to a no-op,
// so recording is always safe; concrete systems live in subpackages
// (prompush, datadog) and are chosen at startup.
package metrics

import (
	"sync"
	"time"
)

// Metric names emitted by the recorders below.
const (
	StepTotal       = "etl_step_total"
	StepDuration    = "etl_step_duration_seconds"
	RowsTotal       = "etl_records_total"
	BatchesTotal    = "etl_batches_total"
	ColumnFailTotal = "etl_column_failures_total"
)

// Labels are string key/value pairs attached to a metric.
type Labels map[string]string

// Backend is what a metrics system must provide.
type Backend interface {
	// IncCounter increments a counter by delta.
	IncCounter(name string, delta float64, labels Labels)
	// ObserveHistogram records a duration-style value.
	ObserveHistogram(name string, value float64, labels Labels)
	// Flush pushes buffered metrics, if the backend buffers.
	Flush() error
}

type nopBackend struct{}

func (nopBackend) IncCounter(string, float64, Labels)       {}
func (nopBackend) ObserveHistogram(string, float64, Labels) {}
func (nopBackend) Flush() error                             { return nil }

var (
	mu      sync.RWMutex
	backend Backend = nopBackend{}
)

// SetBackend installs b. Passing nil keeps the current backend.
func SetBackend(b Backend) {
	if b == nil {
		return
	}
	mu.Lock()
	backend = b
	mu.Unlock()
}

func current() Backend {
	mu.RLock()
	defer mu.RUnlock()
	return backend
}

// Flush delegates to the installed backend.
func Flush() error { return current().Flush() }

// RecordStep counts one execution of a pipeline step and its latency.
func RecordStep(job, step string, err error, d time.Duration) {
	status := "success"
	if err != nil {
		status = "failure"
	}
	lbls := Labels{"job": job, "step": step, "status": status}
	b := current()
	b.IncCounter(StepTotal, 1, lbls)
	b.ObserveHistogram(StepDuration, d.Seconds(), lbls)
}

// RecordRow adds delta rows of the given kind ("read", "written",
// "skipped"). Non-positive deltas are ignored.
func RecordRow(job, kind string, delta int64) {
	if delta <= 0 {
		return
	}
	current().IncCounter(RowsTotal, float64(delta), Labels{"job": job, "kind": kind})
}

// RecordBatches adds delta batches with the given outcome ("written",
// "skipped").
func RecordBatches(job, outcome string, delta int64) {
	if delta <= 0 {
		return
	}
	current().IncCounter(BatchesTotal, float64(delta), Labels{"job": job, "outcome": outcome})
}

// RecordColumnFailure counts a column that was nulled for one batch.
func RecordColumnFailure(job, column string) {
	current().IncCounter(ColumnFailTotal, 1, Labels{"job": job, "column": column})
}
