// Package metrics provides a small, backend-agnostic abstraction for recording
// operational metrics from graph operations.
//
// The package exposes a narrow Backend interface (counters and timings) and a
// global, pluggable backend that defaults to a no-op implementation, so
// metrics are always safe to call even when no real backend is configured.
// Concrete systems live in the prompush and datadog subpackages.
package metrics

import (
	"sync"
	"time"
)

// Metric names shared by every backend.
const (
	StepTotal           = "kgx_step_total"
	StepDurationSeconds = "kgx_step_duration_seconds"
	RowsTotal           = "kgx_rows_total"
	FilesTotal          = "kgx_files_total"
)

// Labels are string key/value pairs attached to a metric.
type Labels map[string]string

// Backend is the minimal interface for metrics backends.
type Backend interface {
	// IncCounter increments a counter by delta.
	IncCounter(name string, delta float64, labels Labels)
	// ObserveHistogram records a value in a latency/duration style metric.
	ObserveHistogram(name string, value float64, labels Labels)
	// Flush pushes or flushes metrics, if the backend needs it (e.g. Pushgateway).
	Flush() error
}

type nopBackend struct{}

func (nopBackend) IncCounter(name string, delta float64, labels Labels)       {}
func (nopBackend) ObserveHistogram(name string, value float64, labels Labels) {}
func (nopBackend) Flush() error                                               { return nil }

var (
	mu      sync.RWMutex
	backend Backend = nopBackend{}
)

// SetBackend installs a concrete backend. Passing nil restores the no-op
// backend.
func SetBackend(b Backend) {
	mu.Lock()
	defer mu.Unlock()
	if b == nil {
		b = nopBackend{}
	}
	backend = b
}

func current() Backend {
	mu.RLock()
	defer mu.RUnlock()
	return backend
}

// Flush delegates to the current backend.
func Flush() error {
	return current().Flush()
}

// RecordStep records latency and success/failure of one operation step.
func RecordStep(job, step string, err error, d time.Duration) {
	status := "success"
	if err != nil {
		status = "failure"
	}
	lbls := Labels{
		"job":    job,
		"step":   step,
		"status": status,
	}
	b := current()
	b.IncCounter(StepTotal, 1, lbls)
	b.ObserveHistogram(StepDurationSeconds, d.Seconds(), lbls)
}

// RecordRows increments a row counter for the given job and kind.
//
// Kinds mirror the result fields, e.g. "loaded", "archived_duplicates",
// "dangling_edges", "singleton_nodes", "normalized_edges", "appended".
func RecordRows(job, kind string, delta int64) {
	if delta <= 0 {
		return
	}
	current().IncCounter(RowsTotal, float64(delta), Labels{
		"job":  job,
		"kind": kind,
	})
}

// RecordFile counts one input file by load status ("loaded" or "failed").
func RecordFile(job, status string) {
	current().IncCounter(FilesTotal, 1, Labels{
		"job":    job,
		"status": status,
	})
}
