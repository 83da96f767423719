// Package metrics is the backend-agnostic metrics facade used by the xsidir
// pipeline.
//
// Pipeline code only calls the Record* helpers. A concrete backend (Datadog,
// Pushgateway) is installed once at startup via SetBackend; until then every
// call is a no-op.
package metrics

import (
	"strconv"
	"sync"
	"time"
)

// Labels are metric dimensions.
type Labels map[string]string

// Backend receives metric observations.
type Backend interface {
	IncCounter(name string, delta float64, labels Labels)
	ObserveHistogram(name string, value float64, labels Labels)
}

// Flusher is implemented by backends that buffer observations.
type Flusher interface {
	Flush() error
}

// Metric names shared by every backend.
const (
	StepTotal           = "xsidir_step_total"
	StepDuration        = "xsidir_step_duration_seconds"
	RecordsTotal        = "xsidir_records_total"
	HTTPRequestsTotal   = "xsidir_http_requests_total"
	HTTPErrorsTotal     = "xsidir_http_errors_total"
	HTTPRequestDuration = "xsidir_http_request_duration_seconds"
	HTTPDownloadBytes   = "xsidir_http_download_bytes"
)

type nopBackend struct{}

func (nopBackend) IncCounter(string, float64, Labels)       {}
func (nopBackend) ObserveHistogram(string, float64, Labels) {}

var (
	mu      sync.RWMutex
	backend Backend = nopBackend{}
)

// SetBackend installs b. A nil b restores the no-op backend.
func SetBackend(b Backend) {
	mu.Lock()
	defer mu.Unlock()
	if b == nil {
		backend = nopBackend{}
		return
	}
	backend = b
}

func current() Backend {
	mu.RLock()
	defer mu.RUnlock()
	return backend
}

// Flush flushes the installed backend if it buffers.
func Flush() error {
	if f, ok := current().(Flusher); ok {
		return f.Flush()
	}
	return nil
}

// RecordStep counts one pipeline step and observes its duration.
// status is "ok" when err is nil, "error" otherwise.
func RecordStep(step string, err error, d time.Duration) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	l := Labels{"step": step, "status": status}
	b := current()
	b.IncCounter(StepTotal, 1, l)
	b.ObserveHistogram(StepDuration, d.Seconds(), l)
}

// RecordRecords counts records of a kind ("extracted", "stored", ...).
func RecordRecords(kind string, n int) {
	if n <= 0 {
		return
	}
	current().IncCounter(RecordsTotal, float64(n), Labels{"kind": kind})
}

// RecordHTTP records one HTTP attempt.
//
// statusCode 0 means no response was received; it is reported as status
// "error". size < 0 means the body size is unknown and is not observed.
func RecordHTTP(statusCode int, err error, d time.Duration, size int64) {
	status := "error"
	if statusCode > 0 {
		status = strconv.Itoa(statusCode)
	}
	l := Labels{"status": status}

	b := current()
	b.IncCounter(HTTPRequestsTotal, 1, l)
	if err != nil || statusCode != 200 {
		b.IncCounter(HTTPErrorsTotal, 1, l)
	}
	b.ObserveHistogram(HTTPRequestDuration, d.Seconds(), l)
	if size >= 0 {
		b.ObserveHistogram(HTTPDownloadBytes, float64(size), l)
	}
}
