package metrics

import (
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"
)

type observation struct {
	kind   string
	name   string
	value  float64
	labels Labels
}

type recorder struct {
	mu      sync.Mutex
	obs     []observation
	flushed int
}

func (r *recorder) IncCounter(name string, delta float64, labels Labels) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.obs = append(r.obs, observation{"counter", name, delta, labels})
}

func (r *recorder) ObserveHistogram(name string, value float64, labels Labels) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.obs = append(r.obs, observation{"histogram", name, value, labels})
}

func (r *recorder) Flush() error {
	r.flushed++
	return nil
}

func install(t *testing.T) *recorder {
	t.Helper()
	r := &recorder{}
	SetBackend(r)
	t.Cleanup(func() { SetBackend(nil) })
	return r
}

// TestRecordStep verifies the status label follows err.
func TestRecordStep(t *testing.T) {
	r := install(t)

	RecordStep("render", nil, 2*time.Second)
	RecordStep("store", errors.New("x"), time.Second)

	want := []observation{
		{"counter", StepTotal, 1, Labels{"step": "render", "status": "ok"}},
		{"histogram", StepDuration, 2, Labels{"step": "render", "status": "ok"}},
		{"counter", StepTotal, 1, Labels{"step": "store", "status": "error"}},
		{"histogram", StepDuration, 1, Labels{"step": "store", "status": "error"}},
	}
	if !reflect.DeepEqual(r.obs, want) {
		t.Fatalf("observations=%v\nwant=%v", r.obs, want)
	}
}

// TestRecordHTTP covers transport failures, non-200 responses and unknown
// sizes.
func TestRecordHTTP(t *testing.T) {
	r := install(t)

	RecordHTTP(200, nil, time.Second, 10)
	if len(r.obs) != 3 {
		t.Fatalf("200 response: got %d observations, want 3 (no error counter)", len(r.obs))
	}

	r.obs = nil
	RecordHTTP(404, nil, time.Second, -1)
	names := []string{}
	for _, o := range r.obs {
		names = append(names, o.name)
		if o.labels["status"] != "404" {
			t.Fatalf("status label=%q, want 404", o.labels["status"])
		}
	}
	if !reflect.DeepEqual(names, []string{HTTPRequestsTotal, HTTPErrorsTotal, HTTPRequestDuration}) {
		t.Fatalf("404 response observations=%v", names)
	}

	r.obs = nil
	RecordHTTP(0, errors.New("dial"), time.Second, -1)
	if r.obs[0].labels["status"] != "error" || r.obs[1].name != HTTPErrorsTotal {
		t.Fatalf("transport failure observations=%v", r.obs)
	}
}

func TestRecordRecords_SkipsZero(t *testing.T) {
	r := install(t)

	RecordRecords("extracted", 0)
	RecordRecords("stored", 5)

	if len(r.obs) != 1 || r.obs[0].value != 5 || r.obs[0].labels["kind"] != "stored" {
		t.Fatalf("observations=%v", r.obs)
	}
}

// TestFlush verifies Flush reaches a buffering backend and is a no-op for the
// default backend.
func TestFlush(t *testing.T) {
	if err := Flush(); err != nil {
		t.Fatalf("nop Flush() err=%v", err)
	}

	r := install(t)
	if err := Flush(); err != nil {
		t.Fatalf("Flush() err=%v", err)
	}
	if r.flushed != 1 {
		t.Fatalf("flushed=%d, want 1", r.flushed)
	}
}
