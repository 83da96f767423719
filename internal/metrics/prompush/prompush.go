// Package prompush implements a Prometheus Pushgateway backend for
// internal/metrics.
//
// A directory export is a batch job with no scrape window, so observations go
// into a private registry and are pushed to the gateway on Flush.
package prompush

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/push"

	"xsidir/internal/metrics"
)

// Options configures the backend.
type Options struct {
	// URL is the Pushgateway base URL, e.g. http://pushgateway:9091.
	URL string

	// JobName is the push job. Defaults to "xsidir".
	JobName string

	// Grouping adds grouping-key labels to the push, e.g. {"instance": "pbx1"}.
	Grouping map[string]string

	// Client overrides the HTTP client used for pushing.
	Client *http.Client
}

type counterDef struct {
	vec    *prometheus.CounterVec
	labels []string
}

type histogramDef struct {
	vec    *prometheus.HistogramVec
	labels []string
}

// Backend implements metrics.Backend and metrics.Flusher.
type Backend struct {
	reg    *prometheus.Registry
	pusher *push.Pusher

	counters   map[string]counterDef
	histograms map[string]histogramDef
}

// New builds the registry and the pusher. Nothing is sent until Flush.
func New(opts Options) (*Backend, error) {
	if strings.TrimSpace(opts.URL) == "" {
		return nil, fmt.Errorf("prompush: missing pushgateway url")
	}
	job := opts.JobName
	if job == "" {
		job = "xsidir"
	}

	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	stepLabels := []string{"step", "status"}
	statusLabels := []string{"status"}
	kindLabels := []string{"kind"}

	b := &Backend{
		reg: reg,
		counters: map[string]counterDef{
			metrics.StepTotal: {f.NewCounterVec(prometheus.CounterOpts{
				Name: metrics.StepTotal,
				Help: "Pipeline steps by outcome",
			}, stepLabels), stepLabels},
			metrics.RecordsTotal: {f.NewCounterVec(prometheus.CounterOpts{
				Name: metrics.RecordsTotal,
				Help: "Directory records by kind (extracted, stored)",
			}, kindLabels), kindLabels},
			metrics.HTTPRequestsTotal: {f.NewCounterVec(prometheus.CounterOpts{
				Name: metrics.HTTPRequestsTotal,
				Help: "XSI requests by response status",
			}, statusLabels), statusLabels},
			metrics.HTTPErrorsTotal: {f.NewCounterVec(prometheus.CounterOpts{
				Name: metrics.HTTPErrorsTotal,
				Help: "Failed XSI requests by response status",
			}, statusLabels), statusLabels},
		},
		histograms: map[string]histogramDef{
			metrics.StepDuration: {f.NewHistogramVec(prometheus.HistogramOpts{
				Name:    metrics.StepDuration,
				Help:    "Duration of pipeline steps",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			}, stepLabels), stepLabels},
			metrics.HTTPRequestDuration: {f.NewHistogramVec(prometheus.HistogramOpts{
				Name:    metrics.HTTPRequestDuration,
				Help:    "Duration of XSI requests",
				Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			}, statusLabels), statusLabels},
			metrics.HTTPDownloadBytes: {f.NewHistogramVec(prometheus.HistogramOpts{
				Name:    metrics.HTTPDownloadBytes,
				Help:    "Size of XSI response bodies",
				Buckets: prometheus.ExponentialBuckets(256, 4, 8),
			}, statusLabels), statusLabels},
		},
	}

	p := push.New(opts.URL, job).Gatherer(reg)
	for k, v := range opts.Grouping {
		p = p.Grouping(k, v)
	}
	if opts.Client != nil {
		p = p.Client(opts.Client)
	}
	b.pusher = p
	return b, nil
}

func values(names []string, labels metrics.Labels) []string {
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = labels[n]
	}
	return out
}

// IncCounter implements metrics.Backend. Unknown names are ignored.
func (b *Backend) IncCounter(name string, delta float64, labels metrics.Labels) {
	def, ok := b.counters[name]
	if !ok || delta <= 0 {
		return
	}
	def.vec.WithLabelValues(values(def.labels, labels)...).Add(delta)
}

// ObserveHistogram implements metrics.Backend. Unknown names are ignored.
func (b *Backend) ObserveHistogram(name string, value float64, labels metrics.Labels) {
	def, ok := b.histograms[name]
	if !ok || value < 0 {
		return
	}
	def.vec.WithLabelValues(values(def.labels, labels)...).Observe(value)
}

// Flush replaces the job's metric group on the gateway with the registry's
// current state.
func (b *Backend) Flush() error {
	if err := b.pusher.Push(); err != nil {
		return fmt.Errorf("prompush: %w", err)
	}
	return nil
}

// Registry exposes the backing registry.
func (b *Backend) Registry() *prometheus.Registry { return b.reg }

// ParseGrouping parses "k:v,k2:v2" (the METRICS_TAGS form) into grouping
// labels. Entries without a colon are skipped.
func ParseGrouping(s string) map[string]string {
	out := map[string]string{}
	for _, part := range strings.Split(s, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), ":")
		if !ok || k == "" {
			continue
		}
		out[k] = v
	}
	return out
}

var _ metrics.Backend = (*Backend)(nil)
var _ metrics.Flusher = (*Backend)(nil)
