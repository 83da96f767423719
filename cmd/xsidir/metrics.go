package main

import (
	"context"
	"log"

	"xsidir/internal/metrics"
	"xsidir/internal/metrics/datadog"
	"xsidir/internal/metrics/prompush"
)

const metricsJob = "xsidir"

// setupMetrics installs the configured metrics backend and returns the
// function that flushes it at exit. Backend failures never fail the export;
// they are logged and metrics stay disabled.
func setupMetrics(ctx context.Context, opts options, logger *log.Logger) func() {
	switch opts.metricsBackend {
	case "pushgateway":
		gwURL := opts.pushgatewayURL
		if gwURL == "" {
			gwURL = "http://localhost:9091"
		}
		b, err := prompush.New(prompush.Options{
			URL:      gwURL,
			JobName:  metricsJob,
			Grouping: prompush.ParseGrouping(opts.metricsTags),
		})
		if err != nil {
			logger.Printf("metrics: failed to init prom push backend: %v; using nop", err)
			return func() {}
		}
		if opts.verbose {
			logger.Printf("metrics: url=%v, backend=%v, job_name=%v", gwURL, opts.metricsBackend, metricsJob)
		}
		metrics.SetBackend(b)
		return func() {
			if err := metrics.Flush(); err != nil {
				logger.Printf("metrics: flush error: %v", err)
			}
			metrics.SetBackend(nil)
		}

	case "datadog":
		tags := datadog.ParseTagsCSV(opts.metricsTags)
		b, err := datadog.NewBackend(ctx, datadog.Options{JobName: metricsJob, Tags: tags})
		if err != nil {
			logger.Printf("metrics: failed to init datadog backend: %v; using nop", err)
			return func() {}
		}
		if opts.verbose {
			logger.Printf("metrics: backend=%v job_name=%v tags=%v", opts.metricsBackend, metricsJob, tags)
		}
		metrics.SetBackend(b)
		return func() {
			// Close stops the flush loop, then submits what is left.
			if err := b.Close(); err != nil {
				logger.Printf("metrics: datadog close/flush error: %v", err)
			}
			metrics.SetBackend(nil)
		}

	case "", "none":
		if opts.verbose {
			logger.Printf("metrics: disabled")
		}
		return func() {}

	default:
		logger.Printf("metrics: unknown backend %q; metrics disabled", opts.metricsBackend)
		return func() {}
	}
}
