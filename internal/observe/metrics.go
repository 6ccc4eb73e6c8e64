// Package observe provides the observability primitives shared by the
// pipeline and the HTTP layer: OpenTelemetry metrics, tracing, a trace-aware
// slog logger and HTTP middleware.
//
// Metrics are recorded through the OpenTelemetry Metrics API and exposed for
// Prometheus scraping via the exporter bridge built by [Setup]. A
// package-level [DefaultMetrics] instance falls back to the global provider;
// tests should use [NewMetrics] with their own [metric.MeterProvider].
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope of all patternlab metrics.
const meterName = "github.com/MrWong99/patternlab"

// Status values used as the "status" attribute.
const (
	StatusSuccess     = "success"
	StatusFailure     = "failure"
	StatusShortOutput = "short_output"
	StatusCircuitOpen = "circuit_open"
)

// Metrics holds every instrument. All fields are safe for concurrent use.
type Metrics struct {
	// RunDuration tracks wall-clock time of a whole processing run. Use with
	//   attribute.String("state", ...), attribute.String("method", ...)
	RunDuration metric.Float64Histogram

	// PatternDuration tracks one pattern across all chunks, retries and
	// fallbacks. Use with
	//   attribute.String("pattern", ...), attribute.String("status", ...)
	PatternDuration metric.Float64Histogram

	// ModelAttemptDuration tracks a single runner invocation. Use with
	//   attribute.String("model", ...)
	ModelAttemptDuration metric.Float64Histogram

	// ModelAttempts counts runner invocations. Use with
	//   attribute.String("model", ...), attribute.String("status", ...)
	ModelAttempts metric.Int64Counter

	// Backoffs counts full-chain retries that waited before starting over.
	Backoffs metric.Int64Counter

	// Chunks counts chunks submitted for execution. Use with
	//   attribute.String("pattern", ...)
	Chunks metric.Int64Counter

	// ActiveRuns is the number of runs in progress.
	ActiveRuns metric.Int64UpDownCounter

	// HTTPRequestDuration tracks HTTP request latency. Use with
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// runBuckets are boundaries in seconds for run and pattern durations, which
// are dominated by external model latency.
var runBuckets = []float64{
	0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600, 1200,
}

// attemptBuckets are boundaries in seconds for single model invocations.
var attemptBuckets = []float64{
	0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 30, 60,
}

// NewMetrics creates every instrument on the given provider.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.RunDuration, err = m.Float64Histogram("patternlab.run.duration",
		metric.WithDescription("Wall-clock duration of a processing run."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(runBuckets...),
	); err != nil {
		return nil, err
	}
	if met.PatternDuration, err = m.Float64Histogram("patternlab.pattern.duration",
		metric.WithDescription("Duration of one pattern including chunks, retries and fallbacks."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(runBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ModelAttemptDuration, err = m.Float64Histogram("patternlab.model.attempt.duration",
		metric.WithDescription("Latency of a single model invocation."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(attemptBuckets...),
	); err != nil {
		return nil, err
	}

	if met.ModelAttempts, err = m.Int64Counter("patternlab.model.attempts",
		metric.WithDescription("Model invocations by model and status."),
	); err != nil {
		return nil, err
	}
	if met.Backoffs, err = m.Int64Counter("patternlab.executor.backoffs",
		metric.WithDescription("Retries of the full model chain after a backoff delay."),
	); err != nil {
		return nil, err
	}
	if met.Chunks, err = m.Int64Counter("patternlab.chunks",
		metric.WithDescription("Chunks submitted for execution by pattern."),
	); err != nil {
		return nil, err
	}

	if met.ActiveRuns, err = m.Int64UpDownCounter("patternlab.active_runs",
		metric.WithDescription("Number of processing runs in progress."),
	); err != nil {
		return nil, err
	}

	if met.HTTPRequestDuration, err = m.Float64Histogram("patternlab.http.request.duration",
		metric.WithDescription("HTTP request latency by method and route."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics], created on first call
// from [otel.GetMeterProvider]. Run [Setup] with Global first so the
// instruments land on the Prometheus-backed provider.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is shorthand for [attribute.String].
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordModelAttempt records one runner invocation.
func (m *Metrics) RecordModelAttempt(ctx context.Context, model, status string, d time.Duration) {
	m.ModelAttempts.Add(ctx, 1, metric.WithAttributes(Attr("model", model), Attr("status", status)))
	if status != StatusCircuitOpen {
		m.ModelAttemptDuration.Record(ctx, d.Seconds(), metric.WithAttributes(Attr("model", model)))
	}
}

// RecordPattern records the outcome of one pattern.
func (m *Metrics) RecordPattern(ctx context.Context, pattern, status string, d time.Duration) {
	m.PatternDuration.Record(ctx, d.Seconds(),
		metric.WithAttributes(Attr("pattern", pattern), Attr("status", status)))
}

// RecordRun records the end of a processing run.
func (m *Metrics) RecordRun(ctx context.Context, state, method string, d time.Duration) {
	m.RunDuration.Record(ctx, d.Seconds(),
		metric.WithAttributes(Attr("state", state), Attr("method", method)))
}

// RecordBackoff records a full-chain retry.
func (m *Metrics) RecordBackoff(ctx context.Context, pattern string) {
	m.Backoffs.Add(ctx, 1, metric.WithAttributes(Attr("pattern", pattern)))
}

// RecordChunks records n chunks submitted for pattern.
func (m *Metrics) RecordChunks(ctx context.Context, pattern string, n int) {
	m.Chunks.Add(ctx, int64(n), metric.WithAttributes(Attr("pattern", pattern)))
}
