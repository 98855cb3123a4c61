// Package observe provides application-wide observability primitives for
// hintstream: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all hintstream metrics.
const meterName = "github.com/MrWong99/hintstream"

// Finalize result statuses for [Metrics.RecordFinalize].
const (
	FinalizeOK            = "ok"
	FinalizeEmpty         = "empty"
	FinalizeRescoreFailed = "rescore_failed"
)

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// FinalizeDuration tracks the time from finalize request to ranked
	// hypotheses, rescoring included.
	FinalizeDuration metric.Float64Histogram

	// HintCompileDuration tracks hint graph compilation latency.
	HintCompileDuration metric.Float64Histogram

	// --- Counters ---

	// HintCacheLookups counts hint cache lookups. Use with attribute:
	//   attribute.String("result", "hit"|"miss")
	HintCacheLookups metric.Int64Counter

	// FinalizeResults counts finalize outcomes. Use with attribute:
	//   attribute.String("status", ...)
	FinalizeResults metric.Int64Counter

	// SessionFaults counts streams that failed on an internal fault.
	SessionFaults metric.Int64Counter

	// AudioSamples counts samples accepted by streams.
	AudioSamples metric.Int64Counter

	// --- Gauges ---

	// ActiveStreams tracks the number of open streams.
	ActiveStreams metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for
// decode-side latencies, which sit well below a second.
var latencyBuckets = []float64{
	0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.FinalizeDuration, err = m.Float64Histogram("hintstream.finalize.duration",
		metric.WithDescription("Latency of finalize including rescoring and n-best extraction."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.HintCompileDuration, err = m.Float64Histogram("hintstream.hint_compile.duration",
		metric.WithDescription("Latency of hint graph compilation."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.HintCacheLookups, err = m.Int64Counter("hintstream.hint_cache.lookups",
		metric.WithDescription("Total hint cache lookups by result."),
	); err != nil {
		return nil, err
	}
	if met.FinalizeResults, err = m.Int64Counter("hintstream.finalize.results",
		metric.WithDescription("Total finalize calls by outcome."),
	); err != nil {
		return nil, err
	}
	if met.SessionFaults, err = m.Int64Counter("hintstream.session.faults",
		metric.WithDescription("Total streams terminated by an internal fault."),
	); err != nil {
		return nil, err
	}
	if met.AudioSamples, err = m.Int64Counter("hintstream.audio.samples",
		metric.WithDescription("Total audio samples accepted."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveStreams, err = m.Int64UpDownCounter("hintstream.active_streams",
		metric.WithDescription("Number of open streams."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("hintstream.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
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

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordHintCacheLookup records a hint cache hit or miss.
func (m *Metrics) RecordHintCacheLookup(ctx context.Context, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.HintCacheLookups.Add(ctx, 1,
		metric.WithAttributes(attribute.String("result", result)),
	)
}

// RecordHintCompile records one hint graph compilation.
func (m *Metrics) RecordHintCompile(ctx context.Context, d time.Duration) {
	m.HintCompileDuration.Record(ctx, d.Seconds())
}

// RecordFinalize records the latency and outcome of a finalize call.
func (m *Metrics) RecordFinalize(ctx context.Context, d time.Duration, status string) {
	m.FinalizeDuration.Record(ctx, d.Seconds())
	m.FinalizeResults.Add(ctx, 1,
		metric.WithAttributes(attribute.String("status", status)),
	)
}

// RecordSessionFault records a stream lost to an internal fault.
func (m *Metrics) RecordSessionFault(ctx context.Context, op string) {
	m.SessionFaults.Add(ctx, 1,
		metric.WithAttributes(attribute.String("op", op)),
	)
}
