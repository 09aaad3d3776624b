// Package observe provides observability primitives for Voxlay: OpenTelemetry
// metric instruments for the voice pipeline plus a Prometheus exporter bridge
// so everything stays scrapeable via the standard /metrics endpoint.
//
// A package-level default [Metrics] instance ([DefaultMetrics]) is provided
// for convenience; tests should use [NewMetrics] with a custom
// [metric.MeterProvider] to avoid cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all Voxlay metrics.
const meterName = "github.com/voxlay/voxlay"

// Metrics holds all OpenTelemetry metric instruments for the voice pipeline.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// STTDuration tracks transcription latency.
	STTDuration metric.Float64Histogram

	// GenerationDuration tracks one successful generation stream's duration,
	// labelled by model.
	GenerationDuration metric.Float64Histogram

	// VoiceRequests counts pipeline invocations. Attributes:
	//   attribute.String("status", "ok" | "rejected" | "failed" | "aborted")
	VoiceRequests metric.Int64Counter

	// ModelAttempts counts per-model generation attempts. Attributes:
	//   attribute.String("model", ...), attribute.String("status", ...)
	ModelAttempts metric.Int64Counter

	// PartialChunks counts streamed deltas relayed to the UI.
	PartialChunks metric.Int64Counter

	// ActiveRequests tracks the in-flight pipeline executions (0 or 1 under
	// the single-flight guard; higher values indicate a bug).
	ActiveRequests metric.Int64UpDownCounter
}

// latencyBuckets defines histogram bucket boundaries (in seconds) sized for
// transcription and streaming-generation latencies.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.STTDuration, err = m.Float64Histogram("voxlay.stt.duration",
		metric.WithDescription("Latency of speech-to-text transcription."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.GenerationDuration, err = m.Float64Histogram("voxlay.generation.duration",
		metric.WithDescription("Duration of a successful generation stream by model."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.VoiceRequests, err = m.Int64Counter("voxlay.voice.requests",
		metric.WithDescription("Total voice pipeline invocations by outcome."),
	); err != nil {
		return nil, err
	}
	if met.ModelAttempts, err = m.Int64Counter("voxlay.model.attempts",
		metric.WithDescription("Total per-model generation attempts by model and status."),
	); err != nil {
		return nil, err
	}
	if met.PartialChunks, err = m.Int64Counter("voxlay.partial.chunks",
		metric.WithDescription("Total streamed partial deltas relayed to the UI."),
	); err != nil {
		return nil, err
	}
	if met.ActiveRequests, err = m.Int64UpDownCounter("voxlay.active_requests",
		metric.WithDescription("Voice pipeline executions currently in flight."),
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

// RecordVoiceRequest records a pipeline invocation outcome.
func (m *Metrics) RecordVoiceRequest(ctx context.Context, status string) {
	m.VoiceRequests.Add(ctx, 1,
		metric.WithAttributes(attribute.String("status", status)),
	)
}

// RecordModelAttempt records one generation attempt for a model.
func (m *Metrics) RecordModelAttempt(ctx context.Context, model, status string) {
	m.ModelAttempts.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("model", model),
			attribute.String("status", status),
		),
	)
}
