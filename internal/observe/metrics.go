// Package observe provides application-wide observability primitives for
// Dictum: OpenTelemetry metrics, tracing, and structured logging helpers.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all Dictum metrics.
const meterName = "github.com/lattice-labs/dictum"

// Metrics holds all OpenTelemetry metric instruments for the engine.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms per pipeline stage ---

	// DecodeDuration tracks speech model decode latency. Use with attribute:
	//   attribute.String("kind", "partial"|"final")
	DecodeDuration metric.Float64Histogram

	// MelDuration tracks log-mel spectrogram computation latency.
	MelDuration metric.Float64Histogram

	// RecoveryDuration tracks cloud text-recovery request latency.
	RecoveryDuration metric.Float64Histogram

	// --- Counters ---

	// Transcripts counts emitted transcript events. Use with attributes:
	//   attribute.String("kind", "partial"|"final"), attribute.String("status", ...)
	Transcripts metric.Int64Counter

	// SamplesDropped counts audio samples dropped at the capture ring.
	SamplesDropped metric.Int64Counter

	// Flushes counts utterance flushes. Use with attribute:
	//   attribute.String("reason", "silence"|"max"|"stop"|"rescue")
	Flushes metric.Int64Counter

	// DecodeErrors counts failed decode attempts.
	DecodeErrors metric.Int64Counter

	// RecoveryRequests counts cloud recovery attempts. Use with attribute:
	//   attribute.String("status", "ok"|"error"|"empty")
	RecoveryRequests metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of running capture sessions.
	ActiveSessions metric.Int64UpDownCounter

	// Subscribers tracks the number of attached event subscribers.
	Subscribers metric.Int64UpDownCounter
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for on-device inference latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.DecodeDuration, err = m.Float64Histogram("dictum.decode.duration",
		metric.WithDescription("Latency of speech model decode passes."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.MelDuration, err = m.Float64Histogram("dictum.mel.duration",
		metric.WithDescription("Latency of log-mel spectrogram computation."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.RecoveryDuration, err = m.Float64Histogram("dictum.recovery.duration",
		metric.WithDescription("Latency of cloud text-recovery requests."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.Transcripts, err = m.Int64Counter("dictum.transcripts",
		metric.WithDescription("Total transcript events by kind and status."),
	); err != nil {
		return nil, err
	}
	if met.SamplesDropped, err = m.Int64Counter("dictum.samples.dropped",
		metric.WithDescription("Audio samples dropped at the capture ring."),
	); err != nil {
		return nil, err
	}
	if met.Flushes, err = m.Int64Counter("dictum.flushes",
		metric.WithDescription("Utterance flushes by reason."),
	); err != nil {
		return nil, err
	}
	if met.DecodeErrors, err = m.Int64Counter("dictum.decode.errors",
		metric.WithDescription("Failed decode attempts."),
	); err != nil {
		return nil, err
	}
	if met.RecoveryRequests, err = m.Int64Counter("dictum.recovery.requests",
		metric.WithDescription("Cloud recovery attempts by status."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("dictum.active_sessions",
		metric.WithDescription("Number of running capture sessions."),
	); err != nil {
		return nil, err
	}
	if met.Subscribers, err = m.Int64UpDownCounter("dictum.subscribers",
		metric.WithDescription("Number of attached event subscribers."),
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

// RecordTranscript records a transcript event counter increment with the
// standard attribute set.
func (m *Metrics) RecordTranscript(ctx context.Context, kind, status string) {
	m.Transcripts.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordFlush records a flush counter increment with the flush reason.
func (m *Metrics) RecordFlush(ctx context.Context, reason string) {
	m.Flushes.Add(ctx, 1,
		metric.WithAttributes(attribute.String("reason", reason)),
	)
}
