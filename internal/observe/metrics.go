// Package observe provides application-wide observability primitives for
// wolfa: OpenTelemetry metrics, tracing, trace-aware logging and HTTP
// middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is set up by [InitProvider] so that metrics can be scraped
// via the standard /metrics endpoint. A package-level default [Metrics]
// instance ([DefaultMetrics]) is provided for convenience; tests should use
// [NewMetrics] with a custom [metric.MeterProvider] to avoid cross-test
// pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all wolfa metrics.
const meterName = "github.com/MrWong99/wolfa"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// ConnectDuration tracks how long session establishment takes, from
	// start to the provider acknowledging the setup.
	ConnectDuration metric.Float64Histogram

	// --- Counters ---

	// SessionStarts counts session start attempts.
	SessionStarts metric.Int64Counter

	// SessionEnds counts terminated sessions. Use with attribute:
	//   attribute.String("reason", "stop"|"remote_close"|"error")
	SessionEnds metric.Int64Counter

	// AudioChunksIn counts inbound audio payloads scheduled for playback.
	AudioChunksIn metric.Int64Counter

	// AudioFramesOut counts microphone frames handed to the provider.
	AudioFramesOut metric.Int64Counter

	// AudioFramesDropped counts microphone frames dropped on a full queue.
	AudioFramesDropped metric.Int64Counter

	// Interruptions counts barge-ins that flushed playback.
	Interruptions metric.Int64Counter

	// Turns counts completed transcript turns.
	Turns metric.Int64Counter

	// --- Error counters ---

	// SessionErrors counts session failures. Use with attribute:
	//   attribute.String("category", ...)
	SessionErrors metric.Int64Counter

	// DecodeErrors counts inbound audio payloads that could not be decoded.
	DecodeErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of connected voice sessions.
	ActiveSessions metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for
// session establishment latencies.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2, 3, 5, 10, 30,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.ConnectDuration, err = m.Float64Histogram("wolfa.session.connect.duration",
		metric.WithDescription("Latency of session establishment."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&met.SessionStarts, "wolfa.session.starts", "Total session start attempts."},
		{&met.SessionEnds, "wolfa.session.ends", "Total terminated sessions by reason."},
		{&met.AudioChunksIn, "wolfa.audio.chunks_in", "Total inbound audio payloads scheduled for playback."},
		{&met.AudioFramesOut, "wolfa.audio.frames_out", "Total microphone frames sent to the provider."},
		{&met.AudioFramesDropped, "wolfa.audio.frames_dropped", "Total microphone frames dropped on a full queue."},
		{&met.Interruptions, "wolfa.session.interruptions", "Total barge-ins that flushed playback."},
		{&met.Turns, "wolfa.transcript.turns", "Total completed transcript turns."},
		{&met.SessionErrors, "wolfa.session.errors", "Total session failures by category."},
		{&met.DecodeErrors, "wolfa.audio.decode_errors", "Total inbound audio payloads that failed to decode."},
	}
	for _, c := range counters {
		if *c.dst, err = m.Int64Counter(c.name, metric.WithDescription(c.desc)); err != nil {
			return nil, err
		}
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("wolfa.active_sessions",
		metric.WithDescription("Number of connected voice sessions."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("wolfa.http.request.duration",
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

// RecordSessionEnd records a terminated session with its reason.
func (m *Metrics) RecordSessionEnd(ctx context.Context, reason string) {
	m.SessionEnds.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// RecordSessionError records a session failure by category.
func (m *Metrics) RecordSessionError(ctx context.Context, category string) {
	m.SessionErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("category", category)))
}
