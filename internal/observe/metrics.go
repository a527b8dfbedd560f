// Package observe provides application-wide observability primitives for
// parley: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
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

// meterName is the instrumentation scope name used for all parley metrics.
const meterName = "github.com/MrWong99/parley"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Session lifecycle ---

	// SessionStarts counts start attempts. Use with attribute:
	//   attribute.String("outcome", "connected"|"device_error"|"channel_error"|"cancelled")
	SessionStarts metric.Int64Counter

	// ActiveSessions tracks the number of sessions between Connecting and Idle.
	ActiveSessions metric.Int64UpDownCounter

	// ConnectDuration tracks the time from Start to the channel opening.
	ConnectDuration metric.Float64Histogram

	// TeardownErrors counts failed teardown steps. Use with attribute:
	//   attribute.String("step", "capture"|"channel"|"playback")
	TeardownErrors metric.Int64Counter

	// TurnsCompleted counts finalized turns appended to history.
	TurnsCompleted metric.Int64Counter

	// --- Capture and channel ---

	// CaptureFrames counts fixed-size frames produced by the capture pipeline.
	CaptureFrames metric.Int64Counter

	// FramesSent counts frames accepted by the channel for transmission.
	FramesSent metric.Int64Counter

	// FramesDropped counts outbound frames evicted by a full send queue.
	FramesDropped metric.Int64Counter

	// ChannelErrors counts channel failures. Use with attribute:
	//   attribute.String("op", ...)
	ChannelErrors metric.Int64Counter

	// --- Playback ---

	// PlaybackChunks counts audio chunks scheduled for playback.
	PlaybackChunks metric.Int64Counter

	// PlaybackDropped counts audio chunks dropped because they failed to decode.
	PlaybackDropped metric.Int64Counter

	// PlaybackLag tracks how far the output clock had overtaken the playback
	// cursor when a chunk was scheduled. Zero for gapless continuations.
	PlaybackLag metric.Float64Histogram

	// Interruptions counts playback flushes triggered by barge-in.
	Interruptions metric.Int64Counter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for voice-session latencies.
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
	if met.ConnectDuration, err = m.Float64Histogram("parley.session.connect.duration",
		metric.WithDescription("Latency from session start to channel open."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.PlaybackLag, err = m.Float64Histogram("parley.playback.lag",
		metric.WithDescription("How far the output clock had passed the playback cursor when a chunk arrived."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.SessionStarts, err = m.Int64Counter("parley.session.starts",
		metric.WithDescription("Total session start attempts by outcome."),
	); err != nil {
		return nil, err
	}
	if met.TeardownErrors, err = m.Int64Counter("parley.teardown.errors",
		metric.WithDescription("Total failed teardown steps by step."),
	); err != nil {
		return nil, err
	}
	if met.TurnsCompleted, err = m.Int64Counter("parley.turns.completed",
		metric.WithDescription("Total turns finalized into history."),
	); err != nil {
		return nil, err
	}
	if met.CaptureFrames, err = m.Int64Counter("parley.capture.frames",
		metric.WithDescription("Total microphone frames captured."),
	); err != nil {
		return nil, err
	}
	if met.FramesSent, err = m.Int64Counter("parley.channel.frames.sent",
		metric.WithDescription("Total audio frames queued for transmission."),
	); err != nil {
		return nil, err
	}
	if met.FramesDropped, err = m.Int64Counter("parley.channel.frames.dropped",
		metric.WithDescription("Total outbound audio frames dropped by a full send queue."),
	); err != nil {
		return nil, err
	}
	if met.ChannelErrors, err = m.Int64Counter("parley.channel.errors",
		metric.WithDescription("Total channel failures by operation."),
	); err != nil {
		return nil, err
	}
	if met.PlaybackChunks, err = m.Int64Counter("parley.playback.chunks",
		metric.WithDescription("Total audio chunks scheduled for playback."),
	); err != nil {
		return nil, err
	}
	if met.PlaybackDropped, err = m.Int64Counter("parley.playback.chunks.dropped",
		metric.WithDescription("Total audio chunks dropped because they failed to decode."),
	); err != nil {
		return nil, err
	}
	if met.Interruptions, err = m.Int64Counter("parley.playback.interruptions",
		metric.WithDescription("Total playback flushes caused by interruptions."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("parley.session.active",
		metric.WithDescription("Number of sessions that are connecting, active or closing."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("parley.http.request.duration",
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

// RecordSessionStart records a start attempt with its outcome.
func (m *Metrics) RecordSessionStart(ctx context.Context, outcome string) {
	m.SessionStarts.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordTeardownError records a failed teardown step.
func (m *Metrics) RecordTeardownError(ctx context.Context, step string) {
	m.TeardownErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("step", step)))
}

// RecordChannelError records a channel failure for the given operation.
func (m *Metrics) RecordChannelError(ctx context.Context, op string) {
	m.ChannelErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("op", op)))
}
