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
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all parley metrics.
const meterName = "github.com/MrWong99/parley"

// Drop reasons used with [Metrics.RecordChunkDropped].
const (
	DropTransportClosed = "transport_closed"
	DropSendFailed      = "send_failed"
)

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// CaptureCallbackDuration tracks how long one capture device callback
	// takes to process a frame.
	CaptureCallbackDuration metric.Float64Histogram

	// ScheduleLead tracks how far ahead of the playback clock each unit was
	// scheduled.
	ScheduleLead metric.Float64Histogram

	// --- Counters ---

	// ChunksSent counts outbound audio chunks accepted by the transport.
	ChunksSent metric.Int64Counter

	// ChunksDropped counts outbound audio chunks that were discarded. Use with
	// attribute:
	//   attribute.String("reason", ...)
	ChunksDropped metric.Int64Counter

	// VADTriggers counts speech events raised by voice activity detection.
	VADTriggers metric.Int64Counter

	// BargeIns counts speech events that cancelled assistant playback.
	BargeIns metric.Int64Counter

	// UnitsScheduled counts inbound audio chunks placed on the playback
	// timeline.
	UnitsScheduled metric.Int64Counter

	// DecodeFailures counts inbound audio chunks that could not be decoded.
	DecodeFailures metric.Int64Counter

	// Disconnects counts persistent transport outages.
	Disconnects metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of live voice sessions.
	ActiveSessions metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time by method,
	// route and status. Recorded by [Middleware].
	HTTPRequestDuration metric.Float64Histogram
}

// callbackBuckets defines histogram bucket boundaries (in seconds) for
// real-time audio callbacks, which must finish well inside one device period.
var callbackBuckets = []float64{
	0.00005, 0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.02, 0.05,
}

// leadBuckets defines histogram bucket boundaries (in seconds) for the
// scheduling lead of playback units.
var leadBuckets = []float64{
	0, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.CaptureCallbackDuration, err = m.Float64Histogram("parley.capture.callback.duration",
		metric.WithDescription("Processing time of one capture device callback."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(callbackBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ScheduleLead, err = m.Float64Histogram("parley.playback.schedule_lead",
		metric.WithDescription("Distance between the playback clock and the start of a newly scheduled unit."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(leadBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.ChunksSent, err = m.Int64Counter("parley.capture.chunks_sent",
		metric.WithDescription("Total outbound audio chunks handed to the transport."),
	); err != nil {
		return nil, err
	}
	if met.ChunksDropped, err = m.Int64Counter("parley.capture.chunks_dropped",
		metric.WithDescription("Total outbound audio chunks dropped by reason."),
	); err != nil {
		return nil, err
	}
	if met.VADTriggers, err = m.Int64Counter("parley.vad.triggers",
		metric.WithDescription("Total speech events raised by voice activity detection."),
	); err != nil {
		return nil, err
	}
	if met.BargeIns, err = m.Int64Counter("parley.session.barge_ins",
		metric.WithDescription("Total barge-ins that cancelled assistant playback."),
	); err != nil {
		return nil, err
	}
	if met.UnitsScheduled, err = m.Int64Counter("parley.playback.units_scheduled",
		metric.WithDescription("Total inbound audio chunks scheduled for playback."),
	); err != nil {
		return nil, err
	}
	if met.DecodeFailures, err = m.Int64Counter("parley.playback.decode_failures",
		metric.WithDescription("Total inbound audio chunks dropped because they could not be decoded."),
	); err != nil {
		return nil, err
	}
	if met.Disconnects, err = m.Int64Counter("parley.transport.disconnects",
		metric.WithDescription("Total transport outages that outlasted the disconnect grace period."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("parley.active_sessions",
		metric.WithDescription("Number of live voice sessions."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("parley.http.request.duration",
		metric.WithDescription("HTTP request latency by method, route and status."),
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

// RecordChunkDropped records a dropped outbound chunk with its reason.
func (m *Metrics) RecordChunkDropped(ctx context.Context, reason string) {
	m.ChunksDropped.Add(ctx, 1,
		metric.WithAttributes(attribute.String("reason", reason)),
	)
}

// RecordCallback records the processing time of one capture callback.
func (m *Metrics) RecordCallback(ctx context.Context, d time.Duration) {
	m.CaptureCallbackDuration.Record(ctx, d.Seconds())
}

// RecordScheduleLead records the scheduling lead of one playback unit.
func (m *Metrics) RecordScheduleLead(ctx context.Context, d time.Duration) {
	m.ScheduleLead.Record(ctx, d.Seconds())
}
