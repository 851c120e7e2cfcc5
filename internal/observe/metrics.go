// Package observe provides application-wide observability primitives for
// audiocap: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can be
// scraped via the standard /metrics endpoint while a capture runs. A
// package-level default [Metrics] instance ([DefaultMetrics]) is provided for
// convenience; tests should use [NewMetrics] with a custom
// [metric.MeterProvider] to avoid cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all audiocap metrics.
const meterName = "github.com/MrWong99/audiocap"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Capture loop counters ---

	// PacketsRead counts packets read from the selected input stream.
	PacketsRead metric.Int64Counter

	// PacketsWritten counts packets accepted by the output container.
	PacketsWritten metric.Int64Counter

	// PacketsDropped counts packets discarded because they belong to a
	// stream other than the selected audio stream.
	PacketsDropped metric.Int64Counter

	// BytesWritten counts payload bytes accepted by the output container.
	BytesWritten metric.Int64Counter

	// PollWaits counts idle waits taken while the device had no data.
	PollWaits metric.Int64Counter

	// CapturedDuration accumulates the media duration (seconds) written.
	CapturedDuration metric.Float64Counter

	// --- Error counters ---

	// PacketErrors counts transient packet failures. Use with attribute:
	//   attribute.String("op", "read"|"write")
	PacketErrors metric.Int64Counter

	// BreakerTransitions counts read circuit breaker state changes. Use with
	// attribute:
	//   attribute.String("state", ...)
	BreakerTransitions metric.Int64Counter

	// --- Run lifecycle ---

	// Runs counts finished capture runs. Use with attribute:
	//   attribute.String("status", "done"|"failed")
	Runs metric.Int64Counter

	// SetupDuration tracks the latency of each setup stage. Use with attribute:
	//   attribute.String("stage", ...)
	SetupDuration metric.Float64Histogram

	// WriteDuration tracks the latency of a single interleaved packet write.
	WriteDuration metric.Float64Histogram

	// ActiveCaptures tracks the number of runs currently in Capturing.
	ActiveCaptures metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks operational endpoint latency. Attributes:
	//   attribute.String("route", ...), attribute.String("status", "2xx"|...)
	HTTPRequestDuration metric.Float64Histogram
}

// setupBuckets defines histogram bucket boundaries (in seconds) for device and
// container setup, which can include a multi-second device probe.
var setupBuckets = []float64{
	0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// writeBuckets defines histogram bucket boundaries (in seconds) for single
// packet writes.
var writeBuckets = []float64{
	0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Capture counters.
	if met.PacketsRead, err = m.Int64Counter("audiocap.packets.read",
		metric.WithDescription("Packets read from the selected input stream."),
	); err != nil {
		return nil, err
	}
	if met.PacketsWritten, err = m.Int64Counter("audiocap.packets.written",
		metric.WithDescription("Packets written to the output container."),
	); err != nil {
		return nil, err
	}
	if met.PacketsDropped, err = m.Int64Counter("audiocap.packets.dropped",
		metric.WithDescription("Packets discarded because they belong to an unselected stream."),
	); err != nil {
		return nil, err
	}
	if met.BytesWritten, err = m.Int64Counter("audiocap.bytes.written",
		metric.WithDescription("Payload bytes written to the output container."),
		metric.WithUnit("By"),
	); err != nil {
		return nil, err
	}
	if met.PollWaits, err = m.Int64Counter("audiocap.poll.waits",
		metric.WithDescription("Idle waits while the input device had no data."),
	); err != nil {
		return nil, err
	}
	if met.CapturedDuration, err = m.Float64Counter("audiocap.captured.duration",
		metric.WithDescription("Media duration written to the output container."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.PacketErrors, err = m.Int64Counter("audiocap.packet.errors",
		metric.WithDescription("Transient packet read and write failures by operation."),
	); err != nil {
		return nil, err
	}
	if met.BreakerTransitions, err = m.Int64Counter("audiocap.breaker.transitions",
		metric.WithDescription("Device read circuit breaker transitions by new state."),
	); err != nil {
		return nil, err
	}

	// Lifecycle.
	if met.Runs, err = m.Int64Counter("audiocap.runs",
		metric.WithDescription("Finished capture runs by status."),
	); err != nil {
		return nil, err
	}
	if met.SetupDuration, err = m.Float64Histogram("audiocap.setup.duration",
		metric.WithDescription("Latency of each capture setup stage."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(setupBuckets...),
	); err != nil {
		return nil, err
	}
	if met.WriteDuration, err = m.Float64Histogram("audiocap.write.duration",
		metric.WithDescription("Latency of a single interleaved packet write."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(writeBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ActiveCaptures, err = m.Int64UpDownCounter("audiocap.active_captures",
		metric.WithDescription("Number of runs currently capturing."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("audiocap.http.request.duration",
		metric.WithDescription("Operational endpoint latency by route and status class."),
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

// RecordPacketError records a transient packet failure for op ("read" or
// "write").
func (m *Metrics) RecordPacketError(ctx context.Context, op string) {
	m.PacketErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("op", op)))
}

// RecordSetupStage records the latency of a named setup stage.
func (m *Metrics) RecordSetupStage(ctx context.Context, stage string, seconds float64) {
	m.SetupDuration.Record(ctx, seconds, metric.WithAttributes(attribute.String("stage", stage)))
}

// RecordRun records a finished run with the given status.
func (m *Metrics) RecordRun(ctx context.Context, status string) {
	m.Runs.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

// RecordBreakerTransition records a circuit breaker transition to state.
func (m *Metrics) RecordBreakerTransition(ctx context.Context, state string) {
	m.BreakerTransitions.Add(ctx, 1, metric.WithAttributes(attribute.String("state", state)))
}

// RecordWrite records a successful packet write of size bytes covering
// seconds of media.
func (m *Metrics) RecordWrite(ctx context.Context, size int, seconds, latency float64) {
	m.PacketsWritten.Add(ctx, 1)
	m.BytesWritten.Add(ctx, int64(size))
	if seconds > 0 {
		m.CapturedDuration.Add(ctx, seconds)
	}
	m.WriteDuration.Record(ctx, latency)
}
