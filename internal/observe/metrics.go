// Package observe holds the OpenTelemetry metric instruments for the voice
// pipeline and the Prometheus bridge used to expose them.
//
// A package-level default [Metrics] instance ([DefaultMetrics]) is bound to
// the global meter provider; tests should use [NewMetrics] with their own
// [metric.MeterProvider].
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/emmett/voxcmd"

// Metrics holds all metric instruments. Safe for concurrent use.
type Metrics struct {
	// TranscribeDuration tracks inference latency. Attributes: backend, status.
	TranscribeDuration metric.Float64Histogram

	// Recordings counts finalized recordings. Attributes: owner, outcome.
	Recordings metric.Int64Counter

	// DroppedFrames counts frames discarded by the capture queue.
	DroppedFrames metric.Int64Counter

	// ListenerErrors counts background loop failures. Attribute: kind (transient|fatal).
	ListenerErrors metric.Int64Counter

	// Commands counts classified commands. Attribute: command.
	Commands metric.Int64Counter

	// ModelLoads counts model load attempts. Attribute: status.
	ModelLoads metric.Int64Counter
}

// latencyBuckets are histogram boundaries in seconds for offline inference
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2, 4, 8, 16, 32,
}

// NewMetrics creates all instruments on the given provider
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.TranscribeDuration, err = m.Float64Histogram("vox.stt.duration",
		metric.WithDescription("Latency of speech-to-text inference."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.Recordings, err = m.Int64Counter("vox.recordings",
		metric.WithDescription("Finalized recordings by owner and outcome."),
	); err != nil {
		return nil, err
	}
	if met.DroppedFrames, err = m.Int64Counter("vox.capture.dropped_frames",
		metric.WithDescription("Audio frames dropped because the consumer fell behind."),
	); err != nil {
		return nil, err
	}
	if met.ListenerErrors, err = m.Int64Counter("vox.listener.errors",
		metric.WithDescription("Background listening failures by kind."),
	); err != nil {
		return nil, err
	}
	if met.Commands, err = m.Int64Counter("vox.commands",
		metric.WithDescription("Recognized commands by type."),
	); err != nil {
		return nil, err
	}
	if met.ModelLoads, err = m.Int64Counter("vox.model.loads",
		metric.WithDescription("Model load attempts by status."),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level instance created from
// [otel.GetMeterProvider]. Panics if instrument creation fails.
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

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// RecordTranscription records one inference call
func (m *Metrics) RecordTranscription(ctx context.Context, d time.Duration, backend string, err error) {
	m.TranscribeDuration.Record(ctx, d.Seconds(),
		metric.WithAttributes(
			attribute.String("backend", backend),
			attribute.String("status", status(err)),
		),
	)
}

// RecordRecording records a finalized or aborted recording
func (m *Metrics) RecordRecording(ctx context.Context, owner, outcome string) {
	m.Recordings.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("owner", owner),
			attribute.String("outcome", outcome),
		),
	)
}

// RecordDroppedFrames adds n dropped frames
func (m *Metrics) RecordDroppedFrames(ctx context.Context, n uint64) {
	if n == 0 {
		return
	}
	m.DroppedFrames.Add(ctx, int64(n))
}

// RecordListenerError records a background loop failure
func (m *Metrics) RecordListenerError(ctx context.Context, fatal bool) {
	kind := "transient"
	if fatal {
		kind = "fatal"
	}
	m.ListenerErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

// RecordCommand records a classified command
func (m *Metrics) RecordCommand(ctx context.Context, command string) {
	m.Commands.Add(ctx, 1, metric.WithAttributes(attribute.String("command", command)))
}

// RecordModelLoad records a model load attempt
func (m *Metrics) RecordModelLoad(ctx context.Context, ok bool) {
	s := "ok"
	if !ok {
		s = "error"
	}
	m.ModelLoads.Add(ctx, 1, metric.WithAttributes(attribute.String("status", s)))
}
