package observe

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	require.NoError(t, err)
	return m, reader
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	return rm
}

func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

func sumOf(t *testing.T, m *metricdata.Metrics) int64 {
	t.Helper()
	require.NotNil(t, m)
	sum, ok := m.Data.(metricdata.Sum[int64])
	require.True(t, ok, "metric %s is %T", m.Name, m.Data)
	var total int64
	for _, dp := range sum.DataPoints {
		total += dp.Value
	}
	return total
}

func TestCountersAccumulate(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordRecording(ctx, "manual", "ok")
	m.RecordRecording(ctx, "background", "aborted")
	m.RecordDroppedFrames(ctx, 7)
	m.RecordDroppedFrames(ctx, 0)
	m.RecordListenerError(ctx, false)
	m.RecordListenerError(ctx, true)
	m.RecordCommand(ctx, "greeting")
	m.RecordModelLoad(ctx, false)

	rm := collect(t, reader)
	require.Equal(t, int64(2), sumOf(t, findMetric(rm, "vox.recordings")))
	require.Equal(t, int64(7), sumOf(t, findMetric(rm, "vox.capture.dropped_frames")))
	require.Equal(t, int64(2), sumOf(t, findMetric(rm, "vox.listener.errors")))
	require.Equal(t, int64(1), sumOf(t, findMetric(rm, "vox.commands")))
	require.Equal(t, int64(1), sumOf(t, findMetric(rm, "vox.model.loads")))
}

func TestTranscriptionHistogram(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordTranscription(ctx, 300*time.Millisecond, "whisper", nil)
	m.RecordTranscription(ctx, 2*time.Second, "whisper", errors.New("boom"))

	found := findMetric(collect(t, reader), "vox.stt.duration")
	require.NotNil(t, found)
	hist, ok := found.Data.(metricdata.Histogram[float64])
	require.True(t, ok)

	var count uint64
	for _, dp := range hist.DataPoints {
		count += dp.Count
	}
	require.Equal(t, uint64(2), count)
	require.Len(t, hist.DataPoints, 2, "ok and error are separate series")
}
