package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func newTestRecorder(t *testing.T) (*Recorder, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	return NewRecorder(&Provider{meterProvider: mp}), reader
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	return rm
}

func findMetric(rm metricdata.ResourceMetrics, name string) (metricdata.Metrics, bool) {
	for _, scope := range rm.ScopeMetrics {
		for _, m := range scope.Metrics {
			if m.Name == name {
				return m, true
			}
		}
	}
	return metricdata.Metrics{}, false
}

func TestRecorderCounter(t *testing.T) {
	recorder, reader := newTestRecorder(t)

	recorder.IncCounter("orders.placed", 1, map[string]string{"side": "buy"})
	recorder.IncCounter("orders.placed", 2, map[string]string{"side": "buy"})

	m, ok := findMetric(collect(t, reader), "orders.placed")
	require.True(t, ok)
	sum, ok := m.Data.(metricdata.Sum[float64])
	require.True(t, ok)
	require.Len(t, sum.DataPoints, 1)
	require.Equal(t, float64(3), sum.DataPoints[0].Value)
}

func TestRecorderGaugeKeepsLatestValue(t *testing.T) {
	recorder, reader := newTestRecorder(t)

	recorder.SetGauge("risk.inventory", 2.5, nil)
	recorder.SetGauge("risk.inventory", -1.0, nil)

	m, ok := findMetric(collect(t, reader), "risk.inventory")
	require.True(t, ok)
	gauge, ok := m.Data.(metricdata.Gauge[float64])
	require.True(t, ok)
	require.Len(t, gauge.DataPoints, 1)
	require.Equal(t, float64(-1.0), gauge.DataPoints[0].Value)
}

func TestRecorderHistogram(t *testing.T) {
	recorder, reader := newTestRecorder(t)

	recorder.ObserveHistogram("order.call.duration", 12, nil)
	recorder.ObserveHistogram("order.call.duration", 48, nil)

	m, ok := findMetric(collect(t, reader), "order.call.duration")
	require.True(t, ok)
	hist, ok := m.Data.(metricdata.Histogram[float64])
	require.True(t, ok)
	require.Len(t, hist.DataPoints, 1)
	require.Equal(t, uint64(2), hist.DataPoints[0].Count)
}

func TestDisabledProviderIsInert(t *testing.T) {
	provider, err := NewProvider(context.Background(), Config{Enabled: false, ServiceName: "marketmaker"})
	require.NoError(t, err)
	require.NoError(t, provider.Shutdown(context.Background()))
}
