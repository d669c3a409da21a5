package telemetry

import (
	"context"
	"sort"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/coachpo/marketmaker/internal/observability"
)

// Recorder adapts an OpenTelemetry meter to the observability.Metrics
// interface. Instruments are created on first use and cached by name.
type Recorder struct {
	meter metric.Meter

	mu         sync.Mutex
	counters   map[string]metric.Float64Counter
	gauges     map[string]metric.Float64Gauge
	histograms map[string]metric.Float64Histogram
}

var _ observability.Metrics = (*Recorder)(nil)

// NewRecorder builds a Recorder on top of the provider's meter.
func NewRecorder(provider *Provider) *Recorder {
	return &Recorder{
		meter:      provider.Meter("marketmaker"),
		counters:   make(map[string]metric.Float64Counter),
		gauges:     make(map[string]metric.Float64Gauge),
		histograms: make(map[string]metric.Float64Histogram),
	}
}

// IncCounter adds value to the named counter.
func (r *Recorder) IncCounter(name string, value float64, labels map[string]string) {
	r.mu.Lock()
	counter, ok := r.counters[name]
	if !ok {
		var err error
		counter, err = r.meter.Float64Counter(name)
		if err != nil {
			r.mu.Unlock()
			return
		}
		r.counters[name] = counter
	}
	r.mu.Unlock()
	counter.Add(context.Background(), value, metric.WithAttributeSet(attrSet(labels)))
}

// SetGauge records the current value of the named gauge.
func (r *Recorder) SetGauge(name string, value float64, labels map[string]string) {
	r.mu.Lock()
	gauge, ok := r.gauges[name]
	if !ok {
		var err error
		gauge, err = r.meter.Float64Gauge(name)
		if err != nil {
			r.mu.Unlock()
			return
		}
		r.gauges[name] = gauge
	}
	r.mu.Unlock()
	gauge.Record(context.Background(), value, metric.WithAttributeSet(attrSet(labels)))
}

// ObserveHistogram records value into the named histogram.
func (r *Recorder) ObserveHistogram(name string, value float64, labels map[string]string) {
	r.mu.Lock()
	histogram, ok := r.histograms[name]
	if !ok {
		var err error
		histogram, err = r.meter.Float64Histogram(name)
		if err != nil {
			r.mu.Unlock()
			return
		}
		r.histograms[name] = histogram
	}
	r.mu.Unlock()
	histogram.Record(context.Background(), value, metric.WithAttributeSet(attrSet(labels)))
}

func attrSet(labels map[string]string) attribute.Set {
	if len(labels) == 0 {
		return *attribute.EmptySet()
	}
	keys := make([]string, 0, len(labels))
	for key := range labels {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	attrs := make([]attribute.KeyValue, 0, len(keys))
	for _, key := range keys {
		attrs = append(attrs, attribute.String(key, labels[key]))
	}
	return attribute.NewSet(attrs...)
}
