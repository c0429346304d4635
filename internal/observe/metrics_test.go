package observe

import (
	"context"
	"errors"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// newTestMetrics returns Metrics backed by a ManualReader.
func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
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

// sumWhere returns the counter value of the data point whose attribute key
// equals value.
func sumWhere(t *testing.T, rm metricdata.ResourceMetrics, name, key, value string) int64 {
	t.Helper()
	met := findMetric(rm, name)
	if met == nil {
		t.Fatalf("metric %q not found", name)
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("metric %q is not a sum", name)
	}
	for _, dp := range sum.DataPoints {
		for _, kv := range dp.Attributes.ToSlice() {
			if string(kv.Key) == key && kv.Value.AsString() == value {
				return dp.Value
			}
		}
	}
	return 0
}

func TestHistograms(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.STTDuration.Record(ctx, 0.4)
	m.LLMDuration.Record(ctx, 1.2)
	m.PlaybackDuration.Record(ctx, 2.5)
	m.PlaybackDuration.Record(ctx, 3)

	rm := collect(t, reader)
	tests := []struct {
		name string
		want uint64
	}{
		{"cherry.stt.duration", 1},
		{"cherry.llm.duration", 1},
		{"cherry.playback.duration", 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			met := findMetric(rm, tt.name)
			if met == nil {
				t.Fatalf("metric %q not found", tt.name)
			}
			hist, ok := met.Data.(metricdata.Histogram[float64])
			if !ok || len(hist.DataPoints) == 0 {
				t.Fatalf("metric %q has no histogram data", tt.name)
			}
			if got := hist.DataPoints[0].Count; got != tt.want {
				t.Errorf("count = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestRecordHelpers(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()
	boom := errors.New("boom")

	m.RecordTransition(ctx, "idle", "listening")
	m.RecordTransition(ctx, "idle", "listening")
	m.RecordUtterance(ctx, "short")
	m.RecordDirective(ctx, "open_app", nil)
	m.RecordDirective(ctx, "open_app", boom)
	m.RecordProviderRequest(ctx, "ollama", "llm", boom)
	m.RecordBackend(ctx, "remote", 0.8, boom)
	m.RecordBackend(ctx, "remote", 0.3, nil)

	rm := collect(t, reader)
	if got := sumWhere(t, rm, "cherry.state.transitions", "to", "listening"); got != 2 {
		t.Errorf("transitions = %d, want 2", got)
	}
	if got := sumWhere(t, rm, "cherry.utterances", "outcome", "short"); got != 1 {
		t.Errorf("utterances = %d, want 1", got)
	}
	if got := sumWhere(t, rm, "cherry.directive.executions", "status", "error"); got != 1 {
		t.Errorf("failed directives = %d, want 1", got)
	}
	if got := sumWhere(t, rm, "cherry.provider.requests", "provider", "ollama"); got != 1 {
		t.Errorf("provider requests = %d, want 1", got)
	}
	if got := sumWhere(t, rm, "cherry.backend.errors", "backend", "remote"); got != 1 {
		t.Errorf("backend errors = %d, want 1", got)
	}

	met := findMetric(rm, "cherry.backend.duration")
	if met == nil {
		t.Fatal("backend duration not found")
	}
	hist := met.Data.(metricdata.Histogram[float64])
	var total uint64
	for _, dp := range hist.DataPoints {
		total += dp.Count
	}
	if total != 2 {
		t.Errorf("backend duration samples = %d, want 2", total)
	}
}

func TestStatus(t *testing.T) {
	t.Parallel()

	if Status(nil) != "ok" || Status(errors.New("x")) != "error" {
		t.Error("Status mapping wrong")
	}
}

func TestDefaultMetrics_ReturnsSameInstance(t *testing.T) {
	if DefaultMetrics() != DefaultMetrics() {
		t.Error("DefaultMetrics returned different pointers")
	}
}
