package observability

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func newTestReader(t *testing.T) *sdkmetric.ManualReader {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	prev := otel.GetMeterProvider()
	otel.SetMeterProvider(provider)
	t.Cleanup(func() {
		otel.SetMeterProvider(prev)
		_ = provider.Shutdown(context.Background())
	})
	return reader
}

func sumFor(t *testing.T, reader *sdkmetric.ManualReader, name string) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("collect: %v", err)
	}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				t.Fatalf("metric %s is not an int64 sum", name)
			}
			var total int64
			for _, dp := range sum.DataPoints {
				total += dp.Value
			}
			return total
		}
	}
	return 0
}

func TestMetricsCounters(t *testing.T) {
	reader := newTestReader(t)

	m, err := NewMetrics()
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	ctx := context.Background()
	m.RecordTransition(ctx, "done")
	m.RecordTransition(ctx, "failed")
	m.RecordCascade(ctx, "failed")
	m.RecordEventCreated(ctx, "testing")

	if got := sumFor(t, reader, "freshline.build.transitions"); got != 2 {
		t.Fatalf("transitions = %d, want 2", got)
	}
	if got := sumFor(t, reader, "freshline.build.cascades"); got != 1 {
		t.Fatalf("cascades = %d, want 1", got)
	}
	if got := sumFor(t, reader, "freshline.events.created"); got != 1 {
		t.Fatalf("events created = %d, want 1", got)
	}
}

func TestNilMetricsRecordsNothing(t *testing.T) {
	var m *Metrics
	ctx := context.Background()
	m.RecordTransition(ctx, "done")
	m.RecordCascade(ctx, "failed")
	m.RecordEventCreated(ctx, "testing")
}

func TestLoggerLevels(t *testing.T) {
	for _, tc := range []struct {
		level, format string
	}{
		{"debug", "text"},
		{"info", "json"},
		{"warn", "text"},
		{"error", "json"},
		{"bogus", "bogus"},
	} {
		if log := NewLogger(tc.level, tc.format); log == nil {
			t.Fatalf("NewLogger(%q, %q) returned nil", tc.level, tc.format)
		}
	}
}
