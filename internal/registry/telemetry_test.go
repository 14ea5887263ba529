package registry_test

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/ashita-ai/agentrelay/internal/ids"
	"github.com/ashita-ai/agentrelay/internal/kv"
	"github.com/ashita-ai/agentrelay/internal/registry"
)

func findMetric(t *testing.T, reader *sdkmetric.ManualReader, name string) metricdata.Metrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name == name {
				return m
			}
		}
	}
	t.Fatalf("metric %s not recorded", name)
	return metricdata.Metrics{}
}

func counterTotal(t *testing.T, reader *sdkmetric.ManualReader, name string) int64 {
	t.Helper()
	sum, ok := findMetric(t, reader, name).Data.(metricdata.Sum[int64])
	require.True(t, ok, "%s is not an int64 sum", name)
	var total int64
	for _, dp := range sum.DataPoints {
		total += dp.Value
	}
	return total
}

func TestRegistryTelemetry(t *testing.T) {
	ctx := context.Background()
	reader := sdkmetric.NewManualReader()
	spans := tracetest.NewSpanRecorder()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

	reg := registry.New(kv.NewMemoryStore(), ids.New(time.Now), logger,
		registry.WithMeterProvider(sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))),
		registry.WithTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(spans))),
	)

	w, err := reg.Create(ctx, registry.CreateParams{Name: "w", Type: "worker"})
	require.NoError(t, err)
	_, err = reg.Create(ctx, registry.CreateParams{Name: "b", Type: "boss"})
	require.NoError(t, err)
	require.NoError(t, reg.Delete(ctx, w.ID))
	require.Error(t, reg.Delete(ctx, "worker-0"))
	_, _, err = reg.List(ctx, registry.ListFilter{}, 1, 10)
	require.NoError(t, err)

	assert.Equal(t, int64(2), counterTotal(t, reader, "agentrelay.agents.created"))
	assert.Equal(t, int64(1), counterTotal(t, reader, "agentrelay.agents.deleted"))

	hist, ok := findMetric(t, reader, "agentrelay.agents.scan.duration").Data.(metricdata.Histogram[float64])
	require.True(t, ok)
	require.Len(t, hist.DataPoints, 1)
	assert.Equal(t, uint64(1), hist.DataPoints[0].Count)

	var names []string
	var failed int
	for _, s := range spans.Ended() {
		names = append(names, s.Name())
		if s.Status().Code == codes.Error {
			failed++
			assert.Equal(t, "registry.Delete", s.Name())
		}
	}
	assert.Equal(t, []string{"registry.Create", "registry.Create", "registry.Delete", "registry.Delete", "registry.List"}, names)
	assert.Equal(t, 1, failed)
}
