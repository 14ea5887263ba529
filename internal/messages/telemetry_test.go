package messages_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/ashita-ai/agentrelay/internal/ids"
	"github.com/ashita-ai/agentrelay/internal/kv"
	"github.com/ashita-ai/agentrelay/internal/messages"
)

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Aggregation {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	out := make(map[string]metricdata.Aggregation)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m.Data
		}
	}
	return out
}

func TestStoreTelemetry(t *testing.T) {
	ctx := context.Background()
	reader := sdkmetric.NewManualReader()
	spans := tracetest.NewSpanRecorder()

	s := messages.New(kv.NewMemoryStore(), ids.New(time.Now), testLogger(),
		messages.WithMeterProvider(sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))),
		messages.WithTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(spans))),
	)

	m1, err := s.Send(ctx, messages.SendParams{From: "boss", To: "w1", Content: "go", UserID: "u1"})
	require.NoError(t, err)
	_, err = s.Send(ctx, messages.SendParams{From: "w1", To: "boss", Content: "ok", Type: "status", UserID: "u2"})
	require.NoError(t, err)
	_, err = s.UpdateStatus(ctx, m1.ID, "read")
	require.NoError(t, err)
	require.Error(t, s.Delete(ctx, m1.ID, "u2"))
	require.NoError(t, s.Delete(ctx, m1.ID, "u1"))
	_, _, err = s.List(ctx, messages.Filter{}, 1, 10)
	require.NoError(t, err)
	_, err = s.Conversation(ctx, "boss", "w1", 0)
	require.NoError(t, err)

	data := collect(t, reader)

	sent, ok := data["agentrelay.messages.sent"].(metricdata.Sum[int64])
	require.True(t, ok)
	byType := map[string]int64{}
	for _, dp := range sent.DataPoints {
		v, _ := dp.Attributes.Value(attribute.Key("message_type"))
		byType[v.AsString()] += dp.Value
	}
	assert.Equal(t, map[string]int64{"text": 1, "status": 1}, byType)

	status, ok := data["agentrelay.messages.status_changes"].(metricdata.Sum[int64])
	require.True(t, ok)
	require.Len(t, status.DataPoints, 1)
	v, _ := status.DataPoints[0].Attributes.Value(attribute.Key("status"))
	assert.Equal(t, "read", v.AsString())
	assert.Equal(t, int64(1), status.DataPoints[0].Value)

	deleted, ok := data["agentrelay.messages.deleted"].(metricdata.Sum[int64])
	require.True(t, ok)
	require.Len(t, deleted.DataPoints, 1)
	assert.Equal(t, int64(1), deleted.DataPoints[0].Value, "the refused delete is not counted")

	scans, ok := data["agentrelay.messages.scan.duration"].(metricdata.Histogram[float64])
	require.True(t, ok)
	ops := map[string]uint64{}
	for _, dp := range scans.DataPoints {
		v, _ := dp.Attributes.Value(attribute.Key("op"))
		ops[v.AsString()] += dp.Count
	}
	assert.Equal(t, map[string]uint64{"list": 1, "conversation": 1}, ops)

	var failed []string
	for _, sp := range spans.Ended() {
		if sp.Status().Code == codes.Error {
			failed = append(failed, sp.Name())
		}
	}
	assert.Equal(t, []string{"messages.Delete"}, failed)
}
