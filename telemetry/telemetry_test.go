package telemetry

import (
	"context"
	"errors"
	"testing"

	"github.com/smallnest/checkpointer/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func setupTracingTest(t *testing.T) *tracetest.InMemoryExporter {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))

	original := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	tracer = otel.Tracer(instrumentationName)

	t.Cleanup(func() {
		otel.SetTracerProvider(original)
		tracer = otel.Tracer(instrumentationName)
		_ = tp.Shutdown(context.Background())
	})
	return exporter
}

func TestEndSpan(t *testing.T) {
	exporter := setupTracingTest(t)
	ctx := context.Background()

	_, span := StartSpan(ctx, "get_latest", "t1")
	EndSpan(span, nil)

	_, span = StartSpan(ctx, "get_latest", "ghost")
	EndSpan(span, store.ErrNotFound)

	_, span = StartSpan(ctx, "delete", "t1")
	EndSpan(span, store.Fault("delete checkpoints", errors.New("connection reset")))

	spans := exporter.GetSpans()
	require.Len(t, spans, 3)

	assert.Equal(t, "checkpointer.get_latest", spans[0].Name)
	assert.Equal(t, codes.Ok, spans[0].Status.Code)

	assert.Equal(t, codes.Ok, spans[1].Status.Code)
	require.Len(t, spans[1].Events, 1)
	assert.Equal(t, "not_found", spans[1].Events[0].Name)

	assert.Equal(t, codes.Error, spans[2].Status.Code)
	assert.Contains(t, spans[2].Status.Description, "connection reset")

	var threadID string
	for _, kv := range spans[2].Attributes {
		if kv.Key == "thread.id" {
			threadID = kv.Value.AsString()
		}
	}
	assert.Equal(t, "t1", threadID)
}

func TestEndSpanNil(t *testing.T) {
	assert.NotPanics(t, func() { EndSpan(nil, errors.New("boom")) })
}

func TestRecorder(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	original := otel.GetMeterProvider()
	otel.SetMeterProvider(provider)
	t.Cleanup(func() {
		otel.SetMeterProvider(original)
		_ = provider.Shutdown(context.Background())
	})

	r, err := newOtelRecorder()
	require.NoError(t, err)

	ctx := context.Background()
	r.RecordDeleted(ctx, store.DefaultCheckpointsCollection, 3)
	r.RecordDeleted(ctx, store.DefaultWritesCollection, 2)
	r.RecordDeleted(ctx, store.DefaultWritesCollection, 0)
	r.RecordSkipped(ctx, 1)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))

	sums := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			data, ok := m.Data.(metricdata.Sum[int64])
			require.True(t, ok, m.Name)
			for _, dp := range data.DataPoints {
				sums[m.Name] += dp.Value
			}
		}
	}
	assert.Equal(t, int64(5), sums["checkpointer.records.deleted"])
	assert.Equal(t, int64(1), sums["checkpointer.scan.skipped"])
}

func TestNoopRecorder(t *testing.T) {
	var r Recorder = NoopRecorder{}
	assert.NotPanics(t, func() {
		r.RecordDeleted(context.Background(), "checkpoints", 1)
		r.RecordSkipped(context.Background(), 1)
	})
	assert.NotNil(t, NewRecorder())
}
