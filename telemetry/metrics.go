package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Recorder records checkpointer metrics.
// Use NewRecorder() for OTel metrics or NoopRecorder{} when disabled.
type Recorder interface {
	// RecordDeleted records records removed from a collection.
	RecordDeleted(ctx context.Context, collection string, n int64)

	// RecordSkipped records malformed records skipped during a scan.
	RecordSkipped(ctx context.Context, n int64)
}

type otelRecorder struct {
	deleted metric.Int64Counter
	skipped metric.Int64Counter
}

var (
	defaultRecorder     Recorder
	defaultRecorderOnce sync.Once
)

// NewRecorder returns a Recorder backed by the global OTel meter provider.
// Instruments are created once; if that fails a NoopRecorder is returned.
func NewRecorder() Recorder {
	defaultRecorderOnce.Do(func() {
		r, err := newOtelRecorder()
		if err != nil {
			defaultRecorder = NoopRecorder{}
			return
		}
		defaultRecorder = r
	})
	return defaultRecorder
}

func newOtelRecorder() (*otelRecorder, error) {
	meter := otel.Meter(instrumentationName)

	deleted, err := meter.Int64Counter("checkpointer.records.deleted",
		metric.WithDescription("Number of records removed by thread deletion"),
	)
	if err != nil {
		return nil, err
	}

	skipped, err := meter.Int64Counter("checkpointer.scan.skipped",
		metric.WithDescription("Number of malformed checkpoint records skipped while indexing"),
	)
	if err != nil {
		return nil, err
	}

	return &otelRecorder{deleted: deleted, skipped: skipped}, nil
}

func (r *otelRecorder) RecordDeleted(ctx context.Context, collection string, n int64) {
	if n <= 0 {
		return
	}
	r.deleted.Add(ctx, n, metric.WithAttributes(attribute.String("collection", collection)))
}

func (r *otelRecorder) RecordSkipped(ctx context.Context, n int64) {
	if n <= 0 {
		return
	}
	r.skipped.Add(ctx, n)
}

// NoopRecorder is a Recorder that does nothing.
type NoopRecorder struct{}

var _ Recorder = NoopRecorder{}

// RecordDeleted does nothing.
func (NoopRecorder) RecordDeleted(_ context.Context, _ string, _ int64) {}

// RecordSkipped does nothing.
func (NoopRecorder) RecordSkipped(_ context.Context, _ int64) {}
