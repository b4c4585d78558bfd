package server

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var meter = otel.Meter("dbimage/internal/server")

type serverMetrics struct {
	uploads     metric.Int64Counter
	uploadBytes metric.Int64Counter
	deliveries  metric.Int64Counter
}

// newServerMetrics creates the counters. Instrument errors leave that
// counter nil and recording becomes a no-op.
func newServerMetrics() *serverMetrics {
	m := &serverMetrics{}
	m.uploads, _ = meter.Int64Counter("dbimage.uploads",
		metric.WithDescription("Images persisted by the upload middleware."))
	m.uploadBytes, _ = meter.Int64Counter("dbimage.upload.bytes",
		metric.WithDescription("Payload bytes persisted by the upload middleware."),
		metric.WithUnit("By"))
	m.deliveries, _ = meter.Int64Counter("dbimage.deliveries",
		metric.WithDescription("Images served by the delivery routes."))
	return m
}

func (m *serverMetrics) recordUpload(ctx context.Context, field, mediaType string, size int64) {
	if m == nil || m.uploads == nil || m.uploadBytes == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("field", field), attribute.String("mimetype", mediaType))
	m.uploads.Add(ctx, 1, attrs)
	m.uploadBytes.Add(ctx, size, attrs)
}

func (m *serverMetrics) recordDelivery(ctx context.Context, lookup string) {
	if m == nil || m.deliveries == nil {
		return
	}
	m.deliveries.Add(ctx, 1, metric.WithAttributes(attribute.String("lookup", lookup)))
}
