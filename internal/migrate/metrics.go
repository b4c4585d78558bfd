package migrate

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var meter = otel.Meter("dbimage/internal/migrate")

type jobMetrics struct {
	files metric.Int64Counter
}

func newJobMetrics() *jobMetrics {
	m := &jobMetrics{}
	m.files, _ = meter.Int64Counter("dbimage.migration.files",
		metric.WithDescription("Files handled by the migration sweep, by outcome."))
	return m
}

func (m *jobMetrics) recordFile(ctx context.Context, outcome fileOutcome) {
	if m == nil || m.files == nil {
		return
	}
	m.files.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome.String())))
}
