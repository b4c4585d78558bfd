package telemetry

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

const (
	setupTimeout    = 15 * time.Second
	exporterTimeout = 3 * time.Second
	metricInterval  = 5 * time.Second
)

// Config selects the OTLP/HTTP endpoints. An empty endpoint disables that
// signal; with both empty Setup installs nothing and the global no-op
// providers stay in place.
type Config struct {
	TracesEndpoint  string
	MetricsEndpoint string
	Headers         map[string]string
}

// Enabled reports whether any exporter is configured.
func (c Config) Enabled() bool {
	return strings.TrimSpace(c.TracesEndpoint) != "" || strings.TrimSpace(c.MetricsEndpoint) != ""
}

// Telemetry holds the installed providers so they can be flushed on exit.
type Telemetry struct {
	TracerProvider *trace.TracerProvider
	MeterProvider  *metric.MeterProvider
}

// Shutdown flushes and stops every installed provider.
func (t Telemetry) Shutdown(ctx context.Context) error {
	var errs []error
	if t.TracerProvider != nil {
		if err := t.TracerProvider.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if t.MeterProvider != nil {
		if err := t.MeterProvider.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Setup installs global tracer and meter providers exporting over OTLP/HTTP.
func Setup(ctx context.Context, serviceName string, cfg Config, logger *slog.Logger) (Telemetry, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if !cfg.Enabled() {
		return Telemetry{}, nil
	}

	ctx, cancel := context.WithTimeout(ctx, setupTimeout)
	defer cancel()

	r, err := newResource(serviceName)
	if err != nil {
		return Telemetry{}, err
	}

	var tel Telemetry
	if endpoint := strings.TrimSpace(cfg.TracesEndpoint); endpoint != "" {
		tp, err := newTraceProvider(ctx, r, endpoint, cfg.Headers)
		if err != nil {
			return Telemetry{}, err
		}
		otel.SetTracerProvider(tp)
		tel.TracerProvider = tp
		logger.Debug("trace exporter initialized", "endpoint", endpoint, "headers", len(cfg.Headers) > 0)
	}

	if endpoint := strings.TrimSpace(cfg.MetricsEndpoint); endpoint != "" {
		mp, err := newMetricProvider(ctx, r, endpoint, cfg.Headers)
		if err != nil {
			_ = tel.Shutdown(ctx)
			return Telemetry{}, err
		}
		otel.SetMeterProvider(mp)
		tel.MeterProvider = mp
		logger.Debug("metric exporter initialized", "endpoint", endpoint, "headers", len(cfg.Headers) > 0)
	}

	return tel, nil
}

func newResource(serviceName string) (*resource.Resource, error) {
	return resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(serviceName),
		),
	)
}

func newTraceProvider(ctx context.Context, r *resource.Resource, endpoint string, headers map[string]string) (*trace.TracerProvider, error) {
	ctx, cancel := context.WithTimeout(ctx, exporterTimeout)
	defer cancel()

	exporter, err := otlptracehttp.New(
		ctx,
		otlptracehttp.WithEndpointURL(endpoint),
		otlptracehttp.WithHeaders(headers),
	)
	if err != nil {
		return nil, err
	}
	return trace.NewTracerProvider(
		trace.WithBatcher(exporter),
		trace.WithResource(r),
	), nil
}

func newMetricProvider(ctx context.Context, r *resource.Resource, endpoint string, headers map[string]string) (*metric.MeterProvider, error) {
	ctx, cancel := context.WithTimeout(ctx, exporterTimeout)
	defer cancel()

	exporter, err := otlpmetrichttp.New(
		ctx,
		otlpmetrichttp.WithEndpointURL(endpoint),
		otlpmetrichttp.WithHeaders(headers),
	)
	if err != nil {
		return nil, err
	}
	return metric.NewMeterProvider(
		metric.WithReader(metric.NewPeriodicReader(exporter, metric.WithInterval(metricInterval))),
		metric.WithResource(r),
	), nil
}
