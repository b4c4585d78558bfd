package main

import (
	"context"
	"fmt"
	"log/slog"

	"dbimage/internal/config"
	"dbimage/internal/store"
	"dbimage/internal/telemetry"
)

func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger, skipSchema bool) (*store.Store, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config not initialized")
	}
	return store.Open(ctx, store.Options{
		URL:            cfg.DatabaseURL,
		PoolSize:       cfg.Store.PoolSize,
		AcquireTimeout: cfg.AcquireTimeout(),
		SkipSchema:     skipSchema,
		Logger:         logger,
	})
}

// setupTelemetry installs exporters when configured and returns a flush
// function that is always safe to call.
func setupTelemetry(ctx context.Context, cfg *config.Config, service string, logger *slog.Logger) (func(context.Context), error) {
	tel, err := telemetry.Setup(ctx, service, telemetry.Config{
		TracesEndpoint:  cfg.Telemetry.TracesEndpoint,
		MetricsEndpoint: cfg.Telemetry.MetricsEndpoint,
	}, logger)
	if err != nil {
		return nil, err
	}
	return func(ctx context.Context) {
		if err := tel.Shutdown(ctx); err != nil {
			logger.Warn("telemetry shutdown", "error", err)
		}
	}, nil
}
