package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"dbimage/internal/config"
	"dbimage/internal/server"
)

const telemetryFlushTimeout = 5 * time.Second

func newSrvCmd(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "srv",
		Short: "Run the image upload and delivery server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			logger := slog.Default().With("component", "server")

			addr, err := server.ListenAddr(cfg.APIURL)
			if err != nil {
				return err
			}

			flush, err := setupTelemetry(ctx, cfg, "dbimage-server", logger)
			if err != nil {
				return err
			}
			defer func() {
				flushCtx, cancel := context.WithTimeout(context.Background(), telemetryFlushTimeout)
				defer cancel()
				flush(flushCtx)
			}()

			st, err := openStore(ctx, cfg, logger, false)
			if err != nil {
				return err
			}
			defer st.Close()
			logger.Info("store ready", "driver", st.Driver())

			srv := server.New(addr, st, logger, server.Options{
				Presets:           uploadPresets(cfg),
				UploadTokenHash:   cfg.Uploads.TokenHash,
				UploadConcurrency: cfg.Uploads.Concurrency,
			})
			return srv.ListenAndServe(ctx)
		},
	}
}

func uploadPresets(cfg *config.Config) map[string]server.UploadOptions {
	presets := server.UploadPresets(cfg.UploadLimits())
	for name, preset := range presets {
		preset.MultipartMemory = cfg.Uploads.MultipartMaxMemory
		if len(cfg.Uploads.AllowedMediaTypes) > 0 {
			preset.AllowedMediaTypes = append([]string(nil), cfg.Uploads.AllowedMediaTypes...)
		}
		presets[name] = preset
	}
	return presets
}
