package main

import (
	"context"
	"time"

	"dbimage/internal/api"
	"dbimage/internal/config"
)

const pingTimeout = 2 * time.Second

// withClient verifies the server answers before running fn so connectivity
// failures surface with guidance rather than as a failed upload.
func withClient(ctx context.Context, cfg *config.Config, fn func(*api.Client) error) error {
	client := api.NewClient(cfg.APIURL)

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := client.Ping(pingCtx); err != nil {
		return err
	}
	return fn(client)
}
