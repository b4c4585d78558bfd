package main

import (
	"github.com/spf13/cobra"

	"dbimage/internal/api"
	"dbimage/internal/config"
)

func newStatsCmd(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show stored image counts and sizes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd.Context(), cfg, func(client *api.Client) error {
				stats, err := client.Stats(cmd.Context())
				if err != nil {
					return err
				}
				if structuredOutput {
					return writeStructured(stats)
				}
				return writeStats(stats)
			})
		},
	}
}
