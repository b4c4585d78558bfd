package main

import (
	"log/slog"

	"github.com/spf13/cobra"

	"dbimage/internal/config"
)

func newSchemaCmd(cfg *config.Config) *cobra.Command {
	var inspect bool

	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Apply pending schema migrations, or list them with --inspect",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := slog.Default().With("component", "schema")

			st, err := openStore(ctx, cfg, logger, true)
			if err != nil {
				return err
			}
			defer st.Close()

			if !inspect {
				if err := st.EnsureSchema(ctx); err != nil {
					return err
				}
			}

			status, err := st.MigrationPlan(ctx)
			if err != nil {
				return err
			}
			if structuredOutput {
				return writeStructured(status)
			}
			return writeMigrationStatus(status)
		},
	}

	cmd.Flags().BoolVar(&inspect, "inspect", false, "report pending migrations without applying them")
	return cmd
}
