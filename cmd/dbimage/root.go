package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"dbimage/internal/config"
	"dbimage/internal/format"
)

func newRootCmd(cfg *config.Config) *cobra.Command {
	var (
		jsonOutput bool
		outputName string
		logLevel   string
	)

	cmd := &cobra.Command{
		Use:           "dbimage",
		Short:         "Content-addressable image store with HTTP upload and delivery",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			warning, err := configureLoggerForCLI(logLevel, cfg.LogLevel)
			if err != nil {
				return err
			}
			if warning != "" {
				fmt.Fprintln(os.Stderr, warning)
			}
			if jsonOutput && outputName == "" {
				outputName = "json"
			}
			formatter, err := format.ForName(outputName)
			if err != nil {
				return err
			}
			outputFormatter = formatter
			structuredOutput = jsonOutput || outputName != ""
			return nil
		},
	}

	cmd.Version = version
	cmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output JSON")
	cmd.PersistentFlags().StringVar(&outputName, "format", "", "structured output format: json or yaml")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error")

	cmd.AddCommand(
		newSrvCmd(cfg),
		newSchemaCmd(cfg),
		newSweepCmd(cfg),
		newPutCmd(cfg),
		newGetCmd(cfg),
		newStatsCmd(cfg),
		newConfigCmd(cfg),
		newTokenCmd(),
	)

	return cmd
}
