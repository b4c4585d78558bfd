package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"dbimage/internal/config"
	"dbimage/internal/migrate"
)

func newSweepCmd(cfg *config.Config) *cobra.Command {
	var (
		maxBytes   int64
		dryRun     bool
		reportPath string
		extensions []string
		preserve   []string
		refs       []string
	)

	cmd := &cobra.Command{
		Use:   "sweep [root]",
		Short: "Import image files from a directory tree into the store",
		Long: "Import every image file under root into the store, removing each source file once its\n" +
			"content is stored. Oversized and non-image files are left in place. The command exits\n" +
			"non-zero only when the store cannot be reached.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			logger := slog.Default().With("component", "migrate")

			opts, err := sweepOptions(cfg, args, maxBytes, extensions, preserve, refs)
			if err != nil {
				return err
			}
			opts.DryRun = dryRun
			opts.Logger = logger
			if reportPath != "" {
				opts.ReportPath = reportPath
			}

			flush, err := setupTelemetry(ctx, cfg, "dbimage-sweep", logger)
			if err != nil {
				return err
			}
			defer flush(cmd.Context())

			st, err := openStore(ctx, cfg, logger, false)
			if err != nil {
				return err
			}
			defer st.Close()

			job, err := migrate.NewJob(st, opts)
			if err != nil {
				return err
			}
			summary, runErr := job.Run(ctx)

			var writeErr error
			if structuredOutput {
				writeErr = writeStructured(summary)
			} else {
				writeErr = writeSummary(summary)
			}
			if runErr != nil {
				return runErr
			}
			return writeErr
		},
	}

	cmd.Flags().Int64Var(&maxBytes, "max-bytes", 0, "skip files larger than this many bytes (default migration.max_bytes)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "classify and hash files without writing or deleting anything")
	cmd.Flags().StringVar(&reportPath, "report", "", "write a YAML report to this path")
	cmd.Flags().StringSliceVar(&extensions, "ext", nil, "image file extensions to import (default .png,.jpg,.jpeg,.gif,.webp)")
	cmd.Flags().StringSliceVar(&preserve, "preserve", nil, "directory names never removed when empty (default videos)")
	cmd.Flags().StringSliceVar(&refs, "ref", nil, "table.column holding image paths to rewrite to by-id URLs")
	return cmd
}

// sweepOptions merges command flags over the migration config section.
func sweepOptions(cfg *config.Config, args []string, maxBytes int64, extensions, preserve, refs []string) (migrate.Options, error) {
	opts := migrate.Options{
		Root:         cfg.Migration.Root,
		MaxBytes:     cfg.Migration.MaxBytes,
		Extensions:   cfg.Migration.Extensions,
		PreserveDirs: cfg.Migration.PreserveDirs,
		ReportPath:   cfg.Migration.ReportPath,
	}
	if len(args) == 1 {
		opts.Root = args[0]
	}
	if strings.TrimSpace(opts.Root) == "" {
		return opts, fmt.Errorf("root directory is required (argument or migration.root)")
	}
	if maxBytes > 0 {
		opts.MaxBytes = maxBytes
	}
	if len(extensions) > 0 {
		opts.Extensions = extensions
	}
	if len(preserve) > 0 {
		opts.PreserveDirs = preserve
	}

	rules := cfg.Migration.References
	if len(refs) > 0 {
		parsed, err := config.ParseReferenceRules(strings.Join(refs, ","))
		if err != nil {
			return opts, err
		}
		rules = parsed
	}
	for _, rule := range rules {
		opts.References = append(opts.References, migrate.ReferenceRule{Table: rule.Table, Column: rule.Column})
	}
	return opts, nil
}
