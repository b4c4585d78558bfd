package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"dbimage/internal/api"
	"dbimage/internal/format"
	"dbimage/internal/migrate"
	"dbimage/internal/models"
	"dbimage/internal/store"
)

var (
	outputFormatter  format.Formatter = format.JSONFormatter{}
	structuredOutput bool
)

func writeStructured(payload any) error {
	return outputFormatter.Write(os.Stdout, payload)
}

func writePlain(format string, args ...any) error {
	_, err := fmt.Fprintf(os.Stdout, format, args...)
	return err
}

func writeImageRefs(refs []models.ImageReference) error {
	for _, ref := range refs {
		if err := writePlain("%s\n", formatImageLine(ref)); err != nil {
			return err
		}
	}
	return nil
}

func formatImageLine(ref models.ImageReference) string {
	return fmt.Sprintf("%d %s %s %d bytes %s", ref.Image.ID, ref.Image.Filename, ref.Image.MediaType, ref.Image.SizeBytes, ref.URL)
}

func writeSummary(summary migrate.Summary) error {
	lines := []string{
		fmt.Sprintf("root: %s", summary.Root),
		fmt.Sprintf("imported: %d", summary.Imported),
		fmt.Sprintf("skipped_not_image: %d", summary.SkippedNotImage),
		fmt.Sprintf("skipped_too_large: %d", summary.SkippedTooLarge),
		fmt.Sprintf("skipped_duplicate: %d", summary.SkippedDuplicate),
		fmt.Sprintf("failed: %d", summary.Failed),
		fmt.Sprintf("references_rewritten: %d", summary.ReferencesRewritten),
		fmt.Sprintf("duration: %s", summary.FinishedAt.Sub(summary.StartedAt).Round(time.Millisecond)),
	}
	if summary.DryRun {
		lines = append(lines, "dry_run: true")
	}
	if len(summary.RemovedDirs) > 0 {
		lines = append(lines, fmt.Sprintf("removed_dirs: %s", strings.Join(summary.RemovedDirs, ", ")))
	}
	if summary.Aborted {
		lines = append(lines, "aborted: true")
	}
	return writePlain("%s\n", strings.Join(lines, "\n"))
}

func writeStats(stats api.StatsResponse) error {
	lines := []string{
		fmt.Sprintf("images: %d", stats.Images),
		fmt.Sprintf("total_bytes: %d", stats.TotalBytes),
	}
	for _, mt := range stats.MediaTypes {
		lines = append(lines, fmt.Sprintf("  %s: %d images, %d bytes", mt.MediaType, mt.Images, mt.Bytes))
	}
	return writePlain("%s\n", strings.Join(lines, "\n"))
}

func writeMigrationStatus(status *store.MigrationStatus) error {
	lines := []string{
		fmt.Sprintf("current_version: %d", status.CurrentVersion),
		fmt.Sprintf("available_version: %d", status.AvailableVersion),
	}
	if len(status.Pending) == 0 {
		lines = append(lines, "pending: none")
	} else {
		lines = append(lines, "pending:")
		for _, m := range status.Pending {
			lines = append(lines, fmt.Sprintf("  - %d: %s", m.Version, m.Description))
		}
	}
	return writePlain("%s\n", strings.Join(lines, "\n"))
}
