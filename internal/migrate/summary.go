package migrate

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Summary tallies one sweep. Every snapshotted file lands in exactly one of
// the outcome counters.
type Summary struct {
	Root       string    `yaml:"root" json:"root"`
	DryRun     bool      `yaml:"dry_run" json:"dry_run"`
	StartedAt  time.Time `yaml:"started_at" json:"started_at"`
	FinishedAt time.Time `yaml:"finished_at" json:"finished_at"`

	Imported            int      `yaml:"imported" json:"imported"`
	SkippedNotImage     int      `yaml:"skipped_not_image" json:"skipped_not_image"`
	SkippedTooLarge     int      `yaml:"skipped_too_large" json:"skipped_too_large"`
	SkippedDuplicate    int      `yaml:"skipped_duplicate" json:"skipped_duplicate"`
	Failed              int      `yaml:"failed" json:"failed"`
	ReferencesRewritten int64    `yaml:"references_rewritten" json:"references_rewritten"`
	RemovedDirs         []string `yaml:"removed_dirs,omitempty" json:"removed_dirs,omitempty"`
	Aborted             bool     `yaml:"aborted" json:"aborted"`
}

// Processed is the number of files that reached a terminal outcome.
func (s Summary) Processed() int {
	return s.Imported + s.SkippedNotImage + s.SkippedTooLarge + s.SkippedDuplicate + s.Failed
}

func (s *Summary) add(outcome fileOutcome) {
	switch outcome {
	case outcomeImported:
		s.Imported++
	case outcomeDuplicate:
		s.SkippedDuplicate++
	case outcomeNotImage:
		s.SkippedNotImage++
	case outcomeTooLarge:
		s.SkippedTooLarge++
	default:
		s.Failed++
	}
}

// WriteReport writes summary as YAML to path, replacing any previous report.
func WriteReport(path string, summary Summary) error {
	data, err := yaml.Marshal(summary)
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// ReadReport loads a report written by WriteReport.
func ReadReport(path string) (Summary, error) {
	var summary Summary
	data, err := os.ReadFile(path)
	if err != nil {
		return summary, err
	}
	if err := yaml.Unmarshal(data, &summary); err != nil {
		return summary, fmt.Errorf("decode report %s: %w", path, err)
	}
	return summary, nil
}
