package migrate

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"mime"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"dbimage/internal/models"
	"dbimage/internal/store"
)

const (
	DefaultMaxBytes int64 = 15 << 20

	pingTimeout = 5 * time.Second
)

var (
	// DefaultExtensions is the allow-list of image file extensions.
	DefaultExtensions = []string{".png", ".jpg", ".jpeg", ".gif", ".webp"}

	// DefaultPreserveDirs names directories that are never removed even when empty.
	DefaultPreserveDirs = []string{"videos"}

	// ErrAborted reports a sweep stopped early because the store became
	// unreachable. It always wraps store.ErrUnavailable.
	ErrAborted = errors.New("migration aborted")
)

var mediaTypeByExtension = map[string]string{
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".gif":  "image/gif",
	".webp": "image/webp",
}

// Store is the subset of the image store the sweep needs.
type Store interface {
	PutIfAbsent(ctx context.Context, filename, mediaType string, data []byte) (*models.StoredImage, bool, error)
	RewriteReferences(ctx context.Context, table, column, filename, url string) (int64, error)
	Ping(ctx context.Context) error
}

// ReferenceRule names a host table column holding image paths that should
// point at the canonical by-id URL once a file is migrated.
type ReferenceRule struct {
	Table  string `toml:"table" yaml:"table" json:"table"`
	Column string `toml:"column" yaml:"column" json:"column"`
}

// Options configures a sweep.
type Options struct {
	Root         string
	MaxBytes     int64
	Extensions   []string
	PreserveDirs []string
	References   []ReferenceRule

	// DryRun classifies and hashes files without writing to the store or
	// touching the file system.
	DryRun bool

	// ReportPath, when set, receives a YAML report after the sweep.
	ReportPath string

	Logger *slog.Logger
}

// Job moves image files from a directory tree into the store.
type Job struct {
	store   Store
	opts    Options
	exts    map[string]bool
	keep    map[string]bool
	logger  *slog.Logger
	metrics *jobMetrics
}

// NewJob validates opts and fills defaults.
func NewJob(st Store, opts Options) (*Job, error) {
	if st == nil {
		return nil, fmt.Errorf("store is required")
	}
	root := strings.TrimSpace(opts.Root)
	if root == "" {
		return nil, fmt.Errorf("root directory is required")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	opts.Root = abs

	if opts.MaxBytes <= 0 {
		opts.MaxBytes = DefaultMaxBytes
	}
	if len(opts.Extensions) == 0 {
		opts.Extensions = DefaultExtensions
	}
	if opts.PreserveDirs == nil {
		opts.PreserveDirs = DefaultPreserveDirs
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	j := &Job{
		store:   st,
		opts:    opts,
		exts:    make(map[string]bool, len(opts.Extensions)),
		keep:    make(map[string]bool, len(opts.PreserveDirs)),
		logger:  logger,
		metrics: newJobMetrics(),
	}
	for _, ext := range opts.Extensions {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		j.exts[ext] = true
	}
	for _, name := range opts.PreserveDirs {
		if name = strings.TrimSpace(name); name != "" {
			j.keep[name] = true
		}
	}
	return j, nil
}

type fileOutcome int

const (
	outcomeImported fileOutcome = iota
	outcomeDuplicate
	outcomeNotImage
	outcomeTooLarge
	outcomeFailed
)

func (o fileOutcome) String() string {
	switch o {
	case outcomeImported:
		return "imported"
	case outcomeDuplicate:
		return "duplicate"
	case outcomeNotImage:
		return "not_image"
	case outcomeTooLarge:
		return "too_large"
	default:
		return "failed"
	}
}

type sweepFile struct {
	path string
	rel  string
	size int64
}

// Run sweeps the root once. The returned summary is valid even when err is
// non-nil; an aborted sweep leaves every unprocessed file in place.
func (j *Job) Run(ctx context.Context) (Summary, error) {
	summary := Summary{Root: j.opts.Root, DryRun: j.opts.DryRun, StartedAt: time.Now().UTC()}

	files, err := j.snapshot()
	if errors.Is(err, fs.ErrNotExist) {
		j.logger.Info("migration root not found, nothing to import", "root", j.opts.Root)
		return j.finish(summary, nil)
	}
	if err != nil {
		return j.finish(summary, fmt.Errorf("scan %s: %w", j.opts.Root, err))
	}
	j.logger.Info("migration started", "root", j.opts.Root, "files", len(files), "dry_run", j.opts.DryRun)

	seen := make(map[string]bool)
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			summary.Aborted = true
			return j.finish(summary, err)
		}

		outcome, storeErr := j.processFile(ctx, f, seen, &summary)
		summary.add(outcome)
		j.metrics.recordFile(ctx, outcome)
		if storeErr == nil {
			continue
		}

		pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
		pingErr := j.store.Ping(pingCtx)
		cancel()
		if pingErr != nil {
			summary.Aborted = true
			j.logger.Error("store unreachable, aborting migration", "file", f.rel, "error", pingErr)
			return j.finish(summary, fmt.Errorf("%w: %w", ErrAborted, errors.Join(store.ErrUnavailable, pingErr)))
		}
	}

	if !j.opts.DryRun {
		removed, err := j.removeEmptyDirs()
		summary.RemovedDirs = removed
		if err != nil {
			j.logger.Warn("empty directory cleanup incomplete", "error", err)
		}
	}

	return j.finish(summary, nil)
}

// processFile handles one file. The returned error is non-nil only when the
// store failed, so the caller can decide whether to keep going.
func (j *Job) processFile(ctx context.Context, f sweepFile, seen map[string]bool, summary *Summary) (fileOutcome, error) {
	ext := strings.ToLower(filepath.Ext(f.path))
	if !j.exts[ext] {
		return outcomeNotImage, nil
	}
	if f.size > j.opts.MaxBytes {
		j.logger.Info("skipping file above size limit", "file", f.rel, "size", f.size, "max_bytes", j.opts.MaxBytes)
		return outcomeTooLarge, nil
	}

	data, err := os.ReadFile(f.path)
	if err != nil {
		j.logger.Warn("read failed", "file", f.rel, "error", err)
		return outcomeFailed, nil
	}
	// The size may have changed since the snapshot.
	if int64(len(data)) > j.opts.MaxBytes {
		return outcomeTooLarge, nil
	}

	name := filepath.Base(f.path)
	if j.opts.DryRun {
		hash := store.ContentHash(data)
		if seen[hash] {
			return outcomeDuplicate, nil
		}
		seen[hash] = true
		return outcomeImported, nil
	}

	img, inserted, err := j.store.PutIfAbsent(ctx, name, mediaTypeFor(ext), data)
	if err != nil {
		j.logger.Warn("store write failed", "file", f.rel, "error", err)
		return outcomeFailed, err
	}

	rewritten, err := j.rewriteReferences(ctx, name, img.ID)
	summary.ReferencesRewritten += rewritten
	if err != nil {
		// The source stays so a rerun retries the rewrite against the stored row.
		j.logger.Warn("reference rewrite failed", "file", f.rel, "id", img.ID, "error", err)
		return outcomeFailed, err
	}

	if err := os.Remove(f.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		j.logger.Warn("remove source failed", "file", f.rel, "error", err)
	}

	if inserted {
		j.logger.Debug("imported", "file", f.rel, "id", img.ID)
		return outcomeImported, nil
	}
	j.logger.Debug("already stored, source removed", "file", f.rel, "id", img.ID)
	return outcomeDuplicate, nil
}

func (j *Job) rewriteReferences(ctx context.Context, name string, id int64) (int64, error) {
	var total int64
	url := models.ImageURL(id)
	for _, rule := range j.opts.References {
		n, err := j.store.RewriteReferences(ctx, rule.Table, rule.Column, name, url)
		if err != nil {
			return total, fmt.Errorf("%s.%s: %w", rule.Table, rule.Column, err)
		}
		if n > 0 {
			j.logger.Debug("references rewritten", "table", rule.Table, "column", rule.Column, "rows", n, "url", url)
		}
		total += n
	}
	return total, nil
}

// snapshot lists regular files under the root in lexical order. Files added
// during the sweep are not picked up.
func (j *Job) snapshot() ([]sweepFile, error) {
	info, err := os.Stat(j.opts.Root)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", j.opts.Root)
	}

	var files []sweepFile
	err = filepath.WalkDir(j.opts.Root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		fi, err := d.Info()
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(j.opts.Root, path)
		if err != nil {
			rel = path
		}
		files = append(files, sweepFile{path: path, rel: filepath.ToSlash(rel), size: fi.Size()})
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(files, func(a, b int) bool { return files[a].rel < files[b].rel })
	return files, nil
}

// removeEmptyDirs deletes directories left empty by the sweep, deepest
// first. The root and preserved directories are kept.
func (j *Job) removeEmptyDirs() ([]string, error) {
	var dirs []string
	err := filepath.WalkDir(j.opts.Root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() && path != j.opts.Root {
			dirs = append(dirs, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(dirs, func(a, b int) bool {
		da, db := strings.Count(dirs[a], string(filepath.Separator)), strings.Count(dirs[b], string(filepath.Separator))
		if da != db {
			return da > db
		}
		return dirs[a] > dirs[b]
	})

	var removed []string
	var errs []error
	for _, dir := range dirs {
		if j.keep[filepath.Base(dir)] {
			continue
		}
		entries, err := os.ReadDir(dir)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if len(entries) > 0 {
			continue
		}
		if err := os.Remove(dir); err != nil {
			errs = append(errs, err)
			continue
		}
		rel, _ := filepath.Rel(j.opts.Root, dir)
		removed = append(removed, filepath.ToSlash(rel))
		j.logger.Debug("removed empty directory", "dir", rel)
	}
	sort.Strings(removed)
	return removed, errors.Join(errs...)
}

func (j *Job) finish(summary Summary, err error) (Summary, error) {
	summary.FinishedAt = time.Now().UTC()
	j.logger.Info("migration finished",
		"imported", summary.Imported,
		"skipped_not_image", summary.SkippedNotImage,
		"skipped_too_large", summary.SkippedTooLarge,
		"skipped_duplicate", summary.SkippedDuplicate,
		"failed", summary.Failed,
		"references_rewritten", summary.ReferencesRewritten,
		"aborted", summary.Aborted,
	)
	if j.opts.ReportPath != "" {
		if reportErr := WriteReport(j.opts.ReportPath, summary); reportErr != nil {
			j.logger.Warn("write migration report", "path", j.opts.ReportPath, "error", reportErr)
			if err == nil {
				err = reportErr
			}
		}
	}
	return summary, err
}

func mediaTypeFor(ext string) string {
	if mt, ok := mediaTypeByExtension[ext]; ok {
		return mt
	}
	if mt := mime.TypeByExtension(ext); mt != "" {
		return mt
	}
	return "application/octet-stream"
}
