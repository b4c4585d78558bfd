package migrate

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/require"

	"dbimage/internal/models"
	"dbimage/internal/store"
)

var ignoreRunFields = cmpopts.IgnoreFields(Summary{}, "Root", "StartedAt", "FinishedAt")

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func openTestStore(t *testing.T) (*store.Store, string) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "images.db")
	st, err := store.Open(context.Background(), store.Options{URL: "file:" + dbPath, Logger: quietLogger()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st, dbPath
}

func writeFile(t *testing.T, root, rel string, data []byte) string {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func runJob(t *testing.T, st Store, opts Options) (Summary, error) {
	t.Helper()
	if opts.Logger == nil {
		opts.Logger = quietLogger()
	}
	job, err := NewJob(st, opts)
	require.NoError(t, err)
	return job.Run(context.Background())
}

func TestRunImportsAndDeduplicates(t *testing.T) {
	st, _ := openTestStore(t)
	root := t.TempDir()
	same := []byte("0123456789")
	writeFile(t, root, "a.png", same)
	writeFile(t, root, "b.jpg", same)
	writeFile(t, root, "notes.txt", []byte("not an image"))
	writeFile(t, root, "sub/c.webp", []byte("different bytes"))

	summary, err := runJob(t, st, Options{Root: root})
	require.NoError(t, err)

	want := Summary{
		Imported:         2,
		SkippedNotImage:  1,
		SkippedDuplicate: 1,
		RemovedDirs:      []string{"sub"},
	}
	if diff := cmp.Diff(want, summary, ignoreRunFields); diff != "" {
		t.Fatalf("summary mismatch (-want +got):\n%s", diff)
	}
	require.Equal(t, 4, summary.Processed())

	require.NoFileExists(t, filepath.Join(root, "a.png"))
	require.NoFileExists(t, filepath.Join(root, "b.jpg"))
	require.FileExists(t, filepath.Join(root, "notes.txt"))
	require.NoDirExists(t, filepath.Join(root, "sub"))
	require.DirExists(t, root)

	count, err := st.CountImages(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, count)

	img, err := st.GetImageByFilename(context.Background(), "a.png")
	require.NoError(t, err)
	require.Equal(t, "image/png", img.MediaType)
	require.Equal(t, same, img.Data)

	_, err = st.GetImageByFilename(context.Background(), "b.jpg")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestRunKeepsFilesAboveSizeLimit(t *testing.T) {
	st, _ := openTestStore(t)
	root := t.TempDir()
	writeFile(t, root, "big.gif", make([]byte, 16))
	writeFile(t, root, "small.gif", make([]byte, 4))

	summary, err := runJob(t, st, Options{Root: root, MaxBytes: 8})
	require.NoError(t, err)
	require.Equal(t, 1, summary.SkippedTooLarge)
	require.Equal(t, 1, summary.Imported)
	require.FileExists(t, filepath.Join(root, "big.gif"))
	require.NoFileExists(t, filepath.Join(root, "small.gif"))
}

func TestRunIsIdempotent(t *testing.T) {
	st, _ := openTestStore(t)
	root := t.TempDir()
	writeFile(t, root, "a.png", []byte("first"))
	writeFile(t, root, "nested/deeper/b.png", []byte("second"))
	writeFile(t, root, "readme.md", []byte("docs"))

	first, err := runJob(t, st, Options{Root: root})
	require.NoError(t, err)
	require.Equal(t, 2, first.Imported)
	require.Equal(t, []string{"nested", "nested/deeper"}, first.RemovedDirs)

	second, err := runJob(t, st, Options{Root: root})
	require.NoError(t, err)
	want := Summary{SkippedNotImage: 1}
	if diff := cmp.Diff(want, second, ignoreRunFields); diff != "" {
		t.Fatalf("second run mismatch (-want +got):\n%s", diff)
	}

	count, err := st.CountImages(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, count)
}

func TestRunReimportOfKnownContentRemovesSource(t *testing.T) {
	st, _ := openTestStore(t)
	data := []byte("already uploaded")
	existing, _, err := st.PutIfAbsent(context.Background(), "original.png", "image/png", data)
	require.NoError(t, err)

	root := t.TempDir()
	writeFile(t, root, "copy.png", data)

	summary, err := runJob(t, st, Options{Root: root})
	require.NoError(t, err)
	require.Equal(t, 1, summary.SkippedDuplicate)
	require.NoFileExists(t, filepath.Join(root, "copy.png"))

	got, err := st.GetImage(context.Background(), existing.ID)
	require.NoError(t, err)
	require.Equal(t, "original.png", got.Filename)
}

func TestRunPreservesConfiguredDirectories(t *testing.T) {
	st, _ := openTestStore(t)
	root := t.TempDir()
	writeFile(t, root, "old/a.png", []byte("image"))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "videos"), 0o755))
	writeFile(t, root, "clips/intro.mp4", []byte("video"))

	summary, err := runJob(t, st, Options{Root: root})
	require.NoError(t, err)
	require.Equal(t, []string{"old"}, summary.RemovedDirs)
	require.DirExists(t, filepath.Join(root, "videos"))
	require.FileExists(t, filepath.Join(root, "clips", "intro.mp4"))
}

func TestRunDryRunLeavesEverythingInPlace(t *testing.T) {
	st, _ := openTestStore(t)
	root := t.TempDir()
	writeFile(t, root, "a.png", []byte("same"))
	writeFile(t, root, "dir/b.png", []byte("same"))
	writeFile(t, root, "c.txt", []byte("text"))

	summary, err := runJob(t, st, Options{Root: root, DryRun: true})
	require.NoError(t, err)
	want := Summary{DryRun: true, Imported: 1, SkippedDuplicate: 1, SkippedNotImage: 1}
	if diff := cmp.Diff(want, summary, ignoreRunFields); diff != "" {
		t.Fatalf("dry run mismatch (-want +got):\n%s", diff)
	}

	require.FileExists(t, filepath.Join(root, "a.png"))
	require.FileExists(t, filepath.Join(root, "dir", "b.png"))
	count, err := st.CountImages(context.Background())
	require.NoError(t, err)
	require.Zero(t, count)
}

func TestRunMissingRootIsEmpty(t *testing.T) {
	st, _ := openTestStore(t)
	summary, err := runJob(t, st, Options{Root: filepath.Join(t.TempDir(), "missing")})
	require.NoError(t, err)
	require.Zero(t, summary.Processed())
}

func TestRunRewritesReferences(t *testing.T) {
	st, dbPath := openTestStore(t)

	host, err := sql.Open("sqlite", "file:"+dbPath+"?_pragma=busy_timeout(5000)")
	require.NoError(t, err)
	t.Cleanup(func() { _ = host.Close() })
	_, err = host.Exec(`CREATE TABLE posts (id INTEGER PRIMARY KEY, cover TEXT)`)
	require.NoError(t, err)
	_, err = host.Exec(`INSERT INTO posts (id, cover) VALUES (1, '/uploads/2024/a.png'), (2, '/uploads/other.png')`)
	require.NoError(t, err)

	root := t.TempDir()
	writeFile(t, root, "2024/a.png", []byte("cover bytes"))

	summary, err := runJob(t, st, Options{
		Root:       root,
		References: []ReferenceRule{{Table: "posts", Column: "cover"}},
	})
	require.NoError(t, err)
	require.Equal(t, int64(1), summary.ReferencesRewritten)

	img, err := st.GetImageByFilename(context.Background(), "a.png")
	require.NoError(t, err)

	var cover string
	require.NoError(t, host.QueryRow(`SELECT cover FROM posts WHERE id = 1`).Scan(&cover))
	require.Equal(t, models.ImageURL(img.ID), cover)
	require.NoError(t, host.QueryRow(`SELECT cover FROM posts WHERE id = 2`).Scan(&cover))
	require.Equal(t, "/uploads/other.png", cover)
}

func TestRunWritesReport(t *testing.T) {
	st, _ := openTestStore(t)
	root := t.TempDir()
	writeFile(t, root, "a.png", []byte("img"))
	writeFile(t, root, "b.txt", []byte("txt"))
	reportPath := filepath.Join(t.TempDir(), "reports", "sweep.yaml")

	summary, err := runJob(t, st, Options{Root: root, ReportPath: reportPath})
	require.NoError(t, err)

	got, err := ReadReport(reportPath)
	require.NoError(t, err)
	if diff := cmp.Diff(summary, got, cmpopts.EquateApproxTime(0)); diff != "" {
		t.Fatalf("report mismatch (-want +got):\n%s", diff)
	}
	require.Equal(t, 1, got.Imported)
	require.Equal(t, 1, got.SkippedNotImage)
}

type fakeStore struct {
	puts    int
	failOn  int
	putErr  error
	pingErr error
	nextID  int64
}

func (f *fakeStore) PutIfAbsent(_ context.Context, filename, mediaType string, data []byte) (*models.StoredImage, bool, error) {
	f.puts++
	if f.puts == f.failOn {
		return nil, false, f.putErr
	}
	f.nextID++
	return &models.StoredImage{ID: f.nextID, Filename: filename, MediaType: mediaType, SizeBytes: int64(len(data))}, true, nil
}

func (f *fakeStore) RewriteReferences(context.Context, string, string, string, string) (int64, error) {
	return 0, nil
}

func (f *fakeStore) Ping(context.Context) error {
	return f.pingErr
}

func TestRunAbortsWhenStoreUnreachable(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.png", []byte("a"))
	writeFile(t, root, "b.png", []byte("b"))
	writeFile(t, root, "c.png", []byte("c"))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "empty"), 0o755))

	fake := &fakeStore{
		failOn:  2,
		putErr:  errors.Join(store.ErrUnavailable, errors.New("connection reset")),
		pingErr: errors.New("connection refused"),
	}
	summary, err := runJob(t, fake, Options{Root: root})
	require.ErrorIs(t, err, ErrAborted)
	require.ErrorIs(t, err, store.ErrUnavailable)

	want := Summary{Imported: 1, Failed: 1, Aborted: true}
	if diff := cmp.Diff(want, summary, ignoreRunFields); diff != "" {
		t.Fatalf("summary mismatch (-want +got):\n%s", diff)
	}
	require.NoFileExists(t, filepath.Join(root, "a.png"))
	require.FileExists(t, filepath.Join(root, "b.png"))
	require.FileExists(t, filepath.Join(root, "c.png"))
	require.DirExists(t, filepath.Join(root, "empty"))
}

func TestRunContinuesAfterTransientStoreError(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.png", []byte("a"))
	writeFile(t, root, "b.png", []byte("b"))

	fake := &fakeStore{failOn: 1, putErr: errors.New("constraint hiccup")}
	summary, err := runJob(t, fake, Options{Root: root})
	require.NoError(t, err)
	require.Equal(t, 1, summary.Failed)
	require.Equal(t, 1, summary.Imported)
	require.False(t, summary.Aborted)
	require.FileExists(t, filepath.Join(root, "a.png"))
	require.NoFileExists(t, filepath.Join(root, "b.png"))
}

func TestNewJobValidatesOptions(t *testing.T) {
	_, err := NewJob(nil, Options{Root: "."})
	require.Error(t, err)

	_, err = NewJob(&fakeStore{}, Options{Root: "  "})
	require.Error(t, err)

	job, err := NewJob(&fakeStore{}, Options{Root: ".", Extensions: []string{"PNG", ".Webp"}})
	require.NoError(t, err)
	require.True(t, job.exts[".png"])
	require.True(t, job.exts[".webp"])
	require.Equal(t, DefaultMaxBytes, job.opts.MaxBytes)
	require.True(t, job.keep["videos"])
}

func TestMediaTypeFor(t *testing.T) {
	require.Equal(t, "image/jpeg", mediaTypeFor(".jpeg"))
	require.Equal(t, "image/webp", mediaTypeFor(".webp"))
	require.Equal(t, "application/octet-stream", mediaTypeFor(".zzz-unknown"))
}
