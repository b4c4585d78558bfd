package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"dbimage/internal/api"
	"dbimage/internal/models"
	"dbimage/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "images.db")
	st, err := store.Open(context.Background(), store.Options{URL: path, PoolSize: 4})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func newTestServer(t *testing.T, opts Options) (*Server, *store.Store) {
	t.Helper()
	st := newTestStore(t)
	return New("127.0.0.1:0", st, nil, opts), st
}

// fakeImageStore counts calls and returns canned results.
type fakeImageStore struct {
	mu       sync.Mutex
	calls    int
	putErr   error
	getErr   error
	putAfter int
	images   map[int64]*models.StoredImage
	nextID   int64
}

func (f *fakeImageStore) record() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.calls
}

func (f *fakeImageStore) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeImageStore) PutUpsertingMetadata(ctx context.Context, filename, mediaType string, data []byte) (*models.StoredImage, error) {
	n := f.record()
	if f.putErr != nil && n > f.putAfter {
		return nil, f.putErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	img := &models.StoredImage{
		ID:          f.nextID,
		Filename:    filename,
		MediaType:   mediaType,
		ContentHash: store.ContentHash(data),
		SizeBytes:   int64(len(data)),
		Data:        data,
		CreatedAt:   time.Now().UTC(),
	}
	if f.images == nil {
		f.images = map[int64]*models.StoredImage{}
	}
	f.images[img.ID] = img
	return img, nil
}

func (f *fakeImageStore) PutIfAbsent(ctx context.Context, filename, mediaType string, data []byte) (*models.StoredImage, bool, error) {
	img, err := f.PutUpsertingMetadata(ctx, filename, mediaType, data)
	return img, err == nil, err
}

func (f *fakeImageStore) GetImage(ctx context.Context, id int64) (*models.StoredImage, error) {
	f.record()
	if f.getErr != nil {
		return nil, f.getErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	img, ok := f.images[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return img, nil
}

func (f *fakeImageStore) GetImageByFilename(ctx context.Context, name string) (*models.StoredImage, error) {
	f.record()
	if f.getErr != nil {
		return nil, f.getErr
	}
	return nil, store.ErrNotFound
}

func (f *fakeImageStore) Stats(ctx context.Context) (*store.Stats, error) {
	f.record()
	return &store.Stats{}, nil
}

func (f *fakeImageStore) Ping(ctx context.Context) error {
	return nil
}

type testFile struct {
	field     string
	filename  string
	mediaType string
	data      []byte
}

func multipartBody(t *testing.T, files ...testFile) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)
	for _, f := range files {
		header := make(textproto.MIMEHeader)
		header.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, f.field, f.filename))
		if f.mediaType != "" {
			header.Set("Content-Type", f.mediaType)
		}
		part, err := mw.CreatePart(header)
		if err != nil {
			t.Fatalf("create part: %v", err)
		}
		if _, err := part.Write(f.data); err != nil {
			t.Fatalf("write part: %v", err)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart writer: %v", err)
	}
	return body, mw.FormDataContentType()
}

func newUploadRequest(t *testing.T, path string, files ...testFile) *http.Request {
	t.Helper()
	body, contentType := multipartBody(t, files...)
	req := httptest.NewRequest(http.MethodPost, path, body)
	req.Header.Set("Content-Type", contentType)
	return req
}

func decodeErrorResponse(t *testing.T, w *httptest.ResponseRecorder) api.ErrorResponse {
	t.Helper()
	var errResp api.ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &errResp); err != nil {
		t.Fatalf("decode error response: %v (%s)", err, w.Body.String())
	}
	return errResp
}
