package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"dbimage/internal/models"
	"dbimage/internal/store"
)

func TestServeByIDRejectsMalformedIDsWithoutStoreAccess(t *testing.T) {
	fake := &fakeImageStore{}
	srv := New("127.0.0.1:0", fake, nil, Options{})

	for _, raw := range []string{"0", "-5", "abc", "1.5"} {
		t.Run(raw, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/db-image/id/"+raw, nil)
			w := httptest.NewRecorder()
			srv.routes().ServeHTTP(w, req)
			if w.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d (%s)", w.Code, w.Body.String())
			}
			if errResp := decodeErrorResponse(t, w); errResp.ErrorCode != ErrCodeInvalidID {
				t.Fatalf("expected error_code %d, got %d", ErrCodeInvalidID, errResp.ErrorCode)
			}
		})
	}

	if fake.Calls() != 0 {
		t.Fatalf("expected no store access, got %d calls", fake.Calls())
	}
}

func TestServeByIDNotFound(t *testing.T) {
	srv, _ := newTestServer(t, Options{})

	req := httptest.NewRequest(http.MethodGet, "/db-image/id/999999", nil)
	w := httptest.NewRecorder()
	srv.routes().ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d (%s)", w.Code, w.Body.String())
	}
	if errResp := decodeErrorResponse(t, w); errResp.ErrorCode != ErrCodeImageNotFound {
		t.Fatalf("expected error_code %d, got %d", ErrCodeImageNotFound, errResp.ErrorCode)
	}
}

func TestServeByIDHeaders(t *testing.T) {
	srv, st := newTestServer(t, Options{})
	data := []byte("\x89PNG\r\n\x1a\nfake")
	img, err := st.PutUpsertingMetadata(context.Background(), "logo.png", "image/png", data)
	if err != nil {
		t.Fatalf("put: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, models.ImageURL(img.ID), nil)
	w := httptest.NewRecorder()
	srv.routes().ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", w.Code, w.Body.String())
	}
	if got := w.Header().Get("Content-Type"); got != "image/png" {
		t.Fatalf("unexpected content type %q", got)
	}
	if got := w.Header().Get("ETag"); got != `"`+store.ContentHash(data)+`"` {
		t.Fatalf("unexpected etag %q", got)
	}
	if got := w.Header().Get("Cache-Control"); got != "public, max-age=31536000, immutable" {
		t.Fatalf("unexpected cache-control %q", got)
	}
	if w.Header().Get("Last-Modified") == "" {
		t.Fatal("expected Last-Modified header")
	}
	if w.Body.String() != string(data) {
		t.Fatal("payload mismatch")
	}
}

func TestServeByIDConditionalRequest(t *testing.T) {
	srv, st := newTestServer(t, Options{})
	data := []byte("GIF89a-cached")
	img, err := st.PutUpsertingMetadata(context.Background(), "c.gif", "image/gif", data)
	if err != nil {
		t.Fatalf("put: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, models.ImageURL(img.ID), nil)
	req.Header.Set("If-None-Match", `"`+img.ContentHash+`"`)
	w := httptest.NewRecorder()
	srv.routes().ServeHTTP(w, req)
	if w.Code != http.StatusNotModified {
		t.Fatalf("expected 304, got %d", w.Code)
	}
	if w.Body.Len() != 0 {
		t.Fatal("expected empty body on 304")
	}
}

func TestServeByIDHead(t *testing.T) {
	srv, st := newTestServer(t, Options{})
	img, err := st.PutUpsertingMetadata(context.Background(), "h.webp", "image/webp", []byte("RIFFxxxxWEBP"))
	if err != nil {
		t.Fatalf("put: %v", err)
	}

	req := httptest.NewRequest(http.MethodHead, models.ImageURL(img.ID), nil)
	w := httptest.NewRecorder()
	srv.routes().ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if got := w.Header().Get("Content-Length"); got != "12" {
		t.Fatalf("expected Content-Length 12, got %q", got)
	}
	if w.Body.Len() != 0 {
		t.Fatal("expected no body for HEAD")
	}
}

func TestIdenticalContentSharesETag(t *testing.T) {
	srv, st := newTestServer(t, Options{})
	ctx := context.Background()
	data := []byte("same bytes")

	first, err := st.PutUpsertingMetadata(ctx, "one.png", "image/png", data)
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if _, err := st.PutUpsertingMetadata(ctx, "two.png", "image/png", data); err != nil {
		t.Fatalf("put: %v", err)
	}

	byID := httptest.NewRecorder()
	srv.routes().ServeHTTP(byID, httptest.NewRequest(http.MethodGet, models.ImageURL(first.ID), nil))
	byName := httptest.NewRecorder()
	srv.routes().ServeHTTP(byName, httptest.NewRequest(http.MethodGet, "/db-image/file/two.png", nil))

	if byID.Code != http.StatusOK || byName.Code != http.StatusOK {
		t.Fatalf("expected 200s, got %d and %d", byID.Code, byName.Code)
	}
	if byID.Header().Get("ETag") != byName.Header().Get("ETag") {
		t.Fatal("expected identical content to validate identically")
	}
}

func TestServeByFilename(t *testing.T) {
	srv, st := newTestServer(t, Options{})
	ctx := context.Background()

	if _, err := st.PutUpsertingMetadata(ctx, "capa one.png", "image/png", []byte("old")); err != nil {
		t.Fatalf("put old: %v", err)
	}
	newer, err := st.PutUpsertingMetadata(ctx, "capa one.png", "image/png", []byte("new"))
	if err != nil {
		t.Fatalf("put new: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, models.ImageFilenameURL("capa one.png"), nil)
	w := httptest.NewRecorder()
	srv.routes().ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", w.Code, w.Body.String())
	}
	if w.Body.String() != "new" {
		t.Fatalf("expected most recently created image, got %q", w.Body.String())
	}
	if w.Header().Get("ETag") != `"`+newer.ContentHash+`"` {
		t.Fatal("unexpected etag for by-filename lookup")
	}

	req = httptest.NewRequest(http.MethodGet, "/db-image/file/missing.png", nil)
	w = httptest.NewRecorder()
	srv.routes().ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestServeStoreUnavailable(t *testing.T) {
	fake := &fakeImageStore{getErr: fmt.Errorf("get image: %w", errors.Join(store.ErrUnavailable, errors.New("connection refused")))}
	srv := New("127.0.0.1:0", fake, nil, Options{})

	req := httptest.NewRequest(http.MethodGet, "/db-image/id/7", nil)
	w := httptest.NewRecorder()
	srv.routes().ServeHTTP(w, req)
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", w.Code)
	}
	errResp := decodeErrorResponse(t, w)
	if errResp.ErrorCode != ErrCodeStoreUnavailable {
		t.Fatalf("expected error_code %d, got %d", ErrCodeStoreUnavailable, errResp.ErrorCode)
	}
	if errResp.Error != "internal error" {
		t.Fatalf("expected redacted message, got %q", errResp.Error)
	}
	if strings.Contains(w.Body.String(), "connection refused") {
		t.Fatal("driver error leaked into response")
	}
}

func TestRegisterImageRoutesOnHostMux(t *testing.T) {
	st := newTestStore(t)
	img, err := st.PutUpsertingMetadata(context.Background(), "host.jpg", "image/jpeg", []byte("jpeg"))
	if err != nil {
		t.Fatalf("put: %v", err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /host/ping", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	RegisterImageRoutes(mux, NewImageService(st, nil))

	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, models.ImageURL(img.ID), nil))
	if w.Code != http.StatusOK || w.Body.String() != "jpeg" {
		t.Fatalf("expected image from host mux, got %d %q", w.Code, w.Body.String())
	}

	w = httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/host/ping", nil))
	if w.Code != http.StatusNoContent {
		t.Fatalf("expected host route untouched, got %d", w.Code)
	}
}

func TestImageServiceByFilenameRejectsEmpty(t *testing.T) {
	fake := &fakeImageStore{}
	svc := NewImageService(fake, nil)
	_, err := svc.ByFilename(context.Background(), "")
	if httpStatusFromError(err) != http.StatusBadRequest {
		t.Fatalf("expected 400 error, got %v", err)
	}
	if fake.Calls() != 0 {
		t.Fatal("expected no store access for empty filename")
	}
}
