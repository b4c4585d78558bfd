package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"dbimage/internal/models"
)

func TestHTTPTimeoutFromEnv(t *testing.T) {
	t.Run("default", func(t *testing.T) {
		t.Setenv(httpTimeoutEnvKey, "")
		require.Equal(t, defaultHTTPTimeout, httpTimeoutFromEnv())
	})

	t.Run("duration format", func(t *testing.T) {
		t.Setenv(httpTimeoutEnvKey, "45s")
		require.Equal(t, 45*time.Second, httpTimeoutFromEnv())
	})

	t.Run("integer seconds", func(t *testing.T) {
		t.Setenv(httpTimeoutEnvKey, "25")
		require.Equal(t, 25*time.Second, httpTimeoutFromEnv())
	})

	t.Run("invalid falls back", func(t *testing.T) {
		t.Setenv(httpTimeoutEnvKey, "invalid")
		require.Equal(t, defaultHTTPTimeout, httpTimeoutFromEnv())
	})
}

func TestClientUpload(t *testing.T) {
	t.Setenv(uploadTokenEnvKey, "secret-token")

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/v1/uploads/avatar", r.URL.Path)
		require.Equal(t, "Bearer secret-token", r.Header.Get("Authorization"))

		require.NoError(t, r.ParseMultipartForm(1<<20))
		files := r.MultipartForm.File["avatar"]
		require.Len(t, files, 1)
		require.Equal(t, "me.png", files[0].Filename)
		require.Equal(t, "image/png", files[0].Header.Get("Content-Type"))

		f, err := files[0].Open()
		require.NoError(t, err)
		defer f.Close()
		body, err := io.ReadAll(f)
		require.NoError(t, err)
		require.Equal(t, "png-bytes", string(body))

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(UploadResponse{
			Kind: "avatar",
			Images: []models.ImageReference{
				models.NewImageReference(models.StoredImage{ID: 3, Filename: "me.png", MediaType: "image/png"}),
			},
		})
	}))
	defer srv.Close()

	client := NewClient(srv.URL)
	resp, err := client.Upload(t.Context(), "avatar", UploadFile{
		Field:     "avatar",
		Filename:  "me.png",
		MediaType: "image/png",
		Data:      []byte("png-bytes"),
	})
	require.NoError(t, err)
	require.Len(t, resp.Images, 1)
	require.Equal(t, int64(3), resp.Images[0].Image.ID)
	require.Equal(t, "/db-image/id/3", resp.Images[0].URL)
}

func TestClientUploadRequiresFiles(t *testing.T) {
	client := NewClient("http://127.0.0.1:1")
	_, err := client.Upload(t.Context(), "avatar")
	require.Error(t, err)
}

func TestClientDecodesAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(ErrorResponse{Error: "image not found", Code: "not_found", ErrorCode: 2001})
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL).ImageByID(t.Context(), 999999)
	require.Error(t, err)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	require.Equal(t, http.StatusNotFound, apiErr.Status)
	require.Equal(t, 2001, apiErr.ErrorCode)
	require.Equal(t, "not_found: image not found", apiErr.Error())
}

func TestClientImageByFilename(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/db-image/file/capa one.png", r.URL.Path)
		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("ETag", `"abc"`)
		_, _ = w.Write([]byte("payload"))
	}))
	defer srv.Close()

	content, err := NewClient(srv.URL).ImageByFilename(t.Context(), "capa one.png")
	require.NoError(t, err)
	require.Equal(t, "payload", string(content.Data))
	require.Equal(t, "image/png", content.ContentType)
	require.Equal(t, `"abc"`, content.ETag)
}
