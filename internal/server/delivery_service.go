package server

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"dbimage/internal/models"
	"dbimage/internal/store"
)

const immutableCacheControl = "public, max-age=31536000, immutable"

// ImageService resolves and serves stored images over HTTP.
type ImageService struct {
	responder
	store   store.ImageReader
	metrics *serverMetrics
}

// NewImageService creates an image delivery service.
func NewImageService(imageStore store.ImageReader, logger *slog.Logger) *ImageService {
	return &ImageService{
		responder: responder{logger: logger},
		store:     imageStore,
		metrics:   newServerMetrics(),
	}
}

// ByID resolves a raw path id. Malformed ids are rejected before any store
// access.
func (s *ImageService) ByID(ctx context.Context, rawID string) (*models.StoredImage, error) {
	id, err := models.ParseImageID(strings.TrimSpace(rawID))
	if err != nil {
		return nil, badRequestCode(err, ErrCodeInvalidID)
	}
	img, err := s.store.GetImage(ctx, id)
	if err != nil {
		return nil, classifyStoreError(err)
	}
	return img, nil
}

// ByFilename resolves the most recently created image currently named name.
func (s *ImageService) ByFilename(ctx context.Context, name string) (*models.StoredImage, error) {
	if name == "" {
		return nil, badRequestCode(fmt.Errorf("filename is required"), ErrCodeInvalidID)
	}
	img, err := s.store.GetImageByFilename(ctx, name)
	if err != nil {
		return nil, classifyStoreError(err)
	}
	return img, nil
}

// RegisterImageRoutes mounts the by-id and by-filename routes on a host mux.
// GET patterns also answer HEAD.
func RegisterImageRoutes(mux *http.ServeMux, svc *ImageService) {
	mux.HandleFunc("GET "+models.ImageByIDPathPrefix+"{id}", svc.handleByID)
	mux.HandleFunc("GET "+models.ImageByFilenamePathPrefix+"{filename}", svc.handleByFilename)
}

func (s *ImageService) handleByID(w http.ResponseWriter, r *http.Request) {
	img, err := s.ByID(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.serveImage(w, r, img, "id")
}

func (s *ImageService) handleByFilename(w http.ResponseWriter, r *http.Request) {
	img, err := s.ByFilename(r.Context(), r.PathValue("filename"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.serveImage(w, r, img, "filename")
}

// serveImage writes the payload with validators. Content is immutable per
// hash, so the hash is a strong ETag and If-None-Match yields 304.
func (s *ImageService) serveImage(w http.ResponseWriter, r *http.Request, img *models.StoredImage, lookup string) {
	header := w.Header()
	header.Set("Content-Type", img.MediaType)
	header.Set("ETag", `"`+img.ContentHash+`"`)
	header.Set("Cache-Control", immutableCacheControl)
	header.Set("X-Content-Type-Options", "nosniff")

	s.metrics.recordDelivery(r.Context(), lookup)
	http.ServeContent(w, r, "", img.CreatedAt, bytes.NewReader(img.Data))
}
