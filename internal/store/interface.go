package store

import (
	"context"

	"dbimage/internal/models"
)

// ImageWriter persists image payloads.
type ImageWriter interface {
	PutUpsertingMetadata(ctx context.Context, filename, mediaType string, data []byte) (*models.StoredImage, error)
	PutIfAbsent(ctx context.Context, filename, mediaType string, data []byte) (*models.StoredImage, bool, error)
}

// ImageReader resolves stored images by id or filename.
type ImageReader interface {
	GetImage(ctx context.Context, id int64) (*models.StoredImage, error)
	GetImageByFilename(ctx context.Context, name string) (*models.StoredImage, error)
}

// ImageStore is the full image store surface used by the HTTP server.
type ImageStore interface {
	ImageWriter
	ImageReader
	Stats(ctx context.Context) (*Stats, error)
	Ping(ctx context.Context) error
}

var _ ImageStore = (*Store)(nil)
