package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"dbimage/internal/models"
)

const (
	imageMetaColumns = "id, filename, mimetype, content_hash, size_bytes, created_at"
	imageColumns     = imageMetaColumns + ", data"

	defaultMediaType = "application/octet-stream"
)

const insertImageSQL = `INSERT INTO stored_images (filename, mimetype, content_hash, size_bytes, data, created_at)
VALUES (?, ?, ?, ?, ?, ?)`

// PutUpsertingMetadata stores data keyed by its content hash. When the
// content is already present the existing row keeps its id and payload, and
// only filename and media type are replaced by the new values.
func (s *Store) PutUpsertingMetadata(ctx context.Context, filename, mediaType string, data []byte) (img *models.StoredImage, err error) {
	ctx, span := tracer.Start(ctx, "PutUpsertingMetadata")
	defer func() { endSpan(span, err) }()

	row := newImageRow(filename, mediaType, data)
	span.SetAttributes(attribute.String("content_hash", row.ContentHash), attribute.Int64("size_bytes", row.SizeBytes))

	err = s.withConn(ctx, func(conn *sql.Conn) error {
		stored, err := scanImageMeta(conn.QueryRowContext(ctx,
			insertImageSQL+`
ON CONFLICT(content_hash) DO UPDATE SET filename = excluded.filename, mimetype = excluded.mimetype
RETURNING `+imageMetaColumns,
			row.Filename, row.MediaType, row.ContentHash, row.SizeBytes, blobValue(data), formatTime(row.CreatedAt),
		))
		if err != nil {
			return unavailable("put image", err)
		}
		img = stored
		return nil
	})
	if err != nil {
		return nil, err
	}
	img.Data = data
	span.SetAttributes(attribute.Int64("image_id", img.ID))
	return img, nil
}

// PutIfAbsent stores data only when no image with the same content hash
// exists. Existing rows are returned untouched with inserted == false.
func (s *Store) PutIfAbsent(ctx context.Context, filename, mediaType string, data []byte) (img *models.StoredImage, inserted bool, err error) {
	ctx, span := tracer.Start(ctx, "PutIfAbsent")
	defer func() { endSpan(span, err) }()

	row := newImageRow(filename, mediaType, data)
	span.SetAttributes(attribute.String("content_hash", row.ContentHash), attribute.Int64("size_bytes", row.SizeBytes))

	err = s.withConn(ctx, func(conn *sql.Conn) error {
		stored, err := scanImageMeta(conn.QueryRowContext(ctx,
			insertImageSQL+`
ON CONFLICT(content_hash) DO NOTHING
RETURNING `+imageMetaColumns,
			row.Filename, row.MediaType, row.ContentHash, row.SizeBytes, blobValue(data), formatTime(row.CreatedAt),
		))
		if err == nil {
			img, inserted = stored, true
			return nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return unavailable("put image", err)
		}

		existing, err := scanImageMeta(conn.QueryRowContext(ctx,
			`SELECT `+imageMetaColumns+` FROM stored_images WHERE content_hash = ?`, row.ContentHash))
		if err != nil {
			return unavailable("load existing image", err)
		}
		img = existing
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	span.SetAttributes(attribute.Int64("image_id", img.ID), attribute.Bool("inserted", inserted))
	return img, inserted, nil
}

// GetImage returns the full image for a positive id.
func (s *Store) GetImage(ctx context.Context, id int64) (img *models.StoredImage, err error) {
	ctx, span := tracer.Start(ctx, "GetImage")
	defer func() { endSpan(span, ignoreNotFound(err)) }()
	span.SetAttributes(attribute.Int64("image_id", id))

	err = s.withConn(ctx, func(conn *sql.Conn) error {
		stored, err := scanImage(conn.QueryRowContext(ctx,
			`SELECT `+imageColumns+` FROM stored_images WHERE id = ?`, id))
		if err != nil {
			return notFoundOrUnavailable("get image", err)
		}
		img = stored
		return nil
	})
	if err != nil {
		return nil, err
	}
	return img, nil
}

// GetImageByFilename returns the most recently created image whose current
// filename equals name exactly.
func (s *Store) GetImageByFilename(ctx context.Context, name string) (img *models.StoredImage, err error) {
	ctx, span := tracer.Start(ctx, "GetImageByFilename")
	defer func() { endSpan(span, ignoreNotFound(err)) }()

	err = s.withConn(ctx, func(conn *sql.Conn) error {
		stored, err := scanImage(conn.QueryRowContext(ctx,
			`SELECT `+imageColumns+` FROM stored_images WHERE filename = ? ORDER BY id DESC LIMIT 1`, name))
		if err != nil {
			return notFoundOrUnavailable("get image by filename", err)
		}
		img = stored
		return nil
	})
	if err != nil {
		return nil, err
	}
	return img, nil
}

// GetImageMeta returns an image without its payload.
func (s *Store) GetImageMeta(ctx context.Context, id int64) (*models.StoredImage, error) {
	var img *models.StoredImage
	err := s.withConn(ctx, func(conn *sql.Conn) error {
		stored, err := scanImageMeta(conn.QueryRowContext(ctx,
			`SELECT `+imageMetaColumns+` FROM stored_images WHERE id = ?`, id))
		if err != nil {
			return notFoundOrUnavailable("get image meta", err)
		}
		img = stored
		return nil
	})
	if err != nil {
		return nil, err
	}
	return img, nil
}

// CountImages returns the number of stored images.
func (s *Store) CountImages(ctx context.Context) (int, error) {
	var count int
	err := s.withConn(ctx, func(conn *sql.Conn) error {
		if err := conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM stored_images`).Scan(&count); err != nil {
			return unavailable("count images", err)
		}
		return nil
	})
	return count, err
}

// Stats summarizes the stored images.
type Stats struct {
	Images     int        `json:"images"`
	TotalBytes int64      `json:"total_bytes"`
	MediaTypes []TypeStat `json:"media_types"`
}

// TypeStat is a per media type count.
type TypeStat struct {
	MediaType string `json:"mimetype"`
	Images    int    `json:"images"`
	Bytes     int64  `json:"bytes"`
}

// Stats returns counts and total payload bytes, grouped by media type.
func (s *Store) Stats(ctx context.Context) (*Stats, error) {
	stats := &Stats{MediaTypes: []TypeStat{}}
	err := s.withConn(ctx, func(conn *sql.Conn) error {
		rows, err := conn.QueryContext(ctx, `SELECT mimetype, COUNT(*), COALESCE(SUM(size_bytes), 0)
FROM stored_images GROUP BY mimetype ORDER BY mimetype`)
		if err != nil {
			return unavailable("image stats", err)
		}
		defer rows.Close()

		for rows.Next() {
			var ts TypeStat
			if err := rows.Scan(&ts.MediaType, &ts.Images, &ts.Bytes); err != nil {
				return unavailable("scan image stats", err)
			}
			stats.Images += ts.Images
			stats.TotalBytes += ts.Bytes
			stats.MediaTypes = append(stats.MediaTypes, ts)
		}
		if err := rows.Err(); err != nil {
			return unavailable("image stats", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return stats, nil
}

func newImageRow(filename, mediaType string, data []byte) models.StoredImage {
	mediaType = strings.TrimSpace(mediaType)
	if mediaType == "" {
		mediaType = defaultMediaType
	}
	return models.StoredImage{
		Filename:    filename,
		MediaType:   mediaType,
		ContentHash: ContentHash(data),
		SizeBytes:   int64(len(data)),
		CreatedAt:   time.Now().UTC(),
	}
}

// blobValue keeps zero-length payloads distinguishable from a nil argument
// for drivers that bind empty slices as NULL.
func blobValue(data []byte) any {
	if data == nil {
		return []byte{}
	}
	return data
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanImageMeta(row rowScanner) (*models.StoredImage, error) {
	img := models.StoredImage{}
	var createdAt string
	if err := row.Scan(&img.ID, &img.Filename, &img.MediaType, &img.ContentHash, &img.SizeBytes, &createdAt); err != nil {
		return nil, err
	}
	parsed, err := parseTime(createdAt)
	if err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	img.CreatedAt = parsed
	return &img, nil
}

func scanImage(row rowScanner) (*models.StoredImage, error) {
	img := models.StoredImage{}
	var createdAt string
	var data []byte
	if err := row.Scan(&img.ID, &img.Filename, &img.MediaType, &img.ContentHash, &img.SizeBytes, &createdAt, &data); err != nil {
		return nil, err
	}
	parsed, err := parseTime(createdAt)
	if err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	img.CreatedAt = parsed
	if data == nil {
		data = []byte{}
	}
	img.Data = data
	return &img, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, value)
}

func ignoreNotFound(err error) error {
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	return err
}
