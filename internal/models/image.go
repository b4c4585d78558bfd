package models

import (
	"fmt"
	"net/url"
	"strconv"
	"time"
)

const (
	// ImageByIDPathPrefix is the canonical serving path prefix.
	ImageByIDPathPrefix = "/db-image/id/"
	// ImageByFilenamePathPrefix is the secondary serving path prefix.
	ImageByFilenamePathPrefix = "/db-image/file/"
)

// StoredImage is an immutable stored image payload keyed by content hash.
//
// Filename and MediaType are metadata of the most recent write of this
// content; Data and ContentHash never change after creation.
type StoredImage struct {
	ID          int64     `json:"id"`
	Filename    string    `json:"filename"`
	MediaType   string    `json:"mimetype"`
	ContentHash string    `json:"content_hash"`
	SizeBytes   int64     `json:"size_bytes"`
	Data        []byte    `json:"-"`
	CreatedAt   time.Time `json:"created_at"`
}

// ImageReference is the caller-facing handle for a stored image.
type ImageReference struct {
	Image     StoredImage `json:"image"`
	URL       string      `json:"url"`
	URLByName string      `json:"url_by_name"`
}

// NewImageReference builds the canonical and by-filename paths for img.
func NewImageReference(img StoredImage) ImageReference {
	meta := img
	meta.Data = nil
	return ImageReference{
		Image:     meta,
		URL:       ImageURL(img.ID),
		URLByName: ImageFilenameURL(img.Filename),
	}
}

// ImageURL returns the canonical by-id path.
func ImageURL(id int64) string {
	return ImageByIDPathPrefix + strconv.FormatInt(id, 10)
}

// ImageFilenameURL returns the by-filename path with the name path-escaped.
func ImageFilenameURL(filename string) string {
	return ImageByFilenamePathPrefix + url.PathEscape(filename)
}

// ParseImageID parses a positive integer image id.
func ParseImageID(raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid image id: %q", raw)
	}
	if id <= 0 {
		return 0, fmt.Errorf("image id must be positive: %d", id)
	}
	return id, nil
}
