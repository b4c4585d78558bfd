package api

import "dbimage/internal/models"

// ErrorResponse is a generic JSON error wrapper.
type ErrorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code,omitempty"`
	ErrorCode int    `json:"error_code,omitempty"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

// UploadResponse lists the stored images for one upload request, in
// submission order.
type UploadResponse struct {
	Kind   string                  `json:"kind"`
	Images []models.ImageReference `json:"images"`
}

// MediaTypeStats is one row of the per media type breakdown.
type MediaTypeStats struct {
	MediaType string `json:"mimetype"`
	Images    int    `json:"images"`
	Bytes     int64  `json:"bytes"`
}

// StatsResponse is returned by GET /v1/stats.
type StatsResponse struct {
	Images     int              `json:"images"`
	TotalBytes int64            `json:"total_bytes"`
	MediaTypes []MediaTypeStats `json:"media_types"`
}

// ImageContent is a downloaded image payload.
type ImageContent struct {
	Data        []byte
	ContentType string
	ETag        string
}
