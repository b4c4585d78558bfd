package server

import (
	"net/http"
)

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	// Health check and store stats.
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /v1/stats", s.handleStats)

	// Uploads through a named preset.
	mux.Handle("POST /v1/uploads/{kind}", s.withUploadAuth(http.HandlerFunc(s.handleUpload)))

	// Delivery.
	RegisterImageRoutes(mux, s.images)

	return mux
}
