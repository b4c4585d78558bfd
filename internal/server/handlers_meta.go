package server

import (
	"net/http"

	"dbimage/internal/api"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, api.HealthResponse{Status: "ok"})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.Stats(r.Context())
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	resp := api.StatsResponse{
		Images:     stats.Images,
		TotalBytes: stats.TotalBytes,
		MediaTypes: make([]api.MediaTypeStats, 0, len(stats.MediaTypes)),
	}
	for _, ts := range stats.MediaTypes {
		resp.MediaTypes = append(resp.MediaTypes, api.MediaTypeStats{
			MediaType: ts.MediaType,
			Images:    ts.Images,
			Bytes:     ts.Bytes,
		})
	}

	s.writeJSON(w, http.StatusOK, resp)
}
