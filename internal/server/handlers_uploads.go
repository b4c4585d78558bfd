package server

import (
	"fmt"
	"net/http"
	"strings"

	"dbimage/internal/api"
)

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	kind := strings.TrimSpace(r.PathValue("kind"))
	opts, ok := s.presets[kind]
	if !ok {
		err := notFoundCode(fmt.Errorf("unknown upload kind %q (known: %s)", kind, strings.Join(PresetNames(s.presets), ", ")), ErrCodePresetNotFound)
		s.writeErrorReq(w, r, http.StatusNotFound, err)
		return
	}
	if !isMultipart(r) {
		s.writeErrorReq(w, r, http.StatusBadRequest, badRequestCode(fmt.Errorf("multipart/form-data body is required"), ErrCodeInvalidMultipart))
		return
	}

	if !s.acquireLimiter(s.uploadLimiter, w, r, "upload") {
		return
	}
	defer s.releaseLimiter(s.uploadLimiter)

	opts.AttachReferences = true
	s.PersistUpload(opts)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		result, _ := UploadsFromContext(r.Context())
		refs := result.References()
		if len(refs) == 0 {
			err := badRequestCode(fmt.Errorf("no file in fields %s", strings.Join(opts.Fields, ", ")), ErrCodeMissingRequired)
			s.writeErrorReq(w, r, http.StatusBadRequest, err)
			return
		}
		s.writeJSON(w, http.StatusCreated, api.UploadResponse{Kind: kind, Images: refs})
	})).ServeHTTP(w, r)
}
