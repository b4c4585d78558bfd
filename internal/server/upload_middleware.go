package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"strings"

	"dbimage/internal/models"
)

const (
	defaultMultipartMemory = 8 << 20 // 8 MiB
	defaultMaxFilesPerBody = 10
	multipartOverhead      = 1 << 20 // 1 MiB
)

// UploadOptions configures one PersistUpload composition.
type UploadOptions struct {
	// Fields lists the recognized multipart field names, in processing order.
	Fields []string

	// AttachReferences exposes the stored references through UploadsFromContext.
	AttachReferences bool

	// MaxFileBytes is the per-file size ceiling. Zero disables the check.
	MaxFileBytes int64

	// MaxFiles bounds the number of recognized files per request.
	MaxFiles int

	MultipartMemory int64

	// AllowedMediaTypes is the accepted set of declared media types. Empty
	// accepts any type.
	AllowedMediaTypes []string
}

// UploadResult carries the references produced for one request: Single when
// exactly one file was stored, Multiple when more than one, neither when
// the request carried no recognized files.
type UploadResult struct {
	Single   *models.ImageReference
	Multiple []models.ImageReference
}

// References returns every reference in submission order.
func (u UploadResult) References() []models.ImageReference {
	if u.Single != nil {
		return []models.ImageReference{*u.Single}
	}
	return u.Multiple
}

type uploadContextKey struct{}

// UploadsFromContext returns the references attached by PersistUpload.
func UploadsFromContext(ctx context.Context) (UploadResult, bool) {
	if ctx == nil {
		return UploadResult{}, false
	}
	result, ok := ctx.Value(uploadContextKey{}).(UploadResult)
	return result, ok
}

func contextWithUploads(ctx context.Context, result UploadResult) context.Context {
	return context.WithValue(ctx, uploadContextKey{}, result)
}

type pendingUpload struct {
	field     string
	header    *multipart.FileHeader
	filename  string
	mediaType string
}

// PersistUpload returns middleware that stores the recognized multipart
// files before calling next.
//
// Every file is validated before the first write, so a rejected media type
// or size never leaves a partial batch. Writes then happen in order; a store
// failure aborts the request and earlier writes stay persisted.
func (s *Server) PersistUpload(opts UploadOptions) func(http.Handler) http.Handler {
	opts = opts.withDefaults()
	allowed := mediaTypeSet(opts.AllowedMediaTypes)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !isMultipart(r) {
				next.ServeHTTP(w, r)
				return
			}

			r.Body = http.MaxBytesReader(w, r.Body, opts.maxBodyBytes())
			if err := r.ParseMultipartForm(opts.MultipartMemory); err != nil {
				s.writeServiceError(w, r, classifyMultipartError(err))
				return
			}
			defer func() {
				if r.MultipartForm != nil {
					_ = r.MultipartForm.RemoveAll()
				}
			}()

			pending, err := collectUploads(r.MultipartForm, opts, allowed)
			if err != nil {
				s.writeServiceError(w, r, err)
				return
			}

			refs := make([]models.ImageReference, 0, len(pending))
			for _, p := range pending {
				img, err := s.persistOne(r.Context(), p)
				if err != nil {
					s.log().Error("persist upload", "field", p.field, "filename", p.filename, "persisted", len(refs), "error", err)
					s.writeServiceError(w, r, err)
					return
				}
				refs = append(refs, models.NewImageReference(*img))
			}

			if opts.AttachReferences {
				r = r.WithContext(contextWithUploads(r.Context(), newUploadResult(refs)))
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (s *Server) persistOne(ctx context.Context, p pendingUpload) (*models.StoredImage, error) {
	file, err := p.header.Open()
	if err != nil {
		return nil, internalError(fmt.Errorf("open upload %q: %w", p.filename, err))
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, internalError(fmt.Errorf("read upload %q: %w", p.filename, err))
	}

	img, err := s.store.PutUpsertingMetadata(ctx, p.filename, p.mediaType, data)
	if err != nil {
		return nil, classifyStoreError(err)
	}
	s.metrics.recordUpload(ctx, p.field, p.mediaType, img.SizeBytes)
	return img, nil
}

func collectUploads(form *multipart.Form, opts UploadOptions, allowed map[string]struct{}) ([]pendingUpload, error) {
	if form == nil {
		return nil, nil
	}

	var pending []pendingUpload
	for _, field := range opts.Fields {
		for _, header := range form.File[field] {
			mediaType := declaredMediaType(header)
			if len(allowed) > 0 {
				if _, ok := allowed[mediaType]; !ok {
					return nil, unsupportedMediaType(fmt.Errorf("unsupported media type %q for %q", mediaType, header.Filename))
				}
			}
			if opts.MaxFileBytes > 0 && header.Size > opts.MaxFileBytes {
				return nil, payloadTooLarge(fmt.Errorf("file %q exceeds %d bytes", header.Filename, opts.MaxFileBytes))
			}
			pending = append(pending, pendingUpload{
				field:     field,
				header:    header,
				filename:  firstNonEmpty(header.Filename, field),
				mediaType: mediaType,
			})
		}
	}
	if len(pending) > opts.MaxFiles {
		return nil, payloadTooLarge(fmt.Errorf("too many files: %d (max %d)", len(pending), opts.MaxFiles))
	}
	return pending, nil
}

func newUploadResult(refs []models.ImageReference) UploadResult {
	switch len(refs) {
	case 0:
		return UploadResult{}
	case 1:
		ref := refs[0]
		return UploadResult{Single: &ref}
	default:
		return UploadResult{Multiple: refs}
	}
}

func (o UploadOptions) withDefaults() UploadOptions {
	if o.MultipartMemory <= 0 {
		o.MultipartMemory = defaultMultipartMemory
	}
	if o.MaxFiles <= 0 {
		o.MaxFiles = defaultMaxFilesPerBody
	}
	o.Fields = append([]string(nil), o.Fields...)
	return o
}

// maxBodyBytes bounds the whole request body. It is zero-safe and only
// approximates the per-file ceiling, which is checked per part afterwards.
func (o UploadOptions) maxBodyBytes() int64 {
	if o.MaxFileBytes <= 0 {
		return 1 << 40
	}
	return o.MaxFileBytes*int64(o.MaxFiles) + multipartOverhead
}

func declaredMediaType(header *multipart.FileHeader) string {
	raw := strings.TrimSpace(header.Header.Get("Content-Type"))
	if raw == "" {
		return ""
	}
	mediaType, _, err := mime.ParseMediaType(raw)
	if err != nil {
		return strings.ToLower(raw)
	}
	return strings.ToLower(mediaType)
}

func mediaTypeSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		v = strings.ToLower(strings.TrimSpace(v))
		if v != "" {
			set[v] = struct{}{}
		}
	}
	return set
}

func isMultipart(r *http.Request) bool {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return err == nil && strings.HasPrefix(mediaType, "multipart/")
}

func classifyMultipartError(err error) error {
	if err == nil {
		return nil
	}
	var maxBytesErr *http.MaxBytesError
	if errors.As(err, &maxBytesErr) || strings.Contains(strings.ToLower(err.Error()), "request body too large") {
		return payloadTooLarge(fmt.Errorf("request body too large"))
	}
	return badRequestCode(err, ErrCodeInvalidMultipart)
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return ""
}
