package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"dbimage/internal/store"
)

const (
	allowRemoteEnvKey        = "DBIMAGE_ALLOW_REMOTE"
	readHeaderTimeout        = 5 * time.Second
	readTimeout              = 60 * time.Second
	writeTimeout             = 60 * time.Second
	idleTimeout              = 60 * time.Second
	shutdownTimeout          = 10 * time.Second
	defaultUploadConcurrency = 8
)

// Options configures the standalone server.
type Options struct {
	// Presets maps upload kinds to their compositions. Nil uses
	// UploadPresets(nil).
	Presets map[string]UploadOptions

	// UploadTokenHash is a bcrypt hash guarding POST /v1/uploads/{kind}.
	// Empty leaves uploads open.
	UploadTokenHash string

	UploadConcurrency int
}

// Server wraps the HTTP handlers for image ingestion and delivery.
type Server struct {
	responder
	addr            string
	store           store.ImageStore
	images          *ImageService
	presets         map[string]UploadOptions
	uploadTokenHash string
	uploadLimiter   chan struct{}
	metrics         *serverMetrics
	authFailures    *authFailureLimiter
}

// New creates a new server instance.
func New(addr string, imageStore store.ImageStore, logger *slog.Logger, opts Options) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	presets := opts.Presets
	if presets == nil {
		presets = UploadPresets(nil)
	}
	concurrency := opts.UploadConcurrency
	if concurrency <= 0 {
		concurrency = defaultUploadConcurrency
	}

	return &Server{
		responder:       responder{logger: logger},
		addr:            addr,
		store:           imageStore,
		images:          NewImageService(imageStore, logger),
		presets:         presets,
		uploadTokenHash: strings.TrimSpace(opts.UploadTokenHash),
		uploadLimiter:   make(chan struct{}, concurrency),
		metrics:         newServerMetrics(),
		authFailures:    newAuthFailureLimiter(authMaxFailures, authFailureWindow, authBlockDuration),
	}
}

// Images returns the delivery service backing the image routes.
func (s *Server) Images() *ImageService {
	return s.images
}

// Handler returns the full route tree wrapped in request logging.
func (s *Server) Handler() http.Handler {
	return s.withRequestLogging(s.routes())
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	s.log().Info("starting server", "addr", s.addr)
	server := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.log().Info("shutting down server", "addr", s.addr)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// ListenAddr converts a base API URL into a listen address.
func ListenAddr(apiURL string) (string, error) {
	if apiURL == "" {
		return "", fmt.Errorf("api url is required")
	}
	if u, err := url.Parse(apiURL); err == nil && u.Host != "" {
		host := u.Hostname()
		if !isAllowedListenHost(host) {
			return "", fmt.Errorf("remote listen host %q requires %s=true", host, allowRemoteEnvKey)
		}
		return u.Host, nil
	}

	host, _, err := net.SplitHostPort(apiURL)
	if err == nil && !isAllowedListenHost(host) {
		return "", fmt.Errorf("remote listen host %q requires %s=true", host, allowRemoteEnvKey)
	}

	return apiURL, nil
}

func isAllowedListenHost(host string) bool {
	if host == "" {
		return true
	}
	if strings.EqualFold(strings.TrimSpace(os.Getenv(allowRemoteEnvKey)), "true") {
		return true
	}
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func (s *Server) acquireLimiter(limiter chan struct{}, w http.ResponseWriter, r *http.Request, name string) bool {
	if limiter == nil {
		return true
	}
	select {
	case limiter <- struct{}{}:
		return true
	default:
		err := apiError{
			status:  http.StatusTooManyRequests,
			code:    "resource_exhausted",
			errCode: ErrCodeResourceExhausted,
			err:     fmt.Errorf("too many concurrent %s requests", name),
		}
		s.writeErrorReq(w, r, http.StatusTooManyRequests, err)
		return false
	}
}

func (s *Server) releaseLimiter(limiter chan struct{}) {
	if limiter == nil {
		return
	}
	select {
	case <-limiter:
	default:
	}
}
