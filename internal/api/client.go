package api

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"dbimage/internal/models"
)

const (
	defaultHTTPTimeout = 30 * time.Second
	httpTimeoutEnvKey  = "DBIMAGE_HTTP_TIMEOUT"
	uploadTokenEnvKey  = "DBIMAGE_UPLOAD_TOKEN"
)

var tracer = otel.Tracer("dbimage/internal/api")

// Client is a small HTTP client for the dbimage server.
type Client struct {
	http *resty.Client
}

// UploadFile is one file part of a multipart upload.
type UploadFile struct {
	Field     string
	Filename  string
	MediaType string
	Data      []byte
}

// NewClient creates a new API client.
func NewClient(baseURL string) *Client {
	client := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(httpTimeoutFromEnv())
	if token := strings.TrimSpace(os.Getenv(uploadTokenEnvKey)); token != "" {
		client.SetAuthToken(token)
	}
	instrument(client)
	return &Client{http: client}
}

// Ping checks whether the API server is reachable.
func (c *Client) Ping(ctx context.Context) error {
	var resp HealthResponse
	return c.do(c.http.R().SetContext(ctx).SetResult(&resp), http.MethodGet, "/health")
}

// Stats returns store counters.
func (c *Client) Stats(ctx context.Context) (StatsResponse, error) {
	var resp StatsResponse
	err := c.do(c.http.R().SetContext(ctx).SetResult(&resp), http.MethodGet, "/v1/stats")
	return resp, err
}

// Upload posts files to the named upload preset.
func (c *Client) Upload(ctx context.Context, kind string, files ...UploadFile) (UploadResponse, error) {
	var resp UploadResponse
	if len(files) == 0 {
		return resp, fmt.Errorf("at least one file is required")
	}
	req := c.http.R().SetContext(ctx).SetResult(&resp)
	for _, f := range files {
		req.SetMultipartField(f.Field, f.Filename, f.MediaType, bytes.NewReader(f.Data))
	}
	err := c.do(req, http.MethodPost, "/v1/uploads/"+url.PathEscape(kind))
	return resp, err
}

// ImageByID downloads an image by its canonical id.
func (c *Client) ImageByID(ctx context.Context, id int64) (ImageContent, error) {
	return c.image(ctx, models.ImageURL(id))
}

// ImageByFilename downloads the image currently named filename.
func (c *Client) ImageByFilename(ctx context.Context, filename string) (ImageContent, error) {
	return c.image(ctx, models.ImageFilenameURL(filename))
}

func (c *Client) image(ctx context.Context, path string) (ImageContent, error) {
	resp, err := c.http.R().SetContext(ctx).SetError(&ErrorResponse{}).Execute(http.MethodGet, path)
	if err != nil {
		return ImageContent{}, err
	}
	if resp.IsError() {
		return ImageContent{}, decodeError(resp)
	}
	return ImageContent{
		Data:        resp.Body(),
		ContentType: resp.Header().Get("Content-Type"),
		ETag:        resp.Header().Get("ETag"),
	}, nil
}

func (c *Client) do(req *resty.Request, method, path string) error {
	req.SetError(&ErrorResponse{})
	resp, err := req.Execute(method, path)
	if err != nil {
		return err
	}
	if resp.IsError() {
		return decodeError(resp)
	}
	return nil
}

func decodeError(resp *resty.Response) error {
	apiErr := &APIError{Status: resp.StatusCode()}
	if errResp, ok := resp.Error().(*ErrorResponse); ok && errResp != nil && errResp.Error != "" {
		apiErr.Code = errResp.Code
		apiErr.ErrorCode = errResp.ErrorCode
		apiErr.Message = errResp.Error
		return apiErr
	}
	apiErr.Message = fmt.Sprintf("api error: %s", resp.Status())
	return apiErr
}

func instrument(client *resty.Client) {
	client.OnBeforeRequest(func(_ *resty.Client, req *resty.Request) error {
		ctx, _ := tracer.Start(req.Context(), "http "+req.Method)
		req.SetContext(ctx)
		return nil
	})
	client.OnAfterResponse(func(_ *resty.Client, resp *resty.Response) error {
		span := trace.SpanFromContext(resp.Request.Context())
		defer span.End()
		span.SetAttributes(
			attribute.String("http.url", resp.Request.URL),
			attribute.Int("http.status_code", resp.StatusCode()),
		)
		if resp.StatusCode() >= 500 {
			span.SetStatus(codes.Error, resp.Status())
		}
		return nil
	})
	client.OnError(func(req *resty.Request, err error) {
		span := trace.SpanFromContext(req.Context())
		defer span.End()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	})
}

func httpTimeoutFromEnv() time.Duration {
	raw := strings.TrimSpace(os.Getenv(httpTimeoutEnvKey))
	if raw == "" {
		return defaultHTTPTimeout
	}
	if seconds, err := strconv.Atoi(raw); err == nil {
		if seconds <= 0 {
			return defaultHTTPTimeout
		}
		return time.Duration(seconds) * time.Second
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil || parsed <= 0 {
		return defaultHTTPTimeout
	}
	return parsed
}
