package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"

	"github.com/osvaldoandrade/felanmalan/internal/metrics"
	"github.com/osvaldoandrade/felanmalan/internal/tracing"
	"github.com/osvaldoandrade/felanmalan/pkg/domain"
)

const DefaultTimeout = 30 * time.Second

// Request describes one upstream call. Path is relative to the client's API
// base unless absolute. File, when set, is sent as a single multipart part
// named FileField; otherwise Body is sent as JSON.
type Request struct {
	Path      string
	Body      any
	File      *domain.Upload
	FileField string
	Headers   map[string]string
	Params    map[string]string
	Timeout   time.Duration
}

type Response struct {
	Data        []byte
	Message     string
	Status      int
	ContentType string
}

// APIClient is an authenticated client for one upstream API. Failures are
// returned as *domain.HTTPError using the upstream status mapping.
type APIClient interface {
	Get(ctx context.Context, req Request) (*Response, error)
	Post(ctx context.Context, req Request) (*Response, error)
	Put(ctx context.Context, req Request) (*Response, error)
	Patch(ctx context.Context, req Request) (*Response, error)
	Delete(ctx context.Context, req Request) (*Response, error)
}

type apiClient struct {
	http    *resty.Client
	api     string
	tokens  TokenProvider
	sentBy  string
	timeout time.Duration
	logger  *slog.Logger
}

// NewAPIClient builds a client rooted at baseURL/api, e.g.
// https://gateway.example.com + supportmanagement/12.4.
func NewAPIClient(baseURL, api string, tokens TokenProvider, sentBy string, timeout time.Duration, logger *slog.Logger) APIClient {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if tokens == nil {
		tokens = NewStaticTokenProvider("")
	}
	return &apiClient{
		http:    resty.New().SetBaseURL(joinURL(baseURL, api)).SetDisableWarn(true),
		api:     api,
		tokens:  tokens,
		sentBy:  sentBy,
		timeout: timeout,
		logger:  logger,
	}
}

func (c *apiClient) Get(ctx context.Context, req Request) (*Response, error) {
	return c.do(ctx, http.MethodGet, req)
}

func (c *apiClient) Post(ctx context.Context, req Request) (*Response, error) {
	return c.do(ctx, http.MethodPost, req)
}

func (c *apiClient) Put(ctx context.Context, req Request) (*Response, error) {
	return c.do(ctx, http.MethodPut, req)
}

func (c *apiClient) Patch(ctx context.Context, req Request) (*Response, error) {
	return c.do(ctx, http.MethodPatch, req)
}

func (c *apiClient) Delete(ctx context.Context, req Request) (*Response, error) {
	return c.do(ctx, http.MethodDelete, req)
}

func (c *apiClient) do(ctx context.Context, method string, req Request) (*Response, error) {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		c.logger.Error("upstream token unavailable", "api", c.api, "err", err)
		return nil, domain.UpstreamError(0)
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = c.timeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	reqID := uuid.NewString()
	c.logger.Debug("upstream request", "api", c.api, "method", method, "path", req.Path, "x_request_id", reqID)

	r := c.newRequest(ctx, token, reqID)
	if len(req.Params) > 0 {
		r.SetQueryParams(req.Params)
	}
	switch {
	case req.File != nil:
		field := req.FileField
		if field == "" {
			field = "file"
		}
		r.SetMultipartField(field, req.File.FileName, req.File.ContentType, bytes.NewReader(req.File.Data))
	case req.Body != nil:
		r.SetHeader("Content-Type", "application/json").SetBody(req.Body)
	}
	if len(req.Headers) > 0 {
		r.SetHeaders(req.Headers)
	}

	resp, err := c.execute(r, method, req.Path)
	if err != nil {
		return nil, err
	}

	loc := resp.Header().Get("Location")
	if loc == "" {
		return toResponse(resp), nil
	}

	// Async-creation pattern: the created resource is fetched from Location.
	follow, err := c.execute(c.newRequest(ctx, token, reqID), http.MethodGet, c.locationURL(loc))
	if err != nil {
		return nil, err
	}
	return toResponse(follow), nil
}

func (c *apiClient) newRequest(ctx context.Context, token, reqID string) *resty.Request {
	r := c.http.R().
		SetContext(ctx).
		SetHeader("X-Request-Id", reqID).
		SetHeader("X-Sent-By", c.sentBy)
	if token != "" {
		r.SetAuthToken(token)
	}
	tracing.InjectHeaders(ctx, r.Header)
	return r
}

func (c *apiClient) execute(r *resty.Request, method, path string) (*resty.Response, error) {
	start := time.Now()
	resp, err := r.Execute(method, path)
	metrics.UpstreamLatencySeconds.WithLabelValues(c.api, method).Observe(time.Since(start).Seconds())

	if err != nil {
		metrics.UpstreamRequestsTotal.WithLabelValues(c.api, method, metrics.StatusClass(0)).Inc()
		if errors.Is(err, context.DeadlineExceeded) {
			c.logger.Error("upstream request timed out", "api", c.api, "method", method, "path", path)
		} else {
			c.logger.Error("upstream request failed", "api", c.api, "method", method, "path", path, "err", err)
		}
		return nil, domain.UpstreamError(0)
	}

	status := resp.StatusCode()
	metrics.UpstreamRequestsTotal.WithLabelValues(c.api, method, metrics.StatusClass(status)).Inc()
	if resp.IsError() {
		c.logger.Error("upstream request failed with status",
			"api", c.api, "method", method, "path", path, "status", status,
			"body", truncate(string(resp.Body()), 500))
		return nil, domain.UpstreamError(status)
	}
	return resp, nil
}

func toResponse(resp *resty.Response) *Response {
	return &Response{
		Data:        resp.Body(),
		Message:     "success",
		Status:      resp.StatusCode(),
		ContentType: resp.Header().Get("Content-Type"),
	}
}

// DecodeJSON unmarshals a response body into T.
func DecodeJSON[T any](resp *Response) (T, error) {
	var out T
	if resp == nil || len(resp.Data) == 0 {
		return out, nil
	}
	err := json.Unmarshal(resp.Data, &out)
	return out, err
}

// locationURL keeps absolute URLs and roots everything else at the API base,
// so /2281/NS/errands/e-1 keeps the supportmanagement/12.4 prefix.
func (c *apiClient) locationURL(loc string) string {
	if u, err := url.Parse(loc); err == nil && u.IsAbs() && u.Host != "" {
		return loc
	}
	return joinURL(c.http.BaseURL, loc)
}

func joinURL(parts ...string) string {
	out := make([]string, 0, len(parts))
	for i, p := range parts {
		if i == 0 {
			p = strings.TrimRight(p, "/")
		} else {
			p = strings.Trim(p, "/")
		}
		if p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, "/")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
