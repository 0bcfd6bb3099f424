// Package client talks to the felanmalan backend over its public HTTP surface.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/osvaldoandrade/felanmalan/pkg/domain"
)

// MsgUnreachable is reported when the backend cannot be reached at all.
const MsgUnreachable = "Could not reach the fault report service"

type Client struct {
	http *resty.Client
}

type Option func(*Client)

// WithTimeout overrides the default 60s request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.http.SetTimeout(d) }
}

// WithHeader sets a header on every request.
func WithHeader(key, value string) Option {
	return func(c *Client) { c.http.SetHeader(key, value) }
}

// New returns a client for the API mounted at baseURL, e.g.
// http://localhost:3000/api.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		http: resty.New().
			SetBaseURL(strings.TrimRight(baseURL, "/")).
			SetTimeout(60*time.Second).
			SetHeader("Accept", "application/json"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type messageBody struct {
	Message string `json:"message"`
}

// SubmitErrand posts draft and images as one multipart request.
func (c *Client) SubmitErrand(ctx context.Context, draft domain.ErrandDraft, images []domain.Upload) (*domain.CreatedErrand, error) {
	payload, err := json.Marshal(draft)
	if err != nil {
		return nil, fmt.Errorf("encode errand: %w", err)
	}

	var out domain.CreatedErrand
	req := c.http.R().
		SetContext(ctx).
		SetMultipartFormData(map[string]string{"errand": string(payload)}).
		SetResult(&out).
		SetError(&messageBody{})
	for _, img := range images {
		req.SetMultipartField("images", img.FileName, img.ContentType, bytes.NewReader(img.Data))
	}

	resp, err := req.Post("/errands")
	if err := check(resp, err); err != nil {
		return nil, err
	}
	return &out, nil
}

// ActiveErrands returns the markers of open fault reports.
func (c *Client) ActiveErrands(ctx context.Context) ([]domain.ErrandMarker, error) {
	var out struct {
		Errands []domain.ErrandMarker `json:"errands"`
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&out).
		SetError(&messageBody{}).
		Get("/errands")
	if err := check(resp, err); err != nil {
		return nil, err
	}
	return out.Errands, nil
}

// Attachment downloads one attachment of an errand.
func (c *Client) Attachment(ctx context.Context, errandID, attachmentID string) (*domain.Attachment, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Accept", "*/*").
		SetError(&messageBody{}).
		SetPathParams(map[string]string{"errandId": errandID, "attachmentId": attachmentID}).
		Get("/errands/{errandId}/attachments/{attachmentId}")
	if err := check(resp, err); err != nil {
		return nil, err
	}
	return &domain.Attachment{ContentType: resp.Header().Get("Content-Type"), Data: resp.Body()}, nil
}

// Health reports whether the backend answers its liveness probe.
func (c *Client) Health(ctx context.Context) error {
	var out struct {
		Status string `json:"status"`
	}
	resp, err := c.http.R().SetContext(ctx).SetResult(&out).Get("/health/up")
	if err := check(resp, err); err != nil {
		return err
	}
	if out.Status != "OK" {
		return domain.NewHTTPError(resp.StatusCode(), "unexpected health status "+out.Status)
	}
	return nil
}

// check turns transport failures and non-2xx answers into *domain.HTTPError,
// keeping the server's message when it sent one.
func check(resp *resty.Response, err error) error {
	if err != nil {
		return domain.NewHTTPError(0, MsgUnreachable)
	}
	if !resp.IsError() {
		return nil
	}
	msg := http.StatusText(resp.StatusCode())
	if body, ok := resp.Error().(*messageBody); ok && body.Message != "" {
		msg = body.Message
	}
	return domain.NewHTTPError(resp.StatusCode(), msg)
}
