package domain

import (
	"errors"
	"net/http"
)

// Client-visible messages. Upstream payloads are never echoed.
const (
	MsgNotFound              = "Not found"
	MsgUpstreamFailed        = "Request to upstream API failed"
	MsgUpstreamUnavailable   = "Upstream API is unavailable"
	MsgMissingPayload        = "Missing errand payload"
	MsgInvalidPayload        = "Invalid errand payload"
	MsgImagesOnly            = "Only image files are allowed"
	MsgTooManyFiles          = "Too many files"
	MsgFileTooLarge          = "Each file can be at most 25MB"
	MsgCreateFailed          = "Errand creation failed"
	MsgUploadFailed          = "Attachment upload failed"
	MsgUploadRollbackFailed  = "Attachment upload failed and rollback failed"
	MsgCreateErrandFailed    = "Failed to create errand"
	MsgFetchErrandsFailed    = "Failed to fetch errands"
	MsgAttachmentNotFound    = "Attachment not found"
	MsgFetchAttachmentFailed = "Failed to fetch attachment"
	MsgTooManyRequests       = "Too many requests, please try again later."
)

// HTTPError carries the status a failure maps to at the HTTP boundary.
type HTTPError struct {
	Status  int
	Message string
}

func NewHTTPError(status int, message string) *HTTPError {
	return &HTTPError{Status: status, Message: message}
}

func (e *HTTPError) Error() string { return e.Message }

// UpstreamError maps an upstream response status to the normalized taxonomy:
// 404 stays 404, other 4xx keep their status, everything else becomes 502.
func UpstreamError(status int) *HTTPError {
	switch {
	case status == http.StatusNotFound:
		return NewHTTPError(http.StatusNotFound, MsgNotFound)
	case status >= 400 && status < 500:
		return NewHTTPError(status, MsgUpstreamFailed)
	default:
		return NewHTTPError(http.StatusBadGateway, MsgUpstreamUnavailable)
	}
}

// StatusOf returns the mapped status of err, or 502 for anything unmapped.
func StatusOf(err error) int {
	var he *HTTPError
	if errors.As(err, &he) {
		return he.Status
	}
	return http.StatusBadGateway
}

// IsNotFound reports whether err maps to 404.
func IsNotFound(err error) bool {
	var he *HTTPError
	return errors.As(err, &he) && he.Status == http.StatusNotFound
}
