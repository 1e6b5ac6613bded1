package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// ErrNotConfigured is returned when a call is attempted against an endpoint
// with no base URL or model set. No network request is made.
var ErrNotConfigured = errors.New("provider: model not configured")

// HTTPError is a non-2xx provider response. The body is carried verbatim so
// the caller can surface the provider's own error detail.
type HTTPError struct {
	// Status is the HTTP status code.
	Status int
	// Body is the response body, truncated to a reasonable length.
	Body string
}

// maxErrorBody bounds how much of a provider error body is retained.
const maxErrorBody = 2048

// Error implements the error interface.
func (e *HTTPError) Error() string {
	return fmt.Sprintf("provider: API error (%d): %s", e.Status, e.Body)
}

// newHTTPError builds an HTTPError with a bounded body.
func newHTTPError(status int, body []byte) *HTTPError {
	s := string(body)
	if len(s) > maxErrorBody {
		s = s[:maxErrorBody]
	}
	return &HTTPError{Status: status, Body: s}
}

// Reason converts any provider call failure into the short human-readable
// cause carried by a terminal error event. Timeouts are reported as such;
// everything else keeps its message.
func Reason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.DeadlineExceeded):
		return "request timeout"
	case errors.Is(err, ErrNotConfigured):
		return "model not configured"
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "request timeout"
	}
	return err.Error()
}
