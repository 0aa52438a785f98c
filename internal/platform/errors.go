// errors.go defines the error values returned by the REST gateway client.
package platform

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrMissingBaseURL is returned by New for an empty base URL
	ErrMissingBaseURL = errors.New("missing platform base URL")
	// ErrMissingServiceKey is returned by New for an empty service key
	ErrMissingServiceKey = errors.New("missing platform service key")

	// ErrUnauthorized is wrapped by an APIError for 401 and 403 answers
	ErrUnauthorized = errors.New("service key rejected")
	// ErrNotFound is wrapped by an APIError for 404 answers
	ErrNotFound = errors.New("endpoint or relation not found")
	// ErrRateLimited is wrapped by an APIError for 429 answers
	ErrRateLimited = errors.New("gateway rate limit exceeded")
)

// APIError is a non-2xx answer from the gateway. Body is the raw response
// text, kept verbatim so it can be shown to the operator.
type APIError struct {
	Method     string
	Endpoint   string
	StatusCode int
	Body       string
	Err        error
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s %s returned status %d: %s", e.Method, e.Endpoint, e.StatusCode, e.Body)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// newAPIError builds the error for a non-2xx answer, wrapping the sentinel
// that matches the status when there is one.
func newAPIError(method, endpoint string, status int, body string) *APIError {
	e := &APIError{Method: method, Endpoint: endpoint, StatusCode: status, Body: body}
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		e.Err = ErrUnauthorized
	case http.StatusNotFound:
		e.Err = ErrNotFound
	case http.StatusTooManyRequests:
		e.Err = ErrRateLimited
	}
	return e
}

// StatusOf returns the HTTP status carried by err, or 0 when err is not an
// *APIError (transport failures, context cancellation).
func StatusOf(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}
