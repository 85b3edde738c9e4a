// Package drive provides an HTTP client for the Google Drive v3 API
// with automatic retry, rate limit handling, and error classification.
package drive

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Sentinel errors for HTTP status code classification.
// Use errors.Is(err, drive.ErrNotFound) to check.
var (
	ErrBadRequest    = errors.New("drive: bad request")
	ErrUnauthorized  = errors.New("drive: unauthorized")
	ErrForbidden     = errors.New("drive: forbidden")
	ErrNotFound      = errors.New("drive: not found")
	ErrServerError   = errors.New("drive: server error")
	ErrThrottled     = errors.New("drive: throttled")
	ErrCursorInvalid = errors.New("drive: change cursor invalid or expired")
)

// APIError wraps a sentinel error with the HTTP status code and the API
// error message body for debugging.
type APIError struct {
	StatusCode int
	Message    string
	Err        error // sentinel, for errors.Is()
}

func (e *APIError) Error() string {
	return fmt.Sprintf("drive: HTTP %d: %s", e.StatusCode, e.Message)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// classifyStatus maps an HTTP status code to a sentinel error.
// Returns nil for 2xx success codes.
func classifyStatus(code int) error {
	switch code {
	case http.StatusBadRequest:
		return ErrBadRequest
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusForbidden:
		return ErrForbidden
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusTooManyRequests:
		return ErrThrottled
	default:
		if code >= http.StatusInternalServerError {
			return ErrServerError
		}

		return nil
	}
}

// isRetryable reports whether a response should be retried. Unlike plain
// status matching, 403 is retryable only when the Drive API signals a rate
// limit in the body — a permission 403 never resolves by retrying.
func isRetryable(code int, body string) bool {
	switch code {
	case http.StatusRequestTimeout,
		http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	case http.StatusForbidden:
		return strings.Contains(body, "rateLimitExceeded") ||
			strings.Contains(body, "userRateLimitExceeded")
	default:
		return false
	}
}
