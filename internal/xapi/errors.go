package xapi

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// Error kinds returned by the client. Match them with errors.Is.
var (
	ErrRateLimited  = errors.New("x api: rate limited")
	ErrNotFound     = errors.New("x api: not found")
	ErrUnauthorized = errors.New("x api: unauthorized")
	ErrTransient    = errors.New("x api: transient failure")
	ErrFatal        = errors.New("x api: request rejected")
)

// APIError is a non-2xx answer from the X API.
type APIError struct {
	StatusCode int
	Kind       error
	Title      string
	Detail     string
	// ResetAt is when the rate limit window reopens, zero if the header was absent.
	ResetAt time.Time
}

func (e *APIError) Error() string {
	msg := e.Detail
	if msg == "" {
		msg = e.Title
	}
	if msg == "" {
		msg = http.StatusText(e.StatusCode)
	}
	return fmt.Sprintf("%v: status %d: %s", e.Kind, e.StatusCode, msg)
}

func (e *APIError) Unwrap() error {
	return e.Kind
}

// errorBody covers both the problem+json and the v1.1 style error payloads.
type errorBody struct {
	Title  string `json:"title"`
	Detail string `json:"detail"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

// kindForStatus maps an HTTP status to one of the error kinds.
func kindForStatus(status int) error {
	switch {
	case status == http.StatusTooManyRequests:
		return ErrRateLimited
	case status == http.StatusNotFound:
		return ErrNotFound
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return ErrUnauthorized
	case status >= 500, status == http.StatusRequestTimeout:
		return ErrTransient
	default:
		return ErrFatal
	}
}

func newAPIError(status int, header http.Header, body *errorBody) *APIError {
	apiErr := &APIError{
		StatusCode: status,
		Kind:       kindForStatus(status),
	}
	if body != nil {
		apiErr.Title = body.Title
		apiErr.Detail = body.Detail
		if apiErr.Detail == "" && len(body.Errors) > 0 {
			apiErr.Detail = body.Errors[0].Message
		}
	}
	if reset := header.Get("x-rate-limit-reset"); reset != "" {
		if secs, err := strconv.ParseInt(reset, 10, 64); err == nil {
			apiErr.ResetAt = time.Unix(secs, 0)
		}
	}
	return apiErr
}

// IsRetryable reports whether err is worth retrying on the same item.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTransient)
}

// RateLimitReset returns when the window behind a 429 reopens, if X said so.
func RateLimitReset(err error) (time.Time, bool) {
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.ResetAt.IsZero() {
		return time.Time{}, false
	}
	return apiErr.ResetAt, true
}
