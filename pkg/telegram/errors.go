package telegram

import (
	"errors"
	"fmt"
	"time"
)

// NetworkError covers connectivity failures: dial errors, timeouts, broken
// responses. Always retriable.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("telegram: %s network error: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// APIError means the remote endpoint explicitly rejected the request. Only
// 5xx responses are retriable; other rejections are final.
type APIError struct {
	StatusCode  int
	Code        int
	Description string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("telegram: api error %d (code %d): %s", e.StatusCode, e.Code, e.Description)
}

// RateLimitedError is an explicit throttle signal, kept distinct from generic
// 5xx so callers can honor the suggested delay.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("telegram: rate limited, retry after %s", e.RetryAfter)
}

// Retriable reports whether a send attempt that failed with err may be
// repeated.
func Retriable(err error) bool {
	var netErr *NetworkError
	if errors.As(err, &netErr) {
		return true
	}
	var rateErr *RateLimitedError
	if errors.As(err, &rateErr) {
		return true
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode >= 500
	}
	return false
}
