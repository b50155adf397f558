package proxy

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/url"
)

// IsSuccess classifies an attempt for circuit breaker accounting.
// Responses below 500 count as success; 5xx, transport errors, and
// timeouts count as failure.
func IsSuccess(resp *http.Response, err error) bool {
	if err != nil {
		return false
	}
	return resp.StatusCode < http.StatusInternalServerError
}

// IsTimeout reports whether the error is a deadline expiry rather than
// a connection-level failure.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Timeout() {
		return true
	}

	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
