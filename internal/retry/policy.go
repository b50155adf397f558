package retry

import (
	"net/http"
	"time"
)

// MaxAttempts caps total attempts per request: the original call plus
// at most one retry.
const MaxAttempts = 2

// Policy decides whether a failed attempt is retried and how long to
// wait first.
type Policy struct {
	// Enabled turns retries on. A disabled policy never retries.
	Enabled bool

	backoff Backoff
}

// NewPolicy creates a retry policy with the given backoff. A nil
// backoff defaults to full jitter between 50ms and 500ms.
func NewPolicy(enabled bool, backoff Backoff) *Policy {
	if backoff == nil {
		backoff = NewFullJitterBackoff(50*time.Millisecond, 500*time.Millisecond)
	}
	return &Policy{Enabled: enabled, backoff: backoff}
}

// ShouldRetry reports whether the attempt may be repeated. attempt is
// 1-based: the first call is attempt 1. A received response is never
// retried, whatever its status; retries cover connection-level
// failures on idempotent methods only.
func (p *Policy) ShouldRetry(attempt int, method string, resp *http.Response, err error) bool {
	if p == nil || !p.Enabled {
		return false
	}
	if attempt >= MaxAttempts {
		return false
	}
	if resp != nil {
		return false
	}
	if !IsIdempotent(method) {
		return false
	}
	return IsConnectionError(err)
}

// Delay returns the wait before the given 1-based retry attempt.
func (p *Policy) Delay(attempt int) time.Duration {
	return p.backoff.Next(attempt - 1)
}
