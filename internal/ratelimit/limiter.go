// Package ratelimit provides fixed-window rate limiting for the
// admission pipeline. Windows are aligned to epoch multiples of the
// window length, so all limiters agree on window boundaries for a given
// key regardless of when traffic started.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/gatehouseio/gatehouse/internal/ratelimit/store"
	"go.uber.org/zap"
)

// Decision is the outcome of a rate limit check.
type Decision struct {
	// Allowed indicates whether the request may proceed.
	Allowed bool

	// Limit is the maximum number of requests allowed in the window.
	Limit int

	// Remaining is the number of requests remaining in the current window.
	Remaining int

	// ResetAfter is the duration until the current window ends.
	ResetAfter time.Duration

	// RetryAfter is the duration to wait before retrying. Zero when the
	// request was allowed.
	RetryAfter time.Duration
}

// Limiter implements fixed-window rate limiting over a counter store.
type Limiter struct {
	store  store.Store
	logger *zap.Logger

	// now is swappable for window boundary tests.
	now func() time.Time
}

// NewLimiter creates a new fixed-window limiter backed by the given store.
func NewLimiter(s store.Store, logger *zap.Logger) *Limiter {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Limiter{
		store:  s,
		logger: logger,
		now:    time.Now,
	}
}

// windowStart returns the start of the fixed window containing t.
func windowStart(t time.Time, window time.Duration) time.Time {
	windowNanos := window.Nanoseconds()
	return time.Unix(0, (t.UnixNano()/windowNanos)*windowNanos)
}

// windowKey builds the counter key for one subject, class and window.
func windowKey(subjectKey, endpointClass string, start time.Time) string {
	return fmt.Sprintf("%s:%s:%d", endpointClass, subjectKey, start.UnixMilli())
}

// CheckAndConsume consumes one slot from the subject's window and
// reports the decision. The counter is incremented unconditionally so
// the admission check is a single atomic store operation; counts beyond
// the limit only ever map to denied decisions.
func (l *Limiter) CheckAndConsume(
	ctx context.Context,
	subjectKey, endpointClass string,
	limit int,
	window time.Duration,
) (*Decision, error) {
	now := l.now()
	start := windowStart(now, window)
	key := windowKey(subjectKey, endpointClass, start)

	// Counters expire two windows after creation, which keeps every
	// entry within the eviction bound even when it is never read again.
	count, err := l.store.IncrementWithExpiry(ctx, key, 1, 2*window)
	if err != nil {
		return nil, fmt.Errorf("rate limit increment: %w", err)
	}

	return l.decide(count, limit, window, start, now), nil
}

// Peek reports the subject's current window usage without consuming.
func (l *Limiter) Peek(
	ctx context.Context,
	subjectKey, endpointClass string,
	limit int,
	window time.Duration,
) (*Decision, error) {
	now := l.now()
	start := windowStart(now, window)
	key := windowKey(subjectKey, endpointClass, start)

	count, err := l.store.Get(ctx, key)
	if err != nil {
		if store.IsKeyNotFound(err) {
			count = 0
		} else {
			return nil, fmt.Errorf("rate limit peek: %w", err)
		}
	}

	decision := l.decide(count, limit, window, start, now)

	// Peeking never consumes; Allowed reports whether the next consume
	// would succeed.
	decision.Allowed = count < int64(limit)
	if decision.Allowed {
		decision.RetryAfter = 0
	} else {
		decision.RetryAfter = decision.ResetAfter
	}

	return decision, nil
}

// Reset clears the subject's counter for the current window.
func (l *Limiter) Reset(ctx context.Context, subjectKey, endpointClass string, window time.Duration) error {
	start := windowStart(l.now(), window)
	key := windowKey(subjectKey, endpointClass, start)

	if err := l.store.Delete(ctx, key); err != nil {
		return fmt.Errorf("rate limit reset: %w", err)
	}
	return nil
}

// decide turns a window count into a Decision.
func (l *Limiter) decide(count int64, limit int, window time.Duration, start, now time.Time) *Decision {
	allowed := count <= int64(limit)

	remaining := limit - int(count)
	if remaining < 0 {
		remaining = 0
	}

	resetAfter := start.Add(window).Sub(now)
	if resetAfter < 0 {
		resetAfter = 0
	}

	var retryAfter time.Duration
	if !allowed {
		retryAfter = resetAfter
	}

	return &Decision{
		Allowed:    allowed,
		Limit:      limit,
		Remaining:  remaining,
		ResetAfter: resetAfter,
		RetryAfter: retryAfter,
	}
}
