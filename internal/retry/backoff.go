package retry

import (
	"math"
	"math/rand"
	"sync"
	"time"
)

// Backoff returns the wait before a retry attempt.
type Backoff interface {
	// Next returns the duration to wait before the given attempt.
	Next(attempt int) time.Duration
}

// FullJitterBackoff implements full jitter backoff:
// sleep = random_between(0, min(cap, base * 2^attempt)).
type FullJitterBackoff struct {
	initial time.Duration
	max     time.Duration

	mu   sync.Mutex
	rand *rand.Rand
}

// NewFullJitterBackoff creates a full jitter backoff.
func NewFullJitterBackoff(initial, max time.Duration) *FullJitterBackoff {
	return &FullJitterBackoff{
		initial: initial,
		max:     max,
		rand:    rand.New(rand.NewSource(time.Now().UnixNano())), //nolint:gosec
	}
}

// Next implements Backoff.
func (b *FullJitterBackoff) Next(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}

	ceiling := float64(b.initial) * math.Pow(2, float64(attempt))
	if ceiling > float64(b.max) {
		ceiling = float64(b.max)
	}

	b.mu.Lock()
	backoff := b.rand.Float64() * ceiling
	b.mu.Unlock()

	return time.Duration(backoff)
}

// ConstantBackoff waits the same interval before every attempt.
type ConstantBackoff struct {
	interval time.Duration
}

// NewConstantBackoff creates a constant backoff.
func NewConstantBackoff(interval time.Duration) *ConstantBackoff {
	return &ConstantBackoff{interval: interval}
}

// Next implements Backoff.
func (b *ConstantBackoff) Next(attempt int) time.Duration {
	return b.interval
}
