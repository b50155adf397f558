// Package apikey validates API keys against a store of one-way hashes.
// Plaintext keys are never stored; configuration carries only digests.
package apikey

import (
	"errors"
	"sync/atomic"
	"time"

	"github.com/gatehouseio/gatehouse/internal/ratelimit"
)

// Validation errors.
var (
	// ErrEmptyKey indicates an empty API key.
	ErrEmptyKey = errors.New("API key is empty")

	// ErrKeyNotFound indicates no key matches the presented value.
	ErrKeyNotFound = errors.New("API key not found")

	// ErrKeyRevoked indicates the key has been revoked.
	ErrKeyRevoked = errors.New("API key revoked")

	// ErrKeyExpired indicates the key has expired.
	ErrKeyExpired = errors.New("API key expired")
)

// Key is one stored API key record.
type Key struct {
	// ID identifies the key in logs and as the rate-limit subject.
	ID string

	// Hash is the one-way digest of the key value, in the store's hash
	// algorithm.
	Hash string

	// Roles granted to the key.
	Roles []string

	// Permissions granted to the key.
	Permissions []string

	// ExpiresAt is when the key stops validating. Zero means no expiry.
	ExpiresAt time.Time

	// Revoked marks the key as withdrawn.
	Revoked bool

	// RateLimit is the key's own quota, overriding the authenticated
	// tier default when set.
	RateLimit *ratelimit.Rule

	lastUsed atomic.Int64
}

// Expired reports whether the key is past its expiry.
func (k *Key) Expired(now time.Time) bool {
	return !k.ExpiresAt.IsZero() && now.After(k.ExpiresAt)
}

// Touch records the key as used at the given time. The update is a
// single atomic store, so it adds no latency to the request path.
func (k *Key) Touch(at time.Time) {
	k.lastUsed.Store(at.UnixNano())
}

// LastUsed returns when the key last validated a request, zero when it
// never has.
func (k *Key) LastUsed() time.Time {
	n := k.lastUsed.Load()
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}
