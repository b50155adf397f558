package apikey

import (
	"context"
	"time"

	"github.com/gatehouseio/gatehouse/internal/observability"
)

// Validator validates presented API keys against the store.
type Validator struct {
	store  *Store
	hasher Hasher
	logger observability.Logger

	// now is swappable for expiry tests.
	now func() time.Time
}

// NewValidator creates a validator over the store using the given hash
// algorithm.
func NewValidator(store *Store, hasher Hasher, logger observability.Logger) *Validator {
	if hasher == nil {
		hasher = SHA256Hasher{}
	}
	if logger == nil {
		logger = observability.NopLogger()
	}

	return &Validator{
		store:  store,
		hasher: hasher,
		logger: logger,
		now:    time.Now,
	}
}

// Store returns the backing key store.
func (v *Validator) Store() *Store {
	return v.store
}

// Validate checks the presented key value and returns its record. A
// successful validation touches the key's last-used metadata.
func (v *Validator) Validate(ctx context.Context, presented string) (*Key, error) {
	if presented == "" {
		return nil, ErrEmptyKey
	}

	key, err := v.find(presented)
	if err != nil {
		return nil, err
	}

	if key.Revoked {
		v.logger.WithContext(ctx).Warn("revoked API key presented",
			observability.String("keyId", key.ID),
		)
		return nil, ErrKeyRevoked
	}

	now := v.now()
	if key.Expired(now) {
		return nil, ErrKeyExpired
	}

	key.Touch(now)

	return key, nil
}

// find locates the record matching the presented value. Deterministic
// hashes resolve with one digest and one map lookup; salted hashes
// scan the store.
func (v *Validator) find(presented string) (*Key, error) {
	if digest := v.hasher.Hash(presented); digest != "" {
		key, ok := v.store.Lookup(digest)
		if !ok || !v.hasher.Compare(key.Hash, presented) {
			return nil, ErrKeyNotFound
		}
		return key, nil
	}

	for _, key := range v.store.All() {
		if v.hasher.Compare(key.Hash, presented) {
			return key, nil
		}
	}
	return nil, ErrKeyNotFound
}
