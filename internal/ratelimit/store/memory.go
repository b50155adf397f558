package store

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// maxCASRetries is the maximum number of CAS retry attempts to prevent
// infinite spinning under high contention.
const maxCASRetries = 100

// entry represents a stored counter with expiration.
type entry struct {
	value      int64
	expiration time.Time
}

// MemoryStore implements Store using in-memory storage. Expired entries
// are dropped lazily on access and swept periodically by a janitor.
type MemoryStore struct {
	data    sync.Map
	janitor *time.Ticker
	done    chan struct{}
	mu      sync.Mutex
	closed  bool
}

// NewMemoryStore creates a new in-memory store with a one minute sweep
// interval.
func NewMemoryStore() *MemoryStore {
	return NewMemoryStoreWithSweepInterval(time.Minute)
}

// NewMemoryStoreWithSweepInterval creates a new in-memory store with a
// custom janitor sweep interval.
func NewMemoryStoreWithSweepInterval(interval time.Duration) *MemoryStore {
	s := &MemoryStore{
		janitor: time.NewTicker(interval),
		done:    make(chan struct{}),
	}

	go s.sweepLoop()

	return s
}

// Get implements Store.
func (s *MemoryStore) Get(ctx context.Context, key string) (int64, error) {
	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	default:
	}

	value, ok := s.data.Load(key)
	if !ok {
		return 0, &ErrKeyNotFound{Key: key}
	}

	e := value.(*entry)

	// Lazy eviction on access
	if !e.expiration.IsZero() && time.Now().After(e.expiration) {
		s.data.Delete(key)
		return 0, &ErrKeyNotFound{Key: key}
	}

	return e.value, nil
}

// Set implements Store.
func (s *MemoryStore) Set(ctx context.Context, key string, value int64, expiration time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	var exp time.Time
	if expiration > 0 {
		exp = time.Now().Add(expiration)
	}

	s.data.Store(key, &entry{
		value:      value,
		expiration: exp,
	})

	return nil
}

// IncrementWithExpiry implements Store.
func (s *MemoryStore) IncrementWithExpiry(ctx context.Context, key string, delta int64, expiration time.Duration) (int64, error) {
	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	default:
	}

	var exp time.Time
	if expiration > 0 {
		exp = time.Now().Add(expiration)
	}

	for retries := 0; retries < maxCASRetries; retries++ {
		value, ok := s.data.Load(key)
		if !ok {
			newEntry := &entry{
				value:      delta,
				expiration: exp,
			}
			if actual, loaded := s.data.LoadOrStore(key, newEntry); loaded {
				// Another goroutine created it, fall through to CAS
				value = actual
			} else {
				return delta, nil
			}
		}

		e := value.(*entry)

		// An expired entry restarts the counter with a new expiration
		if !e.expiration.IsZero() && time.Now().After(e.expiration) {
			newEntry := &entry{
				value:      delta,
				expiration: exp,
			}
			if s.data.CompareAndSwap(key, e, newEntry) {
				return delta, nil
			}
			continue
		}

		// Increment, keeping the original expiration
		newEntry := &entry{
			value:      e.value + delta,
			expiration: e.expiration,
		}

		if s.data.CompareAndSwap(key, e, newEntry) {
			return newEntry.value, nil
		}
		// CAS failed, retry
	}

	return 0, fmt.Errorf("increment with expiry failed: max retries (%d) exceeded", maxCASRetries)
}

// Delete implements Store.
func (s *MemoryStore) Delete(ctx context.Context, key string) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	s.data.Delete(key)
	return nil
}

// Close implements Store. Close is idempotent.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	s.closed = true
	s.janitor.Stop()
	close(s.done)

	return nil
}

// sweepLoop periodically removes expired entries.
func (s *MemoryStore) sweepLoop() {
	for {
		select {
		case <-s.janitor.C:
			s.sweepExpired()
		case <-s.done:
			return
		}
	}
}

// sweepExpired removes all expired entries.
func (s *MemoryStore) sweepExpired() {
	now := time.Now()

	s.data.Range(func(key, value interface{}) bool {
		e := value.(*entry)
		if !e.expiration.IsZero() && now.After(e.expiration) {
			s.data.Delete(key)
		}
		return true
	})
}

// Size returns the number of entries in the store.
func (s *MemoryStore) Size() int {
	count := 0
	s.data.Range(func(key, value interface{}) bool {
		count++
		return true
	})
	return count
}
