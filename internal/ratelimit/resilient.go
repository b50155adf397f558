package ratelimit

import (
	"context"
	"time"

	"github.com/gatehouseio/gatehouse/internal/ratelimit/store"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// ResilientStore wraps a primary counter store with a circuit breaker
// and falls back to a secondary store while the primary is failing.
// Counters may diverge between the stores across a failover.
type ResilientStore struct {
	primary  store.Store
	fallback store.Store
	breaker  *gobreaker.CircuitBreaker
	logger   *zap.Logger
}

// ResilientStoreConfig tunes the breaker guarding the primary store.
type ResilientStoreConfig struct {
	// Name labels the breaker in logs and metrics.
	Name string

	// FailureThreshold is the consecutive-failure count that opens the
	// breaker.
	FailureThreshold uint32

	// RecoveryTimeout is how long the breaker stays open before probing
	// the primary again.
	RecoveryTimeout time.Duration

	// Logger for failover events.
	Logger *zap.Logger
}

// DefaultResilientStoreConfig returns a ResilientStoreConfig with
// default values.
func DefaultResilientStoreConfig() *ResilientStoreConfig {
	return &ResilientStoreConfig{
		Name:             "ratelimit-store",
		FailureThreshold: 5,
		RecoveryTimeout:  15 * time.Second,
	}
}

// NewResilientStore creates a store that prefers primary and fails over
// to fallback.
func NewResilientStore(primary, fallback store.Store, config *ResilientStoreConfig) *ResilientStore {
	if config == nil {
		config = DefaultResilientStoreConfig()
	}

	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	rs := &ResilientStore{
		primary:  primary,
		fallback: fallback,
		logger:   logger,
	}

	threshold := config.FailureThreshold
	if threshold == 0 {
		threshold = 5
	}

	settings := gobreaker.Settings{
		Name:    config.Name,
		Timeout: config.RecoveryTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("rate limit store breaker state change",
				zap.String("name", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
		IsSuccessful: func(err error) bool {
			// A missing key is a normal outcome, not a store failure
			return err == nil || store.IsKeyNotFound(err)
		},
	}

	rs.breaker = gobreaker.NewCircuitBreaker(settings)

	return rs
}

// Get implements store.Store.
func (rs *ResilientStore) Get(ctx context.Context, key string) (int64, error) {
	result, err := rs.breaker.Execute(func() (interface{}, error) {
		return rs.primary.Get(ctx, key)
	})
	if err != nil && !store.IsKeyNotFound(err) {
		rs.recordFailover("get", err)
		return rs.fallback.Get(ctx, key)
	}
	if err != nil {
		return 0, err
	}
	return result.(int64), nil
}

// Set implements store.Store.
func (rs *ResilientStore) Set(ctx context.Context, key string, value int64, expiration time.Duration) error {
	_, err := rs.breaker.Execute(func() (interface{}, error) {
		return nil, rs.primary.Set(ctx, key, value, expiration)
	})
	if err != nil {
		rs.recordFailover("set", err)
		return rs.fallback.Set(ctx, key, value, expiration)
	}
	return nil
}

// IncrementWithExpiry implements store.Store.
func (rs *ResilientStore) IncrementWithExpiry(
	ctx context.Context,
	key string,
	delta int64,
	expiration time.Duration,
) (int64, error) {
	result, err := rs.breaker.Execute(func() (interface{}, error) {
		return rs.primary.IncrementWithExpiry(ctx, key, delta, expiration)
	})
	if err != nil {
		rs.recordFailover("increment_with_expiry", err)
		return rs.fallback.IncrementWithExpiry(ctx, key, delta, expiration)
	}
	return result.(int64), nil
}

// Delete implements store.Store.
func (rs *ResilientStore) Delete(ctx context.Context, key string) error {
	_, err := rs.breaker.Execute(func() (interface{}, error) {
		return nil, rs.primary.Delete(ctx, key)
	})
	if err != nil {
		rs.recordFailover("delete", err)
		return rs.fallback.Delete(ctx, key)
	}
	return nil
}

// Close implements store.Store, closing both stores.
func (rs *ResilientStore) Close() error {
	err := rs.primary.Close()
	if ferr := rs.fallback.Close(); err == nil {
		err = ferr
	}
	return err
}

// State returns the breaker state guarding the primary store.
func (rs *ResilientStore) State() gobreaker.State {
	return rs.breaker.State()
}

// recordFailover logs and counts one fallback use.
func (rs *ResilientStore) recordFailover(operation string, err error) {
	rs.logger.Debug("rate limit store failover",
		zap.String("operation", operation),
		zap.Error(err),
	)
	RecordFallback(operation)
}
