// Package health exposes liveness and readiness of the gateway itself.
// The handlers are served on the metrics listener, not the data plane.
package health

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultCheckTimeout bounds one readiness evaluation.
const DefaultCheckTimeout = 5 * time.Second

// CheckFunc probes one dependency of the gateway.
type CheckFunc func(ctx context.Context) error

// CheckResult is the outcome of a single named check.
type CheckResult struct {
	Status    string    `json:"status"`
	Error     string    `json:"error,omitempty"`
	Duration  string    `json:"duration"`
	Timestamp time.Time `json:"timestamp"`
}

// Status is the aggregate readiness report.
type Status struct {
	Status    string                 `json:"status"`
	Uptime    string                 `json:"uptime"`
	Timestamp time.Time              `json:"timestamp"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
}

// Checker runs registered readiness checks. Liveness is unconditional:
// if the process answers, it is alive.
type Checker struct {
	logger    *zap.Logger
	timeout   time.Duration
	startTime time.Time

	mu     sync.RWMutex
	checks map[string]CheckFunc
}

// NewChecker creates a checker.
func NewChecker(logger *zap.Logger) *Checker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Checker{
		logger:    logger,
		timeout:   DefaultCheckTimeout,
		startTime: time.Now(),
		checks:    make(map[string]CheckFunc),
	}
}

// Register adds a named readiness check, replacing any previous check
// of that name.
func (c *Checker) Register(name string, check CheckFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks[name] = check
}

// Deregister removes a check.
func (c *Checker) Deregister(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.checks, name)
}

// Readiness runs all checks concurrently and aggregates the result.
// Any failing check makes the whole report not ready.
func (c *Checker) Readiness(ctx context.Context) Status {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	c.mu.RLock()
	checks := make(map[string]CheckFunc, len(c.checks))
	for name, fn := range c.checks {
		checks[name] = fn
	}
	c.mu.RUnlock()

	status := Status{
		Status:    "ok",
		Uptime:    time.Since(c.startTime).Round(time.Second).String(),
		Timestamp: time.Now().UTC(),
		Checks:    make(map[string]CheckResult, len(checks)),
	}

	var wg sync.WaitGroup
	var mu sync.Mutex

	for name, fn := range checks {
		wg.Add(1)
		go func(name string, fn CheckFunc) {
			defer wg.Done()

			start := time.Now()
			err := fn(ctx)
			elapsed := time.Since(start)

			result := CheckResult{
				Status:    "ok",
				Duration:  elapsed.String(),
				Timestamp: time.Now().UTC(),
			}
			if err != nil {
				result.Status = "error"
				result.Error = err.Error()
				c.logger.Warn("readiness check failed",
					zap.String("check", name),
					zap.Error(err),
					zap.Duration("duration", elapsed),
				)
			}

			mu.Lock()
			status.Checks[name] = result
			if err != nil {
				status.Status = "error"
			}
			mu.Unlock()
		}(name, fn)
	}

	wg.Wait()
	return status
}
