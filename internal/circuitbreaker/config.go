// Package circuitbreaker provides per-service circuit breakers for the
// admission pipeline. A breaker trips when the failure ratio over a
// sliding window of recent outcomes crosses a threshold, fails fast
// while open, and probes recovery with a single trial request.
package circuitbreaker

import (
	"time"
)

// Config holds configuration for a circuit breaker.
type Config struct {
	// FailureThreshold is the failure ratio (0.0 to 1.0) at which the
	// circuit opens, evaluated over the sliding window.
	FailureThreshold float64

	// MinimumThroughput is the minimum number of recorded outcomes in
	// the window before the failure ratio is evaluated. Below this the
	// circuit never opens regardless of the ratio.
	MinimumThroughput int

	// RecoveryTimeout is how long the circuit stays open before a
	// single trial request is allowed through.
	RecoveryTimeout time.Duration

	// WindowSize is the number of most recent outcomes kept in the
	// sliding window. It is clamped to at least MinimumThroughput so a
	// fully failing window can always trip the circuit.
	WindowSize int

	// OnStateChange is called when the circuit breaker state changes.
	OnStateChange func(name string, from, to State)
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() *Config {
	return &Config{
		FailureThreshold:  0.5,
		MinimumThroughput: 10,
		RecoveryTimeout:   30 * time.Second,
		WindowSize:        10,
	}
}

// Validate validates the configuration, replacing out-of-range values
// with defaults.
func (c *Config) Validate() error {
	if c.FailureThreshold <= 0 || c.FailureThreshold > 1 {
		c.FailureThreshold = 0.5
	}
	if c.MinimumThroughput < 1 {
		c.MinimumThroughput = 10
	}
	if c.RecoveryTimeout < time.Millisecond {
		c.RecoveryTimeout = 30 * time.Second
	}
	if c.WindowSize < c.MinimumThroughput {
		c.WindowSize = c.MinimumThroughput
	}
	return nil
}

// WithFailureThreshold sets the failure ratio threshold.
func (c *Config) WithFailureThreshold(ratio float64) *Config {
	c.FailureThreshold = ratio
	return c
}

// WithMinimumThroughput sets the minimum outcomes required before the
// ratio is evaluated.
func (c *Config) WithMinimumThroughput(n int) *Config {
	c.MinimumThroughput = n
	return c
}

// WithRecoveryTimeout sets the open-state recovery timeout.
func (c *Config) WithRecoveryTimeout(d time.Duration) *Config {
	c.RecoveryTimeout = d
	return c
}

// WithWindowSize sets the sliding window size.
func (c *Config) WithWindowSize(n int) *Config {
	c.WindowSize = n
	return c
}

// WithOnStateChange sets the state change callback.
func (c *Config) WithOnStateChange(fn func(name string, from, to State)) *Config {
	c.OnStateChange = fn
	return c
}
