package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// State represents the state of a circuit breaker.
type State int

const (
	// StateClosed indicates the circuit is closed and requests are allowed.
	StateClosed State = iota

	// StateOpen indicates the circuit is open and requests are rejected.
	StateOpen

	// StateHalfOpen indicates the circuit is probing recovery with a
	// single trial request.
	StateHalfOpen
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrCircuitOpen is returned when the circuit breaker rejects a call.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitBreaker implements the circuit breaker pattern over a sliding
// window of the most recent call outcomes.
type CircuitBreaker struct {
	name   string
	config *Config
	logger *zap.Logger

	mu    sync.RWMutex
	state State

	// Sliding window of recent outcomes. window[i] is true for a
	// failure. head is the slot the next outcome overwrites; once
	// occupied reaches len(window) the oldest outcome is evicted.
	window         []bool
	head           int
	occupied       int
	windowFailures int

	// Set while the single half-open trial request is in flight.
	trialInFlight bool

	// Timestamps
	openedAt        time.Time
	lastFailure     time.Time
	lastStateChange time.Time
}

// NewCircuitBreaker creates a new circuit breaker.
func NewCircuitBreaker(name string, config *Config, logger *zap.Logger) *CircuitBreaker {
	if config == nil {
		config = DefaultConfig()
	}
	config.Validate()

	if logger == nil {
		logger = zap.NewNop()
	}

	return &CircuitBreaker{
		name:            name,
		config:          config,
		logger:          logger,
		state:           StateClosed,
		window:          make([]bool, config.WindowSize),
		lastStateChange: time.Now(),
	}
}

// Execute executes the given function with circuit breaker protection,
// recording its outcome and latency. Returns ErrCircuitOpen without
// calling fn when the circuit rejects the call.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func() error) error {
	if !cb.IsCallAllowed() {
		return ErrCircuitOpen
	}

	start := time.Now()
	err := fn()
	cb.RecordOutcome(err == nil, time.Since(start))

	return err
}

// IsCallAllowed reports whether a call may proceed. It has no side
// effects other than claiming the half-open trial slot: the first
// caller after the recovery timeout moves the circuit to half-open and
// owns the trial; every other caller is rejected until the trial
// outcome is recorded.
func (cb *CircuitBreaker) IsCallAllowed() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	var allowed bool

	switch cb.state {
	case StateClosed:
		allowed = true

	case StateOpen:
		// Check if the recovery timeout has passed
		if time.Since(cb.openedAt) >= cb.config.RecoveryTimeout {
			cb.transitionTo(StateHalfOpen)
			cb.trialInFlight = true
			allowed = true
		}

	case StateHalfOpen:
		// Only one trial at a time
		if !cb.trialInFlight {
			cb.trialInFlight = true
			allowed = true
		}
	}

	// Record request metric
	RecordRequest(cb.name, allowed)

	return allowed
}

// ReleaseTrial returns an unused half-open trial slot. Callers invoke
// it when a call admitted by IsCallAllowed was abandoned before any
// attempt was made, so no outcome will ever be recorded for it. The
// circuit stays half-open and the next caller may claim the trial.
func (cb *CircuitBreaker) ReleaseTrial() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateHalfOpen && cb.trialInFlight {
		cb.trialInFlight = false
	}
}

// RecordOutcome records the result of one attempted call. Callers must
// invoke it exactly once per call that IsCallAllowed admitted,
// including calls that ended in timeout or cancellation. Admitted
// calls abandoned without an attempt release their slot via
// ReleaseTrial instead.
func (cb *CircuitBreaker) RecordOutcome(success bool, latency time.Duration) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if !success {
		cb.lastFailure = time.Now()
	}

	// Record outcome metrics
	RecordOutcome(cb.name, success)
	RecordCallDuration(cb.name, latency)

	switch cb.state {
	case StateClosed:
		cb.push(success)
		if cb.shouldTrip() {
			cb.transitionTo(StateOpen)
		}

	case StateHalfOpen:
		// The first outcome recorded in half-open decides the state.
		if success {
			cb.transitionTo(StateClosed)
		} else {
			cb.transitionTo(StateOpen)
		}

	case StateOpen:
		// Late outcome from a call admitted before the circuit opened.
		// It no longer influences the state.
	}
}

// push appends one outcome to the ring, evicting the oldest once the
// window is full.
func (cb *CircuitBreaker) push(success bool) {
	if cb.occupied == len(cb.window) {
		if cb.window[cb.head] {
			cb.windowFailures--
		}
	} else {
		cb.occupied++
	}
	cb.window[cb.head] = !success
	if !success {
		cb.windowFailures++
	}
	cb.head = (cb.head + 1) % len(cb.window)
}

// shouldTrip determines if the circuit should open.
func (cb *CircuitBreaker) shouldTrip() bool {
	if cb.occupied < cb.config.MinimumThroughput {
		return false
	}
	ratio := float64(cb.windowFailures) / float64(cb.occupied)
	return ratio >= cb.config.FailureThreshold
}

// transitionTo transitions the circuit breaker to a new state.
func (cb *CircuitBreaker) transitionTo(newState State) {
	oldState := cb.state
	cb.state = newState
	now := time.Now()
	cb.lastStateChange = now
	cb.trialInFlight = false

	switch newState {
	case StateOpen:
		cb.openedAt = now
	case StateClosed:
		cb.resetWindow()
	}

	// Record state change metric
	RecordStateChange(cb.name, oldState, newState)

	cb.logger.Info("circuit breaker state changed",
		zap.String("name", cb.name),
		zap.String("from", oldState.String()),
		zap.String("to", newState.String()),
	)

	// Call state change callback
	if cb.config.OnStateChange != nil {
		go cb.config.OnStateChange(cb.name, oldState, newState)
	}
}

// resetWindow clears the sliding window.
func (cb *CircuitBreaker) resetWindow() {
	for i := range cb.window {
		cb.window[i] = false
	}
	cb.head = 0
	cb.occupied = 0
	cb.windowFailures = 0
}

// State returns the current state of the circuit breaker.
func (cb *CircuitBreaker) State() State {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.state
}

// Reset forces the circuit breaker back to closed with an empty window.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state != StateClosed {
		cb.transitionTo(StateClosed)
	} else {
		cb.resetWindow()
	}

	cb.logger.Info("circuit breaker reset",
		zap.String("name", cb.name),
	)
}

// Name returns the name of the circuit breaker.
func (cb *CircuitBreaker) Name() string {
	return cb.name
}

// Stats returns the current statistics of the circuit breaker.
func (cb *CircuitBreaker) Stats() Stats {
	cb.mu.RLock()
	defer cb.mu.RUnlock()

	return Stats{
		State:           cb.state,
		WindowFailures:  cb.windowFailures,
		WindowTotal:     cb.occupied,
		LastFailure:     cb.lastFailure,
		OpenedAt:        cb.openedAt,
		LastStateChange: cb.lastStateChange,
	}
}

// Stats holds circuit breaker statistics.
type Stats struct {
	State           State
	WindowFailures  int
	WindowTotal     int
	LastFailure     time.Time
	OpenedAt        time.Time
	LastStateChange time.Time
}

// FailureRatio returns the failure ratio over the current window.
func (s Stats) FailureRatio() float64 {
	if s.WindowTotal == 0 {
		return 0
	}
	return float64(s.WindowFailures) / float64(s.WindowTotal)
}
