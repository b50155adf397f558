package circuitbreaker

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CircuitBreakerState shows the current state of circuit breakers.
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "gateway",
			Name:      "circuit_breaker_state",
			Help:      "Current state of the circuit breaker (0=closed, 1=open, 2=half-open)",
		},
		[]string{"service"},
	)

	// CircuitBreakerRequestsTotal counts admission decisions made by
	// circuit breakers.
	CircuitBreakerRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gateway",
			Name:      "circuit_breaker_requests_total",
			Help:      "Total number of requests checked against circuit breakers",
		},
		[]string{"service", "result"},
	)

	// CircuitBreakerRejectedTotal counts requests rejected due to open circuit.
	CircuitBreakerRejectedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gateway",
			Name:      "circuit_breaker_rejected_total",
			Help:      "Total number of requests rejected due to open circuit",
		},
		[]string{"service"},
	)

	// CircuitBreakerOutcomesTotal counts call outcomes recorded by
	// circuit breakers.
	CircuitBreakerOutcomesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gateway",
			Name:      "circuit_breaker_outcomes_total",
			Help:      "Total number of call outcomes recorded by circuit breakers",
		},
		[]string{"service", "outcome"},
	)

	// CircuitBreakerStateChangesTotal counts state changes.
	CircuitBreakerStateChangesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gateway",
			Name:      "circuit_breaker_state_changes_total",
			Help:      "Total number of circuit breaker state changes",
		},
		[]string{"service", "from", "to"},
	)

	// CircuitBreakerCallDuration observes the latency of calls whose
	// outcomes were recorded.
	CircuitBreakerCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "gateway",
			Name:      "circuit_breaker_call_duration_seconds",
			Help:      "Latency of calls recorded by circuit breakers",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service"},
	)
)

// RecordState records the current state of a circuit breaker.
func RecordState(name string, state State) {
	CircuitBreakerState.WithLabelValues(name).Set(float64(state))
}

// RecordRequest records an admission decision.
func RecordRequest(name string, allowed bool) {
	result := "allowed"
	if !allowed {
		result = "rejected"
		CircuitBreakerRejectedTotal.WithLabelValues(name).Inc()
	}
	CircuitBreakerRequestsTotal.WithLabelValues(name, result).Inc()
}

// RecordOutcome records a call outcome.
func RecordOutcome(name string, success bool) {
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	CircuitBreakerOutcomesTotal.WithLabelValues(name, outcome).Inc()
}

// RecordCallDuration records the latency of a recorded call.
func RecordCallDuration(name string, d time.Duration) {
	CircuitBreakerCallDuration.WithLabelValues(name).Observe(d.Seconds())
}

// RecordStateChange records a state change.
func RecordStateChange(name string, from, to State) {
	CircuitBreakerStateChangesTotal.WithLabelValues(name, from.String(), to.String()).Inc()
	RecordState(name, to)
}
