package ratelimit

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RateLimitDecisionsTotal counts admission decisions per tier and
	// endpoint class.
	RateLimitDecisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gateway",
			Name:      "ratelimit_decisions_total",
			Help:      "Total number of rate limit decisions",
		},
		[]string{"tier", "class", "result"},
	)

	// RateLimitStoreFailuresTotal counts store errors that resulted in a
	// fail-open decision.
	RateLimitStoreFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gateway",
			Name:      "ratelimit_store_failures_total",
			Help:      "Total number of rate limit store failures",
		},
		[]string{"tier"},
	)

	// RateLimitFallbackTotal counts operations served by the fallback
	// store while the primary is unavailable.
	RateLimitFallbackTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gateway",
			Name:      "ratelimit_fallback_total",
			Help:      "Total number of rate limit operations served by the fallback store",
		},
		[]string{"operation"},
	)
)

// RecordDecision records one admission decision.
func RecordDecision(tier, class string, allowed bool) {
	result := "allowed"
	if !allowed {
		result = "denied"
	}
	RateLimitDecisionsTotal.WithLabelValues(tier, class, result).Inc()
}

// RecordStoreFailure records a store error on the given tier.
func RecordStoreFailure(tier string) {
	RateLimitStoreFailuresTotal.WithLabelValues(tier).Inc()
}

// RecordFallback records one operation served by the fallback store.
func RecordFallback(operation string) {
	RateLimitFallbackTotal.WithLabelValues(operation).Inc()
}
