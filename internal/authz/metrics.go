package authz

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// AuthzDecisionsTotal counts authorization decisions per policy.
	AuthzDecisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gateway",
			Name:      "authz_decisions_total",
			Help:      "Total number of authorization decisions",
		},
		[]string{"policy", "result"},
	)

	// AuthzEvaluationDuration observes decision latency.
	AuthzEvaluationDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "gateway",
			Name:      "authz_evaluation_duration_seconds",
			Help:      "Authorization evaluation duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
	)
)

// RecordDecision records one authorization decision.
func RecordDecision(policy string, allowed bool, elapsed time.Duration) {
	if policy == "" {
		policy = "none"
	}
	result := "allowed"
	if !allowed {
		result = "denied"
	}
	AuthzDecisionsTotal.WithLabelValues(policy, result).Inc()
	AuthzEvaluationDuration.Observe(elapsed.Seconds())
}
