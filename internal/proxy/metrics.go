package proxy

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ForwardDuration observes downstream call latency per target host.
	ForwardDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "gateway",
			Name:      "forward_duration_seconds",
			Help:      "Downstream call duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"target"},
	)

	// ForwardResponsesTotal counts downstream responses by status code.
	// Transport failures are recorded under code "0".
	ForwardResponsesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gateway",
			Name:      "forward_responses_total",
			Help:      "Total number of downstream responses",
		},
		[]string{"target", "code"},
	)
)

// RecordForward records one downstream attempt.
func RecordForward(target string, statusCode int, elapsed time.Duration) {
	ForwardDuration.WithLabelValues(target).Observe(elapsed.Seconds())
	ForwardResponsesTotal.WithLabelValues(target, strconv.Itoa(statusCode)).Inc()
}
