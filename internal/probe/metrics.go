package probe

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ProbesTotal counts probe attempts per service and result.
	ProbesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gateway",
			Name:      "probes_total",
			Help:      "Total number of health probes",
		},
		[]string{"service", "result"},
	)

	// ProbeDuration observes probe latency per service.
	ProbeDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "gateway",
			Name:      "probe_duration_seconds",
			Help:      "Health probe duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service"},
	)

	// EvictionsTotal counts endpoints removed after consecutive misses.
	EvictionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gateway",
			Name:      "endpoint_evictions_total",
			Help:      "Total number of endpoints evicted after consecutive probe misses",
		},
		[]string{"service"},
	)
)

// RecordProbe records one probe attempt.
func RecordProbe(service string, success bool, elapsed time.Duration) {
	result := "success"
	if !success {
		result = "failure"
	}
	ProbesTotal.WithLabelValues(service, result).Inc()
	ProbeDuration.WithLabelValues(service).Observe(elapsed.Seconds())
}

// RecordEviction records one TTL eviction.
func RecordEviction(service string) {
	EvictionsTotal.WithLabelValues(service).Inc()
}
