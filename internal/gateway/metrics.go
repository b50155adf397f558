package gateway

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestsTotal counts finished requests per route and status.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gateway",
			Name:      "requests_total",
			Help:      "Total number of requests handled by the pipeline",
		},
		[]string{"route", "status"},
	)

	// RequestDuration observes end-to-end request latency per route.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "gateway",
			Name:      "request_duration_seconds",
			Help:      "End-to-end request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"route"},
	)

	// RejectionsTotal counts pipeline rejections per route and reason.
	RejectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gateway",
			Name:      "rejections_total",
			Help:      "Total number of requests rejected by the pipeline",
		},
		[]string{"route", "reason"},
	)
)

// RecordRequest records one finished request.
func RecordRequest(route string, status int, elapsed time.Duration) {
	if route == "" {
		route = "unmatched"
	}
	RequestsTotal.WithLabelValues(route, strconv.Itoa(status)).Inc()
	RequestDuration.WithLabelValues(route).Observe(elapsed.Seconds())
}

// RecordRejection records one rejection.
func RecordRejection(route string, reason Reason) {
	if route == "" {
		route = "unmatched"
	}
	RejectionsTotal.WithLabelValues(route, string(reason)).Inc()
}
