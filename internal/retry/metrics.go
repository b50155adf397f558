package retry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// RetriesTotal counts automatic retries per service.
var RetriesTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "gateway",
		Name:      "retries_total",
		Help:      "Total number of automatic downstream retries",
	},
	[]string{"service"},
)

// RecordRetry records one retry against the service.
func RecordRetry(service string) {
	RetriesTotal.WithLabelValues(service).Inc()
}
