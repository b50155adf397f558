package registry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RegistryEndpoints tracks registered endpoints per service.
	RegistryEndpoints = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "gateway",
			Name:      "registry_endpoints",
			Help:      "Number of registered endpoints per service",
		},
		[]string{"service"},
	)

	// RegistryHealthyEndpoints tracks traffic-eligible endpoints per
	// service.
	RegistryHealthyEndpoints = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "gateway",
			Name:      "registry_healthy_endpoints",
			Help:      "Number of healthy endpoints per service",
		},
		[]string{"service"},
	)

	// RegistryRegisteredTotal counts endpoint registrations.
	RegistryRegisteredTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gateway",
			Name:      "registry_registered_total",
			Help:      "Total number of endpoint registrations",
		},
		[]string{"service"},
	)

	// RegistryDeregisteredTotal counts endpoint removals.
	RegistryDeregisteredTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gateway",
			Name:      "registry_deregistered_total",
			Help:      "Total number of endpoint deregistrations",
		},
		[]string{"service"},
	)

	// RegistryHealthTransitionsTotal counts endpoint health changes.
	RegistryHealthTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gateway",
			Name:      "registry_health_transitions_total",
			Help:      "Total number of endpoint health state transitions",
		},
		[]string{"service", "to"},
	)

	// RegistrySelectionsTotal counts balancer selections.
	RegistrySelectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gateway",
			Name:      "registry_selections_total",
			Help:      "Total number of endpoint selections",
		},
		[]string{"service"},
	)
)

// RecordRegistered records one endpoint registration.
func RecordRegistered(service string) {
	RegistryRegisteredTotal.WithLabelValues(service).Inc()
}

// RecordDeregistered records one endpoint removal.
func RecordDeregistered(service string) {
	RegistryDeregisteredTotal.WithLabelValues(service).Inc()
}

// RecordHealthTransition records an endpoint health change.
func RecordHealthTransition(service string, to Status) {
	RegistryHealthTransitionsTotal.WithLabelValues(service, to.String()).Inc()
}

// RecordSelection records one balancer pick.
func RecordSelection(service string) {
	RegistrySelectionsTotal.WithLabelValues(service).Inc()
}

// RecordEndpointCounts updates the per-service endpoint gauges.
func RecordEndpointCounts(service string, total, healthy int) {
	RegistryEndpoints.WithLabelValues(service).Set(float64(total))
	RegistryHealthyEndpoints.WithLabelValues(service).Set(float64(healthy))
}
