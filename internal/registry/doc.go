// Package registry tracks upstream endpoints per service for the
// API Gateway.
//
// This package implements the endpoint registry the routing pipeline
// selects upstreams from, together with health bookkeeping and
// weighted round-robin selection.
//
// # Features
//
//   - Idempotent endpoint registration keyed by service and base URL
//   - Health marks owned by the background prober
//   - Consecutive-miss tracking for TTL eviction
//   - Smooth weighted round-robin selection per service
//   - Per-service sharding, no registry-wide lock on the hot path
//
// # Registry
//
// The Registry manages endpoint records:
//
//	reg := registry.NewRegistry(logger)
//	err := reg.Register(&registry.Endpoint{
//	    Service: "orders",
//	    BaseURL: "http://10.0.0.1:8080",
//	    Weight:  3,
//	})
//
// # Selection
//
// The Balancer picks among the currently healthy endpoints:
//
//	balancer := registry.NewBalancer()
//	ep := balancer.Pick("orders", reg.ListHealthy("orders"))
//	if ep == nil {
//	    // no healthy instance
//	}
package registry
