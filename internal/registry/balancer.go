package registry

import (
	"sync"
)

// serviceBalancer holds the smooth weighted round-robin state for one
// service. Current weights are keyed by base URL so state survives
// membership changes in the healthy set.
type serviceBalancer struct {
	mu      sync.Mutex
	current map[string]int
}

// Balancer selects endpoints using smooth weighted round-robin. Each
// pick raises every candidate's current weight by its configured
// weight, selects the highest, and lowers the winner by the total.
// Equal weights degrade to plain round-robin.
type Balancer struct {
	services sync.Map // service name -> *serviceBalancer
}

// NewBalancer creates a new balancer.
func NewBalancer() *Balancer {
	return &Balancer{}
}

func (b *Balancer) service(name string) *serviceBalancer {
	if s, ok := b.services.Load(name); ok {
		return s.(*serviceBalancer)
	}
	s, _ := b.services.LoadOrStore(name, &serviceBalancer{
		current: make(map[string]int),
	})
	return s.(*serviceBalancer)
}

// Pick returns the next endpoint among the candidates, or nil when the
// candidate list is empty. Candidates are the service's current healthy
// endpoints as returned by the registry.
func (b *Balancer) Pick(service string, candidates []*Endpoint) *Endpoint {
	if len(candidates) == 0 {
		return nil
	}
	if len(candidates) == 1 {
		RecordSelection(service)
		return candidates[0]
	}

	sb := b.service(service)

	sb.mu.Lock()
	defer sb.mu.Unlock()

	// Drop state for endpoints that left the candidate set
	if len(sb.current) > len(candidates) {
		alive := make(map[string]struct{}, len(candidates))
		for _, ep := range candidates {
			alive[ep.BaseURL] = struct{}{}
		}
		for key := range sb.current {
			if _, ok := alive[key]; !ok {
				delete(sb.current, key)
			}
		}
	}

	total := 0
	var selected *Endpoint
	best := 0
	for _, ep := range candidates {
		weight := ep.Weight
		if weight <= 0 {
			weight = 1
		}
		total += weight

		cw := sb.current[ep.BaseURL] + weight
		sb.current[ep.BaseURL] = cw

		if selected == nil || cw > best {
			selected = ep
			best = cw
		}
	}

	sb.current[selected.BaseURL] -= total

	RecordSelection(service)
	return selected
}

// Reset clears the balancer state for the service.
func (b *Balancer) Reset(service string) {
	if s, ok := b.services.Load(service); ok {
		sb := s.(*serviceBalancer)
		sb.mu.Lock()
		sb.current = make(map[string]int)
		sb.mu.Unlock()
	}
}
