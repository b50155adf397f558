package registry

import (
	"sync"
	"time"

	"github.com/gatehouseio/gatehouse/internal/observability"
)

// serviceShard holds the endpoints of one service behind its own lock.
type serviceShard struct {
	mu        sync.RWMutex
	endpoints map[string]*Endpoint // keyed by base URL
}

// Registry manages endpoints grouped by service. Each service lives in
// its own shard, so operations on one service never contend with
// another's.
type Registry struct {
	shards sync.Map // service name -> *serviceShard
	logger observability.Logger
}

// NewRegistry creates a new endpoint registry.
func NewRegistry(logger observability.Logger) *Registry {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Registry{
		logger: logger,
	}
}

// shard returns the shard for the service, creating it on first use.
func (r *Registry) shard(service string) *serviceShard {
	if s, ok := r.shards.Load(service); ok {
		return s.(*serviceShard)
	}
	s, _ := r.shards.LoadOrStore(service, &serviceShard{
		endpoints: make(map[string]*Endpoint),
	})
	return s.(*serviceShard)
}

// Register adds the endpoint or updates an existing registration with
// the same service and base URL. Re-registering a known endpoint
// refreshes weight, health path, version and tags but preserves its
// health state and miss count.
func (r *Registry) Register(ep *Endpoint) error {
	if err := ep.Validate(); err != nil {
		return err
	}
	if ep.Weight <= 0 {
		ep.Weight = 1
	}

	s := r.shard(ep.Service)

	s.mu.Lock()
	existing, known := s.endpoints[ep.BaseURL]
	if known {
		existing.Weight = ep.Weight
		existing.HealthPath = ep.HealthPath
		existing.Version = ep.Version
		existing.Tags = ep.Tags
	} else {
		ep.registeredAt = time.Now()
		s.endpoints[ep.BaseURL] = ep
	}
	total := len(s.endpoints)
	s.mu.Unlock()

	if known {
		r.logger.Debug("endpoint registration refreshed",
			observability.String("service", ep.Service),
			observability.String("baseUrl", ep.BaseURL),
			observability.Int("weight", ep.Weight),
		)
		return nil
	}

	RecordRegistered(ep.Service)
	r.updateEndpointGauges(ep.Service)
	r.logger.Info("endpoint registered",
		observability.String("service", ep.Service),
		observability.String("baseUrl", ep.BaseURL),
		observability.Int("weight", ep.Weight),
		observability.Int("endpoints", total),
	)
	return nil
}

// Deregister removes the endpoint. Removing an unknown endpoint is a
// no-op.
func (r *Registry) Deregister(service, baseURL string) {
	s, ok := r.shards.Load(service)
	if !ok {
		return
	}
	shard := s.(*serviceShard)

	shard.mu.Lock()
	_, known := shard.endpoints[baseURL]
	if known {
		delete(shard.endpoints, baseURL)
	}
	shard.mu.Unlock()

	if !known {
		return
	}

	RecordDeregistered(service)
	r.updateEndpointGauges(service)
	r.logger.Info("endpoint deregistered",
		observability.String("service", service),
		observability.String("baseUrl", baseURL),
	)
}

// Get returns the endpoint registered under the service and base URL.
func (r *Registry) Get(service, baseURL string) (*Endpoint, bool) {
	s, ok := r.shards.Load(service)
	if !ok {
		return nil, false
	}
	shard := s.(*serviceShard)

	shard.mu.RLock()
	defer shard.mu.RUnlock()

	ep, ok := shard.endpoints[baseURL]
	return ep, ok
}

// ListHealthy returns the endpoints of the service eligible for
// traffic: those whose latest probe succeeded, plus endpoints not yet
// probed. An empty result means the service has no healthy instance.
func (r *Registry) ListHealthy(service string) []*Endpoint {
	s, ok := r.shards.Load(service)
	if !ok {
		return nil
	}
	shard := s.(*serviceShard)

	shard.mu.RLock()
	defer shard.mu.RUnlock()

	healthy := make([]*Endpoint, 0, len(shard.endpoints))
	for _, ep := range shard.endpoints {
		if ep.Eligible() {
			healthy = append(healthy, ep)
		}
	}
	return healthy
}

// List returns all endpoints of the service regardless of health.
func (r *Registry) List(service string) []*Endpoint {
	s, ok := r.shards.Load(service)
	if !ok {
		return nil
	}
	shard := s.(*serviceShard)

	shard.mu.RLock()
	defer shard.mu.RUnlock()

	all := make([]*Endpoint, 0, len(shard.endpoints))
	for _, ep := range shard.endpoints {
		all = append(all, ep)
	}
	return all
}

// MarkHealth records a probe result for the endpoint. A success resets
// the consecutive miss count; a failure increments it. The updated miss
// count is returned so the prober can apply its eviction threshold.
// Returns ok=false when the endpoint is no longer registered.
func (r *Registry) MarkHealth(service, baseURL string, healthy bool, checkedAt time.Time) (misses int, ok bool) {
	ep, found := r.Get(service, baseURL)
	if !found {
		return 0, false
	}

	ep.lastProbe.Store(checkedAt.UnixNano())

	previous := ep.Status()
	if healthy {
		ep.misses.Store(0)
		ep.setStatus(StatusHealthy)
		if previous != StatusHealthy {
			RecordHealthTransition(service, StatusHealthy)
			r.updateEndpointGauges(service)
			r.logger.Info("endpoint became healthy",
				observability.String("service", service),
				observability.String("baseUrl", baseURL),
			)
		}
		return 0, true
	}

	count := int(ep.misses.Add(1))
	ep.setStatus(StatusUnhealthy)
	if previous != StatusUnhealthy {
		RecordHealthTransition(service, StatusUnhealthy)
		r.updateEndpointGauges(service)
		r.logger.Warn("endpoint became unhealthy",
			observability.String("service", service),
			observability.String("baseUrl", baseURL),
			observability.Int("consecutiveMisses", count),
		)
	}
	return count, true
}

// Services returns the names of all services with at least one
// endpoint.
func (r *Registry) Services() []string {
	var names []string
	r.shards.Range(func(key, value interface{}) bool {
		shard := value.(*serviceShard)
		shard.mu.RLock()
		n := len(shard.endpoints)
		shard.mu.RUnlock()
		if n > 0 {
			names = append(names, key.(string))
		}
		return true
	})
	return names
}

// Len returns the total number of registered endpoints.
func (r *Registry) Len() int {
	total := 0
	r.shards.Range(func(_, value interface{}) bool {
		shard := value.(*serviceShard)
		shard.mu.RLock()
		total += len(shard.endpoints)
		shard.mu.RUnlock()
		return true
	})
	return total
}

// Snapshot returns a point-in-time view of every registered endpoint,
// grouped by service.
func (r *Registry) Snapshot() map[string][]Info {
	snapshot := make(map[string][]Info)
	r.shards.Range(func(key, value interface{}) bool {
		shard := value.(*serviceShard)

		shard.mu.RLock()
		infos := make([]Info, 0, len(shard.endpoints))
		for _, ep := range shard.endpoints {
			infos = append(infos, ep.Info())
		}
		shard.mu.RUnlock()

		if len(infos) > 0 {
			snapshot[key.(string)] = infos
		}
		return true
	})
	return snapshot
}

// updateEndpointGauges refreshes the per-service endpoint gauges.
func (r *Registry) updateEndpointGauges(service string) {
	s, ok := r.shards.Load(service)
	if !ok {
		return
	}
	shard := s.(*serviceShard)

	shard.mu.RLock()
	total := len(shard.endpoints)
	healthy := 0
	for _, ep := range shard.endpoints {
		if ep.Eligible() {
			healthy++
		}
	}
	shard.mu.RUnlock()

	RecordEndpointCounts(service, total, healthy)
}
