// Package discovery feeds the endpoint registry: static endpoints from
// configuration and dynamic ones from the Kubernetes Endpoints API.
package discovery

import (
	"fmt"
	"sync"

	"github.com/gatehouseio/gatehouse/internal/config"
	"github.com/gatehouseio/gatehouse/internal/observability"
	"github.com/gatehouseio/gatehouse/internal/registry"
)

// Static applies configured endpoints to the registry and tracks what
// it applied so a reload can drop endpoints that left the config.
type Static struct {
	registry *registry.Registry
	logger   observability.Logger

	mu      sync.Mutex
	applied map[string]map[string]struct{}
}

// NewStatic creates a static endpoint source.
func NewStatic(reg *registry.Registry, logger observability.Logger) *Static {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Static{
		registry: reg,
		logger:   logger,
		applied:  make(map[string]map[string]struct{}),
	}
}

// Apply registers every configured endpoint and deregisters endpoints
// this source registered earlier that are gone from the configuration.
// Endpoints registered by other sources are left alone.
func (s *Static) Apply(services []config.ServiceConfig) error {
	desired := make(map[string]map[string]struct{}, len(services))

	for _, svc := range services {
		if svc.Name == "" {
			return fmt.Errorf("service name is required")
		}
		urls := make(map[string]struct{}, len(svc.Endpoints))

		for _, epCfg := range svc.Endpoints {
			ep := &registry.Endpoint{
				Service:    svc.Name,
				BaseURL:    epCfg.URL,
				Weight:     epCfg.Weight,
				HealthPath: svc.HealthPath,
				Version:    epCfg.Version,
				Tags:       epCfg.Tags,
			}
			if err := s.registry.Register(ep); err != nil {
				return fmt.Errorf("service %q: %w", svc.Name, err)
			}
			urls[epCfg.URL] = struct{}{}
		}
		desired[svc.Name] = urls
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for service, urls := range s.applied {
		for url := range urls {
			if _, keep := desired[service][url]; !keep {
				s.registry.Deregister(service, url)
				s.logger.Info("static endpoint removed from configuration",
					observability.String("service", service),
					observability.String("baseUrl", url),
				)
			}
		}
	}
	s.applied = desired

	return nil
}
