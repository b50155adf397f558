// Package probe runs background health checks over registered
// endpoints and feeds results back into the registry. Probing is fully
// decoupled from request handling; a slow endpoint never delays other
// probes or a live request.
package probe

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/gatehouseio/gatehouse/internal/registry"
)

const (
	// DefaultInterval between probe rounds of a service.
	DefaultInterval = 30 * time.Second

	// DefaultTimeout bounds a single probe.
	DefaultTimeout = 10 * time.Second

	// DefaultEvictAfter is the consecutive miss count that evicts an
	// endpoint. Zero disables eviction.
	DefaultEvictAfter = 5

	// rescanInterval is how often the prober adopts services that
	// appeared in the registry after Start.
	rescanInterval = 10 * time.Second
)

// Settings control probing of one service.
type Settings struct {
	// Interval between probe rounds.
	Interval time.Duration

	// Timeout bounds each individual probe.
	Timeout time.Duration

	// Type selects the checker: "http" (default) or "grpc".
	Type string
}

func (s Settings) withDefaults(d Settings) Settings {
	if s.Interval <= 0 {
		s.Interval = d.Interval
	}
	if s.Timeout <= 0 {
		s.Timeout = d.Timeout
	}
	if s.Type == "" {
		s.Type = d.Type
	}
	return s
}

// Prober probes every endpoint of every known service on a per-service
// interval. Services registered after Start are adopted on a rescan
// tick with default settings.
type Prober struct {
	registry   *registry.Registry
	httpCheck  Checker
	grpcCheck  Checker
	logger     *zap.Logger
	defaults   Settings
	evictAfter int
	overrides  map[string]Settings

	mu     sync.Mutex
	loops  map[string]context.CancelFunc
	runCtx context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// ProberOption is a functional option for the prober.
type ProberOption func(*Prober)

// WithDefaults sets the default probe settings.
func WithDefaults(s Settings) ProberOption {
	return func(p *Prober) {
		p.defaults = s.withDefaults(p.defaults)
	}
}

// WithEvictAfter sets the consecutive miss count that deregisters an
// endpoint. Zero disables eviction.
func WithEvictAfter(n int) ProberOption {
	return func(p *Prober) {
		p.evictAfter = n
	}
}

// WithServiceSettings overrides settings for one service.
func WithServiceSettings(service string, s Settings) ProberOption {
	return func(p *Prober) {
		p.overrides[service] = s
	}
}

// WithHTTPChecker replaces the HTTP checker.
func WithHTTPChecker(c Checker) ProberOption {
	return func(p *Prober) {
		p.httpCheck = c
	}
}

// WithGRPCChecker replaces the gRPC checker.
func WithGRPCChecker(c Checker) ProberOption {
	return func(p *Prober) {
		p.grpcCheck = c
	}
}

// NewProber creates a prober over the registry.
func NewProber(reg *registry.Registry, logger *zap.Logger, opts ...ProberOption) *Prober {
	if logger == nil {
		logger = zap.NewNop()
	}

	p := &Prober{
		registry: reg,
		logger:   logger,
		defaults: Settings{
			Interval: DefaultInterval,
			Timeout:  DefaultTimeout,
			Type:     "http",
		},
		evictAfter: DefaultEvictAfter,
		overrides:  make(map[string]Settings),
		loops:      make(map[string]context.CancelFunc),
	}

	for _, opt := range opts {
		opt(p)
	}

	if p.httpCheck == nil {
		p.httpCheck = NewHTTPChecker(nil)
	}
	if p.grpcCheck == nil {
		p.grpcCheck = NewGRPCChecker()
	}
	return p
}

// Start launches the probe loops. It returns immediately.
func (p *Prober) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)

	p.mu.Lock()
	p.runCtx = ctx
	p.cancel = cancel
	p.mu.Unlock()

	p.adopt()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ticker := time.NewTicker(rescanInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				p.adopt()
			}
		}
	}()
}

// Stop cancels all probe loops and waits for them to exit. Every
// per-service cancel is invoked directly so loops exit regardless of
// which context they were adopted under.
func (p *Prober) Stop() {
	p.mu.Lock()
	if p.cancel != nil {
		p.cancel()
	}
	for service, cancel := range p.loops {
		cancel()
		delete(p.loops, service)
	}
	p.mu.Unlock()
	p.wg.Wait()
}

// adopt starts a loop for every service not yet probed and stops loops
// of services that disappeared. New loops are children of the Start
// context, so Stop reaches them either way.
func (p *Prober) adopt() {
	current := make(map[string]bool)
	for _, service := range p.registry.Services() {
		current[service] = true
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	ctx := p.runCtx
	if ctx == nil || ctx.Err() != nil {
		return
	}

	for service, cancel := range p.loops {
		if !current[service] {
			cancel()
			delete(p.loops, service)
			p.logger.Info("stopped probing service", zap.String("service", service))
		}
	}

	for service := range current {
		if _, running := p.loops[service]; running {
			continue
		}
		loopCtx, cancel := context.WithCancel(ctx)
		p.loops[service] = cancel
		settings := p.overrides[service].withDefaults(p.defaults)

		p.wg.Add(1)
		go p.loop(loopCtx, service, settings)

		p.logger.Info("probing service",
			zap.String("service", service),
			zap.Duration("interval", settings.Interval),
			zap.String("type", settings.Type),
		)
	}
}

// loop probes one service until its context is cancelled.
func (p *Prober) loop(ctx context.Context, service string, settings Settings) {
	defer p.wg.Done()

	ticker := time.NewTicker(settings.Interval)
	defer ticker.Stop()

	p.probeService(ctx, service, settings)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.probeService(ctx, service, settings)
		}
	}
}

// probeService fans out one probe goroutine per endpoint.
func (p *Prober) probeService(ctx context.Context, service string, settings Settings) {
	for _, ep := range p.registry.List(service) {
		p.wg.Add(1)
		go func(ep *registry.Endpoint) {
			defer p.wg.Done()
			p.probeEndpoint(ctx, ep, settings)
		}(ep)
	}
}

func (p *Prober) probeEndpoint(ctx context.Context, ep *registry.Endpoint, settings Settings) {
	checker := p.httpCheck
	if settings.Type == "grpc" {
		checker = p.grpcCheck
	}

	probeCtx, cancel := context.WithTimeout(ctx, settings.Timeout)
	defer cancel()

	start := time.Now()
	err := checker.Check(probeCtx, ep)
	RecordProbe(ep.Service, err == nil, time.Since(start))

	if err == nil {
		p.registry.MarkHealth(ep.Service, ep.BaseURL, true, time.Now())
		return
	}

	p.logger.Debug("probe failed",
		zap.String("service", ep.Service),
		zap.String("baseUrl", ep.BaseURL),
		zap.Error(err),
	)

	misses, ok := p.registry.MarkHealth(ep.Service, ep.BaseURL, false, time.Now())
	if !ok {
		return
	}

	if p.evictAfter > 0 && misses >= p.evictAfter {
		p.registry.Deregister(ep.Service, ep.BaseURL)
		RecordEviction(ep.Service)
		p.logger.Warn("endpoint evicted after consecutive probe misses",
			zap.String("service", ep.Service),
			zap.String("baseUrl", ep.BaseURL),
			zap.Int("misses", misses),
		)
	}
}
