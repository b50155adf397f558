package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gatehouseio/gatehouse/internal/auth"
	"github.com/gatehouseio/gatehouse/internal/authz"
	"github.com/gatehouseio/gatehouse/internal/circuitbreaker"
	"github.com/gatehouseio/gatehouse/internal/config"
	"github.com/gatehouseio/gatehouse/internal/discovery"
	"github.com/gatehouseio/gatehouse/internal/gateway"
	"github.com/gatehouseio/gatehouse/internal/health"
	"github.com/gatehouseio/gatehouse/internal/observability"
	"github.com/gatehouseio/gatehouse/internal/probe"
	"github.com/gatehouseio/gatehouse/internal/proxy"
	"github.com/gatehouseio/gatehouse/internal/ratelimit"
	"github.com/gatehouseio/gatehouse/internal/ratelimit/store"
	"github.com/gatehouseio/gatehouse/internal/registry"
	"github.com/gatehouseio/gatehouse/internal/secrets"
)

// application owns every long-lived component and their shutdown order.
type application struct {
	cfg    *config.Config
	logger observability.Logger

	tracer   *observability.Tracer
	secrets  secrets.Provider
	authn    *auth.Authenticator
	policies *authz.PolicyEngine
	registry *registry.Registry
	balancer *registry.Balancer
	hub      *gateway.EventHub
	breakers *circuitbreaker.Registry

	limitStore store.Store
	limiter    *ratelimit.Limiter

	static      *discovery.Static
	prober      *probe.Prober
	grpcChecker *probe.GRPCChecker
	k8sWatcher  *discovery.KubernetesWatcher

	server     *gateway.Server
	metricsSrv *http.Server
}

// newApplication builds the full component graph from configuration.
// Nothing is started; Start brings the listeners and background loops up.
func newApplication(ctx context.Context, cfg *config.Config, logger observability.Logger) (*application, error) {
	app := &application{cfg: cfg, logger: logger}

	tracer, err := observability.NewTracer(observability.TracerConfig{
		ServiceName:  "gatehouse",
		OTLPEndpoint: cfg.Tracing.OTLPEndpoint,
		SamplingRate: cfg.Tracing.SamplingRate,
		Enabled:      cfg.Tracing.Enabled,
	})
	if err != nil {
		return nil, fmt.Errorf("init tracer: %w", err)
	}
	app.tracer = tracer

	provider, err := secrets.NewProvider(cfg.Secrets, observability.Zap(logger))
	if err != nil {
		return nil, fmt.Errorf("init secrets provider: %w", err)
	}
	app.secrets = provider

	authn, err := auth.Build(ctx, cfg.Auth, provider, logger)
	if err != nil {
		return nil, fmt.Errorf("init authenticator: %w", err)
	}
	app.authn = authn

	table, policies, err := buildTable(cfg)
	if err != nil {
		return nil, fmt.Errorf("compile routes: %w", err)
	}
	app.policies = policies
	authorizer := authz.NewAuthorizer(policies, logger)

	app.registry = registry.NewRegistry(logger)
	app.balancer = registry.NewBalancer()
	app.hub = gateway.NewEventHub()

	breakerCfg := breakerConfig(cfg.CircuitBreaker)
	breakerCfg.OnStateChange = app.hub.StateChangeHook()
	app.breakers = circuitbreaker.NewRegistry(breakerCfg, observability.Zap(logger))
	for _, svc := range cfg.Services {
		if svc.CircuitBreaker == nil {
			continue
		}
		perSvc := breakerConfig(*svc.CircuitBreaker)
		perSvc.OnStateChange = app.hub.StateChangeHook()
		app.breakers.GetOrCreateWithConfig(svc.Name, perSvc)
	}

	limiter, err := app.buildRateLimiter()
	if err != nil {
		return nil, fmt.Errorf("init rate limiter: %w", err)
	}

	app.static = discovery.NewStatic(app.registry, logger)
	if err := app.static.Apply(cfg.Services); err != nil {
		return nil, fmt.Errorf("apply static endpoints: %w", err)
	}

	app.grpcChecker = probe.NewGRPCChecker()
	proberOpts := []probe.ProberOption{
		probe.WithDefaults(probe.Settings{
			Interval: cfg.Probe.Interval.Duration(),
			Timeout:  cfg.Probe.Timeout.Duration(),
		}),
		probe.WithEvictAfter(cfg.Probe.EvictAfter),
		probe.WithGRPCChecker(app.grpcChecker),
	}
	for _, svc := range cfg.Services {
		proberOpts = append(proberOpts, probe.WithServiceSettings(svc.Name, probe.Settings{
			Interval: svc.ProbeInterval.Duration(),
			Type:     svc.ProbeType,
		}))
	}
	app.prober = probe.NewProber(app.registry, observability.Zap(logger), proberOpts...)

	if cfg.Discovery.Kubernetes.Enabled {
		watcher, err := discovery.NewKubernetesWatcher(cfg.Discovery.Kubernetes, app.registry, observability.Zap(logger))
		if err != nil {
			return nil, fmt.Errorf("init kubernetes discovery: %w", err)
		}
		app.k8sWatcher = watcher
	}

	pipeline := gateway.NewPipeline(
		table,
		authn,
		limiter,
		authorizer,
		app.breakers,
		app.registry,
		app.balancer,
		proxy.NewForwarder(proxy.WithLogger(logger)),
		gateway.WithPipelineLogger(logger),
	)
	app.server = gateway.NewServer(cfg.Server, pipeline, logger, cfg.Tracing.Enabled)

	if cfg.Admin.Enabled {
		admin := gateway.NewAdminAPI(cfg.Admin, app.registry, app.breakers, app.usageFunc(), app.hub, logger)
		admin.RegisterRoutes(app.server.Engine())
	}

	if cfg.Metrics.Enabled {
		app.metricsSrv = app.buildMetricsServer()
	}

	return app, nil
}

// buildTable compiles the route table together with a fresh policy
// engine holding its CEL programs. Routes without an explicit timeout
// inherit the owning service's timeout.
func buildTable(cfg *config.Config) (*gateway.Table, *authz.PolicyEngine, error) {
	policies, err := authz.NewPolicyEngine()
	if err != nil {
		return nil, nil, err
	}

	timeouts := make(map[string]config.Duration, len(cfg.Services))
	for _, svc := range cfg.Services {
		timeouts[svc.Name] = svc.Timeout
	}

	routes := make([]config.RouteConfig, len(cfg.Routes))
	copy(routes, cfg.Routes)
	for i := range routes {
		if routes[i].Timeout == 0 {
			routes[i].Timeout = timeouts[routes[i].Service]
		}
	}

	table, err := gateway.NewTable(routes, policies)
	if err != nil {
		return nil, nil, err
	}
	return table, policies, nil
}

func breakerConfig(s config.BreakerSettings) *circuitbreaker.Config {
	return &circuitbreaker.Config{
		FailureThreshold:  s.FailureThreshold,
		MinimumThroughput: s.MinimumThroughput,
		RecoveryTimeout:   s.RecoveryTimeout.Duration(),
		WindowSize:        s.WindowSize,
	}
}

// buildRateLimiter selects the counter store and assembles the tiered
// limiter. A Redis store is wrapped so that store outages degrade to
// in-process counting instead of failing requests.
func (a *application) buildRateLimiter() (gateway.RateLimiter, error) {
	if !a.cfg.RateLimit.Enabled {
		return passLimiter{}, nil
	}

	memory := store.NewMemoryStore()
	var backing store.Store = memory
	if a.cfg.RateLimit.Store == "redis" {
		redisStore, err := store.NewRedisStore(&store.RedisConfig{
			Address:      a.cfg.RateLimit.Redis.Address,
			Password:     a.cfg.RateLimit.Redis.Password,
			DB:           a.cfg.RateLimit.Redis.DB,
			Prefix:       a.cfg.RateLimit.Redis.Prefix,
			PoolSize:     a.cfg.RateLimit.Redis.PoolSize,
			MinIdleConns: a.cfg.RateLimit.Redis.MinIdleConns,
			DialTimeout:  a.cfg.RateLimit.Redis.DialTimeout.Duration(),
			ReadTimeout:  a.cfg.RateLimit.Redis.ReadTimeout.Duration(),
			WriteTimeout: a.cfg.RateLimit.Redis.WriteTimeout.Duration(),
		})
		if err != nil {
			return nil, err
		}
		backing = ratelimit.NewResilientStore(redisStore, memory, nil)
	}
	a.limitStore = backing

	a.limiter = ratelimit.NewLimiter(backing, observability.Zap(a.logger))
	tiered := ratelimit.NewTieredLimiter(
		a.limiter,
		classRules(a.cfg.RateLimit.Anonymous),
		classRules(a.cfg.RateLimit.Authenticated),
		observability.Zap(a.logger),
	)
	return tiered, nil
}

func classRules(tier config.TierConfig) ratelimit.ClassRules {
	rules := ratelimit.ClassRules{
		Default: ratelimit.Rule{
			Limit:  tier.Default.Limit,
			Window: tier.Default.Window.Duration(),
		},
	}
	if len(tier.Classes) > 0 {
		rules.Classes = make(map[string]ratelimit.Rule, len(tier.Classes))
		for class, s := range tier.Classes {
			rules.Classes[class] = ratelimit.Rule{Limit: s.Limit, Window: s.Window.Duration()}
		}
	}
	return rules
}

// passLimiter admits everything. Used when rate limiting is disabled.
type passLimiter struct{}

func (passLimiter) Check(context.Context, ratelimit.Subject, string) *ratelimit.Decision {
	return &ratelimit.Decision{Allowed: true}
}

// usageFunc reports current window consumption for a subject on both
// tiers without consuming quota. Backs the admin usage endpoint.
func (a *application) usageFunc() gateway.UsageFunc {
	return func(ctx context.Context, subject string) (map[string]*ratelimit.Decision, error) {
		if a.limiter == nil {
			return map[string]*ratelimit.Decision{}, nil
		}

		out := make(map[string]*ratelimit.Decision, 2)
		ipRule := classRules(a.cfg.RateLimit.Anonymous).Resolve(config.DefaultRouteClass)
		ip, err := a.limiter.Peek(ctx, "ip:"+subject, config.DefaultRouteClass, ipRule.Limit, ipRule.Window)
		if err != nil {
			return nil, err
		}
		out["ip"] = ip

		userRule := classRules(a.cfg.RateLimit.Authenticated).Resolve(config.DefaultRouteClass)
		user, err := a.limiter.Peek(ctx, "user:"+subject, config.DefaultRouteClass, userRule.Limit, userRule.Window)
		if err != nil {
			return nil, err
		}
		out["user"] = user
		return out, nil
	}
}

// buildMetricsServer assembles the operational listener: Prometheus
// metrics plus liveness and readiness probes.
func (a *application) buildMetricsServer() *http.Server {
	checker := health.NewChecker(observability.Zap(a.logger))
	if a.limitStore != nil {
		checker.Register("ratelimit-store", func(ctx context.Context) error {
			_, err := a.limitStore.Get(ctx, "healthcheck")
			if err != nil && !store.IsKeyNotFound(err) {
				return err
			}
			return nil
		})
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	checker.RegisterRoutes(mux)

	addr := a.cfg.Metrics.Address
	if addr == "" {
		addr = config.DefaultMetricsAddress
	}
	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// Start brings up the probe loops, discovery, and listeners.
func (a *application) Start(ctx context.Context) error {
	a.prober.Start(ctx)

	if a.k8sWatcher != nil {
		if err := a.k8sWatcher.Start(ctx); err != nil {
			return fmt.Errorf("start kubernetes discovery: %w", err)
		}
	}

	if a.metricsSrv != nil {
		go func() {
			a.logger.Info("metrics listener started", observability.String("address", a.metricsSrv.Addr))
			if err := a.metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				a.logger.Error("metrics listener failed", observability.Error(err))
			}
		}()
	}

	go func() {
		if err := a.server.Start(); err != nil && err != http.ErrServerClosed {
			a.logger.Fatal("gateway listener failed", observability.Error(err))
		}
	}()

	return nil
}

// Stop shuts everything down in reverse dependency order within the
// deadline carried by ctx.
func (a *application) Stop(ctx context.Context) {
	if err := a.server.Stop(ctx); err != nil {
		a.logger.Error("gateway shutdown failed", observability.Error(err))
	}

	if a.metricsSrv != nil {
		if err := a.metricsSrv.Shutdown(ctx); err != nil {
			a.logger.Error("metrics shutdown failed", observability.Error(err))
		}
	}

	if a.k8sWatcher != nil {
		a.k8sWatcher.Stop()
	}
	a.prober.Stop()
	if err := a.grpcChecker.Close(); err != nil {
		a.logger.Error("closing probe connections failed", observability.Error(err))
	}

	if a.limitStore != nil {
		type closer interface{ Close() error }
		if c, ok := a.limitStore.(closer); ok {
			if err := c.Close(); err != nil {
				a.logger.Error("closing rate limit store failed", observability.Error(err))
			}
		}
	}

	if err := a.secrets.Close(); err != nil {
		a.logger.Error("closing secrets provider failed", observability.Error(err))
	}
	if err := a.tracer.Shutdown(ctx); err != nil {
		a.logger.Error("tracer shutdown failed", observability.Error(err))
	}
}
