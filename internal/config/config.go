// Package config defines the gateway configuration tree, its loader with
// environment variable substitution, and a file watcher for hot reload.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Default values applied by SetDefaults.
const (
	DefaultServerPort       = 8080
	DefaultMetricsAddress   = ":9090"
	DefaultReadTimeout      = 30 * time.Second
	DefaultWriteTimeout     = 30 * time.Second
	DefaultIdleTimeout      = 120 * time.Second
	DefaultMaxHeaderBytes   = 1 << 20
	DefaultForwardTimeout   = 30 * time.Second
	DefaultProbeInterval    = 30 * time.Second
	DefaultProbeTimeout     = 10 * time.Second
	DefaultProbeEvictAfter  = 5
	DefaultFailureThreshold = 0.5
	DefaultMinimumThroughput = 10
	DefaultRecoveryTimeout  = 30 * time.Second
	DefaultWindowSize       = 10
	DefaultAnonymousLimit   = 60
	DefaultAuthLimit        = 600
	DefaultLimitWindow      = time.Minute
	DefaultAPIKeyHeader     = "X-API-Key"
	DefaultRouteClass       = "default"
	DefaultAdminRate        = 20
	DefaultAdminBurst       = 40
)

// Config is the root configuration for the gateway.
type Config struct {
	Server         ServerConfig     `yaml:"server"`
	Metrics        MetricsConfig    `yaml:"metrics"`
	Logging        LoggingConfig    `yaml:"logging"`
	Tracing        TracingConfig    `yaml:"tracing"`
	Admin          AdminConfig      `yaml:"admin"`
	Auth           AuthConfig       `yaml:"auth"`
	Secrets        SecretsConfig    `yaml:"secrets"`
	RateLimit      RateLimitConfig  `yaml:"rateLimit"`
	CircuitBreaker BreakerSettings  `yaml:"circuitBreaker"`
	Probe          ProbeConfig      `yaml:"probe"`
	Discovery      DiscoveryConfig  `yaml:"discovery"`
	Services       []ServiceConfig  `yaml:"services"`
	Routes         []RouteConfig    `yaml:"routes"`
}

// ServerConfig configures the data-plane HTTP listener.
type ServerConfig struct {
	Address        string   `yaml:"address"`
	Port           int      `yaml:"port"`
	ReadTimeout    Duration `yaml:"readTimeout"`
	WriteTimeout   Duration `yaml:"writeTimeout"`
	IdleTimeout    Duration `yaml:"idleTimeout"`
	MaxHeaderBytes int      `yaml:"maxHeaderBytes"`
}

// MetricsConfig configures the Prometheus/health listener.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// TracingConfig configures OpenTelemetry tracing.
type TracingConfig struct {
	Enabled      bool    `yaml:"enabled"`
	OTLPEndpoint string  `yaml:"otlpEndpoint"`
	SamplingRate float64 `yaml:"samplingRate"`
}

// AdminConfig configures the admin/status API.
type AdminConfig struct {
	Enabled bool   `yaml:"enabled"`
	Token   string `yaml:"token"`
	// Rate and Burst bound the admin token bucket (requests per second).
	Rate  float64 `yaml:"rate"`
	Burst int     `yaml:"burst"`
}

// AuthConfig configures request authentication.
type AuthConfig struct {
	JWT    JWTConfig    `yaml:"jwt"`
	APIKey APIKeyConfig `yaml:"apiKey"`
}

// JWTConfig configures bearer token validation.
type JWTConfig struct {
	Enabled           bool          `yaml:"enabled"`
	AllowedAlgorithms []string      `yaml:"allowedAlgorithms"`
	Issuers           []string      `yaml:"issuers"`
	Audiences         []string      `yaml:"audiences"`
	ClockSkew         Duration      `yaml:"clockSkew"`
	HMACSecret        string        `yaml:"hmacSecret"`
	PublicKeyPEM      string        `yaml:"publicKeyPEM"`
	PublicKeyFile     string        `yaml:"publicKeyFile"`
	SecretRef         string        `yaml:"secretRef"`
	Claims            ClaimsMapping `yaml:"claims"`
}

// ClaimsMapping names the claims that populate the identity.
type ClaimsMapping struct {
	Subject     string `yaml:"subject"`
	Roles       string `yaml:"roles"`
	Permissions string `yaml:"permissions"`
	Scopes      string `yaml:"scopes"`
}

// APIKeyConfig configures API key validation.
type APIKeyConfig struct {
	Enabled       bool         `yaml:"enabled"`
	Header        string       `yaml:"header"`
	HashAlgorithm string       `yaml:"hashAlgorithm"`
	Keys          []APIKeySpec `yaml:"keys"`
}

// APIKeySpec declares one API key by its hash. Plaintext keys never
// appear in configuration; HashRef defers the hash to the secrets
// provider.
type APIKeySpec struct {
	ID          string         `yaml:"id"`
	Hash        string         `yaml:"hash"`
	HashRef     string         `yaml:"hashRef"`
	Roles       []string       `yaml:"roles"`
	Permissions []string       `yaml:"permissions"`
	ExpiresAt   time.Time      `yaml:"expiresAt"`
	Revoked     bool           `yaml:"revoked"`
	RateLimit   *LimitSettings `yaml:"rateLimit"`
}

// SecretsConfig selects the secrets provider.
type SecretsConfig struct {
	Provider string            `yaml:"provider"`
	Static   map[string]string `yaml:"static"`
	Vault    VaultConfig       `yaml:"vault"`
}

// VaultConfig configures the Vault KV v2 provider.
type VaultConfig struct {
	Address   string   `yaml:"address"`
	Token     string   `yaml:"token"`
	Namespace string   `yaml:"namespace"`
	MountPath string   `yaml:"mountPath"`
	Timeout   Duration `yaml:"timeout"`
}

// LimitSettings is one fixed-window limit: at most Limit requests per
// Window.
type LimitSettings struct {
	Limit  int      `yaml:"limit"`
	Window Duration `yaml:"window"`
}

// TierConfig holds the limits for one admission tier.
type TierConfig struct {
	Default LimitSettings            `yaml:"default"`
	Classes map[string]LimitSettings `yaml:"classes"`
}

// RateLimitConfig configures the two-tier rate limiter.
type RateLimitConfig struct {
	Enabled       bool        `yaml:"enabled"`
	Store         string      `yaml:"store"`
	Redis         RedisConfig `yaml:"redis"`
	Anonymous     TierConfig  `yaml:"anonymous"`
	Authenticated TierConfig  `yaml:"authenticated"`
}

// RedisConfig configures the shared Redis counter store.
type RedisConfig struct {
	Address      string   `yaml:"address"`
	Password     string   `yaml:"password"`
	DB           int      `yaml:"db"`
	Prefix       string   `yaml:"prefix"`
	PoolSize     int      `yaml:"poolSize"`
	MinIdleConns int      `yaml:"minIdleConns"`
	DialTimeout  Duration `yaml:"dialTimeout"`
	ReadTimeout  Duration `yaml:"readTimeout"`
	WriteTimeout Duration `yaml:"writeTimeout"`
}

// BreakerSettings tunes a circuit breaker. Zero values fall back to the
// gateway-wide defaults.
type BreakerSettings struct {
	FailureThreshold  float64  `yaml:"failureThreshold"`
	MinimumThroughput int      `yaml:"minimumThroughput"`
	RecoveryTimeout   Duration `yaml:"recoveryTimeout"`
	WindowSize        int      `yaml:"windowSize"`
}

// ProbeConfig configures background health probing.
type ProbeConfig struct {
	Interval   Duration `yaml:"interval"`
	Timeout    Duration `yaml:"timeout"`
	EvictAfter int      `yaml:"evictAfter"`
}

// DiscoveryConfig configures dynamic endpoint discovery.
type DiscoveryConfig struct {
	Kubernetes KubernetesDiscoveryConfig `yaml:"kubernetes"`
}

// KubernetesDiscoveryConfig configures the Kubernetes Endpoints watcher.
type KubernetesDiscoveryConfig struct {
	Enabled    bool     `yaml:"enabled"`
	Namespace  string   `yaml:"namespace"`
	Kubeconfig string   `yaml:"kubeconfig"`
	Resync     Duration `yaml:"resync"`
}

// ServiceConfig declares one logical backend service.
type ServiceConfig struct {
	Name           string           `yaml:"name"`
	HealthPath     string           `yaml:"healthPath"`
	ProbeType      string           `yaml:"probeType"`
	ProbeInterval  Duration         `yaml:"probeInterval"`
	Timeout        Duration         `yaml:"timeout"`
	CircuitBreaker *BreakerSettings `yaml:"circuitBreaker"`
	Endpoints      []EndpointConfig `yaml:"endpoints"`
}

// EndpointConfig declares one backend instance of a service.
type EndpointConfig struct {
	URL     string            `yaml:"url"`
	Weight  int               `yaml:"weight"`
	Version string            `yaml:"version"`
	Tags    []string          `yaml:"tags"`
}

// HeaderRules configures request header rewriting for a route.
type HeaderRules struct {
	Set    map[string]string `yaml:"set"`
	Remove []string          `yaml:"remove"`
}

// RouteConfig declares one route of the data plane.
type RouteConfig struct {
	Name                string         `yaml:"name"`
	PathPrefix          string         `yaml:"pathPrefix"`
	PathExact           string         `yaml:"pathExact"`
	Methods             []string       `yaml:"methods"`
	Service             string         `yaml:"service"`
	Public              bool           `yaml:"public"`
	Class               string         `yaml:"class"`
	RequiredRoles       []string       `yaml:"requiredRoles"`
	RequiredPermissions []string       `yaml:"requiredPermissions"`
	Policy              string         `yaml:"policy"`
	Timeout             Duration       `yaml:"timeout"`
	Headers             HeaderRules    `yaml:"headers"`
	RateLimit           *LimitSettings `yaml:"rateLimit"`
}

// DefaultConfig returns a configuration populated with defaults.
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.SetDefaults()
	return cfg
}

// SetDefaults fills zero values with defaults. It is safe to call on a
// freshly unmarshaled configuration before validation.
func (c *Config) SetDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = DefaultServerPort
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = Duration(DefaultReadTimeout)
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = Duration(DefaultWriteTimeout)
	}
	if c.Server.IdleTimeout == 0 {
		c.Server.IdleTimeout = Duration(DefaultIdleTimeout)
	}
	if c.Server.MaxHeaderBytes == 0 {
		c.Server.MaxHeaderBytes = DefaultMaxHeaderBytes
	}

	if c.Metrics.Address == "" {
		c.Metrics.Address = DefaultMetricsAddress
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.Logging.Output == "" {
		c.Logging.Output = "stdout"
	}

	if c.Admin.Rate == 0 {
		c.Admin.Rate = DefaultAdminRate
	}
	if c.Admin.Burst == 0 {
		c.Admin.Burst = DefaultAdminBurst
	}

	if c.Auth.APIKey.Header == "" {
		c.Auth.APIKey.Header = DefaultAPIKeyHeader
	}
	if c.Auth.APIKey.HashAlgorithm == "" {
		c.Auth.APIKey.HashAlgorithm = "sha256"
	}
	if c.Auth.JWT.Claims.Subject == "" {
		c.Auth.JWT.Claims.Subject = "sub"
	}
	if c.Auth.JWT.Claims.Roles == "" {
		c.Auth.JWT.Claims.Roles = "roles"
	}
	if c.Auth.JWT.Claims.Permissions == "" {
		c.Auth.JWT.Claims.Permissions = "permissions"
	}
	if c.Auth.JWT.Claims.Scopes == "" {
		c.Auth.JWT.Claims.Scopes = "scope"
	}

	if c.Secrets.Provider == "" {
		c.Secrets.Provider = "none"
	}
	if c.Secrets.Vault.MountPath == "" {
		c.Secrets.Vault.MountPath = "secret"
	}

	if c.RateLimit.Store == "" {
		c.RateLimit.Store = "memory"
	}
	if c.RateLimit.Anonymous.Default.Limit == 0 {
		c.RateLimit.Anonymous.Default.Limit = DefaultAnonymousLimit
	}
	if c.RateLimit.Anonymous.Default.Window == 0 {
		c.RateLimit.Anonymous.Default.Window = Duration(DefaultLimitWindow)
	}
	if c.RateLimit.Authenticated.Default.Limit == 0 {
		c.RateLimit.Authenticated.Default.Limit = DefaultAuthLimit
	}
	if c.RateLimit.Authenticated.Default.Window == 0 {
		c.RateLimit.Authenticated.Default.Window = Duration(DefaultLimitWindow)
	}

	c.CircuitBreaker.setDefaults()

	if c.Probe.Interval == 0 {
		c.Probe.Interval = Duration(DefaultProbeInterval)
	}
	if c.Probe.Timeout == 0 {
		c.Probe.Timeout = Duration(DefaultProbeTimeout)
	}
	if c.Probe.EvictAfter == 0 {
		c.Probe.EvictAfter = DefaultProbeEvictAfter
	}

	if c.Discovery.Kubernetes.Namespace == "" {
		c.Discovery.Kubernetes.Namespace = "default"
	}
	if c.Discovery.Kubernetes.Resync == 0 {
		c.Discovery.Kubernetes.Resync = Duration(5 * time.Minute)
	}

	for i := range c.Services {
		svc := &c.Services[i]
		if svc.HealthPath == "" {
			svc.HealthPath = "/health"
		}
		if svc.ProbeType == "" {
			svc.ProbeType = "http"
		}
		if svc.Timeout == 0 {
			svc.Timeout = Duration(DefaultForwardTimeout)
		}
		if svc.CircuitBreaker != nil {
			svc.CircuitBreaker.setDefaults()
		}
		for j := range svc.Endpoints {
			if svc.Endpoints[j].Weight == 0 {
				svc.Endpoints[j].Weight = 1
			}
		}
	}

	for i := range c.Routes {
		if c.Routes[i].Class == "" {
			c.Routes[i].Class = DefaultRouteClass
		}
	}
}

func (b *BreakerSettings) setDefaults() {
	if b.FailureThreshold == 0 {
		b.FailureThreshold = DefaultFailureThreshold
	}
	if b.MinimumThroughput == 0 {
		b.MinimumThroughput = DefaultMinimumThroughput
	}
	if b.RecoveryTimeout == 0 {
		b.RecoveryTimeout = Duration(DefaultRecoveryTimeout)
	}
	if b.WindowSize == 0 {
		b.WindowSize = DefaultWindowSize
	}
	// The ring must hold at least MinimumThroughput outcomes or the trip
	// condition is unreachable.
	if b.WindowSize < b.MinimumThroughput {
		b.WindowSize = b.MinimumThroughput
	}
}

// ValidateConfig validates a configuration after defaults are applied.
func ValidateConfig(c *Config) error {
	if c == nil {
		return fmt.Errorf("config is nil")
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be in 1..65535, got %d", c.Server.Port)
	}

	if err := validateBreaker("circuitBreaker", &c.CircuitBreaker); err != nil {
		return err
	}

	if c.Probe.Interval <= 0 {
		return fmt.Errorf("probe.interval must be positive")
	}
	if c.Probe.Timeout <= 0 {
		return fmt.Errorf("probe.timeout must be positive")
	}
	if c.Probe.EvictAfter < 0 {
		return fmt.Errorf("probe.evictAfter must not be negative")
	}

	switch c.RateLimit.Store {
	case "memory", "redis":
	default:
		return fmt.Errorf("rateLimit.store must be memory or redis, got %q", c.RateLimit.Store)
	}
	if c.RateLimit.Store == "redis" && c.RateLimit.Redis.Address == "" {
		return fmt.Errorf("rateLimit.redis.address is required for the redis store")
	}
	if err := validateTier("rateLimit.anonymous", &c.RateLimit.Anonymous); err != nil {
		return err
	}
	if err := validateTier("rateLimit.authenticated", &c.RateLimit.Authenticated); err != nil {
		return err
	}

	switch c.Auth.APIKey.HashAlgorithm {
	case "sha256", "bcrypt":
	default:
		return fmt.Errorf("auth.apiKey.hashAlgorithm must be sha256 or bcrypt, got %q",
			c.Auth.APIKey.HashAlgorithm)
	}
	for i, key := range c.Auth.APIKey.Keys {
		if key.ID == "" {
			return fmt.Errorf("auth.apiKey.keys[%d]: id is required", i)
		}
		if key.Hash == "" && key.HashRef == "" {
			return fmt.Errorf("auth.apiKey.keys[%d] (%s): hash or hashRef is required", i, key.ID)
		}
	}

	switch c.Secrets.Provider {
	case "none", "static", "env", "vault":
	default:
		return fmt.Errorf("secrets.provider must be none, static, env, or vault, got %q",
			c.Secrets.Provider)
	}
	if c.Secrets.Provider == "vault" && c.Secrets.Vault.Address == "" {
		return fmt.Errorf("secrets.vault.address is required for the vault provider")
	}

	serviceNames := make(map[string]bool, len(c.Services))
	for i, svc := range c.Services {
		if svc.Name == "" {
			return fmt.Errorf("services[%d]: name is required", i)
		}
		if serviceNames[svc.Name] {
			return fmt.Errorf("services[%d]: duplicate service name %q", i, svc.Name)
		}
		serviceNames[svc.Name] = true

		if svc.ProbeType != "http" && svc.ProbeType != "grpc" {
			return fmt.Errorf("services[%d] (%s): probeType must be http or grpc, got %q",
				i, svc.Name, svc.ProbeType)
		}
		if !strings.HasPrefix(svc.HealthPath, "/") {
			return fmt.Errorf("services[%d] (%s): healthPath must start with /", i, svc.Name)
		}
		if svc.CircuitBreaker != nil {
			if err := validateBreaker(fmt.Sprintf("services[%d].circuitBreaker", i), svc.CircuitBreaker); err != nil {
				return err
			}
		}
		for j, ep := range svc.Endpoints {
			u, err := url.Parse(ep.URL)
			if err != nil || u.Scheme == "" || u.Host == "" {
				return fmt.Errorf("services[%d] (%s): endpoints[%d]: invalid url %q",
					i, svc.Name, j, ep.URL)
			}
			if ep.Weight < 0 {
				return fmt.Errorf("services[%d] (%s): endpoints[%d]: weight must not be negative",
					i, svc.Name, j)
			}
		}
	}

	routeNames := make(map[string]bool, len(c.Routes))
	for i, route := range c.Routes {
		if route.Name == "" {
			return fmt.Errorf("routes[%d]: name is required", i)
		}
		if routeNames[route.Name] {
			return fmt.Errorf("routes[%d]: duplicate route name %q", i, route.Name)
		}
		routeNames[route.Name] = true

		if route.PathPrefix == "" && route.PathExact == "" {
			return fmt.Errorf("routes[%d] (%s): pathPrefix or pathExact is required", i, route.Name)
		}
		if route.PathPrefix != "" && !strings.HasPrefix(route.PathPrefix, "/") {
			return fmt.Errorf("routes[%d] (%s): pathPrefix must start with /", i, route.Name)
		}
		if route.PathExact != "" && !strings.HasPrefix(route.PathExact, "/") {
			return fmt.Errorf("routes[%d] (%s): pathExact must start with /", i, route.Name)
		}
		if route.Service == "" {
			return fmt.Errorf("routes[%d] (%s): service is required", i, route.Name)
		}
		if !serviceNames[route.Service] {
			return fmt.Errorf("routes[%d] (%s): unknown service %q", i, route.Name, route.Service)
		}
		if route.RateLimit != nil {
			if route.RateLimit.Limit <= 0 || route.RateLimit.Window <= 0 {
				return fmt.Errorf("routes[%d] (%s): rateLimit requires positive limit and window",
					i, route.Name)
			}
		}
	}

	return nil
}

func validateBreaker(path string, b *BreakerSettings) error {
	if b.FailureThreshold <= 0 || b.FailureThreshold > 1 {
		return fmt.Errorf("%s.failureThreshold must be in (0, 1], got %v", path, b.FailureThreshold)
	}
	if b.MinimumThroughput < 1 {
		return fmt.Errorf("%s.minimumThroughput must be at least 1, got %d", path, b.MinimumThroughput)
	}
	if b.RecoveryTimeout <= 0 {
		return fmt.Errorf("%s.recoveryTimeout must be positive", path)
	}
	if b.WindowSize < b.MinimumThroughput {
		return fmt.Errorf("%s.windowSize must be at least minimumThroughput (%d), got %d",
			path, b.MinimumThroughput, b.WindowSize)
	}
	return nil
}

func validateTier(path string, tier *TierConfig) error {
	if tier.Default.Limit <= 0 {
		return fmt.Errorf("%s.default.limit must be positive", path)
	}
	if tier.Default.Window <= 0 {
		return fmt.Errorf("%s.default.window must be positive", path)
	}
	for class, limit := range tier.Classes {
		if limit.Limit <= 0 || limit.Window <= 0 {
			return fmt.Errorf("%s.classes[%s] requires positive limit and window", path, class)
		}
	}
	return nil
}

// ResolveLimit returns the limit settings for the given endpoint class,
// falling back to the tier default.
func (t *TierConfig) ResolveLimit(class string) LimitSettings {
	if limit, ok := t.Classes[class]; ok {
		return limit
	}
	return t.Default
}

// Service returns the service configuration by name, or nil.
func (c *Config) Service(name string) *ServiceConfig {
	for i := range c.Services {
		if c.Services[i].Name == name {
			return &c.Services[i]
		}
	}
	return nil
}
