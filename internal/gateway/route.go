package gateway

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/gatehouseio/gatehouse/internal/authz"
	"github.com/gatehouseio/gatehouse/internal/config"
	"github.com/gatehouseio/gatehouse/internal/proxy"
	"github.com/gatehouseio/gatehouse/internal/ratelimit"
)

// Route is one compiled entry of the routing table.
type Route struct {
	// Name identifies the route in logs, metrics and policies.
	Name string

	// Service is the backend service requests are forwarded to.
	Service string

	// PathExact and PathPrefix define the match; exactly one is set.
	PathExact  string
	PathPrefix string

	// methods filters by HTTP method; nil admits every method.
	methods map[string]bool

	// Public admits anonymous identities.
	Public bool

	// Class is the endpoint class used for rate limiting.
	Class string

	// Rule is the authorization constraint.
	Rule authz.Rule

	// Timeout bounds the downstream call.
	Timeout time.Duration

	// RateLimit overrides the user tier rule for this route.
	RateLimit *ratelimit.Rule

	// Headers rewrites request headers on forward.
	Headers *proxy.HeaderRewriter
}

// AllowsMethod reports whether the route admits the method.
func (r *Route) AllowsMethod(method string) bool {
	return r.methods == nil || r.methods[strings.ToUpper(method)]
}

// Table matches requests to routes: exact paths first, then the
// longest matching prefix.
type Table struct {
	exact    map[string][]*Route
	prefixes []*Route
}

// NewTable compiles the configured routes. Route policies are compiled
// into the policy engine under the route name.
func NewTable(cfgs []config.RouteConfig, policies *authz.PolicyEngine) (*Table, error) {
	t := &Table{exact: make(map[string][]*Route)}

	for _, cfg := range cfgs {
		route, err := compileRoute(cfg, policies)
		if err != nil {
			return nil, err
		}

		if route.PathExact != "" {
			t.exact[route.PathExact] = append(t.exact[route.PathExact], route)
		} else {
			t.prefixes = append(t.prefixes, route)
		}
	}

	// Longest prefix wins; stable for equal lengths.
	sort.SliceStable(t.prefixes, func(i, j int) bool {
		return len(t.prefixes[i].PathPrefix) > len(t.prefixes[j].PathPrefix)
	})

	return t, nil
}

func compileRoute(cfg config.RouteConfig, policies *authz.PolicyEngine) (*Route, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("route name is required")
	}
	if cfg.Service == "" {
		return nil, fmt.Errorf("route %q: service is required", cfg.Name)
	}
	if (cfg.PathExact == "") == (cfg.PathPrefix == "") {
		return nil, fmt.Errorf("route %q: exactly one of pathExact and pathPrefix is required", cfg.Name)
	}

	route := &Route{
		Name:       cfg.Name,
		Service:    cfg.Service,
		PathExact:  cfg.PathExact,
		PathPrefix: cfg.PathPrefix,
		Public:     cfg.Public,
		Class:      cfg.Class,
		Timeout:    cfg.Timeout.Duration(),
		Rule: authz.Rule{
			Roles:       cfg.RequiredRoles,
			Permissions: cfg.RequiredPermissions,
		},
	}

	if len(cfg.Methods) > 0 {
		route.methods = make(map[string]bool, len(cfg.Methods))
		for _, m := range cfg.Methods {
			route.methods[strings.ToUpper(m)] = true
		}
	}

	if cfg.Policy != "" {
		if policies == nil {
			return nil, fmt.Errorf("route %q: policy configured without a policy engine", cfg.Name)
		}
		if err := policies.Compile(cfg.Name, cfg.Policy); err != nil {
			return nil, err
		}
		route.Rule.Policy = cfg.Name
	}

	if cfg.RateLimit != nil {
		route.RateLimit = &ratelimit.Rule{
			Limit:  cfg.RateLimit.Limit,
			Window: cfg.RateLimit.Window.Duration(),
		}
	}

	if len(cfg.Headers.Set) > 0 || len(cfg.Headers.Remove) > 0 {
		rewriter, err := proxy.NewHeaderRewriter(cfg.Headers)
		if err != nil {
			return nil, fmt.Errorf("route %q: %w", cfg.Name, err)
		}
		route.Headers = rewriter
	}

	return route, nil
}

// Match returns the route for the method and path, or nil.
func (t *Table) Match(method, path string) *Route {
	for _, route := range t.exact[path] {
		if route.AllowsMethod(method) {
			return route
		}
	}

	for _, route := range t.prefixes {
		if strings.HasPrefix(path, route.PathPrefix) && route.AllowsMethod(method) {
			return route
		}
	}
	return nil
}

// Len returns the number of compiled routes.
func (t *Table) Len() int {
	n := len(t.prefixes)
	for _, routes := range t.exact {
		n += len(routes)
	}
	return n
}
