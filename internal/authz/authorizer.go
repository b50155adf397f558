// Package authz decides whether an authenticated identity may use a
// route. Routes constrain access three ways: required roles (any of),
// required permissions (all of), and an optional CEL attribute policy.
// All configured constraints must pass.
package authz

import (
	"context"
	"time"

	"github.com/gatehouseio/gatehouse/internal/auth"
	"github.com/gatehouseio/gatehouse/internal/observability"
)

// Rule is the access constraint attached to a route.
type Rule struct {
	// Roles grants access when the identity holds any one of them.
	Roles []string

	// Permissions must all be held by the identity.
	Permissions []string

	// Policy names a compiled attribute policy, usually the route name.
	// Empty means no attribute policy applies.
	Policy string
}

// Empty reports whether the rule constrains nothing.
func (r Rule) Empty() bool {
	return len(r.Roles) == 0 && len(r.Permissions) == 0 && r.Policy == ""
}

// Request carries the attributes a decision is made over.
type Request struct {
	// Identity is the authenticated identity, never nil.
	Identity *auth.Identity

	// Resource is the request path.
	Resource string

	// Action is the HTTP method.
	Action string

	// Attributes are additional request attributes exposed to policies
	// (client IP, selected headers).
	Attributes map[string]interface{}
}

// Decision is the outcome of an authorization check.
type Decision struct {
	// Allowed indicates if the request is allowed.
	Allowed bool

	// Reason explains a denial.
	Reason string
}

var allowed = Decision{Allowed: true}

// Authorizer evaluates route rules against identities.
type Authorizer struct {
	policies *PolicyEngine
	logger   observability.Logger
}

// NewAuthorizer creates an authorizer backed by the policy engine.
func NewAuthorizer(policies *PolicyEngine, logger observability.Logger) *Authorizer {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Authorizer{policies: policies, logger: logger}
}

// Authorize checks the rule against the request. Denial is returned as
// a decision, not an error; the error path is reserved for evaluation
// failures, which also deny.
func (a *Authorizer) Authorize(ctx context.Context, rule Rule, req *Request) Decision {
	start := time.Now()
	decision := a.evaluate(ctx, rule, req)
	RecordDecision(rule.Policy, decision.Allowed, time.Since(start))

	if !decision.Allowed {
		a.logger.WithContext(ctx).Debug("authorization denied",
			observability.String("subject", req.Identity.LogValue()),
			observability.String("resource", req.Resource),
			observability.String("action", req.Action),
			observability.String("reason", decision.Reason),
		)
	}
	return decision
}

func (a *Authorizer) evaluate(ctx context.Context, rule Rule, req *Request) Decision {
	identity := req.Identity
	if identity == nil {
		identity = auth.Anonymous()
	}

	if len(rule.Roles) > 0 && !hasAnyRole(identity, rule.Roles) {
		return Decision{Reason: "missing required role"}
	}

	for _, p := range rule.Permissions {
		if !identity.HasPermission(p) {
			return Decision{Reason: "missing permission: " + p}
		}
	}

	if rule.Policy != "" {
		ok, err := a.policies.Evaluate(rule.Policy, req)
		if err != nil {
			// Fail closed on evaluation errors.
			a.logger.WithContext(ctx).Warn("policy evaluation failed",
				observability.String("policy", rule.Policy),
				observability.Error(err),
			)
			return Decision{Reason: "policy evaluation failed"}
		}
		if !ok {
			return Decision{Reason: "denied by policy: " + rule.Policy}
		}
	}

	return allowed
}

func hasAnyRole(identity *auth.Identity, roles []string) bool {
	for _, r := range roles {
		if identity.HasRole(r) {
			return true
		}
	}
	return false
}
