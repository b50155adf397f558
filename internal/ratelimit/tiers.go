package ratelimit

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Tier names used in logs and metrics.
const (
	TierIP   = "ip"
	TierUser = "user"
)

// Rule is one limit/window pair.
type Rule struct {
	Limit  int
	Window time.Duration
}

// ClassRules resolves a rule per endpoint class.
type ClassRules struct {
	Default Rule
	Classes map[string]Rule
}

// Resolve returns the rule for the given endpoint class, falling back
// to the default rule.
func (c ClassRules) Resolve(class string) Rule {
	if rule, ok := c.Classes[class]; ok {
		return rule
	}
	return c.Default
}

// Subject identifies who is being limited.
type Subject struct {
	// IP is the client address, always present.
	IP string

	// UserKey identifies the authenticated principal. Empty for
	// anonymous requests, which are governed by the IP tier alone.
	UserKey string

	// Override replaces the user tier rule when set, used for API keys
	// that carry their own quota.
	Override *Rule
}

// TieredLimiter applies the global per-IP tier followed by the per-user
// tier. The IP tier consumes first; a user tier denial does not refund
// the IP slot.
type TieredLimiter struct {
	limiter *Limiter
	ip      ClassRules
	user    ClassRules
	logger  *zap.Logger
}

// NewTieredLimiter creates a tiered limiter over the given fixed-window
// limiter.
func NewTieredLimiter(limiter *Limiter, ip, user ClassRules, logger *zap.Logger) *TieredLimiter {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &TieredLimiter{
		limiter: limiter,
		ip:      ip,
		user:    user,
		logger:  logger,
	}
}

// Check runs the subject through both tiers in order and returns the
// governing decision: the denying tier's decision, or the last tier
// evaluated. A store failure fails open so a degraded counter backend
// never blocks traffic.
func (t *TieredLimiter) Check(ctx context.Context, sub Subject, class string) *Decision {
	ipRule := t.ip.Resolve(class)
	decision, err := t.limiter.CheckAndConsume(ctx, "ip:"+sub.IP, class, ipRule.Limit, ipRule.Window)
	if err != nil {
		return t.failOpen(TierIP, sub.IP, class, ipRule, err)
	}

	RecordDecision(TierIP, class, decision.Allowed)
	if !decision.Allowed {
		return decision
	}

	if sub.UserKey == "" {
		return decision
	}

	userRule := t.user.Resolve(class)
	if sub.Override != nil {
		userRule = *sub.Override
	}

	userDecision, err := t.limiter.CheckAndConsume(ctx, "user:"+sub.UserKey, class, userRule.Limit, userRule.Window)
	if err != nil {
		return t.failOpen(TierUser, sub.UserKey, class, userRule, err)
	}

	RecordDecision(TierUser, class, userDecision.Allowed)
	return userDecision
}

// failOpen logs a store failure and allows the request.
func (t *TieredLimiter) failOpen(tier, key, class string, rule Rule, err error) *Decision {
	t.logger.Warn("rate limit store failure, allowing request",
		zap.String("tier", tier),
		zap.String("key", key),
		zap.String("class", class),
		zap.Error(err),
	)
	RecordStoreFailure(tier)

	return &Decision{
		Allowed:   true,
		Limit:     rule.Limit,
		Remaining: rule.Limit,
	}
}
