// Package gateway is the admission and routing core: it resolves the
// route, runs the ordered admission stages, and forwards admitted
// requests to a healthy backend endpoint.
package gateway

import (
	"context"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/gatehouseio/gatehouse/internal/auth"
	"github.com/gatehouseio/gatehouse/internal/authz"
	"github.com/gatehouseio/gatehouse/internal/observability"
	"github.com/gatehouseio/gatehouse/internal/proxy"
	"github.com/gatehouseio/gatehouse/internal/ratelimit"
	"github.com/gatehouseio/gatehouse/internal/registry"
	"github.com/gatehouseio/gatehouse/internal/retry"
)

// The pipeline stages are small interfaces so each can be replaced in
// tests.

// Authenticator resolves the request identity.
type Authenticator interface {
	Authenticate(ctx context.Context, r *http.Request) (*auth.Identity, error)
}

// RateLimiter admits or rejects a subject.
type RateLimiter interface {
	Check(ctx context.Context, sub ratelimit.Subject, class string) *ratelimit.Decision
}

// Authorizer checks a route rule against a request.
type Authorizer interface {
	Authorize(ctx context.Context, rule authz.Rule, req *authz.Request) authz.Decision
}

// Breakers is the circuit breaker surface the pipeline needs.
type Breakers interface {
	IsCallAllowed(service string) bool
	RecordOutcome(service string, success bool, latency time.Duration)
	ReleaseTrial(service string)
}

// Endpoints lists healthy endpoints of a service.
type Endpoints interface {
	ListHealthy(service string) []*registry.Endpoint
}

// Picker selects one endpoint from the healthy candidates.
type Picker interface {
	Pick(service string, candidates []*registry.Endpoint) *registry.Endpoint
}

// Forwarder issues one downstream attempt.
type Forwarder interface {
	Forward(ctx context.Context, target string, r *http.Request, body []byte, rewriter *proxy.HeaderRewriter) (*http.Response, error)
}

// Pipeline runs the admission stages in order and forwards admitted
// requests. Every stage short-circuits with a rejection envelope.
type Pipeline struct {
	table     atomic.Pointer[Table]
	auth      Authenticator
	limiter   RateLimiter
	authorize Authorizer
	breakers  Breakers
	endpoints Endpoints
	picker    Picker
	forwarder Forwarder
	retry     *retry.Policy
	logger    observability.Logger
}

// PipelineOption is a functional option for the pipeline.
type PipelineOption func(*Pipeline)

// WithRetryPolicy sets the retry policy.
func WithRetryPolicy(p *retry.Policy) PipelineOption {
	return func(pl *Pipeline) {
		pl.retry = p
	}
}

// WithPipelineLogger sets the logger.
func WithPipelineLogger(logger observability.Logger) PipelineOption {
	return func(pl *Pipeline) {
		pl.logger = logger
	}
}

// NewPipeline wires the stages together.
func NewPipeline(
	table *Table,
	authn Authenticator,
	limiter RateLimiter,
	authorizer Authorizer,
	breakers Breakers,
	endpoints Endpoints,
	picker Picker,
	forwarder Forwarder,
	opts ...PipelineOption,
) *Pipeline {
	p := &Pipeline{
		auth:      authn,
		limiter:   limiter,
		authorize: authorizer,
		breakers:  breakers,
		endpoints: endpoints,
		picker:    picker,
		forwarder: forwarder,
		retry:     retry.NewPolicy(true, nil),
		logger:    observability.NopLogger(),
	}
	p.table.Store(table)
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// SetRoutes atomically swaps the route table. In-flight requests keep
// the table they matched against.
func (p *Pipeline) SetRoutes(table *Table) {
	p.table.Store(table)
}

// Handle runs one request through the pipeline. It is installed as the
// gin NoRoute handler, so everything not claimed by the admin or
// health surfaces lands here.
func (p *Pipeline) Handle(c *gin.Context) {
	start := time.Now()
	r := c.Request
	ctx := r.Context()

	route := p.table.Load().Match(r.Method, r.URL.Path)
	if route == nil {
		p.reject(c, "", start, Rejection{
			Reason:  ReasonRouteNotFound,
			Message: "no route matches " + r.Method + " " + r.URL.Path,
		})
		return
	}

	// Stage 1: authenticate.
	identity, err := p.auth.Authenticate(ctx, r)
	if err != nil {
		p.logger.WithContext(ctx).Info("authentication rejected",
			observability.String("route", route.Name),
			observability.Error(err),
		)
		p.reject(c, route.Name, start, Rejection{
			Reason:  ReasonUnauthenticated,
			Message: "invalid credentials",
		})
		return
	}
	if identity.IsAnonymous() && !route.Public {
		p.reject(c, route.Name, start, Rejection{
			Reason:  ReasonUnauthenticated,
			Message: "credentials required",
		})
		return
	}
	ctx = auth.ContextWithIdentity(ctx, identity)
	r = r.WithContext(ctx)
	c.Request = r

	// Stage 2: rate limit. The per-key override outranks the route
	// override.
	override := identity.RateLimit
	if override == nil {
		override = route.RateLimit
	}
	sub := ratelimit.Subject{
		IP:       ratelimit.ClientIP(r),
		UserKey:  subjectKey(identity),
		Override: override,
	}
	decision := p.limiter.Check(ctx, sub, route.Class)
	if !decision.Allowed {
		p.logger.WithContext(ctx).Info("rate limit exceeded",
			observability.String("route", route.Name),
			observability.String("subject", identity.LogValue()),
			observability.Int("limit", decision.Limit),
		)
		p.reject(c, route.Name, start, Rejection{
			Reason:     ReasonRateLimited,
			Message:    "rate limit exceeded",
			RetryAfter: retryAfterSeconds(decision.RetryAfter),
		})
		return
	}

	// Stage 3: authorize.
	authzReq := &authz.Request{
		Identity: identity,
		Resource: r.URL.Path,
		Action:   r.Method,
		Attributes: map[string]interface{}{
			"clientIp": sub.IP,
			"host":     r.Host,
		},
	}
	if verdict := p.authorize.Authorize(ctx, route.Rule, authzReq); !verdict.Allowed {
		p.reject(c, route.Name, start, Rejection{
			Reason:  ReasonForbidden,
			Message: verdict.Reason,
		})
		return
	}

	// Stage 4: circuit check. No network call when open.
	if !p.breakers.IsCallAllowed(route.Service) {
		p.reject(c, route.Name, start, Rejection{
			Reason:  ReasonCircuitOpen,
			Message: "service " + route.Service + " is failing, request rejected",
		})
		return
	}

	// Stage 5: endpoint selection. Rejecting here means the call the
	// breaker admitted never happens, so a claimed half-open trial
	// slot must be handed back or the breaker wedges.
	healthy := p.endpoints.ListHealthy(route.Service)
	if len(healthy) == 0 {
		p.breakers.ReleaseTrial(route.Service)
		p.reject(c, route.Name, start, Rejection{
			Reason:  ReasonNoHealthyEndpoint,
			Message: "service " + route.Service + " has no healthy endpoint",
		})
		return
	}

	// Stages 6-8: forward, record, respond.
	p.forward(c, route, healthy, start)
}

// forward runs the downstream call with at most one retry, recording
// one breaker outcome per attempt.
func (p *Pipeline) forward(c *gin.Context, route *Route, healthy []*registry.Endpoint, start time.Time) {
	r := c.Request
	ctx := r.Context()

	body, err := proxy.BufferBody(r)
	if err != nil {
		p.logger.WithContext(ctx).Warn("request body rejected",
			observability.String("route", route.Name),
			observability.Error(err),
		)
		// No attempt was made, so no outcome follows.
		p.breakers.ReleaseTrial(route.Service)
		p.reject(c, route.Name, start, Rejection{
			Reason:  ReasonInternal,
			Message: "request body could not be read",
		})
		return
	}

	timeout := route.Timeout
	if timeout <= 0 {
		timeout = proxy.DefaultTimeout
	}

	var resp *http.Response
	var lastErr error

	for attempt := 1; attempt <= retry.MaxAttempts; attempt++ {
		ep := p.picker.Pick(route.Service, healthy)
		if ep == nil {
			if resp == nil && lastErr == nil {
				p.breakers.ReleaseTrial(route.Service)
				p.reject(c, route.Name, start, Rejection{
					Reason:  ReasonNoHealthyEndpoint,
					Message: "service " + route.Service + " has no healthy endpoint",
				})
				return
			}
			break
		}

		resp, lastErr = p.attempt(ctx, route, ep, r, body, timeout)
		if lastErr == nil {
			break
		}

		if !p.retry.ShouldRetry(attempt, r.Method, resp, lastErr) {
			break
		}

		retry.RecordRetry(route.Service)
		p.logger.WithContext(ctx).Info("retrying downstream call",
			observability.String("route", route.Name),
			observability.String("endpoint", ep.BaseURL),
			observability.Error(lastErr),
		)

		select {
		case <-time.After(p.retry.Delay(attempt)):
		case <-ctx.Done():
			lastErr = ctx.Err()
		}
		if ctx.Err() != nil {
			break
		}

		// The breaker may have opened on the failed attempt.
		if !p.breakers.IsCallAllowed(route.Service) {
			p.reject(c, route.Name, start, Rejection{
				Reason:  ReasonCircuitOpen,
				Message: "service " + route.Service + " is failing, request rejected",
			})
			return
		}

		// Re-select from the current healthy set.
		if fresh := p.endpoints.ListHealthy(route.Service); len(fresh) > 0 {
			healthy = fresh
		}
	}

	if lastErr != nil {
		reason := ReasonDownstreamError
		message := "downstream call failed"
		if proxy.IsTimeout(lastErr) {
			reason = ReasonDownstreamTimeout
			message = fmt.Sprintf("service %s did not answer within %s", route.Service, timeout)
		}
		p.reject(c, route.Name, start, Rejection{Reason: reason, Message: message})
		return
	}

	status := resp.StatusCode
	if err := proxy.WriteResponse(c.Writer, resp); err != nil {
		p.logger.WithContext(ctx).Warn("response copy interrupted",
			observability.String("route", route.Name),
			observability.Error(err),
		)
	}
	RecordRequest(route.Name, status, time.Since(start))
}

// attempt issues one bounded downstream call and records its outcome.
func (p *Pipeline) attempt(
	ctx context.Context,
	route *Route,
	ep *registry.Endpoint,
	r *http.Request,
	body []byte,
	timeout time.Duration,
) (*http.Response, error) {
	ep.Acquire()
	defer ep.Release()

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	resp, err := p.forwarder.Forward(callCtx, ep.BaseURL, r, body, route.Headers)
	latency := time.Since(start)

	p.breakers.RecordOutcome(route.Service, proxy.IsSuccess(resp, err), latency)
	return resp, err
}

// reject writes the rejection envelope and records the outcome.
func (p *Pipeline) reject(c *gin.Context, route string, start time.Time, rej Rejection) {
	WriteRejection(c, rej)
	RecordRejection(route, rej.Reason)
	RecordRequest(route, rej.Reason.StatusCode(), time.Since(start))
}

// subjectKey is the user tier key: empty for anonymous identities.
func subjectKey(identity *auth.Identity) string {
	if identity.IsAnonymous() {
		return ""
	}
	return string(identity.Type) + ":" + identity.Subject
}

// retryAfterSeconds rounds up so the client never retries early.
func retryAfterSeconds(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	secs := int(d / time.Second)
	if d%time.Second != 0 {
		secs++
	}
	return secs
}
