package gateway

import (
	"context"
	"crypto/subtle"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/gatehouseio/gatehouse/internal/circuitbreaker"
	"github.com/gatehouseio/gatehouse/internal/config"
	"github.com/gatehouseio/gatehouse/internal/observability"
	"github.com/gatehouseio/gatehouse/internal/ratelimit"
	"github.com/gatehouseio/gatehouse/internal/registry"
)

// UsageFunc reports current rate limit usage for a subject key,
// keyed by tier.
type UsageFunc func(ctx context.Context, subject string) (map[string]*ratelimit.Decision, error)

// AdminAPI is the operator surface: endpoint registration, circuit
// stats and resets, rate limit usage, and the circuit event stream.
type AdminAPI struct {
	registry *registry.Registry
	breakers *circuitbreaker.Registry
	usage    UsageFunc
	hub      *EventHub
	logger   observability.Logger

	token    string
	throttle *rate.Limiter
	upgrader websocket.Upgrader
}

// NewAdminAPI creates the admin surface.
func NewAdminAPI(
	cfg config.AdminConfig,
	reg *registry.Registry,
	breakers *circuitbreaker.Registry,
	usage UsageFunc,
	hub *EventHub,
	logger observability.Logger,
) *AdminAPI {
	if logger == nil {
		logger = observability.NopLogger()
	}

	r := cfg.Rate
	if r <= 0 {
		r = 50
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 25
	}

	return &AdminAPI{
		registry: reg,
		breakers: breakers,
		usage:    usage,
		hub:      hub,
		logger:   logger,
		token:    cfg.Token,
		throttle: rate.NewLimiter(rate.Limit(r), burst),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// RegisterRoutes installs the admin endpoints under /admin.
func (a *AdminAPI) RegisterRoutes(engine *gin.Engine) {
	group := engine.Group("/admin", a.throttleMiddleware(), a.authMiddleware())
	group.POST("/services", a.registerService)
	group.DELETE("/services", a.deregisterService)
	group.GET("/endpoints/:service", a.endpointHealth)
	group.GET("/circuits", a.allCircuits)
	group.GET("/circuits/:service", a.circuitStats)
	group.POST("/circuits/:service/reset", a.resetCircuit)
	group.GET("/ratelimits/:subject", a.rateLimitUsage)
	group.GET("/watch", a.watch)
}

// throttleMiddleware applies the token bucket to every admin call.
func (a *AdminAPI) throttleMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !a.throttle.Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":   "rate_limited",
				"message": "admin API rate limit exceeded",
			})
			return
		}
		c.Next()
	}
}

// authMiddleware enforces the static admin token when configured.
func (a *AdminAPI) authMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if a.token == "" {
			c.Next()
			return
		}

		presented := c.GetHeader("X-Admin-Token")
		if subtle.ConstantTimeCompare([]byte(presented), []byte(a.token)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthenticated",
				"message": "invalid admin token",
			})
			return
		}
		c.Next()
	}
}

// registerServiceRequest is the POST /admin/services body.
type registerServiceRequest struct {
	Service    string   `json:"service" binding:"required"`
	BaseURL    string   `json:"baseUrl" binding:"required"`
	Weight     int      `json:"weight"`
	HealthPath string   `json:"healthPath"`
	Version    string   `json:"version"`
	Tags       []string `json:"tags"`
}

func (a *AdminAPI) registerService(c *gin.Context) {
	var req registerServiceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad_request", "message": err.Error()})
		return
	}

	ep := &registry.Endpoint{
		Service:    req.Service,
		BaseURL:    req.BaseURL,
		Weight:     req.Weight,
		HealthPath: req.HealthPath,
		Version:    req.Version,
		Tags:       req.Tags,
	}
	if err := a.registry.Register(ep); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad_request", "message": err.Error()})
		return
	}

	a.logger.WithContext(c.Request.Context()).Info("endpoint registered via admin API",
		observability.String("service", req.Service),
		observability.String("baseUrl", req.BaseURL),
	)
	c.JSON(http.StatusCreated, gin.H{"status": "registered"})
}

// deregisterServiceRequest is the DELETE /admin/services body.
type deregisterServiceRequest struct {
	Service string `json:"service" binding:"required"`
	BaseURL string `json:"baseUrl" binding:"required"`
}

func (a *AdminAPI) deregisterService(c *gin.Context) {
	var req deregisterServiceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad_request", "message": err.Error()})
		return
	}

	a.registry.Deregister(req.Service, req.BaseURL)
	c.JSON(http.StatusOK, gin.H{"status": "deregistered"})
}

func (a *AdminAPI) endpointHealth(c *gin.Context) {
	service := c.Param("service")

	endpoints := a.registry.List(service)
	if len(endpoints) == 0 {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": "unknown service " + service,
		})
		return
	}

	infos := make([]registry.Info, 0, len(endpoints))
	for _, ep := range endpoints {
		infos = append(infos, ep.Info())
	}
	c.JSON(http.StatusOK, gin.H{"service": service, "endpoints": infos})
}

// circuitView is the serialized form of breaker stats.
type circuitView struct {
	State           string    `json:"state"`
	WindowFailures  int       `json:"windowFailures"`
	WindowTotal     int       `json:"windowTotal"`
	FailureRatio    float64   `json:"failureRatio"`
	OpenedAt        time.Time `json:"openedAt,omitempty"`
	LastStateChange time.Time `json:"lastStateChange,omitempty"`
}

func viewOf(s circuitbreaker.Stats) circuitView {
	return circuitView{
		State:           s.State.String(),
		WindowFailures:  s.WindowFailures,
		WindowTotal:     s.WindowTotal,
		FailureRatio:    s.FailureRatio(),
		OpenedAt:        s.OpenedAt,
		LastStateChange: s.LastStateChange,
	}
}

func (a *AdminAPI) allCircuits(c *gin.Context) {
	stats := a.breakers.Stats()
	views := make(map[string]circuitView, len(stats))
	for name, s := range stats {
		views[name] = viewOf(s)
	}
	c.JSON(http.StatusOK, gin.H{"circuits": views})
}

func (a *AdminAPI) circuitStats(c *gin.Context) {
	service := c.Param("service")

	stats, ok := a.breakers.GetStats(service)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": "no circuit for service " + service,
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"service": service, "circuit": viewOf(stats)})
}

func (a *AdminAPI) resetCircuit(c *gin.Context) {
	service := c.Param("service")

	if !a.breakers.Reset(service) {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": "no circuit for service " + service,
		})
		return
	}

	a.logger.WithContext(c.Request.Context()).Info("circuit reset via admin API",
		observability.String("service", service),
	)
	c.JSON(http.StatusOK, gin.H{"service": service, "status": "reset"})
}

func (a *AdminAPI) rateLimitUsage(c *gin.Context) {
	subject := c.Param("subject")

	usage, err := a.usage(c.Request.Context(), subject)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal",
			"message": err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"subject": subject, "usage": usage})
}

// watch upgrades to a WebSocket and streams circuit state changes
// until the client goes away.
func (a *AdminAPI) watch(c *gin.Context) {
	conn, err := a.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade already wrote the error response.
		return
	}
	defer func() { _ = conn.Close() }()

	events, cancel := a.hub.Subscribe()
	defer cancel()

	// Reader goroutine notices the client closing the socket.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-done:
			return
		case <-c.Request.Context().Done():
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			if err := conn.WriteJSON(event); err != nil {
				return
			}
		}
	}
}
