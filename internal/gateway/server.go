package gateway

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/gatehouseio/gatehouse/internal/config"
	"github.com/gatehouseio/gatehouse/internal/observability"
)

// ginModeOnce ensures gin.SetMode is only called once to avoid race conditions.
var ginModeOnce sync.Once

const (
	defaultReadTimeout    = 30 * time.Second
	defaultWriteTimeout   = 30 * time.Second
	defaultIdleTimeout    = 120 * time.Second
	defaultMaxHeaderBytes = 1 << 20
)

// Server is the data plane listener. Every request that is not an
// admin or health route falls through to the pipeline.
type Server struct {
	engine     *gin.Engine
	httpServer *http.Server
	pipeline   *Pipeline
	logger     observability.Logger
	config     config.ServerConfig
	mu         sync.Mutex
	running    bool
}

// NewServer builds the gin engine with the standard middleware chain
// and wires the pipeline as the catch-all handler.
func NewServer(cfg config.ServerConfig, pipeline *Pipeline, logger observability.Logger, tracing bool) *Server {
	if logger == nil {
		logger = observability.NopLogger()
	}

	ginModeOnce.Do(func() {
		gin.SetMode(gin.ReleaseMode)
	})

	engine := gin.New()
	engine.Use(RequestID())
	if tracing {
		engine.Use(Tracing())
	}
	engine.Use(Logging(logger))
	engine.Use(Recovery(logger))

	s := &Server{
		engine:   engine,
		pipeline: pipeline,
		logger:   logger,
		config:   cfg,
	}

	// Proxied traffic does not match any declared gin route.
	engine.NoRoute(pipeline.Handle)

	return s
}

// Engine exposes the gin engine so other surfaces (admin API) can
// attach their routes before Start.
func (s *Server) Engine() *gin.Engine {
	return s.engine
}

// Start blocks serving until the listener fails or Stop is called.
func (s *Server) Start() error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("server already running")
	}

	addr := fmt.Sprintf("%s:%d", s.config.Address, s.config.Port)

	readTimeout := s.config.ReadTimeout.Duration()
	if readTimeout <= 0 {
		readTimeout = defaultReadTimeout
	}
	writeTimeout := s.config.WriteTimeout.Duration()
	if writeTimeout <= 0 {
		writeTimeout = defaultWriteTimeout
	}
	idleTimeout := s.config.IdleTimeout.Duration()
	if idleTimeout <= 0 {
		idleTimeout = defaultIdleTimeout
	}
	maxHeaderBytes := s.config.MaxHeaderBytes
	if maxHeaderBytes <= 0 {
		maxHeaderBytes = defaultMaxHeaderBytes
	}

	s.httpServer = &http.Server{
		Addr:           addr,
		Handler:        s.engine,
		ReadTimeout:    readTimeout,
		WriteTimeout:   writeTimeout,
		IdleTimeout:    idleTimeout,
		MaxHeaderBytes: maxHeaderBytes,
	}

	s.running = true
	s.mu.Unlock()

	s.logger.Info("starting HTTP server",
		observability.String("address", addr),
		observability.Duration("readTimeout", readTimeout),
		observability.Duration("writeTimeout", writeTimeout),
	)

	err := s.httpServer.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}

// Stop drains in-flight requests and shuts the listener down.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	srv := s.httpServer
	s.mu.Unlock()

	s.logger.Info("stopping HTTP server")

	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}

	s.mu.Lock()
	s.running = false
	s.mu.Unlock()

	s.logger.Info("HTTP server stopped")
	return nil
}

// IsRunning reports whether the listener is active.
func (s *Server) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// UpdateRoutes swaps the pipeline route table, used by config reload.
func (s *Server) UpdateRoutes(table *Table) {
	s.pipeline.SetRoutes(table)
	s.logger.Info("route table updated", observability.Int("routes", table.Len()))
}
