package probe

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/gatehouseio/gatehouse/internal/registry"
)

// Checker performs one health check against an endpoint.
type Checker interface {
	Check(ctx context.Context, ep *registry.Endpoint) error
}

// HTTPChecker probes with GET baseURL+healthPath. Any 2xx response is
// healthy.
type HTTPChecker struct {
	client *http.Client
}

// NewHTTPChecker creates an HTTP checker. A nil client uses the
// default; per-probe deadlines come from the context.
func NewHTTPChecker(client *http.Client) *HTTPChecker {
	if client == nil {
		client = &http.Client{}
	}
	return &HTTPChecker{client: client}
}

// Check implements Checker.
func (c *HTTPChecker) Check(ctx context.Context, ep *registry.Endpoint) error {
	path := ep.HealthPath
	if path == "" {
		path = "/health"
	}
	target := strings.TrimSuffix(ep.BaseURL, "/") + path

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}
	return nil
}

// GRPCChecker probes with the standard grpc.health.v1 Check call.
// Connections are pooled per host; grpc.NewClient is non-blocking, the
// RPC itself establishes the connection.
type GRPCChecker struct {
	mu    sync.Mutex
	conns map[string]*grpc.ClientConn
}

// NewGRPCChecker creates a gRPC checker.
func NewGRPCChecker() *GRPCChecker {
	return &GRPCChecker{conns: make(map[string]*grpc.ClientConn)}
}

// Check implements Checker.
func (c *GRPCChecker) Check(ctx context.Context, ep *registry.Endpoint) error {
	u, err := url.Parse(ep.BaseURL)
	if err != nil {
		return err
	}

	conn, err := c.conn(u.Host)
	if err != nil {
		return err
	}

	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{})
	if err != nil {
		return err
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return fmt.Errorf("health status %s", resp.GetStatus())
	}
	return nil
}

func (c *GRPCChecker) conn(host string) (*grpc.ClientConn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if conn, ok := c.conns[host]; ok {
		return conn, nil
	}

	conn, err := grpc.NewClient(host,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		return nil, err
	}
	c.conns[host] = conn
	return conn, nil
}

// Close closes all pooled connections.
func (c *GRPCChecker) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var firstErr error
	for host, conn := range c.conns {
		if err := conn.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(c.conns, host)
	}
	return firstErr
}
