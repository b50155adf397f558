package probe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gatehouseio/gatehouse/internal/registry"
)

func register(t *testing.T, reg *registry.Registry, service, baseURL string) {
	t.Helper()
	require.NoError(t, reg.Register(&registry.Endpoint{
		Service:    service,
		BaseURL:    baseURL,
		HealthPath: "/health",
	}))
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestProberMarksHealth(t *testing.T) {
	var healthy atomic.Bool
	healthy.Store(true)
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if healthy.Load() {
			w.WriteHeader(http.StatusOK)
		} else {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
	}))
	defer backend.Close()

	reg := registry.NewRegistry(nil)
	register(t, reg, "orders", backend.URL)

	p := NewProber(reg, nil,
		WithDefaults(Settings{Interval: 20 * time.Millisecond, Timeout: time.Second}),
		WithEvictAfter(0),
	)
	p.Start(context.Background())
	defer p.Stop()

	waitFor(t, 2*time.Second, func() bool {
		ep, ok := reg.Get("orders", backend.URL)
		return ok && ep.Status() == registry.StatusHealthy
	})

	healthy.Store(false)
	waitFor(t, 2*time.Second, func() bool {
		ep, ok := reg.Get("orders", backend.URL)
		return ok && ep.Status() == registry.StatusUnhealthy
	})
	assert.Empty(t, reg.ListHealthy("orders"))

	healthy.Store(true)
	waitFor(t, 2*time.Second, func() bool {
		return len(reg.ListHealthy("orders")) == 1
	})
}

func TestProberEvictsAfterConsecutiveMisses(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer backend.Close()

	reg := registry.NewRegistry(nil)
	register(t, reg, "orders", backend.URL)

	p := NewProber(reg, nil,
		WithDefaults(Settings{Interval: 10 * time.Millisecond, Timeout: time.Second}),
		WithEvictAfter(3),
	)
	p.Start(context.Background())
	defer p.Stop()

	waitFor(t, 2*time.Second, func() bool {
		_, ok := reg.Get("orders", backend.URL)
		return !ok
	})
	assert.Zero(t, reg.Len())
}

func TestProberAdoptsNewServices(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer backend.Close()

	reg := registry.NewRegistry(nil)

	p := NewProber(reg, nil,
		WithDefaults(Settings{Interval: 10 * time.Millisecond, Timeout: time.Second}),
	)
	p.Start(context.Background())
	defer p.Stop()

	// Registered after Start; adopted on the next rescan, forced here
	// so the test does not wait out the rescan interval.
	register(t, reg, "payments", backend.URL)
	p.adopt()

	waitFor(t, 2*time.Second, func() bool {
		ep, ok := reg.Get("payments", backend.URL)
		return ok && ep.Status() == registry.StatusHealthy
	})
}

func TestProberStopTerminatesAdoptedLoops(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer backend.Close()

	reg := registry.NewRegistry(nil)

	p := NewProber(reg, nil,
		WithDefaults(Settings{Interval: 10 * time.Millisecond, Timeout: time.Second}),
	)
	p.Start(context.Background())

	register(t, reg, "payments", backend.URL)
	p.adopt()

	waitFor(t, 2*time.Second, func() bool {
		ep, ok := reg.Get("payments", backend.URL)
		return ok && ep.Status() == registry.StatusHealthy
	})

	// Stop must reach the loop adopted after Start and return.
	done := make(chan struct{})
	go func() {
		p.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not terminate probe loops")
	}
}

func TestProberServiceOverride(t *testing.T) {
	var probes atomic.Int32
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		probes.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer backend.Close()

	reg := registry.NewRegistry(nil)
	register(t, reg, "orders", backend.URL)

	p := NewProber(reg, nil,
		WithDefaults(Settings{Interval: time.Hour, Timeout: time.Second}),
		WithServiceSettings("orders", Settings{Interval: 10 * time.Millisecond}),
	)
	p.Start(context.Background())
	defer p.Stop()

	waitFor(t, 2*time.Second, func() bool {
		return probes.Load() >= 3
	})
}

func TestHTTPCheckerStatusCodes(t *testing.T) {
	var status atomic.Int32
	status.Store(http.StatusOK)
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(int(status.Load()))
	}))
	defer backend.Close()

	c := NewHTTPChecker(nil)
	ep := &registry.Endpoint{Service: "orders", BaseURL: backend.URL, HealthPath: "/health"}

	assert.NoError(t, c.Check(context.Background(), ep))

	status.Store(http.StatusNoContent)
	assert.NoError(t, c.Check(context.Background(), ep))

	status.Store(http.StatusServiceUnavailable)
	assert.Error(t, c.Check(context.Background(), ep))

	status.Store(http.StatusMovedPermanently)
	assert.Error(t, c.Check(context.Background(), ep))
}

func TestHTTPCheckerConnectionRefused(t *testing.T) {
	c := NewHTTPChecker(nil)
	ep := &registry.Endpoint{Service: "orders", BaseURL: "http://127.0.0.1:1", HealthPath: "/health"}
	assert.Error(t, c.Check(context.Background(), ep))
}

func TestHTTPCheckerDefaultPath(t *testing.T) {
	var path string
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		w.WriteHeader(http.StatusOK)
	}))
	defer backend.Close()

	c := NewHTTPChecker(nil)
	ep := &registry.Endpoint{Service: "orders", BaseURL: backend.URL}
	require.NoError(t, c.Check(context.Background(), ep))
	assert.Equal(t, "/health", path)
}
