package registry

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gatehouseio/gatehouse/internal/observability"
)

func newTestRegistry() *Registry {
	return NewRegistry(observability.NopLogger())
}

func testEndpoint(service, baseURL string, weight int) *Endpoint {
	return &Endpoint{
		Service:    service,
		BaseURL:    baseURL,
		Weight:     weight,
		HealthPath: "/healthz",
	}
}

// ============================================================================
// Register Tests
// ============================================================================

// TestRegistry_Register_Success tests basic registration.
func TestRegistry_Register_Success(t *testing.T) {
	r := newTestRegistry()

	err := r.Register(testEndpoint("orders", "http://10.0.0.1:8080", 2))
	require.NoError(t, err)

	ep, ok := r.Get("orders", "http://10.0.0.1:8080")
	require.True(t, ok)
	assert.Equal(t, "orders", ep.Service)
	assert.Equal(t, 2, ep.Weight)
	assert.Equal(t, StatusUnknown, ep.Status())
	assert.False(t, ep.RegisteredAt().IsZero())
}

// TestRegistry_Register_DefaultsWeight tests that weight defaults to 1.
func TestRegistry_Register_DefaultsWeight(t *testing.T) {
	r := newTestRegistry()

	err := r.Register(testEndpoint("orders", "http://10.0.0.1:8080", 0))
	require.NoError(t, err)

	ep, ok := r.Get("orders", "http://10.0.0.1:8080")
	require.True(t, ok)
	assert.Equal(t, 1, ep.Weight)
}

// TestRegistry_Register_Validation tests identity validation.
func TestRegistry_Register_Validation(t *testing.T) {
	r := newTestRegistry()

	tests := []struct {
		name string
		ep   *Endpoint
	}{
		{name: "missing service", ep: &Endpoint{BaseURL: "http://10.0.0.1:8080"}},
		{name: "missing base url", ep: &Endpoint{Service: "orders"}},
		{name: "unsupported scheme", ep: &Endpoint{Service: "orders", BaseURL: "ftp://10.0.0.1"}},
		{name: "no host", ep: &Endpoint{Service: "orders", BaseURL: "http://"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, r.Register(tt.ep))
		})
	}

	assert.Equal(t, 0, r.Len())
}

// TestRegistry_Register_UpsertPreservesHealthState tests that
// re-registering a known endpoint refreshes its attributes but keeps
// its health bookkeeping.
func TestRegistry_Register_UpsertPreservesHealthState(t *testing.T) {
	r := newTestRegistry()

	require.NoError(t, r.Register(testEndpoint("orders", "http://10.0.0.1:8080", 1)))

	// Two failed probes
	r.MarkHealth("orders", "http://10.0.0.1:8080", false, time.Now())
	misses, ok := r.MarkHealth("orders", "http://10.0.0.1:8080", false, time.Now())
	require.True(t, ok)
	require.Equal(t, 2, misses)

	// Re-register with new weight and version
	update := testEndpoint("orders", "http://10.0.0.1:8080", 5)
	update.Version = "v2"
	update.Tags = []string{"canary"}
	require.NoError(t, r.Register(update))

	ep, ok := r.Get("orders", "http://10.0.0.1:8080")
	require.True(t, ok)
	assert.Equal(t, 5, ep.Weight)
	assert.Equal(t, "v2", ep.Version)
	assert.Equal(t, []string{"canary"}, ep.Tags)

	// Health state survived the upsert
	assert.Equal(t, StatusUnhealthy, ep.Status())
	assert.Equal(t, 2, ep.ConsecutiveMisses())
	assert.Equal(t, 1, r.Len())
}

// ============================================================================
// Deregister Tests
// ============================================================================

// TestRegistry_Deregister tests endpoint removal.
func TestRegistry_Deregister(t *testing.T) {
	r := newTestRegistry()

	require.NoError(t, r.Register(testEndpoint("orders", "http://10.0.0.1:8080", 1)))
	require.NoError(t, r.Register(testEndpoint("orders", "http://10.0.0.2:8080", 1)))

	r.Deregister("orders", "http://10.0.0.1:8080")

	_, ok := r.Get("orders", "http://10.0.0.1:8080")
	assert.False(t, ok)
	assert.Equal(t, 1, r.Len())
}

// TestRegistry_Deregister_UnknownIsNoOp tests removal of absent
// endpoints and services.
func TestRegistry_Deregister_UnknownIsNoOp(t *testing.T) {
	r := newTestRegistry()

	require.NoError(t, r.Register(testEndpoint("orders", "http://10.0.0.1:8080", 1)))

	r.Deregister("orders", "http://10.0.0.9:8080")
	r.Deregister("payments", "http://10.0.0.1:8080")

	assert.Equal(t, 1, r.Len())
}

// ============================================================================
// ListHealthy Tests
// ============================================================================

// TestRegistry_ListHealthy_IncludesUnprobed tests that endpoints serve
// before their first probe.
func TestRegistry_ListHealthy_IncludesUnprobed(t *testing.T) {
	r := newTestRegistry()

	require.NoError(t, r.Register(testEndpoint("orders", "http://10.0.0.1:8080", 1)))
	require.NoError(t, r.Register(testEndpoint("orders", "http://10.0.0.2:8080", 1)))

	healthy := r.ListHealthy("orders")
	assert.Len(t, healthy, 2)
}

// TestRegistry_ListHealthy_ExcludesLastMarkedUnhealthy tests that an
// endpoint disappears from the healthy list the moment it is marked
// unhealthy, and returns once marked healthy.
func TestRegistry_ListHealthy_ExcludesLastMarkedUnhealthy(t *testing.T) {
	r := newTestRegistry()

	require.NoError(t, r.Register(testEndpoint("orders", "http://10.0.0.1:8080", 1)))
	require.NoError(t, r.Register(testEndpoint("orders", "http://10.0.0.2:8080", 1)))

	contains := func(eps []*Endpoint, baseURL string) bool {
		for _, ep := range eps {
			if ep.BaseURL == baseURL {
				return true
			}
		}
		return false
	}

	for i := 0; i < 50; i++ {
		r.MarkHealth("orders", "http://10.0.0.1:8080", false, time.Now())
		healthy := r.ListHealthy("orders")
		assert.False(t, contains(healthy, "http://10.0.0.1:8080"),
			"unhealthy endpoint leaked into healthy list on iteration %d", i)
		assert.True(t, contains(healthy, "http://10.0.0.2:8080"))

		r.MarkHealth("orders", "http://10.0.0.1:8080", true, time.Now())
		healthy = r.ListHealthy("orders")
		assert.True(t, contains(healthy, "http://10.0.0.1:8080"))
	}
}

// TestRegistry_ListHealthy_EmptyWhenAllUnhealthy tests the no healthy
// instance condition.
func TestRegistry_ListHealthy_EmptyWhenAllUnhealthy(t *testing.T) {
	r := newTestRegistry()

	require.NoError(t, r.Register(testEndpoint("orders", "http://10.0.0.1:8080", 1)))
	require.NoError(t, r.Register(testEndpoint("orders", "http://10.0.0.2:8080", 1)))

	r.MarkHealth("orders", "http://10.0.0.1:8080", false, time.Now())
	r.MarkHealth("orders", "http://10.0.0.2:8080", false, time.Now())

	assert.Empty(t, r.ListHealthy("orders"))
	assert.Len(t, r.List("orders"), 2)
}

// TestRegistry_ListHealthy_UnknownService tests lookup of a service
// with no endpoints.
func TestRegistry_ListHealthy_UnknownService(t *testing.T) {
	r := newTestRegistry()

	assert.Empty(t, r.ListHealthy("nope"))
	assert.Empty(t, r.List("nope"))
}

// ============================================================================
// MarkHealth Tests
// ============================================================================

// TestRegistry_MarkHealth_CountsConsecutiveMisses tests miss counting
// and reset on success.
func TestRegistry_MarkHealth_CountsConsecutiveMisses(t *testing.T) {
	r := newTestRegistry()

	require.NoError(t, r.Register(testEndpoint("orders", "http://10.0.0.1:8080", 1)))

	for want := 1; want <= 4; want++ {
		misses, ok := r.MarkHealth("orders", "http://10.0.0.1:8080", false, time.Now())
		require.True(t, ok)
		assert.Equal(t, want, misses)
	}

	misses, ok := r.MarkHealth("orders", "http://10.0.0.1:8080", true, time.Now())
	require.True(t, ok)
	assert.Equal(t, 0, misses)

	misses, ok = r.MarkHealth("orders", "http://10.0.0.1:8080", false, time.Now())
	require.True(t, ok)
	assert.Equal(t, 1, misses)
}

// TestRegistry_MarkHealth_UnknownEndpoint tests marking an endpoint
// that is no longer registered.
func TestRegistry_MarkHealth_UnknownEndpoint(t *testing.T) {
	r := newTestRegistry()

	_, ok := r.MarkHealth("orders", "http://10.0.0.1:8080", false, time.Now())
	assert.False(t, ok)
}

// TestRegistry_MarkHealth_RecordsProbeTime tests last probe tracking.
func TestRegistry_MarkHealth_RecordsProbeTime(t *testing.T) {
	r := newTestRegistry()

	require.NoError(t, r.Register(testEndpoint("orders", "http://10.0.0.1:8080", 1)))

	ep, _ := r.Get("orders", "http://10.0.0.1:8080")
	assert.True(t, ep.LastProbe().IsZero())

	at := time.Now().Truncate(time.Millisecond)
	r.MarkHealth("orders", "http://10.0.0.1:8080", true, at)

	assert.True(t, ep.LastProbe().Equal(at))
}

// ============================================================================
// Inventory Tests
// ============================================================================

// TestRegistry_Services tests the service name listing.
func TestRegistry_Services(t *testing.T) {
	r := newTestRegistry()

	require.NoError(t, r.Register(testEndpoint("orders", "http://10.0.0.1:8080", 1)))
	require.NoError(t, r.Register(testEndpoint("payments", "http://10.0.1.1:8080", 1)))

	assert.ElementsMatch(t, []string{"orders", "payments"}, r.Services())

	// A fully deregistered service drops out of the listing
	r.Deregister("payments", "http://10.0.1.1:8080")
	assert.ElementsMatch(t, []string{"orders"}, r.Services())
}

// TestRegistry_Snapshot tests the status snapshot.
func TestRegistry_Snapshot(t *testing.T) {
	r := newTestRegistry()

	require.NoError(t, r.Register(testEndpoint("orders", "http://10.0.0.1:8080", 3)))
	r.MarkHealth("orders", "http://10.0.0.1:8080", false, time.Now())

	snap := r.Snapshot()
	require.Contains(t, snap, "orders")
	require.Len(t, snap["orders"], 1)

	info := snap["orders"][0]
	assert.Equal(t, "http://10.0.0.1:8080", info.BaseURL)
	assert.Equal(t, 3, info.Weight)
	assert.Equal(t, "unhealthy", info.Status)
	assert.Equal(t, 1, info.ConsecutiveMisses)
}

// ============================================================================
// Concurrency Tests
// ============================================================================

// TestRegistry_ConcurrentAccess tests mixed operations across services
// under concurrency.
func TestRegistry_ConcurrentAccess(t *testing.T) {
	r := newTestRegistry()

	var wg sync.WaitGroup
	services := []string{"orders", "payments", "inventory"}

	for _, service := range services {
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func(service string, i int) {
				defer wg.Done()
				baseURL := fmt.Sprintf("http://10.0.0.%d:8080", i)
				_ = r.Register(testEndpoint(service, baseURL, 1))
				r.MarkHealth(service, baseURL, i%2 == 0, time.Now())
				r.ListHealthy(service)
			}(service, i)
		}
	}

	wg.Wait()

	assert.Equal(t, 30, r.Len())
	for _, service := range services {
		assert.Len(t, r.List(service), 10)
		// Half the endpoints were marked unhealthy
		assert.Len(t, r.ListHealthy(service), 5)
	}
}
