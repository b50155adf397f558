package discovery

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gatehouseio/gatehouse/internal/config"
	"github.com/gatehouseio/gatehouse/internal/registry"
)

func TestStaticApply(t *testing.T) {
	reg := registry.NewRegistry(nil)
	static := NewStatic(reg, nil)

	err := static.Apply([]config.ServiceConfig{
		{
			Name:       "orders",
			HealthPath: "/health",
			Endpoints: []config.EndpointConfig{
				{URL: "http://10.0.0.1:8080", Weight: 2},
				{URL: "http://10.0.0.2:8080"},
			},
		},
		{
			Name:      "payments",
			Endpoints: []config.EndpointConfig{{URL: "http://10.0.1.1:9090", Version: "v2"}},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 3, reg.Len())

	ep, ok := reg.Get("orders", "http://10.0.0.1:8080")
	require.True(t, ok)
	assert.Equal(t, 2, ep.Weight)
	assert.Equal(t, "/health", ep.HealthPath)

	ep, ok = reg.Get("payments", "http://10.0.1.1:9090")
	require.True(t, ok)
	assert.Equal(t, "v2", ep.Version)
}

func TestStaticApplyRemovesVanishedEndpoints(t *testing.T) {
	reg := registry.NewRegistry(nil)
	static := NewStatic(reg, nil)

	require.NoError(t, static.Apply([]config.ServiceConfig{
		{
			Name: "orders",
			Endpoints: []config.EndpointConfig{
				{URL: "http://10.0.0.1:8080"},
				{URL: "http://10.0.0.2:8080"},
			},
		},
	}))
	require.Equal(t, 2, reg.Len())

	// Reload without the second endpoint drops it.
	require.NoError(t, static.Apply([]config.ServiceConfig{
		{
			Name:      "orders",
			Endpoints: []config.EndpointConfig{{URL: "http://10.0.0.1:8080"}},
		},
	}))
	assert.Equal(t, 1, reg.Len())

	_, ok := reg.Get("orders", "http://10.0.0.2:8080")
	assert.False(t, ok)
}

func TestStaticApplyLeavesOtherSourcesAlone(t *testing.T) {
	reg := registry.NewRegistry(nil)
	static := NewStatic(reg, nil)

	// An endpoint registered by another source, e.g. the admin API.
	require.NoError(t, reg.Register(&registry.Endpoint{
		Service: "orders",
		BaseURL: "http://dynamic:8080",
	}))

	require.NoError(t, static.Apply([]config.ServiceConfig{
		{Name: "orders", Endpoints: []config.EndpointConfig{{URL: "http://10.0.0.1:8080"}}},
	}))
	require.NoError(t, static.Apply([]config.ServiceConfig{}))

	_, ok := reg.Get("orders", "http://dynamic:8080")
	assert.True(t, ok)
	_, ok = reg.Get("orders", "http://10.0.0.1:8080")
	assert.False(t, ok)
}

func TestStaticApplyValidation(t *testing.T) {
	reg := registry.NewRegistry(nil)
	static := NewStatic(reg, nil)

	err := static.Apply([]config.ServiceConfig{
		{Endpoints: []config.EndpointConfig{{URL: "http://10.0.0.1:8080"}}},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "service name is required")
}
