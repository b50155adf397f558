package gateway

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gatehouseio/gatehouse/internal/config"
)

func TestServerRoutesUnmatchedTrafficThroughPipeline(t *testing.T) {
	f := newFixture(t)
	srv := NewServer(config.ServerConfig{Port: 0}, f.pipeline(), nil, false)

	w := httptest.NewRecorder()
	r := httptest.NewRequest("GET", "/api/orders/1", nil)
	srv.Engine().ServeHTTP(w, r)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", w.Body.String())
	assert.NotEmpty(t, w.Header().Get(RequestIDHeader))
}

func TestServerUpdateRoutesSwapsTable(t *testing.T) {
	f := newFixture(t)
	pipeline := f.pipeline()
	srv := NewServer(config.ServerConfig{Port: 0}, pipeline, nil, false)

	w := httptest.NewRecorder()
	srv.Engine().ServeHTTP(w, httptest.NewRequest("GET", "/api/payments/1", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)

	table, err := NewTable([]config.RouteConfig{
		{Name: "payments", Service: "orders", PathPrefix: "/api/payments"},
	}, nil)
	require.NoError(t, err)
	srv.UpdateRoutes(table)

	w = httptest.NewRecorder()
	srv.Engine().ServeHTTP(w, httptest.NewRequest("GET", "/api/payments/1", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestServerIsRunning(t *testing.T) {
	f := newFixture(t)
	srv := NewServer(config.ServerConfig{Port: 0}, f.pipeline(), nil, false)

	assert.False(t, srv.IsRunning())
}
