package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gatehouseio/gatehouse/internal/circuitbreaker"
	"github.com/gatehouseio/gatehouse/internal/config"
	"github.com/gatehouseio/gatehouse/internal/ratelimit"
	"github.com/gatehouseio/gatehouse/internal/registry"
)

type adminFixture struct {
	engine   *gin.Engine
	registry *registry.Registry
	breakers *circuitbreaker.Registry
	hub      *EventHub
}

func newAdminFixture(t *testing.T, cfg config.AdminConfig) *adminFixture {
	t.Helper()

	reg := registry.NewRegistry(nil)
	breakers := circuitbreaker.NewRegistry(nil, nil)
	hub := NewEventHub()

	usage := func(_ context.Context, subject string) (map[string]*ratelimit.Decision, error) {
		return map[string]*ratelimit.Decision{
			ratelimit.TierUser: {Allowed: true, Limit: 100, Remaining: 58},
		}, nil
	}

	engine := gin.New()
	api := NewAdminAPI(cfg, reg, breakers, usage, hub, nil)
	api.RegisterRoutes(engine)

	return &adminFixture{engine: engine, registry: reg, breakers: breakers, hub: hub}
}

func (f *adminFixture) do(method, path, token string, body interface{}) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		raw, _ := json.Marshal(body)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	r := httptest.NewRequest(method, path, reader)
	if token != "" {
		r.Header.Set("X-Admin-Token", token)
	}

	w := httptest.NewRecorder()
	f.engine.ServeHTTP(w, r)
	return w
}

func TestAdminTokenAuth(t *testing.T) {
	f := newAdminFixture(t, config.AdminConfig{Token: "s3cret"})

	w := f.do("GET", "/admin/circuits", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = f.do("GET", "/admin/circuits", "wrong", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = f.do("GET", "/admin/circuits", "s3cret", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAdminNoTokenConfigured(t *testing.T) {
	f := newAdminFixture(t, config.AdminConfig{})

	w := f.do("GET", "/admin/circuits", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAdminRegisterAndDeregisterService(t *testing.T) {
	f := newAdminFixture(t, config.AdminConfig{})

	w := f.do("POST", "/admin/services", "", map[string]interface{}{
		"service": "orders",
		"baseUrl": "http://10.0.0.5:8080",
		"weight":  3,
	})
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, 1, f.registry.Len())

	// Listing reflects the new endpoint.
	w = f.do("GET", "/admin/endpoints/orders", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var listing struct {
		Service   string          `json:"service"`
		Endpoints []registry.Info `json:"endpoints"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &listing))
	require.Len(t, listing.Endpoints, 1)
	assert.Equal(t, "http://10.0.0.5:8080", listing.Endpoints[0].BaseURL)
	assert.Equal(t, 3, listing.Endpoints[0].Weight)

	w = f.do("DELETE", "/admin/services", "", map[string]interface{}{
		"service": "orders",
		"baseUrl": "http://10.0.0.5:8080",
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 0, f.registry.Len())
}

func TestAdminRegisterServiceValidation(t *testing.T) {
	f := newAdminFixture(t, config.AdminConfig{})

	w := f.do("POST", "/admin/services", "", map[string]interface{}{"service": "orders"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do("GET", "/admin/endpoints/ghost", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAdminCircuitEndpoints(t *testing.T) {
	f := newAdminFixture(t, config.AdminConfig{})

	// Seed a breaker by recording traffic.
	f.breakers.RecordOutcome("orders", false, 10*time.Millisecond)
	f.breakers.RecordOutcome("orders", true, 10*time.Millisecond)

	w := f.do("GET", "/admin/circuits", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var all struct {
		Circuits map[string]circuitView `json:"circuits"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &all))
	require.Contains(t, all.Circuits, "orders")
	assert.Equal(t, "closed", all.Circuits["orders"].State)
	assert.Equal(t, 1, all.Circuits["orders"].WindowFailures)
	assert.Equal(t, 2, all.Circuits["orders"].WindowTotal)

	w = f.do("GET", "/admin/circuits/orders", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = f.do("GET", "/admin/circuits/ghost", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = f.do("POST", "/admin/circuits/orders/reset", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	stats, ok := f.breakers.GetStats("orders")
	require.True(t, ok)
	assert.Equal(t, 0, stats.WindowTotal)

	w = f.do("POST", "/admin/circuits/ghost/reset", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAdminRateLimitUsage(t *testing.T) {
	f := newAdminFixture(t, config.AdminConfig{})

	w := f.do("GET", "/admin/ratelimits/user:alice", "", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Subject string                         `json:"subject"`
		Usage   map[string]*ratelimit.Decision `json:"usage"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "user:alice", body.Subject)
	require.Contains(t, body.Usage, ratelimit.TierUser)
	assert.Equal(t, 58, body.Usage[ratelimit.TierUser].Remaining)
}

func TestAdminThrottle(t *testing.T) {
	f := newAdminFixture(t, config.AdminConfig{Rate: 0.001, Burst: 1})

	w := f.do("GET", "/admin/circuits", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = f.do("GET", "/admin/circuits", "", nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
}

func TestAdminWatchStreamsCircuitEvents(t *testing.T) {
	f := newAdminFixture(t, config.AdminConfig{Token: "s3cret"})

	srv := httptest.NewServer(f.engine)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/admin/watch"
	header := http.Header{"X-Admin-Token": []string{"s3cret"}}

	conn, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	defer func() { _ = conn.Close() }()
	defer resp.Body.Close()

	// Wait for the subscription before publishing.
	require.Eventually(t, func() bool {
		return f.hub.Subscribers() == 1
	}, time.Second, 5*time.Millisecond)

	f.hub.Publish(Event{Service: "orders", From: "closed", To: "open", Timestamp: time.Now().UTC()})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var event Event
	require.NoError(t, conn.ReadJSON(&event))
	assert.Equal(t, "orders", event.Service)
	assert.Equal(t, "open", event.To)
}

func TestAdminWatchRejectsBadToken(t *testing.T) {
	f := newAdminFixture(t, config.AdminConfig{Token: "s3cret"})

	srv := httptest.NewServer(f.engine)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/admin/watch"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil) //nolint:bodyclose
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}
