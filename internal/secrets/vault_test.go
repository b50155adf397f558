package secrets

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newVaultTestServer serves a minimal KV v2 read API.
func newVaultTestServer(t *testing.T, secrets map[string]map[string]interface{}) *httptest.Server {
	t.Helper()

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		const prefix = "/v1/secret/data/"
		if r.Method != http.MethodGet || len(r.URL.Path) <= len(prefix) {
			w.WriteHeader(http.StatusNotFound)
			return
		}

		path := r.URL.Path[len(prefix):]
		data, ok := secrets[path]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"errors":[]}`))
			return
		}

		resp := map[string]interface{}{
			"data": map[string]interface{}{
				"data":     data,
				"metadata": map[string]interface{}{"version": 1},
			},
		}
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
}

func TestVaultProvider(t *testing.T) {
	server := newVaultTestServer(t, map[string]map[string]interface{}{
		"gateway/jwt": {
			"hmac":   "top-secret",
			"issuer": "https://id.example.com",
		},
		"gateway/single": {
			"value": "only-one",
		},
		"gateway/mixed": {
			"count": float64(3),
		},
	})
	defer server.Close()

	p, err := NewVaultProvider(VaultConfig{
		Address: server.URL,
		Token:   "test-token",
		Timeout: 5 * time.Second,
	}, nil)
	require.NoError(t, err)
	defer p.Close()

	ctx := context.Background()

	t.Run("field reference", func(t *testing.T) {
		value, err := p.Get(ctx, "gateway/jwt#hmac")
		require.NoError(t, err)
		assert.Equal(t, "top-secret", value)
	})

	t.Run("single field without reference", func(t *testing.T) {
		value, err := p.Get(ctx, "gateway/single")
		require.NoError(t, err)
		assert.Equal(t, "only-one", value)
	})

	t.Run("missing field", func(t *testing.T) {
		_, err := p.Get(ctx, "gateway/jwt#nope")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("multi-field secret needs a field", func(t *testing.T) {
		_, err := p.Get(ctx, "gateway/jwt")
		assert.Error(t, err)
	})

	t.Run("non-string field", func(t *testing.T) {
		_, err := p.Get(ctx, "gateway/mixed#count")
		assert.Error(t, err)
	})

	t.Run("missing secret", func(t *testing.T) {
		_, err := p.Get(ctx, "gateway/absent#x")
		assert.Error(t, err)
	})
}

func TestNewVaultProviderRequiresAddress(t *testing.T) {
	_, err := NewVaultProvider(VaultConfig{}, nil)
	assert.Error(t, err)
}
