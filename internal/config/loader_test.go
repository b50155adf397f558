package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleConfig = `
server:
  port: 9080
  readTimeout: "15s"

logging:
  level: debug

rateLimit:
  store: memory
  anonymous:
    default:
      limit: 30
      window: "1m"

circuitBreaker:
  failureThreshold: 0.6
  minimumThroughput: 20
  recoveryTimeout: "45s"
  windowSize: 20

services:
  - name: orders
    healthPath: /healthz
    timeout: "10s"
    endpoints:
      - url: http://orders-1:8080
        weight: 3
      - url: http://orders-2:8080

routes:
  - name: orders-api
    pathPrefix: /api/orders
    service: orders
    class: write
    requiredRoles: [orders-user]
`

func TestLoadConfigFromReader(t *testing.T) {
	cfg, err := LoadConfigFromReader(strings.NewReader(sampleConfig))
	require.NoError(t, err)

	assert.Equal(t, 9080, cfg.Server.Port)
	assert.Equal(t, 15*time.Second, cfg.Server.ReadTimeout.Duration())
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, 30, cfg.RateLimit.Anonymous.Default.Limit)
	assert.Equal(t, 0.6, cfg.CircuitBreaker.FailureThreshold)
	assert.Equal(t, 20, cfg.CircuitBreaker.MinimumThroughput)

	require.Len(t, cfg.Services, 1)
	assert.Equal(t, "/healthz", cfg.Services[0].HealthPath)
	assert.Equal(t, 10*time.Second, cfg.Services[0].Timeout.Duration())
	require.Len(t, cfg.Services[0].Endpoints, 2)
	assert.Equal(t, 3, cfg.Services[0].Endpoints[0].Weight)
	// Defaulted weight.
	assert.Equal(t, 1, cfg.Services[0].Endpoints[1].Weight)

	require.Len(t, cfg.Routes, 1)
	assert.Equal(t, "write", cfg.Routes[0].Class)
	assert.Equal(t, []string{"orders-user"}, cfg.Routes[0].RequiredRoles)

	assert.NoError(t, ValidateConfig(cfg))
}

func TestLoadConfig_File(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gatehouse.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleConfig), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 9080, cfg.Server.Port)
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLoadConfig_InvalidYAML(t *testing.T) {
	_, err := LoadConfigFromReader(strings.NewReader("server: [not: closed"))
	assert.Error(t, err)
}

func TestSubstituteEnvVars(t *testing.T) {
	t.Setenv("GATEHOUSE_TEST_PORT", "9999")
	t.Setenv("GATEHOUSE_TEST_EMPTY", "")

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"set variable", "port: ${GATEHOUSE_TEST_PORT}", "port: 9999"},
		{"set but empty", "pw: ${GATEHOUSE_TEST_EMPTY:-fallback}", "pw: "},
		{"unset with default", "addr: ${GATEHOUSE_TEST_UNSET:-localhost}", "addr: localhost"},
		{"unset without default", "addr: ${GATEHOUSE_TEST_UNSET}", "addr: "},
		{"escaped dollar", "cost: $$5", "cost: $5"},
		{"no substitution", "plain: value", "plain: value"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, substituteEnvVars(tt.input))
		})
	}
}

func TestLoadConfig_EnvSubstitution(t *testing.T) {
	t.Setenv("GATEHOUSE_TEST_LEVEL", "warn")

	input := "logging:\n  level: ${GATEHOUSE_TEST_LEVEL:-info}\n"
	cfg, err := LoadConfigFromReader(strings.NewReader(input))
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.Logging.Level)
}

func TestResolveConfigPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gatehouse.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 8080\n"), 0o600))

	t.Run("absolute existing", func(t *testing.T) {
		got, err := ResolveConfigPath(path)
		require.NoError(t, err)
		assert.Equal(t, path, got)
	})

	t.Run("absolute missing", func(t *testing.T) {
		_, err := ResolveConfigPath(filepath.Join(dir, "nope.yaml"))
		assert.Error(t, err)
	})

	t.Run("relative to cwd", func(t *testing.T) {
		t.Chdir(dir)
		got, err := ResolveConfigPath("gatehouse.yaml")
		require.NoError(t, err)
		assert.Equal(t, path, got)
	})
}
