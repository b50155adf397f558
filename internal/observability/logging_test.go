package observability

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name    string
		cfg     LogConfig
		wantErr bool
	}{
		{
			name: "default config",
			cfg:  DefaultLogConfig(),
		},
		{
			name: "console format",
			cfg:  LogConfig{Level: "debug", Format: "console", Output: "stderr"},
		},
		{
			name: "warn level",
			cfg:  LogConfig{Level: "warn", Format: "json", Output: "stdout"},
		},
		{
			name:    "invalid level",
			cfg:     LogConfig{Level: "loud", Format: "json", Output: "stdout"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := NewLogger(tt.cfg)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.NotNil(t, logger)

			logger.Debug("debug message", String("key", "value"))
			logger.Info("info message", Int("count", 1))
			logger.Warn("warn message", Bool("flag", true))
			logger.Error("error message", Error(assert.AnError))
		})
	}
}

func TestDefaultLogConfig(t *testing.T) {
	cfg := DefaultLogConfig()

	assert.Equal(t, "info", cfg.Level)
	assert.Equal(t, "json", cfg.Format)
	assert.Equal(t, "stdout", cfg.Output)
}

func TestLogger_With(t *testing.T) {
	logger := NopLogger()

	child := logger.With(String("component", "registry"))
	require.NotNil(t, child)

	child.Info("message with fields")
}

func TestLogger_WithContext(t *testing.T) {
	logger := NopLogger()

	t.Run("empty context returns same logger", func(t *testing.T) {
		got := logger.WithContext(context.Background())
		assert.Equal(t, logger, got)
	})

	t.Run("context with request ID", func(t *testing.T) {
		ctx := ContextWithRequestID(context.Background(), "req-123")
		got := logger.WithContext(ctx)
		assert.NotSame(t, logger, got)
	})

	t.Run("context with trace and span IDs", func(t *testing.T) {
		ctx := ContextWithTraceID(context.Background(), "trace-abc")
		ctx = ContextWithSpanID(ctx, "span-def")
		got := logger.WithContext(ctx)
		assert.NotSame(t, logger, got)
	})
}

func TestRequestIDFromContext(t *testing.T) {
	assert.Empty(t, RequestIDFromContext(context.Background()))

	ctx := ContextWithRequestID(context.Background(), "req-42")
	assert.Equal(t, "req-42", RequestIDFromContext(ctx))
}

func TestTraceIDFromContext(t *testing.T) {
	assert.Empty(t, TraceIDFromContext(context.Background()))

	ctx := ContextWithTraceID(context.Background(), "trace-42")
	assert.Equal(t, "trace-42", TraceIDFromContext(ctx))
}

func TestGlobalLogger(t *testing.T) {
	original := GetGlobalLogger()
	defer SetGlobalLogger(original)

	nop := NopLogger()
	SetGlobalLogger(nop)

	assert.Equal(t, nop, GetGlobalLogger())
	assert.Equal(t, nop, L())
}

func TestGlobalLogger_DefaultWhenUnset(t *testing.T) {
	original := GetGlobalLogger()
	defer SetGlobalLogger(original)

	SetGlobalLogger(nil)
	assert.NotNil(t, GetGlobalLogger())
}

func TestNopLogger(t *testing.T) {
	logger := NopLogger()
	require.NotNil(t, logger)

	logger.Debug("discarded")
	logger.Info("discarded")
	assert.NoError(t, logger.Sync())
}
