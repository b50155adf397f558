package circuitbreaker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()

	assert.NotNil(t, config)
	assert.Equal(t, 0.5, config.FailureThreshold)
	assert.Equal(t, 10, config.MinimumThroughput)
	assert.Equal(t, 30*time.Second, config.RecoveryTimeout)
	assert.Equal(t, 10, config.WindowSize)
	assert.Nil(t, config.OnStateChange)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		config *Config
		want   Config
	}{
		{
			name:   "valid default config is unchanged",
			config: DefaultConfig(),
			want: Config{
				FailureThreshold:  0.5,
				MinimumThroughput: 10,
				RecoveryTimeout:   30 * time.Second,
				WindowSize:        10,
			},
		},
		{
			name: "valid custom config is unchanged",
			config: &Config{
				FailureThreshold:  0.75,
				MinimumThroughput: 20,
				RecoveryTimeout:   time.Minute,
				WindowSize:        50,
			},
			want: Config{
				FailureThreshold:  0.75,
				MinimumThroughput: 20,
				RecoveryTimeout:   time.Minute,
				WindowSize:        50,
			},
		},
		{
			name: "zero threshold falls back to default",
			config: &Config{
				FailureThreshold:  0,
				MinimumThroughput: 10,
				RecoveryTimeout:   30 * time.Second,
				WindowSize:        10,
			},
			want: Config{
				FailureThreshold:  0.5,
				MinimumThroughput: 10,
				RecoveryTimeout:   30 * time.Second,
				WindowSize:        10,
			},
		},
		{
			name: "threshold above one falls back to default",
			config: &Config{
				FailureThreshold:  1.5,
				MinimumThroughput: 10,
				RecoveryTimeout:   30 * time.Second,
				WindowSize:        10,
			},
			want: Config{
				FailureThreshold:  0.5,
				MinimumThroughput: 10,
				RecoveryTimeout:   30 * time.Second,
				WindowSize:        10,
			},
		},
		{
			name: "zero throughput falls back to default",
			config: &Config{
				FailureThreshold:  0.5,
				MinimumThroughput: 0,
				RecoveryTimeout:   30 * time.Second,
				WindowSize:        10,
			},
			want: Config{
				FailureThreshold:  0.5,
				MinimumThroughput: 10,
				RecoveryTimeout:   30 * time.Second,
				WindowSize:        10,
			},
		},
		{
			name: "window smaller than throughput is clamped up",
			config: &Config{
				FailureThreshold:  0.5,
				MinimumThroughput: 20,
				RecoveryTimeout:   30 * time.Second,
				WindowSize:        5,
			},
			want: Config{
				FailureThreshold:  0.5,
				MinimumThroughput: 20,
				RecoveryTimeout:   30 * time.Second,
				WindowSize:        20,
			},
		},
		{
			name: "zero recovery timeout falls back to default",
			config: &Config{
				FailureThreshold:  0.5,
				MinimumThroughput: 10,
				RecoveryTimeout:   0,
				WindowSize:        10,
			},
			want: Config{
				FailureThreshold:  0.5,
				MinimumThroughput: 10,
				RecoveryTimeout:   30 * time.Second,
				WindowSize:        10,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			assert.NoError(t, err)
			assert.Equal(t, tt.want.FailureThreshold, tt.config.FailureThreshold)
			assert.Equal(t, tt.want.MinimumThroughput, tt.config.MinimumThroughput)
			assert.Equal(t, tt.want.RecoveryTimeout, tt.config.RecoveryTimeout)
			assert.Equal(t, tt.want.WindowSize, tt.config.WindowSize)
		})
	}
}

func TestConfig_WithFailureThreshold(t *testing.T) {
	config := DefaultConfig()
	require.Equal(t, 0.5, config.FailureThreshold)

	result := config.WithFailureThreshold(0.75)

	assert.Same(t, config, result)
	assert.Equal(t, 0.75, config.FailureThreshold)
}

func TestConfig_WithMinimumThroughput(t *testing.T) {
	config := DefaultConfig()
	require.Equal(t, 10, config.MinimumThroughput)

	result := config.WithMinimumThroughput(20)

	assert.Same(t, config, result)
	assert.Equal(t, 20, config.MinimumThroughput)
}

func TestConfig_WithRecoveryTimeout(t *testing.T) {
	config := DefaultConfig()
	require.Equal(t, 30*time.Second, config.RecoveryTimeout)

	result := config.WithRecoveryTimeout(time.Minute)

	assert.Same(t, config, result)
	assert.Equal(t, time.Minute, config.RecoveryTimeout)
}

func TestConfig_WithWindowSize(t *testing.T) {
	config := DefaultConfig()
	require.Equal(t, 10, config.WindowSize)

	result := config.WithWindowSize(100)

	assert.Same(t, config, result)
	assert.Equal(t, 100, config.WindowSize)
}

func TestConfig_WithOnStateChange(t *testing.T) {
	config := DefaultConfig()
	assert.Nil(t, config.OnStateChange)

	var callbackCalled bool
	var capturedName string
	var capturedFrom, capturedTo State

	callback := func(name string, from, to State) {
		callbackCalled = true
		capturedName = name
		capturedFrom = from
		capturedTo = to
	}

	result := config.WithOnStateChange(callback)

	assert.Same(t, config, result)
	assert.NotNil(t, config.OnStateChange)

	// Test the callback
	config.OnStateChange("test-breaker", StateClosed, StateOpen)
	assert.True(t, callbackCalled)
	assert.Equal(t, "test-breaker", capturedName)
	assert.Equal(t, StateClosed, capturedFrom)
	assert.Equal(t, StateOpen, capturedTo)
}

func TestConfig_BuilderChaining(t *testing.T) {
	config := DefaultConfig().
		WithFailureThreshold(0.6).
		WithMinimumThroughput(20).
		WithRecoveryTimeout(time.Minute).
		WithWindowSize(50)

	assert.Equal(t, 0.6, config.FailureThreshold)
	assert.Equal(t, 20, config.MinimumThroughput)
	assert.Equal(t, time.Minute, config.RecoveryTimeout)
	assert.Equal(t, 50, config.WindowSize)
}
