package store

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestRedisStore starts a miniredis and returns a store wired to it.
func newTestRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := NewRedisStoreFromClient(client, "test:", nil)
	t.Cleanup(func() { store.Close() })

	return store, mr
}

// ============================================================================
// Constructor Tests
// ============================================================================

// TestNewRedisStore tests the connecting constructor.
func TestNewRedisStore(t *testing.T) {
	mr := miniredis.RunT(t)

	config := DefaultRedisConfig()
	config.Address = mr.Addr()
	config.Prefix = "custom:"

	store, err := NewRedisStore(config)
	require.NoError(t, err)
	require.NotNil(t, store)
	defer store.Close()

	assert.Equal(t, "custom:", store.prefix)
	assert.NotNil(t, store.Client())
}

// TestNewRedisStore_NilConfig tests that a nil config uses defaults.
// Defaults point at localhost so the connection check fails here, which
// is the behavior under test.
func TestNewRedisStore_ConnectionFailure(t *testing.T) {
	config := DefaultRedisConfig()
	config.Address = "localhost:59999"
	config.DialTimeout = 100 * time.Millisecond

	store, err := NewRedisStore(config)
	assert.Error(t, err)
	assert.Nil(t, store)
	assert.Contains(t, err.Error(), "failed to connect to Redis")
}

// TestNewRedisStoreFromClient tests wrapping an existing client.
func TestNewRedisStoreFromClient(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	store := NewRedisStoreFromClient(client, "wrap:", nil)
	require.NotNil(t, store)
	defer store.Close()

	assert.Equal(t, "wrap:", store.prefix)
	assert.Same(t, client, store.Client())
}

// ============================================================================
// Get Tests
// ============================================================================

// TestRedisStore_Get_Success tests successful Get operation.
func TestRedisStore_Get_Success(t *testing.T) {
	store, mr := newTestRedisStore(t)

	mr.Set("test:mykey", "42")

	val, err := store.Get(context.Background(), "mykey")
	require.NoError(t, err)
	assert.Equal(t, int64(42), val)
}

// TestRedisStore_Get_KeyNotFound tests Get with non-existent key.
func TestRedisStore_Get_KeyNotFound(t *testing.T) {
	store, _ := newTestRedisStore(t)

	_, err := store.Get(context.Background(), "nonexistent")
	assert.Error(t, err)
	assert.True(t, IsKeyNotFound(err))
}

// TestRedisStore_Get_ParseError tests Get with a non-numeric value.
func TestRedisStore_Get_ParseError(t *testing.T) {
	store, mr := newTestRedisStore(t)

	mr.Set("test:badkey", "not-a-number")

	_, err := store.Get(context.Background(), "badkey")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse value")
}

// TestRedisStore_Get_ContextCancelled tests the fail-fast context check.
func TestRedisStore_Get_ContextCancelled(t *testing.T) {
	store, _ := newTestRedisStore(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := store.Get(ctx, "mykey")
	assert.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

// ============================================================================
// Set Tests
// ============================================================================

// TestRedisStore_Set_Success tests successful Set operation.
func TestRedisStore_Set_Success(t *testing.T) {
	store, mr := newTestRedisStore(t)

	err := store.Set(context.Background(), "mykey", 100, time.Minute)
	require.NoError(t, err)

	val, err := mr.Get("test:mykey")
	require.NoError(t, err)
	assert.Equal(t, "100", val)
}

// TestRedisStore_Set_ContextCancelled tests the fail-fast context check.
func TestRedisStore_Set_ContextCancelled(t *testing.T) {
	store, _ := newTestRedisStore(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := store.Set(ctx, "mykey", 100, time.Minute)
	assert.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

// ============================================================================
// IncrementWithExpiry Tests
// ============================================================================

// TestRedisStore_IncrementWithExpiry_Counts tests that increments accumulate.
func TestRedisStore_IncrementWithExpiry_Counts(t *testing.T) {
	store, _ := newTestRedisStore(t)

	ctx := context.Background()

	for want := int64(1); want <= 3; want++ {
		val, err := store.IncrementWithExpiry(ctx, "counter", 1, time.Minute)
		require.NoError(t, err)
		assert.Equal(t, want, val)
	}
}

// TestRedisStore_IncrementWithExpiry_SetsTTLOnCreation tests that only
// the creating increment arms the expiry.
func TestRedisStore_IncrementWithExpiry_SetsTTLOnCreation(t *testing.T) {
	store, mr := newTestRedisStore(t)

	ctx := context.Background()

	_, err := store.IncrementWithExpiry(ctx, "counter", 1, time.Minute)
	require.NoError(t, err)

	ttl := mr.TTL("test:counter")
	assert.Equal(t, time.Minute, ttl)

	// Let some TTL elapse, then increment again
	mr.FastForward(30 * time.Second)

	_, err = store.IncrementWithExpiry(ctx, "counter", 1, time.Minute)
	require.NoError(t, err)

	// The second increment did not rearm the clock
	ttl = mr.TTL("test:counter")
	assert.Equal(t, 30*time.Second, ttl)
}

// TestRedisStore_IncrementWithExpiry_RestartsAfterExpiry tests that the
// counter restarts once Redis drops the key.
func TestRedisStore_IncrementWithExpiry_RestartsAfterExpiry(t *testing.T) {
	store, mr := newTestRedisStore(t)

	ctx := context.Background()

	val, err := store.IncrementWithExpiry(ctx, "counter", 1, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), val)

	mr.FastForward(2 * time.Minute)

	val, err = store.IncrementWithExpiry(ctx, "counter", 1, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), val)
}

// TestRedisStore_IncrementWithExpiry_ContextCancelled tests the
// fail-fast context check.
func TestRedisStore_IncrementWithExpiry_ContextCancelled(t *testing.T) {
	store, _ := newTestRedisStore(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := store.IncrementWithExpiry(ctx, "counter", 1, time.Minute)
	assert.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

// ============================================================================
// Delete Tests
// ============================================================================

// TestRedisStore_Delete_Success tests successful Delete operation.
func TestRedisStore_Delete_Success(t *testing.T) {
	store, mr := newTestRedisStore(t)

	mr.Set("test:mykey", "42")

	err := store.Delete(context.Background(), "mykey")
	require.NoError(t, err)

	assert.False(t, mr.Exists("test:mykey"))
}

// TestRedisStore_Delete_NonExistent tests Delete on a missing key.
func TestRedisStore_Delete_NonExistent(t *testing.T) {
	store, _ := newTestRedisStore(t)

	err := store.Delete(context.Background(), "nonexistent")
	require.NoError(t, err)
}

// ============================================================================
// Key Prefix Tests
// ============================================================================

// TestRedisStore_PrefixKey tests prefix handling.
func TestRedisStore_PrefixKey(t *testing.T) {
	store := &RedisStore{prefix: "ratelimit:"}

	tests := []struct {
		name     string
		key      string
		expected string
	}{
		{name: "simple key", key: "test", expected: "ratelimit:test"},
		{name: "key with separators", key: "ip:10.0.0.1:60000", expected: "ratelimit:ip:10.0.0.1:60000"},
		{name: "empty key", key: "", expected: "ratelimit:"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, store.prefixKey(tt.key))
		})
	}
}

// ============================================================================
// Close Tests
// ============================================================================

// TestRedisStore_Close_Idempotent tests that Close is idempotent.
func TestRedisStore_Close_Idempotent(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := NewRedisStoreFromClient(client, "test:", nil)

	err := store.Close()
	require.NoError(t, err)

	err = store.Close()
	require.NoError(t, err)
}
