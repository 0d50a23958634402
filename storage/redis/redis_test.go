package redis

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mihaimyh/paysync/pkg/billing"
)

var _ billing.EventLog = (*Storage)(nil)

// setupTestRedis creates a Redis client for testing
// Requires Redis running on localhost:6379
func setupTestRedis(t *testing.T) *redis.Client {
	t.Helper()

	client := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
		DB:   15, // Use DB 15 for testing
	})

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("Redis not available: %v", err)
	}
	if err := client.FlushDB(ctx).Err(); err != nil {
		t.Fatalf("Failed to flush test database: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		client  redis.UniversalClient
		wantErr bool
	}{
		{name: "nil client", client: nil, wantErr: true},
		{name: "valid client", client: redis.NewClient(&redis.Options{Addr: "localhost:6379"}), wantErr: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := New(tt.client, Config{})
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "paysync:", s.config.KeyPrefix)
			assert.Equal(t, DefaultConfig().EventTTL, s.config.EventTTL)
		})
	}
}

func TestStorage_EventLog(t *testing.T) {
	client := setupTestRedis(t)
	s, err := New(client, Config{EventTTL: time.Minute})
	require.NoError(t, err)
	ctx := context.Background()

	seen, err := s.Seen(ctx, "evt_1")
	require.NoError(t, err)
	assert.False(t, seen)

	require.NoError(t, s.Mark(ctx, "evt_1", billing.EventInvoicePaid))
	seen, err = s.Seen(ctx, "evt_1")
	require.NoError(t, err)
	assert.True(t, seen)

	ttl, err := client.TTL(ctx, "paysync:event:evt_1").Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))
}

func TestStorage_TryLock(t *testing.T) {
	client := setupTestRedis(t)
	s, err := New(client, DefaultConfig())
	require.NoError(t, err)
	ctx := context.Background()

	unlock, ok, err := s.TryLock(ctx, "sync", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = s.TryLock(ctx, "sync", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, unlock(ctx))

	_, ok, err = s.TryLock(ctx, "sync", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestStorage_UnlockDoesNotReleaseForeignLock(t *testing.T) {
	client := setupTestRedis(t)
	s, err := New(client, DefaultConfig())
	require.NoError(t, err)
	ctx := context.Background()

	unlock, ok, err := s.TryLock(ctx, "sync", 50*time.Millisecond)
	require.NoError(t, err)
	require.True(t, ok)

	time.Sleep(100 * time.Millisecond)
	_, ok, err = s.TryLock(ctx, "sync", time.Minute)
	require.NoError(t, err)
	require.True(t, ok, "expired lock can be taken over")

	require.NoError(t, unlock(ctx))
	exists, err := client.Exists(ctx, "paysync:lock:sync").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), exists)
}

func TestStorage_TryLockConcurrent(t *testing.T) {
	client := setupTestRedis(t)
	s, err := New(client, DefaultConfig())
	require.NoError(t, err)

	var acquired atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, ok, err := s.TryLock(context.Background(), "sync", time.Minute); err == nil && ok {
				acquired.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), acquired.Load())
}
