// Package redis provides Redis-backed coordination for paysync: a processed
// event log shared by all webhook replicas and a lock that keeps
// reconciliation runs from overlapping across processes.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/mihaimyh/paysync/pkg/billing"
)

// Storage implements billing.EventLog and scheduler.Locker using Redis
type Storage struct {
	client  redis.UniversalClient
	config  Config
	scripts map[string]*redis.Script
}

// Config holds Redis storage configuration
type Config struct {
	// KeyPrefix is prepended to all Redis keys (default: "paysync:")
	KeyPrefix string

	// EventTTL is how long processed event ids are remembered (default: 30 days)
	EventTTL time.Duration
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() Config {
	return Config{
		KeyPrefix: "paysync:",
		EventTTL:  30 * 24 * time.Hour,
	}
}

// New creates a new Redis storage adapter
// The client can be *redis.Client, *redis.ClusterClient, or *redis.Ring
func New(client redis.UniversalClient, config Config) (*Storage, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}

	if config.KeyPrefix == "" {
		config.KeyPrefix = "paysync:"
	}
	if config.EventTTL <= 0 {
		config.EventTTL = DefaultConfig().EventTTL
	}

	s := &Storage{
		client:  client,
		config:  config,
		scripts: make(map[string]*redis.Script),
	}
	s.loadScripts()
	return s, nil
}

// loadScripts compiles the Lua scripts used for atomic lock handling
func (s *Storage) loadScripts() {
	// Release a lock only if we still own it
	s.scripts["unlock"] = redis.NewScript(`
		if redis.call('GET', KEYS[1]) == ARGV[1] then
			return redis.call('DEL', KEYS[1])
		end
		return 0
	`)
}

func (s *Storage) eventKey(eventID string) string {
	return s.config.KeyPrefix + "event:" + eventID
}

func (s *Storage) lockKey(key string) string {
	return s.config.KeyPrefix + "lock:" + key
}

// Seen implements billing.EventLog
func (s *Storage) Seen(ctx context.Context, eventID string) (bool, error) {
	n, err := s.client.Exists(ctx, s.eventKey(eventID)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check processed event: %w", err)
	}
	return n == 1, nil
}

// Mark implements billing.EventLog
func (s *Storage) Mark(ctx context.Context, eventID string, eventType billing.EventType) error {
	if err := s.client.SetNX(ctx, s.eventKey(eventID), string(eventType), s.config.EventTTL).Err(); err != nil {
		return fmt.Errorf("failed to mark processed event: %w", err)
	}
	return nil
}

// TryLock acquires key for ttl. It returns ok=false when another holder owns
// it. The returned unlock releases the lock only while this holder owns it.
func (s *Storage) TryLock(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, bool, error) {
	token := uuid.NewString()
	fullKey := s.lockKey(key)

	ok, err := s.client.SetNX(ctx, fullKey, token, ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("failed to acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, false, nil
	}

	unlock := func(ctx context.Context) error {
		err := s.scripts["unlock"].Run(ctx, s.client, []string{fullKey}, token).Err()
		if err != nil && !errors.Is(err, redis.Nil) {
			return fmt.Errorf("failed to release lock %s: %w", key, err)
		}
		return nil
	}
	return unlock, true, nil
}

// Ping checks the Redis connection
func (s *Storage) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
