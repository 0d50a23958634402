// Package postgres provides a PostgreSQL implementation of the billing storage
// interfaces. Subscription writes run in a transaction holding a per-id
// advisory lock plus SELECT FOR UPDATE on the row.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Storage implements billing.SubscriptionStore, billing.PlanStore,
// billing.ListingStore, billing.EventLog and the account/company directories.
type Storage struct {
	pool   *pgxpool.Pool
	config Config

	// stopCleanup cancels the background cleanup goroutine
	stopCleanup func()
}

// Config holds PostgreSQL storage configuration
type Config struct {
	// ConnectionString is the PostgreSQL connection string
	ConnectionString string

	// Pool configuration
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration

	// Cleanup configuration
	CleanupEnabled  bool
	CleanupInterval time.Duration // How often to run cleanup
	EventTTL        time.Duration // How long processed event ids are kept

	// AccountQuery maps a provider customer id ($1) to a local account id.
	AccountQuery string
	// CompanyQuery maps a company id ($1) to the account that administers it.
	CompanyQuery string
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() Config {
	return Config{
		MaxConns:        10,
		MinConns:        2,
		MaxConnLifetime: time.Hour,
		MaxConnIdleTime: 30 * time.Minute,
		CleanupEnabled:  true,
		CleanupInterval: 1 * time.Hour,
		EventTTL:        30 * 24 * time.Hour,
		AccountQuery:    `SELECT id::text FROM accounts WHERE stripe_customer_id = $1`,
		CompanyQuery:    `SELECT owner_account_id::text FROM companies WHERE id::text = $1`,
	}
}

// New creates a new PostgreSQL storage adapter
func New(ctx context.Context, config Config) (*Storage, error) {
	if config.ConnectionString == "" {
		return nil, fmt.Errorf("connection string is required")
	}
	defaults := DefaultConfig()
	if config.AccountQuery == "" {
		config.AccountQuery = defaults.AccountQuery
	}
	if config.CompanyQuery == "" {
		config.CompanyQuery = defaults.CompanyQuery
	}
	if config.EventTTL <= 0 {
		config.EventTTL = defaults.EventTTL
	}

	poolConfig, err := pgxpool.ParseConfig(config.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}
	if config.MaxConns > 0 {
		poolConfig.MaxConns = config.MaxConns
	}
	if config.MinConns > 0 {
		poolConfig.MinConns = config.MinConns
	}
	if config.MaxConnLifetime > 0 {
		poolConfig.MaxConnLifetime = config.MaxConnLifetime
	}
	if config.MaxConnIdleTime > 0 {
		poolConfig.MaxConnIdleTime = config.MaxConnIdleTime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	cleanupCtx, cancel := context.WithCancel(context.Background())
	s := &Storage{
		pool:        pool,
		config:      config,
		stopCleanup: cancel,
	}
	if config.CleanupEnabled && config.CleanupInterval > 0 {
		go s.startCleanup(cleanupCtx)
	}
	return s, nil
}

// Close closes the PostgreSQL connection pool and stops background cleanup
func (s *Storage) Close() {
	if s.stopCleanup != nil {
		s.stopCleanup()
	}
	if s.pool != nil {
		s.pool.Close()
	}
}

// Ping checks the PostgreSQL connection
func (s *Storage) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// startCleanup runs periodic cleanup of old processed-event ids
func (s *Storage) startCleanup(ctx context.Context) {
	ticker := time.NewTicker(s.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = s.Cleanup(ctx)
		}
	}
}

// Cleanup deletes processed-event ids older than EventTTL
func (s *Storage) Cleanup(ctx context.Context) error {
	cutoff := time.Now().UTC().Add(-s.config.EventTTL)
	if _, err := s.pool.Exec(ctx, `DELETE FROM processed_events WHERE processed_at < $1`, cutoff); err != nil {
		return fmt.Errorf("failed to cleanup processed events: %w", err)
	}
	return nil
}
