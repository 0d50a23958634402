package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/mihaimyh/paysync/pkg/billing"
	zerologadapter "github.com/mihaimyh/paysync/pkg/billing/logger/zerolog"
	prommetrics "github.com/mihaimyh/paysync/pkg/billing/metrics/prometheus"
	stripeclient "github.com/mihaimyh/paysync/pkg/billing/stripe"
	"github.com/mihaimyh/paysync/pkg/config"
	"github.com/mihaimyh/paysync/pkg/listing"
	"github.com/mihaimyh/paysync/pkg/reconcile"
	"github.com/mihaimyh/paysync/pkg/router"
	"github.com/mihaimyh/paysync/pkg/scheduler"
	"github.com/mihaimyh/paysync/pkg/subscription"
	firestorestore "github.com/mihaimyh/paysync/storage/firestore"
	"github.com/mihaimyh/paysync/storage/memory"
	"github.com/mihaimyh/paysync/storage/postgres"
	redisstore "github.com/mihaimyh/paysync/storage/redis"
	"github.com/mihaimyh/paysync/storage/tiered"
)

// backend is implemented by every storage package.
type backend interface {
	billing.SubscriptionStore
	billing.PlanStore
	billing.ListingStore
	billing.AccountDirectory
	billing.CompanyDirectory
	billing.EventLog
}

// app holds the wired components shared by every command.
type app struct {
	cfg      *config.Config
	logger   billing.Logger
	metrics  billing.Metrics
	registry *prometheus.Registry

	store    backend
	eventLog billing.EventLog
	locker   scheduler.Locker
	provider billing.ProviderClient

	closers []func()
}

func newLogger(cfg config.LogConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	var zl zerolog.Logger
	if cfg.Format == "console" {
		zl = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	} else {
		zl = zerolog.New(os.Stderr)
	}
	return zl.Level(level).With().Timestamp().Str("service", "paysync").Logger()
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{cfg: cfg}
	a.logger = zerologadapter.NewLogger(newLogger(cfg.Log))

	a.metrics = &billing.NoopMetrics{}
	if cfg.Metrics.Enabled {
		a.registry = prometheus.NewRegistry()
		a.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		a.metrics = prommetrics.NewMetrics(a.registry, cfg.Metrics.Namespace)
	}

	if err := a.openStore(ctx); err != nil {
		a.Close()
		return nil, err
	}
	a.eventLog = a.store

	if cfg.Redis.Addr != "" {
		client := goredis.NewClient(&goredis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		a.closers = append(a.closers, func() { _ = client.Close() })
		rs, err := redisstore.New(client, redisstore.DefaultConfig())
		if err != nil {
			a.Close()
			return nil, err
		}
		if err := rs.Ping(ctx); err != nil {
			a.Close()
			return nil, fmt.Errorf("connect to redis: %w", err)
		}
		events, err := tiered.New(tiered.Config{
			Hot:          rs,
			Cold:         a.store,
			AsyncHotSync: true,
			AsyncErrorHandler: func(err error) {
				a.logger.Warn("event log hot tier write failed", billing.Field{Key: "error", Value: err})
			},
		})
		if err != nil {
			a.Close()
			return nil, err
		}
		a.closers = append(a.closers, func() { _ = events.Close() })
		a.eventLog = events
		a.locker = rs
	}

	if cfg.Stripe.APIKey != "" {
		client, err := stripeclient.NewClient(billing.Config{
			APIKey:  cfg.Stripe.APIKey,
			Metrics: a.metrics,
			Logger:  a.logger,
		})
		if err != nil {
			a.Close()
			return nil, err
		}
		breaker := reconcile.NewCircuitBreaker(cfg.Sync.BreakerThreshold, cfg.Sync.BreakerReset, func(state reconcile.BreakerState) {
			a.logger.Warn("provider circuit breaker state changed", billing.Field{Key: "state", Value: string(state)})
		})
		a.provider = reconcile.NewBreakerProvider(client, breaker)
	}
	return a, nil
}

func (a *app) openStore(ctx context.Context) error {
	switch a.cfg.Store.Backend {
	case config.BackendPostgres:
		if a.cfg.Store.AutoMigrate {
			if err := postgres.Migrate(a.cfg.Store.DatabaseURL); err != nil {
				return err
			}
		}
		pgConfig := postgres.DefaultConfig()
		pgConfig.ConnectionString = a.cfg.Store.DatabaseURL
		store, err := postgres.New(ctx, pgConfig)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, store.Close)
		a.store = store
	case config.BackendFirestore:
		client, err := firestore.NewClient(ctx, a.cfg.Store.FirestoreProject)
		if err != nil {
			return fmt.Errorf("create firestore client: %w", err)
		}
		a.closers = append(a.closers, func() { _ = client.Close() })
		store, err := firestorestore.New(client, firestorestore.Config{})
		if err != nil {
			return err
		}
		a.store = store
	default:
		a.logger.Warn("using in-memory store, state is lost on restart")
		a.store = memory.New()
	}
	return nil
}

// Close releases connections in reverse order of acquisition.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func (a *app) reconciler() (*reconcile.Service, error) {
	if a.provider == nil {
		return nil, fmt.Errorf("reconciliation needs a stripe api key: %w", billing.ErrProviderNotConfigured)
	}
	return reconcile.New(reconcile.Config{
		Store:       a.store,
		Provider:    a.provider,
		Plans:       a.store,
		Concurrency: a.cfg.Sync.Concurrency,
		Timeout:     a.cfg.Sync.Timeout,
		Logger:      a.logger,
		Metrics:     a.metrics,
	})
}

func (a *app) scheduler(svc *reconcile.Service) (*scheduler.Scheduler, error) {
	mode, _ := billing.ParseSyncMode(a.cfg.Sync.Mode)
	return scheduler.New(scheduler.Config{
		Reconciler:          svc,
		PlanMonitor:         svc,
		Locker:              a.locker,
		SyncInterval:        a.cfg.Sync.Interval,
		SyncMode:            mode,
		PlanMonitorInterval: a.cfg.Sync.PlanMonitorInterval,
		AutoInsertPlans:     a.cfg.Sync.AutoInsertPlans,
		Logger:              a.logger,
	})
}

func (a *app) dispatcher() (*router.Router, error) {
	subs, err := subscription.New(subscription.Config{
		Store:     a.store,
		Provider:  a.provider,
		Accounts:  a.store,
		Companies: a.store,
		Logger:    a.logger,
	})
	if err != nil {
		return nil, err
	}
	listings, err := listing.New(a.store, a.logger)
	if err != nil {
		return nil, err
	}
	return router.New(router.Config{
		Subscriptions: subs,
		Listings:      listings,
		Logger:        a.logger,
		Metrics:       a.metrics,
	})
}

// seedPlans inserts the configured plan catalogue. Existing plans are kept.
func (a *app) seedPlans(ctx context.Context, path string) (int, error) {
	plans, err := config.LoadPlanSeed(path)
	if err != nil {
		return 0, err
	}
	inserted := 0
	for _, plan := range plans {
		ok, err := a.store.InsertPlan(ctx, plan)
		if err != nil {
			return inserted, fmt.Errorf("insert plan %s: %w", plan.ExternalPriceID, err)
		}
		if ok {
			inserted++
		}
	}
	a.logger.Info("plan seed applied",
		billing.Field{Key: "file", Value: path},
		billing.Field{Key: "plans", Value: len(plans)},
		billing.Field{Key: "inserted", Value: inserted})
	return inserted, nil
}
