// Package scheduler runs reconciliation on a fixed cadence and on demand,
// never letting two runs overlap.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mihaimyh/paysync/pkg/billing"
	"github.com/mihaimyh/paysync/pkg/reconcile"
)

// Run states.
const (
	stateIdle int32 = iota
	stateRunning
)

// SyncLockKey is the distributed lock held while a sync runs.
const SyncLockKey = "sync"

// Reconciler performs a full subscription sync.
type Reconciler interface {
	SyncAll(ctx context.Context, mode billing.SyncMode, opts billing.SyncOptions) (*billing.SyncReport, error)
}

// PlanMonitor checks the provider plan catalogue.
type PlanMonitor interface {
	MonitorNewPlans(ctx context.Context, opts reconcile.PlanMonitorOptions) (*billing.PlanReport, error)
}

// Locker extends the overlap guard across processes. TryLock returns ok=false
// when another holder owns key.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (unlock func(context.Context) error, ok bool, err error)
}

// Config configures a Scheduler.
type Config struct {
	Reconciler Reconciler
	// PlanMonitor is optional.
	PlanMonitor PlanMonitor
	Locker      Locker

	SyncInterval        time.Duration
	SyncMode            billing.SyncMode
	SyncOptions         billing.SyncOptions
	PlanMonitorInterval time.Duration
	AutoInsertPlans     bool
	LockTTL             time.Duration

	Logger billing.Logger
}

// Status is a point-in-time view of the scheduler.
type Status struct {
	IsRunning  bool                `json:"isRunning"`
	TasksCount int                 `json:"tasksCount"`
	LastRunAt  *time.Time          `json:"lastRunAt,omitempty"`
	LastReport *billing.SyncReport `json:"lastReport,omitempty"`
	LastError  string              `json:"lastError,omitempty"`
}

// Scheduler owns the Idle -> Running -> Idle state machine guarding sync runs.
type Scheduler struct {
	config Config
	logger billing.Logger

	state       atomic.Int32
	planRunning atomic.Bool

	mu         sync.Mutex
	tasks      int
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	lastRunAt  *time.Time
	lastReport *billing.SyncReport
	lastError  string
}

// New creates a Scheduler.
func New(config Config) (*Scheduler, error) {
	if config.Reconciler == nil {
		return nil, errors.New("scheduler: reconciler is required")
	}
	if config.LockTTL <= 0 {
		config.LockTTL = 30 * time.Minute
	}
	logger := config.Logger
	if logger == nil {
		logger = &billing.NoopLogger{}
	}
	return &Scheduler{config: config, logger: logger}, nil
}

// Start launches the periodic tasks. Tasks with a zero interval are skipped.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		return errors.New("scheduler: already started")
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	if s.config.SyncInterval > 0 {
		s.startTask(runCtx, s.config.SyncInterval, func(ctx context.Context) {
			_, err := s.TriggerSync(ctx, s.config.SyncMode, s.config.SyncOptions)
			if errors.Is(err, billing.ErrSyncInProgress) {
				s.logger.Debug("scheduled sync skipped, previous run still in progress")
			}
		})
	}
	if s.config.PlanMonitor != nil && s.config.PlanMonitorInterval > 0 {
		s.startTask(runCtx, s.config.PlanMonitorInterval, func(ctx context.Context) {
			_, _ = s.TriggerPlanMonitor(ctx, reconcile.PlanMonitorOptions{AutoInsert: s.config.AutoInsertPlans})
		})
	}

	s.logger.Info("scheduler started",
		billing.Field{Key: "tasks", Value: s.tasks},
		billing.Field{Key: "syncInterval", Value: s.config.SyncInterval.String()})
	return nil
}

func (s *Scheduler) startTask(ctx context.Context, interval time.Duration, run func(context.Context)) {
	s.tasks++
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				run(ctx)
			}
		}
	}()
}

// Stop cancels the periodic tasks and waits for them to return. A run in
// progress sees its context canceled.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	s.wg.Wait()

	s.mu.Lock()
	s.tasks = 0
	s.mu.Unlock()
	s.logger.Info("scheduler stopped")
}

// TriggerSync runs a sync now. It returns billing.ErrSyncInProgress when a
// run is already in flight here or, with a Locker, in another process.
func (s *Scheduler) TriggerSync(ctx context.Context, mode billing.SyncMode, opts billing.SyncOptions) (*billing.SyncReport, error) {
	if !s.state.CompareAndSwap(stateIdle, stateRunning) {
		return nil, billing.ErrSyncInProgress
	}
	defer s.state.Store(stateIdle)

	if s.config.Locker != nil {
		unlock, ok, err := s.config.Locker.TryLock(ctx, SyncLockKey, s.config.LockTTL)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, billing.ErrSyncInProgress
		}
		defer func() {
			if err := unlock(context.WithoutCancel(ctx)); err != nil {
				s.logger.Warn("failed to release sync lock", billing.Field{Key: "error", Value: err})
			}
		}()
	}

	report, err := s.config.Reconciler.SyncAll(ctx, mode, opts)

	now := time.Now().UTC()
	s.mu.Lock()
	s.lastRunAt = &now
	if err != nil {
		s.lastError = err.Error()
	} else {
		s.lastError = ""
		s.lastReport = report
	}
	s.mu.Unlock()

	if err != nil {
		s.logger.Error("sync run failed", billing.Field{Key: "error", Value: err})
	}
	return report, err
}

// TriggerPlanMonitor runs the plan check now. Overlapping checks are rejected
// with billing.ErrSyncInProgress.
func (s *Scheduler) TriggerPlanMonitor(ctx context.Context, opts reconcile.PlanMonitorOptions) (*billing.PlanReport, error) {
	if s.config.PlanMonitor == nil {
		return nil, errors.New("scheduler: plan monitor is not configured")
	}
	if !s.planRunning.CompareAndSwap(false, true) {
		return nil, billing.ErrSyncInProgress
	}
	defer s.planRunning.Store(false)

	report, err := s.config.PlanMonitor.MonitorNewPlans(ctx, opts)
	if err != nil {
		s.logger.Error("plan monitor failed", billing.Field{Key: "error", Value: err})
	}
	return report, err
}

// GetStatus reports whether a sync is running and how many tasks are scheduled.
func (s *Scheduler) GetStatus() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{
		IsRunning:  s.state.Load() == stateRunning,
		TasksCount: s.tasks,
		LastReport: s.lastReport,
		LastError:  s.lastError,
	}
	if s.lastRunAt != nil {
		t := *s.lastRunAt
		st.LastRunAt = &t
	}
	return st
}
