// Package reconcile corrects local subscription and plan state by re-reading
// the billing provider, which is always authoritative.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mihaimyh/paysync/pkg/billing"
)

const (
	DefaultConcurrency = 5
	DefaultTimeout     = 10 * time.Second
)

// Sync result labels.
const (
	ResultUpdated   = "updated"
	ResultUnchanged = "unchanged"
	ResultMissing   = "missing"
	ResultError     = "error"
)

// Config wires a reconciliation Service.
type Config struct {
	Store    billing.SubscriptionStore
	Provider billing.ProviderClient
	// Plans is required by MonitorNewPlans only.
	Plans       billing.PlanStore
	Concurrency int
	Timeout     time.Duration
	Logger      billing.Logger
	Metrics     billing.Metrics
	Now         func() time.Time
}

// Service reconciles local state against the provider.
type Service struct {
	store       billing.SubscriptionStore
	provider    billing.ProviderClient
	plans       billing.PlanStore
	concurrency int
	timeout     time.Duration
	logger      billing.Logger
	metrics     billing.Metrics
	now         func() time.Time
}

// New creates a Service. Store and Provider are required.
func New(config Config) (*Service, error) {
	if config.Store == nil {
		return nil, errors.New("reconcile: store is required")
	}
	if config.Provider == nil {
		return nil, billing.ErrProviderNotConfigured
	}
	s := &Service{
		store:       config.Store,
		provider:    config.Provider,
		plans:       config.Plans,
		concurrency: config.Concurrency,
		timeout:     config.Timeout,
		logger:      config.Logger,
		metrics:     config.Metrics,
		now:         config.Now,
	}
	if s.concurrency <= 0 {
		s.concurrency = DefaultConcurrency
	}
	if s.timeout <= 0 {
		s.timeout = DefaultTimeout
	}
	if s.logger == nil {
		s.logger = &billing.NoopLogger{}
	}
	if s.metrics == nil {
		s.metrics = &billing.NoopMetrics{}
	}
	if s.now == nil {
		s.now = func() time.Time { return time.Now().UTC() }
	}
	return s, nil
}

// SyncAll refreshes every local subscription selected by mode from the
// provider. Per-subscription failures are collected in the report and never
// abort the batch; the returned error covers only failures to start.
func (s *Service) SyncAll(ctx context.Context, mode billing.SyncMode, opts billing.SyncOptions) (*billing.SyncReport, error) {
	parsed, ok := billing.ParseSyncMode(string(mode))
	if !ok {
		return nil, fmt.Errorf("reconcile: unknown sync mode %q", mode)
	}
	mode = parsed
	start := s.now()

	var (
		local []*billing.SubscriptionRecord
		err   error
	)
	if mode == billing.SyncAll {
		local, err = s.store.ListAllWithExternalID(ctx)
	} else {
		local, err = s.store.ListActiveWithExternalID(ctx)
	}
	if err != nil {
		s.metrics.RecordSyncRun(string(mode), "failed")
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}

	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = s.concurrency
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = s.timeout
	}

	report := &billing.SyncReport{
		Mode:      mode,
		DryRun:    opts.DryRun,
		Errors:    []billing.SyncError{},
		StartedAt: start,
	}
	var mu sync.Mutex

	var g errgroup.Group
	g.SetLimit(concurrency)
	for _, rec := range local {
		g.Go(func() error {
			result, err := s.syncOne(ctx, rec, timeout, opts.DryRun)
			s.metrics.RecordSubscriptionSync(result)

			mu.Lock()
			defer mu.Unlock()
			report.Processed++
			switch result {
			case ResultUpdated:
				report.Updated++
			case ResultUnchanged:
				report.Unchanged++
			case ResultMissing:
				report.Missing = append(report.Missing, rec.ExternalSubscriptionID)
			default:
				report.Errors = append(report.Errors, billing.SyncError{
					ExternalSubscriptionID: rec.ExternalSubscriptionID,
					Message:                err.Error(),
				})
			}
			return nil
		})
	}
	_ = g.Wait()

	sort.Slice(report.Errors, func(i, j int) bool {
		return report.Errors[i].ExternalSubscriptionID < report.Errors[j].ExternalSubscriptionID
	})
	sort.Strings(report.Missing)
	report.FinishedAt = s.now()

	status := "success"
	if len(report.Errors) > 0 {
		status = "partial"
	}
	s.metrics.RecordSyncRun(string(mode), status)
	s.metrics.RecordSyncDuration(string(mode), report.FinishedAt.Sub(start))
	s.logger.Info("subscription sync finished",
		billing.Field{Key: "mode", Value: string(mode)},
		billing.Field{Key: "dryRun", Value: opts.DryRun},
		billing.Field{Key: "processed", Value: report.Processed},
		billing.Field{Key: "updated", Value: report.Updated},
		billing.Field{Key: "missing", Value: len(report.Missing)},
		billing.Field{Key: "errors", Value: len(report.Errors)})
	return report, nil
}

func (s *Service) syncOne(ctx context.Context, local *billing.SubscriptionRecord, timeout time.Duration, dryRun bool) (string, error) {
	if err := ctx.Err(); err != nil {
		return ResultError, err
	}
	subCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	id := local.ExternalSubscriptionID
	remote, err := s.provider.FetchSubscription(subCtx, id)
	if errors.Is(err, billing.ErrRemoteSubscriptionNotFound) {
		s.logger.Warn("subscription missing at provider",
			billing.Field{Key: "subscriptionId", Value: id},
			billing.Field{Key: "localStatus", Value: string(local.Status)})
		return ResultMissing, nil
	}
	if err != nil {
		s.logger.Warn("subscription sync failed",
			billing.Field{Key: "subscriptionId", Value: id},
			billing.Field{Key: "error", Value: err})
		return ResultError, fmt.Errorf("fetch: %w", err)
	}

	// The provider read carries no event time, so the row keeps the time of
	// the last applied webhook and later webhooks still pass the ordering guard.
	incoming := billing.RecordFromSubscription(remote, nil, local.LastEventAt, false)
	if _, outcome := billing.PlanWrite(local, incoming, false, s.now()); outcome == billing.UpsertUnchanged {
		return ResultUnchanged, nil
	}
	if dryRun {
		s.logger.Info("subscription drift detected",
			billing.Field{Key: "subscriptionId", Value: id},
			billing.Field{Key: "localStatus", Value: string(local.Status)},
			billing.Field{Key: "remoteStatus", Value: string(incoming.Status)})
		return ResultUpdated, nil
	}
	outcome, err := s.store.ReplaceFromSource(subCtx, incoming)
	if err != nil {
		return ResultError, fmt.Errorf("store: %w", err)
	}
	if outcome == billing.UpsertUnchanged {
		return ResultUnchanged, nil
	}
	return ResultUpdated, nil
}

// PlanMonitorOptions tunes MonitorNewPlans.
type PlanMonitorOptions struct {
	AutoInsert bool
}

// MonitorNewPlans reports provider plans missing from the local catalogue and
// optionally inserts them. Existing plans are never modified.
func (s *Service) MonitorNewPlans(ctx context.Context, opts PlanMonitorOptions) (*billing.PlanReport, error) {
	if s.plans == nil {
		return nil, errors.New("reconcile: plan store is not configured")
	}
	remote, err := s.provider.ListPlans(ctx)
	if err != nil {
		return nil, fmt.Errorf("list provider plans: %w", err)
	}
	local, err := s.plans.ListPlans(ctx)
	if err != nil {
		return nil, fmt.Errorf("list local plans: %w", err)
	}

	known := make(map[string]struct{}, len(local))
	for _, p := range local {
		known[p.ExternalPriceID] = struct{}{}
	}

	report := &billing.PlanReport{Checked: len(remote), Discovered: []billing.Plan{}}
	for _, plan := range remote {
		if _, ok := known[plan.ExternalPriceID]; ok {
			continue
		}
		report.Discovered = append(report.Discovered, plan)

		inserted := false
		if opts.AutoInsert {
			inserted, err = s.plans.InsertPlan(ctx, plan)
			if err != nil {
				report.Errors = append(report.Errors, fmt.Sprintf("%s: %v", plan.ExternalPriceID, err))
			}
			if inserted {
				report.Inserted++
			}
		}
		s.metrics.RecordPlanDiscovered(inserted)
		s.logger.Info("new plan discovered",
			billing.Field{Key: "priceId", Value: plan.ExternalPriceID},
			billing.Field{Key: "name", Value: plan.Name},
			billing.Field{Key: "inserted", Value: inserted})
	}
	return report, nil
}
