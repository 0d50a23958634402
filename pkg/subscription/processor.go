// Package subscription applies subscription-domain webhook events to the
// local subscription store.
package subscription

import (
	"context"
	"errors"
	"fmt"

	"github.com/mihaimyh/paysync/pkg/billing"
)

// Reasons reported with deferred or skipped results.
const (
	ReasonOwnerUnresolved      = "owner_unresolved"
	ReasonNoSubscriptionRef    = "subscription_unreferenced"
	ReasonUnknownSubscription  = "subscription_unknown"
	ReasonRemoteMissing        = "remote_subscription_missing"
	ReasonCanceledSubscription = "subscription_canceled"
	ReasonUnexpectedPayload    = "unexpected_payload"
	ReasonStaleEvent           = "stale_event"
	ReasonStatusHint           = "status_hint"
	ReasonProviderRefresh      = "provider_refresh"
	ReasonLifecycle            = "lifecycle"
)

// Config wires the processor's collaborators.
type Config struct {
	// Store is required.
	Store billing.SubscriptionStore
	// Provider refreshes subscriptions referenced by payment events. Optional.
	Provider  billing.ProviderClient
	Accounts  billing.AccountDirectory
	Companies billing.CompanyDirectory
	// Resolvers overrides DefaultResolvers.
	Resolvers []OwnerResolver
	Logger    billing.Logger
}

// Processor implements billing.SubscriptionProcessor.
type Processor struct {
	store     billing.SubscriptionStore
	provider  billing.ProviderClient
	resolvers []OwnerResolver
	logger    billing.Logger
}

// New creates a subscription processor.
func New(config Config) (*Processor, error) {
	if config.Store == nil {
		return nil, errors.New("subscription: store is required")
	}
	p := &Processor{
		store:     config.Store,
		provider:  config.Provider,
		resolvers: config.Resolvers,
		logger:    config.Logger,
	}
	if len(p.resolvers) == 0 {
		p.resolvers = DefaultResolvers(config.Store, config.Accounts, config.Companies)
	}
	if p.logger == nil {
		p.logger = &billing.NoopLogger{}
	}
	return p, nil
}

// Process applies event. Deferral and staleness are successful results; only
// lookup and store failures are returned as errors.
func (p *Processor) Process(ctx context.Context, event *billing.Event) (billing.ProcessingResult, error) {
	result := billing.ProcessingResult{
		EventID:   event.ID,
		EventType: event.Type,
		Domain:    billing.DomainSubscription,
	}

	var err error
	if sub, ok := event.Payload.(*billing.SubscriptionPayload); ok {
		err = p.applyLifecycle(ctx, event, sub, &result)
	} else if event.Type.IsSubscriptionLifecycle() {
		result.Outcome = billing.OutcomeDeferred
		result.Reason = ReasonUnexpectedPayload
	} else {
		err = p.applyPayment(ctx, event, &result)
	}
	if err != nil {
		p.logger.Error("subscription event failed",
			billing.Field{Key: "eventId", Value: event.ID},
			billing.Field{Key: "eventType", Value: string(event.Type)},
			billing.Field{Key: "subscriptionId", Value: result.SubscriptionID},
			billing.Field{Key: "error", Value: err})
		return result, err
	}

	p.logger.Info("subscription event processed",
		billing.Field{Key: "eventId", Value: event.ID},
		billing.Field{Key: "eventType", Value: string(event.Type)},
		billing.Field{Key: "subscriptionId", Value: result.SubscriptionID},
		billing.Field{Key: "outcome", Value: string(result.Outcome)},
		billing.Field{Key: "reason", Value: result.Reason})
	return result, nil
}

func (p *Processor) applyLifecycle(ctx context.Context, event *billing.Event, sub *billing.SubscriptionPayload, result *billing.ProcessingResult) error {
	result.SubscriptionID = sub.ID
	result.Reason = ReasonLifecycle

	owner, err := p.ResolveOwner(ctx, event, sub.ID)
	if err != nil {
		return err
	}
	if owner == nil {
		result.Outcome = billing.OutcomeDeferred
		result.Reason = ReasonOwnerUnresolved
		return nil
	}
	result.Owner = owner

	rec := billing.RecordFromSubscription(sub, owner, event.EffectiveAt(), event.Type == billing.EventSubscriptionDeleted)
	return p.upsert(ctx, rec, result)
}

// applyPayment handles payment, charge and invoice events that reference a
// subscription.
func (p *Processor) applyPayment(ctx context.Context, event *billing.Event, result *billing.ProcessingResult) error {
	subID := subscriptionRef(event)
	result.SubscriptionID = subID
	if subID == "" {
		result.Outcome = billing.OutcomeDeferred
		result.Reason = ReasonNoSubscriptionRef
		return nil
	}
	if p.provider != nil {
		return p.refreshFromProvider(ctx, event, subID, result)
	}
	return p.applyStatusHint(ctx, event, subID, result)
}

func (p *Processor) refreshFromProvider(ctx context.Context, event *billing.Event, subID string, result *billing.ProcessingResult) error {
	result.Reason = ReasonProviderRefresh

	remote, err := p.provider.FetchSubscription(ctx, subID)
	if errors.Is(err, billing.ErrRemoteSubscriptionNotFound) {
		result.Outcome = billing.OutcomeDeferred
		result.Reason = ReasonRemoteMissing
		return nil
	}
	if err != nil {
		return fmt.Errorf("fetch subscription %s: %w", subID, err)
	}

	owner, err := p.ResolveOwner(ctx, event, subID)
	if err != nil {
		return err
	}
	if owner == nil {
		// the remote object usually carries the richer metadata
		owner, err = p.ResolveOwner(ctx, &billing.Event{ID: event.ID, Type: event.Type, Payload: remote}, subID)
		if err != nil {
			return err
		}
	}
	if owner == nil {
		result.Outcome = billing.OutcomeDeferred
		result.Reason = ReasonOwnerUnresolved
		return nil
	}
	result.Owner = owner

	rec := billing.RecordFromSubscription(remote, owner, event.EffectiveAt(), false)
	return p.upsert(ctx, rec, result)
}

func (p *Processor) applyStatusHint(ctx context.Context, event *billing.Event, subID string, result *billing.ProcessingResult) error {
	result.Reason = ReasonStatusHint

	existing, err := p.store.GetByExternalID(ctx, subID)
	if errors.Is(err, billing.ErrSubscriptionNotFound) {
		result.Outcome = billing.OutcomeDeferred
		result.Reason = ReasonUnknownSubscription
		return nil
	}
	if err != nil {
		return fmt.Errorf("load subscription %s: %w", subID, err)
	}
	result.Owner = existing.Owner()
	if existing.Status == billing.StatusCanceled {
		result.Outcome = billing.OutcomeUnchanged
		result.Reason = ReasonCanceledSubscription
		return nil
	}

	rec := existing.Clone()
	rec.Status = billing.StatusActive
	if event.Type.IsFailure() {
		rec.Status = billing.StatusPastDue
	}
	rec.LastEventAt = event.EffectiveAt()
	return p.upsert(ctx, rec, result)
}

func (p *Processor) upsert(ctx context.Context, rec *billing.SubscriptionRecord, result *billing.ProcessingResult) error {
	outcome, err := p.store.UpsertByExternalID(ctx, rec)
	if err != nil {
		return fmt.Errorf("upsert subscription %s: %w", rec.ExternalSubscriptionID, err)
	}
	result.Outcome = billing.OutcomeFor(outcome)
	if outcome == billing.UpsertStale {
		result.Reason = ReasonStaleEvent
		p.logger.Warn("discarding out-of-order event",
			billing.Field{Key: "subscriptionId", Value: rec.ExternalSubscriptionID},
			billing.Field{Key: "eventAt", Value: rec.LastEventAt})
	}
	return nil
}

// ResolveOwner tries each resolver in order and returns the first owner
// found, or nil when none resolves.
func (p *Processor) ResolveOwner(ctx context.Context, event *billing.Event, subscriptionID string) (*billing.Owner, error) {
	for _, r := range p.resolvers {
		owner, err := r.Resolve(ctx, event, subscriptionID)
		if err != nil {
			return nil, err
		}
		if owner != nil {
			p.logger.Debug("owner resolved",
				billing.Field{Key: "eventId", Value: event.ID},
				billing.Field{Key: "resolver", Value: r.Name()})
			return owner, nil
		}
	}
	return nil, nil
}

func subscriptionRef(event *billing.Event) string {
	if id := event.Metadata().SubscriptionID(); id != "" {
		return id
	}
	if inv, ok := event.Payload.(*billing.InvoicePayload); ok {
		return inv.SubscriptionID
	}
	return ""
}
