// Package router classifies authenticated events into a processing domain
// and hands them to the processor that owns it.
package router

import (
	"context"
	"errors"

	"github.com/mihaimyh/paysync/pkg/billing"
)

// Classification reasons, in precedence order.
const (
	ReasonSubscriptionLifecycle = "subscription_lifecycle"
	ReasonInvoiceEvent          = "invoice_event"
	ReasonCompanyAccount        = "company_account"
	ReasonSubscriptionMetadata  = "subscription_metadata"
	ReasonInvoiceReference      = "invoice_reference"
	ReasonDefaultListing        = "default_listing"
	ReasonUnhandledType         = "unhandled_event_type"
)

// Decision is the routing outcome for an event.
type Decision struct {
	Domain billing.Domain
	Reason string
}

// Classify decides which domain owns an event. It is deterministic and
// depends only on the event's type and payload.
func Classify(event *billing.Event) Decision {
	if event.Type.IsSubscriptionLifecycle() {
		return Decision{Domain: billing.DomainSubscription, Reason: ReasonSubscriptionLifecycle}
	}
	if _, ok := event.Payload.(*billing.InvoicePayload); ok {
		return Decision{Domain: billing.DomainSubscription, Reason: ReasonInvoiceEvent}
	}

	meta := event.Metadata()
	switch {
	case meta.IsCompany():
		return Decision{Domain: billing.DomainSubscription, Reason: ReasonCompanyAccount}
	case meta.SubscriptionID() != "":
		return Decision{Domain: billing.DomainSubscription, Reason: ReasonSubscriptionMetadata}
	case event.InvoiceRef() != "":
		return Decision{Domain: billing.DomainSubscription, Reason: ReasonInvoiceReference}
	default:
		return Decision{Domain: billing.DomainListing, Reason: ReasonDefaultListing}
	}
}

// Router dispatches events to the listing or subscription processor.
type Router struct {
	subscriptions billing.SubscriptionProcessor
	listings      billing.ListingProcessor
	logger        billing.Logger
	metrics       billing.Metrics
}

// Config wires the router's processors.
type Config struct {
	Subscriptions billing.SubscriptionProcessor
	Listings      billing.ListingProcessor
	Logger        billing.Logger
	Metrics       billing.Metrics
}

// New creates a router. Both processors are required.
func New(config Config) (*Router, error) {
	if config.Subscriptions == nil || config.Listings == nil {
		return nil, errors.New("router: subscription and listing processors are required")
	}
	r := &Router{
		subscriptions: config.Subscriptions,
		listings:      config.Listings,
		logger:        config.Logger,
		metrics:       config.Metrics,
	}
	if r.logger == nil {
		r.logger = &billing.NoopLogger{}
	}
	if r.metrics == nil {
		r.metrics = &billing.NoopMetrics{}
	}
	return r, nil
}

// Dispatch routes event and returns the processor's result. Event types the
// service does not act on are acknowledged as ignored.
func (r *Router) Dispatch(ctx context.Context, event *billing.Event) (billing.ProcessingResult, error) {
	if !event.Type.IsHandled() {
		r.logger.Debug("ignoring unhandled event type",
			billing.Field{Key: "eventId", Value: event.ID},
			billing.Field{Key: "eventType", Value: string(event.Type)})
		return billing.ProcessingResult{
			EventID:   event.ID,
			EventType: event.Type,
			Outcome:   billing.OutcomeIgnored,
			Reason:    ReasonUnhandledType,
		}, nil
	}

	decision := Classify(event)
	r.metrics.RecordRoutedEvent(string(decision.Domain), decision.Reason)
	r.logger.Debug("event routed",
		billing.Field{Key: "eventId", Value: event.ID},
		billing.Field{Key: "eventType", Value: string(event.Type)},
		billing.Field{Key: "domain", Value: string(decision.Domain)},
		billing.Field{Key: "reason", Value: decision.Reason})

	var (
		result billing.ProcessingResult
		err    error
	)
	if decision.Domain == billing.DomainSubscription {
		result, err = r.subscriptions.Process(ctx, event)
	} else {
		result, err = r.dispatchListing(ctx, event)
	}
	if err != nil {
		return result, err
	}
	if result.Domain == "" {
		result.Domain = decision.Domain
	}
	return result, nil
}

func (r *Router) dispatchListing(ctx context.Context, event *billing.Event) (billing.ProcessingResult, error) {
	switch event.Type {
	case billing.EventPaymentIntentSucceeded:
		return r.listings.ProcessPaymentSucceeded(ctx, event)
	case billing.EventPaymentIntentFailed:
		return r.listings.ProcessPaymentFailed(ctx, event)
	case billing.EventChargeSucceeded:
		return r.listings.ProcessChargeSucceeded(ctx, event)
	case billing.EventChargeFailed:
		return r.listings.ProcessChargeFailed(ctx, event)
	default:
		return billing.ProcessingResult{
			EventID:   event.ID,
			EventType: event.Type,
			Domain:    billing.DomainListing,
			Outcome:   billing.OutcomeIgnored,
			Reason:    ReasonUnhandledType,
		}, nil
	}
}
