// Package listing applies one-time listing purchases to the listing store.
package listing

import (
	"context"
	"errors"
	"fmt"

	"github.com/mihaimyh/paysync/pkg/billing"
)

// DefaultFeature is marked paid for listing items that name no feature.
const DefaultFeature = "listing"

const (
	ReasonUnexpectedPayload = "unexpected_payload"
	ReasonAlreadySucceeded  = "payment_already_succeeded"
	ReasonNoItems           = "no_listing_items"
)

// Processor implements billing.ListingProcessor.
type Processor struct {
	store  billing.ListingStore
	logger billing.Logger
}

// New creates a listing processor.
func New(store billing.ListingStore, logger billing.Logger) (*Processor, error) {
	if store == nil {
		return nil, errors.New("listing: store is required")
	}
	if logger == nil {
		logger = &billing.NoopLogger{}
	}
	return &Processor{store: store, logger: logger}, nil
}

// ProcessPaymentSucceeded records a successful payment intent and marks its
// listing features paid.
func (p *Processor) ProcessPaymentSucceeded(ctx context.Context, event *billing.Event) (billing.ProcessingResult, error) {
	pi, ok := event.Payload.(*billing.PaymentPayload)
	if !ok {
		return p.unexpected(event), nil
	}
	return p.succeed(ctx, event, &billing.ListingPayment{
		PaymentIntentID: pi.ID,
		Amount:          pi.Amount,
		Currency:        pi.Currency,
	})
}

// ProcessChargeSucceeded is keyed by the charge's payment intent so it
// collapses with the matching payment_intent.succeeded event.
func (p *Processor) ProcessChargeSucceeded(ctx context.Context, event *billing.Event) (billing.ProcessingResult, error) {
	ch, ok := event.Payload.(*billing.ChargePayload)
	if !ok {
		return p.unexpected(event), nil
	}
	return p.succeed(ctx, event, &billing.ListingPayment{
		PaymentIntentID: paymentKey(ch),
		ChargeID:        ch.ID,
		Amount:          ch.Amount,
		Currency:        ch.Currency,
	})
}

// ProcessPaymentFailed records the failure and reports it in Failure.
func (p *Processor) ProcessPaymentFailed(ctx context.Context, event *billing.Event) (billing.ProcessingResult, error) {
	pi, ok := event.Payload.(*billing.PaymentPayload)
	if !ok {
		return p.unexpected(event), nil
	}
	return p.fail(ctx, event, &billing.ListingPayment{
		PaymentIntentID: pi.ID,
		Amount:          pi.Amount,
		Currency:        pi.Currency,
		FailureCode:     pi.FailureCode,
		FailureMessage:  pi.FailureMessage,
	}, pi.DeclineCode)
}

// ProcessChargeFailed records a failed charge.
func (p *Processor) ProcessChargeFailed(ctx context.Context, event *billing.Event) (billing.ProcessingResult, error) {
	ch, ok := event.Payload.(*billing.ChargePayload)
	if !ok {
		return p.unexpected(event), nil
	}
	return p.fail(ctx, event, &billing.ListingPayment{
		PaymentIntentID: paymentKey(ch),
		ChargeID:        ch.ID,
		Amount:          ch.Amount,
		Currency:        ch.Currency,
		FailureCode:     ch.FailureCode,
		FailureMessage:  ch.FailureMessage,
	}, "")
}

func (p *Processor) succeed(ctx context.Context, event *billing.Event, payment *billing.ListingPayment) (billing.ProcessingResult, error) {
	result := newResult(event)
	payment.Status = billing.PaymentSucceeded
	payment.Items = event.Metadata().ListingItems()
	result.ListingIDs = listingIDs(payment.Items)

	written, err := p.store.RecordPayment(ctx, payment)
	if err != nil {
		return result, fmt.Errorf("record payment %s: %w", payment.PaymentIntentID, err)
	}

	// Features are marked on redelivery too: a previous attempt may have
	// recorded the payment and then failed before unlocking every item.
	if err := p.markFeatures(ctx, payment); err != nil {
		return result, err
	}
	if !written {
		result.Outcome = billing.OutcomeDuplicate
		result.Reason = ReasonAlreadySucceeded
		return result, nil
	}

	result.Outcome = billing.OutcomeRecorded
	if len(payment.Items) == 0 {
		result.Reason = ReasonNoItems
		p.logger.Warn("listing payment carries no listing items",
			billing.Field{Key: "eventId", Value: event.ID},
			billing.Field{Key: "paymentIntentId", Value: payment.PaymentIntentID})
	}
	p.logger.Info("listing payment recorded",
		billing.Field{Key: "eventId", Value: event.ID},
		billing.Field{Key: "paymentIntentId", Value: payment.PaymentIntentID},
		billing.Field{Key: "listings", Value: len(payment.Items)})
	return result, nil
}

func (p *Processor) markFeatures(ctx context.Context, payment *billing.ListingPayment) error {
	for _, item := range payment.Items {
		feature := item.Feature
		if feature == "" {
			feature = DefaultFeature
		}
		if err := p.store.MarkFeaturePaid(ctx, item.ID, feature, payment.PaymentIntentID); err != nil {
			return fmt.Errorf("mark listing %s feature %s: %w", item.ID, feature, err)
		}
	}
	return nil
}

func (p *Processor) fail(ctx context.Context, event *billing.Event, payment *billing.ListingPayment, declineCode string) (billing.ProcessingResult, error) {
	result := newResult(event)
	payment.Status = billing.PaymentFailed
	payment.Items = event.Metadata().ListingItems()
	result.ListingIDs = listingIDs(payment.Items)
	result.Failure = &billing.ErrorDetail{
		PaymentID:   payment.PaymentIntentID,
		Code:        payment.FailureCode,
		DeclineCode: declineCode,
		Message:     payment.FailureMessage,
	}

	written, err := p.store.RecordPayment(ctx, payment)
	if err != nil {
		return result, fmt.Errorf("record failed payment %s: %w", payment.PaymentIntentID, err)
	}
	if !written {
		result.Outcome = billing.OutcomeDuplicate
		result.Reason = ReasonAlreadySucceeded
		return result, nil
	}

	result.Outcome = billing.OutcomeRecorded
	p.logger.Warn("listing payment failed",
		billing.Field{Key: "eventId", Value: event.ID},
		billing.Field{Key: "paymentIntentId", Value: payment.PaymentIntentID},
		billing.Field{Key: "code", Value: payment.FailureCode})
	return result, nil
}

func (p *Processor) unexpected(event *billing.Event) billing.ProcessingResult {
	result := newResult(event)
	result.Outcome = billing.OutcomeIgnored
	result.Reason = ReasonUnexpectedPayload
	return result
}

func newResult(event *billing.Event) billing.ProcessingResult {
	return billing.ProcessingResult{
		EventID:   event.ID,
		EventType: event.Type,
		Domain:    billing.DomainListing,
	}
}

func paymentKey(ch *billing.ChargePayload) string {
	if ch.PaymentIntentID != "" {
		return ch.PaymentIntentID
	}
	return ch.ID
}

func listingIDs(items []billing.Item) []string {
	if len(items) == 0 {
		return nil
	}
	ids := make([]string, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.ID)
	}
	return ids
}
