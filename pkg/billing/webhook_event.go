package billing

import (
	"encoding/json"
	"strings"
	"time"
)

// EventType is the provider event type, e.g. "customer.subscription.updated".
type EventType string

const (
	EventPaymentIntentSucceeded  EventType = "payment_intent.succeeded"
	EventPaymentIntentFailed     EventType = "payment_intent.payment_failed"
	EventChargeSucceeded         EventType = "charge.succeeded"
	EventChargeFailed            EventType = "charge.failed"
	EventSubscriptionCreated     EventType = "customer.subscription.created"
	EventSubscriptionUpdated     EventType = "customer.subscription.updated"
	EventSubscriptionDeleted     EventType = "customer.subscription.deleted"
	EventInvoicePaid             EventType = "invoice.paid"
	EventInvoicePaymentSucceeded EventType = "invoice.payment_succeeded"
	EventInvoicePaymentFailed    EventType = "invoice.payment_failed"
)

// PayloadKind identifies the variant carried in Event.Payload.
type PayloadKind string

const (
	KindPayment      PayloadKind = "payment_intent"
	KindCharge       PayloadKind = "charge"
	KindSubscription PayloadKind = "subscription"
	KindInvoice      PayloadKind = "invoice"
	KindUnknown      PayloadKind = "unknown"
)

// Kind returns the payload variant an event type decodes to.
func (t EventType) Kind() PayloadKind {
	s := string(t)
	switch {
	case strings.HasPrefix(s, "payment_intent."):
		return KindPayment
	case strings.HasPrefix(s, "charge.") && strings.Count(s, ".") == 1:
		return KindCharge
	case strings.HasPrefix(s, "customer.subscription."):
		return KindSubscription
	case strings.HasPrefix(s, "invoice."):
		return KindInvoice
	default:
		return KindUnknown
	}
}

// IsSubscriptionLifecycle reports whether the type describes a subscription
// being created, changed or deleted.
func (t EventType) IsSubscriptionLifecycle() bool {
	return t == EventSubscriptionCreated || t == EventSubscriptionUpdated || t == EventSubscriptionDeleted
}

// IsHandled reports whether the type is one this service acts on.
func (t EventType) IsHandled() bool {
	switch t {
	case EventPaymentIntentSucceeded, EventPaymentIntentFailed,
		EventChargeSucceeded, EventChargeFailed,
		EventSubscriptionCreated, EventSubscriptionUpdated, EventSubscriptionDeleted,
		EventInvoicePaid, EventInvoicePaymentSucceeded, EventInvoicePaymentFailed:
		return true
	}
	return false
}

// IsFailure reports whether the type signals a failed payment.
func (t EventType) IsFailure() bool {
	return t == EventPaymentIntentFailed || t == EventChargeFailed || t == EventInvoicePaymentFailed
}

// Envelope is the undecoded webhook body as delivered by the provider.
type Envelope struct {
	ID         string        `json:"id"`
	Object     string        `json:"object"`
	Type       string        `json:"type"`
	APIVersion string        `json:"api_version"`
	Created    interface{}   `json:"created"`
	Livemode   bool          `json:"livemode"`
	Data       *EnvelopeData `json:"data"`
}

// EnvelopeData holds the raw resource the event is about.
type EnvelopeData struct {
	Object json.RawMessage `json:"object"`
}

// Event is an authenticated, decoded webhook event.
type Event struct {
	ID         string
	Type       EventType
	Created    *time.Time
	ReceivedAt time.Time
	Livemode   bool
	Payload    Payload
}

// EffectiveAt is the instant the event describes, falling back to receipt time.
func (e *Event) EffectiveAt() time.Time {
	if e.Created != nil {
		return *e.Created
	}
	return e.ReceivedAt
}

// Metadata returns the metadata of the payload, never nil.
func (e *Event) Metadata() Metadata {
	if e.Payload == nil {
		return Metadata{}
	}
	if m := e.Payload.meta(); m != nil {
		return m
	}
	return Metadata{}
}

// InvoiceRef returns the invoice id referenced by the payload, if any.
func (e *Event) InvoiceRef() string {
	switch p := e.Payload.(type) {
	case *PaymentPayload:
		return p.InvoiceID
	case *ChargePayload:
		return p.InvoiceID
	case *InvoicePayload:
		return p.ID
	}
	return ""
}

// CustomerRef returns the external customer id referenced by the payload, if any.
func (e *Event) CustomerRef() string {
	switch p := e.Payload.(type) {
	case *PaymentPayload:
		return p.CustomerID
	case *ChargePayload:
		return p.CustomerID
	case *SubscriptionPayload:
		return p.CustomerID
	case *InvoicePayload:
		return p.CustomerID
	}
	return ""
}

// Payload is the closed set of decoded event objects.
type Payload interface {
	Kind() PayloadKind
	meta() Metadata
}

// PaymentPayload is a decoded payment intent.
type PaymentPayload struct {
	ID             string
	Amount         int64
	Currency       string
	Status         string
	CustomerID     string
	InvoiceID      string
	Metadata       Metadata
	FailureCode    string
	FailureMessage string
	DeclineCode    string
}

func (p *PaymentPayload) Kind() PayloadKind { return KindPayment }
func (p *PaymentPayload) meta() Metadata    { return p.Metadata }

// ChargePayload is a decoded charge.
type ChargePayload struct {
	ID              string
	PaymentIntentID string
	Amount          int64
	Currency        string
	CustomerID      string
	InvoiceID       string
	Metadata        Metadata
	FailureCode     string
	FailureMessage  string
}

func (p *ChargePayload) Kind() PayloadKind { return KindCharge }
func (p *ChargePayload) meta() Metadata    { return p.Metadata }

// SubscriptionPayload is a decoded subscription object. It is also the shape
// returned by ProviderClient.FetchSubscription.
type SubscriptionPayload struct {
	ID                 string
	CustomerID         string
	Status             string
	PlanID             string
	CurrentPeriodStart *time.Time
	CurrentPeriodEnd   *time.Time
	CancelAtPeriodEnd  bool
	CanceledAt         *time.Time
	Created            *time.Time
	Metadata           Metadata
}

func (p *SubscriptionPayload) Kind() PayloadKind { return KindSubscription }
func (p *SubscriptionPayload) meta() Metadata    { return p.Metadata }

// InvoicePayload is a decoded invoice.
type InvoicePayload struct {
	ID             string
	CustomerID     string
	SubscriptionID string
	Status         string
	AmountPaid     int64
	AmountDue      int64
	Currency       string
	PeriodStart    *time.Time
	PeriodEnd      *time.Time
	Metadata       Metadata
}

func (p *InvoicePayload) Kind() PayloadKind { return KindInvoice }
func (p *InvoicePayload) meta() Metadata    { return p.Metadata }

// UnknownPayload carries objects of event types this service does not handle.
type UnknownPayload struct {
	Object string
	Raw    json.RawMessage
}

func (p *UnknownPayload) Kind() PayloadKind { return KindUnknown }
func (p *UnknownPayload) meta() Metadata    { return nil }
