package billing

import (
	"context"
	"time"
)

// SubscriptionStore persists subscription records keyed by external subscription id.
// Implementations serialise writes per id.
type SubscriptionStore interface {
	// UpsertByExternalID inserts or merges rec, discarding it when it is stale
	// against the stored row.
	UpsertByExternalID(ctx context.Context, rec *SubscriptionRecord) (UpsertOutcome, error)

	// ReplaceFromSource overwrites provider-derived fields without the ordering
	// check. A known owner is never cleared.
	ReplaceFromSource(ctx context.Context, rec *SubscriptionRecord) (UpsertOutcome, error)

	// GetByExternalID returns ErrSubscriptionNotFound when no row exists.
	GetByExternalID(ctx context.Context, externalID string) (*SubscriptionRecord, error)

	// GetActiveForOwner returns active subscriptions of an individual account
	// or a company.
	GetActiveForOwner(ctx context.Context, kind OwnerKind, ownerID string) ([]*SubscriptionRecord, error)

	// ListActiveWithExternalID returns active rows that carry an external id.
	ListActiveWithExternalID(ctx context.Context) ([]*SubscriptionRecord, error)

	// ListAllWithExternalID returns every row that carries an external id.
	ListAllWithExternalID(ctx context.Context) ([]*SubscriptionRecord, error)

	// FindOwnerByExternalCustomerID returns the owner of any subscription held
	// by the customer, or ErrOwnerNotFound.
	FindOwnerByExternalCustomerID(ctx context.Context, customerID string) (*Owner, error)
}

// PlanStore holds the local plan catalogue. Existing plans are never modified.
type PlanStore interface {
	ListPlans(ctx context.Context) ([]Plan, error)
	// InsertPlan returns false when a plan with the same price id already exists.
	InsertPlan(ctx context.Context, plan Plan) (bool, error)
}

// AccountDirectory maps provider customers to local accounts.
type AccountDirectory interface {
	// FindAccountByExternalCustomerID returns ErrAccountNotFound when unknown.
	FindAccountByExternalCustomerID(ctx context.Context, customerID string) (string, error)
}

// CompanyDirectory resolves company accounts.
type CompanyDirectory interface {
	// FindCompanyOwner returns the account that administers the company, or
	// ErrCompanyNotFound.
	FindCompanyOwner(ctx context.Context, companyID string) (string, error)
}

// PaymentStatus is the state of a one-time listing payment.
type PaymentStatus string

const (
	PaymentSucceeded PaymentStatus = "succeeded"
	PaymentFailed    PaymentStatus = "failed"
)

// ListingPayment is a one-time purchase for one or more listings.
type ListingPayment struct {
	PaymentIntentID string        `json:"paymentIntentId"`
	ChargeID        string        `json:"chargeId,omitempty"`
	Amount          int64         `json:"amount"`
	Currency        string        `json:"currency"`
	Status          PaymentStatus `json:"status"`
	Items           []Item        `json:"items,omitempty"`
	FailureCode     string        `json:"failureCode,omitempty"`
	FailureMessage  string        `json:"failureMessage,omitempty"`
	UpdatedAt       time.Time     `json:"updatedAt"`
}

// ListingStore records listing payments and the features they unlock.
type ListingStore interface {
	// RecordPayment stores p keyed by payment intent id. It returns false
	// without writing when the payment is already recorded as succeeded.
	RecordPayment(ctx context.Context, p *ListingPayment) (bool, error)

	// GetPayment returns ErrPaymentNotFound when nothing is recorded.
	GetPayment(ctx context.Context, paymentIntentID string) (*ListingPayment, error)

	// MarkFeaturePaid is idempotent per (listingID, feature).
	MarkFeaturePaid(ctx context.Context, listingID, feature, paymentIntentID string) error
}

// EventLog remembers processed event ids so redeliveries short-circuit.
type EventLog interface {
	Seen(ctx context.Context, eventID string) (bool, error)
	Mark(ctx context.Context, eventID string, eventType EventType) error
}
