package billing

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Status is the normalized subscription status.
type Status string

const (
	StatusActive     Status = "active"
	StatusTrialing   Status = "trialing"
	StatusPastDue    Status = "past_due"
	StatusCanceled   Status = "canceled"
	StatusIncomplete Status = "incomplete"
	StatusUnpaid     Status = "unpaid"
)

// NormalizeStatus maps a provider status onto the local status set.
// Unrecognised values become StatusIncomplete.
func NormalizeStatus(s string) Status {
	switch Status(strings.ToLower(strings.TrimSpace(s))) {
	case StatusActive:
		return StatusActive
	case StatusTrialing:
		return StatusTrialing
	case StatusPastDue:
		return StatusPastDue
	case StatusCanceled, "cancelled", "incomplete_expired":
		return StatusCanceled
	case StatusUnpaid:
		return StatusUnpaid
	default:
		return StatusIncomplete
	}
}

// IsActive reports whether the subscription still grants access.
func (s Status) IsActive() bool {
	return s == StatusActive || s == StatusTrialing || s == StatusPastDue
}

// ActiveStatuses lists the statuses IsActive accepts.
var ActiveStatuses = []Status{StatusActive, StatusTrialing, StatusPastDue}

// OwnerKind distinguishes individual and company subscriptions.
type OwnerKind string

const (
	OwnerIndividual OwnerKind = "individual"
	OwnerCompany    OwnerKind = "company"
)

// Owner is the local account a subscription belongs to.
type Owner struct {
	Kind      OwnerKind `json:"kind"`
	AccountID string    `json:"accountId"`
	CompanyID string    `json:"companyId,omitempty"`
}

// SubscriptionRecord is the local mirror of a provider subscription.
type SubscriptionRecord struct {
	LocalID                string            `json:"localId"`
	ExternalSubscriptionID string            `json:"externalSubscriptionId"`
	ExternalCustomerID     string            `json:"externalCustomerId"`
	OwnerAccountID         string            `json:"ownerAccountId,omitempty"`
	OwnerKind              OwnerKind         `json:"ownerKind"`
	CompanyID              string            `json:"companyId,omitempty"`
	PlanExternalID         string            `json:"planExternalId,omitempty"`
	Status                 Status            `json:"status"`
	CurrentPeriodStart     *time.Time        `json:"currentPeriodStart,omitempty"`
	CurrentPeriodEnd       *time.Time        `json:"currentPeriodEnd,omitempty"`
	CancelAtPeriodEnd      bool              `json:"cancelAtPeriodEnd"`
	CanceledAt             *time.Time        `json:"canceledAt,omitempty"`
	Metadata               map[string]string `json:"metadata,omitempty"`
	LastEventAt            time.Time         `json:"lastEventAt"`
	CreatedAt              time.Time         `json:"createdAt"`
	UpdatedAt              time.Time         `json:"updatedAt"`
}

// Owner returns the owner stored on the record, or nil when unresolved.
func (r *SubscriptionRecord) Owner() *Owner {
	if r.OwnerAccountID == "" && r.CompanyID == "" {
		return nil
	}
	kind := r.OwnerKind
	if kind == "" {
		kind = OwnerIndividual
	}
	return &Owner{Kind: kind, AccountID: r.OwnerAccountID, CompanyID: r.CompanyID}
}

// SetOwner copies owner fields onto the record.
func (r *SubscriptionRecord) SetOwner(o *Owner) {
	if o == nil {
		return
	}
	r.OwnerKind = o.Kind
	r.OwnerAccountID = o.AccountID
	r.CompanyID = ""
	if o.Kind == OwnerCompany {
		r.CompanyID = o.CompanyID
	}
}

// Clone returns a deep copy of the record.
func (r *SubscriptionRecord) Clone() *SubscriptionRecord {
	if r == nil {
		return nil
	}
	c := *r
	c.CurrentPeriodStart = cloneTime(r.CurrentPeriodStart)
	c.CurrentPeriodEnd = cloneTime(r.CurrentPeriodEnd)
	c.CanceledAt = cloneTime(r.CanceledAt)
	c.Metadata = Metadata(r.Metadata).Clone()
	return &c
}

// IsStaleAgainst reports whether r describes an older state than existing.
// An event strictly older than the last applied one is stale; at equal
// timestamps an earlier period end is stale.
func (r *SubscriptionRecord) IsStaleAgainst(existing *SubscriptionRecord) bool {
	if existing == nil || existing.LastEventAt.IsZero() || r.LastEventAt.IsZero() {
		return false
	}
	if r.LastEventAt.Before(existing.LastEventAt) {
		return true
	}
	if r.LastEventAt.Equal(existing.LastEventAt) &&
		r.CurrentPeriodEnd != nil && existing.CurrentPeriodEnd != nil &&
		r.CurrentPeriodEnd.Before(*existing.CurrentPeriodEnd) {
		return true
	}
	return false
}

// MergeInto applies the mutable fields of r onto existing and returns the
// result. Identity fields stay with existing; missing owner, customer, plan
// and period values are filled in but never cleared.
func (r *SubscriptionRecord) MergeInto(existing *SubscriptionRecord, now time.Time) *SubscriptionRecord {
	if existing == nil {
		out := r.Clone()
		if out.OwnerKind == "" {
			out.OwnerKind = OwnerIndividual
		}
		out.CreatedAt = now
		out.UpdatedAt = now
		return out
	}

	out := existing.Clone()
	out.Status = r.Status
	out.CancelAtPeriodEnd = r.CancelAtPeriodEnd
	out.CanceledAt = cloneTime(r.CanceledAt)
	if r.CurrentPeriodStart != nil {
		out.CurrentPeriodStart = cloneTime(r.CurrentPeriodStart)
	}
	if r.CurrentPeriodEnd != nil {
		out.CurrentPeriodEnd = cloneTime(r.CurrentPeriodEnd)
	}
	if r.PlanExternalID != "" {
		out.PlanExternalID = r.PlanExternalID
	}
	if r.ExternalCustomerID != "" {
		out.ExternalCustomerID = r.ExternalCustomerID
	}
	if r.Metadata != nil {
		out.Metadata = Metadata(r.Metadata).Clone()
	}
	if out.Owner() == nil {
		out.SetOwner(r.Owner())
	}
	if r.LastEventAt.After(out.LastEventAt) {
		out.LastEventAt = r.LastEventAt
	}
	out.UpdatedAt = now
	return out
}

// PlanWrite decides how incoming changes the stored row. It returns the
// record to persist, or nil when nothing should be written. guarded enables
// the ordering check.
func PlanWrite(existing, incoming *SubscriptionRecord, guarded bool, now time.Time) (*SubscriptionRecord, UpsertOutcome) {
	if existing == nil {
		return incoming.MergeInto(nil, now), UpsertCreated
	}
	if guarded && incoming.IsStaleAgainst(existing) {
		return nil, UpsertStale
	}
	merged := incoming.MergeInto(existing, now)
	if merged.SameState(existing) &&
		merged.OwnerAccountID == existing.OwnerAccountID &&
		merged.CompanyID == existing.CompanyID &&
		Metadata(merged.Metadata).Equal(existing.Metadata) &&
		merged.LastEventAt.Equal(existing.LastEventAt) {
		return nil, UpsertUnchanged
	}
	return merged, UpsertUpdated
}

// SameState reports whether two records carry identical provider-derived state.
func (r *SubscriptionRecord) SameState(other *SubscriptionRecord) bool {
	if other == nil {
		return false
	}
	return r.Status == other.Status &&
		r.PlanExternalID == other.PlanExternalID &&
		r.ExternalCustomerID == other.ExternalCustomerID &&
		r.CancelAtPeriodEnd == other.CancelAtPeriodEnd &&
		timeEqual(r.CanceledAt, other.CanceledAt) &&
		timeEqual(r.CurrentPeriodStart, other.CurrentPeriodStart) &&
		timeEqual(r.CurrentPeriodEnd, other.CurrentPeriodEnd)
}

// RecordFromSubscription derives a record from a provider subscription.
// Deleted subscriptions are reported as canceled even when the payload lags.
func RecordFromSubscription(p *SubscriptionPayload, owner *Owner, effectiveAt time.Time, deleted bool) *SubscriptionRecord {
	rec := &SubscriptionRecord{
		ExternalSubscriptionID: p.ID,
		ExternalCustomerID:     p.CustomerID,
		PlanExternalID:         p.PlanID,
		Status:                 NormalizeStatus(p.Status),
		CurrentPeriodStart:     cloneTime(p.CurrentPeriodStart),
		CurrentPeriodEnd:       cloneTime(p.CurrentPeriodEnd),
		CancelAtPeriodEnd:      p.CancelAtPeriodEnd,
		CanceledAt:             cloneTime(p.CanceledAt),
		Metadata:               p.Metadata.Clone(),
		LastEventAt:            effectiveAt.UTC(),
	}
	if deleted {
		rec.Status = StatusCanceled
		if rec.CanceledAt == nil {
			t := effectiveAt.UTC()
			rec.CanceledAt = &t
		}
	}
	rec.SetOwner(owner)
	return rec
}

// Plan is a purchasable price known to the provider.
type Plan struct {
	ExternalPriceID string          `json:"externalPriceId" yaml:"externalPriceId"`
	Name            string          `json:"name" yaml:"name"`
	DisplayName     string          `json:"displayName" yaml:"displayName"`
	Interval        string          `json:"interval" yaml:"interval"`
	Price           decimal.Decimal `json:"price" yaml:"price"`
	Currency        string          `json:"currency" yaml:"currency"`
	IsActive        bool            `json:"isActive" yaml:"isActive"`
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

func timeEqual(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}
