// Package memory provides in-memory implementations of the billing storage
// interfaces. It is intended for tests and single-process development setups.
package memory

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/mihaimyh/paysync/pkg/billing"
)

// Storage implements billing.SubscriptionStore, billing.PlanStore,
// billing.ListingStore, billing.EventLog and the account/company directories.
type Storage struct {
	mu            sync.RWMutex
	subscriptions map[string]*billing.SubscriptionRecord
	plans         map[string]billing.Plan
	payments      map[string]*billing.ListingPayment
	features      map[string]string // listingID|feature -> payment intent id
	events        map[string]time.Time
	accounts      map[string]string // customer id -> account id
	companies     map[string]string // company id -> owner account id
	nextID        int
	now           func() time.Time
}

// New creates a new in-memory storage adapter
func New() *Storage {
	return &Storage{
		subscriptions: make(map[string]*billing.SubscriptionRecord),
		plans:         make(map[string]billing.Plan),
		payments:      make(map[string]*billing.ListingPayment),
		features:      make(map[string]string),
		events:        make(map[string]time.Time),
		accounts:      make(map[string]string),
		companies:     make(map[string]string),
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// WithClock replaces the time source used for createdAt/updatedAt.
func (s *Storage) WithClock(now func() time.Time) *Storage {
	s.now = now
	return s
}

// UpsertByExternalID implements billing.SubscriptionStore
func (s *Storage) UpsertByExternalID(ctx context.Context, rec *billing.SubscriptionRecord) (billing.UpsertOutcome, error) {
	return s.write(rec, true)
}

// ReplaceFromSource implements billing.SubscriptionStore
func (s *Storage) ReplaceFromSource(ctx context.Context, rec *billing.SubscriptionRecord) (billing.UpsertOutcome, error) {
	return s.write(rec, false)
}

func (s *Storage) write(rec *billing.SubscriptionRecord, guarded bool) (billing.UpsertOutcome, error) {
	if rec == nil || rec.ExternalSubscriptionID == "" {
		return "", billing.ErrInvalidRecord
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing := s.subscriptions[rec.ExternalSubscriptionID]
	next, outcome := billing.PlanWrite(existing, rec, guarded, s.now())
	if next == nil {
		return outcome, nil
	}
	if existing == nil {
		s.nextID++
		next.LocalID = strconv.Itoa(s.nextID)
	}
	s.subscriptions[rec.ExternalSubscriptionID] = next
	return outcome, nil
}

// GetByExternalID implements billing.SubscriptionStore
func (s *Storage) GetByExternalID(ctx context.Context, externalID string) (*billing.SubscriptionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.subscriptions[externalID]
	if !ok {
		return nil, billing.ErrSubscriptionNotFound
	}
	return rec.Clone(), nil
}

// GetActiveForOwner implements billing.SubscriptionStore
func (s *Storage) GetActiveForOwner(ctx context.Context, kind billing.OwnerKind, ownerID string) ([]*billing.SubscriptionRecord, error) {
	return s.list(func(r *billing.SubscriptionRecord) bool {
		if !r.Status.IsActive() {
			return false
		}
		if kind == billing.OwnerCompany {
			return r.CompanyID == ownerID
		}
		return r.OwnerAccountID == ownerID && r.OwnerKind != billing.OwnerCompany
	}), nil
}

// ListActiveWithExternalID implements billing.SubscriptionStore
func (s *Storage) ListActiveWithExternalID(ctx context.Context) ([]*billing.SubscriptionRecord, error) {
	return s.list(func(r *billing.SubscriptionRecord) bool { return r.Status.IsActive() }), nil
}

// ListAllWithExternalID implements billing.SubscriptionStore
func (s *Storage) ListAllWithExternalID(ctx context.Context) ([]*billing.SubscriptionRecord, error) {
	return s.list(func(*billing.SubscriptionRecord) bool { return true }), nil
}

func (s *Storage) list(keep func(*billing.SubscriptionRecord) bool) []*billing.SubscriptionRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*billing.SubscriptionRecord, 0, len(s.subscriptions))
	for _, rec := range s.subscriptions {
		if keep(rec) {
			out = append(out, rec.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ExternalSubscriptionID < out[j].ExternalSubscriptionID
	})
	return out
}

// FindOwnerByExternalCustomerID implements billing.SubscriptionStore
func (s *Storage) FindOwnerByExternalCustomerID(ctx context.Context, customerID string) (*billing.Owner, error) {
	for _, rec := range s.list(func(r *billing.SubscriptionRecord) bool {
		return r.ExternalCustomerID == customerID
	}) {
		if owner := rec.Owner(); owner != nil {
			return owner, nil
		}
	}
	return nil, billing.ErrOwnerNotFound
}

// ListPlans implements billing.PlanStore
func (s *Storage) ListPlans(ctx context.Context) ([]billing.Plan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]billing.Plan, 0, len(s.plans))
	for _, p := range s.plans {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExternalPriceID < out[j].ExternalPriceID })
	return out, nil
}

// InsertPlan implements billing.PlanStore
func (s *Storage) InsertPlan(ctx context.Context, plan billing.Plan) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.plans[plan.ExternalPriceID]; ok {
		return false, nil
	}
	s.plans[plan.ExternalPriceID] = plan
	return true, nil
}

// RecordPayment implements billing.ListingStore
func (s *Storage) RecordPayment(ctx context.Context, p *billing.ListingPayment) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.payments[p.PaymentIntentID]; ok && existing.Status == billing.PaymentSucceeded {
		return false, nil
	}
	c := *p
	c.Items = append([]billing.Item(nil), p.Items...)
	c.UpdatedAt = s.now()
	s.payments[p.PaymentIntentID] = &c
	return true, nil
}

// GetPayment implements billing.ListingStore
func (s *Storage) GetPayment(ctx context.Context, paymentIntentID string) (*billing.ListingPayment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.payments[paymentIntentID]
	if !ok {
		return nil, billing.ErrPaymentNotFound
	}
	c := *p
	c.Items = append([]billing.Item(nil), p.Items...)
	return &c, nil
}

// MarkFeaturePaid implements billing.ListingStore
func (s *Storage) MarkFeaturePaid(ctx context.Context, listingID, feature, paymentIntentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := listingID + "|" + feature
	if _, ok := s.features[key]; !ok {
		s.features[key] = paymentIntentID
	}
	return nil
}

// FeaturePaidBy returns the payment that unlocked a listing feature.
func (s *Storage) FeaturePaidBy(listingID, feature string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.features[listingID+"|"+feature]
	return id, ok
}

// Seen implements billing.EventLog
func (s *Storage) Seen(ctx context.Context, eventID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.events[eventID]
	return ok, nil
}

// Mark implements billing.EventLog
func (s *Storage) Mark(ctx context.Context, eventID string, eventType billing.EventType) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.events[eventID] = s.now()
	return nil
}

// AddAccount registers a customer-to-account mapping.
func (s *Storage) AddAccount(customerID, accountID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[customerID] = accountID
}

// AddCompany registers a company and the account that administers it.
func (s *Storage) AddCompany(companyID, ownerAccountID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.companies[companyID] = ownerAccountID
}

// FindAccountByExternalCustomerID implements billing.AccountDirectory
func (s *Storage) FindAccountByExternalCustomerID(ctx context.Context, customerID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if id, ok := s.accounts[customerID]; ok {
		return id, nil
	}
	return "", billing.ErrAccountNotFound
}

// FindCompanyOwner implements billing.CompanyDirectory
func (s *Storage) FindCompanyOwner(ctx context.Context, companyID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if id, ok := s.companies[companyID]; ok {
		return id, nil
	}
	return "", billing.ErrCompanyNotFound
}
