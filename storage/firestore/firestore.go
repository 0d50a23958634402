// Package firestore provides a Firestore implementation of the billing storage
// interfaces. Subscription writes run inside a Firestore transaction on the
// subscription's document.
package firestore

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/shopspring/decimal"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/mihaimyh/paysync/pkg/billing"
)

// Storage implements the billing store interfaces using Google Cloud Firestore
type Storage struct {
	client                  *firestore.Client
	subscriptionsCollection string
	plansCollection         string
	paymentsCollection      string
	featuresCollection      string
	eventsCollection        string
	accountsCollection      string
	companiesCollection     string
	customerField           string
	companyOwnerField       string
}

// Config holds Firestore storage configuration
type Config struct {
	// SubscriptionsCollection holds one document per external subscription id
	// Default: "billing_subscriptions"
	SubscriptionsCollection string

	// PlansCollection holds one document per external price id
	// Default: "billing_plans"
	PlansCollection string

	// PaymentsCollection holds listing payments keyed by payment intent id
	// Default: "billing_listing_payments"
	PaymentsCollection string

	// FeaturesCollection holds paid listing features
	// Default: "billing_listing_features"
	FeaturesCollection string

	// EventsCollection holds processed webhook event ids
	// Default: "billing_processed_events"
	EventsCollection string

	// AccountsCollection is searched by CustomerField to map customers to accounts
	// Default: "accounts", field "stripeCustomerId"
	AccountsCollection string
	CustomerField      string

	// CompaniesCollection documents carry the administering account in CompanyOwnerField
	// Default: "companies", field "ownerAccountId"
	CompaniesCollection string
	CompanyOwnerField   string
}

// New creates a new Firestore storage adapter
func New(client *firestore.Client, config Config) (*Storage, error) {
	if client == nil {
		return nil, fmt.Errorf("firestore client is required")
	}

	return &Storage{
		client:                  client,
		subscriptionsCollection: orDefault(config.SubscriptionsCollection, "billing_subscriptions"),
		plansCollection:         orDefault(config.PlansCollection, "billing_plans"),
		paymentsCollection:      orDefault(config.PaymentsCollection, "billing_listing_payments"),
		featuresCollection:      orDefault(config.FeaturesCollection, "billing_listing_features"),
		eventsCollection:        orDefault(config.EventsCollection, "billing_processed_events"),
		accountsCollection:      orDefault(config.AccountsCollection, "accounts"),
		companiesCollection:     orDefault(config.CompaniesCollection, "companies"),
		customerField:           orDefault(config.CustomerField, "stripeCustomerId"),
		companyOwnerField:       orDefault(config.CompanyOwnerField, "ownerAccountId"),
	}, nil
}

// UpsertByExternalID implements billing.SubscriptionStore
func (s *Storage) UpsertByExternalID(ctx context.Context, rec *billing.SubscriptionRecord) (billing.UpsertOutcome, error) {
	return s.write(ctx, rec, true)
}

// ReplaceFromSource implements billing.SubscriptionStore
func (s *Storage) ReplaceFromSource(ctx context.Context, rec *billing.SubscriptionRecord) (billing.UpsertOutcome, error) {
	return s.write(ctx, rec, false)
}

func (s *Storage) write(ctx context.Context, rec *billing.SubscriptionRecord, guarded bool) (billing.UpsertOutcome, error) {
	if rec == nil || rec.ExternalSubscriptionID == "" {
		return "", billing.ErrInvalidRecord
	}
	doc := s.client.Collection(s.subscriptionsCollection).Doc(rec.ExternalSubscriptionID)

	var outcome billing.UpsertOutcome
	err := s.client.RunTransaction(ctx, func(_ context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(doc)
		if err != nil && status.Code(err) != codes.NotFound {
			return err
		}

		var existing *billing.SubscriptionRecord
		if snap != nil && snap.Exists() {
			existing = subscriptionFromData(snap.Ref.ID, snap.Data())
		}

		var next *billing.SubscriptionRecord
		next, outcome = billing.PlanWrite(existing, rec, guarded, time.Now().UTC())
		if next == nil {
			return nil
		}
		return tx.Set(doc, subscriptionToData(next))
	})
	if err != nil {
		return "", fmt.Errorf("failed to write subscription: %w", err)
	}
	return outcome, nil
}

// GetByExternalID implements billing.SubscriptionStore
func (s *Storage) GetByExternalID(ctx context.Context, externalID string) (*billing.SubscriptionRecord, error) {
	snap, err := s.client.Collection(s.subscriptionsCollection).Doc(externalID).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, billing.ErrSubscriptionNotFound
		}
		return nil, fmt.Errorf("failed to get subscription: %w", err)
	}
	if !snap.Exists() {
		return nil, billing.ErrSubscriptionNotFound
	}
	return subscriptionFromData(snap.Ref.ID, snap.Data()), nil
}

// GetActiveForOwner implements billing.SubscriptionStore
func (s *Storage) GetActiveForOwner(ctx context.Context, kind billing.OwnerKind, ownerID string) ([]*billing.SubscriptionRecord, error) {
	field := "ownerAccountId"
	if kind == billing.OwnerCompany {
		field = "companyId"
	}
	q := s.client.Collection(s.subscriptionsCollection).
		Where(field, "==", ownerID).
		Where("status", "in", activeStatuses())
	recs, err := s.collect(ctx, q)
	if err != nil {
		return nil, err
	}
	if kind == billing.OwnerCompany {
		return recs, nil
	}
	out := recs[:0]
	for _, r := range recs {
		if r.OwnerKind != billing.OwnerCompany {
			out = append(out, r)
		}
	}
	return out, nil
}

// ListActiveWithExternalID implements billing.SubscriptionStore
func (s *Storage) ListActiveWithExternalID(ctx context.Context) ([]*billing.SubscriptionRecord, error) {
	return s.collect(ctx, s.client.Collection(s.subscriptionsCollection).Where("status", "in", activeStatuses()))
}

// ListAllWithExternalID implements billing.SubscriptionStore
func (s *Storage) ListAllWithExternalID(ctx context.Context) ([]*billing.SubscriptionRecord, error) {
	return s.collect(ctx, s.client.Collection(s.subscriptionsCollection).Query)
}

// FindOwnerByExternalCustomerID implements billing.SubscriptionStore
func (s *Storage) FindOwnerByExternalCustomerID(ctx context.Context, customerID string) (*billing.Owner, error) {
	recs, err := s.collect(ctx, s.client.Collection(s.subscriptionsCollection).Where("externalCustomerId", "==", customerID))
	if err != nil {
		return nil, err
	}
	for _, r := range recs {
		if owner := r.Owner(); owner != nil {
			return owner, nil
		}
	}
	return nil, billing.ErrOwnerNotFound
}

func (s *Storage) collect(ctx context.Context, q firestore.Query) ([]*billing.SubscriptionRecord, error) {
	iter := q.Documents(ctx)
	defer iter.Stop()

	var out []*billing.SubscriptionRecord
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to query subscriptions: %w", err)
		}
		out = append(out, subscriptionFromData(snap.Ref.ID, snap.Data()))
	}
	return out, nil
}

// ListPlans implements billing.PlanStore
func (s *Storage) ListPlans(ctx context.Context) ([]billing.Plan, error) {
	iter := s.client.Collection(s.plansCollection).Documents(ctx)
	defer iter.Stop()

	var plans []billing.Plan
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to list plans: %w", err)
		}
		data := snap.Data()
		price, _ := decimal.NewFromString(getString(data, "price"))
		plans = append(plans, billing.Plan{
			ExternalPriceID: snap.Ref.ID,
			Name:            getString(data, "name"),
			DisplayName:     getString(data, "displayName"),
			Interval:        getString(data, "interval"),
			Price:           price,
			Currency:        getString(data, "currency"),
			IsActive:        getBool(data, "isActive"),
		})
	}
	return plans, nil
}

// InsertPlan implements billing.PlanStore
func (s *Storage) InsertPlan(ctx context.Context, plan billing.Plan) (bool, error) {
	_, err := s.client.Collection(s.plansCollection).Doc(plan.ExternalPriceID).Create(ctx, map[string]interface{}{
		"name":        plan.Name,
		"displayName": plan.DisplayName,
		"interval":    plan.Interval,
		"price":       plan.Price.String(),
		"currency":    plan.Currency,
		"isActive":    plan.IsActive,
		"createdAt":   time.Now().UTC(),
	})
	if status.Code(err) == codes.AlreadyExists {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to insert plan: %w", err)
	}
	return true, nil
}

// RecordPayment implements billing.ListingStore
func (s *Storage) RecordPayment(ctx context.Context, p *billing.ListingPayment) (bool, error) {
	doc := s.client.Collection(s.paymentsCollection).Doc(p.PaymentIntentID)
	written := false
	err := s.client.RunTransaction(ctx, func(_ context.Context, tx *firestore.Transaction) error {
		written = false
		snap, err := tx.Get(doc)
		if err != nil && status.Code(err) != codes.NotFound {
			return err
		}
		if snap != nil && snap.Exists() && getString(snap.Data(), "status") == string(billing.PaymentSucceeded) {
			return nil
		}

		items := make([]map[string]interface{}, 0, len(p.Items))
		for _, it := range p.Items {
			items = append(items, map[string]interface{}{"type": it.Type, "id": it.ID, "feature": it.Feature})
		}
		written = true
		return tx.Set(doc, map[string]interface{}{
			"chargeId":       p.ChargeID,
			"amount":         p.Amount,
			"currency":       p.Currency,
			"status":         string(p.Status),
			"items":          items,
			"failureCode":    p.FailureCode,
			"failureMessage": p.FailureMessage,
			"updatedAt":      time.Now().UTC(),
		})
	})
	if err != nil {
		return false, fmt.Errorf("failed to record payment: %w", err)
	}
	return written, nil
}

// GetPayment implements billing.ListingStore
func (s *Storage) GetPayment(ctx context.Context, paymentIntentID string) (*billing.ListingPayment, error) {
	snap, err := s.client.Collection(s.paymentsCollection).Doc(paymentIntentID).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, billing.ErrPaymentNotFound
		}
		return nil, fmt.Errorf("failed to get payment: %w", err)
	}
	data := snap.Data()
	p := &billing.ListingPayment{
		PaymentIntentID: paymentIntentID,
		ChargeID:        getString(data, "chargeId"),
		Amount:          int64(getInt(data, "amount")),
		Currency:        getString(data, "currency"),
		Status:          billing.PaymentStatus(getString(data, "status")),
		FailureCode:     getString(data, "failureCode"),
		FailureMessage:  getString(data, "failureMessage"),
		UpdatedAt:       getTime(data, "updatedAt"),
	}
	if raw, ok := data["items"].([]interface{}); ok {
		for _, v := range raw {
			m, ok := v.(map[string]interface{})
			if !ok {
				continue
			}
			p.Items = append(p.Items, billing.Item{Type: getString(m, "type"), ID: getString(m, "id"), Feature: getString(m, "feature")})
		}
	}
	return p, nil
}

// MarkFeaturePaid implements billing.ListingStore
func (s *Storage) MarkFeaturePaid(ctx context.Context, listingID, feature, paymentIntentID string) error {
	_, err := s.client.Collection(s.featuresCollection).Doc(listingID+"_"+feature).Create(ctx, map[string]interface{}{
		"listingId":       listingID,
		"feature":         feature,
		"paymentIntentId": paymentIntentID,
		"paidAt":          time.Now().UTC(),
	})
	if err != nil && status.Code(err) != codes.AlreadyExists {
		return fmt.Errorf("failed to mark feature paid: %w", err)
	}
	return nil
}

// Seen implements billing.EventLog
func (s *Storage) Seen(ctx context.Context, eventID string) (bool, error) {
	snap, err := s.client.Collection(s.eventsCollection).Doc(eventID).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return false, nil
		}
		return false, fmt.Errorf("failed to check processed event: %w", err)
	}
	return snap.Exists(), nil
}

// Mark implements billing.EventLog
func (s *Storage) Mark(ctx context.Context, eventID string, eventType billing.EventType) error {
	_, err := s.client.Collection(s.eventsCollection).Doc(eventID).Set(ctx, map[string]interface{}{
		"eventType":   string(eventType),
		"processedAt": time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("failed to mark processed event: %w", err)
	}
	return nil
}

// FindAccountByExternalCustomerID implements billing.AccountDirectory
func (s *Storage) FindAccountByExternalCustomerID(ctx context.Context, customerID string) (string, error) {
	iter := s.client.Collection(s.accountsCollection).Where(s.customerField, "==", customerID).Limit(1).Documents(ctx)
	defer iter.Stop()

	snap, err := iter.Next()
	if errors.Is(err, iterator.Done) {
		return "", billing.ErrAccountNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to look up account: %w", err)
	}
	return snap.Ref.ID, nil
}

// FindCompanyOwner implements billing.CompanyDirectory
func (s *Storage) FindCompanyOwner(ctx context.Context, companyID string) (string, error) {
	snap, err := s.client.Collection(s.companiesCollection).Doc(companyID).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return "", billing.ErrCompanyNotFound
		}
		return "", fmt.Errorf("failed to look up company: %w", err)
	}
	return getString(snap.Data(), s.companyOwnerField), nil
}

func subscriptionToData(r *billing.SubscriptionRecord) map[string]interface{} {
	meta := make(map[string]interface{}, len(r.Metadata))
	for k, v := range r.Metadata {
		meta[k] = v
	}
	return map[string]interface{}{
		"externalCustomerId": r.ExternalCustomerID,
		"ownerAccountId":     r.OwnerAccountID,
		"ownerKind":          string(r.OwnerKind),
		"companyId":          r.CompanyID,
		"planExternalId":     r.PlanExternalID,
		"status":             string(r.Status),
		"currentPeriodStart": timeOrNil(r.CurrentPeriodStart),
		"currentPeriodEnd":   timeOrNil(r.CurrentPeriodEnd),
		"cancelAtPeriodEnd":  r.CancelAtPeriodEnd,
		"canceledAt":         timeOrNil(r.CanceledAt),
		"metadata":           meta,
		"lastEventAt":        r.LastEventAt,
		"createdAt":          r.CreatedAt,
		"updatedAt":          r.UpdatedAt,
	}
}

func subscriptionFromData(id string, data map[string]interface{}) *billing.SubscriptionRecord {
	rec := &billing.SubscriptionRecord{
		LocalID:                id,
		ExternalSubscriptionID: id,
		ExternalCustomerID:     getString(data, "externalCustomerId"),
		OwnerAccountID:         getString(data, "ownerAccountId"),
		OwnerKind:              billing.OwnerKind(getString(data, "ownerKind")),
		CompanyID:              getString(data, "companyId"),
		PlanExternalID:         getString(data, "planExternalId"),
		Status:                 billing.Status(getString(data, "status")),
		CurrentPeriodStart:     getTimePtr(data, "currentPeriodStart"),
		CurrentPeriodEnd:       getTimePtr(data, "currentPeriodEnd"),
		CancelAtPeriodEnd:      getBool(data, "cancelAtPeriodEnd"),
		CanceledAt:             getTimePtr(data, "canceledAt"),
		LastEventAt:            getTime(data, "lastEventAt"),
		CreatedAt:              getTime(data, "createdAt"),
		UpdatedAt:              getTime(data, "updatedAt"),
	}
	if m, ok := data["metadata"].(map[string]interface{}); ok && len(m) > 0 {
		rec.Metadata = make(map[string]string, len(m))
		for k, v := range m {
			if sv, ok := v.(string); ok {
				rec.Metadata[k] = sv
			}
		}
	}
	return rec
}

func activeStatuses() []string {
	out := make([]string, len(billing.ActiveStatuses))
	for i, st := range billing.ActiveStatuses {
		out[i] = string(st)
	}
	return out
}

func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}

func timeOrNil(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC()
}

// Helper functions for type conversion
func getString(data map[string]interface{}, key string) string {
	if v, ok := data[key].(string); ok {
		return v
	}
	return ""
}

func getInt(data map[string]interface{}, key string) int {
	switch v := data[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(math.Round(v))
	default:
		return 0
	}
}

func getBool(data map[string]interface{}, key string) bool {
	v, _ := data[key].(bool)
	return v
}

func getTime(data map[string]interface{}, key string) time.Time {
	if v, ok := data[key].(time.Time); ok {
		return v.UTC()
	}
	return time.Time{}
}

func getTimePtr(data map[string]interface{}, key string) *time.Time {
	if v, ok := data[key].(time.Time); ok && !v.IsZero() {
		u := v.UTC()
		return &u
	}
	return nil
}
