package subscription

import (
	"context"
	"errors"
	"fmt"

	"github.com/mihaimyh/paysync/pkg/billing"
)

// OwnerResolver is one strategy for finding the local owner of an event.
// Resolve returns (nil, nil) when the strategy has no answer; an error means
// the lookup itself failed and the event should be retried.
type OwnerResolver interface {
	Name() string
	Resolve(ctx context.Context, event *billing.Event, subscriptionID string) (*billing.Owner, error)
}

// MetadataResolver reads the owner embedded in the payload metadata.
type MetadataResolver struct{}

func (MetadataResolver) Name() string { return "metadata" }

func (MetadataResolver) Resolve(_ context.Context, event *billing.Event, _ string) (*billing.Owner, error) {
	meta := event.Metadata()
	userID := meta.OwnerAccountID()
	if userID == "" {
		return nil, nil
	}
	if meta.IsCompany() {
		return &billing.Owner{Kind: billing.OwnerCompany, AccountID: userID, CompanyID: meta.CompanyID()}, nil
	}
	return &billing.Owner{Kind: billing.OwnerIndividual, AccountID: userID}, nil
}

// CustomerResolver maps the payload's customer id through the account directory.
type CustomerResolver struct {
	Accounts billing.AccountDirectory
}

func (CustomerResolver) Name() string { return "customer" }

func (r CustomerResolver) Resolve(ctx context.Context, event *billing.Event, _ string) (*billing.Owner, error) {
	customerID := event.CustomerRef()
	if r.Accounts == nil || customerID == "" {
		return nil, nil
	}
	accountID, err := r.Accounts.FindAccountByExternalCustomerID(ctx, customerID)
	if errors.Is(err, billing.ErrAccountNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("account lookup for customer %s: %w", customerID, err)
	}
	meta := event.Metadata()
	if meta.IsCompany() {
		return &billing.Owner{Kind: billing.OwnerCompany, AccountID: accountID, CompanyID: meta.CompanyID()}, nil
	}
	return &billing.Owner{Kind: billing.OwnerIndividual, AccountID: accountID}, nil
}

// KnownCustomerResolver reuses the owner of another subscription held by the
// same customer.
type KnownCustomerResolver struct {
	Store billing.SubscriptionStore
}

func (KnownCustomerResolver) Name() string { return "known_customer" }

func (r KnownCustomerResolver) Resolve(ctx context.Context, event *billing.Event, _ string) (*billing.Owner, error) {
	customerID := event.CustomerRef()
	if r.Store == nil || customerID == "" {
		return nil, nil
	}
	owner, err := r.Store.FindOwnerByExternalCustomerID(ctx, customerID)
	if errors.Is(err, billing.ErrOwnerNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("owner lookup for customer %s: %w", customerID, err)
	}
	return owner, nil
}

// CompanyResolver detects company subscriptions from accountType and companyId.
// With a directory configured the company must exist.
type CompanyResolver struct {
	Companies billing.CompanyDirectory
}

func (CompanyResolver) Name() string { return "company" }

func (r CompanyResolver) Resolve(ctx context.Context, event *billing.Event, _ string) (*billing.Owner, error) {
	meta := event.Metadata()
	if !meta.IsCompany() {
		return nil, nil
	}
	companyID := meta.CompanyID()
	if r.Companies == nil {
		return &billing.Owner{Kind: billing.OwnerCompany, CompanyID: companyID}, nil
	}
	accountID, err := r.Companies.FindCompanyOwner(ctx, companyID)
	if errors.Is(err, billing.ErrCompanyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("company lookup %s: %w", companyID, err)
	}
	return &billing.Owner{Kind: billing.OwnerCompany, AccountID: accountID, CompanyID: companyID}, nil
}

// ExistingRecordResolver falls back to the owner already stored for the
// subscription.
type ExistingRecordResolver struct {
	Store billing.SubscriptionStore
}

func (ExistingRecordResolver) Name() string { return "existing_record" }

func (r ExistingRecordResolver) Resolve(ctx context.Context, _ *billing.Event, subscriptionID string) (*billing.Owner, error) {
	if r.Store == nil || subscriptionID == "" {
		return nil, nil
	}
	rec, err := r.Store.GetByExternalID(ctx, subscriptionID)
	if errors.Is(err, billing.ErrSubscriptionNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load subscription %s: %w", subscriptionID, err)
	}
	return rec.Owner(), nil
}

// DefaultResolvers returns the standard resolution order. Nil collaborators
// make their strategy a no-op.
func DefaultResolvers(store billing.SubscriptionStore, accounts billing.AccountDirectory, companies billing.CompanyDirectory) []OwnerResolver {
	return []OwnerResolver{
		MetadataResolver{},
		CustomerResolver{Accounts: accounts},
		KnownCustomerResolver{Store: store},
		CompanyResolver{Companies: companies},
		ExistingRecordResolver{Store: store},
	}
}
