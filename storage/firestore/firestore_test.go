package firestore

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mihaimyh/paysync/pkg/billing"
)

const testProjectID = "test-project"

var (
	_ billing.SubscriptionStore = (*Storage)(nil)
	_ billing.PlanStore         = (*Storage)(nil)
	_ billing.ListingStore      = (*Storage)(nil)
	_ billing.EventLog          = (*Storage)(nil)
	_ billing.AccountDirectory  = (*Storage)(nil)
	_ billing.CompanyDirectory  = (*Storage)(nil)
)

func setupFirestoreClient(t *testing.T) *firestore.Client {
	t.Helper()
	if os.Getenv("FIRESTORE_EMULATOR_HOST") == "" {
		t.Skip("Skipping test: FIRESTORE_EMULATOR_HOST is not set")
	}

	client, err := firestore.NewClient(context.Background(), testProjectID)
	if err != nil {
		t.Fatalf("Failed to create Firestore client: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return client
}

// testConfig returns unique collection names for each test run
func testConfig(testName string) Config {
	suffix := fmt.Sprintf("%s_%d", testName, time.Now().UnixNano())
	return Config{
		SubscriptionsCollection: "test_subs_" + suffix,
		PlansCollection:         "test_plans_" + suffix,
		PaymentsCollection:      "test_payments_" + suffix,
		FeaturesCollection:      "test_features_" + suffix,
		EventsCollection:        "test_events_" + suffix,
		AccountsCollection:      "test_accounts_" + suffix,
		CompaniesCollection:     "test_companies_" + suffix,
	}
}

func cleanupFirestore(t *testing.T, client *firestore.Client, config Config) {
	t.Helper()
	ctx := context.Background()

	for _, coll := range []string{
		config.SubscriptionsCollection, config.PlansCollection, config.PaymentsCollection,
		config.FeaturesCollection, config.EventsCollection, config.AccountsCollection, config.CompaniesCollection,
	} {
		iter := client.Collection(coll).Documents(ctx)
		bw := client.BulkWriter(ctx)
		for {
			doc, err := iter.Next()
			if err != nil {
				break
			}
			_, _ = bw.Delete(doc.Ref)
		}
		bw.End()
	}
}

func newTestStorage(t *testing.T) (*Storage, *firestore.Client, Config) {
	client := setupFirestoreClient(t)
	config := testConfig(t.Name())
	storage, err := New(client, config)
	require.NoError(t, err)
	t.Cleanup(func() { cleanupFirestore(t, client, config) })
	return storage, client, config
}

func TestNew_RequiresClient(t *testing.T) {
	_, err := New(nil, Config{})
	assert.Error(t, err)
}

func TestSubscriptionDataRoundTrip(t *testing.T) {
	end := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)
	rec := &billing.SubscriptionRecord{
		ExternalSubscriptionID: "sub_1",
		ExternalCustomerID:     "cus_1",
		OwnerAccountID:         "u1",
		OwnerKind:              billing.OwnerCompany,
		CompanyID:              "c1",
		Status:                 billing.StatusPastDue,
		CurrentPeriodEnd:       &end,
		Metadata:               map[string]string{"k": "v"},
		LastEventAt:            end,
	}

	got := subscriptionFromData("sub_1", subscriptionToData(rec))

	assert.Equal(t, "sub_1", got.LocalID)
	assert.True(t, rec.SameState(got))
	assert.Equal(t, rec.Owner(), got.Owner())
	assert.Nil(t, got.CurrentPeriodStart)
	assert.Equal(t, "v", got.Metadata["k"])
}

func TestFirestore_UpsertGuardsOrdering(t *testing.T) {
	storage, _, _ := newTestStorage(t)
	ctx := context.Background()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	rec := &billing.SubscriptionRecord{
		ExternalSubscriptionID: "sub_1",
		ExternalCustomerID:     "cus_1",
		OwnerAccountID:         "u1",
		Status:                 billing.StatusActive,
		LastEventAt:            base.Add(time.Hour),
	}
	outcome, err := storage.UpsertByExternalID(ctx, rec)
	require.NoError(t, err)
	assert.Equal(t, billing.UpsertCreated, outcome)

	older := rec.Clone()
	older.Status = billing.StatusCanceled
	older.LastEventAt = base
	outcome, err = storage.UpsertByExternalID(ctx, older)
	require.NoError(t, err)
	assert.Equal(t, billing.UpsertStale, outcome)

	got, err := storage.GetByExternalID(ctx, "sub_1")
	require.NoError(t, err)
	assert.Equal(t, billing.StatusActive, got.Status)

	active, err := storage.ListActiveWithExternalID(ctx)
	require.NoError(t, err)
	assert.Len(t, active, 1)

	owner, err := storage.FindOwnerByExternalCustomerID(ctx, "cus_1")
	require.NoError(t, err)
	assert.Equal(t, "u1", owner.AccountID)

	_, err = storage.GetByExternalID(ctx, "sub_missing")
	assert.ErrorIs(t, err, billing.ErrSubscriptionNotFound)
}

func TestFirestore_PlansPaymentsEventsDirectories(t *testing.T) {
	storage, client, config := newTestStorage(t)
	ctx := context.Background()

	inserted, err := storage.InsertPlan(ctx, billing.Plan{ExternalPriceID: "price_1", Name: "pro", Price: decimal.RequireFromString("9.50")})
	require.NoError(t, err)
	assert.True(t, inserted)
	inserted, err = storage.InsertPlan(ctx, billing.Plan{ExternalPriceID: "price_1", Name: "other"})
	require.NoError(t, err)
	assert.False(t, inserted)

	written, err := storage.RecordPayment(ctx, &billing.ListingPayment{PaymentIntentID: "pi_1", Status: billing.PaymentSucceeded})
	require.NoError(t, err)
	assert.True(t, written)
	written, err = storage.RecordPayment(ctx, &billing.ListingPayment{PaymentIntentID: "pi_1", Status: billing.PaymentFailed})
	require.NoError(t, err)
	assert.False(t, written)
	require.NoError(t, storage.MarkFeaturePaid(ctx, "l1", "featured", "pi_1"))
	require.NoError(t, storage.MarkFeaturePaid(ctx, "l1", "featured", "pi_1"))

	require.NoError(t, storage.Mark(ctx, "evt_1", billing.EventChargeSucceeded))
	seen, err := storage.Seen(ctx, "evt_1")
	require.NoError(t, err)
	assert.True(t, seen)

	_, err = client.Collection(config.AccountsCollection).Doc("u1").Set(ctx, map[string]interface{}{"stripeCustomerId": "cus_1"})
	require.NoError(t, err)
	_, err = client.Collection(config.CompaniesCollection).Doc("c1").Set(ctx, map[string]interface{}{"ownerAccountId": "admin"})
	require.NoError(t, err)

	account, err := storage.FindAccountByExternalCustomerID(ctx, "cus_1")
	require.NoError(t, err)
	assert.Equal(t, "u1", account)
	_, err = storage.FindAccountByExternalCustomerID(ctx, "cus_2")
	assert.ErrorIs(t, err, billing.ErrAccountNotFound)

	admin, err := storage.FindCompanyOwner(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "admin", admin)
}
