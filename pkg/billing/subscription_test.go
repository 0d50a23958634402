package billing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr(t time.Time) *time.Time { return &t }

func TestNormalizeStatus(t *testing.T) {
	tests := map[string]Status{
		"active":             StatusActive,
		"TRIALING":           StatusTrialing,
		"past_due":           StatusPastDue,
		"canceled":           StatusCanceled,
		"incomplete_expired": StatusCanceled,
		"unpaid":             StatusUnpaid,
		"incomplete":         StatusIncomplete,
		"paused":             StatusIncomplete,
		"":                   StatusIncomplete,
	}
	for in, want := range tests {
		assert.Equal(t, want, NormalizeStatus(in), "input %q", in)
	}
}

func TestSubscriptionRecord_IsStaleAgainst(t *testing.T) {
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	existing := &SubscriptionRecord{
		LastEventAt:      base,
		CurrentPeriodEnd: ptr(base.Add(30 * 24 * time.Hour)),
	}

	older := &SubscriptionRecord{LastEventAt: base.Add(-time.Minute), CurrentPeriodEnd: ptr(base.Add(15 * 24 * time.Hour))}
	assert.True(t, older.IsStaleAgainst(existing))

	sameTimeEarlierPeriod := &SubscriptionRecord{LastEventAt: base, CurrentPeriodEnd: ptr(base.Add(15 * 24 * time.Hour))}
	assert.True(t, sameTimeEarlierPeriod.IsStaleAgainst(existing))

	sameTimeSamePeriod := &SubscriptionRecord{LastEventAt: base, CurrentPeriodEnd: ptr(base.Add(30 * 24 * time.Hour))}
	assert.False(t, sameTimeSamePeriod.IsStaleAgainst(existing))

	newer := &SubscriptionRecord{LastEventAt: base.Add(time.Minute)}
	assert.False(t, newer.IsStaleAgainst(existing))

	assert.False(t, older.IsStaleAgainst(nil))
}

func TestSubscriptionRecord_MergeIntoKeepsKnownValues(t *testing.T) {
	now := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)
	start := now.Add(-24 * time.Hour)
	end := now.Add(29 * 24 * time.Hour)
	existing := &SubscriptionRecord{
		LocalID:                "1",
		ExternalSubscriptionID: "sub_1",
		ExternalCustomerID:     "cus_1",
		OwnerAccountID:         "u1",
		OwnerKind:              OwnerIndividual,
		PlanExternalID:         "price_1",
		Status:                 StatusActive,
		CurrentPeriodStart:     &start,
		CurrentPeriodEnd:       &end,
		LastEventAt:            start,
		CreatedAt:              start,
	}
	incoming := &SubscriptionRecord{
		ExternalSubscriptionID: "sub_1",
		Status:                 StatusPastDue,
		LastEventAt:            now,
	}

	merged := incoming.MergeInto(existing, now)

	require.NotNil(t, merged)
	assert.Equal(t, "1", merged.LocalID)
	assert.Equal(t, StatusPastDue, merged.Status)
	assert.Equal(t, "u1", merged.OwnerAccountID)
	assert.Equal(t, "cus_1", merged.ExternalCustomerID)
	assert.Equal(t, "price_1", merged.PlanExternalID)
	require.NotNil(t, merged.CurrentPeriodEnd)
	assert.True(t, end.Equal(*merged.CurrentPeriodEnd))
	assert.Equal(t, start, merged.CreatedAt)
	assert.Equal(t, now, merged.UpdatedAt)
	assert.Equal(t, now, merged.LastEventAt)

	// existing must not be mutated
	assert.Equal(t, StatusActive, existing.Status)
}

func TestSubscriptionRecord_MergeIntoFillsMissingOwner(t *testing.T) {
	now := time.Now().UTC()
	existing := &SubscriptionRecord{ExternalSubscriptionID: "sub_1", Status: StatusActive}
	incoming := &SubscriptionRecord{ExternalSubscriptionID: "sub_1", Status: StatusActive}
	incoming.SetOwner(&Owner{Kind: OwnerCompany, AccountID: "u9", CompanyID: "c1"})

	merged := incoming.MergeInto(existing, now)

	assert.Equal(t, OwnerCompany, merged.OwnerKind)
	assert.Equal(t, "c1", merged.CompanyID)
	assert.Equal(t, "u9", merged.OwnerAccountID)
}

func TestRecordFromSubscription_DeletedIsCanceled(t *testing.T) {
	at := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	rec := RecordFromSubscription(&SubscriptionPayload{
		ID:         "sub_1",
		CustomerID: "cus_1",
		Status:     "active",
		PlanID:     "price_1",
	}, &Owner{Kind: OwnerIndividual, AccountID: "u1"}, at, true)

	assert.Equal(t, StatusCanceled, rec.Status)
	require.NotNil(t, rec.CanceledAt)
	assert.True(t, at.Equal(*rec.CanceledAt))
	assert.Equal(t, "u1", rec.OwnerAccountID)
	assert.Empty(t, rec.CompanyID)
}

func TestSubscriptionRecord_SameState(t *testing.T) {
	end := time.Now().UTC()
	a := &SubscriptionRecord{Status: StatusActive, PlanExternalID: "p", CurrentPeriodEnd: &end}
	b := a.Clone()
	assert.True(t, a.SameState(b))

	b.CancelAtPeriodEnd = true
	assert.False(t, a.SameState(b))
	assert.False(t, a.SameState(nil))
}

func TestPlanWrite(t *testing.T) {
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	now := base.Add(time.Hour)
	existing := &SubscriptionRecord{
		ExternalSubscriptionID: "sub_1",
		OwnerAccountID:         "u1",
		OwnerKind:              OwnerIndividual,
		Status:                 StatusActive,
		LastEventAt:            base,
	}

	rec, outcome := PlanWrite(nil, existing, true, now)
	assert.Equal(t, UpsertCreated, outcome)
	assert.Equal(t, now, rec.CreatedAt)

	stale := existing.Clone()
	stale.LastEventAt = base.Add(-time.Second)
	stale.Status = StatusCanceled
	rec, outcome = PlanWrite(existing, stale, true, now)
	assert.Nil(t, rec)
	assert.Equal(t, UpsertStale, outcome)

	rec, outcome = PlanWrite(existing, stale, false, now)
	require.NotNil(t, rec)
	assert.Equal(t, UpsertUpdated, outcome)
	assert.Equal(t, StatusCanceled, rec.Status)

	rec, outcome = PlanWrite(existing, existing.Clone(), true, now)
	assert.Nil(t, rec)
	assert.Equal(t, UpsertUnchanged, outcome)
}
