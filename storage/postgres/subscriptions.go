package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/mihaimyh/paysync/pkg/billing"
)

const selectSubscription = `
	SELECT id, external_subscription_id, COALESCE(external_customer_id, ''),
		COALESCE(owner_account_id, ''), owner_kind, COALESCE(company_id, ''),
		COALESCE(plan_external_id, ''), status, current_period_start, current_period_end,
		cancel_at_period_end, canceled_at, metadata, last_event_at, created_at, updated_at
	FROM subscriptions`

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

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		//nolint:errcheck // Rollback error is safe to ignore if transaction was committed
		_ = tx.Rollback(ctx)
	}()

	// Serialises writers for ids that have no row yet; FOR UPDATE covers the rest.
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, rec.ExternalSubscriptionID); err != nil {
		return "", fmt.Errorf("failed to lock subscription: %w", err)
	}

	existing, err := scanSubscription(tx.QueryRow(ctx,
		selectSubscription+` WHERE external_subscription_id = $1 FOR UPDATE`, rec.ExternalSubscriptionID))
	if errors.Is(err, pgx.ErrNoRows) {
		existing = nil
	} else if err != nil {
		return "", fmt.Errorf("failed to load subscription: %w", err)
	}

	next, outcome := billing.PlanWrite(existing, rec, guarded, time.Now().UTC())
	if next == nil {
		return outcome, nil
	}

	metadata, err := marshalMetadata(next.Metadata)
	if err != nil {
		return "", err
	}

	if existing == nil {
		_, err = tx.Exec(ctx, `
			INSERT INTO subscriptions (
				external_subscription_id, external_customer_id, owner_account_id, owner_kind, company_id,
				plan_external_id, status, current_period_start, current_period_end, cancel_at_period_end,
				canceled_at, metadata, last_event_at, created_at, updated_at)
			VALUES ($1, NULLIF($2, ''), NULLIF($3, ''), $4, NULLIF($5, ''), NULLIF($6, ''), $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
			next.ExternalSubscriptionID, next.ExternalCustomerID, next.OwnerAccountID, string(next.OwnerKind),
			next.CompanyID, next.PlanExternalID, string(next.Status), next.CurrentPeriodStart, next.CurrentPeriodEnd,
			next.CancelAtPeriodEnd, next.CanceledAt, metadata, next.LastEventAt, next.CreatedAt, next.UpdatedAt)
	} else {
		_, err = tx.Exec(ctx, `
			UPDATE subscriptions SET
				external_customer_id = NULLIF($2, ''), owner_account_id = NULLIF($3, ''), owner_kind = $4,
				company_id = NULLIF($5, ''), plan_external_id = NULLIF($6, ''), status = $7,
				current_period_start = $8, current_period_end = $9, cancel_at_period_end = $10,
				canceled_at = $11, metadata = $12, last_event_at = $13, updated_at = $14
			WHERE external_subscription_id = $1`,
			next.ExternalSubscriptionID, next.ExternalCustomerID, next.OwnerAccountID, string(next.OwnerKind),
			next.CompanyID, next.PlanExternalID, string(next.Status), next.CurrentPeriodStart, next.CurrentPeriodEnd,
			next.CancelAtPeriodEnd, next.CanceledAt, metadata, next.LastEventAt, next.UpdatedAt)
	}
	if err != nil {
		return "", fmt.Errorf("failed to write subscription: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return "", fmt.Errorf("failed to commit transaction: %w", err)
	}
	return outcome, nil
}

// GetByExternalID implements billing.SubscriptionStore
func (s *Storage) GetByExternalID(ctx context.Context, externalID string) (*billing.SubscriptionRecord, error) {
	rec, err := scanSubscription(s.pool.QueryRow(ctx,
		selectSubscription+` WHERE external_subscription_id = $1`, externalID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, billing.ErrSubscriptionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get subscription: %w", err)
	}
	return rec, nil
}

// GetActiveForOwner implements billing.SubscriptionStore
func (s *Storage) GetActiveForOwner(ctx context.Context, kind billing.OwnerKind, ownerID string) ([]*billing.SubscriptionRecord, error) {
	where := ` WHERE owner_account_id = $1 AND owner_kind <> 'company' AND status = ANY($2)`
	if kind == billing.OwnerCompany {
		where = ` WHERE company_id = $1 AND status = ANY($2)`
	}
	return s.query(ctx, selectSubscription+where+` ORDER BY external_subscription_id`, ownerID, activeStatuses())
}

// ListActiveWithExternalID implements billing.SubscriptionStore
func (s *Storage) ListActiveWithExternalID(ctx context.Context) ([]*billing.SubscriptionRecord, error) {
	return s.query(ctx, selectSubscription+
		` WHERE external_subscription_id <> '' AND status = ANY($1) ORDER BY external_subscription_id`, activeStatuses())
}

// ListAllWithExternalID implements billing.SubscriptionStore
func (s *Storage) ListAllWithExternalID(ctx context.Context) ([]*billing.SubscriptionRecord, error) {
	return s.query(ctx, selectSubscription+
		` WHERE external_subscription_id <> '' ORDER BY external_subscription_id`)
}

// FindOwnerByExternalCustomerID implements billing.SubscriptionStore
func (s *Storage) FindOwnerByExternalCustomerID(ctx context.Context, customerID string) (*billing.Owner, error) {
	rec, err := scanSubscription(s.pool.QueryRow(ctx, selectSubscription+`
		WHERE external_customer_id = $1 AND (owner_account_id IS NOT NULL OR company_id IS NOT NULL)
		ORDER BY updated_at DESC LIMIT 1`, customerID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, billing.ErrOwnerNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find owner: %w", err)
	}
	return rec.Owner(), nil
}

func (s *Storage) query(ctx context.Context, sql string, args ...any) ([]*billing.SubscriptionRecord, error) {
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query subscriptions: %w", err)
	}
	defer rows.Close()

	var out []*billing.SubscriptionRecord
	for rows.Next() {
		rec, err := scanSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan subscription: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func scanSubscription(row pgx.Row) (*billing.SubscriptionRecord, error) {
	var (
		rec       billing.SubscriptionRecord
		id        int64
		ownerKind string
		status    string
		metadata  []byte
	)
	err := row.Scan(&id, &rec.ExternalSubscriptionID, &rec.ExternalCustomerID,
		&rec.OwnerAccountID, &ownerKind, &rec.CompanyID,
		&rec.PlanExternalID, &status, &rec.CurrentPeriodStart, &rec.CurrentPeriodEnd,
		&rec.CancelAtPeriodEnd, &rec.CanceledAt, &metadata, &rec.LastEventAt, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return nil, err
	}
	rec.LocalID = strconv.FormatInt(id, 10)
	rec.OwnerKind = billing.OwnerKind(ownerKind)
	rec.Status = billing.Status(status)
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &rec.Metadata); err != nil {
			// Metadata parsing error is not critical
			rec.Metadata = nil
		}
	}
	rec.CurrentPeriodStart = utc(rec.CurrentPeriodStart)
	rec.CurrentPeriodEnd = utc(rec.CurrentPeriodEnd)
	rec.CanceledAt = utc(rec.CanceledAt)
	rec.LastEventAt = rec.LastEventAt.UTC()
	rec.CreatedAt = rec.CreatedAt.UTC()
	rec.UpdatedAt = rec.UpdatedAt.UTC()
	return &rec, nil
}

func marshalMetadata(m map[string]string) ([]byte, error) {
	if len(m) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal metadata: %w", err)
	}
	return b, nil
}

func activeStatuses() []string {
	out := make([]string, len(billing.ActiveStatuses))
	for i, st := range billing.ActiveStatuses {
		out[i] = string(st)
	}
	return out
}

func utc(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
