package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/mihaimyh/paysync/pkg/billing"
)

// ListPlans implements billing.PlanStore
func (s *Storage) ListPlans(ctx context.Context) ([]billing.Plan, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT external_price_id, name, display_name, interval, price::text, currency, is_active
		FROM plans ORDER BY external_price_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list plans: %w", err)
	}
	defer rows.Close()

	var plans []billing.Plan
	for rows.Next() {
		var (
			p     billing.Plan
			price string
		)
		if err := rows.Scan(&p.ExternalPriceID, &p.Name, &p.DisplayName, &p.Interval, &price, &p.Currency, &p.IsActive); err != nil {
			return nil, fmt.Errorf("failed to scan plan: %w", err)
		}
		if p.Price, err = decimal.NewFromString(price); err != nil {
			return nil, fmt.Errorf("invalid price for plan %s: %w", p.ExternalPriceID, err)
		}
		plans = append(plans, p)
	}
	return plans, rows.Err()
}

// InsertPlan implements billing.PlanStore
func (s *Storage) InsertPlan(ctx context.Context, plan billing.Plan) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO plans (external_price_id, name, display_name, interval, price, currency, is_active)
		VALUES ($1, $2, $3, $4, $5::numeric, $6, $7)
		ON CONFLICT (external_price_id) DO NOTHING`,
		plan.ExternalPriceID, plan.Name, plan.DisplayName, plan.Interval, plan.Price.String(), plan.Currency, plan.IsActive)
	if err != nil {
		return false, fmt.Errorf("failed to insert plan: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// RecordPayment implements billing.ListingStore
func (s *Storage) RecordPayment(ctx context.Context, p *billing.ListingPayment) (bool, error) {
	items, err := json.Marshal(p.Items)
	if err != nil {
		return false, fmt.Errorf("failed to marshal items: %w", err)
	}
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO listing_payments (payment_intent_id, charge_id, amount, currency, status, items, failure_code, failure_message, updated_at)
		VALUES ($1, NULLIF($2, ''), $3, $4, $5, $6, NULLIF($7, ''), NULLIF($8, ''), NOW())
		ON CONFLICT (payment_intent_id) DO UPDATE SET
			charge_id = COALESCE(EXCLUDED.charge_id, listing_payments.charge_id),
			amount = EXCLUDED.amount,
			currency = EXCLUDED.currency,
			status = EXCLUDED.status,
			items = EXCLUDED.items,
			failure_code = EXCLUDED.failure_code,
			failure_message = EXCLUDED.failure_message,
			updated_at = NOW()
		WHERE listing_payments.status <> 'succeeded'`,
		p.PaymentIntentID, p.ChargeID, p.Amount, p.Currency, string(p.Status), items, p.FailureCode, p.FailureMessage)
	if err != nil {
		return false, fmt.Errorf("failed to record payment: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// GetPayment implements billing.ListingStore
func (s *Storage) GetPayment(ctx context.Context, paymentIntentID string) (*billing.ListingPayment, error) {
	var (
		p      billing.ListingPayment
		status string
		items  []byte
	)
	err := s.pool.QueryRow(ctx, `
		SELECT payment_intent_id, COALESCE(charge_id, ''), amount, currency, status, items,
			COALESCE(failure_code, ''), COALESCE(failure_message, ''), updated_at
		FROM listing_payments WHERE payment_intent_id = $1`, paymentIntentID).Scan(
		&p.PaymentIntentID, &p.ChargeID, &p.Amount, &p.Currency, &status, &items,
		&p.FailureCode, &p.FailureMessage, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, billing.ErrPaymentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get payment: %w", err)
	}
	p.Status = billing.PaymentStatus(status)
	if len(items) > 0 {
		_ = json.Unmarshal(items, &p.Items)
	}
	return &p, nil
}

// MarkFeaturePaid implements billing.ListingStore
func (s *Storage) MarkFeaturePaid(ctx context.Context, listingID, feature, paymentIntentID string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO listing_feature_payments (listing_id, feature, payment_intent_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (listing_id, feature) DO NOTHING`, listingID, feature, paymentIntentID)
	if err != nil {
		return fmt.Errorf("failed to mark feature paid: %w", err)
	}
	return nil
}

// Seen implements billing.EventLog
func (s *Storage) Seen(ctx context.Context, eventID string) (bool, error) {
	var seen bool
	err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM processed_events WHERE event_id = $1)`, eventID).Scan(&seen)
	if err != nil {
		return false, fmt.Errorf("failed to check processed event: %w", err)
	}
	return seen, nil
}

// Mark implements billing.EventLog
func (s *Storage) Mark(ctx context.Context, eventID string, eventType billing.EventType) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO processed_events (event_id, event_type) VALUES ($1, $2)
		ON CONFLICT (event_id) DO NOTHING`, eventID, string(eventType))
	if err != nil {
		return fmt.Errorf("failed to mark processed event: %w", err)
	}
	return nil
}

// FindAccountByExternalCustomerID implements billing.AccountDirectory
func (s *Storage) FindAccountByExternalCustomerID(ctx context.Context, customerID string) (string, error) {
	var id string
	err := s.pool.QueryRow(ctx, s.config.AccountQuery, customerID).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", billing.ErrAccountNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to look up account: %w", err)
	}
	return id, nil
}

// FindCompanyOwner implements billing.CompanyDirectory
func (s *Storage) FindCompanyOwner(ctx context.Context, companyID string) (string, error) {
	var id string
	err := s.pool.QueryRow(ctx, s.config.CompanyQuery, companyID).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", billing.ErrCompanyNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to look up company: %w", err)
	}
	return id, nil
}
