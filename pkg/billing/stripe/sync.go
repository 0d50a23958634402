package stripe

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v83"

	"github.com/mihaimyh/paysync/pkg/billing"
)

const (
	endpointSubscriptions = "/v1/subscriptions"
	endpointPrices        = "/v1/prices"
)

// zeroDecimalCurrencies are charged in whole units rather than cents.
var zeroDecimalCurrencies = map[string]bool{
	"bif": true, "clp": true, "djf": true, "gnf": true, "jpy": true, "kmf": true,
	"krw": true, "mga": true, "pyg": true, "rwf": true, "ugx": true, "vnd": true,
	"vuv": true, "xaf": true, "xof": true, "xpf": true,
}

// FetchSubscription retrieves a subscription by id.
func (c *Client) FetchSubscription(ctx context.Context, externalID string) (*billing.SubscriptionPayload, error) {
	startTime := time.Now()
	sub, err := c.stripeClient.V1Subscriptions.Retrieve(ctx, externalID, nil)
	c.metrics.RecordAPICallDuration(endpointSubscriptions, time.Since(startTime))
	if err != nil {
		c.metrics.RecordAPICall(endpointSubscriptions, statusOf(err))
		c.logger.Warn("stripe subscription retrieve failed",
			billing.Field{Key: "subscriptionId", Value: externalID},
			billing.Field{Key: "error", Value: err})
		var stripeErr *stripe.Error
		if errors.As(err, &stripeErr) && stripeErr.HTTPStatusCode == http.StatusNotFound {
			return nil, fmt.Errorf("%w: %s", billing.ErrRemoteSubscriptionNotFound, externalID)
		}
		return nil, fmt.Errorf("%w: retrieve subscription %s: %v", billing.ErrProviderAPIError, externalID, err)
	}
	c.metrics.RecordAPICall(endpointSubscriptions, "200")

	if sub.LastResponse != nil && len(sub.LastResponse.RawJSON) > 0 {
		if payload, err := decodeSubscription(sub.LastResponse.RawJSON); err == nil {
			return payload, nil
		}
	}
	return subscriptionFromStripe(sub), nil
}

// ListPlans lists active prices with their products expanded.
func (c *Client) ListPlans(ctx context.Context) ([]billing.Plan, error) {
	startTime := time.Now()
	params := &stripe.PriceListParams{Active: stripe.Bool(true)}
	params.AddExpand("data.product")

	var plans []billing.Plan
	for price, err := range c.stripeClient.V1Prices.List(ctx, params) {
		if err != nil {
			c.metrics.RecordAPICall(endpointPrices, statusOf(err))
			c.metrics.RecordAPICallDuration(endpointPrices, time.Since(startTime))
			return nil, fmt.Errorf("%w: list prices: %v", billing.ErrProviderAPIError, err)
		}
		plans = append(plans, planFromPrice(price))
	}
	c.metrics.RecordAPICall(endpointPrices, "200")
	c.metrics.RecordAPICallDuration(endpointPrices, time.Since(startTime))
	return plans, nil
}

func subscriptionFromStripe(sub *stripe.Subscription) *billing.SubscriptionPayload {
	p := &billing.SubscriptionPayload{
		ID:                sub.ID,
		Status:            string(sub.Status),
		CancelAtPeriodEnd: sub.CancelAtPeriodEnd,
		CanceledAt:        billing.SafeToDate(sub.CanceledAt),
		Created:           billing.SafeToDate(sub.Created),
		Metadata:          billing.Metadata(sub.Metadata).Clone(),
	}
	if p.Metadata == nil {
		p.Metadata = billing.Metadata{}
	}
	if sub.Customer != nil {
		p.CustomerID = sub.Customer.ID
	}
	if sub.Items != nil && len(sub.Items.Data) > 0 {
		item := sub.Items.Data[0]
		if item.Price != nil {
			p.PlanID = item.Price.ID
		}
		p.CurrentPeriodStart = billing.SafeToDate(item.CurrentPeriodStart)
		p.CurrentPeriodEnd = billing.SafeToDate(item.CurrentPeriodEnd)
	}
	return p
}

func planFromPrice(price *stripe.Price) billing.Plan {
	currency := strings.ToLower(string(price.Currency))
	exp := int32(-2)
	if zeroDecimalCurrencies[currency] {
		exp = 0
	}

	plan := billing.Plan{
		ExternalPriceID: price.ID,
		Name:            price.LookupKey,
		DisplayName:     price.Nickname,
		Price:           decimal.New(price.UnitAmount, exp),
		Currency:        currency,
		IsActive:        price.Active,
	}
	if price.Recurring != nil {
		plan.Interval = string(price.Recurring.Interval)
	}
	if price.Product != nil {
		if plan.DisplayName == "" {
			plan.DisplayName = price.Product.Name
		}
		if plan.Name == "" {
			plan.Name = price.Product.ID
		}
	}
	if plan.Name == "" {
		plan.Name = price.ID
	}
	return plan
}

func statusOf(err error) string {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) && stripeErr.HTTPStatusCode != 0 {
		return strconv.Itoa(stripeErr.HTTPStatusCode)
	}
	return "error"
}
