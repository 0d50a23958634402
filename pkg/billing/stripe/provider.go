package stripe

import (
	"strings"

	"github.com/stripe/stripe-go/v83"

	"github.com/mihaimyh/paysync/pkg/billing"
)

const providerName = "stripe"

// Client implements billing.ProviderClient against the Stripe API.
type Client struct {
	stripeClient *stripe.Client
	metrics      billing.Metrics
	logger       billing.Logger
}

// NewClient creates a provider client from the shared billing configuration.
func NewClient(config billing.Config) (*Client, error) {
	apiKey := strings.TrimSpace(config.APIKey)
	if apiKey == "" {
		return nil, billing.ErrProviderNotConfigured
	}

	return &Client{
		stripeClient: stripe.NewClient(apiKey),
		metrics:      config.MetricsOrNoop(),
		logger:       config.LoggerOrNoop(),
	}, nil
}

// Name returns the provider name.
func (c *Client) Name() string {
	return providerName
}
