package billing

import (
	"net/http"
	"time"
)

// DefaultSignatureTolerance is the maximum accepted age of a signed webhook.
const DefaultSignatureTolerance = 5 * time.Minute

// Config defines the provider credentials shared by the ingress gate and the
// provider client.
type Config struct {
	// APIKey is used for outbound API calls to the billing provider.
	APIKey string

	// WebhookSecret is the signing secret for inbound webhooks.
	WebhookSecret string

	// SignatureTolerance bounds the age of a signed payload.
	// Defaults to DefaultSignatureTolerance.
	SignatureTolerance time.Duration

	// HTTPClient is an optional HTTP client for API calls.
	// Allows custom timeouts, proxies, or instrumentation.
	HTTPClient *http.Client

	// Metrics is an optional metrics collector. If nil, metrics are ignored.
	Metrics Metrics

	// Logger is an optional structured logger. If nil, logs are discarded.
	Logger Logger
}

// MetricsOrNoop returns the configured collector or a no-op one.
func (c Config) MetricsOrNoop() Metrics {
	if c.Metrics == nil {
		return &NoopMetrics{}
	}
	return c.Metrics
}

// LoggerOrNoop returns the configured logger or a no-op one.
func (c Config) LoggerOrNoop() Logger {
	if c.Logger == nil {
		return &NoopLogger{}
	}
	return c.Logger
}
