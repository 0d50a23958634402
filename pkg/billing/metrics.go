package billing

import "time"

// Metrics defines the interface for tracking webhook processing and reconciliation.
// Components fall back to NoopMetrics when none is configured.
type Metrics interface {
	// RecordWebhookEvent records a processed webhook event.
	// status is the processing outcome (e.g. "updated", "deferred", "error").
	RecordWebhookEvent(eventType, status string)

	// RecordWebhookProcessingDuration records how long it took to process a webhook.
	RecordWebhookProcessingDuration(eventType string, duration time.Duration)

	// RecordWebhookError records a rejected or failed webhook.
	// code is one of the ingress error codes (e.g. "INVALID_SIGNATURE").
	RecordWebhookError(code string)

	// RecordRoutedEvent records the domain an event was dispatched to.
	RecordRoutedEvent(domain, reason string)

	// RecordSyncRun records a reconciliation run.
	// status: "success", "partial" or "error"
	RecordSyncRun(mode, status string)

	// RecordSyncDuration records how long a reconciliation run took.
	RecordSyncDuration(mode string, duration time.Duration)

	// RecordSubscriptionSync records the result of reconciling one subscription.
	// result: "updated", "unchanged" or "error"
	RecordSubscriptionSync(result string)

	// RecordPlanDiscovered records a provider plan missing from the local catalogue.
	RecordPlanDiscovered(inserted bool)

	// RecordAPICall records an API call to the billing provider.
	RecordAPICall(endpoint, status string)

	// RecordAPICallDuration records how long an API call took.
	RecordAPICallDuration(endpoint string, duration time.Duration)
}

// NoopMetrics is a no-op implementation of the Metrics interface.
type NoopMetrics struct{}

func (n *NoopMetrics) RecordWebhookEvent(_, _ string)                            {}
func (n *NoopMetrics) RecordWebhookProcessingDuration(_ string, _ time.Duration) {}
func (n *NoopMetrics) RecordWebhookError(_ string)                               {}
func (n *NoopMetrics) RecordRoutedEvent(_, _ string)                             {}
func (n *NoopMetrics) RecordSyncRun(_, _ string)                                 {}
func (n *NoopMetrics) RecordSyncDuration(_ string, _ time.Duration)              {}
func (n *NoopMetrics) RecordSubscriptionSync(_ string)                           {}
func (n *NoopMetrics) RecordPlanDiscovered(_ bool)                               {}
func (n *NoopMetrics) RecordAPICall(_, _ string)                                 {}
func (n *NoopMetrics) RecordAPICallDuration(_ string, _ time.Duration)           {}
