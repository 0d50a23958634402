package prommetrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/mihaimyh/paysync/pkg/billing"
)

func findFamily(t *testing.T, reg *prometheus.Registry, name string) *dto.MetricFamily {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather failed: %v", err)
	}
	for _, f := range families {
		if f.GetName() == name {
			return f
		}
	}
	t.Fatalf("metric %s not found", name)
	return nil
}

func labelValue(m *dto.Metric, name string) string {
	for _, l := range m.GetLabel() {
		if l.GetName() == name {
			return l.GetValue()
		}
	}
	return ""
}

func TestPrometheusMetrics_ImplementsInterface(t *testing.T) {
	var _ billing.Metrics = NewMetrics(prometheus.NewRegistry(), "test")
}

func TestPrometheusMetrics_WebhookEvents(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg, "test")

	metrics.RecordWebhookEvent("customer.subscription.updated", "updated")
	metrics.RecordWebhookEvent("customer.subscription.updated", "updated")
	metrics.RecordWebhookEvent("charge.failed", "recorded")

	family := findFamily(t, reg, "test_billing_webhook_events_total")
	if len(family.GetMetric()) != 2 {
		t.Fatalf("expected 2 label sets, got %d", len(family.GetMetric()))
	}
	for _, m := range family.GetMetric() {
		if labelValue(m, "event_type") == "customer.subscription.updated" && m.GetCounter().GetValue() != 2 {
			t.Errorf("expected counter 2, got %v", m.GetCounter().GetValue())
		}
	}
}

func TestPrometheusMetrics_WebhookErrors(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg, "test")

	metrics.RecordWebhookError("INVALID_SIGNATURE")

	family := findFamily(t, reg, "test_billing_webhook_errors_total")
	if got := labelValue(family.GetMetric()[0], "code"); got != "INVALID_SIGNATURE" {
		t.Errorf("expected code label INVALID_SIGNATURE, got %q", got)
	}
}

func TestPrometheusMetrics_SyncRuns(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg, "test")

	metrics.RecordSyncRun("active_only", "partial")
	metrics.RecordSyncDuration("active_only", 2*time.Second)
	metrics.RecordSubscriptionSync("updated")
	metrics.RecordSubscriptionSync("error")

	runs := findFamily(t, reg, "test_billing_sync_runs_total")
	if labelValue(runs.GetMetric()[0], "status") != "partial" {
		t.Error("expected partial status label")
	}

	duration := findFamily(t, reg, "test_billing_sync_duration_seconds")
	if duration.GetMetric()[0].GetHistogram().GetSampleCount() != 1 {
		t.Error("expected one duration sample")
	}

	subs := findFamily(t, reg, "test_billing_subscription_sync_total")
	if len(subs.GetMetric()) != 2 {
		t.Errorf("expected 2 result labels, got %d", len(subs.GetMetric()))
	}
}

func TestPrometheusMetrics_PlansAndAPICalls(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg, "test")

	metrics.RecordPlanDiscovered(true)
	metrics.RecordRoutedEvent("listing", "default_listing")
	metrics.RecordAPICall("/v1/subscriptions", "200")
	metrics.RecordAPICallDuration("/v1/subscriptions", 120*time.Millisecond)
	metrics.RecordWebhookProcessingDuration("charge.succeeded", 5*time.Millisecond)

	plans := findFamily(t, reg, "test_billing_plans_discovered_total")
	if labelValue(plans.GetMetric()[0], "inserted") != "true" {
		t.Error("expected inserted=true label")
	}
	findFamily(t, reg, "test_billing_routed_events_total")
	findFamily(t, reg, "test_billing_api_calls_total")
	findFamily(t, reg, "test_billing_api_call_duration_seconds")
	findFamily(t, reg, "test_billing_webhook_processing_duration_seconds")
}
