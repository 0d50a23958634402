package prommetrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/mihaimyh/paysync/pkg/billing"
)

const subsystem = "billing"

// Metrics implements billing.Metrics using Prometheus.
type Metrics struct {
	webhookEventsTotal        *prometheus.CounterVec
	webhookProcessingDuration *prometheus.HistogramVec
	webhookErrorsTotal        *prometheus.CounterVec
	routedEventsTotal         *prometheus.CounterVec
	syncRunsTotal             *prometheus.CounterVec
	syncDuration              *prometheus.HistogramVec
	subscriptionSyncTotal     *prometheus.CounterVec
	plansDiscoveredTotal      *prometheus.CounterVec
	apiCallsTotal             *prometheus.CounterVec
	apiCallDuration           *prometheus.HistogramVec
}

// NewMetrics registers the billing collectors on reg.
func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		webhookEventsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "webhook_events_total",
			Help:      "Total number of processed webhook events by outcome.",
		}, []string{"event_type", "status"}),

		webhookProcessingDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "webhook_processing_duration_seconds",
			Help:      "Duration of webhook processing in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"event_type"}),

		webhookErrorsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "webhook_errors_total",
			Help:      "Total number of rejected or failed webhooks by error code.",
		}, []string{"code"}),

		routedEventsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "routed_events_total",
			Help:      "Total number of events dispatched per domain.",
		}, []string{"domain", "reason"}),

		syncRunsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "sync_runs_total",
			Help:      "Total number of reconciliation runs.",
		}, []string{"mode", "status"}),

		syncDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "sync_duration_seconds",
			Help:      "Duration of reconciliation runs in seconds.",
			Buckets:   []float64{.1, .5, 1, 5, 15, 30, 60, 120, 300},
		}, []string{"mode"}),

		subscriptionSyncTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "subscription_sync_total",
			Help:      "Total number of reconciled subscriptions by result.",
		}, []string{"result"}),

		plansDiscoveredTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "plans_discovered_total",
			Help:      "Total number of provider plans missing from the local catalogue.",
		}, []string{"inserted"}),

		apiCallsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "api_calls_total",
			Help:      "Total number of API calls to the billing provider.",
		}, []string{"endpoint", "status"}),

		apiCallDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "api_call_duration_seconds",
			Help:      "Duration of API calls to the billing provider in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"endpoint"}),
	}
}

func (m *Metrics) RecordWebhookEvent(eventType, status string) {
	m.webhookEventsTotal.WithLabelValues(eventType, status).Inc()
}

func (m *Metrics) RecordWebhookProcessingDuration(eventType string, duration time.Duration) {
	m.webhookProcessingDuration.WithLabelValues(eventType).Observe(duration.Seconds())
}

func (m *Metrics) RecordWebhookError(code string) {
	m.webhookErrorsTotal.WithLabelValues(code).Inc()
}

func (m *Metrics) RecordRoutedEvent(domain, reason string) {
	m.routedEventsTotal.WithLabelValues(domain, reason).Inc()
}

func (m *Metrics) RecordSyncRun(mode, status string) {
	m.syncRunsTotal.WithLabelValues(mode, status).Inc()
}

func (m *Metrics) RecordSyncDuration(mode string, duration time.Duration) {
	m.syncDuration.WithLabelValues(mode).Observe(duration.Seconds())
}

func (m *Metrics) RecordSubscriptionSync(result string) {
	m.subscriptionSyncTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) RecordPlanDiscovered(inserted bool) {
	m.plansDiscoveredTotal.WithLabelValues(strconv.FormatBool(inserted)).Inc()
}

func (m *Metrics) RecordAPICall(endpoint, status string) {
	m.apiCallsTotal.WithLabelValues(endpoint, status).Inc()
}

func (m *Metrics) RecordAPICallDuration(endpoint string, duration time.Duration) {
	m.apiCallDuration.WithLabelValues(endpoint).Observe(duration.Seconds())
}

// DefaultMetrics returns a Metrics implementation using the default Prometheus registerer.
func DefaultMetrics(namespace string) billing.Metrics {
	return NewMetrics(prometheus.DefaultRegisterer, namespace)
}
