package ingress

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mihaimyh/paysync/pkg/billing"
	"github.com/mihaimyh/paysync/pkg/internal"
)

const (
	// SignatureHeader carries the provider's webhook signature.
	SignatureHeader = "Stripe-Signature"

	defaultMaxBodyBytes      = 256 * 1024
	defaultRateLimitRequests = 100
	defaultRateLimitWindow   = time.Minute
	defaultProcessingTimeout = 25 * time.Second
)

// Config configures the webhook HTTP handler.
type Config struct {
	// WebhookSecret is the provider signing secret. Required.
	WebhookSecret string

	// SignatureTolerance bounds the age of signed payloads.
	SignatureTolerance time.Duration

	// Dispatcher receives authenticated events. Required.
	Dispatcher billing.Dispatcher

	// EventLog short-circuits redelivered events. Optional.
	EventLog billing.EventLog

	// RateLimitRequests and RateLimitWindow configure per-source throttling.
	// A negative RateLimitRequests disables throttling.
	RateLimitRequests int
	RateLimitWindow   time.Duration

	// MaxBodyBytes caps the request body. Defaults to 256 KiB.
	MaxBodyBytes int64

	// ProcessingTimeout bounds dispatching a single event.
	ProcessingTimeout time.Duration

	// RequestID extracts a request id; defaults to X-Request-ID or a new UUID.
	RequestID func(*http.Request) string

	Logger  billing.Logger
	Metrics billing.Metrics
}

// Handler is the inbound webhook endpoint.
type Handler struct {
	gate              *Gate
	dispatcher        billing.Dispatcher
	eventLog          billing.EventLog
	limiter           *internal.RateLimiter
	maxBodyBytes      int64
	processingTimeout time.Duration
	requestID         func(*http.Request) string
	logger            billing.Logger
	metrics           billing.Metrics
}

type successResponse struct {
	Received         bool   `json:"received"`
	EventID          string `json:"eventId"`
	EventType        string `json:"eventType"`
	ProcessingTimeMs int64  `json:"processingTimeMs"`
	RequestID        string `json:"requestId"`
	Status           string `json:"status"`
}

type errorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	RequestID string `json:"requestId"`
}

// NewHandler validates config and builds the handler.
func NewHandler(config Config) (*Handler, error) {
	if config.Dispatcher == nil {
		return nil, errors.New("ingress: dispatcher is required")
	}
	gate, err := NewGate(config.WebhookSecret, config.SignatureTolerance)
	if err != nil {
		return nil, err
	}

	h := &Handler{
		gate:              gate,
		dispatcher:        config.Dispatcher,
		eventLog:          config.EventLog,
		maxBodyBytes:      config.MaxBodyBytes,
		processingTimeout: config.ProcessingTimeout,
		requestID:         config.RequestID,
		logger:            config.Logger,
		metrics:           config.Metrics,
	}
	if h.maxBodyBytes <= 0 {
		h.maxBodyBytes = defaultMaxBodyBytes
	}
	if h.processingTimeout <= 0 {
		h.processingTimeout = defaultProcessingTimeout
	}
	if h.requestID == nil {
		h.requestID = defaultRequestID
	}
	if h.logger == nil {
		h.logger = &billing.NoopLogger{}
	}
	if h.metrics == nil {
		h.metrics = &billing.NoopMetrics{}
	}
	if config.RateLimitRequests >= 0 {
		limit := config.RateLimitRequests
		if limit == 0 {
			limit = defaultRateLimitRequests
		}
		window := config.RateLimitWindow
		if window <= 0 {
			window = defaultRateLimitWindow
		}
		h.limiter = internal.NewRateLimiter(limit, window)
	}
	return h, nil
}

func defaultRequestID(r *http.Request) string {
	if id := strings.TrimSpace(r.Header.Get("X-Request-ID")); id != "" {
		return id
	}
	return uuid.NewString()
}

// ServeHTTP authenticates, dispatches and acknowledges one webhook delivery.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	requestID := h.requestID(r)
	internal.SetSecurityHeaders(w)
	w.Header().Set("X-Request-ID", requestID)

	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		h.reject(w, requestID, &AuthError{Code: CodeInvalidEvent, Message: "method not allowed", Status: http.StatusMethodNotAllowed})
		return
	}

	if h.limiter != nil && !h.limiter.Allow(internal.GetClientIP(r)) {
		h.reject(w, requestID, &AuthError{Code: CodeRateLimited, Message: "rate limit exceeded", Status: http.StatusTooManyRequests})
		return
	}

	body, err := internal.ReadBodyStrict(w, r, h.maxBodyBytes)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, internal.ErrPayloadTooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		h.reject(w, requestID, &AuthError{Code: CodeInvalidEvent, Message: "invalid payload", Status: status, Err: err})
		return
	}

	event, authErr := h.gate.Authenticate(body, r.Header.Get(SignatureHeader))
	if authErr != nil {
		h.reject(w, requestID, authErr)
		return
	}

	fields := []billing.Field{
		{Key: "requestId", Value: requestID},
		{Key: "eventId", Value: event.ID},
		{Key: "eventType", Value: string(event.Type)},
	}

	if h.alreadyProcessed(r.Context(), event, fields) {
		h.acknowledge(w, requestID, event, billing.OutcomeDuplicate, startTime)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.processingTimeout)
	defer cancel()

	result, err := h.dispatcher.Dispatch(ctx, event)
	if err != nil {
		h.logger.Error("webhook processing failed", append(fields, billing.Field{Key: "error", Value: err})...)
		h.metrics.RecordWebhookEvent(string(event.Type), "error")
		h.metrics.RecordWebhookProcessingDuration(string(event.Type), time.Since(startTime))
		h.reject(w, requestID, &AuthError{
			Code:    CodeProcessingError,
			Message: "failed to process webhook",
			Status:  http.StatusInternalServerError,
			Err:     err,
		})
		return
	}

	if h.eventLog != nil {
		if err := h.eventLog.Mark(r.Context(), event.ID, event.Type); err != nil {
			h.logger.Warn("failed to record processed event", append(fields, billing.Field{Key: "error", Value: err})...)
		}
	}

	h.logger.Info("webhook processed", append(fields,
		billing.Field{Key: "domain", Value: string(result.Domain)},
		billing.Field{Key: "outcome", Value: string(result.Outcome)},
		billing.Field{Key: "reason", Value: result.Reason})...)
	h.acknowledge(w, requestID, event, result.Outcome, startTime)
}

func (h *Handler) alreadyProcessed(ctx context.Context, event *billing.Event, fields []billing.Field) bool {
	if h.eventLog == nil {
		return false
	}
	seen, err := h.eventLog.Seen(ctx, event.ID)
	if err != nil {
		h.logger.Warn("event log lookup failed", append(fields, billing.Field{Key: "error", Value: err})...)
		return false
	}
	if seen {
		h.logger.Debug("duplicate webhook delivery", fields...)
	}
	return seen
}

func (h *Handler) acknowledge(w http.ResponseWriter, requestID string, event *billing.Event, outcome billing.Outcome, startTime time.Time) {
	elapsed := time.Since(startTime)
	h.metrics.RecordWebhookEvent(string(event.Type), string(outcome))
	h.metrics.RecordWebhookProcessingDuration(string(event.Type), elapsed)

	_ = internal.WriteJSON(w, http.StatusOK, successResponse{ //nolint:errcheck // client gone
		Received:         true,
		EventID:          event.ID,
		EventType:        string(event.Type),
		ProcessingTimeMs: elapsed.Milliseconds(),
		RequestID:        requestID,
		Status:           string(outcome),
	})
}

func (h *Handler) reject(w http.ResponseWriter, requestID string, authErr *AuthError) {
	h.metrics.RecordWebhookError(authErr.Code)
	if authErr.Code != CodeProcessingError {
		h.logger.Warn("webhook rejected",
			billing.Field{Key: "requestId", Value: requestID},
			billing.Field{Key: "code", Value: authErr.Code},
			billing.Field{Key: "reason", Value: authErr.Error()})
	}
	_ = internal.WriteJSON(w, authErr.Status, errorResponse{ //nolint:errcheck // client gone
		Error:     authErr.Message,
		Code:      authErr.Code,
		RequestID: requestID,
	})
}
