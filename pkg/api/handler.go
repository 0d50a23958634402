// Package api exposes the bearer-token protected admin endpoints that trigger
// reconciliation and report scheduler status.
package api

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mihaimyh/paysync/pkg/billing"
	"github.com/mihaimyh/paysync/pkg/internal"
	"github.com/mihaimyh/paysync/pkg/reconcile"
	"github.com/mihaimyh/paysync/pkg/scheduler"
)

// Admin routes relative to the mount prefix.
const (
	PathSync         = "/sync"
	PathStatus       = "/status"
	PathPlansMonitor = "/plans/monitor"
)

var (
	// ErrUnauthorized is reported when the bearer token is missing or wrong.
	ErrUnauthorized = errors.New("unauthorized")

	errInvalidMode = errors.New("invalid sync mode")
)

// Handler provides the admin HTTP endpoints
type Handler struct {
	config Config
}

// SyncResponse wraps a finished reconciliation run.
type SyncResponse struct {
	RequestID string              `json:"requestId"`
	Report    *billing.SyncReport `json:"report"`
}

// PlansResponse wraps a finished plan check.
type PlansResponse struct {
	RequestID string              `json:"requestId"`
	Report    *billing.PlanReport `json:"report"`
}

// StatusResponse wraps the scheduler status.
type StatusResponse struct {
	RequestID string           `json:"requestId"`
	Status    scheduler.Status `json:"status"`
}

type errorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"requestId"`
}

// Authorized reports whether r carries the configured bearer token.
func (h *Handler) Authorized(r *http.Request) bool {
	return h.AuthorizeHeader(r.Header.Get("Authorization"))
}

// AuthorizeHeader checks a raw Authorization header value.
func (h *Handler) AuthorizeHeader(value string) bool {
	return TokenMatches(h.config.Token, BearerToken(value))
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) string {
	const prefix = "bearer "
	if len(header) < len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}

// TokenMatches compares tokens in constant time. An empty token never matches.
func TokenMatches(expected, got string) bool {
	if expected == "" || got == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(expected), []byte(got)) == 1
}

// RequireToken rejects requests without the admin bearer token.
func (h *Handler) RequireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !h.Authorized(r) {
			h.Unauthorized(w, r)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Unauthorized writes the 401 response used by every framework adapter.
func (h *Handler) Unauthorized(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="admin"`)
	h.handleError(w, r, ErrUnauthorized, http.StatusUnauthorized)
}

// Routes returns the admin endpoints behind the token check. Mount the result
// under a prefix with http.StripPrefix or a router's Mount.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST "+PathSync, h.TriggerSync)
	mux.HandleFunc("GET "+PathStatus, h.Status)
	mux.HandleFunc("POST "+PathPlansMonitor, h.MonitorPlans)
	return h.RequireToken(mux)
}

// TriggerSync runs a reconciliation now. Query parameters: mode
// (active_only|all) and dryRun.
func (h *Handler) TriggerSync(w http.ResponseWriter, r *http.Request) {
	requestID := h.config.RequestID(r)
	q := r.URL.Query()

	mode, ok := billing.ParseSyncMode(q.Get("mode"))
	if !ok {
		h.handleError(w, r, errInvalidMode, http.StatusBadRequest)
		return
	}
	dryRun, err := parseBool(q.Get("dryRun"))
	if err != nil {
		h.handleError(w, r, err, http.StatusBadRequest)
		return
	}

	started := time.Now()
	report, err := h.config.Controller.TriggerSync(r.Context(), mode, billing.SyncOptions{DryRun: dryRun})
	if err != nil {
		h.controllerError(w, r, err)
		return
	}
	h.config.Logger.Info("manual sync finished",
		billing.Field{Key: "requestId", Value: requestID},
		billing.Field{Key: "mode", Value: string(mode)},
		billing.Field{Key: "updated", Value: report.Updated},
		billing.Field{Key: "errors", Value: len(report.Errors)},
		billing.Field{Key: "duration", Value: time.Since(started)})
	_ = internal.WriteJSON(w, http.StatusOK, SyncResponse{RequestID: requestID, Report: report}) //nolint:errcheck // client gone
}

// Status returns the scheduler status.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	_ = internal.WriteJSON(w, http.StatusOK, StatusResponse{ //nolint:errcheck // client gone
		RequestID: h.config.RequestID(r),
		Status:    h.config.Controller.GetStatus(),
	})
}

// MonitorPlans checks the provider plan catalogue. insert=true adds newly
// discovered plans to the local catalogue.
func (h *Handler) MonitorPlans(w http.ResponseWriter, r *http.Request) {
	insert, err := parseBool(r.URL.Query().Get("insert"))
	if err != nil {
		h.handleError(w, r, err, http.StatusBadRequest)
		return
	}
	report, err := h.config.Controller.TriggerPlanMonitor(r.Context(), reconcile.PlanMonitorOptions{AutoInsert: insert})
	if err != nil {
		h.controllerError(w, r, err)
		return
	}
	_ = internal.WriteJSON(w, http.StatusOK, PlansResponse{RequestID: h.config.RequestID(r), Report: report}) //nolint:errcheck // client gone
}

func (h *Handler) controllerError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, billing.ErrSyncInProgress) {
		h.handleError(w, r, err, http.StatusConflict)
		return
	}
	h.config.Logger.Error("admin request failed",
		billing.Field{Key: "path", Value: r.URL.Path},
		billing.Field{Key: "error", Value: err})
	h.handleError(w, r, err, http.StatusInternalServerError)
}

// handleError handles errors with appropriate HTTP status codes
func (h *Handler) handleError(w http.ResponseWriter, r *http.Request, err error, statusCode int) {
	if h.config.OnError != nil {
		h.config.OnError(w, r, err)
		return
	}
	_ = internal.WriteJSON(w, statusCode, errorResponse{ //nolint:errcheck // client gone
		Error:     err.Error(),
		RequestID: h.config.RequestID(r),
	})
}

func parseBool(v string) (bool, error) {
	if v == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, errors.New("invalid boolean query parameter")
	}
	return b, nil
}

func defaultRequestID(r *http.Request) string {
	if id := strings.TrimSpace(r.Header.Get("X-Request-ID")); id != "" {
		return id
	}
	return uuid.NewString()
}
