// Package routetest holds the assertions every route adapter must satisfy.
package routetest

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mihaimyh/paysync/pkg/api"
	"github.com/mihaimyh/paysync/pkg/billing"
	"github.com/mihaimyh/paysync/pkg/reconcile"
	"github.com/mihaimyh/paysync/pkg/scheduler"
)

// Token is the admin token configured by NewAdmin.
const Token = "admin-token"

// Controller is a scheduler stand-in that counts calls.
type Controller struct {
	Syncs int
	Plans int
}

func (c *Controller) TriggerSync(_ context.Context, mode billing.SyncMode, _ billing.SyncOptions) (*billing.SyncReport, error) {
	c.Syncs++
	return &billing.SyncReport{Mode: mode, Errors: []billing.SyncError{}}, nil
}

func (c *Controller) TriggerPlanMonitor(_ context.Context, _ reconcile.PlanMonitorOptions) (*billing.PlanReport, error) {
	c.Plans++
	return &billing.PlanReport{}, nil
}

func (c *Controller) GetStatus() scheduler.Status { return scheduler.Status{TasksCount: 2} }

// NewAdmin returns an admin handler backed by ctrl.
func NewAdmin(t *testing.T, ctrl *Controller) *api.Handler {
	t.Helper()
	h, err := api.NewHandler(api.Config{Controller: ctrl, Token: Token})
	require.NoError(t, err)
	return h
}

// Webhook answers every delivery with "received:" and the body.
func Webhook() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body) //nolint:errcheck // test handler
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, "received:"+string(body)) //nolint:errcheck // test handler
	})
}

// Serve performs one request against an adapter under test.
type Serve func(t *testing.T, req *http.Request) *http.Response

// Recorder adapts an http.Handler to Serve.
func Recorder(h http.Handler) Serve {
	return func(_ *testing.T, req *http.Request) *http.Response {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Result()
	}
}

// Run checks webhook delivery, admin authentication and admin dispatch under
// the default paths.
func Run(t *testing.T, serve Serve, ctrl *Controller) {
	t.Helper()

	t.Run("webhook", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", strings.NewReader("evt"))
		resp := serve(t, req)
		defer resp.Body.Close()
		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "received:evt", string(body))
	})

	t.Run("admin requires token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/admin/status", nil)
		resp := serve(t, req)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("admin status", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/admin/status", nil)
		req.Header.Set("Authorization", "Bearer "+Token)
		resp := serve(t, req)
		defer resp.Body.Close()
		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Contains(t, string(body), `"tasksCount":2`)
	})

	t.Run("admin sync and plans", func(t *testing.T) {
		for _, target := range []string{"/admin/sync?mode=all", "/admin/plans/monitor"} {
			req := httptest.NewRequest(http.MethodPost, target, nil)
			req.Header.Set("Authorization", "Bearer "+Token)
			resp := serve(t, req)
			resp.Body.Close()
			assert.Equal(t, http.StatusOK, resp.StatusCode, target)
		}
		assert.Equal(t, 1, ctrl.Syncs)
		assert.Equal(t, 1, ctrl.Plans)
	})
}
