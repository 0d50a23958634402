package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mihaimyh/paysync/pkg/billing"
	"github.com/mihaimyh/paysync/pkg/reconcile"
	"github.com/mihaimyh/paysync/pkg/scheduler"
)

const testToken = "s3cret"

type fakeController struct {
	syncErr    error
	planErr    error
	lastMode   billing.SyncMode
	lastOpts   billing.SyncOptions
	lastInsert bool
	status     scheduler.Status
}

func (f *fakeController) TriggerSync(_ context.Context, mode billing.SyncMode, opts billing.SyncOptions) (*billing.SyncReport, error) {
	f.lastMode, f.lastOpts = mode, opts
	if f.syncErr != nil {
		return nil, f.syncErr
	}
	return &billing.SyncReport{Mode: mode, DryRun: opts.DryRun, Processed: 3, Updated: 1, Unchanged: 2, Errors: []billing.SyncError{}}, nil
}

func (f *fakeController) TriggerPlanMonitor(_ context.Context, opts reconcile.PlanMonitorOptions) (*billing.PlanReport, error) {
	f.lastInsert = opts.AutoInsert
	if f.planErr != nil {
		return nil, f.planErr
	}
	return &billing.PlanReport{Checked: 4, Inserted: 1}, nil
}

func (f *fakeController) GetStatus() scheduler.Status { return f.status }

func newTestHandler(t *testing.T, c Controller) *Handler {
	t.Helper()
	h, err := NewHandler(Config{Controller: c, Token: testToken})
	require.NoError(t, err)
	return h
}

func do(h http.Handler, method, target, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("X-Request-ID", "req-1")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestNewHandler_Validation(t *testing.T) {
	_, err := NewHandler(Config{Token: testToken})
	assert.Error(t, err)

	_, err = NewHandler(Config{Controller: &fakeController{}, Token: "  "})
	assert.Error(t, err)
}

func TestRoutes_RequireToken(t *testing.T) {
	h := newTestHandler(t, &fakeController{})
	routes := h.Routes()

	rec := do(routes, http.MethodGet, PathStatus, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("WWW-Authenticate"))

	rec = do(routes, http.MethodGet, PathStatus, "wrong")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do(routes, http.MethodGet, PathStatus, testToken)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestTriggerSync(t *testing.T) {
	ctrl := &fakeController{}
	routes := newTestHandler(t, ctrl).Routes()

	rec := do(routes, http.MethodPost, PathSync+"?mode=all&dryRun=true", testToken)
	require.Equal(t, http.StatusOK, rec.Code)

	var body SyncResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "req-1", body.RequestID)
	require.NotNil(t, body.Report)
	assert.Equal(t, 3, body.Report.Processed)
	assert.Equal(t, billing.SyncAll, ctrl.lastMode)
	assert.True(t, ctrl.lastOpts.DryRun)
}

func TestTriggerSync_DefaultsToActiveOnly(t *testing.T) {
	ctrl := &fakeController{}
	rec := do(newTestHandler(t, ctrl).Routes(), http.MethodPost, PathSync, testToken)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, billing.SyncActiveOnly, ctrl.lastMode)
	assert.False(t, ctrl.lastOpts.DryRun)
}

func TestTriggerSync_BadInput(t *testing.T) {
	routes := newTestHandler(t, &fakeController{}).Routes()

	assert.Equal(t, http.StatusBadRequest, do(routes, http.MethodPost, PathSync+"?mode=everything", testToken).Code)
	assert.Equal(t, http.StatusBadRequest, do(routes, http.MethodPost, PathSync+"?dryRun=maybe", testToken).Code)
	assert.Equal(t, http.StatusMethodNotAllowed, do(routes, http.MethodGet, PathSync, testToken).Code)
}

func TestTriggerSync_InProgressIsConflict(t *testing.T) {
	routes := newTestHandler(t, &fakeController{syncErr: billing.ErrSyncInProgress}).Routes()

	rec := do(routes, http.MethodPost, PathSync, testToken)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), billing.ErrSyncInProgress.Error())
}

func TestTriggerSync_FailureIsInternalError(t *testing.T) {
	routes := newTestHandler(t, &fakeController{syncErr: errors.New("store down")}).Routes()

	rec := do(routes, http.MethodPost, PathSync, testToken)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestStatus(t *testing.T) {
	at := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
	ctrl := &fakeController{status: scheduler.Status{IsRunning: true, TasksCount: 2, LastRunAt: &at}}

	rec := do(newTestHandler(t, ctrl).Routes(), http.MethodGet, PathStatus, testToken)
	require.Equal(t, http.StatusOK, rec.Code)

	var body StatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.True(t, body.Status.IsRunning)
	assert.Equal(t, 2, body.Status.TasksCount)
	require.NotNil(t, body.Status.LastRunAt)
	assert.True(t, at.Equal(*body.Status.LastRunAt))
}

func TestMonitorPlans(t *testing.T) {
	ctrl := &fakeController{}
	routes := newTestHandler(t, ctrl).Routes()

	rec := do(routes, http.MethodPost, PathPlansMonitor+"?insert=true", testToken)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, ctrl.lastInsert)

	var body PlansResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 4, body.Report.Checked)

	do(routes, http.MethodPost, PathPlansMonitor, testToken)
	assert.False(t, ctrl.lastInsert)
}

func TestCustomErrorHandler(t *testing.T) {
	var got error
	h, err := NewHandler(Config{
		Controller: &fakeController{},
		Token:      testToken,
		OnError: func(w http.ResponseWriter, _ *http.Request, err error) {
			got = err
			w.WriteHeader(http.StatusTeapot)
		},
	})
	require.NoError(t, err)

	rec := do(h.Routes(), http.MethodGet, PathStatus, "")
	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.ErrorIs(t, got, ErrUnauthorized)
}

func TestBearerToken(t *testing.T) {
	assert.Equal(t, "abc", BearerToken("Bearer abc"))
	assert.Equal(t, "abc", BearerToken("bearer  abc "))
	assert.Equal(t, "", BearerToken("Basic abc"))
	assert.Equal(t, "", BearerToken(""))
	assert.False(t, TokenMatches("", ""))
	assert.True(t, TokenMatches("x", "x"))
}
