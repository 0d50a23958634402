package http

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mihaimyh/paysync/middleware/internal/routetest"
)

func TestRegister(t *testing.T) {
	ctrl := &routetest.Controller{}
	mux := http.NewServeMux()
	require.NoError(t, Register(mux, Config{Webhook: routetest.Webhook(), Admin: routetest.NewAdmin(t, ctrl)}))

	routetest.Run(t, routetest.Recorder(mux), ctrl)
}

func TestRegister_RequiresWebhook(t *testing.T) {
	assert.Error(t, Register(http.NewServeMux(), Config{}))
}

func TestRegister_WithoutAdmin(t *testing.T) {
	mux := http.NewServeMux()
	require.NoError(t, Register(mux, Config{Webhook: routetest.Webhook(), AdminPrefix: "ops/"}))

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ops/status", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestConfig_Normalize(t *testing.T) {
	c, err := Config{Webhook: routetest.Webhook(), AdminPrefix: "ops/"}.Normalize()
	require.NoError(t, err)
	assert.Equal(t, DefaultWebhookPath, c.WebhookPath)
	assert.Equal(t, "/ops", c.AdminPrefix)
}
