package echo

import (
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	httpmw "github.com/mihaimyh/paysync/middleware/http"
	"github.com/mihaimyh/paysync/middleware/internal/routetest"
)

func TestRegister(t *testing.T) {
	ctrl := &routetest.Controller{}
	e := echo.New()
	require.NoError(t, Register(e, httpmw.Config{Webhook: routetest.Webhook(), Admin: routetest.NewAdmin(t, ctrl)}))

	routetest.Run(t, routetest.Recorder(e), ctrl)
}

func TestRegister_OnGroup(t *testing.T) {
	ctrl := &routetest.Controller{}
	e := echo.New()
	require.NoError(t, Register(e.Group(""), httpmw.Config{Webhook: routetest.Webhook(), Admin: routetest.NewAdmin(t, ctrl)}))

	routetest.Run(t, routetest.Recorder(e), ctrl)
}

func TestRegister_RequiresWebhook(t *testing.T) {
	assert.Error(t, Register(echo.New(), httpmw.Config{}))
}
